package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/brendan612/latchkey/wire"
)

// StreamToken exchanges a session for a short-lived token scoped to one
// vault's event stream. EventSource clients cannot set request headers,
// so the stream endpoint authenticates with this token instead.
func (g *Gateway) StreamToken(w http.ResponseWriter, r *http.Request) {
	id := identityFromContext(r.Context())

	var req wire.StreamTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeValidationFailure(w, "malformed JSON body")
		return
	}
	if req.VaultID == "" {
		writeValidationFailure(w, `missing field "vault_id"`)
		return
	}

	token, exp, err := g.signer.issueStream(id.Subject, id.OrgID, req.VaultID, id.SessionID, time.Now())
	if err != nil {
		writeServerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wire.StreamTokenResponse{Token: token, ExpiresAt: exp})
}

// Events serves the vault's live update stream over server-sent events.
// Authentication is the stream token in the token query parameter; it must
// be scoped to exactly this vault and still unexpired.
func (g *Gateway) Events(w http.ResponseWriter, r *http.Request) {
	vaultID := chi.URLParam(r, "vaultID")

	claims, err := g.signer.verifyStream(r.URL.Query().Get("token"), vaultID)
	if err != nil {
		g.metrics.incr(metricAuthFailures)
		writeAuthFailure(w)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeServerError(w, fmt.Errorf("streaming unsupported by this connection"))
		return
	}

	events, cancel := g.broadcaster.subscribe(claims.OrgID, vaultID)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// The client treats the stream as open only after this arrives.
	fmt.Fprint(w, "event: ready\ndata: {}\n\n")
	flusher.Flush()

	heartbeat := time.NewTicker(g.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				// Evicted for falling behind; the client reconnects and
				// re-pulls.
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: vault-updated\ndata: %s\n\n", data)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
