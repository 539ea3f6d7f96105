package gateway

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/brendan612/latchkey/storage"
	"github.com/brendan612/latchkey/wire"
)

// AuthStatus reports whether the request carries a resolvable identity.
// In the default mode an unresolvable identity is still a 200 with
// authenticated:false, so probing clients learn nothing about why.
func (g *Gateway) AuthStatus(w http.ResponseWriter, r *http.Request) {
	id := g.resolveIdentity(r)
	if id == nil {
		if g.strictAuth {
			g.metrics.incr(metricAuthFailures)
			writeAuthFailure(w)
			return
		}
		writeJSON(w, http.StatusOK, wire.AuthStatusResponse{Authenticated: false})
		return
	}
	writeJSON(w, http.StatusOK, wire.AuthStatusResponse{
		Authenticated: true,
		Subject:       id.Subject,
		OrgID:         id.OrgID,
		Role:          string(id.Role),
	})
}

// Pull returns the current stored snapshot of one vault. A vault that has
// never been pushed yields found:false, not an error.
func (g *Gateway) Pull(w http.ResponseWriter, r *http.Request) {
	id := identityFromContext(r.Context())
	vaultID := chi.URLParam(r, "vaultID")

	rec, err := g.store.Get(id.OrgID, vaultID)
	if errors.Is(err, storage.ErrNotFound) {
		writeJSON(w, http.StatusOK, wire.PullResponse{Found: false})
		return
	}
	if err != nil {
		writeServerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wire.PullResponse{Found: true, Snapshot: snapshotOf(rec)})
}

// PullByOwner returns the caller's most recently updated vault. Clients use
// this on a fresh device, before they know any vault ID.
func (g *Gateway) PullByOwner(w http.ResponseWriter, r *http.Request) {
	id := identityFromContext(r.Context())

	recs, err := g.store.ListByOwner(id.OrgID, id.Subject)
	if err != nil {
		writeServerError(w, err)
		return
	}
	if len(recs) == 0 {
		writeJSON(w, http.StatusOK, wire.PullResponse{Found: false})
		return
	}
	newest := recs[0]
	for _, rec := range recs[1:] {
		if rec.UpdatedAt.After(newest.UpdatedAt) {
			newest = rec
		}
	}
	writeJSON(w, http.StatusOK, wire.PullResponse{Found: true, Snapshot: snapshotOf(newest)})
}

// ListByOwner lists the caller's vaults without their encrypted contents.
func (g *Gateway) ListByOwner(w http.ResponseWriter, r *http.Request) {
	id := identityFromContext(r.Context())

	recs, err := g.store.ListByOwner(id.OrgID, id.Subject)
	if err != nil {
		writeServerError(w, err)
		return
	}
	listings := make([]wire.VaultListing, 0, len(recs))
	for _, rec := range recs {
		listings = append(listings, wire.VaultListing{
			VaultID:   rec.VaultID,
			Revision:  rec.Revision,
			UpdatedAt: rec.UpdatedAt,
		})
	}
	sort.Slice(listings, func(i, j int) bool { return listings[i].VaultID < listings[j].VaultID })
	writeJSON(w, http.StatusOK, wire.ListByOwnerResponse{Vaults: listings})
}

// Push stores a new vault revision. The compare-and-accept is atomic in
// the store; a rejection because a newer revision exists is a 200 with
// accepted:false. With an Idempotency-Key header, retries and concurrent
// duplicates replay the first request's exact response bytes.
func (g *Gateway) Push(w http.ResponseWriter, r *http.Request) {
	id := identityFromContext(r.Context())
	vaultID := chi.URLParam(r, "vaultID")

	var req wire.PushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeValidationFailure(w, "malformed JSON body")
		return
	}
	if req.Revision == 0 {
		writeValidationFailure(w, `missing or zero field "revision"`)
		return
	}
	if req.UpdatedAt.IsZero() {
		writeValidationFailure(w, `missing field "updated_at"`)
		return
	}
	if len(req.EncryptedFile) == 0 {
		writeValidationFailure(w, `missing field "encrypted_file"`)
		return
	}

	idemKey := r.Header.Get("Idempotency-Key")
	if idemKey == "" {
		status, body, err := g.executePush(id, vaultID, &req)
		if err != nil {
			writeServerError(w, err)
			return
		}
		writeRaw(w, status, body)
		return
	}

	// Keys from different orgs or vaults never collide.
	idemKey = strings.Join([]string{id.OrgID, vaultID, idemKey}, "\n")
	for {
		entry, owner := g.idempotency.claim(idemKey)
		if owner {
			status, body, err := g.executeClaimedPush(id, vaultID, &req, idemKey, entry)
			if err != nil {
				writeServerError(w, err)
				return
			}
			writeRaw(w, status, body)
			return
		}

		select {
		case <-entry.done:
		case <-r.Context().Done():
			return
		}
		if entry.response.status != 0 {
			writeRaw(w, entry.response.status, entry.response.body)
			return
		}
		// The owning request failed before producing a response; claim
		// the key ourselves and execute.
	}
}

// executeClaimedPush runs a push that owns idemKey. The claim is released
// on every exit: recorded on success, abandoned on error or panic, so
// waiters never block on a key that will produce no response.
func (g *Gateway) executeClaimedPush(id *identity, vaultID string, req *wire.PushRequest, idemKey string, entry *idemEntry) (status int, body []byte, err error) {
	recorded := false
	defer func() {
		if !recorded {
			g.idempotency.abandon(idemKey, entry)
		}
	}()

	status, body, err = g.executePush(id, vaultID, req)
	if err != nil {
		return 0, nil, err
	}
	g.idempotency.record(entry, status, body)
	recorded = true
	return status, body, nil
}

// executePush runs the store write and produces the final response bytes,
// so idempotent replays can be byte-identical.
func (g *Gateway) executePush(id *identity, vaultID string, req *wire.PushRequest) (int, []byte, error) {
	rec := &storage.Record{
		OrgID:     id.OrgID,
		VaultID:   vaultID,
		OwnerID:   id.Subject,
		Revision:  req.Revision,
		UpdatedAt: req.UpdatedAt.UTC(),
		File:      req.EncryptedFile,
	}
	accepted, err := g.store.CompareAndPut(rec)
	if err != nil {
		return 0, nil, err
	}

	resp := wire.PushResponse{Accepted: accepted}
	if accepted {
		resp.Revision = req.Revision
		resp.OwnerID = id.Subject

		g.metrics.incr(metricPushAccepted)
		g.audits.append(id.OrgID, id.Subject, auditActionVaultPushed, vaultID, map[string]string{
			"revision": strconv.FormatUint(req.Revision, 10),
		})
		g.broadcaster.publish(id.OrgID, vaultID, wire.VaultUpdatedEvent{
			VaultID:   vaultID,
			Revision:  req.Revision,
			UpdatedAt: rec.UpdatedAt,
		})
		g.logger.Info("push accepted",
			slog.String("org", id.OrgID),
			slog.String("vault", vaultID),
			slog.Uint64("revision", req.Revision),
		)
	} else {
		g.metrics.incr(metricPushRejected)
		current, err := g.store.Get(id.OrgID, vaultID)
		if err == nil {
			resp.Revision = current.Revision
			resp.OwnerID = current.OwnerID
		}
		g.logger.Info("push rejected",
			slog.String("org", id.OrgID),
			slog.String("vault", vaultID),
			slog.Uint64("revision", req.Revision),
		)
	}

	body, err := json.Marshal(resp)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, body, nil
}

// DeleteVault removes a vault record from the gateway. The clients' local
// copies are untouched.
func (g *Gateway) DeleteVault(w http.ResponseWriter, r *http.Request) {
	id := identityFromContext(r.Context())
	vaultID := chi.URLParam(r, "vaultID")

	err := g.store.Delete(id.OrgID, vaultID)
	if errors.Is(err, storage.ErrNotFound) {
		writeNotFound(w, "vault not found")
		return
	}
	if err != nil {
		writeServerError(w, err)
		return
	}
	g.audits.append(id.OrgID, id.Subject, auditActionVaultDeleted, vaultID, nil)
	w.WriteHeader(http.StatusNoContent)
}

// Audit returns the org's audit trail, newest first. The caller must be
// administering their own org.
func (g *Gateway) Audit(w http.ResponseWriter, r *http.Request) {
	id := identityFromContext(r.Context())
	if !g.sameOrg(w, id, chi.URLParam(r, "orgID")) {
		return
	}
	writeJSON(w, http.StatusOK, wire.AuditResponse{Entries: g.audits.list(id.OrgID)})
}

// AddMember grants or changes a member's role. An admin cannot grant a
// role above their own.
func (g *Gateway) AddMember(w http.ResponseWriter, r *http.Request) {
	id := identityFromContext(r.Context())
	if !g.sameOrg(w, id, chi.URLParam(r, "orgID")) {
		return
	}

	var req wire.AddMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeValidationFailure(w, "malformed JSON body")
		return
	}
	if req.Subject == "" {
		writeValidationFailure(w, `missing field "subject"`)
		return
	}
	role, err := ParseRole(req.Role)
	if err != nil {
		writeValidationFailure(w, err.Error())
		return
	}
	if !id.Role.Allows(role) {
		writeForbidden(w, "cannot grant a role above your own")
		return
	}

	g.orgs.setMember(id.OrgID, req.Subject, role)
	g.audits.append(id.OrgID, id.Subject, auditActionMemberAdded, req.Subject, map[string]string{
		"role": string(role),
	})
	w.WriteHeader(http.StatusNoContent)
}

// RemoveMember revokes a membership. The same rank rule as AddMember
// applies: a caller cannot remove a member whose role outranks their own.
// Removing the org's last owner fails.
func (g *Gateway) RemoveMember(w http.ResponseWriter, r *http.Request) {
	id := identityFromContext(r.Context())
	if !g.sameOrg(w, id, chi.URLParam(r, "orgID")) {
		return
	}

	memberID := chi.URLParam(r, "memberID")
	if role, ok := g.orgs.memberRole(id.OrgID, memberID); ok && !id.Role.Allows(role) {
		writeForbidden(w, "cannot remove a member above your own role")
		return
	}
	if err := g.orgs.removeMember(id.OrgID, memberID); err != nil {
		writeValidationFailure(w, err.Error())
		return
	}
	g.audits.append(id.OrgID, id.Subject, auditActionMemberRemoved, memberID, nil)
	w.WriteHeader(http.StatusNoContent)
}

// sameOrg enforces that the org in the URL is the caller's own. Cross-org
// administration is never allowed, regardless of role.
func (g *Gateway) sameOrg(w http.ResponseWriter, id *identity, orgID string) bool {
	if orgID != id.OrgID {
		writeForbidden(w, "not a member of this org")
		return false
	}
	return true
}

func snapshotOf(rec *storage.Record) *wire.VaultSnapshot {
	return &wire.VaultSnapshot{
		VaultID:       rec.VaultID,
		OwnerID:       rec.OwnerID,
		Revision:      rec.Revision,
		UpdatedAt:     rec.UpdatedAt,
		EncryptedFile: rec.File,
	}
}

func writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}
