package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
)

type contextKey int

const identityKey contextKey = iota

// identity is the resolved caller of a request.
type identity struct {
	Subject   string
	OrgID     string
	Role      Role
	SessionID string
}

// headers used by the lower-priority identity sources.
const (
	headerLegacyToken = "X-Legacy-Token"
	headerDeviceHint  = "X-Device-Hint"
	headerOrgID       = "X-Org-ID"
)

// resolveIdentity applies the identity sources in priority order: signed
// session token, then a configured legacy bearer token, then an anonymous
// device hint. It returns nil when no source matches.
func (g *Gateway) resolveIdentity(r *http.Request) *identity {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		token := strings.TrimPrefix(auth, "Bearer ")
		if claims, err := g.signer.verifySession(token); err == nil {
			role := g.orgs.resolve(claims.OrgID, claims.Subject)
			return &identity{
				Subject:   claims.Subject,
				OrgID:     claims.OrgID,
				Role:      role,
				SessionID: claims.SessionID,
			}
		}
		// An Authorization header that fails session verification may
		// still be a configured legacy token.
		if subject, ok := g.legacyTokens[token]; ok {
			return g.provisionIdentity(r, subject)
		}
		return nil
	}

	if token := r.Header.Get(headerLegacyToken); token != "" {
		if subject, ok := g.legacyTokens[token]; ok {
			return g.provisionIdentity(r, subject)
		}
		return nil
	}

	if hint := r.Header.Get(headerDeviceHint); hint != "" {
		sum := sha256.Sum256([]byte(hint))
		subject := "device:" + hex.EncodeToString(sum[:8])
		return g.provisionIdentity(r, subject)
	}

	return nil
}

// provisionIdentity resolves the org for a non-token identity source and
// auto-provisions membership. The org comes from the X-Org-ID header or
// defaults to the subject's personal org.
func (g *Gateway) provisionIdentity(r *http.Request, subject string) *identity {
	orgID := r.Header.Get(headerOrgID)
	if orgID == "" {
		orgID = "personal:" + subject
	}
	role := g.orgs.resolve(orgID, subject)
	return &identity{Subject: subject, OrgID: orgID, Role: role}
}

// requireRole authenticates the request and enforces the operation's
// minimum role. Authentication failures are generic 401s; an insufficient
// role is a 403.
func (g *Gateway) requireRole(required Role, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := g.resolveIdentity(r)
		if id == nil {
			g.metrics.incr(metricAuthFailures)
			writeAuthFailure(w)
			return
		}
		if !id.Role.Allows(required) {
			writeForbidden(w, "insufficient role")
			return
		}
		ctx := context.WithValue(r.Context(), identityKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

func identityFromContext(ctx context.Context) *identity {
	id, _ := ctx.Value(identityKey).(*identity)
	return id
}
