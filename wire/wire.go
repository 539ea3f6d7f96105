// Package wire defines the JSON request, response, and event types shared
// by the sync gateway and the sync client.
package wire

import (
	"encoding/json"
	"time"
)

// AuthStatusResponse is returned from POST /auth/status. In non-strict mode
// an unresolvable identity yields Authenticated:false with status 200.
type AuthStatusResponse struct {
	Authenticated bool   `json:"authenticated"`
	Subject       string `json:"subject,omitempty"`
	OrgID         string `json:"org_id,omitempty"`
	Role          string `json:"role,omitempty"`
}

// VaultSnapshot is the server's copy of a vault: the client's encrypted
// envelope plus the ordering metadata the gateway tracks.
type VaultSnapshot struct {
	VaultID       string          `json:"vault_id"`
	OwnerID       string          `json:"owner_id"`
	Revision      uint64          `json:"revision"`
	UpdatedAt     time.Time       `json:"updated_at"`
	EncryptedFile json.RawMessage `json:"encrypted_file"`
}

// PullResponse is returned from the pull endpoints. Snapshot is nil when
// the vault has never been pushed.
type PullResponse struct {
	Found    bool           `json:"found"`
	Snapshot *VaultSnapshot `json:"snapshot,omitempty"`
}

// PushRequest is the JSON body for POST /vaults/{id}/push.
type PushRequest struct {
	Revision      uint64          `json:"revision"`
	UpdatedAt     time.Time       `json:"updated_at"`
	EncryptedFile json.RawMessage `json:"encrypted_file"`
}

// PushResponse reports the outcome of a push. Accepted:false is a normal
// result meaning a newer remote revision exists; OwnerID names the subject
// whose push produced the currently stored revision.
type PushResponse struct {
	Accepted bool   `json:"accepted"`
	Revision uint64 `json:"revision"`
	OwnerID  string `json:"owner_id,omitempty"`
}

// VaultListing summarizes one vault in a list-by-owner response.
type VaultListing struct {
	VaultID   string    `json:"vault_id"`
	Revision  uint64    `json:"revision"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ListByOwnerResponse is returned from POST /vaults/list-by-owner.
type ListByOwnerResponse struct {
	Vaults []VaultListing `json:"vaults"`
}

// StreamTokenRequest is the JSON body for POST /events/token.
type StreamTokenRequest struct {
	VaultID string `json:"vault_id"`
}

// StreamTokenResponse carries a short-lived, single-vault stream token.
type StreamTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// VaultUpdatedEvent is the payload of a vault-updated stream event. It is
// advisory only: it triggers a re-pull and never carries vault data.
type VaultUpdatedEvent struct {
	VaultID   string    `json:"vault_id"`
	Revision  uint64    `json:"revision"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AddMemberRequest is the JSON body for POST /orgs/{id}/members.
type AddMemberRequest struct {
	Subject string `json:"subject"`
	Role    string `json:"role"`
}

// AuditEntry is one row of an org's audit trail.
type AuditEntry struct {
	ID           string            `json:"id"`
	ActorSubject string            `json:"actor_subject"`
	Action       string            `json:"action"`
	Target       string            `json:"target"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

// AuditResponse is returned from GET /orgs/{id}/audit.
type AuditResponse struct {
	Entries []AuditEntry `json:"entries"`
}

// ErrorResponse is returned for all error cases.
type ErrorResponse struct {
	Error string `json:"error"`
}
