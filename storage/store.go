// Package storage provides the gateway's vault record store: one encrypted
// vault file per (org, vault) with revision compare-and-accept semantics.
package storage

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when no record exists for the requested vault.
var ErrNotFound = errors.New("vault record not found")

// Record is the server-side state for one vault. File is the client's
// encrypted envelope, opaque to the gateway.
type Record struct {
	OrgID     string          `json:"org_id"`
	VaultID   string          `json:"vault_id"`
	OwnerID   string          `json:"owner_id"`
	Revision  uint64          `json:"revision"`
	UpdatedAt time.Time       `json:"updated_at"`
	File      json.RawMessage `json:"file"`
}

// Clone returns a copy sharing no mutable state with r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.File = append(json.RawMessage(nil), r.File...)
	return &c
}

// Store persists vault records. Implementations must make CompareAndPut
// atomic: the read-compare-write is one critical section so two
// near-simultaneous pushes cannot race into a lost update.
type Store interface {
	// Get returns the current record for a vault, or ErrNotFound.
	Get(orgID, vaultID string) (*Record, error)
	// CompareAndPut persists rec iff no record exists for the vault or
	// rec.Revision is strictly greater than the stored revision. The
	// returned flag reports whether the record was accepted; a rejection
	// is a normal outcome, not an error.
	CompareAndPut(rec *Record) (bool, error)
	// ListByOwner returns every record in the org owned by ownerID.
	ListByOwner(orgID, ownerID string) ([]*Record, error)
	// Delete removes a vault record. Deleting a missing record returns
	// ErrNotFound.
	Delete(orgID, vaultID string) error
	// Close releases any underlying resources.
	Close() error
}
