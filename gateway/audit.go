package gateway

import (
	"log/slog"
	"sync"
	"time"

	"github.com/brendan612/latchkey/internal/uuid"
	"github.com/brendan612/latchkey/wire"
)

// defaultAuditCap bounds audit storage per org; the oldest entries are
// trimmed once the cap is reached.
const defaultAuditCap = 500

const (
	auditActionVaultPushed   = "vault_pushed"
	auditActionVaultDeleted  = "vault_deleted"
	auditActionMemberAdded   = "member_added"
	auditActionMemberRemoved = "member_removed"
)

// auditLog is an append-only, capped per-org trail of mutating actions.
// Every entry is also mirrored to the structured logger.
type auditLog struct {
	mu     sync.RWMutex
	byOrg  map[string][]wire.AuditEntry
	cap    int
	logger *slog.Logger
}

func newAuditLog(capacity int, logger *slog.Logger) *auditLog {
	if capacity <= 0 {
		capacity = defaultAuditCap
	}
	return &auditLog{
		byOrg:  make(map[string][]wire.AuditEntry),
		cap:    capacity,
		logger: logger,
	}
}

func (a *auditLog) append(orgID, actor, action, target string, metadata map[string]string) {
	entry := wire.AuditEntry{
		ID:           uuid.New(),
		ActorSubject: actor,
		Action:       action,
		Target:       target,
		Metadata:     metadata,
		CreatedAt:    time.Now().UTC(),
	}

	a.mu.Lock()
	entries := append(a.byOrg[orgID], entry)
	if len(entries) > a.cap {
		entries = entries[len(entries)-a.cap:]
	}
	a.byOrg[orgID] = entries
	a.mu.Unlock()

	a.logger.Info("audit",
		slog.String("org", orgID),
		slog.String("actor", actor),
		slog.String("action", action),
		slog.String("target", target),
	)
}

// list returns the org's entries, newest first.
func (a *auditLog) list(orgID string) []wire.AuditEntry {
	a.mu.RLock()
	defer a.mu.RUnlock()
	entries := a.byOrg[orgID]
	out := make([]wire.AuditEntry, len(entries))
	for i, e := range entries {
		out[len(entries)-1-i] = e
	}
	return out
}
