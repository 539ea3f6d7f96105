// Package memory provides a thread-safe in-memory implementation of
// storage.Store. Suitable for testing, demos, and single-process use.
package memory

import (
	"sort"
	"sync"

	"github.com/brendan612/latchkey/storage"
)

// Store is a thread-safe in-memory implementation of storage.Store.
type Store struct {
	mu   sync.RWMutex
	orgs map[string]map[string]*storage.Record
}

var _ storage.Store = (*Store)(nil)

// NewStore creates a new empty in-memory Store.
func NewStore() *Store {
	return &Store{orgs: make(map[string]map[string]*storage.Record)}
}

func (s *Store) Get(orgID, vaultID string) (*storage.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.orgs[orgID][vaultID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return rec.Clone(), nil
}

func (s *Store) CompareAndPut(rec *storage.Record) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	vaults, ok := s.orgs[rec.OrgID]
	if !ok {
		vaults = make(map[string]*storage.Record)
		s.orgs[rec.OrgID] = vaults
	}
	if existing, ok := vaults[rec.VaultID]; ok && rec.Revision <= existing.Revision {
		return false, nil
	}
	vaults[rec.VaultID] = rec.Clone()
	return true, nil
}

func (s *Store) ListByOwner(orgID, ownerID string) ([]*storage.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var recs []*storage.Record
	for _, rec := range s.orgs[orgID] {
		if rec.OwnerID == ownerID {
			recs = append(recs, rec.Clone())
		}
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].VaultID < recs[j].VaultID })
	return recs, nil
}

func (s *Store) Delete(orgID, vaultID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orgs[orgID][vaultID]; !ok {
		return storage.ErrNotFound
	}
	delete(s.orgs[orgID], vaultID)
	return nil
}

func (s *Store) Close() error {
	return nil
}
