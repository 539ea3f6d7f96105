// Package bbolt provides a BBolt-backed vault record store.
package bbolt

import (
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/brendan612/latchkey/storage"
)

// Store implements storage.Store backed by a BBolt database. Records live
// in one bucket per org, keyed by vault ID.
type Store struct {
	db *bbolt.DB
}

var _ storage.Store = (*Store)(nil)

// NewStore returns a Store backed by the given BBolt database.
func NewStore(db *bbolt.DB) *Store {
	return &Store{db: db}
}

// NewStoreFromFile opens a BBolt database at the given path.
func NewStoreFromFile(path string, options *bbolt.Options) (*Store, error) {
	db, err := bbolt.Open(path, 0600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	return NewStore(db), nil
}

// Close closes the underlying BBolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Get(orgID, vaultID string) (*storage.Record, error) {
	var rec storage.Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(orgID))
		if b == nil {
			return fmt.Errorf("%s/%s: %w", orgID, vaultID, storage.ErrNotFound)
		}
		data := b.Get([]byte(vaultID))
		if data == nil {
			return fmt.Errorf("%s/%s: %w", orgID, vaultID, storage.ErrNotFound)
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// CompareAndPut runs the read-compare-write inside a single update
// transaction, so concurrent pushes serialize on the database lock.
func (s *Store) CompareAndPut(rec *storage.Record) (bool, error) {
	accepted := false
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(rec.OrgID))
		if err != nil {
			return err
		}
		if data := b.Get([]byte(rec.VaultID)); data != nil {
			var existing storage.Record
			if err := json.Unmarshal(data, &existing); err != nil {
				return fmt.Errorf("decoding stored record: %w", err)
			}
			if rec.Revision <= existing.Revision {
				return nil
			}
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if err := b.Put([]byte(rec.VaultID), data); err != nil {
			return err
		}
		accepted = true
		return nil
	})
	return accepted, err
}

func (s *Store) ListByOwner(orgID, ownerID string) ([]*storage.Record, error) {
	var recs []*storage.Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(orgID))
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, data []byte) error {
			var rec storage.Record
			if err := json.Unmarshal(data, &rec); err != nil {
				return err
			}
			if rec.OwnerID == ownerID {
				recs = append(recs, &rec)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return recs, nil
}

func (s *Store) Delete(orgID, vaultID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(orgID))
		if b == nil || b.Get([]byte(vaultID)) == nil {
			return fmt.Errorf("%s/%s: %w", orgID, vaultID, storage.ErrNotFound)
		}
		return b.Delete([]byte(vaultID))
	})
}
