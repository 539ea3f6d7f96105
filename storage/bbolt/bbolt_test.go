package bbolt

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brendan612/latchkey/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStoreFromFile(filepath.Join(t.TempDir(), "vaults.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func record(org, vault, owner string, revision uint64) *storage.Record {
	return &storage.Record{
		OrgID:     org,
		VaultID:   vault,
		OwnerID:   owner,
		Revision:  revision,
		UpdatedAt: time.Now().UTC(),
		File:      json.RawMessage(`{"format":"latchkey/vault/v1"}`),
	}
}

func TestStore_RoundTrip(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get("org", "vault")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	accepted, err := s.CompareAndPut(record("org", "vault", "alice", 1))
	require.NoError(t, err)
	require.True(t, accepted)

	rec, err := s.Get("org", "vault")
	require.NoError(t, err)
	assert.Equal(t, "alice", rec.OwnerID)
	assert.Equal(t, uint64(1), rec.Revision)
	assert.JSONEq(t, `{"format":"latchkey/vault/v1"}`, string(rec.File))
}

func TestStore_CompareAndPut_StaleRejected(t *testing.T) {
	s := newTestStore(t)

	accepted, err := s.CompareAndPut(record("org", "vault", "alice", 5))
	require.NoError(t, err)
	require.True(t, accepted)

	accepted, err = s.CompareAndPut(record("org", "vault", "alice", 5))
	require.NoError(t, err)
	assert.False(t, accepted)

	accepted, err = s.CompareAndPut(record("org", "vault", "alice", 4))
	require.NoError(t, err)
	assert.False(t, accepted)

	rec, err := s.Get("org", "vault")
	require.NoError(t, err)
	assert.Equal(t, uint64(5), rec.Revision)
}

func TestStore_ListByOwner(t *testing.T) {
	s := newTestStore(t)
	for _, rec := range []*storage.Record{
		record("org", "v-1", "alice", 1),
		record("org", "v-2", "bob", 1),
		record("org", "v-3", "alice", 1),
	} {
		accepted, err := s.CompareAndPut(rec)
		require.NoError(t, err)
		require.True(t, accepted)
	}

	recs, err := s.ListByOwner("org", "alice")
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	recs, err = s.ListByOwner("empty-org", "alice")
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestStore_Delete(t *testing.T) {
	s := newTestStore(t)
	accepted, err := s.CompareAndPut(record("org", "vault", "alice", 1))
	require.NoError(t, err)
	require.True(t, accepted)

	require.NoError(t, s.Delete("org", "vault"))
	assert.ErrorIs(t, s.Delete("org", "vault"), storage.ErrNotFound)
}

func TestStore_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vaults.db")

	s, err := NewStoreFromFile(path, nil)
	require.NoError(t, err)
	accepted, err := s.CompareAndPut(record("org", "vault", "alice", 3))
	require.NoError(t, err)
	require.True(t, accepted)
	require.NoError(t, s.Close())

	s2, err := NewStoreFromFile(path, nil)
	require.NoError(t, err)
	defer s2.Close()

	rec, err := s2.Get("org", "vault")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), rec.Revision)
}
