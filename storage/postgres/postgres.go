// Package postgres provides a PostgreSQL-backed vault record store.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/brendan612/latchkey/storage"
)

// Store implements storage.Store backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ storage.Store = (*Store)(nil)

// NewStore connects to the given DSN and ensures the schema exists.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) Get(orgID, vaultID string) (*storage.Record, error) {
	rec := &storage.Record{OrgID: orgID, VaultID: vaultID}
	err := s.pool.QueryRow(context.Background(),
		`SELECT owner_id, revision, updated_at, file
		   FROM latchkey_vaults WHERE org_id = $1 AND vault_id = $2`,
		orgID, vaultID,
	).Scan(&rec.OwnerID, &rec.Revision, &rec.UpdatedAt, &rec.File)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s/%s: %w", orgID, vaultID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying record: %w", err)
	}
	return rec, nil
}

// CompareAndPut relies on the conditional upsert to make the
// read-compare-write atomic on the database side.
func (s *Store) CompareAndPut(rec *storage.Record) (bool, error) {
	tag, err := s.pool.Exec(context.Background(),
		`INSERT INTO latchkey_vaults (org_id, vault_id, owner_id, revision, updated_at, file)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (org_id, vault_id) DO UPDATE
		   SET owner_id = EXCLUDED.owner_id,
		       revision = EXCLUDED.revision,
		       updated_at = EXCLUDED.updated_at,
		       file = EXCLUDED.file
		 WHERE EXCLUDED.revision > latchkey_vaults.revision`,
		rec.OrgID, rec.VaultID, rec.OwnerID, rec.Revision, rec.UpdatedAt, rec.File,
	)
	if err != nil {
		return false, fmt.Errorf("upserting record: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) ListByOwner(orgID, ownerID string) ([]*storage.Record, error) {
	rows, err := s.pool.Query(context.Background(),
		`SELECT vault_id, revision, updated_at, file
		   FROM latchkey_vaults WHERE org_id = $1 AND owner_id = $2
		  ORDER BY vault_id`,
		orgID, ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying records: %w", err)
	}
	defer rows.Close()

	var recs []*storage.Record
	for rows.Next() {
		rec := &storage.Record{OrgID: orgID, OwnerID: ownerID}
		if err := rows.Scan(&rec.VaultID, &rec.Revision, &rec.UpdatedAt, &rec.File); err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func (s *Store) Delete(orgID, vaultID string) error {
	tag, err := s.pool.Exec(context.Background(),
		`DELETE FROM latchkey_vaults WHERE org_id = $1 AND vault_id = $2`,
		orgID, vaultID,
	)
	if err != nil {
		return fmt.Errorf("deleting record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s/%s: %w", orgID, vaultID, storage.ErrNotFound)
	}
	return nil
}
