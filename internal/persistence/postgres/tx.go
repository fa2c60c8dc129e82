package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/dealbrain/dealbrain/internal/persistence"
)

// NewRepository builds the repository aggregate over any executor. Pass the
// pool for autocommit access or a transaction for atomic multi-repo work.
func NewRepository(db sqlx.ExtContext, timeout time.Duration) *persistence.Repository {
	return &persistence.Repository{
		Listings:  NewListingsRepo(db, timeout),
		Catalog:   NewCatalogRepo(db, timeout),
		Rules:     NewRulesRepo(db, timeout),
		Imports:   NewImportsRepo(db, timeout),
		Snapshots: NewSnapshotsRepo(db, timeout),
	}
}

// Store owns the connection pool and hands out transaction-scoped
// repositories. It implements persistence.UnitOfWork.
type Store struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewStore wraps an open pool. The timeout bounds each statement issued by
// the repositories, not the transaction as a whole.
func NewStore(db *sqlx.DB, timeout time.Duration) *Store {
	return &Store{db: db, timeout: timeout}
}

// Repos returns a repository aggregate bound to the pool.
func (s *Store) Repos() *persistence.Repository {
	return NewRepository(s.db, s.timeout)
}

// WithTx runs fn inside a single transaction. The repository passed to fn is
// bound to that transaction; any error rolls everything back.
func (s *Store) WithTx(ctx context.Context, fn func(*persistence.Repository) error) error {
	return s.withTx(ctx, "", fn)
}

// WithListingLock runs fn inside a transaction that holds an advisory lock on
// key. Concurrent callers with the same key serialize; the lock releases at
// commit or rollback.
func (s *Store) WithListingLock(ctx context.Context, key string, fn func(*persistence.Repository) error) error {
	if key == "" {
		return fmt.Errorf("with listing lock: empty key")
	}
	return s.withTx(ctx, key, fn)
}

func (s *Store) withTx(ctx context.Context, lockKey string, fn func(*persistence.Repository) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if lockKey != "" {
		// hashtext folds the key into the bigint space advisory locks need.
		if _, err := tx.ExecContext(ctx,
			`SELECT pg_advisory_xact_lock(hashtext($1))`, lockKey); err != nil {
			return fmt.Errorf("acquire advisory lock: %w", err)
		}
	}

	if err := fn(NewRepository(tx, s.timeout)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
