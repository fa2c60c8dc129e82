package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/dealbrain/dealbrain/internal/config"
	"github.com/dealbrain/dealbrain/internal/persistence"
)

// Manager owns the connection pool lifecycle and hands out the Store and
// health checker built on it. The lib/pq driver registers via the pq import
// in this package.
type Manager struct {
	db     *sqlx.DB
	store  *Store
	health *healthChecker
}

// NewManager opens the pool, applies the pool settings, and verifies
// connectivity with a ping before returning.
func NewManager(cfg config.DatabaseConfig) (*Manager, error) {
	db, err := sqlx.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	timeout := cfg.QueryTimeout()
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Manager{
		db:     db,
		store:  NewStore(db, timeout),
		health: &healthChecker{db: db, timeout: timeout},
	}, nil
}

// Store returns the unit-of-work store bound to the pool.
func (m *Manager) Store() *Store {
	return m.store
}

// Repos returns a pool-bound repository aggregate.
func (m *Manager) Repos() *persistence.Repository {
	return m.store.Repos()
}

// Health returns the health checker interface.
func (m *Manager) Health() persistence.RepositoryHealth {
	return m.health
}

// DB exposes the underlying pool for migrations.
func (m *Manager) DB() *sqlx.DB {
	return m.db
}

// Close closes the connection pool.
func (m *Manager) Close() error {
	if m.db == nil {
		return nil
	}
	return m.db.Close()
}

// healthChecker implements persistence.RepositoryHealth.
type healthChecker struct {
	db      *sqlx.DB
	timeout time.Duration
}

// Health pings the database and reports pool statistics.
func (h *healthChecker) Health(ctx context.Context) persistence.HealthCheck {
	start := time.Now()

	pingCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	var errs []string
	healthy := true
	if err := h.db.PingContext(pingCtx); err != nil {
		errs = append(errs, fmt.Sprintf("ping failed: %v", err))
		healthy = false
	}

	stats := h.db.Stats()
	pool := map[string]int{
		"max_open":      stats.MaxOpenConnections,
		"open":          stats.OpenConnections,
		"in_use":        stats.InUse,
		"idle":          stats.Idle,
		"wait_count":    int(stats.WaitCount),
		"wait_duration": int(stats.WaitDuration.Milliseconds()),
	}

	return persistence.HealthCheck{
		Healthy:        healthy,
		Errors:         errs,
		ConnectionPool: pool,
		LastCheck:      time.Now(),
		ResponseTimeMS: time.Since(start).Milliseconds(),
	}
}

// Ping tests basic connectivity.
func (h *healthChecker) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	return h.db.PingContext(pingCtx)
}
