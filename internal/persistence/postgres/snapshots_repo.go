package postgres

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/dealbrain/dealbrain/internal/domain"
	"github.com/dealbrain/dealbrain/internal/persistence"
)

// snapshotsRepo implements persistence.SnapshotsRepo on PostgreSQL.
type snapshotsRepo struct {
	db      sqlx.ExtContext
	timeout time.Duration
}

// NewSnapshotsRepo creates a PostgreSQL score snapshot repository.
func NewSnapshotsRepo(db sqlx.ExtContext, timeout time.Duration) persistence.SnapshotsRepo {
	return &snapshotsRepo{db: db, timeout: timeout}
}

func (r *snapshotsRepo) Insert(ctx context.Context, s *domain.ScoreSnapshot) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO listing_score_snapshot (listing_id, price_usd, adjusted_price_usd,
			score_composite, dollar_per_cpu_mark_single, dollar_per_cpu_mark_multi,
			perf_per_watt)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, created_at`,
		s.ListingID, s.PriceUSD, s.AdjustedPriceUSD, s.ScoreComposite,
		s.DollarPerCPUMarkSingle, s.DollarPerCPUMarkMulti, s.PerfPerWatt).
		Scan(&s.ID, &s.CreatedAt)
	if err != nil {
		return mapErr("insert score snapshot", err)
	}
	return nil
}

func (r *snapshotsRepo) ListForListing(ctx context.Context, listingID int64, limit int) ([]domain.ScoreSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if limit <= 0 {
		limit = 50
	}

	var out []domain.ScoreSnapshot
	err := sqlx.SelectContext(ctx, r.db, &out,
		`SELECT id, listing_id, price_usd, adjusted_price_usd, score_composite,
			dollar_per_cpu_mark_single, dollar_per_cpu_mark_multi, perf_per_watt,
			created_at
		 FROM listing_score_snapshot
		 WHERE listing_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2`, listingID, limit)
	if err != nil {
		return nil, mapErr("list score snapshots", err)
	}
	return out, nil
}
