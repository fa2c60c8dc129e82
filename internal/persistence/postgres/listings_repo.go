package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/dealbrain/dealbrain/internal/apperr"
	"github.com/dealbrain/dealbrain/internal/domain"
	"github.com/dealbrain/dealbrain/internal/persistence"
)

// listingsRepo implements persistence.ListingsRepo on PostgreSQL.
type listingsRepo struct {
	db      sqlx.ExtContext
	timeout time.Duration
}

// NewListingsRepo creates a PostgreSQL listings repository.
func NewListingsRepo(db sqlx.ExtContext, timeout time.Duration) persistence.ListingsRepo {
	return &listingsRepo{db: db, timeout: timeout}
}

var sortColumnPattern = regexp.MustCompile(`^[a-z_]+$`)

const listingColumns = `
	id, title, listing_url, other_urls, seller, price_usd, condition, status,
	marketplace, vendor_item_id, dedup_hash, cpu_id, gpu_id, ram_spec_id,
	primary_storage_profile_id, secondary_storage_profile_id, ports_profile_id,
	ram_gb, primary_storage_gb, primary_storage_type, secondary_storage_gb,
	secondary_storage_type, manufacturer, series, model_number, notes,
	attributes, raw_listing_json, active_profile_id, ruleset_id,
	adjusted_price_usd, valuation_breakdown, score_cpu_multi, score_cpu_single,
	score_gpu, score_composite, dollar_per_cpu_mark, dollar_per_single_mark,
	dollar_per_cpu_mark_single, dollar_per_cpu_mark_single_adjusted,
	dollar_per_cpu_mark_multi, dollar_per_cpu_mark_multi_adjusted,
	perf_per_watt, quality, extraction_metadata, missing_fields, last_seen_at,
	created_at, updated_at`

// listingRow wraps the domain struct with the raw JSONB columns so sqlx can
// scan and bind the whole row.
type listingRow struct {
	domain.Listing
	OtherURLsJSON  []byte `db:"other_urls"`
	AttributesJSON []byte `db:"attributes"`
	RawJSON        []byte `db:"raw_listing_json"`
	BreakdownJSON  []byte `db:"valuation_breakdown"`
	ExtractionJSON []byte `db:"extraction_metadata"`
	MissingJSON    []byte `db:"missing_fields"`
}

func newListingRow(l *domain.Listing) (listingRow, error) {
	row := listingRow{Listing: *l}
	var err error
	if len(l.OtherURLs) > 0 {
		if row.OtherURLsJSON, err = json.Marshal(l.OtherURLs); err != nil {
			return row, fmt.Errorf("marshal other_urls: %w", err)
		}
	}
	if row.AttributesJSON, err = marshalMap("listing", l.Attributes); err != nil {
		return row, err
	}
	row.RawJSON = []byte(l.RawListingJSON)
	row.BreakdownJSON = []byte(l.ValuationBreakdown)
	if len(l.ExtractionMetadata) > 0 {
		if row.ExtractionJSON, err = json.Marshal(l.ExtractionMetadata); err != nil {
			return row, fmt.Errorf("marshal extraction_metadata: %w", err)
		}
	}
	if len(l.MissingFields) > 0 {
		if row.MissingJSON, err = json.Marshal(l.MissingFields); err != nil {
			return row, fmt.Errorf("marshal missing_fields: %w", err)
		}
	}
	return row, nil
}

func (r *listingRow) toDomain() (*domain.Listing, error) {
	l := r.Listing
	if len(r.OtherURLsJSON) > 0 {
		if err := json.Unmarshal(r.OtherURLsJSON, &l.OtherURLs); err != nil {
			return nil, fmt.Errorf("unmarshal other_urls: %w", err)
		}
	}
	var err error
	if l.Attributes, err = unmarshalMap("listing", r.AttributesJSON); err != nil {
		return nil, err
	}
	l.RawListingJSON = json.RawMessage(r.RawJSON)
	l.ValuationBreakdown = json.RawMessage(r.BreakdownJSON)
	if len(r.ExtractionJSON) > 0 {
		if err := json.Unmarshal(r.ExtractionJSON, &l.ExtractionMetadata); err != nil {
			return nil, fmt.Errorf("unmarshal extraction_metadata: %w", err)
		}
	}
	if len(r.MissingJSON) > 0 {
		if err := json.Unmarshal(r.MissingJSON, &l.MissingFields); err != nil {
			return nil, fmt.Errorf("unmarshal missing_fields: %w", err)
		}
	}
	return &l, nil
}

func (r *listingsRepo) Insert(ctx context.Context, l *domain.Listing) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	row, err := newListingRow(l)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO listing (
			title, listing_url, other_urls, seller, price_usd, condition,
			status, marketplace, vendor_item_id, dedup_hash, cpu_id, gpu_id,
			ram_spec_id, primary_storage_profile_id,
			secondary_storage_profile_id, ports_profile_id, ram_gb,
			primary_storage_gb, primary_storage_type, secondary_storage_gb,
			secondary_storage_type, manufacturer, series, model_number, notes,
			attributes, raw_listing_json, active_profile_id, ruleset_id,
			quality, extraction_metadata, missing_fields, last_seen_at
		) VALUES (
			:title, :listing_url, :other_urls, :seller, :price_usd, :condition,
			:status, :marketplace, :vendor_item_id, :dedup_hash, :cpu_id, :gpu_id,
			:ram_spec_id, :primary_storage_profile_id,
			:secondary_storage_profile_id, :ports_profile_id, :ram_gb,
			:primary_storage_gb, :primary_storage_type, :secondary_storage_gb,
			:secondary_storage_type, :manufacturer, :series, :model_number, :notes,
			:attributes, :raw_listing_json, :active_profile_id, :ruleset_id,
			:quality, :extraction_metadata, :missing_fields, :last_seen_at
		)
		RETURNING id, created_at, updated_at`

	rows, err := sqlx.NamedQueryContext(ctx, r.db, query, row)
	if err != nil {
		return mapErr("insert listing", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return mapErr("insert listing", err)
		}
		return fmt.Errorf("insert listing: no row returned")
	}
	if err := rows.Scan(&l.ID, &l.CreatedAt, &l.UpdatedAt); err != nil {
		return mapErr("insert listing", err)
	}
	return nil
}

func (r *listingsRepo) Update(ctx context.Context, l *domain.Listing) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	row, err := newListingRow(l)
	if err != nil {
		return err
	}

	// Valuation and metric columns are written by ApplyValuation only.
	query := `
		UPDATE listing SET
			title = :title, listing_url = :listing_url,
			other_urls = :other_urls, seller = :seller,
			price_usd = :price_usd, condition = :condition, status = :status,
			marketplace = :marketplace, vendor_item_id = :vendor_item_id,
			dedup_hash = :dedup_hash, cpu_id = :cpu_id, gpu_id = :gpu_id,
			ram_spec_id = :ram_spec_id,
			primary_storage_profile_id = :primary_storage_profile_id,
			secondary_storage_profile_id = :secondary_storage_profile_id,
			ports_profile_id = :ports_profile_id, ram_gb = :ram_gb,
			primary_storage_gb = :primary_storage_gb,
			primary_storage_type = :primary_storage_type,
			secondary_storage_gb = :secondary_storage_gb,
			secondary_storage_type = :secondary_storage_type,
			manufacturer = :manufacturer, series = :series,
			model_number = :model_number, notes = :notes,
			attributes = :attributes, raw_listing_json = :raw_listing_json,
			active_profile_id = :active_profile_id, ruleset_id = :ruleset_id,
			quality = :quality, extraction_metadata = :extraction_metadata,
			missing_fields = :missing_fields, last_seen_at = :last_seen_at,
			updated_at = now()
		WHERE id = :id
		RETURNING updated_at`

	rows, err := sqlx.NamedQueryContext(ctx, r.db, query, row)
	if err != nil {
		return mapErr("update listing", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return mapErr("update listing", err)
		}
		return apperr.NotFound("listing %d not found", l.ID)
	}
	if err := rows.Scan(&l.UpdatedAt); err != nil {
		return mapErr("update listing", err)
	}
	return nil
}

func (r *listingsRepo) Get(ctx context.Context, id int64) (*domain.Listing, error) {
	return r.getBy(ctx, "get listing", "id = $1", id)
}

func (r *listingsRepo) FindByVendorItem(ctx context.Context, marketplace domain.Marketplace, vendorItemID string) (*domain.Listing, error) {
	return r.getBy(ctx, "find listing by vendor item",
		"marketplace = $1 AND vendor_item_id = $2", marketplace, vendorItemID)
}

// FindByDedupHash returns the oldest row with the hash; the hash is a soft
// key, so several rows may share it.
func (r *listingsRepo) FindByDedupHash(ctx context.Context, hash string) (*domain.Listing, error) {
	return r.getBy(ctx, "find listing by dedup hash", "dedup_hash = $1 ORDER BY id", hash)
}

// getBy runs a single-row lookup. clause is everything between WHERE and
// LIMIT, so callers may append an ORDER BY.
func (r *listingsRepo) getBy(ctx context.Context, op, clause string, args ...any) (*domain.Listing, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT` + listingColumns + ` FROM listing WHERE ` + clause + ` LIMIT 1`

	var row listingRow
	if err := sqlx.GetContext(ctx, r.db, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, mapErr(op, err)
	}
	return row.toDomain()
}

func (r *listingsRepo) List(ctx context.Context, q persistence.ListingQuery) ([]domain.Listing, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if !sortColumnPattern.MatchString(q.SortBy) {
		return nil, false, apperr.Validation("invalid sort column %q", q.SortBy)
	}

	where, args := filterClauses(q.Filter)
	if q.AfterID != nil && q.AfterSort != nil {
		cmp := ">"
		if q.Desc {
			cmp = "<"
		}
		where = append(where, fmt.Sprintf("(%s, id) %s ($%d, $%d)", q.SortBy, cmp, len(args)+1, len(args)+2))
		args = append(args, *q.AfterSort, *q.AfterID)
	}

	dir := "ASC"
	if q.Desc {
		dir = "DESC"
	}

	query := `SELECT` + listingColumns + ` FROM listing`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY %s %s, id %s LIMIT $%d", q.SortBy, dir, dir, len(args)+1)
	args = append(args, q.Limit+1)

	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, false, mapErr("list listings", err)
	}
	defer rows.Close()

	var out []domain.Listing
	for rows.Next() {
		var row listingRow
		if err := rows.StructScan(&row); err != nil {
			return nil, false, mapErr("list listings", err)
		}
		l, err := row.toDomain()
		if err != nil {
			return nil, false, err
		}
		out = append(out, *l)
	}
	if err := rows.Err(); err != nil {
		return nil, false, mapErr("list listings", err)
	}

	hasNext := len(out) > q.Limit
	if hasNext {
		out = out[:q.Limit]
	}
	return out, hasNext, nil
}

func (r *listingsRepo) Count(ctx context.Context, f persistence.ListingFilter) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	where, args := filterClauses(f)
	query := `SELECT COUNT(*) FROM listing`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	var count int64
	if err := r.db.QueryRowxContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, mapErr("count listings", err)
	}
	return count, nil
}

func filterClauses(f persistence.ListingFilter) ([]string, []any) {
	var where []string
	var args []any
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if f.Status != nil {
		add("status = $%d", *f.Status)
	}
	if f.Marketplace != nil {
		add("marketplace = $%d", *f.Marketplace)
	}
	if f.Quality != nil {
		add("quality = $%d", *f.Quality)
	}
	if f.Manufacturer != nil {
		add("manufacturer ILIKE $%d", "%"+*f.Manufacturer+"%")
	}
	if f.MinPriceUSD != nil {
		add("price_usd >= $%d", *f.MinPriceUSD)
	}
	if f.MaxPriceUSD != nil {
		add("price_usd <= $%d", *f.MaxPriceUSD)
	}
	return where, args
}

func (r *listingsRepo) ApplyValuation(ctx context.Context, id int64, v persistence.ValuationUpdate) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	m := v.Metrics
	query := `
		UPDATE listing SET
			ruleset_id = $2,
			adjusted_price_usd = $3,
			valuation_breakdown = $4,
			dollar_per_cpu_mark = $5,
			dollar_per_single_mark = $6,
			dollar_per_cpu_mark_single = $7,
			dollar_per_cpu_mark_single_adjusted = $8,
			dollar_per_cpu_mark_multi = $9,
			dollar_per_cpu_mark_multi_adjusted = $10,
			perf_per_watt = $11,
			score_cpu_single = $12,
			score_cpu_multi = $13,
			score_gpu = $14,
			score_composite = $15,
			updated_at = now()
		WHERE id = $1`

	res, err := r.db.ExecContext(ctx, query, id,
		v.RulesetID, v.AdjustedPriceUSD, []byte(v.ValuationBreakdown),
		m.DollarPerCPUMark, m.DollarPerSingleMark,
		m.DollarPerCPUMarkSingle, m.DollarPerCPUMarkSingleAdjusted,
		m.DollarPerCPUMarkMulti, m.DollarPerCPUMarkMultiAdjusted,
		m.PerfPerWatt, m.ScoreCPUSingle, m.ScoreCPUMulti, m.ScoreGPU,
		m.ScoreComposite)
	if err != nil {
		return mapErr("apply valuation", err)
	}
	return requireAffected("apply valuation", res)
}

func (r *listingsRepo) ClearMetrics(ctx context.Context, id int64) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		UPDATE listing SET
			adjusted_price_usd = NULL,
			valuation_breakdown = NULL,
			dollar_per_cpu_mark = NULL,
			dollar_per_single_mark = NULL,
			dollar_per_cpu_mark_single = NULL,
			dollar_per_cpu_mark_single_adjusted = NULL,
			dollar_per_cpu_mark_multi = NULL,
			dollar_per_cpu_mark_multi_adjusted = NULL,
			perf_per_watt = NULL,
			score_cpu_single = NULL,
			score_cpu_multi = NULL,
			score_gpu = NULL,
			score_composite = NULL,
			updated_at = now()
		WHERE id = $1`

	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return mapErr("clear metrics", err)
	}
	return requireAffected("clear metrics", res)
}

func (r *listingsRepo) TouchLastSeen(ctx context.Context, id int64, ts time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx,
		`UPDATE listing SET last_seen_at = $2, updated_at = now() WHERE id = $1`, id, ts)
	if err != nil {
		return mapErr("touch last seen", err)
	}
	return requireAffected("touch last seen", res)
}

func (r *listingsRepo) Delete(ctx context.Context, id int64) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `DELETE FROM listing WHERE id = $1`, id)
	if err != nil {
		return mapErr("delete listing", err)
	}
	return requireAffected("delete listing", res)
}

func (r *listingsRepo) IDsWithRuleset(ctx context.Context, rulesetID int64) ([]int64, error) {
	return r.ids(ctx, "listing ids by ruleset",
		`SELECT id FROM listing WHERE ruleset_id = $1 ORDER BY id`, rulesetID)
}

func (r *listingsRepo) ActiveIDs(ctx context.Context) ([]int64, error) {
	return r.ids(ctx, "active listing ids",
		`SELECT id FROM listing WHERE status = 'active' ORDER BY id`)
}

func (r *listingsRepo) ids(ctx context.Context, op, query string, args ...any) ([]int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var ids []int64
	if err := sqlx.SelectContext(ctx, r.db, &ids, query, args...); err != nil {
		return nil, mapErr(op, err)
	}
	return ids, nil
}
