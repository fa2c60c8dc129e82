// Package persistence defines the storage contracts of the pipeline. The
// postgres subpackage implements them; everything above depends on these
// interfaces only. Point lookups return (nil, nil) on miss; mutations return
// apperr kinds (CONFLICT, NOT_FOUND, DB_UNAVAILABLE, DB_SCHEMA_ERROR).
package persistence

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dealbrain/dealbrain/internal/domain"
)

// ListingFilter narrows list/count queries. Nil fields match everything.
// The struct marshals deterministically, so its JSON doubles as the cache
// key material for filtered counts.
type ListingFilter struct {
	Status       *domain.ListingStatus `json:"status,omitempty"`
	Marketplace  *domain.Marketplace   `json:"marketplace,omitempty"`
	Quality      *domain.Quality       `json:"quality,omitempty"`
	Manufacturer *string               `json:"manufacturer,omitempty"`
	MinPriceUSD  *decimal.Decimal      `json:"min_price_usd,omitempty"`
	MaxPriceUSD  *decimal.Decimal      `json:"max_price_usd,omitempty"`
}

// IsZero reports whether the filter matches all listings.
func (f ListingFilter) IsZero() bool {
	return f.Status == nil && f.Marketplace == nil && f.Quality == nil &&
		f.Manufacturer == nil && f.MinPriceUSD == nil && f.MaxPriceUSD == nil
}

// ListingQuery is a validated keyset page request. AfterID/AfterSort come
// from the previous page's cursor; nil means first page.
type ListingQuery struct {
	Filter    ListingFilter
	SortBy    string
	Desc      bool
	Limit     int
	AfterID   *int64
	AfterSort *string
}

// ValuationUpdate carries everything one valuation+metrics pass writes back
// to the listing row.
type ValuationUpdate struct {
	RulesetID          *int64
	AdjustedPriceUSD   *decimal.Decimal
	ValuationBreakdown json.RawMessage
	Metrics            domain.MetricSet
}

// ListingsRepo persists the listing aggregate.
type ListingsRepo interface {
	// Insert stores a new listing and fills ID/CreatedAt/UpdatedAt.
	Insert(ctx context.Context, l *domain.Listing) error

	// Update rewrites all mutable columns and bumps UpdatedAt. NOT_FOUND
	// when the row is gone.
	Update(ctx context.Context, l *domain.Listing) error

	// Get retrieves one listing by ID.
	Get(ctx context.Context, id int64) (*domain.Listing, error)

	// FindByVendorItem looks a listing up by its marketplace vendor key.
	FindByVendorItem(ctx context.Context, marketplace domain.Marketplace, vendorItemID string) (*domain.Listing, error)

	// FindByDedupHash looks a listing up by content hash.
	FindByDedupHash(ctx context.Context, hash string) (*domain.Listing, error)

	// List returns one keyset page plus a has-next flag (overfetch by 1).
	List(ctx context.Context, q ListingQuery) ([]domain.Listing, bool, error)

	// Count returns the filtered listing total.
	Count(ctx context.Context, f ListingFilter) (int64, error)

	// ApplyValuation persists adjusted price, breakdown, and the metric
	// vector in one statement.
	ApplyValuation(ctx context.Context, id int64, v ValuationUpdate) error

	// ClearMetrics nulls all metric columns, used when a listing loses its
	// price.
	ClearMetrics(ctx context.Context, id int64) error

	// TouchLastSeen stamps last_seen_at on a re-observed listing.
	TouchLastSeen(ctx context.Context, id int64, ts time.Time) error

	// Delete removes a listing; snapshots cascade.
	Delete(ctx context.Context, id int64) error

	// IDsWithRuleset returns listings statically pinned to a ruleset.
	IDsWithRuleset(ctx context.Context, rulesetID int64) ([]int64, error)

	// ActiveIDs returns all active listings, recalculation candidates for
	// dynamic ruleset changes.
	ActiveIDs(ctx context.Context) ([]int64, error)
}

// CatalogRepo persists shared component entities. Get-or-create methods are
// keyed on the entity's canonical identity (name or full tuple) and are safe
// under concurrent callers.
type CatalogRepo interface {
	GetCPU(ctx context.Context, id int64) (*domain.CPU, error)
	FindCPUByName(ctx context.Context, name string) (*domain.CPU, error)
	GetOrCreateCPU(ctx context.Context, c domain.CPU) (*domain.CPU, error)

	GetGPU(ctx context.Context, id int64) (*domain.GPU, error)

	GetRamSpec(ctx context.Context, id int64) (*domain.RamSpec, error)
	GetOrCreateRamSpec(ctx context.Context, s domain.RamSpec) (*domain.RamSpec, error)

	GetStorageProfile(ctx context.Context, id int64) (*domain.StorageProfile, error)
	GetOrCreateStorageProfile(ctx context.Context, p domain.StorageProfile) (*domain.StorageProfile, error)

	// GetPortsProfile loads a profile with its port rows.
	GetPortsProfile(ctx context.Context, id int64) (*domain.PortsProfile, error)

	// DefaultScoringProfile returns the profile driving score_composite,
	// or (nil, nil) when none is marked default.
	DefaultScoringProfile(ctx context.Context) (*domain.ScoringProfile, error)
}

// RulesRepo persists the valuation rule hierarchy. Deep loads return the
// full ruleset snapshot (groups → rules → conditions → actions); run them
// inside a UnitOfWork transaction when a consistent snapshot is required.
type RulesRepo interface {
	// GetRuleset deep-loads one ruleset.
	GetRuleset(ctx context.Context, id int64) (*domain.Ruleset, error)

	// ActiveRulesets deep-loads all active rulesets in ascending priority.
	ActiveRulesets(ctx context.Context) ([]domain.Ruleset, error)

	// FindRulesetBySourceHash returns the ruleset header (no groups) whose
	// metadata carries the given baseline source hash.
	FindRulesetBySourceHash(ctx context.Context, hash string) (*domain.Ruleset, error)

	// CreateRuleset stores the header row and fills ID/timestamps.
	CreateRuleset(ctx context.Context, rs *domain.Ruleset) error

	// CreateGroup stores one group row under its ruleset.
	CreateGroup(ctx context.Context, g *domain.RuleGroup) error

	// CreateRule stores a rule with its conditions and actions. Run it
	// inside a UnitOfWork transaction when atomicity matters.
	CreateRule(ctx context.Context, r *domain.Rule) error

	// UpdateRuleStatus flips is_active, overwrites rule metadata, bumps the
	// rule version, and returns the new version.
	UpdateRuleStatus(ctx context.Context, ruleID int64, isActive bool, metadata map[string]any) (int, error)

	// UpdateRulesetActivation flips a ruleset's is_active flag.
	UpdateRulesetActivation(ctx context.Context, id int64, active bool) error

	// DeactivateSystemBaselines deactivates every baseline ruleset except
	// the given one and returns how many were touched.
	DeactivateSystemBaselines(ctx context.Context, exceptID int64) (int64, error)

	// EnsureGroup returns the named group in a ruleset, creating it with
	// the given category and metadata when absent.
	EnsureGroup(ctx context.Context, rulesetID int64, name, category string, metadata map[string]any) (*domain.RuleGroup, error)

	// SaveRuleVersion appends an immutable rule snapshot.
	SaveRuleVersion(ctx context.Context, v *domain.RuleVersion) error

	// AppendAudit appends one audit log row.
	AppendAudit(ctx context.Context, a *domain.RuleAudit) error
}

// ImportsRepo persists bulk-import jobs and their per-task outcomes.
type ImportsRepo interface {
	CreateJob(ctx context.Context, j *domain.ImportJob) error
	StartJob(ctx context.Context, id int64) error
	CompleteJob(ctx context.Context, j *domain.ImportJob) error
	GetJob(ctx context.Context, id int64) (*domain.ImportJob, error)
	RecordTaskRun(ctx context.Context, t *domain.TaskRun) error
}

// SnapshotsRepo persists score history rows.
type SnapshotsRepo interface {
	Insert(ctx context.Context, s *domain.ScoreSnapshot) error
	ListForListing(ctx context.Context, listingID int64, limit int) ([]domain.ScoreSnapshot, error)
}

// Repository aggregates all persistence interfaces.
type Repository struct {
	Listings  ListingsRepo
	Catalog   CatalogRepo
	Rules     RulesRepo
	Imports   ImportsRepo
	Snapshots SnapshotsRepo
}

// UnitOfWork runs functions against transaction-bound repositories. The
// Repository handed to fn issues every statement inside one transaction,
// committed when fn returns nil.
type UnitOfWork interface {
	// WithTx runs fn in a plain transaction.
	WithTx(ctx context.Context, fn func(*Repository) error) error

	// WithListingLock runs fn in a transaction holding the advisory lock
	// for the listing key, serializing concurrent pipelines on the same
	// listing. The lock releases at commit/rollback.
	WithListingLock(ctx context.Context, key string, fn func(*Repository) error) error
}

// HealthCheck is a point-in-time repository health report.
type HealthCheck struct {
	Healthy        bool           `json:"healthy"`
	Errors         []string       `json:"errors,omitempty"`
	ConnectionPool map[string]int `json:"connection_pool"`
	LastCheck      time.Time      `json:"last_check"`
	ResponseTimeMS int64          `json:"response_time_ms"`
}

// RepositoryHealth monitors the persistence layer.
type RepositoryHealth interface {
	Health(ctx context.Context) HealthCheck
	Ping(ctx context.Context) error
}
