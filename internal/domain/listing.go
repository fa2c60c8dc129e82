// Package domain holds the core entities of the listing pipeline: listings,
// catalog components, and the valuation rule model. Types here carry no
// behavior beyond validation and pure derivations; persistence and transport
// concerns live in their own packages.
package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// ItemCondition is the physical condition of a listed machine.
type ItemCondition string

const (
	ConditionNew    ItemCondition = "new"
	ConditionRefurb ItemCondition = "refurb"
	ConditionUsed   ItemCondition = "used"
)

// NormalizeCondition maps free-form marketplace condition strings onto the
// closed set: anything containing "new" is new, then anything containing
// "refurb" is refurb, everything else is used.
func NormalizeCondition(raw string) ItemCondition {
	s := lowerTrim(raw)
	switch {
	case containsFold(s, "new"):
		return ConditionNew
	case containsFold(s, "refurb"):
		return ConditionRefurb
	default:
		return ConditionUsed
	}
}

// Marketplace identifies the source marketplace of a listing.
type Marketplace string

const (
	MarketplaceEbay   Marketplace = "ebay"
	MarketplaceAmazon Marketplace = "amazon"
	MarketplaceNewegg Marketplace = "newegg"
	MarketplaceOther  Marketplace = "other"
)

// ListingStatus tracks listing visibility.
type ListingStatus string

const (
	StatusActive   ListingStatus = "active"
	StatusInactive ListingStatus = "inactive"
	StatusArchived ListingStatus = "archived"
)

// Quality marks whether a listing carries enough data for metrics.
type Quality string

const (
	QualityFull    Quality = "full"
	QualityPartial Quality = "partial"
)

// FieldStatus records how a listing field was populated.
type FieldStatus string

const (
	FieldExtracted        FieldStatus = "extracted"
	FieldManual           FieldStatus = "manual"
	FieldExtractionFailed FieldStatus = "extraction_failed"
)

// SupplementalURL is a labeled secondary URL attached to a listing.
type SupplementalURL struct {
	URL   string `json:"url"`
	Label string `json:"label,omitempty"`
}

// Listing is the root aggregate: one marketplace offer for one machine,
// with resolved component references and persisted valuation output.
type Listing struct {
	ID         int64             `json:"id" db:"id"`
	Title      string            `json:"title" db:"title"`
	ListingURL string            `json:"listing_url" db:"listing_url"`
	OtherURLs  []SupplementalURL `json:"other_urls,omitempty" db:"-"`
	Seller     *string           `json:"seller,omitempty" db:"seller"`

	PriceUSD     *decimal.Decimal `json:"price_usd,omitempty" db:"price_usd"`
	Condition    ItemCondition    `json:"condition" db:"condition"`
	Status       ListingStatus    `json:"status" db:"status"`
	Marketplace  Marketplace      `json:"marketplace" db:"marketplace"`
	VendorItemID *string          `json:"vendor_item_id,omitempty" db:"vendor_item_id"`
	DedupHash    *string          `json:"dedup_hash,omitempty" db:"dedup_hash"`

	// Component references. Nil means unresolved/unknown.
	CPUID                     *int64 `json:"cpu_id,omitempty" db:"cpu_id"`
	GPUID                     *int64 `json:"gpu_id,omitempty" db:"gpu_id"`
	RamSpecID                 *int64 `json:"ram_spec_id,omitempty" db:"ram_spec_id"`
	PrimaryStorageProfileID   *int64 `json:"primary_storage_profile_id,omitempty" db:"primary_storage_profile_id"`
	SecondaryStorageProfileID *int64 `json:"secondary_storage_profile_id,omitempty" db:"secondary_storage_profile_id"`
	PortsProfileID            *int64 `json:"ports_profile_id,omitempty" db:"ports_profile_id"`

	// Denormalized component capacities for fast filtering.
	RamGB                int     `json:"ram_gb" db:"ram_gb"`
	PrimaryStorageGB     int     `json:"primary_storage_gb" db:"primary_storage_gb"`
	PrimaryStorageType   *string `json:"primary_storage_type,omitempty" db:"primary_storage_type"`
	SecondaryStorageGB   int     `json:"secondary_storage_gb" db:"secondary_storage_gb"`
	SecondaryStorageType *string `json:"secondary_storage_type,omitempty" db:"secondary_storage_type"`

	Manufacturer *string `json:"manufacturer,omitempty" db:"manufacturer"`
	Series       *string `json:"series,omitempty" db:"series"`
	ModelNumber  *string `json:"model_number,omitempty" db:"model_number"`
	Notes        *string `json:"notes,omitempty" db:"notes"`

	Attributes     map[string]any  `json:"attributes,omitempty" db:"-"`
	RawListingJSON json.RawMessage `json:"raw_listing_json,omitempty" db:"-"`

	// Valuation output, persisted after each rule-engine pass.
	ActiveProfileID    *int64           `json:"active_profile_id,omitempty" db:"active_profile_id"`
	RulesetID          *int64           `json:"ruleset_id,omitempty" db:"ruleset_id"`
	AdjustedPriceUSD   *decimal.Decimal `json:"adjusted_price_usd,omitempty" db:"adjusted_price_usd"`
	ValuationBreakdown json.RawMessage  `json:"valuation_breakdown,omitempty" db:"-"`

	ScoreCPUMulti  *float64 `json:"score_cpu_multi,omitempty" db:"score_cpu_multi"`
	ScoreCPUSingle *float64 `json:"score_cpu_single,omitempty" db:"score_cpu_single"`
	ScoreGPU       *float64 `json:"score_gpu,omitempty" db:"score_gpu"`
	ScoreComposite *float64 `json:"score_composite,omitempty" db:"score_composite"`

	DollarPerCPUMark               *float64 `json:"dollar_per_cpu_mark,omitempty" db:"dollar_per_cpu_mark"`
	DollarPerSingleMark            *float64 `json:"dollar_per_single_mark,omitempty" db:"dollar_per_single_mark"`
	DollarPerCPUMarkSingle         *float64 `json:"dollar_per_cpu_mark_single,omitempty" db:"dollar_per_cpu_mark_single"`
	DollarPerCPUMarkSingleAdjusted *float64 `json:"dollar_per_cpu_mark_single_adjusted,omitempty" db:"dollar_per_cpu_mark_single_adjusted"`
	DollarPerCPUMarkMulti          *float64 `json:"dollar_per_cpu_mark_multi,omitempty" db:"dollar_per_cpu_mark_multi"`
	DollarPerCPUMarkMultiAdjusted  *float64 `json:"dollar_per_cpu_mark_multi_adjusted,omitempty" db:"dollar_per_cpu_mark_multi_adjusted"`
	PerfPerWatt                    *float64 `json:"perf_per_watt,omitempty" db:"perf_per_watt"`

	// Partial-import lifecycle. ExtractionMetadata and MissingFields are
	// always written together; they are the source of truth for completion.
	Quality            Quality                `json:"quality" db:"quality"`
	ExtractionMetadata map[string]FieldStatus `json:"extraction_metadata,omitempty" db:"-"`
	MissingFields      []string               `json:"missing_fields,omitempty" db:"-"`

	LastSeenAt *time.Time `json:"last_seen_at,omitempty" db:"last_seen_at"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at" db:"updated_at"`
}

// HasPrice reports whether the listing carries a usable price.
func (l *Listing) HasPrice() bool {
	return l.PriceUSD != nil
}

// MetricFields returns the names of all persisted metric columns. Used when
// clearing metrics on listings that lose their price.
func MetricFields() []string {
	return []string{
		"adjusted_price_usd",
		"score_cpu_multi",
		"score_cpu_single",
		"score_gpu",
		"score_composite",
		"dollar_per_cpu_mark",
		"dollar_per_single_mark",
		"dollar_per_cpu_mark_single",
		"dollar_per_cpu_mark_single_adjusted",
		"dollar_per_cpu_mark_multi",
		"dollar_per_cpu_mark_multi_adjusted",
		"perf_per_watt",
	}
}

// CacheInvalidationFields are the listing fields whose change invalidates
// rendered card caches.
var CacheInvalidationFields = map[string]struct{}{
	"price_usd":              {},
	"adjusted_price_usd":     {},
	"cpu_id":                 {},
	"gpu_id":                 {},
	"ram_gb":                 {},
	"primary_storage_gb":     {},
	"primary_storage_type":   {},
	"secondary_storage_gb":   {},
	"secondary_storage_type": {},
	"title":                  {},
	"manufacturer":           {},
	"series":                 {},
	"score_composite":        {},
}

// RecalcTriggerFields are the listing fields whose change schedules an async
// valuation recalculation.
var RecalcTriggerFields = map[string]struct{}{
	"price_usd":            {},
	"cpu_id":               {},
	"gpu_id":               {},
	"ram_gb":               {},
	"ram_capacity_gb":      {},
	"primary_storage_gb":   {},
	"secondary_storage_gb": {},
	"ruleset_id":           {},
}

// AnyFieldIn reports whether any of the changed field names is in the set.
func AnyFieldIn(changed []string, set map[string]struct{}) bool {
	for _, f := range changed {
		if _, ok := set[f]; ok {
			return true
		}
	}
	return false
}
