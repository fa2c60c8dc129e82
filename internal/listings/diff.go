package listings

import (
	"maps"
	"reflect"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/dealbrain/dealbrain/internal/domain"
)

// diffChecks is ordered by column layout so event payloads are deterministic.
var diffChecks = []struct {
	name    string
	differs func(a, b *domain.Listing) bool
}{
	{"title", func(a, b *domain.Listing) bool { return a.Title != b.Title }},
	{"listing_url", func(a, b *domain.Listing) bool { return a.ListingURL != b.ListingURL }},
	{"other_urls", func(a, b *domain.Listing) bool { return !slices.Equal(a.OtherURLs, b.OtherURLs) }},
	{"seller", func(a, b *domain.Listing) bool { return !strPtrEq(a.Seller, b.Seller) }},
	{"price_usd", func(a, b *domain.Listing) bool { return !decPtrEq(a.PriceUSD, b.PriceUSD) }},
	{"condition", func(a, b *domain.Listing) bool { return a.Condition != b.Condition }},
	{"status", func(a, b *domain.Listing) bool { return a.Status != b.Status }},
	{"marketplace", func(a, b *domain.Listing) bool { return a.Marketplace != b.Marketplace }},
	{"vendor_item_id", func(a, b *domain.Listing) bool { return !strPtrEq(a.VendorItemID, b.VendorItemID) }},
	{"dedup_hash", func(a, b *domain.Listing) bool { return !strPtrEq(a.DedupHash, b.DedupHash) }},
	{"cpu_id", func(a, b *domain.Listing) bool { return !int64PtrEq(a.CPUID, b.CPUID) }},
	{"gpu_id", func(a, b *domain.Listing) bool { return !int64PtrEq(a.GPUID, b.GPUID) }},
	{"ram_spec_id", func(a, b *domain.Listing) bool { return !int64PtrEq(a.RamSpecID, b.RamSpecID) }},
	{"ram_gb", func(a, b *domain.Listing) bool { return a.RamGB != b.RamGB }},
	{"primary_storage_profile_id", func(a, b *domain.Listing) bool {
		return !int64PtrEq(a.PrimaryStorageProfileID, b.PrimaryStorageProfileID)
	}},
	{"primary_storage_gb", func(a, b *domain.Listing) bool { return a.PrimaryStorageGB != b.PrimaryStorageGB }},
	{"primary_storage_type", func(a, b *domain.Listing) bool {
		return !strPtrEq(a.PrimaryStorageType, b.PrimaryStorageType)
	}},
	{"secondary_storage_profile_id", func(a, b *domain.Listing) bool {
		return !int64PtrEq(a.SecondaryStorageProfileID, b.SecondaryStorageProfileID)
	}},
	{"secondary_storage_gb", func(a, b *domain.Listing) bool { return a.SecondaryStorageGB != b.SecondaryStorageGB }},
	{"secondary_storage_type", func(a, b *domain.Listing) bool {
		return !strPtrEq(a.SecondaryStorageType, b.SecondaryStorageType)
	}},
	{"ports_profile_id", func(a, b *domain.Listing) bool { return !int64PtrEq(a.PortsProfileID, b.PortsProfileID) }},
	{"manufacturer", func(a, b *domain.Listing) bool { return !strPtrEq(a.Manufacturer, b.Manufacturer) }},
	{"series", func(a, b *domain.Listing) bool { return !strPtrEq(a.Series, b.Series) }},
	{"model_number", func(a, b *domain.Listing) bool { return !strPtrEq(a.ModelNumber, b.ModelNumber) }},
	{"notes", func(a, b *domain.Listing) bool { return !strPtrEq(a.Notes, b.Notes) }},
	{"attributes", func(a, b *domain.Listing) bool { return !reflect.DeepEqual(a.Attributes, b.Attributes) }},
	{"ruleset_id", func(a, b *domain.Listing) bool { return !int64PtrEq(a.RulesetID, b.RulesetID) }},
	{"adjusted_price_usd", func(a, b *domain.Listing) bool { return !decPtrEq(a.AdjustedPriceUSD, b.AdjustedPriceUSD) }},
	{"score_composite", func(a, b *domain.Listing) bool { return !floatPtrEq(a.ScoreComposite, b.ScoreComposite) }},
	{"quality", func(a, b *domain.Listing) bool { return a.Quality != b.Quality }},
	{"extraction_metadata", func(a, b *domain.Listing) bool {
		return !maps.Equal(a.ExtractionMetadata, b.ExtractionMetadata)
	}},
	{"missing_fields", func(a, b *domain.Listing) bool { return !slices.Equal(a.MissingFields, b.MissingFields) }},
}

// Diff returns the column names whose values differ between two listing
// states. last_seen_at and the raw source payload are deliberately excluded:
// re-observing an unchanged listing is not an update.
func Diff(before, after *domain.Listing) []string {
	var changed []string
	for _, c := range diffChecks {
		if c.differs(before, after) {
			changed = append(changed, c.name)
		}
	}
	return changed
}

func strPtrEq(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func int64PtrEq(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func floatPtrEq(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func decPtrEq(a, b *decimal.Decimal) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
