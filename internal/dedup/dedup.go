// Package dedup resolves incoming normalized listings against stored ones,
// preferring marketplace vendor item IDs over content hashes.
package dedup

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/dealbrain/dealbrain/internal/domain"
)

// Lookup is the slice of listing storage the checker needs. Point lookups
// return (nil, nil) on miss.
type Lookup interface {
	FindByVendorItem(ctx context.Context, marketplace domain.Marketplace, vendorItemID string) (*domain.Listing, error)
	FindByDedupHash(ctx context.Context, hash string) (*domain.Listing, error)
}

// Match is the outcome of a duplicate check. DedupHash is always set so the
// caller can stamp it on the stored row regardless of match outcome.
type Match struct {
	Exists     bool
	Exact      bool
	Confidence float64
	DedupHash  string
	Existing   *domain.Listing
}

// Checker runs vendor-ID-first duplicate resolution.
type Checker struct {
	store Lookup
	log   zerolog.Logger
}

func NewChecker(store Lookup, log zerolog.Logger) *Checker {
	return &Checker{store: store, log: log.With().Str("component", "dedup").Logger()}
}

// Check looks the listing up by (marketplace, vendor_item_id) first and falls
// back to the content hash. A vendor-ID hit wins even when the hashes differ.
func (c *Checker) Check(ctx context.Context, n *domain.NormalizedListing) (Match, error) {
	hash := Hash(n)
	n.DedupHash = hash

	if n.VendorItemID != "" && n.Marketplace != "" {
		existing, err := c.store.FindByVendorItem(ctx, n.Marketplace, n.VendorItemID)
		if err != nil {
			return Match{DedupHash: hash}, err
		}
		if existing != nil {
			c.log.Debug().
				Int64("listing_id", existing.ID).
				Str("vendor_item_id", n.VendorItemID).
				Str("marketplace", string(n.Marketplace)).
				Msg("vendor item match")
			return Match{Exists: true, Exact: true, Confidence: 1.0, DedupHash: hash, Existing: existing}, nil
		}
	}

	existing, err := c.store.FindByDedupHash(ctx, hash)
	if err != nil {
		return Match{DedupHash: hash}, err
	}
	if existing != nil {
		c.log.Debug().
			Int64("listing_id", existing.ID).
			Str("dedup_hash", hash).
			Msg("content hash match")
		return Match{Exists: true, Exact: false, Confidence: 0.95, DedupHash: hash, Existing: existing}, nil
	}

	return Match{Confidence: 0.0, DedupHash: hash}, nil
}

// Hash computes the content hash for a normalized listing.
func Hash(n *domain.NormalizedListing) string {
	return domain.ComputeDedupHash(n.Title, n.Price, n.Seller, n.Marketplace, n.Condition)
}

// PriceChanged reports whether moving from oldPrice to newPrice crosses the
// configured percentage threshold. A nil new price is never a change; a nil
// old price with a non-nil new one always is. thresholdPct <= 0 means any
// change counts.
func PriceChanged(oldPrice, newPrice *decimal.Decimal, thresholdPct float64) bool {
	if newPrice == nil {
		return false
	}
	if oldPrice == nil {
		return true
	}
	if oldPrice.Equal(*newPrice) {
		return false
	}
	if thresholdPct <= 0 || oldPrice.IsZero() {
		return true
	}
	pct := newPrice.Sub(*oldPrice).Abs().Div(oldPrice.Abs()).Mul(decimal.NewFromInt(100))
	return pct.GreaterThanOrEqual(decimal.NewFromFloat(thresholdPct))
}
