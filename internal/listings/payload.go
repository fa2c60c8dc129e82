package listings

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/dealbrain/dealbrain/internal/apperr"
	"github.com/dealbrain/dealbrain/internal/domain"
)

// Payload is one create or update request for a listing. Pointer fields
// distinguish "not provided" from a zero value; ClearPrice and ClearRuleset
// express the explicit-null cases a pointer cannot.
type Payload struct {
	Title      *string                  `json:"title,omitempty"`
	URL        *string                  `json:"url,omitempty"` // legacy key, folded into listing_url
	ListingURL *string                  `json:"listing_url,omitempty"`
	OtherURLs  []domain.SupplementalURL `json:"other_urls,omitempty"`
	Seller     *string                  `json:"seller,omitempty"`

	PriceUSD   *decimal.Decimal `json:"price_usd,omitempty"`
	ClearPrice bool             `json:"clear_price,omitempty"`

	Condition    *domain.ItemCondition `json:"condition,omitempty"`
	Status       *domain.ListingStatus `json:"status,omitempty"`
	Marketplace  *domain.Marketplace   `json:"marketplace,omitempty"`
	VendorItemID *string               `json:"vendor_item_id,omitempty"`

	CPUID    *int64  `json:"cpu_id,omitempty"`
	CPUModel *string `json:"cpu_model,omitempty"`
	GPUID    *int64  `json:"gpu_id,omitempty"`

	RamSpecID   *int64  `json:"ram_spec_id,omitempty"`
	RamGB       *int    `json:"ram_gb,omitempty"`
	RamType     *string `json:"ram_type,omitempty"`
	RamSpeedMHz *int    `json:"ram_speed_mhz,omitempty"`
	RamModules  *int    `json:"ram_modules,omitempty"`

	PrimaryStorageProfileID   *int64  `json:"primary_storage_profile_id,omitempty"`
	PrimaryStorageGB          *int    `json:"primary_storage_gb,omitempty"`
	PrimaryStorageType        *string `json:"primary_storage_type,omitempty"`
	SecondaryStorageProfileID *int64  `json:"secondary_storage_profile_id,omitempty"`
	SecondaryStorageGB        *int    `json:"secondary_storage_gb,omitempty"`
	SecondaryStorageType      *string `json:"secondary_storage_type,omitempty"`

	PortsProfileID *int64 `json:"ports_profile_id,omitempty"`

	Manufacturer *string `json:"manufacturer,omitempty"`
	Series       *string `json:"series,omitempty"`
	ModelNumber  *string `json:"model_number,omitempty"`
	Notes        *string `json:"notes,omitempty"`

	RulesetID    *int64 `json:"ruleset_id,omitempty"`
	ClearRuleset bool   `json:"clear_ruleset,omitempty"`

	Attributes map[string]any `json:"attributes,omitempty"`
}

// normalize folds the legacy url key into listing_url, validates every URL,
// collapses supplemental duplicates, and rejects contradictory price fields.
func (p *Payload) normalize() error {
	if p.ListingURL == nil && p.URL != nil {
		p.ListingURL = p.URL
		p.URL = nil
	}
	if p.ListingURL != nil {
		trimmed := strings.TrimSpace(*p.ListingURL)
		if err := domain.ValidateListingURL(trimmed); err != nil {
			return err
		}
		p.ListingURL = &trimmed
	}
	urls, err := domain.NormalizeOtherURLs(p.OtherURLs)
	if err != nil {
		return err
	}
	p.OtherURLs = urls

	if p.PriceUSD != nil && p.ClearPrice {
		return apperr.Validation("price_usd and clear_price are mutually exclusive")
	}
	if p.PriceUSD != nil && p.PriceUSD.IsNegative() {
		return apperr.Validation("price_usd must be non-negative, got %s", p.PriceUSD)
	}
	if p.RulesetID != nil && p.ClearRuleset {
		return apperr.Validation("ruleset_id and clear_ruleset are mutually exclusive")
	}
	return nil
}

// apply copies every provided field onto the listing. Component model/tuple
// fields are not applied here; they go through resolveComponents so the
// catalog stays canonical.
func (p *Payload) apply(l *domain.Listing) {
	if p.Title != nil {
		l.Title = strings.TrimSpace(*p.Title)
	}
	if p.ListingURL != nil {
		l.ListingURL = *p.ListingURL
	}
	if len(p.OtherURLs) > 0 {
		l.OtherURLs = p.OtherURLs
	}
	if p.Seller != nil {
		l.Seller = strPtrOrNil(*p.Seller)
	}
	if p.PriceUSD != nil {
		pr := *p.PriceUSD
		l.PriceUSD = &pr
	}
	if p.ClearPrice {
		l.PriceUSD = nil
	}
	if p.Condition != nil {
		l.Condition = *p.Condition
	}
	if p.Status != nil {
		l.Status = *p.Status
	}
	if p.Marketplace != nil {
		l.Marketplace = *p.Marketplace
	}
	if p.VendorItemID != nil {
		l.VendorItemID = strPtrOrNil(*p.VendorItemID)
	}
	if p.CPUID != nil {
		id := *p.CPUID
		l.CPUID = &id
	}
	if p.GPUID != nil {
		id := *p.GPUID
		l.GPUID = &id
	}
	if p.RamSpecID != nil {
		id := *p.RamSpecID
		l.RamSpecID = &id
	}
	if p.PrimaryStorageProfileID != nil {
		id := *p.PrimaryStorageProfileID
		l.PrimaryStorageProfileID = &id
	}
	if p.SecondaryStorageProfileID != nil {
		id := *p.SecondaryStorageProfileID
		l.SecondaryStorageProfileID = &id
	}
	if p.PortsProfileID != nil {
		id := *p.PortsProfileID
		l.PortsProfileID = &id
	}
	if p.Manufacturer != nil {
		l.Manufacturer = strPtrOrNil(*p.Manufacturer)
	}
	if p.Series != nil {
		l.Series = strPtrOrNil(*p.Series)
	}
	if p.ModelNumber != nil {
		l.ModelNumber = strPtrOrNil(*p.ModelNumber)
	}
	if p.Notes != nil {
		l.Notes = strPtrOrNil(*p.Notes)
	}
	if p.RulesetID != nil {
		id := *p.RulesetID
		l.RulesetID = &id
	}
	if p.ClearRuleset {
		l.RulesetID = nil
	}
	if len(p.Attributes) > 0 {
		if l.Attributes == nil {
			l.Attributes = make(map[string]any, len(p.Attributes))
		}
		for k, v := range p.Attributes {
			l.Attributes[k] = v
		}
	}
}

// hints extracts the component-resolution inputs. Explicit component IDs win
// over model/tuple fields, so a hint is only produced when the matching ID is
// absent from the payload.
func (p *Payload) hints() componentHints {
	var h componentHints
	if p.CPUID == nil && p.CPUModel != nil {
		h.CPUModel = strings.TrimSpace(*p.CPUModel)
	}
	if p.RamSpecID == nil {
		if p.RamGB != nil {
			h.RamGB = *p.RamGB
		}
		if p.RamType != nil {
			h.RamType = *p.RamType
		}
		if p.RamSpeedMHz != nil {
			h.RamSpeedMHz = *p.RamSpeedMHz
		}
		if p.RamModules != nil {
			h.RamModules = *p.RamModules
		}
	}
	if p.PrimaryStorageProfileID == nil {
		if p.PrimaryStorageGB != nil {
			h.PrimaryStorageGB = *p.PrimaryStorageGB
		}
		if p.PrimaryStorageType != nil {
			h.PrimaryStorageType = *p.PrimaryStorageType
		}
	}
	if p.SecondaryStorageProfileID == nil {
		if p.SecondaryStorageGB != nil {
			h.SecondaryStorageGB = *p.SecondaryStorageGB
		}
		if p.SecondaryStorageType != nil {
			h.SecondaryStorageType = *p.SecondaryStorageType
		}
	}
	return h
}

func strPtrOrNil(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
