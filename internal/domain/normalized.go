package domain

import (
	"github.com/shopspring/decimal"

	"github.com/dealbrain/dealbrain/internal/apperr"
)

// NormalizedListing is the adapter output contract: a marketplace-agnostic
// snapshot of one offer, before dedup and persistence.
type NormalizedListing struct {
	Title        string           `json:"title"`
	Marketplace  Marketplace      `json:"marketplace"`
	Price        *decimal.Decimal `json:"price,omitempty"`
	Currency     string           `json:"currency,omitempty"`
	Condition    ItemCondition    `json:"condition,omitempty"`
	Images       []string         `json:"images,omitempty"`
	Seller       string           `json:"seller,omitempty"`
	VendorItemID string           `json:"vendor_item_id,omitempty"`
	Description  string           `json:"description,omitempty"`
	CPUModel     string           `json:"cpu_model,omitempty"`
	RamGB        int              `json:"ram_gb,omitempty"`
	StorageGB    int              `json:"storage_gb,omitempty"`
	Manufacturer string           `json:"manufacturer,omitempty"`
	ModelNumber  string           `json:"model_number,omitempty"`
	ListPrice    *decimal.Decimal `json:"list_price,omitempty"`

	Quality            Quality                `json:"quality,omitempty"`
	ExtractionMetadata map[string]FieldStatus `json:"extraction_metadata,omitempty"`
	MissingFields      []string               `json:"missing_fields,omitempty"`
	Provenance         string                 `json:"provenance,omitempty"`
	DedupHash          string                 `json:"dedup_hash,omitempty"`
}

// MarkExtracted records that a field was populated by extraction.
func (n *NormalizedListing) MarkExtracted(field string) {
	if n.ExtractionMetadata == nil {
		n.ExtractionMetadata = make(map[string]FieldStatus)
	}
	n.ExtractionMetadata[field] = FieldExtracted
}

// MarkFailed records an extraction failure and appends the field to the
// missing list exactly once.
func (n *NormalizedListing) MarkFailed(field string) {
	if n.ExtractionMetadata == nil {
		n.ExtractionMetadata = make(map[string]FieldStatus)
	}
	n.ExtractionMetadata[field] = FieldExtractionFailed
	for _, f := range n.MissingFields {
		if f == field {
			return
		}
	}
	n.MissingFields = append(n.MissingFields, field)
}

// Finalize fills derived defaults: currency, quality from price presence,
// and the price extraction marks. Adapters call this last.
func (n *NormalizedListing) Finalize() {
	if n.Currency == "" {
		n.Currency = "USD"
	}
	if n.Condition == "" {
		n.Condition = ConditionUsed
	}
	if n.Price == nil {
		n.Quality = QualityPartial
		n.MarkFailed("price")
	} else if n.Quality == "" {
		n.Quality = QualityFull
	}
}

// Validate enforces the adapter output contract.
func (n *NormalizedListing) Validate() error {
	if l := len(n.Title); l < 1 || l > 500 {
		return apperr.Validation("title must be 1-500 chars, got %d", l)
	}
	if n.Marketplace == "" {
		return apperr.Validation("marketplace is required")
	}
	if n.Price != nil && n.Price.IsNegative() {
		return apperr.Validation("price must be non-negative, got %s", n.Price)
	}
	if n.Quality == QualityFull && n.Price == nil {
		return apperr.Validation("full quality requires a price")
	}
	return nil
}
