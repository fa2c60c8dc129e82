package jsonld

import (
	"strings"
	"unicode/utf8"

	"github.com/dealbrain/dealbrain/internal/domain"
)

const (
	maxImages          = 5
	maxManufacturerLen = 64
)

// candidate is the raw output of one extraction tier before normalization.
type candidate struct {
	title       string
	priceText   string
	listPrice   string
	currency    string
	condition   string
	images      []string
	seller      string
	description string
	brand       string
	model       string
	specs       map[string]string
}

// usable reports whether the tier produced enough to accept: a non-generic,
// non-empty title.
func (c *candidate) usable() bool {
	return c != nil && !isGenericTitle(c.title)
}

// genericTitles are site chrome frequently served where a product name
// should be. Matching is exact on the lowercased trimmed title.
var genericTitles = map[string]struct{}{
	"":              {},
	"amazon.com":    {},
	"amazon":        {},
	"ebay":          {},
	"ebay.com":      {},
	"walmart":       {},
	"walmart.com":   {},
	"newegg":        {},
	"newegg.com":    {},
	"best buy":      {},
	"bestbuy.com":   {},
	"product":       {},
	"product page":  {},
	"home":          {},
	"robot check":   {},
	"access denied": {},
}

func isGenericTitle(title string) bool {
	_, generic := genericTitles[strings.ToLower(strings.TrimSpace(title))]
	return generic
}

// toNormalized converts the tier output into the adapter contract, tagging
// extraction provenance per field.
func (c *candidate) toNormalized(marketplace domain.Marketplace, tier string) *domain.NormalizedListing {
	n := &domain.NormalizedListing{
		Title:       strings.TrimSpace(c.title),
		Marketplace: marketplace,
		Provenance:  adapterName + ":" + tier,
	}
	n.MarkExtracted("title")

	if len(n.Title) > 500 {
		cut := n.Title[:500]
		for !utf8.ValidString(cut) {
			cut = cut[:len(cut)-1]
		}
		n.Title = strings.TrimSpace(cut)
	}

	if price := ParsePrice(c.priceText); price != nil {
		n.Price = price
		n.MarkExtracted("price")
	}
	if lp := ParsePrice(c.listPrice); lp != nil {
		n.ListPrice = lp
	}
	if c.currency != "" {
		n.Currency = strings.ToUpper(strings.TrimSpace(c.currency))
	}
	if c.condition != "" {
		n.Condition = domain.NormalizeCondition(c.condition)
	}
	if c.seller != "" {
		n.Seller = strings.TrimSpace(c.seller)
		n.MarkExtracted("seller")
	}
	if c.description != "" {
		n.Description = strings.TrimSpace(c.description)
	}
	if c.model != "" {
		n.ModelNumber = strings.TrimSpace(c.model)
	}

	n.Images = dedupeImages(c.images, maxImages)
	if len(n.Images) > 0 {
		n.MarkExtracted("images")
	}

	if brand := normalizeBrand(c.brand, n.Title); brand != "" {
		n.Manufacturer = brand
		n.MarkExtracted("manufacturer")
	}

	applySpecsTable(n, c.specs)
	return n
}

// normalizeBrand prefers the explicit brand, falling back to the first title
// token of at least two characters. Results are capped at 64 chars.
func normalizeBrand(brand, title string) string {
	b := strings.TrimSpace(brand)
	if b == "" {
		fields := strings.Fields(title)
		if len(fields) > 0 && len(fields[0]) >= 2 {
			b = fields[0]
		}
	}
	if len(b) > maxManufacturerLen {
		b = b[:maxManufacturerLen]
	}
	return b
}

func dedupeImages(images []string, limit int) []string {
	var out []string
	seen := make(map[string]struct{}, len(images))
	for _, img := range images {
		img = strings.TrimSpace(img)
		if img == "" || isPlaceholderImage(img) {
			continue
		}
		if _, dup := seen[img]; dup {
			continue
		}
		seen[img] = struct{}{}
		out = append(out, img)
		if len(out) == limit {
			break
		}
	}
	return out
}

func isPlaceholderImage(src string) bool {
	s := strings.ToLower(src)
	if strings.HasPrefix(s, "data:") {
		return true
	}
	for _, marker := range []string{"1x1", "pixel", "spacer", "transparent", "blank."} {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}

// specsKeyAllowlist filters product-detail table rows down to component
// specs we can act on.
var specsKeyAllowlist = []string{"cpu", "processor", "ram", "memory", "storage", "gpu", "graphics"}

func specsKeyRelevant(key string) bool {
	for _, allowed := range specsKeyAllowlist {
		if strings.Contains(key, allowed) {
			return true
		}
	}
	return false
}

// applySpecsTable fills component fields from a product detail table,
// leaving already-populated values alone.
func applySpecsTable(n *domain.NormalizedListing, specs map[string]string) {
	for key, value := range specs {
		switch {
		case strings.Contains(key, "cpu") || strings.Contains(key, "processor"):
			if n.CPUModel == "" {
				n.CPUModel = value
				n.MarkExtracted("cpu_model")
			}
		case strings.Contains(key, "ram") || strings.Contains(key, "memory"):
			if n.RamGB == 0 {
				if gb, ok := domain.ParseRamGB(value); ok {
					n.RamGB = gb
					n.MarkExtracted("ram_gb")
				}
			}
		case strings.Contains(key, "storage"):
			if n.StorageGB == 0 {
				if gb, ok := domain.ParseStorageGB(value); ok {
					n.StorageGB = gb
					n.MarkExtracted("storage_gb")
				}
			}
		}
	}
}
