// Package ebay extracts listings through the eBay Browse API. It never
// scrapes HTML; URLs are reduced to an item ID and the API response is mapped
// onto a NormalizedListing.
package ebay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/dealbrain/dealbrain/internal/domain"
	"github.com/dealbrain/dealbrain/internal/ingest/adapter"
)

const (
	adapterName   = "ebay"
	marketplaceID = "EBAY_US"
)

// itemIDPattern accepts canonical and seo-slugged item URLs, with or without
// query/fragment suffixes.
var itemIDPattern = regexp.MustCompile(`/itm/(?:[^/]+/)?(\d{10,13})(?:\?|$|#)`)

// Config tunes the adapter.
type Config struct {
	APIKey            string
	APIBase           string
	Timeout           time.Duration
	MaxRetries        int
	RequestsPerMinute int
	BackoffFactor     float64
	Priority          int
}

// Adapter is the eBay Browse API extractor.
type Adapter struct {
	cfg    Config
	client *http.Client
	log    zerolog.Logger
}

// New creates the adapter. The zero Priority defaults to 10 so marketplace
// adapters outrank the wildcard fallback.
func New(cfg Config, log zerolog.Logger) *Adapter {
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api.ebay.com"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 8 * time.Second
	}
	if cfg.Priority == 0 {
		cfg.Priority = 10
	}
	return &Adapter{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    log.With().Str("adapter", adapterName).Logger(),
	}
}

// Metadata implements adapter.Adapter.
func (a *Adapter) Metadata() adapter.Metadata {
	return adapter.Metadata{
		Name:              adapterName,
		SupportedDomains:  []string{"ebay.com", "ebay.co.uk", "ebay.de", "ebay.ca", "ebay.com.au"},
		Priority:          a.cfg.Priority,
		Timeout:           a.cfg.Timeout,
		MaxRetries:        a.cfg.MaxRetries,
		RequestsPerMinute: a.cfg.RequestsPerMinute,
		BackoffFactor:     a.cfg.BackoffFactor,
	}
}

// ParseItemID extracts the numeric item ID from a listing URL.
func ParseItemID(rawURL string) (string, error) {
	m := itemIDPattern.FindStringSubmatch(rawURL)
	if m == nil {
		return "", adapter.NewError(adapter.KindParseError, adapterName, "no item id in url %q", rawURL)
	}
	return m[1], nil
}

type itemResponse struct {
	ItemID string `json:"itemId"`
	Title  string `json:"title"`
	Price  struct {
		Value    string `json:"value"`
		Currency string `json:"currency"`
	} `json:"price"`
	Condition string `json:"condition"`
	Image     struct {
		ImageURL string `json:"imageUrl"`
	} `json:"image"`
	AdditionalImages []struct {
		ImageURL string `json:"imageUrl"`
	} `json:"additionalImages"`
	Seller struct {
		Username string `json:"username"`
	} `json:"seller"`
	LocalizedAspects []aspect `json:"localizedAspects"`
	ItemSpecifics    []aspect `json:"itemSpecifics"`
	ItemWebURL       string   `json:"itemWebUrl"`
}

type aspect struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Extract implements adapter.Adapter.
func (a *Adapter) Extract(ctx context.Context, rawURL string) (*domain.NormalizedListing, error) {
	itemID, err := ParseItemID(rawURL)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/buy/browse/v1/item/%s",
		strings.TrimRight(a.cfg.APIBase, "/"),
		url.PathEscape("v1|"+itemID+"|0"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, adapter.WrapError(adapter.KindParseError, adapterName, err, "build request")
	}
	req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	req.Header.Set("X-EBAY-C-MARKETPLACE-ID", marketplaceID)
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, adapter.ClassifyTransportError(adapterName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		kind := adapter.KindFromStatus(resp.StatusCode)
		return nil, adapter.NewError(kind, adapterName, "browse api returned %d for item %s", resp.StatusCode, itemID).
			WithMeta("status", resp.StatusCode).
			WithMeta("item_id", itemID)
	}

	var item itemResponse
	if err := json.NewDecoder(resp.Body).Decode(&item); err != nil {
		return nil, adapter.WrapError(adapter.KindInvalidSchema, adapterName, err, "decode browse api response")
	}
	return a.mapItem(&item, itemID)
}

func (a *Adapter) mapItem(item *itemResponse, urlItemID string) (*domain.NormalizedListing, error) {
	if strings.TrimSpace(item.Title) == "" {
		return nil, adapter.NewError(adapter.KindInvalidSchema, adapterName, "response missing title").
			WithMeta("item_id", urlItemID)
	}
	if strings.TrimSpace(item.Price.Value) == "" {
		return nil, adapter.NewError(adapter.KindInvalidSchema, adapterName, "response missing price").
			WithMeta("item_id", urlItemID)
	}
	price, err := decimal.NewFromString(strings.TrimSpace(item.Price.Value))
	if err != nil {
		return nil, adapter.WrapError(adapter.KindInvalidSchema, adapterName, err, "unparseable price %q", item.Price.Value)
	}
	price = price.Round(2)

	n := &domain.NormalizedListing{
		Title:       strings.TrimSpace(item.Title),
		Marketplace: domain.MarketplaceEbay,
		Price:       &price,
		Currency:    item.Price.Currency,
		Condition:   domain.NormalizeCondition(item.Condition),
		Seller:      item.Seller.Username,
		Provenance:  adapterName,
	}
	n.MarkExtracted("title")
	n.MarkExtracted("price")

	n.VendorItemID = stripItemID(item.ItemID)
	if n.VendorItemID == "" {
		n.VendorItemID = urlItemID
	}

	if item.Image.ImageURL != "" {
		n.Images = append(n.Images, item.Image.ImageURL)
	}
	for _, extra := range item.AdditionalImages {
		if extra.ImageURL != "" {
			n.Images = append(n.Images, extra.ImageURL)
		}
	}

	aspects := item.LocalizedAspects
	if len(aspects) == 0 {
		aspects = item.ItemSpecifics
	}
	applyAspects(n, aspects)

	n.Finalize()
	if err := n.Validate(); err != nil {
		return nil, adapter.WrapError(adapter.KindInvalidSchema, adapterName, err, "mapped listing invalid")
	}
	return n, nil
}

// stripItemID reduces a Browse API id like "v1|123456789012|0" to its
// numeric middle.
func stripItemID(id string) string {
	id = strings.TrimPrefix(id, "v1|")
	if i := strings.IndexByte(id, '|'); i >= 0 {
		id = id[:i]
	}
	return id
}

var (
	cpuAspectKeys     = []string{"processor type", "processor", "cpu"}
	ramAspectKeys     = []string{"ram size", "ram", "memory"}
	storageAspectKeys = []string{"ssd", "storage", "hard drive", "hdd", "capacity"}
)

// applyAspects mines CPU/RAM/storage hints out of the seller-provided aspect
// rows. CPU keys are checked before RAM before storage so "Memory Capacity"
// lands on RAM, not storage.
func applyAspects(n *domain.NormalizedListing, aspects []aspect) {
	for _, asp := range aspects {
		name := strings.ToLower(strings.TrimSpace(asp.Name))
		value := strings.TrimSpace(asp.Value)
		if name == "" || value == "" {
			continue
		}
		switch {
		case matchesAny(name, cpuAspectKeys):
			if n.CPUModel == "" {
				n.CPUModel = value
				n.MarkExtracted("cpu_model")
			}
		case matchesAny(name, ramAspectKeys):
			if n.RamGB == 0 {
				if gb, ok := domain.ParseRamGB(value); ok {
					n.RamGB = gb
					n.MarkExtracted("ram_gb")
				}
			}
		case matchesAny(name, storageAspectKeys):
			if n.StorageGB == 0 {
				if gb, ok := domain.ParseStorageGB(value); ok {
					n.StorageGB = gb
					n.MarkExtracted("storage_gb")
				}
			}
		}
	}
}

func matchesAny(name string, keys []string) bool {
	for _, k := range keys {
		if strings.Contains(name, k) {
			return true
		}
	}
	return false
}
