// Package jsonld is the wildcard fallback extractor: it fetches a page and
// walks three tiers (Schema.org structured data, OpenGraph/Twitter meta
// tags, then raw HTML selectors), taking the first tier that yields a usable
// title. Pages with a title but no parseable price are accepted as partial
// extractions rather than failures.
package jsonld

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"

	"github.com/dealbrain/dealbrain/internal/domain"
	"github.com/dealbrain/dealbrain/internal/ingest/adapter"
)

const (
	adapterName = "jsonld"

	// maxBodyBytes bounds how much HTML we are willing to parse.
	maxBodyBytes = 5 << 20
)

// Config tunes the adapter.
type Config struct {
	UserAgent         string
	Timeout           time.Duration
	MaxRetries        int
	RequestsPerMinute int
	BackoffFactor     float64
	Priority          int
}

// Adapter is the generic page extractor.
type Adapter struct {
	cfg    Config
	client *http.Client
	log    zerolog.Logger
}

// New creates the adapter. The zero Priority defaults to 100 so dedicated
// marketplace adapters always outrank the wildcard.
func New(cfg Config, log zerolog.Logger) *Adapter {
	if cfg.UserAgent == "" {
		cfg.UserAgent = "DealBrainBot/1.0 (+https://dealbrain.example/bot)"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 8 * time.Second
	}
	if cfg.Priority == 0 {
		cfg.Priority = 100
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
		SupportedDomains:  []string{adapter.Wildcard},
		Priority:          a.cfg.Priority,
		Timeout:           a.cfg.Timeout,
		MaxRetries:        a.cfg.MaxRetries,
		RequestsPerMinute: a.cfg.RequestsPerMinute,
		BackoffFactor:     a.cfg.BackoffFactor,
	}
}

// Extract implements adapter.Adapter.
func (a *Adapter) Extract(ctx context.Context, rawURL string) (*domain.NormalizedListing, error) {
	html, err := a.fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, adapter.WrapError(adapter.KindParseError, adapterName, err, "parse html")
	}

	marketplace := marketplaceFromURL(rawURL)

	candidate, tier := a.extractTiers(doc)
	if candidate == nil {
		return nil, adapter.NewError(adapter.KindNoStructuredData, adapterName, "no tier produced a usable title for %s", rawURL).
			WithMeta("url", rawURL)
	}
	a.log.Debug().Str("tier", tier).Str("url", rawURL).Msg("extraction tier selected")

	n := candidate.toNormalized(marketplace, tier)
	enrichFromText(n)
	n.Finalize()
	if err := n.Validate(); err != nil {
		return nil, adapter.WrapError(adapter.KindParseError, adapterName, err, "extracted listing invalid")
	}
	return n, nil
}

// extractTiers runs the tiers in order and returns the first candidate with
// a usable title.
func (a *Adapter) extractTiers(doc *goquery.Document) (*candidate, string) {
	if c := extractStructured(doc); c != nil {
		return c, "structured"
	}
	if c := extractMeta(doc); c != nil {
		return c, "meta"
	}
	if c := extractSelectors(doc); c != nil {
		return c, "selectors"
	}
	return nil, ""
}

func (a *Adapter) fetch(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", adapter.WrapError(adapter.KindParseError, adapterName, err, "build request for %q", rawURL)
	}
	req.Header.Set("User-Agent", a.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := a.client.Do(req)
	if err != nil {
		return "", adapter.ClassifyTransportError(adapterName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		kind := adapter.KindFromStatus(resp.StatusCode)
		return "", adapter.NewError(kind, adapterName, "fetch returned %d", resp.StatusCode).
			WithMeta("status", resp.StatusCode).
			WithMeta("url", rawURL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", adapter.ClassifyTransportError(adapterName, err)
	}
	return string(body), nil
}

func marketplaceFromURL(rawURL string) domain.Marketplace {
	host, err := domain.NormalizedHost(rawURL)
	if err != nil {
		return domain.MarketplaceOther
	}
	switch {
	case strings.Contains(host, "amazon."):
		return domain.MarketplaceAmazon
	case strings.Contains(host, "ebay."):
		return domain.MarketplaceEbay
	case strings.Contains(host, "newegg."):
		return domain.MarketplaceNewegg
	default:
		return domain.MarketplaceOther
	}
}
