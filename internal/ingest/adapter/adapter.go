package adapter

import (
	"context"
	"time"

	"github.com/dealbrain/dealbrain/internal/domain"
)

// Wildcard in a domain list matches any host.
const Wildcard = "*"

// Metadata is the static description of one adapter: identity, the domains
// it serves, and its rate/retry tuning.
type Metadata struct {
	Name              string
	SupportedDomains  []string
	Priority          int
	Timeout           time.Duration
	MaxRetries        int
	RequestsPerMinute int
	BackoffFactor     float64
}

// Matches reports whether the adapter serves the given normalized host.
func (m Metadata) Matches(host string) bool {
	normalized := domain.StripHostPrefixes(host)
	for _, d := range m.SupportedDomains {
		if d == Wildcard {
			return true
		}
		if domain.StripHostPrefixes(d) == normalized {
			return true
		}
	}
	return false
}

// Adapter turns a source URL into a NormalizedListing. Implementations stay
// pure extraction; rate limiting and retry are middleware concerns.
type Adapter interface {
	Metadata() Metadata
	Extract(ctx context.Context, url string) (*domain.NormalizedListing, error)
}
