package adapter

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/dealbrain/dealbrain/internal/domain"
)

// EnablementFunc answers whether a named adapter is enabled in config.
// Absent names default to enabled.
type EnablementFunc func(name string) bool

// Router selects the adapter for a URL: candidates matched by host, ordered
// by (priority, registration order), filtered by enablement.
type Router struct {
	mu       sync.RWMutex
	adapters []Adapter
	enabled  EnablementFunc
	log      zerolog.Logger
}

// NewRouter creates a router. A nil enabled func treats every adapter as
// enabled.
func NewRouter(enabled EnablementFunc, log zerolog.Logger) *Router {
	if enabled == nil {
		enabled = func(string) bool { return true }
	}
	return &Router{enabled: enabled, log: log.With().Str("component", "adapter_router").Logger()}
}

// Register appends an adapter. Registration order breaks priority ties.
func (r *Router) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters = append(r.adapters, a)
	meta := a.Metadata()
	r.log.Debug().
		Str("adapter", meta.Name).
		Strs("domains", meta.SupportedDomains).
		Int("priority", meta.Priority).
		Msg("adapter registered")
}

// Adapters returns the registered adapters in registration order.
func (r *Router) Adapters() []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Adapter, len(r.adapters))
	copy(out, r.adapters)
	return out
}

// Get returns the registered adapter with the given name. Disabled adapters
// are reported as ADAPTER_DISABLED so callers forcing a specific adapter see
// why it cannot serve.
func (r *Router) Get(name string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.adapters {
		if a.Metadata().Name != name {
			continue
		}
		if !r.enabled(name) {
			return nil, NewError(KindAdapterDisabled, name, "adapter %q is disabled in config", name)
		}
		return a, nil
	}
	return nil, NewError(KindNoAdapterFound, "", "no adapter named %q", name)
}

// Select picks the adapter for a URL. Matching strips "www." and "m." from
// the host on both sides; wildcard domains match everything. Candidates are
// sorted by priority ascending, stable by registration order, and the first
// enabled one wins.
func (r *Router) Select(url string) (Adapter, error) {
	host, err := domain.NormalizedHost(url)
	if err != nil || host == "" {
		return nil, NewError(KindNoAdapterFound, "", "cannot parse host from %q", url)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var matches []Adapter
	for _, a := range r.adapters {
		if a.Metadata().Matches(host) {
			matches = append(matches, a)
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Metadata().Priority < matches[j].Metadata().Priority
	})

	for _, a := range matches {
		name := a.Metadata().Name
		if !r.enabled(name) {
			r.log.Debug().Str("adapter", name).Str("host", host).Msg("skipping disabled adapter")
			continue
		}
		return a, nil
	}
	return nil, NewError(KindNoAdapterFound, "", "no enabled adapter for host %q", host).
		WithMeta("host", host).
		WithMeta("candidates", len(matches))
}
