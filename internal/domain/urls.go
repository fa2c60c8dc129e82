package domain

import (
	"net/url"
	"strings"

	"github.com/dealbrain/dealbrain/internal/apperr"
)

// ValidateListingURL rejects URLs without an http(s) scheme or a host.
func ValidateListingURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return apperr.Validation("invalid url %q: %v", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return apperr.Validation("url %q: scheme must be http or https", raw)
	}
	if u.Host == "" {
		return apperr.Validation("url %q: missing host", raw)
	}
	return nil
}

// NormalizeOtherURLs validates every supplemental URL and collapses
// duplicates, keeping the first label seen for each URL.
func NormalizeOtherURLs(urls []SupplementalURL) ([]SupplementalURL, error) {
	if len(urls) == 0 {
		return nil, nil
	}
	seen := make(map[string]struct{}, len(urls))
	out := make([]SupplementalURL, 0, len(urls))
	for _, su := range urls {
		trimmed := strings.TrimSpace(su.URL)
		if trimmed == "" {
			continue
		}
		if err := ValidateListingURL(trimmed); err != nil {
			return nil, err
		}
		if _, dup := seen[trimmed]; dup {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, SupplementalURL{URL: trimmed, Label: strings.TrimSpace(su.Label)})
	}
	return out, nil
}

// NormalizedHost parses a URL and strips leading "www." and "m." prefixes.
// Router adapter matching uses the same normalization on both sides.
func NormalizedHost(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	return StripHostPrefixes(u.Hostname()), nil
}

// StripHostPrefixes removes leading "www." and "m." labels from a hostname.
func StripHostPrefixes(host string) string {
	h := strings.ToLower(host)
	h = strings.TrimPrefix(h, "www.")
	h = strings.TrimPrefix(h, "m.")
	return h
}
