package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// NormalizeText lowercases, strips punctuation, collapses internal
// whitespace, and trims. Used for every text component of the dedup hash.
func NormalizeText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	lastSpace := true
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r):
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		default:
			// punctuation dropped
		}
	}
	return strings.TrimSpace(b.String())
}

// NormalizePrice renders a price quantized to two decimal places. A nil
// price normalizes to the empty string, same as a missing seller.
func NormalizePrice(p *decimal.Decimal) string {
	if p == nil {
		return ""
	}
	return p.Round(2).StringFixed(2)
}

// ComputeDedupHash derives the canonical 64-hex SHA-256 content hash over
// the normalized identity tuple of a listing.
func ComputeDedupHash(title string, price *decimal.Decimal, seller string, marketplace Marketplace, condition ItemCondition) string {
	parts := []string{
		NormalizeText(title),
		NormalizePrice(price),
		NormalizeText(seller),
		NormalizeText(string(marketplace)),
		NormalizeText(string(condition)),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

func lowerTrim(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
