package jsonld

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	leadingCurrencyCode = regexp.MustCompile(`(?i)^[a-z]{3}[\s:]+`)
	amountPattern       = regexp.MustCompile(`\d+\.?\d*`)
	currencySymbols     = strings.NewReplacer("$", "", "£", "", "€", "", "¥", "", ",", "")
)

// ParsePrice extracts a two-decimal price from free-form text: a leading
// 3-letter currency code, currency symbols, and thousand separators are
// stripped, then the first number wins. Returns nil when no positive amount
// can be read.
func ParsePrice(text string) *decimal.Decimal {
	s := strings.TrimSpace(text)
	if s == "" {
		return nil
	}
	s = leadingCurrencyCode.ReplaceAllString(s, "")
	s = currencySymbols.Replace(s)

	m := amountPattern.FindString(s)
	if m == "" {
		return nil
	}
	d, err := decimal.NewFromString(m)
	if err != nil || d.IsZero() {
		return nil
	}
	d = d.Round(2)
	return &d
}

// trimFloat renders a JSON number without exponent or trailing zeros.
func trimFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
