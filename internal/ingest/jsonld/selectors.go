package jsonld

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// titleSelectors are tried in order; the first non-empty text wins.
var titleSelectors = []string{
	"#productTitle",
	".product-title",
	"[itemprop='name']",
	"h1",
}

// priceSelectors are tried in order; the first whose text parses as a valid
// amount wins. The chain is tuned for Amazon's many price layouts with
// generic fallbacks at the end.
var priceSelectors = []string{
	"span.aok-offscreen",
	"#corePriceDisplay_desktop_feature_div span.aok-offscreen",
	"#corePriceDisplay_desktop_feature_div span.a-offscreen",
	"#tp_price_block_total_price_ww span.a-offscreen",
	"span.a-price > span.a-offscreen",
	"span.a-price span.a-price-whole span.a-offscreen",
	"span.priceToPay span.a-offscreen",
	"#price_inside_buybox",
	"#priceblock_ourprice",
	"#priceblock_dealprice",
	".a-price span[aria-hidden='true']",
	".price",
	"[itemprop='price']",
	".product-price",
}

var listPriceSelectors = []string{
	"span.basisPrice span.aok-offscreen",
	"span.basisPrice span.a-offscreen",
}

var bylinePattern = regexp.MustCompile(`Visit the (.+?) Store`)

// extractSelectors is tier 3: raw HTML selectors for title, price, images,
// brand, and the product-detail specs table.
func extractSelectors(doc *goquery.Document) *candidate {
	title := selectText(doc, titleSelectors)
	if isGenericTitle(title) {
		return nil
	}

	c := &candidate{
		title:     title,
		priceText: selectPrice(doc, priceSelectors),
		listPrice: selectPrice(doc, listPriceSelectors),
		images:    selectorImages(doc),
		brand:     bylineBrand(doc),
		specs:     specsTable(doc),
	}
	return c
}

func selectText(doc *goquery.Document, selectors []string) string {
	for _, sel := range selectors {
		text := strings.TrimSpace(doc.Find(sel).First().Text())
		if text != "" {
			return text
		}
	}
	return ""
}

// selectPrice walks the chain and returns the first text (or content
// attribute) that survives the price parser.
func selectPrice(doc *goquery.Document, selectors []string) string {
	for _, sel := range selectors {
		var found string
		doc.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			text := strings.TrimSpace(s.Text())
			if text == "" {
				if content, ok := s.Attr("content"); ok {
					text = strings.TrimSpace(content)
				}
			}
			if ParsePrice(text) != nil {
				found = text
				return false
			}
			return true
		})
		if found != "" {
			return found
		}
	}
	return ""
}

// selectorImages prefers Amazon's high-resolution attributes, then the
// dynamic-image JSON map keys, then the first plain <img src> that is not a
// tracking placeholder.
func selectorImages(doc *goquery.Document) []string {
	var images []string
	doc.Find("img[data-old-hires]").Each(func(_ int, s *goquery.Selection) {
		if src, ok := s.Attr("data-old-hires"); ok {
			images = append(images, src)
		}
	})
	if len(images) > 0 {
		return images
	}

	doc.Find("img[data-a-dynamic-image]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		raw, ok := s.Attr("data-a-dynamic-image")
		if !ok {
			return true
		}
		var byURL map[string]any
		if err := json.Unmarshal([]byte(raw), &byURL); err != nil {
			return true
		}
		for u := range byURL {
			images = append(images, u)
		}
		return len(images) == 0
	})
	if len(images) > 0 {
		return images
	}

	doc.Find("img[src]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		src, _ := s.Attr("src")
		if isPlaceholderImage(src) || isPixelSized(s) {
			return true
		}
		images = append(images, src)
		return false
	})
	return images
}

func isPixelSized(s *goquery.Selection) bool {
	w, _ := s.Attr("width")
	h, _ := s.Attr("height")
	return w == "1" || h == "1"
}

// bylineBrand reads Amazon's "Visit the X Store" byline. The first-token
// fallback happens later, in normalizeBrand.
func bylineBrand(doc *goquery.Document) string {
	byline := strings.TrimSpace(doc.Find("#bylineInfo").First().Text())
	if m := bylinePattern.FindStringSubmatch(byline); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

// specsTable reads table.prodDetTable rows into a normalized-key map,
// keeping only component-relevant keys.
func specsTable(doc *goquery.Document) map[string]string {
	specs := make(map[string]string)
	doc.Find("table.prodDetTable tr").Each(func(_ int, row *goquery.Selection) {
		key := strings.ToLower(strings.TrimSpace(row.Find("th").First().Text()))
		value := strings.TrimSpace(row.Find("td").First().Text())
		if key == "" || value == "" || !specsKeyRelevant(key) {
			return
		}
		if _, exists := specs[key]; !exists {
			specs[key] = value
		}
	})
	if len(specs) == 0 {
		return nil
	}
	return specs
}
