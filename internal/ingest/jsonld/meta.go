package jsonld

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// metaTags flattens every <meta> tag on the page, keyed by its property,
// name, or itemprop attribute (lowercased). First occurrence wins.
func metaTags(doc *goquery.Document) map[string]string {
	tags := make(map[string]string)
	doc.Find("meta").Each(func(_ int, s *goquery.Selection) {
		content, ok := s.Attr("content")
		if !ok || strings.TrimSpace(content) == "" {
			return
		}
		for _, keyAttr := range []string{"property", "name", "itemprop"} {
			key, has := s.Attr(keyAttr)
			if !has {
				continue
			}
			key = strings.ToLower(strings.TrimSpace(key))
			if key == "" {
				continue
			}
			if _, exists := tags[key]; !exists {
				tags[key] = strings.TrimSpace(content)
			}
		}
	})
	return tags
}

// extractMeta is tier 2: OpenGraph, Twitter, and generic meta tags. A
// candidate is returned only when a non-generic title exists.
func extractMeta(doc *goquery.Document) *candidate {
	tags := metaTags(doc)

	title := firstNonEmpty(tags["og:title"], tags["twitter:title"])
	if title == "" {
		title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	if isGenericTitle(title) {
		return nil
	}

	c := &candidate{
		title:       title,
		priceText:   metaPrice(tags),
		currency:    firstNonEmpty(tags["og:price:currency"], tags["currency"]),
		description: firstNonEmpty(tags["og:description"], tags["twitter:description"], tags["description"]),
		seller:      firstNonEmpty(tags["og:site_name"], tags["twitter:site"], tags["author"]),
	}
	for _, key := range []string{"og:image", "twitter:image", "image"} {
		if img := tags[key]; img != "" {
			c.images = append(c.images, img)
		}
	}
	return c
}

// metaPrice prefers the canonical OpenGraph and Microdata keys, then falls
// back to any meta key containing "price", skipping currency keys.
func metaPrice(tags map[string]string) string {
	if v := firstNonEmpty(tags["og:price:amount"], tags["price"]); v != "" {
		return v
	}
	for key, value := range tags {
		if strings.Contains(key, "price") && !strings.Contains(key, "currency") {
			if ParsePrice(value) != nil {
				return value
			}
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
