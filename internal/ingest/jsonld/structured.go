package jsonld

import (
	"encoding/json"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// extractStructured is tier 1: JSON-LD script blocks, then Microdata, then
// RDFa. The first Product item with a usable title wins.
func extractStructured(doc *goquery.Document) *candidate {
	if c := extractJSONLD(doc); c.usable() {
		return c
	}
	if c := extractMicrodata(doc); c.usable() {
		return c
	}
	if c := extractRDFa(doc); c.usable() {
		return c
	}
	return nil
}

func extractJSONLD(doc *goquery.Document) *candidate {
	var product map[string]any
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var root any
		if err := json.Unmarshal([]byte(s.Text()), &root); err != nil {
			// Malformed blocks are common in the wild; keep scanning.
			return true
		}
		if p := findProduct(root); p != nil {
			product = p
			return false
		}
		return true
	})
	if product == nil {
		return nil
	}
	return productToCandidate(product)
}

// findProduct walks arbitrarily nested JSON-LD (lists, @graph containers)
// and returns the first item typed Product.
func findProduct(node any) map[string]any {
	switch v := node.(type) {
	case []any:
		for _, item := range v {
			if p := findProduct(item); p != nil {
				return p
			}
		}
	case map[string]any:
		if isProductType(v["@type"]) || isProductType(v["type"]) {
			return v
		}
		if graph, ok := v["@graph"]; ok {
			return findProduct(graph)
		}
	}
	return nil
}

// isProductType accepts "Product" case-insensitively, as a string or inside
// a type list.
func isProductType(t any) bool {
	switch v := t.(type) {
	case string:
		return strings.EqualFold(strings.TrimSpace(v), "Product")
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && strings.EqualFold(strings.TrimSpace(s), "Product") {
				return true
			}
		}
	}
	return false
}

func productToCandidate(p map[string]any) *candidate {
	c := &candidate{
		title:       jsonString(p["name"]),
		description: jsonString(p["description"]),
		brand:       jsonNameOrString(p["brand"]),
		condition:   jsonString(p["itemCondition"]),
		images:      jsonStringList(p["image"]),
	}
	if c.model = jsonString(p["mpn"]); c.model == "" {
		c.model = jsonString(p["sku"])
	}

	offer := firstOffer(p["offers"])
	if offer != nil {
		c.priceText = jsonString(offer["price"])
		if c.priceText == "" {
			c.priceText = jsonString(offer["lowPrice"])
		}
		c.currency = jsonString(offer["priceCurrency"])
		if c.condition == "" {
			c.condition = jsonString(offer["itemCondition"])
		}
		c.seller = jsonNameOrString(offer["seller"])
	}
	return c
}

func firstOffer(offers any) map[string]any {
	switch v := offers.(type) {
	case map[string]any:
		return v
	case []any:
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				return m
			}
		}
	}
	return nil
}

func jsonString(v any) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case float64:
		return trimFloat(x)
	case json.Number:
		return x.String()
	default:
		return ""
	}
}

// jsonNameOrString unwraps {"name": "..."} objects used by brand and seller.
func jsonNameOrString(v any) string {
	if m, ok := v.(map[string]any); ok {
		return jsonString(m["name"])
	}
	return jsonString(v)
}

func jsonStringList(v any) []string {
	switch x := v.(type) {
	case string:
		return []string{x}
	case []any:
		var out []string
		for _, item := range x {
			switch e := item.(type) {
			case string:
				out = append(out, e)
			case map[string]any:
				if u := jsonString(e["url"]); u != "" {
					out = append(out, u)
				}
			}
		}
		return out
	case map[string]any:
		if u := jsonString(x["url"]); u != "" {
			return []string{u}
		}
	}
	return nil
}

func extractMicrodata(doc *goquery.Document) *candidate {
	var c *candidate
	doc.Find("[itemscope]").EachWithBreak(func(_ int, scope *goquery.Selection) bool {
		itemType, _ := scope.Attr("itemtype")
		if !strings.Contains(strings.ToLower(itemType), "product") {
			return true
		}
		c = &candidate{
			title:       microProp(scope, "name"),
			priceText:   microProp(scope, "price"),
			currency:    microProp(scope, "priceCurrency"),
			description: microProp(scope, "description"),
			brand:       microProp(scope, "brand"),
			condition:   microProp(scope, "itemCondition"),
		}
		if img := microProp(scope, "image"); img != "" {
			c.images = []string{img}
		}
		return false
	})
	return c
}

// microProp reads an itemprop value from content/src/href attributes, then
// element text.
func microProp(scope *goquery.Selection, prop string) string {
	sel := scope.Find(`[itemprop="` + prop + `"]`).First()
	if sel.Length() == 0 {
		return ""
	}
	for _, attr := range []string{"content", "src", "href"} {
		if v, ok := sel.Attr(attr); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return strings.TrimSpace(sel.Text())
}

func extractRDFa(doc *goquery.Document) *candidate {
	var c *candidate
	doc.Find("[typeof]").EachWithBreak(func(_ int, scope *goquery.Selection) bool {
		typeOf, _ := scope.Attr("typeof")
		if !strings.Contains(strings.ToLower(typeOf), "product") {
			return true
		}
		c = &candidate{
			title:       rdfaProp(scope, "name"),
			priceText:   rdfaProp(scope, "price"),
			currency:    rdfaProp(scope, "priceCurrency"),
			description: rdfaProp(scope, "description"),
			brand:       rdfaProp(scope, "brand"),
		}
		if img := rdfaProp(scope, "image"); img != "" {
			c.images = []string{img}
		}
		return false
	})
	return c
}

// rdfaProp matches property="name" and prefixed forms like "schema:name".
func rdfaProp(scope *goquery.Selection, prop string) string {
	var out string
	scope.Find("[property]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		p, _ := sel.Attr("property")
		p = strings.ToLower(strings.TrimSpace(p))
		if p != prop && !strings.HasSuffix(p, ":"+prop) {
			return true
		}
		if v, ok := sel.Attr("content"); ok && strings.TrimSpace(v) != "" {
			out = strings.TrimSpace(v)
		} else {
			out = strings.TrimSpace(sel.Text())
		}
		return out == ""
	})
	return out
}
