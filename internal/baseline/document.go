// Package baseline adopts curated valuation baselines: the loader turns a
// baseline JSON artifact into a system ruleset of placeholder rules, and the
// hydrator expands those placeholders into evaluable condition+action rules.
package baseline

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// Document is a parsed baseline artifact. Entities preserve the key order of
// the source JSON so group display order matches the artifact.
type Document struct {
	SchemaVersion string
	GeneratedAt   string
	Entities      []EntityBlock

	hash string
}

// EntityBlock is one entity key and its field objects. Fields are opaque
// maps; the loader and hydrator read only the enumerated metadata keys.
type EntityBlock struct {
	Key    string
	Fields []map[string]any
}

// Hash returns the canonical SHA-256 of the source document.
func (d *Document) Hash() string { return d.hash }

// Version derives the ruleset version string: the schema version when
// present, otherwise the hash prefix.
func (d *Document) Version() string {
	if d.SchemaVersion != "" {
		return d.SchemaVersion
	}
	return d.hash[:8]
}

// ParseDocument decodes a baseline artifact and computes its canonical hash
// (keys sorted, compact separators, then SHA-256).
func ParseDocument(raw []byte) (*Document, error) {
	var top struct {
		SchemaVersion string          `json:"schema_version"`
		GeneratedAt   string          `json:"generated_at"`
		Entities      json.RawMessage `json:"entities"`
	}
	if err := json.Unmarshal(raw, &top); err != nil {
		return nil, fmt.Errorf("baseline: invalid document: %w", err)
	}

	hash, err := canonicalHash(raw)
	if err != nil {
		return nil, err
	}

	doc := &Document{
		SchemaVersion: top.SchemaVersion,
		GeneratedAt:   top.GeneratedAt,
		hash:          hash,
	}
	if len(top.Entities) == 0 {
		return doc, nil
	}

	// Walk the entities object token by token to preserve key order, which
	// json.Unmarshal into a map would destroy.
	dec := json.NewDecoder(bytes.NewReader(top.Entities))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("baseline: invalid entities: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("baseline: entities must be an object")
	}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("baseline: invalid entities: %w", err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("baseline: invalid entity key %v", keyTok)
		}
		var fields []map[string]any
		if err := dec.Decode(&fields); err != nil {
			return nil, fmt.Errorf("baseline: entity %q: %w", key, err)
		}
		doc.Entities = append(doc.Entities, EntityBlock{Key: key, Fields: fields})
	}
	return doc, nil
}

// canonicalHash re-marshals the document through Go maps; encoding/json
// sorts object keys and emits compact output, which is exactly the canonical
// form the hash is defined over.
func canonicalHash(raw []byte) (string, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", fmt.Errorf("baseline: invalid document: %w", err)
	}
	canonical, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("baseline: canonicalize: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// normalizeCategory turns an entity key into a group category slug:
// "GPU Tier" -> "gpu_tier".
func normalizeCategory(key string) string {
	s := strings.ToLower(strings.TrimSpace(key))
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, "-", "_")
	return s
}

// fieldString reads the first non-empty string under any of the keys.
func fieldString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
