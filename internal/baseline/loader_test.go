package baseline

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dealbrain/dealbrain/internal/domain"
	"github.com/dealbrain/dealbrain/internal/persistence/memstore"
)

const baselineDoc = `{
  "schema_version": "1.2.0",
  "generated_at": "2025-10-01T12:00:00Z",
  "entities": {
    "CPU": [
      {"id": "cpu_mark_multi", "proper_name": "CPU Mark (Multi)", "description": "PassMark multi-core score", "unit": "points", "field_type": "formula", "formula_text": "cpu.cpu_mark_multi * 0.01"},
      {"id": "condition", "proper_name": "Condition", "unit": "multiplier", "field_type": "enum_multiplier", "valuation_buckets": {"new": 1.0, "refurb": 0.85, "used": 0.7}}
    ],
    "RAM": [
      {"id": "ram_gb", "proper_name": "Installed RAM", "unit": "GB", "field_type": "default", "default_value": 2.5}
    ]
  }
}`

func TestParseDocumentPreservesEntityOrder(t *testing.T) {
	doc, err := ParseDocument([]byte(baselineDoc))
	require.NoError(t, err)

	assert.Equal(t, "1.2.0", doc.SchemaVersion)
	assert.Equal(t, "1.2.0", doc.Version())
	assert.Equal(t, "2025-10-01T12:00:00Z", doc.GeneratedAt)
	require.Len(t, doc.Entities, 2)
	assert.Equal(t, "CPU", doc.Entities[0].Key)
	assert.Len(t, doc.Entities[0].Fields, 2)
	assert.Equal(t, "RAM", doc.Entities[1].Key)
	assert.Len(t, doc.Entities[1].Fields, 1)
	assert.Len(t, doc.Hash(), 64)
}

func TestParseDocumentHashIsCanonical(t *testing.T) {
	a := []byte(`{"schema_version":"1","entities":{"CPU":[{"id":"x"}]}}`)
	b := []byte("{\n  \"entities\": { \"CPU\": [ { \"id\": \"x\" } ] },\n  \"schema_version\": \"1\"\n}")
	c := []byte(`{"schema_version":"2","entities":{"CPU":[{"id":"x"}]}}`)

	docA, err := ParseDocument(a)
	require.NoError(t, err)
	docB, err := ParseDocument(b)
	require.NoError(t, err)
	docC, err := ParseDocument(c)
	require.NoError(t, err)

	assert.Equal(t, docA.Hash(), docB.Hash(), "key order and whitespace must not change the hash")
	assert.NotEqual(t, docA.Hash(), docC.Hash())
}

func TestParseDocumentVersionFallsBackToHash(t *testing.T) {
	doc, err := ParseDocument([]byte(`{"entities":{}}`))
	require.NoError(t, err)
	assert.Equal(t, doc.Hash()[:8], doc.Version())
}

func TestParseDocumentRejectsMalformed(t *testing.T) {
	_, err := ParseDocument([]byte(`{`))
	assert.Error(t, err)

	_, err = ParseDocument([]byte(`{"entities": [1, 2]}`))
	assert.Error(t, err)
}

func TestLoaderCreatesBaselineRuleset(t *testing.T) {
	store := memstore.New()
	prior := store.SeedRuleset(domain.Ruleset{
		Name:     "System: Baseline v1.1.0",
		Priority: 5,
		IsActive: true,
		Metadata: map[string]any{"system_baseline": true, "source_hash": "stale"},
	})

	loader := NewLoader(store, "importer", zerolog.Nop())
	res, err := loader.Load(context.Background(), []byte(baselineDoc), "baselines/v1.2.0.json")
	require.NoError(t, err)

	assert.Equal(t, StatusCreated, res.Status)
	assert.Equal(t, 2, res.Groups)
	assert.Equal(t, 3, res.Rules)
	assert.Equal(t, int64(1), res.Deactivated)
	assert.Equal(t, "System: Baseline v1.2.0", res.RulesetName)

	var rs domain.Ruleset
	for _, candidate := range store.Rulesets() {
		if candidate.ID == res.RulesetID {
			rs = candidate
		}
	}
	require.NotZero(t, rs.ID)
	assert.True(t, rs.IsActive)
	assert.Equal(t, 5, rs.Priority)
	assert.True(t, rs.IsSystemBaseline())
	assert.Equal(t, res.SourceHash, rs.SourceHash())
	assert.Equal(t, true, rs.Metadata["read_only"])
	assert.Equal(t, "baselines/v1.2.0.json", rs.Metadata["source_reference"])

	require.Len(t, rs.Groups, 2)
	cpuGroup := rs.Groups[0]
	assert.Equal(t, "CPU", cpuGroup.Name)
	assert.Equal(t, "cpu", cpuGroup.Category)
	assert.Equal(t, 0, cpuGroup.DisplayOrder)
	require.Len(t, cpuGroup.Rules, 2)

	formulaField := cpuGroup.Rules[0]
	assert.Equal(t, "CPU Mark (Multi)", formulaField.Name)
	assert.True(t, formulaField.IsPlaceholder())
	assert.False(t, formulaField.IsHydrated())
	require.Len(t, formulaField.Actions, 1)
	assert.Equal(t, domain.ActionFixedValue, formulaField.Actions[0].ActionType)
	assert.True(t, formulaField.Actions[0].ValueUSD.IsZero())
	assert.Equal(t, true, formulaField.Actions[0].Modifiers["baseline_placeholder"])
	assert.Equal(t, "formula", formulaField.Metadata["field_type"])

	multiplierField := cpuGroup.Rules[1]
	assert.Equal(t, "Condition", multiplierField.Name)
	require.Len(t, multiplierField.Actions, 1)
	assert.Equal(t, domain.ActionMultiplier, multiplierField.Actions[0].ActionType)
	assert.Equal(t, "multiplier", multiplierField.Actions[0].Modifiers["baseline_unit"])

	ramGroup := rs.Groups[1]
	assert.Equal(t, "RAM", ramGroup.Name)
	assert.Equal(t, "ram", ramGroup.Category)
	require.Len(t, ramGroup.Rules, 1)
	assert.Equal(t, "Installed RAM", ramGroup.Rules[0].Name)

	for _, candidate := range store.Rulesets() {
		if candidate.ID == prior.ID {
			assert.False(t, candidate.IsActive, "prior baseline must be deactivated")
		}
	}

	audits := store.Audits()
	require.Len(t, audits, 1)
	assert.Equal(t, domain.AuditBaselineAdopt, audits[0].Action)
	assert.Equal(t, "importer", audits[0].Actor)
	assert.Equal(t, res.RulesetID, audits[0].EntityID)
}

func TestLoaderSkipsAlreadyAdoptedDocument(t *testing.T) {
	store := memstore.New()
	loader := NewLoader(store, "", zerolog.Nop())

	first, err := loader.Load(context.Background(), []byte(baselineDoc), "run-1")
	require.NoError(t, err)
	require.Equal(t, StatusCreated, first.Status)

	second, err := loader.Load(context.Background(), []byte(baselineDoc), "run-2")
	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, second.Status)
	assert.Equal(t, first.RulesetID, second.RulesetID)
	assert.Equal(t, first.SourceHash, second.SourceHash)

	assert.Len(t, store.Rulesets(), 1)
	assert.Len(t, store.Audits(), 1, "a skipped load must not append an audit row")
}

func TestEnsureBasicGroup(t *testing.T) {
	store := memstore.New()
	rs := store.SeedRuleset(domain.Ruleset{Name: "My Rules", IsActive: true})

	first, err := EnsureBasicGroup(context.Background(), store.Repo(), rs.ID)
	require.NoError(t, err)
	assert.Equal(t, BasicGroupName, first.Name)
	assert.Equal(t, "baseline", first.Category)
	assert.Equal(t, true, first.Metadata["basic_managed"])

	again, err := EnsureBasicGroup(context.Background(), store.Repo(), rs.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
}
