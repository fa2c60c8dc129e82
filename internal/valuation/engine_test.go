package valuation

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dealbrain/dealbrain/internal/apperr"
	"github.com/dealbrain/dealbrain/internal/domain"
	"github.com/dealbrain/dealbrain/internal/persistence/memstore"
)

func usd(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func deductionRuleset(active bool) domain.Ruleset {
	return domain.Ruleset{
		Name:     "Standard Adjustments",
		Version:  "1",
		Priority: 10,
		IsActive: active,
		Groups: []domain.RuleGroup{{
			Name:     "Condition",
			Category: "condition",
			Rules: []domain.Rule{
				{
					Name:     "Used discount",
					IsActive: true,
					Actions: []domain.RuleAction{
						{ActionType: domain.ActionFixedValue, ValueUSD: usd(-50)},
					},
				},
				{
					Name:     "RAM deduction",
					IsActive: true,
					Actions: []domain.RuleAction{
						{ActionType: domain.ActionPerUnit, Metric: "ram_gb", ValueUSD: usd(-2)},
					},
				},
			},
		}},
	}
}

func TestEngineRunArithmetic(t *testing.T) {
	store := memstore.New()
	cpu := store.SeedCPU(domain.CPU{Name: "Intel Core i7-12700", Manufacturer: "Intel", CPUMarkMulti: 20000})
	store.SeedRuleset(deductionRuleset(true))

	price := usd(1000)
	listing := store.SeedListing(domain.Listing{
		Title:    "Dell OptiPlex 7090",
		PriceUSD: &price,
		RamGB:    16,
		CPUID:    &cpu.ID,
		Quality:  domain.QualityFull,
	})

	engine := NewEngine(zerolog.Nop())
	out, err := engine.Run(context.Background(), store.Repo(), listing)
	require.NoError(t, err)

	assert.True(t, out.Breakdown.TotalAdjustment.Equal(usd(-82)), "total adjustment: %s", out.Breakdown.TotalAdjustment)
	assert.True(t, out.AdjustedPrice.Equal(usd(918)), "adjusted price: %s", out.AdjustedPrice)
	assert.Equal(t, 2, out.Breakdown.MatchedRulesCount)
	assert.Equal(t, []string{"Used discount", "RAM deduction"}, out.Breakdown.MatchedRules)

	require.Len(t, out.Breakdown.Adjustments, 2)
	assert.True(t, out.Breakdown.Adjustments[0].AdjustmentUSD.Equal(usd(-50)))
	assert.True(t, out.Breakdown.Adjustments[1].AdjustmentUSD.Equal(usd(-32)))
	assert.True(t, out.Breakdown.TotalDeductions.Equal(usd(82)))

	require.NotNil(t, out.Metrics.DollarPerCPUMarkMulti)
	assert.InDelta(t, 0.05, *out.Metrics.DollarPerCPUMarkMulti, 1e-9)
	require.NotNil(t, out.Metrics.DollarPerCPUMarkMultiAdjusted)
	assert.InDelta(t, 0.0541, *out.Metrics.DollarPerCPUMarkMultiAdjusted, 1e-9)

	// Persisted row reflects the pass, and a snapshot was recorded.
	stored := store.Listing(listing.ID)
	require.NotNil(t, stored.AdjustedPriceUSD)
	assert.True(t, stored.AdjustedPriceUSD.Equal(usd(918)))
	require.NotEmpty(t, stored.ValuationBreakdown)

	var persisted Breakdown
	require.NoError(t, json.Unmarshal(stored.ValuationBreakdown, &persisted))
	assert.True(t, persisted.ListingPrice.Equal(usd(1000)))
	require.NotNil(t, persisted.Ruleset)
	assert.Equal(t, "Standard Adjustments", persisted.Ruleset.Name)

	snaps := store.Snapshots()
	require.Len(t, snaps, 1)
	assert.Equal(t, listing.ID, snaps[0].ListingID)
	require.NotNil(t, snaps[0].AdjustedPriceUSD)
	assert.True(t, snaps[0].AdjustedPriceUSD.Equal(usd(918)))
}

func TestEngineRunWithoutRuleset(t *testing.T) {
	store := memstore.New()
	cpu := store.SeedCPU(domain.CPU{Name: "AMD Ryzen 5 5600U", Manufacturer: "AMD", CPUMarkMulti: 16000})

	price := usd(400)
	listing := store.SeedListing(domain.Listing{
		Title:    "Beelink SER5",
		PriceUSD: &price,
		CPUID:    &cpu.ID,
	})

	engine := NewEngine(zerolog.Nop())
	out, err := engine.Run(context.Background(), store.Repo(), listing)
	require.NoError(t, err)

	assert.Nil(t, out.Ruleset)
	assert.True(t, out.AdjustedPrice.Equal(usd(400)))
	assert.True(t, out.Breakdown.TotalAdjustment.IsZero())
	assert.Zero(t, out.Breakdown.MatchedRulesCount)
	require.NotNil(t, out.Metrics.DollarPerCPUMarkMulti)
	assert.InDelta(t, 400.0/16000, *out.Metrics.DollarPerCPUMarkMulti, 1e-9)
}

func TestEngineRunRequiresPrice(t *testing.T) {
	store := memstore.New()
	listing := store.SeedListing(domain.Listing{Title: "partial", Quality: domain.QualityPartial})

	engine := NewEngine(zerolog.Nop())
	_, err := engine.Run(context.Background(), store.Repo(), listing)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}

func TestSelectRulesetStaticOverride(t *testing.T) {
	store := memstore.New()
	rs := store.SeedRuleset(deductionRuleset(true))
	price := usd(100)

	engine := NewEngine(zerolog.Nop())
	ctx := context.Background()

	listing := store.SeedListing(domain.Listing{Title: "pinned", PriceUSD: &price, RulesetID: &rs.ID})
	view := &domain.ListingView{Listing: listing}

	got, err := engine.SelectRuleset(ctx, store.Repo().Rules, view)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rs.ID, got.ID)

	// Missing override errors NOT_FOUND.
	missing := int64(9999)
	view.Listing.RulesetID = &missing
	_, err = engine.SelectRuleset(ctx, store.Repo().Rules, view)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))

	// Inactive override errors VALIDATION_ERROR.
	inactive := store.SeedRuleset(deductionRuleset(false))
	view.Listing.RulesetID = &inactive.ID
	_, err = engine.SelectRuleset(ctx, store.Repo().Rules, view)
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}

func TestSelectRulesetDynamicPriority(t *testing.T) {
	store := memstore.New()

	// Priority 1: root condition that will not match.
	store.SeedRuleset(domain.Ruleset{
		Name: "Amazon only", Version: "1", Priority: 1, IsActive: true,
		RootConditions: []domain.RuleCondition{
			{FieldName: "marketplace", Operator: domain.OpEquals, Value: "amazon"},
		},
	})
	// Priority 3: unconditioned fallback.
	fallback := store.SeedRuleset(domain.Ruleset{Name: "Default", Version: "1", Priority: 3, IsActive: true})
	// Priority 5: root condition that matches.
	ebayRS := store.SeedRuleset(domain.Ruleset{
		Name: "eBay", Version: "1", Priority: 5, IsActive: true,
		RootConditions: []domain.RuleCondition{
			{FieldName: "marketplace", Operator: domain.OpEquals, Value: "ebay"},
		},
	})

	price := usd(100)
	listing := store.SeedListing(domain.Listing{Title: "x", PriceUSD: &price, Marketplace: domain.MarketplaceEbay})
	view := &domain.ListingView{Listing: listing}

	engine := NewEngine(zerolog.Nop())
	got, err := engine.SelectRuleset(context.Background(), store.Repo().Rules, view)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, ebayRS.ID, got.ID, "matching root condition beats the unconditioned fallback")

	// When no root condition matches, the first unconditioned ruleset wins.
	view.Listing.Marketplace = domain.MarketplaceNewegg
	got, err = engine.SelectRuleset(context.Background(), store.Repo().Rules, view)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, fallback.ID, got.ID)
}

func TestSelectRulesetHonorsDisabledAttribute(t *testing.T) {
	store := memstore.New()
	first := store.SeedRuleset(domain.Ruleset{Name: "A", Version: "1", Priority: 1, IsActive: true})
	second := store.SeedRuleset(domain.Ruleset{Name: "B", Version: "1", Priority: 2, IsActive: true})

	price := usd(100)
	listing := store.SeedListing(domain.Listing{
		Title:    "x",
		PriceUSD: &price,
		Attributes: map[string]any{
			"valuation_disabled_rulesets": []any{float64(first.ID)},
		},
	})
	view := &domain.ListingView{Listing: listing}

	engine := NewEngine(zerolog.Nop())
	got, err := engine.SelectRuleset(context.Background(), store.Repo().Rules, view)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, second.ID, got.ID)
}

func TestSelectRulesetNoneActive(t *testing.T) {
	store := memstore.New()
	store.SeedRuleset(deductionRuleset(false))

	price := usd(100)
	listing := store.SeedListing(domain.Listing{Title: "x", PriceUSD: &price})
	view := &domain.ListingView{Listing: listing}

	engine := NewEngine(zerolog.Nop())
	got, err := engine.SelectRuleset(context.Background(), store.Repo().Rules, view)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestEvaluateRulesetInactiveRulesReported(t *testing.T) {
	price := usd(500)
	view := &domain.ListingView{Listing: &domain.Listing{ID: 1, Title: "x", PriceUSD: &price}}

	rs := &domain.Ruleset{
		ID: 3, Name: "rs", IsActive: true,
		Groups: []domain.RuleGroup{{
			ID: 1, Name: "g",
			Rules: []domain.Rule{
				{ID: 10, Name: "disabled discount", IsActive: false, Actions: []domain.RuleAction{
					{ActionType: domain.ActionFixedValue, ValueUSD: usd(-100)},
				}},
				{ID: 11, Name: "live discount", IsActive: true, Actions: []domain.RuleAction{
					{ActionType: domain.ActionFixedValue, ValueUSD: usd(-25)},
				}},
			},
		}},
	}

	bd := EvaluateRuleset(rs, view)

	assert.Equal(t, 1, bd.MatchedRulesCount)
	assert.True(t, bd.TotalAdjustment.Equal(usd(-25)))
	require.Len(t, bd.Adjustments, 2)
	assert.True(t, bd.Adjustments[0].Inactive)
	assert.True(t, bd.Adjustments[0].AdjustmentUSD.IsZero())
	assert.Equal(t, "disabled discount", bd.Adjustments[0].RuleName)
}

func TestEvaluateRulesetFormulaErrorRecorded(t *testing.T) {
	price := usd(300)
	view := &domain.ListingView{Listing: &domain.Listing{ID: 1, Title: "x", PriceUSD: &price, RamGB: 8}}

	rs := &domain.Ruleset{
		ID: 4, Name: "rs", IsActive: true,
		Groups: []domain.RuleGroup{{
			ID: 1, Name: "g",
			Rules: []domain.Rule{
				{ID: 20, Name: "broken formula", IsActive: true, Actions: []domain.RuleAction{
					{ActionType: domain.ActionFormula, Formula: "ram_gb *"},
				}},
				{ID: 21, Name: "good formula", IsActive: true, Actions: []domain.RuleAction{
					{ActionType: domain.ActionFormula, Formula: "ram_gb * -1.5"},
				}},
			},
		}},
	}

	bd := EvaluateRuleset(rs, view)

	require.Len(t, bd.Adjustments, 2)
	require.Len(t, bd.Adjustments[0].Actions, 1)
	assert.NotEmpty(t, bd.Adjustments[0].Actions[0].Error)
	assert.True(t, bd.Adjustments[0].AdjustmentUSD.IsZero())

	// Evaluation continued past the failure.
	assert.True(t, bd.Adjustments[1].AdjustmentUSD.Equal(usd(-12)))
	assert.True(t, bd.TotalAdjustment.Equal(usd(-12)))
	assert.True(t, bd.AdjustedPrice.Equal(usd(288)))
}

func TestEvaluateRulesetMultiplierUsesRunningPrice(t *testing.T) {
	price := usd(100)
	view := &domain.ListingView{Listing: &domain.Listing{ID: 1, Title: "x", PriceUSD: &price}}

	rs := &domain.Ruleset{
		ID: 5, Name: "rs", IsActive: true,
		Groups: []domain.RuleGroup{{
			ID: 1, Name: "g",
			Rules: []domain.Rule{
				{ID: 30, Name: "flat", IsActive: true, Actions: []domain.RuleAction{
					{ActionType: domain.ActionFixedValue, ValueUSD: usd(-50)},
				}},
				{ID: 31, Name: "pct", IsActive: true, Actions: []domain.RuleAction{
					// 90 => x0.90 of the running price (50), delta -5.
					{ActionType: domain.ActionMultiplier, ValueUSD: usd(90)},
				}},
			},
		}},
	}

	bd := EvaluateRuleset(rs, view)

	require.Len(t, bd.Adjustments, 2)
	assert.True(t, bd.Adjustments[1].AdjustmentUSD.Equal(usd(-5)), "got %s", bd.Adjustments[1].AdjustmentUSD)
	assert.True(t, bd.TotalAdjustment.Equal(usd(-55)))
	assert.True(t, bd.AdjustedPrice.Equal(usd(45)))
}

func TestEvaluateRulesetConditionGate(t *testing.T) {
	price := usd(200)
	view := &domain.ListingView{Listing: &domain.Listing{
		ID: 1, Title: "x", PriceUSD: &price, Condition: domain.ConditionNew,
	}}

	rs := &domain.Ruleset{
		ID: 6, Name: "rs", IsActive: true,
		Groups: []domain.RuleGroup{{
			ID: 1, Name: "g",
			Rules: []domain.Rule{{
				ID: 40, Name: "used only", IsActive: true,
				Conditions: []domain.RuleCondition{
					{FieldName: "condition", Operator: domain.OpEquals, Value: "used"},
				},
				Actions: []domain.RuleAction{
					{ActionType: domain.ActionFixedValue, ValueUSD: usd(-75)},
				},
			}},
		}},
	}

	bd := EvaluateRuleset(rs, view)
	assert.Zero(t, bd.MatchedRulesCount)
	assert.True(t, bd.TotalAdjustment.IsZero())
	assert.True(t, bd.AdjustedPrice.Equal(usd(200)))
	assert.Empty(t, bd.Adjustments)
}
