package valuation

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/dealbrain/dealbrain/internal/domain"
)

func testView() *domain.ListingView {
	price := decimal.NewFromFloat(599.99)
	seller := "techdeals"
	return &domain.ListingView{
		Listing: &domain.Listing{
			ID:          7,
			Title:       "Lenovo ThinkCentre M720q Tiny",
			PriceUSD:    &price,
			Seller:      &seller,
			Condition:   domain.ConditionRefurb,
			Marketplace: domain.MarketplaceEbay,
			Status:      domain.StatusActive,
			RamGB:       16,
			Attributes:  map[string]any{"tags": []any{"mini-pc", "sff"}},
		},
		CPU: &domain.CPU{
			Name:          "Intel Core i5-8500T",
			Manufacturer:  "Intel",
			TDPWatts:      35,
			CPUMarkSingle: 2400,
			CPUMarkMulti:  9500,
		},
		RamSpec: &domain.RamSpec{
			DDRGeneration:   domain.DDR4,
			SpeedMHz:        2666,
			TotalCapacityGB: 16,
		},
	}
}

func cond(field string, op domain.ConditionOperator, value any) domain.RuleCondition {
	return domain.RuleCondition{FieldName: field, Operator: op, Value: value}
}

func TestEvalConditionOperators(t *testing.T) {
	view := testView()

	cases := []struct {
		name string
		c    domain.RuleCondition
		want bool
	}{
		{"equals string fold", cond("condition", domain.OpEquals, "Refurb"), true},
		{"equals miss", cond("condition", domain.OpEquals, "new"), false},
		{"equals numeric", cond("ram_gb", domain.OpEquals, 16.0), true},
		{"equals numeric string", cond("ram_gb", domain.OpEquals, "16"), true},
		{"not_equals", cond("marketplace", domain.OpNotEquals, "amazon"), true},
		{"not_equals miss", cond("marketplace", domain.OpNotEquals, "ebay"), false},
		{"gt", cond("cpu.cpu_mark_multi", domain.OpGT, 9000.0), true},
		{"gt equal boundary", cond("cpu.cpu_mark_multi", domain.OpGT, 9500.0), false},
		{"gte boundary", cond("cpu.cpu_mark_multi", domain.OpGTE, 9500.0), true},
		{"lt", cond("cpu.tdp", domain.OpLT, 65.0), true},
		{"lte boundary", cond("cpu.tdp", domain.OpLTE, 35.0), true},
		{"numeric coercion failure", cond("title", domain.OpGT, 10.0), false},
		{"contains substring fold", cond("title", domain.OpContains, "thinkcentre"), true},
		{"contains miss", cond("title", domain.OpContains, "optiplex"), false},
		{"contains array membership", cond("tags", domain.OpContains, "sff"), true},
		{"in hit", cond("ram_spec.ddr_generation", domain.OpIn, []any{"DDR4", "DDR5"}), true},
		{"in miss", cond("ram_spec.ddr_generation", domain.OpIn, []any{"DDR3"}), false},
		{"in non-list value", cond("ram_gb", domain.OpIn, "16"), false},
		{"between inclusive", cond("price_usd", domain.OpBetween, []any{500.0, 599.99}), true},
		{"between outside", cond("price_usd", domain.OpBetween, []any{600.0, 700.0}), false},
		{"between malformed", cond("price_usd", domain.OpBetween, []any{600.0}), false},
		{"missing field equals", cond("gpu.gpu_mark", domain.OpEquals, 1000.0), false},
		{"missing field not_equals", cond("gpu.gpu_mark", domain.OpNotEquals, 1000.0), false},
		{"unknown path", cond("warranty.months", domain.OpGT, 0.0), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, evalCondition(tc.c, view))
		})
	}
}

func TestMatchConditionsEmptyAlwaysMatches(t *testing.T) {
	assert.True(t, MatchConditions(nil, testView()))
	assert.True(t, MatchConditions([]domain.RuleCondition{}, testView()))
}

func TestMatchConditionsGroups(t *testing.T) {
	view := testView()
	or := domain.LogicalOr
	and := domain.LogicalAnd

	// Group 0: marketplace=ebay OR marketplace=amazon. Group 1: ram_gb >= 8.
	conds := []domain.RuleCondition{
		{FieldName: "marketplace", Operator: domain.OpEquals, Value: "amazon", GroupOrder: 0},
		{FieldName: "marketplace", Operator: domain.OpEquals, Value: "ebay", GroupOrder: 0, LogicalOperator: &or},
		{FieldName: "ram_gb", Operator: domain.OpGTE, Value: 8.0, GroupOrder: 1},
	}
	assert.True(t, MatchConditions(conds, view))

	// Flip the second group to fail: groups AND together.
	conds[2].Value = 32.0
	assert.False(t, MatchConditions(conds, view))

	// Within a group, AND chains short-circuit the whole group.
	conds2 := []domain.RuleCondition{
		{FieldName: "marketplace", Operator: domain.OpEquals, Value: "ebay", GroupOrder: 0},
		{FieldName: "condition", Operator: domain.OpEquals, Value: "new", GroupOrder: 0, LogicalOperator: &and},
	}
	assert.False(t, MatchConditions(conds2, view))

	// A nil logical operator acts as AND.
	conds3 := []domain.RuleCondition{
		{FieldName: "marketplace", Operator: domain.OpEquals, Value: "ebay", GroupOrder: 0},
		{FieldName: "condition", Operator: domain.OpEquals, Value: "refurb", GroupOrder: 0},
	}
	assert.True(t, MatchConditions(conds3, view))
}
