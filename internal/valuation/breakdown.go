package valuation

import (
	"github.com/shopspring/decimal"

	"github.com/dealbrain/dealbrain/internal/domain"
)

// RulesetRef names the ruleset a breakdown was produced by.
type RulesetRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// ActionDetail is the per-action record inside a rule adjustment. Error is
// set when the action could not produce a delta (formula parse/eval failure);
// such actions contribute 0 and never abort the evaluation.
type ActionDetail struct {
	ActionType domain.ActionType `json:"action_type"`
	Metric     string            `json:"metric,omitempty"`
	Value      decimal.Decimal   `json:"value"`
	DeltaUSD   decimal.Decimal   `json:"delta_usd"`
	Details    map[string]any    `json:"details,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// RuleAdjustment is one matched rule's contribution. Inactive rules from the
// selected ruleset appear with AdjustmentUSD = 0 so UIs can surface them.
type RuleAdjustment struct {
	RuleID        int64           `json:"rule_id"`
	RuleName      string          `json:"rule_name"`
	GroupName     string          `json:"group_name,omitempty"`
	AdjustmentUSD decimal.Decimal `json:"adjustment_usd"`
	Inactive      bool            `json:"inactive,omitempty"`
	Actions       []ActionDetail  `json:"actions,omitempty"`
}

// Line is the legacy per-rule deduction view kept for older consumers:
// deduction_usd is positive for rules that lowered the price.
type Line struct {
	RuleID       int64           `json:"rule_id"`
	RuleName     string          `json:"rule_name"`
	DeductionUSD decimal.Decimal `json:"deduction_usd"`
}

// Breakdown is the persisted valuation trace: adjusted_price = listing_price
// + total_adjustment, while total_deductions is the positive sum of negative
// deltas only.
type Breakdown struct {
	ListingPrice      decimal.Decimal  `json:"listing_price"`
	AdjustedPrice     decimal.Decimal  `json:"adjusted_price"`
	TotalAdjustment   decimal.Decimal  `json:"total_adjustment"`
	TotalDeductions   decimal.Decimal  `json:"total_deductions"`
	MatchedRulesCount int              `json:"matched_rules_count"`
	MatchedRules      []string         `json:"matched_rules"`
	Adjustments       []RuleAdjustment `json:"adjustments"`
	Lines             []Line           `json:"lines"`
	Ruleset           *RulesetRef      `json:"ruleset"`
}

// emptyBreakdown is the legacy zero-adjustment fallback used when no ruleset
// selects the listing.
func emptyBreakdown(price decimal.Decimal) *Breakdown {
	return &Breakdown{
		ListingPrice:    price.Round(2),
		AdjustedPrice:   price.Round(2),
		TotalAdjustment: decimal.Zero,
		TotalDeductions: decimal.Zero,
		MatchedRules:    []string{},
		Adjustments:     []RuleAdjustment{},
		Lines:           []Line{},
	}
}
