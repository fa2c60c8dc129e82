package valuation

import (
	"github.com/shopspring/decimal"

	"github.com/dealbrain/dealbrain/internal/domain"
	"github.com/dealbrain/dealbrain/internal/valuation/formula"
)

var oneHundred = decimal.NewFromInt(100)

// applyAction produces one action's signed USD delta against the running
// adjusted price. Failures are recorded on the detail and contribute 0.
func applyAction(a domain.RuleAction, view *domain.ListingView, currentAdjusted decimal.Decimal) (decimal.Decimal, ActionDetail) {
	detail := ActionDetail{
		ActionType: a.ActionType,
		Metric:     a.Metric,
		Value:      a.ValueUSD,
	}

	var delta decimal.Decimal
	switch a.ActionType {
	case domain.ActionFixedValue:
		delta = a.ValueUSD

	case domain.ActionPerUnit:
		units, ok := view.NumericValue(a.Metric)
		if !ok {
			units = 0
		}
		qty := decimal.NewFromFloat(units)
		delta = a.ValueUSD.Mul(qty)
		detail.Details = map[string]any{"units": units}

	case domain.ActionMultiplier:
		// value_usd stores the multiplier scaled by 100; 110 means +10% of
		// the current adjusted price.
		factor := a.ValueUSD.Div(oneHundred).Sub(decimal.NewFromInt(1))
		delta = currentAdjusted.Mul(factor)
		detail.Details = map[string]any{"multiplier": a.ValueUSD.Div(oneHundred).InexactFloat64()}

	case domain.ActionFormula:
		result, err := formula.Evaluate(a.Formula, func(path string) (float64, bool) {
			return view.NumericValue(path)
		})
		if err != nil {
			detail.Error = err.Error()
			detail.DeltaUSD = decimal.Zero
			return decimal.Zero, detail
		}
		delta = decimal.NewFromFloat(result)
		detail.Details = map[string]any{"formula": a.Formula}

	default:
		detail.Error = "unknown action type"
		detail.DeltaUSD = decimal.Zero
		return decimal.Zero, detail
	}

	delta = delta.Round(2)
	detail.DeltaUSD = delta
	return delta, detail
}
