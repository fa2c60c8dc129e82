// Package valuation implements the rule engine: ruleset selection, condition
// matching, action application, and breakdown emission. Evaluation is pure;
// Engine.Run wraps it with component loading, metrics, and persistence.
package valuation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/dealbrain/dealbrain/internal/apperr"
	"github.com/dealbrain/dealbrain/internal/domain"
	"github.com/dealbrain/dealbrain/internal/persistence"
	"github.com/dealbrain/dealbrain/internal/scoring"
)

// disabledAttr is the listing attribute holding ruleset IDs excluded from
// dynamic selection.
const disabledAttr = "valuation_disabled_rulesets"

// Engine evaluates valuation rules against listings and persists the result.
type Engine struct {
	log zerolog.Logger
}

func NewEngine(log zerolog.Logger) *Engine {
	return &Engine{log: log.With().Str("component", "valuation").Logger()}
}

// Outcome is one completed valuation+metrics pass.
type Outcome struct {
	Ruleset       *RulesetRef
	Breakdown     *Breakdown
	BreakdownJSON json.RawMessage
	AdjustedPrice decimal.Decimal
	Metrics       domain.MetricSet
}

// Run executes the full pipeline for a priced listing: resolve components,
// select a ruleset, evaluate, compute metrics, and persist the valuation and
// a score snapshot through the given repository. Callers that need
// serialization against concurrent writers run it inside a UnitOfWork listing
// lock.
func (e *Engine) Run(ctx context.Context, repo *persistence.Repository, listing *domain.Listing) (*Outcome, error) {
	if !listing.HasPrice() {
		return nil, apperr.Validation("listing %d has no price; valuation requires one", listing.ID)
	}

	view, err := LoadView(ctx, repo.Catalog, listing)
	if err != nil {
		return nil, err
	}
	rs, err := e.SelectRuleset(ctx, repo.Rules, view)
	if err != nil {
		return nil, err
	}

	bd := EvaluateRuleset(rs, view)

	profile, err := repo.Catalog.DefaultScoringProfile(ctx)
	if err != nil {
		return nil, err
	}
	metrics := scoring.Compute(listing, view.CPU, view.GPU, profile, bd.TotalAdjustment, bd.AdjustedPrice)

	raw, err := json.Marshal(bd)
	if err != nil {
		return nil, fmt.Errorf("marshal breakdown: %w", err)
	}

	adjusted := bd.AdjustedPrice
	update := persistence.ValuationUpdate{
		// A static override persists as-is; dynamically selected rulesets
		// stay out of the column so the next pass re-selects.
		RulesetID:          listing.RulesetID,
		AdjustedPriceUSD:   &adjusted,
		ValuationBreakdown: raw,
		Metrics:            metrics,
	}
	if err := repo.Listings.ApplyValuation(ctx, listing.ID, update); err != nil {
		return nil, err
	}

	snap := &domain.ScoreSnapshot{
		ListingID:              listing.ID,
		PriceUSD:               listing.PriceUSD,
		AdjustedPriceUSD:       &adjusted,
		ScoreComposite:         metrics.ScoreComposite,
		DollarPerCPUMarkSingle: metrics.DollarPerCPUMarkSingle,
		DollarPerCPUMarkMulti:  metrics.DollarPerCPUMarkMulti,
		PerfPerWatt:            metrics.PerfPerWatt,
	}
	if err := repo.Snapshots.Insert(ctx, snap); err != nil {
		return nil, err
	}

	listing.AdjustedPriceUSD = &adjusted
	listing.ValuationBreakdown = raw
	metrics.ApplyTo(listing)

	evt := e.log.Debug().
		Int64("listing_id", listing.ID).
		Int("matched_rules", bd.MatchedRulesCount).
		Str("total_adjustment", bd.TotalAdjustment.String()).
		Str("adjusted_price", bd.AdjustedPrice.String())
	if bd.Ruleset != nil {
		evt = evt.Int64("ruleset_id", bd.Ruleset.ID)
	}
	evt.Msg("valuation applied")

	return &Outcome{
		Ruleset:       bd.Ruleset,
		Breakdown:     bd,
		BreakdownJSON: raw,
		AdjustedPrice: adjusted,
		Metrics:       metrics,
	}, nil
}

// SelectRuleset picks the ruleset governing a listing: the static override
// when set, otherwise the first active ruleset (ascending priority) whose
// root conditions match, otherwise the first active ruleset without root
// conditions. Returns nil when nothing selects; callers fall back to a
// zero-adjustment valuation.
func (e *Engine) SelectRuleset(ctx context.Context, rules persistence.RulesRepo, view *domain.ListingView) (*domain.Ruleset, error) {
	l := view.Listing

	if l.RulesetID != nil {
		rs, err := rules.GetRuleset(ctx, *l.RulesetID)
		if err != nil {
			return nil, err
		}
		if rs == nil {
			return nil, apperr.NotFound("ruleset %d not found", *l.RulesetID)
		}
		if !rs.IsActive {
			return nil, apperr.Validation("ruleset %d is inactive", *l.RulesetID)
		}
		return rs, nil
	}

	active, err := rules.ActiveRulesets(ctx)
	if err != nil {
		return nil, err
	}
	disabled := disabledRulesets(l)

	var fallback *domain.Ruleset
	for i := range active {
		rs := &active[i]
		if _, skip := disabled[rs.ID]; skip {
			continue
		}
		if len(rs.RootConditions) == 0 {
			if fallback == nil {
				fallback = rs
			}
			continue
		}
		if MatchConditions(rs.RootConditions, view) {
			return rs, nil
		}
	}
	if fallback == nil {
		e.log.Debug().Int64("listing_id", l.ID).Msg("no ruleset selected; zero adjustment")
	}
	return fallback, nil
}

// EvaluateRuleset walks a deep-loaded ruleset against the view and emits the
// breakdown. Groups iterate in display order, rules in (evaluation_order,
// priority) order; both orderings come from the repository. A nil ruleset
// yields the legacy zero-adjustment breakdown.
func EvaluateRuleset(rs *domain.Ruleset, view *domain.ListingView) *Breakdown {
	var price decimal.Decimal
	if view.Listing.PriceUSD != nil {
		price = *view.Listing.PriceUSD
	}
	bd := emptyBreakdown(price)
	if rs == nil {
		return bd
	}
	bd.Ruleset = &RulesetRef{ID: rs.ID, Name: rs.Name}

	adjusted := price
	total := decimal.Zero
	deductions := decimal.Zero

	for gi := range rs.Groups {
		g := &rs.Groups[gi]
		for ri := range g.Rules {
			r := &g.Rules[ri]
			if !r.IsActive {
				bd.Adjustments = append(bd.Adjustments, RuleAdjustment{
					RuleID:        r.ID,
					RuleName:      r.Name,
					GroupName:     g.Name,
					AdjustmentUSD: decimal.Zero,
					Inactive:      true,
				})
				continue
			}
			if !MatchConditions(r.Conditions, view) {
				continue
			}

			ruleDelta := decimal.Zero
			details := make([]ActionDetail, 0, len(r.Actions))
			for _, a := range r.Actions {
				delta, det := applyAction(a, view, adjusted)
				ruleDelta = ruleDelta.Add(delta)
				adjusted = adjusted.Add(delta)
				details = append(details, det)
			}

			total = total.Add(ruleDelta)
			if ruleDelta.IsNegative() {
				deductions = deductions.Add(ruleDelta.Neg())
			}
			bd.MatchedRulesCount++
			bd.MatchedRules = append(bd.MatchedRules, r.Name)
			bd.Adjustments = append(bd.Adjustments, RuleAdjustment{
				RuleID:        r.ID,
				RuleName:      r.Name,
				GroupName:     g.Name,
				AdjustmentUSD: ruleDelta,
				Actions:       details,
			})
			bd.Lines = append(bd.Lines, Line{
				RuleID:       r.ID,
				RuleName:     r.Name,
				DeductionUSD: ruleDelta.Neg(),
			})
		}
	}

	bd.TotalAdjustment = total.Round(2)
	bd.TotalDeductions = deductions.Round(2)
	bd.AdjustedPrice = price.Add(bd.TotalAdjustment).Round(2)
	return bd
}

func disabledRulesets(l *domain.Listing) map[int64]struct{} {
	out := map[int64]struct{}{}
	if l.Attributes == nil {
		return out
	}
	raw, ok := l.Attributes[disabledAttr]
	if !ok {
		return out
	}
	list, ok := raw.([]any)
	if !ok {
		return out
	}
	for _, item := range list {
		if f, ok := domain.CoerceNumber(item); ok {
			out[int64(f)] = struct{}{}
		}
	}
	return out
}
