package baseline

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/dealbrain/dealbrain/internal/apperr"
	"github.com/dealbrain/dealbrain/internal/domain"
	"github.com/dealbrain/dealbrain/internal/persistence"
	"github.com/dealbrain/dealbrain/internal/valuation/formula"
)

// Summary counts what one hydration pass did.
type Summary struct {
	RulesetID            int64 `json:"ruleset_id"`
	PlaceholdersHydrated int   `json:"placeholders_hydrated"`
	PlaceholdersSkipped  int   `json:"placeholders_skipped"`
	RulesCreated         int   `json:"rules_created"`
	Downgraded           int   `json:"downgraded"`
	ScalarsSkipped       int   `json:"scalars_skipped"`
	BucketsSkipped       int   `json:"buckets_skipped"`
}

// Hydrator expands baseline placeholder rules into evaluable rules. Routing
// is driven by the placeholder's metadata.field_type.
type Hydrator struct {
	uow   persistence.UnitOfWork
	actor string
	log   zerolog.Logger
}

func NewHydrator(uow persistence.UnitOfWork, actor string, log zerolog.Logger) *Hydrator {
	if actor == "" {
		actor = "system"
	}
	return &Hydrator{uow: uow, actor: actor, log: log.With().Str("component", "baseline").Logger()}
}

// Hydrate expands every unhydrated placeholder in the ruleset. The pass is
// idempotent: placeholders already marked hydrated are skipped, so re-running
// never duplicates rules. Everything runs in one transaction.
func (h *Hydrator) Hydrate(ctx context.Context, rulesetID int64) (*Summary, error) {
	summary := &Summary{RulesetID: rulesetID}

	err := h.uow.WithTx(ctx, func(repo *persistence.Repository) error {
		rs, err := repo.Rules.GetRuleset(ctx, rulesetID)
		if err != nil {
			return err
		}
		if rs == nil {
			return apperr.NotFound("ruleset %d not found", rulesetID)
		}

		for gi := range rs.Groups {
			group := &rs.Groups[gi]
			for ri := range group.Rules {
				rule := &group.Rules[ri]
				if !rule.IsPlaceholder() {
					continue
				}
				if rule.IsHydrated() {
					summary.PlaceholdersSkipped++
					continue
				}
				if err := h.hydrateRule(ctx, repo, group, rule, summary); err != nil {
					return err
				}
			}
		}

		if summary.PlaceholdersHydrated == 0 {
			return nil
		}
		return repo.Rules.AppendAudit(ctx, &domain.RuleAudit{
			EntityType: "ruleset",
			EntityID:   rulesetID,
			Action:     domain.AuditHydrate,
			Actor:      h.actor,
			Details: map[string]any{
				"placeholders_hydrated": summary.PlaceholdersHydrated,
				"rules_created":         summary.RulesCreated,
				"downgraded":            summary.Downgraded,
				"scalars_skipped":       summary.ScalarsSkipped,
				"buckets_skipped":       summary.BucketsSkipped,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	h.log.Info().
		Int64("ruleset_id", rulesetID).
		Int("hydrated", summary.PlaceholdersHydrated).
		Int("rules_created", summary.RulesCreated).
		Int("downgraded", summary.Downgraded).
		Int("scalars_skipped", summary.ScalarsSkipped).
		Msg("baseline hydration")
	return summary, nil
}

func (h *Hydrator) hydrateRule(ctx context.Context, repo *persistence.Repository, group *domain.RuleGroup, rule *domain.Rule, summary *Summary) error {
	fieldType, _ := rule.Metadata["field_type"].(string)

	switch fieldType {
	case "enum_multiplier":
		if err := h.hydrateEnumMultiplier(ctx, repo, group, rule, summary); err != nil {
			return err
		}
	case "formula":
		if err := h.hydrateFormula(ctx, repo, group, rule, summary); err != nil {
			return err
		}
	case "scalar":
		// Scalar fields are FK relationships, not valuation inputs.
		summary.ScalarsSkipped++
		h.log.Info().
			Int64("rule_id", rule.ID).
			Str("rule", rule.Name).
			Msg("scalar baseline field skipped")
	default:
		if err := h.hydrateFixed(ctx, repo, group, rule, summary); err != nil {
			return err
		}
	}

	return h.markHydrated(ctx, repo, rule, summary)
}

func (h *Hydrator) hydrateEnumMultiplier(ctx context.Context, repo *persistence.Repository, group *domain.RuleGroup, rule *domain.Rule, summary *Summary) error {
	fieldID := metaString(rule.Metadata, "field_id", "id")
	buckets, _ := rule.Metadata["valuation_buckets"].(map[string]any)

	keys := make([]string, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, enumValue := range keys {
		mult, ok := domain.CoerceNumber(buckets[enumValue])
		if !ok {
			summary.BucketsSkipped++
			h.log.Warn().
				Str("rule", rule.Name).
				Str("bucket", enumValue).
				Interface("value", buckets[enumValue]).
				Msg("unparseable multiplier bucket skipped")
			continue
		}
		if mult < 0 {
			summary.BucketsSkipped++
			h.log.Warn().
				Str("rule", rule.Name).
				Str("bucket", enumValue).
				Float64("multiplier", mult).
				Msg("negative multiplier bucket skipped")
			continue
		}

		created := &domain.Rule{
			GroupID:         group.ID,
			Name:            fmt.Sprintf("%s: %s", rule.Name, enumValue),
			Description:     rule.Description,
			EvaluationOrder: rule.EvaluationOrder,
			IsActive:        true,
			Metadata: map[string]any{
				"hydrated_from": rule.ID,
				"source_field":  fieldID,
			},
			Conditions: []domain.RuleCondition{{
				FieldName: fieldID,
				FieldType: "string",
				Operator:  domain.OpEquals,
				Value:     enumValue,
			}},
			Actions: []domain.RuleAction{{
				ActionType: domain.ActionMultiplier,
				ValueUSD:   decimal.NewFromFloat(mult).Mul(decimal.NewFromInt(100)),
				Modifiers: map[string]any{
					"original_multiplier": mult,
				},
			}},
		}
		if err := repo.Rules.CreateRule(ctx, created); err != nil {
			return err
		}
		summary.RulesCreated++
	}
	return nil
}

func (h *Hydrator) hydrateFormula(ctx context.Context, repo *persistence.Repository, group *domain.RuleGroup, rule *domain.Rule, summary *Summary) error {
	text := metaString(rule.Metadata, "formula_text", "Formula", "formula")

	if _, err := formula.Parse(text); err != nil {
		// Unparseable formulas become configurable fixed placeholders so the
		// baseline still loads end to end.
		downgraded := &domain.Rule{
			GroupID:         group.ID,
			Name:            rule.Name,
			Description:     rule.Description,
			EvaluationOrder: rule.EvaluationOrder,
			IsActive:        true,
			Metadata: map[string]any{
				"hydrated_from":                rule.ID,
				"original_formula_description": text,
				"requires_user_configuration":  true,
				"hydration_note":               err.Error(),
			},
			Actions: []domain.RuleAction{{
				ActionType: domain.ActionFixedValue,
				ValueUSD:   decimal.Zero,
			}},
		}
		if err := repo.Rules.CreateRule(ctx, downgraded); err != nil {
			return err
		}
		summary.RulesCreated++
		summary.Downgraded++
		h.log.Warn().
			Str("rule", rule.Name).
			Str("formula", text).
			Msg("formula downgraded to fixed placeholder")
		return nil
	}

	created := &domain.Rule{
		GroupID:         group.ID,
		Name:            rule.Name,
		Description:     rule.Description,
		EvaluationOrder: rule.EvaluationOrder,
		IsActive:        true,
		Metadata: map[string]any{
			"hydrated_from": rule.ID,
		},
		Actions: []domain.RuleAction{{
			ActionType: domain.ActionFormula,
			Formula:    text,
		}},
	}
	if err := repo.Rules.CreateRule(ctx, created); err != nil {
		return err
	}
	summary.RulesCreated++
	return nil
}

func (h *Hydrator) hydrateFixed(ctx context.Context, repo *persistence.Repository, group *domain.RuleGroup, rule *domain.Rule, summary *Summary) error {
	value := 0.0
	for _, key := range []string{"default_value", "Default", "value", "Value", "base_value"} {
		if raw, ok := rule.Metadata[key]; ok {
			if f, ok := domain.CoerceNumber(raw); ok {
				value = f
				break
			}
		}
	}

	created := &domain.Rule{
		GroupID:         group.ID,
		Name:            rule.Name,
		Description:     rule.Description,
		EvaluationOrder: rule.EvaluationOrder,
		IsActive:        true,
		Metadata: map[string]any{
			"hydrated_from": rule.ID,
		},
		Actions: []domain.RuleAction{{
			ActionType: domain.ActionFixedValue,
			ValueUSD:   decimal.NewFromFloat(value),
		}},
	}
	if err := repo.Rules.CreateRule(ctx, created); err != nil {
		return err
	}
	summary.RulesCreated++
	return nil
}

// markHydrated deactivates the placeholder, stamps the hydration metadata,
// and snapshots the new rule version.
func (h *Hydrator) markHydrated(ctx context.Context, repo *persistence.Repository, rule *domain.Rule, summary *Summary) error {
	metadata := make(map[string]any, len(rule.Metadata)+3)
	for k, v := range rule.Metadata {
		metadata[k] = v
	}
	metadata["hydrated"] = true
	metadata["hydrated_at"] = time.Now().UTC().Format(time.RFC3339)
	metadata["hydrated_by"] = h.actor

	version, err := repo.Rules.UpdateRuleStatus(ctx, rule.ID, false, metadata)
	if err != nil {
		return err
	}

	rule.IsActive = false
	rule.Metadata = metadata
	rule.Version = version
	snapshot, err := json.Marshal(rule)
	if err != nil {
		return fmt.Errorf("baseline: snapshot rule %d: %w", rule.ID, err)
	}
	if err := repo.Rules.SaveRuleVersion(ctx, &domain.RuleVersion{
		RuleID:    rule.ID,
		Version:   version,
		Snapshot:  snapshot,
		ChangedBy: h.actor,
	}); err != nil {
		return err
	}

	summary.PlaceholdersHydrated++
	return nil
}

func metaString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
