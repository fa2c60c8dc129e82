package baseline

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/dealbrain/dealbrain/internal/domain"
	"github.com/dealbrain/dealbrain/internal/persistence"
)

// Load statuses.
const (
	StatusCreated = "created"
	StatusSkipped = "skipped"
)

// BasicGroupName is the user-facing group managed for ad-hoc baseline
// adjustments in non-system rulesets.
const BasicGroupName = "Basic · Adjustments"

// LoadResult summarizes one adoption attempt.
type LoadResult struct {
	Status      string `json:"status"`
	RulesetID   int64  `json:"ruleset_id"`
	RulesetName string `json:"ruleset_name,omitempty"`
	SourceHash  string `json:"source_hash"`
	Groups      int    `json:"groups"`
	Rules       int    `json:"rules"`
	Deactivated int64  `json:"deactivated"`
}

// Loader materializes baseline artifacts into system rulesets.
type Loader struct {
	uow   persistence.UnitOfWork
	actor string
	log   zerolog.Logger
}

func NewLoader(uow persistence.UnitOfWork, actor string, log zerolog.Logger) *Loader {
	if actor == "" {
		actor = "system"
	}
	return &Loader{uow: uow, actor: actor, log: log.With().Str("component", "baseline").Logger()}
}

// Load adopts one baseline document. The content hash makes it idempotent: a
// document already adopted returns StatusSkipped without touching anything.
// sourceRef records where the artifact came from (path or URL). The whole
// adoption runs in a single transaction.
func (ld *Loader) Load(ctx context.Context, raw []byte, sourceRef string) (*LoadResult, error) {
	doc, err := ParseDocument(raw)
	if err != nil {
		return nil, err
	}
	return ld.LoadDocument(ctx, doc, sourceRef)
}

// LoadDocument adopts an already-parsed document.
func (ld *Loader) LoadDocument(ctx context.Context, doc *Document, sourceRef string) (*LoadResult, error) {
	result := &LoadResult{SourceHash: doc.Hash()}

	err := ld.uow.WithTx(ctx, func(repo *persistence.Repository) error {
		existing, err := repo.Rules.FindRulesetBySourceHash(ctx, doc.Hash())
		if err != nil {
			return err
		}
		if existing != nil {
			result.Status = StatusSkipped
			result.RulesetID = existing.ID
			result.RulesetName = existing.Name
			return nil
		}

		rs := &domain.Ruleset{
			Name:        "System: Baseline v" + doc.Version(),
			Description: "Curated baseline adjustments",
			Version:     doc.Version(),
			Priority:    5,
			IsActive:    true,
			Metadata: map[string]any{
				"system_baseline":  true,
				"source_hash":      doc.Hash(),
				"schema_version":   doc.SchemaVersion,
				"generated_at":     doc.GeneratedAt,
				"source_reference": sourceRef,
				"read_only":        true,
			},
		}
		if err := repo.Rules.CreateRuleset(ctx, rs); err != nil {
			return err
		}
		result.RulesetID = rs.ID
		result.RulesetName = rs.Name

		for i, entity := range doc.Entities {
			group := &domain.RuleGroup{
				RulesetID:    rs.ID,
				Name:         entity.Key,
				Category:     normalizeCategory(entity.Key),
				DisplayOrder: i,
				Weight:       1,
			}
			if err := repo.Rules.CreateGroup(ctx, group); err != nil {
				return err
			}
			result.Groups++

			for j, field := range entity.Fields {
				if err := repo.Rules.CreateRule(ctx, placeholderRule(group.ID, j, field)); err != nil {
					return err
				}
				result.Rules++
			}
		}

		deactivated, err := repo.Rules.DeactivateSystemBaselines(ctx, rs.ID)
		if err != nil {
			return err
		}
		result.Deactivated = deactivated

		result.Status = StatusCreated
		return repo.Rules.AppendAudit(ctx, &domain.RuleAudit{
			EntityType: "ruleset",
			EntityID:   rs.ID,
			Action:     domain.AuditBaselineAdopt,
			Actor:      ld.actor,
			Details: map[string]any{
				"source_hash":      doc.Hash(),
				"source_reference": sourceRef,
				"groups":           result.Groups,
				"rules":            result.Rules,
				"deactivated":      deactivated,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	evt := ld.log.Info().
		Str("status", result.Status).
		Int64("ruleset_id", result.RulesetID).
		Str("source_hash", shortHash(result.SourceHash))
	if result.Status == StatusCreated {
		evt = evt.Int("groups", result.Groups).Int("rules", result.Rules).Int64("deactivated", result.Deactivated)
	}
	evt.Msg("baseline load")
	return result, nil
}

// EnsureBasicGroup returns the managed "Basic · Adjustments" group in the
// given ruleset, creating it when absent. User-entered per-field adjustments
// land here rather than in baseline-owned groups.
func EnsureBasicGroup(ctx context.Context, repo *persistence.Repository, rulesetID int64) (*domain.RuleGroup, error) {
	return repo.Rules.EnsureGroup(ctx, rulesetID, BasicGroupName, "baseline", map[string]any{
		"basic_managed": true,
	})
}

// placeholderRule builds the zero-valued placeholder for one baseline field.
// The action type mirrors the field unit so hydration and UIs know what the
// field will become.
func placeholderRule(groupID int64, index int, field map[string]any) *domain.Rule {
	name := fieldString(field, "proper_name", "id")
	if name == "" {
		name = nthFieldName(index)
	}
	unit := fieldString(field, "unit")

	actionType := domain.ActionFixedValue
	if unit == "multiplier" {
		actionType = domain.ActionMultiplier
	}

	metadata := make(map[string]any, len(field)+1)
	for k, v := range field {
		metadata[k] = v
	}
	metadata["baseline_placeholder"] = true

	return &domain.Rule{
		GroupID:         groupID,
		Name:            name,
		Description:     fieldString(field, "description"),
		EvaluationOrder: index,
		IsActive:        true,
		Metadata:        metadata,
		Actions: []domain.RuleAction{{
			ActionType: actionType,
			ValueUSD:   decimal.Zero,
			Modifiers: map[string]any{
				"baseline_placeholder": true,
				"baseline_unit":        unit,
			},
		}},
	}
}

func nthFieldName(i int) string {
	return fmt.Sprintf("field %d", i+1)
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
