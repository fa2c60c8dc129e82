package domain

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/dealbrain/dealbrain/internal/apperr"
)

// ConditionOperator is the comparison applied by a rule condition.
type ConditionOperator string

const (
	OpEquals    ConditionOperator = "equals"
	OpNotEquals ConditionOperator = "not_equals"
	OpGT        ConditionOperator = "gt"
	OpGTE       ConditionOperator = "gte"
	OpLT        ConditionOperator = "lt"
	OpLTE       ConditionOperator = "lte"
	OpContains  ConditionOperator = "contains"
	OpIn        ConditionOperator = "in"
	OpBetween   ConditionOperator = "between"
)

// LogicalOperator joins a condition with its predecessor inside a group.
type LogicalOperator string

const (
	LogicalAnd LogicalOperator = "AND"
	LogicalOr  LogicalOperator = "OR"
)

// ActionType selects how a rule action produces its price delta.
type ActionType string

const (
	ActionFixedValue ActionType = "fixed_value"
	ActionPerUnit    ActionType = "per_unit"
	ActionMultiplier ActionType = "multiplier"
	ActionFormula    ActionType = "formula"
)

// Ruleset is the top of the valuation hierarchy. Lower priority evaluates
// earlier during dynamic selection.
type Ruleset struct {
	ID             int64           `json:"id" db:"id"`
	Name           string          `json:"name" db:"name"`
	Description    string          `json:"description,omitempty" db:"description"`
	Version        string          `json:"version" db:"version"`
	Priority       int             `json:"priority" db:"priority"`
	IsActive       bool            `json:"is_active" db:"is_active"`
	RootConditions []RuleCondition `json:"conditions,omitempty" db:"-"`
	Metadata       map[string]any  `json:"metadata,omitempty" db:"-"`
	Groups         []RuleGroup     `json:"groups,omitempty" db:"-"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`
}

// IsSystemBaseline reports whether the ruleset was materialized from a
// curated baseline artifact (read-only for users).
func (rs *Ruleset) IsSystemBaseline() bool {
	v, ok := rs.Metadata["system_baseline"]
	b, isBool := v.(bool)
	return ok && isBool && b
}

// SourceHash returns the content hash of the baseline artifact the ruleset
// was loaded from, or "".
func (rs *Ruleset) SourceHash() string {
	if s, ok := rs.Metadata["source_hash"].(string); ok {
		return s
	}
	return ""
}

// RuleGroup is an ordered, weighted category of rules inside a ruleset.
type RuleGroup struct {
	ID           int64          `json:"id" db:"id"`
	RulesetID    int64          `json:"ruleset_id" db:"ruleset_id"`
	Name         string         `json:"name" db:"name"`
	Category     string         `json:"category" db:"category"`
	DisplayOrder int            `json:"display_order" db:"display_order"`
	Weight       float64        `json:"weight" db:"weight"`
	Metadata     map[string]any `json:"metadata,omitempty" db:"-"`
	Rules        []Rule         `json:"rules,omitempty" db:"-"`
	CreatedAt    time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at" db:"updated_at"`
}

// Rule is one evaluable unit: a condition set plus an action list.
type Rule struct {
	ID              int64           `json:"id" db:"id"`
	GroupID         int64           `json:"group_id" db:"group_id"`
	Name            string          `json:"name" db:"name"`
	Description     string          `json:"description,omitempty" db:"description"`
	Priority        int             `json:"priority" db:"priority"`
	EvaluationOrder int             `json:"evaluation_order" db:"evaluation_order"`
	IsActive        bool            `json:"is_active" db:"is_active"`
	Version         int             `json:"version" db:"version"`
	Metadata        map[string]any  `json:"metadata,omitempty" db:"-"`
	Conditions      []RuleCondition `json:"conditions,omitempty" db:"-"`
	Actions         []RuleAction    `json:"actions,omitempty" db:"-"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at" db:"updated_at"`
}

// IsPlaceholder reports whether the rule is an unhydrated baseline
// placeholder.
func (r *Rule) IsPlaceholder() bool {
	b, ok := r.Metadata["baseline_placeholder"].(bool)
	return ok && b
}

// IsHydrated reports whether a placeholder has already been expanded.
func (r *Rule) IsHydrated() bool {
	b, ok := r.Metadata["hydrated"].(bool)
	return ok && b
}

// RuleCondition is one flat condition row. Consecutive rows sharing
// GroupOrder form a group combined by each row's LogicalOperator; groups are
// ANDed together.
type RuleCondition struct {
	ID              int64             `json:"id" db:"id"`
	RuleID          int64             `json:"rule_id" db:"rule_id"`
	FieldName       string            `json:"field_name" db:"field_name"`
	FieldType       string            `json:"field_type" db:"field_type"`
	Operator        ConditionOperator `json:"operator" db:"operator"`
	Value           any               `json:"value" db:"-"`
	LogicalOperator *LogicalOperator  `json:"logical_operator,omitempty" db:"logical_operator"`
	GroupOrder      int               `json:"group_order" db:"group_order"`
}

// RuleAction is one delta-producing action row.
type RuleAction struct {
	ID           int64           `json:"id" db:"id"`
	RuleID       int64           `json:"rule_id" db:"rule_id"`
	ActionType   ActionType      `json:"action_type" db:"action_type"`
	Metric       string          `json:"metric,omitempty" db:"metric"`
	ValueUSD     decimal.Decimal `json:"value_usd" db:"value_usd"`
	UnitType     string          `json:"unit_type,omitempty" db:"unit_type"`
	Formula      string          `json:"formula,omitempty" db:"formula"`
	Modifiers    map[string]any  `json:"modifiers,omitempty" db:"-"`
	DisplayOrder int             `json:"display_order" db:"display_order"`
}

// Validate enforces per-action invariants.
func (a *RuleAction) Validate() error {
	switch a.ActionType {
	case ActionFixedValue, ActionMultiplier:
	case ActionPerUnit:
		if a.Metric == "" {
			return apperr.Validation("per_unit action requires a metric")
		}
	case ActionFormula:
		if a.Formula == "" {
			return apperr.Validation("formula action requires an expression")
		}
	default:
		return apperr.Validation("unknown action type %q", a.ActionType)
	}
	return nil
}

// RuleVersion is an immutable snapshot taken on each rule edit.
type RuleVersion struct {
	ID        int64     `json:"id" db:"id"`
	RuleID    int64     `json:"rule_id" db:"rule_id"`
	Version   int       `json:"version" db:"version"`
	Snapshot  []byte    `json:"snapshot" db:"snapshot"`
	ChangedBy string    `json:"changed_by" db:"changed_by"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// RuleAudit is one append-only audit log row for ruleset/group/rule changes.
type RuleAudit struct {
	ID         int64          `json:"id" db:"id"`
	EntityType string         `json:"entity_type" db:"entity_type"`
	EntityID   int64          `json:"entity_id" db:"entity_id"`
	Action     string         `json:"action" db:"action"`
	Actor      string         `json:"actor" db:"actor"`
	Details    map[string]any `json:"details,omitempty" db:"-"`
	CreatedAt  time.Time      `json:"created_at" db:"created_at"`
}

// Audit action names.
const (
	AuditCreate        = "create"
	AuditUpdate        = "update"
	AuditDelete        = "delete"
	AuditBaselineAdopt = "baseline_adopt"
	AuditHydrate       = "hydrate"
)
