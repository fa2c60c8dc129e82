package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/dealbrain/dealbrain/internal/apperr"
	"github.com/dealbrain/dealbrain/internal/domain"
	"github.com/dealbrain/dealbrain/internal/persistence"
)

// rulesRepo implements persistence.RulesRepo on PostgreSQL.
type rulesRepo struct {
	db      sqlx.ExtContext
	timeout time.Duration
}

// NewRulesRepo creates a PostgreSQL rules repository.
func NewRulesRepo(db sqlx.ExtContext, timeout time.Duration) persistence.RulesRepo {
	return &rulesRepo{db: db, timeout: timeout}
}

const rulesetColumns = `
	id, name, description, version, priority, is_active, conditions_json,
	metadata, created_at, updated_at`

// rulesetRow wraps the header with its raw JSONB columns.
type rulesetRow struct {
	domain.Ruleset
	ConditionsJSON []byte `db:"conditions_json"`
	MetadataJSON   []byte `db:"metadata"`
}

func (r *rulesetRow) toDomain() (*domain.Ruleset, error) {
	rs := r.Ruleset
	if len(r.ConditionsJSON) > 0 {
		if err := json.Unmarshal(r.ConditionsJSON, &rs.RootConditions); err != nil {
			return nil, fmt.Errorf("ruleset %d: unmarshal conditions_json: %w", rs.ID, err)
		}
	}
	var err error
	if rs.Metadata, err = unmarshalMap("ruleset", r.MetadataJSON); err != nil {
		return nil, err
	}
	return &rs, nil
}

type ruleGroupRow struct {
	domain.RuleGroup
	MetadataJSON []byte `db:"metadata"`
}

type ruleRow struct {
	domain.Rule
	MetadataJSON []byte `db:"metadata"`
}

type conditionRow struct {
	domain.RuleCondition
	ValueJSON []byte `db:"value_json"`
}

type actionRow struct {
	domain.RuleAction
	ModifiersJSON []byte `db:"modifiers"`
}

func (r *rulesRepo) GetRuleset(ctx context.Context, id int64) (*domain.Ruleset, error) {
	sets, err := r.loadRulesets(ctx, "get ruleset", `WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	if len(sets) == 0 {
		return nil, nil
	}
	return &sets[0], nil
}

func (r *rulesRepo) ActiveRulesets(ctx context.Context) ([]domain.Ruleset, error) {
	return r.loadRulesets(ctx, "active rulesets", `WHERE is_active ORDER BY priority, id`)
}

// loadRulesets deep-loads rulesets plus their whole hierarchy in four
// queries, then assembles in memory. Orderings mirror evaluation order:
// groups by display_order, rules by (evaluation_order, priority).
func (r *rulesRepo) loadRulesets(ctx context.Context, op, clause string, args ...any) ([]domain.Ruleset, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var headRows []rulesetRow
	err := sqlx.SelectContext(ctx, r.db, &headRows,
		`SELECT`+rulesetColumns+` FROM valuation_ruleset `+clause, args...)
	if err != nil {
		return nil, mapErr(op, err)
	}
	if len(headRows) == 0 {
		return nil, nil
	}

	sets := make([]domain.Ruleset, 0, len(headRows))
	setIdx := make(map[int64]int, len(headRows))
	setIDs := make([]int64, 0, len(headRows))
	for i := range headRows {
		rs, err := headRows[i].toDomain()
		if err != nil {
			return nil, err
		}
		setIdx[rs.ID] = len(sets)
		setIDs = append(setIDs, rs.ID)
		sets = append(sets, *rs)
	}

	var groupRows []ruleGroupRow
	if err := r.selectIn(ctx, op, &groupRows,
		`SELECT id, ruleset_id, name, category, display_order, weight, metadata,
			created_at, updated_at
		 FROM valuation_rule_group WHERE ruleset_id IN (?)
		 ORDER BY ruleset_id, display_order, id`, setIDs); err != nil {
		return nil, err
	}
	if len(groupRows) == 0 {
		return sets, nil
	}

	groupIdx := make(map[int64][2]int, len(groupRows)) // group id -> (set idx, group idx)
	groupIDs := make([]int64, 0, len(groupRows))
	for i := range groupRows {
		g := groupRows[i].RuleGroup
		var err error
		if g.Metadata, err = unmarshalMap("rule group", groupRows[i].MetadataJSON); err != nil {
			return nil, err
		}
		si := setIdx[g.RulesetID]
		sets[si].Groups = append(sets[si].Groups, g)
		groupIdx[g.ID] = [2]int{si, len(sets[si].Groups) - 1}
		groupIDs = append(groupIDs, g.ID)
	}

	var ruleRows []ruleRow
	if err := r.selectIn(ctx, op, &ruleRows,
		`SELECT id, group_id, name, description, priority, evaluation_order,
			is_active, version, metadata, created_at, updated_at
		 FROM valuation_rule_v2 WHERE group_id IN (?)
		 ORDER BY group_id, evaluation_order, priority, id`, groupIDs); err != nil {
		return nil, err
	}
	if len(ruleRows) == 0 {
		return sets, nil
	}

	ruleIdx := make(map[int64][3]int, len(ruleRows)) // rule id -> (set, group, rule idx)
	ruleIDs := make([]int64, 0, len(ruleRows))
	for i := range ruleRows {
		rule := ruleRows[i].Rule
		var err error
		if rule.Metadata, err = unmarshalMap("rule", ruleRows[i].MetadataJSON); err != nil {
			return nil, err
		}
		gi, ok := groupIdx[rule.GroupID]
		if !ok {
			continue
		}
		grp := &sets[gi[0]].Groups[gi[1]]
		grp.Rules = append(grp.Rules, rule)
		ruleIdx[rule.ID] = [3]int{gi[0], gi[1], len(grp.Rules) - 1}
		ruleIDs = append(ruleIDs, rule.ID)
	}

	var condRows []conditionRow
	if err := r.selectIn(ctx, op, &condRows,
		`SELECT id, rule_id, field_name, field_type, operator, value_json,
			logical_operator, group_order
		 FROM valuation_rule_condition WHERE rule_id IN (?)
		 ORDER BY rule_id, group_order, id`, ruleIDs); err != nil {
		return nil, err
	}
	for i := range condRows {
		c := condRows[i].RuleCondition
		if len(condRows[i].ValueJSON) > 0 {
			if err := json.Unmarshal(condRows[i].ValueJSON, &c.Value); err != nil {
				return nil, fmt.Errorf("condition %d: unmarshal value: %w", c.ID, err)
			}
		}
		ri, ok := ruleIdx[c.RuleID]
		if !ok {
			continue
		}
		rule := &sets[ri[0]].Groups[ri[1]].Rules[ri[2]]
		rule.Conditions = append(rule.Conditions, c)
	}

	var actRows []actionRow
	if err := r.selectIn(ctx, op, &actRows,
		`SELECT id, rule_id, action_type, metric, value_usd, unit_type, formula,
			modifiers, display_order
		 FROM valuation_rule_action WHERE rule_id IN (?)
		 ORDER BY rule_id, display_order, id`, ruleIDs); err != nil {
		return nil, err
	}
	for i := range actRows {
		a := actRows[i].RuleAction
		var err error
		if a.Modifiers, err = unmarshalMap("rule action", actRows[i].ModifiersJSON); err != nil {
			return nil, err
		}
		ri, ok := ruleIdx[a.RuleID]
		if !ok {
			continue
		}
		rule := &sets[ri[0]].Groups[ri[1]].Rules[ri[2]]
		rule.Actions = append(rule.Actions, a)
	}

	return sets, nil
}

// selectIn expands an IN (?) query and rebinds it for PostgreSQL.
func (r *rulesRepo) selectIn(ctx context.Context, op string, dest any, query string, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	q, args, err := sqlx.In(query, ids)
	if err != nil {
		return fmt.Errorf("%s: expand query: %w", op, err)
	}
	if err := sqlx.SelectContext(ctx, r.db, dest, r.db.Rebind(q), args...); err != nil {
		return mapErr(op, err)
	}
	return nil
}

func (r *rulesRepo) FindRulesetBySourceHash(ctx context.Context, hash string) (*domain.Ruleset, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var row rulesetRow
	err := sqlx.GetContext(ctx, r.db, &row,
		`SELECT`+rulesetColumns+` FROM valuation_ruleset
		 WHERE metadata->>'source_hash' = $1 ORDER BY id LIMIT 1`, hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, mapErr("find ruleset by source hash", err)
	}
	return row.toDomain()
}

func (r *rulesRepo) CreateRuleset(ctx context.Context, rs *domain.Ruleset) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var conds []byte
	if len(rs.RootConditions) > 0 {
		var err error
		if conds, err = json.Marshal(rs.RootConditions); err != nil {
			return fmt.Errorf("create ruleset: marshal conditions: %w", err)
		}
	}
	meta, err := marshalMap("create ruleset", rs.Metadata)
	if err != nil {
		return err
	}

	err = r.db.QueryRowxContext(ctx,
		`INSERT INTO valuation_ruleset (name, description, version, priority,
			is_active, conditions_json, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, created_at, updated_at`,
		rs.Name, rs.Description, rs.Version, rs.Priority, rs.IsActive, conds, meta).
		Scan(&rs.ID, &rs.CreatedAt, &rs.UpdatedAt)
	if err != nil {
		return mapErr("create ruleset", err)
	}
	return nil
}

func (r *rulesRepo) CreateGroup(ctx context.Context, g *domain.RuleGroup) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	meta, err := marshalMap("create rule group", g.Metadata)
	if err != nil {
		return err
	}

	err = r.db.QueryRowxContext(ctx,
		`INSERT INTO valuation_rule_group (ruleset_id, name, category,
			display_order, weight, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at, updated_at`,
		g.RulesetID, g.Name, g.Category, g.DisplayOrder, g.Weight, meta).
		Scan(&g.ID, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return mapErr("create rule group", err)
	}
	return nil
}

func (r *rulesRepo) CreateRule(ctx context.Context, rule *domain.Rule) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	meta, err := marshalMap("create rule", rule.Metadata)
	if err != nil {
		return err
	}
	if rule.Version == 0 {
		rule.Version = 1
	}

	err = r.db.QueryRowxContext(ctx,
		`INSERT INTO valuation_rule_v2 (group_id, name, description, priority,
			evaluation_order, is_active, version, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id, created_at, updated_at`,
		rule.GroupID, rule.Name, rule.Description, rule.Priority,
		rule.EvaluationOrder, rule.IsActive, rule.Version, meta).
		Scan(&rule.ID, &rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		return mapErr("create rule", err)
	}

	for i := range rule.Conditions {
		c := &rule.Conditions[i]
		c.RuleID = rule.ID
		var value []byte
		if c.Value != nil {
			if value, err = json.Marshal(c.Value); err != nil {
				return fmt.Errorf("create rule: marshal condition value: %w", err)
			}
		}
		err = r.db.QueryRowxContext(ctx,
			`INSERT INTO valuation_rule_condition (rule_id, field_name,
				field_type, operator, value_json, logical_operator, group_order)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 RETURNING id`,
			c.RuleID, c.FieldName, c.FieldType, c.Operator, value,
			c.LogicalOperator, c.GroupOrder).Scan(&c.ID)
		if err != nil {
			return mapErr("create rule condition", err)
		}
	}

	for i := range rule.Actions {
		a := &rule.Actions[i]
		a.RuleID = rule.ID
		mods, err := marshalMap("create rule action", a.Modifiers)
		if err != nil {
			return err
		}
		err = r.db.QueryRowxContext(ctx,
			`INSERT INTO valuation_rule_action (rule_id, action_type, metric,
				value_usd, unit_type, formula, modifiers, display_order)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 RETURNING id`,
			a.RuleID, a.ActionType, a.Metric, a.ValueUSD, a.UnitType,
			a.Formula, mods, a.DisplayOrder).Scan(&a.ID)
		if err != nil {
			return mapErr("create rule action", err)
		}
	}

	return nil
}

func (r *rulesRepo) UpdateRuleStatus(ctx context.Context, ruleID int64, isActive bool, metadata map[string]any) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	meta, err := marshalMap("update rule status", metadata)
	if err != nil {
		return 0, err
	}

	var version int
	err = r.db.QueryRowxContext(ctx,
		`UPDATE valuation_rule_v2
		 SET is_active = $2, metadata = $3, version = version + 1,
			updated_at = now()
		 WHERE id = $1
		 RETURNING version`, ruleID, isActive, meta).Scan(&version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, apperr.NotFound("rule %d not found", ruleID)
		}
		return 0, mapErr("update rule status", err)
	}
	return version, nil
}

func (r *rulesRepo) UpdateRulesetActivation(ctx context.Context, id int64, active bool) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx,
		`UPDATE valuation_ruleset SET is_active = $2, updated_at = now() WHERE id = $1`,
		id, active)
	if err != nil {
		return mapErr("update ruleset activation", err)
	}
	return requireAffected("update ruleset activation", res)
}

func (r *rulesRepo) DeactivateSystemBaselines(ctx context.Context, exceptID int64) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx,
		`UPDATE valuation_ruleset SET is_active = false, updated_at = now()
		 WHERE id <> $1 AND is_active
		   AND metadata @> '{"system_baseline": true}'::jsonb`, exceptID)
	if err != nil {
		return 0, mapErr("deactivate system baselines", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, mapErr("deactivate system baselines", err)
	}
	return n, nil
}

func (r *rulesRepo) EnsureGroup(ctx context.Context, rulesetID int64, name, category string, metadata map[string]any) (*domain.RuleGroup, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	meta, err := marshalMap("ensure rule group", metadata)
	if err != nil {
		return nil, err
	}

	// (ruleset_id, name) is unique, so the upsert is a race-free
	// get-or-create; display_order appends at the end on insert.
	query := `
		INSERT INTO valuation_rule_group (ruleset_id, name, category,
			display_order, weight, metadata)
		VALUES ($1, $2, $3,
			(SELECT COALESCE(MAX(display_order), 0) + 1
			 FROM valuation_rule_group WHERE ruleset_id = $1),
			1.0, $4)
		ON CONFLICT (ruleset_id, name) DO UPDATE SET updated_at = now()
		RETURNING id, ruleset_id, name, category, display_order, weight,
			metadata, created_at, updated_at`

	var row ruleGroupRow
	if err := sqlx.GetContext(ctx, r.db, &row, query, rulesetID, name, category, meta); err != nil {
		return nil, mapErr("ensure rule group", err)
	}
	g := row.RuleGroup
	if g.Metadata, err = unmarshalMap("ensure rule group", row.MetadataJSON); err != nil {
		return nil, err
	}
	return &g, nil
}

func (r *rulesRepo) SaveRuleVersion(ctx context.Context, v *domain.RuleVersion) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO valuation_rule_version (rule_id, version, snapshot, changed_by)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`,
		v.RuleID, v.Version, v.Snapshot, v.ChangedBy).Scan(&v.ID, &v.CreatedAt)
	if err != nil {
		return mapErr("save rule version", err)
	}
	return nil
}

func (r *rulesRepo) AppendAudit(ctx context.Context, a *domain.RuleAudit) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	details, err := marshalMap("append audit", a.Details)
	if err != nil {
		return err
	}

	err = r.db.QueryRowxContext(ctx,
		`INSERT INTO valuation_rule_audit (entity_type, entity_id, action, actor, details)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at`,
		a.EntityType, a.EntityID, a.Action, a.Actor, details).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return mapErr("append audit", err)
	}
	return nil
}
