package valuation

import (
	"fmt"
	"strings"

	"github.com/dealbrain/dealbrain/internal/domain"
)

// MatchConditions evaluates a flat condition list against a listing view.
// Consecutive conditions sharing group_order form a group; inside a group
// each condition combines with its predecessor via its own logical_operator
// (the first condition's operator is ignored). Groups are ANDed together.
// An empty list always matches.
func MatchConditions(conds []domain.RuleCondition, view *domain.ListingView) bool {
	if len(conds) == 0 {
		return true
	}
	i := 0
	for i < len(conds) {
		j := i + 1
		for j < len(conds) && conds[j].GroupOrder == conds[i].GroupOrder {
			j++
		}
		if !matchGroup(conds[i:j], view) {
			return false
		}
		i = j
	}
	return true
}

func matchGroup(group []domain.RuleCondition, view *domain.ListingView) bool {
	acc := evalCondition(group[0], view)
	for _, c := range group[1:] {
		r := evalCondition(c, view)
		if c.LogicalOperator != nil && *c.LogicalOperator == domain.LogicalOr {
			acc = acc || r
		} else {
			acc = acc && r
		}
	}
	return acc
}

// evalCondition applies one operator. Missing fields and failed coercions
// evaluate false, never error.
func evalCondition(c domain.RuleCondition, view *domain.ListingView) bool {
	field, ok := view.Resolve(c.FieldName)
	if !ok {
		return false
	}
	switch c.Operator {
	case domain.OpEquals:
		return looseEqual(field, c.Value)
	case domain.OpNotEquals:
		return !looseEqual(field, c.Value)
	case domain.OpGT, domain.OpGTE, domain.OpLT, domain.OpLTE:
		fv, ok1 := domain.CoerceNumber(field)
		cv, ok2 := domain.CoerceNumber(c.Value)
		if !ok1 || !ok2 {
			return false
		}
		switch c.Operator {
		case domain.OpGT:
			return fv > cv
		case domain.OpGTE:
			return fv >= cv
		case domain.OpLT:
			return fv < cv
		default:
			return fv <= cv
		}
	case domain.OpContains:
		return containsValue(field, c.Value)
	case domain.OpIn:
		list, ok := c.Value.([]any)
		if !ok {
			return false
		}
		for _, item := range list {
			if looseEqual(field, item) {
				return true
			}
		}
		return false
	case domain.OpBetween:
		bounds, ok := c.Value.([]any)
		if !ok || len(bounds) != 2 {
			return false
		}
		fv, ok1 := domain.CoerceNumber(field)
		lo, ok2 := domain.CoerceNumber(bounds[0])
		hi, ok3 := domain.CoerceNumber(bounds[1])
		return ok1 && ok2 && ok3 && fv >= lo && fv <= hi
	default:
		return false
	}
}

// looseEqual compares two JSON-ish scalars: numerically when both sides
// coerce, case-insensitively for strings, directly for bools.
func looseEqual(a, b any) bool {
	if fa, ok1 := domain.CoerceNumber(a); ok1 {
		if fb, ok2 := domain.CoerceNumber(b); ok2 {
			return fa == fb
		}
	}
	if ba, ok1 := a.(bool); ok1 {
		if bb, ok2 := b.(bool); ok2 {
			return ba == bb
		}
	}
	return strings.EqualFold(stringify(a), stringify(b))
}

// containsValue implements the contains operator: substring fold for string
// fields, membership for array fields.
func containsValue(field, needle any) bool {
	switch fv := field.(type) {
	case []any:
		for _, item := range fv {
			if looseEqual(item, needle) {
				return true
			}
		}
		return false
	case []string:
		for _, item := range fv {
			if looseEqual(item, needle) {
				return true
			}
		}
		return false
	default:
		fs := stringify(field)
		ns := stringify(needle)
		if fs == "" || ns == "" {
			return false
		}
		return strings.Contains(strings.ToLower(fs), strings.ToLower(ns))
	}
}

func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case nil:
		return ""
	default:
		// Enum-backed string types (condition, marketplace, ...) land here.
		return fmt.Sprintf("%v", v)
	}
}
