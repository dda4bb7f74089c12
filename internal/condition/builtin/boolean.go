package builtin

import (
	"context"
	"strings"

	"github.com/cdx-io/cdx/internal/condition"
	"github.com/cdx-io/cdx/internal/item"
)

// EvalBoolean evaluates a booleanCondition: "and" or "or" over the
// subConditions list, recursing through the dispatcher.
func EvalBoolean(ctx context.Context, d *condition.EvaluatorDispatcher, c *condition.Condition, it item.Item) (bool, error) {
	op := c.StringParameter("operator")
	if op != "and" && op != "or" {
		return false, condition.Malformedf("booleanCondition operator must be and/or, got %q", op)
	}
	subs := c.SubConditions("subConditions")
	for _, sub := range subs {
		ok, err := d.Eval(ctx, sub, it)
		if err != nil {
			return false, err
		}
		if op == "and" && !ok {
			return false, nil
		}
		if op == "or" && ok {
			return true, nil
		}
	}
	return op == "and", nil
}

// BuildBoolean joins sub-condition queries with the engine's AND (space)
// or OR (pipe) composition.
func BuildBoolean(ctx context.Context, d *condition.QueryBuilderDispatcher, c *condition.Condition) (string, error) {
	op := c.StringParameter("operator")
	if op != "and" && op != "or" {
		return "", condition.Malformedf("booleanCondition operator must be and/or, got %q", op)
	}
	subs := c.SubConditions("subConditions")
	if len(subs) == 0 {
		if op == "and" {
			return "*", nil
		}
		return condition.NoMatchQuery, nil
	}
	clauses := make([]string, len(subs))
	for i, sub := range subs {
		q, err := d.BuildFilter(ctx, sub)
		if err != nil {
			return "", err
		}
		clauses[i] = q
	}
	sep := " "
	if op == "or" {
		sep = " | "
	}
	return "(" + strings.Join(clauses, sep) + ")", nil
}

// EvalNot negates its single sub-condition.
func EvalNot(ctx context.Context, d *condition.EvaluatorDispatcher, c *condition.Condition, it item.Item) (bool, error) {
	sub, ok := c.SubCondition("subCondition")
	if !ok {
		return false, condition.Malformedf("notCondition requires subCondition")
	}
	matched, err := d.Eval(ctx, sub, it)
	if err != nil {
		return false, err
	}
	return !matched, nil
}

// BuildNot emits the negated sub-query.
func BuildNot(ctx context.Context, d *condition.QueryBuilderDispatcher, c *condition.Condition) (string, error) {
	sub, ok := c.SubCondition("subCondition")
	if !ok {
		return "", condition.Malformedf("notCondition requires subCondition")
	}
	q, err := d.BuildFilter(ctx, sub)
	if err != nil {
		return "", err
	}
	return "-" + q, nil
}

// EvalMatchAll matches every item.
func EvalMatchAll(ctx context.Context, d *condition.EvaluatorDispatcher, c *condition.Condition, it item.Item) (bool, error) {
	return true, nil
}

// BuildMatchAll emits the match-everything query.
func BuildMatchAll(ctx context.Context, d *condition.QueryBuilderDispatcher, c *condition.Condition) (string, error) {
	return "*", nil
}
