package builtin

import (
	"context"
	"testing"

	"github.com/cdx-io/cdx/internal/condition"
	"github.com/cdx-io/cdx/internal/item"
)

func testDispatchers() (*condition.EvaluatorDispatcher, *condition.QueryBuilderDispatcher) {
	eval := condition.NewEvaluatorDispatcher()
	qb := condition.NewQueryBuilderDispatcher()
	Register(eval, qb)
	return eval, qb
}

func evalOn(t *testing.T, c *condition.Condition, it item.Item) bool {
	t.Helper()
	eval, _ := testDispatchers()
	ok, err := eval.Eval(context.Background(), c, it)
	if err != nil {
		t.Fatalf("Eval(%s): %v", c.Type, err)
	}
	return ok
}

func buildOn(t *testing.T, c *condition.Condition) string {
	t.Helper()
	_, qb := testDispatchers()
	q, err := qb.BuildQuery(context.Background(), c)
	if err != nil {
		t.Fatalf("BuildQuery(%s): %v", c.Type, err)
	}
	return q
}

func profileWith(props map[string]any) *item.Profile {
	p := item.NewProfile("p1")
	for k, v := range props {
		p.Properties[k] = v
	}
	return p
}

func propertyCondition(name, op string, extra map[string]any) *condition.Condition {
	params := map[string]any{
		"propertyName":       name,
		"comparisonOperator": op,
	}
	for k, v := range extra {
		params[k] = v
	}
	return condition.New(TypeProperty, params)
}
