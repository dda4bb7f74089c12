package builtin

import (
	"context"
	"testing"

	"github.com/cdx-io/cdx/internal/condition"
)

func TestEvalBoolean(t *testing.T) {
	p := profileWith(map[string]any{"age": 30, "country": "france"})

	adult := propertyCondition("properties.age", "greaterThanOrEqualTo", map[string]any{"propertyValueInteger": 18})
	french := propertyCondition("properties.country", "equals", map[string]any{"propertyValue": "france"})
	german := propertyCondition("properties.country", "equals", map[string]any{"propertyValue": "germany"})

	tests := []struct {
		name string
		op   string
		subs []any
		want bool
	}{
		{"and both", "and", []any{adult, french}, true},
		{"and one fails", "and", []any{adult, german}, false},
		{"or one", "or", []any{german, french}, true},
		{"or none", "or", []any{german}, false},
		{"empty and", "and", nil, true},
		{"empty or", "or", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := condition.New(TypeBoolean, map[string]any{
				"operator":      tt.op,
				"subConditions": tt.subs,
			})
			if got := evalOn(t, c, p); got != tt.want {
				t.Errorf("eval = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBuildBoolean(t *testing.T) {
	adult := propertyCondition("properties.age", "greaterThanOrEqualTo", map[string]any{"propertyValueInteger": 18})
	french := propertyCondition("properties.country", "equals", map[string]any{"propertyValue": "france"})

	and := condition.New(TypeBoolean, map[string]any{
		"operator":      "and",
		"subConditions": []any{adult, french},
	})
	want := "((@properties_age:[18 +inf]) (@properties_country:{france}))"
	if got := buildOn(t, and); got != want {
		t.Errorf("and query = %q, want %q", got, want)
	}

	or := condition.New(TypeBoolean, map[string]any{
		"operator":      "or",
		"subConditions": []any{adult, french},
	})
	want = "((@properties_age:[18 +inf]) | (@properties_country:{france}))"
	if got := buildOn(t, or); got != want {
		t.Errorf("or query = %q, want %q", got, want)
	}
}

func TestBuildBooleanEmpty(t *testing.T) {
	and := condition.New(TypeBoolean, map[string]any{"operator": "and"})
	if got := buildOn(t, and); got != "*" {
		t.Errorf("empty and = %q, want *", got)
	}
	or := condition.New(TypeBoolean, map[string]any{"operator": "or"})
	if got := buildOn(t, or); got != condition.NoMatchQuery {
		t.Errorf("empty or = %q, want no-match query", got)
	}
}

func TestBooleanRejectsUnknownOperator(t *testing.T) {
	c := condition.New(TypeBoolean, map[string]any{"operator": "xor"})
	eval, qb := testDispatchers()
	if _, err := eval.Eval(context.Background(), c, profileWith(nil)); err == nil {
		t.Error("eval accepted xor")
	}
	if _, err := qb.BuildQuery(context.Background(), c); err == nil {
		t.Error("build accepted xor")
	}
}

func TestNotCondition(t *testing.T) {
	french := propertyCondition("properties.country", "equals", map[string]any{"propertyValue": "france"})
	not := condition.New(TypeNot, map[string]any{"subCondition": french})

	if !evalOn(t, not, profileWith(map[string]any{"country": "germany"})) {
		t.Error("not(france) should match a german profile")
	}
	if evalOn(t, not, profileWith(map[string]any{"country": "france"})) {
		t.Error("not(france) should not match a french profile")
	}

	if got := buildOn(t, not); got != "-(@properties_country:{france})" {
		t.Errorf("query = %q", got)
	}
}

func TestMatchAllCondition(t *testing.T) {
	c := condition.New(TypeMatchAll, nil)
	if !evalOn(t, c, profileWith(nil)) {
		t.Error("matchAll should match")
	}
	if got := buildOn(t, c); got != "*" {
		t.Errorf("query = %q, want *", got)
	}
}

func TestDualPathAgreement(t *testing.T) {
	// malformed trees must be rejected by both dispatch paths
	eval, qb := testDispatchers()
	p := profileWith(map[string]any{"age": 30})

	conds := []*condition.Condition{
		propertyCondition("properties.age", "between", map[string]any{"propertyValuesInteger": []any{1}}),
		condition.New(TypeBoolean, map[string]any{"operator": "maybe"}),
		condition.New(TypeNot, nil),
		condition.New(TypeIDs, nil),
		condition.New(TypePastEvent, nil),
		condition.New(TypeEventDate, nil),
	}
	for _, c := range conds {
		_, evalErr := eval.Eval(context.Background(), c, p)
		_, buildErr := qb.BuildQuery(context.Background(), c)
		if evalErr == nil || buildErr == nil {
			t.Errorf("%s %v: eval err %v, build err %v", c.Type, c.Parameters, evalErr, buildErr)
		}
	}
}
