package builtin

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cdx-io/cdx/internal/condition"
	"github.com/cdx-io/cdx/internal/db"
	"github.com/cdx-io/cdx/internal/item"
)

// scalar is one typed comparison operand.
type scalar struct {
	kind byte // 's' string, 'n' numeric, 'd' date
	str  string
	num  float64
	date time.Time
}

// EvalProperty evaluates a propertyCondition against an in-memory item.
func EvalProperty(ctx context.Context, d *condition.EvaluatorDispatcher, c *condition.Condition, it item.Item) (bool, error) {
	name := c.StringParameter("propertyName")
	if name == "" {
		return false, condition.Malformedf("propertyCondition requires propertyName")
	}
	op := c.StringParameter("comparisonOperator")
	if op == "" {
		return false, condition.Malformedf("propertyCondition requires comparisonOperator")
	}

	actual, found := item.Lookup(it, name)
	if found && actual == nil {
		found = false
	}

	switch op {
	case "exists":
		return found, nil
	case "missing":
		return !found, nil
	}

	expected, err := singleExpected(c)
	if err != nil {
		return false, err
	}
	expectedList, err := listExpected(c)
	if err != nil {
		return false, err
	}

	switch op {
	case "equals":
		return requireSingle(op, expected, func(v scalar) (bool, error) {
			return anyActual(actual, func(a scalar) bool { return equalScalar(a, v) }), nil
		})
	case "notEquals":
		ok, err := EvalProperty(ctx, d, withOperator(c, "equals"), it)
		return !ok && err == nil, err
	case "greaterThan":
		return compareActual(op, actual, expected, func(cmp int) bool { return cmp > 0 })
	case "greaterThanOrEqualTo":
		return compareActual(op, actual, expected, func(cmp int) bool { return cmp >= 0 })
	case "lessThan":
		return compareActual(op, actual, expected, func(cmp int) bool { return cmp < 0 })
	case "lessThanOrEqualTo":
		return compareActual(op, actual, expected, func(cmp int) bool { return cmp <= 0 })
	case "between":
		if len(expectedList) != 2 {
			return false, condition.Malformedf("between requires exactly two values")
		}
		if !found {
			return false, nil
		}
		boundLo := promoteNumeric(expectedList[0])
		boundHi := promoteNumeric(expectedList[1])
		return anyActual(actual, func(a scalar) bool {
			lo, okLo := compareScalar(a, boundLo)
			hi, okHi := compareScalar(a, boundHi)
			return okLo && okHi && lo >= 0 && hi <= 0
		}), nil
	case "contains", "startsWith", "endsWith":
		return requireSingle(op, expected, func(v scalar) (bool, error) {
			if v.kind != 's' {
				return false, condition.Malformedf("%s requires a string value", op)
			}
			return anyActual(actual, func(a scalar) bool {
				folded := condition.Fold(a.str)
				switch op {
				case "contains":
					return strings.Contains(folded, v.str)
				case "startsWith":
					return strings.HasPrefix(folded, v.str)
				default:
					return strings.HasSuffix(folded, v.str)
				}
			}), nil
		})
	case "matchesRegex":
		return requireSingle(op, expected, func(v scalar) (bool, error) {
			re, err := regexp.Compile("^(?:" + v.str + ")$")
			if err != nil {
				return false, condition.Malformedf("invalid regex %q: %v", v.str, err)
			}
			return anyActual(actual, func(a scalar) bool { return re.MatchString(a.str) }), nil
		})
	case "in":
		if len(expectedList) == 0 {
			return false, condition.Malformedf("in requires a non-empty value list")
		}
		return anyActual(actual, func(a scalar) bool {
			for _, v := range expectedList {
				if equalScalar(a, v) {
					return true
				}
			}
			return false
		}), nil
	case "notIn":
		ok, err := EvalProperty(ctx, d, withOperator(c, "in"), it)
		return !ok && err == nil, err
	case "all":
		if len(expectedList) == 0 {
			return false, condition.Malformedf("all requires a non-empty value list")
		}
		for _, v := range expectedList {
			if !anyActual(actual, func(a scalar) bool { return equalScalar(a, v) }) {
				return false, nil
			}
		}
		return found, nil
	case "isDay":
		return requireSingle(op, expected, func(v scalar) (bool, error) {
			if v.kind != 'd' {
				return false, condition.Malformedf("isDay requires a date value")
			}
			return anyActual(actual, func(a scalar) bool {
				t, ok := asDate(a)
				return ok && sameUTCDay(t, v.date)
			}), nil
		})
	case "isNotDay":
		ok, err := EvalProperty(ctx, d, withOperator(c, "isDay"), it)
		return !ok && err == nil, err
	}
	return false, condition.Malformedf("unknown comparison operator %q", op)
}

// BuildProperty translates a propertyCondition into an engine query clause.
func BuildProperty(ctx context.Context, d *condition.QueryBuilderDispatcher, c *condition.Condition) (string, error) {
	name := c.StringParameter("propertyName")
	if name == "" {
		return "", condition.Malformedf("propertyCondition requires propertyName")
	}
	op := c.StringParameter("comparisonOperator")
	if op == "" {
		return "", condition.Malformedf("propertyCondition requires comparisonOperator")
	}

	expected, err := singleExpected(c)
	if err != nil {
		return "", err
	}
	expectedList, err := listExpected(c)
	if err != nil {
		return "", err
	}

	switch op {
	case "exists":
		return "@" + FieldAlias(name) + ":*", nil
	case "missing":
		return "-@" + FieldAlias(name) + ":*", nil
	case "equals":
		return requireSingleQ(op, expected, func(v scalar) (string, error) {
			return equalsClause(name, v), nil
		})
	case "notEquals":
		return requireSingleQ(op, expected, func(v scalar) (string, error) {
			return "-" + equalsClause(name, v), nil
		})
	case "greaterThan":
		return rangeClause(name, expected, "(", "", "+inf")
	case "greaterThanOrEqualTo":
		return rangeClause(name, expected, "", "", "+inf")
	case "lessThan":
		return rangeClause(name, expected, "", "(", "-inf")
	case "lessThanOrEqualTo":
		return rangeClause(name, expected, "", "", "-inf")
	case "between":
		if len(expectedList) != 2 {
			return "", condition.Malformedf("between requires exactly two values")
		}
		lo, okLo := numericBound(expectedList[0])
		hi, okHi := numericBound(expectedList[1])
		if !okLo || !okHi {
			return "", condition.Malformedf("between requires numeric or date bounds")
		}
		return fmt.Sprintf("@%s:[%s %s]", rangeAlias(name, expectedList[0]), lo, hi), nil
	case "contains", "startsWith", "endsWith":
		return requireSingleQ(op, expected, func(v scalar) (string, error) {
			if v.kind != 's' {
				return "", condition.Malformedf("%s requires a string value", op)
			}
			escaped := db.EscapeTag(v.str)
			switch op {
			case "contains":
				return "@" + FieldAlias(name) + ":{*" + escaped + "*}", nil
			case "startsWith":
				return "@" + FieldAlias(name) + ":{" + escaped + "*}", nil
			default:
				return "@" + FieldAlias(name) + ":{*" + escaped + "}", nil
			}
		})
	case "matchesRegex":
		return requireSingleQ(op, expected, func(v scalar) (string, error) {
			wildcard, err := regexToWildcard(v.str)
			if err != nil {
				return "", err
			}
			return "@" + FieldAlias(name) + ":{" + wildcard + "}", nil
		})
	case "in":
		return membershipClause(name, expectedList)
	case "notIn":
		clause, err := membershipClause(name, expectedList)
		if err != nil {
			return "", err
		}
		return "-" + clause, nil
	case "all":
		if len(expectedList) == 0 {
			return "", condition.Malformedf("all requires a non-empty value list")
		}
		clauses := make([]string, len(expectedList))
		for i, v := range expectedList {
			clauses[i] = equalsClause(name, v)
		}
		return "(" + strings.Join(clauses, " ") + ")", nil
	case "isDay", "isNotDay":
		return requireSingleQ(op, expected, func(v scalar) (string, error) {
			if v.kind != 'd' {
				return "", condition.Malformedf("%s requires a date value", op)
			}
			start := v.date.UTC().Truncate(24 * time.Hour)
			end := start.Add(24*time.Hour - time.Millisecond)
			clause := fmt.Sprintf("@%s:[%d %d]", DateAlias(name), start.UnixMilli(), end.UnixMilli())
			if op == "isNotDay" {
				clause = "-" + clause
			}
			return clause, nil
		})
	}
	return "", condition.Malformedf("unknown comparison operator %q", op)
}

// singleExpected extracts the single comparison value, preferring the typed
// parameter variants.
func singleExpected(c *condition.Condition) (*scalar, error) {
	if v, ok := c.Parameter("propertyValue"); ok && v != nil {
		if s, ok := v.(string); ok {
			return &scalar{kind: 's', str: s}, nil
		}
		if n, ok := c.FloatParameter("propertyValue"); ok {
			return &scalar{kind: 'n', num: n}, nil
		}
		return &scalar{kind: 's', str: fmt.Sprint(v)}, nil
	}
	if n, ok := c.FloatParameter("propertyValueInteger"); ok {
		return &scalar{kind: 'n', num: n}, nil
	}
	if t, ok := c.TimeParameter("propertyValueDate"); ok {
		return &scalar{kind: 'd', date: t}, nil
	}
	return nil, nil
}

// listExpected extracts the multi-value comparison list.
func listExpected(c *condition.Condition) ([]scalar, error) {
	if strs := c.StringsParameter("propertyValues"); len(strs) > 0 {
		out := make([]scalar, len(strs))
		for i, s := range strs {
			out[i] = scalar{kind: 's', str: s}
		}
		return out, nil
	}
	if raw, ok := c.Parameter("propertyValuesInteger"); ok {
		list, _ := raw.([]any)
		out := make([]scalar, 0, len(list))
		for _, e := range list {
			if n, ok := asFloatValue(e); ok {
				out = append(out, scalar{kind: 'n', num: n})
			}
		}
		return out, nil
	}
	if raw, ok := c.Parameter("propertyValuesDate"); ok {
		list, _ := raw.([]any)
		out := make([]scalar, 0, len(list))
		for _, e := range list {
			if s, ok := e.(string); ok {
				t, err := item.ParseTime(s)
				if err != nil {
					return nil, condition.Malformedf("unparseable date %q", s)
				}
				out = append(out, scalar{kind: 'd', date: t})
			}
		}
		return out, nil
	}
	// generic propertyValues may carry a mixed []any
	if raw, ok := c.Parameter("propertyValues"); ok {
		list, _ := raw.([]any)
		out := make([]scalar, 0, len(list))
		for _, e := range list {
			if n, ok := asFloatValue(e); ok {
				out = append(out, scalar{kind: 'n', num: n})
			} else {
				out = append(out, scalar{kind: 's', str: fmt.Sprint(e)})
			}
		}
		return out, nil
	}
	return nil, nil
}

func requireSingle(op string, v *scalar, fn func(scalar) (bool, error)) (bool, error) {
	if v == nil {
		return false, condition.Malformedf("%s requires a value", op)
	}
	return fn(*v)
}

func requireSingleQ(op string, v *scalar, fn func(scalar) (string, error)) (string, error) {
	if v == nil {
		return "", condition.Malformedf("%s requires a value", op)
	}
	return fn(*v)
}

func withOperator(c *condition.Condition, op string) *condition.Condition {
	out := condition.New(c.Type, c.Parameters)
	out.Parameters["comparisonOperator"] = op
	return out
}

// anyActual applies pred over the item value, iterating when it is a list.
func anyActual(actual any, pred func(scalar) bool) bool {
	switch v := actual.(type) {
	case nil:
		return false
	case []any:
		for _, e := range v {
			if s, ok := actualScalar(e); ok && pred(s) {
				return true
			}
		}
		return false
	default:
		s, ok := actualScalar(actual)
		return ok && pred(s)
	}
}

func actualScalar(v any) (scalar, bool) {
	switch a := v.(type) {
	case string:
		return scalar{kind: 's', str: a}, true
	case bool:
		return scalar{kind: 's', str: strconv.FormatBool(a)}, true
	default:
		if n, ok := asFloatValue(v); ok {
			return scalar{kind: 'n', num: n}, true
		}
	}
	return scalar{}, false
}

func asFloatValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func compareActual(op string, actual any, expected *scalar, accept func(int) bool) (bool, error) {
	if expected == nil {
		return false, condition.Malformedf("%s requires a value", op)
	}
	exp := promoteNumeric(*expected)
	return anyActual(actual, func(a scalar) bool {
		cmp, ok := compareScalar(a, exp)
		return ok && accept(cmp)
	}), nil
}

// promoteNumeric mirrors numericBound on the evaluator side: a string
// operand that parses as a number orders numerically, so the two dispatch
// paths agree on range operators. Equality stays a tag match on both sides.
func promoteNumeric(v scalar) scalar {
	if v.kind == 's' {
		if n, err := strconv.ParseFloat(v.str, 64); err == nil {
			return scalar{kind: 'n', num: n}
		}
	}
	return v
}

// compareScalar orders an item value against an expected value: numerically,
// by instant for dates, lexically on folded strings otherwise.
func compareScalar(a, expected scalar) (int, bool) {
	switch expected.kind {
	case 'n':
		var av float64
		switch a.kind {
		case 'n':
			av = a.num
		case 's':
			parsed, err := strconv.ParseFloat(a.str, 64)
			if err != nil {
				return 0, false
			}
			av = parsed
		default:
			return 0, false
		}
		switch {
		case av < expected.num:
			return -1, true
		case av > expected.num:
			return 1, true
		}
		return 0, true
	case 'd':
		at, ok := asDate(a)
		if !ok {
			return 0, false
		}
		return at.Compare(expected.date), true
	default:
		if a.kind != 's' {
			a.str = strconv.FormatFloat(a.num, 'f', -1, 64)
		}
		return strings.Compare(condition.Fold(a.str), condition.Fold(expected.str)), true
	}
}

func equalScalar(a, expected scalar) bool {
	cmp, ok := compareScalar(a, expected)
	return ok && cmp == 0
}

func asDate(a scalar) (time.Time, bool) {
	switch a.kind {
	case 'd':
		return a.date, true
	case 'n':
		return time.UnixMilli(int64(a.num)).UTC(), true
	case 's':
		t, err := item.ParseTime(a.str)
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	}
	return time.Time{}, false
}

func sameUTCDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

// equalsClause emits an exact-equality clause typed by the expected value.
func equalsClause(name string, v scalar) string {
	switch v.kind {
	case 'n':
		b := strconv.FormatFloat(v.num, 'f', -1, 64)
		return fmt.Sprintf("@%s:[%s %s]", FieldAlias(name), b, b)
	case 'd':
		ms := strconv.FormatInt(v.date.UnixMilli(), 10)
		return fmt.Sprintf("@%s:[%s %s]", DateAlias(name), ms, ms)
	default:
		return "@" + FieldAlias(name) + ":{" + db.EscapeTag(v.str) + "}"
	}
}

// rangeClause emits an open range clause. edge is "+inf" for lower-bounded
// operators and "-inf" for upper-bounded ones.
func rangeClause(name string, expected *scalar, loExcl, hiExcl, edge string) (string, error) {
	if expected == nil {
		return "", condition.Malformedf("range operator requires a value")
	}
	bound, ok := numericBound(*expected)
	if !ok {
		return "", condition.Malformedf("range operator requires a numeric or date value")
	}
	alias := rangeAlias(name, *expected)
	if edge == "+inf" {
		return fmt.Sprintf("@%s:[%s%s +inf]", alias, loExcl, bound), nil
	}
	return fmt.Sprintf("@%s:[-inf %s%s]", alias, hiExcl, bound), nil
}

func rangeAlias(name string, v scalar) string {
	if v.kind == 'd' {
		return DateAlias(name)
	}
	return FieldAlias(name)
}

func numericBound(v scalar) (string, bool) {
	switch v.kind {
	case 'n':
		return strconv.FormatFloat(v.num, 'f', -1, 64), true
	case 'd':
		return strconv.FormatInt(v.date.UnixMilli(), 10), true
	case 's':
		if _, err := strconv.ParseFloat(v.str, 64); err == nil {
			return v.str, true
		}
	}
	return "", false
}

func membershipClause(name string, values []scalar) (string, error) {
	if len(values) == 0 {
		return "", condition.Malformedf("in requires a non-empty value list")
	}
	if values[0].kind == 's' {
		escaped := make([]string, len(values))
		for i, v := range values {
			escaped[i] = db.EscapeTag(v.str)
		}
		return "@" + FieldAlias(name) + ":{" + strings.Join(escaped, "|") + "}", nil
	}
	clauses := make([]string, len(values))
	for i, v := range values {
		clauses[i] = equalsClause(name, v)
	}
	return "(" + strings.Join(clauses, "|") + ")", nil
}

// regexToWildcard translates the regex subset expressible as a glob into a
// wildcard TAG match: ".*" becomes "*", "." becomes "?", anchors drop.
// Anything else is rejected so the two dispatch paths never silently
// disagree.
func regexToWildcard(pattern string) (string, error) {
	pattern = strings.TrimPrefix(pattern, "^")
	pattern = strings.TrimSuffix(pattern, "$")
	var out strings.Builder
	for i := 0; i < len(pattern); i++ {
		ch := pattern[i]
		switch ch {
		case '.':
			if i+1 < len(pattern) && pattern[i+1] == '*' {
				out.WriteByte('*')
				i++
			} else {
				out.WriteByte('?')
			}
		case '\\':
			if i+1 >= len(pattern) {
				return "", condition.Malformedf("trailing escape in regex %q", pattern)
			}
			i++
			out.WriteString(db.EscapeTag(string(pattern[i])))
		case '*', '+', '?', '[', ']', '(', ')', '{', '}', '|', '$', '^':
			return "", condition.Malformedf("regex %q is not expressible as a remote query", pattern)
		default:
			out.WriteString(db.EscapeTag(string(ch)))
		}
	}
	return out.String(), nil
}
