// Package condition implements the symbolic predicate trees of the platform:
// an immutable condition model, contextual parameter pre-processing, and the
// paired evaluator / query-builder dispatchers with pluggable handlers.
package condition

import (
	"encoding/json"
	"time"

	"github.com/cdx-io/cdx/internal/item"
)

// Condition is one node of a predicate tree: a condition type identifier
// plus a keyed parameter map. Parameter values may themselves hold nested
// conditions. Conditions are value types with structural equality.
type Condition struct {
	Type       string
	Parameters map[string]any
}

// New returns a condition of the given type with a copy of params.
func New(condType string, params map[string]any) *Condition {
	c := &Condition{Type: condType, Parameters: make(map[string]any, len(params))}
	for k, v := range params {
		c.Parameters[k] = v
	}
	return c
}

type conditionJSON struct {
	Type       string         `json:"type"`
	Parameters map[string]any `json:"parameterValues"`
}

func (c Condition) MarshalJSON() ([]byte, error) {
	return json.Marshal(conditionJSON{Type: c.Type, Parameters: c.Parameters})
}

func (c *Condition) UnmarshalJSON(data []byte) error {
	var raw conditionJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.Type = raw.Type
	c.Parameters = raw.Parameters
	return nil
}

// Equal reports structural equality. The canonical JSON form is compared
// because encoding/json renders map keys in sorted order.
func (c *Condition) Equal(other *Condition) bool {
	if c == nil || other == nil {
		return c == other
	}
	a, err := json.Marshal(c)
	if err != nil {
		return false
	}
	b, err := json.Marshal(other)
	if err != nil {
		return false
	}
	return string(a) == string(b)
}

// Parameter returns the raw parameter value.
func (c *Condition) Parameter(name string) (any, bool) {
	v, ok := c.Parameters[name]
	return v, ok
}

// StringParameter returns a string parameter, or "" when absent or not a
// string.
func (c *Condition) StringParameter(name string) string {
	s, _ := c.Parameters[name].(string)
	return s
}

// StringsParameter normalizes a parameter to a string slice. A lone string
// becomes a one-element slice; non-string list members are skipped.
func (c *Condition) StringsParameter(name string) []string {
	switch v := c.Parameters[name].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return []string{v}
	}
	return nil
}

// FloatParameter returns a numeric parameter. JSON decoding yields float64;
// integer literals set programmatically are widened.
func (c *Condition) FloatParameter(name string) (float64, bool) {
	return asFloat(c.Parameters[name])
}

// IntParameter returns an integer parameter.
func (c *Condition) IntParameter(name string) (int, bool) {
	f, ok := asFloat(c.Parameters[name])
	if !ok {
		return 0, false
	}
	return int(f), true
}

// TimeParameter parses a date parameter from its wire form.
func (c *Condition) TimeParameter(name string) (time.Time, bool) {
	switch v := c.Parameters[name].(type) {
	case time.Time:
		return v, true
	case item.Time:
		return v.Time, true
	case string:
		t, err := item.ParseTime(v)
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	}
	return time.Time{}, false
}

// SubCondition returns a parameter holding one nested condition.
func (c *Condition) SubCondition(name string) (*Condition, bool) {
	return AsCondition(c.Parameters[name])
}

// SubConditions returns a parameter holding a list of nested conditions.
func (c *Condition) SubConditions(name string) []*Condition {
	list, ok := c.Parameters[name].([]any)
	if !ok {
		if sub, ok := AsCondition(c.Parameters[name]); ok {
			return []*Condition{sub}
		}
		return nil
	}
	subs := make([]*Condition, 0, len(list))
	for _, e := range list {
		if sub, ok := AsCondition(e); ok {
			subs = append(subs, sub)
		}
	}
	return subs
}

// AsCondition coerces a parameter value into a condition. Values arriving
// from JSON are plain maps with "type" and "parameterValues" keys.
func AsCondition(v any) (*Condition, bool) {
	switch c := v.(type) {
	case *Condition:
		return c, true
	case Condition:
		return &c, true
	case map[string]any:
		condType, ok := c["type"].(string)
		if !ok {
			return nil, false
		}
		params, _ := c["parameterValues"].(map[string]any)
		return &Condition{Type: condType, Parameters: params}, true
	}
	return nil, false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
