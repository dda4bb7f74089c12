package condition

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// templatePrefix marks parameter values substituted from the evaluation
// context.
const templatePrefix = "parameter::"

// foldable names the string parameters normalized before comparison.
var foldable = map[string]bool{
	"propertyValue":  true,
	"propertyValues": true,
	"scope":          true,
}

var foldTransformer = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Fold lowercases s and strips diacritics via NFKD decomposition, matching
// the index-side ASCII folding so comparisons are accent and case
// insensitive.
func Fold(s string) string {
	folded, _, err := transform.String(foldTransformer, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(folded)
}

// ContextualParameters returns a new condition tree with parameter templates
// of the form "parameter::<name>" substituted from ctx and foldable string
// parameters ASCII-folded. The input tree is never mutated. The second
// return is false when a template could not be resolved; the caller must
// treat the condition as false locally and as a no-match query remotely.
func ContextualParameters(c *Condition, ctx map[string]any) (*Condition, bool) {
	if c == nil {
		return nil, true
	}
	out := &Condition{Type: c.Type, Parameters: make(map[string]any, len(c.Parameters))}
	resolved := true
	for name, value := range c.Parameters {
		v, ok := contextualValue(name, value, ctx)
		if !ok {
			resolved = false
		}
		out.Parameters[name] = v
	}
	return out, resolved
}

func contextualValue(name string, value any, ctx map[string]any) (any, bool) {
	switch v := value.(type) {
	case string:
		if templateName, isTemplate := strings.CutPrefix(v, templatePrefix); isTemplate {
			substituted, ok := ctx[templateName]
			if !ok {
				return v, false
			}
			return foldIfNeeded(name, substituted), true
		}
		return foldIfNeeded(name, v), true
	case []any:
		out := make([]any, len(v))
		resolved := true
		for i, e := range v {
			ev, ok := contextualValue(name, e, ctx)
			if !ok {
				resolved = false
			}
			out[i] = ev
		}
		return out, resolved
	case map[string]any:
		if sub, ok := AsCondition(v); ok {
			subOut, resolved := ContextualParameters(sub, ctx)
			return map[string]any{"type": subOut.Type, "parameterValues": subOut.Parameters}, resolved
		}
		out := make(map[string]any, len(v))
		resolved := true
		for k, e := range v {
			ev, ok := contextualValue(k, e, ctx)
			if !ok {
				resolved = false
			}
			out[k] = ev
		}
		return out, resolved
	case *Condition:
		sub, resolved := ContextualParameters(v, ctx)
		return sub, resolved
	}
	return value, true
}

func foldIfNeeded(name string, v any) any {
	if !foldable[name] {
		return v
	}
	if s, ok := v.(string); ok {
		return Fold(s)
	}
	return v
}
