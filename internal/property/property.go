// Package property implements the event-driven property-update helpers
// consumed by action executors: single-value set strategies, bulk property
// copying with type-aware merge rules, and the set-property action.
package property

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/cdx-io/cdx/internal/item"
)

// Strategy names for single-value property updates.
const (
	StrategyAlwaysSet    = "alwaysSet"
	StrategySetIfMissing = "setIfMissing"
	StrategyAddValues    = "addValues"
	StrategySetIfGreater = "setIfGreater"
	StrategySetIfLess    = "setIfLess"
)

// SetProperty applies value to props[name] under the given strategy and
// reports whether the stored value changed.
func SetProperty(props map[string]any, name string, value any, strategy string) (bool, error) {
	existing, exists := props[name]
	switch strategy {
	case StrategyAlwaysSet, "":
		if exists && equalValues(existing, value) {
			return false, nil
		}
		props[name] = value
		return true, nil
	case StrategySetIfMissing:
		if exists && existing != nil {
			return false, nil
		}
		props[name] = value
		return true, nil
	case StrategyAddValues:
		merged, changed := appendValues(existing, value)
		if changed {
			props[name] = merged
		}
		return changed, nil
	case StrategySetIfGreater:
		return setIfCompared(props, name, value, func(cmp int) bool { return cmp > 0 })
	case StrategySetIfLess:
		return setIfCompared(props, name, value, func(cmp int) bool { return cmp < 0 })
	}
	return false, fmt.Errorf("unknown property strategy %q", strategy)
}

func setIfCompared(props map[string]any, name string, value any, accept func(int) bool) (bool, error) {
	existing, exists := props[name]
	if !exists || existing == nil {
		props[name] = value
		return true, nil
	}
	newN, okNew := numericValue(value)
	oldN, okOld := numericValue(existing)
	if !okNew || !okOld {
		return false, fmt.Errorf("property %q is not comparable", name)
	}
	switch {
	case newN > oldN && accept(1), newN < oldN && accept(-1):
		props[name] = value
		return true, nil
	}
	return false, nil
}

// appendValues merges value into an existing list, deduplicating, and
// reports whether anything was added.
func appendValues(existing, value any) (any, bool) {
	list := listOf(existing)
	add := listOf(value)
	changed := false
	for _, v := range add {
		if containsValue(list, v) {
			continue
		}
		list = append(list, v)
		changed = true
	}
	return list, changed
}

func listOf(v any) []any {
	switch l := v.(type) {
	case nil:
		return nil
	case []any:
		return l
	case []string:
		out := make([]any, len(l))
		for i, s := range l {
			out[i] = s
		}
		return out
	}
	return []any{v}
}

func containsValue(list []any, v any) bool {
	for _, e := range list {
		if equalValues(e, v) {
			return true
		}
	}
	return false
}

func equalValues(a, b any) bool {
	if an, ok := numericValue(a); ok {
		if bn, ok := numericValue(b); ok {
			return an == bn
		}
		return false
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func numericValue(v any) (float64, bool) {
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

// TypeResolver looks up the declared property type of a property name.
// Returning nil means the property is undeclared.
type TypeResolver func(name string) *item.PropertyType

// CopyOptions tunes CopyProperties.
type CopyOptions struct {
	// RequiredSystemTags skips source properties whose declared type
	// carries none of these tags. Empty means no tag filtering.
	RequiredSystemTags []string
	// SingleValueStrategy applies when neither the target value nor the
	// declared type is multi-valued. Defaults to alwaysSet.
	SingleValueStrategy string
	Types               TypeResolver
}

// CopyProperties merges the source property map into target and reports
// whether any value changed. List targets and multi-valued declared types
// append; scalar collisions with list sources are logged and skipped.
func CopyProperties(log *zap.Logger, source map[string]any, target map[string]any, opts CopyOptions) bool {
	if opts.SingleValueStrategy == "" {
		opts.SingleValueStrategy = StrategyAlwaysSet
	}
	changed := false
	for name, value := range source {
		var declared *item.PropertyType
		if opts.Types != nil {
			declared = opts.Types(name)
		}

		if len(opts.RequiredSystemTags) > 0 {
			if declared == nil || !hasAnyTag(declared, opts.RequiredSystemTags) {
				continue
			}
		}

		existing := target[name]
		_, existingIsList := existing.([]any)
		_, sourceIsList := value.([]any)

		switch {
		case existingIsList || (declared != nil && declared.IsMultivalued()):
			if ok, _ := SetProperty(target, name, value, StrategyAddValues); ok {
				changed = true
			}
		case sourceIsList:
			log.Info("skipping list value for scalar property",
				zap.String("property", name))
		default:
			ok, err := SetProperty(target, name, value, opts.SingleValueStrategy)
			if err != nil {
				log.Warn("property copy failed",
					zap.String("property", name),
					zap.Error(err))
				continue
			}
			if ok {
				changed = true
			}
		}
	}
	return changed
}

func hasAnyTag(pt *item.PropertyType, tags []string) bool {
	for _, tag := range tags {
		if pt.HasSystemTag(tag) {
			return true
		}
	}
	return false
}
