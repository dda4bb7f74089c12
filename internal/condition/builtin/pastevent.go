package builtin

import (
	"context"
	"fmt"

	"github.com/cdx-io/cdx/internal/condition"
	"github.com/cdx-io/cdx/internal/item"
)

// pastEventsPath is where profile maintenance records per-key occurrence
// counters of past events.
const pastEventsPath = "systemProperties.pastEvents"

// EvalPastEvent matches profiles whose past-event counter for the generated
// key satisfies the configured occurrence bounds.
func EvalPastEvent(ctx context.Context, d *condition.EvaluatorDispatcher, c *condition.Condition, it item.Item) (bool, error) {
	key := c.StringParameter("generatedPropertyKey")
	if key == "" {
		return false, condition.Malformedf("pastEventCondition requires generatedPropertyKey")
	}
	minCount, ok := c.IntParameter("minimumEventCount")
	if !ok {
		minCount = 1
	}
	maxCount, hasMax := c.IntParameter("maximumEventCount")

	raw, found := item.Lookup(it, pastEventsPath+"."+key)
	count := 0
	if found {
		if n, ok := asFloatValue(raw); ok {
			count = int(n)
		}
	}
	if count < minCount {
		return false, nil
	}
	if hasMax && count > maxCount {
		return false, nil
	}
	return true, nil
}

// BuildPastEvent emits a numeric range on the profile's past-event counter.
func BuildPastEvent(ctx context.Context, d *condition.QueryBuilderDispatcher, c *condition.Condition) (string, error) {
	key := c.StringParameter("generatedPropertyKey")
	if key == "" {
		return "", condition.Malformedf("pastEventCondition requires generatedPropertyKey")
	}
	minCount, ok := c.IntParameter("minimumEventCount")
	if !ok {
		minCount = 1
	}
	alias := FieldAlias(pastEventsPath + "." + key)
	if maxCount, hasMax := c.IntParameter("maximumEventCount"); hasMax {
		return fmt.Sprintf("@%s:[%d %d]", alias, minCount, maxCount), nil
	}
	return fmt.Sprintf("@%s:[%d +inf]", alias, minCount), nil
}
