package builtin

import (
	"context"
	"fmt"

	"github.com/cdx-io/cdx/internal/condition"
	"github.com/cdx-io/cdx/internal/item"
)

// EvalEventDate matches timestamped items whose instant falls inside the
// [fromDate, toDate] window. Either bound may be omitted.
func EvalEventDate(ctx context.Context, d *condition.EvaluatorDispatcher, c *condition.Condition, it item.Item) (bool, error) {
	from, hasFrom := c.TimeParameter("fromDate")
	to, hasTo := c.TimeParameter("toDate")
	if !hasFrom && !hasTo {
		return false, condition.Malformedf("eventDateCondition requires fromDate or toDate")
	}

	ts, ok := it.(item.Timestamped)
	if !ok {
		return false, nil
	}
	instant := ts.TimeStamp()
	if hasFrom && instant.Before(from) {
		return false, nil
	}
	if hasTo && instant.After(to) {
		return false, nil
	}
	return true, nil
}

// BuildEventDate emits a range on the timestamp attribute.
func BuildEventDate(ctx context.Context, d *condition.QueryBuilderDispatcher, c *condition.Condition) (string, error) {
	from, hasFrom := c.TimeParameter("fromDate")
	to, hasTo := c.TimeParameter("toDate")
	if !hasFrom && !hasTo {
		return "", condition.Malformedf("eventDateCondition requires fromDate or toDate")
	}

	lo := "-inf"
	hi := "+inf"
	if hasFrom {
		lo = fmt.Sprintf("%d", from.UnixMilli())
	}
	if hasTo {
		hi = fmt.Sprintf("%d", to.UnixMilli())
	}
	return fmt.Sprintf("@%s:[%s %s]", DateAlias("timeStamp"), lo, hi), nil
}
