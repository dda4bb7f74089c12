package builtin

import (
	"context"
	"strings"

	"github.com/cdx-io/cdx/internal/condition"
	"github.com/cdx-io/cdx/internal/db"
	"github.com/cdx-io/cdx/internal/item"
)

// EvalIDs matches items whose id is in the ids parameter.
func EvalIDs(ctx context.Context, d *condition.EvaluatorDispatcher, c *condition.Condition, it item.Item) (bool, error) {
	ids := c.StringsParameter("ids")
	if len(ids) == 0 {
		return false, condition.Malformedf("idsCondition requires a non-empty ids list")
	}
	for _, id := range ids {
		if it.ItemID() == id {
			return true, nil
		}
	}
	return false, nil
}

// BuildIDs emits a membership clause on the itemId attribute.
func BuildIDs(ctx context.Context, d *condition.QueryBuilderDispatcher, c *condition.Condition) (string, error) {
	ids := c.StringsParameter("ids")
	if len(ids) == 0 {
		return "", condition.Malformedf("idsCondition requires a non-empty ids list")
	}
	escaped := make([]string, len(ids))
	for i, id := range ids {
		escaped[i] = db.EscapeTag(id)
	}
	return "@itemId:{" + strings.Join(escaped, "|") + "}", nil
}
