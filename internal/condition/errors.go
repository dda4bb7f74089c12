package condition

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedCondition marks a condition with a missing required
	// parameter, wrong arity or unknown operator. Never treated as a
	// silent match or no-match.
	ErrMalformedCondition = errors.New("malformed condition")

	// ErrUnsupportedConditionType marks a condition whose type has no
	// registered handler. On the evaluator side callers may fall back to
	// the query-builder path.
	ErrUnsupportedConditionType = errors.New("unsupported condition type")
)

// Malformedf wraps ErrMalformedCondition with detail.
func Malformedf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrMalformedCondition}, args...)...)
}
