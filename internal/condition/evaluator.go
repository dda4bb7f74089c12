package condition

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cdx-io/cdx/internal/item"
)

// EvalFunc evaluates one condition type against an in-memory item. Handlers
// recurse into sub-conditions through the dispatcher they receive.
type EvalFunc func(ctx context.Context, d *EvaluatorDispatcher, c *Condition, it item.Item) (bool, error)

type evalEntry struct {
	owner   string
	handler EvalFunc
}

// EvaluatorDispatcher resolves local evaluators by condition type id.
// Reads are lock-free: the handler map is replaced copy-on-write under the
// mutex and loaded atomically on every Eval.
type EvaluatorDispatcher struct {
	mu       sync.Mutex
	handlers atomic.Pointer[map[string]evalEntry]
}

// NewEvaluatorDispatcher returns an empty evaluator registry.
func NewEvaluatorDispatcher() *EvaluatorDispatcher {
	d := &EvaluatorDispatcher{}
	empty := map[string]evalEntry{}
	d.handlers.Store(&empty)
	return d
}

// Register binds a handler to a condition type id on behalf of owner.
// Idempotent; the last registration for an id wins.
func (d *EvaluatorDispatcher) Register(condType, owner string, handler EvalFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cur := *d.handlers.Load()
	next := make(map[string]evalEntry, len(cur)+1)
	for k, v := range cur {
		next[k] = v
	}
	next[condType] = evalEntry{owner: owner, handler: handler}
	d.handlers.Store(&next)
}

// UnregisterAllFrom atomically removes every handler owned by owner.
func (d *EvaluatorDispatcher) UnregisterAllFrom(owner string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cur := *d.handlers.Load()
	next := make(map[string]evalEntry, len(cur))
	for k, v := range cur {
		if v.owner != owner {
			next[k] = v
		}
	}
	d.handlers.Store(&next)
}

// Supports reports whether a handler is registered for the condition type.
func (d *EvaluatorDispatcher) Supports(condType string) bool {
	_, ok := (*d.handlers.Load())[condType]
	return ok
}

// Eval evaluates the condition against the item. An unregistered condition
// type returns ErrUnsupportedConditionType so the caller can fall back to
// the query path.
func (d *EvaluatorDispatcher) Eval(ctx context.Context, c *Condition, it item.Item) (bool, error) {
	if c == nil {
		return false, Malformedf("nil condition")
	}
	entry, ok := (*d.handlers.Load())[c.Type]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnsupportedConditionType, c.Type)
	}
	return entry.handler(ctx, d, c, it)
}
