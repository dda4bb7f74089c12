package condition

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// NoMatchQuery is the engine query matching no document. Emitted for
// conditions whose parameter templates stay unresolved.
const NoMatchQuery = "@itemType:{__none__}"

// BuildFunc translates one condition type into an engine query fragment.
type BuildFunc func(ctx context.Context, d *QueryBuilderDispatcher, c *Condition) (string, error)

type buildEntry struct {
	owner   string
	handler BuildFunc
}

// QueryBuilderDispatcher resolves query builders by condition type id. Same
// copy-on-write registry discipline as the evaluator dispatcher.
type QueryBuilderDispatcher struct {
	mu       sync.Mutex
	handlers atomic.Pointer[map[string]buildEntry]
}

// NewQueryBuilderDispatcher returns an empty query-builder registry.
func NewQueryBuilderDispatcher() *QueryBuilderDispatcher {
	d := &QueryBuilderDispatcher{}
	empty := map[string]buildEntry{}
	d.handlers.Store(&empty)
	return d
}

// Register binds a handler to a condition type id on behalf of owner.
// Idempotent; the last registration for an id wins.
func (d *QueryBuilderDispatcher) Register(condType, owner string, handler BuildFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cur := *d.handlers.Load()
	next := make(map[string]buildEntry, len(cur)+1)
	for k, v := range cur {
		next[k] = v
	}
	next[condType] = buildEntry{owner: owner, handler: handler}
	d.handlers.Store(&next)
}

// UnregisterAllFrom atomically removes every handler owned by owner.
func (d *QueryBuilderDispatcher) UnregisterAllFrom(owner string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cur := *d.handlers.Load()
	next := make(map[string]buildEntry, len(cur))
	for k, v := range cur {
		if v.owner != owner {
			next[k] = v
		}
	}
	d.handlers.Store(&next)
}

// Supports reports whether a handler is registered for the condition type.
func (d *QueryBuilderDispatcher) Supports(condType string) bool {
	_, ok := (*d.handlers.Load())[condType]
	return ok
}

// BuildQuery translates the condition into an engine query string. Unknown
// condition types are fatal on this side.
func (d *QueryBuilderDispatcher) BuildQuery(ctx context.Context, c *Condition) (string, error) {
	if c == nil {
		return "", Malformedf("nil condition")
	}
	entry, ok := (*d.handlers.Load())[c.Type]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedConditionType, c.Type)
	}
	return entry.handler(ctx, d, c)
}

// BuildFilter is BuildQuery with the result wrapped so it composes inside
// larger filter expressions.
func (d *QueryBuilderDispatcher) BuildFilter(ctx context.Context, c *Condition) (string, error) {
	q, err := d.BuildQuery(ctx, c)
	if err != nil {
		return "", err
	}
	return Wrap(q), nil
}

// GetQuery returns the serialized wire form of the built query, the shape
// stored for percolation.
func (d *QueryBuilderDispatcher) GetQuery(ctx context.Context, c *Condition) (string, error) {
	return d.BuildFilter(ctx, c)
}

// Wrap parenthesizes a query fragment unless it is already atomic.
func Wrap(q string) string {
	if q == "" || q == "*" {
		return q
	}
	if len(q) >= 2 && q[0] == '(' && q[len(q)-1] == ')' {
		return q
	}
	return "(" + q + ")"
}
