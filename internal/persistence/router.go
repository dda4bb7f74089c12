// Package persistence implements the item-store facade: CRUD, condition and
// full-text queries, aggregations, percolation, index lifecycle and the
// cluster inventory, on top of the engine store.
package persistence

import (
	"fmt"
	"regexp"
	"time"

	"github.com/cdx-io/cdx/internal/config"
)

// monthlySuffix matches the YYYY-MM suffix of monthly index names.
var monthlySuffix = regexp.MustCompile(`^(\d{4})-(\d{2})$`)

// Router resolves the physical index for an item kind. It is a pure
// function of the static index bindings: dedicated kinds go to their bound
// index, monthly kinds to <base>-YYYY-MM partitions, everything else to the
// shared base index.
type Router struct {
	base          string
	indexNames    map[string]string
	monthly       map[string]bool
	routingByType map[string]string
}

// NewRouter builds a router from the index configuration.
func NewRouter(cfg *config.IndexConfig) *Router {
	monthly := make(map[string]bool, len(cfg.ItemsMonthlyIndexed))
	for _, kind := range cfg.ItemsMonthlyIndexed {
		monthly[kind] = true
	}
	return &Router{
		base:          cfg.Name,
		indexNames:    cfg.IndexNames,
		monthly:       monthly,
		routingByType: cfg.RoutingByType,
	}
}

// Base returns the shared base index name.
func (r *Router) Base() string { return r.base }

// IsMonthly reports whether the kind lives in time-partitioned indices.
func (r *Router) IsMonthly(itemType string) bool { return r.monthly[itemType] }

// IsDedicated reports whether the kind is pinned to its own index.
func (r *Router) IsDedicated(itemType string) bool {
	_, ok := r.indexNames[itemType]
	return ok
}

// RoutingField returns the shard-routing field for the kind, if bound.
func (r *Router) RoutingField(itemType string) (string, bool) {
	f, ok := r.routingByType[itemType]
	return f, ok
}

// IndexForWrite resolves the index receiving a write of the given kind.
// Monthly kinds partition on the item timestamp.
func (r *Router) IndexForWrite(itemType string, ts time.Time) string {
	if name, ok := r.indexNames[itemType]; ok {
		return name
	}
	if r.monthly[itemType] {
		return r.MonthlyIndex(ts)
	}
	return r.base
}

// MonthlyIndex returns the partition name for the given instant.
func (r *Router) MonthlyIndex(ts time.Time) string {
	t := ts.UTC()
	return fmt.Sprintf("%s-%04d-%02d", r.base, t.Year(), int(t.Month()))
}

// MonthOf parses a candidate index name; ok is false unless it is one of
// this router's monthly partitions.
func (r *Router) MonthOf(index string) (time.Time, bool) {
	prefix := r.base + "-"
	if len(index) <= len(prefix) || index[:len(prefix)] != prefix {
		return time.Time{}, false
	}
	m := monthlySuffix.FindStringSubmatch(index[len(prefix):])
	if m == nil {
		return time.Time{}, false
	}
	t, err := time.Parse("2006-01", m[1]+"-"+m[2])
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// IndicesForQuery resolves the index set covering reads of the kind.
// Monthly kinds need the currently existing partitions, supplied by the
// caller from the engine's index listing.
func (r *Router) IndicesForQuery(itemType string, existing []string) []string {
	if name, ok := r.indexNames[itemType]; ok {
		return []string{name}
	}
	if r.monthly[itemType] {
		var months []string
		for _, idx := range existing {
			if _, ok := r.MonthOf(idx); ok {
				months = append(months, idx)
			}
		}
		return months
	}
	return []string{r.base}
}

// KeyPrefix is the document key prefix bound to an index.
func (r *Router) KeyPrefix(index string) string {
	return index + ":item:"
}

// Key builds the document key for an item. A configured routing value
// becomes a hash tag so related documents land on one cluster slot.
func (r *Router) Key(index, itemType, id, routingValue string) string {
	if routingValue != "" {
		if _, ok := r.routingByType[itemType]; ok {
			return r.KeyPrefix(index) + "{" + routingValue + "}:" + id
		}
	}
	return r.KeyPrefix(index) + id
}

// QueryKey is the document key of a saved percolation query.
func (r *Router) QueryKey(name string) string {
	return r.base + ":query:" + name
}

// QueryKeyPrefix prefixes all saved-query documents.
func (r *Router) QueryKeyPrefix() string {
	return r.base + ":query:"
}

// QueriesIndex is the index holding saved percolation queries.
func (r *Router) QueriesIndex() string {
	return r.base + "-queries"
}
