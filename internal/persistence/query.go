package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/cdx-io/cdx/internal/condition"
	"github.com/cdx-io/cdx/internal/condition/builtin"
	"github.com/cdx-io/cdx/internal/db"
	"github.com/cdx-io/cdx/internal/item"
)

// DefaultSizeSentinel requests the configured default query limit.
const DefaultSizeSentinel = math.MinInt32

// unboundedLimit caps size == -1 queries; the engine needs a concrete page.
const unboundedLimit = 10000

// Query runs a condition query and returns one page of typed items.
// size == -1 means unbounded, DefaultSizeSentinel means the configured
// default limit. sortBy syntax is "field[:asc|:desc][,...]"; an element of
// the form "geo:<field>:<lat>:<lon>[:desc]" sorts by distance in km.
func (s *Service) Query(ctx context.Context, cond *condition.Condition, sortBy, kind string, offset, size int) (*PartialList, error) {
	query, err := s.builders.BuildQuery(ctx, cond)
	if err != nil {
		return nil, err
	}
	return s.search(ctx, kind, query, sortBy, offset, size)
}

// QueryCount returns the number of items of the kind matching the
// condition.
func (s *Service) QueryCount(ctx context.Context, cond *condition.Condition, kind string) (int64, error) {
	query, err := s.builders.BuildFilter(ctx, cond)
	if err != nil {
		return 0, err
	}
	return s.count(ctx, kind, query)
}

// QueryByField returns items whose field equals value exactly.
func (s *Service) QueryByField(ctx context.Context, field, value, sortBy, kind string, offset, size int) (*PartialList, error) {
	query := "@" + builtin.FieldAlias(field) + ":{" + db.EscapeTag(condition.Fold(value)) + "}"
	return s.search(ctx, kind, query, sortBy, offset, size)
}

// QueryByFieldValues returns items whose field equals any of the values.
func (s *Service) QueryByFieldValues(ctx context.Context, field string, values []string, sortBy, kind string, offset, size int) (*PartialList, error) {
	if len(values) == 0 {
		return &PartialList{Offset: offset, PageSize: size}, nil
	}
	escaped := make([]string, len(values))
	for i, v := range values {
		escaped[i] = db.EscapeTag(condition.Fold(v))
	}
	query := "@" + builtin.FieldAlias(field) + ":{" + strings.Join(escaped, "|") + "}"
	return s.search(ctx, kind, query, sortBy, offset, size)
}

// RangeQuery returns items whose numeric field lies in [from, to]. Nil
// bounds are open.
func (s *Service) RangeQuery(ctx context.Context, field string, from, to *float64, sortBy, kind string, offset, size int) (*PartialList, error) {
	lo, hi := "-inf", "+inf"
	if from != nil {
		lo = strconv.FormatFloat(*from, 'f', -1, 64)
	}
	if to != nil {
		hi = strconv.FormatFloat(*to, 'f', -1, 64)
	}
	query := fmt.Sprintf("@%s:[%s %s]", builtin.FieldAlias(field), lo, hi)
	return s.search(ctx, kind, query, sortBy, offset, size)
}

// FullTextQuery forwards a raw full-text query string.
func (s *Service) FullTextQuery(ctx context.Context, text, sortBy, kind string, offset, size int) (*PartialList, error) {
	return s.search(ctx, kind, db.EscapeText(text), sortBy, offset, size)
}

// kindFilter restricts a query to one item kind. The shared base index
// holds many kinds, so the discriminator clause is always applied.
func (s *Service) kindFilter(kind, query string) string {
	if kind == "" {
		return query
	}
	clause := "@itemType:{" + db.EscapeTag(kind) + "}"
	if query == "" || query == "*" {
		return clause
	}
	return clause + " " + condition.Wrap(query)
}

// indicesFor lists the indices covering reads of the kind, enumerating
// monthly partitions from the engine.
func (s *Service) indicesFor(ctx context.Context, kind string) ([]string, error) {
	if !s.router.IsMonthly(kind) {
		return s.router.IndicesForQuery(kind, nil), nil
	}
	var existing []string
	err := s.remote(ctx, "listIndexes", kind, func(ctx context.Context) error {
		var listErr error
		existing, listErr = s.store.ListIndexes(ctx)
		return listErr
	})
	if err != nil {
		return nil, err
	}
	indices := s.router.IndicesForQuery(kind, existing)
	sort.Strings(indices)
	return indices, nil
}

func (s *Service) limitFor(size int) int {
	switch {
	case size == DefaultSizeSentinel:
		return s.cfg.Query.DefaultLimit
	case size < 0:
		return unboundedLimit
	}
	return size
}

// search runs the query across every covering index. Each partition
// returns its own page prefix; with a sort the prefixes are interleaved
// ranges, so the service re-sorts the merged hits globally before
// cutting the page. Undeserializable hits are logged and skipped.
func (s *Service) search(ctx context.Context, kind, query, sortBy string, offset, size int) (*PartialList, error) {
	query = s.kindFilter(kind, query)
	limit := s.limitFor(size)

	sorts, geo, err := parseSort(sortBy)
	if err != nil {
		return nil, err
	}
	if geo != nil || len(sorts) > 1 {
		return s.searchSorted(ctx, kind, query, sorts, geo, offset, limit, size)
	}

	indices, err := s.indicesFor(ctx, kind)
	if err != nil {
		return nil, err
	}

	result := &PartialList{Offset: offset, PageSize: size}
	var hits []db.SearchHit
	for _, index := range indices {
		// the global page can begin anywhere in a partition, so every
		// partition contributes its first offset+limit hits
		sq := &db.SearchQuery{Index: index, Query: query, Offset: 0, Limit: offset + limit}
		if len(sorts) == 1 {
			sq.SortBy = builtin.FieldAlias(sorts[0].Field)
			sq.SortDesc = sorts[0].Desc
		}
		var page *db.SearchResult
		err := s.remote(ctx, "query", kind, func(ctx context.Context) error {
			var searchErr error
			page, searchErr = s.store.Search(ctx, sq)
			return searchErr
		})
		if errors.Is(err, db.ErrIndexNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		result.TotalSize += page.Total
		hits = append(hits, page.Hits...)
	}
	if len(sorts) == 1 && len(indices) > 1 {
		sortHits(hits, sorts[0])
	}

	skip := offset
	for _, hit := range hits {
		if skip > 0 {
			skip--
			continue
		}
		if limit <= 0 {
			break
		}
		it, err := s.deserialize(kind, hit.Source)
		if err != nil {
			s.log.Warn("skipping undeserializable hit",
				zap.String("key", hit.Key),
				zap.Error(err))
			continue
		}
		result.List = append(result.List, it)
		limit--
	}
	return result, nil
}

// sortHits re-orders merged partition pages on the sort field. Hits
// missing the field go last regardless of direction.
func sortHits(hits []db.SearchHit, sp db.SortProperty) {
	vals := make([]any, len(hits))
	present := make([]bool, len(hits))
	for i, hit := range hits {
		var doc map[string]any
		if err := json.Unmarshal(hit.Source, &doc); err != nil {
			continue
		}
		vals[i], present[i] = item.LookupPath(doc, sp.Field)
	}
	order := make([]int, len(hits))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		a, b := order[i], order[j]
		if present[a] != present[b] {
			return present[a]
		}
		c := compareSortValues(vals[a], vals[b])
		if sp.Desc {
			return c > 0
		}
		return c < 0
	})
	sorted := make([]db.SearchHit, len(hits))
	for i, idx := range order {
		sorted[i] = hits[idx]
	}
	copy(hits, sorted)
}

// compareSortValues orders numbers (including numeric strings)
// numerically and everything else by string form, matching the engine's
// sortable-field ordering.
func compareSortValues(a, b any) int {
	af, aok := sortNumber(a)
	bf, bok := sortNumber(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		}
		return 0
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func sortNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

// searchSorted handles multi-property and geo-distance sorts through the
// aggregation pipeline, then materializes the page by key. With several
// covering partitions each returns its first offset+limit keys and the
// service re-sorts the merged items before cutting the page; a single
// partition pages in the engine.
func (s *Service) searchSorted(ctx context.Context, kind, query string, sorts []db.SortProperty, geo *db.GeoSort, offset, limit, size int) (*PartialList, error) {
	indices, err := s.indicesFor(ctx, kind)
	if err != nil {
		return nil, err
	}

	engineSorts := make([]db.SortProperty, len(sorts))
	for i, sp := range sorts {
		engineSorts[i] = db.SortProperty{Field: builtin.FieldAlias(sp.Field), Desc: sp.Desc}
	}
	var engineGeo *db.GeoSort
	if geo != nil {
		g := *geo
		g.Field = builtin.GeoAlias(geo.Field)
		engineGeo = &g
	}

	single := len(indices) == 1
	pageOffset, pageLimit := 0, offset+limit
	if single {
		pageOffset, pageLimit = offset, limit
	}

	result := &PartialList{Offset: offset, PageSize: size}
	var items []item.Item
	for _, index := range indices {
		var keys []string
		var total int64
		err := s.remote(ctx, "query", kind, func(ctx context.Context) error {
			var sortErr error
			keys, total, sortErr = s.store.SortedKeys(ctx, index, query, engineSorts, engineGeo, pageOffset, pageLimit)
			return sortErr
		})
		if errors.Is(err, db.ErrIndexNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		result.TotalSize += total

		for _, key := range keys {
			var data []byte
			err := s.remote(ctx, "load", kind, func(ctx context.Context) error {
				var getErr error
				data, getErr = s.store.DocGet(ctx, key)
				return getErr
			})
			if err != nil {
				continue
			}
			it, err := s.deserialize(kind, data)
			if err != nil {
				s.log.Warn("skipping undeserializable hit",
					zap.String("key", key),
					zap.Error(err))
				continue
			}
			items = append(items, it)
		}
	}

	if single {
		if len(items) > limit {
			items = items[:limit]
		}
		result.List = items
		return result, nil
	}
	sortItems(items, sorts, geo)
	if offset < len(items) {
		end := offset + limit
		if end > len(items) {
			end = len(items)
		}
		result.List = items[offset:end]
	}
	return result, nil
}

// sortItems re-orders merged partition results globally: property sorts
// compare field values in declaration order, a geo sort compares the
// distance from the reference point. Items missing a sort field or
// without a decodable location go last.
func sortItems(items []item.Item, sorts []db.SortProperty, geo *db.GeoSort) {
	docs := make([]map[string]any, len(items))
	for i, it := range items {
		docs[i], _ = item.Document(it)
	}
	order := make([]int, len(items))
	for i := range order {
		order[i] = i
	}

	var less func(a, b int) bool
	if geo != nil {
		dists := make([]float64, len(items))
		present := make([]bool, len(items))
		for i, doc := range docs {
			loc, ok := item.LookupPath(doc, geo.Field)
			if !ok {
				continue
			}
			dists[i], present[i] = builtin.DistanceKm(loc, geo.Lat, geo.Lon)
		}
		less = func(a, b int) bool {
			if present[a] != present[b] {
				return present[a]
			}
			if geo.Desc {
				return dists[a] > dists[b]
			}
			return dists[a] < dists[b]
		}
	} else {
		less = func(a, b int) bool {
			for _, sp := range sorts {
				va, aok := item.LookupPath(docs[a], sp.Field)
				vb, bok := item.LookupPath(docs[b], sp.Field)
				if aok != bok {
					return aok
				}
				if !aok {
					continue
				}
				c := compareSortValues(va, vb)
				if c == 0 {
					continue
				}
				if sp.Desc {
					return c > 0
				}
				return c < 0
			}
			return false
		}
	}

	sort.SliceStable(order, func(i, j int) bool { return less(order[i], order[j]) })
	sorted := make([]item.Item, len(items))
	for i, idx := range order {
		sorted[i] = items[idx]
	}
	copy(items, sorted)
}

func (s *Service) count(ctx context.Context, kind, query string) (int64, error) {
	query = s.kindFilter(kind, query)
	indices, err := s.indicesFor(ctx, kind)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, index := range indices {
		var n int64
		err := s.remote(ctx, "count", kind, func(ctx context.Context) error {
			var countErr error
			n, countErr = s.store.SearchCount(ctx, index, query)
			return countErr
		})
		if errors.Is(err, db.ErrIndexNotFound) {
			continue
		}
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// parseSort decodes the sort syntax. A geo element wins over property
// sorts because the engine sorts by one computed distance at a time.
func parseSort(sortBy string) ([]db.SortProperty, *db.GeoSort, error) {
	if sortBy == "" {
		return nil, nil, nil
	}
	var sorts []db.SortProperty
	for _, element := range strings.Split(sortBy, ",") {
		element = strings.TrimSpace(element)
		if element == "" {
			continue
		}
		if rest, ok := strings.CutPrefix(element, "geo:"); ok {
			geo, err := parseGeoSort(rest)
			if err != nil {
				return nil, nil, err
			}
			return nil, geo, nil
		}
		parts := strings.Split(element, ":")
		sp := db.SortProperty{Field: parts[0]}
		if len(parts) > 1 {
			switch parts[1] {
			case "desc":
				sp.Desc = true
			case "asc":
			default:
				return nil, nil, fmt.Errorf("invalid sort order %q", parts[1])
			}
		}
		sorts = append(sorts, sp)
	}
	return sorts, nil, nil
}

// parseGeoSort decodes "<field>:<lat>:<lon>[:desc]".
func parseGeoSort(spec string) (*db.GeoSort, error) {
	parts := strings.Split(spec, ":")
	if len(parts) < 3 {
		return nil, fmt.Errorf("invalid geo sort %q", spec)
	}
	lat, errLat := strconv.ParseFloat(parts[1], 64)
	lon, errLon := strconv.ParseFloat(parts[2], 64)
	if errLat != nil || errLon != nil {
		return nil, fmt.Errorf("invalid geo sort coordinates in %q", spec)
	}
	geo := &db.GeoSort{Field: parts[0], Lat: lat, Lon: lon}
	if len(parts) > 3 && parts[3] == "desc" {
		geo.Desc = true
	}
	return geo, nil
}
