package redis

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/rueidis"

	"github.com/cdx-io/cdx/internal/db"
)

// GroupCounts buckets matching documents by a group expression via
// FT.AGGREGATE GROUPBY ... REDUCE COUNT.
func (s *Store) GroupCounts(ctx context.Context, index, query, groupExpr string) ([]db.GroupCount, error) {
	if query == "" {
		query = "*"
	}

	groupProp := groupExpr
	args := []string{index, query}
	if len(groupExpr) > 0 && groupExpr[0] != '@' {
		// computed group key: evaluate the expression per document first
		args = append(args, "APPLY", groupExpr, "AS", "__group")
		groupProp = "@__group"
	}
	args = append(args,
		"GROUPBY", "1", groupProp,
		"REDUCE", "COUNT", "0", "AS", "__count",
		"LIMIT", "0", strconv.Itoa(maxAggregateBuckets),
		"DIALECT", "2",
	)

	cmd := s.b().Arbitrary("FT.AGGREGATE").Args(args...).Build()
	raw, err := s.do(ctx, cmd).ToArray()
	if err != nil {
		if isRedisErr(err, "unknown index name") || isRedisErr(err, "no such index") {
			return nil, db.ErrIndexNotFound
		}
		return nil, &db.Error{Op: db.OpAggregate, Err: err}
	}

	var buckets []db.GroupCount
	for _, row := range rowsOf(raw) {
		key := row[groupPropName(groupProp)]
		count, _ := strconv.ParseInt(row["__count"], 10, 64)
		buckets = append(buckets, db.GroupCount{Key: key, Count: count})
	}
	return buckets, nil
}

// MetricValues computes single-value metrics over a numeric field via
// FT.AGGREGATE GROUPBY 0 REDUCE.
func (s *Store) MetricValues(ctx context.Context, index, query, field string, metrics []string) (map[string]float64, error) {
	if query == "" {
		query = "*"
	}

	args := []string{index, query, "GROUPBY", "0"}
	for _, m := range metrics {
		var reducer string
		switch m {
		case "sum":
			reducer = "SUM"
		case "avg":
			reducer = "AVG"
		case "min":
			reducer = "MIN"
		case "max":
			reducer = "MAX"
		default:
			return nil, fmt.Errorf("unknown metric %q", m)
		}
		args = append(args, "REDUCE", reducer, "1", "@"+field, "AS", m)
	}
	args = append(args, "DIALECT", "2")

	cmd := s.b().Arbitrary("FT.AGGREGATE").Args(args...).Build()
	raw, err := s.do(ctx, cmd).ToArray()
	if err != nil {
		if isRedisErr(err, "unknown index name") || isRedisErr(err, "no such index") {
			return nil, db.ErrIndexNotFound
		}
		return nil, &db.Error{Op: db.OpAggregate, Err: err}
	}

	values := make(map[string]float64, len(metrics))
	for _, row := range rowsOf(raw) {
		for _, m := range metrics {
			if v, ok := row[m]; ok {
				f, err := strconv.ParseFloat(v, 64)
				if err == nil {
					values[m] = f
				}
			}
		}
	}
	return values, nil
}

// SortedKeys returns document keys ordered by properties or geo distance.
// Multi-property and geo-distance sorts go through the aggregation pipeline
// because FT.SEARCH supports only a single SORTBY field.
func (s *Store) SortedKeys(
	ctx context.Context, index, query string,
	sorts []db.SortProperty, geo *db.GeoSort, offset, limit int,
) ([]string, int64, error) {
	if query == "" {
		query = "*"
	}

	args := []string{index, query, "LOAD", "1", "@__key"}

	if geo != nil {
		point := fmt.Sprintf("\"%g,%g\"", geo.Lon, geo.Lat)
		args = append(args, "APPLY", fmt.Sprintf("geodistance(@%s,%s)/1000", geo.Field, point), "AS", "__dist")
		order := "ASC"
		if geo.Desc {
			order = "DESC"
		}
		args = append(args, "SORTBY", "2", "@__dist", order)
	} else {
		sortArgs := make([]string, 0, len(sorts)*2)
		for _, sp := range sorts {
			order := "ASC"
			if sp.Desc {
				order = "DESC"
			}
			sortArgs = append(sortArgs, "@"+sp.Field, order)
		}
		args = append(args, "SORTBY", strconv.Itoa(len(sortArgs)))
		args = append(args, sortArgs...)
	}

	args = append(args, "LIMIT", strconv.Itoa(offset), strconv.Itoa(limit), "DIALECT", "2")

	cmd := s.b().Arbitrary("FT.AGGREGATE").Args(args...).Build()
	raw, err := s.do(ctx, cmd).ToArray()
	if err != nil {
		if isRedisErr(err, "unknown index name") || isRedisErr(err, "no such index") {
			return nil, 0, db.ErrIndexNotFound
		}
		return nil, 0, &db.Error{Op: db.OpAggregate, Err: err}
	}

	var total int64
	if len(raw) > 0 {
		total, _ = raw[0].AsInt64()
	}

	var keys []string
	for _, row := range rowsOf(raw) {
		if k, ok := row["__key"]; ok {
			keys = append(keys, k)
		}
	}
	return keys, total, nil
}

// ScrollKeys streams every matching document key in batches through fn,
// using the engine's server-side aggregation cursor.
func (s *Store) ScrollKeys(ctx context.Context, index, query string, batchSize int, fn func(keys []string) error) error {
	if query == "" {
		query = "*"
	}
	if batchSize <= 0 {
		batchSize = 100
	}

	cmd := s.b().Arbitrary("FT.AGGREGATE").Args(
		index, query,
		"LOAD", "1", "@__key",
		"WITHCURSOR", "COUNT", strconv.Itoa(batchSize), "MAXIDLE", strconv.Itoa(scrollKeepAliveMillis),
		"DIALECT", "2",
	).Build()

	page, err := s.do(ctx, cmd).ToArray()
	if err != nil {
		if isRedisErr(err, "unknown index name") || isRedisErr(err, "no such index") {
			return db.ErrIndexNotFound
		}
		return &db.Error{Op: db.OpAggregate, Err: err}
	}

	for {
		rows, cursor := parseCursorPage(page)

		keys := make([]string, 0, len(rows))
		for _, row := range rows {
			if k, ok := row["__key"]; ok {
				keys = append(keys, k)
			}
		}
		if len(keys) > 0 {
			if err := fn(keys); err != nil {
				return err
			}
		}

		if cursor == 0 {
			return nil
		}

		next := s.b().Arbitrary("FT.CURSOR").Args("READ", index, strconv.FormatInt(cursor, 10)).Build()
		page, err = s.do(ctx, next).ToArray()
		if err != nil {
			return &db.Error{Op: db.OpCursorRead, Err: err}
		}
	}
}

const (
	// Cursor keep-alive matches the one-hour scroll window used by
	// scoped deletions.
	scrollKeepAliveMillis = 60 * 60 * 1000
	maxAggregateBuckets   = 10000
)

// rowsOf decodes the row portion of an FT.AGGREGATE RESP2 reply:
// [total, row1, row2, ...] where each row is a flat name/value pair list.
func rowsOf(raw []rueidis.RedisMessage) []map[string]string {
	if len(raw) < 2 {
		return nil
	}
	rows := make([]map[string]string, 0, len(raw)-1)
	for _, m := range raw[1:] {
		pairs, err := m.ToArray()
		if err != nil {
			continue
		}
		row := make(map[string]string, len(pairs)/2)
		for j := 0; j+1 < len(pairs); j += 2 {
			name, err := pairs[j].ToString()
			if err != nil {
				continue
			}
			value, err := pairs[j+1].ToString()
			if err != nil {
				continue
			}
			row[name] = value
		}
		rows = append(rows, row)
	}
	return rows
}

// parseCursorPage splits a WITHCURSOR reply into its result rows and the
// cursor id (0 = exhausted).
func parseCursorPage(page []rueidis.RedisMessage) ([]map[string]string, int64) {
	if len(page) < 2 {
		return nil, 0
	}
	rows, err := page[0].ToArray()
	if err != nil {
		return nil, 0
	}
	cursor, err := page[1].AsInt64()
	if err != nil {
		cursor = 0
	}
	return rowsOf(rows), cursor
}

func groupPropName(groupProp string) string {
	if len(groupProp) > 0 && groupProp[0] == '@' {
		return groupProp[1:]
	}
	return groupProp
}
