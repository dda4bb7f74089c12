package persistence

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/cdx-io/cdx/internal/condition"
	"github.com/cdx-io/cdx/internal/condition/builtin"
	"github.com/cdx-io/cdx/internal/db"
)

// Aggregate describes one bucket aggregation.
type Aggregate struct {
	Type     string // "terms" (default), "dateHistogram", "numericRange", "dateRange", "ipRange"
	Field    string
	Interval string // dateHistogram: "hour", "day", "month", "year"
	Format   string // dateHistogram: optional strftime override

	NumericRanges []NumericRange
	DateRanges    []DateRange
	IPRanges      []IPRange
}

// NumericRange is a named [From, To) bucket; nil bounds are open.
type NumericRange struct {
	Key  string
	From *float64
	To   *float64
}

// DateRange is a named [From, To) date bucket; zero bounds are open.
type DateRange struct {
	Key  string
	From time.Time
	To   time.Time
}

// IPRange is a named IPv4 address bucket, bounds inclusive.
type IPRange struct {
	Key  string
	From string
	To   string
}

// AggregateResult preserves bucket insertion order: "_all", "_filtered"
// (when a filter was supplied), one entry per bucket, then "_missing".
type AggregateResult struct {
	keys   []string
	counts map[string]int64
}

func newAggregateResult() *AggregateResult {
	return &AggregateResult{counts: map[string]int64{}}
}

func (r *AggregateResult) put(key string, count int64) {
	if _, seen := r.counts[key]; !seen {
		r.keys = append(r.keys, key)
	}
	r.counts[key] = count
}

// Keys returns bucket names in insertion order.
func (r *AggregateResult) Keys() []string { return r.keys }

// Count returns one bucket's count.
func (r *AggregateResult) Count(key string) (int64, bool) {
	n, ok := r.counts[key]
	return n, ok
}

// Map returns the counts as a plain map.
func (r *AggregateResult) Map() map[string]int64 { return r.counts }

// AggregateQuery runs a bucket aggregation over the kind, optionally
// restricted by a filter condition.
func (s *Service) AggregateQuery(ctx context.Context, filter *condition.Condition, agg *Aggregate, kind string) (*AggregateResult, error) {
	result := newAggregateResult()

	all, err := s.count(ctx, kind, "*")
	if err != nil {
		return nil, err
	}
	result.put("_all", all)

	query := "*"
	if filter != nil {
		query, err = s.builders.BuildFilter(ctx, filter)
		if err != nil {
			return nil, err
		}
		filtered, err := s.count(ctx, kind, query)
		if err != nil {
			return nil, err
		}
		result.put("_filtered", filtered)
	}
	if agg == nil {
		return result, nil
	}
	if agg.Field == "" {
		return nil, fmt.Errorf("aggregate requires a field")
	}

	alias := builtin.FieldAlias(agg.Field)
	switch agg.Type {
	case "", "terms":
		err = s.termsBuckets(ctx, kind, query, agg.Field, result)
	case "dateHistogram":
		alias = builtin.DateAlias(agg.Field)
		err = s.dateHistogramBuckets(ctx, kind, query, agg, result)
	case "numericRange":
		err = s.numericRangeBuckets(ctx, kind, query, agg, result)
	case "dateRange":
		alias = builtin.DateAlias(agg.Field)
		err = s.dateRangeBuckets(ctx, kind, query, agg, result)
	case "ipRange":
		err = s.ipRangeBuckets(ctx, kind, query, agg, result)
	default:
		return nil, fmt.Errorf("unknown aggregate type %q", agg.Type)
	}
	if err != nil {
		return nil, err
	}

	missing, err := s.missingCount(ctx, kind, query, alias)
	if err != nil {
		return nil, err
	}
	result.put("_missing", missing)
	return result, nil
}

// missingCount counts documents in the filtered set that carry no value
// for the aggregation field.
func (s *Service) missingCount(ctx context.Context, kind, query, alias string) (int64, error) {
	clause := "-@" + alias + ":*"
	combined := clause
	if query != "" && query != "*" {
		combined = condition.Wrap(query) + " " + clause
	}
	return s.count(ctx, kind, combined)
}

// groupAcross merges GroupCounts buckets from every covering index.
func (s *Service) groupAcross(ctx context.Context, kind, query, groupExpr string) (map[string]int64, error) {
	indices, err := s.indicesFor(ctx, kind)
	if err != nil {
		return nil, err
	}
	merged := map[string]int64{}
	filtered := s.kindFilter(kind, query)
	for _, index := range indices {
		var buckets []db.GroupCount
		err := s.remote(ctx, "aggregate", kind, func(ctx context.Context) error {
			var aggErr error
			buckets, aggErr = s.store.GroupCounts(ctx, index, filtered, groupExpr)
			return aggErr
		})
		if errors.Is(err, db.ErrIndexNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		for _, b := range buckets {
			merged[b.Key] += b.Count
		}
	}
	return merged, nil
}

func (s *Service) termsBuckets(ctx context.Context, kind, query, field string, result *AggregateResult) error {
	buckets, err := s.groupAcross(ctx, kind, query, "@"+builtin.FieldAlias(field))
	if err != nil {
		return err
	}
	for key, count := range buckets {
		result.put(key, count)
	}
	return nil
}

// histogramFormats maps interval names to strftime bucket keys.
var histogramFormats = map[string]string{
	"hour":  "%Y-%m-%dT%H",
	"day":   "%Y-%m-%d",
	"month": "%Y-%m",
	"year":  "%Y",
}

func (s *Service) dateHistogramBuckets(ctx context.Context, kind, query string, agg *Aggregate, result *AggregateResult) error {
	format := agg.Format
	if format == "" {
		var ok bool
		format, ok = histogramFormats[agg.Interval]
		if !ok {
			return fmt.Errorf("unknown date histogram interval %q", agg.Interval)
		}
	}
	expr := fmt.Sprintf("timefmt(@%s/1000, '%s')", builtin.DateAlias(agg.Field), format)
	buckets, err := s.groupAcross(ctx, kind, query, expr)
	if err != nil {
		return err
	}
	for key, count := range buckets {
		result.put(key, count)
	}
	return nil
}

// rangeCount counts matches of a half-open [from, to) range clause against
// the filtered query.
func (s *Service) rangeCount(ctx context.Context, kind, query, alias, lo, hi string) (int64, error) {
	clause := fmt.Sprintf("@%s:[%s %s]", alias, lo, hi)
	combined := clause
	if query != "" && query != "*" {
		combined = condition.Wrap(query) + " " + clause
	}
	return s.count(ctx, kind, combined)
}

func (s *Service) numericRangeBuckets(ctx context.Context, kind, query string, agg *Aggregate, result *AggregateResult) error {
	alias := builtin.FieldAlias(agg.Field)
	for _, rng := range agg.NumericRanges {
		lo, hi := "-inf", "+inf"
		if rng.From != nil {
			lo = fmt.Sprintf("%g", *rng.From)
		}
		if rng.To != nil {
			hi = fmt.Sprintf("(%g", *rng.To)
		}
		count, err := s.rangeCount(ctx, kind, query, alias, lo, hi)
		if err != nil {
			return err
		}
		result.put(rng.Key, count)
	}
	return nil
}

func (s *Service) dateRangeBuckets(ctx context.Context, kind, query string, agg *Aggregate, result *AggregateResult) error {
	alias := builtin.DateAlias(agg.Field)
	for _, rng := range agg.DateRanges {
		lo, hi := "-inf", "+inf"
		if !rng.From.IsZero() {
			lo = fmt.Sprintf("%d", rng.From.UnixMilli())
		}
		if !rng.To.IsZero() {
			hi = fmt.Sprintf("(%d", rng.To.UnixMilli())
		}
		count, err := s.rangeCount(ctx, kind, query, alias, lo, hi)
		if err != nil {
			return err
		}
		result.put(rng.Key, count)
	}
	return nil
}

// ipRangeBuckets groups on the raw address values and buckets them locally
// by numeric IPv4 comparison, since addresses index as tags.
func (s *Service) ipRangeBuckets(ctx context.Context, kind, query string, agg *Aggregate, result *AggregateResult) error {
	values, err := s.groupAcross(ctx, kind, query, "@"+builtin.FieldAlias(agg.Field))
	if err != nil {
		return err
	}

	for _, rng := range agg.IPRanges {
		from, errFrom := ipValue(rng.From, 0)
		to, errTo := ipValue(rng.To, ^uint32(0))
		if errFrom != nil || errTo != nil {
			return fmt.Errorf("invalid ip range %q", rng.Key)
		}
		var count int64
		for addr, n := range values {
			v, err := ipValue(addr, 0)
			if err != nil {
				continue
			}
			if v >= from && v <= to {
				count += n
			}
		}
		result.put(rng.Key, count)
	}
	return nil
}

func ipValue(addr string, def uint32) (uint32, error) {
	if addr == "" {
		return def, nil
	}
	ip, err := netip.ParseAddr(addr)
	if err != nil || !ip.Is4() {
		return 0, fmt.Errorf("not an IPv4 address: %q", addr)
	}
	b := ip.As4()
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]), nil
}

// GetSingleValuesMetrics computes the requested single-value metrics over a
// numeric field, keyed "_sum", "_avg", "_min", "_max".
func (s *Service) GetSingleValuesMetrics(ctx context.Context, cond *condition.Condition, metricNames []string, field, kind string) (map[string]float64, error) {
	query := "*"
	if cond != nil {
		var err error
		query, err = s.builders.BuildFilter(ctx, cond)
		if err != nil {
			return nil, err
		}
	}
	query = s.kindFilter(kind, query)

	plain := make([]string, 0, len(metricNames))
	for _, m := range metricNames {
		switch m {
		case "sum", "avg", "min", "max":
			plain = append(plain, m)
		default:
			return nil, fmt.Errorf("unknown metric %q", m)
		}
	}

	indices, err := s.indicesFor(ctx, kind)
	if err != nil {
		return nil, err
	}

	out := map[string]float64{}
	alias := builtin.FieldAlias(field)
	for _, index := range indices {
		var values map[string]float64
		err := s.remote(ctx, "metrics", kind, func(ctx context.Context) error {
			var metricErr error
			values, metricErr = s.store.MetricValues(ctx, index, query, alias, plain)
			return metricErr
		})
		if errors.Is(err, db.ErrIndexNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		mergeMetrics(out, values)
	}
	return out, nil
}

// mergeMetrics folds one index's metric values into the running result.
// Sums add; min and max compare; avg is kept from the last index carrying
// it, which is exact in the single-index common case.
func mergeMetrics(out, values map[string]float64) {
	for name, v := range values {
		key := "_" + name
		prev, seen := out[key]
		if !seen {
			out[key] = v
			continue
		}
		switch name {
		case "sum":
			out[key] = prev + v
		case "min":
			if v < prev {
				out[key] = v
			}
		case "max":
			if v > prev {
				out[key] = v
			}
		default:
			out[key] = v
		}
	}
}
