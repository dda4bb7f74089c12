package redis

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/rueidis"

	"github.com/cdx-io/cdx/internal/db"
)

// Search performs a paginated FT.SEARCH returning raw JSON documents.
func (s *Store) Search(ctx context.Context, q *db.SearchQuery) (*db.SearchResult, error) {
	if q.Index == "" {
		return nil, fmt.Errorf("index name is required")
	}
	query := q.Query
	if query == "" {
		query = "*"
	}

	args := []string{q.Index, query}
	if q.SortBy != "" {
		order := "ASC"
		if q.SortDesc {
			order = "DESC"
		}
		args = append(args, "SORTBY", q.SortBy, order)
	}
	args = append(args,
		"LIMIT", strconv.Itoa(q.Offset), strconv.Itoa(q.Limit),
		"DIALECT", "2",
	)

	cmd := s.b().Arbitrary("FT.SEARCH").Args(args...).Build()
	raw, err := s.do(ctx, cmd).ToArray()
	if err != nil {
		if isRedisErr(err, "unknown index name") || isRedisErr(err, "no such index") {
			return nil, db.ErrIndexNotFound
		}
		return nil, &db.Error{Op: db.OpSearch, Err: err}
	}

	return parseSearchResult(raw)
}

// SearchCount returns the match count via FT.SEARCH with LIMIT 0 0.
func (s *Store) SearchCount(ctx context.Context, index, query string) (int64, error) {
	if query == "" {
		query = "*"
	}
	cmd := s.b().Arbitrary("FT.SEARCH").Args(index, query, "LIMIT", "0", "0", "DIALECT", "2").Build()
	raw, err := s.do(ctx, cmd).ToArray()
	if err != nil {
		if isRedisErr(err, "unknown index name") || isRedisErr(err, "no such index") {
			return 0, db.ErrIndexNotFound
		}
		return 0, &db.Error{Op: db.OpSearch, Err: err}
	}
	if len(raw) == 0 {
		return 0, nil
	}
	total, err := raw[0].AsInt64()
	if err != nil {
		return 0, fmt.Errorf("parse count: %w", err)
	}
	return total, nil
}

// parseSearchResult decodes the RESP2 reply of FT.SEARCH over a JSON index.
// 2-stride layout: [total, key1, fields1, key2, fields2, ...] where fields
// is the pair list ["$", <document JSON>].
func parseSearchResult(raw []rueidis.RedisMessage) (*db.SearchResult, error) {
	if len(raw) == 0 {
		return &db.SearchResult{}, nil
	}

	total, err := raw[0].AsInt64()
	if err != nil {
		return nil, fmt.Errorf("parse total: %w", err)
	}
	if total == 0 {
		return &db.SearchResult{Total: 0}, nil
	}

	hits := make([]db.SearchHit, 0, len(raw)/2)
	for i := 1; i+1 < len(raw); i += 2 {
		key, err := raw[i].ToString()
		if err != nil {
			continue
		}

		fields, err := raw[i+1].ToArray()
		if err != nil {
			continue
		}

		hits = append(hits, db.SearchHit{
			Key:    key,
			Source: extractRootSource(fields),
		})
	}

	return &db.SearchResult{Total: total, Hits: hits}, nil
}

// extractRootSource pulls the "$" field value (the full JSON document)
// from an FT.SEARCH field pair list.
func extractRootSource(fields []rueidis.RedisMessage) []byte {
	for j := 0; j+1 < len(fields); j += 2 {
		name, err := fields[j].ToString()
		if err != nil || name != "$" {
			continue
		}
		value, err := fields[j+1].ToString()
		if err != nil {
			continue
		}
		return []byte(value)
	}
	return nil
}

