package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/cdx-io/cdx/internal/condition"
	"github.com/cdx-io/cdx/internal/db"
	"github.com/cdx-io/cdx/internal/item"
	"github.com/cdx-io/cdx/internal/metrics"
)

// savedQuery is the stored form of a percolation query: the condition tree
// for local evaluation plus its canonical engine query for the fallback
// path.
type savedQuery struct {
	Name      string               `json:"name"`
	ItemType  string               `json:"itemType"`
	Condition *condition.Condition `json:"condition,omitempty"`
	Query     string               `json:"query"`
}

// savedQueryKind is the reserved kind tag of saved-query documents.
const savedQueryKind = "savedQuery"

// SaveQuery persists a condition under a well-known name for later
// percolation. The write is synchronous and immediately visible.
func (s *Service) SaveQuery(ctx context.Context, name string, cond *condition.Condition) error {
	query, err := s.builders.GetQuery(ctx, cond)
	if err != nil {
		return err
	}
	return s.saveQueryDoc(ctx, &savedQuery{Name: name, ItemType: savedQueryKind, Condition: cond, Query: query})
}

// SaveQueryString persists a raw engine query string under a name.
func (s *Service) SaveQueryString(ctx context.Context, name, query string) error {
	return s.saveQueryDoc(ctx, &savedQuery{Name: name, ItemType: savedQueryKind, Query: query})
}

func (s *Service) saveQueryDoc(ctx context.Context, q *savedQuery) error {
	data, err := json.Marshal(q)
	if err != nil {
		return err
	}
	err = s.remote(ctx, "saveQuery", savedQueryKind, func(ctx context.Context) error {
		return s.store.DocSet(ctx, s.router.QueryKey(q.Name), data)
	})
	if err == nil {
		metrics.SavedQueriesTotal.Inc()
	}
	return err
}

// RemoveQuery deletes a saved query, immediately.
func (s *Service) RemoveQuery(ctx context.Context, name string) error {
	err := s.remote(ctx, "removeQuery", savedQueryKind, func(ctx context.Context) error {
		return s.store.DocDel(ctx, s.router.QueryKey(name))
	})
	if err == nil {
		metrics.SavedQueriesTotal.Dec()
	}
	return err
}

// GetMatchingSavedQueries returns the names of every saved query whose
// predicate matches the item. Conditions are evaluated locally; queries the
// evaluator does not support fall back to the engine.
func (s *Service) GetMatchingSavedQueries(ctx context.Context, it item.Item) ([]string, error) {
	queries, err := s.listSavedQueries(ctx)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, q := range queries {
		matched, err := s.matchSavedQuery(ctx, q, it)
		if err != nil {
			s.log.Warn("saved query could not be matched",
				zap.String("query", q.Name),
				zap.Error(err))
			continue
		}
		if matched {
			names = append(names, q.Name)
		}
	}
	return names, nil
}

func (s *Service) listSavedQueries(ctx context.Context) ([]*savedQuery, error) {
	var result *db.SearchResult
	err := s.remote(ctx, "listQueries", savedQueryKind, func(ctx context.Context) error {
		var searchErr error
		result, searchErr = s.store.Search(ctx, &db.SearchQuery{
			Index: s.router.QueriesIndex(),
			Query: "*",
			Limit: unboundedLimit,
		})
		return searchErr
	})
	if errors.Is(err, db.ErrIndexNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	queries := make([]*savedQuery, 0, len(result.Hits))
	for _, hit := range result.Hits {
		var q savedQuery
		if err := json.Unmarshal(hit.Source, &q); err != nil {
			s.log.Warn("skipping undeserializable saved query",
				zap.String("key", hit.Key),
				zap.Error(err))
			continue
		}
		queries = append(queries, &q)
	}
	return queries, nil
}

func (s *Service) matchSavedQuery(ctx context.Context, q *savedQuery, it item.Item) (bool, error) {
	if q.Condition != nil {
		return s.TestMatch(ctx, q.Condition, it)
	}
	if q.Query == "" {
		return false, fmt.Errorf("saved query %q has neither condition nor query", q.Name)
	}
	return s.matchRemote(ctx, q.Query, it)
}

// TestMatch checks one condition against one item: evaluated locally, with
// an engine-side fallback when the condition type has no local evaluator.
func (s *Service) TestMatch(ctx context.Context, cond *condition.Condition, it item.Item) (bool, error) {
	matched, err := s.evaluators.Eval(ctx, cond, it)
	if err == nil {
		return matched, nil
	}
	if !errors.Is(err, condition.ErrUnsupportedConditionType) {
		return false, err
	}

	query, buildErr := s.builders.BuildFilter(ctx, cond)
	if buildErr != nil {
		return false, buildErr
	}
	return s.matchRemote(ctx, query, it)
}

// matchRemote asks the engine whether the stored form of the item matches
// the query, by intersecting it with an ids clause.
func (s *Service) matchRemote(ctx context.Context, query string, it item.Item) (bool, error) {
	ids := "@itemId:{" + db.EscapeTag(it.ItemID()) + "}"
	combined := ids + " " + condition.Wrap(query)
	n, err := s.count(ctx, it.ItemType(), combined)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
