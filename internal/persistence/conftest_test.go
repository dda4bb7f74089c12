package persistence

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/cdx-io/cdx/internal/config"
	"github.com/cdx-io/cdx/internal/db"
	"github.com/cdx-io/cdx/internal/item"
)

// mockStore implements db.Store for tests.
type mockStore struct {
	pingFn       func(ctx context.Context) error
	docSetFn     func(ctx context.Context, key string, data []byte) error
	docMergeFn   func(ctx context.Context, key string, partial []byte) error
	docGetFn     func(ctx context.Context, key string) ([]byte, error)
	docDelFn     func(ctx context.Context, key string) error
	existsFn     func(ctx context.Context, key string) (bool, error)
	doBatchFn    func(ctx context.Context, actions []db.BatchAction) []error
	createIdxFn  func(ctx context.Context, def *db.IndexDefinition) error
	dropIdxFn    func(ctx context.Context, name string, dropDocs bool) error
	idxExistsFn  func(ctx context.Context, name string) (bool, error)
	listIdxFn    func(ctx context.Context) ([]string, error)
	idxAttrsFn   func(ctx context.Context, name string) ([]db.AttributeInfo, error)
	alterIdxFn   func(ctx context.Context, name string, fields []db.IndexField) error
	searchFn     func(ctx context.Context, q *db.SearchQuery) (*db.SearchResult, error)
	countFn      func(ctx context.Context, index, query string) (int64, error)
	groupFn      func(ctx context.Context, index, query, groupExpr string) ([]db.GroupCount, error)
	metricsFn    func(ctx context.Context, index, query, field string, metrics []string) (map[string]float64, error)
	sortedKeysFn func(ctx context.Context, index, query string, sorts []db.SortProperty, geo *db.GeoSort, offset, limit int) ([]string, int64, error)
	scrollFn     func(ctx context.Context, index, query string, batchSize int, fn func(keys []string) error) error
	evalFn       func(ctx context.Context, script string, keys []string, args []string) error
	nodesFn      func(ctx context.Context) ([]db.NodeStats, error)
}

func (m *mockStore) Ping(ctx context.Context) error {
	if m.pingFn != nil {
		return m.pingFn(ctx)
	}
	return nil
}

func (m *mockStore) DocSet(ctx context.Context, key string, data []byte) error {
	if m.docSetFn != nil {
		return m.docSetFn(ctx, key, data)
	}
	return nil
}

func (m *mockStore) DocMerge(ctx context.Context, key string, partial []byte) error {
	if m.docMergeFn != nil {
		return m.docMergeFn(ctx, key, partial)
	}
	return nil
}

func (m *mockStore) DocGet(ctx context.Context, key string) ([]byte, error) {
	if m.docGetFn != nil {
		return m.docGetFn(ctx, key)
	}
	return nil, db.ErrKeyNotFound
}

func (m *mockStore) DocDel(ctx context.Context, key string) error {
	if m.docDelFn != nil {
		return m.docDelFn(ctx, key)
	}
	return nil
}

func (m *mockStore) Exists(ctx context.Context, key string) (bool, error) {
	if m.existsFn != nil {
		return m.existsFn(ctx, key)
	}
	return false, nil
}

func (m *mockStore) DoBatch(ctx context.Context, actions []db.BatchAction) []error {
	if m.doBatchFn != nil {
		return m.doBatchFn(ctx, actions)
	}
	return make([]error, len(actions))
}

func (m *mockStore) CreateIndex(ctx context.Context, def *db.IndexDefinition) error {
	if m.createIdxFn != nil {
		return m.createIdxFn(ctx, def)
	}
	return nil
}

func (m *mockStore) DropIndex(ctx context.Context, name string, dropDocs bool) error {
	if m.dropIdxFn != nil {
		return m.dropIdxFn(ctx, name, dropDocs)
	}
	return nil
}

func (m *mockStore) IndexExists(ctx context.Context, name string) (bool, error) {
	if m.idxExistsFn != nil {
		return m.idxExistsFn(ctx, name)
	}
	return false, nil
}

func (m *mockStore) ListIndexes(ctx context.Context) ([]string, error) {
	if m.listIdxFn != nil {
		return m.listIdxFn(ctx)
	}
	return nil, nil
}

func (m *mockStore) IndexAttributes(ctx context.Context, name string) ([]db.AttributeInfo, error) {
	if m.idxAttrsFn != nil {
		return m.idxAttrsFn(ctx, name)
	}
	return nil, nil
}

func (m *mockStore) AlterIndex(ctx context.Context, name string, fields []db.IndexField) error {
	if m.alterIdxFn != nil {
		return m.alterIdxFn(ctx, name, fields)
	}
	return nil
}

func (m *mockStore) Search(ctx context.Context, q *db.SearchQuery) (*db.SearchResult, error) {
	if m.searchFn != nil {
		return m.searchFn(ctx, q)
	}
	return &db.SearchResult{}, nil
}

func (m *mockStore) SearchCount(ctx context.Context, index, query string) (int64, error) {
	if m.countFn != nil {
		return m.countFn(ctx, index, query)
	}
	return 0, nil
}

func (m *mockStore) GroupCounts(ctx context.Context, index, query, groupExpr string) ([]db.GroupCount, error) {
	if m.groupFn != nil {
		return m.groupFn(ctx, index, query, groupExpr)
	}
	return nil, nil
}

func (m *mockStore) MetricValues(ctx context.Context, index, query, field string, metrics []string) (map[string]float64, error) {
	if m.metricsFn != nil {
		return m.metricsFn(ctx, index, query, field, metrics)
	}
	return map[string]float64{}, nil
}

func (m *mockStore) SortedKeys(ctx context.Context, index, query string, sorts []db.SortProperty, geo *db.GeoSort, offset, limit int) ([]string, int64, error) {
	if m.sortedKeysFn != nil {
		return m.sortedKeysFn(ctx, index, query, sorts, geo, offset, limit)
	}
	return nil, 0, nil
}

func (m *mockStore) ScrollKeys(ctx context.Context, index, query string, batchSize int, fn func(keys []string) error) error {
	if m.scrollFn != nil {
		return m.scrollFn(ctx, index, query, batchSize, fn)
	}
	return nil
}

func (m *mockStore) EvalScript(ctx context.Context, script string, keys []string, args []string) error {
	if m.evalFn != nil {
		return m.evalFn(ctx, script, keys, args)
	}
	return nil
}

func (m *mockStore) NodesStats(ctx context.Context) ([]db.NodeStats, error) {
	if m.nodesFn != nil {
		return m.nodesFn(ctx)
	}
	return nil, nil
}

func (m *mockStore) Close() {}

func (m *mockStore) WaitForReady(ctx context.Context, timeout time.Duration) error {
	return nil
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Engine.Addrs = []string{"localhost:6379"}
	cfg.Index.ItemsMonthlyIndexed = []string{item.KindEvent, item.KindSession}
	cfg.ApplyDefaults()
	return cfg
}

func newTestService(t *testing.T, ms *mockStore) *Service {
	t.Helper()
	svc, err := NewService(zap.NewNop(), ms, testConfig())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	t.Cleanup(func() { svc.Stop(context.Background()) })
	return svc
}

func eventAt(id string, ts time.Time) *item.Event {
	return &item.Event{
		BaseItem: item.BaseItem{ID: id, Type: item.KindEvent},
		Time:     item.NewTime(ts),
	}
}
