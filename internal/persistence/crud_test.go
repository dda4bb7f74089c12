package persistence

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/cdx-io/cdx/internal/condition"
	"github.com/cdx-io/cdx/internal/condition/builtin"
	"github.com/cdx-io/cdx/internal/db"
	"github.com/cdx-io/cdx/internal/item"
)

// batchRecorder captures every batch the bulk processor sends.
type batchRecorder struct {
	mu      sync.Mutex
	actions []db.BatchAction
}

func (r *batchRecorder) record(actions []db.BatchAction) []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, actions...)
	return make([]error, len(actions))
}

func (r *batchRecorder) all() []db.BatchAction {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]db.BatchAction(nil), r.actions...)
}

func TestSaveQueuesUntilRefresh(t *testing.T) {
	rec := &batchRecorder{}
	ms := &mockStore{
		doBatchFn: func(ctx context.Context, actions []db.BatchAction) []error {
			return rec.record(actions)
		},
	}
	svc := newTestService(t, ms)
	ctx := context.Background()

	p := item.NewProfile("p1")
	p.Properties["firstName"] = "Ada"
	if err := svc.Save(ctx, p); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if got := rec.all(); len(got) != 0 {
		t.Fatalf("expected no batches before refresh, got %d", len(got))
	}

	svc.Refresh(ctx)
	got := rec.all()
	if len(got) != 1 {
		t.Fatalf("expected 1 action after refresh, got %d", len(got))
	}
	if got[0].Op != db.BatchSet {
		t.Errorf("op = %v, want BatchSet", got[0].Op)
	}
	if got[0].Key != "context:item:p1" {
		t.Errorf("key = %q", got[0].Key)
	}
}

func TestSaveGeneratesMissingID(t *testing.T) {
	svc := newTestService(t, &mockStore{})

	p := item.NewProfile("")
	if err := svc.Save(context.Background(), p); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if p.ItemID() == "" {
		t.Error("Save left the item id empty")
	}
}

func TestSaveMonthlyEnsuresPartition(t *testing.T) {
	var created []string
	ms := &mockStore{
		createIdxFn: func(ctx context.Context, def *db.IndexDefinition) error {
			created = append(created, def.Name)
			return nil
		},
	}
	svc := newTestService(t, ms)

	e := eventAt("e1", time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC))
	if err := svc.Save(context.Background(), e); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if len(created) != 1 || created[0] != "context-2024-03" {
		t.Errorf("created indices = %v, want [context-2024-03]", created)
	}
}

func TestSaveNowWritesSynchronously(t *testing.T) {
	var gotKey string
	var gotData []byte
	ms := &mockStore{
		docSetFn: func(ctx context.Context, key string, data []byte) error {
			gotKey, gotData = key, data
			return nil
		},
	}
	svc := newTestService(t, ms)

	p := item.NewProfile("p1")
	if err := svc.SaveNow(context.Background(), p); err != nil {
		t.Fatalf("SaveNow: %v", err)
	}
	if gotKey != "context:item:p1" {
		t.Errorf("key = %q", gotKey)
	}
	var doc map[string]any
	if err := json.Unmarshal(gotData, &doc); err != nil {
		t.Fatalf("stored doc is not JSON: %v", err)
	}
	if doc["itemType"] != "profile" {
		t.Errorf("stored itemType = %v", doc["itemType"])
	}
}

func TestLoadAbsentReturnsNil(t *testing.T) {
	svc := newTestService(t, &mockStore{})

	it, err := svc.Load(context.Background(), "nope", item.KindProfile)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if it != nil {
		t.Errorf("Load = %v, want nil", it)
	}
}

func TestLoadDirectByKey(t *testing.T) {
	var gotKey string
	ms := &mockStore{
		docGetFn: func(ctx context.Context, key string) ([]byte, error) {
			gotKey = key
			return []byte(`{"itemId":"p1","itemType":"profile"}`), nil
		},
	}
	svc := newTestService(t, ms)

	it, err := svc.Load(context.Background(), "p1", item.KindProfile)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if gotKey != "context:item:p1" {
		t.Errorf("key = %q", gotKey)
	}
	if it == nil || it.ItemID() != "p1" {
		t.Errorf("Load = %v", it)
	}
}

func TestLoadMonthlyWithoutHintSearches(t *testing.T) {
	var searched []string
	ms := &mockStore{
		listIdxFn: func(ctx context.Context) ([]string, error) {
			return []string{"context", "context-2024-03", "context-queries"}, nil
		},
		searchFn: func(ctx context.Context, q *db.SearchQuery) (*db.SearchResult, error) {
			searched = append(searched, q.Index)
			return &db.SearchResult{Total: 1, Hits: []db.SearchHit{
				{Key: "context-2024-03:item:e1", Source: []byte(`{"itemId":"e1","itemType":"event"}`)},
			}}, nil
		},
	}
	svc := newTestService(t, ms)

	it, err := svc.Load(context.Background(), "e1", item.KindEvent)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if it == nil || it.ItemID() != "e1" {
		t.Fatalf("Load = %v", it)
	}
	if len(searched) != 1 || searched[0] != "context-2024-03" {
		t.Errorf("searched indices = %v", searched)
	}
}

func TestLoadMonthlyWithHintGoesDirect(t *testing.T) {
	var gotKey string
	ms := &mockStore{
		docGetFn: func(ctx context.Context, key string) ([]byte, error) {
			gotKey = key
			return []byte(`{"itemId":"e1","itemType":"event"}`), nil
		},
	}
	svc := newTestService(t, ms)

	hint := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	if _, err := svc.LoadWithHint(context.Background(), "e1", item.KindEvent, hint); err != nil {
		t.Fatalf("LoadWithHint: %v", err)
	}
	if gotKey != "context-2024-03:item:e1" {
		t.Errorf("key = %q", gotKey)
	}
}

func TestRemove(t *testing.T) {
	var gotKey string
	ms := &mockStore{
		docDelFn: func(ctx context.Context, key string) error {
			gotKey = key
			return nil
		},
	}
	svc := newTestService(t, ms)

	if err := svc.Remove(context.Background(), "p1", item.KindProfile); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if gotKey != "context:item:p1" {
		t.Errorf("key = %q", gotKey)
	}
}

func TestUpdateMergesCompanionedPartial(t *testing.T) {
	rec := &batchRecorder{}
	ms := &mockStore{
		doBatchFn: func(ctx context.Context, actions []db.BatchAction) []error {
			return rec.record(actions)
		},
	}
	svc := newTestService(t, ms)
	ctx := context.Background()

	err := svc.Update(ctx, "p1", item.KindProfile, time.Time{}, map[string]any{
		"lastVisit": "2024-03-15T10:30:00.000Z",
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	svc.Refresh(ctx)

	got := rec.all()
	if len(got) != 1 || got[0].Op != db.BatchMerge {
		t.Fatalf("actions = %+v", got)
	}
	var partial map[string]any
	if err := json.Unmarshal(got[0].Data, &partial); err != nil {
		t.Fatalf("partial is not JSON: %v", err)
	}
	if _, found := partial["lastVisit__ms"]; !found {
		t.Error("partial update is missing the date companion")
	}
}

func TestRemoveByQueryCurrentMonthScope(t *testing.T) {
	var scrolled []string
	rec := &batchRecorder{}
	ms := &mockStore{
		listIdxFn: func(ctx context.Context) ([]string, error) {
			return []string{"context", "context-2024-01", "context-2025-01", "context-queries"}, nil
		},
		scrollFn: func(ctx context.Context, index, query string, batchSize int, fn func(keys []string) error) error {
			scrolled = append(scrolled, index)
			return fn([]string{index + ":item:e1", index + ":item:e2"})
		},
		doBatchFn: func(ctx context.Context, actions []db.BatchAction) []error {
			return rec.record(actions)
		},
	}
	svc := newTestService(t, ms)

	cond := condition.New(builtin.TypeMatchAll, nil)
	if err := svc.RemoveByQuery(context.Background(), cond, item.KindEvent, CurrentMonth); err != nil {
		t.Fatalf("RemoveByQuery: %v", err)
	}

	current := svc.Router().MonthlyIndex(time.Now())
	if len(scrolled) != 1 || scrolled[0] != current {
		t.Errorf("scrolled = %v, want only %q", scrolled, current)
	}
	for _, a := range rec.all() {
		if a.Op != db.BatchDel {
			t.Errorf("op = %v, want BatchDel", a.Op)
		}
	}
}

func TestRemoveByQueryAllMonths(t *testing.T) {
	var scrolled []string
	ms := &mockStore{
		listIdxFn: func(ctx context.Context) ([]string, error) {
			return []string{"context", "context-2024-01", "context-2024-02", "context-queries"}, nil
		},
		scrollFn: func(ctx context.Context, index, query string, batchSize int, fn func(keys []string) error) error {
			scrolled = append(scrolled, index)
			return nil
		},
	}
	svc := newTestService(t, ms)

	cond := condition.New(builtin.TypeMatchAll, nil)
	if err := svc.RemoveByQuery(context.Background(), cond, item.KindEvent, AllMonths); err != nil {
		t.Fatalf("RemoveByQuery: %v", err)
	}
	if len(scrolled) != 2 || scrolled[0] != "context-2024-01" || scrolled[1] != "context-2024-02" {
		t.Errorf("scrolled = %v", scrolled)
	}
}
