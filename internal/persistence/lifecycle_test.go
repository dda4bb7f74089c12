package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/cdx-io/cdx/internal/db"
	"github.com/cdx-io/cdx/internal/item"
)

func TestPurgeByDate(t *testing.T) {
	var dropped []string
	ms := &mockStore{
		listIdxFn: func(ctx context.Context) ([]string, error) {
			return []string{
				"context",
				"context-2023-11",
				"context-2023-12",
				"context-2024-01",
				"context-queries",
			}, nil
		},
		dropIdxFn: func(ctx context.Context, name string, dropDocs bool) error {
			if !dropDocs {
				t.Errorf("DropIndex(%s) must drop documents", name)
			}
			dropped = append(dropped, name)
			return nil
		},
	}
	svc := newTestService(t, ms)

	// mid-January cutoff: months strictly before 2024-01 go
	before := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	if err := svc.PurgeByDate(context.Background(), before); err != nil {
		t.Fatalf("PurgeByDate: %v", err)
	}
	if len(dropped) != 2 || dropped[0] != "context-2023-11" || dropped[1] != "context-2023-12" {
		t.Errorf("dropped = %v, want [context-2023-11 context-2023-12]", dropped)
	}
}

func TestPurgeByScope(t *testing.T) {
	var scrolled []string
	var gotQuery string
	ms := &mockStore{
		listIdxFn: func(ctx context.Context) ([]string, error) {
			return []string{"context", "context-2024-01", "context-queries", "unrelated"}, nil
		},
		scrollFn: func(ctx context.Context, index, query string, batchSize int, fn func(keys []string) error) error {
			scrolled = append(scrolled, index)
			gotQuery = query
			return nil
		},
	}
	svc := newTestService(t, ms)

	if err := svc.PurgeByScope(context.Background(), "MySite"); err != nil {
		t.Fatalf("PurgeByScope: %v", err)
	}
	if len(scrolled) != 2 || scrolled[0] != "context" || scrolled[1] != "context-2024-01" {
		t.Errorf("scrolled = %v", scrolled)
	}
	if gotQuery != "@scope:{mysite}" {
		t.Errorf("query = %q", gotQuery)
	}
}

func TestPurgeByScopeRequiresScope(t *testing.T) {
	svc := newTestService(t, &mockStore{})
	if err := svc.PurgeByScope(context.Background(), ""); err == nil {
		t.Error("expected error for empty scope")
	}
}

func TestRemoveIndexRejectsMonthlyKinds(t *testing.T) {
	svc := newTestService(t, &mockStore{})
	if err := svc.RemoveIndex(context.Background(), item.KindEvent); err == nil {
		t.Error("expected error for monthly kind")
	}
}

func TestStartCreatesIndices(t *testing.T) {
	var created []string
	ms := &mockStore{
		createIdxFn: func(ctx context.Context, def *db.IndexDefinition) error {
			created = append(created, def.Name)
			return nil
		},
	}
	svc := newTestService(t, ms)

	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	want := map[string]bool{
		"context":         true,
		"context-queries": true,
		svc.Router().MonthlyIndex(time.Now()): true,
	}
	got := map[string]bool{}
	for _, name := range created {
		got[name] = true
	}
	for name := range want {
		if !got[name] {
			t.Errorf("index %q was not created (created: %v)", name, created)
		}
	}
}

func TestStartToleratesExistingIndices(t *testing.T) {
	ms := &mockStore{
		createIdxFn: func(ctx context.Context, def *db.IndexDefinition) error {
			return db.ErrIndexExists
		},
	}
	svc := newTestService(t, ms)
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
}

func TestBundledMappingsLoad(t *testing.T) {
	svc := newTestService(t, &mockStore{})
	if err := svc.loadMappings(); err != nil {
		t.Fatalf("loadMappings: %v", err)
	}
	for _, kind := range []string{
		item.KindProfile, item.KindSession, item.KindEvent,
		item.KindSegment, item.KindRule, item.KindPropertyType,
	} {
		if svc.mappingFor(kind) == nil {
			t.Errorf("no bundled mapping for %s", kind)
		}
	}
}

func TestMappingIndexFields(t *testing.T) {
	m := &Mapping{
		ItemType: "profile",
		Fields: []MappingField{
			{Path: "properties.twitterId", Type: "numeric"},
			{Path: "properties.lastVisit", Type: "date"},
			{Path: "properties.location", Type: "geo"},
			{Path: "properties.firstName", Type: "tag", Sortable: true},
		},
	}
	fields := m.indexFields()
	if len(fields) != 4 {
		t.Fatalf("fields = %+v", fields)
	}

	byAlias := map[string]db.IndexField{}
	for _, f := range fields {
		byAlias[f.Alias] = f
	}

	num := byAlias["properties_twitterId"]
	if num.Type != db.IndexFieldNumeric || num.Name != "$.properties.twitterId" {
		t.Errorf("numeric field = %+v", num)
	}
	date := byAlias["properties_lastVisit__ms"]
	if date.Type != db.IndexFieldNumeric || date.Name != "$.properties.lastVisit__ms" {
		t.Errorf("date field = %+v", date)
	}
	geo := byAlias["properties_location__geo"]
	if geo.Type != db.IndexFieldGeo || geo.Name != "$.properties.location__geo" {
		t.Errorf("geo field = %+v", geo)
	}
	tag := byAlias["properties_firstName"]
	if tag.Type != db.IndexFieldTag || !tag.Sortable {
		t.Errorf("tag field = %+v", tag)
	}
}

func TestCreateMappingAltersCoveringIndices(t *testing.T) {
	var altered []string
	ms := &mockStore{
		alterIdxFn: func(ctx context.Context, name string, fields []db.IndexField) error {
			altered = append(altered, name)
			return nil
		},
	}
	svc := newTestService(t, ms)

	mapping := []byte(`{"fields":[{"path":"properties.myPlugin","type":"tag"}]}`)
	if err := svc.CreateMapping(context.Background(), item.KindProfile, mapping); err != nil {
		t.Fatalf("CreateMapping: %v", err)
	}
	if len(altered) != 1 || altered[0] != "context" {
		t.Errorf("altered = %v", altered)
	}
	if svc.mappingFor(item.KindProfile) == nil {
		t.Error("mapping cache not updated")
	}
}

func TestGetPropertiesMapping(t *testing.T) {
	ms := &mockStore{
		idxAttrsFn: func(ctx context.Context, name string) ([]db.AttributeInfo, error) {
			return []db.AttributeInfo{
				{Identifier: "$.properties.twitterId", Attribute: "properties_twitterId", Type: "NUMERIC", Extra: map[string]any{"SORTABLE": true}},
			}, nil
		},
	}
	svc := newTestService(t, ms)

	merged, err := svc.GetPropertiesMapping(context.Background(), item.KindProfile)
	if err != nil {
		t.Fatalf("GetPropertiesMapping: %v", err)
	}
	entry := merged["properties_twitterId"]
	if entry == nil {
		t.Fatal("missing attribute entry")
	}
	if entry["type"] != "NUMERIC" || entry["identifier"] != "$.properties.twitterId" {
		t.Errorf("entry = %v", entry)
	}
	if entry["SORTABLE"] != true {
		t.Errorf("extra not merged: %v", entry)
	}
}

func TestMergeAttrEntryDeepMerges(t *testing.T) {
	merged := map[string]map[string]any{}
	mergeAttrEntry(merged, "f", map[string]any{"type": "TAG", "opts": map[string]any{"a": 1}})
	mergeAttrEntry(merged, "f", map[string]any{"opts": map[string]any{"b": 2}})

	opts := merged["f"]["opts"].(map[string]any)
	if opts["a"] != 1 || opts["b"] != 2 {
		t.Errorf("opts = %v", opts)
	}
	if merged["f"]["type"] != "TAG" {
		t.Errorf("type = %v", merged["f"]["type"])
	}
}
