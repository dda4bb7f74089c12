package persistence

import (
	"testing"
	"time"

	"github.com/cdx-io/cdx/internal/config"
	"github.com/cdx-io/cdx/internal/item"
)

func testRouter() *Router {
	return NewRouter(&config.IndexConfig{
		Name:                "context",
		IndexNames:          map[string]string{item.KindSegment: "segments"},
		ItemsMonthlyIndexed: []string{item.KindEvent, item.KindSession},
		RoutingByType:       map[string]string{item.KindSession: "profileId"},
	})
}

func TestIndexForWrite(t *testing.T) {
	r := testRouter()
	march := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		kind string
		want string
	}{
		{item.KindProfile, "context"},
		{item.KindEvent, "context-2024-03"},
		{item.KindSession, "context-2024-03"},
		{item.KindSegment, "segments"},
	}
	for _, tt := range tests {
		if got := r.IndexForWrite(tt.kind, march); got != tt.want {
			t.Errorf("IndexForWrite(%s) = %q, want %q", tt.kind, got, tt.want)
		}
	}
}

func TestIndexForWrite_Deterministic(t *testing.T) {
	r := testRouter()
	ts := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	first := r.IndexForWrite(item.KindEvent, ts)
	for i := 0; i < 10; i++ {
		if got := r.IndexForWrite(item.KindEvent, ts); got != first {
			t.Fatalf("routing is not deterministic: %q then %q", first, got)
		}
	}
}

func TestMonthlyIndexUsesUTC(t *testing.T) {
	r := testRouter()
	// 2024-03-31 23:30 in UTC+2 is already April in local time but still
	// March in UTC.
	loc := time.FixedZone("UTC+2", 2*3600)
	ts := time.Date(2024, 4, 1, 1, 30, 0, 0, loc)
	if got := r.MonthlyIndex(ts); got != "context-2024-03" {
		t.Errorf("MonthlyIndex = %q, want context-2024-03", got)
	}
}

func TestMonthOf(t *testing.T) {
	r := testRouter()

	month, ok := r.MonthOf("context-2024-03")
	if !ok {
		t.Fatal("expected context-2024-03 to parse as a monthly partition")
	}
	if month.Year() != 2024 || month.Month() != time.March {
		t.Errorf("MonthOf = %v, want 2024-03", month)
	}

	for _, name := range []string{"context", "context-queries", "segments", "other-2024-03", "context-2024", "context-2024-3"} {
		if _, ok := r.MonthOf(name); ok {
			t.Errorf("MonthOf(%q) unexpectedly ok", name)
		}
	}
}

func TestIndicesForQuery(t *testing.T) {
	r := testRouter()
	existing := []string{"context", "context-2024-02", "context-2024-03", "context-queries", "segments"}

	got := r.IndicesForQuery(item.KindEvent, existing)
	if len(got) != 2 || got[0] != "context-2024-02" || got[1] != "context-2024-03" {
		t.Errorf("IndicesForQuery(event) = %v", got)
	}
	if got := r.IndicesForQuery(item.KindProfile, existing); len(got) != 1 || got[0] != "context" {
		t.Errorf("IndicesForQuery(profile) = %v", got)
	}
	if got := r.IndicesForQuery(item.KindSegment, existing); len(got) != 1 || got[0] != "segments" {
		t.Errorf("IndicesForQuery(segment) = %v", got)
	}
}

func TestKey(t *testing.T) {
	r := testRouter()

	if got := r.Key("context", item.KindProfile, "p1", ""); got != "context:item:p1" {
		t.Errorf("Key(profile) = %q", got)
	}
	// routed kinds get a hash tag so related docs share a cluster slot
	if got := r.Key("context-2024-03", item.KindSession, "s1", "p1"); got != "context-2024-03:item:{p1}:s1" {
		t.Errorf("Key(session) = %q", got)
	}
	// a routing value for an unrouted kind is ignored
	if got := r.Key("context", item.KindProfile, "p1", "x"); got != "context:item:p1" {
		t.Errorf("Key(profile, routed) = %q", got)
	}
}

func TestQueryKeys(t *testing.T) {
	r := testRouter()
	if got := r.QueryKey("highTwitter"); got != "context:query:highTwitter" {
		t.Errorf("QueryKey = %q", got)
	}
	if got := r.QueriesIndex(); got != "context-queries" {
		t.Errorf("QueriesIndex = %q", got)
	}
}
