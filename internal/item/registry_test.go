package item

import (
	"encoding/json"
	"testing"
	"time"
)

func TestRegistryBuildsBuiltinKinds(t *testing.T) {
	r := NewRegistry()
	kinds := []string{KindProfile, KindSession, KindEvent, KindSegment, KindRule, KindPropertyType}
	for _, kind := range kinds {
		it := r.New(kind)
		if it.ItemType() != kind {
			t.Errorf("New(%s).ItemType() = %s", kind, it.ItemType())
		}
		if _, custom := it.(*CustomItem); custom {
			t.Errorf("New(%s) fell back to CustomItem", kind)
		}
	}
}

func TestRegistryUnknownKindFallsBackToCustomItem(t *testing.T) {
	r := NewRegistry()
	it := r.New("goal")
	custom, ok := it.(*CustomItem)
	if !ok {
		t.Fatalf("New(goal) = %T, want *CustomItem", it)
	}
	if custom.ItemType() != "goal" {
		t.Errorf("ItemType = %s", custom.ItemType())
	}
}

func TestRegistryRegisterLastWins(t *testing.T) {
	r := NewRegistry()
	r.Register("goal", func() Item { return &CustomItem{BaseItem: BaseItem{Type: "goal", ID: "first"}} })
	r.Register("goal", func() Item { return &CustomItem{BaseItem: BaseItem{Type: "goal", ID: "second"}} })
	if got := r.New("goal").ItemID(); got != "second" {
		t.Errorf("ItemID = %s, want second", got)
	}
}

func TestRegistryUnmarshalTyped(t *testing.T) {
	r := NewRegistry()
	doc := `{"itemId":"e1","itemType":"event","eventType":"view","timeStamp":"2024-03-15T12:00:00.000Z","properties":{"page":"/home"}}`
	it, err := r.Unmarshal(KindEvent, []byte(doc))
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	ev, ok := it.(*Event)
	if !ok {
		t.Fatalf("got %T, want *Event", it)
	}
	if ev.ItemID() != "e1" || ev.EventType != "view" {
		t.Errorf("event = %+v", ev)
	}
	want := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	if !ev.TimeStamp().Equal(want) {
		t.Errorf("timestamp = %v, want %v", ev.TimeStamp(), want)
	}
}

func TestRegistryUnmarshalBadDocument(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Unmarshal(KindEvent, []byte("{broken")); err == nil {
		t.Error("Unmarshal accepted broken JSON")
	}
}

func TestCustomItemRoundTripsUnknownFields(t *testing.T) {
	in := &CustomItem{
		BaseItem: BaseItem{ID: "g1", Type: "goal", ScopeName: "site"},
		Properties: map[string]any{
			"name":   "signup",
			"target": map[string]any{"path": "/welcome"},
		},
	}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var out CustomItem
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.ItemID() != "g1" || out.ItemType() != "goal" || out.Scope() != "site" {
		t.Errorf("identity fields = %s/%s/%s", out.ItemID(), out.ItemType(), out.Scope())
	}
	if out.Properties["name"] != "signup" {
		t.Errorf("name = %v", out.Properties["name"])
	}
	target, ok := out.Properties["target"].(map[string]any)
	if !ok || target["path"] != "/welcome" {
		t.Errorf("target = %v", out.Properties["target"])
	}
	if _, leaked := out.Properties["itemId"]; leaked {
		t.Error("identity keys should be stripped from the property bag")
	}
}

func TestLookupPath(t *testing.T) {
	p := NewProfile("p1")
	p.Properties["address"] = map[string]any{"city": "Paris"}
	p.Properties["age"] = 30

	if v, ok := Lookup(p, "properties.address.city"); !ok || v != "Paris" {
		t.Errorf("city = %v %v", v, ok)
	}
	if v, ok := Lookup(p, "properties.age"); !ok || v != float64(30) {
		t.Errorf("age = %v %v", v, ok)
	}
	if v, ok := Lookup(p, "itemId"); !ok || v != "p1" {
		t.Errorf("itemId = %v %v", v, ok)
	}
	if _, ok := Lookup(p, "properties.address.zip"); ok {
		t.Error("absent leaf should report not found")
	}
	if _, ok := Lookup(p, "properties.age.nested"); ok {
		t.Error("descending through a scalar should report not found")
	}
}
