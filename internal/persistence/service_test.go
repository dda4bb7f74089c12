package persistence

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/cdx-io/cdx/internal/item"
)

func TestSerializeAddsCompanionFields(t *testing.T) {
	svc := newTestService(t, &mockStore{})

	p := item.NewProfile("p1")
	p.Properties["lastVisit"] = "2024-03-15T10:30:00.000Z"
	p.Properties["location"] = map[string]any{"lat": 48.8566, "lon": 2.3522}

	data, err := svc.serialize(p)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	props, _ := doc["properties"].(map[string]any)
	if props == nil {
		t.Fatal("missing properties object")
	}

	want := time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC).UnixMilli()
	if ms, _ := props["lastVisit__ms"].(float64); int64(ms) != want {
		t.Errorf("lastVisit__ms = %v, want %d", props["lastVisit__ms"], want)
	}
	if geo, _ := props["location__geo"].(string); geo != "2.3522,48.8566" {
		t.Errorf("location__geo = %q, want lon,lat order", props["location__geo"])
	}
}

func TestDeserializeStripsCompanionFields(t *testing.T) {
	svc := newTestService(t, &mockStore{})

	doc := []byte(`{
		"itemId": "p1",
		"itemType": "profile",
		"properties": {
			"lastVisit": "2024-03-15T10:30:00.000Z",
			"lastVisit__ms": 1710498600000,
			"location": {"lat": 48.8566, "lon": 2.3522},
			"location__geo": "2.3522,48.8566"
		}
	}`)
	it, err := svc.deserialize(item.KindProfile, doc)
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	p, ok := it.(*item.Profile)
	if !ok {
		t.Fatalf("deserialize returned %T, want *item.Profile", it)
	}
	if p.ItemID() != "p1" {
		t.Errorf("itemId = %q", p.ItemID())
	}
	if _, found := p.Properties["lastVisit__ms"]; found {
		t.Error("lastVisit__ms companion not stripped")
	}
	if _, found := p.Properties["location__geo"]; found {
		t.Error("location__geo companion not stripped")
	}
	if p.Properties["lastVisit"] != "2024-03-15T10:30:00.000Z" {
		t.Errorf("lastVisit = %v", p.Properties["lastVisit"])
	}
}

func TestDeserializeKindFallsBackToDocument(t *testing.T) {
	svc := newTestService(t, &mockStore{})

	it, err := svc.deserialize("", []byte(`{"itemId":"e1","itemType":"event","eventType":"view"}`))
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	if it.ItemType() != item.KindEvent {
		t.Errorf("itemType = %q, want event", it.ItemType())
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	svc := newTestService(t, &mockStore{})

	ts := time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)
	e := eventAt("e1", ts)
	e.EventType = "view"
	e.ProfileID = "p1"

	data, err := svc.serialize(e)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	it, err := svc.deserialize(item.KindEvent, data)
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	got, ok := it.(*item.Event)
	if !ok {
		t.Fatalf("deserialize returned %T", it)
	}
	if got.ItemID() != "e1" || got.EventType != "view" || got.ProfileID != "p1" {
		t.Errorf("round trip lost fields: %+v", got)
	}
	if !got.TimeStamp().Equal(ts) {
		t.Errorf("timeStamp = %v, want %v", got.TimeStamp(), ts)
	}
}

func TestUnregisterAllFromRemovesBothSides(t *testing.T) {
	svc := newTestService(t, &mockStore{})

	svc.Evaluators().Register("pluginCondition", "myPlugin", nil)
	svc.QueryBuilders().Register("pluginCondition", "myPlugin", nil)
	if !svc.Evaluators().Supports("pluginCondition") || !svc.QueryBuilders().Supports("pluginCondition") {
		t.Fatal("registration did not take")
	}

	svc.UnregisterAllFrom("myPlugin")
	if svc.Evaluators().Supports("pluginCondition") {
		t.Error("evaluator handler survived UnregisterAllFrom")
	}
	if svc.QueryBuilders().Supports("pluginCondition") {
		t.Error("query builder handler survived UnregisterAllFrom")
	}
	// the built-ins are untouched
	if !svc.Evaluators().Supports("propertyCondition") {
		t.Error("builtin evaluator was removed")
	}
}
