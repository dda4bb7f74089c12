package db

import "testing"

func TestIndexBuilder(t *testing.T) {
	def, err := NewIndex("context").
		Prefix("context:item:").
		Tag("$.itemType", "itemType").
		Numeric("$.properties.age", "properties_age").
		Text("$.properties.bio", "properties_bio").
		Geo("$.properties.location__geo", "properties_location__geo").
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if def.Name != "context" || len(def.Prefixes) != 1 || len(def.Fields) != 4 {
		t.Fatalf("def = %+v", def)
	}
	if def.Fields[0].Type != IndexFieldTag || def.Fields[0].Sortable {
		t.Errorf("tag field = %+v", def.Fields[0])
	}
	if def.Fields[1].Type != IndexFieldNumeric || !def.Fields[1].Sortable {
		t.Errorf("numeric fields sort by default, got %+v", def.Fields[1])
	}
}

func TestIndexBuilderValidation(t *testing.T) {
	if _, err := NewIndex("").Tag("$.x", "x").Build(); err == nil {
		t.Error("empty name accepted")
	}
	if _, err := NewIndex("context").Build(); err == nil {
		t.Error("empty schema accepted")
	}
	if _, err := NewIndex("bad name").Tag("$.x", "x").Build(); err == nil {
		t.Error("name with a space accepted")
	}
	if _, err := NewIndex("context").Tag("$.x", "x").Tag("$.y", "x").Build(); err == nil {
		t.Error("duplicate alias accepted")
	}
}

func TestIsValidIdentifier(t *testing.T) {
	valid := []string{"context", "context-2024-03", "context:item:", "a_b.c"}
	for _, s := range valid {
		if !IsValidIdentifier(s) {
			t.Errorf("IsValidIdentifier(%q) = false", s)
		}
	}
	invalid := []string{"", "has space", "quo'te", "star*"}
	for _, s := range invalid {
		if IsValidIdentifier(s) {
			t.Errorf("IsValidIdentifier(%q) = true", s)
		}
	}
}

func TestFieldTypeString(t *testing.T) {
	tests := []struct {
		typ  IndexFieldType
		want string
	}{
		{IndexFieldNumeric, "NUMERIC"},
		{IndexFieldTag, "TAG"},
		{IndexFieldText, "TEXT"},
		{IndexFieldGeo, "GEO"},
		{IndexFieldType(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.typ.String(); got != tt.want {
			t.Errorf("String(%d) = %q, want %q", tt.typ, got, tt.want)
		}
	}
}
