package item

import (
	"encoding/json"
	"time"
)

// Profile is a visitor profile with free-form property bags, segment
// membership and scoring.
type Profile struct {
	BaseItem
	Properties       map[string]any `json:"properties,omitempty"`
	SystemProperties map[string]any `json:"systemProperties,omitempty"`
	Segments         []string       `json:"segments,omitempty"`
	Scores           map[string]int `json:"scores,omitempty"`
	MergedWith       string         `json:"mergedWith,omitempty"`
	Anonymous        bool           `json:"anonymous,omitempty"`
}

// NewProfile returns a profile with the given id and empty property bags.
func NewProfile(id string) *Profile {
	return &Profile{
		BaseItem:         BaseItem{ID: id, Type: KindProfile},
		Properties:       map[string]any{},
		SystemProperties: map[string]any{},
	}
}

// Session is one visit of a profile.
type Session struct {
	BaseItem
	ProfileID        string         `json:"profileId,omitempty"`
	Properties       map[string]any `json:"properties,omitempty"`
	SystemProperties map[string]any `json:"systemProperties,omitempty"`
	Time             Time           `json:"timeStamp"`
	LastEventDate    Time           `json:"lastEventDate,omitempty"`
	Duration         int64          `json:"duration,omitempty"`
	Size             int            `json:"size,omitempty"`
}

func (s *Session) TimeStamp() time.Time { return s.Time.Time }

// Event is a timestamped fact about a profile within a session.
type Event struct {
	BaseItem
	EventType  string         `json:"eventType,omitempty"`
	ProfileID  string         `json:"profileId,omitempty"`
	SessionID  string         `json:"sessionId,omitempty"`
	Time       Time           `json:"timeStamp"`
	Properties map[string]any `json:"properties,omitempty"`
	Source     map[string]any `json:"source,omitempty"`
	Target     map[string]any `json:"target,omitempty"`
	Persistent bool           `json:"persistent,omitempty"`
}

func (e *Event) TimeStamp() time.Time { return e.Time.Time }

// Segment is a named profile grouping defined by a condition tree. The
// condition stays raw here so the segment engine owns its interpretation.
type Segment struct {
	BaseItem
	Name      string          `json:"name,omitempty"`
	Enabled   bool            `json:"enabled,omitempty"`
	Condition json.RawMessage `json:"condition,omitempty"`
}

// Rule couples a trigger condition with a list of action descriptors.
type Rule struct {
	BaseItem
	Name      string            `json:"name,omitempty"`
	Enabled   bool              `json:"enabled,omitempty"`
	Priority  int               `json:"priority,omitempty"`
	Condition json.RawMessage   `json:"condition,omitempty"`
	Actions   []json.RawMessage `json:"actions,omitempty"`
}

// PropertyType describes a user-visible property: target object, value type
// hint, cardinality and system tags.
type PropertyType struct {
	BaseItem
	Target      string   `json:"target,omitempty"`
	ValueTypeID string   `json:"valueTypeId,omitempty"`
	Multivalued *bool    `json:"multivalued,omitempty"`
	SystemTags  []string `json:"systemTags,omitempty"`
}

// IsMultivalued reports whether the property accepts a list of values.
func (p *PropertyType) IsMultivalued() bool {
	return p.Multivalued != nil && *p.Multivalued
}

// HasSystemTag reports whether tag is in the property's system tag set.
func (p *PropertyType) HasSystemTag(tag string) bool {
	for _, t := range p.SystemTags {
		if t == tag {
			return true
		}
	}
	return false
}

// CustomItem is the deserialization target for kinds without a registered
// factory. It round-trips every field.
type CustomItem struct {
	BaseItem
	Properties map[string]any `json:"-"`
}

func (c *CustomItem) MarshalJSON() ([]byte, error) {
	doc := make(map[string]any, len(c.Properties)+3)
	for k, v := range c.Properties {
		doc[k] = v
	}
	doc["itemId"] = c.ID
	doc["itemType"] = c.Type
	if c.ScopeName != "" {
		doc["scope"] = c.ScopeName
	}
	return json.Marshal(doc)
}

func (c *CustomItem) UnmarshalJSON(data []byte) error {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	c.ID, _ = doc["itemId"].(string)
	c.Type, _ = doc["itemType"].(string)
	c.ScopeName, _ = doc["scope"].(string)
	delete(doc, "itemId")
	delete(doc, "itemType")
	delete(doc, "scope")
	c.Properties = doc
	return nil
}
