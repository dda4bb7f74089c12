package item

import "time"

// Well-known item kinds.
const (
	KindProfile      = "profile"
	KindSession      = "session"
	KindEvent        = "event"
	KindSegment      = "segment"
	KindRule         = "rule"
	KindPropertyType = "propertyType"
)

// Item is any persisted JSON object with a kind tag and a unique id.
type Item interface {
	ItemID() string
	SetItemID(id string)
	ItemType() string
	Scope() string
}

// Timestamped is an item carrying an event instant. Monthly index
// partitioning keys on it.
type Timestamped interface {
	Item
	TimeStamp() time.Time
}

// BaseItem carries the attributes shared by every kind. Concrete kinds embed
// it and fix the type tag at construction.
type BaseItem struct {
	ID        string `json:"itemId"`
	Type      string `json:"itemType"`
	ScopeName string `json:"scope,omitempty"`
}

func (b *BaseItem) ItemID() string      { return b.ID }
func (b *BaseItem) SetItemID(id string) { b.ID = id }
func (b *BaseItem) ItemType() string    { return b.Type }
func (b *BaseItem) Scope() string       { return b.ScopeName }
