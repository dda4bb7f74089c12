package item

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Factory builds an empty item of one kind for deserialization.
type Factory func() Item

// Registry maps kind tags to item factories. It replaces reflective
// discriminator lookup with an explicit capability. Reads dominate, so the
// kind map is swapped copy-on-write under the mutex.
type Registry struct {
	mu        sync.Mutex
	factories map[string]Factory
}

// NewRegistry returns a registry pre-loaded with the built-in kinds.
func NewRegistry() *Registry {
	r := &Registry{factories: map[string]Factory{}}
	r.Register(KindProfile, func() Item { return &Profile{BaseItem: BaseItem{Type: KindProfile}} })
	r.Register(KindSession, func() Item { return &Session{BaseItem: BaseItem{Type: KindSession}} })
	r.Register(KindEvent, func() Item { return &Event{BaseItem: BaseItem{Type: KindEvent}} })
	r.Register(KindSegment, func() Item { return &Segment{BaseItem: BaseItem{Type: KindSegment}} })
	r.Register(KindRule, func() Item { return &Rule{BaseItem: BaseItem{Type: KindRule}} })
	r.Register(KindPropertyType, func() Item { return &PropertyType{BaseItem: BaseItem{Type: KindPropertyType}} })
	return r
}

// Register binds a factory to a kind tag. Last registration wins.
func (r *Registry) Register(kind string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	next := make(map[string]Factory, len(r.factories)+1)
	for k, v := range r.factories {
		next[k] = v
	}
	next[kind] = f
	r.factories = next
}

// New returns an empty item of the given kind. Unknown kinds fall back to
// CustomItem so foreign documents still round-trip.
func (r *Registry) New(kind string) Item {
	r.mu.Lock()
	factories := r.factories
	r.mu.Unlock()
	if f, ok := factories[kind]; ok {
		return f()
	}
	return &CustomItem{BaseItem: BaseItem{Type: kind}}
}

// Unmarshal decodes a stored document into a typed item of the given kind.
func (r *Registry) Unmarshal(kind string, data []byte) (Item, error) {
	it := r.New(kind)
	if err := json.Unmarshal(data, it); err != nil {
		return nil, fmt.Errorf("deserialize %s: %w", kind, err)
	}
	return it, nil
}
