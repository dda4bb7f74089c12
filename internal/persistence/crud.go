package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cdx-io/cdx/internal/condition"
	"github.com/cdx-io/cdx/internal/condition/builtin"
	"github.com/cdx-io/cdx/internal/db"
	"github.com/cdx-io/cdx/internal/item"
)

// RemovalScope selects which monthly partitions a removeByQuery touches.
// Non-monthly kinds ignore it.
type RemovalScope int

const (
	// AllMonths deletes matches from every monthly partition.
	AllMonths RemovalScope = iota
	// CurrentMonth deletes matches from the current partition only.
	CurrentMonth
)

// ensureID assigns a generated id to items saved without one.
func ensureID(it item.Item) {
	if it.ItemID() == "" {
		it.SetItemID(uuid.NewString())
	}
}

// Save writes an item. With the bulk processor active the call returns once
// the action is queued. A missing monthly index is created before the
// write.
func (s *Service) Save(ctx context.Context, it item.Item) error {
	ensureID(it)
	ts := time.Now()
	if t, ok := it.(item.Timestamped); ok && !t.TimeStamp().IsZero() {
		ts = t.TimeStamp()
	}
	index := s.router.IndexForWrite(it.ItemType(), ts)

	if s.router.IsMonthly(it.ItemType()) {
		if err := s.ensureMonthlyIndex(ctx, index); err != nil {
			return err
		}
	}

	data, err := s.serialize(it)
	if err != nil {
		return err
	}
	key := s.router.Key(index, it.ItemType(), it.ItemID(), s.routingValue(it))
	return s.processor.Add(ctx, db.BatchAction{Op: db.BatchSet, Key: key, Data: data})
}

// SaveNow writes an item synchronously, bypassing the bulk queue. Used
// where refresh-immediate semantics are required.
func (s *Service) SaveNow(ctx context.Context, it item.Item) error {
	ensureID(it)
	ts := time.Now()
	if t, ok := it.(item.Timestamped); ok && !t.TimeStamp().IsZero() {
		ts = t.TimeStamp()
	}
	index := s.router.IndexForWrite(it.ItemType(), ts)
	if s.router.IsMonthly(it.ItemType()) {
		if err := s.ensureMonthlyIndex(ctx, index); err != nil {
			return err
		}
	}
	data, err := s.serialize(it)
	if err != nil {
		return err
	}
	key := s.router.Key(index, it.ItemType(), it.ItemID(), s.routingValue(it))
	return s.remote(ctx, "save", it.ItemType(), func(ctx context.Context) error {
		return s.store.DocSet(ctx, key, data)
	})
}

// Update applies a partial document to an item. Enqueued when the bulk
// processor is active.
func (s *Service) Update(ctx context.Context, id, kind string, dateHint time.Time, fields map[string]any) error {
	key, err := s.keyFor(ctx, id, kind, dateHint)
	if err != nil {
		return err
	}
	partial := map[string]any{}
	for k, v := range fields {
		partial[k] = v
	}
	addCompanionFields(partial)
	data, err := json.Marshal(partial)
	if err != nil {
		return err
	}
	return s.processor.Add(ctx, db.BatchAction{Op: db.BatchMerge, Key: key, Data: data})
}

// UpdateWithScript runs a server-side script against an item's document.
// Enqueued when the bulk processor is active.
func (s *Service) UpdateWithScript(ctx context.Context, id, kind string, dateHint time.Time, script string, params []string) error {
	key, err := s.keyFor(ctx, id, kind, dateHint)
	if err != nil {
		return err
	}
	return s.processor.Add(ctx, db.BatchAction{Op: db.BatchScript, Key: key, Script: script, Args: params})
}

// Load returns the item by id, or nil when absent. Monthly kinds without a
// date hint degrade to an ids query across the existing partitions.
func (s *Service) Load(ctx context.Context, id, kind string) (item.Item, error) {
	return s.LoadWithHint(ctx, id, kind, time.Time{})
}

// LoadWithHint is Load with an optional partition date hint for monthly
// kinds.
func (s *Service) LoadWithHint(ctx context.Context, id, kind string, dateHint time.Time) (item.Item, error) {
	if _, routed := s.router.RoutingField(kind); !routed {
		if !s.router.IsMonthly(kind) || !dateHint.IsZero() {
			index := s.router.IndexForWrite(kind, dateHint)
			key := s.router.Key(index, kind, id, "")
			var data []byte
			err := s.remote(ctx, "load", kind, func(ctx context.Context) error {
				var getErr error
				data, getErr = s.store.DocGet(ctx, key)
				return getErr
			})
			if errors.Is(err, db.ErrKeyNotFound) {
				return nil, nil
			}
			if err != nil {
				return nil, err
			}
			return s.deserialize(kind, data)
		}
	}
	return s.loadBySearch(ctx, id, kind)
}

// loadBySearch resolves an item whose exact key is unknown (monthly kind
// without a hint, or routed kind) with an ids query.
func (s *Service) loadBySearch(ctx context.Context, id, kind string) (item.Item, error) {
	ids := condition.New(builtin.TypeIDs, map[string]any{"ids": []any{id}})
	page, err := s.Query(ctx, ids, "", kind, 0, 1)
	if err != nil {
		return nil, err
	}
	if len(page.List) == 0 {
		return nil, nil
	}
	return page.List[0], nil
}

// Remove deletes an item by id.
func (s *Service) Remove(ctx context.Context, id, kind string) error {
	key, err := s.keyFor(ctx, id, kind, time.Time{})
	if err != nil {
		return err
	}
	return s.remote(ctx, "remove", kind, func(ctx context.Context) error {
		return s.store.DocDel(ctx, key)
	})
}

// RemoveByQuery deletes every item of the kind matching the condition. For
// monthly kinds the scope argument states explicitly whether all partitions
// or only the current one are touched.
func (s *Service) RemoveByQuery(ctx context.Context, cond *condition.Condition, kind string, scope RemovalScope) error {
	query, err := s.builders.BuildFilter(ctx, cond)
	if err != nil {
		return err
	}
	query = s.kindFilter(kind, query)

	indices, err := s.indicesFor(ctx, kind)
	if err != nil {
		return err
	}
	if s.router.IsMonthly(kind) && scope == CurrentMonth {
		indices = []string{s.router.MonthlyIndex(time.Now())}
	}

	for _, index := range indices {
		err := s.remote(ctx, "removeByQuery", kind, func(ctx context.Context) error {
			return s.store.ScrollKeys(ctx, index, query, purgeBatchSize, func(keys []string) error {
				return s.deleteKeys(ctx, keys)
			})
		})
		if err != nil && !errors.Is(err, db.ErrIndexNotFound) {
			return err
		}
	}
	return nil
}

func (s *Service) deleteKeys(ctx context.Context, keys []string) error {
	actions := make([]db.BatchAction, len(keys))
	for i, key := range keys {
		actions[i] = db.BatchAction{Op: db.BatchDel, Key: key}
	}
	for _, err := range s.store.DoBatch(ctx, actions) {
		if err != nil {
			return err
		}
	}
	return nil
}

// keyFor resolves the document key of an existing item. Routed and
// unhinted monthly kinds need a lookup to discover the key.
func (s *Service) keyFor(ctx context.Context, id, kind string, dateHint time.Time) (string, error) {
	if _, routed := s.router.RoutingField(kind); !routed {
		if !s.router.IsMonthly(kind) || !dateHint.IsZero() {
			index := s.router.IndexForWrite(kind, dateHint)
			return s.router.Key(index, kind, id, ""), nil
		}
	}
	it, err := s.loadBySearch(ctx, id, kind)
	if err != nil {
		return "", err
	}
	if it == nil {
		return "", fmt.Errorf("%s %q not found", kind, id)
	}
	ts := time.Now()
	if t, ok := it.(item.Timestamped); ok && !t.TimeStamp().IsZero() {
		ts = t.TimeStamp()
	}
	index := s.router.IndexForWrite(kind, ts)
	return s.router.Key(index, kind, id, s.routingValue(it)), nil
}

// routingValue extracts the configured routing field's value from the item.
func (s *Service) routingValue(it item.Item) string {
	field, ok := s.router.RoutingField(it.ItemType())
	if !ok {
		return ""
	}
	v, found := item.Lookup(it, field)
	if !found {
		return ""
	}
	str, ok := v.(string)
	if !ok {
		s.log.Debug("routing field is not a string",
			zap.String("itemType", it.ItemType()),
			zap.String("field", field))
		return ""
	}
	return str
}
