package persistence

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cdx-io/cdx/internal/condition"
	"github.com/cdx-io/cdx/internal/condition/builtin"
	"github.com/cdx-io/cdx/internal/db"
)

//go:embed mappings/*.json
var mappingFS embed.FS

// purgeBatchSize is the scroll batch for scoped deletions.
const purgeBatchSize = 100

// Mapping declares the indexed fields of one item kind. Bundled mapping
// resources ship as mappings/<itemType>.json; plug-ins register more
// through CreateMapping.
type Mapping struct {
	ItemType string         `json:"itemType"`
	Fields   []MappingField `json:"fields"`
}

// MappingField is one indexed attribute declaration.
type MappingField struct {
	Path     string `json:"path"`
	Type     string `json:"type"` // "tag", "text", "numeric", "date", "geo"
	Sortable bool   `json:"sortable,omitempty"`
}

// indexFields converts mapping declarations to schema fields. Date fields
// index their millisecond companion; geo fields their "lon,lat" companion.
func (m *Mapping) indexFields() []db.IndexField {
	fields := make([]db.IndexField, 0, len(m.Fields))
	for _, f := range m.Fields {
		switch f.Type {
		case "numeric":
			fields = append(fields, db.IndexField{
				Name: "$." + f.Path, Alias: builtin.FieldAlias(f.Path),
				Type: db.IndexFieldNumeric, Sortable: true,
			})
		case "text":
			fields = append(fields, db.IndexField{
				Name: "$." + f.Path, Alias: builtin.FieldAlias(f.Path),
				Type: db.IndexFieldText, Sortable: f.Sortable,
			})
		case "date":
			fields = append(fields, db.IndexField{
				Name: "$." + f.Path + "__ms", Alias: builtin.DateAlias(f.Path),
				Type: db.IndexFieldNumeric, Sortable: true,
			})
		case "geo":
			fields = append(fields, db.IndexField{
				Name: "$." + f.Path + "__geo", Alias: builtin.GeoAlias(f.Path),
				Type: db.IndexFieldGeo,
			})
		default:
			fields = append(fields, db.IndexField{
				Name: "$." + f.Path, Alias: builtin.FieldAlias(f.Path),
				Type: db.IndexFieldTag, Sortable: f.Sortable,
			})
		}
	}
	return fields
}

// universalFields are indexed on every item index regardless of kind.
func universalFields() []db.IndexField {
	return []db.IndexField{
		{Name: "$.itemId", Alias: "itemId", Type: db.IndexFieldTag, Sortable: true},
		{Name: "$.itemType", Alias: "itemType", Type: db.IndexFieldTag},
		{Name: "$.scope", Alias: "scope", Type: db.IndexFieldTag},
	}
}

// loadMappings reads the bundled mapping resources into the cache.
func (s *Service) loadMappings() error {
	entries, err := fs.ReadDir(mappingFS, "mappings")
	if err != nil {
		return fmt.Errorf("read bundled mappings: %w", err)
	}
	s.mappingsMu.Lock()
	defer s.mappingsMu.Unlock()
	for _, entry := range entries {
		data, err := mappingFS.ReadFile("mappings/" + entry.Name())
		if err != nil {
			return err
		}
		var m Mapping
		if err := json.Unmarshal(data, &m); err != nil {
			return fmt.Errorf("parse mapping %s: %w", entry.Name(), err)
		}
		if m.ItemType == "" {
			m.ItemType = strings.TrimSuffix(entry.Name(), ".json")
		}
		s.mappings[m.ItemType] = &m
	}
	return nil
}

// mappingFor returns the cached mapping of a kind, if any.
func (s *Service) mappingFor(kind string) *Mapping {
	s.mappingsMu.RLock()
	defer s.mappingsMu.RUnlock()
	return s.mappings[kind]
}

// initIndices creates the base, dedicated, saved-query and current monthly
// indices if absent.
func (s *Service) initIndices(ctx context.Context) error {
	if err := s.loadMappings(); err != nil {
		return err
	}

	if err := s.createItemIndex(ctx, s.router.Base(), s.baseKinds()); err != nil {
		return err
	}

	dedicated := map[string][]string{}
	for kind, index := range s.cfg.Index.IndexNames {
		dedicated[index] = append(dedicated[index], kind)
	}
	for index, kinds := range dedicated {
		sort.Strings(kinds)
		if err := s.createItemIndex(ctx, index, kinds); err != nil {
			return err
		}
	}

	if err := s.createQueriesIndex(ctx); err != nil {
		return err
	}

	return s.ensureMonthlyIndex(ctx, s.router.MonthlyIndex(time.Now()))
}

// baseKinds lists the kinds whose mappings install on the shared base
// index: everything neither dedicated nor monthly.
func (s *Service) baseKinds() []string {
	s.mappingsMu.RLock()
	defer s.mappingsMu.RUnlock()
	var kinds []string
	for kind := range s.mappings {
		if s.router.IsDedicated(kind) || s.router.IsMonthly(kind) {
			continue
		}
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

func (s *Service) monthlyKinds() []string {
	var kinds []string
	for _, kind := range s.cfg.Index.ItemsMonthlyIndexed {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// createItemIndex creates one item index carrying the universal fields plus
// the mappings of the given kinds. Existing indices are left untouched.
func (s *Service) createItemIndex(ctx context.Context, index string, kinds []string) error {
	def := &db.IndexDefinition{
		Name:     index,
		Prefixes: []string{s.router.KeyPrefix(index)},
		Fields:   universalFields(),
	}
	seen := map[string]bool{}
	for _, f := range def.Fields {
		seen[f.Alias] = true
	}
	for _, kind := range kinds {
		m := s.mappingFor(kind)
		if m == nil {
			continue
		}
		for _, f := range m.indexFields() {
			if seen[f.Alias] {
				continue
			}
			seen[f.Alias] = true
			def.Fields = append(def.Fields, f)
		}
	}

	err := s.remote(ctx, "createIndex", "", func(ctx context.Context) error {
		return s.store.CreateIndex(ctx, def)
	})
	if errors.Is(err, db.ErrIndexExists) {
		return nil
	}
	if err == nil {
		s.log.Info("created index", zap.String("index", index), zap.Strings("kinds", kinds))
	}
	return err
}

func (s *Service) createQueriesIndex(ctx context.Context) error {
	def := &db.IndexDefinition{
		Name:     s.router.QueriesIndex(),
		Prefixes: []string{s.router.QueryKeyPrefix()},
		Fields: []db.IndexField{
			{Name: "$.name", Alias: "name", Type: db.IndexFieldTag, Sortable: true},
			{Name: "$.itemType", Alias: "itemType", Type: db.IndexFieldTag},
		},
	}
	err := s.remote(ctx, "createIndex", savedQueryKind, func(ctx context.Context) error {
		return s.store.CreateIndex(ctx, def)
	})
	if errors.Is(err, db.ErrIndexExists) {
		return nil
	}
	return err
}

// ensureMonthlyIndex creates one monthly partition with the union of the
// monthly kinds' mappings. Safe to call for existing partitions.
func (s *Service) ensureMonthlyIndex(ctx context.Context, index string) error {
	if err := s.createItemIndex(ctx, index, s.monthlyKinds()); err != nil {
		return err
	}
	return nil
}

// monthlyScheduler ticks daily and pre-creates next month's partition the
// day before the boundary, so midnight writes never block on creation.
func (s *Service) monthlyScheduler() {
	defer s.wg.Done()
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			now := time.Now().UTC()
			tomorrow := now.AddDate(0, 0, 1)
			if tomorrow.Month() == now.Month() {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			if err := s.ensureMonthlyIndex(ctx, s.router.MonthlyIndex(tomorrow)); err != nil {
				s.log.Error("failed to pre-create monthly index", zap.Error(err))
			}
			cancel()
		case <-s.stop:
			return
		}
	}
}

// PurgeByDate drops every monthly partition strictly older than the cutoff
// month, documents included.
func (s *Service) PurgeByDate(ctx context.Context, before time.Time) error {
	var existing []string
	err := s.remote(ctx, "listIndexes", "", func(ctx context.Context) error {
		var listErr error
		existing, listErr = s.store.ListIndexes(ctx)
		return listErr
	})
	if err != nil {
		return err
	}

	cutoff := time.Date(before.UTC().Year(), before.UTC().Month(), 1, 0, 0, 0, 0, time.UTC)
	for _, index := range existing {
		month, ok := s.router.MonthOf(index)
		if !ok || !month.Before(cutoff) {
			continue
		}
		dropErr := s.remote(ctx, "dropIndex", "", func(ctx context.Context) error {
			return s.store.DropIndex(ctx, index, true)
		})
		if dropErr != nil && !errors.Is(dropErr, db.ErrIndexNotFound) {
			return dropErr
		}
		s.log.Info("purged monthly index", zap.String("index", index))
	}
	return nil
}

// PurgeByScope deletes every document carrying the scope across all item
// indices, in scrolled batches.
func (s *Service) PurgeByScope(ctx context.Context, scope string) error {
	if scope == "" {
		return fmt.Errorf("scope is required")
	}
	indices, err := s.allItemIndices(ctx)
	if err != nil {
		return err
	}
	query := "@scope:{" + db.EscapeTag(condition.Fold(scope)) + "}"
	for _, index := range indices {
		err := s.remote(ctx, "purgeScope", "", func(ctx context.Context) error {
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

// allItemIndices enumerates the base, dedicated and monthly indices,
// excluding the saved-query index.
func (s *Service) allItemIndices(ctx context.Context) ([]string, error) {
	var existing []string
	err := s.remote(ctx, "listIndexes", "", func(ctx context.Context) error {
		var listErr error
		existing, listErr = s.store.ListIndexes(ctx)
		return listErr
	})
	if err != nil {
		return nil, err
	}

	dedicated := map[string]bool{}
	for _, index := range s.cfg.Index.IndexNames {
		dedicated[index] = true
	}
	var indices []string
	for _, index := range existing {
		if index == s.router.Base() || dedicated[index] {
			indices = append(indices, index)
			continue
		}
		if _, ok := s.router.MonthOf(index); ok {
			indices = append(indices, index)
		}
	}
	sort.Strings(indices)
	return indices, nil
}

// RemoveIndex drops the index of a dedicated kind, or the base index when
// the kind is shared. Monthly kinds are removed through PurgeByDate.
func (s *Service) RemoveIndex(ctx context.Context, kind string) error {
	if s.router.IsMonthly(kind) {
		return fmt.Errorf("monthly kind %q is removed by date purge", kind)
	}
	index := s.router.IndexForWrite(kind, time.Time{})
	return s.remote(ctx, "dropIndex", kind, func(ctx context.Context) error {
		return s.store.DropIndex(ctx, index, true)
	})
}

// GetPropertiesMapping flattens and merges the index metadata of every
// index covering the kind into one fieldName -> attributes map. Sub-maps
// merge key-by-key; later indices win at leaves.
func (s *Service) GetPropertiesMapping(ctx context.Context, kind string) (map[string]map[string]any, error) {
	indices, err := s.indicesFor(ctx, kind)
	if err != nil {
		return nil, err
	}

	merged := map[string]map[string]any{}
	for _, index := range indices {
		var attrs []db.AttributeInfo
		err := s.remote(ctx, "indexInfo", kind, func(ctx context.Context) error {
			var infoErr error
			attrs, infoErr = s.store.IndexAttributes(ctx, index)
			return infoErr
		})
		if errors.Is(err, db.ErrIndexNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		for _, attr := range attrs {
			entry := map[string]any{
				"identifier": attr.Identifier,
				"type":       attr.Type,
			}
			for k, v := range attr.Extra {
				entry[k] = v
			}
			mergeAttrEntry(merged, attr.Attribute, entry)
		}
	}
	return merged, nil
}

// mergeAttrEntry deep-merges at depth one: nested maps merge key-by-key,
// scalars are overwritten by later entries.
func mergeAttrEntry(merged map[string]map[string]any, name string, entry map[string]any) {
	existing, ok := merged[name]
	if !ok {
		merged[name] = entry
		return
	}
	for k, v := range entry {
		prevSub, prevIsMap := existing[k].(map[string]any)
		newSub, newIsMap := v.(map[string]any)
		if prevIsMap && newIsMap {
			for sk, sv := range newSub {
				prevSub[sk] = sv
			}
			continue
		}
		existing[k] = v
	}
}

// CreateMapping registers or extends the mapping of a kind: the cache is
// updated and the new fields are pushed to every covering index.
func (s *Service) CreateMapping(ctx context.Context, kind string, mappingJSON []byte) error {
	var m Mapping
	if err := json.Unmarshal(mappingJSON, &m); err != nil {
		return fmt.Errorf("parse mapping for %s: %w", kind, err)
	}
	m.ItemType = kind

	s.mappingsMu.Lock()
	s.mappings[kind] = &m
	s.mappingsMu.Unlock()

	indices, err := s.indicesFor(ctx, kind)
	if err != nil {
		return err
	}
	fields := m.indexFields()
	for _, index := range indices {
		err := s.remote(ctx, "alterIndex", kind, func(ctx context.Context) error {
			return s.store.AlterIndex(ctx, index, fields)
		})
		if err != nil && !errors.Is(err, db.ErrIndexNotFound) {
			return err
		}
	}
	return nil
}
