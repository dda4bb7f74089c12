package redis

import (
	"context"
	"errors"
	"strconv"

	"github.com/redis/rueidis"

	"github.com/cdx-io/cdx/internal/db"
)

// CreateIndex creates an FT index over JSON documents from the given definition.
func (s *Store) CreateIndex(ctx context.Context, def *db.IndexDefinition) error {
	args, err := buildCreateArgs(def)
	if err != nil {
		return err
	}

	cmd := s.b().Arbitrary("FT.CREATE").Args(args...).Build()
	if err := s.do(ctx, cmd).Error(); err != nil {
		if isRedisErr(err, "index already exists") {
			return db.ErrIndexExists
		}
		return &db.Error{Op: db.OpCreateIndex, Err: err}
	}
	return nil
}

// DropIndex removes an FT index by name; dropDocs also deletes the documents.
func (s *Store) DropIndex(ctx context.Context, name string, dropDocs bool) error {
	args := []string{name}
	if dropDocs {
		args = append(args, "DD")
	}
	cmd := s.b().Arbitrary("FT.DROPINDEX").Args(args...).Build()
	if err := s.do(ctx, cmd).Error(); err != nil {
		if isRedisErr(err, "unknown index name") || isRedisErr(err, "no such index") {
			return db.ErrIndexNotFound
		}
		return &db.Error{Op: db.OpDropIndex, Err: err}
	}
	return nil
}

// IndexExists probes index existence via FT.INFO; "unknown index name" means absent.
func (s *Store) IndexExists(ctx context.Context, name string) (bool, error) {
	cmd := s.b().Arbitrary("FT.INFO").Args(name).Build()
	if err := s.do(ctx, cmd).Error(); err != nil {
		if isRedisErr(err, "unknown index name") || isRedisErr(err, "no such index") {
			return false, nil
		}
		return false, &db.Error{Op: db.OpIndexInfo, Err: err}
	}
	return true, nil
}

// ListIndexes returns the names of every FT index known to the engine.
func (s *Store) ListIndexes(ctx context.Context) ([]string, error) {
	cmd := s.b().Arbitrary("FT._LIST").Build()
	raw, err := s.do(ctx, cmd).ToArray()
	if err != nil {
		return nil, &db.Error{Op: db.OpIndexList, Err: err}
	}
	names := make([]string, 0, len(raw))
	for _, m := range raw {
		name, err := m.ToString()
		if err != nil {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}

// IndexAttributes returns the schema attributes reported by FT.INFO.
func (s *Store) IndexAttributes(ctx context.Context, name string) ([]db.AttributeInfo, error) {
	cmd := s.b().Arbitrary("FT.INFO").Args(name).Build()
	raw, err := s.do(ctx, cmd).ToArray()
	if err != nil {
		if isRedisErr(err, "unknown index name") || isRedisErr(err, "no such index") {
			return nil, db.ErrIndexNotFound
		}
		return nil, &db.Error{Op: db.OpIndexInfo, Err: err}
	}
	return parseInfoAttributes(raw), nil
}

// AlterIndex adds fields to an existing index schema.
func (s *Store) AlterIndex(ctx context.Context, name string, fields []db.IndexField) error {
	args := []string{name, "SCHEMA", "ADD"}
	for i := range fields {
		fieldArgs, err := buildFieldArgs(&fields[i])
		if err != nil {
			return err
		}
		args = append(args, fieldArgs...)
	}
	cmd := s.b().Arbitrary("FT.ALTER").Args(args...).Build()
	if err := s.do(ctx, cmd).Error(); err != nil {
		if isRedisErr(err, "unknown index name") || isRedisErr(err, "no such index") {
			return db.ErrIndexNotFound
		}
		if isRedisErr(err, "duplicate field") {
			return nil
		}
		return &db.Error{Op: db.OpAlterIndex, Err: err}
	}
	return nil
}

func buildCreateArgs(idx *db.IndexDefinition) ([]string, error) {
	if idx.Name == "" {
		return nil, errors.New("index name is required")
	}
	if len(idx.Fields) == 0 {
		return nil, errors.New("at least one field is required")
	}

	args := []string{idx.Name, "ON", "JSON"}

	if len(idx.Prefixes) > 0 {
		args = append(args, "PREFIX", strconv.Itoa(len(idx.Prefixes)))
		args = append(args, idx.Prefixes...)
	}

	args = append(args, "SCHEMA")

	for i := range idx.Fields {
		fieldArgs, err := buildFieldArgs(&idx.Fields[i])
		if err != nil {
			return nil, err
		}
		args = append(args, fieldArgs...)
	}

	return args, nil
}

func buildFieldArgs(f *db.IndexField) ([]string, error) {
	if f.Name == "" {
		return nil, errors.New("field name is required")
	}

	args := []string{f.Name}

	if f.Alias != "" {
		args = append(args, "AS", f.Alias)
	}

	switch f.Type {
	case db.IndexFieldNumeric:
		args = append(args, "NUMERIC")

	case db.IndexFieldText:
		args = append(args, "TEXT")

	case db.IndexFieldTag:
		args = append(args, "TAG")
		if f.TagSeparator != "" {
			args = append(args, "SEPARATOR", f.TagSeparator)
		}
		if f.TagCaseSensitive {
			args = append(args, "CASESENSITIVE")
		}

	case db.IndexFieldGeo:
		args = append(args, "GEO")

	default:
		return nil, errors.New("unknown field type")
	}

	if f.Sortable {
		args = append(args, "SORTABLE")
	}

	return args, nil
}

// parseInfoAttributes extracts the "attributes" section of an FT.INFO reply.
func parseInfoAttributes(raw []rueidis.RedisMessage) []db.AttributeInfo {
	var attrs []db.AttributeInfo
	for i := 0; i+1 < len(raw); i += 2 {
		section, err := raw[i].ToString()
		if err != nil || section != "attributes" {
			continue
		}
		list, err := raw[i+1].ToArray()
		if err != nil {
			continue
		}
		for _, entry := range list {
			pairs, err := entry.ToArray()
			if err != nil {
				continue
			}
			attrs = append(attrs, parseAttributeEntry(pairs))
		}
	}
	return attrs
}

func parseAttributeEntry(pairs []rueidis.RedisMessage) db.AttributeInfo {
	info := db.AttributeInfo{Extra: map[string]any{}}
	for j := 0; j+1 < len(pairs); j += 2 {
		name, err := pairs[j].ToString()
		if err != nil {
			continue
		}
		value, err := pairs[j+1].ToString()
		if err != nil {
			// flag without a value, e.g. SORTABLE
			info.Extra[name] = true
			continue
		}
		switch name {
		case "identifier":
			info.Identifier = value
		case "attribute":
			info.Attribute = value
		case "type":
			info.Type = value
		default:
			info.Extra[name] = value
		}
	}
	return info
}
