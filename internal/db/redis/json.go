package redis

import (
	"context"

	"github.com/redis/rueidis"

	"github.com/cdx-io/cdx/internal/db"
)

// DocSet stores a full JSON document at the given key.
func (s *Store) DocSet(ctx context.Context, key string, data []byte) error {
	cmd := s.b().Arbitrary("JSON.SET").Keys(key).Args("$", string(data)).Build()
	if err := s.do(ctx, cmd).Error(); err != nil {
		return &db.Error{Op: db.OpDocSet, Err: err}
	}
	return nil
}

// DocMerge applies a partial JSON document on top of the stored one.
func (s *Store) DocMerge(ctx context.Context, key string, partial []byte) error {
	cmd := s.b().Arbitrary("JSON.MERGE").Keys(key).Args("$", string(partial)).Build()
	if err := s.do(ctx, cmd).Error(); err != nil {
		return &db.Error{Op: db.OpDocMerge, Err: err}
	}
	return nil
}

// DocGet retrieves the JSON document stored at key.
func (s *Store) DocGet(ctx context.Context, key string) ([]byte, error) {
	cmd := s.b().Arbitrary("JSON.GET").Keys(key).Args("$").Build()
	raw, err := s.do(ctx, cmd).ToString()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return nil, db.ErrKeyNotFound
		}
		return nil, &db.Error{Op: db.OpDocGet, Err: err}
	}
	if raw == "" {
		return nil, db.ErrKeyNotFound
	}
	return unwrapJSONPathArray([]byte(raw)), nil
}

// DocDel deletes a document.
func (s *Store) DocDel(ctx context.Context, key string) error {
	cmd := s.b().Del().Key(key).Build()
	if err := s.do(ctx, cmd).Error(); err != nil {
		return &db.Error{Op: db.OpDel, Err: err}
	}
	return nil
}

// Exists reports whether the key holds a document.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	cmd := s.b().Exists().Key(key).Build()
	n, err := s.do(ctx, cmd).AsInt64()
	if err != nil {
		return false, &db.Error{Op: db.OpExists, Err: err}
	}
	return n > 0, nil
}

// EvalScript runs a server-side Lua script.
func (s *Store) EvalScript(ctx context.Context, script string, keys []string, args []string) error {
	cmd := s.b().Eval().Script(script).Numkeys(int64(len(keys))).Key(keys...).Arg(args...).Build()
	if err := s.do(ctx, cmd).Error(); err != nil {
		return &db.Error{Op: db.OpEval, Err: err}
	}
	return nil
}

// DoBatch executes a pipelined batch of write actions in submission order.
// The returned slice has one error slot per action; nil means success.
func (s *Store) DoBatch(ctx context.Context, actions []db.BatchAction) []error {
	if len(actions) == 0 {
		return nil
	}

	cmds := make(rueidis.Commands, 0, len(actions))
	for i := range actions {
		cmds = append(cmds, s.buildBatchCmd(&actions[i]))
	}

	results := s.client.DoMulti(ctx, cmds...)
	errs := make([]error, len(actions))
	for i, r := range results {
		if err := r.Error(); err != nil {
			errs[i] = &db.Error{Op: batchOpName(actions[i].Op), Err: err}
		}
	}
	return errs
}

func (s *Store) buildBatchCmd(a *db.BatchAction) rueidis.Completed {
	switch a.Op {
	case db.BatchSet:
		return s.b().Arbitrary("JSON.SET").Keys(a.Key).Args("$", string(a.Data)).Build()
	case db.BatchMerge:
		return s.b().Arbitrary("JSON.MERGE").Keys(a.Key).Args("$", string(a.Data)).Build()
	case db.BatchDel:
		return s.b().Del().Key(a.Key).Build()
	case db.BatchScript:
		return s.b().Eval().Script(a.Script).Numkeys(1).Key(a.Key).Arg(a.Args...).Build()
	}
	// unreachable for well-formed actions; surfaces as a server error
	return s.b().Arbitrary("PING").Build()
}

func batchOpName(op db.BatchOp) string {
	switch op {
	case db.BatchSet:
		return db.OpDocSet
	case db.BatchMerge:
		return db.OpDocMerge
	case db.BatchDel:
		return db.OpDel
	case db.BatchScript:
		return db.OpEval
	}
	return "UNKNOWN"
}

// unwrapJSONPathArray strips the one-element array JSON.GET returns for
// the root path "$".
func unwrapJSONPathArray(raw []byte) []byte {
	if len(raw) >= 2 && raw[0] == '[' && raw[len(raw)-1] == ']' {
		return raw[1 : len(raw)-1]
	}
	return raw
}
