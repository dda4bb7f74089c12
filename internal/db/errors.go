package db

import "errors"

// Sentinel errors for engine operations.
var (
	ErrKeyNotFound   = errors.New("db: key not found")
	ErrIndexNotFound = errors.New("db: index not found")
	ErrIndexExists   = errors.New("db: index already exists")
)

// Op constants map to engine command names for error context.
const (
	OpCreateIndex = "FT.CREATE"
	OpDropIndex   = "FT.DROPINDEX"
	OpAlterIndex  = "FT.ALTER"
	OpIndexInfo   = "FT.INFO"
	OpIndexList   = "FT._LIST"
	OpSearch      = "FT.SEARCH"
	OpAggregate   = "FT.AGGREGATE"
	OpCursorRead  = "FT.CURSOR"
	OpDocSet      = "JSON.SET"
	OpDocMerge    = "JSON.MERGE"
	OpDocGet      = "JSON.GET"
	OpDel         = "DEL"
	OpExists      = "EXISTS"
	OpEval        = "EVAL"
	OpInfo        = "INFO"
)

// Error wraps an underlying error with the operation name for diagnostics.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }
