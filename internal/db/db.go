package db

import (
	"context"
	"time"
)

// Store is the search-engine facade combining all sub-interfaces.
//
//nolint:interfacebloat // facade by design -- consumers use narrow sub-interfaces (ISP)
type Store interface {
	Pinger
	DocStore
	IndexAdmin
	Searcher
	Aggregator
	Scripter
	NodeInspector
	Close()
	WaitForReady(ctx context.Context, timeout time.Duration) error
}

// Pinger checks engine connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// DocStore provides JSON document operations.
type DocStore interface {
	DocSet(ctx context.Context, key string, data []byte) error
	// DocMerge applies a partial JSON document on top of the stored one.
	DocMerge(ctx context.Context, key string, partial []byte) error
	DocGet(ctx context.Context, key string) ([]byte, error)
	DocDel(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	// DoBatch executes a pipelined batch of write actions, preserving
	// submission order, and returns one error slot per action.
	DoBatch(ctx context.Context, actions []BatchAction) []error
}

// BatchOp enumerates the write operations a batch may carry.
type BatchOp int

const (
	// BatchSet stores a full JSON document.
	BatchSet BatchOp = iota
	// BatchMerge applies a partial JSON document.
	BatchMerge
	// BatchDel deletes a document.
	BatchDel
	// BatchScript runs a server-side script against a document key.
	BatchScript
)

// BatchAction is a single queued write.
type BatchAction struct {
	Op     BatchOp
	Key    string
	Data   []byte   // document or partial document for set/merge
	Script string   // script source for BatchScript
	Args   []string // script arguments
}

// SizeInBytes estimates the payload contribution of the action, used by
// the bulk coordinator's byte-size flush threshold.
func (a BatchAction) SizeInBytes() int {
	n := len(a.Key) + len(a.Data) + len(a.Script)
	for _, arg := range a.Args {
		n += len(arg)
	}
	return n
}

// IndexAdmin provides FT index lifecycle operations.
type IndexAdmin interface {
	CreateIndex(ctx context.Context, def *IndexDefinition) error
	// DropIndex removes an index; dropDocs also deletes the indexed documents.
	DropIndex(ctx context.Context, name string, dropDocs bool) error
	IndexExists(ctx context.Context, name string) (bool, error)
	ListIndexes(ctx context.Context) ([]string, error)
	// IndexAttributes returns the declared schema attributes of an index.
	IndexAttributes(ctx context.Context, name string) ([]AttributeInfo, error)
	// AlterIndex adds fields to an existing index schema.
	AlterIndex(ctx context.Context, name string, fields []IndexField) error
}

// AttributeInfo describes one schema attribute as reported by the engine.
type AttributeInfo struct {
	Identifier string // source path inside the document
	Attribute  string // exposed field name
	Type       string // TAG, TEXT, NUMERIC, GEO
	Extra      map[string]any
}

// SearchQuery is a paged FT search request.
type SearchQuery struct {
	Index    string
	Query    string
	Offset   int
	Limit    int
	SortBy   string // single sortable field; empty for engine order
	SortDesc bool
}

// SearchHit is one result document.
type SearchHit struct {
	Key    string
	Source []byte // raw JSON document
}

// SearchResult is a page of hits with the total match count.
type SearchResult struct {
	Total int64
	Hits  []SearchHit
}

// Searcher provides search operations over FT indexes.
type Searcher interface {
	Search(ctx context.Context, q *SearchQuery) (*SearchResult, error)
	SearchCount(ctx context.Context, index, query string) (int64, error)
}

// GroupCount is a single aggregation bucket.
type GroupCount struct {
	Key   string
	Count int64
}

// SortProperty is one element of a multi-property aggregation sort.
type SortProperty struct {
	Field string
	Desc  bool
}

// GeoSort sorts by distance from a point, in kilometers.
type GeoSort struct {
	Field string
	Lat   float64
	Lon   float64
	Desc  bool
}

// Aggregator provides aggregation operations built on the engine's
// aggregation pipeline.
type Aggregator interface {
	// GroupCounts buckets matching documents by a group expression.
	// groupExpr is either a plain field reference "@field" or an APPLY
	// expression evaluated per document.
	GroupCounts(ctx context.Context, index, query, groupExpr string) ([]GroupCount, error)
	// MetricValues computes the requested single-value metrics
	// (sum, avg, min, max) over a numeric field.
	MetricValues(ctx context.Context, index, query, field string, metrics []string) (map[string]float64, error)
	// SortedKeys returns document keys ordered by multiple properties or
	// by geo distance, paged.
	SortedKeys(ctx context.Context, index, query string, sorts []SortProperty, geo *GeoSort, offset, limit int) ([]string, int64, error)
	// ScrollKeys streams all matching document keys in batches through fn,
	// using a server-side cursor.
	ScrollKeys(ctx context.Context, index, query string, batchSize int, fn func(keys []string) error) error
}

// Scripter runs server-side scripts.
type Scripter interface {
	EvalScript(ctx context.Context, script string, keys []string, args []string) error
}

// NodeStats is the per-node slice of the engine's runtime info.
type NodeStats struct {
	Addr          string
	HostName      string
	Master        bool
	Data          bool
	CPUPercent    float64
	LoadAverage   []float64
	UptimeSeconds int64
}

// NodeInspector reports engine node runtime information.
type NodeInspector interface {
	NodesStats(ctx context.Context) ([]NodeStats, error)
}
