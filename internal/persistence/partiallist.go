package persistence

import "github.com/cdx-io/cdx/internal/item"

// PartialList is one page of a query result with the total match count.
type PartialList struct {
	List      []item.Item
	Offset    int
	PageSize  int
	TotalSize int64
}
