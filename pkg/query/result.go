package query

import (
	"github.com/nnnkkk7/presto-page/pkg/page"
)

// Session is the catalog and schema a statement runs in.
type Session struct {
	Catalog string
	Schema  string
}

// Result is the outcome of one statement, already encoded the way result
// pages carry it.
type Result struct {
	Columns []page.Column
	Rows    [][]any

	// UpdateType is empty for queries.
	UpdateType  string
	UpdateCount *int64

	// SetCatalog and SetSchema are non-empty after a USE statement.
	SetCatalog string
	SetSchema  string
}

// ProcessedRows returns the number of rows the statement produced or changed.
func (r *Result) ProcessedRows() int64 {
	if r.UpdateCount != nil {
		return *r.UpdateCount
	}
	return int64(len(r.Rows))
}
