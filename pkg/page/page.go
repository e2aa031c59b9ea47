package page

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Warning is a non-fatal notice attached to a query.
type Warning struct {
	WarningCode WarningCode `json:"warningCode"`
	Message     string      `json:"message"`
}

// WarningCode identifies the kind of a Warning.
type WarningCode struct {
	Code int    `json:"code"`
	Name string `json:"name"`
}

// ResultPage is one parsed page of a statement response.
//
// A ResultPage is not safe for concurrent use: Set must not run while another
// goroutine is reading the page or iterating its rows.
type ResultPage struct {
	id               string
	infoURI          string
	partialCancelURI *string
	nextURI          *string
	columns          []Column
	data             [][]any
	stats            *StatementStats
	queryError       *QueryError
	updateType       *string
	updateCount      *int64
	warnings         []Warning
}

type wirePage struct {
	ID               *string           `json:"id"`
	InfoURI          *string           `json:"infoUri"`
	PartialCancelURI *string           `json:"partialCancelUri"`
	NextURI          *string           `json:"nextUri"`
	Columns          []json.RawMessage `json:"columns"`
	Data             [][]any           `json:"data"`
	Stats            json.RawMessage   `json:"stats"`
	Error            json.RawMessage   `json:"error"`
	UpdateType       *string           `json:"updateType"`
	UpdateCount      *int64            `json:"updateCount"`
	Warnings         []Warning         `json:"warnings"`
}

// Parse decodes one page body. Errors are always *MalformedPageError.
//
// Numbers inside data rows are kept as json.Number so that bigint values survive
// without float rounding.
func Parse(raw []byte) (*ResultPage, error) {
	w, err := decodePage(raw)
	if err != nil {
		return nil, err
	}

	if w.ID == nil {
		return nil, malformed("id", "missing required field", nil)
	}
	if w.InfoURI == nil {
		return nil, malformed("infoUri", "missing required field", nil)
	}

	p := &ResultPage{
		id:               *w.ID,
		infoURI:          *w.InfoURI,
		partialCancelURI: w.PartialCancelURI,
		nextURI:          w.NextURI,
		data:             w.Data,
		updateType:       w.UpdateType,
		updateCount:      w.UpdateCount,
		warnings:         w.Warnings,
	}

	if len(w.Columns) > 0 {
		p.columns = make([]Column, len(w.Columns))
		for i, rawColumn := range w.Columns {
			c, err := NewColumn(rawColumn)
			if err != nil {
				return nil, prefixField(err, fmt.Sprintf("columns[%d]", i))
			}
			p.columns[i] = c
		}
	}

	if len(w.Stats) > 0 && !isNull(w.Stats) {
		stats, err := NewStatementStats(w.Stats)
		if err != nil {
			return nil, prefixField(err, "stats")
		}
		p.stats = stats
	}

	if len(w.Error) > 0 && !isNull(w.Error) {
		qe, err := NewQueryError(w.Error)
		if err != nil {
			return nil, prefixField(err, "error")
		}
		p.queryError = qe
	}

	return p, nil
}

// ParseString is Parse for a string body.
func ParseString(raw string) (*ResultPage, error) {
	return Parse([]byte(raw))
}

func decodePage(raw []byte) (*wirePage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, malformed("", "empty body", nil)
	}
	if !json.Valid(trimmed) {
		var doc any
		return nil, malformed("", "invalid JSON", json.Unmarshal(trimmed, &doc))
	}
	if trimmed[0] != '{' {
		return nil, malformed("", "not a JSON object", nil)
	}

	var w wirePage
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	if err := dec.Decode(&w); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return nil, malformed(typeErr.Field, "wrong JSON type", err)
		}
		return nil, malformed("", "invalid JSON", err)
	}
	return &w, nil
}

// Set replaces the page contents with the parsed raw body. On failure the page
// keeps its previous contents.
func (p *ResultPage) Set(raw []byte) error {
	parsed, err := Parse(raw)
	if err != nil {
		return err
	}
	*p = *parsed
	return nil
}

// ID returns the query id. It is the same on every page of one query.
func (p *ResultPage) ID() string {
	return p.id
}

// InfoURI returns the human-facing status URL of the query.
func (p *ResultPage) InfoURI() string {
	return p.infoURI
}

// NextURI returns the URL of the next page. ok is false once the query has
// finished, successfully or not.
func (p *ResultPage) NextURI() (uri string, ok bool) {
	if p.nextURI == nil {
		return "", false
	}
	return *p.nextURI, true
}

// PartialCancelURI returns the URL that cancels the in-flight query, present
// only while the query can still be cancelled.
func (p *ResultPage) PartialCancelURI() (uri string, ok bool) {
	if p.partialCancelURI == nil {
		return "", false
	}
	return *p.partialCancelURI, true
}

// Columns returns the column schema carried by this page. It is empty on pages
// sent before the schema is known and on some later pages.
func (p *ResultPage) Columns() []Column {
	out := make([]Column, len(p.columns))
	copy(out, p.columns)
	return out
}

// Data returns the raw rows. The slice is shared with the page and must not be modified.
func (p *ResultPage) Data() [][]any {
	return p.data
}

// RowCount returns the number of data rows on this page.
func (p *ResultPage) RowCount() int {
	return len(p.data)
}

// Stats returns the execution snapshot, or nil when the page has none.
func (p *ResultPage) Stats() *StatementStats {
	return p.stats
}

// QueryError returns the query failure, or nil.
func (p *ResultPage) QueryError() *QueryError {
	return p.queryError
}

// UpdateType returns the kind of a data-modifying statement, e.g. "INSERT".
func (p *ResultPage) UpdateType() (string, bool) {
	if p.updateType == nil {
		return "", false
	}
	return *p.updateType, true
}

// UpdateCount returns the number of rows a data-modifying statement affected.
func (p *ResultPage) UpdateCount() (int64, bool) {
	if p.updateCount == nil {
		return 0, false
	}
	return *p.updateCount, true
}

// Warnings returns the warnings attached to the page.
func (p *ResultPage) Warnings() []Warning {
	return p.warnings
}

// Finished reports whether this is the last page of the query.
func (p *ResultPage) Finished() bool {
	return p.nextURI == nil
}

// Failed reports whether the page carries a query failure. A failed query is
// finished regardless of nextUri.
func (p *ResultPage) Failed() bool {
	return p.queryError != nil
}

// WithColumns returns a page that reads its rows with columns when p itself
// carries no schema. Pages that already have columns are returned unchanged.
func (p *ResultPage) WithColumns(columns []Column) *ResultPage {
	if len(p.columns) > 0 || len(columns) == 0 {
		return p
	}
	cp := *p
	cp.columns = make([]Column, len(columns))
	copy(cp.columns, columns)
	return &cp
}
