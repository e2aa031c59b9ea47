package page

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strings"
)

// ErrUnknownRowMode is returned for a RowMode other than ModeArray and ModeRecord.
var ErrUnknownRowMode = errors.New("unknown row mode")

// RowMode selects the shape of the rows produced by ResultPage.Rows.
type RowMode int

const (
	// ModeArray produces a name to value map per row. Columns that share a name
	// collapse into one entry holding the last value.
	ModeArray RowMode = iota
	// ModeRecord produces an ordered Record per row, keeping duplicate names apart.
	ModeRecord
)

// String returns the mode name accepted by ParseRowMode.
func (m RowMode) String() string {
	switch m {
	case ModeArray:
		return "array"
	case ModeRecord:
		return "record"
	default:
		return fmt.Sprintf("RowMode(%d)", int(m))
	}
}

// ParseRowMode converts "array" or "record" to a RowMode.
func ParseRowMode(s string) (RowMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "array", "map":
		return ModeArray, nil
	case "record":
		return ModeRecord, nil
	default:
		return 0, fmt.Errorf("%w %q (want array or record)", ErrUnknownRowMode, s)
	}
}

// Field is one name/value pair of a Record.
type Field struct {
	Name  string
	Value any
}

// Record is a row as an ordered list of fields.
type Record []Field

// Get returns the value of the first field with the given name.
func (r Record) Get(name string) (any, bool) {
	for _, f := range r {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

// Names returns the field names in order.
func (r Record) Names() []string {
	names := make([]string, len(r))
	for i, f := range r {
		names[i] = f.Name
	}
	return names
}

// Map converts the record to a map, losing order and earlier duplicates.
func (r Record) Map() map[string]any {
	m := make(map[string]any, len(r))
	for _, f := range r {
		m[f.Name] = f.Value
	}
	return m
}

// MarshalJSON writes the record as a JSON object in field order.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range r {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(f.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// String implements fmt.Stringer.
func (r Record) String() string {
	b, _ := r.MarshalJSON()
	return string(b)
}

// Row is one element of the sequence produced by ResultPage.Rows. Values is set
// in ModeArray, Fields in ModeRecord.
//
// A page without data rows produces a single empty marker row; callers skip it
// with Empty.
type Row struct {
	Index  int
	Values map[string]any
	Fields Record
}

// Empty reports whether r is the marker produced for a page without rows.
func (r Row) Empty() bool {
	return r.Index < 0
}

// Get returns the value of the named column in either mode.
func (r Row) Get(name string) (any, bool) {
	if r.Fields != nil {
		return r.Fields.Get(name)
	}
	v, ok := r.Values[name]
	return v, ok
}

// Rows returns a lazy sequence over the page's data, pairing each value with the
// column of the same position. Every call starts a fresh pass; the page itself is
// not consumed.
//
// A row whose width differs from the column count yields a *RowShapeError and
// ends the sequence. Rows yielded before it remain valid. An unknown mode yields
// ErrUnknownRowMode before any row.
func (p *ResultPage) Rows(mode RowMode) iter.Seq2[Row, error] {
	columns := p.columns
	data := p.data
	return func(yield func(Row, error) bool) {
		if mode != ModeArray && mode != ModeRecord {
			yield(Row{}, fmt.Errorf("%w: %v", ErrUnknownRowMode, mode))
			return
		}
		if len(data) == 0 {
			yield(Row{Index: -1}, nil)
			return
		}

		names := ColumnNames(columns)
		for i, values := range data {
			if len(values) != len(names) {
				yield(Row{Index: i}, &RowShapeError{Row: i, Columns: len(names), Values: len(values)})
				return
			}

			row := Row{Index: i}
			switch mode {
			case ModeRecord:
				row.Fields = make(Record, 0, len(names))
				for j, name := range names {
					row.Fields = append(row.Fields, Field{Name: name, Value: values[j]})
				}
			case ModeArray:
				row.Values = make(map[string]any, len(names))
				for j, name := range names {
					row.Values[name] = values[j]
				}
			}

			if !yield(row, nil) {
				return
			}
		}
	}
}
