package page

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
)

// MalformedPageError reports a page body that could not be turned into a ResultPage.
// A failed parse never leaves a partially populated page behind.
type MalformedPageError struct {
	// Field is the offending field path, e.g. "columns[1].name". Empty for
	// problems with the document as a whole.
	Field  string
	Reason string
	Err    error
}

// Error implements the error interface.
func (e *MalformedPageError) Error() string {
	var b strings.Builder
	b.WriteString("malformed page")
	if e.Field != "" {
		fmt.Fprintf(&b, ": %s", e.Field)
	}
	b.WriteString(": ")
	b.WriteString(e.Reason)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying decode error, if any.
func (e *MalformedPageError) Unwrap() error {
	return e.Err
}

// RowShapeError reports a row whose width does not match the column schema.
// It is raised when the row is reached during iteration, not at parse time.
type RowShapeError struct {
	Row     int
	Columns int
	Values  int
}

// Error implements the error interface.
func (e *RowShapeError) Error() string {
	return fmt.Sprintf("row %d has %d values for %d columns", e.Row, e.Values, e.Columns)
}

func malformed(field, reason string, err error) *MalformedPageError {
	return &MalformedPageError{Field: field, Reason: reason, Err: err}
}

// prefixField qualifies the field of a nested MalformedPageError with its parent path.
func prefixField(err error, parent string) error {
	var mpe *MalformedPageError
	if !errors.As(err, &mpe) {
		return malformed(parent, "invalid value", err)
	}
	field := parent
	if mpe.Field != "" {
		field = parent + "." + mpe.Field
	}
	return malformed(field, mpe.Reason, mpe.Err)
}

func isNull(data []byte) bool {
	return bytes.Equal(bytes.TrimSpace(data), []byte("null"))
}

// decodeObject decodes data into v, which must be a pointer to a struct, and
// requires data to be a JSON object.
func decodeObject(data []byte, v any) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return malformed("", "not a JSON object", nil)
	}
	if err := json.Unmarshal(trimmed, v); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return malformed(typeErr.Field, "wrong JSON type", err)
		}
		return malformed("", "invalid JSON", err)
	}
	return nil
}

// decodeLenient fills v, a pointer to a struct, from the members of a JSON
// object. Only data itself must be an object: a member whose JSON type does not
// fit its field is skipped and the field keeps its zero value.
func decodeLenient(data []byte, v any) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return malformed("", "not a JSON object", nil)
	}
	var members map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &members); err != nil {
		return malformed("", "invalid JSON", err)
	}
	fillStruct(reflect.ValueOf(v).Elem(), members)
	return nil
}

func objectMembers(data []byte) (map[string]json.RawMessage, bool) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, false
	}
	var members map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &members); err != nil {
		return nil, false
	}
	return members, true
}

func fillStruct(sv reflect.Value, members map[string]json.RawMessage) {
	st := sv.Type()
	for i := range st.NumField() {
		f := st.Field(i)
		if !f.IsExported() {
			continue
		}
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			continue
		}
		raw, ok := members[name]
		if !ok || isNull(raw) {
			continue
		}
		fillValue(sv.Field(i), raw)
	}
}

func fillValue(fv reflect.Value, raw json.RawMessage) {
	t := fv.Type()
	switch {
	case t.Kind() == reflect.Struct:
		if members, ok := objectMembers(raw); ok {
			fillStruct(fv, members)
		}
	case t.Kind() == reflect.Pointer && t.Elem().Kind() == reflect.Struct:
		if members, ok := objectMembers(raw); ok {
			p := reflect.New(t.Elem())
			fillStruct(p.Elem(), members)
			fv.Set(p)
		}
	case t.Kind() == reflect.Slice && t.Elem().Kind() == reflect.Struct:
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return
		}
		s := reflect.MakeSlice(t, 0, len(items))
		for _, item := range items {
			if members, ok := objectMembers(item); ok {
				e := reflect.New(t.Elem()).Elem()
				fillStruct(e, members)
				s = reflect.Append(s, e)
			}
		}
		fv.Set(s)
	default:
		p := reflect.New(t)
		if err := json.Unmarshal(raw, p.Interface()); err == nil {
			fv.Set(p.Elem())
		}
	}
}
