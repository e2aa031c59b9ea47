// Package page models one page of a Presto/Trino statement response.
//
// A page is the JSON body returned by POST /v1/statement and by every GET on the
// nextUri chain. Parse turns one body into a ResultPage; the polling loop reads
// NextURI to decide whether to fetch again and Rows to consume the page's data.
package page

import (
	"encoding/json"
)

// Column describes one result column.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`

	// TypeSignature is passed through as received. The parser never interprets it.
	TypeSignature json.RawMessage `json:"typeSignature,omitempty"`
}

type wireColumn struct {
	Name          *string         `json:"name"`
	Type          json.RawMessage `json:"type"`
	TypeSignature json.RawMessage `json:"typeSignature"`
}

// NewColumn decodes a column from one JSON object. The object must carry a
// string name; a type that is not a string is dropped.
func NewColumn(data []byte) (Column, error) {
	var w wireColumn
	if err := decodeObject(data, &w); err != nil {
		return Column{}, err
	}
	if w.Name == nil {
		return Column{}, malformed("name", "missing required field", nil)
	}
	c := Column{
		Name:          *w.Name,
		TypeSignature: w.TypeSignature,
	}
	var typ string
	if len(w.Type) > 0 && json.Unmarshal(w.Type, &typ) == nil {
		c.Type = typ
	}
	return c, nil
}

// RawType returns the rawType entry of the type signature, falling back to Type
// when the signature is absent or carries no rawType.
func (c Column) RawType() string {
	if len(c.TypeSignature) > 0 {
		var sig struct {
			RawType string `json:"rawType"`
		}
		if err := json.Unmarshal(c.TypeSignature, &sig); err == nil && sig.RawType != "" {
			return sig.RawType
		}
	}
	return c.Type
}

// ColumnNames returns the names of columns in order.
func ColumnNames(columns []Column) []string {
	names := make([]string, len(columns))
	for i, c := range columns {
		names[i] = c.Name
	}
	return names
}
