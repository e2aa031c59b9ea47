package page

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// QueryError is the failure a coordinator reports for a query. It arrives as page
// data; it implements error so that callers past the parser can return it.
// Members of the wrong JSON type are ignored; Raw keeps the object as received.
type QueryError struct {
	Message       string         `json:"message"`
	SQLState      string         `json:"sqlState,omitempty"`
	ErrorCode     int            `json:"errorCode"`
	ErrorName     string         `json:"errorName"`
	ErrorType     string         `json:"errorType"`
	Retriable     bool           `json:"retriable,omitempty"`
	ErrorLocation *ErrorLocation `json:"errorLocation,omitempty"`
	FailureInfo   *FailureInfo   `json:"failureInfo,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// ErrorLocation points at the offending position in the SQL text. Both fields are 1-based.
type ErrorLocation struct {
	LineNumber   int `json:"lineNumber"`
	ColumnNumber int `json:"columnNumber"`
}

// FailureInfo is the server-side exception chain behind a QueryError.
type FailureInfo struct {
	Type          string         `json:"type"`
	Message       string         `json:"message,omitempty"`
	Cause         *FailureInfo   `json:"cause,omitempty"`
	Suppressed    []FailureInfo  `json:"suppressed,omitempty"`
	Stack         []string       `json:"stack,omitempty"`
	ErrorLocation *ErrorLocation `json:"errorLocation,omitempty"`
}

// NewQueryError decodes a query failure from one JSON object.
func NewQueryError(data []byte) (*QueryError, error) {
	var e QueryError
	if err := decodeLenient(data, &e); err != nil {
		return nil, err
	}
	e.Raw = json.RawMessage(bytes.TrimSpace(data))
	return &e, nil
}

// Error implements the error interface.
func (e *QueryError) Error() string {
	var b strings.Builder
	b.WriteString("query failed")
	if e.ErrorName != "" {
		fmt.Fprintf(&b, " (%s %d)", e.ErrorName, e.ErrorCode)
	}
	if loc := e.ErrorLocation; loc != nil {
		fmt.Fprintf(&b, " at line %d:%d", loc.LineNumber, loc.ColumnNumber)
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	return b.String()
}

// Causes walks the failure chain from the outermost failure to the root cause.
func (e *QueryError) Causes() []*FailureInfo {
	var chain []*FailureInfo
	for f := e.FailureInfo; f != nil; f = f.Cause {
		chain = append(chain, f)
	}
	return chain
}

// UserError reports whether the coordinator classified the failure as caused by the query itself.
func (e *QueryError) UserError() bool {
	return e.ErrorType == "USER_ERROR"
}
