// Package types holds the JSON bodies the emulated coordinator sends.
package types

import (
	"fmt"
	"time"

	"github.com/nnnkkk7/presto-page/pkg/page"
)

// QueryResults is one page of a statement response, the body of POST
// /v1/statement and of every GET on the nextUri chain.
type QueryResults struct {
	ID               string              `json:"id"`
	InfoURI          string              `json:"infoUri"`
	PartialCancelURI string              `json:"partialCancelUri,omitempty"`
	NextURI          string              `json:"nextUri,omitempty"`
	Columns          []page.Column       `json:"columns,omitempty"`
	Data             [][]any             `json:"data,omitempty"`
	Stats            page.StatementStats `json:"stats"`
	Error            *page.QueryError    `json:"error,omitempty"`
	Warnings         []page.Warning      `json:"warnings"`
	UpdateType       string              `json:"updateType,omitempty"`
	UpdateCount      *int64              `json:"updateCount,omitempty"`
}

// QueryInfo is the body of GET /v1/query/{queryId}.
type QueryInfo struct {
	QueryID    string           `json:"queryId"`
	State      string           `json:"state"`
	Query      string           `json:"query"`
	Self       string           `json:"self"`
	Session    SessionInfo      `json:"session"`
	QueryStats QueryStats       `json:"queryStats"`
	ErrorType  string           `json:"errorType,omitempty"`
	ErrorCode  *ErrorCodeInfo   `json:"errorCode,omitempty"`
	Error      *page.QueryError `json:"error,omitempty"`
	UpdateType string           `json:"updateType,omitempty"`
}

// SessionInfo is the session a query was submitted with.
type SessionInfo struct {
	User    string `json:"user"`
	Source  string `json:"source,omitempty"`
	Catalog string `json:"catalog,omitempty"`
	Schema  string `json:"schema,omitempty"`
}

// QueryStats holds the timing of a query. Durations use Presto's unit suffix
// format, for example "1.50s".
type QueryStats struct {
	CreateTime         time.Time  `json:"createTime"`
	ExecutionStartTime *time.Time `json:"executionStartTime,omitempty"`
	EndTime            *time.Time `json:"endTime,omitempty"`
	QueuedTime         string     `json:"queuedTime"`
	ElapsedTime        string     `json:"elapsedTime"`
	ExecutionTime      string     `json:"executionTime"`
	OutputPositions    int64      `json:"outputPositions"`
}

// ErrorCodeInfo identifies a standard Presto error.
type ErrorCodeInfo struct {
	Code int    `json:"code"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// ServerInfo is the body of GET /v1/info.
type ServerInfo struct {
	NodeVersion NodeVersion `json:"nodeVersion"`
	Environment string      `json:"environment"`
	Coordinator bool        `json:"coordinator"`
	Starting    bool        `json:"starting"`
	Uptime      string      `json:"uptime"`
}

// NodeVersion is the server version.
type NodeVersion struct {
	Version string `json:"version"`
}

// FormatDuration renders d the way Presto prints durations.
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Millisecond:
		return fmt.Sprintf("%.2fus", float64(d)/float64(time.Microsecond))
	case d < time.Second:
		return fmt.Sprintf("%.2fms", float64(d)/float64(time.Millisecond))
	case d < time.Minute:
		return fmt.Sprintf("%.2fs", d.Seconds())
	case d < time.Hour:
		return fmt.Sprintf("%.2fm", d.Minutes())
	default:
		return fmt.Sprintf("%.2fh", d.Hours())
	}
}
