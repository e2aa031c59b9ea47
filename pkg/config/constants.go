// Package config provides protocol constants and runtime configuration for the
// Presto page client and the emulated coordinator.
package config

import "time"

// Version is reported by GET /v1/info and by the CLI.
const Version = "0.1.0"

// Default session settings.
const (
	DefaultCatalog = "memory"
	DefaultSchema  = "default"
	DefaultUser    = "presto"
	DefaultSource  = "presto-page"
)

// Server defaults.
const (
	DefaultPort            = "8080"
	DefaultDBPath          = ":memory:"
	DefaultPageSize        = 1000
	DefaultQueryTTL        = 1 * time.Hour
	DefaultShutdownTimeout = 10 * time.Second
	DefaultMaxWait         = 1 * time.Second
	MaxMaxWait             = 10 * time.Second
)

// Client defaults.
const (
	DefaultServerURL      = "http://localhost:8080"
	DefaultRequestTimeout = 30 * time.Second
	DefaultRetryDelay     = 100 * time.Millisecond
	DefaultMaxRetryDelay  = 15 * time.Second
)

// Protocol paths.
const (
	StatementPath = "/v1/statement"
	StagePath     = "/v1/stage"
	QueryInfoPath = "/v1/query"
	ServerInfo    = "/v1/info"
	UIQueryPath   = "/ui/query.html"
)

// Header is a Presto client protocol header name.
type Header string

// Request and response headers.
const (
	HeaderUser       Header = "X-Presto-User"
	HeaderSource     Header = "X-Presto-Source"
	HeaderCatalog    Header = "X-Presto-Catalog"
	HeaderSchema     Header = "X-Presto-Schema"
	HeaderTimeZone   Header = "X-Presto-Time-Zone"
	HeaderSession    Header = "X-Presto-Session"
	HeaderSetCatalog Header = "X-Presto-Set-Catalog"
	HeaderSetSchema  Header = "X-Presto-Set-Schema"
)

// String returns the canonical header name.
func (h Header) String() string {
	return string(h)
}

// QueryState is the coordinator-side state of a query as reported in page stats.
type QueryState string

// Query states.
const (
	StateQueued   QueryState = "QUEUED"
	StatePlanning QueryState = "PLANNING"
	StateRunning  QueryState = "RUNNING"
	StateFinished QueryState = "FINISHED"
	StateFailed   QueryState = "FAILED"
)

// Done reports whether the state is terminal.
func (s QueryState) Done() bool {
	return s == StateFinished || s == StateFailed
}
