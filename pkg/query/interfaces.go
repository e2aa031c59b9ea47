package query

import (
	"context"
)

// Runner runs one statement to completion. The statement manager executes
// submitted queries through it.
type Runner interface {
	Run(ctx context.Context, sql string, sess Session) (*Result, error)
}

// SQLTranslator defines the interface for SQL translation.
type SQLTranslator interface {
	// Translate converts Presto SQL to DuckDB-compatible SQL.
	Translate(sql string) (string, error)
}

// StatementClassifier defines the interface for SQL classification.
type StatementClassifier interface {
	// Classify analyzes a SQL statement and returns its classification.
	Classify(sql string) ClassifyResult

	// ParseUse extracts the target of a USE statement.
	ParseUse(sql string) (catalog, schema string, ok bool)
}
