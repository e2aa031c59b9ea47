// Package query runs Presto SQL against DuckDB and tracks submitted statements.
package query

import (
	"regexp"
	"strings"
)

// StatementType represents the category of a SQL statement.
type StatementType int

// Statement types.
const (
	StatementTypeQuery       StatementType = iota // SELECT, SHOW, DESCRIBE, EXPLAIN, VALUES, WITH
	StatementTypeDML                              // INSERT, UPDATE, DELETE, CREATE TABLE AS
	StatementTypeDDL                              // CREATE, DROP, ALTER
	StatementTypeUse                              // USE catalog.schema
	StatementTypeSession                          // SET SESSION, RESET SESSION
	StatementTypeTransaction                      // START TRANSACTION, COMMIT, ROLLBACK
	StatementTypeOther
)

// Classifier provides SQL statement classification functionality.
type Classifier struct{}

// NewClassifier creates a new SQL classifier.
func NewClassifier() *Classifier {
	return &Classifier{}
}

// ClassifyResult contains the classification result of a SQL statement.
type ClassifyResult struct {
	Type StatementType

	// UpdateType is the value reported in the page's updateType field. Empty for queries.
	UpdateType string
	IsQuery    bool
	IsDDL      bool
	IsDML      bool
}

var (
	ctasPattern       = regexp.MustCompile(`^CREATE\s+(OR\s+REPLACE\s+)?TABLE\s+(IF\s+NOT\s+EXISTS\s+)?\S+(\s*\([^)]*\))?\s+(WITH\s*\(.*\)\s+)?AS\s`)
	ddlObjectPattern  = regexp.MustCompile(`^(CREATE|DROP|ALTER)\s+(OR\s+REPLACE\s+)?(TEMPORARY\s+|TEMP\s+)?(\w+)`)
	usePattern        = regexp.MustCompile(`(?i)^USE\s+("?[\w-]+"?)(?:\.("?[\w-]+"?))?\s*;?$`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// Classify analyzes a SQL statement and returns its classification.
func (c *Classifier) Classify(sql string) ClassifyResult {
	upperSQL := normalize(sql)

	switch {
	case c.isQueryStatement(upperSQL):
		return ClassifyResult{Type: StatementTypeQuery, IsQuery: true}
	case ctasPattern.MatchString(upperSQL):
		return ClassifyResult{Type: StatementTypeDML, UpdateType: "CREATE TABLE", IsDML: true}
	case strings.HasPrefix(upperSQL, "INSERT"):
		return ClassifyResult{Type: StatementTypeDML, UpdateType: "INSERT", IsDML: true}
	case strings.HasPrefix(upperSQL, "UPDATE"):
		return ClassifyResult{Type: StatementTypeDML, UpdateType: "UPDATE", IsDML: true}
	case strings.HasPrefix(upperSQL, "DELETE"):
		return ClassifyResult{Type: StatementTypeDML, UpdateType: "DELETE", IsDML: true}
	case strings.HasPrefix(upperSQL, "USE "):
		return ClassifyResult{Type: StatementTypeUse, UpdateType: "USE"}
	case strings.HasPrefix(upperSQL, "SET SESSION"):
		return ClassifyResult{Type: StatementTypeSession, UpdateType: "SET SESSION"}
	case strings.HasPrefix(upperSQL, "RESET SESSION"):
		return ClassifyResult{Type: StatementTypeSession, UpdateType: "RESET SESSION"}
	case c.isTransactionStatement(upperSQL):
		return ClassifyResult{Type: StatementTypeTransaction, UpdateType: transactionUpdateType(upperSQL)}
	}

	if m := ddlObjectPattern.FindStringSubmatch(upperSQL); m != nil {
		return ClassifyResult{Type: StatementTypeDDL, UpdateType: m[1] + " " + m[4], IsDDL: true}
	}
	return ClassifyResult{Type: StatementTypeOther}
}

func normalize(sql string) string {
	sql = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(sql), ";"))
	return whitespacePattern.ReplaceAllString(strings.ToUpper(sql), " ")
}

// isQueryStatement checks if the SQL is a query (read-only) statement.
func (c *Classifier) isQueryStatement(upperSQL string) bool {
	for _, prefix := range []string{"SELECT", "WITH", "VALUES", "SHOW", "DESCRIBE", "DESC ", "EXPLAIN", "TABLE ", "("} {
		if strings.HasPrefix(upperSQL, prefix) {
			return true
		}
	}
	return false
}

// isTransactionStatement checks if the SQL is a transaction control statement.
func (c *Classifier) isTransactionStatement(upperSQL string) bool {
	return strings.HasPrefix(upperSQL, "BEGIN") ||
		strings.HasPrefix(upperSQL, "START TRANSACTION") ||
		strings.HasPrefix(upperSQL, "COMMIT") ||
		strings.HasPrefix(upperSQL, "ROLLBACK")
}

func transactionUpdateType(upperSQL string) string {
	switch {
	case strings.HasPrefix(upperSQL, "COMMIT"):
		return "COMMIT"
	case strings.HasPrefix(upperSQL, "ROLLBACK"):
		return "ROLLBACK"
	default:
		return "START TRANSACTION"
	}
}

// ParseUse extracts the target of a USE statement. A single name is a schema
// in the current catalog.
func (c *Classifier) ParseUse(sql string) (catalog, schema string, ok bool) {
	m := usePattern.FindStringSubmatch(strings.TrimSpace(sql))
	if m == nil {
		return "", "", false
	}
	unquote := func(s string) string { return strings.Trim(s, `"`) }
	if m[2] == "" {
		return "", unquote(m[1]), true
	}
	return unquote(m[1]), unquote(m[2]), true
}

// DefaultClassifier is the default SQL classifier instance.
var DefaultClassifier = NewClassifier()

// ClassifySQL is a convenience function using the default classifier.
func ClassifySQL(sql string) ClassifyResult {
	return DefaultClassifier.Classify(sql)
}

// IsQuery is a convenience function to check if SQL is a query.
func IsQuery(sql string) bool {
	return DefaultClassifier.Classify(sql).IsQuery
}
