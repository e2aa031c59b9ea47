package query

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestTranslator_FunctionRenames(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "ApproxDistinct",
			input:    "SELECT approx_distinct(user_id) FROM events",
			expected: "select approx_count_distinct(user_id) from events",
		},
		{
			name:     "Arbitrary",
			input:    "SELECT arbitrary(title) FROM users",
			expected: "select any_value(title) from users",
		},
		{
			name:     "UpperCaseName",
			input:    "SELECT STRPOS(email, 'a') FROM users",
			expected: "select instr(email, 'a') from users",
		},
		{
			name:     "InWhere",
			input:    "SELECT id FROM users WHERE regexp_like(username, '^A')",
			expected: "select id from users where regexp_matches(username, '^A')",
		},
		{
			name:     "Nested",
			input:    "SELECT arbitrary(json_extract_scalar(payload, '$.id')) FROM events",
			expected: "select any_value(json_extract_string(payload, '$.id')) from events",
		},
		{
			name:     "WithoutFrom",
			input:    "SELECT is_nan(x)",
			expected: "select isnan(x)",
		},
		{
			name:     "TrailingSemicolon",
			input:    "SELECT cardinality(tags) FROM posts;",
			expected: "select len(tags) from posts",
		},
	}

	tr := NewTranslator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tr.Translate(tt.input)
			if err != nil {
				t.Fatalf("Translate() error = %v", err)
			}
			if diff := cmp.Diff(tt.expected, got); diff != "" {
				t.Errorf("Translate() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestTranslator_PassThrough(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "NoFunctions", input: "SELECT 1"},
		{name: "UnknownFunctions", input: "SELECT upper(name), count(*) FROM users GROUP BY 1"},
		{name: "DuckDBOnlySyntax", input: "SELECT * EXCLUDE (id) FROM users"},
		{name: "CreateTable", input: "CREATE TABLE t (id BIGINT, name VARCHAR)"},
	}

	tr := NewTranslator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tr.Translate(tt.input)
			if err != nil {
				t.Fatalf("Translate() error = %v", err)
			}
			if got != tt.input {
				t.Errorf("Translate() = %q, want input unchanged", got)
			}
		})
	}
}

func TestTranslator_QuotedIdentifiers(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "DoubleQuotedTable",
			input:    `SELECT approx_distinct(id) FROM memory."default".events`,
			expected: `SELECT approx_count_distinct(id) FROM memory."default".events`,
		},
		{
			name:     "LiteralUntouched",
			input:    `SELECT strpos("name", 'strpos(') FROM t`,
			expected: `SELECT instr("name", 'strpos(') FROM t`,
		},
		{
			name:     "EscapedQuote",
			input:    `SELECT 'it''s arbitrary(x)', arbitrary ("v") FROM t`,
			expected: `SELECT 'it''s arbitrary(x)', any_value ("v") FROM t`,
		},
	}

	tr := NewTranslator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tr.Translate(tt.input)
			if err != nil {
				t.Fatalf("Translate() error = %v", err)
			}
			if diff := cmp.Diff(tt.expected, got); diff != "" {
				t.Errorf("Translate() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestTranslator_ShowStatements(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "ShowCatalogs",
			input:    "show catalogs",
			expected: `SELECT DISTINCT catalog_name AS "Catalog" FROM information_schema.schemata ORDER BY 1`,
		},
		{
			name:     "ShowSchemas",
			input:    "SHOW SCHEMAS",
			expected: `SELECT schema_name AS "Schema" FROM information_schema.schemata WHERE catalog_name = current_database() ORDER BY 1`,
		},
		{
			name:     "ShowSchemasFrom",
			input:    `SHOW SCHEMAS FROM "memory";`,
			expected: `SELECT schema_name AS "Schema" FROM information_schema.schemata WHERE catalog_name = 'memory' ORDER BY 1`,
		},
	}

	tr := NewTranslator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tr.Translate(tt.input)
			if err != nil {
				t.Fatalf("Translate() error = %v", err)
			}
			if diff := cmp.Diff(tt.expected, got); diff != "" {
				t.Errorf("Translate() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestTranslator_Empty(t *testing.T) {
	for _, input := range []string{"", "   ", ";"} {
		if _, err := NewTranslator().Translate(input); err == nil {
			t.Errorf("Translate(%q) error = nil, want error", input)
		}
	}
}
