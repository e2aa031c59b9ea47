package query

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/blastrain/vitess-sqlparser/sqlparser"
)

// Translator rewrites Presto SQL into SQL DuckDB accepts. Function calls are
// renamed on the parsed AST; a few statements DuckDB lacks are rewritten whole.
type Translator struct {
	functionMap map[string]string
	callPattern *regexp.Regexp
	rewrites    []statementRewrite
}

type statementRewrite struct {
	pattern *regexp.Regexp
	build   func(m []string) string
}

// NewTranslator creates a translator with the default function mappings.
func NewTranslator() *Translator {
	t := &Translator{
		functionMap: map[string]string{
			"APPROX_DISTINCT":     "approx_count_distinct",
			"APPROX_PERCENTILE":   "approx_quantile",
			"ARBITRARY":           "any_value",
			"ARRAY_JOIN":          "array_to_string",
			"CARDINALITY":         "len",
			"DATE_PARSE":          "strptime",
			"FORMAT_DATETIME":     "strftime",
			"FROM_UNIXTIME":       "to_timestamp",
			"IS_NAN":              "isnan",
			"JSON_EXTRACT_SCALAR": "json_extract_string",
			"REGEXP_LIKE":         "regexp_matches",
			"STRPOS":              "instr",
		},
	}
	names := make([]string, 0, len(t.functionMap))
	for name := range t.functionMap {
		names = append(names, name)
	}
	sort.Strings(names)
	t.callPattern = regexp.MustCompile(`(?i)\b(` + strings.Join(names, "|") + `)(\s*\()`)
	t.registerRewrites()
	return t
}

func (t *Translator) registerRewrites() {
	t.rewrites = []statementRewrite{
		{
			pattern: regexp.MustCompile(`(?i)^SHOW\s+CATALOGS$`),
			build: func([]string) string {
				return `SELECT DISTINCT catalog_name AS "Catalog" FROM information_schema.schemata ORDER BY 1`
			},
		},
		{
			pattern: regexp.MustCompile(`(?i)^SHOW\s+SCHEMAS(?:\s+(?:FROM|IN)\s+("?[\w]+"?))?$`),
			build: func(m []string) string {
				catalog := "current_database()"
				if m[1] != "" {
					catalog = "'" + strings.Trim(m[1], `"`) + "'"
				}
				return `SELECT schema_name AS "Schema" FROM information_schema.schemata WHERE catalog_name = ` +
					catalog + ` ORDER BY 1`
			},
		},
	}
}

// Translate converts sql. SQL the parser cannot read is passed through
// unchanged so DuckDB can report its own error or accept syntax it shares with
// Presto.
func (t *Translator) Translate(sql string) (string, error) {
	sql = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(sql), ";"))
	if sql == "" {
		return "", fmt.Errorf("empty SQL statement")
	}

	for _, r := range t.rewrites {
		if m := r.pattern.FindStringSubmatch(sql); m != nil {
			return r.build(m), nil
		}
	}

	// The parser reads double quotes as string literals, so quoted identifiers
	// take the lexical path.
	if strings.Contains(sql, `"`) {
		return t.renameCalls(sql), nil
	}

	stmt, err := sqlparser.Parse(sql)
	if err != nil {
		return t.renameCalls(sql), nil
	}

	modified := false
	_ = sqlparser.Walk(func(node sqlparser.SQLNode) (bool, error) {
		if fn, ok := node.(*sqlparser.FuncExpr); ok {
			if name, ok := t.functionMap[strings.ToUpper(fn.Name.String())]; ok {
				fn.Name = sqlparser.NewColIdent(name)
				modified = true
			}
		}
		return true, nil
	}, stmt)

	if !modified {
		return sql, nil
	}

	out := sqlparser.String(stmt)
	// The parser quotes reserved identifiers with backticks, which DuckDB rejects.
	if strings.Contains(out, "`") {
		return t.renameCalls(sql), nil
	}
	if !strings.Contains(strings.ToLower(sql), "dual") {
		out = strings.Replace(out, " from dual", "", 1)
	}
	return out, nil
}

// renameCalls renames function calls outside single-quoted literals.
func (t *Translator) renameCalls(sql string) string {
	var b strings.Builder
	start := 0
	inLiteral := false
	for i := 0; i < len(sql); i++ {
		if sql[i] != '\'' {
			continue
		}
		if inLiteral {
			b.WriteString(sql[start : i+1])
		} else {
			b.WriteString(t.renameSegment(sql[start:i]))
			b.WriteByte('\'')
		}
		inLiteral = !inLiteral
		start = i + 1
	}
	if inLiteral {
		b.WriteString(sql[start:])
	} else {
		b.WriteString(t.renameSegment(sql[start:]))
	}
	return b.String()
}

func (t *Translator) renameSegment(seg string) string {
	return t.callPattern.ReplaceAllStringFunc(seg, func(call string) string {
		m := t.callPattern.FindStringSubmatch(call)
		return t.functionMap[strings.ToUpper(m[1])] + m[2]
	})
}
