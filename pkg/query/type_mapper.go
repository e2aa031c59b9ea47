package query

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/nnnkkk7/presto-page/pkg/page"
)

// Presto type names produced by the mapper.
const (
	TypeBigint                = "bigint"
	TypeInteger               = "integer"
	TypeSmallint              = "smallint"
	TypeTinyint               = "tinyint"
	TypeDouble                = "double"
	TypeReal                  = "real"
	TypeDecimal               = "decimal"
	TypeVarchar               = "varchar"
	TypeBoolean               = "boolean"
	TypeDate                  = "date"
	TypeTime                  = "time"
	TypeTimeWithTimeZone      = "time with time zone"
	TypeTimestamp             = "timestamp"
	TypeTimestampWithTimeZone = "timestamp with time zone"
	TypeVarbinary             = "varbinary"
	TypeUUID                  = "uuid"
	TypeJSON                  = "json"
	TypeInterval              = "interval day to second"
	TypeArray                 = "array"
	TypeMap                   = "map"
	TypeRow                   = "row"
	TypeUnknown               = "unknown"
)

// Argument kinds of a type signature.
const (
	KindLong = "LONG"
	KindType = "TYPE"
)

// unboundedVarcharLength is the length argument of an unbounded varchar.
const unboundedVarcharLength = 2147483647

// TypeSignature is the structured form of a Presto type.
type TypeSignature struct {
	RawType   string         `json:"rawType"`
	Arguments []TypeArgument `json:"arguments"`
}

// TypeArgument is one parameter of a type signature: a LONG literal or a nested TYPE.
type TypeArgument struct {
	Kind  string `json:"kind"`
	Value any    `json:"value"`
}

// String renders the signature as a Presto type name, e.g. decimal(10,2) or array(varchar).
func (s TypeSignature) String() string {
	switch {
	case s.RawType == TypeVarchar:
		return TypeVarchar
	case len(s.Arguments) == 0:
		return s.RawType
	}
	args := make([]string, len(s.Arguments))
	for i, a := range s.Arguments {
		switch v := a.Value.(type) {
		case TypeSignature:
			args[i] = v.String()
		default:
			args[i] = fmt.Sprint(v)
		}
	}
	return s.RawType + "(" + strings.Join(args, ",") + ")"
}

var (
	decimalPattern    = regexp.MustCompile(`^(?:DECIMAL|NUMERIC)\((\d+),\s*(\d+)\)$`)
	fixedArrayPattern = regexp.MustCompile(`\[\d+\]$`)
)

// TypeMapper maps DuckDB column types to Presto types.
type TypeMapper struct {
	typeMapping map[string]string
}

// NewTypeMapper creates a new type mapper with default mappings.
func NewTypeMapper() *TypeMapper {
	return &TypeMapper{
		typeMapping: map[string]string{
			"BIGINT":                   TypeBigint,
			"INT8":                     TypeBigint,
			"UINTEGER":                 TypeBigint,
			"INTEGER":                  TypeInteger,
			"INT":                      TypeInteger,
			"INT4":                     TypeInteger,
			"USMALLINT":                TypeInteger,
			"SMALLINT":                 TypeSmallint,
			"UTINYINT":                 TypeSmallint,
			"TINYINT":                  TypeTinyint,
			"DOUBLE":                   TypeDouble,
			"FLOAT":                    TypeReal,
			"REAL":                     TypeReal,
			"VARCHAR":                  TypeVarchar,
			"TEXT":                     TypeVarchar,
			"STRING":                   TypeVarchar,
			"BOOLEAN":                  TypeBoolean,
			"BOOL":                     TypeBoolean,
			"DATE":                     TypeDate,
			"TIME":                     TypeTime,
			"TIMETZ":                   TypeTimeWithTimeZone,
			"TIMESTAMP":                TypeTimestamp,
			"TIMESTAMP_NS":             TypeTimestamp,
			"TIMESTAMP_MS":             TypeTimestamp,
			"TIMESTAMP_S":              TypeTimestamp,
			"TIMESTAMPTZ":              TypeTimestampWithTimeZone,
			"TIMESTAMP WITH TIME ZONE": TypeTimestampWithTimeZone,
			"BLOB":                     TypeVarbinary,
			"BYTEA":                    TypeVarbinary,
			"UUID":                     TypeUUID,
			"JSON":                     TypeJSON,
			"INTERVAL":                 TypeInterval,
			"ENUM":                     TypeVarchar,
			"NULL":                     TypeUnknown,
			"SQLNULL":                  TypeUnknown,
		},
	}
}

// Signature maps a DuckDB database type name to a Presto type signature.
// Unknown types fall back to varchar.
func (m *TypeMapper) Signature(duckType string) TypeSignature {
	duckType = strings.ToUpper(strings.TrimSpace(duckType))

	switch {
	case strings.HasSuffix(duckType, "[]"):
		elem := m.Signature(strings.TrimSuffix(duckType, "[]"))
		return TypeSignature{RawType: TypeArray, Arguments: []TypeArgument{{Kind: KindType, Value: elem}}}
	case strings.HasPrefix(duckType, "MAP("):
		return TypeSignature{RawType: TypeMap, Arguments: []TypeArgument{}}
	case strings.HasPrefix(duckType, "STRUCT("):
		return TypeSignature{RawType: TypeRow, Arguments: []TypeArgument{}}
	case fixedArrayPattern.MatchString(duckType):
		return m.Signature(fixedArrayPattern.ReplaceAllString(duckType, "[]"))
	case duckType == "HUGEINT", duckType == "UHUGEINT":
		return decimalSignature(38, 0)
	case duckType == "UBIGINT":
		return decimalSignature(20, 0)
	case duckType == "DECIMAL" || duckType == "NUMERIC":
		return decimalSignature(18, 3)
	}
	if mm := decimalPattern.FindStringSubmatch(duckType); mm != nil {
		precision, _ := strconv.ParseInt(mm[1], 10, 64)
		scale, _ := strconv.ParseInt(mm[2], 10, 64)
		return decimalSignature(precision, scale)
	}

	raw, ok := m.typeMapping[duckType]
	if !ok {
		raw = TypeVarchar
	}
	if raw == TypeVarchar {
		return TypeSignature{RawType: TypeVarchar, Arguments: []TypeArgument{{Kind: KindLong, Value: int64(unboundedVarcharLength)}}}
	}
	return TypeSignature{RawType: raw, Arguments: []TypeArgument{}}
}

func decimalSignature(precision, scale int64) TypeSignature {
	return TypeSignature{
		RawType: TypeDecimal,
		Arguments: []TypeArgument{
			{Kind: KindLong, Value: precision},
			{Kind: KindLong, Value: scale},
		},
	}
}

// MapDuckDBType converts a DuckDB type to its Presto type name.
func (m *TypeMapper) MapDuckDBType(duckType string) string {
	return m.Signature(duckType).String()
}

// Column builds a result column for name with the given DuckDB type.
func (m *TypeMapper) Column(name, duckType string) page.Column {
	return columnFor(name, m.Signature(duckType))
}

func columnFor(name string, sig TypeSignature) page.Column {
	raw, err := json.Marshal(sig)
	if err != nil {
		raw = nil
	}
	return page.Column{Name: name, Type: sig.String(), TypeSignature: raw}
}

// InferColumns builds result columns from the column types of rows.
func (m *TypeMapper) InferColumns(rows *sql.Rows) ([]page.Column, error) {
	cols, _, err := m.columns(rows)
	return cols, err
}

func (m *TypeMapper) columns(rows *sql.Rows) ([]page.Column, []TypeSignature, error) {
	columnTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get column types: %w", err)
	}
	cols := make([]page.Column, len(columnTypes))
	sigs := make([]TypeSignature, len(columnTypes))
	for i, ct := range columnTypes {
		duckType := ct.DatabaseTypeName()
		if precision, scale, ok := ct.DecimalSize(); ok && strings.EqualFold(duckType, "DECIMAL") {
			duckType = fmt.Sprintf("DECIMAL(%d,%d)", precision, scale)
		}
		sigs[i] = m.Signature(duckType)
		cols[i] = columnFor(ct.Name(), sigs[i])
	}
	return cols, sigs, nil
}

// defaultTypeMapper is the package-level type mapper instance.
var defaultTypeMapper = NewTypeMapper()

// MapDuckDBTypeToPresto is a convenience function using the default mapper.
func MapDuckDBTypeToPresto(duckType string) string {
	return defaultTypeMapper.MapDuckDBType(duckType)
}
