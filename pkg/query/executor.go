package query

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strings"
	"time"

	"github.com/duckdb/duckdb-go/v2"
	"github.com/google/uuid"
	"github.com/nnnkkk7/presto-page/pkg/connection"
	"github.com/nnnkkk7/presto-page/pkg/page"
	"github.com/nnnkkk7/presto-page/server/apierror"
	"github.com/sirupsen/logrus"
)

// Wire formats of temporal values.
const (
	dateFormat      = "2006-01-02"
	timeFormat      = "15:04:05.000"
	timestampFormat = "2006-01-02 15:04:05.000"
)

// Executor executes Presto SQL against DuckDB.
type Executor struct {
	mgr        *connection.Manager
	translator SQLTranslator
	classifier StatementClassifier
	mapper     *TypeMapper
	log        logrus.FieldLogger
}

// NewExecutor creates a new query executor.
func NewExecutor(mgr *connection.Manager, log logrus.FieldLogger) *Executor {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Executor{
		mgr:        mgr,
		translator: NewTranslator(),
		classifier: NewClassifier(),
		mapper:     NewTypeMapper(),
		log:        log,
	}
}

// Run classifies sql and executes it in sess.
func (e *Executor) Run(ctx context.Context, sql string, sess Session) (*Result, error) {
	cls := e.classifier.Classify(sql)
	switch cls.Type {
	case StatementTypeQuery:
		return e.Query(ctx, sql, sess)
	case StatementTypeUse:
		return e.use(ctx, sql, sess)
	case StatementTypeSession, StatementTypeTransaction:
		// Session properties are carried by headers and every statement autocommits.
		return booleanResult(cls.UpdateType), nil
	default:
		return e.Execute(ctx, sql, sess, cls)
	}
}

// Query executes a statement that returns rows.
func (e *Executor) Query(ctx context.Context, sqlText string, sess Session) (*Result, error) {
	translated, err := e.translator.Translate(sqlText)
	if err != nil {
		return nil, apierror.NewSyntaxError(err.Error())
	}
	if translated != sqlText {
		e.log.WithField("sql", translated).Debug("translated statement")
	}

	res := &Result{}
	err = e.mgr.WithSession(ctx, sess.Catalog, sess.Schema, false, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, translated)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()

		cols, sigs, err := e.mapper.columns(rows)
		if err != nil {
			return err
		}
		res.Columns = cols

		for rows.Next() {
			values := make([]any, len(cols))
			ptrs := make([]any, len(cols))
			for i := range values {
				ptrs[i] = &values[i]
			}
			if err := rows.Scan(ptrs...); err != nil {
				return fmt.Errorf("failed to scan row: %w", err)
			}
			for i, v := range values {
				values[i] = encodeValue(v, sigs[i])
			}
			res.Rows = append(res.Rows, values)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("query execution error: %w", err)
	}
	return res, nil
}

// Execute runs a statement that changes data or schema.
func (e *Executor) Execute(ctx context.Context, sqlText string, sess Session, cls ClassifyResult) (*Result, error) {
	translated, err := e.translator.Translate(sqlText)
	if err != nil {
		return nil, apierror.NewSyntaxError(err.Error())
	}

	var affected int64
	err = e.mgr.WithSession(ctx, sess.Catalog, sess.Schema, true, func(conn *sql.Conn) error {
		result, err := conn.ExecContext(ctx, translated)
		if err != nil {
			return err
		}
		if cls.IsDML {
			affected, err = result.RowsAffected()
			if err != nil {
				return fmt.Errorf("failed to get rows affected: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("execution error: %w", err)
	}

	if !cls.IsDML {
		return booleanResult(cls.UpdateType), nil
	}
	return &Result{
		Columns:     []page.Column{e.mapper.Column("rows", "BIGINT")},
		Rows:        [][]any{{affected}},
		UpdateType:  cls.UpdateType,
		UpdateCount: &affected,
	}, nil
}

func (e *Executor) use(ctx context.Context, sqlText string, sess Session) (*Result, error) {
	catalog, schema, ok := e.classifier.ParseUse(sqlText)
	if !ok {
		return nil, apierror.NewSyntaxError(fmt.Sprintf("invalid USE statement: %s", sqlText))
	}
	if catalog == "" {
		catalog = sess.Catalog
	}

	exists, err := e.mgr.SchemaExists(ctx, catalog, schema)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, apierror.New(apierror.NotFound, fmt.Sprintf("Schema does not exist: %s.%s", catalog, schema))
	}

	res := booleanResult("USE")
	res.SetCatalog = catalog
	res.SetSchema = schema
	return res, nil
}

func booleanResult(updateType string) *Result {
	return &Result{
		Columns:    []page.Column{defaultTypeMapper.Column("result", "BOOLEAN")},
		Rows:       [][]any{{true}},
		UpdateType: updateType,
	}
}

// encodeValue converts a scanned DuckDB value to its JSON wire form.
func encodeValue(v any, sig TypeSignature) any {
	if sig.RawType == TypeJSON && v != nil {
		if s, ok := v.(string); ok {
			return s
		}
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	}

	switch v := v.(type) {
	case nil:
		return nil
	case []byte:
		if sig.RawType == TypeUUID {
			if id, err := uuid.FromBytes(v); err == nil {
				return id.String()
			}
		}
		return base64.StdEncoding.EncodeToString(v)
	case time.Time:
		switch sig.RawType {
		case TypeDate:
			return v.Format(dateFormat)
		case TypeTime, TypeTimeWithTimeZone:
			return v.Format(timeFormat)
		case TypeTimestampWithTimeZone:
			return v.UTC().Format(timestampFormat) + " UTC"
		default:
			return v.Format(timestampFormat)
		}
	case float64:
		return encodeFloat(v)
	case float32:
		return encodeFloat(float64(v))
	case *big.Int:
		return v.String()
	case duckdb.Decimal:
		return formatDecimal(v.Value, int(v.Scale))
	case duckdb.Interval:
		return formatInterval(v)
	case duckdb.Map:
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[fmt.Sprint(k)] = encodeValue(val, TypeSignature{})
		}
		return out
	case []any:
		elem := TypeSignature{}
		if len(sig.Arguments) == 1 {
			if s, ok := sig.Arguments[0].Value.(TypeSignature); ok {
				elem = s
			}
		}
		out := make([]any, len(v))
		for i, val := range v {
			out[i] = encodeValue(val, elem)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[k] = encodeValue(val, TypeSignature{})
		}
		return out
	default:
		return v
	}
}

func encodeFloat(f float64) any {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	default:
		return f
	}
}

// formatDecimal renders an unscaled value with exactly scale fractional digits.
func formatDecimal(unscaled *big.Int, scale int) string {
	if unscaled == nil {
		return "0"
	}
	digits := new(big.Int).Abs(unscaled).String()
	sign := ""
	if unscaled.Sign() < 0 {
		sign = "-"
	}
	if scale <= 0 {
		return sign + digits
	}
	if len(digits) <= scale {
		digits = strings.Repeat("0", scale-len(digits)+1) + digits
	}
	return sign + digits[:len(digits)-scale] + "." + digits[len(digits)-scale:]
}

// formatInterval renders an interval as "D HH:MM:SS.mmm". Months count as 30 days.
func formatInterval(iv duckdb.Interval) string {
	const microsPerDay = int64(24 * time.Hour / time.Microsecond)
	// Days and micros may carry opposite signs; fold them into one total first.
	total := (int64(iv.Days)+int64(iv.Months)*30)*microsPerDay + iv.Micros
	sign := ""
	if total < 0 {
		sign = "-"
		total = -total
	}
	days := total / microsPerDay
	d := time.Duration(total%microsPerDay) * time.Microsecond
	h := int64(d / time.Hour)
	d -= time.Duration(h) * time.Hour
	m := int64(d / time.Minute)
	d -= time.Duration(m) * time.Minute
	s := int64(d / time.Second)
	d -= time.Duration(s) * time.Second
	return fmt.Sprintf("%s%d %02d:%02d:%02d.%03d", sign, days, h, m, s, int64(d/time.Millisecond))
}
