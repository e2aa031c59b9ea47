// Package connection owns the DuckDB handle backing the emulated coordinator.
package connection

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	_ "github.com/duckdb/duckdb-go/v2" // registers the "duckdb" driver
	"github.com/nnnkkk7/presto-page/pkg/config"
)

// Manager serializes writes against one DuckDB database.
//
// Reads go straight to the pool and may run concurrently. Exec and ExecTx hold
// writeMu so DDL and DML never interleave.
type Manager struct {
	db      *sql.DB
	writeMu sync.Mutex
}

// NewManager wraps an already opened database.
func NewManager(db *sql.DB) *Manager {
	return &Manager{db: db}
}

// Open opens the DuckDB database at path (":memory:" or "" for an in-memory
// database) and creates the default schema so that memory.default.<table>
// resolves the way a Presto memory catalog does.
func Open(ctx context.Context, path string) (*Manager, error) {
	if path == config.DefaultDBPath {
		path = ""
	}
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to duckdb: %w", err)
	}

	m := NewManager(db)
	if err := m.EnsureSchema(ctx, config.DefaultSchema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return m, nil
}

// Query runs a read. Callers must close the rows.
func (m *Manager) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return m.db.QueryContext(ctx, query, args...)
}

// QueryRow runs a read expected to return at most one row.
func (m *Manager) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return m.db.QueryRowContext(ctx, query, args...)
}

// Exec runs a write.
func (m *Manager) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return m.db.ExecContext(ctx, query, args...)
}

// ExecTx runs fn inside a transaction, rolling back when fn fails.
func (m *Manager) ExecTx(ctx context.Context, fn func(*sql.Tx) error) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// WithSession runs fn on a single connection whose default catalog and schema
// are set by USE. Writes hold the write lock for the whole call. An empty
// schema leaves the connection's default in place.
func (m *Manager) WithSession(ctx context.Context, catalog, schema string, write bool, fn func(*sql.Conn) error) error {
	if write {
		m.writeMu.Lock()
		defer m.writeMu.Unlock()
	}

	conn, err := m.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Close()

	if schema == "" {
		return fn(conn)
	}

	var prevCatalog, prevSchema string
	if err := conn.QueryRowContext(ctx, "SELECT current_database(), current_schema()").Scan(&prevCatalog, &prevSchema); err != nil {
		return fmt.Errorf("failed to read connection defaults: %w", err)
	}
	if err := use(ctx, conn, catalog, schema); err != nil {
		return err
	}
	// The connection goes back to the pool; restore its defaults.
	defer func() { _ = use(context.WithoutCancel(ctx), conn, prevCatalog, prevSchema) }()

	return fn(conn)
}

func use(ctx context.Context, conn *sql.Conn, catalog, schema string) error {
	target := QuoteIdent(schema)
	if catalog != "" {
		target = QuoteIdent(catalog) + "." + target
	}
	if _, err := conn.ExecContext(ctx, "USE "+target); err != nil {
		return fmt.Errorf("failed to switch to %s: %w", target, err)
	}
	return nil
}

// SchemaExists reports whether catalog.schema exists.
func (m *Manager) SchemaExists(ctx context.Context, catalog, schema string) (bool, error) {
	var n int
	err := m.QueryRow(ctx,
		"SELECT count(*) FROM information_schema.schemata WHERE catalog_name = ? AND schema_name = ?",
		catalog, schema).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to look up schema %s.%s: %w", catalog, schema, err)
	}
	return n > 0, nil
}

// QuoteIdent quotes name as a SQL identifier.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// EnsureSchema creates schema in the main database when it does not exist.
func (m *Manager) EnsureSchema(ctx context.Context, schema string) error {
	if _, err := m.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+QuoteIdent(schema)); err != nil {
		return fmt.Errorf("failed to create schema %s: %w", schema, err)
	}
	return nil
}

// Ping checks that the database is reachable.
func (m *Manager) Ping(ctx context.Context) error {
	return m.db.PingContext(ctx)
}

// DB returns the underlying pool.
func (m *Manager) DB() *sql.DB {
	return m.db
}

// Close closes the database.
func (m *Manager) Close() error {
	return m.db.Close()
}
