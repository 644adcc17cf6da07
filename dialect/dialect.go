// Package dialect implements the two-driver database abstraction: a
// neutral SQL construction form that compiles to either SQLite or
// PostgreSQL, connection pooling per datasource, and metadata
// introspection used by the schema generator's migration planner.
package dialect

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Driver identifies a supported backend.
type Driver string

const (
	Postgres Driver = "postgres"
	SQLite   Driver = "sqlite"
)

// Dialect captures the small set of behaviors that differ between
// backends: placeholder syntax, returning-id support, and boolean/type
// rendering. Everything else in the CRUD engine and SchemaGenerator
// talks to the neutral AST in statement.go and ddl.go.
type Dialect interface {
	Driver() Driver
	Placeholder(n int) string
	SupportsReturning() bool
	LastInsertIDExpr() string // SQL for the last inserted id; empty where SupportsReturning() is true
	BoolType() string
	BoolLiteral(v bool) any
	TimestampDefault() string
	AutoIncrementColumnDDL(colName string) string
	QuoteIdent(name string) string
}

// ForDriver returns the Dialect implementation for a driver name.
func ForDriver(d Driver) (Dialect, error) {
	switch d {
	case Postgres:
		return postgresDialect{}, nil
	case SQLite:
		return sqliteDialect{}, nil
	default:
		return nil, fmt.Errorf("dialect: unsupported driver %q", d)
	}
}

// Pool wraps a per-datasource connection pool together with its
// dialect. One Pool is created lazily on first use of a Datasource and
// torn down when the datasource is deleted or replaced.
type Pool struct {
	DB      *sqlx.DB
	Dialect Dialect
	Name    string
}

// Open opens a connection pool for the given driver and DSN, pinging
// it with a bounded deadline so a dead database surfaces at open time
// rather than on the first query.
func Open(ctx context.Context, name string, driver Driver, dsn string, maxPoolSize int) (*Pool, error) {
	dialect, err := ForDriver(driver)
	if err != nil {
		return nil, err
	}

	driverName := string(driver)
	if driver == SQLite {
		driverName = "sqlite"
	}

	db, err := sqlx.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("dialect: open %s: %w", name, err)
	}

	if maxPoolSize > 0 {
		db.SetMaxOpenConns(maxPoolSize)
	}
	if driver == SQLite {
		// SQLite allows only one writer at a time regardless of pool size;
		// a single connection avoids SQLITE_BUSY under concurrent writers.
		db.SetMaxOpenConns(1)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("dialect: ping %s: %w", name, err)
	}

	return &Pool{DB: db, Dialect: dialect, Name: name}, nil
}

// Close tears down the pool.
func (p *Pool) Close() error {
	return p.DB.Close()
}

// RowMap is a single result row keyed by column name, matching the
// form every query surface returns.
type RowMap map[string]any

// queryer is satisfied by both *sqlx.DB and *sqlx.Tx, letting Pool and Tx
// share the same row-scanning logic instead of duplicating it.
type queryer interface {
	QueryxContext(ctx context.Context, query string, args ...any) (*sqlx.Rows, error)
}

func queryRows(ctx context.Context, q queryer, query string, args ...any) ([]RowMap, error) {
	rows, err := q.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RowMap
	for rows.Next() {
		m := make(map[string]any)
		if err := rows.MapScan(m); err != nil {
			return nil, err
		}
		out = append(out, RowMap(m))
	}
	return out, rows.Err()
}

func queryRow(ctx context.Context, q queryer, query string, args ...any) (RowMap, error) {
	rows, err := queryRows(ctx, q, query, args...)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, sql.ErrNoRows
	}
	return rows[0], nil
}

// QueryRows executes query and returns every row as a RowMap.
func (p *Pool) QueryRows(ctx context.Context, query string, args ...any) ([]RowMap, error) {
	return queryRows(ctx, p.DB, query, args...)
}

// QueryRow executes query and returns the single result row, or
// (nil, sql.ErrNoRows) when empty.
func (p *Pool) QueryRow(ctx context.Context, query string, args ...any) (RowMap, error) {
	return queryRow(ctx, p.DB, query, args...)
}

// ExecContext runs a non-query statement against the pool directly
// (outside any transaction).
func (p *Pool) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return p.DB.ExecContext(ctx, query, args...)
}

// Tx wraps one *sqlx.Tx together with the pool's dialect so callers that
// need several statements to commit or fail together (the CRUD
// engine's nested create, replace-on-update, and cascade delete) can
// use the same QueryRows/QueryRow/ExecContext surface as Pool.
type Tx struct {
	tx      *sqlx.Tx
	Dialect Dialect
}

// BeginTx opens a transaction against the pool. Both SQLite and
// PostgreSQL support database/sql transactions, so this is unconditional.
func (p *Pool) BeginTx(ctx context.Context) (*Tx, error) {
	tx, err := p.DB.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx, Dialect: p.Dialect}, nil
}

func (t *Tx) QueryRows(ctx context.Context, query string, args ...any) ([]RowMap, error) {
	return queryRows(ctx, t.tx, query, args...)
}

func (t *Tx) QueryRow(ctx context.Context, query string, args ...any) (RowMap, error) {
	return queryRow(ctx, t.tx, query, args...)
}

func (t *Tx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(ctx, query, args...)
}

// Commit commits the transaction.
func (t *Tx) Commit() error { return t.tx.Commit() }

// Rollback aborts the transaction. Calling it after a successful Commit
// is a safe no-op (returns sql.ErrTxDone), which lets callers defer it
// unconditionally right after BeginTx.
func (t *Tx) Rollback() error { return t.tx.Rollback() }
