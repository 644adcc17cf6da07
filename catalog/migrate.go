package catalog

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sort"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	pgmigrate "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/apifyhost/apify/dialect"
)

// Postgres catalogs are bootstrapped through golang-migrate. SQLite
// catalogs apply the embedded files directly in lexical order instead,
// since golang-migrate's sqlite3 driver depends on the cgo
// mattn/go-sqlite3 driver, which conflicts with the pure-Go
// modernc.org/sqlite driver this repo standardizes on (dialect.Open
// registers "sqlite" via modernc, not "sqlite3" via mattn).

//go:embed migrations/postgres/*.sql
var postgresMigrations embed.FS

//go:embed migrations/sqlite/*.sql
var sqliteMigrations embed.FS

// Migrate bootstraps the `_meta_*` catalog schema against pool, using
// the driver-appropriate runner.
func Migrate(ctx context.Context, pool *dialect.Pool) error {
	switch pool.Dialect.Driver() {
	case dialect.Postgres:
		return migratePostgres(pool.DB.DB)
	case dialect.SQLite:
		return applyEmbeddedSQL(ctx, pool.DB.DB, sqliteMigrations, "migrations/sqlite")
	default:
		return fmt.Errorf("catalog: unsupported driver %q", pool.Dialect.Driver())
	}
}

func migratePostgres(db *sql.DB) error {
	driver, err := pgmigrate.WithInstance(db, &pgmigrate.Config{})
	if err != nil {
		return fmt.Errorf("catalog: postgres migrate driver: %w", err)
	}
	src, err := iofs.New(postgresMigrations, "migrations/postgres")
	if err != nil {
		return fmt.Errorf("catalog: migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("catalog: migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("catalog: migrate up: %w", err)
	}
	return nil
}

// applyEmbeddedSQL runs every *.sql file under dir in lexical order,
// mirroring system/platform/migrations/migrations.go's Apply: each
// statement uses IF NOT EXISTS guards so re-running is a no-op.
func applyEmbeddedSQL(ctx context.Context, db *sql.DB, files embed.FS, dir string) error {
	entries, err := files.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("catalog: list migrations: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		body, err := files.ReadFile(dir + "/" + name)
		if err != nil {
			return fmt.Errorf("catalog: read migration %s: %w", name, err)
		}
		if _, err := db.ExecContext(ctx, string(body)); err != nil {
			return fmt.Errorf("catalog: apply migration %s: %w", name, err)
		}
	}
	return nil
}
