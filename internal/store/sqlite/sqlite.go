// Package sqlite registers the "sqlite" store driver on the pure-Go
// modernc.org/sqlite engine. All access goes through one connection, so
// transactions are serialized by the pool.
package sqlite

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/XSAM/otelsql"
	"github.com/jmoiron/sqlx"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/jensholdgaard/poker-club-bot/internal/clock"
	"github.com/jensholdgaard/poker-club-bot/internal/config"
	"github.com/jensholdgaard/poker-club-bot/internal/store"
	"github.com/jensholdgaard/poker-club-bot/internal/store/sqlstore"
)

//go:embed schema.sql
var schema string

func init() {
	store.Register("sqlite", Open)
}

// Dialect describes SQLite to sqlstore.
var Dialect = sqlstore.Dialect{
	Name:   "sqlite",
	Schema: sqlstore.SplitStatements(schema),
	Retryable: func(err error) bool {
		code, ok := resultCode(err)
		if !ok {
			return false
		}
		switch code & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
		return false
	},
	Conflict: func(err error) bool {
		code, ok := resultCode(err)
		if !ok {
			return false
		}
		switch code {
		case sqlite3.SQLITE_CONSTRAINT, sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
		return false
	},
}

func resultCode(err error) (int, bool) {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return 0, false
	}
	return sqliteErr.Code(), true
}

// DSN builds a modernc connection string for path with the pragmas the
// store relies on.
func DSN(path string) string {
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "busy_timeout(5000)")
	if path != ":memory:" {
		q.Add("_pragma", "journal_mode(WAL)")
	}
	q.Set("_time_format", "sqlite")
	return "file:" + path + "?" + q.Encode()
}

// Connect opens a single-connection SQLite database.
func Connect(ctx context.Context, path string) (*sqlx.DB, error) {
	sqlDB, err := otelsql.Open("sqlite", DSN(path), otelsql.WithAttributes(semconv.DBSystemSqlite))
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database %s: %w", path, err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	db := sqlx.NewDb(sqlDB, "sqlite3")
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging sqlite database %s: %w", path, err)
	}
	return db, nil
}

// Open connects, applies the schema and returns the Store.
func Open(ctx context.Context, cfg config.DatabaseConfig, clk clock.Clock, logger *slog.Logger) (store.Store, error) {
	db, err := Connect(ctx, cfg.Path)
	if err != nil {
		return nil, err
	}
	s := sqlstore.New(db, Dialect, clk, cfg.MaxRetries, logger)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}
