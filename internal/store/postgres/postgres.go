// Package postgres registers the "postgres" store driver: lib/pq wrapped
// with otelsql, serializable transactions, and retries on serialization
// failures.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/XSAM/otelsql"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/jensholdgaard/poker-club-bot/internal/clock"
	"github.com/jensholdgaard/poker-club-bot/internal/config"
	"github.com/jensholdgaard/poker-club-bot/internal/store"
	"github.com/jensholdgaard/poker-club-bot/internal/store/sqlstore"
)

//go:embed schema.sql
var schema string

// SQLSTATE codes.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeUniqueViolation      = "23505"
)

func init() {
	store.Register("postgres", Open)
}

// Dialect describes Postgres to sqlstore.
var Dialect = sqlstore.Dialect{
	Name:      "postgres",
	Schema:    sqlstore.SplitStatements(schema),
	TxOptions: &sql.TxOptions{Isolation: sql.LevelSerializable},
	Retryable: func(err error) bool {
		code, ok := sqlState(err)
		return ok && (code == codeSerializationFailure || code == codeDeadlockDetected)
	},
	Conflict: func(err error) bool {
		code, ok := sqlState(err)
		return ok && code == codeUniqueViolation
	},
}

func sqlState(err error) (string, bool) {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return "", false
	}
	return string(pqErr.Code), true
}

// Connect opens and verifies a Postgres connection with OTEL instrumentation.
func Connect(ctx context.Context, dsn string) (*sqlx.DB, error) {
	sqlDB, err := otelsql.Open("postgres", dsn, otelsql.WithAttributes(semconv.DBSystemPostgreSQL))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// sqlx picks the bindvar style from this name.
	db := sqlx.NewDb(sqlDB, "postgres")
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return db, nil
}

// Open connects, applies the schema and returns the Store.
func Open(ctx context.Context, cfg config.DatabaseConfig, clk clock.Clock, logger *slog.Logger) (store.Store, error) {
	db, err := Connect(ctx, cfg.DSN())
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
