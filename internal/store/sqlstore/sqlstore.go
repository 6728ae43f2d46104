// Package sqlstore implements the store repositories on top of sqlx. The SQL
// is written once with ? placeholders and rebound per driver, so the same
// repositories serve every dialect registered in the driver packages.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jensholdgaard/poker-club-bot/internal/clock"
	"github.com/jensholdgaard/poker-club-bot/internal/store"
)

// Dialect captures the behavior that differs between database engines.
type Dialect struct {
	Name string
	// Schema holds DDL statements, run in order by Migrate. Each must be
	// idempotent.
	Schema []string
	// TxOptions are passed to every transaction opened by Atomic.
	TxOptions *sql.TxOptions
	// Retryable reports whether a failed transaction may succeed if re-run.
	Retryable func(error) bool
	// Conflict reports whether an error is a uniqueness violation.
	Conflict func(error) bool
}

// Store is a store.Store backed by a sqlx connection pool.
type Store struct {
	db         *sqlx.DB
	dialect    Dialect
	clk        clock.Clock
	maxRetries int
	logger     *slog.Logger
}

// New wraps db. maxRetries below 1 is treated as 1.
func New(db *sqlx.DB, d Dialect, clk clock.Clock, maxRetries int, logger *slog.Logger) *Store {
	if maxRetries < 1 {
		maxRetries = 1
	}
	if d.Retryable == nil {
		d.Retryable = func(error) bool { return false }
	}
	if d.Conflict == nil {
		d.Conflict = func(error) bool { return false }
	}
	return &Store{db: db, dialect: d, clk: clk, maxRetries: maxRetries, logger: logger}
}

// DB returns the underlying connection pool.
func (s *Store) DB() *sqlx.DB { return s.db }

// Migrate applies the dialect schema.
func (s *Store) Migrate(ctx context.Context) error {
	for i, stmt := range s.dialect.Schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("applying %s schema statement %d: %w", s.dialect.Name, i+1, err)
		}
	}
	return nil
}

// Repos returns repositories bound to the pool.
func (s *Store) Repos() store.Repositories {
	return s.bind(s.db)
}

// Atomic implements store.Store.
func (s *Store) Atomic(ctx context.Context, fn func(store.Repositories) error) error {
	var err error
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		err = s.runTx(ctx, fn)
		if err == nil || !s.dialect.Retryable(err) || ctx.Err() != nil {
			return err
		}
		s.logger.DebugContext(ctx, "retrying transaction",
			slog.String("dialect", s.dialect.Name),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
	}
	return fmt.Errorf("transaction failed after %d attempts: %w", s.maxRetries, err)
}

func (s *Store) runTx(ctx context.Context, fn func(store.Repositories) error) error {
	tx, err := s.db.BeginTxx(ctx, s.dialect.TxOptions)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(s.bind(tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) bind(q sqlx.ExtContext) store.Repositories {
	b := base{q: q, d: &s.dialect, clk: s.clk}
	return store.Repositories{
		Players:     &PlayerRepo{b},
		Games:       &GameRepo{b},
		Actions:     &ActionRepo{b},
		Tournaments: &TournamentRepo{b},
		Memberships: &MembershipRepo{b},
		Events:      &EventStore{b},
	}
}

// base is shared by every repository.
type base struct {
	q   sqlx.ExtContext
	d   *Dialect
	clk clock.Clock
}

func (b base) get(ctx context.Context, dest any, query string, args ...any) error {
	return sqlx.GetContext(ctx, b.q, dest, b.q.Rebind(query), args...)
}

func (b base) selectAll(ctx context.Context, dest any, query string, args ...any) error {
	return sqlx.SelectContext(ctx, b.q, dest, b.q.Rebind(query), args...)
}

func (b base) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return b.q.ExecContext(ctx, b.q.Rebind(query), args...)
}

// execOne runs a statement that must touch exactly one row.
func (b base) execOne(ctx context.Context, query string, args ...any) error {
	res, err := b.exec(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading rows affected: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// classify maps driver errors onto the store error classes.
func (b base) classify(err error) error {
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return store.ErrNotFound
	case b.d.Conflict(err):
		return fmt.Errorf("%w: %v", store.ErrConflict, err)
	default:
		return err
	}
}

// newID returns a time-ordered identifier, so ids generated by one process
// sort in creation order.
func newID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// SplitStatements splits a schema script on semicolons, dropping empty
// statements and full-line -- comments.
func SplitStatements(script string) []string {
	var (
		out []string
		cur strings.Builder
	)
	for _, line := range strings.Split(script, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		cur.WriteString(line)
		cur.WriteByte('\n')
	}
	for _, stmt := range strings.Split(cur.String(), ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}
