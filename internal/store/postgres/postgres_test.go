package postgres_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/jensholdgaard/poker-club-bot/internal/clock"
	"github.com/jensholdgaard/poker-club-bot/internal/config"
	"github.com/jensholdgaard/poker-club-bot/internal/ledger"
	"github.com/jensholdgaard/poker-club-bot/internal/store"
	"github.com/jensholdgaard/poker-club-bot/internal/store/postgres"
	"github.com/jensholdgaard/poker-club-bot/internal/store/sqlstore"
	"github.com/jensholdgaard/poker-club-bot/internal/store/storetest"
)

// startPostgres starts a Postgres container and returns its connection
// string. The container is terminated when the test ends.
func startPostgres(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("pokerbot_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	testcontainers.CleanupContainer(t, ctr)
	if err != nil {
		t.Fatalf("starting postgres container: %v", err)
	}

	connStr, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("getting connection string: %v", err)
	}
	return connStr
}

func TestStore(t *testing.T) {
	connStr := startPostgres(t)
	ctx := context.Background()

	db, err := postgres.Connect(ctx, connStr)
	if err != nil {
		t.Fatalf("connecting: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	storetest.Run(t, func(t *testing.T, clk clock.Clock) store.Store {
		t.Helper()
		// Subtests share the container; start each from empty tables.
		if _, err := db.ExecContext(ctx, `DROP TABLE IF EXISTS
			events, tournament_memberships, tournaments, player_actions, games, players`); err != nil {
			t.Fatalf("dropping tables: %v", err)
		}
		s := sqlstore.New(db, postgres.Dialect, clk, 3, slog.Default())
		if err := s.Migrate(ctx); err != nil {
			t.Fatalf("migrating: %v", err)
		}
		return s
	})
}

// TestLedger_ConcurrentCashOuts races cash-outs through serializable
// transactions. Losers of a serialization conflict are retried until the
// bank check rejects them.
func TestLedger_ConcurrentCashOuts(t *testing.T) {
	connStr := startPostgres(t)
	ctx := context.Background()

	db, err := postgres.Connect(ctx, connStr)
	if err != nil {
		t.Fatalf("connecting: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	const attempts = 20
	s := sqlstore.New(db, postgres.Dialect, clock.Real{}, attempts+5, slog.Default())
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrating: %v", err)
	}
	engine, err := ledger.NewEngine(s, config.Defaults().Game, clock.Real{}, slog.Default(),
		noop.NewTracerProvider(), metricnoop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	host := storetest.MustPlayer(t, s.Repos(), "u-1", "alice")
	g, err := engine.OpenGame(ctx, host.ID)
	if err != nil {
		t.Fatalf("OpenGame: %v", err)
	}
	if _, err := engine.RecordBuyIn(ctx, g.ID, host.ID); err != nil {
		t.Fatalf("RecordBuyIn: %v", err)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		rejected  int
		others    []error
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.RecordCashOut(ctx, g.ID, host.ID, 100)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ledger.ErrInsufficientBank):
				rejected++
			default:
				others = append(others, err)
			}
		}()
	}
	wg.Wait()

	if len(others) > 0 {
		t.Fatalf("unexpected cash-out errors: %v", others)
	}
	if succeeded != 10 || rejected != 10 {
		t.Errorf("succeeded/rejected = %d/%d, want 10/10", succeeded, rejected)
	}
	in, out, err := s.Repos().Actions.ChipTotals(ctx, g.ID)
	if err != nil {
		t.Fatalf("ChipTotals: %v", err)
	}
	if in != 1000 || out != 1000 {
		t.Errorf("chip totals = %d in / %d out, want 1000/1000", in, out)
	}
}

func TestDialect_Schema(t *testing.T) {
	stmts := postgres.Dialect.Schema
	if len(stmts) == 0 {
		t.Fatal("schema has no statements")
	}
	for i, s := range stmts {
		if s == "" {
			t.Errorf("statement %d is empty", i)
		}
	}
}
