package sqlite_test

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/jensholdgaard/poker-club-bot/internal/clock"
	"github.com/jensholdgaard/poker-club-bot/internal/config"
	"github.com/jensholdgaard/poker-club-bot/internal/store"
	"github.com/jensholdgaard/poker-club-bot/internal/store/sqlite"
	"github.com/jensholdgaard/poker-club-bot/internal/store/storetest"
)

func openMemory(t *testing.T, clk clock.Clock) store.Store {
	t.Helper()
	cfg := config.DatabaseConfig{Driver: "sqlite", Path: ":memory:", MaxRetries: 3}
	s, err := sqlite.Open(context.Background(), cfg, clk, slog.Default())
	if err != nil {
		t.Fatalf("opening sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore(t *testing.T) {
	storetest.Run(t, openMemory)
}

func TestOpen_File(t *testing.T) {
	path := t.TempDir() + "/poker.db"
	cfg := config.DatabaseConfig{Driver: "sqlite", Path: path, MaxRetries: 1}
	ctx := context.Background()

	s, err := store.Open(ctx, cfg, clock.Real{}, slog.Default())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	storetest.MustPlayer(t, s.Repos(), "u-1", "alice")
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Reopening re-applies the schema without touching existing rows.
	s, err = store.Open(ctx, cfg, clock.Real{}, slog.Default())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	if _, err := s.Repos().Players.GetByExternalID(ctx, "u-1"); err != nil {
		t.Errorf("player lost across reopen: %v", err)
	}
	if err := s.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestDSN(t *testing.T) {
	tests := []struct {
		path    string
		wantWAL bool
	}{
		{path: ":memory:", wantWAL: false},
		{path: "/var/lib/pokerbot/poker.db", wantWAL: true},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			dsn := sqlite.DSN(tt.path)
			if !strings.HasPrefix(dsn, "file:"+tt.path+"?") {
				t.Errorf("DSN = %q, want file:%s? prefix", dsn, tt.path)
			}
			if got := strings.Contains(dsn, "journal_mode"); got != tt.wantWAL {
				t.Errorf("WAL pragma present = %v, want %v", got, tt.wantWAL)
			}
			if !strings.Contains(dsn, "foreign_keys") {
				t.Errorf("DSN %q missing foreign_keys pragma", dsn)
			}
		})
	}
}
