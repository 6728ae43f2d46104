package store

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/jensholdgaard/poker-club-bot/internal/clock"
	"github.com/jensholdgaard/poker-club-bot/internal/config"
)

// Store is an opened database with transactional access to the repositories.
type Store interface {
	// Repos returns repositories bound to the connection pool. Each call
	// runs in its own implicit transaction.
	Repos() Repositories
	// Atomic runs fn inside one transaction. The transaction commits when fn
	// returns nil and rolls back otherwise. Serialization failures are retried
	// up to the configured number of attempts, so fn must be safe to re-run
	// and must only use the repositories it is given.
	Atomic(ctx context.Context, fn func(Repositories) error) error
	// Ping checks the underlying connection health.
	Ping(ctx context.Context) error
	// Close releases the underlying connection.
	Close() error
}

// Driver is a function that opens a connection and returns a migrated Store.
type Driver func(ctx context.Context, cfg config.DatabaseConfig, clk clock.Clock, logger *slog.Logger) (Store, error)

// registry maps driver names to their factory functions.
var registry = map[string]Driver{}

// Register adds a named driver to the global registry.
// It is intended to be called from init() in each driver package.
func Register(name string, d Driver) {
	registry[name] = d
}

// Open selects the driver specified in cfg.Driver and returns a Store.
func Open(ctx context.Context, cfg config.DatabaseConfig, clk clock.Clock, logger *slog.Logger) (Store, error) {
	d, ok := registry[cfg.Driver]
	if !ok {
		return nil, fmt.Errorf("unknown store driver %q (registered: %v)", cfg.Driver, registeredNames())
	}
	return d(ctx, cfg, clk, logger)
}

func registeredNames() []string {
	names := make([]string, 0, len(registry))
	for k := range registry {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
