// Package identity maps chat identities onto stored players.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/poker-club-bot/internal/store"
)

// ErrEmptyExternalID is returned when an identity carries no external id.
var ErrEmptyExternalID = errors.New("identity has no external id")

// Identity is what the chat layer knows about the caller.
type Identity struct {
	ExternalID  string
	Username    string
	DisplayName string
}

// Resolver gets or creates players by external id.
type Resolver struct {
	store  store.Store
	logger *slog.Logger
	tracer trace.Tracer
}

// NewResolver returns a Resolver backed by s.
func NewResolver(s store.Store, logger *slog.Logger, tp trace.TracerProvider) *Resolver {
	return &Resolver{
		store:  s,
		logger: logger,
		tracer: tp.Tracer("github.com/jensholdgaard/poker-club-bot/internal/identity"),
	}
}

// Resolve returns the player for id, creating it on first sight. Non-empty
// names that differ from the stored ones replace them.
func (r *Resolver) Resolve(ctx context.Context, id Identity) (*store.Player, error) {
	ctx, span := r.tracer.Start(ctx, "Resolver.Resolve",
		trace.WithAttributes(attribute.String("external_id", id.ExternalID)),
	)
	defer span.End()

	if id.ExternalID == "" {
		return nil, ErrEmptyExternalID
	}

	var (
		player  *store.Player
		created bool
	)
	err := r.store.Atomic(ctx, func(repos store.Repositories) error {
		created = false
		p, err := repos.Players.GetByExternalID(ctx, id.ExternalID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			p = &store.Player{ExternalID: id.ExternalID, Username: id.Username, DisplayName: id.DisplayName}
			if err := repos.Players.Create(ctx, p); err != nil {
				return err
			}
			created = true
		case err != nil:
			return err
		default:
			if refresh(p, id) {
				if err := repos.Players.UpdateNames(ctx, p.ID, p.Username, p.DisplayName); err != nil {
					return err
				}
			}
		}
		player = p
		return nil
	})
	if errors.Is(err, store.ErrConflict) {
		// Another request created the player first.
		return r.Lookup(ctx, id.ExternalID)
	}
	if err != nil {
		return nil, fmt.Errorf("resolving player %s: %w", id.ExternalID, err)
	}

	if created {
		r.logger.InfoContext(ctx, "player created",
			slog.String("player_id", player.ID),
			slog.String("external_id", player.ExternalID),
			slog.String("username", player.Username),
		)
	}
	return player, nil
}

// Lookup returns the player for externalID without creating one. It returns
// store.ErrNotFound for unknown ids.
func (r *Resolver) Lookup(ctx context.Context, externalID string) (*store.Player, error) {
	ctx, span := r.tracer.Start(ctx, "Resolver.Lookup",
		trace.WithAttributes(attribute.String("external_id", externalID)),
	)
	defer span.End()

	p, err := r.store.Repos().Players.GetByExternalID(ctx, externalID)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func refresh(p *store.Player, id Identity) bool {
	changed := false
	if id.Username != "" && id.Username != p.Username {
		p.Username = id.Username
		changed = true
	}
	if id.DisplayName != "" && id.DisplayName != p.DisplayName {
		p.DisplayName = id.DisplayName
		changed = true
	}
	return changed
}
