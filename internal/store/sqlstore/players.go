package sqlstore

import (
	"context"
	"fmt"

	"github.com/jensholdgaard/poker-club-bot/internal/store"
)

const playerColumns = `id, external_id, username, display_name, created_at, updated_at`

// PlayerRepo implements store.PlayerRepository with sqlx.
type PlayerRepo struct{ base }

func (r *PlayerRepo) Create(ctx context.Context, p *store.Player) error {
	now := r.clk.Now().UTC()
	if p.ID == "" {
		p.ID = newID()
	}
	p.CreatedAt = now
	p.UpdatedAt = now
	_, err := r.exec(ctx,
		`INSERT INTO players (`+playerColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.ExternalID, p.Username, p.DisplayName, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating player %s: %w", p.ExternalID, r.classify(err))
	}
	return nil
}

func (r *PlayerRepo) GetByID(ctx context.Context, id string) (*store.Player, error) {
	var p store.Player
	if err := r.get(ctx, &p, `SELECT `+playerColumns+` FROM players WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("getting player %s: %w", id, r.classify(err))
	}
	return &p, nil
}

func (r *PlayerRepo) GetByExternalID(ctx context.Context, externalID string) (*store.Player, error) {
	var p store.Player
	if err := r.get(ctx, &p, `SELECT `+playerColumns+` FROM players WHERE external_id = ?`, externalID); err != nil {
		return nil, fmt.Errorf("getting player by external_id %s: %w", externalID, r.classify(err))
	}
	return &p, nil
}

func (r *PlayerRepo) UpdateNames(ctx context.Context, id, username, displayName string) error {
	err := r.execOne(ctx,
		`UPDATE players SET username = ?, display_name = ?, updated_at = ? WHERE id = ?`,
		username, displayName, r.clk.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("updating names of player %s: %w", id, err)
	}
	return nil
}

func (r *PlayerRepo) ListWithActions(ctx context.Context) ([]store.Player, error) {
	players := []store.Player{}
	err := r.selectAll(ctx, &players,
		`SELECT `+playerColumns+` FROM players p
		 WHERE EXISTS (
		   SELECT 1 FROM player_actions a
		   WHERE a.player_id = p.id AND a.kind IN (?, ?)
		 )
		 ORDER BY username, id`,
		store.ActionBuyIn, store.ActionQuit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing players: %w", err)
	}
	return players, nil
}
