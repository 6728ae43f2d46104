package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jensholdgaard/poker-club-bot/internal/store"
)

// GameRepo implements store.GameRepository with sqlx.
type GameRepo struct{ base }

func (r *GameRepo) Create(ctx context.Context, g *store.Game) error {
	if g.ID == "" {
		g.ID = newID()
	}
	if g.StartTime.IsZero() {
		g.StartTime = r.clk.Now()
	}
	g.StartTime = g.StartTime.UTC()
	if _, err := r.exec(ctx,
		`INSERT INTO games (id, start_time, end_time) VALUES (?, ?, ?)`,
		g.ID, g.StartTime, g.EndTime,
	); err != nil {
		return fmt.Errorf("creating game: %w", r.classify(err))
	}
	return nil
}

func (r *GameRepo) GetByID(ctx context.Context, id string) (*store.Game, error) {
	var g store.Game
	if err := r.get(ctx, &g, `SELECT id, start_time, end_time FROM games WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("getting game %s: %w", id, r.classify(err))
	}
	return &g, nil
}

func (r *GameRepo) FindOpen(ctx context.Context) (*store.Game, error) {
	var g store.Game
	err := r.get(ctx, &g,
		`SELECT id, start_time, end_time FROM games
		 WHERE end_time IS NULL ORDER BY start_time DESC, id DESC LIMIT 1`)
	if err != nil {
		return nil, fmt.Errorf("finding open game: %w", r.classify(err))
	}
	return &g, nil
}

func (r *GameRepo) Close(ctx context.Context, id string, at time.Time) error {
	err := r.execOne(ctx,
		`UPDATE games SET end_time = ? WHERE id = ? AND end_time IS NULL`, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("closing game %s: %w", id, err)
	}
	return nil
}

func (r *GameRepo) ListRecent(ctx context.Context, n int) ([]store.Game, error) {
	games := []store.Game{}
	err := r.selectAll(ctx, &games,
		`SELECT id, start_time, end_time FROM games ORDER BY start_time DESC, id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("listing recent games: %w", err)
	}
	return games, nil
}
