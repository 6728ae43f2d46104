package sqlstore

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jensholdgaard/poker-club-bot/internal/store"
)

const actionColumns = `id, game_id, player_id, username, kind, chips, amount, created_at`

// ActionRepo implements store.ActionRepository with sqlx.
type ActionRepo struct{ base }

func (r *ActionRepo) Append(ctx context.Context, a *store.PlayerAction) error {
	if a.ID == "" {
		a.ID = newID()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = r.clk.Now()
	}
	a.CreatedAt = a.CreatedAt.UTC()
	_, err := r.exec(ctx,
		`INSERT INTO player_actions (`+actionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.GameID, a.PlayerID, a.Username, a.Kind, a.Chips, a.Amount, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("appending %s action to game %s: %w", a.Kind, a.GameID, r.classify(err))
	}
	return nil
}

func (r *ActionRepo) ListByGame(ctx context.Context, gameID string) ([]store.PlayerAction, error) {
	actions := []store.PlayerAction{}
	err := r.selectAll(ctx, &actions,
		`SELECT `+actionColumns+` FROM player_actions WHERE game_id = ? ORDER BY created_at, id`, gameID)
	if err != nil {
		return nil, fmt.Errorf("listing actions of game %s: %w", gameID, err)
	}
	return actions, nil
}

func (r *ActionRepo) ListByPlayer(ctx context.Context, playerID string, kinds ...store.ActionKind) ([]store.PlayerAction, error) {
	query := `SELECT ` + actionColumns + ` FROM player_actions WHERE player_id = ?`
	args := []any{playerID}
	if len(kinds) > 0 {
		var err error
		query, args, err = sqlx.In(query+` AND kind IN (?)`, playerID, kinds)
		if err != nil {
			return nil, fmt.Errorf("expanding kinds: %w", err)
		}
	}
	actions := []store.PlayerAction{}
	if err := r.selectAll(ctx, &actions, query+` ORDER BY created_at, id`, args...); err != nil {
		return nil, fmt.Errorf("listing actions of player %s: %w", playerID, err)
	}
	return actions, nil
}

func (r *ActionRepo) ChipTotals(ctx context.Context, gameID string) (buyIn, quit int64, err error) {
	var row struct {
		BuyIn int64 `db:"buy_in"`
		Quit  int64 `db:"quit"`
	}
	err = r.get(ctx, &row,
		`SELECT
		   COALESCE(SUM(CASE WHEN kind = ? THEN chips ELSE 0 END), 0) AS buy_in,
		   COALESCE(SUM(CASE WHEN kind = ? THEN chips ELSE 0 END), 0) AS quit
		 FROM player_actions WHERE game_id = ?`,
		store.ActionBuyIn, store.ActionQuit, gameID,
	)
	if err != nil {
		return 0, 0, fmt.Errorf("summing chips of game %s: %w", gameID, err)
	}
	return row.BuyIn, row.Quit, nil
}

func (r *ActionRepo) ListRecent(ctx context.Context, n int) ([]store.PlayerAction, error) {
	actions := []store.PlayerAction{}
	err := r.selectAll(ctx, &actions,
		`SELECT `+actionColumns+` FROM player_actions ORDER BY created_at DESC, id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("listing recent actions: %w", err)
	}
	return actions, nil
}
