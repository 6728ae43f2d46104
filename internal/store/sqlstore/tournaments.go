package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jensholdgaard/poker-club-bot/internal/store"
)

const tournamentColumns = `id, created_at, start_time, end_time, is_shuffled, created_by, ended_by`

// TournamentRepo implements store.TournamentRepository with sqlx.
type TournamentRepo struct{ base }

func (r *TournamentRepo) Create(ctx context.Context, t *store.Tournament) error {
	if t.ID == "" {
		t.ID = newID()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = r.clk.Now()
	}
	t.CreatedAt = t.CreatedAt.UTC()
	_, err := r.exec(ctx,
		`INSERT INTO tournaments (`+tournamentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.CreatedAt, utcPtr(t.StartTime), utcPtr(t.EndTime), t.IsShuffled, t.CreatedBy, t.EndedBy,
	)
	if err != nil {
		return fmt.Errorf("creating tournament: %w", r.classify(err))
	}
	return nil
}

func (r *TournamentRepo) GetByID(ctx context.Context, id string) (*store.Tournament, error) {
	var t store.Tournament
	if err := r.get(ctx, &t, `SELECT `+tournamentColumns+` FROM tournaments WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("getting tournament %s: %w", id, r.classify(err))
	}
	return &t, nil
}

func (r *TournamentRepo) FindOpen(ctx context.Context) (*store.Tournament, error) {
	var t store.Tournament
	err := r.get(ctx, &t,
		`SELECT `+tournamentColumns+` FROM tournaments
		 WHERE end_time IS NULL ORDER BY created_at DESC, id DESC LIMIT 1`)
	if err != nil {
		return nil, fmt.Errorf("finding open tournament: %w", r.classify(err))
	}
	return &t, nil
}

func (r *TournamentRepo) FindLatest(ctx context.Context) (*store.Tournament, error) {
	var t store.Tournament
	err := r.get(ctx, &t,
		`SELECT `+tournamentColumns+` FROM tournaments ORDER BY created_at DESC, id DESC LIMIT 1`)
	if err != nil {
		return nil, fmt.Errorf("finding latest tournament: %w", r.classify(err))
	}
	return &t, nil
}

func (r *TournamentRepo) List(ctx context.Context) ([]store.Tournament, error) {
	ts := []store.Tournament{}
	err := r.selectAll(ctx, &ts,
		`SELECT `+tournamentColumns+` FROM tournaments ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing tournaments: %w", err)
	}
	return ts, nil
}

func (r *TournamentRepo) Update(ctx context.Context, t *store.Tournament) error {
	err := r.execOne(ctx,
		`UPDATE tournaments SET start_time = ?, end_time = ?, is_shuffled = ?, ended_by = ? WHERE id = ?`,
		utcPtr(t.StartTime), utcPtr(t.EndTime), t.IsShuffled, t.EndedBy, t.ID,
	)
	if err != nil {
		return fmt.Errorf("updating tournament %s: %w", t.ID, err)
	}
	return nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
