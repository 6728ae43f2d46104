package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jensholdgaard/poker-club-bot/internal/store"
)

const membershipColumns = `id, tournament_id, player_id, rank, table_number, position_number,
	duration_seconds, created_at, ended_at`

const membershipViewQuery = `SELECT m.id, m.tournament_id, m.player_id, m.rank, m.table_number,
	m.position_number, m.duration_seconds, m.created_at, m.ended_at,
	p.username, p.display_name
	FROM tournament_memberships m
	JOIN players p ON p.id = m.player_id
	WHERE m.tournament_id = ?`

// MembershipRepo implements store.MembershipRepository with sqlx.
type MembershipRepo struct{ base }

func (r *MembershipRepo) Create(ctx context.Context, m *store.Membership) error {
	if m.ID == "" {
		m.ID = newID()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = r.clk.Now()
	}
	m.CreatedAt = m.CreatedAt.UTC()
	_, err := r.exec(ctx,
		`INSERT INTO tournament_memberships (`+membershipColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.TournamentID, m.PlayerID, m.Rank, m.TableNumber, m.PositionNumber,
		m.DurationSeconds, m.CreatedAt, utcPtr(m.EndedAt),
	)
	if err != nil {
		return fmt.Errorf("adding player %s to tournament %s: %w", m.PlayerID, m.TournamentID, r.classify(err))
	}
	return nil
}

func (r *MembershipRepo) Get(ctx context.Context, tournamentID, playerID string) (*store.Membership, error) {
	var m store.Membership
	err := r.get(ctx, &m,
		`SELECT `+membershipColumns+` FROM tournament_memberships
		 WHERE tournament_id = ? AND player_id = ?`, tournamentID, playerID)
	if err != nil {
		return nil, fmt.Errorf("getting membership of player %s: %w", playerID, r.classify(err))
	}
	return &m, nil
}

func (r *MembershipRepo) Delete(ctx context.Context, id string) error {
	if err := r.execOne(ctx, `DELETE FROM tournament_memberships WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting membership %s: %w", id, err)
	}
	return nil
}

func (r *MembershipRepo) Counts(ctx context.Context, tournamentID string) (total, eliminated int, err error) {
	var row struct {
		Total      int `db:"total"`
		Eliminated int `db:"eliminated"`
	}
	err = r.get(ctx, &row,
		`SELECT COUNT(*) AS total, COUNT(rank) AS eliminated
		 FROM tournament_memberships WHERE tournament_id = ?`, tournamentID)
	if err != nil {
		return 0, 0, fmt.Errorf("counting members of tournament %s: %w", tournamentID, err)
	}
	return row.Total, row.Eliminated, nil
}

func (r *MembershipRepo) List(ctx context.Context, tournamentID string) ([]store.MembershipView, error) {
	views := []store.MembershipView{}
	err := r.selectAll(ctx, &views, membershipViewQuery+` ORDER BY m.created_at, m.id`, tournamentID)
	if err != nil {
		return nil, fmt.Errorf("listing members of tournament %s: %w", tournamentID, err)
	}
	return views, nil
}

func (r *MembershipRepo) ListActive(ctx context.Context, tournamentID string) ([]store.MembershipView, error) {
	views := []store.MembershipView{}
	err := r.selectAll(ctx, &views,
		membershipViewQuery+` AND m.rank IS NULL ORDER BY m.created_at, m.id`, tournamentID)
	if err != nil {
		return nil, fmt.Errorf("listing active members of tournament %s: %w", tournamentID, err)
	}
	return views, nil
}

func (r *MembershipRepo) Eliminate(ctx context.Context, id string, rank int, durationSeconds int64, at time.Time) error {
	err := r.execOne(ctx,
		`UPDATE tournament_memberships SET rank = ?, duration_seconds = ?, ended_at = ?
		 WHERE id = ? AND rank IS NULL`,
		rank, durationSeconds, at.UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("eliminating membership %s: %w", id, r.classify(err))
	}
	return nil
}

func (r *MembershipRepo) AssignSeat(ctx context.Context, id string, table, position int) error {
	err := r.execOne(ctx,
		`UPDATE tournament_memberships SET table_number = ?, position_number = ? WHERE id = ?`,
		table, position, id,
	)
	if err != nil {
		return fmt.Errorf("seating membership %s: %w", id, err)
	}
	return nil
}
