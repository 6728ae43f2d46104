package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jensholdgaard/poker-club-bot/internal/event"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a write collides with a uniqueness rule.
	ErrConflict = errors.New("conflict")
)

// Player is a person known to the bot, keyed by their chat identity.
type Player struct {
	ID          string    `db:"id" json:"id"`
	ExternalID  string    `db:"external_id" json:"external_id"`
	Username    string    `db:"username" json:"username"`
	DisplayName string    `db:"display_name" json:"display_name"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// Name returns the best human-readable name for the player.
func (p Player) Name() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	if p.Username != "" {
		return p.Username
	}
	return p.ExternalID
}

// Game is one cash game session.
type Game struct {
	ID        string     `db:"id" json:"id"`
	StartTime time.Time  `db:"start_time" json:"start_time"`
	EndTime   *time.Time `db:"end_time" json:"end_time,omitempty"`
}

// Open reports whether the game is still running.
func (g Game) Open() bool { return g.EndTime == nil }

// ActionKind classifies a ledger entry.
type ActionKind string

const (
	ActionStartGame ActionKind = "start_game"
	ActionEndGame   ActionKind = "end_game"
	ActionBuyIn     ActionKind = "buyin"
	ActionQuit      ActionKind = "quit"
)

// PlayerAction is one immutable entry of a game's action log.
type PlayerAction struct {
	ID        string              `db:"id" json:"id"`
	GameID    string              `db:"game_id" json:"game_id"`
	PlayerID  string              `db:"player_id" json:"player_id"`
	Username  string              `db:"username" json:"username"`
	Kind      ActionKind          `db:"kind" json:"kind"`
	Chips     *int64              `db:"chips" json:"chips,omitempty"`
	Amount    decimal.NullDecimal `db:"amount" json:"amount"`
	CreatedAt time.Time           `db:"created_at" json:"timestamp"`
}

// Tournament is one elimination tournament.
type Tournament struct {
	ID         string     `db:"id" json:"id"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	StartTime  *time.Time `db:"start_time" json:"start_time,omitempty"`
	EndTime    *time.Time `db:"end_time" json:"end_time,omitempty"`
	IsShuffled bool       `db:"is_shuffled" json:"is_shuffled"`
	CreatedBy  *string    `db:"created_by" json:"created_by,omitempty"`
	EndedBy    *string    `db:"ended_by" json:"ended_by,omitempty"`
}

// Seated reports whether seats have been assigned.
func (t Tournament) Seated() bool { return t.IsShuffled }

// Started reports whether the tournament clock is running.
func (t Tournament) Started() bool { return t.StartTime != nil }

// Ended reports whether the tournament is closed.
func (t Tournament) Ended() bool { return t.EndTime != nil }

// Membership is a player's single participation record in one tournament.
type Membership struct {
	ID              string     `db:"id" json:"id"`
	TournamentID    string     `db:"tournament_id" json:"tournament_id"`
	PlayerID        string     `db:"player_id" json:"player_id"`
	Rank            *int       `db:"rank" json:"rank,omitempty"`
	TableNumber     *int       `db:"table_number" json:"table_number,omitempty"`
	PositionNumber  *int       `db:"position_number" json:"position_number,omitempty"`
	DurationSeconds *int64     `db:"duration_seconds" json:"duration_seconds,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"joined_at"`
	EndedAt         *time.Time `db:"ended_at" json:"ended_at,omitempty"`
}

// Eliminated reports whether the member has been ranked out.
func (m Membership) Eliminated() bool { return m.Rank != nil }

// MembershipView is a Membership joined with the player's names.
type MembershipView struct {
	Membership
	Username    string `db:"username" json:"username"`
	DisplayName string `db:"display_name" json:"display_name"`
}

// PlayerRepository defines player persistence operations.
type PlayerRepository interface {
	Create(ctx context.Context, p *Player) error
	GetByID(ctx context.Context, id string) (*Player, error)
	GetByExternalID(ctx context.Context, externalID string) (*Player, error)
	UpdateNames(ctx context.Context, id, username, displayName string) error
	// ListWithActions returns players that have at least one buy-in or
	// cash-out, ordered by username.
	ListWithActions(ctx context.Context) ([]Player, error)
}

// GameRepository defines game persistence operations.
type GameRepository interface {
	Create(ctx context.Context, g *Game) error
	GetByID(ctx context.Context, id string) (*Game, error)
	// FindOpen returns the game without an end time, or ErrNotFound.
	FindOpen(ctx context.Context) (*Game, error)
	// Close sets the end time of an open game. It returns ErrNotFound if
	// no open game has that id.
	Close(ctx context.Context, id string, at time.Time) error
	// ListRecent returns the newest n games, newest first.
	ListRecent(ctx context.Context, n int) ([]Game, error)
}

// ActionRepository is the append-only action log. It has no update or
// delete operations.
type ActionRepository interface {
	Append(ctx context.Context, a *PlayerAction) error
	// ListByGame returns a game's actions in the order they were written.
	ListByGame(ctx context.Context, gameID string) ([]PlayerAction, error)
	// ListByPlayer returns a player's actions of the given kinds in the
	// order they were written.
	ListByPlayer(ctx context.Context, playerID string, kinds ...ActionKind) ([]PlayerAction, error)
	// ChipTotals sums buy-in and cash-out chips for a game.
	ChipTotals(ctx context.Context, gameID string) (buyIn, quit int64, err error)
	// ListRecent returns the newest n actions across all games, newest first.
	ListRecent(ctx context.Context, n int) ([]PlayerAction, error)
}

// TournamentRepository defines tournament persistence operations.
type TournamentRepository interface {
	Create(ctx context.Context, t *Tournament) error
	GetByID(ctx context.Context, id string) (*Tournament, error)
	// FindOpen returns the tournament without an end time, or ErrNotFound.
	FindOpen(ctx context.Context) (*Tournament, error)
	// FindLatest returns the most recently created tournament, or ErrNotFound.
	FindLatest(ctx context.Context) (*Tournament, error)
	// List returns all tournaments, newest first.
	List(ctx context.Context) ([]Tournament, error)
	// Update writes the mutable lifecycle columns.
	Update(ctx context.Context, t *Tournament) error
}

// MembershipRepository defines tournament membership persistence operations.
type MembershipRepository interface {
	// Create inserts a membership. It returns ErrConflict if the player
	// already has one in the tournament.
	Create(ctx context.Context, m *Membership) error
	Get(ctx context.Context, tournamentID, playerID string) (*Membership, error)
	Delete(ctx context.Context, id string) error
	// Counts returns the number of members and how many of them are ranked.
	Counts(ctx context.Context, tournamentID string) (total, eliminated int, err error)
	// List returns every member of a tournament in join order.
	List(ctx context.Context, tournamentID string) ([]MembershipView, error)
	// ListActive returns unranked members in join order.
	ListActive(ctx context.Context, tournamentID string) ([]MembershipView, error)
	// Eliminate ranks an unranked member. It returns ErrConflict if the
	// member is already ranked.
	Eliminate(ctx context.Context, id string, rank int, durationSeconds int64, at time.Time) error
	AssignSeat(ctx context.Context, id string, table, position int) error
}

// Repositories groups the repositories bound to one connection or transaction.
type Repositories struct {
	Players     PlayerRepository
	Games       GameRepository
	Actions     ActionRepository
	Tournaments TournamentRepository
	Memberships MembershipRepository
	Events      event.Store
}
