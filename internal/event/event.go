package event

import (
	"encoding/json"
	"time"
)

// Type identifies an event kind.
type Type string

const (
	TournamentStarted  Type = "tournament.started"
	TournamentShuffled Type = "tournament.shuffled"
	TournamentBegan    Type = "tournament.began"
	TournamentEnded    Type = "tournament.ended"

	PlayerJoined     Type = "tournament.player_joined"
	PlayerWithdrew   Type = "tournament.player_withdrew"
	PlayerEliminated Type = "tournament.player_eliminated"
)

// Event represents a single entry of a tournament's audit journal.
type Event struct {
	ID          string          `json:"id" db:"id"`
	AggregateID string          `json:"aggregate_id" db:"aggregate_id"`
	Type        Type            `json:"type" db:"type"`
	Data        json.RawMessage `json:"data" db:"data"`
	Version     int             `json:"version" db:"version"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// TournamentStartedData is the payload for TournamentStarted events.
type TournamentStartedData struct {
	CreatedBy string `json:"created_by"`
}

// TournamentEndedData is the payload for TournamentEnded events.
type TournamentEndedData struct {
	EndedBy string `json:"ended_by"`
	Players int    `json:"players"`
}

// SeatData describes one seat assignment.
type SeatData struct {
	PlayerID string `json:"player_id"`
	Table    int    `json:"table"`
	Position int    `json:"position"`
}

// TournamentShuffledData is the payload for TournamentShuffled events.
type TournamentShuffledData struct {
	Seats []SeatData `json:"seats"`
}

// MembershipData is the payload for PlayerJoined and PlayerWithdrew events.
type MembershipData struct {
	PlayerID string `json:"player_id"`
}

// PlayerEliminatedData is the payload for PlayerEliminated events.
type PlayerEliminatedData struct {
	PlayerID        string `json:"player_id"`
	Rank            int    `json:"rank"`
	DurationSeconds int64  `json:"duration_seconds"`
}
