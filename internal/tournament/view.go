package tournament

import (
	"sort"
	"time"

	"github.com/jensholdgaard/poker-club-bot/internal/store"
)

// Tournament statuses.
const (
	StatusPending   = "pending"
	StatusSeated    = "seated"
	StatusRunning   = "running"
	StatusCompleted = "completed"
)

// Participant statuses.
const (
	StatusRegistered = "registered"
	StatusActive     = "active"
	StatusEliminated = "eliminated"
)

// Participant is a member as presented to readers.
type Participant struct {
	PlayerID        string     `json:"player_id"`
	Username        string     `json:"username"`
	DisplayName     string     `json:"display_name"`
	Status          string     `json:"status"`
	Rank            *int       `json:"rank"`
	Table           *int       `json:"table_number"`
	Position        *int       `json:"position_number"`
	DurationSeconds *int64     `json:"duration_seconds"`
	JoinedAt        time.Time  `json:"joined_at"`
	EndedAt         *time.Time `json:"ended_at"`
}

// Name returns the best human-readable name.
func (p Participant) Name() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.Username
}

// Overview describes one tournament.
type Overview struct {
	store.Tournament
	Status          string `json:"status"`
	DurationSeconds int64  `json:"duration_seconds"`
	TotalPlayers    int    `json:"total_players"`
	// Winners are the members ranked 1 to 3, best first.
	Winners []Participant `json:"winners"`
}

// Detail is an Overview with every participant, ranked players first by
// rank, then unranked players by join time.
type Detail struct {
	Overview
	Participants []Participant `json:"participants"`
}

// Seating is the result of a shuffle.
type Seating struct {
	TournamentID string          `json:"tournament_id"`
	Tables       [][]Participant `json:"tables"`
	TotalPlayers int             `json:"total_players"`
}

// Elimination is the result of Eliminate or Kick. A member removed before
// seating is withdrawn rather than ranked.
type Elimination struct {
	Participant Participant `json:"participant"`
	Withdrawn   bool        `json:"withdrawn"`
	// Remaining counts members still unranked afterwards.
	Remaining int `json:"remaining"`
}

func statusOf(t store.Tournament) string {
	switch {
	case t.Ended():
		return StatusCompleted
	case t.Started():
		return StatusRunning
	case t.Seated():
		return StatusSeated
	default:
		return StatusPending
	}
}

func durationOf(t store.Tournament, now time.Time) int64 {
	if !t.Started() {
		return 0
	}
	end := now
	if t.Ended() {
		end = *t.EndTime
	}
	if d := end.Sub(*t.StartTime); d > 0 {
		return int64(d / time.Second)
	}
	return 0
}

func participantOf(t store.Tournament, m store.MembershipView) Participant {
	p := Participant{
		PlayerID:        m.PlayerID,
		Username:        m.Username,
		DisplayName:     m.DisplayName,
		Rank:            m.Rank,
		Table:           m.TableNumber,
		Position:        m.PositionNumber,
		DurationSeconds: m.DurationSeconds,
		JoinedAt:        m.CreatedAt,
		EndedAt:         m.EndedAt,
	}
	switch {
	case m.Eliminated():
		p.Status = StatusEliminated
	case t.Seated():
		p.Status = StatusActive
	default:
		p.Status = StatusRegistered
	}
	return p
}

// sortByRank orders ranked participants by rank, then unranked ones by join
// time.
func sortByRank(ps []Participant) {
	sort.SliceStable(ps, func(i, j int) bool {
		a, b := ps[i], ps[j]
		switch {
		case a.Rank != nil && b.Rank != nil:
			if *a.Rank != *b.Rank {
				return *a.Rank < *b.Rank
			}
		case a.Rank != nil:
			return true
		case b.Rank != nil:
			return false
		}
		return a.JoinedAt.Before(b.JoinedAt)
	})
}

func buildDetail(t store.Tournament, members []store.MembershipView, now time.Time) Detail {
	ps := make([]Participant, 0, len(members))
	for _, m := range members {
		ps = append(ps, participantOf(t, m))
	}
	sortByRank(ps)

	winners := []Participant{}
	for _, p := range ps {
		if p.Rank != nil && *p.Rank <= 3 {
			winners = append(winners, p)
		}
	}
	return Detail{
		Overview: Overview{
			Tournament:      t,
			Status:          statusOf(t),
			DurationSeconds: durationOf(t, now),
			TotalPlayers:    len(members),
			Winners:         winners,
		},
		Participants: ps,
	}
}
