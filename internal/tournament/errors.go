package tournament

import "github.com/jensholdgaard/poker-club-bot/internal/violation"

// Rule violations returned by the Engine.
var (
	ErrAlreadyActive      = violation.New("already_active", "a tournament is already running")
	ErrNoActiveTournament = violation.New("no_active_tournament", "no tournament is running")
	ErrAlreadyJoined      = violation.New("already_joined", "player has already joined the tournament")
	ErrAlreadyEliminated  = violation.New("already_eliminated", "player has already been eliminated")
	ErrNotJoined          = violation.New("not_joined", "player has not joined the tournament")
	ErrPlayersStillActive = violation.New("players_still_active", "players are still in the tournament")
	ErrNoActivePlayers    = violation.New("no_active_players", "no active players to seat")
	ErrAlreadyShuffled    = violation.New("already_shuffled", "seats have already been assigned")
	ErrNotSeated          = violation.New("not_seated", "seats have not been assigned yet")
	ErrAlreadyStarted     = violation.New("already_started", "the tournament has already started")
)
