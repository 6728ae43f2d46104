package ledger

import "github.com/jensholdgaard/poker-club-bot/internal/violation"

// Rule violations returned by the Engine.
var (
	ErrAlreadyOpen      = violation.New("already_open", "a game is already running")
	ErrNoOpenGame       = violation.New("no_open_game", "no game is running")
	ErrGameNotOpen      = violation.New("game_not_open", "the game has already ended")
	ErrNegativeChips    = violation.New("negative_chips", "chip count cannot be negative")
	ErrNotMultiple      = violation.New("not_multiple", "chip count is not a multiple of the cash-out step")
	ErrInsufficientBank = violation.New("insufficient_bank", "not enough chips in the bank")
)
