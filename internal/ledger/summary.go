package ledger

import (
	"github.com/shopspring/decimal"

	"github.com/jensholdgaard/poker-club-bot/internal/store"
)

// PlayerLedger is one player's money flow over a set of actions.
type PlayerLedger struct {
	PlayerID   string          `json:"player_id"`
	Username   string          `json:"username"`
	BuyIns     int             `json:"buyins"`
	BuyInChips int64           `json:"buyin_chips"`
	QuitChips  int64           `json:"quit_chips"`
	BuyInTotal decimal.Decimal `json:"buyin_total"`
	QuitTotal  decimal.Decimal `json:"quit_total"`
	// Balance is QuitTotal minus BuyInTotal.
	Balance decimal.Decimal `json:"balance"`
}

// Totals aggregates a set of actions per player.
type Totals struct {
	// Players are ordered by their first buy-in or cash-out.
	Players []PlayerLedger `json:"players"`
	// BankChips is the number of chips not yet cashed out.
	BankChips int64 `json:"bank_chips"`
	// BankTotal is the money value of the bank.
	BankTotal decimal.Decimal `json:"bank_total"`
}

// Summary is the ledger of one game.
type Summary struct {
	Game store.Game `json:"game"`
	Totals
}

// RecentSummary is the ledger of the most recent games, per game and combined.
type RecentSummary struct {
	Games []Summary `json:"games"`
	Totals
}

// Tally folds buy-in and cash-out actions into per-player totals. Other
// action kinds are ignored.
func Tally(actions []store.PlayerAction) Totals {
	t := Totals{Players: []PlayerLedger{}}
	index := make(map[string]int)

	for _, a := range actions {
		if a.Kind != store.ActionBuyIn && a.Kind != store.ActionQuit {
			continue
		}
		i, ok := index[a.PlayerID]
		if !ok {
			i = len(t.Players)
			index[a.PlayerID] = i
			t.Players = append(t.Players, PlayerLedger{PlayerID: a.PlayerID})
		}
		pl := &t.Players[i]
		if a.Username != "" {
			pl.Username = a.Username
		}

		var chips int64
		if a.Chips != nil {
			chips = *a.Chips
		}
		amount := decimal.Zero
		if a.Amount.Valid {
			amount = a.Amount.Decimal
		}

		if a.Kind == store.ActionBuyIn {
			pl.BuyIns++
			pl.BuyInChips += chips
			pl.BuyInTotal = pl.BuyInTotal.Add(amount)
			t.BankChips += chips
			t.BankTotal = t.BankTotal.Add(amount)
		} else {
			pl.QuitChips += chips
			pl.QuitTotal = pl.QuitTotal.Add(amount)
			t.BankChips -= chips
			t.BankTotal = t.BankTotal.Sub(amount)
		}
		pl.Balance = pl.QuitTotal.Sub(pl.BuyInTotal)
	}
	return t
}
