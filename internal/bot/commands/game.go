package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/jensholdgaard/poker-club-bot/internal/ledger"
	"github.com/jensholdgaard/poker-club-bot/internal/store"
)

func (h *Handlers) startGame(ctx context.Context, caller *store.Player) (Reply, error) {
	if _, err := h.ledger.OpenGame(ctx, caller.ID); err != nil {
		return Reply{}, err
	}
	return Reply{Content: fmt.Sprintf("🃏 Game started by **%s**. Use /buyin to get chips.", caller.Name())}, nil
}

func (h *Handlers) buyIn(ctx context.Context, caller *store.Player) (Reply, error) {
	g, err := h.ledger.CurrentGame(ctx)
	if err != nil {
		return Reply{}, err
	}
	a, err := h.ledger.RecordBuyIn(ctx, g.ID, caller.ID)
	if err != nil {
		return Reply{}, err
	}
	return Reply{Content: fmt.Sprintf("💰 **%s** bought in: %d chips for %s.",
		caller.Name(), *a.Chips, money(a.Amount.Decimal))}, nil
}

func (h *Handlers) quit(ctx context.Context, caller *store.Player, chips int64) (Reply, error) {
	g, err := h.ledger.CurrentGame(ctx)
	if err != nil {
		return Reply{}, err
	}
	a, err := h.ledger.RecordCashOut(ctx, g.ID, caller.ID, chips)
	if err != nil {
		return Reply{}, err
	}
	return Reply{Content: fmt.Sprintf("🏁 **%s** cashed out %d chips for %s.",
		caller.Name(), *a.Chips, money(a.Amount.Decimal))}, nil
}

func (h *Handlers) endGame(ctx context.Context, caller *store.Player) (Reply, error) {
	g, err := h.ledger.CurrentGame(ctx)
	if err != nil {
		return Reply{}, err
	}
	if _, err := h.ledger.CloseGame(ctx, g.ID, caller.ID); err != nil {
		return Reply{}, err
	}
	s, err := h.ledger.Summarize(ctx, g.ID)
	if err != nil {
		return Reply{}, err
	}
	return Reply{Content: "🛑 Game over.\n" + formatTotals(s.Totals)}, nil
}

func (h *Handlers) summary(ctx context.Context) (Reply, error) {
	g, err := h.ledger.CurrentGame(ctx)
	if err != nil {
		return Reply{}, err
	}
	s, err := h.ledger.Summarize(ctx, g.ID)
	if err != nil {
		return Reply{}, err
	}
	return Reply{Content: fmt.Sprintf("**Game started %s**\n%s",
		s.Game.StartTime.In(h.stats.Location()).Format("Jan 2 15:04"), formatTotals(s.Totals))}, nil
}

func (h *Handlers) history(ctx context.Context) (Reply, error) {
	rs, err := h.ledger.SummarizeRecent(ctx, 0)
	if err != nil {
		return Reply{}, err
	}
	if len(rs.Games) == 0 {
		return Reply{Content: "No games played yet."}, nil
	}
	return Reply{Content: fmt.Sprintf("**Last %d games**\n%s", len(rs.Games), formatTotals(rs.Totals))}, nil
}

func (h *Handlers) log(ctx context.Context) (Reply, error) {
	actions, err := h.ledger.RecentActions(ctx, 0)
	if err != nil {
		return Reply{}, err
	}
	if len(actions) == 0 {
		return Reply{Content: "Nothing has happened yet."}, nil
	}
	var b strings.Builder
	b.WriteString("**Recent actions**\n")
	for _, a := range actions {
		fmt.Fprintf(&b, "`%s` %s %s\n",
			a.CreatedAt.In(h.stats.Location()).Format("Jan 02 15:04"), a.Username, describe(a))
	}
	return Reply{Content: b.String()}, nil
}

func (h *Handlers) playerStats(ctx context.Context, caller *store.Player) (Reply, error) {
	l, err := h.stats.LifetimeStats(ctx, caller.ID)
	if err != nil {
		return Reply{}, err
	}
	if l.GamesPlayed == 0 {
		return Reply{Content: "You have not played any games yet.", Private: true}, nil
	}
	return Reply{Content: fmt.Sprintf(
		"📊 **%s**\nGames: %d\nBuy-ins: %d (%s per game)\nIn: %s\nOut: %s\nProfit: %s\nROI: %s%%",
		caller.Name(), l.GamesPlayed, l.BuyIns, l.AvgBuyInsPerGame.StringFixed(2),
		money(l.TotalBuyIn), money(l.TotalQuit), signed(l.Profit), l.ROIPercent.StringFixed(1),
	)}, nil
}

func describe(a store.PlayerAction) string {
	switch a.Kind {
	case store.ActionStartGame:
		return "started a game"
	case store.ActionEndGame:
		return "ended the game"
	case store.ActionBuyIn:
		return fmt.Sprintf("bought in for %s", money(a.Amount.Decimal))
	case store.ActionQuit:
		return fmt.Sprintf("cashed out %d chips for %s", *a.Chips, money(a.Amount.Decimal))
	default:
		return string(a.Kind)
	}
}

func formatTotals(t ledger.Totals) string {
	var b strings.Builder
	if len(t.Players) == 0 {
		b.WriteString("No buy-ins yet.\n")
	}
	for _, p := range t.Players {
		fmt.Fprintf(&b, "• %s: %d× in, %s out → %s\n",
			p.Username, p.BuyIns, money(p.QuitTotal), signed(p.Balance))
	}
	fmt.Fprintf(&b, "Bank: %d chips (%s)", t.BankChips, money(t.BankTotal))
	return b.String()
}
