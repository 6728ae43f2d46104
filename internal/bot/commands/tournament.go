package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/jensholdgaard/poker-club-bot/internal/identity"
	"github.com/jensholdgaard/poker-club-bot/internal/store"
	"github.com/jensholdgaard/poker-club-bot/internal/tournament"
)

var medals = map[int]string{1: "🥇", 2: "🥈", 3: "🥉"}

func (h *Handlers) tournamentStart(ctx context.Context, caller *store.Player) (Reply, error) {
	if _, err := h.tournaments.Start(ctx, caller.ID); err != nil {
		return Reply{}, err
	}
	return Reply{
		Content:  "Tournament opened.",
		Announce: fmt.Sprintf("🏆 **%s** opened a tournament! Use /join to play.", caller.Name()),
	}, nil
}

func (h *Handlers) join(ctx context.Context, caller *store.Player) (Reply, error) {
	t, err := h.tournaments.Current(ctx)
	if err != nil {
		return Reply{}, err
	}
	if _, err := h.tournaments.Register(ctx, t.ID, caller.ID); err != nil {
		return Reply{}, err
	}
	return Reply{
		Content:  "You are in. Good luck!",
		Announce: fmt.Sprintf("✅ **%s** joined the tournament.", caller.Name()),
	}, nil
}

func (h *Handlers) eliminate(ctx context.Context, caller *store.Player) (Reply, error) {
	t, err := h.tournaments.Current(ctx)
	if err != nil {
		return Reply{}, err
	}
	res, err := h.tournaments.Eliminate(ctx, t.ID, caller.ID)
	if err != nil {
		return Reply{}, err
	}
	return eliminationReply(res), nil
}

func (h *Handlers) kick(ctx context.Context, target *identity.Identity) (Reply, error) {
	if target == nil {
		return Reply{Content: "Name a player to kick.", Private: true}, nil
	}
	t, err := h.tournaments.Current(ctx)
	if err != nil {
		return Reply{}, err
	}
	res, err := h.tournaments.Kick(ctx, t.ID, target.ExternalID)
	if err != nil {
		return Reply{}, err
	}
	return eliminationReply(res), nil
}

func eliminationReply(res *tournament.Elimination) Reply {
	name := res.Participant.Name()
	if res.Withdrawn {
		return Reply{
			Content:  fmt.Sprintf("%s left the tournament.", name),
			Announce: fmt.Sprintf("🚪 **%s** withdrew before seating. %d players registered.", name, res.Remaining),
		}
	}
	msg := fmt.Sprintf("☠️ **%s** is out in place %d after %s. %d left.",
		name, *res.Participant.Rank, duration(*res.Participant.DurationSeconds), res.Remaining)
	return Reply{Content: fmt.Sprintf("%s finished in place %d.", name, *res.Participant.Rank), Announce: msg}
}

func (h *Handlers) shuffle(ctx context.Context) (Reply, error) {
	t, err := h.tournaments.Current(ctx)
	if err != nil {
		return Reply{}, err
	}
	seating, err := h.tournaments.Shuffle(ctx, t.ID)
	if err != nil {
		return Reply{}, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "🎲 Seats for %d players:\n", seating.TotalPlayers)
	for i, table := range seating.Tables {
		fmt.Fprintf(&b, "**Table %d**\n", i+1)
		for _, p := range table {
			fmt.Fprintf(&b, "%d. %s\n", *p.Position, p.Name())
		}
	}
	return Reply{Content: "Seats assigned.", Announce: b.String()}, nil
}

func (h *Handlers) tournamentBegin(ctx context.Context) (Reply, error) {
	t, err := h.tournaments.Current(ctx)
	if err != nil {
		return Reply{}, err
	}
	if _, err := h.tournaments.BeginPlay(ctx, t.ID); err != nil {
		return Reply{}, err
	}
	return Reply{Content: "Clock started.", Announce: "⏱️ Shuffle up and deal! The tournament has begun."}, nil
}

func (h *Handlers) tournamentEnd(ctx context.Context, caller *store.Player) (Reply, error) {
	t, err := h.tournaments.Current(ctx)
	if err != nil {
		return Reply{}, err
	}
	if _, err := h.tournaments.End(ctx, t.ID, caller.ID); err != nil {
		return Reply{}, err
	}
	d, err := h.tournaments.Get(ctx, t.ID)
	if err != nil {
		return Reply{}, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "🛑 Tournament over after %s.\n", duration(d.DurationSeconds))
	writeWinners(&b, d.Winners)
	return Reply{Content: "Tournament closed.", Announce: b.String()}, nil
}

func (h *Handlers) tournamentSummary(ctx context.Context) (Reply, error) {
	d, err := h.tournaments.Summary(ctx)
	if err != nil {
		return Reply{}, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "🏆 **Tournament** (%s, %d players", d.Status, d.TotalPlayers)
	if d.DurationSeconds > 0 {
		fmt.Fprintf(&b, ", %s", duration(d.DurationSeconds))
	}
	b.WriteString(")\n")
	for _, p := range d.Participants {
		switch {
		case p.Rank != nil:
			fmt.Fprintf(&b, "%s %d. %s\n", medals[*p.Rank], *p.Rank, p.Name())
		case p.Table != nil:
			fmt.Fprintf(&b, "• %s (table %d, seat %d)\n", p.Name(), *p.Table, *p.Position)
		default:
			fmt.Fprintf(&b, "• %s\n", p.Name())
		}
	}
	return Reply{Content: strings.TrimRight(b.String(), "\n")}, nil
}

func writeWinners(b *strings.Builder, winners []tournament.Participant) {
	for _, w := range winners {
		fmt.Fprintf(b, "%s %s\n", medals[*w.Rank], w.Name())
	}
}
