// Package stats derives player statistics from the action log. Nothing here
// writes; every figure is recomputed from the log on request.
package stats

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/poker-club-bot/internal/config"
	"github.com/jensholdgaard/poker-club-bot/internal/store"
)

var hundred = decimal.NewFromInt(100)

// Lifetime holds a player's aggregates across all games.
type Lifetime struct {
	PlayerID    string          `json:"player_id"`
	GamesPlayed int             `json:"games_played"`
	BuyIns      int             `json:"buyins"`
	TotalBuyIn  decimal.Decimal `json:"total_buyin"`
	TotalQuit   decimal.Decimal `json:"total_quit"`
	// AvgBuyInsPerGame is rounded to two decimals.
	AvgBuyInsPerGame decimal.Decimal `json:"avg_buyins_per_game"`
	Profit           decimal.Decimal `json:"profit"`
	// ROIPercent is rounded to one decimal.
	ROIPercent decimal.Decimal `json:"roi_percent"`
}

// DailyROI is the cumulative ROI as of the last action on Date.
type DailyROI struct {
	Date       string          `json:"date"`
	ROIPercent decimal.Decimal `json:"roi_percent"`
}

// ComputeLifetime folds a player's actions. Every game the player has an
// action in counts as played; only buy-ins and cash-outs move money.
func ComputeLifetime(playerID string, actions []store.PlayerAction) Lifetime {
	l := Lifetime{PlayerID: playerID}
	games := make(map[string]struct{})

	for _, a := range actions {
		games[a.GameID] = struct{}{}
		switch a.Kind {
		case store.ActionBuyIn:
			l.BuyIns++
			l.TotalBuyIn = l.TotalBuyIn.Add(amountOf(a))
		case store.ActionQuit:
			l.TotalQuit = l.TotalQuit.Add(amountOf(a))
		}
	}

	l.GamesPlayed = len(games)
	l.Profit = l.TotalQuit.Sub(l.TotalBuyIn)
	l.ROIPercent = roi(l.TotalBuyIn, l.TotalQuit)
	if l.GamesPlayed > 0 {
		l.AvgBuyInsPerGame = decimal.NewFromInt(int64(l.BuyIns)).
			Div(decimal.NewFromInt(int64(l.GamesPlayed))).
			Round(2)
	}
	return l
}

// ComputeDailyROI replays actions in time order, keeping running buy-in and
// cash-out sums, and records the ROI after each action under its calendar
// date in loc. Later actions on a date overwrite earlier ones, so each date
// carries the ROI as of its last action. The input slice is not modified.
func ComputeDailyROI(actions []store.PlayerAction, loc *time.Location) []DailyROI {
	sorted := make([]store.PlayerAction, len(actions))
	copy(sorted, actions)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})

	history := []DailyROI{}
	var cumBuyIn, cumQuit decimal.Decimal
	for _, a := range sorted {
		switch a.Kind {
		case store.ActionBuyIn:
			cumBuyIn = cumBuyIn.Add(amountOf(a))
		case store.ActionQuit:
			cumQuit = cumQuit.Add(amountOf(a))
		default:
			continue
		}

		entry := DailyROI{
			Date:       a.CreatedAt.In(loc).Format(time.DateOnly),
			ROIPercent: roi(cumBuyIn, cumQuit),
		}
		if n := len(history); n > 0 && history[n-1].Date == entry.Date {
			history[n-1] = entry
		} else {
			history = append(history, entry)
		}
	}
	return history
}

func roi(buyIn, quit decimal.Decimal) decimal.Decimal {
	if !buyIn.IsPositive() {
		return decimal.Zero
	}
	return quit.Sub(buyIn).Mul(hundred).Div(buyIn).Round(1)
}

func amountOf(a store.PlayerAction) decimal.Decimal {
	if !a.Amount.Valid {
		return decimal.Zero
	}
	return a.Amount.Decimal
}

// Engine serves statistics queries.
type Engine struct {
	store  store.Store
	loc    *time.Location
	logger *slog.Logger
	tracer trace.Tracer
}

// NewEngine returns a stats Engine that buckets days in cfg's timezone.
func NewEngine(s store.Store, cfg config.GameConfig, logger *slog.Logger, tp trace.TracerProvider) (*Engine, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", cfg.Timezone, err)
	}
	return &Engine{
		store:  s,
		loc:    loc,
		logger: logger,
		tracer: tp.Tracer("github.com/jensholdgaard/poker-club-bot/internal/stats"),
	}, nil
}

// LifetimeStats returns the aggregates of playerID across all games.
func (e *Engine) LifetimeStats(ctx context.Context, playerID string) (*Lifetime, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.LifetimeStats",
		trace.WithAttributes(attribute.String("player_id", playerID)),
	)
	defer span.End()

	actions, err := e.actions(ctx, playerID)
	if err != nil {
		return nil, err
	}
	l := ComputeLifetime(playerID, actions)
	return &l, nil
}

// DailyROIHistory returns the cumulative ROI of playerID per calendar day.
func (e *Engine) DailyROIHistory(ctx context.Context, playerID string) ([]DailyROI, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.DailyROIHistory",
		trace.WithAttributes(attribute.String("player_id", playerID)),
	)
	defer span.End()

	actions, err := e.PlayerActions(ctx, playerID)
	if err != nil {
		return nil, err
	}
	return ComputeDailyROI(actions, e.loc), nil
}

// PlayerActions returns the buy-ins and cash-outs of playerID, oldest first.
// It returns store.ErrNotFound for unknown players.
func (e *Engine) PlayerActions(ctx context.Context, playerID string) ([]store.PlayerAction, error) {
	return e.actions(ctx, playerID, store.ActionBuyIn, store.ActionQuit)
}

// actions lists the actions of playerID of the given kinds, or all of them
// when kinds is empty.
func (e *Engine) actions(ctx context.Context, playerID string, kinds ...store.ActionKind) ([]store.PlayerAction, error) {
	repos := e.store.Repos()
	if _, err := repos.Players.GetByID(ctx, playerID); err != nil {
		return nil, err
	}
	actions, err := repos.Actions.ListByPlayer(ctx, playerID, kinds...)
	if err != nil {
		e.logger.ErrorContext(ctx, "listing player actions failed",
			slog.String("player_id", playerID),
			slog.Any("error", err),
		)
		return nil, fmt.Errorf("loading actions: %w", err)
	}
	return actions, nil
}

// ListPlayers returns players with at least one buy-in or cash-out.
func (e *Engine) ListPlayers(ctx context.Context) ([]store.Player, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.ListPlayers")
	defer span.End()

	players, err := e.store.Repos().Players.ListWithActions(ctx)
	if err != nil {
		e.logger.ErrorContext(ctx, "listing players failed", slog.Any("error", err))
		return nil, err
	}
	return players, nil
}

// Location returns the timezone days are bucketed in.
func (e *Engine) Location() *time.Location { return e.loc }
