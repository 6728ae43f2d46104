// Package ledger runs cash games: one open game at a time, fixed-size
// buy-ins, and cash-outs that can never overdraw the bank.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/poker-club-bot/internal/clock"
	"github.com/jensholdgaard/poker-club-bot/internal/config"
	"github.com/jensholdgaard/poker-club-bot/internal/store"
	"github.com/jensholdgaard/poker-club-bot/internal/violation"
)

const instrumentation = "github.com/jensholdgaard/poker-club-bot/internal/ledger"

// Engine validates and records ledger intents. Every validation reads the
// store inside the transaction that writes the result.
type Engine struct {
	store   store.Store
	cfg     config.GameConfig
	clock   clock.Clock
	logger  *slog.Logger
	tracer  trace.Tracer
	actions metric.Int64Counter
}

// NewEngine returns a ledger Engine.
func NewEngine(s store.Store, cfg config.GameConfig, clk clock.Clock, logger *slog.Logger, tp trace.TracerProvider, mp metric.MeterProvider) (*Engine, error) {
	actions, err := mp.Meter(instrumentation).Int64Counter("pokerbot.ledger.actions",
		metric.WithDescription("Ledger actions recorded, by kind."),
	)
	if err != nil {
		return nil, fmt.Errorf("creating ledger actions counter: %w", err)
	}
	return &Engine{
		store:   s,
		cfg:     cfg,
		clock:   clk,
		logger:  logger,
		tracer:  tp.Tracer(instrumentation),
		actions: actions,
	}, nil
}

// OpenGame starts a new game on behalf of playerID.
func (e *Engine) OpenGame(ctx context.Context, playerID string) (*store.Game, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.OpenGame",
		trace.WithAttributes(attribute.String("player_id", playerID)),
	)
	defer span.End()

	var game *store.Game
	err := e.store.Atomic(ctx, func(r store.Repositories) error {
		if open, err := r.Games.FindOpen(ctx); err == nil {
			return fmt.Errorf("%w: started %s", ErrAlreadyOpen, open.StartTime.Format("2006-01-02 15:04"))
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		player, err := r.Players.GetByID(ctx, playerID)
		if err != nil {
			return err
		}

		g := &store.Game{StartTime: e.clock.Now()}
		if err := r.Games.Create(ctx, g); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return ErrAlreadyOpen
			}
			return err
		}
		if _, err := e.append(ctx, r, g.ID, player, store.ActionStartGame, nil, decimal.NullDecimal{}); err != nil {
			return err
		}
		game = g
		return nil
	})
	if err != nil {
		return nil, e.fail(ctx, span, "open game", err)
	}

	e.record(ctx, store.ActionStartGame)
	e.logger.InfoContext(ctx, "game opened",
		slog.String("game_id", game.ID),
		slog.String("player_id", playerID),
	)
	return game, nil
}

// CurrentGame returns the open game.
func (e *Engine) CurrentGame(ctx context.Context) (*store.Game, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.CurrentGame")
	defer span.End()

	g, err := e.store.Repos().Games.FindOpen(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNoOpenGame
	}
	if err != nil {
		return nil, e.fail(ctx, span, "finding current game", err)
	}
	return g, nil
}

// RecordBuyIn appends one fixed-size buy-in for playerID.
func (e *Engine) RecordBuyIn(ctx context.Context, gameID, playerID string) (*store.PlayerAction, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.RecordBuyIn",
		trace.WithAttributes(
			attribute.String("game_id", gameID),
			attribute.String("player_id", playerID),
		),
	)
	defer span.End()

	var action *store.PlayerAction
	err := e.store.Atomic(ctx, func(r store.Repositories) error {
		if err := requireOpen(ctx, r, gameID); err != nil {
			return err
		}
		player, err := r.Players.GetByID(ctx, playerID)
		if err != nil {
			return err
		}
		chips := e.cfg.ChipCount
		action, err = e.append(ctx, r, gameID, player, store.ActionBuyIn, &chips, decimal.NewNullDecimal(e.cfg.ChipValue))
		return err
	})
	if err != nil {
		return nil, e.fail(ctx, span, "recording buy-in", err)
	}

	e.record(ctx, store.ActionBuyIn)
	e.logger.InfoContext(ctx, "buy-in recorded",
		slog.String("game_id", gameID),
		slog.String("player_id", playerID),
		slog.Int64("chips", e.cfg.ChipCount),
	)
	return action, nil
}

// RecordCashOut redeems chips for playerID. The chip count must be a
// non-negative multiple of the cash-out step and must not exceed the bank.
func (e *Engine) RecordCashOut(ctx context.Context, gameID, playerID string, chips int64) (*store.PlayerAction, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.RecordCashOut",
		trace.WithAttributes(
			attribute.String("game_id", gameID),
			attribute.String("player_id", playerID),
			attribute.Int64("chips", chips),
		),
	)
	defer span.End()

	var action *store.PlayerAction
	err := e.store.Atomic(ctx, func(r store.Repositories) error {
		if err := requireOpen(ctx, r, gameID); err != nil {
			return err
		}
		if chips < 0 {
			return ErrNegativeChips
		}
		if step := e.cfg.ChipStep(); chips%step != 0 {
			return fmt.Errorf("%w: use a multiple of %d", ErrNotMultiple, step)
		}
		buyIn, quit, err := r.Actions.ChipTotals(ctx, gameID)
		if err != nil {
			return err
		}
		if bank := buyIn - quit; chips > bank {
			return fmt.Errorf("%w: %d chips left", ErrInsufficientBank, bank)
		}

		player, err := r.Players.GetByID(ctx, playerID)
		if err != nil {
			return err
		}
		action, err = e.append(ctx, r, gameID, player, store.ActionQuit, &chips, decimal.NewNullDecimal(e.CashValue(chips)))
		return err
	})
	if err != nil {
		return nil, e.fail(ctx, span, "recording cash-out", err)
	}

	e.record(ctx, store.ActionQuit)
	e.logger.InfoContext(ctx, "cash-out recorded",
		slog.String("game_id", gameID),
		slog.String("player_id", playerID),
		slog.Int64("chips", chips),
		slog.String("amount", action.Amount.Decimal.String()),
	)
	return action, nil
}

// CashValue converts a chip count into money.
func (e *Engine) CashValue(chips int64) decimal.Decimal {
	return decimal.NewFromInt(chips).Mul(e.cfg.ChipValue).Div(decimal.NewFromInt(e.cfg.ChipCount))
}

// CloseGame ends the game. The bank does not have to be empty.
func (e *Engine) CloseGame(ctx context.Context, gameID, playerID string) (*store.Game, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.CloseGame",
		trace.WithAttributes(
			attribute.String("game_id", gameID),
			attribute.String("player_id", playerID),
		),
	)
	defer span.End()

	var game *store.Game
	err := e.store.Atomic(ctx, func(r store.Repositories) error {
		g, err := r.Games.GetByID(ctx, gameID)
		if err != nil {
			return err
		}
		if !g.Open() {
			return ErrGameNotOpen
		}
		player, err := r.Players.GetByID(ctx, playerID)
		if err != nil {
			return err
		}
		now := e.clock.Now()
		if err := r.Games.Close(ctx, gameID, now); err != nil {
			return err
		}
		if _, err := e.append(ctx, r, gameID, player, store.ActionEndGame, nil, decimal.NullDecimal{}); err != nil {
			return err
		}
		end := now.UTC()
		g.EndTime = &end
		game = g
		return nil
	})
	if err != nil {
		return nil, e.fail(ctx, span, "closing game", err)
	}

	e.record(ctx, store.ActionEndGame)
	e.logger.InfoContext(ctx, "game closed",
		slog.String("game_id", gameID),
		slog.String("player_id", playerID),
	)
	return game, nil
}

// Summarize returns the per-player ledger of one game.
func (e *Engine) Summarize(ctx context.Context, gameID string) (*Summary, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.Summarize",
		trace.WithAttributes(attribute.String("game_id", gameID)),
	)
	defer span.End()

	repos := e.store.Repos()
	g, err := repos.Games.GetByID(ctx, gameID)
	if err != nil {
		return nil, e.fail(ctx, span, "summarizing game", err)
	}
	s, err := e.summarize(ctx, repos, *g)
	if err != nil {
		return nil, e.fail(ctx, span, "summarizing game", err)
	}
	return s, nil
}

// SummarizeRecent returns the ledgers of the n most recent games and their
// combined per-player totals. n <= 0 uses the configured default.
func (e *Engine) SummarizeRecent(ctx context.Context, n int) (*RecentSummary, error) {
	if n <= 0 {
		n = e.cfg.RecentGames
	}
	ctx, span := e.tracer.Start(ctx, "Engine.SummarizeRecent",
		trace.WithAttributes(attribute.Int("n", n)),
	)
	defer span.End()

	repos := e.store.Repos()
	games, err := repos.Games.ListRecent(ctx, n)
	if err != nil {
		return nil, e.fail(ctx, span, "listing recent games", err)
	}

	out := &RecentSummary{Games: make([]Summary, 0, len(games))}
	var all []store.PlayerAction
	for _, g := range games {
		actions, err := repos.Actions.ListByGame(ctx, g.ID)
		if err != nil {
			return nil, e.fail(ctx, span, "summarizing recent games", err)
		}
		out.Games = append(out.Games, Summary{Game: g, Totals: Tally(actions)})
		all = append(all, actions...)
	}
	out.Totals = Tally(all)
	return out, nil
}

// RecentActions returns the newest n actions across all games, newest first.
// n <= 0 uses the configured default.
func (e *Engine) RecentActions(ctx context.Context, n int) ([]store.PlayerAction, error) {
	if n <= 0 {
		n = e.cfg.RecentActions
	}
	ctx, span := e.tracer.Start(ctx, "Engine.RecentActions",
		trace.WithAttributes(attribute.Int("n", n)),
	)
	defer span.End()

	actions, err := e.store.Repos().Actions.ListRecent(ctx, n)
	if err != nil {
		return nil, e.fail(ctx, span, "listing recent actions", err)
	}
	return actions, nil
}

func (e *Engine) summarize(ctx context.Context, r store.Repositories, g store.Game) (*Summary, error) {
	actions, err := r.Actions.ListByGame(ctx, g.ID)
	if err != nil {
		return nil, err
	}
	return &Summary{Game: g, Totals: Tally(actions)}, nil
}

func (e *Engine) append(ctx context.Context, r store.Repositories, gameID string, p *store.Player, kind store.ActionKind, chips *int64, amount decimal.NullDecimal) (*store.PlayerAction, error) {
	a := &store.PlayerAction{
		GameID:    gameID,
		PlayerID:  p.ID,
		Username:  p.Name(),
		Kind:      kind,
		Chips:     chips,
		Amount:    amount,
		CreatedAt: e.clock.Now(),
	}
	if err := r.Actions.Append(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

func (e *Engine) record(ctx context.Context, kind store.ActionKind) {
	e.actions.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(kind))))
}

// fail logs err and returns it. Rule violations are user mistakes and are
// logged at debug level only.
func (e *Engine) fail(ctx context.Context, span trace.Span, op string, err error) error {
	if v, ok := violation.As(err); ok {
		e.logger.DebugContext(ctx, "ledger rule violated",
			slog.String("op", op),
			slog.String("code", v.Code),
		)
		return err
	}
	if errors.Is(err, store.ErrNotFound) {
		return err
	}
	span.RecordError(err)
	e.logger.ErrorContext(ctx, "ledger operation failed",
		slog.String("op", op),
		slog.Any("error", err),
	)
	return fmt.Errorf("%s: %w", op, err)
}

// requireOpen fails unless gameID names an open game.
func requireOpen(ctx context.Context, r store.Repositories, gameID string) error {
	g, err := r.Games.GetByID(ctx, gameID)
	if err != nil {
		return err
	}
	if !g.Open() {
		return fmt.Errorf("%w: game %s has ended", ErrNoOpenGame, gameID)
	}
	return nil
}
