package ledger_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/jensholdgaard/poker-club-bot/internal/clock"
	"github.com/jensholdgaard/poker-club-bot/internal/config"
	"github.com/jensholdgaard/poker-club-bot/internal/ledger"
	"github.com/jensholdgaard/poker-club-bot/internal/store"
	"github.com/jensholdgaard/poker-club-bot/internal/store/sqlite"
	"github.com/jensholdgaard/poker-club-bot/internal/violation"
)

type fixture struct {
	engine *ledger.Engine
	store  store.Store
	clock  *clock.Manual
	alice  *store.Player
	bob    *store.Player
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	clk := clock.NewManual(time.Date(2024, 5, 10, 19, 0, 0, 0, time.UTC))

	s, err := sqlite.Open(ctx, config.DatabaseConfig{Driver: "sqlite", Path: ":memory:", MaxRetries: 3}, clk, slog.Default())
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	// Defaults: 1000 chips for 20, so cash-outs step by 50 chips.
	e, err := ledger.NewEngine(s, config.Defaults().Game, clk, slog.Default(), noop.NewTracerProvider(), metricnoop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	f := &fixture{engine: e, store: s, clock: clk}
	f.alice = f.player(t, "1", "alice")
	f.bob = f.player(t, "2", "bob")
	return f
}

func (f *fixture) player(t *testing.T, externalID, username string) *store.Player {
	t.Helper()
	p := &store.Player{ExternalID: externalID, Username: username}
	if err := f.store.Repos().Players.Create(context.Background(), p); err != nil {
		t.Fatalf("creating player: %v", err)
	}
	return p
}

func (f *fixture) openGame(t *testing.T) *store.Game {
	t.Helper()
	g, err := f.engine.OpenGame(context.Background(), f.alice.ID)
	if err != nil {
		t.Fatalf("OpenGame: %v", err)
	}
	return g
}

func (f *fixture) buyIn(t *testing.T, gameID string, p *store.Player) {
	t.Helper()
	if _, err := f.engine.RecordBuyIn(context.Background(), gameID, p.ID); err != nil {
		t.Fatalf("RecordBuyIn: %v", err)
	}
}

func TestEngine_OpenGame(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	if _, err := f.engine.CurrentGame(ctx); !errors.Is(err, ledger.ErrNoOpenGame) {
		t.Fatalf("CurrentGame before open error = %v, want ErrNoOpenGame", err)
	}

	g := f.openGame(t)
	if !g.Open() {
		t.Error("new game is not open")
	}

	if _, err := f.engine.OpenGame(ctx, f.bob.ID); !errors.Is(err, ledger.ErrAlreadyOpen) {
		t.Errorf("second OpenGame error = %v, want ErrAlreadyOpen", err)
	}

	cur, err := f.engine.CurrentGame(ctx)
	if err != nil {
		t.Fatalf("CurrentGame: %v", err)
	}
	if cur.ID != g.ID {
		t.Errorf("CurrentGame = %s, want %s", cur.ID, g.ID)
	}

	// The failed second open left no trace in the log.
	actions, err := f.store.Repos().Actions.ListByGame(ctx, g.ID)
	if err != nil {
		t.Fatalf("ListByGame: %v", err)
	}
	if len(actions) != 1 || actions[0].Kind != store.ActionStartGame || actions[0].PlayerID != f.alice.ID {
		t.Errorf("actions = %+v, want a single start_game by alice", actions)
	}
}

func TestEngine_OpenGame_UnknownPlayer(t *testing.T) {
	f := newFixture(t)
	if _, err := f.engine.OpenGame(context.Background(), "nobody"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("OpenGame error = %v, want ErrNotFound", err)
	}
	if _, err := f.engine.CurrentGame(context.Background()); !errors.Is(err, ledger.ErrNoOpenGame) {
		t.Errorf("game was created despite the failure: %v", err)
	}
}

func TestEngine_RecordBuyIn(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	g := f.openGame(t)

	a, err := f.engine.RecordBuyIn(ctx, g.ID, f.bob.ID)
	if err != nil {
		t.Fatalf("RecordBuyIn: %v", err)
	}
	if a.Kind != store.ActionBuyIn || a.Chips == nil || *a.Chips != 1000 {
		t.Errorf("action = %+v, want buyin of 1000 chips", a)
	}
	if !a.Amount.Valid || !a.Amount.Decimal.Equal(decimal.NewFromInt(20)) {
		t.Errorf("amount = %v, want 20", a.Amount)
	}
	if a.Username != "bob" {
		t.Errorf("username = %q, want bob", a.Username)
	}

	if _, err := f.engine.RecordBuyIn(ctx, "missing", f.bob.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("buy-in on unknown game error = %v, want ErrNotFound", err)
	}

	if _, err := f.engine.CloseGame(ctx, g.ID, f.alice.ID); err != nil {
		t.Fatalf("CloseGame: %v", err)
	}
	if _, err := f.engine.RecordBuyIn(ctx, g.ID, f.bob.ID); !errors.Is(err, ledger.ErrNoOpenGame) {
		t.Errorf("buy-in on closed game error = %v, want ErrNoOpenGame", err)
	}
}

func TestEngine_RecordCashOut(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name       string
		buyIns     int
		chips      int64
		wantErr    error
		wantAmount string
	}{
		{name: "whole bank", buyIns: 2, chips: 2000, wantAmount: "40"},
		{name: "more than bought", buyIns: 1, chips: 1250, wantErr: ledger.ErrInsufficientBank},
		{name: "one step", buyIns: 1, chips: 50, wantAmount: "1"},
		{name: "zero chips", buyIns: 1, chips: 0, wantAmount: "0"},
		{name: "negative", buyIns: 1, chips: -50, wantErr: ledger.ErrNegativeChips},
		{name: "not a multiple", buyIns: 1, chips: 120, wantErr: ledger.ErrNotMultiple},
		{name: "exceeds bank", buyIns: 1, chips: 1050, wantErr: ledger.ErrInsufficientBank},
		{name: "empty bank", buyIns: 0, chips: 50, wantErr: ledger.ErrInsufficientBank},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			g := f.openGame(t)
			for i := 0; i < tt.buyIns; i++ {
				f.buyIn(t, g.ID, f.bob)
			}

			a, err := f.engine.RecordCashOut(ctx, g.ID, f.bob.ID, tt.chips)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("RecordCashOut error = %v, want %v", err, tt.wantErr)
				}
				if !violation.Is(err) {
					t.Errorf("error %v is not a violation", err)
				}
				in, out, _ := f.store.Repos().Actions.ChipTotals(ctx, g.ID)
				if out != 0 || in != int64(tt.buyIns)*1000 {
					t.Errorf("rejected cash-out changed totals to %d/%d", in, out)
				}
				return
			}
			if err != nil {
				t.Fatalf("RecordCashOut: %v", err)
			}
			want := decimal.RequireFromString(tt.wantAmount)
			if !a.Amount.Valid || !a.Amount.Decimal.Equal(want) {
				t.Errorf("amount = %v, want %s", a.Amount, want)
			}
		})
	}
}

func TestEngine_BankNeverNegative(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	g := f.openGame(t)

	type step struct {
		buyIn   bool
		chips   int64
		wantErr bool
	}
	steps := []step{
		{buyIn: true},
		{chips: 600},
		{chips: 450, wantErr: true},
		{chips: 400},
		{chips: 50, wantErr: true},
		{buyIn: true},
		{chips: 1000},
		{chips: 50, wantErr: true},
	}

	for i, s := range steps {
		var err error
		if s.buyIn {
			_, err = f.engine.RecordBuyIn(ctx, g.ID, f.alice.ID)
		} else {
			_, err = f.engine.RecordCashOut(ctx, g.ID, f.bob.ID, s.chips)
		}
		if (err != nil) != s.wantErr {
			t.Fatalf("step %d: error = %v, wantErr %v", i, err, s.wantErr)
		}
		in, out, err := f.store.Repos().Actions.ChipTotals(ctx, g.ID)
		if err != nil {
			t.Fatalf("ChipTotals: %v", err)
		}
		if in-out < 0 {
			t.Fatalf("step %d: bank went negative: %d", i, in-out)
		}
	}
}

func TestEngine_ConcurrentCashOuts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	g := f.openGame(t)
	f.buyIn(t, g.ID, f.alice)

	const attempts = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		rejected  int
		others    []error
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.RecordCashOut(ctx, g.ID, f.bob.ID, 100)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ledger.ErrInsufficientBank):
				rejected++
			default:
				others = append(others, err)
			}
		}()
	}
	wg.Wait()

	if len(others) > 0 {
		t.Fatalf("unexpected cash-out errors: %v", others)
	}
	if succeeded != 10 || rejected != 10 {
		t.Errorf("succeeded/rejected = %d/%d, want 10/10", succeeded, rejected)
	}
	in, out, err := f.store.Repos().Actions.ChipTotals(ctx, g.ID)
	if err != nil {
		t.Fatalf("ChipTotals: %v", err)
	}
	if in != 1000 || out != 1000 {
		t.Errorf("chip totals = %d in / %d out, want 1000/1000", in, out)
	}
}

func TestEngine_CloseGame(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	g := f.openGame(t)
	f.buyIn(t, g.ID, f.bob)

	f.clock.Advance(3 * time.Hour)
	// Chips left in the bank do not block closing.
	closed, err := f.engine.CloseGame(ctx, g.ID, f.bob.ID)
	if err != nil {
		t.Fatalf("CloseGame: %v", err)
	}
	if closed.Open() || !closed.EndTime.Equal(f.clock.Now()) {
		t.Errorf("EndTime = %v, want %v", closed.EndTime, f.clock.Now())
	}

	if _, err := f.engine.CloseGame(ctx, g.ID, f.bob.ID); !errors.Is(err, ledger.ErrGameNotOpen) {
		t.Errorf("second CloseGame error = %v, want ErrGameNotOpen", err)
	}
	if _, err := f.engine.CloseGame(ctx, "missing", f.bob.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("CloseGame(missing) error = %v, want ErrNotFound", err)
	}

	// A new game can be opened once the previous one is closed.
	if _, err := f.engine.OpenGame(ctx, f.alice.ID); err != nil {
		t.Errorf("OpenGame after close: %v", err)
	}
}

func TestEngine_Summarize(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	g := f.openGame(t)

	f.buyIn(t, g.ID, f.alice)
	f.buyIn(t, g.ID, f.bob)
	f.buyIn(t, g.ID, f.alice)
	if _, err := f.engine.RecordCashOut(ctx, g.ID, f.alice.ID, 2500); err != nil {
		t.Fatalf("RecordCashOut: %v", err)
	}
	if _, err := f.engine.RecordCashOut(ctx, g.ID, f.bob.ID, 0); err != nil {
		t.Fatalf("RecordCashOut: %v", err)
	}

	s, err := f.engine.Summarize(ctx, g.ID)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if len(s.Players) != 2 {
		t.Fatalf("got %d players, want 2", len(s.Players))
	}

	alice, bob := s.Players[0], s.Players[1]
	if alice.PlayerID != f.alice.ID || alice.BuyIns != 2 || !alice.Balance.Equal(decimal.NewFromInt(10)) {
		t.Errorf("alice = %+v, want 2 buy-ins and balance 10", alice)
	}
	if bob.PlayerID != f.bob.ID || !bob.Balance.Equal(decimal.NewFromInt(-20)) {
		t.Errorf("bob = %+v, want balance -20", bob)
	}
	if s.BankChips != 500 || !s.BankTotal.Equal(decimal.NewFromInt(10)) {
		t.Errorf("bank = %d chips / %s, want 500 / 10", s.BankChips, s.BankTotal)
	}

	if _, err := f.engine.Summarize(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Summarize(missing) error = %v, want ErrNotFound", err)
	}
}

func TestEngine_SummarizeRecent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	for i := 0; i < 3; i++ {
		g := f.openGame(t)
		f.buyIn(t, g.ID, f.bob)
		f.clock.Advance(time.Hour)
		if _, err := f.engine.CloseGame(ctx, g.ID, f.alice.ID); err != nil {
			t.Fatalf("CloseGame: %v", err)
		}
		f.clock.Advance(24 * time.Hour)
	}

	rs, err := f.engine.SummarizeRecent(ctx, 2)
	if err != nil {
		t.Fatalf("SummarizeRecent: %v", err)
	}
	if len(rs.Games) != 2 {
		t.Fatalf("got %d games, want 2", len(rs.Games))
	}
	if !rs.Games[0].Game.StartTime.After(rs.Games[1].Game.StartTime) {
		t.Error("games are not newest first")
	}
	if len(rs.Players) != 1 || rs.Players[0].BuyIns != 2 || !rs.Players[0].Balance.Equal(decimal.NewFromInt(-40)) {
		t.Errorf("combined players = %+v, want bob with 2 buy-ins and -40", rs.Players)
	}

	def, err := f.engine.SummarizeRecent(ctx, 0)
	if err != nil {
		t.Fatalf("SummarizeRecent(0): %v", err)
	}
	if len(def.Games) != 3 {
		t.Errorf("default recent games = %d, want 3", len(def.Games))
	}
}

func TestEngine_RecentActions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	g := f.openGame(t)
	f.clock.Advance(time.Minute)
	f.buyIn(t, g.ID, f.bob)
	f.clock.Advance(time.Minute)
	if _, err := f.engine.RecordCashOut(ctx, g.ID, f.bob.ID, 1000); err != nil {
		t.Fatalf("RecordCashOut: %v", err)
	}

	actions, err := f.engine.RecentActions(ctx, 2)
	if err != nil {
		t.Fatalf("RecentActions: %v", err)
	}
	if len(actions) != 2 || actions[0].Kind != store.ActionQuit || actions[1].Kind != store.ActionBuyIn {
		t.Errorf("RecentActions = %+v, want quit then buyin", actions)
	}
}

func TestTally(t *testing.T) {
	chips := func(n int64) *int64 { return &n }
	amount := func(s string) decimal.NullDecimal { return decimal.NewNullDecimal(decimal.RequireFromString(s)) }

	actions := []store.PlayerAction{
		{PlayerID: "a", Kind: store.ActionStartGame},
		{PlayerID: "b", Username: "bob", Kind: store.ActionBuyIn, Chips: chips(1000), Amount: amount("20")},
		{PlayerID: "a", Username: "alice", Kind: store.ActionBuyIn, Chips: chips(1000), Amount: amount("20")},
		{PlayerID: "b", Username: "bobby", Kind: store.ActionQuit, Chips: chips(1500), Amount: amount("30")},
		{PlayerID: "a", Kind: store.ActionEndGame},
	}

	got := ledger.Tally(actions)
	if len(got.Players) != 2 || got.Players[0].PlayerID != "b" {
		t.Fatalf("players = %+v, want b first", got.Players)
	}
	if got.Players[0].Username != "bobby" {
		t.Errorf("username = %q, want latest name bobby", got.Players[0].Username)
	}
	if !got.Players[0].Balance.Equal(decimal.NewFromInt(10)) {
		t.Errorf("b balance = %s, want 10", got.Players[0].Balance)
	}
	if got.BankChips != 500 || !got.BankTotal.Equal(decimal.NewFromInt(10)) {
		t.Errorf("bank = %d / %s, want 500 / 10", got.BankChips, got.BankTotal)
	}

	empty := ledger.Tally(nil)
	if empty.Players == nil || len(empty.Players) != 0 || empty.BankChips != 0 {
		t.Errorf("Tally(nil) = %+v, want empty non-nil players", empty)
	}
}
