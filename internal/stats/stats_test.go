package stats_test

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/jensholdgaard/poker-club-bot/internal/clock"
	"github.com/jensholdgaard/poker-club-bot/internal/config"
	"github.com/jensholdgaard/poker-club-bot/internal/ledger"
	"github.com/jensholdgaard/poker-club-bot/internal/stats"
	"github.com/jensholdgaard/poker-club-bot/internal/store"
	"github.com/jensholdgaard/poker-club-bot/internal/store/sqlite"
)

func at(day, hour int) time.Time {
	return time.Date(2024, 6, day, hour, 0, 0, 0, time.UTC)
}

func action(kind store.ActionKind, gameID, amount string, ts time.Time) store.PlayerAction {
	return store.PlayerAction{
		GameID:    gameID,
		Kind:      kind,
		Amount:    decimal.NewNullDecimal(decimal.RequireFromString(amount)),
		CreatedAt: ts,
	}
}

// threeDays is the buy-in/cash-out history from the ROI scenario.
func threeDays() []store.PlayerAction {
	return []store.PlayerAction{
		action(store.ActionBuyIn, "g1", "100", at(1, 10)),
		action(store.ActionQuit, "g1", "150", at(1, 11)),
		action(store.ActionBuyIn, "g2", "200", at(2, 10)),
		action(store.ActionQuit, "g2", "100", at(2, 11)),
		action(store.ActionBuyIn, "g3", "100", at(3, 10)),
		action(store.ActionQuit, "g3", "300", at(3, 11)),
	}
}

func TestComputeDailyROI_Scenario(t *testing.T) {
	got := stats.ComputeDailyROI(threeDays(), time.UTC)
	want := []struct {
		date string
		roi  string
	}{
		{"2024-06-01", "50"},
		{"2024-06-02", "-16.7"},
		{"2024-06-03", "37.5"},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d entries %+v, want %d", len(got), got, len(want))
	}
	for i, w := range want {
		if got[i].Date != w.date || !got[i].ROIPercent.Equal(decimal.RequireFromString(w.roi)) {
			t.Errorf("entry %d = %s %s, want %s %s", i, got[i].Date, got[i].ROIPercent, w.date, w.roi)
		}
	}
}

func TestComputeDailyROI_Deterministic(t *testing.T) {
	base := stats.ComputeDailyROI(threeDays(), time.UTC)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		shuffled := threeDays()
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })

		got := stats.ComputeDailyROI(shuffled, time.UTC)
		if len(got) != len(base) {
			t.Fatalf("run %d: %d entries, want %d", i, len(got), len(base))
		}
		for j := range base {
			if got[j].Date != base[j].Date || !got[j].ROIPercent.Equal(base[j].ROIPercent) {
				t.Errorf("run %d entry %d = %+v, want %+v", i, j, got[j], base[j])
			}
		}
	}
}

func TestComputeDailyROI_LastActionOfDayWins(t *testing.T) {
	tests := []struct {
		name    string
		actions []store.PlayerAction
		want    string
	}{
		{
			name: "cash-out after buy-in",
			actions: []store.PlayerAction{
				action(store.ActionBuyIn, "g1", "100", at(1, 9)),
				action(store.ActionQuit, "g1", "120", at(1, 23)),
			},
			want: "20",
		},
		{
			name: "buy-in only",
			actions: []store.PlayerAction{
				action(store.ActionBuyIn, "g1", "100", at(1, 9)),
			},
			want: "-100",
		},
		{
			name: "cash-out without buy-in",
			actions: []store.PlayerAction{
				action(store.ActionQuit, "g1", "40", at(1, 9)),
			},
			want: "0",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := stats.ComputeDailyROI(tt.actions, time.UTC)
			if len(got) != 1 {
				t.Fatalf("got %d entries, want 1", len(got))
			}
			if !got[0].ROIPercent.Equal(decimal.RequireFromString(tt.want)) {
				t.Errorf("ROI = %s, want %s", got[0].ROIPercent, tt.want)
			}
		})
	}
}

func TestComputeDailyROI_Timezone(t *testing.T) {
	sofia, err := time.LoadLocation("Europe/Sofia")
	if err != nil {
		t.Fatal(err)
	}
	// 22:30 UTC on June 1st is already June 2nd in Sofia.
	actions := []store.PlayerAction{
		action(store.ActionBuyIn, "g1", "100", time.Date(2024, 6, 1, 22, 30, 0, 0, time.UTC)),
	}

	if got := stats.ComputeDailyROI(actions, time.UTC); got[0].Date != "2024-06-01" {
		t.Errorf("UTC date = %s, want 2024-06-01", got[0].Date)
	}
	if got := stats.ComputeDailyROI(actions, sofia); got[0].Date != "2024-06-02" {
		t.Errorf("Sofia date = %s, want 2024-06-02", got[0].Date)
	}
}

func TestComputeDailyROI_Empty(t *testing.T) {
	got := stats.ComputeDailyROI(nil, time.UTC)
	if got == nil || len(got) != 0 {
		t.Errorf("ComputeDailyROI(nil) = %v, want empty slice", got)
	}
}

func TestComputeLifetime(t *testing.T) {
	actions := append(threeDays(), action(store.ActionBuyIn, "g3", "100", at(3, 10)))
	l := stats.ComputeLifetime("p1", actions)

	if l.GamesPlayed != 3 {
		t.Errorf("GamesPlayed = %d, want 3", l.GamesPlayed)
	}
	if l.BuyIns != 4 {
		t.Errorf("BuyIns = %d, want 4", l.BuyIns)
	}
	checks := []struct {
		name string
		got  decimal.Decimal
		want string
	}{
		{"TotalBuyIn", l.TotalBuyIn, "500"},
		{"TotalQuit", l.TotalQuit, "550"},
		{"Profit", l.Profit, "50"},
		{"ROIPercent", l.ROIPercent, "10"},
		{"AvgBuyInsPerGame", l.AvgBuyInsPerGame, "1.33"},
	}
	for _, c := range checks {
		if !c.got.Equal(decimal.RequireFromString(c.want)) {
			t.Errorf("%s = %s, want %s", c.name, c.got, c.want)
		}
	}

	hosted := stats.ComputeLifetime("p1", append(threeDays(), store.PlayerAction{GameID: "g4", Kind: store.ActionStartGame, CreatedAt: at(4, 10)}))
	if hosted.GamesPlayed != 4 || !hosted.AvgBuyInsPerGame.Equal(decimal.RequireFromString("0.75")) {
		t.Errorf("hosted games/avg = %d/%s, want 4/0.75", hosted.GamesPlayed, hosted.AvgBuyInsPerGame)
	}

	empty := stats.ComputeLifetime("p2", nil)
	if empty.GamesPlayed != 0 || !empty.ROIPercent.IsZero() || !empty.AvgBuyInsPerGame.IsZero() {
		t.Errorf("empty lifetime = %+v, want zeros", empty)
	}
}

func TestEngine(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewManual(at(1, 18))
	s, err := sqlite.Open(ctx, config.DatabaseConfig{Driver: "sqlite", Path: ":memory:", MaxRetries: 3}, clk, slog.Default())
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	defer s.Close()

	cfg := config.Defaults().Game
	tp := noop.NewTracerProvider()
	led, err := ledger.NewEngine(s, cfg, clk, slog.Default(), tp, metricnoop.NewMeterProvider())
	if err != nil {
		t.Fatalf("ledger.NewEngine: %v", err)
	}
	eng, err := stats.NewEngine(s, cfg, slog.Default(), tp)
	if err != nil {
		t.Fatalf("stats.NewEngine: %v", err)
	}

	host := &store.Player{ExternalID: "1", Username: "host"}
	bob := &store.Player{ExternalID: "2", Username: "bob"}
	for _, p := range []*store.Player{host, bob} {
		if err := s.Repos().Players.Create(ctx, p); err != nil {
			t.Fatalf("creating player: %v", err)
		}
	}

	g, err := led.OpenGame(ctx, host.ID)
	if err != nil {
		t.Fatalf("OpenGame: %v", err)
	}
	if _, err := led.RecordBuyIn(ctx, g.ID, bob.ID); err != nil {
		t.Fatalf("RecordBuyIn: %v", err)
	}
	clk.Advance(time.Hour)
	if _, err := led.RecordCashOut(ctx, g.ID, bob.ID, 1500); err == nil {
		t.Fatal("cash-out above bank accepted")
	}
	if _, err := led.RecordCashOut(ctx, g.ID, bob.ID, 1000); err != nil {
		t.Fatalf("RecordCashOut: %v", err)
	}

	l, err := eng.LifetimeStats(ctx, bob.ID)
	if err != nil {
		t.Fatalf("LifetimeStats: %v", err)
	}
	if l.GamesPlayed != 1 || !l.Profit.IsZero() || !l.ROIPercent.IsZero() {
		t.Errorf("lifetime = %+v, want 1 game, break even", l)
	}

	// Opening the game counts as playing it even without a buy-in.
	hl, err := eng.LifetimeStats(ctx, host.ID)
	if err != nil {
		t.Fatalf("LifetimeStats(host): %v", err)
	}
	if hl.GamesPlayed != 1 || hl.BuyIns != 0 || !hl.AvgBuyInsPerGame.IsZero() {
		t.Errorf("host lifetime = %+v, want 1 game and no buy-ins", hl)
	}
	hostActions, err := eng.PlayerActions(ctx, host.ID)
	if err != nil {
		t.Fatalf("PlayerActions(host): %v", err)
	}
	if len(hostActions) != 0 {
		t.Errorf("host PlayerActions = %+v, want none", hostActions)
	}

	history, err := eng.DailyROIHistory(ctx, bob.ID)
	if err != nil {
		t.Fatalf("DailyROIHistory: %v", err)
	}
	if len(history) != 1 || history[0].Date != "2024-06-01" {
		t.Errorf("history = %+v, want one entry on 2024-06-01", history)
	}

	players, err := eng.ListPlayers(ctx)
	if err != nil {
		t.Fatalf("ListPlayers: %v", err)
	}
	if len(players) != 1 || players[0].ID != bob.ID {
		t.Errorf("ListPlayers = %+v, want only bob", players)
	}

	if _, err := eng.LifetimeStats(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("LifetimeStats(missing) error = %v, want ErrNotFound", err)
	}
	if _, err := eng.PlayerActions(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("PlayerActions(missing) error = %v, want ErrNotFound", err)
	}
}

func TestNewEngine_BadTimezone(t *testing.T) {
	cfg := config.Defaults().Game
	cfg.Timezone = "Nowhere/Special"
	if _, err := stats.NewEngine(nil, cfg, slog.Default(), noop.NewTracerProvider()); err == nil {
		t.Error("NewEngine accepted an unknown timezone")
	}
}
