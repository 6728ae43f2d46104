package api_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/jensholdgaard/poker-club-bot/internal/api"
	"github.com/jensholdgaard/poker-club-bot/internal/clock"
	"github.com/jensholdgaard/poker-club-bot/internal/config"
	"github.com/jensholdgaard/poker-club-bot/internal/ledger"
	"github.com/jensholdgaard/poker-club-bot/internal/stats"
	"github.com/jensholdgaard/poker-club-bot/internal/store"
	"github.com/jensholdgaard/poker-club-bot/internal/store/sqlite"
	"github.com/jensholdgaard/poker-club-bot/internal/tournament"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fixture struct {
	router      *gin.Engine
	store       store.Store
	ledger      *ledger.Engine
	stats       *countingStats
	tournaments *tournament.Engine
	alice, bob  *store.Player
	idle        *store.Player
	game        *store.Game
}

// countingStats records how often the directory is loaded.
type countingStats struct {
	*stats.Engine
	listCalls int
}

func (c *countingStats) ListPlayers(ctx context.Context) ([]store.Player, error) {
	c.listCalls++
	return c.Engine.ListPlayers(ctx)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	clk := clock.NewManual(time.Date(2024, 5, 10, 19, 0, 0, 0, time.UTC))
	cfg := config.Defaults()
	logger := slog.Default()
	tp, mp := noop.NewTracerProvider(), metricnoop.NewMeterProvider()

	s, err := sqlite.Open(ctx, config.DatabaseConfig{Driver: "sqlite", Path: ":memory:", MaxRetries: 3}, clk, slog.Default())
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	le, err := ledger.NewEngine(s, cfg.Game, clk, logger, tp, mp)
	if err != nil {
		t.Fatalf("ledger.NewEngine: %v", err)
	}
	se, err := stats.NewEngine(s, cfg.Game, logger, tp)
	if err != nil {
		t.Fatalf("stats.NewEngine: %v", err)
	}
	te, err := tournament.NewEngine(s, cfg.Tournament, clk, logger, tp, mp)
	if err != nil {
		t.Fatalf("tournament.NewEngine: %v", err)
	}

	f := &fixture{store: s, ledger: le, stats: &countingStats{Engine: se}, tournaments: te}
	f.alice = f.player(t, "1", "alice")
	f.bob = f.player(t, "2", "bob")
	f.idle = f.player(t, "3", "carol")

	// alice buys in once and leaves with 1500 chips; bob buys in and busts.
	if f.game, err = le.OpenGame(ctx, f.alice.ID); err != nil {
		t.Fatalf("OpenGame: %v", err)
	}
	for _, p := range []*store.Player{f.alice, f.bob} {
		clk.Advance(time.Minute)
		if _, err := le.RecordBuyIn(ctx, f.game.ID, p.ID); err != nil {
			t.Fatalf("RecordBuyIn: %v", err)
		}
	}
	clk.Advance(time.Hour)
	if _, err := le.RecordCashOut(ctx, f.game.ID, f.alice.ID, 1500); err != nil {
		t.Fatalf("RecordCashOut: %v", err)
	}

	h := api.NewHandler(cfg.API, f.stats, le, te, logger)
	f.router = api.NewRouter(cfg.API, logger, h.Register)
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

func (f *fixture) get(t *testing.T, path string, out any) int {
	t.Helper()
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	if out != nil && rec.Code == http.StatusOK {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("decoding %s: %v\n%s", path, err, rec.Body.String())
		}
	}
	return rec.Code
}

func TestListUsers(t *testing.T) {
	f := newFixture(t)

	var users []store.Player
	if code := f.get(t, "/api/users", &users); code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if len(users) != 2 || users[0].Username != "alice" || users[1].Username != "bob" {
		t.Errorf("users = %+v, want alice and bob", users)
	}

	// Served from cache the second time.
	f.get(t, "/api/users", &users)
	if f.stats.listCalls != 1 {
		t.Errorf("ListPlayers called %d times, want 1", f.stats.listCalls)
	}
}

func TestPlayerStats(t *testing.T) {
	f := newFixture(t)

	var l stats.Lifetime
	if code := f.get(t, "/api/stats/"+f.alice.ID, &l); code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if l.GamesPlayed != 1 || l.BuyIns != 1 {
		t.Errorf("lifetime = %+v, want one game and one buy-in", l)
	}
	if !l.Profit.Equal(decimal.NewFromInt(10)) || !l.ROIPercent.Equal(decimal.NewFromInt(50)) {
		t.Errorf("profit %s roi %s, want 10 and 50", l.Profit, l.ROIPercent)
	}

	tests := []struct {
		name string
		path string
		want int
	}{
		{name: "unknown player", path: "/api/stats/nobody", want: http.StatusNotFound},
		{name: "player without games", path: "/api/stats/" + f.idle.ID, want: http.StatusNotFound},
		{name: "roi", path: "/api/stats/" + f.bob.ID + "/roi", want: http.StatusOK},
		{name: "roi unknown player", path: "/api/stats/nobody/roi", want: http.StatusNotFound},
		{name: "actions", path: "/api/stats/" + f.bob.ID + "/actions", want: http.StatusOK},
		{name: "actions without games", path: "/api/stats/" + f.idle.ID + "/actions", want: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code := f.get(t, tt.path, nil); code != tt.want {
				t.Errorf("GET %s = %d, want %d", tt.path, code, tt.want)
			}
		})
	}
}

func TestPlayerROI(t *testing.T) {
	f := newFixture(t)

	var history []stats.DailyROI
	if code := f.get(t, "/api/stats/"+f.bob.ID+"/roi", &history); code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if len(history) != 1 || history[0].Date != "2024-05-10" || !history[0].ROIPercent.Equal(decimal.NewFromInt(-100)) {
		t.Errorf("history = %+v, want one day at -100", history)
	}
}

func TestPlayerActions(t *testing.T) {
	f := newFixture(t)

	var actions []store.PlayerAction
	if code := f.get(t, "/api/stats/"+f.alice.ID+"/actions", &actions); code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if len(actions) != 2 || actions[0].Kind != store.ActionBuyIn || actions[1].Kind != store.ActionQuit {
		t.Errorf("actions = %+v, want buy-in then quit", actions)
	}
}

func TestGames(t *testing.T) {
	f := newFixture(t)

	var recent ledger.RecentSummary
	if code := f.get(t, "/api/games/recent?n=5", &recent); code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if len(recent.Games) != 1 || recent.BankChips != 500 {
		t.Errorf("recent = %+v, want one game with 500 chips in the bank", recent)
	}

	var one ledger.Summary
	if code := f.get(t, "/api/games/"+f.game.ID, &one); code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if one.Game.ID != f.game.ID || len(one.Players) != 2 {
		t.Errorf("summary = %+v, want two players", one)
	}

	for path, want := range map[string]int{
		"/api/games/recent?n=abc": http.StatusBadRequest,
		"/api/games/recent?n=0":   http.StatusBadRequest,
		"/api/games/recent":       http.StatusOK,
		"/api/games/missing":      http.StatusNotFound,
	} {
		if code := f.get(t, path, nil); code != want {
			t.Errorf("GET %s = %d, want %d", path, code, want)
		}
	}
}

func TestTournaments(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	if code := f.get(t, "/api/tournaments/current", nil); code != http.StatusNotFound {
		t.Errorf("current before any = %d, want 404", code)
	}

	tr, err := f.tournaments.Start(ctx, f.alice.ID)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := f.tournaments.Register(ctx, tr.ID, f.bob.ID); err != nil {
		t.Fatalf("Register: %v", err)
	}

	var cur tournament.Detail
	if code := f.get(t, "/api/tournaments/current", &cur); code != http.StatusOK {
		t.Fatalf("current = %d, want 200", code)
	}
	if cur.ID != tr.ID || cur.Status != tournament.StatusPending || len(cur.Participants) != 1 {
		t.Errorf("current = %+v, want pending with one participant", cur)
	}

	var one tournament.Detail
	if code := f.get(t, "/api/tournaments/"+tr.ID, &one); code != http.StatusOK {
		t.Fatalf("get = %d, want 200", code)
	}
	if one.TotalPlayers != 1 {
		t.Errorf("total players = %d, want 1", one.TotalPlayers)
	}

	var list []tournament.Overview
	if code := f.get(t, "/api/tournaments", &list); code != http.StatusOK {
		t.Fatalf("list = %d, want 200", code)
	}
	if len(list) != 1 || list[0].ID != tr.ID {
		t.Errorf("list = %+v, want the one tournament", list)
	}

	if code := f.get(t, "/api/tournaments/missing", nil); code != http.StatusNotFound {
		t.Errorf("missing tournament = %d, want 404", code)
	}
}

func TestCORS(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/users", nil)
	req.Header.Set("Origin", "https://club.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
	}
}
