// Package storetest holds a behavioral test suite that every store driver
// must pass.
package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jensholdgaard/poker-club-bot/internal/clock"
	"github.com/jensholdgaard/poker-club-bot/internal/event"
	"github.com/jensholdgaard/poker-club-bot/internal/store"
)

// Opener returns a fresh, migrated, empty store that uses clk.
type Opener func(t *testing.T, clk clock.Clock) store.Store

// Epoch is the time the suite's clock starts at.
var Epoch = time.Date(2024, 3, 1, 18, 0, 0, 0, time.UTC)

// Run executes the suite against stores produced by open.
func Run(t *testing.T, open Opener) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store, clk *clock.Manual)
	}{
		{"Players", testPlayers},
		{"Games", testGames},
		{"Actions", testActions},
		{"Tournaments", testTournaments},
		{"Memberships", testMemberships},
		{"Events", testEvents},
		{"AtomicRollback", testAtomicRollback},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clk := clock.NewManual(Epoch)
			s := open(t, clk)
			tt.fn(t, s, clk)
		})
	}
}

// MustPlayer creates a player or fails the test.
func MustPlayer(t *testing.T, r store.Repositories, externalID, username string) *store.Player {
	t.Helper()
	p := &store.Player{ExternalID: externalID, Username: username}
	if err := r.Players.Create(context.Background(), p); err != nil {
		t.Fatalf("Create player %s: %v", externalID, err)
	}
	return p
}

func testPlayers(t *testing.T, s store.Store, clk *clock.Manual) {
	ctx := context.Background()
	r := s.Repos()

	p := MustPlayer(t, r, "u-1", "alice")
	if p.ID == "" {
		t.Fatal("expected generated ID")
	}

	dup := &store.Player{ExternalID: "u-1", Username: "other"}
	if err := r.Players.Create(ctx, dup); !errors.Is(err, store.ErrConflict) {
		t.Errorf("duplicate Create error = %v, want ErrConflict", err)
	}

	clk.Advance(time.Minute)
	if err := r.Players.UpdateNames(ctx, p.ID, "alice2", "Alice"); err != nil {
		t.Fatalf("UpdateNames: %v", err)
	}
	got, err := r.Players.GetByExternalID(ctx, "u-1")
	if err != nil {
		t.Fatalf("GetByExternalID: %v", err)
	}
	if got.Username != "alice2" || got.DisplayName != "Alice" {
		t.Errorf("names = %q/%q, want alice2/Alice", got.Username, got.DisplayName)
	}
	if !got.UpdatedAt.After(got.CreatedAt) {
		t.Errorf("UpdatedAt %v not after CreatedAt %v", got.UpdatedAt, got.CreatedAt)
	}

	if _, err := r.Players.GetByID(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetByID(missing) error = %v, want ErrNotFound", err)
	}
	if err := r.Players.UpdateNames(ctx, "missing", "x", "y"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("UpdateNames(missing) error = %v, want ErrNotFound", err)
	}

	// Only players with buy-ins or cash-outs are listed.
	bob := MustPlayer(t, r, "u-2", "bob")
	g := &store.Game{}
	if err := r.Games.Create(ctx, g); err != nil {
		t.Fatalf("Create game: %v", err)
	}
	if err := r.Actions.Append(ctx, &store.PlayerAction{GameID: g.ID, PlayerID: p.ID, Kind: store.ActionStartGame}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	chips := int64(1000)
	if err := r.Actions.Append(ctx, &store.PlayerAction{GameID: g.ID, PlayerID: bob.ID, Kind: store.ActionBuyIn, Chips: &chips}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	listed, err := r.Players.ListWithActions(ctx)
	if err != nil {
		t.Fatalf("ListWithActions: %v", err)
	}
	if len(listed) != 1 || listed[0].ID != bob.ID {
		t.Errorf("ListWithActions = %+v, want only bob", listed)
	}
}

func testGames(t *testing.T, s store.Store, clk *clock.Manual) {
	ctx := context.Background()
	r := s.Repos()

	if _, err := r.Games.FindOpen(ctx); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("FindOpen on empty store error = %v, want ErrNotFound", err)
	}

	first := &store.Game{}
	if err := r.Games.Create(ctx, first); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := r.Games.Create(ctx, &store.Game{}); !errors.Is(err, store.ErrConflict) {
		t.Errorf("second open game error = %v, want ErrConflict", err)
	}

	open, err := r.Games.FindOpen(ctx)
	if err != nil {
		t.Fatalf("FindOpen: %v", err)
	}
	if open.ID != first.ID || !open.Open() {
		t.Errorf("FindOpen = %+v, want open game %s", open, first.ID)
	}
	if !open.StartTime.Equal(Epoch) {
		t.Errorf("StartTime = %v, want %v", open.StartTime, Epoch)
	}

	clk.Advance(2 * time.Hour)
	if err := r.Games.Close(ctx, first.ID, clk.Now()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := r.Games.Close(ctx, first.ID, clk.Now()); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("second Close error = %v, want ErrNotFound", err)
	}
	closed, err := r.Games.GetByID(ctx, first.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if closed.Open() || !closed.EndTime.Equal(Epoch.Add(2*time.Hour)) {
		t.Errorf("EndTime = %v, want %v", closed.EndTime, Epoch.Add(2*time.Hour))
	}

	clk.Advance(time.Hour)
	second := &store.Game{}
	if err := r.Games.Create(ctx, second); err != nil {
		t.Fatalf("Create after close: %v", err)
	}
	recent, err := r.Games.ListRecent(ctx, 1)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(recent) != 1 || recent[0].ID != second.ID {
		t.Errorf("ListRecent(1) = %+v, want newest game %s", recent, second.ID)
	}
}

func testActions(t *testing.T, s store.Store, clk *clock.Manual) {
	ctx := context.Background()
	r := s.Repos()
	alice := MustPlayer(t, r, "u-1", "alice")
	g := &store.Game{}
	if err := r.Games.Create(ctx, g); err != nil {
		t.Fatalf("Create game: %v", err)
	}

	chips := func(n int64) *int64 { return &n }
	amount := decimal.NewNullDecimal(decimal.RequireFromString("24.68"))
	entries := []store.PlayerAction{
		{Kind: store.ActionBuyIn, Chips: chips(1000)},
		{Kind: store.ActionBuyIn, Chips: chips(1000)},
		{Kind: store.ActionQuit, Chips: chips(1234), Amount: amount},
	}
	for i := range entries {
		entries[i].GameID = g.ID
		entries[i].PlayerID = alice.ID
		entries[i].Username = "alice"
		// Same timestamp for the first two; ids keep write order.
		if i == 2 {
			clk.Advance(time.Minute)
		}
		if err := r.Actions.Append(ctx, &entries[i]); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}

	list, err := r.Actions.ListByGame(ctx, g.ID)
	if err != nil {
		t.Fatalf("ListByGame: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("ListByGame returned %d actions, want 3", len(list))
	}
	for i := range entries {
		if list[i].ID != entries[i].ID {
			t.Errorf("action %d = %s, want %s", i, list[i].ID, entries[i].ID)
		}
	}
	if !list[2].Amount.Valid || !list[2].Amount.Decimal.Equal(amount.Decimal) {
		t.Errorf("Amount = %v, want 24.68", list[2].Amount)
	}
	if list[0].Amount.Valid {
		t.Errorf("buy-in Amount = %v, want NULL", list[0].Amount)
	}
	if list[0].Chips == nil || *list[0].Chips != 1000 {
		t.Errorf("Chips = %v, want 1000", list[0].Chips)
	}

	in, out, err := r.Actions.ChipTotals(ctx, g.ID)
	if err != nil {
		t.Fatalf("ChipTotals: %v", err)
	}
	if in != 2000 || out != 1234 {
		t.Errorf("ChipTotals = %d/%d, want 2000/1234", in, out)
	}

	quits, err := r.Actions.ListByPlayer(ctx, alice.ID, store.ActionQuit)
	if err != nil {
		t.Fatalf("ListByPlayer: %v", err)
	}
	if len(quits) != 1 || quits[0].Kind != store.ActionQuit {
		t.Errorf("ListByPlayer(quit) = %+v, want one quit", quits)
	}
	all, err := r.Actions.ListByPlayer(ctx, alice.ID)
	if err != nil {
		t.Fatalf("ListByPlayer: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("ListByPlayer() returned %d, want 3", len(all))
	}

	recent, err := r.Actions.ListRecent(ctx, 2)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(recent) != 2 || recent[0].ID != entries[2].ID || recent[1].ID != entries[1].ID {
		t.Errorf("ListRecent(2) = %+v, want newest two, newest first", recent)
	}
}

func testTournaments(t *testing.T, s store.Store, clk *clock.Manual) {
	ctx := context.Background()
	r := s.Repos()
	alice := MustPlayer(t, r, "u-1", "alice")

	if _, err := r.Tournaments.FindLatest(ctx); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("FindLatest on empty store error = %v, want ErrNotFound", err)
	}

	tr := &store.Tournament{CreatedBy: &alice.ID}
	if err := r.Tournaments.Create(ctx, tr); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := r.Tournaments.Create(ctx, &store.Tournament{}); !errors.Is(err, store.ErrConflict) {
		t.Errorf("second open tournament error = %v, want ErrConflict", err)
	}

	clk.Advance(time.Minute)
	start := clk.Now()
	tr.IsShuffled = true
	tr.StartTime = &start
	if err := r.Tournaments.Update(ctx, tr); err != nil {
		t.Fatalf("Update: %v", err)
	}
	open, err := r.Tournaments.FindOpen(ctx)
	if err != nil {
		t.Fatalf("FindOpen: %v", err)
	}
	if !open.Seated() || !open.Started() || open.Ended() {
		t.Errorf("flags seated=%v started=%v ended=%v, want true true false", open.Seated(), open.Started(), open.Ended())
	}
	if open.CreatedBy == nil || *open.CreatedBy != alice.ID {
		t.Errorf("CreatedBy = %v, want %s", open.CreatedBy, alice.ID)
	}

	clk.Advance(time.Hour)
	end := clk.Now()
	tr.EndTime = &end
	tr.EndedBy = &alice.ID
	if err := r.Tournaments.Update(ctx, tr); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if _, err := r.Tournaments.FindOpen(ctx); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("FindOpen after end error = %v, want ErrNotFound", err)
	}

	clk.Advance(time.Hour)
	next := &store.Tournament{}
	if err := r.Tournaments.Create(ctx, next); err != nil {
		t.Fatalf("Create: %v", err)
	}
	latest, err := r.Tournaments.FindLatest(ctx)
	if err != nil {
		t.Fatalf("FindLatest: %v", err)
	}
	if latest.ID != next.ID {
		t.Errorf("FindLatest = %s, want %s", latest.ID, next.ID)
	}
	all, err := r.Tournaments.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 2 || all[0].ID != next.ID {
		t.Errorf("List = %+v, want 2 newest first", all)
	}
}

func testMemberships(t *testing.T, s store.Store, clk *clock.Manual) {
	ctx := context.Background()
	r := s.Repos()
	tr := &store.Tournament{}
	if err := r.Tournaments.Create(ctx, tr); err != nil {
		t.Fatalf("Create tournament: %v", err)
	}

	var ms []*store.Membership
	for _, name := range []string{"alice", "bob", "carol"} {
		p := MustPlayer(t, r, "id-"+name, name)
		m := &store.Membership{TournamentID: tr.ID, PlayerID: p.ID}
		if err := r.Memberships.Create(ctx, m); err != nil {
			t.Fatalf("Create membership: %v", err)
		}
		ms = append(ms, m)
		clk.Advance(time.Second)
	}

	dup := &store.Membership{TournamentID: tr.ID, PlayerID: ms[0].PlayerID}
	if err := r.Memberships.Create(ctx, dup); !errors.Is(err, store.ErrConflict) {
		t.Errorf("duplicate membership error = %v, want ErrConflict", err)
	}

	if err := r.Memberships.AssignSeat(ctx, ms[0].ID, 1, 2); err != nil {
		t.Fatalf("AssignSeat: %v", err)
	}
	got, err := r.Memberships.Get(ctx, tr.ID, ms[0].PlayerID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.TableNumber == nil || *got.TableNumber != 1 || got.PositionNumber == nil || *got.PositionNumber != 2 {
		t.Errorf("seat = %v/%v, want 1/2", got.TableNumber, got.PositionNumber)
	}

	if err := r.Memberships.Eliminate(ctx, ms[1].ID, 3, 90, clk.Now()); err != nil {
		t.Fatalf("Eliminate: %v", err)
	}
	if err := r.Memberships.Eliminate(ctx, ms[1].ID, 2, 90, clk.Now()); err == nil {
		t.Error("second Eliminate succeeded, want error")
	}

	total, eliminated, err := r.Memberships.Counts(ctx, tr.ID)
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if total != 3 || eliminated != 1 {
		t.Errorf("Counts = %d/%d, want 3/1", total, eliminated)
	}

	all, err := r.Memberships.List(ctx, tr.ID)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 || all[0].Username != "alice" || all[2].Username != "carol" {
		t.Errorf("List = %+v, want alice, bob, carol in join order", all)
	}
	if all[1].Rank == nil || *all[1].Rank != 3 || all[1].DurationSeconds == nil || *all[1].DurationSeconds != 90 {
		t.Errorf("bob rank/duration = %v/%v, want 3/90", all[1].Rank, all[1].DurationSeconds)
	}

	active, err := r.Memberships.ListActive(ctx, tr.ID)
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(active) != 2 || active[0].Username != "alice" || active[1].Username != "carol" {
		t.Errorf("ListActive = %+v, want alice, carol", active)
	}

	if err := r.Memberships.Delete(ctx, ms[2].ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := r.Memberships.Get(ctx, tr.ID, ms[2].PlayerID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Get after Delete error = %v, want ErrNotFound", err)
	}
}

func testEvents(t *testing.T, s store.Store, _ *clock.Manual) {
	ctx := context.Background()
	es := s.Repos().Events

	v, err := es.LastVersion(ctx, "t-1")
	if err != nil {
		t.Fatalf("LastVersion: %v", err)
	}
	if v != 0 {
		t.Errorf("LastVersion on empty = %d, want 0", v)
	}

	events := []event.Event{
		{AggregateID: "t-1", Type: event.TournamentStarted, Data: json.RawMessage(`{"created_by":"p1"}`), Version: 1},
		{AggregateID: "t-1", Type: event.PlayerJoined, Data: json.RawMessage(`{"player_id":"p1"}`), Version: 2},
		{AggregateID: "t-2", Type: event.TournamentStarted, Data: json.RawMessage(`{}`), Version: 1},
	}
	if err := es.Append(ctx, events...); err != nil {
		t.Fatalf("Append: %v", err)
	}

	loaded, err := es.Load(ctx, "t-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded) != 2 || loaded[0].Version != 1 || loaded[1].Version != 2 {
		t.Fatalf("Load = %+v, want versions 1, 2", loaded)
	}
	var data event.MembershipData
	if err := json.Unmarshal(loaded[1].Data, &data); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if data.PlayerID != "p1" {
		t.Errorf("payload player = %q, want p1", data.PlayerID)
	}

	started, err := es.LoadByType(ctx, event.TournamentStarted)
	if err != nil {
		t.Fatalf("LoadByType: %v", err)
	}
	if len(started) != 2 {
		t.Errorf("LoadByType returned %d, want 2", len(started))
	}

	if v, _ := es.LastVersion(ctx, "t-1"); v != 2 {
		t.Errorf("LastVersion = %d, want 2", v)
	}

	// A batch with a duplicate version is rejected as a whole.
	err = es.Append(ctx,
		event.Event{AggregateID: "t-1", Type: event.PlayerJoined, Data: json.RawMessage(`{}`), Version: 3},
		event.Event{AggregateID: "t-1", Type: event.PlayerJoined, Data: json.RawMessage(`{}`), Version: 2},
	)
	if !errors.Is(err, store.ErrConflict) {
		t.Errorf("duplicate version error = %v, want ErrConflict", err)
	}
	if v, _ := es.LastVersion(ctx, "t-1"); v != 2 {
		t.Errorf("LastVersion after rejected batch = %d, want 2", v)
	}
}

func testAtomicRollback(t *testing.T, s store.Store, _ *clock.Manual) {
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.Atomic(ctx, func(r store.Repositories) error {
		MustPlayer(t, r, "u-1", "alice")
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Atomic error = %v, want boom", err)
	}
	if _, err := s.Repos().Players.GetByExternalID(ctx, "u-1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("player survived rollback: err = %v", err)
	}

	err = s.Atomic(ctx, func(r store.Repositories) error {
		MustPlayer(t, r, "u-1", "alice")
		return nil
	})
	if err != nil {
		t.Fatalf("Atomic: %v", err)
	}
	if _, err := s.Repos().Players.GetByExternalID(ctx, "u-1"); err != nil {
		t.Errorf("committed player missing: %v", err)
	}
}
