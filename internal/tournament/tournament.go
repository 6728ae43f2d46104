// Package tournament runs elimination tournaments: registration, one-time
// seat assignment, start of play, ranking by elimination order, and closing
// once every member is ranked. Each transition is journaled as an event in
// the same transaction.
package tournament

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/poker-club-bot/internal/clock"
	"github.com/jensholdgaard/poker-club-bot/internal/config"
	"github.com/jensholdgaard/poker-club-bot/internal/event"
	"github.com/jensholdgaard/poker-club-bot/internal/store"
	"github.com/jensholdgaard/poker-club-bot/internal/violation"
)

const instrumentation = "github.com/jensholdgaard/poker-club-bot/internal/tournament"

// Engine validates and applies tournament intents.
type Engine struct {
	store       store.Store
	cfg         config.TournamentConfig
	clock       clock.Clock
	logger      *slog.Logger
	tracer      trace.Tracer
	transitions metric.Int64Counter
	shuffle     func(n int, swap func(i, j int))
}

// Option configures an Engine.
type Option func(*Engine)

// WithShuffle replaces the random permutation used for seating.
func WithShuffle(fn func(n int, swap func(i, j int))) Option {
	return func(e *Engine) { e.shuffle = fn }
}

// NewEngine returns a tournament Engine.
func NewEngine(s store.Store, cfg config.TournamentConfig, clk clock.Clock, logger *slog.Logger, tp trace.TracerProvider, mp metric.MeterProvider, opts ...Option) (*Engine, error) {
	transitions, err := mp.Meter(instrumentation).Int64Counter("pokerbot.tournament.transitions",
		metric.WithDescription("Tournament state transitions, by kind."),
	)
	if err != nil {
		return nil, fmt.Errorf("creating tournament transitions counter: %w", err)
	}
	e := &Engine{
		store:       s,
		cfg:         cfg,
		clock:       clk,
		logger:      logger,
		tracer:      tp.Tracer(instrumentation),
		transitions: transitions,
		shuffle:     rand.Shuffle,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Current returns the open tournament.
func (e *Engine) Current(ctx context.Context) (*store.Tournament, error) {
	t, err := e.store.Repos().Tournaments.FindOpen(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNoActiveTournament
	}
	if err != nil {
		return nil, fmt.Errorf("finding open tournament: %w", err)
	}
	return t, nil
}

// Start opens a tournament created by creatorID.
func (e *Engine) Start(ctx context.Context, creatorID string) (*store.Tournament, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.Start",
		trace.WithAttributes(attribute.String("player_id", creatorID)),
	)
	defer span.End()

	var t *store.Tournament
	err := e.store.Atomic(ctx, func(r store.Repositories) error {
		if _, err := r.Tournaments.FindOpen(ctx); err == nil {
			return ErrAlreadyActive
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if _, err := r.Players.GetByID(ctx, creatorID); err != nil {
			return err
		}

		t = &store.Tournament{CreatedAt: e.clock.Now(), CreatedBy: &creatorID}
		if err := r.Tournaments.Create(ctx, t); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return ErrAlreadyActive
			}
			return err
		}
		return e.journal(ctx, r, t.ID, event.TournamentStarted, event.TournamentStartedData{CreatedBy: creatorID})
	})
	if err != nil {
		return nil, e.fail(ctx, span, "starting tournament", err)
	}

	e.record(ctx, "started")
	e.logger.InfoContext(ctx, "tournament started",
		slog.String("tournament_id", t.ID),
		slog.String("created_by", creatorID),
	)
	return t, nil
}

// Register adds playerID to the tournament. A player may join once; an
// eliminated player cannot rejoin.
func (e *Engine) Register(ctx context.Context, tournamentID, playerID string) (*store.Membership, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.Register",
		trace.WithAttributes(
			attribute.String("tournament_id", tournamentID),
			attribute.String("player_id", playerID),
		),
	)
	defer span.End()

	var m *store.Membership
	err := e.store.Atomic(ctx, func(r store.Repositories) error {
		if _, err := e.requireOpen(ctx, r, tournamentID); err != nil {
			return err
		}
		existing, err := r.Memberships.Get(ctx, tournamentID, playerID)
		switch {
		case err == nil && existing.Eliminated():
			return ErrAlreadyEliminated
		case err == nil:
			return ErrAlreadyJoined
		case !errors.Is(err, store.ErrNotFound):
			return err
		}
		if _, err := r.Players.GetByID(ctx, playerID); err != nil {
			return err
		}

		m = &store.Membership{TournamentID: tournamentID, PlayerID: playerID, CreatedAt: e.clock.Now()}
		if err := r.Memberships.Create(ctx, m); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return ErrAlreadyJoined
			}
			return err
		}
		return e.journal(ctx, r, tournamentID, event.PlayerJoined, event.MembershipData{PlayerID: playerID})
	})
	if err != nil {
		return nil, e.fail(ctx, span, "registering player", err)
	}

	e.record(ctx, "joined")
	e.logger.InfoContext(ctx, "player joined tournament",
		slog.String("tournament_id", tournamentID),
		slog.String("player_id", playerID),
	)
	return m, nil
}

// Eliminate removes playerID from play. Before seats are assigned this is a
// withdrawal and the membership is deleted. Afterwards the member is ranked
// total joined minus already eliminated, so the first player out gets the
// worst rank and the last one gets rank 1.
func (e *Engine) Eliminate(ctx context.Context, tournamentID, playerID string) (*Elimination, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.Eliminate",
		trace.WithAttributes(
			attribute.String("tournament_id", tournamentID),
			attribute.String("player_id", playerID),
		),
	)
	defer span.End()

	var res *Elimination
	err := e.store.Atomic(ctx, func(r store.Repositories) error {
		var err error
		res, err = e.eliminate(ctx, r, tournamentID, playerID)
		return err
	})
	if err != nil {
		return nil, e.fail(ctx, span, "eliminating player", err)
	}
	e.logElimination(ctx, tournamentID, res)
	return res, nil
}

// Kick eliminates the player known by externalID on behalf of an operator.
// It returns store.ErrNotFound if the player has never been seen.
func (e *Engine) Kick(ctx context.Context, tournamentID, externalID string) (*Elimination, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.Kick",
		trace.WithAttributes(
			attribute.String("tournament_id", tournamentID),
			attribute.String("external_id", externalID),
		),
	)
	defer span.End()

	var res *Elimination
	err := e.store.Atomic(ctx, func(r store.Repositories) error {
		p, err := r.Players.GetByExternalID(ctx, externalID)
		if err != nil {
			return err
		}
		res, err = e.eliminate(ctx, r, tournamentID, p.ID)
		return err
	})
	if err != nil {
		return nil, e.fail(ctx, span, "kicking player", err)
	}
	e.logElimination(ctx, tournamentID, res)
	return res, nil
}

func (e *Engine) eliminate(ctx context.Context, r store.Repositories, tournamentID, playerID string) (*Elimination, error) {
	t, err := e.requireOpen(ctx, r, tournamentID)
	if err != nil {
		return nil, err
	}
	m, err := r.Memberships.Get(ctx, tournamentID, playerID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotJoined
	}
	if err != nil {
		return nil, err
	}
	if m.Eliminated() {
		return nil, ErrAlreadyEliminated
	}
	p, err := r.Players.GetByID(ctx, playerID)
	if err != nil {
		return nil, err
	}
	view := store.MembershipView{Membership: *m, Username: p.Username, DisplayName: p.DisplayName}

	if !t.Seated() {
		if err := r.Memberships.Delete(ctx, m.ID); err != nil {
			return nil, err
		}
		if err := e.journal(ctx, r, tournamentID, event.PlayerWithdrew, event.MembershipData{PlayerID: playerID}); err != nil {
			return nil, err
		}
		total, _, err := r.Memberships.Counts(ctx, tournamentID)
		if err != nil {
			return nil, err
		}
		return &Elimination{Participant: participantOf(*t, view), Withdrawn: true, Remaining: total}, nil
	}

	total, eliminated, err := r.Memberships.Counts(ctx, tournamentID)
	if err != nil {
		return nil, err
	}
	now := e.clock.Now()
	rank := total - eliminated
	duration := durationOf(*t, now)
	if err := r.Memberships.Eliminate(ctx, m.ID, rank, duration, now); err != nil {
		return nil, err
	}
	err = e.journal(ctx, r, tournamentID, event.PlayerEliminated, event.PlayerEliminatedData{
		PlayerID:        playerID,
		Rank:            rank,
		DurationSeconds: duration,
	})
	if err != nil {
		return nil, err
	}

	ended := now.UTC()
	view.Rank = &rank
	view.DurationSeconds = &duration
	view.EndedAt = &ended
	return &Elimination{Participant: participantOf(*t, view), Remaining: total - eliminated - 1}, nil
}

func (e *Engine) logElimination(ctx context.Context, tournamentID string, res *Elimination) {
	if res.Withdrawn {
		e.record(ctx, "withdrew")
		e.logger.InfoContext(ctx, "player withdrew from tournament",
			slog.String("tournament_id", tournamentID),
			slog.String("player_id", res.Participant.PlayerID),
		)
		return
	}
	e.record(ctx, "eliminated")
	e.logger.InfoContext(ctx, "player eliminated",
		slog.String("tournament_id", tournamentID),
		slog.String("player_id", res.Participant.PlayerID),
		slog.Int("rank", *res.Participant.Rank),
	)
}

// Shuffle randomly seats every unranked member, once per tournament. Up to
// max_table_size players share one table; more are split across two tables
// whose sizes differ by at most one.
func (e *Engine) Shuffle(ctx context.Context, tournamentID string) (*Seating, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.Shuffle",
		trace.WithAttributes(attribute.String("tournament_id", tournamentID)),
	)
	defer span.End()

	var seating *Seating
	err := e.store.Atomic(ctx, func(r store.Repositories) error {
		t, err := e.requireOpen(ctx, r, tournamentID)
		if err != nil {
			return err
		}
		if t.Seated() {
			return ErrAlreadyShuffled
		}
		active, err := r.Memberships.ListActive(ctx, tournamentID)
		if err != nil {
			return err
		}
		if len(active) == 0 {
			return ErrNoActivePlayers
		}

		t.IsShuffled = true
		seats := Assign(len(active), e.cfg.MaxTableSize, e.shuffle)
		sizes := TableSizes(len(active), e.cfg.MaxTableSize)
		tables := make([][]Participant, len(sizes))
		for i, size := range sizes {
			tables[i] = make([]Participant, size)
		}
		data := event.TournamentShuffledData{Seats: make([]event.SeatData, 0, len(active))}

		for i, m := range active {
			s := seats[i]
			if err := r.Memberships.AssignSeat(ctx, m.ID, s.Table, s.Position); err != nil {
				return err
			}
			m.TableNumber, m.PositionNumber = &s.Table, &s.Position
			tables[s.Table-1][s.Position-1] = participantOf(*t, m)
			data.Seats = append(data.Seats, event.SeatData{PlayerID: m.PlayerID, Table: s.Table, Position: s.Position})
		}

		if err := r.Tournaments.Update(ctx, t); err != nil {
			return err
		}
		if err := e.journal(ctx, r, tournamentID, event.TournamentShuffled, data); err != nil {
			return err
		}
		seating = &Seating{TournamentID: tournamentID, Tables: tables, TotalPlayers: len(active)}
		return nil
	})
	if err != nil {
		return nil, e.fail(ctx, span, "shuffling seats", err)
	}

	e.record(ctx, "shuffled")
	e.logger.InfoContext(ctx, "tournament seats assigned",
		slog.String("tournament_id", tournamentID),
		slog.Int("players", seating.TotalPlayers),
		slog.Int("tables", len(seating.Tables)),
	)
	return seating, nil
}

// BeginPlay starts the tournament clock. Seats must have been assigned.
func (e *Engine) BeginPlay(ctx context.Context, tournamentID string) (*store.Tournament, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.BeginPlay",
		trace.WithAttributes(attribute.String("tournament_id", tournamentID)),
	)
	defer span.End()

	var t *store.Tournament
	err := e.store.Atomic(ctx, func(r store.Repositories) error {
		var err error
		if t, err = e.requireOpen(ctx, r, tournamentID); err != nil {
			return err
		}
		if !t.Seated() {
			return ErrNotSeated
		}
		if t.Started() {
			return ErrAlreadyStarted
		}
		start := e.clock.Now().UTC()
		t.StartTime = &start
		if err := r.Tournaments.Update(ctx, t); err != nil {
			return err
		}
		return e.journal(ctx, r, tournamentID, event.TournamentBegan, struct{}{})
	})
	if err != nil {
		return nil, e.fail(ctx, span, "beginning play", err)
	}

	e.record(ctx, "began")
	e.logger.InfoContext(ctx, "tournament play began", slog.String("tournament_id", tournamentID))
	return t, nil
}

// End closes the tournament. Every member, the winner included, must have
// been eliminated first.
func (e *Engine) End(ctx context.Context, tournamentID, enderID string) (*store.Tournament, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.End",
		trace.WithAttributes(
			attribute.String("tournament_id", tournamentID),
			attribute.String("player_id", enderID),
		),
	)
	defer span.End()

	var t *store.Tournament
	err := e.store.Atomic(ctx, func(r store.Repositories) error {
		var err error
		if t, err = e.requireOpen(ctx, r, tournamentID); err != nil {
			return err
		}
		total, eliminated, err := r.Memberships.Counts(ctx, tournamentID)
		if err != nil {
			return err
		}
		if total != eliminated {
			active, err := r.Memberships.ListActive(ctx, tournamentID)
			if err != nil {
				return err
			}
			names := make([]string, 0, len(active))
			for _, m := range active {
				names = append(names, participantOf(*t, m).Name())
			}
			return fmt.Errorf("%w: %s", ErrPlayersStillActive, strings.Join(names, ", "))
		}
		if _, err := r.Players.GetByID(ctx, enderID); err != nil {
			return err
		}

		end := e.clock.Now().UTC()
		t.EndTime = &end
		t.EndedBy = &enderID
		if err := r.Tournaments.Update(ctx, t); err != nil {
			return err
		}
		return e.journal(ctx, r, tournamentID, event.TournamentEnded, event.TournamentEndedData{EndedBy: enderID, Players: total})
	})
	if err != nil {
		return nil, e.fail(ctx, span, "ending tournament", err)
	}

	e.record(ctx, "ended")
	e.logger.InfoContext(ctx, "tournament ended",
		slog.String("tournament_id", tournamentID),
		slog.String("ended_by", enderID),
	)
	return t, nil
}

// Summary returns the open tournament, or the most recent one if none is
// open.
func (e *Engine) Summary(ctx context.Context) (*Detail, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.Summary")
	defer span.End()

	repos := e.store.Repos()
	t, err := repos.Tournaments.FindOpen(ctx)
	if errors.Is(err, store.ErrNotFound) {
		t, err = repos.Tournaments.FindLatest(ctx)
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNoActiveTournament
	}
	if err != nil {
		return nil, e.fail(ctx, span, "loading tournament summary", err)
	}
	return e.detail(ctx, span, repos, *t)
}

// Get returns one tournament with all participants.
func (e *Engine) Get(ctx context.Context, tournamentID string) (*Detail, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.Get",
		trace.WithAttributes(attribute.String("tournament_id", tournamentID)),
	)
	defer span.End()

	repos := e.store.Repos()
	t, err := repos.Tournaments.GetByID(ctx, tournamentID)
	if err != nil {
		return nil, e.fail(ctx, span, "loading tournament", err)
	}
	return e.detail(ctx, span, repos, *t)
}

// List returns every tournament, newest first.
func (e *Engine) List(ctx context.Context) ([]Overview, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.List")
	defer span.End()

	repos := e.store.Repos()
	ts, err := repos.Tournaments.List(ctx)
	if err != nil {
		return nil, e.fail(ctx, span, "listing tournaments", err)
	}
	out := make([]Overview, 0, len(ts))
	for _, t := range ts {
		d, err := e.detail(ctx, span, repos, t)
		if err != nil {
			return nil, err
		}
		out = append(out, d.Overview)
	}
	return out, nil
}

// Journal returns the audit events of a tournament in order.
func (e *Engine) Journal(ctx context.Context, tournamentID string) ([]event.Event, error) {
	return e.store.Repos().Events.Load(ctx, tournamentID)
}

func (e *Engine) detail(ctx context.Context, span trace.Span, r store.Repositories, t store.Tournament) (*Detail, error) {
	members, err := r.Memberships.List(ctx, t.ID)
	if err != nil {
		return nil, e.fail(ctx, span, "loading participants", err)
	}
	d := buildDetail(t, members, e.clock.Now())
	return &d, nil
}

// requireOpen loads tournamentID and fails unless it is still open.
func (e *Engine) requireOpen(ctx context.Context, r store.Repositories, tournamentID string) (*store.Tournament, error) {
	t, err := r.Tournaments.GetByID(ctx, tournamentID)
	if err != nil {
		return nil, err
	}
	if t.Ended() {
		return nil, fmt.Errorf("%w: tournament %s has ended", ErrNoActiveTournament, tournamentID)
	}
	return t, nil
}

// journal appends one event to the tournament's audit trail.
func (e *Engine) journal(ctx context.Context, r store.Repositories, tournamentID string, typ event.Type, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling %s event: %w", typ, err)
	}
	version, err := r.Events.LastVersion(ctx, tournamentID)
	if err != nil {
		return err
	}
	return r.Events.Append(ctx, event.Event{
		AggregateID: tournamentID,
		Type:        typ,
		Data:        data,
		Version:     version + 1,
		CreatedAt:   e.clock.Now(),
	})
}

func (e *Engine) record(ctx context.Context, transition string) {
	e.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("transition", transition)))
}

// fail logs err and returns it. Rule violations are user mistakes and are
// logged at debug level only.
func (e *Engine) fail(ctx context.Context, span trace.Span, op string, err error) error {
	if v, ok := violation.As(err); ok {
		e.logger.DebugContext(ctx, "tournament rule violated",
			slog.String("op", op),
			slog.String("code", v.Code),
		)
		return err
	}
	if errors.Is(err, store.ErrNotFound) {
		return err
	}
	span.RecordError(err)
	e.logger.ErrorContext(ctx, "tournament operation failed",
		slog.String("op", op),
		slog.Any("error", err),
	)
	return fmt.Errorf("%s: %w", op, err)
}
