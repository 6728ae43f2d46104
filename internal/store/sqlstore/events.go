package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jensholdgaard/poker-club-bot/internal/event"
)

// EventStore implements event.Store with sqlx.
type EventStore struct{ base }

// eventRow keeps the payload as text so every driver scans it the same way.
type eventRow struct {
	ID          string     `db:"id"`
	AggregateID string     `db:"aggregate_id"`
	Type        event.Type `db:"type"`
	Data        string     `db:"data"`
	Version     int        `db:"version"`
	CreatedAt   time.Time  `db:"created_at"`
}

func (r eventRow) event() event.Event {
	return event.Event{
		ID:          r.ID,
		AggregateID: r.AggregateID,
		Type:        r.Type,
		Data:        json.RawMessage(r.Data),
		Version:     r.Version,
		CreatedAt:   r.CreatedAt,
	}
}

func (s *EventStore) Append(ctx context.Context, events ...event.Event) error {
	// Outside a transaction, open one so the batch lands atomically.
	if db, ok := s.q.(*sqlx.DB); ok {
		tx, err := db.BeginTxx(ctx, s.d.TxOptions)
		if err != nil {
			return fmt.Errorf("beginning transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()
		inner := &EventStore{base{q: tx, d: s.d, clk: s.clk}}
		if err := inner.Append(ctx, events...); err != nil {
			return err
		}
		return tx.Commit()
	}

	now := s.clk.Now().UTC()
	for _, e := range events {
		id := e.ID
		if id == "" {
			id = newID()
		}
		createdAt := e.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		_, err := s.exec(ctx,
			`INSERT INTO events (id, aggregate_id, type, data, version, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			id, e.AggregateID, e.Type, string(e.Data), e.Version, createdAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("inserting event (aggregate=%s, version=%d): %w", e.AggregateID, e.Version, s.classify(err))
		}
	}
	return nil
}

func (s *EventStore) Load(ctx context.Context, aggregateID string) ([]event.Event, error) {
	var rows []eventRow
	err := s.selectAll(ctx, &rows,
		`SELECT id, aggregate_id, type, data, version, created_at
		 FROM events WHERE aggregate_id = ? ORDER BY version ASC`, aggregateID)
	if err != nil {
		return nil, fmt.Errorf("loading events: %w", err)
	}
	return toEvents(rows), nil
}

func (s *EventStore) LoadByType(ctx context.Context, eventType event.Type) ([]event.Event, error) {
	var rows []eventRow
	err := s.selectAll(ctx, &rows,
		`SELECT id, aggregate_id, type, data, version, created_at
		 FROM events WHERE type = ? ORDER BY created_at ASC, id ASC`, eventType)
	if err != nil {
		return nil, fmt.Errorf("loading events by type: %w", err)
	}
	return toEvents(rows), nil
}

func (s *EventStore) LastVersion(ctx context.Context, aggregateID string) (int, error) {
	var v int
	err := s.get(ctx, &v, `SELECT COALESCE(MAX(version), 0) FROM events WHERE aggregate_id = ?`, aggregateID)
	if err != nil {
		return 0, fmt.Errorf("reading last event version: %w", err)
	}
	return v, nil
}

func toEvents(rows []eventRow) []event.Event {
	events := make([]event.Event, 0, len(rows))
	for _, r := range rows {
		events = append(events, r.event())
	}
	return events
}
