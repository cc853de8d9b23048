package eventstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ironstar-dev/ironstar/pkg/ironerr"
)

// PostgresStore is a Store backed by PostgreSQL, durable and
// transaction-serialized per aggregate. It is the only Store implementation
// this module ships for production use; MemStore exists for tests.
type PostgresStore struct {
	db     *sql.DB
	tracer trace.Tracer
}

// NewPostgresStore wraps an already-open *sql.DB. The caller owns the pool
// (connection string parsing, pooling limits) the way cmd/ironstar does it.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{
		db:     db,
		tracer: otel.Tracer("ironstar/eventstore"),
	}
}

// Append implements the algorithm of spec.md §4.1: open a serializable
// transaction, read the current chain tip and finality, check the
// optimistic-locking precondition, then insert events in order.
func (s *PostgresStore) Append(ctx context.Context, aggregateType, aggregateID string, previousIDExpected *uuid.UUID, events []NewEvent) ([]Event, error) {
	ctx, span := s.tracer.Start(ctx, "eventstore.append",
		trace.WithAttributes(
			attribute.String("aggregate.type", aggregateType),
			attribute.String("aggregate.id", aggregateID),
			attribute.Int("event.count", len(events)),
		),
	)
	defer span.End()

	if len(events) == 0 {
		return nil, ironerr.NewDecisionRejected("append requires a non-empty event list")
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, ironerr.NewStorage("begin transaction", err)
	}
	defer tx.Rollback()

	var (
		latestID    uuid.NullUUID
		latestFinal bool
		hasRows     bool
	)
	err = tx.QueryRowContext(ctx, `
		SELECT event_id, final
		FROM events
		WHERE aggregate_type = $1 AND aggregate_id = $2
		ORDER BY "offset" DESC
		LIMIT 1
	`, aggregateType, aggregateID).Scan(&latestID, &latestFinal)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		hasRows = false
	case err != nil:
		return nil, ironerr.NewStorage("query chain tip", err)
	default:
		hasRows = true
	}

	if hasRows {
		if latestFinal {
			span.SetAttributes(attribute.Bool("conflict.finalized", true))
			return nil, &ironerr.FinalizedError{AggregateType: aggregateType, AggregateID: aggregateID}
		}
		if previousIDExpected == nil || latestID.UUID != *previousIDExpected {
			span.SetAttributes(attribute.Bool("conflict.detected", true))
			return nil, &ironerr.ConflictError{
				AggregateType: aggregateType,
				AggregateID:   aggregateID,
				ExpectedID:    uuidOrNil(previousIDExpected),
				ActualID:      latestID.UUID.String(),
			}
		}
	} else if previousIDExpected != nil {
		span.SetAttributes(attribute.Bool("conflict.detected", true))
		return nil, &ironerr.ConflictError{
			AggregateType: aggregateType,
			AggregateID:   aggregateID,
			ExpectedID:    previousIDExpected.String(),
			ActualID:      "",
		}
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO events (event_id, aggregate_type, aggregate_id, previous_id, event_type, schema_version, payload, command_id, metadata, final, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		RETURNING "offset", created_at
	`)
	if err != nil {
		return nil, ironerr.NewStorage("prepare insert", err)
	}
	defer stmt.Close()

	chainTip := previousIDExpected
	persisted := make([]Event, 0, len(events))
	for i, ev := range events {
		newID := uuid.New()

		var prev uuid.NullUUID
		if chainTip != nil {
			prev = uuid.NullUUID{UUID: *chainTip, Valid: true}
		}

		rec := Event{
			EventID:       newID,
			AggregateType: aggregateType,
			AggregateID:   aggregateID,
			EventType:     ev.EventType,
			SchemaVersion: ev.SchemaVersion,
			Payload:       ev.Payload,
			CommandID:     ev.CommandID,
			Metadata:      ev.Metadata,
			Final:         ev.Final,
		}
		if prev.Valid {
			p := prev.UUID
			rec.PreviousID = &p
		}

		err = stmt.QueryRowContext(ctx,
			newID, aggregateType, aggregateID, prev, ev.EventType, ev.SchemaVersion,
			ev.Payload, ev.CommandID, ev.Metadata, ev.Final,
		).Scan(&rec.Offset, &rec.CreatedAt)
		if err != nil {
			if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
				span.SetAttributes(attribute.Bool("conflict.race", true))
				return nil, &ironerr.ConflictError{
					AggregateType: aggregateType,
					AggregateID:   aggregateID,
					ExpectedID:    uuidOrNil(chainTip),
				}
			}
			return nil, ironerr.NewStorage(fmt.Sprintf("insert event %d", i), err)
		}

		chainTip = &newID
		persisted = append(persisted, rec)
		span.AddEvent("event.appended", trace.WithAttributes(
			attribute.Int64("event.offset", rec.Offset),
			attribute.String("event.type", rec.EventType),
		))
	}

	if err := tx.Commit(); err != nil {
		return nil, ironerr.NewStorage("commit transaction", err)
	}

	span.SetAttributes(attribute.Bool("append.success", true))
	return persisted, nil
}

// LoadStream returns all events of an aggregate in chain/offset order.
func (s *PostgresStore) LoadStream(ctx context.Context, aggregateType, aggregateID string) ([]Event, error) {
	ctx, span := s.tracer.Start(ctx, "eventstore.load_stream",
		trace.WithAttributes(
			attribute.String("aggregate.type", aggregateType),
			attribute.String("aggregate.id", aggregateID),
		),
	)
	defer span.End()

	rows, err := s.db.QueryContext(ctx, `
		SELECT "offset", event_id, aggregate_type, aggregate_id, previous_id, event_type, schema_version, payload, command_id, metadata, final, created_at
		FROM events
		WHERE aggregate_type = $1 AND aggregate_id = $2
		ORDER BY "offset" ASC
	`, aggregateType, aggregateID)
	if err != nil {
		return nil, ironerr.NewStorage("query stream", err)
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("events.loaded", len(events)))
	return events, nil
}

// LoadSinceOffset returns events with Offset > fromOffsetExclusive in
// ascending order, capped at limit rows when limit > 0.
func (s *PostgresStore) LoadSinceOffset(ctx context.Context, fromOffsetExclusive int64, limit int) ([]Event, error) {
	ctx, span := s.tracer.Start(ctx, "eventstore.load_since_offset",
		trace.WithAttributes(attribute.Int64("from.offset", fromOffsetExclusive)),
	)
	defer span.End()

	query := `
		SELECT "offset", event_id, aggregate_type, aggregate_id, previous_id, event_type, schema_version, payload, command_id, metadata, final, created_at
		FROM events
		WHERE "offset" > $1
		ORDER BY "offset" ASC
	`
	args := []any{fromOffsetExclusive}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, ironerr.NewStorage("query since offset", err)
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("events.loaded", len(events)))
	return events, nil
}

// LoadAll returns the full history in offset order.
func (s *PostgresStore) LoadAll(ctx context.Context) ([]Event, error) {
	return s.LoadSinceOffset(ctx, 0, 0)
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	var events []Event
	for rows.Next() {
		var (
			e    Event
			prev uuid.NullUUID
			cmd  uuid.NullUUID
		)
		if err := rows.Scan(
			&e.Offset, &e.EventID, &e.AggregateType, &e.AggregateID, &prev,
			&e.EventType, &e.SchemaVersion, &e.Payload, &cmd, &e.Metadata,
			&e.Final, &e.CreatedAt,
		); err != nil {
			return nil, ironerr.NewStorage("scan event", err)
		}
		if prev.Valid {
			p := prev.UUID
			e.PreviousID = &p
		}
		if cmd.Valid {
			c := cmd.UUID
			e.CommandID = &c
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, ironerr.NewStorage("iterate events", err)
	}
	return events, nil
}

func uuidOrNil(id *uuid.UUID) string {
	if id == nil {
		return ""
	}
	return id.String()
}

var _ Store = (*PostgresStore)(nil)
