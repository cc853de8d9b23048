package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"testing"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironstar-dev/ironstar/pkg/ironerr"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// schemaSQLForTests embeds schema.sql's events and sessions table
// definitions (without its indexes, triggers and other tables) so tests
// don't depend on a file-system path at run time.
const schemaSQLForTests = `
CREATE TABLE IF NOT EXISTS events (
    "offset"       BIGSERIAL PRIMARY KEY,
    event_id       UUID NOT NULL UNIQUE,
    aggregate_type TEXT NOT NULL,
    aggregate_id   TEXT NOT NULL,
    previous_id    UUID UNIQUE REFERENCES events (event_id),
    event_type     TEXT NOT NULL,
    schema_version INT NOT NULL DEFAULT 1,
    payload        JSONB NOT NULL,
    command_id     UUID,
    metadata       JSONB,
    final          BOOLEAN NOT NULL DEFAULT FALSE,
    created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS sessions (
    id           UUID PRIMARY KEY,
    user_id      UUID,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    last_seen_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    expires_at   TIMESTAMPTZ NOT NULL,
    data         BYTEA
);
`

type testEventPayload struct {
	Message string `json:"message"`
}

func payload(t testing.TB, msg string) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(testEventPayload{Message: msg})
	require.NoError(t, err)
	return b
}

// storeUnderTest runs a test body against both the in-memory Store and a
// real Postgres-backed one, skipping the latter automatically when no
// database is reachable.
func storeUnderTest(t *testing.T) []Store {
	stores := []Store{NewMemStore()}
	if db := tryConnect(t); db != nil {
		t.Cleanup(func() { db.Close() })
		stores = append(stores, NewPostgresStore(db))
	}
	return stores
}

func tryConnect(t *testing.T) *sql.DB {
	t.Helper()
	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		envOr("PGHOST", "localhost"), envOr("PGPORT", "5432"),
		envOr("PGUSER", "ironstar"), envOr("PGPASSWORD", "ironstar"),
		envOr("PGDATABASE", "ironstar_test"))
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil
	}
	if _, err := db.Exec(schemaSQLForTests); err != nil {
		db.Close()
		return nil
	}
	db.Exec(`TRUNCATE events, sessions`)
	return db
}

func TestAppend_FirstEventHasNilPreviousID(t *testing.T) {
	ctx := context.Background()
	for _, store := range storeUnderTest(t) {
		aggID := uuid.New().String()
		events, err := store.Append(ctx, "todo", aggID, nil, []NewEvent{
			{EventType: "TodoCreated", SchemaVersion: 1, Payload: payload(t, "buy milk")},
		})
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Nil(t, events[0].PreviousID)
		assert.NotEqual(t, uuid.Nil, events[0].EventID)
		assert.Greater(t, events[0].Offset, int64(0))
	}
}

func TestAppend_ChainsPreviousID(t *testing.T) {
	ctx := context.Background()
	for _, store := range storeUnderTest(t) {
		aggID := uuid.New().String()
		first, err := store.Append(ctx, "todo", aggID, nil, []NewEvent{
			{EventType: "TodoCreated", SchemaVersion: 1, Payload: payload(t, "buy milk")},
		})
		require.NoError(t, err)

		second, err := store.Append(ctx, "todo", aggID, &first[0].EventID, []NewEvent{
			{EventType: "TodoCompleted", SchemaVersion: 1, Payload: payload(t, "done")},
		})
		require.NoError(t, err)
		require.Len(t, second, 1)
		require.NotNil(t, second[0].PreviousID)
		assert.Equal(t, first[0].EventID, *second[0].PreviousID)
		assert.Greater(t, second[0].Offset, first[0].Offset)
	}
}

func TestAppend_ConflictOnStalePreviousID(t *testing.T) {
	ctx := context.Background()
	for _, store := range storeUnderTest(t) {
		aggID := uuid.New().String()
		_, err := store.Append(ctx, "todo", aggID, nil, []NewEvent{
			{EventType: "TodoCreated", SchemaVersion: 1, Payload: payload(t, "buy milk")},
		})
		require.NoError(t, err)

		stale := uuid.New()
		_, err = store.Append(ctx, "todo", aggID, &stale, []NewEvent{
			{EventType: "TodoCompleted", SchemaVersion: 1, Payload: payload(t, "done")},
		})
		require.Error(t, err)
		var conflict *ironerr.ConflictError
		assert.ErrorAs(t, err, &conflict)
	}
}

func TestAppend_RejectsAppendAfterFinal(t *testing.T) {
	ctx := context.Background()
	for _, store := range storeUnderTest(t) {
		aggID := uuid.New().String()
		first, err := store.Append(ctx, "todo", aggID, nil, []NewEvent{
			{EventType: "TodoDeleted", SchemaVersion: 1, Payload: payload(t, "gone"), Final: true},
		})
		require.NoError(t, err)

		_, err = store.Append(ctx, "todo", aggID, &first[0].EventID, []NewEvent{
			{EventType: "TodoCompleted", SchemaVersion: 1, Payload: payload(t, "too late")},
		})
		require.Error(t, err)
	}
}

func TestLoadSinceOffset_IsMonotonicAndExclusive(t *testing.T) {
	ctx := context.Background()
	for _, store := range storeUnderTest(t) {
		aggID := uuid.New().String()
		var prev *uuid.UUID
		for i := 0; i < 5; i++ {
			ev, err := store.Append(ctx, "todo", aggID, prev, []NewEvent{
				{EventType: "TodoCreated", SchemaVersion: 1, Payload: payload(t, fmt.Sprintf("item %d", i))},
			})
			require.NoError(t, err)
			prev = &ev[0].EventID
		}

		all, err := store.LoadAll(ctx)
		require.NoError(t, err)
		require.GreaterOrEqual(t, len(all), 5)

		mid := all[len(all)-3].Offset
		tail, err := store.LoadSinceOffset(ctx, mid, 0)
		require.NoError(t, err)
		for _, e := range tail {
			assert.Greater(t, e.Offset, mid)
		}

		var lastOffset int64 = -1
		for _, e := range all {
			assert.Greater(t, e.Offset, lastOffset)
			lastOffset = e.Offset
		}
	}
}

func TestLoadStream_EmptyForUnknownAggregate(t *testing.T) {
	ctx := context.Background()
	for _, store := range storeUnderTest(t) {
		events, err := store.LoadStream(ctx, "todo", uuid.New().String())
		require.NoError(t, err)
		assert.Empty(t, events)
	}
}
