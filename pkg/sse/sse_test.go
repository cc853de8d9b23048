package sse_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironstar-dev/ironstar/pkg/bus"
	"github.com/ironstar-dev/ironstar/pkg/eventstore"
	"github.com/ironstar-dev/ironstar/pkg/sse"
)

func renderAll(ev eventstore.Event) (string, string, bool) {
	return ev.EventType, string(ev.Payload), true
}

func newRequest(t *testing.T, lastEventID string) (*http.Request, context.CancelFunc) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/stream", nil)
	if lastEventID != "" {
		req.Header.Set("Last-Event-ID", lastEventID)
	}
	ctx, cancel := context.WithCancel(req.Context())
	return req.WithContext(ctx), cancel
}

func TestServeHTTP_ReplaysBacklogThenGoesLive(t *testing.T) {
	ctx := context.Background()
	store := eventstore.NewMemStore()
	_, err := store.Append(ctx, "todo", "t1", nil, []eventstore.NewEvent{
		{EventType: "TodoCreated", SchemaVersion: 1, Payload: []byte(`{"title":"buy milk"}`)},
	})
	require.NoError(t, err)

	b := bus.New()
	h := &sse.Handler{Store: store, Bus: b, Render: renderAll, HeartbeatInterval: time.Hour}

	rec := httptest.NewRecorder()
	req, cancel := newRequest(t, "")

	done := make(chan struct{})
	go func() {
		h.ServeHTTP(rec, req)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return strings.Contains(rec.Body.String(), "TodoCreated")
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done

	body := rec.Body.String()
	assert.Contains(t, body, "event: TodoCreated")
	assert.Contains(t, body, "buy milk")
	assert.True(t, strings.HasPrefix(body, "id: 1\n") || strings.Contains(body, "id: 1\n"))
}

func TestServeHTTP_LastEventIDSkipsAlreadySeenBacklog(t *testing.T) {
	ctx := context.Background()
	store := eventstore.NewMemStore()
	first, err := store.Append(ctx, "todo", "t2", nil, []eventstore.NewEvent{
		{EventType: "TodoCreated", SchemaVersion: 1, Payload: []byte(`{"n":1}`)},
	})
	require.NoError(t, err)
	_, err = store.Append(ctx, "todo", "t2", &first[0].EventID, []eventstore.NewEvent{
		{EventType: "TodoCompleted", SchemaVersion: 1, Payload: []byte(`{"n":2}`)},
	})
	require.NoError(t, err)

	b := bus.New()
	h := &sse.Handler{Store: store, Bus: b, Render: renderAll, HeartbeatInterval: time.Hour}

	rec := httptest.NewRecorder()
	req, cancel := newRequest(t, fmt.Sprintf("%d", first[0].Offset))

	done := make(chan struct{})
	go func() {
		h.ServeHTTP(rec, req)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return strings.Contains(rec.Body.String(), "TodoCompleted")
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done

	body := rec.Body.String()
	assert.NotContains(t, body, "TodoCreated")
	assert.Contains(t, body, "TodoCompleted")
}

func TestServeHTTP_DedupesEventDeliveredBothAsBacklogAndLive(t *testing.T) {
	ctx := context.Background()
	store := eventstore.NewMemStore()
	first, err := store.Append(ctx, "todo", "t3", nil, []eventstore.NewEvent{
		{EventType: "TodoCreated", SchemaVersion: 1, Payload: []byte(`{}`)},
	})
	require.NoError(t, err)

	b := bus.New()
	h := &sse.Handler{Store: store, Bus: b, Render: renderAll, HeartbeatInterval: time.Hour}

	rec := httptest.NewRecorder()
	req, cancel := newRequest(t, "")

	done := make(chan struct{})
	go func() {
		h.ServeHTTP(rec, req)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return strings.Contains(rec.Body.String(), "TodoCreated")
	}, time.Second, 5*time.Millisecond)

	// Re-publish the same (already-replayed) event on the bus as if it
	// raced the backlog query; the handler must not emit it twice.
	b.Publish(first[0])
	time.Sleep(50 * time.Millisecond)

	cancel()
	<-done

	body := rec.Body.String()
	assert.Equal(t, 1, strings.Count(body, "event: TodoCreated"))
}

func TestServeHTTP_DefaultTipSkipsExistingBacklog(t *testing.T) {
	ctx := context.Background()
	store := eventstore.NewMemStore()
	_, err := store.Append(ctx, "todo", "t4", nil, []eventstore.NewEvent{
		{EventType: "TodoCreated", SchemaVersion: 1, Payload: []byte(`{}`)},
	})
	require.NoError(t, err)

	b := bus.New()
	h := &sse.Handler{
		Store:             store,
		Bus:               b,
		Render:            renderAll,
		HeartbeatInterval: time.Hour,
		DefaultReplayFrom: sse.ReplayFromTip,
	}

	rec := httptest.NewRecorder()
	req, cancel := newRequest(t, "")

	done := make(chan struct{})
	go func() {
		h.ServeHTTP(rec, req)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	assert.NotContains(t, rec.Body.String(), "TodoCreated")
}
