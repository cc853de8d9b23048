package materialized_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironstar-dev/ironstar/pkg/bus"
	"github.com/ironstar-dev/ironstar/pkg/eventstore"
	"github.com/ironstar-dev/ironstar/pkg/materialized"
	"github.com/ironstar-dev/ironstar/pkg/view"
)

type countModel struct {
	count int
}

type tickEvent struct{}

func countView() view.View[countModel, tickEvent] {
	return view.View[countModel, tickEvent]{
		InitialReadModel: countModel{},
		EvolveRead: func(m countModel, _ tickEvent) countModel {
			m.count++
			return m
		},
	}
}

func decodeTick(eventType string, _ json.RawMessage) (tickEvent, bool, error) {
	if eventType != "Tick" {
		return tickEvent{}, false, nil
	}
	return tickEvent{}, true, nil
}

func TestView_WarmUpFoldsHistoryThenCatchesUpLive(t *testing.T) {
	ctx := context.Background()
	store := eventstore.NewMemStore()

	_, err := store.Append(ctx, "ticker", "t1", nil, []eventstore.NewEvent{
		{EventType: "Tick", SchemaVersion: 1, Payload: json.RawMessage(`{}`)},
	})
	require.NoError(t, err)

	b := bus.New()
	mv := materialized.New[countModel, tickEvent](store, b, countView(), decodeTick)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	require.NoError(t, mv.Run(runCtx))

	assert.Equal(t, 1, mv.Snapshot().count)

	first, err := store.LoadStream(ctx, "ticker", "t1")
	require.NoError(t, err)
	tip := first[0].EventID
	persisted, err := store.Append(ctx, "ticker", "t1", &tip, []eventstore.NewEvent{
		{EventType: "Tick", SchemaVersion: 1, Payload: json.RawMessage(`{}`)},
	})
	require.NoError(t, err)
	b.Publish(persisted[0])

	require.Eventually(t, func() bool {
		return mv.Snapshot().count == 2
	}, time.Second, 10*time.Millisecond)
}

func TestView_SkipsEventsAlreadyFoldedFromHistory(t *testing.T) {
	ctx := context.Background()
	store := eventstore.NewMemStore()
	b := bus.New()
	mv := materialized.New[countModel, tickEvent](store, b, countView(), decodeTick)

	persisted, err := store.Append(ctx, "ticker", "t2", nil, []eventstore.NewEvent{
		{EventType: "Tick", SchemaVersion: 1, Payload: json.RawMessage(`{}`)},
	})
	require.NoError(t, err)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	require.NoError(t, mv.Run(runCtx))

	assert.Equal(t, 1, mv.Snapshot().count)

	// A duplicate delivery of an already-historical event (offset <=
	// lastOffset at warm-up) must not double count.
	b.Publish(persisted[0])
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, mv.Snapshot().count)
}

func TestView_IgnoresEventTypesTheDecoderSkips(t *testing.T) {
	ctx := context.Background()
	store := eventstore.NewMemStore()

	_, err := store.Append(ctx, "ticker", "t3", nil, []eventstore.NewEvent{
		{EventType: "Other", SchemaVersion: 1, Payload: json.RawMessage(`{}`)},
	})
	require.NoError(t, err)

	b := bus.New()
	mv := materialized.New[countModel, tickEvent](store, b, countView(), decodeTick)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	require.NoError(t, mv.Run(runCtx))

	assert.Equal(t, 0, mv.Snapshot().count)
}
