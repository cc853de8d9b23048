package chaosdeck_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironstar-dev/ironstar/internal/chaosdeck"
	"github.com/ironstar-dev/ironstar/pkg/bus"
	"github.com/ironstar-dev/ironstar/pkg/eventstore"
)

func TestOptimisticConflictExperiment_ExactlyOneWins(t *testing.T) {
	store := eventstore.NewMemStore()
	result, err := chaosdeck.OptimisticConflictExperiment(store).Run(context.Background())
	require.NoError(t, err)
	assert.True(t, result.HypothesisHeld, result.Violations)
}

func TestFinalizedStreamExperiment_RejectsFurtherAppends(t *testing.T) {
	store := eventstore.NewMemStore()
	result, err := chaosdeck.FinalizedStreamExperiment(store).Run(context.Background())
	require.NoError(t, err)
	assert.True(t, result.HypothesisHeld, result.Violations)
}

func TestSubscriberLagExperiment_NoDuplicatesOrReordering(t *testing.T) {
	result, err := chaosdeck.SubscriberLagExperiment(50, 2).Run(context.Background())
	require.NoError(t, err)
	assert.True(t, result.HypothesisHeld, result.Violations)
}

func TestViewWarmupRaceExperiment_EventFoldedExactlyOnce(t *testing.T) {
	store := eventstore.NewMemStore()
	b := bus.New()
	result, err := chaosdeck.ViewWarmupRaceExperiment(store, b).Run(context.Background())
	require.NoError(t, err)
	assert.True(t, result.HypothesisHeld, result.Violations)
}

func TestEngine_RunAll_RecordsResults(t *testing.T) {
	store := eventstore.NewMemStore()
	engine := chaosdeck.NewEngine()
	engine.Register(chaosdeck.OptimisticConflictExperiment(store))
	engine.Register(chaosdeck.FinalizedStreamExperiment(eventstore.NewMemStore()))

	results, err := engine.RunAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.Len(t, engine.Results(), 2)
}
