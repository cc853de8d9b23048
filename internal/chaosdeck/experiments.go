package chaosdeck

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ironstar-dev/ironstar/pkg/bus"
	"github.com/ironstar-dev/ironstar/pkg/eventstore"
	"github.com/ironstar-dev/ironstar/pkg/ironerr"
	"github.com/ironstar-dev/ironstar/pkg/materialized"
	"github.com/ironstar-dev/ironstar/pkg/view"
)

func plainEvent(eventType string) eventstore.NewEvent {
	return eventstore.NewEvent{EventType: eventType, SchemaVersion: 1, Payload: json.RawMessage(`{}`)}
}

// OptimisticConflictExperiment asserts spec.md §8 invariant 3: of two
// concurrent appends on the same aggregate with the same
// previous_id_expected, exactly one succeeds.
func OptimisticConflictExperiment(store eventstore.Store) Experiment {
	return Experiment{
		Name:       "optimistic-conflict-race",
		Hypothesis: "of two concurrent appends with the same previous_id_expected, exactly one succeeds",
		Run: func(ctx context.Context) (Result, error) {
			aggID := uuid.New().String()
			seed, err := store.Append(ctx, "ChaosAggregate", aggID, nil, []eventstore.NewEvent{plainEvent("Seeded")})
			if err != nil {
				return Result{}, err
			}
			tip := seed[len(seed)-1].EventID

			var wg sync.WaitGroup
			errs := make([]error, 2)
			for i := 0; i < 2; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_, err := store.Append(ctx, "ChaosAggregate", aggID, &tip, []eventstore.NewEvent{plainEvent("Raced")})
					errs[i] = err
				}(i)
			}
			wg.Wait()

			successes := 0
			conflicts := 0
			for _, err := range errs {
				switch {
				case err == nil:
					successes++
				case errors.Is(err, ironerr.ErrOptimisticConflict):
					conflicts++
				}
			}

			held := successes == 1 && conflicts == 1
			var violations []string
			if !held {
				violations = append(violations, fmt.Sprintf("expected 1 success + 1 conflict, got %d successes, %d conflicts", successes, conflicts))
			}
			return Result{
				HypothesisHeld: held,
				Observations: map[string]string{
					"successes": fmt.Sprint(successes),
					"conflicts": fmt.Sprint(conflicts),
				},
				Violations: violations,
			}, nil
		},
	}
}

// FinalizedStreamExperiment asserts spec.md §8 invariant 8: an append
// after a final=true event fails with StreamFinalized.
func FinalizedStreamExperiment(store eventstore.Store) Experiment {
	return Experiment{
		Name:       "finalized-stream-rejection",
		Hypothesis: "appending after a final=true event fails with StreamFinalized",
		Run: func(ctx context.Context) (Result, error) {
			aggID := uuid.New().String()
			final := plainEvent("Closed")
			final.Final = true
			persisted, err := store.Append(ctx, "ChaosAggregate", aggID, nil, []eventstore.NewEvent{final})
			if err != nil {
				return Result{}, err
			}
			tip := persisted[len(persisted)-1].EventID

			_, err = store.Append(ctx, "ChaosAggregate", aggID, &tip, []eventstore.NewEvent{plainEvent("ShouldFail")})

			held := errors.Is(err, ironerr.ErrStreamFinalized)
			var violations []string
			if !held {
				violations = append(violations, fmt.Sprintf("expected StreamFinalized, got %v", err))
			}
			return Result{
				HypothesisHeld: held,
				Observations:   map[string]string{"append_after_final_error": fmt.Sprint(err)},
				Violations:     violations,
			}, nil
		},
	}
}

// SubscriberLagExperiment asserts spec.md §8 scenario S4: a publisher
// faster than a bus subscription's capacity never produces a duplicate or
// out-of-order offset, whether the subscriber recovers every event or is
// told it lagged.
func SubscriberLagExperiment(eventCount, capacity int) Experiment {
	return Experiment{
		Name:       "subscriber-lag-no-duplicates",
		Hypothesis: "a slow subscriber observes either every event or a Lagged signal, never a duplicate or out-of-order offset",
		Run: func(ctx context.Context) (Result, error) {
			b := bus.New()
			sub := b.Subscribe(capacity)
			defer sub.Unsubscribe()

			for i := 1; i <= eventCount; i++ {
				b.Publish(eventstore.Event{Offset: int64(i), EventID: uuid.New(), AggregateType: "ChaosAggregate", EventType: "Tick"})
			}

			var seen []int64
			lagged := false
		drain:
			for {
				select {
				case ev, ok := <-sub.Events:
					if !ok {
						break drain
					}
					seen = append(seen, ev.Offset)
				case _, ok := <-sub.Lagged:
					if !ok {
						break drain
					}
					sub.TakeLag()
					lagged = true
				case <-time.After(50 * time.Millisecond):
					break drain
				}
			}

			var violations []string
			for i := 1; i < len(seen); i++ {
				if seen[i] <= seen[i-1] {
					violations = append(violations, fmt.Sprintf("out-of-order or duplicate offset: %d after %d", seen[i], seen[i-1]))
				}
			}
			if len(seen) < eventCount && !lagged {
				violations = append(violations, fmt.Sprintf("observed %d of %d events without a Lagged signal", len(seen), eventCount))
			}

			return Result{
				HypothesisHeld: len(violations) == 0,
				Observations: map[string]string{
					"published": fmt.Sprint(eventCount),
					"observed":  fmt.Sprint(len(seen)),
					"lagged":    fmt.Sprint(lagged),
				},
				Violations: violations,
			}, nil
		},
	}
}

// ViewWarmupRaceExperiment asserts spec.md §8 scenario S6: an event
// appended between Bus.Subscribe and Store.LoadAll during a materialized
// view's warm-up is folded into the steady-state snapshot exactly once.
func ViewWarmupRaceExperiment(store eventstore.Store, b *bus.Bus) Experiment {
	return Experiment{
		Name:       "view-warmup-race",
		Hypothesis: "an event appended during materialized view warm-up is reflected exactly once",
		Run: func(ctx context.Context) (Result, error) {
			aggID := uuid.New().String()
			algebra := view.View[int, struct{}]{
				InitialReadModel: 0,
				EvolveRead:       func(count int, _ struct{}) int { return count + 1 },
			}
			decode := func(eventType string, _ json.RawMessage) (struct{}, bool, error) {
				return struct{}{}, eventType == "RaceEvent", nil
			}

			mv := materialized.New[int, struct{}](store, b, algebra, decode)

			runErrCh := make(chan error, 1)
			go func() { runErrCh <- mv.Run(ctx) }()

			// Give Run a head start to subscribe, then append while warm-up
			// is plausibly still between subscribe and LoadAll.
			time.Sleep(2 * time.Millisecond)
			persisted, err := store.Append(ctx, "ChaosAggregate", aggID, nil, []eventstore.NewEvent{plainEvent("RaceEvent")})
			if err != nil {
				return Result{}, err
			}
			// Publish after persisting, as the aggregate wrapper does, so an
			// append that lands after LoadAll still reaches the view.
			for _, rec := range persisted {
				b.Publish(rec)
			}

			if err := <-runErrCh; err != nil {
				return Result{}, err
			}
			time.Sleep(10 * time.Millisecond) // let any live-path application settle

			count := mv.Snapshot()
			held := count == 1
			var violations []string
			if !held {
				violations = append(violations, fmt.Sprintf("expected the race event folded exactly once, snapshot=%d", count))
			}
			return Result{
				HypothesisHeld: held,
				Observations:   map[string]string{"snapshot": fmt.Sprint(count)},
				Violations:     violations,
			}, nil
		},
	}
}
