// cmd/chaosctl/main.go
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ironstar-dev/ironstar/internal/chaosdeck"
	"github.com/ironstar-dev/ironstar/pkg/bus"
	"github.com/ironstar-dev/ironstar/pkg/eventstore"
)

// chaosctl is the corpus's cmd/chaos/main.go retargeted at
// internal/chaosdeck instead of library-service fault injection: it runs
// the event-sourcing core's testable properties (spec.md §8) against an
// in-memory store so the experiments need no external infrastructure.
func main() {
	store := eventstore.NewMemStore()
	eventBus := bus.New()

	engine := chaosdeck.NewEngine()
	engine.Register(chaosdeck.OptimisticConflictExperiment(store))
	engine.Register(chaosdeck.FinalizedStreamExperiment(store))
	engine.Register(chaosdeck.SubscriberLagExperiment(200, 8))
	engine.Register(chaosdeck.ViewWarmupRaceExperiment(store, eventBus))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	fmt.Println("ironstar chaos deck")
	fmt.Printf("%d experiments registered\n\n", len(engine.Experiments()))

	results, err := engine.RunAll(ctx)
	failed := 0
	for _, r := range results {
		status := "HELD"
		if !r.HypothesisHeld {
			status = "VIOLATED"
			failed++
		}
		fmt.Printf("[%s] %s (%s)\n", status, r.ExperimentName, r.Duration)
		for k, v := range r.Observations {
			fmt.Printf("    %s = %s\n", k, v)
		}
		for _, v := range r.Violations {
			fmt.Printf("    ! %s\n", v)
		}
	}

	if err != nil {
		log.Fatalf("chaos deck aborted: %v", err)
	}
	if failed > 0 {
		os.Exit(1)
	}
}
