// Package chaosdeck is a chaos-engineering harness over the testable
// properties spec.md §8 enumerates. Adapted from the teacher's chaos/
// and go-chaos packages (ChaosEngine, ChaosExperiment, Metric, Action,
// Assertion, steady-state/rollback/validation phases), retargeted at the
// event store's concurrency invariants instead of library-checkout saga
// compensation: each experiment is a single Run closure that performs the
// actual race or fault the teacher's Method phase only simulated against
// a sql.DB, then checks the outcome directly against the properties of
// spec.md §8 rather than a sampled metric crossing a threshold.
package chaosdeck

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Experiment is one chaos scenario: a hypothesis and a Run closure that
// performs the fault/race and reports whether the hypothesis held.
type Experiment struct {
	Name       string
	Hypothesis string

	// Run performs the experiment's method and returns its observations.
	// Unlike the teacher's split Method/Rollback/Validation action lists,
	// each experiment here is a single self-contained closure: the races
	// it performs (concurrent appends, slow subscribers) are themselves
	// the "chaos", with no separate fault-injection step to roll back.
	Run func(ctx context.Context) (Result, error)
}

// Result captures one experiment's outcome.
type Result struct {
	ExperimentName string
	StartTime      time.Time
	EndTime        time.Time
	Duration       time.Duration
	HypothesisHeld bool
	Observations   map[string]string
	Violations     []string
}

// Engine runs registered Experiments and keeps their Results for
// inspection, the way the teacher's ChaosEngine accumulates results for a
// GameDay report.
type Engine struct {
	tracer      trace.Tracer
	mu          sync.Mutex
	experiments []Experiment
	results     []Result
}

// NewEngine builds an Engine with its own otel tracer, named the way the
// teacher's go-chaos.NewChaosEngine names its tracer after the module
// path.
func NewEngine() *Engine {
	return &Engine{
		tracer: otel.Tracer("github.com/ironstar-dev/ironstar/internal/chaosdeck"),
	}
}

// Register adds an experiment to the suite.
func (e *Engine) Register(exp Experiment) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.experiments = append(e.experiments, exp)
}

// Experiments returns the registered experiments in registration order.
func (e *Engine) Experiments() []Experiment {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Experiment, len(e.experiments))
	copy(out, e.experiments)
	return out
}

// RunAll runs every registered experiment in order, recording each result,
// and returns them. Mirrors the teacher's ExecuteGameDay loop minus the
// printed runbook narration (cmd/chaosctl owns presentation).
func (e *Engine) RunAll(ctx context.Context) ([]Result, error) {
	var out []Result
	for _, exp := range e.Experiments() {
		result, err := e.run(ctx, exp)
		if err != nil {
			return out, err
		}
		out = append(out, result)
	}
	return out, nil
}

func (e *Engine) run(ctx context.Context, exp Experiment) (Result, error) {
	ctx, span := e.tracer.Start(ctx, "chaosdeck.run_experiment",
		trace.WithAttributes(attribute.String("experiment.name", exp.Name)))
	defer span.End()

	start := time.Now()
	result, err := exp.Run(ctx)
	result.ExperimentName = exp.Name
	result.StartTime = start
	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(start)

	span.SetAttributes(
		attribute.Bool("hypothesis_held", result.HypothesisHeld),
		attribute.Int("violations", len(result.Violations)),
	)
	if err != nil {
		span.RecordError(err)
	}

	e.mu.Lock()
	e.results = append(e.results, result)
	e.mu.Unlock()

	return result, err
}

// Results returns every result accumulated across RunAll calls so far.
func (e *Engine) Results() []Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Result, len(e.results))
	copy(out, e.results)
	return out
}
