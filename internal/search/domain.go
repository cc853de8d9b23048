// Package search is the peripheral read-model search/analytics
// collaborator described in SPEC_FULL.md §4.2: a secondary, disposable
// index fed by a materialized view's snapshot, not by the event store
// itself (spec.md's non-goal is a secondary index over event *payloads*
// inside the core — this is a downstream reader, same as any other SSE
// subscriber). Primary backend is Meilisearch; a circuit breaker falls
// back to a Postgres full-text query against the search_documents table
// Service.Index keeps alongside Meilisearch when the search backend is
// unavailable, mirroring the teacher's own
// chaos/experiments.go CircuitBreakerExperiment hypothesis.
package search

import "time"

// Document is one indexed unit: the denormalized, already-rendered shape
// a search result needs, built from a materialized view snapshot rather
// than from raw event payloads.
type Document struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Hit is one search result, annotated with which backend served it so
// callers/tests can observe the fallback happening.
type Hit struct {
	Document
	Source string // "meilisearch" or "postgres"
}
