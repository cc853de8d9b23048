package search

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sony/gobreaker"
)

// Service indexes documents into Meilisearch and serves queries, falling
// back to a Postgres full-text query over the same documents when the
// circuit is open. Grounded on the teacher's chaos/experiments.go
// CircuitBreakerExperiment: "Catalog searches fallback to database when
// search backend is unavailable" is exactly the behavior this wraps.
type Service struct {
	meili    *meiliClient
	breaker  *gobreaker.CircuitBreaker
	fallback *sqlx.DB
}

// Config configures the circuit breaker threshold and the Meilisearch
// connection.
type Config struct {
	MeiliHost        string
	MeiliAPIKey      string
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

// NewService builds a Service. fallbackDB is both written by Index and
// queried via Postgres full-text search (to_tsvector/plainto_tsquery) on
// the `search_documents` table by searchFallback.
func NewService(cfg Config, fallbackDB *sqlx.DB) *Service {
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	openTimeout := cfg.OpenTimeout
	if openTimeout == 0 {
		openTimeout = 30 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "meilisearch",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
	})

	return &Service{
		meili:    newMeiliClient(cfg.MeiliHost, cfg.MeiliAPIKey),
		breaker:  breaker,
		fallback: fallbackDB,
	}
}

// Index upserts docs into both the primary Meilisearch backend and the
// Postgres fallback table, so degraded search has something to read once
// the breaker trips. Indexing does not go through the breaker itself: a
// failed Meilisearch write is returned to the caller immediately (the
// cmd/ironstar indexer loop logs it) and the fallback table is not written.
func (s *Service) Index(ctx context.Context, docs []Document) error {
	if err := s.meili.upsert(ctx, docs); err != nil {
		return err
	}
	return s.indexFallback(ctx, docs)
}

// indexFallback keeps search_documents current so searchFallback has
// rows to serve while the circuit is open.
func (s *Service) indexFallback(ctx context.Context, docs []Document) error {
	for _, d := range docs {
		_, err := s.fallback.ExecContext(ctx, `
			INSERT INTO search_documents (id, title, body, updated_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO UPDATE
				SET title = EXCLUDED.title, body = EXCLUDED.body, updated_at = EXCLUDED.updated_at
		`, d.ID, d.Title, d.Body, d.UpdatedAt)
		if err != nil {
			return fmt.Errorf("search_documents upsert: %w", err)
		}
	}
	return nil
}

// Search queries Meilisearch through the circuit breaker; whenever that
// call fails or the breaker is open, it falls back to a Postgres
// full-text query over search_documents so the read path keeps
// working with degraded ranking instead of failing outright.
func (s *Service) Search(ctx context.Context, query string, limit int) ([]Hit, error) {
	result, err := s.breaker.Execute(func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(ctx, healthTimeout)
		defer cancel()
		return s.meili.search(ctx, query, limit)
	})
	if err == nil {
		return result.([]Hit), nil
	}

	return s.searchFallback(ctx, query, limit)
}

// searchFallback runs a Postgres full-text query. Grounded on the
// teacher's declared-but-unused jmoiron/sqlx dependency: this is the one
// place in the module a raw ad hoc query against a read-model table,
// rather than the event store, is appropriate.
func (s *Service) searchFallback(ctx context.Context, query string, limit int) ([]Hit, error) {
	type row struct {
		ID        string    `db:"id"`
		Title     string    `db:"title"`
		Body      string    `db:"body"`
		UpdatedAt time.Time `db:"updated_at"`
	}
	var rows []row
	err := s.fallback.SelectContext(ctx, &rows, `
		SELECT id, title, body, updated_at
		FROM search_documents
		WHERE to_tsvector('english', title || ' ' || body) @@ plainto_tsquery('english', $1)
		ORDER BY updated_at DESC
		LIMIT $2
	`, query, limit)
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, len(rows))
	for _, r := range rows {
		hits = append(hits, Hit{
			Document: Document{ID: r.ID, Title: r.Title, Body: r.Body, UpdatedAt: r.UpdatedAt},
			Source:   "postgres",
		})
	}
	return hits, nil
}
