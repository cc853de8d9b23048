package search

import (
	"context"
	"fmt"
	"time"

	"github.com/meilisearch/meilisearch-go"
)

// meiliIndexName is the single Meilisearch index this collaborator
// maintains; the materialized view it fronts has exactly one read model
// worth indexing (the corpus's own catalog search is the grounding case).
const meiliIndexName = "documents"

// meiliClient is the thin wrapper around meilisearch-go this package
// exercises; kept separate from Service so the circuit breaker in
// service.go can treat it as a single failable dependency.
type meiliClient struct {
	client meilisearch.ServiceManager
	index  meilisearch.IndexManager
}

func newMeiliClient(host, apiKey string) *meiliClient {
	c := meilisearch.New(host, meilisearch.WithAPIKey(apiKey))
	return &meiliClient{client: c, index: c.Index(meiliIndexName)}
}

// upsert indexes or replaces a batch of documents.
func (m *meiliClient) upsert(_ context.Context, docs []Document) error {
	_, err := m.index.AddDocuments(docs, nil)
	if err != nil {
		return fmt.Errorf("meilisearch: add documents: %w", err)
	}
	return nil
}

// search runs a query against the Meilisearch index, bounded by limit.
func (m *meiliClient) search(_ context.Context, query string, limit int) ([]Hit, error) {
	res, err := m.index.Search(query, &meilisearch.SearchRequest{Limit: int64(limit)})
	if err != nil {
		return nil, fmt.Errorf("meilisearch: search: %w", err)
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, raw := range res.Hits {
		doc, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		hits = append(hits, Hit{
			Document: Document{
				ID:    fmt.Sprint(doc["id"]),
				Title: fmt.Sprint(doc["title"]),
				Body:  fmt.Sprint(doc["body"]),
			},
			Source: "meilisearch",
		})
	}
	return hits, nil
}

// healthTimeout is the deadline Service.Search puts on the context it
// passes to meiliClient.search. meiliClient does not hand that context to
// meilisearch-go, so the deadline does not interrupt a slow call.
const healthTimeout = 2 * time.Second
