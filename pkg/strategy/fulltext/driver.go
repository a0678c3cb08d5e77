package fulltext

import (
	"context"
)

// Document is one full-text document. The strategy controls the schema:
// reserved keys are "_id", "_entityId", "_organizationId", "_presenter",
// "_url", "_links", and "_indexedAt"; everything else is a projected
// searchable field.
type Document map[string]any

// SearchRequest is a driver-level query against one physical index
type SearchRequest struct {
	Query  string
	Filter string
	Limit  int
}

// Hit is one driver result with its engine-local score
type Hit struct {
	Document Document
	Score    float64
}

// IndexStats summarizes one physical index
type IndexStats struct {
	NumberOfDocuments int64
	IsIndexing        bool
}

// Driver is the pluggable full-text engine contract. Implementations
// return strategy.ErrIndexNotFound for reads, deletes, and purges
// against a missing index and strategy.ErrUnavailable when the engine
// cannot be reached.
type Driver interface {
	// Healthy reports whether the engine is reachable. Must be cheap.
	Healthy(ctx context.Context) bool

	// EnsureIndex creates the physical index and applies its settings.
	// Idempotent.
	EnsureIndex(ctx context.Context, indexName string) error

	// Search runs a query against one index.
	Search(ctx context.Context, indexName string, req SearchRequest) ([]Hit, error)

	// Index upserts documents; the primary key is "_id".
	Index(ctx context.Context, indexName string, docs []Document) error

	// Delete removes one document by id.
	Delete(ctx context.Context, indexName, docID string) error

	// DeleteByFilter removes every document matching the filter.
	DeleteByFilter(ctx context.Context, indexName, filter string) error

	// ClearIndex removes all documents but keeps the index and settings.
	ClearIndex(ctx context.Context, indexName string) error

	// RecreateIndex drops and recreates the index with fresh settings.
	RecreateIndex(ctx context.Context, indexName string) error

	// GetDocuments pages raw documents out of the index.
	GetDocuments(ctx context.Context, indexName string, limit, offset int) ([]Document, error)

	// GetIndexStats returns document counts and indexing state.
	GetIndexStats(ctx context.Context, indexName string) (IndexStats, error)

	// GetEntityCounts returns per-entity document counts.
	GetEntityCounts(ctx context.Context, indexName string) (map[string]int64, error)
}
