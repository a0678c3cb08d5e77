package strategy

import (
	"context"

	"github.com/open-mercato/open-mercato-sub000/pkg/types"
)

// Well-known strategy ids. Priority order when all three are registered
// is fulltext > vector > tokens.
const (
	IDFulltext = "fulltext"
	IDVector   = "vector"
	IDTokens   = "tokens"
)

// Strategy is the capability set every retrieval backend implements.
//
// Search returns results already sorted by the strategy's internal score
// descending; callers treat slice order as the rank. IsAvailable must be
// cheap and side-effect-free. EnsureReady is idempotent and safe under
// concurrent callers.
type Strategy interface {
	ID() string
	Name() string
	Priority() int

	IsAvailable(ctx context.Context) bool
	EnsureReady(ctx context.Context) error

	Search(ctx context.Context, query string, opts types.SearchOptions) ([]types.Result, error)
	Index(ctx context.Context, record *types.Record) error
	Delete(ctx context.Context, entityID types.EntityID, recordID, tenantID string) error
}

// BulkIndexer is implemented by strategies with a native bulk write path.
// The orchestrator falls back to per-record Index otherwise.
type BulkIndexer interface {
	BulkIndex(ctx context.Context, records []*types.Record) error
}

// Purger removes every record of one entity within a tenant
type Purger interface {
	Purge(ctx context.Context, entityID types.EntityID, tenantID string) error
}

// IndexMaintainer exposes the per-tenant index lifecycle used by reindex
type IndexMaintainer interface {
	ClearIndex(ctx context.Context, tenantID string) error
	RecreateIndex(ctx context.Context, tenantID string) error
}
