package vector

import (
	"context"

	"github.com/open-mercato/open-mercato-sub000/pkg/types"
)

// QueryFilter scopes an ANN query. An empty OrganizationID means "no
// org filter", not "only rows without an organization".
type QueryFilter struct {
	TenantID       string
	OrganizationID string
	EntityIDs      []string
}

// QueryRequest is a driver-level ANN query
type QueryRequest struct {
	Vector []float32
	Limit  int
	Filter QueryFilter
}

// QueryResult is one ANN hit. Score is cosine-derived similarity in
// [-1,1] (1 - distance).
type QueryResult struct {
	EntityID        types.EntityID
	RecordID        string
	OrganizationID  string
	Score           float64
	Presenter       *types.Presenter
	URL             string
	Links           []types.Link
	PrimaryLinkHref string
	Checksum        string
}

// Doc is one stored vector document
type Doc struct {
	EntityID        types.EntityID
	RecordID        string
	TenantID        string
	OrganizationID  string
	Vector          []float32
	Presenter       *types.Presenter
	URL             string
	Links           []types.Link
	PrimaryLinkHref string
	Checksum        string
}

// ChecksumReader is an optional driver capability: stored checksum
// lookup lets the strategy skip re-embedding unchanged records.
type ChecksumReader interface {
	Checksums(ctx context.Context, entityID types.EntityID, tenantID string, recordIDs []string) (map[string]string, error)
}

// Driver is the pluggable vector store contract
type Driver interface {
	// Init prepares schema and indexes for vectors of the given
	// dimension. Idempotent; serialized by the strategy.
	Init(ctx context.Context, dimension int) error

	// Query runs an ANN search.
	Query(ctx context.Context, req QueryRequest) ([]QueryResult, error)

	// Upsert writes documents keyed by (tenantId, entityId, recordId).
	Upsert(ctx context.Context, docs []Doc) error

	// Delete removes one document.
	Delete(ctx context.Context, entityID types.EntityID, recordID, tenantID string) error

	// Purge removes every document of one entity within a tenant.
	Purge(ctx context.Context, entityID types.EntityID, tenantID string) error
}
