package fulltext

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/open-mercato/open-mercato-sub000/pkg/fieldpolicy"
	"github.com/open-mercato/open-mercato-sub000/pkg/strategy"
	"github.com/open-mercato/open-mercato-sub000/pkg/types"
)

// Strategy wraps a pluggable full-text driver with per-tenant index
// isolation. Index initialization is single-flighted: concurrent first
// writers to a tenant share one initialization call, and a failed
// initialization is retried by the next caller.
type Strategy struct {
	driver        Driver
	prefix        string
	resolvePolicy fieldpolicy.Resolver
	redact        bool

	initGroup   singleflight.Group
	initialized sync.Map // indexName -> struct{}

	now func() time.Time
}

// Options configures the strategy
type Options struct {
	// IndexPrefix prefixes every physical index name.
	IndexPrefix string

	// ResolvePolicy supplies per-entity field policies; nil means every
	// field is searchable.
	ResolvePolicy fieldpolicy.Resolver

	// RedactEncrypted replaces presenter fragments and link labels with
	// placeholders before documents leave the process.
	RedactEncrypted bool
}

// New creates a full-text strategy over the given driver
func New(driver Driver, opts Options) *Strategy {
	prefix := opts.IndexPrefix
	if prefix == "" {
		prefix = "search"
	}
	return &Strategy{
		driver:        driver,
		prefix:        prefix,
		resolvePolicy: opts.ResolvePolicy,
		redact:        opts.RedactEncrypted,
		now:           time.Now,
	}
}

// ID implements strategy.Strategy
func (s *Strategy) ID() string { return strategy.IDFulltext }

// Name implements strategy.Strategy
func (s *Strategy) Name() string { return "Full-text search" }

// Priority implements strategy.Strategy; fulltext is most authoritative
func (s *Strategy) Priority() int { return 30 }

// IsAvailable implements strategy.Strategy
func (s *Strategy) IsAvailable(ctx context.Context) bool {
	return s.driver.Healthy(ctx)
}

// EnsureReady implements strategy.Strategy. Index creation is deferred
// to the first write per tenant, so there is nothing global to prepare.
func (s *Strategy) EnsureReady(context.Context) error { return nil }

// ensureIndex initializes the tenant index exactly once per process.
// Concurrent callers share the in-flight initialization; on failure the
// entry is forgotten so a later caller retries.
func (s *Strategy) ensureIndex(ctx context.Context, indexName string) error {
	if _, ok := s.initialized.Load(indexName); ok {
		return nil
	}

	_, err, _ := s.initGroup.Do(indexName, func() (any, error) {
		if err := s.driver.EnsureIndex(ctx, indexName); err != nil {
			return nil, err
		}
		s.initialized.Store(indexName, struct{}{})
		return nil, nil
	})
	if err != nil {
		s.initGroup.Forget(indexName)
		return strategy.NewError(s.ID(), "ensure index", err)
	}
	return nil
}

// Search queries the tenant index. A missing index means the tenant has
// never indexed anything and yields an empty result.
func (s *Strategy) Search(ctx context.Context, query string, opts types.SearchOptions) ([]types.Result, error) {
	indexName := IndexName(s.prefix, opts.TenantID)

	entityIDs := make([]string, len(opts.EntityTypes))
	for i, e := range opts.EntityTypes {
		entityIDs[i] = string(e)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}

	hits, err := s.driver.Search(ctx, indexName, SearchRequest{
		Query:  query,
		Filter: buildFilter(opts.OrganizationID, entityIDs),
		Limit:  limit,
	})
	if err != nil {
		if strategy.IsIndexNotFound(err) {
			return nil, nil
		}
		return nil, strategy.NewError(s.ID(), "search", err)
	}

	results := make([]types.Result, 0, len(hits))
	for _, hit := range hits {
		result := resultFromDocument(hit.Document, hit.Score)
		result.Source = s.ID()
		results = append(results, result)
	}
	return results, nil
}

// Index upserts one record into the tenant index
func (s *Strategy) Index(ctx context.Context, record *types.Record) error {
	return s.BulkIndex(ctx, []*types.Record{record})
}

// BulkIndex implements strategy.BulkIndexer
func (s *Strategy) BulkIndex(ctx context.Context, records []*types.Record) error {
	byIndex := make(map[string][]Document)
	for _, record := range records {
		indexName := IndexName(s.prefix, record.TenantID)
		byIndex[indexName] = append(byIndex[indexName], s.prepare(record))
	}

	for indexName, docs := range byIndex {
		if err := s.ensureIndex(ctx, indexName); err != nil {
			return err
		}
		if err := s.driver.Index(ctx, indexName, docs); err != nil {
			return strategy.NewError(s.ID(), "index", err)
		}
	}
	return nil
}

// Delete removes one document; a missing index is a no-op
func (s *Strategy) Delete(ctx context.Context, _ types.EntityID, recordID, tenantID string) error {
	err := s.driver.Delete(ctx, IndexName(s.prefix, tenantID), recordID)
	if err != nil && !strategy.IsIndexNotFound(err) {
		return strategy.NewError(s.ID(), "delete", err)
	}
	return nil
}

// Purge removes every document of one entity; a missing index is a no-op
func (s *Strategy) Purge(ctx context.Context, entityID types.EntityID, tenantID string) error {
	filter := `_entityId = "` + escapeFilterValue(string(entityID)) + `"`
	err := s.driver.DeleteByFilter(ctx, IndexName(s.prefix, tenantID), filter)
	if err != nil && !strategy.IsIndexNotFound(err) {
		return strategy.NewError(s.ID(), "purge", err)
	}
	return nil
}

// ClearIndex implements strategy.IndexMaintainer
func (s *Strategy) ClearIndex(ctx context.Context, tenantID string) error {
	err := s.driver.ClearIndex(ctx, IndexName(s.prefix, tenantID))
	if err != nil && !strategy.IsIndexNotFound(err) {
		return strategy.NewError(s.ID(), "clear index", err)
	}
	return nil
}

// RecreateIndex implements strategy.IndexMaintainer
func (s *Strategy) RecreateIndex(ctx context.Context, tenantID string) error {
	indexName := IndexName(s.prefix, tenantID)
	s.initialized.Delete(indexName)
	if err := s.driver.RecreateIndex(ctx, indexName); err != nil {
		return strategy.NewError(s.ID(), "recreate index", err)
	}
	s.initialized.Store(indexName, struct{}{})
	return nil
}

// GetDocuments pages raw documents for diagnostics
func (s *Strategy) GetDocuments(ctx context.Context, tenantID string, limit, offset int) ([]Document, error) {
	docs, err := s.driver.GetDocuments(ctx, IndexName(s.prefix, tenantID), limit, offset)
	if err != nil {
		if strategy.IsIndexNotFound(err) {
			return nil, nil
		}
		return nil, strategy.NewError(s.ID(), "get documents", err)
	}
	return docs, nil
}

// GetIndexStats returns the tenant index statistics
func (s *Strategy) GetIndexStats(ctx context.Context, tenantID string) (IndexStats, error) {
	stats, err := s.driver.GetIndexStats(ctx, IndexName(s.prefix, tenantID))
	if err != nil && !strategy.IsIndexNotFound(err) {
		return IndexStats{}, strategy.NewError(s.ID(), "get index stats", err)
	}
	return stats, nil
}

// GetEntityCounts returns per-entity document counts for the tenant
func (s *Strategy) GetEntityCounts(ctx context.Context, tenantID string) (map[string]int64, error) {
	counts, err := s.driver.GetEntityCounts(ctx, IndexName(s.prefix, tenantID))
	if err != nil {
		if strategy.IsIndexNotFound(err) {
			return map[string]int64{}, nil
		}
		return nil, strategy.NewError(s.ID(), "get entity counts", err)
	}
	return counts, nil
}

func (s *Strategy) prepare(record *types.Record) Document {
	var policy fieldpolicy.Policy
	if s.resolvePolicy != nil {
		policy = s.resolvePolicy(record.EntityID)
	}
	return prepareDocument(record, policy, s.redact, s.now())
}
