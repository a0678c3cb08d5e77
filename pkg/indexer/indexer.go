// Package indexer turns primary-store rows into search records. Each
// entity registers a configuration with optional hooks that refine the
// raw row; the indexer runs the hook chain, applies scope validation and
// hands the finished records to the strategy fan-out.
package indexer

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/open-mercato/open-mercato-sub000/pkg/log"
	"github.com/open-mercato/open-mercato-sub000/pkg/metrics"
	"github.com/open-mercato/open-mercato-sub000/pkg/primary"
	"github.com/open-mercato/open-mercato-sub000/pkg/types"
)

// Actions reported by IndexRecordByID
const (
	ActionIndexed = "indexed"
	ActionSkipped = "skipped"
)

// Writer receives finished records. The orchestrator implements it.
type Writer interface {
	Index(ctx context.Context, record *types.Record, only []string) error
	BulkIndex(ctx context.Context, records []*types.Record, only []string) error
	Delete(ctx context.Context, entityID types.EntityID, recordID, tenantID string, only []string) error
	Purge(ctx context.Context, entityID types.EntityID, tenantID string, only []string) error
}

// Registry holds the entity configurations known to this process
type Registry struct {
	mu      sync.RWMutex
	configs map[types.EntityID]*types.EntityConfig
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{configs: map[types.EntityID]*types.EntityConfig{}}
}

// Register adds or replaces an entity configuration
func (r *Registry) Register(cfg *types.EntityConfig) error {
	if _, err := types.ParseEntityID(string(cfg.EntityID)); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[cfg.EntityID] = cfg
	return nil
}

// Get returns the configuration for an entity, or nil
func (r *Registry) Get(entityID types.EntityID) *types.EntityConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.configs[entityID]
}

// All returns enabled configurations ordered by priority descending,
// entity id ascending
func (r *Registry) All() []*types.EntityConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*types.EntityConfig, 0, len(r.configs))
	for _, cfg := range r.configs {
		if cfg.Enabled {
			out = append(out, cfg)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].EntityID < out[j].EntityID
	})
	return out
}

// Indexer builds and writes search records
type Indexer struct {
	registry *Registry
	writer   Writer
	engine   primary.QueryEngine
}

// New creates an indexer. engine may be nil when only pre-loaded rows
// are indexed.
func New(registry *Registry, writer Writer, engine primary.QueryEngine) *Indexer {
	return &Indexer{registry: registry, writer: writer, engine: engine}
}

// Registry exposes the entity registry for callers that enumerate
// entities (reindex, CLI)
func (ix *Indexer) Registry() *Registry { return ix.registry }

// BuildRecord runs the entity's hook chain over a raw row and returns
// the finished record. Rows without an id return an error.
func (ix *Indexer) BuildRecord(ctx context.Context, cfg *types.EntityConfig, row map[string]any, scope types.Scope) (*types.Record, error) {
	fields := normalizeCustomFields(row)

	recordID, err := primary.RecordID(fields)
	if err != nil {
		return nil, err
	}
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	record := &types.Record{
		EntityID:       cfg.EntityID,
		RecordID:       recordID,
		TenantID:       scope.TenantID,
		OrganizationID: scope.OrganizationID,
		Fields:         fields,
	}

	if cfg.BuildSource != nil {
		source, err := cfg.BuildSource(ctx, fields)
		if err != nil {
			return nil, fmt.Errorf("buildSource hook failed: %w", err)
		}
		if source != nil {
			if source.Fields != nil {
				record.Fields = source.Fields
			}
			record.Text = source.Text
			record.ChecksumSource = source.ChecksumSource
		}
	}
	if cfg.FormatResult != nil {
		presenter, err := cfg.FormatResult(ctx, record.Fields)
		if err != nil {
			return nil, fmt.Errorf("formatResult hook failed: %w", err)
		}
		if !presenter.IsEmpty() {
			record.Presenter = presenter
		}
	}
	if cfg.ResolveURL != nil {
		url, err := cfg.ResolveURL(ctx, record.Fields)
		if err != nil {
			return nil, fmt.Errorf("resolveUrl hook failed: %w", err)
		}
		record.URL = url
	}
	if cfg.ResolveLinks != nil {
		links, err := cfg.ResolveLinks(ctx, record.Fields)
		if err != nil {
			return nil, fmt.Errorf("resolveLinks hook failed: %w", err)
		}
		record.Links = links
	}
	return record, nil
}

// IndexRecord builds and writes one record from a pre-loaded row. The
// only whitelist further restricts the entity's strategies; nil means no
// extra restriction.
func (ix *Indexer) IndexRecord(ctx context.Context, entityID types.EntityID, row map[string]any, scope types.Scope, only []string) error {
	cfg := ix.registry.Get(entityID)
	if cfg == nil || !cfg.Enabled {
		return fmt.Errorf("entity %s is not registered for search", entityID)
	}
	record, err := ix.BuildRecord(ctx, cfg, row, scope)
	if err != nil {
		return err
	}
	return ix.writer.Index(ctx, record, restrict(cfg.Strategies, only))
}

// IndexRecordByID loads the row from the primary store and indexes it.
// A missing or out-of-scope row reports ActionSkipped, not an error.
func (ix *Indexer) IndexRecordByID(ctx context.Context, entityID types.EntityID, recordID string, scope types.Scope, only []string) (string, error) {
	cfg := ix.registry.Get(entityID)
	if cfg == nil || !cfg.Enabled {
		return ActionSkipped, nil
	}
	if ix.engine == nil {
		return ActionSkipped, fmt.Errorf("no query engine configured")
	}

	row, ok, err := ix.engine.Get(ctx, entityID, recordID, primary.QueryOptions{
		TenantID:            scope.TenantID,
		OrganizationID:      scope.OrganizationID,
		IncludeCustomFields: true,
	})
	if err != nil {
		return ActionSkipped, fmt.Errorf("failed to load %s/%s: %w", entityID, recordID, err)
	}
	if !ok {
		return ActionSkipped, nil
	}

	if err := ix.IndexRecord(ctx, entityID, row, scope, only); err != nil {
		return ActionSkipped, err
	}
	return ActionIndexed, nil
}

// BulkIndexRecords builds records from raw rows and writes them in one
// batch. Rows that fail to build are dropped and counted; the write
// itself is all-or-nothing per strategy.
func (ix *Indexer) BulkIndexRecords(ctx context.Context, entityID types.EntityID, rows []map[string]any, scope types.Scope, only []string) (indexed, dropped int, err error) {
	cfg := ix.registry.Get(entityID)
	if cfg == nil || !cfg.Enabled {
		return 0, len(rows), fmt.Errorf("entity %s is not registered for search", entityID)
	}

	records := make([]*types.Record, 0, len(rows))
	for _, row := range rows {
		record, buildErr := ix.BuildRecord(ctx, cfg, row, scope)
		if buildErr != nil {
			dropped++
			metrics.RecordsDropped.Inc()
			log.WithComponent("indexer").Debug().
				Str("entity_id", string(entityID)).Err(buildErr).
				Msg("dropping row")
			continue
		}
		records = append(records, record)
	}
	if len(records) == 0 {
		return 0, dropped, nil
	}
	if err := ix.writer.BulkIndex(ctx, records, restrict(cfg.Strategies, only)); err != nil {
		return 0, dropped, err
	}
	return len(records), dropped, nil
}

// DeleteRecord removes one record from every strategy the entity uses
func (ix *Indexer) DeleteRecord(ctx context.Context, entityID types.EntityID, recordID, tenantID string, only []string) error {
	var entityStrategies []string
	if cfg := ix.registry.Get(entityID); cfg != nil {
		entityStrategies = cfg.Strategies
	}
	return ix.writer.Delete(ctx, entityID, recordID, tenantID, restrict(entityStrategies, only))
}

// PurgeEntity removes every record of the entity within the tenant
func (ix *Indexer) PurgeEntity(ctx context.Context, entityID types.EntityID, tenantID string, only []string) error {
	var entityStrategies []string
	if cfg := ix.registry.Get(entityID); cfg != nil {
		entityStrategies = cfg.Strategies
	}
	return ix.writer.Purge(ctx, entityID, tenantID, restrict(entityStrategies, only))
}

// restrict intersects the entity's strategy whitelist with a caller
// restriction. Either side being empty means the other side wins.
func restrict(entityStrategies, only []string) []string {
	if len(only) == 0 {
		return entityStrategies
	}
	if len(entityStrategies) == 0 {
		return only
	}
	allowed := make(map[string]bool, len(entityStrategies))
	for _, id := range entityStrategies {
		allowed[id] = true
	}
	var out []string
	for _, id := range only {
		if allowed[id] {
			out = append(out, id)
		}
	}
	if out == nil {
		// Disjoint sets: restrict to nothing rather than everything.
		out = []string{}
	}
	return out
}

// normalizeCustomFields rewrites custom-field keys ("cf:nickname" or
// "cf_nickname") to their bare names without clobbering native columns
func normalizeCustomFields(row map[string]any) map[string]any {
	out := make(map[string]any, len(row))
	for k, v := range row {
		name := k
		if strings.HasPrefix(k, "cf:") {
			name = k[len("cf:"):]
		} else if strings.HasPrefix(k, "cf_") {
			name = k[len("cf_"):]
		}
		if name != k {
			if _, exists := row[name]; exists {
				out[k] = v
				continue
			}
		}
		out[name] = v
	}
	return out
}
