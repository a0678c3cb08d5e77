// Package reindex rebuilds search indexes from the primary store. Runs
// are guarded by a per-(tenant, index type) lock in the module-config
// store so full-text and vector rebuilds can overlap but two rebuilds of
// the same index cannot. Work happens either directly in-process or as
// batch jobs on the indexing queues.
package reindex

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/open-mercato/open-mercato-sub000/pkg/indexer"
	"github.com/open-mercato/open-mercato-sub000/pkg/log"
	"github.com/open-mercato/open-mercato-sub000/pkg/metrics"
	"github.com/open-mercato/open-mercato-sub000/pkg/modconfig"
	"github.com/open-mercato/open-mercato-sub000/pkg/primary"
	"github.com/open-mercato/open-mercato-sub000/pkg/queue"
	"github.com/open-mercato/open-mercato-sub000/pkg/strategy"
	"github.com/open-mercato/open-mercato-sub000/pkg/types"
)

const (
	// PageSize rows are read from the primary store per batch.
	PageSize = 200

	// MaxPages caps a runaway scan of one entity.
	MaxPages = 10000

	lockNamespace = "search"

	// staleAbsolute marks any lock older than this reclaimable.
	staleAbsolute = 30 * time.Minute

	// staleIdle marks a lock reclaimable sooner when its queue is idle,
	// judged by start time or by last heartbeat.
	staleIdle = 2 * time.Minute
)

// Phase names reported through the progress callback
const (
	PhaseStarting = "starting"
	PhaseFetching = "fetching"
	PhaseIndexing = "indexing"
	PhaseComplete = "complete"
)

// Progress is one progress report
type Progress struct {
	Phase          string
	EntityID       types.EntityID
	Page           int
	RecordsIndexed int
}

// Options configures one reindex run
type Options struct {
	Type           types.IndexType
	TenantID       string
	OrganizationID string

	// EntityTypes restricts the run; empty means every enabled entity.
	EntityTypes []types.EntityID

	// Queued enqueues batch jobs instead of indexing in-process.
	Queued bool

	// RecreateIndex drops and recreates the physical index first.
	RecreateIndex bool

	// Partitions/Partition split the scan across parallel runs: this run
	// takes rows whose record id hashes to Partition mod Partitions.
	// Partitions <= 1 disables splitting.
	Partitions int
	Partition  int

	// PageSize overrides the scan page size; zero means PageSize.
	PageSize int

	// Force reclaims any existing lock regardless of staleness.
	Force bool

	// Progress, when set, receives phase reports.
	Progress func(Progress)
}

// Result summarizes one run
type Result struct {
	Success           bool     `json:"success"`
	EntitiesProcessed int      `json:"entitiesProcessed"`
	RecordsIndexed    int      `json:"recordsIndexed"`
	RecordsDropped    int      `json:"recordsDropped"`
	JobsEnqueued      int      `json:"jobsEnqueued,omitempty"`
	Errors            []string `json:"errors,omitempty"`
}

// Controller runs reindex operations
type Controller struct {
	indexer    *indexer.Indexer
	engine     primary.QueryEngine
	queue      queue.Queue
	modcfg     modconfig.Service
	strategies *strategy.Registry

	now func() time.Time
}

// New creates a controller. queue may be nil when only direct mode is
// used; strategies may be nil to disable index recreation.
func New(ix *indexer.Indexer, engine primary.QueryEngine, q queue.Queue, modcfg modconfig.Service, strategies *strategy.Registry) *Controller {
	return &Controller{
		indexer:    ix,
		engine:     engine,
		queue:      q,
		modcfg:     modcfg,
		strategies: strategies,
		now:        time.Now,
	}
}

// LockKey returns the module-config key of the reindex lock
func LockKey(indexType types.IndexType, tenantID string) string {
	return fmt.Sprintf("reindex_lock:%s:%s", indexType, tenantID)
}

// Run executes a reindex. The lock is acquired first; in direct mode it
// is released when the run ends, in queued mode it stays until the
// stale-lock rules reap it after the queue drains.
func (c *Controller) Run(ctx context.Context, opts Options) (*Result, error) {
	if opts.TenantID == "" {
		return nil, fmt.Errorf("reindex requires a tenantId")
	}
	if opts.Type != types.IndexTypeFulltext && opts.Type != types.IndexTypeVector {
		return nil, fmt.Errorf("unknown index type %q", opts.Type)
	}
	if opts.Partitions > 1 && (opts.Partition < 0 || opts.Partition >= opts.Partitions) {
		return nil, fmt.Errorf("partition %d out of range [0,%d)", opts.Partition, opts.Partitions)
	}

	if err := c.acquireLock(ctx, opts); err != nil {
		return nil, err
	}
	start := c.now()
	result := &Result{Success: true}

	if !opts.Queued {
		defer c.releaseLock(ctx, opts)
	}

	c.report(opts, Progress{Phase: PhaseStarting})

	if opts.RecreateIndex {
		if err := c.recreateIndex(ctx, opts); err != nil {
			result.Success = false
			result.Errors = append(result.Errors, err.Error())
			metrics.ReindexRuns.WithLabelValues(string(opts.Type), "error").Inc()
			return result, nil
		}
	}

	for _, cfg := range c.targetEntities(opts) {
		if ctx.Err() != nil {
			result.Success = false
			result.Errors = append(result.Errors, ctx.Err().Error())
			break
		}
		if err := c.reindexEntity(ctx, opts, cfg, result); err != nil {
			result.Success = false
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", cfg.EntityID, err))
			continue
		}
		result.EntitiesProcessed++
	}

	c.report(opts, Progress{Phase: PhaseComplete, RecordsIndexed: result.RecordsIndexed})

	outcome := "ok"
	if !result.Success {
		outcome = "error"
	}
	metrics.ReindexRuns.WithLabelValues(string(opts.Type), outcome).Inc()
	metrics.ReindexDuration.WithLabelValues(string(opts.Type)).Observe(c.now().Sub(start).Seconds())
	return result, nil
}

// targetEntities resolves the entity list, keeping only entities that
// participate in the run's index type
func (c *Controller) targetEntities(opts Options) []*types.EntityConfig {
	registry := c.indexer.Registry()

	var candidates []*types.EntityConfig
	if len(opts.EntityTypes) == 0 {
		candidates = registry.All()
	} else {
		for _, id := range opts.EntityTypes {
			if cfg := registry.Get(id); cfg != nil && cfg.Enabled {
				candidates = append(candidates, cfg)
			}
		}
	}

	strategyID := strategyForType(opts.Type)
	out := candidates[:0]
	for _, cfg := range candidates {
		if cfg.SupportsStrategy(strategyID) {
			out = append(out, cfg)
		}
	}
	return out
}

func (c *Controller) reindexEntity(ctx context.Context, opts Options, cfg *types.EntityConfig, result *Result) error {
	scope := types.Scope{TenantID: opts.TenantID, OrganizationID: opts.OrganizationID}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = PageSize
	}

	for page := 1; page <= MaxPages; page++ {
		c.report(opts, Progress{Phase: PhaseFetching, EntityID: cfg.EntityID, Page: page})

		pageResult, err := c.engine.Query(ctx, cfg.EntityID, primary.QueryOptions{
			TenantID:            opts.TenantID,
			OrganizationID:      opts.OrganizationID,
			Page:                page,
			PageSize:            pageSize,
			IncludeCustomFields: true,
		})
		if err != nil {
			return fmt.Errorf("failed to fetch page %d: %w", page, err)
		}
		if len(pageResult.Items) == 0 {
			break
		}

		rows := c.partitionRows(opts, pageResult.Items)
		if len(rows) > 0 {
			c.report(opts, Progress{Phase: PhaseIndexing, EntityID: cfg.EntityID, Page: page})
			if opts.Queued {
				enqueued, err := c.enqueueBatch(ctx, opts, cfg.EntityID, rows)
				if err != nil {
					return err
				}
				result.JobsEnqueued += enqueued
			} else {
				indexed, dropped, err := c.indexer.BulkIndexRecords(ctx, cfg.EntityID, rows, scope,
					strategiesForWrite(opts.Type))
				if err != nil {
					return err
				}
				result.RecordsIndexed += indexed
				result.RecordsDropped += dropped
			}
		}

		c.Heartbeat(ctx, opts.Type, opts.TenantID)

		if page*pageSize >= pageResult.Total {
			break
		}
	}
	return nil
}

// partitionRows keeps the rows belonging to this run's partition
func (c *Controller) partitionRows(opts Options, rows []map[string]any) []map[string]any {
	if opts.Partitions <= 1 {
		return rows
	}
	out := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		id, _ := row["id"].(string)
		if id == "" {
			continue
		}
		h := fnv.New32a()
		h.Write([]byte(id))
		if int(h.Sum32())%opts.Partitions == opts.Partition {
			out = append(out, row)
		}
	}
	return out
}

func (c *Controller) enqueueBatch(ctx context.Context, opts Options, entityID types.EntityID, rows []map[string]any) (int, error) {
	records := make([]types.JobRecord, 0, len(rows))
	for _, row := range rows {
		id, _ := row["id"].(string)
		if id == "" {
			continue
		}
		records = append(records, types.JobRecord{EntityID: entityID, RecordID: id})
	}
	if len(records) == 0 {
		return 0, nil
	}

	queueName := queueForType(opts.Type)
	job := &types.Job{
		JobType:        types.JobTypeBatchIndex,
		TenantID:       opts.TenantID,
		OrganizationID: opts.OrganizationID,
		Records:        records,
	}
	if err := c.queue.Enqueue(ctx, queueName, job); err != nil {
		return 0, fmt.Errorf("failed to enqueue batch: %w", err)
	}
	metrics.JobsEnqueued.WithLabelValues(queueName).Inc()
	return 1, nil
}

func (c *Controller) recreateIndex(ctx context.Context, opts Options) error {
	if c.strategies == nil {
		return fmt.Errorf("index recreation is not configured")
	}
	s, ok := c.strategies.Get(strategyForType(opts.Type))
	if !ok {
		return fmt.Errorf("strategy %s is not registered", strategyForType(opts.Type))
	}
	maintainer, ok := s.(strategy.IndexMaintainer)
	if !ok {
		return fmt.Errorf("strategy %s does not support index recreation", s.ID())
	}
	if err := maintainer.RecreateIndex(ctx, opts.TenantID); err != nil {
		return fmt.Errorf("failed to recreate index: %w", err)
	}
	return nil
}

// acquireLock claims the (type, tenant) lock, reclaiming stale locks
func (c *Controller) acquireLock(ctx context.Context, opts Options) error {
	key := LockKey(opts.Type, opts.TenantID)

	var existing types.ReindexLock
	found, err := c.modcfg.GetValue(ctx, lockNamespace, key, &existing)
	if err != nil {
		return fmt.Errorf("failed to read reindex lock: %w", err)
	}
	if found && !opts.Force && !c.isStale(ctx, opts.Type, &existing) {
		return fmt.Errorf("a %s reindex is already running for tenant %s (started %s)",
			opts.Type, opts.TenantID, existing.StartedAt.Format(time.RFC3339))
	}
	if found {
		log.WithComponent("reindex").Warn().
			Str("tenant_id", opts.TenantID).
			Str("type", string(opts.Type)).
			Time("started_at", existing.StartedAt).
			Msg("reclaiming stale reindex lock")
	}

	action := "reindex"
	if opts.Queued {
		action = "reindex-queued"
	}
	lock := types.ReindexLock{
		Type:            opts.Type,
		Action:          action,
		TenantID:        opts.TenantID,
		OrganizationID:  opts.OrganizationID,
		StartedAt:       c.now(),
		LastHeartbeatAt: c.now(),
	}
	if err := c.modcfg.SetValue(ctx, lockNamespace, key, lock); err != nil {
		return fmt.Errorf("failed to write reindex lock: %w", err)
	}
	return nil
}

// isStale applies the reclamation rules: an old lock is always stale; a
// younger one only when its queue has gone idle, judged by start time or
// by a silent heartbeat.
func (c *Controller) isStale(ctx context.Context, indexType types.IndexType, lock *types.ReindexLock) bool {
	now := c.now()
	if now.Sub(lock.StartedAt) > staleAbsolute {
		return true
	}

	idle := c.queueIdle(ctx, indexType)
	if !idle {
		return false
	}
	if now.Sub(lock.StartedAt) > staleIdle {
		return true
	}
	return !lock.LastHeartbeatAt.IsZero() && now.Sub(lock.LastHeartbeatAt) > staleIdle
}

func (c *Controller) queueIdle(ctx context.Context, indexType types.IndexType) bool {
	if c.queue == nil {
		return true
	}
	counts, err := c.queue.JobCounts(ctx, queueForType(indexType))
	if err != nil {
		return false
	}
	return counts.Idle()
}

// Heartbeat refreshes the lock's heartbeat timestamp. Workers call this
// between batch records; a missing lock is a no-op.
func (c *Controller) Heartbeat(ctx context.Context, indexType types.IndexType, tenantID string) {
	key := LockKey(indexType, tenantID)

	var lock types.ReindexLock
	found, err := c.modcfg.GetValue(ctx, lockNamespace, key, &lock)
	if err != nil || !found {
		return
	}
	lock.LastHeartbeatAt = c.now()
	if err := c.modcfg.SetValue(ctx, lockNamespace, key, lock); err != nil {
		log.WithComponent("reindex").Warn().Err(err).Msg("failed to heartbeat reindex lock")
	}
}

func (c *Controller) releaseLock(ctx context.Context, opts Options) {
	if err := c.modcfg.DeleteValue(ctx, lockNamespace, LockKey(opts.Type, opts.TenantID)); err != nil {
		log.WithComponent("reindex").Warn().Err(err).Msg("failed to release reindex lock")
	}
}

// Status returns the current lock for a (type, tenant), if any. A lock
// that has gone stale is cleared in place and reported as absent, so a
// queued run that drained its queue stops looking active.
func (c *Controller) Status(ctx context.Context, indexType types.IndexType, tenantID string) (*types.ReindexLock, error) {
	key := LockKey(indexType, tenantID)

	var lock types.ReindexLock
	found, err := c.modcfg.GetValue(ctx, lockNamespace, key, &lock)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	if c.isStale(ctx, indexType, &lock) {
		if err := c.modcfg.DeleteValue(ctx, lockNamespace, key); err != nil {
			log.WithComponent("reindex").Warn().Err(err).Msg("failed to clear stale reindex lock")
		}
		return nil, nil
	}
	return &lock, nil
}

func (c *Controller) report(opts Options, p Progress) {
	if opts.Progress != nil {
		opts.Progress(p)
	}
}

// strategyForType names the strategy a reindex of the type targets
func strategyForType(indexType types.IndexType) string {
	if indexType == types.IndexTypeVector {
		return strategy.IDVector
	}
	return strategy.IDFulltext
}

// strategiesForWrite lists the strategies written during a direct run.
// Full-text runs refresh the token index alongside.
func strategiesForWrite(indexType types.IndexType) []string {
	if indexType == types.IndexTypeVector {
		return []string{strategy.IDVector}
	}
	return []string{strategy.IDFulltext, strategy.IDTokens}
}

func queueForType(indexType types.IndexType) string {
	if indexType == types.IndexTypeVector {
		return queue.QueueVectorIndexing
	}
	return queue.QueueFulltextIndexing
}
