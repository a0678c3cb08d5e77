// Package worker executes queued indexing jobs. Each named queue gets a
// handler that routes by job type, refreshes runtime configuration,
// tracks vector coverage and reports real failures back to the queue
// for redelivery.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/open-mercato/open-mercato-sub000/pkg/embedding"
	"github.com/open-mercato/open-mercato-sub000/pkg/events"
	"github.com/open-mercato/open-mercato-sub000/pkg/indexer"
	"github.com/open-mercato/open-mercato-sub000/pkg/log"
	"github.com/open-mercato/open-mercato-sub000/pkg/metrics"
	"github.com/open-mercato/open-mercato-sub000/pkg/modconfig"
	"github.com/open-mercato/open-mercato-sub000/pkg/queue"
	"github.com/open-mercato/open-mercato-sub000/pkg/strategy"
	"github.com/open-mercato/open-mercato-sub000/pkg/types"
)

// embeddingConfigNS and embeddingConfigKey locate the runtime embedding
// provider configuration in the module-config store
const (
	embeddingConfigNS  = "vector"
	embeddingConfigKey = "embedding_provider"
)

// Heartbeat extends a reindex lock while a long batch runs. Nil disables
// heartbeating.
type Heartbeat func(ctx context.Context, indexType types.IndexType, tenantID string)

// Options configures a worker
type Options struct {
	// DisableVectorAutoIndexing skips index jobs on the vector queue.
	DisableVectorAutoIndexing bool

	// DisableFulltextAutoIndexing skips index jobs on the full-text queue.
	DisableFulltextAutoIndexing bool

	// Heartbeat is invoked after each record of a batch-index job.
	Heartbeat Heartbeat

	// BatchConcurrency caps parallel record indexing inside one
	// batch-index job. Values below one mean sequential.
	BatchConcurrency int
}

// Worker turns queue jobs into indexer calls
type Worker struct {
	indexer    *indexer.Indexer
	embeddings *embedding.Service
	modcfg     modconfig.Service
	bus        *events.Bus
	opts       Options
}

// New creates a worker. embeddings and modcfg may be nil when the vector
// pipeline is not deployed; bus may be nil to disable coverage events.
func New(ix *indexer.Indexer, embeddings *embedding.Service, modcfg modconfig.Service, bus *events.Bus, opts Options) *Worker {
	return &Worker{indexer: ix, embeddings: embeddings, modcfg: modcfg, bus: bus, opts: opts}
}

// Handler returns the job handler for the named queue
func (w *Worker) Handler(queueName string) queue.Handler {
	return func(ctx context.Context, job *types.Job) error {
		return w.handle(ctx, queueName, job)
	}
}

// Run consumes the named queue until ctx is done
func (w *Worker) Run(ctx context.Context, q queue.Queue, queueName string) error {
	log.WithQueue(queueName).Info().Msg("worker started")
	defer log.WithQueue(queueName).Info().Msg("worker stopped")
	go sampleQueueDepth(ctx, q, queueName)
	return q.Process(ctx, queueName, w.Handler(queueName))
}

// sampleQueueDepth keeps the depth gauge current while the worker runs
func sampleQueueDepth(ctx context.Context, q queue.Queue, queueName string) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			counts, err := q.JobCounts(ctx, queueName)
			if err != nil {
				continue
			}
			metrics.QueueDepth.WithLabelValues(queueName).Set(float64(counts.Waiting))
		}
	}
}

func (w *Worker) handle(ctx context.Context, queueName string, job *types.Job) error {
	// A job without a tenant cannot be scoped to any index; retrying
	// will not fix it, so it is skipped rather than failed.
	if job.TenantID == "" && job.JobType != types.JobTypeBatchIndex {
		log.WithQueue(queueName).Warn().
			Str("job_type", string(job.JobType)).
			Str("entity_id", string(job.EntityType)).
			Msg("job without tenantId, skipping")
		metrics.JobsProcessed.WithLabelValues(queueName, "skipped").Inc()
		return nil
	}
	if job.TenantID == "" {
		log.WithQueue(queueName).Warn().Msg("batch job without tenantId, skipping")
		metrics.JobsProcessed.WithLabelValues(queueName, "skipped").Inc()
		return nil
	}

	if queueName == queue.QueueVectorIndexing {
		w.refreshEmbeddingConfig(ctx, job.JobType)
	}

	var err error
	switch job.JobType {
	case types.JobTypeIndex:
		err = w.handleIndex(ctx, queueName, job)
	case types.JobTypeDelete:
		err = w.handleDelete(ctx, queueName, job)
	case types.JobTypeBatchIndex:
		err = w.handleBatch(ctx, queueName, job)
	case types.JobTypePurge:
		err = w.handlePurge(ctx, queueName, job)
	default:
		log.WithQueue(queueName).Warn().
			Str("job_type", string(job.JobType)).Msg("unknown job type, skipping")
		metrics.JobsProcessed.WithLabelValues(queueName, "skipped").Inc()
		return nil
	}

	if err != nil {
		metrics.JobsProcessed.WithLabelValues(queueName, "error").Inc()
		return err
	}
	metrics.JobsProcessed.WithLabelValues(queueName, "ok").Inc()
	return nil
}

func (w *Worker) handleIndex(ctx context.Context, queueName string, job *types.Job) error {
	if w.autoIndexingDisabled(queueName) {
		log.WithQueue(queueName).Debug().
			Str("entity_id", string(job.EntityType)).
			Msg("auto-indexing disabled, skipping index job")
		return nil
	}

	action, err := w.indexer.IndexRecordByID(ctx, job.EntityType, job.RecordID,
		types.Scope{TenantID: job.TenantID, OrganizationID: job.OrganizationID},
		strategiesFor(queueName))
	if err != nil {
		return fmt.Errorf("failed to index %s/%s: %w", job.EntityType, job.RecordID, err)
	}
	if action == indexer.ActionIndexed && queueName == queue.QueueVectorIndexing {
		w.adjustCoverage(job.TenantID, job.EntityType, 1)
	}
	return nil
}

func (w *Worker) handleDelete(ctx context.Context, queueName string, job *types.Job) error {
	err := w.indexer.DeleteRecord(ctx, job.EntityType, job.RecordID, job.TenantID,
		strategiesFor(queueName))
	if err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", job.EntityType, job.RecordID, err)
	}
	if queueName == queue.QueueVectorIndexing {
		w.adjustCoverage(job.TenantID, job.EntityType, -1)
	}
	return nil
}

func (w *Worker) handlePurge(ctx context.Context, queueName string, job *types.Job) error {
	err := w.indexer.PurgeEntity(ctx, job.EntityType, job.TenantID, strategiesFor(queueName))
	if err != nil {
		return fmt.Errorf("failed to purge %s: %w", job.EntityType, err)
	}
	if queueName == queue.QueueVectorIndexing {
		w.refreshCoverage(job.TenantID, job.EntityType)
	}
	return nil
}

// handleBatch indexes each record independently: one bad record must not
// sink the rest of the batch. The batch fails only when every record
// failed, which signals a systemic problem worth redelivering.
//
// Records sharing an ordering key run in one sequential lane; lanes run
// in parallel up to BatchConcurrency. A repeated record therefore still
// indexes in submission order while distinct records embed concurrently.
func (w *Worker) handleBatch(ctx context.Context, queueName string, job *types.Job) error {
	if w.autoIndexingDisabled(queueName) {
		return nil
	}
	if len(job.Records) == 0 {
		return nil
	}

	indexType := indexTypeFor(queueName)
	scope := types.Scope{TenantID: job.TenantID, OrganizationID: job.OrganizationID}

	var laneKeys []string
	lanes := map[string][]types.JobRecord{}
	for _, rec := range job.Records {
		perRecord := types.Job{
			JobType:    types.JobTypeIndex,
			EntityType: rec.EntityID,
			RecordID:   rec.RecordID,
			TenantID:   job.TenantID,
		}
		key := perRecord.OrderingKey()
		if _, ok := lanes[key]; !ok {
			laneKeys = append(laneKeys, key)
		}
		lanes[key] = append(lanes[key], rec)
	}

	var mu sync.Mutex
	var indexed, failed int

	g, gctx := errgroup.WithContext(ctx)
	limit := w.opts.BatchConcurrency
	if limit < 1 {
		limit = 1
	}
	g.SetLimit(limit)

	for _, key := range laneKeys {
		records := lanes[key]
		g.Go(func() error {
			for _, rec := range records {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				action, err := w.indexer.IndexRecordByID(gctx, rec.EntityID, rec.RecordID, scope,
					strategiesFor(queueName))
				mu.Lock()
				if err != nil {
					failed++
					log.WithQueue(queueName).Warn().
						Str("entity_id", string(rec.EntityID)).
						Str("record_id", rec.RecordID).Err(err).
						Msg("batch record failed")
				} else if action == indexer.ActionIndexed {
					indexed++
				}
				if w.opts.Heartbeat != nil {
					w.opts.Heartbeat(gctx, indexType, job.TenantID)
				}
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if queueName == queue.QueueVectorIndexing && indexed > 0 {
		w.refreshCoverage(job.TenantID, "")
	}
	if failed > 0 && indexed == 0 {
		return fmt.Errorf("all %d records of batch failed", failed)
	}
	return nil
}

// refreshEmbeddingConfig applies the embedding provider configuration
// stored in module-config before each vector job. Failures are warned
// about for index jobs and stay silent for deletes and purges, which do
// not embed anything.
func (w *Worker) refreshEmbeddingConfig(ctx context.Context, jobType types.JobType) {
	if w.embeddings == nil || w.modcfg == nil {
		return
	}
	var cfg embedding.ProviderConfig
	found, err := w.modcfg.GetValue(ctx, embeddingConfigNS, embeddingConfigKey, &cfg)
	if err != nil {
		if jobType == types.JobTypeIndex || jobType == types.JobTypeBatchIndex {
			log.WithComponent("worker").Warn().Err(err).
				Msg("failed to refresh embedding configuration")
		}
		return
	}
	if found {
		w.embeddings.Configure(cfg)
	}
}

// adjustCoverage applies a +-1 delta to the coverage gauge
func (w *Worker) adjustCoverage(tenantID string, entityID types.EntityID, delta float64) {
	metrics.VectorCoverage.WithLabelValues(tenantID, string(entityID)).Add(delta)
}

// refreshCoverage asks for a recount when a delta cannot express the
// change (purges, batches)
func (w *Worker) refreshCoverage(tenantID string, entityID types.EntityID) {
	if w.bus == nil {
		return
	}
	w.bus.Publish(events.TopicCoverageRefresh, map[string]any{
		"tenantId":   tenantID,
		"entityType": string(entityID),
	})
}

func (w *Worker) autoIndexingDisabled(queueName string) bool {
	switch queueName {
	case queue.QueueVectorIndexing:
		return w.opts.DisableVectorAutoIndexing
	case queue.QueueFulltextIndexing:
		return w.opts.DisableFulltextAutoIndexing
	}
	return false
}

// strategiesFor maps a queue to the strategies its jobs write.
// Full-text jobs also maintain the token index so both cheap paths stay
// in sync from one queue.
func strategiesFor(queueName string) []string {
	switch queueName {
	case queue.QueueVectorIndexing:
		return []string{strategy.IDVector}
	case queue.QueueFulltextIndexing:
		return []string{strategy.IDFulltext, strategy.IDTokens}
	}
	return nil
}

func indexTypeFor(queueName string) types.IndexType {
	if queueName == queue.QueueVectorIndexing {
		return types.IndexTypeVector
	}
	return types.IndexTypeFulltext
}
