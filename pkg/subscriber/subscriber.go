// Package subscriber bridges the event bus to the indexing queues.
// Domain modules publish lightweight notifications when records change;
// the subscriber resolves scope, checks entity participation and the
// auto-indexing kill switches, then enqueues durable jobs. Handlers stay
// cheap: all real work happens in the queue workers.
package subscriber

import (
	"context"

	"github.com/open-mercato/open-mercato-sub000/pkg/events"
	"github.com/open-mercato/open-mercato-sub000/pkg/indexer"
	"github.com/open-mercato/open-mercato-sub000/pkg/log"
	"github.com/open-mercato/open-mercato-sub000/pkg/primary"
	"github.com/open-mercato/open-mercato-sub000/pkg/queue"
	"github.com/open-mercato/open-mercato-sub000/pkg/strategy"
	"github.com/open-mercato/open-mercato-sub000/pkg/types"
)

// Options holds the subscriber's switches
type Options struct {
	// DisableVectorAutoIndexing stops index events from reaching the
	// vector queue. Deletes and purges still flow.
	DisableVectorAutoIndexing bool

	// DisableFulltextAutoIndexing stops index events from reaching the
	// full-text queue. Deletes still flow.
	DisableFulltextAutoIndexing bool
}

// Subscriber consumes bus events and enqueues indexing jobs
type Subscriber struct {
	bus      *events.Bus
	queue    queue.Queue
	registry *indexer.Registry
	engine   primary.QueryEngine
	opts     Options
}

// New creates a subscriber. engine may be nil; events without scope are
// then skipped instead of resolved.
func New(bus *events.Bus, q queue.Queue, registry *indexer.Registry, engine primary.QueryEngine, opts Options) *Subscriber {
	return &Subscriber{bus: bus, queue: q, registry: registry, engine: engine, opts: opts}
}

// Start consumes events until ctx is done
func (s *Subscriber) Start(ctx context.Context) {
	ch := s.bus.Subscribe(
		events.TopicIndexRecord,
		events.TopicDeleteRecord,
		events.TopicVectorizeOne,
		events.TopicVectorizePurge,
	)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-ch:
				if !ok {
					return
				}
				s.handle(ctx, event)
			}
		}
	}()
}

func (s *Subscriber) handle(ctx context.Context, event *events.Event) {
	entityID := types.EntityID(event.PayloadString("entityType"))
	recordID := event.PayloadString("recordId")
	scope := types.Scope{
		TenantID:       event.PayloadString("tenantId"),
		OrganizationID: event.PayloadString("organizationId"),
	}

	if entityID == "" {
		log.WithComponent("subscriber").Debug().
			Str("topic", string(event.Topic)).Msg("event without entityType, skipping")
		return
	}
	if scope.TenantID == "" && recordID != "" {
		scope = s.resolveScope(ctx, entityID, recordID)
	}
	if scope.TenantID == "" {
		log.WithComponent("subscriber").Debug().
			Str("topic", string(event.Topic)).
			Str("entity_id", string(entityID)).
			Msg("event without resolvable tenant, skipping")
		return
	}

	job := &types.Job{
		EntityType:     entityID,
		RecordID:       recordID,
		TenantID:       scope.TenantID,
		OrganizationID: scope.OrganizationID,
	}

	switch event.Topic {
	case events.TopicIndexRecord:
		job.JobType = types.JobTypeIndex
		if s.wantsFulltext(entityID) {
			s.enqueue(ctx, queue.QueueFulltextIndexing, job)
		}
		if s.wantsVector(entityID) {
			s.enqueue(ctx, queue.QueueVectorIndexing, job)
		}
	case events.TopicDeleteRecord:
		// Deletes bypass the auto-indexing switches so disabled
		// pipelines do not accumulate stale documents.
		job.JobType = types.JobTypeDelete
		s.enqueue(ctx, queue.QueueFulltextIndexing, job)
		s.enqueue(ctx, queue.QueueVectorIndexing, job)
	case events.TopicVectorizeOne:
		job.JobType = types.JobTypeIndex
		if s.wantsVector(entityID) {
			s.enqueue(ctx, queue.QueueVectorIndexing, job)
		}
	case events.TopicVectorizePurge:
		job.JobType = types.JobTypePurge
		s.enqueue(ctx, queue.QueueVectorIndexing, job)
	}
}

func (s *Subscriber) wantsFulltext(entityID types.EntityID) bool {
	if s.opts.DisableFulltextAutoIndexing {
		return false
	}
	return s.participates(entityID, strategy.IDFulltext)
}

func (s *Subscriber) wantsVector(entityID types.EntityID) bool {
	if s.opts.DisableVectorAutoIndexing {
		return false
	}
	return s.participates(entityID, strategy.IDVector)
}

func (s *Subscriber) participates(entityID types.EntityID, strategyID string) bool {
	cfg := s.registry.Get(entityID)
	if cfg == nil || !cfg.Enabled {
		return false
	}
	return cfg.SupportsStrategy(strategyID)
}

// resolveScope loads the primary row to recover the tenant when the
// producer omitted it
func (s *Subscriber) resolveScope(ctx context.Context, entityID types.EntityID, recordID string) types.Scope {
	if s.engine == nil {
		return types.Scope{}
	}
	row, ok, err := s.engine.Get(ctx, entityID, recordID, primary.QueryOptions{})
	if err != nil || !ok {
		return types.Scope{}
	}
	tenantID, _ := row["tenant_id"].(string)
	organizationID, _ := row["organization_id"].(string)
	return types.Scope{TenantID: tenantID, OrganizationID: organizationID}
}

func (s *Subscriber) enqueue(ctx context.Context, queueName string, job *types.Job) {
	if err := s.queue.Enqueue(ctx, queueName, job); err != nil {
		log.WithQueue(queueName).Error().Err(err).
			Str("job_type", string(job.JobType)).
			Str("entity_id", string(job.EntityType)).
			Msg("failed to enqueue job")
	}
}
