package subscriber

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open-mercato/open-mercato-sub000/pkg/events"
	"github.com/open-mercato/open-mercato-sub000/pkg/indexer"
	"github.com/open-mercato/open-mercato-sub000/pkg/primary"
	"github.com/open-mercato/open-mercato-sub000/pkg/queue"
	"github.com/open-mercato/open-mercato-sub000/pkg/types"
)

type fixture struct {
	bus    *events.Bus
	queue  *queue.Memory
	engine *primary.MemoryEngine
	cancel context.CancelFunc
}

func setup(t *testing.T, opts Options) *fixture {
	t.Helper()
	bus := events.NewBus()
	bus.Start()
	q := queue.NewMemory(0)
	engine := primary.NewMemoryEngine()

	registry := indexer.NewRegistry()
	require.NoError(t, registry.Register(&types.EntityConfig{
		EntityID: "directory:user", Enabled: true,
	}))
	require.NoError(t, registry.Register(&types.EntityConfig{
		EntityID: "sales:order", Enabled: true, Strategies: []string{"fulltext"},
	}))

	ctx, cancel := context.WithCancel(context.Background())
	New(bus, q, registry, engine, opts).Start(ctx)

	t.Cleanup(func() {
		cancel()
		bus.Stop()
		q.Close()
	})
	return &fixture{bus: bus, queue: q, engine: engine, cancel: cancel}
}

func (f *fixture) waitCounts(t *testing.T, queueName string, waiting int64) queue.Counts {
	t.Helper()
	var counts queue.Counts
	require.Eventually(t, func() bool {
		var err error
		counts, err = f.queue.JobCounts(context.Background(), queueName)
		return err == nil && counts.Waiting == waiting
	}, 5*time.Second, 5*time.Millisecond)
	return counts
}

func userPayload() map[string]any {
	return map[string]any{
		"entityType": "directory:user",
		"recordId":   "u1",
		"tenantId":   "t1",
	}
}

func TestIndexEventFansOutToBothQueues(t *testing.T) {
	f := setup(t, Options{})
	f.bus.Publish(events.TopicIndexRecord, userPayload())

	f.waitCounts(t, queue.QueueFulltextIndexing, 1)
	f.waitCounts(t, queue.QueueVectorIndexing, 1)
}

func TestIndexEventRespectsDisableFlags(t *testing.T) {
	f := setup(t, Options{DisableVectorAutoIndexing: true})
	f.bus.Publish(events.TopicIndexRecord, userPayload())

	f.waitCounts(t, queue.QueueFulltextIndexing, 1)
	counts, err := f.queue.JobCounts(context.Background(), queue.QueueVectorIndexing)
	require.NoError(t, err)
	assert.Zero(t, counts.Waiting)
}

func TestIndexEventRespectsEntityStrategyWhitelist(t *testing.T) {
	f := setup(t, Options{})
	f.bus.Publish(events.TopicIndexRecord, map[string]any{
		"entityType": "sales:order", "recordId": "o1", "tenantId": "t1",
	})

	f.waitCounts(t, queue.QueueFulltextIndexing, 1)
	counts, err := f.queue.JobCounts(context.Background(), queue.QueueVectorIndexing)
	require.NoError(t, err)
	assert.Zero(t, counts.Waiting)
}

func TestUnregisteredEntityIgnored(t *testing.T) {
	f := setup(t, Options{})
	f.bus.Publish(events.TopicIndexRecord, map[string]any{
		"entityType": "unknown:thing", "recordId": "x1", "tenantId": "t1",
	})

	// Give the handler a moment, then confirm nothing was enqueued.
	time.Sleep(50 * time.Millisecond)
	counts, err := f.queue.JobCounts(context.Background(), queue.QueueFulltextIndexing)
	require.NoError(t, err)
	assert.Zero(t, counts.Waiting)
}

func TestDeleteEventBypassesDisableFlags(t *testing.T) {
	f := setup(t, Options{DisableVectorAutoIndexing: true, DisableFulltextAutoIndexing: true})
	f.bus.Publish(events.TopicDeleteRecord, userPayload())

	f.waitCounts(t, queue.QueueFulltextIndexing, 1)
	f.waitCounts(t, queue.QueueVectorIndexing, 1)
}

func TestScopeResolvedFromPrimaryRow(t *testing.T) {
	f := setup(t, Options{})
	f.engine.Put("directory:user", map[string]any{
		"id": "u1", "tenant_id": "t9", "organization_id": "org9",
	})

	f.bus.Publish(events.TopicIndexRecord, map[string]any{
		"entityType": "directory:user", "recordId": "u1",
	})
	f.waitCounts(t, queue.QueueFulltextIndexing, 1)
}

func TestEventWithoutTenantOrRowSkipped(t *testing.T) {
	f := setup(t, Options{})
	f.bus.Publish(events.TopicIndexRecord, map[string]any{
		"entityType": "directory:user", "recordId": "ghost",
	})

	time.Sleep(50 * time.Millisecond)
	counts, err := f.queue.JobCounts(context.Background(), queue.QueueFulltextIndexing)
	require.NoError(t, err)
	assert.Zero(t, counts.Waiting)
}

func TestVectorizeTopics(t *testing.T) {
	f := setup(t, Options{})

	f.bus.Publish(events.TopicVectorizeOne, userPayload())
	f.waitCounts(t, queue.QueueVectorIndexing, 1)

	f.bus.Publish(events.TopicVectorizePurge, map[string]any{
		"entityType": "directory:user", "tenantId": "t1",
	})
	f.waitCounts(t, queue.QueueVectorIndexing, 2)

	counts, err := f.queue.JobCounts(context.Background(), queue.QueueFulltextIndexing)
	require.NoError(t, err)
	assert.Zero(t, counts.Waiting)
}
