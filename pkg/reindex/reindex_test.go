package reindex

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open-mercato/open-mercato-sub000/pkg/indexer"
	"github.com/open-mercato/open-mercato-sub000/pkg/modconfig"
	"github.com/open-mercato/open-mercato-sub000/pkg/primary"
	"github.com/open-mercato/open-mercato-sub000/pkg/queue"
	"github.com/open-mercato/open-mercato-sub000/pkg/types"
)

type fanoutWriter struct {
	records []*types.Record
	only    [][]string
	err     error
}

func (w *fanoutWriter) Index(_ context.Context, record *types.Record, only []string) error {
	w.records = append(w.records, record)
	w.only = append(w.only, only)
	return w.err
}

func (w *fanoutWriter) BulkIndex(_ context.Context, records []*types.Record, only []string) error {
	w.records = append(w.records, records...)
	w.only = append(w.only, only)
	return w.err
}

func (w *fanoutWriter) Delete(context.Context, types.EntityID, string, string, []string) error {
	return nil
}

func (w *fanoutWriter) Purge(context.Context, types.EntityID, string, []string) error {
	return nil
}

type env struct {
	controller *Controller
	writer     *fanoutWriter
	engine     *primary.MemoryEngine
	queue      *queue.Memory
	modcfg     *modconfig.MemoryService
	clock      time.Time
}

func setup(t *testing.T, rowCount int) *env {
	t.Helper()

	registry := indexer.NewRegistry()
	require.NoError(t, registry.Register(&types.EntityConfig{
		EntityID: "directory:user", Enabled: true,
	}))

	engine := primary.NewMemoryEngine()
	for i := 0; i < rowCount; i++ {
		engine.Put("directory:user", map[string]any{
			"id":        fmt.Sprintf("u%04d", i),
			"tenant_id": "t1",
			"name":      fmt.Sprintf("User %d", i),
		})
	}

	writer := &fanoutWriter{}
	q := queue.NewMemory(0)
	t.Cleanup(func() { q.Close() })
	modcfg := modconfig.NewMemoryService()

	e := &env{
		writer: writer,
		engine: engine,
		queue:  q,
		modcfg: modcfg,
		clock:  time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
	e.controller = New(indexer.New(registry, writer, engine), engine, q, modcfg, nil)
	e.controller.now = func() time.Time { return e.clock }
	return e
}

func TestDirectReindex(t *testing.T) {
	e := setup(t, 450)

	var phases []string
	result, err := e.controller.Run(context.Background(), Options{
		Type:     types.IndexTypeFulltext,
		TenantID: "t1",
		Progress: func(p Progress) { phases = append(phases, p.Phase) },
	})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, 1, result.EntitiesProcessed)
	assert.Equal(t, 450, result.RecordsIndexed)
	assert.Zero(t, result.RecordsDropped)
	assert.Len(t, e.writer.records, 450)
	assert.Equal(t, []string{"fulltext", "tokens"}, e.writer.only[0])

	assert.Equal(t, PhaseStarting, phases[0])
	assert.Contains(t, phases, PhaseFetching)
	assert.Contains(t, phases, PhaseIndexing)
	assert.Equal(t, PhaseComplete, phases[len(phases)-1])

	// Direct mode releases its lock when the run ends.
	lock, err := e.controller.Status(context.Background(), types.IndexTypeFulltext, "t1")
	require.NoError(t, err)
	assert.Nil(t, lock)
}

func TestQueuedReindexEnqueuesBatchesAndKeepsLock(t *testing.T) {
	e := setup(t, 450)

	result, err := e.controller.Run(context.Background(), Options{
		Type:     types.IndexTypeVector,
		TenantID: "t1",
		Queued:   true,
	})
	require.NoError(t, err)

	assert.True(t, result.Success)
	// 450 rows at page size 200 means three batch jobs.
	assert.Equal(t, 3, result.JobsEnqueued)
	assert.Zero(t, result.RecordsIndexed)

	counts, err := e.queue.JobCounts(context.Background(), queue.QueueVectorIndexing)
	require.NoError(t, err)
	assert.Equal(t, int64(3), counts.Waiting)

	// Queued mode leaves the lock for the stale reaper.
	lock, err := e.controller.Status(context.Background(), types.IndexTypeVector, "t1")
	require.NoError(t, err)
	require.NotNil(t, lock)
	assert.Equal(t, "reindex-queued", lock.Action)
}

func TestLocksOfDifferentTypesAreIndependent(t *testing.T) {
	e := setup(t, 10)

	_, err := e.controller.Run(context.Background(), Options{
		Type: types.IndexTypeVector, TenantID: "t1", Queued: true,
	})
	require.NoError(t, err)

	// The vector lock is held, but a full-text run proceeds.
	result, err := e.controller.Run(context.Background(), Options{
		Type: types.IndexTypeFulltext, TenantID: "t1",
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestSecondRunOfSameTypeRejected(t *testing.T) {
	e := setup(t, 10)

	_, err := e.controller.Run(context.Background(), Options{
		Type: types.IndexTypeVector, TenantID: "t1", Queued: true,
	})
	require.NoError(t, err)

	// The queue holds the batch job, so the lock is fresh and not stale.
	_, err = e.controller.Run(context.Background(), Options{
		Type: types.IndexTypeVector, TenantID: "t1", Queued: true,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")
}

func TestStaleLockReclaimedAfterAbsoluteTimeout(t *testing.T) {
	e := setup(t, 10)

	_, err := e.controller.Run(context.Background(), Options{
		Type: types.IndexTypeVector, TenantID: "t1", Queued: true,
	})
	require.NoError(t, err)

	// Queue still busy, but the lock is ancient.
	e.clock = e.clock.Add(31 * time.Minute)
	result, err := e.controller.Run(context.Background(), Options{
		Type: types.IndexTypeVector, TenantID: "t1", Queued: true,
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestStaleLockReclaimedWhenQueueIdle(t *testing.T) {
	e := setup(t, 10)

	_, err := e.controller.Run(context.Background(), Options{
		Type: types.IndexTypeVector, TenantID: "t1", Queued: true,
	})
	require.NoError(t, err)
	require.NoError(t, e.queue.Clear(context.Background(), queue.QueueVectorIndexing))

	// Only three minutes old, but nothing queued or running anymore.
	e.clock = e.clock.Add(3 * time.Minute)
	result, err := e.controller.Run(context.Background(), Options{
		Type: types.IndexTypeVector, TenantID: "t1", Queued: true,
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestStatusClearsStaleLock(t *testing.T) {
	e := setup(t, 10)

	_, err := e.controller.Run(context.Background(), Options{
		Type: types.IndexTypeVector, TenantID: "t1", Queued: true,
	})
	require.NoError(t, err)
	require.NoError(t, e.queue.Clear(context.Background(), queue.QueueVectorIndexing))

	// Queue drained and heartbeat three minutes silent: the lock is
	// stale, so status reports no run and removes the leftover lock.
	e.clock = e.clock.Add(3 * time.Minute)
	lock, err := e.controller.Status(context.Background(), types.IndexTypeVector, "t1")
	require.NoError(t, err)
	assert.Nil(t, lock)

	var stored types.ReindexLock
	found, err := e.modcfg.GetValue(context.Background(), "search",
		LockKey(types.IndexTypeVector, "t1"), &stored)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestFreshLockWithBusyQueueNotReclaimed(t *testing.T) {
	e := setup(t, 10)

	_, err := e.controller.Run(context.Background(), Options{
		Type: types.IndexTypeVector, TenantID: "t1", Queued: true,
	})
	require.NoError(t, err)

	e.clock = e.clock.Add(3 * time.Minute)
	_, err = e.controller.Run(context.Background(), Options{
		Type: types.IndexTypeVector, TenantID: "t1", Queued: true,
	})
	require.Error(t, err)
}

func TestHeartbeatKeepsLockAlive(t *testing.T) {
	e := setup(t, 10)

	_, err := e.controller.Run(context.Background(), Options{
		Type: types.IndexTypeVector, TenantID: "t1", Queued: true,
	})
	require.NoError(t, err)

	e.clock = e.clock.Add(90 * time.Second)
	e.controller.Heartbeat(context.Background(), types.IndexTypeVector, "t1")

	lock, err := e.controller.Status(context.Background(), types.IndexTypeVector, "t1")
	require.NoError(t, err)
	require.NotNil(t, lock)
	assert.Equal(t, e.clock, lock.LastHeartbeatAt.UTC())
}

func TestPartitionsAreDisjointAndComplete(t *testing.T) {
	const partitions = 3
	seen := map[string]int{}

	for p := 0; p < partitions; p++ {
		e := setup(t, 100)
		result, err := e.controller.Run(context.Background(), Options{
			Type:       types.IndexTypeFulltext,
			TenantID:   "t1",
			Partitions: partitions,
			Partition:  p,
		})
		require.NoError(t, err)
		assert.True(t, result.Success)
		for _, record := range e.writer.records {
			seen[record.RecordID]++
		}
	}

	// Every record lands in exactly one partition.
	assert.Len(t, seen, 100)
	for id, count := range seen {
		assert.Equalf(t, 1, count, "record %s seen %d times", id, count)
	}
}

func TestPartitionOutOfRange(t *testing.T) {
	e := setup(t, 10)
	_, err := e.controller.Run(context.Background(), Options{
		Type: types.IndexTypeFulltext, TenantID: "t1",
		Partitions: 3, Partition: 3,
	})
	require.Error(t, err)
}

func TestEntityErrorRecordedRunContinues(t *testing.T) {
	e := setup(t, 10)
	e.writer.err = fmt.Errorf("backend down")

	result, err := e.controller.Run(context.Background(), Options{
		Type: types.IndexTypeFulltext, TenantID: "t1",
	})
	require.NoError(t, err)
	assert.False(t, result.Success)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "directory:user")

	// The failed run still released its lock.
	lock, err := e.controller.Status(context.Background(), types.IndexTypeFulltext, "t1")
	require.NoError(t, err)
	assert.Nil(t, lock)
}

func TestRunRequiresTenant(t *testing.T) {
	e := setup(t, 0)
	_, err := e.controller.Run(context.Background(), Options{Type: types.IndexTypeFulltext})
	require.Error(t, err)
}

func TestRunRejectsUnknownType(t *testing.T) {
	e := setup(t, 0)
	_, err := e.controller.Run(context.Background(), Options{Type: "bogus", TenantID: "t1"})
	require.Error(t, err)
}
