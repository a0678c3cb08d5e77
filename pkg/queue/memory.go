package queue

import (
	"context"
	"sync"

	"github.com/open-mercato/open-mercato-sub000/pkg/log"
	"github.com/open-mercato/open-mercato-sub000/pkg/types"
)

type memoryItem struct {
	job      *types.Job
	attempts int
}

type memoryQueue struct {
	items  []*memoryItem
	active int64
	failed int64
}

// Memory is an in-process Queue. Delivery is FIFO, so jobs sharing an
// ordering key are always handled in enqueue order.
type Memory struct {
	mu          sync.Mutex
	cond        *sync.Cond
	queues      map[string]*memoryQueue
	maxAttempts int
	closed      bool
}

// NewMemory creates an in-memory queue. maxAttempts <= 0 selects
// DefaultMaxAttempts.
func NewMemory(maxAttempts int) *Memory {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	m := &Memory{queues: map[string]*memoryQueue{}, maxAttempts: maxAttempts}
	m.cond = sync.NewCond(&m.mu)
	return m
}

func (m *Memory) queue(name string) *memoryQueue {
	q, ok := m.queues[name]
	if !ok {
		q = &memoryQueue{}
		m.queues[name] = q
	}
	return q
}

// Enqueue implements Queue
func (m *Memory) Enqueue(_ context.Context, queueName string, job *types.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue(queueName).items = append(m.queue(queueName).items, &memoryItem{job: job})
	m.cond.Broadcast()
	return nil
}

// Process implements Queue. Returns nil when ctx is cancelled.
func (m *Memory) Process(ctx context.Context, queueName string, handler Handler) error {
	// Wake all waiters when the context ends so Process can observe it.
	stop := context.AfterFunc(ctx, func() {
		m.mu.Lock()
		m.cond.Broadcast()
		m.mu.Unlock()
	})
	defer stop()

	for {
		m.mu.Lock()
		q := m.queue(queueName)
		for len(q.items) == 0 && ctx.Err() == nil && !m.closed {
			m.cond.Wait()
		}
		if ctx.Err() != nil || m.closed {
			m.mu.Unlock()
			return nil
		}
		item := q.items[0]
		q.items = q.items[1:]
		q.active++
		m.mu.Unlock()

		err := handler(ctx, item.job)

		m.mu.Lock()
		q.active--
		if err != nil {
			item.attempts++
			if item.attempts < m.maxAttempts {
				q.items = append(q.items, item)
			} else {
				q.failed++
				log.WithQueue(queueName).Error().Err(err).
					Str("job_type", string(item.job.JobType)).
					Msg("job failed permanently")
			}
		}
		m.mu.Unlock()
	}
}

// Clear implements Queue
func (m *Memory) Clear(_ context.Context, queueName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.queue(queueName)
	q.items = nil
	q.failed = 0
	return nil
}

// JobCounts implements Queue
func (m *Memory) JobCounts(_ context.Context, queueName string) (Counts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.queue(queueName)
	return Counts{Waiting: int64(len(q.items)), Active: q.active, Failed: q.failed}, nil
}

// Close implements Queue
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.cond.Broadcast()
	return nil
}
