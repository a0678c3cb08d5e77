// Package queue decouples indexing work from request handling. Jobs are
// JSON payloads on named queues; backends provide at-least-once
// delivery with bounded retries. The in-memory backend serves tests and
// single-process runs, the Redis backend serves real deployments.
package queue

import (
	"context"

	"github.com/open-mercato/open-mercato-sub000/pkg/types"
)

// Queue names used by the indexing pipeline
const (
	QueueVectorIndexing   = "vector-indexing"
	QueueFulltextIndexing = "fulltext-indexing"
)

// DefaultMaxAttempts bounds redelivery of a failing job
const DefaultMaxAttempts = 3

// Handler processes one job. A returned error triggers redelivery until
// the attempt budget is spent.
type Handler func(ctx context.Context, job *types.Job) error

// Counts reports the state of one queue
type Counts struct {
	Waiting int64 `json:"waiting"`
	Active  int64 `json:"active"`
	Failed  int64 `json:"failed"`
}

// Idle reports whether no job is waiting or running
func (c Counts) Idle() bool {
	return c.Waiting == 0 && c.Active == 0
}

// Queue is the pluggable job transport
type Queue interface {
	// Enqueue appends a job to the named queue.
	Enqueue(ctx context.Context, queueName string, job *types.Job) error

	// Process consumes jobs with the handler until ctx is done. Jobs on
	// one queue are delivered one at a time per Process call, preserving
	// enqueue order.
	Process(ctx context.Context, queueName string, handler Handler) error

	// Clear drops all waiting and failed jobs of the queue.
	Clear(ctx context.Context, queueName string) error

	// JobCounts reports queue depth.
	JobCounts(ctx context.Context, queueName string) (Counts, error)

	// Close releases backend resources.
	Close() error
}
