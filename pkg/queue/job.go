package queue

import "context"

// Job consumes one message type from a queue.
type Job interface {
	// Name identifies the job in logs and metrics.
	Name() string

	// Type is the message type this job is dispatched for.
	Type() string

	// Handle processes a single delivery. A returned error triggers retry.
	Handle(ctx context.Context, payload interface{}) error
}
