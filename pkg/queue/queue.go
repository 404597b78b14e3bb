package queue

import (
	"context"
	"time"

	"github.com/ferrydock/ferry/pkg/types"
)

// Queue buffers messages for one relayer per (organization, cluster) pair.
type Queue interface {
	// Enqueue appends a message to the tail of its priority class.
	// Returns ErrQueueFull when the queue is at its depth limit.
	Enqueue(ctx context.Context, orgID, clusterID string, msg *types.QueueMessage) error

	// Dequeue removes the highest-priority oldest message, blocking up
	// to wait when the queue is empty. A nil message with a nil error
	// means the wait elapsed with nothing to deliver.
	Dequeue(ctx context.Context, orgID, clusterID string, wait time.Duration) (*types.QueueMessage, error)

	// RequeueFront puts a message back at the head of its priority
	// class, ahead of everything else in that class. Used after a
	// failed stream write; not subject to the depth limit.
	RequeueFront(ctx context.Context, orgID, clusterID string, msg *types.QueueMessage) error

	// Depth reports the total number of buffered messages across all
	// priority classes of one queue.
	Depth(ctx context.Context, orgID, clusterID string) (int64, error)

	Close() error
}

// priorityOrder lists the classes in dequeue preference order.
var priorityOrder = []types.Priority{types.PriorityHigh, types.PriorityNormal, types.PriorityLow}
