package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ferrydock/ferry/pkg/types"
)

// MemoryQueue is a process-local Queue for tests and single-process
// development. Contents do not survive restart.
type MemoryQueue struct {
	mu     sync.Mutex
	limit  int
	queues map[string]*memQueue
	closed bool
}

type memQueue struct {
	lists map[types.Priority][]*types.QueueMessage
	// notify is replaced on every enqueue; waiters select on the
	// channel they captured and re-check the lists when it closes.
	notify chan struct{}
}

// NewMemoryQueue creates an empty in-memory queue set with the given
// per-queue depth limit.
func NewMemoryQueue(depthLimit int) *MemoryQueue {
	return &MemoryQueue{limit: depthLimit, queues: make(map[string]*memQueue)}
}

func (q *MemoryQueue) get(orgID, clusterID string) *memQueue {
	key := orgID + "/" + clusterID
	mq, ok := q.queues[key]
	if !ok {
		mq = &memQueue{
			lists:  make(map[types.Priority][]*types.QueueMessage),
			notify: make(chan struct{}),
		}
		q.queues[key] = mq
	}
	return mq
}

func (mq *memQueue) depth() int {
	var n int
	for _, list := range mq.lists {
		n += len(list)
	}
	return n
}

func (mq *memQueue) wake() {
	close(mq.notify)
	mq.notify = make(chan struct{})
}

func (q *MemoryQueue) Enqueue(ctx context.Context, orgID, clusterID string, msg *types.QueueMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	mq := q.get(orgID, clusterID)
	if q.limit > 0 && mq.depth() >= q.limit {
		return fmt.Errorf("queue %s/%s at depth %d: %w", orgID, clusterID, mq.depth(), types.ErrQueueFull)
	}
	mq.lists[msg.Priority] = append(mq.lists[msg.Priority], msg)
	mq.wake()
	return nil
}

func (q *MemoryQueue) Dequeue(ctx context.Context, orgID, clusterID string, wait time.Duration) (*types.QueueMessage, error) {
	deadline := time.NewTimer(wait)
	defer deadline.Stop()

	for {
		q.mu.Lock()
		mq := q.get(orgID, clusterID)
		for _, p := range priorityOrder {
			if list := mq.lists[p]; len(list) > 0 {
				msg := list[0]
				mq.lists[p] = list[1:]
				q.mu.Unlock()
				return msg, nil
			}
		}
		notify := mq.notify
		q.mu.Unlock()

		select {
		case <-notify:
		case <-deadline.C:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (q *MemoryQueue) RequeueFront(ctx context.Context, orgID, clusterID string, msg *types.QueueMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	mq := q.get(orgID, clusterID)
	mq.lists[msg.Priority] = append([]*types.QueueMessage{msg}, mq.lists[msg.Priority]...)
	mq.wake()
	return nil
}

func (q *MemoryQueue) Depth(ctx context.Context, orgID, clusterID string) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(q.get(orgID, clusterID).depth()), nil
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}
