/*
Package queue provides the per-(organization, cluster) work queues that
buffer messages between the enqueue API and relayer stream sessions.

Within one queue, high priority messages dequeue before normal, normal
before low, and messages of equal priority dequeue in FIFO order. Each
queue is bounded; enqueue past the limit fails with ErrQueueFull rather
than evicting. RequeueFront puts a message back at the head of its
priority class after a failed stream write so delivery order is kept.

RedisQueue is the production implementation: each priority class is a
Redis list and a single BLPOP across the three keys gives blocking,
priority-ordered dequeue. MemoryQueue serves tests and single-process
development and drops its contents on restart.
*/
package queue
