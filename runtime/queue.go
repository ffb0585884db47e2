package runtime

import (
	"sync"

	"hybridchat/domain"
)

// Handler processes one raw inbound payload to completion, including all
// store and broadcast side effects.
type Handler func(conn domain.Connection, raw []byte)

// connQueue holds the pending payloads for one connection. The draining flag
// guarantees a single drain loop per connection: an enqueue during a drain
// relies on the in-progress loop to pick the item up before exiting, which
// keeps stack depth bounded under bursty input.
type connQueue struct {
	items    [][]byte
	draining bool
	closed   bool
}

// InboundQueues preserves strict arrival order per connection even though
// frames arrive asynchronously and handling involves blocking I/O.
type InboundQueues struct {
	mu     sync.Mutex
	queues map[domain.Connection]*connQueue
	handle Handler
}

func NewInboundQueues(handle Handler) *InboundQueues {
	return &InboundQueues{
		queues: make(map[domain.Connection]*connQueue),
		handle: handle,
	}
}

// Enqueue appends raw to the connection's queue and starts a drain if none is
// running. The transport stops reading before it reports a close, so Enqueue
// never races the teardown of its own connection; the closed guard covers a
// drain still holding the discarded queue.
func (q *InboundQueues) Enqueue(conn domain.Connection, raw []byte) {
	q.mu.Lock()
	cq, ok := q.queues[conn]
	if !ok {
		cq = &connQueue{}
		q.queues[conn] = cq
	}
	if cq.closed {
		q.mu.Unlock()
		return
	}
	cq.items = append(cq.items, raw)
	if cq.draining {
		q.mu.Unlock()
		return
	}
	cq.draining = true
	q.mu.Unlock()

	go q.drain(conn, cq)
}

// drain processes items strictly FIFO. Each item fully completes before the
// next starts; the handler owns per-item error conversion, so the loop never
// stops early.
func (q *InboundQueues) drain(conn domain.Connection, cq *connQueue) {
	for {
		q.mu.Lock()
		if cq.closed || len(cq.items) == 0 {
			cq.draining = false
			q.mu.Unlock()
			return
		}
		raw := cq.items[0]
		cq.items = cq.items[1:]
		q.mu.Unlock()

		q.handle(conn, raw)
	}
}

// CloseConnection discards the queue immediately. An item already dequeued
// continues processing to completion; everything still pending is dropped.
func (q *InboundQueues) CloseConnection(conn domain.Connection) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if cq, ok := q.queues[conn]; ok {
		cq.closed = true
		cq.items = nil
		delete(q.queues, conn)
	}
}

// Pending reports the queued item count for one connection. Test helper.
func (q *InboundQueues) Pending(conn domain.Connection) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if cq, ok := q.queues[conn]; ok {
		return len(cq.items)
	}
	return 0
}
