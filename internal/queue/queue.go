// Package queue implements the priority queue of ScheduledCommands.
//
// Ordering key is (priority asc, timestamp asc): smaller priority number is
// higher priority, ties broken by earlier timestamp. It is backed by a
// container/heap min-heap; correctness does not depend on heap internals
// since the comparator fully orders by the (priority, timestamp) pair.
package queue

import (
	"container/heap"
	"sync"

	"github.com/clusterchat/operator/pkg/model"
)

// LengthPublisher receives queue-length updates after every Enqueue/Dequeue.
// The execution state registry implements this.
type LengthPublisher interface {
	SetQueueLength(n int)
}

// PriorityQueue is a concurrency-safe total ordering of ScheduledCommands.
type PriorityQueue struct {
	mu        sync.Mutex
	items     commandHeap
	publisher LengthPublisher
}

// New creates an empty PriorityQueue. publisher may be nil.
func New(publisher LengthPublisher) *PriorityQueue {
	return &PriorityQueue{publisher: publisher}
}

// Enqueue inserts cmd preserving (priority, timestamp) order.
func (q *PriorityQueue) Enqueue(cmd model.ScheduledCommand) {
	q.mu.Lock()
	heap.Push(&q.items, cmd)
	n := len(q.items)
	q.mu.Unlock()

	q.publish(n)
}

// Dequeue removes and returns the minimum (highest-priority, earliest)
// command, or (zero value, false) if the queue is empty.
func (q *PriorityQueue) Dequeue() (model.ScheduledCommand, bool) {
	q.mu.Lock()
	if len(q.items) == 0 {
		q.mu.Unlock()
		return model.ScheduledCommand{}, false
	}
	cmd := heap.Pop(&q.items).(model.ScheduledCommand)
	n := len(q.items)
	q.mu.Unlock()

	q.publish(n)
	return cmd, true
}

// Size returns the current cardinality of the queue.
func (q *PriorityQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *PriorityQueue) publish(n int) {
	if q.publisher != nil {
		q.publisher.SetQueueLength(n)
	}
}

// commandHeap implements container/heap.Interface, ordering by
// (Priority asc, TimestampMs asc).
type commandHeap []model.ScheduledCommand

func (h commandHeap) Len() int { return len(h) }

func (h commandHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].TimestampMs < h[j].TimestampMs
}

func (h commandHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *commandHeap) Push(x interface{}) {
	*h = append(*h, x.(model.ScheduledCommand))
}

func (h *commandHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
