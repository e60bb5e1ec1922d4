// Package queue implements a bounded priority queue for admission control,
// ordered by (priority, arrival order) using a container/heap min-heap.
package queue

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrQueueFull is returned by Enqueue when the queue is at capacity.
var ErrQueueFull = errors.New("queue: full")

// ErrQueueTimeout is returned by Enqueue when the item waits longer than
// its timeout for a Complete/Fail resolution.
var ErrQueueTimeout = errors.New("queue: timed out waiting for a turn")

// ErrQueueCleared is returned to callers whose items were pending when
// Clear was invoked.
var ErrQueueCleared = errors.New("queue: cleared")

type result struct {
	val any
	err error
}

// Item is a pending unit of work, ordered by Priority (lower runs first)
// then by arrival order (FIFO within the same priority).
type Item struct {
	ID         string
	Priority   int
	arrivalSeq uint64
	Payload    any

	resultCh chan result
	index    int // heap index, maintained by container/heap
}

type priorityHeap []*Item

func (h priorityHeap) Len() int { return len(h) }
func (h priorityHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].arrivalSeq < h[j].arrivalSeq
}
func (h priorityHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *priorityHeap) Push(x any) {
	item := x.(*Item)
	item.index = len(*h)
	*h = append(*h, item)
}
func (h *priorityHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// Queue is a bounded, priority-ordered admission queue.
type Queue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	heap     priorityHeap
	byID     map[string]*Item
	maxSize  int
	seq      uint64
}

// New creates a Queue bounded to maxSize pending items.
func New(maxSize int) *Queue {
	q := &Queue{
		heap:    make(priorityHeap, 0),
		byID:    make(map[string]*Item),
		maxSize: maxSize,
	}
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

// Enqueue inserts payload at the given priority and blocks until a worker
// calls Complete/Fail for it, ctx is canceled, or timeout elapses.
// Returns ErrQueueFull immediately if the queue is already at capacity.
func (q *Queue) Enqueue(ctx context.Context, priority int, payload any, timeout time.Duration) (any, error) {
	q.mu.Lock()
	if q.maxSize > 0 && len(q.heap) >= q.maxSize {
		q.mu.Unlock()
		return nil, ErrQueueFull
	}

	q.seq++
	item := &Item{
		ID:         uuid.New().String(),
		Priority:   priority,
		arrivalSeq: q.seq,
		Payload:    payload,
		resultCh:   make(chan result, 1),
	}
	heap.Push(&q.heap, item)
	q.byID[item.ID] = item
	q.notEmpty.Signal()
	q.mu.Unlock()

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case r := <-item.resultCh:
		return r.val, r.err
	case <-timeoutCh:
		q.remove(item.ID)
		return nil, ErrQueueTimeout
	case <-ctx.Done():
		q.remove(item.ID)
		return nil, ctx.Err()
	}
}

func (q *Queue) remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.byID[id]
	if !ok || item.index < 0 {
		return false
	}
	heap.Remove(&q.heap, item.index)
	delete(q.byID, id)
	return true
}

// Dequeue blocks until an item is available or ctx is canceled, then
// removes and returns the highest-priority item.
func (q *Queue) Dequeue(ctx context.Context) (*Item, error) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			q.mu.Lock()
			q.notEmpty.Broadcast()
			q.mu.Unlock()
		case <-done:
		}
	}()

	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.heap) == 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		q.notEmpty.Wait()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	item := heap.Pop(&q.heap).(*Item)
	delete(q.byID, item.ID)
	return item, nil
}

// Complete resolves item's Enqueue call with a successful value.
func (q *Queue) Complete(item *Item, val any) {
	item.resultCh <- result{val: val}
}

// Fail resolves item's Enqueue call with an error.
func (q *Queue) Fail(item *Item, err error) {
	item.resultCh <- result{err: err}
}

// Clear cancels every pending item with ErrQueueCleared.
func (q *Queue) Clear() {
	q.mu.Lock()
	items := make([]*Item, len(q.heap))
	copy(items, q.heap)
	q.heap = q.heap[:0]
	q.byID = make(map[string]*Item)
	q.mu.Unlock()

	for _, item := range items {
		item.resultCh <- result{err: ErrQueueCleared}
	}
}

// Len returns the current number of pending items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}

// Stats summarizes queue occupancy.
type Stats struct {
	Pending int
	MaxSize int
}

// GetStats returns a snapshot of queue occupancy.
func (q *Queue) GetStats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{Pending: len(q.heap), MaxSize: q.maxSize}
}
