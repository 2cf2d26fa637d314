package executor

import (
	"container/heap"
	"context"
	"sync"

	"github.com/harrison/aegis/internal/models"
)

type queueItem struct {
	task     *models.Task
	priority models.Priority
	seq      uint64
	index    int
}

// taskHeap orders by priority descending, then enqueue sequence ascending
type taskHeap []*queueItem

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x interface{}) {
	item := x.(*queueItem)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// PriorityQueue is a blocking priority queue of tasks. Equal priorities are
// served in enqueue order. It is safe for concurrent producers and consumers.
type PriorityQueue struct {
	mu       sync.Mutex
	items    taskHeap
	byID     map[string]*queueItem
	seq      uint64
	capacity int
	closed   bool

	ready chan struct{}
	done  chan struct{}
}

// NewPriorityQueue creates a queue. capacity 0 means unbounded; otherwise
// Enqueue fails with models.ErrQueueFull once capacity tasks are queued.
func NewPriorityQueue(capacity int) *PriorityQueue {
	return &PriorityQueue{
		byID:     make(map[string]*queueItem),
		capacity: capacity,
		ready:    make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Enqueue adds task with the given priority
func (q *PriorityQueue) Enqueue(task *models.Task, priority models.Priority) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return models.ErrQueueClosed
	}
	if q.capacity > 0 && len(q.items) >= q.capacity {
		q.mu.Unlock()
		return models.ErrQueueFull
	}
	q.seq++
	item := &queueItem{task: task, priority: priority, seq: q.seq}
	heap.Push(&q.items, item)
	q.byID[task.ID] = item
	q.mu.Unlock()

	q.signal()
	return nil
}

func (q *PriorityQueue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Dequeue removes and returns the highest-priority task, blocking until one
// is available. It returns ctx.Err() when ctx ends and models.ErrQueueClosed
// once the queue is closed and drained.
func (q *PriorityQueue) Dequeue(ctx context.Context) (*models.Task, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := heap.Pop(&q.items).(*queueItem)
			delete(q.byID, item.task.ID)
			more := len(q.items) > 0
			q.mu.Unlock()
			if more {
				// Pass the wakeup on to the next waiting consumer
				q.signal()
			}
			return item.task, nil
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return nil, models.ErrQueueClosed
		}

		select {
		case <-q.ready:
		case <-q.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Remove drops a queued task by id. It reports whether the task was queued.
func (q *PriorityQueue) Remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.byID[id]
	if !ok {
		return false
	}
	heap.Remove(&q.items, item.index)
	delete(q.byID, id)
	return true
}

// Len returns the number of queued tasks
func (q *PriorityQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close rejects further enqueues and wakes blocked consumers. Tasks already
// queued can still be dequeued. Safe to call twice.
func (q *PriorityQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

// Drain removes and returns every queued task in dequeue order
func (q *PriorityQueue) Drain() []*models.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*models.Task, 0, len(q.items))
	for len(q.items) > 0 {
		item := heap.Pop(&q.items).(*queueItem)
		delete(q.byID, item.task.ID)
		out = append(out, item.task)
	}
	return out
}
