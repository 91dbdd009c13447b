package queue

import (
	"container/heap"
	"sync"
)

// Lane selects which end of a LaneQueue an item joins.
type Lane int

const (
	// LaneFront holds priority work. Front items always dequeue before tail items.
	LaneFront Lane = iota
	// LaneTail holds regular FIFO work.
	LaneTail
)

// Item is a single entry in the lane queue
type Item[T any] struct {
	Value T
	lane  Lane
	seq   uint64
	index int
}

// laneHeap implements heap.Interface ordered by (lane, seq)
type laneHeap[T any] []*Item[T]

func (h laneHeap[T]) Len() int {
	return len(h)
}

// Less orders front before tail, then by insertion sequence so each lane stays FIFO
func (h laneHeap[T]) Less(i, j int) bool {
	if h[i].lane != h[j].lane {
		return h[i].lane < h[j].lane
	}
	return h[i].seq < h[j].seq
}

func (h laneHeap[T]) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *laneHeap[T]) Push(x interface{}) {
	n := len(*h)
	item := x.(*Item[T])
	item.index = n
	*h = append(*h, item)
}

func (h *laneHeap[T]) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil  // avoid memory leak
	item.index = -1 // for safety
	*h = old[0 : n-1]
	return item
}

// LaneQueue is a thread-safe FIFO with a priority front lane.
// Items pushed to the front lane are served before anything in the tail lane,
// in the order they were pushed.
type LaneQueue[T any] struct {
	heap laneHeap[T]
	seq  uint64
	mu   sync.Mutex
}

// NewLaneQueue creates an empty lane queue
func NewLaneQueue[T any]() *LaneQueue[T] {
	q := &LaneQueue[T]{
		heap: make(laneHeap[T], 0),
	}
	heap.Init(&q.heap)
	return q
}

// Len returns the number of items across both lanes
func (q *LaneQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.heap.Len()
}

// LenLane returns the number of items waiting in a single lane
func (q *LaneQueue[T]) LenLane(lane Lane) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for _, it := range q.heap {
		if it.lane == lane {
			n++
		}
	}
	return n
}

// PushBack appends a value to the tail lane
func (q *LaneQueue[T]) PushBack(value T) {
	q.push(value, LaneTail)
}

// PushFront appends a value to the front lane
func (q *LaneQueue[T]) PushFront(value T) {
	q.push(value, LaneFront)
}

func (q *LaneQueue[T]) push(value T, lane Lane) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.seq++
	heap.Push(&q.heap, &Item[T]{
		Value: value,
		lane:  lane,
		seq:   q.seq,
	})
}

// Pop removes and returns the next value, front lane first
func (q *LaneQueue[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.heap.Len() == 0 {
		var zero T
		return zero, false
	}

	item := heap.Pop(&q.heap).(*Item[T])
	return item.Value, true
}

// Drain empties both lanes and returns the values in dequeue order
func (q *LaneQueue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := make([]T, 0, q.heap.Len())
	for q.heap.Len() > 0 {
		item := heap.Pop(&q.heap).(*Item[T])
		items = append(items, item.Value)
	}
	return items
}

// Snapshot returns the values in dequeue order without removing them
func (q *LaneQueue[T]) Snapshot() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	cp := make(laneHeap[T], len(q.heap))
	for i, it := range q.heap {
		c := *it
		cp[i] = &c
	}

	items := make([]T, 0, len(cp))
	for cp.Len() > 0 {
		item := heap.Pop(&cp).(*Item[T])
		items = append(items, item.Value)
	}
	return items
}
