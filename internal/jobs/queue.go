package jobs

import (
	"errors"
	"sync"
)

// ErrQueueFull is the admission overload signal: the submission was
// rejected and no job record was created.
var ErrQueueFull = errors.New("job queue is full")

// BoundedQueue is the admission gate in front of the worker pool.
//
// Capacity counts every accepted job that has not yet reached a
// terminal state, i.e. queued and processing jobs both hold a slot.
// Reserve takes a slot without blocking, Push hands the job to the
// workers in FIFO order, and Release returns the slot once the job is
// terminal. Because occupancy never exceeds capacity, Push can never
// block on the channel.
type BoundedQueue struct {
	capacity int

	mu       sync.Mutex
	occupied int

	items chan *Job
}

func NewBoundedQueue(capacity int) *BoundedQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &BoundedQueue{
		capacity: capacity,
		items:    make(chan *Job, capacity),
	}
}

// Reserve claims one admission slot, or fails with ErrQueueFull.
func (q *BoundedQueue) Reserve() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.occupied >= q.capacity {
		return ErrQueueFull
	}
	q.occupied++
	return nil
}

// Push enqueues a job under a previously reserved slot.
func (q *BoundedQueue) Push(job *Job) {
	q.items <- job
}

// Dequeue blocks until a job is available or stop is closed.
func (q *BoundedQueue) Dequeue(stop <-chan struct{}) (*Job, bool) {
	select {
	case job := <-q.items:
		return job, true
	case <-stop:
		return nil, false
	}
}

// Release returns an admission slot after a job reached a terminal
// state or was rejected mid-flight.
func (q *BoundedQueue) Release() {
	q.mu.Lock()
	if q.occupied > 0 {
		q.occupied--
	}
	q.mu.Unlock()
}

// Occupied reports how many accepted jobs currently hold a slot.
func (q *BoundedQueue) Occupied() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.occupied
}
