package jobs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoundedQueue_ReserveRejectsWhenFull(t *testing.T) {
	q := NewBoundedQueue(2)

	require.NoError(t, q.Reserve())
	require.NoError(t, q.Reserve())
	require.ErrorIs(t, q.Reserve(), ErrQueueFull)
	assert.Equal(t, 2, q.Occupied())

	q.Release()
	require.NoError(t, q.Reserve())
}

func TestBoundedQueue_SlotHeldAcrossDequeue(t *testing.T) {
	q := NewBoundedQueue(1)
	stop := make(chan struct{})

	require.NoError(t, q.Reserve())
	q.Push(&Job{ID: "a"})

	job, ok := q.Dequeue(stop)
	require.True(t, ok)
	require.Equal(t, "a", job.ID)

	// Dequeueing does not free the admission slot; only Release does.
	require.ErrorIs(t, q.Reserve(), ErrQueueFull)
	q.Release()
	require.NoError(t, q.Reserve())
}

func TestBoundedQueue_FIFO(t *testing.T) {
	q := NewBoundedQueue(3)
	stop := make(chan struct{})

	for _, id := range []string{"first", "second", "third"} {
		require.NoError(t, q.Reserve())
		q.Push(&Job{ID: id})
	}

	for _, want := range []string{"first", "second", "third"} {
		job, ok := q.Dequeue(stop)
		require.True(t, ok)
		assert.Equal(t, want, job.ID)
	}
}

func TestBoundedQueue_DequeueBlocksUntilPush(t *testing.T) {
	q := NewBoundedQueue(1)
	stop := make(chan struct{})

	got := make(chan *Job, 1)
	go func() {
		job, ok := q.Dequeue(stop)
		if ok {
			got <- job
		}
	}()

	select {
	case <-got:
		t.Fatal("dequeue returned before any push")
	case <-time.After(20 * time.Millisecond):
	}

	require.NoError(t, q.Reserve())
	q.Push(&Job{ID: "late"})

	select {
	case job := <-got:
		assert.Equal(t, "late", job.ID)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not observe the push")
	}
}

func TestBoundedQueue_DequeueUnblocksOnStop(t *testing.T) {
	q := NewBoundedQueue(1)
	stop := make(chan struct{})

	done := make(chan bool, 1)
	go func() {
		_, ok := q.Dequeue(stop)
		done <- ok
	}()

	close(stop)
	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not observe stop")
	}
}
