package jobs

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store is the in-memory job table. Records live for the process
// lifetime unless TTL eviction is enabled on the manager.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

func NewStore() *Store {
	return &Store{
		jobs: make(map[string]*Job),
	}
}

// Create registers a new job in queued state and returns a snapshot.
func (s *Store) Create(req Request) *Job {
	job := &Job{
		ID:        uuid.NewString(),
		Status:    StatusQueued,
		CreatedAt: time.Now(),
		RequestID: req.RequestID,
		Request:   req,
	}

	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()

	return cloneJob(job)
}

// Get returns a snapshot of the job, or false for an unknown id.
func (s *Store) Get(id string) (*Job, bool) {
	s.mu.RLock()
	job, ok := s.jobs[id]
	if !ok {
		s.mu.RUnlock()
		return nil, false
	}
	snapshot := cloneJob(job)
	s.mu.RUnlock()
	return snapshot, true
}

// List returns snapshots of all known jobs.
func (s *Store) List() []*Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ret := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		ret = append(ret, cloneJob(job))
	}
	return ret
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

// update applies fn to the live record. It is unexported on purpose:
// all mutation goes through the manager's transition methods, which
// only the worker owning the job calls.
func (s *Store) update(id string, fn func(*Job)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return false
	}
	fn(job)
	return true
}

// EvictTerminalBefore removes terminal jobs that ended before the
// cutoff and returns how many were dropped.
func (s *Store) EvictTerminalBefore(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for id, job := range s.jobs {
		if !job.Status.Terminal() {
			continue
		}
		if job.EndedAt == nil || job.EndedAt.After(cutoff) {
			continue
		}
		delete(s.jobs, id)
		evicted++
	}
	return evicted
}
