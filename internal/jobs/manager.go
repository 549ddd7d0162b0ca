package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/semaphore"

	"github.com/KwangsungKim138/Faster-Whisper-API/pkg/log"
)

// ErrNotFound is the signal for a job id that was never issued or has
// already been evicted.
var ErrNotFound = errors.New("job not found")

// Options wires the manager's collaborators and limits.
type Options struct {
	// MaxConcurrency bounds simultaneous engine invocations.
	MaxConcurrency int
	// QueueMaxSize bounds accepted-but-not-terminal jobs (admission).
	QueueMaxSize int
	// WorkerCount may exceed MaxConcurrency; extra workers park in
	// the limiter. Defaults to MaxConcurrency.
	WorkerCount int

	Preprocessor Preprocessor
	Engine       Engine

	// JobTTL > 0 enables periodic eviction of terminal jobs older
	// than the TTL, on SweepSchedule (cron spec, e.g. "@every 10m").
	JobTTL        time.Duration
	SweepSchedule string
}

// Manager owns the job store, the admission queue, the concurrency
// limiter, and the worker pool. It exposes the lifecycle operations
// the HTTP boundary calls into.
type Manager struct {
	store *Store
	queue *BoundedQueue
	sem   *semaphore.Weighted

	pre    Preprocessor
	engine Engine

	workerCount   int
	ttl           time.Duration
	sweepSchedule string
	sweeper       *cron.Cron

	mu       sync.Mutex
	started  bool
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// ctx unblocks workers parked in the limiter during shutdown.
	ctx    context.Context
	cancel context.CancelFunc
}

func NewManager(opts Options) *Manager {
	if opts.MaxConcurrency < 1 {
		opts.MaxConcurrency = 1
	}
	if opts.QueueMaxSize < opts.MaxConcurrency {
		opts.QueueMaxSize = opts.MaxConcurrency
	}
	if opts.WorkerCount < 1 {
		opts.WorkerCount = opts.MaxConcurrency
	}
	if opts.SweepSchedule == "" {
		opts.SweepSchedule = "@every 10m"
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		store:         NewStore(),
		queue:         NewBoundedQueue(opts.QueueMaxSize),
		sem:           semaphore.NewWeighted(int64(opts.MaxConcurrency)),
		pre:           opts.Preprocessor,
		engine:        opts.Engine,
		workerCount:   opts.WorkerCount,
		ttl:           opts.JobTTL,
		sweepSchedule: opts.SweepSchedule,
		stopCh:        make(chan struct{}),
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Submit admits a request, creates the job record in queued state and
// returns its snapshot without waiting for execution. When the
// admission budget is exhausted it fails with ErrQueueFull and no job
// record is created.
func (m *Manager) Submit(req Request) (*Job, error) {
	if err := m.queue.Reserve(); err != nil {
		return nil, err
	}

	job := m.store.Create(req)
	m.queue.Push(job)

	log.Info("Job %s queued (request_id=%s)", job.ID, job.RequestID)
	return job, nil
}

// Get returns the current snapshot of a job. It never blocks on
// in-flight work.
func (m *Manager) Get(id string) (*Job, error) {
	job, ok := m.store.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	return job, nil
}

// List returns snapshots of all known jobs.
func (m *Manager) List() []*Job {
	return m.store.List()
}

// Start launches the worker pool and, when a TTL is configured, the
// eviction sweeper.
func (m *Manager) Start() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	for i := 0; i < m.workerCount; i++ {
		m.wg.Add(1)
		go m.worker()
	}
	log.Info("Started %d workers (admission capacity %d)", m.workerCount, m.queue.capacity)

	if m.ttl > 0 {
		m.sweeper = cron.New()
		if _, err := m.sweeper.AddFunc(m.sweepSchedule, m.sweepExpired); err != nil {
			log.Error("Invalid sweep schedule %q: %v", m.sweepSchedule, err)
		} else {
			m.sweeper.Start()
		}
	}
}

// Stop halts the worker pool. Workers finish the job they hold;
// queued jobs stay queued and are abandoned with the process.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		m.cancel()
		m.wg.Wait()
		if m.sweeper != nil {
			m.sweeper.Stop()
		}
	})
}

func (m *Manager) sweepExpired() {
	cutoff := time.Now().Add(-m.ttl)
	if n := m.store.EvictTerminalBefore(cutoff); n > 0 {
		log.Info("Evicted %d terminal jobs older than %s", n, m.ttl)
	}
}
