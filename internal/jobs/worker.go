package jobs

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/abadojack/whatlanggo"

	"github.com/KwangsungKim138/Faster-Whisper-API/pkg/log"
)

// worker runs until Stop: dequeue a job, take a limiter slot, drive it
// to a terminal state. A worker only ever mutates jobs it dequeued.
func (m *Manager) worker() {
	defer m.wg.Done()

	for {
		job, ok := m.queue.Dequeue(m.stopCh)
		if !ok {
			return
		}
		m.process(job)
	}
}

func (m *Manager) process(job *Job) {
	// The admission slot is held until the job is terminal.
	defer m.queue.Release()
	defer m.cleanupInput(job)

	if err := m.sem.Acquire(m.ctx, 1); err != nil {
		// Shutdown while waiting for a slot: the job stays queued and
		// is abandoned with the process.
		return
	}
	defer m.sem.Release(1)

	defer func() {
		if r := recover(); r != nil {
			log.Error("Job %s: worker panic: %v", job.ID, r)
			m.markError(job.ID, fmt.Sprintf("internal error: %v", r))
		}
	}()

	m.markProcessing(job.ID)
	log.Info("Job %s processing", job.ID)

	audio, err := m.pre.Normalize(m.ctx, job.Request)
	if err != nil {
		log.Error("Job %s: preprocess failed: %v", job.ID, err)
		m.markError(job.ID, fmt.Sprintf("preprocess: %v", err))
		return
	}
	defer m.cleanupAudio(job.ID, audio)

	m.setMessage(job.ID, "transcribing")

	result, err := m.engine.Transcribe(m.ctx, audio, job.Request, func(p float64) {
		m.setProgress(job.ID, p)
	})
	if err != nil {
		log.Error("Job %s: transcription failed: %v", job.ID, err)
		m.markError(job.ID, fmt.Sprintf("transcribe: %v", err))
		return
	}

	if result.Language == "" {
		result.Language = detectLanguage(result.Text)
	}

	m.markDone(job.ID, result)
	log.Info("Job %s done (%.1fs of audio, %d segments)", job.ID, result.Duration, len(result.Segments))
}

// detectLanguage guesses the transcript language when the engine did
// not declare one.
func detectLanguage(text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}
	return whatlanggo.DetectLang(text).Iso6391()
}

func (m *Manager) cleanupInput(job *Job) {
	if job.Request.InputPath == "" {
		return
	}
	if err := os.Remove(job.Request.InputPath); err != nil && !os.IsNotExist(err) {
		log.Warn("Job %s: failed to remove upload %s: %v", job.ID, job.Request.InputPath, err)
	}
}

func (m *Manager) cleanupAudio(jobID string, audio AudioRef) {
	if audio.TempDir == "" {
		return
	}
	if err := os.RemoveAll(audio.TempDir); err != nil {
		log.Warn("Job %s: failed to remove temp dir %s: %v", jobID, audio.TempDir, err)
	}
}

// Transition methods below are only called by the worker that owns the
// job. Terminal states are frozen: a transition on a terminal record
// is a no-op.

func (m *Manager) markProcessing(id string) {
	m.store.update(id, func(job *Job) {
		if job.Status != StatusQueued {
			return
		}
		now := time.Now()
		job.Status = StatusProcessing
		job.StartedAt = &now
		job.Message = "received"
	})
}

func (m *Manager) setMessage(id, message string) {
	m.store.update(id, func(job *Job) {
		if job.Status != StatusProcessing {
			return
		}
		job.Message = message
	})
}

// setProgress clamps updates so progress is monotone non-decreasing
// and stays within [0,1].
func (m *Manager) setProgress(id string, progress float64) {
	m.store.update(id, func(job *Job) {
		if job.Status != StatusProcessing {
			return
		}
		if progress < job.Progress {
			return
		}
		if progress > 1 {
			progress = 1
		}
		job.Progress = progress
	})
}

func (m *Manager) markDone(id string, result *Result) {
	m.store.update(id, func(job *Job) {
		if job.Status != StatusProcessing {
			return
		}
		now := time.Now()
		job.Status = StatusDone
		job.EndedAt = &now
		job.Progress = 1.0
		job.Message = "done"
		job.Result = cloneResult(result)
	})
}

func (m *Manager) markError(id, message string) {
	m.store.update(id, func(job *Job) {
		if job.Status != StatusProcessing {
			return
		}
		now := time.Now()
		job.Status = StatusError
		job.EndedAt = &now
		job.Message = message
	})
}
