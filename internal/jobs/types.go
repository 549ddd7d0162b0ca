package jobs

import (
	"context"
	"time"
)

type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusError      Status = "error"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusError
}

// Request holds the immutable input parameters of one transcription job.
type Request struct {
	// InputPath points at the uploaded media staged on local disk.
	// The owning worker removes the file once the job is terminal.
	InputPath string `json:"-"`

	RequestID      string `json:"request_id,omitempty"`
	Language       string `json:"language"`
	IsVideo        bool   `json:"is_video"`
	VAD            bool   `json:"vad"`
	WordTimestamps bool   `json:"word_timestamps"`

	// Start and End trim the source media, in seconds. Zero means unset.
	Start int `json:"start"`
	End   int `json:"end"`
}

type Word struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Word  string  `json:"word"`
}

type Segment struct {
	Index      int     `json:"index"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Content    string  `json:"content"`
	AvgLogProb float64 `json:"avg_logprob"`
	Prob       int     `json:"prob"`
	Words      []Word  `json:"words,omitempty"`
}

type Result struct {
	Language  string    `json:"language"`
	Duration  float64   `json:"duration"`
	CreatedAt string    `json:"created_at"`
	Text      string    `json:"text"`
	Segments  []Segment `json:"segments"`
}

// Job is one submitted transcription request and its tracked lifecycle.
// After enqueue only the worker that dequeued it mutates the record;
// readers always get clones.
type Job struct {
	ID        string     `json:"job_id"`
	Status    Status     `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	StartedAt *time.Time `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at"`
	Progress  float64    `json:"progress"`
	Message   string     `json:"message"`
	RequestID string     `json:"request_id,omitempty"`
	Request   Request    `json:"request"`
	Result    *Result    `json:"result"`
}

// AudioRef describes normalized audio handed from the preprocessing
// collaborator to the inference engine collaborator.
type AudioRef struct {
	Path       string
	SampleRate int
	Channels   int
	// Duration is the effective audio length in seconds after trimming.
	Duration float64
	// TempDir holds intermediate artifacts; the worker removes it.
	TempDir string
}

// Preprocessor is the external decode/resample collaborator.
type Preprocessor interface {
	Normalize(ctx context.Context, req Request) (AudioRef, error)
}

// Engine is the external inference collaborator. It is invoked at most
// MAX_CONCURRENCY times concurrently and reports non-decreasing
// progress fractions in [0,1] through the callback.
type Engine interface {
	Transcribe(ctx context.Context, audio AudioRef, req Request, progress func(float64)) (*Result, error)
}

func cloneJob(job *Job) *Job {
	if job == nil {
		return nil
	}
	tmp := *job
	if job.StartedAt != nil {
		t := *job.StartedAt
		tmp.StartedAt = &t
	}
	if job.EndedAt != nil {
		t := *job.EndedAt
		tmp.EndedAt = &t
	}
	tmp.Result = cloneResult(job.Result)
	return &tmp
}

func cloneResult(res *Result) *Result {
	if res == nil {
		return nil
	}
	tmp := *res
	tmp.Segments = make([]Segment, len(res.Segments))
	copy(tmp.Segments, res.Segments)
	for i, seg := range tmp.Segments {
		if len(seg.Words) > 0 {
			words := make([]Word, len(seg.Words))
			copy(words, seg.Words)
			tmp.Segments[i].Words = words
		}
	}
	return &tmp
}
