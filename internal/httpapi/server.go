package httpapi

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/KwangsungKim138/Faster-Whisper-API/internal/jobs"
)

// JobService is the lifecycle API the boundary maps onto HTTP.
type JobService interface {
	Submit(req jobs.Request) (*jobs.Job, error)
	Get(id string) (*jobs.Job, error)
	List() []*jobs.Job
}

type Server struct {
	service JobService

	maxUploadBytes int64
	uploadDir      string
	retryAfter     time.Duration

	mux    *http.ServeMux
	server *http.Server
}

type Option func(*Server)

// WithUploadLimits overrides upload staging directory and size cap.
func WithUploadLimits(dir string, maxBytes int64) Option {
	return func(s *Server) {
		if dir != "" {
			s.uploadDir = dir
		}
		if maxBytes > 0 {
			s.maxUploadBytes = maxBytes
		}
	}
}

// WithRetryAfter sets the Retry-After hint on overload rejections.
func WithRetryAfter(d time.Duration) Option {
	return func(s *Server) {
		s.retryAfter = d
	}
}

func NewServer(service JobService, opts ...Option) *Server {
	s := &Server{
		service:        service,
		maxUploadBytes: 1024 * 1024 * 1024,
		uploadDir:      os.TempDir(),
		retryAfter:     30 * time.Second,
		mux:            http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.withRequestLog(s.mux)
}

func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/transcribe_async", s.handleTranscribeAsync)
	s.mux.HandleFunc("/jobs/stream", s.handleJobStream)
	s.mux.HandleFunc("/jobs/", s.handleJobStatus)
	s.mux.HandleFunc("/healthz", s.handleHealth)
}
