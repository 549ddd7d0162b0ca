package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KwangsungKim138/Faster-Whisper-API/internal/jobs"
)

type fakeService struct {
	submitErr error
	getErr    error
	job       *jobs.Job
	submitted []jobs.Request
}

func (f *fakeService) Submit(req jobs.Request) (*jobs.Job, error) {
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	f.submitted = append(f.submitted, req)
	return f.job, nil
}

func (f *fakeService) Get(id string) (*jobs.Job, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.job, nil
}

func (f *fakeService) List() []*jobs.Job {
	if f.job == nil {
		return nil
	}
	return []*jobs.Job{f.job}
}

func queuedJob(id string) *jobs.Job {
	return &jobs.Job{
		ID:        id,
		Status:    jobs.StatusQueued,
		CreatedAt: time.Now(),
	}
}

func multipartBody(t *testing.T, query string, fileName string, fileContent []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if query != "" {
		require.NoError(t, mw.WriteField("q", query))
	}
	if fileName != "" {
		part, err := mw.CreateFormFile("file", fileName)
		require.NoError(t, err)
		_, err = part.Write(fileContent)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestServer_Submit_Accepted(t *testing.T) {
	svc := &fakeService{job: queuedJob("job-abc")}
	srv := NewServer(svc, WithUploadLimits(t.TempDir(), 1024))

	body, contentType := multipartBody(t,
		`{"language":"ko","vad":true,"word_timestamps":true,"is_video":true,"start":3,"end":9}`,
		"lecture.mp4", []byte("fake media"))
	req := httptest.NewRequest(http.MethodPost, "/transcribe_async", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "/jobs/job-abc", rec.Header().Get("Location"))

	var resp struct {
		JobID     string `json:"job_id"`
		StatusURL string `json:"status_url"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "job-abc", resp.JobID)
	assert.Equal(t, "/jobs/job-abc", resp.StatusURL)

	require.Len(t, svc.submitted, 1)
	got := svc.submitted[0]
	assert.Equal(t, "ko", got.Language)
	assert.True(t, got.VAD)
	assert.True(t, got.WordTimestamps)
	assert.True(t, got.IsVideo)
	assert.Equal(t, 3, got.Start)
	assert.Equal(t, 9, got.End)

	// The upload was staged to disk for the worker.
	require.NotEmpty(t, got.InputPath)
	content, err := os.ReadFile(got.InputPath)
	require.NoError(t, err)
	assert.Equal(t, []byte("fake media"), content)
}

func TestServer_Submit_DefaultsWithoutQuery(t *testing.T) {
	svc := &fakeService{job: queuedJob("job-1")}
	srv := NewServer(svc, WithUploadLimits(t.TempDir(), 1024))

	body, contentType := multipartBody(t, "", "a.wav", []byte("x"))
	req := httptest.NewRequest(http.MethodPost, "/transcribe_async", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, svc.submitted, 1)
	assert.Equal(t, "ko", svc.submitted[0].Language)
	assert.True(t, svc.submitted[0].VAD)
	assert.False(t, svc.submitted[0].WordTimestamps)
}

func TestServer_Submit_RequestIDFallbackChain(t *testing.T) {
	svc := &fakeService{job: queuedJob("job-1")}
	srv := NewServer(svc, WithUploadLimits(t.TempDir(), 1024))

	// Header wins over the body field when no query param is present.
	body, contentType := multipartBody(t, `{"request_id":"from-body"}`, "a.wav", []byte("x"))
	req := httptest.NewRequest(http.MethodPost, "/transcribe_async", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Request-ID", "from-header")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, svc.submitted, 1)
	assert.Equal(t, "from-header", svc.submitted[0].RequestID)
	assert.Equal(t, "from-header", rec.Header().Get("X-Request-ID"))

	// Query param wins over everything.
	body, contentType = multipartBody(t, `{"request_id":"from-body"}`, "a.wav", []byte("x"))
	req = httptest.NewRequest(http.MethodPost, "/transcribe_async?request_id=from-query", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Request-ID", "from-header")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "from-query", svc.submitted[1].RequestID)
}

func TestServer_Submit_Overloaded(t *testing.T) {
	svc := &fakeService{submitErr: jobs.ErrQueueFull}
	srv := NewServer(svc,
		WithUploadLimits(t.TempDir(), 1024),
		WithRetryAfter(15*time.Second))

	body, contentType := multipartBody(t, "", "a.wav", []byte("x"))
	req := httptest.NewRequest(http.MethodPost, "/transcribe_async", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "15", rec.Header().Get("Retry-After"))

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["error"])
}

func TestServer_Submit_FileTooLarge(t *testing.T) {
	svc := &fakeService{job: queuedJob("job-1")}
	srv := NewServer(svc, WithUploadLimits(t.TempDir(), 4))

	body, contentType := multipartBody(t, "", "a.wav", []byte("way past the limit"))
	req := httptest.NewRequest(http.MethodPost, "/transcribe_async", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Empty(t, svc.submitted)
}

func TestServer_Submit_MissingFile(t *testing.T) {
	svc := &fakeService{job: queuedJob("job-1")}
	srv := NewServer(svc, WithUploadLimits(t.TempDir(), 1024))

	body, contentType := multipartBody(t, `{"language":"ko"}`, "", nil)
	req := httptest.NewRequest(http.MethodPost, "/transcribe_async", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Submit_InvalidLanguage(t *testing.T) {
	svc := &fakeService{job: queuedJob("job-1")}
	srv := NewServer(svc, WithUploadLimits(t.TempDir(), 1024))

	body, contentType := multipartBody(t, `{"language":"not a language"}`, "a.wav", []byte("x"))
	req := httptest.NewRequest(http.MethodPost, "/transcribe_async", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, svc.submitted)
}

func TestServer_JobStatus_Found(t *testing.T) {
	started := time.Now()
	svc := &fakeService{job: &jobs.Job{
		ID:        "job-42",
		Status:    jobs.StatusProcessing,
		CreatedAt: started,
		StartedAt: &started,
		Progress:  0.4,
		Message:   "transcribing",
	}}
	srv := NewServer(svc)

	req := httptest.NewRequest(http.MethodGet, "/jobs/job-42", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got jobs.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "job-42", got.ID)
	assert.Equal(t, jobs.StatusProcessing, got.Status)
	assert.Equal(t, 0.4, got.Progress)
	assert.Equal(t, "transcribing", got.Message)
	assert.Nil(t, got.Result)
}

func TestServer_JobStatus_NotFound(t *testing.T) {
	svc := &fakeService{getErr: jobs.ErrNotFound}
	srv := NewServer(svc)

	req := httptest.NewRequest(http.MethodGet, "/jobs/0e7b3c9f-missing", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "job not found", resp["error"])
}

func TestServer_JobStatus_MethodNotAllowed(t *testing.T) {
	srv := NewServer(&fakeService{})

	req := httptest.NewRequest(http.MethodDelete, "/jobs/job-1", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServer_Health(t *testing.T) {
	srv := NewServer(&fakeService{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_JobStream_SendsSnapshot(t *testing.T) {
	svc := &fakeService{job: queuedJob("job-stream")}
	srv := NewServer(svc)

	// The handler emits one snapshot immediately, then blocks on its
	// ticker until the request context expires.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/jobs/stream", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "data: ")
	assert.Contains(t, rec.Body.String(), "job-stream")
}

func TestServer_RequestLog_AssignsRequestID(t *testing.T) {
	srv := NewServer(&fakeService{getErr: jobs.ErrNotFound})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}
