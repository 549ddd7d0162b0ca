package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/text/language"

	"github.com/KwangsungKim138/Faster-Whisper-API/internal/jobs"
)

// transcribeQuery is the JSON form field "q" of a submission.
type transcribeQuery struct {
	RequestID      string `json:"request_id"`
	Language       string `json:"language"`
	IsVideo        bool   `json:"is_video"`
	Start          int    `json:"start"`
	End            int    `json:"end"`
	VAD            bool   `json:"vad"`
	WordTimestamps bool   `json:"word_timestamps"`
}

func defaultQuery() transcribeQuery {
	return transcribeQuery{
		Language: "ko",
		VAD:      true,
	}
}

func (s *Server) handleTranscribeAsync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	reader, err := r.MultipartReader()
	if err != nil {
		writeError(w, http.StatusBadRequest, "multipart form body is required")
		return
	}

	query := defaultQuery()
	tmpPath := ""
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			s.discardUpload(tmpPath)
			writeError(w, http.StatusBadRequest, "malformed multipart body")
			return
		}

		switch part.FormName() {
		case "q":
			if err := json.NewDecoder(part).Decode(&query); err != nil {
				s.discardUpload(tmpPath)
				writeError(w, http.StatusBadRequest, "invalid query json")
				return
			}
		case "file":
			tmpPath, err = s.stageUpload(part)
			if err != nil {
				if errors.Is(err, errUploadTooLarge) {
					writeError(w, http.StatusRequestEntityTooLarge, "file too large")
					return
				}
				writeError(w, http.StatusInternalServerError, "failed to store upload")
				return
			}
		}
	}
	if tmpPath == "" {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}

	if !validLanguage(query.Language) {
		s.discardUpload(tmpPath)
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported language %q", query.Language))
		return
	}

	// Request id fallback chain: query param, then header, then body.
	requestID := r.URL.Query().Get("request_id")
	if requestID == "" {
		requestID = r.Header.Get("X-Request-ID")
	}
	if requestID == "" {
		requestID = query.RequestID
	}

	job, err := s.service.Submit(jobs.Request{
		InputPath:      tmpPath,
		RequestID:      requestID,
		Language:       query.Language,
		IsVideo:        query.IsVideo,
		VAD:            query.VAD,
		WordTimestamps: query.WordTimestamps,
		Start:          query.Start,
		End:            query.End,
	})
	if err != nil {
		s.discardUpload(tmpPath)
		if errors.Is(err, jobs.ErrQueueFull) {
			w.Header().Set("Retry-After", strconv.Itoa(int(s.retryAfter.Seconds())))
			writeError(w, http.StatusServiceUnavailable, "server is busy, retry later")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	statusPath := "/jobs/" + job.ID
	w.Header().Set("Location", statusPath)
	if requestID == "" {
		requestID = job.ID
	}
	w.Header().Set("X-Request-ID", requestID)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":     job.ID,
		"status_url": statusPath,
	})
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/jobs/"), "/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	job, err := s.service.Get(id)
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

var errUploadTooLarge = errors.New("upload exceeds size limit")

// stageUpload streams one multipart file part to a temp file,
// enforcing the configured byte budget while copying.
func (s *Server) stageUpload(part *multipart.Part) (string, error) {
	suffix := filepath.Ext(part.FileName())
	if suffix == "" {
		suffix = ".bin"
	}

	tmp, err := os.CreateTemp(s.uploadDir, "in_*"+suffix)
	if err != nil {
		return "", err
	}

	written, err := io.Copy(tmp, io.LimitReader(part, s.maxUploadBytes+1))
	closeErr := tmp.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil && written > s.maxUploadBytes {
		err = errUploadTooLarge
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}

func (s *Server) discardUpload(path string) {
	if path == "" {
		return
	}
	_ = os.Remove(path)
}

// validLanguage accepts "auto", empty, or anything x/text can parse
// as a language tag.
func validLanguage(lang string) bool {
	lang = strings.TrimSpace(lang)
	if lang == "" || strings.EqualFold(lang, "auto") {
		return true
	}
	_, err := language.Parse(lang)
	return err == nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}
