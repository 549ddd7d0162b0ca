package whisper

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/KwangsungKim138/Faster-Whisper-API/internal/jobs"
	"github.com/KwangsungKim138/Faster-Whisper-API/pkg/log"
)

// ErrInference wraps engine invocation failures.
var ErrInference = errors.New("inference failed")

// Engine runs a whisper.cpp CLI against normalized audio. One Engine
// value is shared by all workers; the manager's limiter bounds how
// many invocations run at once.
type Engine struct {
	binPath      string
	modelPath    string
	vadModelPath string
}

type Options struct {
	BinPath      string
	ModelPath    string
	VADModelPath string
}

func NewEngine(opts Options) *Engine {
	if opts.BinPath == "" {
		opts.BinPath = "whisper-cli"
	}
	return &Engine{
		binPath:      opts.BinPath,
		modelPath:    opts.ModelPath,
		vadModelPath: opts.VADModelPath,
	}
}

// Transcribe invokes the CLI, relaying progress while segments stream
// on stdout, then parses the JSON transcript it wrote.
//
// Progress is derived from segment end times against the known audio
// duration and capped at 0.99; only the terminal transition reports 1.0.
func (e *Engine) Transcribe(ctx context.Context, audio jobs.AudioRef, req jobs.Request, progress func(float64)) (*jobs.Result, error) {
	outBase := filepath.Join(filepath.Dir(audio.Path), "transcript")
	args := e.buildArgs(audio.Path, outBase, req)

	cmd := exec.CommandContext(ctx, e.binPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInference, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInference, err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		end, ok := parseSegmentLine(scanner.Text())
		if !ok || audio.Duration <= 0 || progress == nil {
			continue
		}
		progress(math.Min(0.99, end/audio.Duration))
	}

	if err := cmd.Wait(); err != nil {
		log.Error("whisper failed: %v: %s", err, lastLine(stderr.String()))
		return nil, fmt.Errorf("%w: %s", ErrInference, lastLine(stderr.String()))
	}

	data, err := os.ReadFile(outBase + ".json")
	if err != nil {
		return nil, fmt.Errorf("%w: transcript file missing: %v", ErrInference, err)
	}

	language, segments, err := parseTranscript(data, req.WordTimestamps)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInference, err)
	}

	duration := audio.Duration
	if duration == 0 && len(segments) > 0 {
		duration = segments[len(segments)-1].End
	}

	texts := make([]string, 0, len(segments))
	for _, seg := range segments {
		texts = append(texts, seg.Content)
	}

	now := time.Now()
	return &jobs.Result{
		Language:  language,
		Duration:  duration,
		CreatedAt: now.Format("2006-01-02 15:04:05.000"),
		Text:      strings.Join(texts, " "),
		Segments:  segments,
	}, nil
}

func (e *Engine) buildArgs(audioPath, outBase string, req jobs.Request) []string {
	args := []string{
		"-m", e.modelPath,
		"-f", audioPath,
		"-of", outBase,
		"-l", normalizeLanguage(req.Language),
	}
	if req.WordTimestamps {
		args = append(args, "-ojf")
	} else {
		args = append(args, "-oj")
	}
	if req.VAD && e.vadModelPath != "" {
		args = append(args, "--vad", "-vm", e.vadModelPath)
	}
	return args
}

// normalizeLanguage maps empty input to auto-detection.
func normalizeLanguage(raw string) string {
	lang := strings.TrimSpace(strings.ToLower(raw))
	if lang == "" {
		return "auto"
	}
	return lang
}

// transcriptFile mirrors the whisper.cpp JSON output layout.
type transcriptFile struct {
	Result struct {
		Language string `json:"language"`
	} `json:"result"`
	Transcription []struct {
		Offsets struct {
			From int64 `json:"from"`
			To   int64 `json:"to"`
		} `json:"offsets"`
		Text   string `json:"text"`
		Tokens []struct {
			Text    string `json:"text"`
			Offsets struct {
				From int64 `json:"from"`
				To   int64 `json:"to"`
			} `json:"offsets"`
			P float64 `json:"p"`
		} `json:"tokens"`
	} `json:"transcription"`
}

// parseTranscript converts the JSON transcript into result segments.
// Segments with empty text are dropped and indices reassigned, so the
// output is a dense, ordered sequence.
func parseTranscript(data []byte, wordTimestamps bool) (string, []jobs.Segment, error) {
	var file transcriptFile
	if err := json.Unmarshal(data, &file); err != nil {
		return "", nil, fmt.Errorf("malformed transcript json: %v", err)
	}

	segments := make([]jobs.Segment, 0, len(file.Transcription))
	for _, entry := range file.Transcription {
		text := strings.TrimSpace(entry.Text)
		if text == "" {
			continue
		}

		seg := jobs.Segment{
			Index:   len(segments),
			Start:   float64(entry.Offsets.From) / 1000.0,
			End:     float64(entry.Offsets.To) / 1000.0,
			Content: text,
		}

		var logProbSum float64
		var counted int
		for _, token := range entry.Tokens {
			if isSpecialToken(token.Text) {
				continue
			}
			if token.P > 0 {
				logProbSum += math.Log(token.P)
				counted++
			}
			if wordTimestamps {
				word := strings.TrimSpace(token.Text)
				if word == "" {
					continue
				}
				seg.Words = append(seg.Words, jobs.Word{
					Start: float64(token.Offsets.From) / 1000.0,
					End:   float64(token.Offsets.To) / 1000.0,
					Word:  word,
				})
			}
		}
		if counted > 0 {
			seg.AvgLogProb = logProbSum / float64(counted)
			seg.Prob = toProbInt(seg.AvgLogProb)
		}

		segments = append(segments, seg)
	}

	return file.Result.Language, segments, nil
}

// isSpecialToken filters whisper markers such as [_BEG_] and
// <|endoftext|> out of word output.
func isSpecialToken(text string) bool {
	trimmed := strings.TrimSpace(text)
	return strings.HasPrefix(trimmed, "[_") || strings.HasPrefix(trimmed, "<|")
}

// toProbInt converts an average log probability to an integer
// confidence in [0,100], e.g. exp(-0.1) ~ 0.904 -> 90.
func toProbInt(avgLogProb float64) int {
	p := math.Exp(avgLogProb) * 100
	if math.IsNaN(p) || math.IsInf(p, 0) {
		return 0
	}
	rounded := int(math.Round(p))
	if rounded < 0 {
		return 0
	}
	if rounded > 100 {
		return 100
	}
	return rounded
}

// parseSegmentLine extracts the segment end time from a streamed
// stdout line of the form "[00:00:00.000 --> 00:00:05.240]  text".
func parseSegmentLine(line string) (float64, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "[") {
		return 0, false
	}
	closing := strings.Index(line, "]")
	arrow := strings.Index(line, "-->")
	if closing < 0 || arrow < 0 || arrow > closing {
		return 0, false
	}
	return parseTimestamp(strings.TrimSpace(line[arrow+len("-->") : closing]))
}

// parseTimestamp parses "HH:MM:SS.mmm" into seconds.
func parseTimestamp(ts string) (float64, bool) {
	parts := strings.Split(ts, ":")
	if len(parts) != 3 {
		return 0, false
	}
	hours, err1 := strconv.Atoi(parts[0])
	minutes, err2 := strconv.Atoi(parts[1])
	seconds, err3 := strconv.ParseFloat(strings.Replace(parts[2], ",", ".", 1), 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return 0, false
	}
	return float64(hours*3600+minutes*60) + seconds, true
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) == 0 {
		return ""
	}
	return strings.TrimSpace(lines[len(lines)-1])
}
