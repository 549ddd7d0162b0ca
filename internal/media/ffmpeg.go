package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/KwangsungKim138/Faster-Whisper-API/internal/jobs"
	"github.com/KwangsungKim138/Faster-Whisper-API/pkg/log"
)

// ErrDecode wraps failures on unreadable or corrupt input media.
var ErrDecode = errors.New("media decode failed")

// Processor normalizes uploaded media into mono PCM WAV suitable for
// the inference engine, via ffmpeg/ffprobe.
type Processor struct {
	ffmpegCmd  string
	ffprobeCmd string
	sampleRate int
	channels   int
}

type ProcessorOptions struct {
	FfmpegBin  string
	FfprobeBin string
	SampleRate int
	Channels   int
}

func NewProcessor(opts ProcessorOptions) *Processor {
	if opts.FfmpegBin == "" {
		opts.FfmpegBin = "ffmpeg"
	}
	if opts.FfprobeBin == "" {
		opts.FfprobeBin = "ffprobe"
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = 16000
	}
	if opts.Channels <= 0 {
		opts.Channels = 1
	}
	return &Processor{
		ffmpegCmd:  opts.FfmpegBin,
		ffprobeCmd: opts.FfprobeBin,
		sampleRate: opts.SampleRate,
		channels:   opts.Channels,
	}
}

// Normalize probes the source duration, then converts (audio) or
// demuxes (video) the media into a trimmed WAV in a fresh temp dir.
func (p *Processor) Normalize(ctx context.Context, req jobs.Request) (jobs.AudioRef, error) {
	if req.InputPath == "" {
		return jobs.AudioRef{}, fmt.Errorf("%w: empty input path", ErrDecode)
	}
	if _, err := os.Stat(req.InputPath); err != nil {
		return jobs.AudioRef{}, fmt.Errorf("%w: cannot access input: %v", ErrDecode, err)
	}

	sourceDuration, err := p.probeDuration(ctx, req.InputPath)
	if err != nil {
		return jobs.AudioRef{}, err
	}

	tempDir, err := os.MkdirTemp("", "whisper-api-*")
	if err != nil {
		return jobs.AudioRef{}, fmt.Errorf("failed to create temp workspace: %w", err)
	}

	outPath := filepath.Join(tempDir, "normalized.wav")
	args := p.convertArgs(req, outPath)

	cmd := exec.CommandContext(ctx, p.ffmpegCmd, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		_ = os.RemoveAll(tempDir)
		log.Error("ffmpeg failed for %s: %v: %s", req.InputPath, err, lastLine(stderr.String()))
		return jobs.AudioRef{}, fmt.Errorf("%w: ffmpeg: %s", ErrDecode, lastLine(stderr.String()))
	}
	if _, err := os.Stat(outPath); err != nil {
		_ = os.RemoveAll(tempDir)
		return jobs.AudioRef{}, fmt.Errorf("%w: ffmpeg produced no output", ErrDecode)
	}

	return jobs.AudioRef{
		Path:       outPath,
		SampleRate: p.sampleRate,
		Channels:   p.channels,
		Duration:   effectiveDuration(sourceDuration, req.Start, req.End),
		TempDir:    tempDir,
	}, nil
}

func (p *Processor) probeDuration(ctx context.Context, path string) (float64, error) {
	cmd := exec.CommandContext(ctx, p.ffprobeCmd, probeDurationArgs(path)...)
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("%w: ffprobe: %v", ErrDecode, err)
	}

	duration, err := strconv.ParseFloat(strings.TrimSpace(string(output)), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: ffprobe reported no duration", ErrDecode)
	}
	return duration, nil
}

func probeDurationArgs(path string) []string {
	return []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	}
}

// convertArgs builds the ffmpeg invocation: trim bounds, audio stream
// selection for video containers, mono PCM at the configured rate.
func (p *Processor) convertArgs(req jobs.Request, outPath string) []string {
	args := []string{"-hide_banner", "-nostdin", "-y"}
	if req.Start > 0 {
		args = append(args, "-ss", strconv.Itoa(req.Start))
	}
	if req.End > 0 {
		args = append(args, "-to", strconv.Itoa(req.End))
	}
	args = append(args, "-i", req.InputPath)
	if req.IsVideo {
		args = append(args, "-map", "0:a:0")
	}
	args = append(args,
		"-vn",
		"-ac", strconv.Itoa(p.channels),
		"-ar", strconv.Itoa(p.sampleRate),
		"-c:a", "pcm_s16le",
		outPath,
	)
	return args
}

// effectiveDuration returns the audio length after applying trim
// bounds to the probed source duration.
func effectiveDuration(source float64, start, end int) float64 {
	if source <= 0 {
		return 0
	}
	from := float64(start)
	to := source
	if end > 0 && float64(end) < to {
		to = float64(end)
	}
	if from >= to {
		return 0
	}
	return to - from
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) == 0 {
		return ""
	}
	return strings.TrimSpace(lines[len(lines)-1])
}
