package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration, read from environment
// variables with sensible defaults.
//
// Environment Variables:
//
// Admission and concurrency:
// - MAX_CONCURRENCY: simultaneous engine invocations (default: 1)
// - QUEUE_MAXSIZE: accepted-but-unfinished job budget (default: 8, must be >= MAX_CONCURRENCY)
// - WORKER_COUNT: worker goroutines (default: MAX_CONCURRENCY)
// - RETRY_AFTER_SECONDS: Retry-After hint on overload rejections (default: 30)
//
// HTTP boundary:
// - HTTP_ADDR: listen address (default: :8000)
// - MAX_AUDIO_BYTES: upload size cap (default: 1 GiB)
// - UPLOAD_DIR: staging dir for uploads (default: OS temp dir)
//
// Media preprocessing:
// - SAMPLE_RATE: output sample rate in Hz (default: 16000)
// - CHANNELS: output channel count (default: 1, mono)
// - FFMPEG_BIN / FFPROBE_BIN: binary overrides
//
// Inference engine:
// - WHISPER_BIN: whisper CLI binary (default: whisper-cli)
// - WHISPER_MODEL: model file path (required)
// - WHISPER_VAD_MODEL: VAD model path, enables the vad flag (optional)
//
// Job table:
// - JOB_TTL: retention of terminal jobs, 0 disables eviction (default: 0)
// - JOB_SWEEP_CRON: eviction schedule (default: @every 10m)
//
// Logging:
// - LOG_LEVEL: debug|info|warn|error (default: info)
type Config struct {
	HTTPAddr      string
	MaxAudioBytes int64
	UploadDir     string

	MaxConcurrency int
	QueueMaxSize   int
	WorkerCount    int
	RetryAfter     time.Duration

	SampleRate int
	Channels   int
	FfmpegBin  string
	FfprobeBin string

	WhisperBin      string
	WhisperModel    string
	WhisperVADModel string

	JobTTL       time.Duration
	JobSweepCron string

	LogLevel string
}

// NewFromEnv builds a Config from the environment and validates it.
func NewFromEnv() (*Config, error) {
	cfg := &Config{
		HTTPAddr:      getEnvString("HTTP_ADDR", ":8000"),
		MaxAudioBytes: getEnvInt64("MAX_AUDIO_BYTES", 1024*1024*1024),
		UploadDir:     getEnvString("UPLOAD_DIR", os.TempDir()),

		MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 1),
		QueueMaxSize:   getEnvInt("QUEUE_MAXSIZE", 8),
		WorkerCount:    getEnvInt("WORKER_COUNT", 0),
		RetryAfter:     time.Duration(getEnvInt("RETRY_AFTER_SECONDS", 30)) * time.Second,

		SampleRate: getEnvInt("SAMPLE_RATE", 16000),
		Channels:   getEnvInt("CHANNELS", 1),
		FfmpegBin:  getEnvString("FFMPEG_BIN", "ffmpeg"),
		FfprobeBin: getEnvString("FFPROBE_BIN", "ffprobe"),

		WhisperBin:      getEnvString("WHISPER_BIN", "whisper-cli"),
		WhisperModel:    getEnvString("WHISPER_MODEL", ""),
		WhisperVADModel: getEnvString("WHISPER_VAD_MODEL", ""),

		JobTTL:       getEnvDuration("JOB_TTL", 0),
		JobSweepCron: getEnvString("JOB_SWEEP_CRON", "@every 10m"),

		LogLevel: getEnvString("LOG_LEVEL", "info"),
	}

	if cfg.WorkerCount == 0 {
		cfg.WorkerCount = cfg.MaxConcurrency
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.MaxConcurrency < 1 {
		return fmt.Errorf("MAX_CONCURRENCY must be >= 1, got %d", c.MaxConcurrency)
	}
	if c.QueueMaxSize < c.MaxConcurrency {
		return fmt.Errorf("QUEUE_MAXSIZE (%d) must be >= MAX_CONCURRENCY (%d)", c.QueueMaxSize, c.MaxConcurrency)
	}
	if c.WorkerCount < 1 {
		return fmt.Errorf("WORKER_COUNT must be >= 1, got %d", c.WorkerCount)
	}
	if c.MaxAudioBytes < 1 {
		return fmt.Errorf("MAX_AUDIO_BYTES must be >= 1, got %d", c.MaxAudioBytes)
	}
	if c.WhisperModel == "" {
		return fmt.Errorf("WHISPER_MODEL is required")
	}
	return nil
}

// getEnvString gets a string value from environment variables with default
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment variables with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvInt64 gets a 64-bit integer value from environment variables with default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvDuration gets a duration value (e.g. "24h") from environment variables with default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
