package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("WHISPER_MODEL", "/models/ggml-large-v3.bin")
}

func TestNewFromEnv_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := NewFromEnv()
	require.NoError(t, err)

	assert.Equal(t, ":8000", cfg.HTTPAddr)
	assert.Equal(t, int64(1024*1024*1024), cfg.MaxAudioBytes)
	assert.Equal(t, 1, cfg.MaxConcurrency)
	assert.Equal(t, 8, cfg.QueueMaxSize)
	assert.Equal(t, 1, cfg.WorkerCount)
	assert.Equal(t, 30*time.Second, cfg.RetryAfter)
	assert.Equal(t, 16000, cfg.SampleRate)
	assert.Equal(t, 1, cfg.Channels)
	assert.Equal(t, time.Duration(0), cfg.JobTTL)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestNewFromEnv_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("MAX_CONCURRENCY", "2")
	t.Setenv("QUEUE_MAXSIZE", "16")
	t.Setenv("WORKER_COUNT", "4")
	t.Setenv("RETRY_AFTER_SECONDS", "5")
	t.Setenv("JOB_TTL", "24h")

	cfg, err := NewFromEnv()
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.MaxConcurrency)
	assert.Equal(t, 16, cfg.QueueMaxSize)
	assert.Equal(t, 4, cfg.WorkerCount)
	assert.Equal(t, 5*time.Second, cfg.RetryAfter)
	assert.Equal(t, 24*time.Hour, cfg.JobTTL)
}

func TestNewFromEnv_WorkerCountDefaultsToMaxConcurrency(t *testing.T) {
	setRequired(t)
	t.Setenv("MAX_CONCURRENCY", "3")
	t.Setenv("QUEUE_MAXSIZE", "6")

	cfg, err := NewFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.WorkerCount)
}

func TestNewFromEnv_RejectsQueueSmallerThanConcurrency(t *testing.T) {
	setRequired(t)
	t.Setenv("MAX_CONCURRENCY", "4")
	t.Setenv("QUEUE_MAXSIZE", "2")

	_, err := NewFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "QUEUE_MAXSIZE")
}

func TestNewFromEnv_RejectsZeroConcurrency(t *testing.T) {
	setRequired(t)
	t.Setenv("MAX_CONCURRENCY", "0")

	_, err := NewFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MAX_CONCURRENCY")
}

func TestNewFromEnv_RequiresModel(t *testing.T) {
	t.Setenv("WHISPER_MODEL", "")

	_, err := NewFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WHISPER_MODEL")
}
