package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/KwangsungKim138/Faster-Whisper-API/internal/config"
	"github.com/KwangsungKim138/Faster-Whisper-API/internal/httpapi"
	"github.com/KwangsungKim138/Faster-Whisper-API/internal/jobs"
	"github.com/KwangsungKim138/Faster-Whisper-API/internal/media"
	"github.com/KwangsungKim138/Faster-Whisper-API/internal/whisper"
	"github.com/KwangsungKim138/Faster-Whisper-API/pkg/log"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.NewFromEnv()
	if err != nil {
		log.Fatal("Failed to load configuration: %v", err)
	}
	log.InitLogger(log.ParseLevel(cfg.LogLevel))

	processor := media.NewProcessor(media.ProcessorOptions{
		FfmpegBin:  cfg.FfmpegBin,
		FfprobeBin: cfg.FfprobeBin,
		SampleRate: cfg.SampleRate,
		Channels:   cfg.Channels,
	})
	engine := whisper.NewEngine(whisper.Options{
		BinPath:      cfg.WhisperBin,
		ModelPath:    cfg.WhisperModel,
		VADModelPath: cfg.WhisperVADModel,
	})

	manager := jobs.NewManager(jobs.Options{
		MaxConcurrency: cfg.MaxConcurrency,
		QueueMaxSize:   cfg.QueueMaxSize,
		WorkerCount:    cfg.WorkerCount,
		Preprocessor:   processor,
		Engine:         engine,
		JobTTL:         cfg.JobTTL,
		SweepSchedule:  cfg.JobSweepCron,
	})
	manager.Start()

	server := httpapi.NewServer(manager,
		httpapi.WithUploadLimits(cfg.UploadDir, cfg.MaxAudioBytes),
		httpapi.WithRetryAfter(cfg.RetryAfter),
	)

	errCh := make(chan error, 1)
	go func() {
		log.Info("Listening on %s", cfg.HTTPAddr)
		errCh <- server.ListenAndServe(cfg.HTTPAddr)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server failed: %v", err)
		}
	case <-ctx.Done():
		log.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP shutdown: %v", err)
		}
		manager.Stop()
	}
}
