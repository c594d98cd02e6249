package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"gopkg.in/natefinch/lumberjack.v2"

	"voicescribe/internal/asr"
	"voicescribe/internal/attach"
	"voicescribe/internal/audio"
	"voicescribe/internal/cleanup"
	appcfg "voicescribe/internal/config"
	"voicescribe/internal/document"
	"voicescribe/internal/jobs"
	"voicescribe/internal/server"
	"voicescribe/internal/worker"
)

func main() {
	// Load config first; fall back to a stderr logger for load failures.
	cfg, err := appcfg.Load("")
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("load config", "err", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	// Store (SQLite)
	store, err := jobs.NewSQLiteStore(cfg.Server.DatabasePath)
	if err != nil {
		logger.Error("sqlite open", "err", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	// Document store
	docs := document.NewFileStore(cfg.Server.StorageDir)

	// Attachment source
	var source attach.Source
	switch strings.ToLower(cfg.Attachments.Source) {
	case "cloud":
		source = attach.NewCloudSource(attach.CloudConfig{
			BaseURL:  cfg.Attachments.Cloud.BaseURL,
			APIToken: cfg.Attachments.Cloud.APIToken,
			Timeout:  cfg.Attachments.Cloud.Timeout,
			Attempts: cfg.Attachments.Cloud.Attempts,
			Delay:    cfg.Attachments.Cloud.Delay,
		})
	default:
		source = attach.NewLocalSource(cfg.Server.StorageDir)
	}

	// Pipeline stages
	normalizer := audio.New(logger, audio.Config{
		FFmpegPath:     cfg.Audio.FFmpegPath,
		FFprobePath:    cfg.Audio.FFprobePath,
		ChunkSeconds:   cfg.Audio.ChunkSeconds,
		OverlapSeconds: cfg.Audio.OverlapSeconds,
		MaxChunkBytes:  int64(cfg.Audio.MaxChunkBytes), // #nosec G115 - validated during config load
		CommandTimeout: cfg.Audio.CommandTimeout,
	})
	transcriber := asr.New(asr.Config{
		APIKey:   cfg.ASR.APIKey,
		BaseURL:  cfg.ASR.BaseURL,
		Model:    cfg.ASR.Model,
		Prompt:   cfg.ASR.Prompt,
		Timeout:  cfg.ASR.Timeout,
		ProxyURL: cfg.ASR.ProxyURL,
	})
	cleaner := cleanup.New(cleanup.Config{
		APIKey:   cfg.Cleanup.APIKey,
		BaseURL:  cfg.Cleanup.BaseURL,
		Model:    cfg.Cleanup.Model,
		Timeout:  cfg.Cleanup.Timeout,
		ProxyURL: cfg.Cleanup.ProxyURL,
	})

	// Worker and supervisor
	wrk := worker.New(logger, worker.Config{
		PollInterval:      cfg.Worker.PollInterval,
		BackoffBase:       cfg.Worker.BackoffBase,
		BackoffMax:        cfg.Worker.BackoffMax,
		DefaultBackoff:    cfg.Worker.DefaultBackoff,
		MergeWindow:       cfg.Worker.MergeWindow,
		RecoveryScanLimit: cfg.Worker.RecoveryScanLimit,
		ASRPrompt:         cfg.ASR.Prompt,
	}, store, docs, source, normalizer, transcriber, cleaner)

	rootCtx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	sup := worker.NewSupervisor(rootCtx, logger, wrk)
	if err := wrk.RunStartupRecovery(rootCtx); err != nil {
		logger.Error("startup recovery", "err", err)
		os.Exit(1)
	}
	sup.EnsureStarted()

	// HTTP server
	svc := &server.Service{
		Log:        logger,
		Cfg:        cfg,
		Store:      store,
		Supervisor: sup,
	}
	httpSrv := server.NewHTTPServer(svc)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server starting", "address", cfg.Server.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err.Error() != "http: Server closed" {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("server error", "err", err)
		}
	}

	// Graceful shutdown
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
	defer cancelShutdown()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "err", err)
	}
	sup.Stop(cfg.Server.ShutdownGrace)
	logger.Info("server stopped")
}

// newLogger builds the process logger. With logFile set, output goes to a
// size-rotated file; otherwise stdout.
func newLogger(cfg *appcfg.Config) *slog.Logger {
	var out io.Writer = os.Stdout
	if cfg.Server.LogFile != "" {
		out = &lumberjack.Logger{
			Filename:   cfg.Server.LogFile,
			MaxSize:    50, // megabytes
			MaxBackups: 5,
			MaxAge:     28, // days
			Compress:   true,
		}
	}
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Server.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
}
