package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"inferno/blobstore"
	"inferno/cache"
	"inferno/core/chassis"
	"inferno/core/config"
	"inferno/core/data"
	"inferno/core/trace"
	"inferno/dispatch"
	"inferno/diskcache"
	"inferno/jobstore"
	"inferno/modelstate"
	"inferno/processor"
	"inferno/progress"
)

func main() {
	logger := setupLogger()
	logger.Info("inferno worker starting")

	cfg, err := config.Load(os.Getenv("INFERNO_CONFIG_PATH"))
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("shutdown signal received")
		cancel()
	}()

	db, err := data.OpenDB(cfg.JobsDBPath)
	if err != nil {
		logger.Error("failed to open jobs db", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	store, err := jobstore.Open(db)
	if err != nil {
		logger.Error("failed to open job store", "error", err)
		os.Exit(1)
	}

	if err := trace.EnsureSchema(db); err != nil {
		logger.Error("failed to create trace schema", "error", err)
		os.Exit(1)
	}

	disk, err := diskcache.New(cfg.Cache.SemiPersistentDir, logger)
	if err != nil {
		logger.Error("failed to open disk cache", "error", err)
		os.Exit(1)
	}

	lfu := cache.NewVirtualLFU(cfg.Cache.SidecarMaxResidentModels)
	diskStrategizer := cache.New(cfg.Cache.DiskMaxColdDuration, cfg.Cache.DiskCacheForgetDuration)
	memoryStrategizer := cache.New(cfg.Cache.MemoryMaxColdDuration, cfg.Cache.MemoryCacheForgetDuration)

	blobs, err := blobstore.New(ctx, cfg.BlobStore, logger)
	if err != nil {
		logger.Error("failed to open blob store client", "error", err)
		os.Exit(1)
	}

	hub := progress.NewHub(logger)
	resolver := modelstate.New(store, disk, lfu)

	table := processor.DefaultTable(
		processor.TTS{
			SynthesizerCommand: "synthesize",
			TerminateGrace:     cfg.Subprocess.TerminateGrace,
		},
		processor.VoiceConversion{
			ConversionCommand: "convert-voice",
			TerminateGrace:    cfg.Subprocess.TerminateGrace,
		},
		processor.VideoStyleTransfer{
			ComfyUIServerURL:   "http://127.0.0.1:8188",
			RunTimeout:         cfg.Subprocess.Timeout,
			WatermarkImagePath: cfg.Video.WatermarkImagePath,
			Logger:             logger,
		},
		processor.LipSync{
			SyncCommand:    "lip-sync",
			TerminateGrace: cfg.Subprocess.TerminateGrace,
		},
		processor.ImageGeneration{
			GenerateCommand: "generate-image",
			TerminateGrace:  cfg.Subprocess.TerminateGrace,
		},
	)

	pipeline := processor.New(processor.Deps{
		Store:             store,
		Resolver:          resolver,
		DiskStrategizer:   diskStrategizer,
		MemoryStrategizer: memoryStrategizer,
		LFU:               lfu,
		Disk:              disk,
		Blobs:             blobs,
		Progress:          hub,
		TraceDB:           db,
		Hostname:          hostname(),
		LeaseDuration:     cfg.Subprocess.Timeout,
		ScratchRoot:       cfg.DataDir + "/scratch",
		Logger:            logger,
		MaxConcurrency:    cfg.Scheduling.MaxConcurrency,
	}, table)

	loop := dispatch.New(store, pipeline, logger)
	loop.BatchSize = cfg.Scheduling.BatchSize
	loop.BatchWait = cfg.Scheduling.BatchWait
	loop.NoOpLoggerInterval = cfg.Scheduling.NoOpLoggerInterval
	loop.StarvationPreventionEveryN = cfg.Scheduling.StarvationPreventionEveryN
	loop.BackoffStart = cfg.Scheduling.BackoffStart
	loop.BackoffIncrement = cfg.Scheduling.BackoffIncrement

	admin := chassis.NewServer(logger, cfg.Admin.ListenAddr, false, store, hub)

	go func() {
		if err := admin.Start(ctx); err != nil {
			logger.Error("admin server failed", "error", err)
		}
	}()

	logger.Info("inferno worker ready",
		"admin_addr", cfg.Admin.ListenAddr,
		"jobs_db", cfg.JobsDBPath,
		"job_types", len(table))

	if err := loop.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("dispatch loop exited with error", "error", err)
	}

	logger.Info("shutting down")
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := admin.Stop(stopCtx); err != nil {
		logger.Error("error stopping admin server", "error", err)
	}
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown-worker"
	}
	return h
}

func setupLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
