package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/freekieb7/harbor/admin"
	"github.com/freekieb7/harbor/app"
	"github.com/freekieb7/harbor/config"
	"github.com/freekieb7/harbor/http"
	"github.com/freekieb7/harbor/schedule"
	"github.com/freekieb7/harbor/telemetry"
)

var version = "dev"

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		log.Fatalln(err)
	}
}

func run(ctx context.Context, args []string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(args, os.Getenv, os.Stderr)
	if err != nil {
		return err
	}

	otelOpts := telemetry.Options{Endpoint: cfg.OTLPEndpoint, Version: version}
	logger := telemetry.NewLogger(os.Stderr, cfg.LogLevel, otelOpts)
	slog.SetDefault(logger)

	shutdownTelemetry, err := telemetry.Setup(ctx, otelOpts, logger)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("could not flush telemetry", "error", err)
		}
	}()

	lock := http.NoLock
	if cfg.Serialize {
		lock = http.GlobalLock
	}

	server, err := http.NewServer(ctx, "harbor", app.New(app.Options{Docroot: cfg.Docroot, Logger: logger}), http.Config{
		Addr:          cfg.Addr,
		ScriptName:    cfg.ScriptName,
		Workers:       cfg.Workers,
		QueueSize:     cfg.QueueSize,
		Lock:          lock,
		Logger:        logger,
		ListenTimeout: 10 * time.Second,
	})
	if err != nil {
		return err
	}

	if cfg.AdminAddr != "" {
		go func() {
			if err := admin.New(cfg.AdminAddr, server, logger).Serve(ctx); err != nil {
				logger.Error("admin server stopped", "error", err)
			}
		}()
	}

	if cfg.StatsEvery > 0 {
		scheduler := schedule.NewScheduler(logger)
		job := schedule.NewJob("stats").
			WithInterval(cfg.StatsEvery).
			WithTasks(func(ctx context.Context) error {
				stats := server.Stats()
				logger.Info("stats",
					"accepted", stats.Accepted,
					"open", stats.Open,
					"queued", stats.Queued,
					"in_flight", stats.InFlight,
					"completed", stats.Completed,
					"failed", stats.Failed,
					"rejected", stats.Rejected)
				return nil
			})
		if err := scheduler.AddJob(job); err != nil {
			return err
		}
		go scheduler.Run(ctx)
	}

	return server.Serve(ctx)
}
