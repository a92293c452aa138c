package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"warden-ai/internal/adapter/gateway"
	"warden-ai/internal/adapter/store"
	"warden-ai/internal/exchange"
	"warden-ai/internal/infra/config"
	"warden-ai/internal/infra/logger"
	"warden-ai/internal/infra/tracer"
	"warden-ai/internal/usecase"
	"warden-ai/internal/usecase/scheduler"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return err
	}
	defer shutdownTracer(context.Background())

	db, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	dirs := exchange.NewDirs(cfg.Exchange.Root)
	if err := dirs.Ensure(); err != nil {
		return err
	}

	client := exchange.NewClient(dirs, exchange.ClientConfig{
		PollInterval: config.Duration(cfg.Exchange.PollInterval),
		RunDeadline:  config.Duration(cfg.Exchange.RunDeadline),
	}, log)
	breaker := exchange.NewBreakerClient(client, exchange.BreakerConfig{
		MaxFailures: cfg.Exchange.Breaker.MaxFailures,
		Timeout:     config.Duration(cfg.Exchange.Breaker.Timeout),
		Interval:    config.Duration(cfg.Exchange.Breaker.Interval),
	}, log)

	coordinator := usecase.NewCoordinator(usecase.CoordinatorDeps{
		Exchange:  breaker,
		Locks:     usecase.NewGroupLock(),
		Semaphore: usecase.NewAgentSemaphore(cfg.Coordinator.MaxConcurrent),
		Recorder:  db,
		Sessions:  db,
		Logger:    log,
	})

	if cfg.Scheduler.Enabled {
		sched := scheduler.New(coordinator, config.Duration(cfg.Exchange.RunDeadline), log)
		for _, job := range scheduler.FromConfig(cfg.Scheduler.Jobs) {
			if err := sched.AddJob(job); err != nil {
				return err
			}
		}
		sched.Start(ctx)
		defer sched.Stop()
	}

	errCh := make(chan error, 1)
	if cfg.Gateway.Enabled {
		webhook := gateway.NewWebhookServer(gateway.WebhookConfig{
			Listen:         cfg.Gateway.Listen,
			RequestsPerMin: cfg.Gateway.RequestsPerMin,
			Burst:          cfg.Gateway.Burst,
		}, coordinator, log)
		go func() { errCh <- webhook.ListenAndServe() }()
		defer webhook.Shutdown(context.Background())
	}

	log.Info("warden started",
		"exchange_root", cfg.Exchange.Root,
		"max_concurrent", cfg.Coordinator.MaxConcurrent,
		"scheduler", cfg.Scheduler.Enabled,
		"gateway", cfg.Gateway.Enabled)

	select {
	case <-ctx.Done():
		log.Info("shutting down")
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	}
}
