package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"warden-ai/internal/adapter/runtime"
	"warden-ai/internal/adapter/tool"
	"warden-ai/internal/exchange"
	"warden-ai/internal/infra/config"
	"warden-ai/internal/infra/logger"
	"warden-ai/internal/infra/tracer"
	"warden-ai/internal/usecase/process"
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
	if cfg.Runtime.Command == "" {
		return fmt.Errorf("config: runtime.command is required for sandboxd")
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

	registry := process.NewRegistry(process.RegistryConfig{
		MaxSessions:    cfg.Process.MaxSessions,
		MaxOutputBytes: cfg.Process.MaxOutputBytes,
		TailBytes:      cfg.Process.TailBytes,
		DefaultTimeout: config.Duration(cfg.Process.DefaultTimeout),
	}, log)
	defer registry.Shutdown()

	tools := tool.NewRegistry(log)
	if err := tools.Register(tool.NewProcessTool(registry, log)); err != nil {
		return err
	}
	log.Info("tools registered", "count", len(tools.Schemas()))

	runtimeTimeout := config.Duration(cfg.Runtime.Timeout)
	if runtimeTimeout <= 0 {
		runtimeTimeout = config.Duration(cfg.Exchange.RunDeadline)
	}
	runner := runtime.NewExecRunner(cfg.Runtime.Command, cfg.Runtime.Args, runtimeTimeout, log)

	dirs := exchange.NewDirs(cfg.Exchange.Root)
	worker := exchange.NewWorker(dirs, runner.Run, exchange.WorkerConfig{
		Interval: config.Duration(cfg.Exchange.WorkerInterval),
	}, log)

	log.Info("sandboxd started",
		"exchange_root", cfg.Exchange.Root,
		"runtime", cfg.Runtime.Command,
		"max_sessions", cfg.Process.MaxSessions)

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
