package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	orchestration "github.com/paklog/wes-orchestration-engine"
	"github.com/paklog/wes-orchestration-engine/internal/observability"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg := orchestration.DefaultConfig()
	if *configPath != "" {
		loaded, err := orchestration.LoadConfigFile(*configPath)
		if err != nil {
			logger.Error("failed to load config", "path", *configPath, "error", err.Error())
			os.Exit(1)
		}
		cfg = loaded
	}

	manager, err := orchestration.New(cfg, logger)
	if err != nil {
		logger.Error("failed to build orchestration engine", "error", err.Error())
		os.Exit(1)
	}

	if err := observability.Register(prometheus.DefaultRegisterer, manager.EngineMetrics()); err != nil {
		logger.Warn("failed to register prometheus collector", "error", err.Error())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := manager.Start(ctx); err != nil {
		logger.Error("failed to start orchestration engine", "error", err.Error())
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutting down", "signal", sig.String())

	cancel()
	if err := manager.Stop(); err != nil {
		logger.Error("shutdown error", "error", err.Error())
		os.Exit(1)
	}
}
