package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"tabletdb/internal/config"
	"tabletdb/internal/logging"
)

func main() {
	configPath := flag.String("config", "configs/application.yml", "path to the yaml config")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer cancel()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "path", *configPath, "error", err)
		os.Exit(1)
	}

	logging.Init(cfg.Application.LogLevel)
	slog.Info("starting master", "fs_root", cfg.Master.FSRoot,
		"rpc", cfg.Master.RPCAddress, "distributed", cfg.Master.Distributed)

	services, err := NewServices(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialize master", "error", err)
		os.Exit(1)
	}

	services.Metrics.Start()
	if err := services.RPC.Start(); err != nil {
		slog.Error("failed to start rpc server", "error", err)
		services.Stop()
		os.Exit(1)
	}

	slog.Info("master ready", "uuid", services.FS.UUID())
	<-ctx.Done()

	slog.Info("shutting down master")
	services.Stop()
}
