package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"fableforge/internal/config"
	"fableforge/internal/daemon"
	"fableforge/internal/logging"
	"fableforge/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default ~/.config/fableforge/config.toml)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, resolvedPath, exists, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	if !exists {
		logger.Info("no config file found, using defaults", logging.String("path", resolvedPath))
	}

	db, err := store.Open(cfg)
	if err != nil {
		logger.Error("open store", logging.Error(err))
		return
	}

	d, err := daemon.New(cfg, db, logger)
	if err != nil {
		logger.Error("create daemon", logging.Error(err))
		return
	}
	defer d.Close()

	if err := d.Start(ctx); err != nil {
		logger.Error("daemon start", logging.Error(err))
		return
	}

	<-ctx.Done()
	logger.Info("fableforged shutting down")
}
