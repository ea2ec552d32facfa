package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"proxyhive/internal/service/web"
	"proxyhive/internal/shared/config"
	"proxyhive/internal/shared/logger"
	"proxyhive/internal/shared/store"
	"proxyhive/internal/shared/types"
	"proxyhive/proxypool"
	"proxyhive/proxypool/event"
)

func main() {
	configDir := flag.String("configdir", "configs", "Path to config directory")
	flag.Parse()

	iniPath := filepath.Join(*configDir, "proxyhive.ini")

	cfg := new(types.Config)
	if err := config.LoadIni(cfg, iniPath); err != nil {
		// Use standard fmt before the logger is initialized.
		fmt.Fprintf(os.Stderr, "Fatal: Failed to load config file '%s': %v\n", iniPath, err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.LogConf); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal: Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(cfg.LocalConf.DataDir, 0755); err != nil {
		logger.Fatal().Err(err).Str("dir", cfg.LocalConf.DataDir).Msg("Failed to create data directory")
	}

	st, err := store.OpenFileStore(filepath.Join(cfg.LocalConf.DataDir, "proxyhive.json"))
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open state store")
	}

	bus := event.NewBus()
	hub := web.NewHub()
	bus.Subscribe(hub)
	go hub.Run()

	manager := proxypool.NewManager(st, bus, proxypool.Options{
		JudgeURL:         cfg.ProbeConf.JudgeURL,
		GeoURL:           cfg.ProbeConf.GeoURL,
		ProbeConcurrency: cfg.ProbeConf.Concurrency,
	})

	ctx := context.Background()
	if err := manager.Initialize(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize proxy manager")
	}

	var wg sync.WaitGroup
	web.StartServer(&wg, cfg, manager, hub)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("Shutdown signal received.")
	manager.Cleanup(ctx)
}
