// Copyright (C) 2025 Tapestry Labs (oss@tapestrylabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/TapestryLabs/tapestry/pkg/logging"
	"github.com/TapestryLabs/tapestry/services/flow/engine"
	"github.com/TapestryLabs/tapestry/services/runtime"
	"github.com/TapestryLabs/tapestry/services/runtime/backend"
	"github.com/TapestryLabs/tapestry/services/runtime/config"
	"github.com/TapestryLabs/tapestry/services/runtime/interactions"
	"github.com/TapestryLabs/tapestry/services/runtime/jobs"
	"github.com/TapestryLabs/tapestry/services/runtime/storage/badgerstore"
	"github.com/TapestryLabs/tapestry/services/runtime/triggers"
)

func runDaemon(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	})
	if err != nil {
		return err
	}
	defer logger.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Embedded storage for persistent variables and cooldown claims.
	storeCfg := badgerstore.DefaultConfig(cfg.Badger.Path)
	if cfg.Badger.InMemory {
		storeCfg = badgerstore.InMemoryConfig()
	}
	storeCfg.Logger = logger.Logger
	store, err := badgerstore.Open(storeCfg)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect redis at %s: %w", cfg.Redis.Addr, err)
	}

	be := backend.NewHTTPClient(cfg.Backend.URL, cfg.Backend.Token)
	logQueue := backend.NewLogQueue(be, 0, logger.Logger)
	defer logQueue.Close()

	interactionStore := interactions.NewStore(cfg.InteractionTTL(), logger.Logger)
	interactionStore.StartSweeper(ctx, time.Minute)

	manager, err := runtime.NewManager(runtime.Options{
		Backend:      be,
		Cache:        triggers.NewCache(be, cfg.TriggerCacheTTL(), logger.Logger),
		Interactions: interactionStore,
		Cooldowns:    badgerstore.NewCooldownGate(store),
		Variables:    badgerstore.NewVariables(store),
		Logs:         logQueue,
		Runner: engine.NewRunner(engine.Limits{
			MaxNodes:          cfg.Engine.MaxNodes,
			MaxDuration:       cfg.MaxDuration(),
			MaxLoopIterations: cfg.Engine.MaxLoopIterations,
		}, logger.Logger),
		Dial:              runtime.GatewayDialer,
		Logger:            logger.Logger,
		InteractionTTL:    cfg.InteractionTTL(),
		HeartbeatInterval: cfg.HeartbeatInterval(),
	})
	if err != nil {
		return err
	}
	defer manager.Close()

	consumer := jobs.NewConsumer(redisClient, cfg.Redis.Queue, manager, logger.Logger)
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		consumer.Run(ctx)
	}()

	server := newHealthServer(cfg.Listen)
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("listener started", slog.String("addr", cfg.Listen))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	logger.Info("tapestry runtime started",
		slog.String("version", version),
		slog.String("queue", cfg.Redis.Queue),
	)

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		logger.Error("listener failed", slog.String("error", err.Error()))
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
	<-consumerDone
	return nil
}

// newHealthServer exposes liveness and Prometheus metrics.
func newHealthServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
