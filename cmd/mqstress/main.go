// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/absmach/mqstress/broker"
	"github.com/absmach/mqstress/config"
	"github.com/absmach/mqstress/harness"
)

func main() {
	configFile := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	switch cfg.Log.Level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Log.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	slog.Info("Starting delivery stress harness", "version", "0.1.0")
	slog.Info("Configuration loaded",
		"topic", cfg.Harness.Topic,
		"consumers", cfg.Harness.Consumers,
		"producers", cfg.Harness.Producers,
		"receive_timeout", cfg.Harness.ReceiveTimeout,
		"run_duration", cfg.Harness.RunDuration,
		"storage", cfg.Storage.Type,
		"log_level", cfg.Log.Level)

	var metrics *harness.Metrics
	m, err := harness.NewMetrics()
	if err != nil {
		slog.Warn("Metrics unavailable, continuing without them", "error", err)
	} else {
		metrics = m
	}

	svc := broker.New(broker.Config{
		Storage: cfg.Storage,
		Broker:  cfg.Broker,
		Logger:  logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		slog.Info("Received shutdown signal", "signal", sig)
		cancel()
	}()

	orc := harness.New(svc, cfg.Harness, logger, metrics)
	results := orc.RunAll(ctx)

	failed := 0
	for _, sc := range harness.Matrix() {
		name := sc.Name()
		err, ran := results[name]
		switch {
		case !ran:
			slog.Warn("Scenario skipped", "scenario", name)
			failed++
		case err != nil:
			slog.Error("Scenario failed", "scenario", name, "error", err)
			failed++
		default:
			slog.Info("Scenario passed", "scenario", name)
		}
	}

	if failed > 0 {
		slog.Error("Stress run failed", "failed", failed, "total", len(harness.Matrix()))
		os.Exit(1)
	}
	slog.Info("Stress run passed", "scenarios", len(harness.Matrix()))
}
