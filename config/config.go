// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the stress harness.
type Config struct {
	Harness HarnessConfig `yaml:"harness"`
	Broker  BrokerConfig  `yaml:"broker"`
	Storage StorageConfig `yaml:"storage"`
	Log     LogConfig     `yaml:"log"`
}

// HarnessConfig holds the per-scenario run parameters.
type HarnessConfig struct {
	// Topic is the fan-out topic workers publish to and subscribe from.
	Topic string `yaml:"topic"`

	// Worker counts per scenario run
	Consumers int `yaml:"consumers"`
	Producers int `yaml:"producers"`

	// ReceiveTimeout bounds each consumer poll. It also upper-bounds
	// per-worker shutdown latency, since the poll is the only
	// suspension point in the consumer loop.
	ReceiveTimeout time.Duration `yaml:"receive_timeout"`

	// SetupTimeout bounds the wait for all workers to finish setup.
	SetupTimeout time.Duration `yaml:"setup_timeout"`

	// RunDuration is how long workers run after all are ready.
	RunDuration time.Duration `yaml:"run_duration"`

	// ShutdownGrace bounds the wait for workers to exit after a stop
	// request.
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`

	// Producer pacing (token bucket). Rate is messages per second;
	// zero disables pacing.
	PublishRate  float64 `yaml:"publish_rate"`
	PublishBurst int     `yaml:"publish_burst"`
}

// BrokerConfig holds embedded broker settings.
type BrokerConfig struct {
	// QueueBuffer is the per-queue delivery buffer size.
	QueueBuffer int `yaml:"queue_buffer"`

	// Circuit breaker guarding the store path under concurrent store
	// and dispatch.
	StoreFailureThreshold int           `yaml:"store_failure_threshold"`
	StoreResetTimeout     time.Duration `yaml:"store_reset_timeout"`
}

// StorageConfig holds storage backend configuration.
type StorageConfig struct {
	Type string `yaml:"type"` // memory, badger

	// BadgerDB settings
	BadgerDir string `yaml:"badger_dir"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// Default returns a configuration with sensible defaults matching the
// original fan-out integrity scenario: thirty consumers, one producer,
// 500ms polls.
func Default() *Config {
	return &Config{
		Harness: HarnessConfig{
			Topic:          "VirtualTopic.Stress",
			Consumers:      30,
			Producers:      1,
			ReceiveTimeout: 500 * time.Millisecond,
			SetupTimeout:   20 * time.Second,
			RunDuration:    10 * time.Second,
			ShutdownGrace:  10 * time.Second,
			PublishRate:    1000,
			PublishBurst:   100,
		},
		Broker: BrokerConfig{
			QueueBuffer:           4096,
			StoreFailureThreshold: 5,
			StoreResetTimeout:     60 * time.Second,
		},
		Storage: StorageConfig{
			Type:      "memory",
			BadgerDir: "/tmp/mqstress/data",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from a YAML file.
// If the file doesn't exist, returns default configuration.
func Load(filename string) (*Config, error) {
	if filename == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Harness.Topic == "" {
		return fmt.Errorf("harness.topic cannot be empty")
	}
	if c.Harness.Consumers < 1 {
		return fmt.Errorf("harness.consumers must be at least 1")
	}
	if c.Harness.Producers < 1 {
		return fmt.Errorf("harness.producers must be at least 1")
	}
	if c.Harness.ReceiveTimeout <= 0 {
		return fmt.Errorf("harness.receive_timeout must be positive")
	}
	if c.Harness.SetupTimeout <= 0 {
		return fmt.Errorf("harness.setup_timeout must be positive")
	}
	if c.Harness.RunDuration <= 0 {
		return fmt.Errorf("harness.run_duration must be positive")
	}
	if c.Harness.ShutdownGrace < c.Harness.ReceiveTimeout {
		return fmt.Errorf("harness.shutdown_grace must be at least the receive timeout")
	}
	if c.Harness.PublishRate < 0 {
		return fmt.Errorf("harness.publish_rate cannot be negative")
	}

	if c.Broker.QueueBuffer < 1 {
		return fmt.Errorf("broker.queue_buffer must be at least 1")
	}
	if c.Broker.StoreFailureThreshold < 1 {
		return fmt.Errorf("broker.store_failure_threshold must be at least 1")
	}

	switch c.Storage.Type {
	case "memory":
	case "badger":
		if c.Storage.BadgerDir == "" {
			return fmt.Errorf("storage.badger_dir required when storage type is badger")
		}
	default:
		return fmt.Errorf("storage.type must be one of: memory, badger")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("log.format must be one of: text, json")
	}

	return nil
}
