// Copyright (C) 2025 Tapestry Labs (oss@tapestrylabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads the daemon configuration: defaults, then an
// optional YAML file, then environment overrides, validated before
// use.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the daemon configuration.
type Config struct {
	// Listen is the health and metrics listener address.
	Listen string `yaml:"listen" validate:"required,hostname_port"`

	Log struct {
		Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
		Format string `yaml:"format" validate:"omitempty,oneof=text json"`
		File   string `yaml:"file"`
	} `yaml:"log"`

	Backend struct {
		URL   string `yaml:"url" validate:"required,url"`
		Token string `yaml:"token"`
	} `yaml:"backend"`

	Redis struct {
		Addr     string `yaml:"addr" validate:"required,hostname_port"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db" validate:"gte=0"`
		Queue    string `yaml:"queue"`
	} `yaml:"redis"`

	Badger struct {
		Path     string `yaml:"path"`
		InMemory bool   `yaml:"inMemory"`
	} `yaml:"badger"`

	Engine struct {
		MaxNodes          int `yaml:"maxNodes" validate:"gte=1"`
		MaxDurationMs     int `yaml:"maxDurationMs" validate:"gte=1"`
		MaxLoopIterations int `yaml:"maxLoopIterations" validate:"gte=1"`
	} `yaml:"engine"`

	TTL struct {
		TriggerCacheSec int `yaml:"triggerCacheSec" validate:"gte=1"`
		InteractionSec  int `yaml:"interactionSec" validate:"gte=1"`
	} `yaml:"ttl"`

	HeartbeatSec int `yaml:"heartbeatSec" validate:"gte=0"`
}

// Default returns the baseline configuration.
func Default() *Config {
	cfg := &Config{
		Listen:       "127.0.0.1:8790",
		HeartbeatSec: 30,
	}
	cfg.Log.Level = "info"
	cfg.Log.Format = "text"
	cfg.Backend.URL = "http://127.0.0.1:8780"
	cfg.Redis.Addr = "127.0.0.1:6379"
	cfg.Redis.Queue = "tapestry:lifecycle"
	cfg.Badger.Path = "data/tapestry"
	cfg.Engine.MaxNodes = 100
	cfg.Engine.MaxDurationMs = 30000
	cfg.Engine.MaxLoopIterations = 25
	cfg.TTL.TriggerCacheSec = 60
	cfg.TTL.InteractionSec = 900
	return cfg
}

// Load builds the configuration from defaults, the optional YAML file
// at path (empty path skips the file), and environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv layers TAPESTRY_* variables over the loaded values.
func applyEnv(cfg *Config) {
	if v := os.Getenv("TAPESTRY_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("TAPESTRY_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("TAPESTRY_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("TAPESTRY_BACKEND_URL"); v != "" {
		cfg.Backend.URL = v
	}
	if v := os.Getenv("TAPESTRY_BACKEND_TOKEN"); v != "" {
		cfg.Backend.Token = v
	}
	if v := os.Getenv("TAPESTRY_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("TAPESTRY_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("TAPESTRY_REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = db
		}
	}
	if v := os.Getenv("TAPESTRY_REDIS_QUEUE"); v != "" {
		cfg.Redis.Queue = v
	}
	if v := os.Getenv("TAPESTRY_BADGER_PATH"); v != "" {
		cfg.Badger.Path = v
	}
}

// Validate checks the assembled configuration.
func (c *Config) Validate() error {
	if !c.Badger.InMemory && c.Badger.Path == "" {
		return errors.New("badger.path is required unless badger.inMemory is set")
	}
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			f := verrs[0]
			return fmt.Errorf("config field %s fails %q", f.Namespace(), f.Tag())
		}
		return fmt.Errorf("validate config: %w", err)
	}
	return nil
}

// MaxDuration returns the engine duration budget.
func (c *Config) MaxDuration() time.Duration {
	return time.Duration(c.Engine.MaxDurationMs) * time.Millisecond
}

// TriggerCacheTTL returns the definition cache freshness window.
func (c *Config) TriggerCacheTTL() time.Duration {
	return time.Duration(c.TTL.TriggerCacheSec) * time.Second
}

// InteractionTTL returns how long rendered components stay clickable.
func (c *Config) InteractionTTL() time.Duration {
	return time.Duration(c.TTL.InteractionSec) * time.Second
}

// HeartbeatInterval returns the status reporting cadence; zero
// disables heartbeats.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatSec) * time.Second
}
