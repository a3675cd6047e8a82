// Copyright (C) 2025 Tapestry Labs (oss@tapestrylabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
listen: "0.0.0.0:9000"
log:
  level: debug
engine:
  maxNodes: 50
ttl:
  triggerCacheSec: 120
`)
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen != "0.0.0.0:9000" {
		t.Errorf("Listen = %s", cfg.Listen)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %s", cfg.Log.Level)
	}
	if cfg.Engine.MaxNodes != 50 {
		t.Errorf("MaxNodes = %d", cfg.Engine.MaxNodes)
	}
	if cfg.TriggerCacheTTL() != 2*time.Minute {
		t.Errorf("TriggerCacheTTL = %v", cfg.TriggerCacheTTL())
	}
	// Untouched keys keep their defaults.
	if cfg.Redis.Addr != "127.0.0.1:6379" {
		t.Errorf("Redis.Addr = %s", cfg.Redis.Addr)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(`listen: "0.0.0.0:9000"`), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("TAPESTRY_LISTEN", "127.0.0.1:7777")
	t.Setenv("TAPESTRY_REDIS_ADDR", "redis.internal:6379")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen != "127.0.0.1:7777" {
		t.Errorf("Listen = %s, env must win over file", cfg.Listen)
	}
	if cfg.Redis.Addr != "redis.internal:6379" {
		t.Errorf("Redis.Addr = %s", cfg.Redis.Addr)
	}
}

func TestLoad_RejectsInvalid(t *testing.T) {
	for name, body := range map[string]string{
		"bad log level":    `log: {level: verbose}`,
		"zero max nodes":   `engine: {maxNodes: 0}`,
		"bad listen":       `listen: "not-an-address"`,
		"negative redisdb": `redis: {addr: "127.0.0.1:6379", db: -1}`,
	} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(body), 0600); err != nil {
				t.Fatalf("write config: %v", err)
			}
			if _, err := Load(path); err == nil {
				t.Errorf("Load accepted invalid config %q", body)
			}
		})
	}
}

func TestLoad_MissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load succeeded for a missing file")
	}
}

func TestValidate_BadgerPathRequired(t *testing.T) {
	cfg := Default()
	cfg.Badger.Path = ""
	if err := cfg.Validate(); err == nil {
		t.Error("Validate accepted persistent badger without a path")
	}

	cfg.Badger.InMemory = true
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate rejected in-memory badger: %v", err)
	}
}
