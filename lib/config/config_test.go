// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Token.Source != TokenSourceEnv || cfg.Token.Env != "CHORUS_TOKEN" {
		t.Errorf("token defaults = %+v", cfg.Token)
	}
	if cfg.REST.MaxRateLimitRetries != 5 {
		t.Errorf("expected max_rate_limit_retries=5, got %d", cfg.REST.MaxRateLimitRetries)
	}
	if cfg.Gateway.MaxBackoffDuration() != 2*time.Minute {
		t.Errorf("expected max_backoff=2m, got %s", cfg.Gateway.MaxBackoffDuration())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config does not validate: %v", err)
	}
}

func TestLoad_RequiresChorusConfig(t *testing.T) {
	t.Setenv("CHORUS_CONFIG", "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when CHORUS_CONFIG not set, got nil")
	}
	if !strings.HasPrefix(err.Error(), "CHORUS_CONFIG environment variable not set") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoad_WithChorusConfig(t *testing.T) {
	path := writeConfig(t, "chorus.yaml", `
gateway:
  shards: 4
`)
	t.Setenv("CHORUS_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Gateway.Shards != 4 {
		t.Errorf("expected shards=4, got %d", cfg.Gateway.Shards)
	}
}

func TestLoadFileYAML(t *testing.T) {
	path := writeConfig(t, "chorus.yaml", `
token:
  source: sealed
  path: /etc/chorus/token.age
  identity: /etc/chorus/identity.txt

gateway:
  encoding: cbor
  compress: true
  intents: [guilds, guild_members]
  max_backoff: 30s

rest:
  shutdown: abandon
  max_rate_limit_retries: 2

cache:
  messages: false

snapshot:
  path: /var/lib/chorus/state.snap
  compression: lz4
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if cfg.Token.Source != TokenSourceSealed || cfg.Token.Identity != "/etc/chorus/identity.txt" {
		t.Errorf("token = %+v", cfg.Token)
	}
	if cfg.Gateway.Encoding != "cbor" || !cfg.Gateway.Compress {
		t.Errorf("gateway = %+v", cfg.Gateway)
	}
	if len(cfg.Gateway.Intents) != 2 || cfg.Gateway.Intents[1] != "guild_members" {
		t.Errorf("intents = %v", cfg.Gateway.Intents)
	}
	if cfg.Gateway.MaxBackoffDuration() != 30*time.Second {
		t.Errorf("max_backoff = %s", cfg.Gateway.MaxBackoffDuration())
	}
	if cfg.REST.Shutdown != ShutdownAbandon || cfg.REST.MaxRateLimitRetries != 2 {
		t.Errorf("rest = %+v", cfg.REST)
	}
	// Fields absent from the file keep their defaults.
	if cfg.REST.GlobalLimit != 50 {
		t.Errorf("global_limit = %d, want default 50", cfg.REST.GlobalLimit)
	}
	if cfg.Cache.Messages || !cfg.Cache.Guilds {
		t.Errorf("cache = %+v", cfg.Cache)
	}
	if cfg.Snapshot.Compression != CompressionLZ4 {
		t.Errorf("compression = %q", cfg.Snapshot.Compression)
	}
}

func TestLoadFileJSONC(t *testing.T) {
	path := writeConfig(t, "chorus.jsonc", `{
  // Token comes from a plain file.
  "token": {"source": "file", "path": "/run/secrets/token"},
  "gateway": {
    "shards": 2,
    "identify_interval": "10s", // slower than the platform needs
  },
}`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if cfg.Token.Source != TokenSourceFile || cfg.Token.Path != "/run/secrets/token" {
		t.Errorf("token = %+v", cfg.Token)
	}
	if cfg.Gateway.Shards != 2 || cfg.Gateway.IdentifyIntervalDuration() != 10*time.Second {
		t.Errorf("gateway = %+v", cfg.Gateway)
	}
	if cfg.Gateway.Encoding != "json" {
		t.Errorf("encoding default lost: %q", cfg.Gateway.Encoding)
	}
}

func TestLoadFileErrors(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	path := writeConfig(t, "bad.yaml", "gateway: [unclosed")
	if _, err := LoadFile(path); err == nil {
		t.Error("expected error for malformed YAML")
	}
}

func TestEnvVarsDoNotOverride(t *testing.T) {
	t.Setenv("CHORUS_TOKEN_SOURCE", "prompt")
	t.Setenv("CHORUS_SHARDS", "9")

	path := writeConfig(t, "chorus.yaml", `
token:
  source: env
gateway:
  shards: 1
`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if cfg.Token.Source != TokenSourceEnv {
		t.Errorf("token.source = %q, env vars should not override", cfg.Token.Source)
	}
	if cfg.Gateway.Shards != 1 {
		t.Errorf("gateway.shards = %d, env vars should not override", cfg.Gateway.Shards)
	}
}

func TestExpandVars(t *testing.T) {
	t.Setenv("CHORUS_TEST_SET", "from-env")

	tests := []struct {
		name  string
		input string
		vars  map[string]string
		want  string
	}{
		{"no variables", "/plain/path", nil, "/plain/path"},
		{"provided var", "${HOME}/token", map[string]string{"HOME": "/home/bot"}, "/home/bot/token"},
		{"env fallback", "${CHORUS_TEST_SET}/x", nil, "from-env/x"},
		{"default used", "${CHORUS_TEST_UNSET:-/fallback}/x", nil, "/fallback/x"},
		{"provided wins over default", "${STATE:-/d}", map[string]string{"STATE": "/s"}, "/s"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := expandVars(test.input, test.vars); got != test.want {
				t.Errorf("expandVars(%q) = %q, want %q", test.input, got, test.want)
			}
		})
	}
}

func TestSnapshotPathExpansion(t *testing.T) {
	t.Setenv("XDG_STATE_HOME", "/xdg/state")
	path := writeConfig(t, "chorus.yaml", `
snapshot:
  path: ${CHORUS_STATE}/shards.snap
`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if cfg.Snapshot.Path != "/xdg/state/chorus/shards.snap" {
		t.Errorf("snapshot.path = %q", cfg.Snapshot.Path)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr []string
	}{
		{"valid default", func(*Config) {}, nil},
		{
			"sealed without identity",
			func(c *Config) { c.Token.Source = TokenSourceSealed; c.Token.Path = "/t.age" },
			[]string{"token.identity"},
		},
		{
			"unknown token source",
			func(c *Config) { c.Token.Source = "vault" },
			[]string{"token.source"},
		},
		{
			"bad encoding and threshold",
			func(c *Config) { c.Gateway.Encoding = "etf"; c.Gateway.LargeThreshold = 10 },
			[]string{"gateway.encoding", "gateway.large_threshold"},
		},
		{
			"bad durations",
			func(c *Config) { c.Gateway.MaxBackoff = "soon"; c.REST.Timeout = "0s" },
			[]string{"gateway.max_backoff", "rest.timeout"},
		},
		{
			"bad shutdown and compression",
			func(c *Config) { c.REST.Shutdown = "later"; c.Snapshot.Compression = "gzip" },
			[]string{"rest.shutdown", "snapshot.compression"},
		},
		{
			"bad log settings",
			func(c *Config) { c.Log.Level = "loud"; c.Log.Format = "xml" },
			[]string{"log.level", "log.format"},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := Default()
			test.modify(cfg)
			err := cfg.Validate()
			if len(test.wantErr) == 0 {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected validation error")
			}
			for _, fragment := range test.wantErr {
				if !strings.Contains(err.Error(), fragment) {
					t.Errorf("error %q does not mention %q", err, fragment)
				}
			}
		})
	}
}

func TestSlogLevel(t *testing.T) {
	level, err := LogConfig{Level: "debug"}.SlogLevel()
	if err != nil || level != slog.LevelDebug {
		t.Errorf("SlogLevel(debug) = %v, %v", level, err)
	}
}
