// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Config is the complete client configuration.
type Config struct {
	Token    TokenConfig    `yaml:"token" json:"token"`
	Gateway  GatewayConfig  `yaml:"gateway" json:"gateway"`
	REST     RESTConfig     `yaml:"rest" json:"rest"`
	Cache    CacheConfig    `yaml:"cache" json:"cache"`
	Snapshot SnapshotConfig `yaml:"snapshot" json:"snapshot"`
	Log      LogConfig      `yaml:"log" json:"log"`
}

// Token sources.
const (
	TokenSourceEnv    = "env"
	TokenSourceFile   = "file"
	TokenSourceSealed = "sealed"
	TokenSourcePrompt = "prompt"
)

// TokenConfig names where the bot token is read from.
type TokenConfig struct {
	// Source is one of env, file, sealed or prompt.
	// Default: env
	Source string `yaml:"source" json:"source"`

	// Env is the environment variable holding the token.
	// Default: CHORUS_TOKEN
	Env string `yaml:"env" json:"env"`

	// Path is the token file (source file, "-" for stdin) or the
	// age-encrypted token file (source sealed).
	Path string `yaml:"path" json:"path"`

	// Identity is the age identity file used to open a sealed token.
	Identity string `yaml:"identity" json:"identity"`
}

// GatewayConfig configures the gateway sessions and shard manager.
type GatewayConfig struct {
	// URL overrides the gateway URL. Empty means ask the REST API
	// (GET /gateway/bot) at startup.
	URL string `yaml:"url" json:"url"`

	// Version is the gateway protocol version.
	// Default: 10
	Version int `yaml:"version" json:"version"`

	// Encoding is json or cbor.
	// Default: json
	Encoding string `yaml:"encoding" json:"encoding"`

	// Compress enables per-payload zlib compression.
	Compress bool `yaml:"compress" json:"compress"`

	// Intents lists gateway intent names (guilds, guild_members,
	// guild_messages, message_content, ...).
	Intents []string `yaml:"intents" json:"intents"`

	// Shards is the total shard count. Zero asks the REST API for the
	// recommended count.
	Shards int `yaml:"shards" json:"shards"`

	// LargeThreshold is the member count above which the server omits
	// offline members from GUILD_CREATE. Range 50..250.
	// Default: 50
	LargeThreshold int `yaml:"large_threshold" json:"large_threshold"`

	// MaxBackoff caps the reconnect delay.
	// Default: 2m
	MaxBackoff string `yaml:"max_backoff" json:"max_backoff"`

	// IdentifyInterval is the spacing the platform enforces between
	// identify attempts within one concurrency slot.
	// Default: 5s
	IdentifyInterval string `yaml:"identify_interval" json:"identify_interval"`

	// MaxConcurrency is the number of identifies allowed per interval.
	// Zero uses the value reported by GET /gateway/bot.
	MaxConcurrency int `yaml:"max_concurrency" json:"max_concurrency"`
}

// Shutdown policies for in-flight REST requests.
const (
	ShutdownDrain   = "drain"
	ShutdownAbandon = "abandon"
)

// RESTConfig configures the REST dispatcher.
type RESTConfig struct {
	// BaseURL is the API root including the version segment.
	// Default: https://discord.com/api/v10
	BaseURL string `yaml:"base_url" json:"base_url"`

	// MaxRateLimitRetries bounds how many 429 responses one request
	// absorbs before failing.
	// Default: 5
	MaxRateLimitRetries int `yaml:"max_rate_limit_retries" json:"max_rate_limit_retries"`

	// GlobalLimit is the aggregate request cap per second.
	// Default: 50
	GlobalLimit int `yaml:"global_limit" json:"global_limit"`

	// Timeout bounds one HTTP round trip.
	// Default: 30s
	Timeout string `yaml:"timeout" json:"timeout"`

	// Shutdown is drain or abandon.
	// Default: drain
	Shutdown string `yaml:"shutdown" json:"shutdown"`
}

// CacheConfig enables or disables caching per entity kind.
type CacheConfig struct {
	Guilds   bool `yaml:"guilds" json:"guilds"`
	Channels bool `yaml:"channels" json:"channels"`
	Roles    bool `yaml:"roles" json:"roles"`
	Members  bool `yaml:"members" json:"members"`
	Users    bool `yaml:"users" json:"users"`
	Messages bool `yaml:"messages" json:"messages"`
}

// Snapshot compression names.
const (
	CompressionNone = "none"
	CompressionLZ4  = "lz4"
	CompressionZstd = "zstd"
)

// SnapshotConfig configures the warm-restart snapshot.
type SnapshotConfig struct {
	// Path is the snapshot file. Empty disables snapshots.
	Path string `yaml:"path" json:"path"`

	// Compression is none, lz4 or zstd.
	// Default: zstd
	Compression string `yaml:"compression" json:"compression"`
}

// LogConfig configures the CLI's slog handler.
type LogConfig struct {
	// Level is debug, info, warn or error.
	// Default: info
	Level string `yaml:"level" json:"level"`

	// Format is text or json.
	// Default: text
	Format string `yaml:"format" json:"format"`
}

// Default returns the configuration every file is decoded on top of.
func Default() *Config {
	return &Config{
		Token: TokenConfig{
			Source: TokenSourceEnv,
			Env:    "CHORUS_TOKEN",
		},
		Gateway: GatewayConfig{
			Version:          10,
			Encoding:         "json",
			Intents:          []string{"guilds", "guild_messages"},
			LargeThreshold:   50,
			MaxBackoff:       "2m",
			IdentifyInterval: "5s",
		},
		REST: RESTConfig{
			BaseURL:             "https://discord.com/api/v10",
			MaxRateLimitRetries: 5,
			GlobalLimit:         50,
			Timeout:             "30s",
			Shutdown:            ShutdownDrain,
		},
		Cache: CacheConfig{
			Guilds:   true,
			Channels: true,
			Roles:    true,
			Members:  true,
			Users:    true,
			Messages: true,
		},
		Snapshot: SnapshotConfig{
			Compression: CompressionZstd,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads the file named by CHORUS_CONFIG.
func Load() (*Config, error) {
	configPath := os.Getenv("CHORUS_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("CHORUS_CONFIG environment variable not set; " +
			"set it to the path of your chorus.yaml config file, or use --config flag")
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from path, on top of Default.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}
	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		if err := json.Unmarshal(jsonc.ToJSON(data), c); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
	default:
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
	}
	return nil
}

func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME":         os.Getenv("HOME"),
		"CHORUS_STATE": stateDirectory(),
	}
	c.Token.Path = expandVars(c.Token.Path, vars)
	c.Token.Identity = expandVars(c.Token.Identity, vars)
	c.Snapshot.Path = expandVars(c.Snapshot.Path, vars)
}

// stateDirectory is $XDG_STATE_HOME/chorus, falling back to
// ~/.local/state/chorus.
func stateDirectory() string {
	if base := os.Getenv("XDG_STATE_HOME"); base != "" {
		return filepath.Join(base, "chorus")
	}
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".local", "state", "chorus")
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate reports every configuration problem, joined.
func (c *Config) Validate() error {
	var errs []error

	switch c.Token.Source {
	case TokenSourceEnv:
		if c.Token.Env == "" {
			errs = append(errs, fmt.Errorf("token.env is required for source env"))
		}
	case TokenSourceFile:
		if c.Token.Path == "" {
			errs = append(errs, fmt.Errorf("token.path is required for source file"))
		}
	case TokenSourceSealed:
		if c.Token.Path == "" {
			errs = append(errs, fmt.Errorf("token.path is required for source sealed"))
		}
		if c.Token.Identity == "" {
			errs = append(errs, fmt.Errorf("token.identity is required for source sealed"))
		}
	case TokenSourcePrompt:
	default:
		errs = append(errs, fmt.Errorf("token.source must be one of: %v",
			[]string{TokenSourceEnv, TokenSourceFile, TokenSourceSealed, TokenSourcePrompt}))
	}

	if c.Gateway.Version <= 0 {
		errs = append(errs, fmt.Errorf("gateway.version must be positive"))
	}
	if !contains([]string{"json", "cbor"}, c.Gateway.Encoding) {
		errs = append(errs, fmt.Errorf("gateway.encoding must be json or cbor, got %q", c.Gateway.Encoding))
	}
	if c.Gateway.Shards < 0 {
		errs = append(errs, fmt.Errorf("gateway.shards must not be negative"))
	}
	if c.Gateway.LargeThreshold < 50 || c.Gateway.LargeThreshold > 250 {
		errs = append(errs, fmt.Errorf("gateway.large_threshold must be within 50..250, got %d", c.Gateway.LargeThreshold))
	}
	if c.Gateway.MaxConcurrency < 0 {
		errs = append(errs, fmt.Errorf("gateway.max_concurrency must not be negative"))
	}
	errs = appendDurationError(errs, "gateway.max_backoff", c.Gateway.MaxBackoff)
	errs = appendDurationError(errs, "gateway.identify_interval", c.Gateway.IdentifyInterval)

	if c.REST.BaseURL == "" {
		errs = append(errs, fmt.Errorf("rest.base_url is required"))
	}
	if c.REST.MaxRateLimitRetries < 0 {
		errs = append(errs, fmt.Errorf("rest.max_rate_limit_retries must not be negative"))
	}
	if c.REST.GlobalLimit <= 0 {
		errs = append(errs, fmt.Errorf("rest.global_limit must be positive"))
	}
	errs = appendDurationError(errs, "rest.timeout", c.REST.Timeout)
	if !contains([]string{ShutdownDrain, ShutdownAbandon}, c.REST.Shutdown) {
		errs = append(errs, fmt.Errorf("rest.shutdown must be drain or abandon, got %q", c.REST.Shutdown))
	}

	if !contains([]string{CompressionNone, CompressionLZ4, CompressionZstd}, c.Snapshot.Compression) {
		errs = append(errs, fmt.Errorf("snapshot.compression must be none, lz4 or zstd, got %q", c.Snapshot.Compression))
	}

	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	if !contains([]string{"text", "json"}, c.Log.Format) {
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func appendDurationError(errs []error, field, value string) []error {
	duration, err := time.ParseDuration(value)
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", field, err))
	}
	if duration <= 0 {
		return append(errs, fmt.Errorf("%s must be positive, got %s", field, value))
	}
	return errs
}

// MaxBackoffDuration returns the parsed max_backoff. Call after Validate.
func (g GatewayConfig) MaxBackoffDuration() time.Duration {
	return mustDuration(g.MaxBackoff)
}

// IdentifyIntervalDuration returns the parsed identify_interval. Call
// after Validate.
func (g GatewayConfig) IdentifyIntervalDuration() time.Duration {
	return mustDuration(g.IdentifyInterval)
}

// TimeoutDuration returns the parsed rest.timeout. Call after Validate.
func (r RESTConfig) TimeoutDuration() time.Duration {
	return mustDuration(r.Timeout)
}

// SlogLevel parses the configured level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

func mustDuration(value string) time.Duration {
	duration, _ := time.ParseDuration(value)
	return duration
}

func contains(slice []string, s string) bool {
	for _, v := range slice {
		if v == s {
			return true
		}
	}
	return false
}
