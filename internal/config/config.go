// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package config loads LocalDrop's typed TOML configuration, following
// the teacher's struct-tag-plus-validate() idiom but switching the
// serialization format from YAML to TOML per the external interface
// this project targets.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the root configuration object, mirroring the section layout
// of the original implementation's config model minus the TUI/update/web
// sections, which are out of scope for the core.
type Config struct {
	General   GeneralConfig   `toml:"general"`
	Network   NetworkConfig   `toml:"network"`
	Transfer  TransferConfig  `toml:"transfer"`
	Security  SecurityConfig  `toml:"security"`
	Preview   PreviewConfig   `toml:"preview"`
	History   HistoryConfig   `toml:"history"`
	Trust     TrustConfig     `toml:"trust"`
	Discovery DiscoveryConfig `toml:"discovery"`
	Logging   LoggingConfig   `toml:"logging"`
}

// GeneralConfig holds device-wide display settings.
type GeneralConfig struct {
	DeviceName     string `toml:"device_name"`
	DefaultExpire  string `toml:"default_expire"`
	DefaultOutput  string `toml:"default_output"`
}

// NetworkConfig controls discovery port and the TCP range transfer
// listeners bind within.
type NetworkConfig struct {
	DiscoveryPort      int    `toml:"discovery_port"`
	TransferPortStart  int    `toml:"transfer_port_start"`
	TransferPortEnd    int    `toml:"transfer_port_end"`
	Interface          string `toml:"interface"`
	EnableIPv6         bool   `toml:"enable_ipv6"`
}

// TransferConfig controls chunking and session behavior.
type TransferConfig struct {
	ChunkSize          string `toml:"chunk_size"`
	ParallelChunks     int    `toml:"parallel_chunks"`
	BandwidthLimit     string `toml:"bandwidth_limit"`
	VerifyChecksum     bool   `toml:"verify_checksum"`
	PerChunkAck        bool   `toml:"per_chunk_ack"`
	KeepAliveInterval  string `toml:"keep_alive_interval"`
	SessionTimeout     string `toml:"session_timeout"`
	FrameIOTimeout     string `toml:"frame_io_timeout"`

	chunkSizeBytes      int64
	bandwidthLimitBytes int64
}

// SecurityConfig controls share-code and device-signature verification.
type SecurityConfig struct {
	RequirePIN         bool   `toml:"require_pin"`
	RequireApproval    bool   `toml:"require_approval"`
	RateLimitAttempts  int    `toml:"rate_limit_attempts"`
	RateLimitWindow    string `toml:"rate_limit_window"`
	DeviceAuthFreshness string `toml:"device_auth_freshness"`
}

// PreviewConfig bounds preview generation cost.
type PreviewConfig struct {
	Enabled       bool `toml:"enabled"`
	MaxImageSize  int  `toml:"max_image_size"`
	MaxTextLength int  `toml:"max_text_length"`
}

// HistoryConfig bounds the transfer history ring.
type HistoryConfig struct {
	Enabled      bool `toml:"enabled"`
	MaxEntries   int  `toml:"max_entries"`
	AutoClearDays int `toml:"auto_clear_days"`
}

// TrustConfig controls trusted-device behavior.
type TrustConfig struct {
	Enabled      bool   `toml:"enabled"`
	AutoPrompt   bool   `toml:"auto_prompt"`
	DefaultLevel string `toml:"default_level"`
}

// DiscoveryConfig controls the hybrid discovery racer's retry behavior.
type DiscoveryConfig struct {
	Timeout            string `toml:"timeout"`
	BroadcastInterval  string `toml:"broadcast_interval"`
	RetryMaxAttempts   int    `toml:"retry_max_attempts"`
	RetryInitialDelay  string `toml:"retry_initial_delay"`
	RetryMaxDelay      string `toml:"retry_max_delay"`
}

// LoggingConfig configures internal/logging.NewLogger.
type LoggingConfig struct {
	Level    string `toml:"level"`
	Format   string `toml:"format"`
	FilePath string `toml:"file_path"`
}

// Default returns a fully-populated Config with the project defaults.
func Default() Config {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "LocalDrop Device"
	}

	return Config{
		General: GeneralConfig{
			DeviceName:    hostname,
			DefaultExpire: "5m",
		},
		Network: NetworkConfig{
			DiscoveryPort:     52525,
			TransferPortStart: 53100,
			TransferPortEnd:   53200,
			Interface:         "auto",
			EnableIPv6:        true,
		},
		Transfer: TransferConfig{
			ChunkSize:         "1mb",
			ParallelChunks:    1,
			VerifyChecksum:    true,
			PerChunkAck:       false,
			KeepAliveInterval: "5s",
			SessionTimeout:    "5m",
			FrameIOTimeout:    "30s",
		},
		Security: SecurityConfig{
			RequirePIN:          false,
			RequireApproval:     false,
			RateLimitAttempts:   3,
			RateLimitWindow:     "30s",
			DeviceAuthFreshness: "60s",
		},
		Preview: PreviewConfig{
			Enabled:       true,
			MaxImageSize:  50 * 1024,
			MaxTextLength: 1024,
		},
		History: HistoryConfig{
			Enabled:       true,
			MaxEntries:    100,
			AutoClearDays: 30,
		},
		Trust: TrustConfig{
			Enabled:      true,
			AutoPrompt:   true,
			DefaultLevel: "ask_each_time",
		},
		Discovery: DiscoveryConfig{
			Timeout:           "15s",
			BroadcastInterval: "2s",
			RetryMaxAttempts:  3,
			RetryInitialDelay: "250ms",
			RetryMaxDelay:     "5s",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads and validates a TOML config file at path, filling unset
// fields with Default()'s values.
func Load(path string) (Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("loading config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("validating config %s: %w", path, err)
	}
	return cfg, nil
}

// validate checks cross-field invariants, pre-parses human-readable
// sizes so callers do not re-parse them on every use, and checks that
// every duration field parses (durations are parsed again by Duration).
func (c *Config) validate() error {
	if c.Network.TransferPortStart <= 0 || c.Network.TransferPortEnd <= 0 {
		return fmt.Errorf("transfer port range must be positive")
	}
	if c.Network.TransferPortStart > c.Network.TransferPortEnd {
		return fmt.Errorf("transfer_port_start must be <= transfer_port_end")
	}

	chunkBytes, err := ParseByteSize(c.Transfer.ChunkSize)
	if err != nil {
		return fmt.Errorf("transfer.chunk_size: %w", err)
	}
	c.Transfer.chunkSizeBytes = chunkBytes

	if c.Transfer.BandwidthLimit != "" {
		limit, err := ParseByteSize(c.Transfer.BandwidthLimit)
		if err != nil {
			return fmt.Errorf("transfer.bandwidth_limit: %w", err)
		}
		c.Transfer.bandwidthLimitBytes = limit
	}

	for _, d := range []string{
		c.Transfer.KeepAliveInterval, c.Transfer.SessionTimeout, c.Transfer.FrameIOTimeout,
		c.Security.RateLimitWindow, c.Security.DeviceAuthFreshness,
		c.Discovery.Timeout, c.Discovery.BroadcastInterval, c.Discovery.RetryInitialDelay, c.Discovery.RetryMaxDelay,
	} {
		if d == "" {
			continue
		}
		if _, err := time.ParseDuration(d); err != nil {
			return fmt.Errorf("invalid duration %q: %w", d, err)
		}
	}

	if c.Transfer.ParallelChunks <= 0 {
		c.Transfer.ParallelChunks = 1
	}
	if c.Preview.MaxImageSize <= 0 {
		c.Preview.MaxImageSize = 50 * 1024
	}
	if c.History.MaxEntries <= 0 {
		c.History.MaxEntries = 100
	}

	return nil
}

// ChunkSizeBytes returns the parsed transfer chunk size.
func (c Config) ChunkSizeBytes() int64 { return c.Transfer.chunkSizeBytes }

// BandwidthLimitBytes returns the parsed bandwidth limit, or 0 if unset.
func (c Config) BandwidthLimitBytes() int64 { return c.Transfer.bandwidthLimitBytes }

// Duration parses a human-readable duration field, returning fallback
// if s is empty.
func Duration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// ParseByteSize parses human-readable sizes like "256mb", "1gb", "64kb"
// into a byte count. Units are case-insensitive; a bare number is
// interpreted as bytes.
func ParseByteSize(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}

	units := []struct {
		suffix     string
		multiplier int64
	}{
		{"gb", 1024 * 1024 * 1024},
		{"mb", 1024 * 1024},
		{"kb", 1024},
		{"b", 1},
	}

	for _, u := range units {
		if strings.HasSuffix(s, u.suffix) {
			numPart := strings.TrimSpace(strings.TrimSuffix(s, u.suffix))
			n, err := strconv.ParseFloat(numPart, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid size %q: %w", s, err)
			}
			return int64(n * float64(u.multiplier)), nil
		}
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	return n, nil
}
