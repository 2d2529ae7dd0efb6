// Package config provides environment-variable-driven configuration for the broker.
package config

import (
	"os"
	"strconv"
	"strings"
)

// Config is the broker's process-wide configuration, loaded once at startup.
type Config struct {
	// APIPort is the optional HTTP mirror port (C11). Zero disables it.
	APIPort int

	// APIKey is the workspace-wide Relaycast API key (RELAY_API_KEY). Mandatory
	// for any agent that needs to call back into the remote messaging service.
	APIKey string

	// BaseURL is the remote Relaycast service base URL.
	BaseURL string

	// DefaultChannels overrides the built-in default channel set when non-empty.
	DefaultChannels []string

	// LogLevel / LogFormat configure internal/logging.
	LogLevel  string
	LogFormat string

	// Dir is the working directory under which .agent-relay/ is created.
	Dir string

	// Tuning knobs: these are configuration, not hardcoded constants.
	// internal/clihooks.ReadyBytesFloor overrides ReadyBytesFloor to zero
	// for cat/bash; every other flavor and knob uses these process-wide
	// values as is.
	ReadyBytesFloor   int64
	QuiescenceMillis  int64
	InjectGraceMillis int64

	// PollIntervalMillis / PollBatchSize / PollBackoffMillis configure C7's
	// inbound pull loop against the remote messaging service.
	PollIntervalMillis int64
	PollBatchSize      int
	PollBackoffMillis  int64

	// ReleaseGraceMillis is how long C4 waits after SIGTERM before SIGKILL.
	ReleaseGraceMillis int64

	// NATSURL, when set, switches internal/events to a NATS-backed bus.
	NATSURL string
}

// DefaultChannelSet is the hardcoded fallback every spawn path must consult
// through DefaultSpawnChannels; no spawn site may hardcode its own set.
var DefaultChannelSet = []string{"general", "engineering"}

// Load reads configuration from the process environment.
func Load() *Config {
	cwd, _ := os.Getwd()
	return &Config{
		APIPort:            getEnvInt("RELAY_API_PORT", 0),
		APIKey:             os.Getenv("RELAY_API_KEY"),
		BaseURL:            getEnv("RELAY_BASE_URL", ""),
		DefaultChannels:    splitChannels(os.Getenv("RELAY_DEFAULT_CHANNELS")),
		LogLevel:           getEnv("RELAY_LOG_LEVEL", "info"),
		LogFormat:          getEnv("RELAY_LOG_FORMAT", ""),
		Dir:                getEnv("RELAY_DIR", cwd),
		ReadyBytesFloor:    getEnvInt64("RELAY_READY_BYTES", 2048),
		QuiescenceMillis:   getEnvInt64("RELAY_QUIESCENCE_MS", 900),
		InjectGraceMillis:  getEnvInt64("RELAY_INJECT_GRACE_MS", 5000),
		PollIntervalMillis: getEnvInt64("RELAY_POLL_INTERVAL_MS", 2000),
		PollBatchSize:      getEnvInt("RELAY_POLL_BATCH_SIZE", 20),
		PollBackoffMillis:  getEnvInt64("RELAY_POLL_BACKOFF_MS", 5000),
		ReleaseGraceMillis: getEnvInt64("RELAY_RELEASE_GRACE_MS", 2000),
		NATSURL:            os.Getenv("RELAY_NATS_URL"),
	}
}

// DefaultSpawnChannels returns the channel set new agents join absent an
// explicit override. Every spawn path must call this rather than hardcoding
// a literal slice.
func (c *Config) DefaultSpawnChannels() []string {
	if len(c.DefaultChannels) > 0 {
		return append([]string(nil), c.DefaultChannels...)
	}
	return append([]string(nil), DefaultChannelSet...)
}

func splitChannels(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return def
}
