// Package config loads the manager's configuration from the environment:
// plain env-var lookups with inline defaults, no configuration framework.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds every tunable the supervisor process needs at startup.
type Config struct {
	// ListenAddr is the request/reply transport's bind address.
	ListenAddr string
	// StorePath is the path to the persisted key-value image.
	StorePath string
	// WorkerCommand is the executable path for the out-of-process worker.
	WorkerCommand string
	// WorkerArgs are extra arguments passed to WorkerCommand.
	WorkerArgs []string
	// PingInterval is how often the supervisor pings the worker to track
	// liveness.
	PingInterval time.Duration
	// MissedPingThreshold is how many consecutive missed pings mark the
	// worker dead.
	MissedPingThreshold int
	// PulseStreamEnabled turns on the optional run-list broadcaster.
	PulseStreamEnabled bool
	// RedisURL configures the Pulse client's Redis backend, when
	// PulseStreamEnabled is set.
	RedisURL string
}

// FromEnv loads a Config from environment variables, applying the inline
// defaults below (also listed in cmd/qserver's package doc).
func FromEnv() Config {
	return Config{
		ListenAddr:          envOr("QSERVER_ADDR", ":60615"),
		StorePath:           envOr("QSERVER_STORE_PATH", "qserver.db.json"),
		WorkerCommand:       envOr("QSERVER_WORKER_COMMAND", "qworker"),
		WorkerArgs:          nil,
		PingInterval:        envDurationOr("QSERVER_PING_INTERVAL", 5*time.Second),
		MissedPingThreshold: envIntOr("QSERVER_MISSED_PING_THRESHOLD", 3),
		PulseStreamEnabled:  envBoolOr("QSERVER_PULSE_ENABLED", false),
		RedisURL:            envOr("REDIS_URL", "localhost:6379"),
	}
}

func envOr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envIntOr(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func envDurationOr(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

func envBoolOr(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}
