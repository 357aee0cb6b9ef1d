// Package config loads process-wide configuration from the environment,
// in the envOrDefault/parseX idiom: every option has a safe default, and
// Validate rejects anything that would widen a hard-coded safety bound.
package config

import (
	"os"
	"strconv"
	"time"
)

// Namespace and Deployment are the process-wide constants naming the sole
// target of every Kubernetes mutation. No command payload can alter them.
const (
	Namespace  = "loadlab"
	Deployment = "loadlab-app"

	// MinReplicas and MaxReplicas bound every accepted EXECUTE scale.
	MinReplicas = 1
	MaxReplicas = 5
)

// Config holds all operator configuration values.
type Config struct {
	// NamespaceOverride is advisory only. Validate rejects any value that
	// does not exactly equal the compiled-in Namespace constant.
	NamespaceOverride string

	AuthHeader string
	LogLevel   string

	HealthPort int

	AdapterTimeout     time.Duration
	WorkerPollInterval time.Duration
	VerifyGraceDelay   time.Duration
	ShutdownDeadline   time.Duration
	FreeQuotaLimit     int
}

// Load reads configuration from environment variables and returns a Config
// with defaults applied for any unset values.
func Load() Config {
	return Config{
		NamespaceOverride:  os.Getenv("NAMESPACE_OVERRIDE"),
		AuthHeader:         envOrDefault("CHATOPS_AUTH_HEADER", "Authorization"),
		LogLevel:           envOrDefault("CHATOPS_LOG_LEVEL", "info"),
		HealthPort:         parseInt("CHATOPS_HEALTH_PORT", 8080),
		AdapterTimeout:     parseDuration("CHATOPS_ADAPTER_TIMEOUT", 15*time.Second),
		WorkerPollInterval: parseDuration("CHATOPS_WORKER_POLL_INTERVAL", 100*time.Millisecond),
		VerifyGraceDelay:   parseDuration("CHATOPS_VERIFY_GRACE_DELAY", 1*time.Second),
		ShutdownDeadline:   parseDuration("CHATOPS_SHUTDOWN_DEADLINE", 5*time.Second),
		FreeQuotaLimit:     parseInt("CHATOPS_FREE_QUOTA_LIMIT", 3),
	}
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// parseDuration tries time.ParseDuration first, then falls back to treating
// the value as integer seconds.
func parseDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}

	d, err := time.ParseDuration(v)
	if err == nil {
		return d
	}

	// Fallback: treat as integer seconds
	secs, err := strconv.Atoi(v)
	if err == nil {
		return time.Duration(secs) * time.Second
	}

	return defaultVal
}

func parseInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}
