package config

import (
	"fmt"
)

// Validate checks that the Config contains valid values. It returns an
// error describing the first invalid field found. NAMESPACE_OVERRIDE fails
// validation whenever it is set to anything other than the compiled-in
// Namespace: it exists only so an operator can assert the namespace they
// expect, never to widen it.
func (c Config) Validate() error {
	if c.NamespaceOverride != "" && c.NamespaceOverride != Namespace {
		return fmt.Errorf("config: NAMESPACE_OVERRIDE %q does not match the compiled-in namespace %q", c.NamespaceOverride, Namespace)
	}

	if c.AuthHeader == "" {
		return fmt.Errorf("config: CHATOPS_AUTH_HEADER must not be empty")
	}

	if c.HealthPort < 1 || c.HealthPort > 65535 {
		return fmt.Errorf("config: CHATOPS_HEALTH_PORT must be 1-65535, got %d", c.HealthPort)
	}

	if c.AdapterTimeout <= 0 {
		return fmt.Errorf("config: CHATOPS_ADAPTER_TIMEOUT must be > 0, got %v", c.AdapterTimeout)
	}

	if c.WorkerPollInterval <= 0 {
		return fmt.Errorf("config: CHATOPS_WORKER_POLL_INTERVAL must be > 0, got %v", c.WorkerPollInterval)
	}

	if c.VerifyGraceDelay < 0 {
		return fmt.Errorf("config: CHATOPS_VERIFY_GRACE_DELAY must be >= 0, got %v", c.VerifyGraceDelay)
	}

	if c.ShutdownDeadline <= 0 {
		return fmt.Errorf("config: CHATOPS_SHUTDOWN_DEADLINE must be > 0, got %v", c.ShutdownDeadline)
	}

	if c.FreeQuotaLimit < 0 {
		return fmt.Errorf("config: CHATOPS_FREE_QUOTA_LIMIT must be >= 0, got %d", c.FreeQuotaLimit)
	}

	return nil
}
