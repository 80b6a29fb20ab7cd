package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/opencode-ai/opencode/internal/servicehost"
	"github.com/opencode-ai/opencode/internal/session"
	"github.com/opencode-ai/opencode/pkg/types"
)

// defaultMaxConcurrentSessions matches the Rust original's
// SessionManagerConfig default used throughout its own test fixtures.
const defaultMaxConcurrentSessions = 10

// SessionManagerConfig resolves cfg's SessionRuntime section into a
// session.ManagerConfig, applying defaults for an unset capacity or model.
// AutoPersist defaults to true only when the section is absent; when the
// section is present its auto_persist value is used as given, so leaving
// it out there yields false.
func SessionManagerConfig(cfg *types.Config) session.ManagerConfig {
	rt := cfg.SessionRuntime
	out := session.ManagerConfig{
		MaxConcurrentSessions: defaultMaxConcurrentSessions,
		AutoPersist:           true,
	}
	if rt == nil {
		return out
	}
	if rt.MaxConcurrentSessions > 0 {
		out.MaxConcurrentSessions = rt.MaxConcurrentSessions
	}
	out.AutoPersist = rt.AutoPersist
	if rt.DefaultModel != "" {
		if providerID, modelID, ok := strings.Cut(rt.DefaultModel, "/"); ok {
			out.DefaultModel = types.ModelRef{ProviderID: providerID, ModelID: modelID}
		}
	}
	return out
}

// ServiceHostConfig resolves cfg's SessionRuntime section into a
// servicehost.Config, parsing the duration strings with
// time.ParseDuration and falling back to servicehost.DefaultConfig's
// values for anything unset or unparseable.
func ServiceHostConfig(cfg *types.Config) servicehost.Config {
	out := servicehost.DefaultConfig()
	rt := cfg.SessionRuntime
	if rt == nil {
		return out
	}
	if rt.IdleCleanupInterval != "" {
		if d, err := time.ParseDuration(rt.IdleCleanupInterval); err == nil {
			out.CleanupInterval = d
		}
	}
	if rt.IdleThreshold != "" {
		if d, err := time.ParseDuration(rt.IdleThreshold); err == nil {
			out.IdleThreshold = d
		}
	}
	return out
}

// StoreKind returns the configured SessionStore backend ("memory" or
// "file"), defaulting to "file" to match AutoPersist's intent of
// surviving a process restart.
func StoreKind(cfg *types.Config) string {
	if cfg.SessionRuntime != nil && cfg.SessionRuntime.Store != "" {
		return cfg.SessionRuntime.Store
	}
	return "file"
}

// StorePath returns the configured file-store root, defaulting to
// Paths.Data/sessions under the XDG data directory this package already
// manages.
func StorePath(cfg *types.Config) string {
	if cfg.SessionRuntime != nil && cfg.SessionRuntime.StorePath != "" {
		return cfg.SessionRuntime.StorePath
	}
	return filepath.Join(GetPaths().Data, "sessions")
}
