package config

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/opencode-ai/opencode/internal/servicehost"
	"github.com/opencode-ai/opencode/pkg/types"
)

func TestSessionManagerConfigDefaults(t *testing.T) {
	cfg := &types.Config{}
	mc := SessionManagerConfig(cfg)
	assert.Equal(t, defaultMaxConcurrentSessions, mc.MaxConcurrentSessions)
	assert.True(t, mc.AutoPersist)
	assert.Zero(t, mc.DefaultModel)
}

func TestSessionManagerConfigOverrides(t *testing.T) {
	cfg := &types.Config{SessionRuntime: &types.SessionRuntimeConfig{
		MaxConcurrentSessions: 42,
		AutoPersist:           false,
		DefaultModel:          "anthropic/claude-sonnet-4-20250514",
	}}
	mc := SessionManagerConfig(cfg)
	assert.Equal(t, 42, mc.MaxConcurrentSessions)
	assert.False(t, mc.AutoPersist)
	assert.Equal(t, "anthropic", mc.DefaultModel.ProviderID)
	assert.Equal(t, "claude-sonnet-4-20250514", mc.DefaultModel.ModelID)
}

func TestServiceHostConfigParsesDurations(t *testing.T) {
	cfg := &types.Config{SessionRuntime: &types.SessionRuntimeConfig{
		IdleCleanupInterval: "1m",
		IdleThreshold:       "10m",
	}}
	hc := ServiceHostConfig(cfg)
	assert.Equal(t, "1m0s", hc.CleanupInterval.String())
	assert.Equal(t, "10m0s", hc.IdleThreshold.String())
}

func TestServiceHostConfigFallsBackOnUnparseable(t *testing.T) {
	cfg := &types.Config{SessionRuntime: &types.SessionRuntimeConfig{IdleCleanupInterval: "not-a-duration"}}
	hc := ServiceHostConfig(cfg)
	assert.Equal(t, servicehost.DefaultConfig().CleanupInterval, hc.CleanupInterval)
}

func TestStoreKindDefaultsToFile(t *testing.T) {
	assert.Equal(t, "file", StoreKind(&types.Config{}))
	assert.Equal(t, "memory", StoreKind(&types.Config{SessionRuntime: &types.SessionRuntimeConfig{Store: "memory"}}))
}
