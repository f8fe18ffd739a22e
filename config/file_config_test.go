package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
	return path
}

func TestDefaultsApplied(t *testing.T) {
	path := writeConfig(t, "config.yaml", "General:\n  Concurrency: 3\n")

	c, err := NewConfig(&CmdEnv{ConfigLocations: []string{path}}, nil)
	require.NoError(t, err)

	assert.Equal(t, 3, c.GetGeneralConfig().Concurrency)
	assert.Equal(t, Duration(10*time.Minute), c.GetGeneralConfig().Interval)

	vq := c.GetVolumeQueryConfig()
	assert.Equal(t, 9998, vq.ChunkSize)
	assert.Equal(t, 1, vq.MaxRowsPerProject)
	assert.Equal(t, 100, vq.OrgSampleRate)
	assert.Equal(t, Duration(60*time.Second), vq.TimeBudget)

	rc := c.GetRebalancingConfig()
	assert.Equal(t, "boost_low_volume_projects", rc.Model)
	assert.InDelta(t, 0.001, rc.RateEpsilon, 1e-12)
	assert.Equal(t, Duration(24*time.Hour), rc.CacheTTL)
	assert.Equal(t, "dynamic_sampling_boost_low_volume_projects", rc.InvalidationTrigger)

	assert.Equal(t, InfoLevel, c.GetLoggerLevel())
	assert.Equal(t, "stdout", c.GetLoggerType())

	om := c.GetOTelMetricsConfig()
	assert.False(t, om.Enabled)
	assert.Equal(t, "gzip", om.Compression)
	assert.Equal(t, Duration(30*time.Second), om.ReportingInterval)

	_, enabled := c.GetSlidingWindowConfig().GetWindowSize()
	assert.False(t, enabled)
}

func TestLoadTOMLWithSlidingWindow(t *testing.T) {
	path := writeConfig(t, "config.toml", `
[SlidingWindow]
WindowSize = "24h"
EnabledOrganizations = [1, 2]

[[SlidingWindow.Tiers]]
Volume = 1000
SampleRate = 1.0

[[SlidingWindow.Tiers]]
Volume = 1000000
SampleRate = 0.25

[Logger]
Level = "debug"
`)

	c, err := NewConfig(&CmdEnv{ConfigLocations: []string{path}}, nil)
	require.NoError(t, err)

	sw := c.GetSlidingWindowConfig()
	window, enabled := sw.GetWindowSize()
	assert.True(t, enabled)
	assert.Equal(t, 24*time.Hour, window)
	assert.Equal(t, []int64{1, 2}, sw.EnabledOrganizations)
	require.Len(t, sw.Tiers, 2)
	assert.Equal(t, DebugLevel, c.GetLoggerLevel())
}

func TestLaterFilesOverrideEarlierOnes(t *testing.T) {
	base := writeConfig(t, "base.yaml", "Redis:\n  Host: base:6379\n  Prefix: rb\n")
	override := writeConfig(t, "override.yaml", "Redis:\n  Host: override:6379\n")

	c, err := NewConfig(&CmdEnv{ConfigLocations: []string{base, override}}, nil)
	require.NoError(t, err)

	assert.Equal(t, "override:6379", c.GetRedisConfig().Host)
	assert.Equal(t, "rb", c.GetRedisConfig().Prefix)
}

func TestCmdEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "config.yaml", "Redis:\n  Host: file:6379\nRegistry:\n  DSN: file-dsn\n")

	c, err := NewConfig(&CmdEnv{
		ConfigLocations: []string{path},
		RedisHost:       "flag:6379",
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, "flag:6379", c.GetRedisConfig().Host)
	assert.Equal(t, "file-dsn", c.GetRegistryConfig().DSN)
}

func TestValidationFailures(t *testing.T) {
	tests := []struct {
		name     string
		contents string
	}{
		{"negative chunk", "VolumeQuery:\n  ChunkSize: -1\n"},
		{"org sample rate too high", "VolumeQuery:\n  OrgSampleRate: 101\n"},
		{"tier rate above one", "SlidingWindow:\n  Tiers:\n    - Volume: 10\n      SampleRate: 1.5\n"},
		{"tiers out of order", "SlidingWindow:\n  Tiers:\n    - Volume: 10\n      SampleRate: 1\n    - Volume: 5\n      SampleRate: 0.5\n"},
		{"bad logger", "Logger:\n  Type: honeycomb\n"},
		{"bad otel compression", "OTelMetrics:\n  Compression: zstd\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, "config.yaml", tt.contents)
			_, err := NewConfig(&CmdEnv{ConfigLocations: []string{path}}, nil)
			assert.Error(t, err)
			assert.Error(t, ValidateConfig(&CmdEnv{ConfigLocations: []string{path}}))
		})
	}
}

func TestReloadCallsCallbacksOnChange(t *testing.T) {
	path := writeConfig(t, "config.yaml", "General:\n  Concurrency: 2\n")

	c, err := NewConfig(&CmdEnv{ConfigLocations: []string{path}}, nil)
	require.NoError(t, err)
	firstHash := c.GetHash()

	var seen []string
	c.RegisterReloadCallback(func(hash string) { seen = append(seen, hash) })

	// unchanged file: no callback
	c.Reload()
	assert.Empty(t, seen)

	require.NoError(t, os.WriteFile(path, []byte("General:\n  Concurrency: 5\n"), 0644))
	c.Reload()
	require.Len(t, seen, 1)
	assert.NotEqual(t, firstHash, seen[0])
	assert.Equal(t, 5, c.GetGeneralConfig().Concurrency)
}

func TestReloadErrorKeepsOldConfig(t *testing.T) {
	path := writeConfig(t, "config.yaml", "General:\n  Concurrency: 2\n")

	var reloadErr error
	c, err := NewConfig(&CmdEnv{ConfigLocations: []string{path}}, func(err error) { reloadErr = err })
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("General:\n  Concurrency: -4\n"), 0644))
	c.Reload()

	assert.Error(t, reloadErr)
	assert.Equal(t, 2, c.GetGeneralConfig().Concurrency)
}

func TestTierFor(t *testing.T) {
	sw := SlidingWindowConfig{
		Tiers: []SamplingTier{
			{Volume: 1_000, SampleRate: 1.0},
			{Volume: 1_000_000, SampleRate: 0.5},
			{Volume: 100_000_000, SampleRate: 0.1},
		},
	}
	tests := []struct {
		volume uint64
		want   float64
	}{
		{0, 1.0},
		{1_000, 1.0},
		{1_001, 0.5},
		{1_000_000, 0.5},
		{5_000_000, 0.1},
		{500_000_000, 0.1},
	}
	for _, tt := range tests {
		got, ok := sw.TierFor(tt.volume)
		assert.True(t, ok)
		assert.Equal(t, tt.want, got, "volume %d", tt.volume)
	}

	_, ok := SlidingWindowConfig{}.TierFor(10)
	assert.False(t, ok)
}

func TestGetWindowSize(t *testing.T) {
	_, ok := SlidingWindowConfig{WindowSize: DurationPtr(0)}.GetWindowSize()
	assert.False(t, ok)

	d, ok := SlidingWindowConfig{WindowSize: DurationPtr(time.Hour)}.GetWindowSize()
	assert.True(t, ok)
	assert.Equal(t, time.Hour, d)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, WarnLevel, ParseLevel(" Warning "))
	assert.Equal(t, ErrorLevel, ParseLevel("ERROR"))
	assert.Equal(t, UnknownLevel, ParseLevel("loud"))

	var l Level
	assert.Error(t, l.UnmarshalText([]byte("loud")))
	assert.NoError(t, l.UnmarshalText([]byte("panic")))
	assert.Equal(t, "panic", l.String())
}

func TestConfigHashMetrics(t *testing.T) {
	assert.Equal(t, int64(0), ConfigHashMetrics("abc"))
	assert.Equal(t, int64(0xbeef), ConfigHashMetrics("deadbeef"))
	assert.Equal(t, int64(0), ConfigHashMetrics("zzzz"))
}
