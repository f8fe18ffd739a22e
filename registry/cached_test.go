package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/honeycombio/rebalancer/config"
	"github.com/honeycombio/rebalancer/logger"
	"github.com/honeycombio/rebalancer/metrics"
	"github.com/honeycombio/rebalancer/types"
)

func newCachedRegistry(t *testing.T, src *MockRegistry) (*CachedRegistry, *config.MockConfig, *metrics.MockMetrics) {
	cfg := &config.MockConfig{RegistryVal: config.RegistryConfig{CacheSize: 100, CacheTTL: config.Duration(time.Hour)}}
	m := &metrics.MockMetrics{}
	m.Start()
	c := &CachedRegistry{Config: cfg, Logger: &logger.NullLogger{}, Metrics: m, Source: src}
	require.NoError(t, c.Start())
	return c, cfg, m
}

func TestCachedRegistryCachesHits(t *testing.T) {
	src := &MockRegistry{
		Orgs:         map[types.OrgID]Organization{1: {ID: 1, Name: "one"}},
		Projects:     map[types.OrgID][]types.ProjectID{1: {10, 11}},
		BlendedRates: map[types.OrgID]float64{1: 0.5},
	}
	c, _, m := newCachedRegistry(t, src)
	ctx := context.Background()

	for range 3 {
		org, err := c.GetOrganization(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, "one", org.Name)

		ids, err := c.ActiveProjectIDs(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, []types.ProjectID{10, 11}, ids)

		rate, ok, err := c.GetBlendedSampleRate(ctx, 1)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 0.5, rate)
	}

	assert.Equal(t, 1, src.CallCount("GetOrganization"))
	assert.Equal(t, 1, src.CallCount("ActiveProjectIDs"))
	assert.Equal(t, 1, src.CallCount("GetBlendedSampleRate"))

	hits, _ := m.Get("registry_cache_hits")
	misses, _ := m.Get("registry_cache_misses")
	assert.Equal(t, float64(6), hits)
	assert.Equal(t, float64(3), misses)
}

func TestCachedRegistryCachesUndefinedBlendedRate(t *testing.T) {
	src := &MockRegistry{}
	c, _, _ := newCachedRegistry(t, src)

	for range 2 {
		_, ok, err := c.GetBlendedSampleRate(context.Background(), 5)
		require.NoError(t, err)
		assert.False(t, ok)
	}
	assert.Equal(t, 1, src.CallCount("GetBlendedSampleRate"))
}

func TestCachedRegistryDoesNotCacheFailures(t *testing.T) {
	src := &MockRegistry{}
	c, _, _ := newCachedRegistry(t, src)
	ctx := context.Background()

	for range 2 {
		_, err := c.GetOrganization(ctx, 1)
		assert.ErrorIs(t, err, ErrNotFound)
	}
	assert.Equal(t, 2, src.CallCount("GetOrganization"))

	src.Err = errors.New("database down")
	_, _, err := c.GetBlendedSampleRate(ctx, 1)
	assert.Error(t, err)
	src.Err = nil
	_, _, err = c.GetBlendedSampleRate(ctx, 1)
	assert.NoError(t, err)
	assert.Equal(t, 2, src.CallCount("GetBlendedSampleRate"))
}

func TestCachedRegistryResetsOnReload(t *testing.T) {
	src := &MockRegistry{Orgs: map[types.OrgID]Organization{1: {ID: 1}}}
	c, cfg, _ := newCachedRegistry(t, src)
	ctx := context.Background()

	_, err := c.GetOrganization(ctx, 1)
	require.NoError(t, err)
	cfg.Reload()
	_, err = c.GetOrganization(ctx, 1)
	require.NoError(t, err)

	assert.Equal(t, 2, src.CallCount("GetOrganization"))
}
