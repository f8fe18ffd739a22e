package orgrate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/honeycombio/rebalancer/config"
	"github.com/honeycombio/rebalancer/features"
	"github.com/honeycombio/rebalancer/logger"
	"github.com/honeycombio/rebalancer/metrics"
	"github.com/honeycombio/rebalancer/registry"
	"github.com/honeycombio/rebalancer/types"
	"github.com/honeycombio/rebalancer/volume"
)

type fakeFetcher struct {
	result  *volume.Result
	err     error
	windows []types.TimeRange
}

func (f *fakeFetcher) Fetch(ctx context.Context, orgs []types.OrgID, window types.TimeRange) (*volume.Result, error) {
	f.windows = append(f.windows, window)
	if f.err != nil {
		return nil, f.err
	}
	if f.result == nil {
		return &volume.Result{ByOrg: map[types.OrgID][]types.ProjectVolume{}}, nil
	}
	return f.result, nil
}

type fakeWindowCache struct {
	rates map[types.OrgID]float64
	err   error
	reads int
}

func (f *fakeWindowCache) Get(ctx context.Context, org types.OrgID) (float64, bool, error) {
	f.reads++
	if f.err != nil {
		return 0, false, f.err
	}
	rate, ok := f.rates[org]
	return rate, ok, nil
}

type resolverHarness struct {
	resolver *Resolver
	config   *config.MockConfig
	registry *registry.MockRegistry
	cache    *fakeWindowCache
	fetcher  *fakeFetcher
	logger   *logger.MockLogger
	metrics  *metrics.MockMetrics
}

func newResolver(t *testing.T) *resolverHarness {
	cfg := &config.MockConfig{SlidingWindowVal: config.SlidingWindowConfig{
		EnabledOrganizations: []int64{1},
		Tiers: []config.SamplingTier{
			{Volume: 1_000_000, SampleRate: 1},
			{Volume: 100_000_000, SampleRate: 0.5},
			{Volume: 10_000_000_000, SampleRate: 0.1},
		},
	}}
	m := &metrics.MockMetrics{}
	m.Start()
	h := &resolverHarness{
		config: cfg,
		registry: &registry.MockRegistry{
			Orgs:         map[types.OrgID]registry.Organization{1: {ID: 1}, 2: {ID: 2}, 3: {ID: 3}},
			BlendedRates: map[types.OrgID]float64{1: 0.3, 2: 0.4},
		},
		cache:   &fakeWindowCache{rates: map[types.OrgID]float64{}},
		fetcher: &fakeFetcher{},
		logger:  &logger.MockLogger{},
		metrics: m,
	}
	h.resolver = &Resolver{
		Config:   cfg,
		Logger:   h.logger,
		Metrics:  m,
		Registry: h.registry,
		Blended:  h.registry,
		Flags:    &features.Flags{Config: cfg},
		Window:   h.cache,
		Estimator: &Estimator{
			Config:  cfg,
			Logger:  h.logger,
			Clock:   clockwork.NewFakeClockAt(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)),
			Fetcher: h.fetcher,
		},
	}
	require.NoError(t, h.resolver.Start())
	return h
}

func (h *resolverHarness) sources() []any {
	var sources []any
	for _, ev := range h.logger.Find("resolved organization target rate") {
		sources = append(sources, ev.Fields["source"])
	}
	return sources
}

func TestResolveUnknownOrg(t *testing.T) {
	h := newResolver(t)

	_, ok, err := h.resolver.Resolve(context.Background(), 99)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, h.registry.CallCount("GetBlendedSampleRate"))
}

func TestResolveCachedSlidingWindowSkipsBlended(t *testing.T) {
	h := newResolver(t)
	h.cache.rates[1] = 0.05

	rate, ok, err := h.resolver.Resolve(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0.05, rate)

	assert.Zero(t, h.registry.CallCount("GetBlendedSampleRate"))
	assert.Empty(t, h.fetcher.windows, "no recompute on a cache hit")
	assert.Equal(t, []any{SourceSlidingWindow}, h.sources())
	v, _ := h.metrics.Get("org_rate_source_sliding_window")
	assert.Equal(t, float64(1), v)
}

func TestResolveFlagOffUsesBlended(t *testing.T) {
	h := newResolver(t)
	h.cache.rates[2] = 0.05

	rate, ok, err := h.resolver.Resolve(context.Background(), 2)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0.4, rate)
	assert.Zero(t, h.cache.reads)
	assert.Equal(t, []any{SourceBlended}, h.sources())
}

func TestResolveCacheMissWithoutWindowFallsBack(t *testing.T) {
	h := newResolver(t)

	rate, ok, err := h.resolver.Resolve(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0.3, rate)
	assert.Empty(t, h.fetcher.windows)
}

func TestResolveEstimatesOnCacheMiss(t *testing.T) {
	h := newResolver(t)
	h.config.SlidingWindowVal.WindowSize = config.DurationPtr(24 * time.Hour)
	// 2M per day is 60M per 30 days: the 0.5 tier
	h.fetcher.result = &volume.Result{ByOrg: map[types.OrgID][]types.ProjectVolume{
		1: {{OrgID: 1, ProjectID: 1, TotalRootCount: 1_500_000}, {OrgID: 1, ProjectID: 2, TotalRootCount: 500_000}},
	}}

	rate, ok, err := h.resolver.Resolve(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0.5, rate)
	assert.Zero(t, h.registry.CallCount("GetBlendedSampleRate"))

	require.Len(t, h.fetcher.windows, 1)
	assert.Equal(t, 24*time.Hour, h.fetcher.windows[0].Duration())
}

func TestResolveEstimateWithoutDataFallsBack(t *testing.T) {
	h := newResolver(t)
	h.config.SlidingWindowVal.WindowSize = config.DurationPtr(time.Hour)

	rate, ok, err := h.resolver.Resolve(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0.3, rate)
	assert.Len(t, h.fetcher.windows, 1)
}

func TestResolveSlidingWindowErrorsFallBack(t *testing.T) {
	h := newResolver(t)
	h.config.SlidingWindowVal.WindowSize = config.DurationPtr(time.Hour)
	h.cache.err = errors.New("redis down")
	h.fetcher.err = errors.New("influx down")

	rate, ok, err := h.resolver.Resolve(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0.3, rate)
	assert.Len(t, h.logger.Find("sliding window estimate failed"), 1)
}

func TestResolveNoBlendedRate(t *testing.T) {
	h := newResolver(t)

	_, ok, err := h.resolver.Resolve(context.Background(), 3)
	require.NoError(t, err)
	assert.False(t, ok)
	v, _ := h.metrics.Get("org_rate_unresolved")
	assert.Equal(t, float64(1), v)
}

func TestResolveRegistryError(t *testing.T) {
	h := newResolver(t)
	h.registry.Err = errors.New("database down")

	_, _, err := h.resolver.Resolve(context.Background(), 1)
	assert.Error(t, err)
}
