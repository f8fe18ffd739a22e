package ratecache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/honeycombio/rebalancer/config"
	"github.com/honeycombio/rebalancer/invalidation"
	"github.com/honeycombio/rebalancer/logger"
	"github.com/honeycombio/rebalancer/metrics"
	"github.com/honeycombio/rebalancer/types"
)

type publisherHarness struct {
	publisher *Publisher
	scheduler *invalidation.MockScheduler
	metrics   *metrics.MockMetrics
	server    *miniredis.Miniredis
}

func newPublisher(t *testing.T) *publisherHarness {
	store, server := newRedisStore(t, "")
	m := &metrics.MockMetrics{}
	m.Start()
	h := &publisherHarness{
		scheduler: &invalidation.MockScheduler{},
		metrics:   m,
		server:    server,
	}
	h.publisher = &Publisher{
		Config: &config.MockConfig{RebalancingVal: config.RebalancingConfig{
			RateEpsilon:         0.001,
			CacheTTL:            config.Duration(24 * time.Hour),
			InvalidationTrigger: types.BoostLowVolumeProjectsTrigger,
		}},
		Logger:    &logger.NullLogger{},
		Metrics:   m,
		Tracer:    noop.NewTracerProvider().Tracer("test"),
		Store:     store,
		Scheduler: h.scheduler,
	}
	require.NoError(t, h.publisher.Start())
	return h
}

func (h *publisherHarness) counter(name string) float64 {
	v, _ := h.metrics.Get(name)
	return v
}

func TestAreEqualWithEpsilon(t *testing.T) {
	f := func(v float64) *float64 { return &v }
	tests := []struct {
		prev *float64
		next float64
		want bool
	}{
		{nil, 0.5, false},
		{f(0.5), 0.5, true},
		{f(0.5), 0.5005, true},
		{f(0.5), 0.5011, false},
		{f(0.5), 0.4989, false},
		{f(1), 0.2, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, AreEqualWithEpsilon(tt.prev, tt.next, 0.001), "prev=%v next=%v", tt.prev, tt.next)
	}
}

func TestPublishFreshRates(t *testing.T) {
	h := newPublisher(t)

	err := h.publisher.Publish(context.Background(), 1, []types.RebalancedResult{
		{ID: 10, NewSampleRate: 0.5},
		{ID: 11, NewSampleRate: 1},
	})
	require.NoError(t, err)

	key := "ds::o:1:prioritise_projects"
	assert.Equal(t, "0.5", h.server.HGet(key, "10"))
	assert.Equal(t, "1", h.server.HGet(key, "11"))
	assert.Equal(t, 24*time.Hour, h.server.TTL(key))

	assert.Equal(t, []types.ProjectID{10, 11}, h.scheduler.Projects())
	assert.Equal(t, types.BoostLowVolumeProjectsTrigger, h.scheduler.Scheduled[0].Trigger)
	assert.Equal(t, float64(2), h.counter("rate_cache_writes"))
	assert.Equal(t, float64(2), h.counter("rate_cache_invalidations"))
}

func TestPublishInvalidatesOnlyChangedRates(t *testing.T) {
	h := newPublisher(t)
	ctx := context.Background()
	key := "ds::o:1:prioritise_projects"
	h.server.HSet(key, "10", "0.5")
	h.server.HSet(key, "11", "0.5")
	h.server.HSet(key, "12", "0.5")
	h.server.HSet(key, "13", "not a number")

	err := h.publisher.Publish(ctx, 1, []types.RebalancedResult{
		{ID: 10, NewSampleRate: 0.5},    // unchanged
		{ID: 11, NewSampleRate: 0.5009}, // within epsilon
		{ID: 12, NewSampleRate: 0.25},   // changed
		{ID: 13, NewSampleRate: 0.25},   // unparseable previous
		{ID: 14, NewSampleRate: 0.75},   // new
	})
	require.NoError(t, err)

	assert.Equal(t, []types.ProjectID{12, 13, 14}, h.scheduler.Projects())
	// every rate is still written
	assert.Equal(t, "0.5009", h.server.HGet(key, "11"))
	assert.Equal(t, "0.25", h.server.HGet(key, "13"))
	assert.Equal(t, float64(5), h.counter("rate_cache_writes"))
	assert.Equal(t, float64(2), h.counter("rate_cache_unchanged"))
}

func TestPublishTwiceIsIdempotent(t *testing.T) {
	h := newPublisher(t)
	ctx := context.Background()
	results := []types.RebalancedResult{{ID: 10, NewSampleRate: 0.3}}

	require.NoError(t, h.publisher.Publish(ctx, 1, results))
	require.NoError(t, h.publisher.Publish(ctx, 1, results))

	assert.Len(t, h.scheduler.Scheduled, 1)
}

func TestPublishWriteFailure(t *testing.T) {
	h := newPublisher(t)
	h.server.SetError("READONLY You can't write against a read only replica.")

	err := h.publisher.Publish(context.Background(), 1, []types.RebalancedResult{{ID: 10, NewSampleRate: 0.3}})
	assert.Error(t, err)
	assert.Empty(t, h.scheduler.Scheduled)
	assert.Equal(t, float64(1), h.counter("rate_cache_write_errors"))
	assert.Zero(t, h.counter("rate_cache_writes"))
}

type failingReadStore struct {
	Store
}

func (s failingReadStore) GetFields(context.Context, string, []string) ([]*string, error) {
	return nil, errors.New("connection reset by peer")
}

func TestPublishPreviousRatesUnreadable(t *testing.T) {
	h := newPublisher(t)
	ctx := context.Background()
	key := "ds::o:1:prioritise_projects"
	results := []types.RebalancedResult{
		{ID: 10, NewSampleRate: 0.5},
		{ID: 11, NewSampleRate: 1},
	}
	require.NoError(t, h.publisher.Publish(ctx, 1, results))
	require.Len(t, h.scheduler.Scheduled, 2)

	h.publisher.Store = failingReadStore{Store: h.publisher.Store}
	err := h.publisher.Publish(ctx, 1, []types.RebalancedResult{
		{ID: 10, NewSampleRate: 0.5},
		{ID: 11, NewSampleRate: 0.25},
	})
	assert.ErrorContains(t, err, "connection reset by peer")

	// nothing new is invalidated and the stored rates are untouched
	assert.Len(t, h.scheduler.Scheduled, 2)
	assert.Equal(t, "0.5", h.server.HGet(key, "10"))
	assert.Equal(t, "1", h.server.HGet(key, "11"))
	assert.Equal(t, float64(1), h.counter("rate_cache_read_errors"))
	assert.Equal(t, float64(2), h.counter("rate_cache_writes"))
}

func TestPublishInvalidationFailureIsNotFatal(t *testing.T) {
	h := newPublisher(t)
	h.scheduler.Fail = func(p types.ProjectID) error {
		if p == 10 {
			return errors.New("pubsub down")
		}
		return nil
	}

	err := h.publisher.Publish(context.Background(), 1, []types.RebalancedResult{
		{ID: 10, NewSampleRate: 0.3},
		{ID: 11, NewSampleRate: 0.3},
	})
	require.NoError(t, err)
	assert.Equal(t, []types.ProjectID{11}, h.scheduler.Projects())
	assert.Equal(t, float64(1), h.counter("rate_cache_invalidation_errors"))
	assert.Equal(t, "0.3", h.server.HGet("ds::o:1:prioritise_projects", "10"))
}

func TestPublishNothing(t *testing.T) {
	h := newPublisher(t)
	require.NoError(t, h.publisher.Publish(context.Background(), 1, nil))
	assert.False(t, h.server.Exists("ds::o:1:prioritise_projects"))
}

func TestSlidingWindowCache(t *testing.T) {
	store, server := newRedisStore(t, "")
	c := &SlidingWindowCache{Store: store}
	ctx := context.Background()

	_, ok, err := c.Get(ctx, 3)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, server.Set("ds::o:3:sliding_window_org_sample_rate", "0.2"))
	rate, ok, err := c.Get(ctx, 3)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0.2, rate)
}
