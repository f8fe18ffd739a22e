package rebalance

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/honeycombio/rebalancer/config"
	"github.com/honeycombio/rebalancer/internal/health"
	"github.com/honeycombio/rebalancer/internal/redis"
	"github.com/honeycombio/rebalancer/invalidation"
	"github.com/honeycombio/rebalancer/logger"
	"github.com/honeycombio/rebalancer/metrics"
	"github.com/honeycombio/rebalancer/ratecache"
	"github.com/honeycombio/rebalancer/rebalancing"
	"github.com/honeycombio/rebalancer/registry"
	"github.com/honeycombio/rebalancer/types"
	"github.com/honeycombio/rebalancer/volume"
)

type fakeFetcher struct {
	volumes map[types.OrgID][]types.ProjectVolume
	outcome volume.Outcome
	err     error
	calls   [][]types.OrgID
	mut     sync.Mutex
}

func (f *fakeFetcher) Fetch(ctx context.Context, orgs []types.OrgID, window types.TimeRange) (*volume.Result, error) {
	f.mut.Lock()
	defer f.mut.Unlock()
	f.calls = append(f.calls, orgs)
	if f.err != nil {
		return nil, f.err
	}
	res := &volume.Result{ByOrg: make(map[types.OrgID][]types.ProjectVolume), Outcome: f.outcome}
	for _, org := range orgs {
		if v, ok := f.volumes[org]; ok {
			res.ByOrg[org] = v
		}
	}
	return res, nil
}

type fakeResolver struct {
	rates map[types.OrgID]float64
	errs  map[types.OrgID]error
}

func (f *fakeResolver) Resolve(ctx context.Context, org types.OrgID) (float64, bool, error) {
	if err := f.errs[org]; err != nil {
		return 0, false, err
	}
	rate, ok := f.rates[org]
	return rate, ok, nil
}

type harness struct {
	rebalancer *Rebalancer
	config     *config.MockConfig
	registry   *registry.MockRegistry
	fetcher    *fakeFetcher
	resolver   *fakeResolver
	scheduler  *invalidation.MockScheduler
	metrics    *metrics.MockMetrics
	health     *health.Health
	clock      *clockwork.FakeClock
	server     *miniredis.Miniredis
}

const (
	orgO     types.OrgID     = 1
	projectA types.ProjectID = 10
	projectB types.ProjectID = 11
)

func newHarness(t *testing.T) *harness {
	cfg := &config.MockConfig{
		GeneralVal: config.GeneralConfig{Interval: config.Duration(10 * time.Minute), Concurrency: 4},
		RebalancingVal: config.RebalancingConfig{
			Model:               rebalancing.BoostLowVolumeProjectsModel,
			RateEpsilon:         0.001,
			CacheTTL:            config.Duration(24 * time.Hour),
			InvalidationTrigger: types.BoostLowVolumeProjectsTrigger,
			MeasurementWindow:   config.Duration(time.Hour),
			MaxOrgsPerBatch:     100,
			MaxProjectsPerBatch: 10000,
		},
	}
	m := &metrics.MockMetrics{}
	m.Start()
	lgr := &logger.NullLogger{}
	tracer := noop.NewTracerProvider().Tracer("test")

	client, server := redis.NewTestClient(t)
	store := &ratecache.RedisStore{Config: cfg, Logger: lgr, Client: client}
	require.NoError(t, store.Start())

	h := &harness{
		config: cfg,
		registry: &registry.MockRegistry{
			Orgs:     map[types.OrgID]registry.Organization{orgO: {ID: orgO}},
			Projects: map[types.OrgID][]types.ProjectID{orgO: {projectB, projectA}},
		},
		fetcher: &fakeFetcher{volumes: map[types.OrgID][]types.ProjectVolume{
			orgO: {{OrgID: orgO, ProjectID: projectA, TotalRootCount: 4, KeepCount: 1, DropCount: 3}},
		}},
		resolver:  &fakeResolver{rates: map[types.OrgID]float64{orgO: 0.5}},
		scheduler: &invalidation.MockScheduler{},
		metrics:   m,
		health:    &health.Health{Clock: clockwork.NewFakeClock(), Logger: lgr, Metrics: m},
		clock:     clockwork.NewFakeClock(),
		server:    server,
	}
	require.NoError(t, h.health.Start())
	t.Cleanup(func() { h.health.Stop() })

	executor := &rebalancing.Executor{Logger: lgr, Metrics: m}
	require.NoError(t, executor.Start())
	publisher := &ratecache.Publisher{
		Config: cfg, Logger: lgr, Metrics: m, Tracer: tracer,
		Store: store, Scheduler: h.scheduler,
	}
	require.NoError(t, publisher.Start())

	h.rebalancer = &Rebalancer{
		Config:    cfg,
		Logger:    lgr,
		Metrics:   m,
		Tracer:    tracer,
		Clock:     h.clock,
		Health:    h.health,
		Registry:  h.registry,
		Fetcher:   h.fetcher,
		Resolver:  h.resolver,
		Executor:  executor,
		Publisher: publisher,
	}
	return h
}

func (h *harness) rate(org types.OrgID, project types.ProjectID) string {
	return h.server.HGet(ratecache.ProjectRatesKey(org), project.String())
}

func (h *harness) counter(name string) float64 {
	v, _ := h.metrics.Get(name)
	return v
}

func TestModelInputIncludesEveryActiveProject(t *testing.T) {
	items, dropped := modelInput(
		[]types.ProjectID{projectB, projectA},
		[]types.ProjectVolume{{ProjectID: projectA, TotalRootCount: 4, KeepCount: 1, DropCount: 3}},
	)
	assert.Equal(t, []types.RebalancedItem{{ID: projectA, Count: 4}, {ID: projectB, Count: 0}}, items)
	assert.Zero(t, dropped)

	items, dropped = modelInput(
		[]types.ProjectID{3},
		[]types.ProjectVolume{{ProjectID: 3, TotalRootCount: 1}, {ProjectID: 3, TotalRootCount: 2}, {ProjectID: 99, TotalRootCount: 50}},
	)
	assert.Equal(t, []types.RebalancedItem{{ID: 3, Count: 3}}, items)
	assert.Equal(t, 1, dropped)
}

func TestTwoProjectScenario(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.rebalancer.BoostLowVolumeProjectsOfOrg(context.Background(), orgO))

	assert.Equal(t, "0.5", h.rate(orgO, projectA))
	assert.Equal(t, "1", h.rate(orgO, projectB))
	assert.ElementsMatch(t, []types.ProjectID{projectA, projectB}, h.scheduler.Projects())
	assert.Equal(t, float64(1), h.counter("rebalance_orgs_published"))

	require.Len(t, h.fetcher.calls, 1)
	assert.Equal(t, []types.OrgID{orgO}, h.fetcher.calls[0])
}

func TestSecondPassWithSameVolumesInvalidatesNothing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.rebalancer.BoostLowVolumeProjectsOfOrg(ctx, orgO))
	require.NoError(t, h.rebalancer.BoostLowVolumeProjectsOfOrg(ctx, orgO))

	assert.Len(t, h.scheduler.Scheduled, 2)
}

func TestGuardedFailureLeavesRatesUntouched(t *testing.T) {
	h := newHarness(t)
	h.server.HSet(ratecache.ProjectRatesKey(orgO), projectA.String(), "0.7")
	h.resolver.rates[orgO] = 1.5

	err := h.rebalancer.BoostLowVolumeProjectsOfOrg(context.Background(), orgO)
	require.NoError(t, err)

	assert.Equal(t, "0.7", h.rate(orgO, projectA))
	assert.Empty(t, h.rate(orgO, projectB))
	assert.Empty(t, h.scheduler.Scheduled)
	assert.Equal(t, float64(1), h.counter("rebalancing_model_failures"))
	assert.Equal(t, float64(1), h.counter("rebalance_orgs_skipped"))
}

func TestAdjustSampleRatesOfProjectsGuardedFailure(t *testing.T) {
	h := newHarness(t)

	err := h.rebalancer.AdjustSampleRatesOfProjects(context.Background(), orgO, nil, -1)
	require.NoError(t, err)
	assert.False(t, h.server.Exists(ratecache.ProjectRatesKey(orgO)))
}

func TestUnresolvedRateSkipsOrg(t *testing.T) {
	h := newHarness(t)
	delete(h.resolver.rates, orgO)

	require.NoError(t, h.rebalancer.BoostLowVolumeProjectsOfOrg(context.Background(), orgO))

	assert.False(t, h.server.Exists(ratecache.ProjectRatesKey(orgO)))
	assert.Empty(t, h.scheduler.Scheduled)
	assert.Equal(t, float64(1), h.counter("rebalance_orgs_skipped"))
}

func TestIncompleteFetchSkipsOrgsWithoutRows(t *testing.T) {
	h := newHarness(t)
	h.fetcher.outcome = volume.BudgetExceeded
	h.fetcher.volumes = map[types.OrgID][]types.ProjectVolume{}

	require.NoError(t, h.rebalancer.BoostLowVolumeProjectsOfOrg(context.Background(), orgO))

	assert.False(t, h.server.Exists(ratecache.ProjectRatesKey(orgO)))
	assert.Empty(t, h.scheduler.Scheduled)
	assert.Equal(t, float64(1), h.counter("rebalance_orgs_skipped"))
	assert.Zero(t, h.counter("rebalance_orgs_published"))
}

func TestIncompleteFetchRebalancesOrgsWithRows(t *testing.T) {
	h := newHarness(t)
	h.fetcher.outcome = volume.BudgetExceeded
	h.registry.Orgs[2] = registry.Organization{ID: 2}
	h.registry.Projects[2] = []types.ProjectID{20, 21}
	h.resolver.rates[2] = 0.5

	err := h.rebalancer.BoostLowVolumeProjects(context.Background(), []types.OrgID{orgO, 2}, types.LastWindow(h.clock.Now(), time.Hour))
	require.NoError(t, err)

	assert.Equal(t, "0.5", h.rate(orgO, projectA))
	assert.Equal(t, "1", h.rate(orgO, projectB))
	assert.ElementsMatch(t, []types.ProjectID{projectA, projectB}, h.scheduler.Projects())
	assert.False(t, h.server.Exists(ratecache.ProjectRatesKey(2)))
	assert.Equal(t, float64(1), h.counter("rebalance_orgs_published"))
	assert.Equal(t, float64(1), h.counter("rebalance_orgs_skipped"))
}

func TestOrgFailuresAreIsolated(t *testing.T) {
	h := newHarness(t)
	h.registry.Orgs[2] = registry.Organization{ID: 2}
	h.registry.Projects[2] = []types.ProjectID{20}
	h.resolver.errs = map[types.OrgID]error{2: errors.New("registry timeout")}

	err := h.rebalancer.BoostLowVolumeProjects(context.Background(), []types.OrgID{orgO, 2}, types.LastWindow(h.clock.Now(), time.Hour))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "organization 2")

	assert.Equal(t, "0.5", h.rate(orgO, projectA))
	assert.False(t, h.server.Exists(ratecache.ProjectRatesKey(2)))
}

func TestFetchFailureFailsBatch(t *testing.T) {
	h := newHarness(t)
	h.fetcher.err = errors.New("analytics unavailable")

	err := h.rebalancer.BoostLowVolumeProjectsOfOrg(context.Background(), orgO)
	assert.ErrorIs(t, err, h.fetcher.err)
	assert.False(t, h.server.Exists(ratecache.ProjectRatesKey(orgO)))
}

func TestPublishFailureIsReturned(t *testing.T) {
	h := newHarness(t)
	h.server.SetError("READONLY")

	err := h.rebalancer.BoostLowVolumeProjectsOfOrg(context.Background(), orgO)
	assert.Error(t, err)
	assert.Empty(t, h.scheduler.Scheduled)
}

func TestRunPass(t *testing.T) {
	h := newHarness(t)
	h.health.Register(healthSubsystem, time.Hour)

	require.NoError(t, h.rebalancer.RunPass(context.Background()))

	assert.Equal(t, "0.5", h.rate(orgO, projectA))
	assert.Equal(t, float64(1), h.counter("rebalance_passes"))
	assert.Zero(t, h.counter("rebalance_pass_errors"))
	assert.True(t, h.health.IsReady())
}

func TestRunPassRegistryError(t *testing.T) {
	h := newHarness(t)
	h.health.Register(healthSubsystem, time.Hour)
	h.registry.Err = errors.New("database down")

	assert.Error(t, h.rebalancer.RunPass(context.Background()))
	assert.Equal(t, float64(1), h.counter("rebalance_pass_errors"))
}

func TestStartRunsPeriodically(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.rebalancer.Start())
	defer h.rebalancer.Stop()

	assert.Eventually(t, func() bool { return h.counter("rebalance_passes") == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, h.clock.BlockUntilContext(ctx, 1))
	h.clock.Advance(10 * time.Minute)

	assert.Eventually(t, func() bool { return h.counter("rebalance_passes") == 2 }, time.Second, 5*time.Millisecond)

	h.rebalancer.cycle.RunOnce()
	assert.Equal(t, float64(3), h.counter("rebalance_passes"))
}

func TestStartRejectsUnknownModel(t *testing.T) {
	h := newHarness(t)
	h.config.RebalancingVal.Model = "proportional"
	assert.Error(t, h.rebalancer.Start())
}
