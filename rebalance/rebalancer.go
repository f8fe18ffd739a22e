// Package rebalance runs the per-organization rebalancing passes: fetch
// project volumes, resolve the org's target rate, run the model and publish
// the resulting per-project rates.
package rebalance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/honeycombio/rebalancer/config"
	"github.com/honeycombio/rebalancer/generics"
	"github.com/honeycombio/rebalancer/internal/health"
	"github.com/honeycombio/rebalancer/internal/otelutil"
	"github.com/honeycombio/rebalancer/logger"
	"github.com/honeycombio/rebalancer/metrics"
	"github.com/honeycombio/rebalancer/rebalancing"
	"github.com/honeycombio/rebalancer/registry"
	"github.com/honeycombio/rebalancer/types"
	"github.com/honeycombio/rebalancer/volume"
)

const healthSubsystem = "rebalancer"

// VolumeFetcher is satisfied by *volume.Fetcher.
type VolumeFetcher interface {
	Fetch(ctx context.Context, orgs []types.OrgID, window types.TimeRange) (*volume.Result, error)
}

// RateResolver is satisfied by *orgrate.Resolver.
type RateResolver interface {
	Resolve(ctx context.Context, org types.OrgID) (float64, bool, error)
}

// RatePublisher is satisfied by *ratecache.Publisher.
type RatePublisher interface {
	Publish(ctx context.Context, org types.OrgID, results []types.RebalancedResult) error
}

type Rebalancer struct {
	Config    config.Config         `inject:""`
	Logger    logger.Logger         `inject:""`
	Metrics   metrics.Metrics       `inject:"metrics"`
	Tracer    trace.Tracer          `inject:"tracer"`
	Clock     clockwork.Clock       `inject:""`
	Health    health.Recorder       `inject:""`
	Registry  registry.Registry     `inject:""`
	Fetcher   VolumeFetcher         `inject:""`
	Resolver  RateResolver          `inject:""`
	Executor  *rebalancing.Executor `inject:""`
	Publisher RatePublisher         `inject:""`

	cycle  *Cycle
	done   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var rebalancerMetrics = []metrics.Metadata{
	{Name: "rebalance_passes", Type: metrics.Counter, Unit: metrics.Dimensionless, Description: "completed rebalancing passes"},
	{Name: "rebalance_pass_errors", Type: metrics.Counter, Unit: metrics.Dimensionless, Description: "rebalancing passes that ended with an error"},
	{Name: "rebalance_orgs_skipped", Type: metrics.Counter, Unit: metrics.Dimensionless, Description: "organizations left unchanged in a pass"},
	{Name: "rebalance_orgs_published", Type: metrics.Counter, Unit: metrics.Dimensionless, Description: "organizations whose rates were published"},
	{Name: "rebalance_pass_duration_ms", Type: metrics.Histogram, Unit: metrics.Milliseconds, Description: "duration of a full rebalancing pass"},
}

func (r *Rebalancer) Start() error {
	for _, m := range rebalancerMetrics {
		r.Metrics.Register(m)
	}
	if _, err := rebalancing.NewModel(r.Config.GetRebalancingConfig().Model); err != nil {
		return err
	}

	interval := time.Duration(r.Config.GetGeneralConfig().Interval)
	if interval <= 0 {
		return fmt.Errorf("rebalancing interval must be positive, got %v", interval)
	}
	r.Health.Register(healthSubsystem, 3*interval)

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})
	r.cycle = NewCycle(r.Clock, interval, r.done)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.cycle.Run(ctx, func(ctx context.Context) {
			if err := r.RunPass(ctx); err != nil {
				r.Logger.Error().WithField("error", err.Error()).Logf("rebalancing pass finished with errors")
			}
		})
	}()
	return nil
}

func (r *Rebalancer) Stop() error {
	if r.done != nil {
		close(r.done)
		r.cancel()
		r.wg.Wait()
		r.Health.Unregister(healthSubsystem)
	}
	return nil
}

// RunPass rebalances every active organization once, batch by batch.
func (r *Rebalancer) RunPass(ctx context.Context) error {
	start := r.Clock.Now()
	ctx, span := otelutil.StartSpanWith(ctx, r.Tracer, "rebalance_pass", "start", start.UTC().String())
	defer span.End()

	err := r.runPass(ctx, span)

	r.Metrics.Increment("rebalance_passes")
	r.Metrics.Histogram("rebalance_pass_duration_ms", r.Clock.Since(start).Milliseconds())
	if err != nil {
		r.Metrics.Increment("rebalance_pass_errors")
		otelutil.RecordError(span, err)
	}
	r.Health.Ready(healthSubsystem, true)
	return err
}

func (r *Rebalancer) runPass(ctx context.Context, span trace.Span) error {
	orgs, err := r.Registry.ActiveOrganizations(ctx)
	if err != nil {
		return fmt.Errorf("listing active organizations: %w", err)
	}
	cfg := r.Config.GetRebalancingConfig()
	batches := Batches(orgs, cfg.MaxOrgsPerBatch, cfg.MaxProjectsPerBatch)
	otelutil.AddSpanFields(span, map[string]any{"orgs": len(orgs), "batches": len(batches)})

	window := types.LastWindow(r.Clock.Now(), time.Duration(cfg.MeasurementWindow))
	var errs []error
	for _, batch := range batches {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if err := r.BoostLowVolumeProjects(ctx, batch, window); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// BoostLowVolumeProjectsOfOrg rebalances a single org over the configured
// measurement window ending now.
func (r *Rebalancer) BoostLowVolumeProjectsOfOrg(ctx context.Context, org types.OrgID) error {
	window := types.LastWindow(r.Clock.Now(), time.Duration(r.Config.GetRebalancingConfig().MeasurementWindow))
	return r.BoostLowVolumeProjects(ctx, []types.OrgID{org}, window)
}

type targetRate struct {
	rate float64
	ok   bool
	err  error
}

// BoostLowVolumeProjects rebalances a batch of orgs. The batch's volumes
// and every org's target rate are fetched concurrently; then each org is
// rebalanced on its own. A failed volume fetch fails the whole batch;
// other failures are per org and returned joined once every org is done.
// When the fetch ran out of time, orgs it returned no rows for are skipped
// rather than rebalanced as if they had no volume.
func (r *Rebalancer) BoostLowVolumeProjects(ctx context.Context, orgs []types.OrgID, window types.TimeRange) error {
	if len(orgs) == 0 {
		return nil
	}
	ctx, span := otelutil.StartSpanMulti(ctx, r.Tracer, "boost_low_volume_projects", map[string]any{
		"orgs":         len(orgs),
		"window_start": window.Start.UTC().String(),
		"window_end":   window.End.UTC().String(),
	})
	defer span.End()

	concurrency := max(r.Config.GetGeneralConfig().Concurrency, 1)

	var volumes *volume.Result
	targets := make(map[types.OrgID]targetRate, len(orgs))
	var mut sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		res, err := r.Fetcher.Fetch(gctx, orgs, window)
		if err != nil {
			return fmt.Errorf("fetching volumes: %w", err)
		}
		volumes = res
		return nil
	})
	g.Go(func() error {
		p := pool.New().WithMaxGoroutines(concurrency)
		for _, org := range orgs {
			p.Go(func() {
				rate, ok, err := r.Resolver.Resolve(gctx, org)
				mut.Lock()
				targets[org] = targetRate{rate: rate, ok: ok, err: err}
				mut.Unlock()
			})
		}
		p.Wait()
		return nil
	})
	if err := g.Wait(); err != nil {
		otelutil.RecordError(span, err)
		return err
	}
	partial := volumes.Outcome == volume.BudgetExceeded
	if partial {
		otelutil.AddSpanField(span, "volume_outcome", volumes.Outcome.String())
	}

	var errs []error
	p := pool.New().WithMaxGoroutines(concurrency)
	for _, org := range orgs {
		p.Go(func() {
			if err := r.rebalanceOrg(ctx, org, volumes.ByOrg[org], partial, targets[org]); err != nil {
				mut.Lock()
				errs = append(errs, err)
				mut.Unlock()
			}
		})
	}
	p.Wait()
	return errors.Join(errs...)
}

func (r *Rebalancer) rebalanceOrg(ctx context.Context, org types.OrgID, volumes []types.ProjectVolume, partial bool, target targetRate) error {
	if target.err != nil {
		r.Metrics.Increment("rebalance_orgs_skipped")
		return fmt.Errorf("organization %d: %w", org, target.err)
	}
	if !target.ok {
		r.Metrics.Increment("rebalance_orgs_skipped")
		r.Logger.Debug().WithField("org_id", org).Logf("no target rate for organization, skipping")
		return nil
	}
	if partial && len(volumes) == 0 {
		r.Metrics.Increment("rebalance_orgs_skipped")
		r.Logger.Debug().WithField("org_id", org).Logf("volume fetch incomplete, skipping organization")
		return nil
	}
	published, err := r.adjust(ctx, org, volumes, target.rate)
	if err != nil {
		return fmt.Errorf("organization %d: %w", org, err)
	}
	if published {
		r.Metrics.Increment("rebalance_orgs_published")
	} else {
		r.Metrics.Increment("rebalance_orgs_skipped")
	}
	return nil
}

// AdjustSampleRatesOfProjects runs the configured model over every active
// project of the org (projects without volume count as zero) and
// publishes the result. A model failure leaves the org's published rates
// untouched and is not an error.
func (r *Rebalancer) AdjustSampleRatesOfProjects(ctx context.Context, org types.OrgID, volumes []types.ProjectVolume, targetRate float64) error {
	_, err := r.adjust(ctx, org, volumes, targetRate)
	return err
}

func (r *Rebalancer) adjust(ctx context.Context, org types.OrgID, volumes []types.ProjectVolume, targetRate float64) (bool, error) {
	active, err := r.Registry.ActiveProjectIDs(ctx, org)
	if err != nil {
		return false, err
	}
	items, dropped := modelInput(active, volumes)
	if dropped > 0 {
		r.Logger.Debug().WithField("org_id", org).WithField("projects", dropped).Logf("ignoring volume of inactive projects")
	}
	if len(items) == 0 {
		return false, nil
	}

	model, err := rebalancing.NewModel(r.Config.GetRebalancingConfig().Model)
	if err != nil {
		return false, err
	}
	results, err := r.Executor.Run(model, items, targetRate)
	if err != nil {
		// logged and counted by the executor
		return false, nil
	}
	if err := r.Publisher.Publish(ctx, org, results); err != nil {
		return false, err
	}
	return true, nil
}

// modelInput builds one item per active project, in ascending id order,
// and reports how many projects with volume are no longer active.
func modelInput(active []types.ProjectID, volumes []types.ProjectVolume) ([]types.RebalancedItem, int) {
	counts := make(map[types.ProjectID]uint64, len(volumes))
	seen := generics.NewSetWithCapacity[types.ProjectID](len(volumes))
	for _, v := range volumes {
		counts[v.ProjectID] += v.TotalRootCount
		seen.Add(v.ProjectID)
	}
	activeSet := generics.NewSet(active...)
	ids := generics.SortedMembers(activeSet)
	items := make([]types.RebalancedItem, len(ids))
	for i, id := range ids {
		items[i] = types.RebalancedItem{ID: id, Count: counts[id]}
	}
	return items, len(seen.Difference(activeSet))
}
