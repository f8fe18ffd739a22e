// Package orgrate resolves the target sample rate of an organization.
package orgrate

import (
	"context"
	"errors"
	"fmt"

	"github.com/honeycombio/rebalancer/config"
	"github.com/honeycombio/rebalancer/features"
	"github.com/honeycombio/rebalancer/logger"
	"github.com/honeycombio/rebalancer/metrics"
	"github.com/honeycombio/rebalancer/registry"
	"github.com/honeycombio/rebalancer/types"
)

const (
	SourceSlidingWindow = "sliding_window_org"
	SourceBlended       = "blended_sample_rate"
)

// SlidingWindowReader is satisfied by *ratecache.SlidingWindowCache.
type SlidingWindowReader interface {
	Get(ctx context.Context, org types.OrgID) (float64, bool, error)
}

// Resolver picks an org's target rate: the sliding-window rate (cached or
// estimated) for orgs with the feature enabled, else the blended rate.
type Resolver struct {
	Config    config.Config         `inject:""`
	Logger    logger.Logger         `inject:""`
	Metrics   metrics.Metrics       `inject:"metrics"`
	Registry  registry.Registry     `inject:""`
	Blended   registry.BlendedRater `inject:""`
	Flags     *features.Flags       `inject:""`
	Window    SlidingWindowReader   `inject:""`
	Estimator *Estimator            `inject:""`
}

func (r *Resolver) Start() error {
	r.Metrics.Register(metrics.Metadata{Name: "org_rate_source_sliding_window", Type: metrics.Counter, Unit: metrics.Dimensionless, Description: "target rates resolved from the sliding window"})
	r.Metrics.Register(metrics.Metadata{Name: "org_rate_source_blended", Type: metrics.Counter, Unit: metrics.Dimensionless, Description: "target rates resolved from the blended sample rate"})
	r.Metrics.Register(metrics.Metadata{Name: "org_rate_unresolved", Type: metrics.Counter, Unit: metrics.Dimensionless, Description: "organizations with no target rate"})
	return nil
}

// Resolve returns the org's target rate. ok is false when the org is
// unknown or no source defines a rate; err is only set for failures of the
// registry itself.
func (r *Resolver) Resolve(ctx context.Context, org types.OrgID) (rate float64, ok bool, err error) {
	if _, err := r.Registry.GetOrganization(ctx, org); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			r.Metrics.Increment("org_rate_unresolved")
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("resolving rate of organization %d: %w", org, err)
	}

	if r.Flags.SlidingWindowOrgRate(org) {
		if rate, ok := r.slidingWindowRate(ctx, org); ok {
			r.resolved(org, SourceSlidingWindow, rate)
			return rate, true, nil
		}
	}

	rate, ok, err = r.Blended.GetBlendedSampleRate(ctx, org)
	if err != nil {
		return 0, false, fmt.Errorf("resolving rate of organization %d: %w", org, err)
	}
	if !ok {
		r.Metrics.Increment("org_rate_unresolved")
		return 0, false, nil
	}
	r.resolved(org, SourceBlended, rate)
	return rate, true, nil
}

func (r *Resolver) slidingWindowRate(ctx context.Context, org types.OrgID) (float64, bool) {
	rate, ok, err := r.Window.Get(ctx, org)
	if err != nil {
		r.Logger.Warn().WithField("org_id", org).WithField("error", err.Error()).Logf("could not read cached sliding window rate")
	}
	if ok {
		return rate, true
	}

	window, enabled := r.Config.GetSlidingWindowConfig().GetWindowSize()
	if !enabled {
		return 0, false
	}
	rate, ok, err = r.Estimator.Estimate(ctx, org, window)
	if err != nil {
		r.Logger.Warn().WithField("org_id", org).WithField("error", err.Error()).Logf("sliding window estimate failed")
		return 0, false
	}
	return rate, ok
}

func (r *Resolver) resolved(org types.OrgID, source string, rate float64) {
	switch source {
	case SourceSlidingWindow:
		r.Metrics.Increment("org_rate_source_sliding_window")
	case SourceBlended:
		r.Metrics.Increment("org_rate_source_blended")
	}
	r.Logger.Debug().WithFields(map[string]any{
		"org_id":      org,
		"source":      source,
		"sample_rate": rate,
	}).Logf("resolved organization target rate")
}
