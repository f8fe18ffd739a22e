package orgrate

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/honeycombio/rebalancer/config"
	"github.com/honeycombio/rebalancer/logger"
	"github.com/honeycombio/rebalancer/types"
	"github.com/honeycombio/rebalancer/volume"
)

// extrapolationPeriod is the period sampling tier volumes are expressed in.
const extrapolationPeriod = 30 * 24 * time.Hour

// VolumeFetcher is satisfied by *volume.Fetcher.
type VolumeFetcher interface {
	Fetch(ctx context.Context, orgs []types.OrgID, window types.TimeRange) (*volume.Result, error)
}

// Estimator computes an org's sliding-window sample rate on demand when no
// cached value exists. It never writes the cache.
type Estimator struct {
	Config  config.Config   `inject:""`
	Logger  logger.Logger   `inject:""`
	Clock   clockwork.Clock `inject:""`
	Fetcher VolumeFetcher   `inject:""`
}

// Estimate extrapolates the org's root volume over the last window to 30
// days and maps it through the configured sampling tiers. It returns false
// when there is no usable volume: no rows, a partial fetch, or no tiers.
func (e *Estimator) Estimate(ctx context.Context, org types.OrgID, window time.Duration) (float64, bool, error) {
	if window <= 0 {
		return 0, false, nil
	}
	result, err := e.Fetcher.Fetch(ctx, []types.OrgID{org}, types.LastWindow(e.Clock.Now(), window))
	if err != nil {
		return 0, false, err
	}
	if result.Outcome != volume.Exhausted {
		e.Logger.Warn().WithField("org_id", org).Logf("sliding window volume incomplete, not estimating")
		return 0, false, nil
	}
	total := result.Total(org)
	if total == 0 {
		return 0, false, nil
	}

	monthly := uint64(float64(total) * float64(extrapolationPeriod) / float64(window))
	rate, ok := e.Config.GetSlidingWindowConfig().TierFor(monthly)
	if !ok {
		return 0, false, nil
	}
	e.Logger.Debug().WithFields(map[string]any{
		"org_id":         org,
		"window":         window.String(),
		"window_volume":  total,
		"monthly_volume": monthly,
		"sample_rate":    rate,
	}).Logf("estimated sliding window org rate")
	return rate, true, nil
}
