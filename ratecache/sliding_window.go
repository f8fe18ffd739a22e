package ratecache

import (
	"context"
	"errors"

	"github.com/honeycombio/rebalancer/types"
)

// SlidingWindowCache reads the org sample rates computed by the sliding
// window job. It never writes them.
type SlidingWindowCache struct {
	Store Store `inject:""`
}

// Get returns the cached sliding-window rate of org, or false if none is
// cached.
func (c *SlidingWindowCache) Get(ctx context.Context, org types.OrgID) (float64, bool, error) {
	rate, err := c.Store.GetFloat(ctx, SlidingWindowOrgRateKey(org))
	if errors.Is(err, ErrNoValue) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return rate, true, nil
}
