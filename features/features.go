// Package features answers per-organization feature flag questions from
// configuration.
package features

import (
	"slices"

	"github.com/honeycombio/rebalancer/config"
	"github.com/honeycombio/rebalancer/types"
)

// Flags is read on every call, so flag changes take effect after a config
// reload without any restart.
type Flags struct {
	Config config.Config `inject:""`
}

// SlidingWindowOrgRate reports whether the org's target rate should come
// from the sliding-window estimate before falling back to the blended rate.
func (f *Flags) SlidingWindowOrgRate(org types.OrgID) bool {
	sw := f.Config.GetSlidingWindowConfig()
	if sw.EnabledForAll {
		return true
	}
	return slices.Contains(sw.EnabledOrganizations, int64(org))
}
