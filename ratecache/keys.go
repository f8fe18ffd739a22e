package ratecache

import (
	"fmt"
	"strconv"

	"github.com/honeycombio/rebalancer/types"
)

// ProjectRatesKey is the hash holding one field per project of the org,
// valued with the project's current sample rate.
func ProjectRatesKey(org types.OrgID) string {
	return fmt.Sprintf("ds::o:%d:prioritise_projects", org)
}

// SlidingWindowOrgRateKey holds the org's sliding-window sample rate as a
// plain string float.
func SlidingWindowOrgRateKey(org types.OrgID) string {
	return fmt.Sprintf("ds::o:%d:sliding_window_org_sample_rate", org)
}

func projectField(id types.ProjectID) string {
	return strconv.FormatInt(int64(id), 10)
}

func encodeRate(rate float64) string {
	return strconv.FormatFloat(rate, 'f', -1, 64)
}
