package rebalancing

import (
	"cmp"
	"slices"

	"github.com/honeycombio/rebalancer/types"
)

// BoostLowVolumeProjects spreads the org's event budget (total count times
// the target rate) by water-filling: projects are visited from the lowest
// count up and each takes an equal share of what is left, capped at keeping
// everything. Low volume projects therefore end up at or near 1.0 and the
// remaining budget is shared by the large ones.
type BoostLowVolumeProjects struct{}

func (BoostLowVolumeProjects) Name() string { return BoostLowVolumeProjectsModel }

func (BoostLowVolumeProjects) Compute(items []types.RebalancedItem, sampleRate float64) ([]types.RebalancedResult, error) {
	if err := validateSampleRate(sampleRate); err != nil {
		return nil, err
	}

	var total float64
	order := make([]int, len(items))
	for i, item := range items {
		total += float64(item.Count)
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		return cmp.Compare(items[a].Count, items[b].Count)
	})

	results := make([]types.RebalancedResult, len(items))
	budget := total * sampleRate
	remaining := len(items)
	for _, idx := range order {
		item := items[idx]
		rate := 1.0
		if item.Count > 0 {
			share := budget / float64(remaining)
			rate = min(1.0, share/float64(item.Count))
			budget -= rate * float64(item.Count)
		}
		budget = max(budget, 0)
		remaining--
		results[idx] = types.RebalancedResult{ID: item.ID, NewSampleRate: rate}
	}
	return results, nil
}
