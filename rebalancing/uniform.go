package rebalancing

import "github.com/honeycombio/rebalancer/types"

// Uniform gives every project the org's target rate.
type Uniform struct{}

func (Uniform) Name() string { return UniformModel }

func (Uniform) Compute(items []types.RebalancedItem, sampleRate float64) ([]types.RebalancedResult, error) {
	if err := validateSampleRate(sampleRate); err != nil {
		return nil, err
	}
	results := make([]types.RebalancedResult, len(items))
	for i, item := range items {
		results[i] = types.RebalancedResult{ID: item.ID, NewSampleRate: sampleRate}
	}
	return results, nil
}
