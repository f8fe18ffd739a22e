// Package rebalancing holds the models that spread an organization's target
// sample rate over its projects, and the guard that runs them.
package rebalancing

import (
	"fmt"
	"math"

	"github.com/honeycombio/rebalancer/types"
)

// Model computes a new sample rate per item given the org's target rate.
// Implementations must be pure: the same input always gives the same
// output, and nothing outside the returned slice is touched.
type Model interface {
	Name() string
	Compute(items []types.RebalancedItem, sampleRate float64) ([]types.RebalancedResult, error)
}

const (
	BoostLowVolumeProjectsModel = "boost_low_volume_projects"
	UniformModel                = "uniform"
)

// NewModel returns the model registered under name.
func NewModel(name string) (Model, error) {
	switch name {
	case BoostLowVolumeProjectsModel, "":
		return BoostLowVolumeProjects{}, nil
	case UniformModel:
		return Uniform{}, nil
	default:
		return nil, fmt.Errorf("unknown rebalancing model %q", name)
	}
}

func validateSampleRate(rate float64) error {
	if math.IsNaN(rate) || rate <= 0 || rate > 1 {
		return fmt.Errorf("sample rate %v is not within (0, 1]", rate)
	}
	return nil
}
