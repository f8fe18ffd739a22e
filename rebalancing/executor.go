package rebalancing

import (
	"fmt"
	"math"
	"runtime/debug"

	"github.com/honeycombio/rebalancer/logger"
	"github.com/honeycombio/rebalancer/metrics"
	"github.com/honeycombio/rebalancer/types"
)

// ModelError is the only error returned by Executor.Run.
type ModelError struct {
	Model      string
	Items      int
	SampleRate float64
	Panicked   bool
	Err        error
}

func (e *ModelError) Error() string {
	what := "failed"
	if e.Panicked {
		what = "panicked"
	}
	return fmt.Sprintf("rebalancing model %s %s on %d items at rate %v: %v", e.Model, what, e.Items, e.SampleRate, e.Err)
}

func (e *ModelError) Unwrap() error { return e.Err }

// Executor runs models so that nothing a model does (errors, panics, rates
// out of range) escapes as anything other than a *ModelError.
type Executor struct {
	Logger  logger.Logger   `inject:""`
	Metrics metrics.Metrics `inject:"metrics"`
}

func (e *Executor) Start() error {
	e.Metrics.Register(metrics.Metadata{
		Name:        "rebalancing_model_failures",
		Type:        metrics.Counter,
		Unit:        metrics.Dimensionless,
		Description: "rebalancing model runs that failed, panicked or produced invalid rates",
	})
	return nil
}

// Run returns the model's results, or a *ModelError. A failure means "no
// change this pass" to callers.
func (e *Executor) Run(model Model, items []types.RebalancedItem, sampleRate float64) ([]types.RebalancedResult, error) {
	results, err := e.compute(model, items, sampleRate)
	if err != nil {
		e.Metrics.Increment("rebalancing_model_failures")
		e.Logger.Error().WithFields(map[string]any{
			"model":       err.Model,
			"items":       err.Items,
			"sample_rate": err.SampleRate,
			"panicked":    err.Panicked,
			"error":       err.Err.Error(),
		}).Logf("rebalancing model failed")
		return nil, err
	}
	return results, nil
}

func (e *Executor) compute(model Model, items []types.RebalancedItem, sampleRate float64) (results []types.RebalancedResult, merr *ModelError) {
	newErr := func(err error) *ModelError {
		name := "<nil>"
		if model != nil {
			name = model.Name()
		}
		return &ModelError{Model: name, Items: len(items), SampleRate: sampleRate, Err: err}
	}

	defer func() {
		if r := recover(); r != nil {
			results = nil
			merr = newErr(fmt.Errorf("%v\n%s", r, debug.Stack()))
			merr.Panicked = true
		}
	}()

	if model == nil {
		return nil, newErr(fmt.Errorf("no model"))
	}
	results, err := model.Compute(items, sampleRate)
	if err != nil {
		return nil, newErr(err)
	}
	if len(results) != len(items) {
		return nil, newErr(fmt.Errorf("model returned %d results for %d items", len(results), len(items)))
	}
	for _, r := range results {
		if math.IsNaN(r.NewSampleRate) || r.NewSampleRate < 0 || r.NewSampleRate > 1 {
			return nil, newErr(fmt.Errorf("rate %v for project %d is not within [0, 1]", r.NewSampleRate, r.ID))
		}
	}
	return results, nil
}
