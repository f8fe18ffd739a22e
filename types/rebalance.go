package types

// RebalancedItem is one unit of input to a rebalancing model.
type RebalancedItem struct {
	ID    ProjectID
	Count uint64
}

// RebalancedResult is one unit of output from a rebalancing model.
// NewSampleRate is always within [0, 1].
type RebalancedResult struct {
	ID            ProjectID
	NewSampleRate float64
}
