package rebalance

import (
	"github.com/honeycombio/rebalancer/registry"
	"github.com/honeycombio/rebalancer/types"
)

// Batches splits orgs, in order, into batches of at most maxOrgs orgs and
// at most maxProjects active projects. An org that alone exceeds
// maxProjects gets a batch of its own. Non-positive limits are ignored.
func Batches(orgs []registry.OrgSummary, maxOrgs, maxProjects int) [][]types.OrgID {
	var (
		batches  [][]types.OrgID
		current  []types.OrgID
		projects int
	)
	for _, org := range orgs {
		full := len(current) > 0 &&
			((maxOrgs > 0 && len(current) >= maxOrgs) ||
				(maxProjects > 0 && projects+org.ActiveProjects > maxProjects))
		if full {
			batches = append(batches, current)
			current, projects = nil, 0
		}
		current = append(current, org.ID)
		projects += org.ActiveProjects
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}
