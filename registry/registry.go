package registry

import (
	"context"
	"errors"

	"github.com/honeycombio/rebalancer/types"
)

// ErrNotFound is returned when an organization does not exist (or is no
// longer active).
var ErrNotFound = errors.New("registry: not found")

type Organization struct {
	ID     types.OrgID `db:"id"`
	Name   string      `db:"name"`
	Status string      `db:"status"`
}

// OrgSummary is an active organization together with the number of its
// active projects, used to size rebalancing batches.
type OrgSummary struct {
	ID             types.OrgID `db:"organization_id"`
	ActiveProjects int         `db:"active_projects"`
}

// Registry is the read side of the organization and project registry.
type Registry interface {
	GetOrganization(ctx context.Context, id types.OrgID) (Organization, error)
	// ActiveProjectIDs returns the org's active project ids in ascending order.
	ActiveProjectIDs(ctx context.Context, org types.OrgID) ([]types.ProjectID, error)
	ActiveOrganizations(ctx context.Context) ([]OrgSummary, error)
}

// BlendedRater provides the quota-derived sample rate of an organization.
// The boolean is false when the org has no blended rate defined.
type BlendedRater interface {
	GetBlendedSampleRate(ctx context.Context, org types.OrgID) (float64, bool, error)
}

// Source is a backend that answers both registry and blended rate lookups.
type Source interface {
	Registry
	BlendedRater
}
