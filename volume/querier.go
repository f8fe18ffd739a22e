package volume

import (
	"context"

	"github.com/honeycombio/rebalancer/types"
)

// Request describes one page of the per-project volume query.
type Request struct {
	OrganizationIDs []types.OrgID
	// ProjectIDs optionally narrows the query; empty means all projects.
	ProjectIDs []types.ProjectID
	Metric     string
	Window     types.TimeRange
	GroupBy    []string
	OrderBy    []string
	Limit      int
	Offset     int
	// PerGroupLimit caps the rows returned for each GroupBy group.
	PerGroupLimit int
	// OrgSampleRate keeps only orgs with org_id % 100 < OrgSampleRate. 100
	// (or more) disables the filter.
	OrgSampleRate int
}

// Row is one result row of the volume query.
type Row struct {
	OrgID     types.OrgID
	ProjectID types.ProjectID
	RootCount uint64
	KeepCount uint64
	DropCount uint64
}

// Querier answers volume queries against an analytics store. Rows must come
// back in OrderBy order so that Offset paging is stable.
type Querier interface {
	QueryVolumes(ctx context.Context, req Request) ([]Row, error)
}

var (
	defaultGroupBy = []string{"org_id", "project_id"}
	defaultOrderBy = []string{"org_id", "project_id"}
)
