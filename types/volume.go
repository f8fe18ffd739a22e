package types

import (
	"strconv"
	"time"
)

// OrgID identifies an organization. Identity is owned upstream; nothing here
// enforces uniqueness.
type OrgID int64

// ProjectID identifies a project within an organization.
type ProjectID int64

func (o OrgID) String() string     { return strconv.FormatInt(int64(o), 10) }
func (p ProjectID) String() string { return strconv.FormatInt(int64(p), 10) }

// TimeRange is the half-open interval [Start, End).
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// LastWindow returns the window of length d that ends at now.
func LastWindow(now time.Time, d time.Duration) TimeRange {
	return TimeRange{Start: now.Add(-d), End: now}
}

func (t TimeRange) Duration() time.Duration {
	return t.End.Sub(t.Start)
}

// ProjectVolume is the root event volume of one project over one measurement
// window. TotalRootCount may be an approximation when the analytics store
// answers from sampled data.
type ProjectVolume struct {
	OrgID          OrgID
	ProjectID      ProjectID
	TotalRootCount uint64
	KeepCount      uint64
	DropCount      uint64
}
