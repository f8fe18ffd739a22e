package volume

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/honeycombio/rebalancer/config"
	"github.com/honeycombio/rebalancer/internal/otelutil"
	"github.com/honeycombio/rebalancer/logger"
	"github.com/honeycombio/rebalancer/metrics"
	"github.com/honeycombio/rebalancer/types"
)

type Outcome int

const (
	// Exhausted means the last page came back short; every row was read.
	Exhausted Outcome = iota
	// BudgetExceeded means the time budget ran out first and the result may
	// be missing rows.
	BudgetExceeded
)

func (o Outcome) String() string {
	switch o {
	case Exhausted:
		return "exhausted"
	case BudgetExceeded:
		return "budget_exceeded"
	}
	return "unknown"
}

// Result is a possibly partial snapshot of per-project volume.
type Result struct {
	ByOrg   map[types.OrgID][]types.ProjectVolume
	Outcome Outcome
	// Offset is where the next page would have started.
	Offset int
	Pages  int
}

// Total returns the summed root count of every project of org.
func (r *Result) Total(org types.OrgID) uint64 {
	var total uint64
	for _, v := range r.ByOrg[org] {
		total += v.TotalRootCount
	}
	return total
}

var fetcherMetrics = []metrics.Metadata{
	{Name: "volume_query_pages", Type: metrics.Counter, Unit: metrics.Dimensionless, Description: "pages requested from the analytics store"},
	{Name: "volume_query_budget_exceeded", Type: metrics.Counter, Unit: metrics.Dimensionless, Description: "volume fetches cut short by the time budget"},
	{Name: "volume_query_rows", Type: metrics.Histogram, Unit: metrics.Dimensionless, Description: "rows returned per volume fetch"},
}

// Fetcher pages through the volume query until the store is exhausted or
// the time budget is spent.
type Fetcher struct {
	Config  config.Config   `inject:""`
	Logger  logger.Logger   `inject:""`
	Metrics metrics.Metrics `inject:"metrics"`
	Clock   clockwork.Clock `inject:""`
	Tracer  trace.Tracer    `inject:"tracer"`
	Querier Querier         `inject:""`
}

func (f *Fetcher) Start() error {
	for _, m := range fetcherMetrics {
		f.Metrics.Register(m)
	}
	return nil
}

// pager holds the state of one fetch loop.
type pager struct {
	offset    int
	chunkSize int
	deadline  time.Time
}

func (p *pager) expired(now time.Time) bool {
	return !now.Before(p.deadline)
}

// next consumes a page. It reports whether another page should be fetched
// and returns the rows that belong to this page.
func (p *pager) next(rows []Row) ([]Row, bool) {
	if len(rows) > p.chunkSize {
		p.offset += p.chunkSize
		return rows[:p.chunkSize], true
	}
	p.offset += len(rows)
	return rows, false
}

// Fetch returns per-project volume for orgIDs over window. Analytics errors
// are returned as-is; running out of time is not an error.
func (f *Fetcher) Fetch(ctx context.Context, orgIDs []types.OrgID, window types.TimeRange) (*Result, error) {
	cfg := f.Config.GetVolumeQueryConfig()
	result := &Result{ByOrg: make(map[types.OrgID][]types.ProjectVolume)}
	if len(orgIDs) == 0 {
		return result, nil
	}

	ctx, span := otelutil.StartSpanMulti(ctx, f.Tracer, "volume.Fetch", map[string]any{
		"orgs":       len(orgIDs),
		"chunk_size": cfg.ChunkSize,
	})
	defer span.End()

	var limiter *rate.Limiter
	if cfg.QueriesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.QueriesPerSecond), 1)
	}

	p := &pager{
		chunkSize: cfg.ChunkSize,
		deadline:  f.Clock.Now().Add(time.Duration(cfg.TimeBudget)),
	}
	index := make(map[types.OrgID]map[types.ProjectID]int)
	rowCount := 0

	for {
		if p.expired(f.Clock.Now()) {
			f.Logger.Warn().WithFields(map[string]any{
				"offset": p.offset,
				"pages":  result.Pages,
				"orgs":   len(orgIDs),
			}).Logf("volume query time budget exceeded")
			f.Metrics.Increment("volume_query_budget_exceeded")
			result.Outcome = BudgetExceeded
			break
		}

		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		rows, err := f.Querier.QueryVolumes(ctx, Request{
			OrganizationIDs: orgIDs,
			Metric:          types.CountPerRootProjectMetric,
			Window:          window,
			GroupBy:         defaultGroupBy,
			OrderBy:         defaultOrderBy,
			Limit:           cfg.ChunkSize + 1,
			Offset:          p.offset,
			PerGroupLimit:   cfg.MaxRowsPerProject,
			OrgSampleRate:   cfg.OrgSampleRate,
		})
		if err != nil {
			otelutil.RecordError(span, err)
			return nil, fmt.Errorf("querying volumes at offset %d: %w", p.offset, err)
		}
		result.Pages++
		f.Metrics.Increment("volume_query_pages")

		page, more := p.next(rows)
		rowCount += len(page)
		for _, row := range page {
			aggregate(result, index, row)
		}
		if !more {
			result.Outcome = Exhausted
			break
		}
	}

	result.Offset = p.offset
	f.Metrics.Histogram("volume_query_rows", rowCount)
	otelutil.AddSpanFields(span, map[string]any{
		"pages":   result.Pages,
		"rows":    rowCount,
		"outcome": result.Outcome.String(),
	})
	return result, nil
}

// aggregate folds a row into the result. Rows for the same project are
// summed, which only happens when PerGroupLimit is above 1.
func aggregate(result *Result, index map[types.OrgID]map[types.ProjectID]int, row Row) {
	projects, ok := index[row.OrgID]
	if !ok {
		projects = make(map[types.ProjectID]int)
		index[row.OrgID] = projects
	}
	if i, ok := projects[row.ProjectID]; ok {
		v := &result.ByOrg[row.OrgID][i]
		v.TotalRootCount += row.RootCount
		v.KeepCount += row.KeepCount
		v.DropCount += row.DropCount
		return
	}
	projects[row.ProjectID] = len(result.ByOrg[row.OrgID])
	result.ByOrg[row.OrgID] = append(result.ByOrg[row.OrgID], types.ProjectVolume{
		OrgID:          row.OrgID,
		ProjectID:      row.ProjectID,
		TotalRootCount: row.RootCount,
		KeepCount:      row.KeepCount,
		DropCount:      row.DropCount,
	})
}
