package ratecache

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/honeycombio/rebalancer/config"
	"github.com/honeycombio/rebalancer/internal/otelutil"
	"github.com/honeycombio/rebalancer/invalidation"
	"github.com/honeycombio/rebalancer/logger"
	"github.com/honeycombio/rebalancer/metrics"
	"github.com/honeycombio/rebalancer/types"
)

// AreEqualWithEpsilon reports whether prev is within epsilon of next. A
// missing previous value is never equal.
func AreEqualWithEpsilon(prev *float64, next, epsilon float64) bool {
	if prev == nil {
		return false
	}
	return math.Abs(*prev-next) <= epsilon
}

// Publisher writes an org's per-project rates and schedules config
// invalidations for the projects whose rate changed.
type Publisher struct {
	Config    config.Config          `inject:""`
	Logger    logger.Logger          `inject:""`
	Metrics   metrics.Metrics        `inject:"metrics"`
	Tracer    trace.Tracer           `inject:"tracer"`
	Store     Store                  `inject:""`
	Scheduler invalidation.Scheduler `inject:""`
}

var publisherMetrics = []metrics.Metadata{
	{Name: "rate_cache_writes", Type: metrics.Counter, Unit: metrics.Dimensionless, Description: "project rates written to the rate cache"},
	{Name: "rate_cache_read_errors", Type: metrics.Counter, Unit: metrics.Dimensionless, Description: "failed reads of previous project rates"},
	{Name: "rate_cache_write_errors", Type: metrics.Counter, Unit: metrics.Dimensionless, Description: "failed rate cache pipelines"},
	{Name: "rate_cache_unchanged", Type: metrics.Counter, Unit: metrics.Dimensionless, Description: "project rates written within epsilon of the previous value"},
	{Name: "rate_cache_invalidations", Type: metrics.Counter, Unit: metrics.Dimensionless, Description: "project config invalidations scheduled"},
	{Name: "rate_cache_invalidation_errors", Type: metrics.Counter, Unit: metrics.Dimensionless, Description: "project config invalidations that could not be scheduled"},
}

func (p *Publisher) Start() error {
	for _, m := range publisherMetrics {
		p.Metrics.Register(m)
	}
	return nil
}

// Publish writes results into the org's rate hash. Projects whose write
// landed and whose rate moved by more than the configured epsilon (or had
// no previous rate) get an invalidation. If the previous rates can't be
// read nothing is written or invalidated. A failed pipeline is returned
// after the projects that were written have been invalidated.
func (p *Publisher) Publish(ctx context.Context, org types.OrgID, results []types.RebalancedResult) error {
	if len(results) == 0 {
		return nil
	}
	ctx, span := otelutil.StartSpanMulti(ctx, p.Tracer, "publish_rates", map[string]any{
		"org_id":   org,
		"projects": len(results),
	})
	defer span.End()

	cfg := p.Config.GetRebalancingConfig()
	key := ProjectRatesKey(org)

	names := make([]string, len(results))
	fields := make([]Field, len(results))
	for i, r := range results {
		names[i] = projectField(r.ID)
		fields[i] = Field{Name: names[i], Value: encodeRate(r.NewSampleRate)}
	}

	// without the previous rates every project would look new and be
	// invalidated, so the org is left alone this pass
	previous, err := p.Store.GetFields(ctx, key, names)
	if err != nil {
		p.Metrics.Increment("rate_cache_read_errors")
		otelutil.RecordError(span, err)
		p.Logger.Error().WithField("org_id", org).WithField("error", err.Error()).Logf("could not read previous project rates")
		return fmt.Errorf("reading previous rates of organization %d: %w", org, err)
	}

	written, writeErr := p.Store.SetFieldsWithTTL(ctx, key, fields, time.Duration(cfg.CacheTTL))
	if writeErr != nil {
		p.Metrics.Increment("rate_cache_write_errors")
		otelutil.RecordError(span, writeErr)
		p.Logger.Error().WithFields(map[string]any{
			"org_id": org,
			"key":    key,
			"error":  writeErr.Error(),
		}).Logf("failed to write project rates")
	}

	if len(written) != len(results) {
		written = make([]bool, len(results))
	}
	if len(previous) != len(results) {
		previous = nil
	}

	var changed, unchanged int
	for i, r := range results {
		if !written[i] {
			continue
		}
		p.Metrics.Increment("rate_cache_writes")

		var prev *float64
		if previous != nil {
			prev = p.parsePrevious(org, r.ID, previous[i])
		}
		if AreEqualWithEpsilon(prev, r.NewSampleRate, cfg.RateEpsilon) {
			unchanged++
			continue
		}
		changed++
		if err := p.Scheduler.ScheduleInvalidateProjectConfig(ctx, r.ID, cfg.InvalidationTrigger); err != nil {
			p.Metrics.Increment("rate_cache_invalidation_errors")
			p.Logger.Warn().WithFields(map[string]any{
				"org_id":     org,
				"project_id": r.ID,
				"error":      err.Error(),
			}).Logf("failed to schedule project config invalidation")
			continue
		}
		p.Metrics.Increment("rate_cache_invalidations")
	}
	p.Metrics.Count("rate_cache_unchanged", unchanged)
	otelutil.AddSpanFields(span, map[string]any{"changed": changed, "unchanged": unchanged})

	p.Logger.Debug().WithFields(map[string]any{
		"org_id":    org,
		"projects":  len(results),
		"changed":   changed,
		"unchanged": unchanged,
	}).Logf("published project rates")

	return writeErr
}

func (p *Publisher) parsePrevious(org types.OrgID, project types.ProjectID, raw *string) *float64 {
	if raw == nil {
		return nil
	}
	v, err := strconv.ParseFloat(*raw, 64)
	if err != nil {
		p.Logger.Debug().WithFields(map[string]any{
			"org_id":     org,
			"project_id": project,
			"value":      *raw,
		}).Logf("ignoring unparseable previous project rate")
		return nil
	}
	return &v
}
