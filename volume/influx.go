package volume

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/query"

	"github.com/honeycombio/rebalancer/config"
	"github.com/honeycombio/rebalancer/logger"
	"github.com/honeycombio/rebalancer/types"
)

// InfluxQuerier answers volume queries from InfluxDB 2.x. Points are
// expected in the configured measurement with tags org_id, project_id and
// decision ("keep" or "drop"), and a "count" field.
type InfluxQuerier struct {
	Config config.Config `inject:""`
	Logger logger.Logger `inject:""`

	client   influxdb2.Client
	queryAPI api.QueryAPI
	bucket   string
	measure  string
}

var _ Querier = (*InfluxQuerier)(nil)

func (q *InfluxQuerier) Start() error {
	cfg := q.Config.GetAnalyticsConfig()
	opts := influxdb2.DefaultOptions()
	if cfg.Timeout > 0 {
		opts.SetHTTPRequestTimeout(uint(time.Duration(cfg.Timeout) / time.Second))
	}
	q.client = influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)
	q.queryAPI = q.client.QueryAPI(cfg.Org)
	q.bucket = cfg.Bucket
	q.measure = cfg.Measurement
	q.Logger.Info().WithFields(map[string]any{
		"url":    cfg.URL,
		"org":    cfg.Org,
		"bucket": cfg.Bucket,
	}).Logf("Using InfluxDB for volume queries")
	return nil
}

func (q *InfluxQuerier) Stop() error {
	if q.client != nil {
		q.client.Close()
	}
	return nil
}

func (q *InfluxQuerier) QueryVolumes(ctx context.Context, req Request) ([]Row, error) {
	flux := q.renderFlux(req)
	result, err := q.queryAPI.Query(ctx, flux)
	if err != nil {
		return nil, fmt.Errorf("influx volume query: %w", err)
	}
	defer result.Close()

	var rows []Row
	for result.Next() {
		row, err := rowFromRecord(result.Record())
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("influx volume query: %w", err)
	}
	return rows, nil
}

// renderFlux turns a Request into a Flux query. The metric name in the
// request is used only when no measurement is configured.
func (q *InfluxQuerier) renderFlux(req Request) string {
	measurement := q.measure
	if measurement == "" {
		measurement = req.Metric
	}
	groupBy := req.GroupBy
	if len(groupBy) == 0 {
		groupBy = defaultGroupBy
	}
	orderBy := req.OrderBy
	if len(orderBy) == 0 {
		orderBy = defaultOrderBy
	}

	var b strings.Builder
	fmt.Fprintf(&b, "from(bucket: %q)\n", q.bucket)
	fmt.Fprintf(&b, "  |> range(start: %s, stop: %s)\n",
		req.Window.Start.UTC().Format(time.RFC3339Nano), req.Window.End.UTC().Format(time.RFC3339Nano))
	fmt.Fprintf(&b, "  |> filter(fn: (r) => r._measurement == %q and r._field == \"count\")\n", measurement)
	if len(req.OrganizationIDs) > 0 {
		fmt.Fprintf(&b, "  |> filter(fn: (r) => contains(value: r.org_id, set: %s))\n", idSet(req.OrganizationIDs))
	}
	if len(req.ProjectIDs) > 0 {
		fmt.Fprintf(&b, "  |> filter(fn: (r) => contains(value: r.project_id, set: %s))\n", idSet(req.ProjectIDs))
	}
	if req.OrgSampleRate < 100 {
		fmt.Fprintf(&b, "  |> filter(fn: (r) => int(v: r.org_id) %% 100 < %d)\n", req.OrgSampleRate)
	}
	fmt.Fprintf(&b, "  |> group(columns: %s)\n", stringSet(append(append([]string{}, groupBy...), "decision")))
	b.WriteString("  |> sum()\n")
	fmt.Fprintf(&b, "  |> pivot(rowKey: %s, columnKey: [\"decision\"], valueColumn: \"_value\")\n", stringSet(groupBy))
	b.WriteString("  |> map(fn: (r) => ({org_id: int(v: r.org_id), project_id: int(v: r.project_id), " +
		"keep_count: if exists r.keep then int(v: r.keep) else 0, " +
		"drop_count: if exists r.drop then int(v: r.drop) else 0}))\n")
	b.WriteString("  |> map(fn: (r) => ({r with root_count: r.keep_count + r.drop_count}))\n")
	if req.PerGroupLimit > 0 {
		fmt.Fprintf(&b, "  |> group(columns: %s)\n", stringSet(groupBy))
		fmt.Fprintf(&b, "  |> limit(n: %d)\n", req.PerGroupLimit)
	}
	b.WriteString("  |> group()\n")
	fmt.Fprintf(&b, "  |> sort(columns: %s)\n", stringSet(orderBy))
	fmt.Fprintf(&b, "  |> limit(n: %d, offset: %d)\n", req.Limit, req.Offset)
	return b.String()
}

func stringSet(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = strconv.Quote(v)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

// idSet renders ids as a Flux string array, since tags are strings.
func idSet[T ~int64](ids []T) string {
	values := make([]string, len(ids))
	for i, id := range ids {
		values[i] = strconv.FormatInt(int64(id), 10)
	}
	return stringSet(values)
}

func rowFromRecord(rec *query.FluxRecord) (Row, error) {
	org, err := int64Value(rec, "org_id")
	if err != nil {
		return Row{}, err
	}
	project, err := int64Value(rec, "project_id")
	if err != nil {
		return Row{}, err
	}
	keep, err := int64Value(rec, "keep_count")
	if err != nil {
		return Row{}, err
	}
	drop, err := int64Value(rec, "drop_count")
	if err != nil {
		return Row{}, err
	}
	root, err := int64Value(rec, "root_count")
	if err != nil {
		return Row{}, err
	}
	return Row{
		OrgID:     types.OrgID(org),
		ProjectID: types.ProjectID(project),
		RootCount: uint64(max(root, 0)),
		KeepCount: uint64(max(keep, 0)),
		DropCount: uint64(max(drop, 0)),
	}, nil
}

func int64Value(rec *query.FluxRecord, column string) (int64, error) {
	switch v := rec.ValueByKey(column).(type) {
	case int64:
		return v, nil
	case uint64:
		return int64(v), nil
	case float64:
		return int64(v), nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("column %s: %w", column, err)
		}
		return n, nil
	case nil:
		return 0, fmt.Errorf("column %s missing from influx result", column)
	default:
		return 0, fmt.Errorf("column %s has unexpected type %T", column, v)
	}
}
