package metrics

import (
	"context"
	"net/url"
	"os"
	"runtime"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"

	"github.com/honeycombio/rebalancer/config"
	"github.com/honeycombio/rebalancer/logger"
)

var _ Metrics = (*OTelMetrics)(nil)

// OTelMetrics exports metrics over OTLP/HTTP. Counters and histograms are
// sent as deltas; gauges and updowns are cumulative.
type OTelMetrics struct {
	Config  config.Config `inject:""`
	Logger  logger.Logger `inject:""`
	Version string        `inject:"version"`

	meter        metric.Meter
	shutdownFunc func(ctx context.Context) error
	testReader   sdkmetric.Reader

	counters   sync.Map // map[string]metric.Int64Counter
	gauges     sync.Map // map[string]metric.Float64Gauge
	histograms sync.Map // map[string]metric.Float64Histogram
	updowns    sync.Map // map[string]metric.Int64UpDownCounter

	values map[string]float64
	lock   sync.RWMutex
}

func (o *OTelMetrics) Start() error {
	cfg := o.Config.GetOTelMetricsConfig()
	ctx := context.Background()
	o.values = make(map[string]float64)

	host, err := url.Parse(cfg.APIHost)
	if err != nil {
		o.Logger.Error().WithString("apihost", cfg.APIHost).Logf("failed to parse metrics apihost")
		return err
	}

	compression := otlpmetrichttp.GzipCompression
	if cfg.Compression == "none" {
		compression = otlpmetrichttp.NoCompression
	}
	options := []otlpmetrichttp.Option{
		otlpmetrichttp.WithEndpoint(host.Host),
		otlpmetrichttp.WithCompression(compression),
		otlpmetrichttp.WithTemporalitySelector(func(ik sdkmetric.InstrumentKind) metricdata.Temporality {
			switch ik {
			case sdkmetric.InstrumentKindCounter, sdkmetric.InstrumentKindHistogram:
				return metricdata.DeltaTemporality
			default:
				return metricdata.CumulativeTemporality
			}
		}),
	}
	hdrs := make(map[string]string)
	if cfg.APIKey != "" {
		hdrs["x-honeycomb-team"] = cfg.APIKey
	}
	if cfg.Dataset != "" {
		hdrs["x-honeycomb-dataset"] = cfg.Dataset
	}
	if len(hdrs) > 0 {
		options = append(options, otlpmetrichttp.WithHeaders(hdrs))
	}
	if host.Scheme == "http" {
		options = append(options, otlpmetrichttp.WithInsecure())
	}

	var reader sdkmetric.Reader
	if o.testReader != nil {
		reader = o.testReader
	} else {
		exporter, err := otlpmetrichttp.New(ctx, options...)
		if err != nil {
			return err
		}
		reader = sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(time.Duration(cfg.ReportingInterval)),
		)
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown: " + err.Error()
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(resource.Default().Attributes()...),
		resource.WithAttributes(
			attribute.String("service.name", "rebalancer"),
			attribute.String("service.version", o.Version),
			attribute.String("host.name", hostname),
		),
	)
	if err != nil {
		return err
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(reader),
		sdkmetric.WithResource(res),
	)
	o.meter = provider.Meter("rebalancer")
	o.shutdownFunc = provider.Shutdown

	_, err = o.meter.Float64ObservableGauge("num_goroutines",
		metric.WithFloat64Callback(func(_ context.Context, result metric.Float64Observer) error {
			result.Observe(float64(runtime.NumGoroutine()))
			return nil
		}))
	if err != nil {
		return err
	}

	startTime := time.Now()
	_, err = o.meter.Float64ObservableGauge("process_uptime_seconds",
		metric.WithFloat64Callback(func(_ context.Context, result metric.Float64Observer) error {
			result.Observe(time.Since(startTime).Seconds())
			return nil
		}))
	return err
}

func (o *OTelMetrics) Stop() error {
	if o.shutdownFunc != nil {
		return o.shutdownFunc(context.Background())
	}
	return nil
}

func (o *OTelMetrics) Register(metadata Metadata) {
	var err error
	switch metadata.Type {
	case Counter:
		_, err = o.getOrInitCounter(metadata)
	case Gauge:
		_, err = o.getOrInitGauge(metadata)
	case Histogram:
		_, err = o.getOrInitHistogram(metadata)
	case UpDown:
		_, err = o.getOrInitUpDown(metadata)
	default:
		o.Logger.Error().WithString("type", metadata.Type.String()).Logf("unknown metric type")
		return
	}
	if err != nil {
		o.Logger.Error().WithString("name", metadata.Name).Logf("failed to create %s: %s", metadata.Type, err.Error())
		return
	}
	o.lock.Lock()
	if _, ok := o.values[metadata.Name]; !ok {
		o.values[metadata.Name] = 0
	}
	o.lock.Unlock()
}

func (o *OTelMetrics) Increment(name string) {
	o.Count(name, 1)
}

func (o *OTelMetrics) Count(name string, n any) {
	ctr, ok := o.counters.Load(name)
	if !ok {
		return
	}
	v := ConvertNumeric(n)
	ctr.(metric.Int64Counter).Add(context.Background(), int64(v))
	o.record(name, func(cur float64) float64 { return cur + v })
}

func (o *OTelMetrics) Gauge(name string, val any) {
	g, ok := o.gauges.Load(name)
	if !ok {
		return
	}
	v := ConvertNumeric(val)
	g.(metric.Float64Gauge).Record(context.Background(), v)
	o.record(name, func(float64) float64 { return v })
}

func (o *OTelMetrics) Histogram(name string, obs any) {
	h, ok := o.histograms.Load(name)
	if !ok {
		return
	}
	h.(metric.Float64Histogram).Record(context.Background(), ConvertNumeric(obs))
}

func (o *OTelMetrics) Up(name string) {
	o.addUpDown(name, 1)
}

func (o *OTelMetrics) Down(name string) {
	o.addUpDown(name, -1)
}

func (o *OTelMetrics) addUpDown(name string, delta int64) {
	ud, ok := o.updowns.Load(name)
	if !ok {
		return
	}
	ud.(metric.Int64UpDownCounter).Add(context.Background(), delta)
	o.record(name, func(cur float64) float64 { return cur + float64(delta) })
}

func (o *OTelMetrics) record(name string, update func(float64) float64) {
	o.lock.Lock()
	defer o.lock.Unlock()
	o.values[name] = update(o.values[name])
}

func (o *OTelMetrics) Store(name string, value float64) {
	o.lock.Lock()
	defer o.lock.Unlock()
	o.values[name] = value
}

func (o *OTelMetrics) Get(name string) (float64, bool) {
	o.lock.RLock()
	defer o.lock.RUnlock()
	v, ok := o.values[name]
	return v, ok
}

func (o *OTelMetrics) getOrInitCounter(metadata Metadata) (metric.Int64Counter, error) {
	if val, ok := o.counters.Load(metadata.Name); ok {
		return val.(metric.Int64Counter), nil
	}
	ctr, err := o.meter.Int64Counter(metadata.Name,
		metric.WithUnit(string(metadata.Unit)),
		metric.WithDescription(metadata.Description),
	)
	if err != nil {
		return nil, err
	}
	// a zero add makes the counter show up before its first increment
	ctr.Add(context.Background(), 0)
	actual, _ := o.counters.LoadOrStore(metadata.Name, ctr)
	return actual.(metric.Int64Counter), nil
}

func (o *OTelMetrics) getOrInitGauge(metadata Metadata) (metric.Float64Gauge, error) {
	if val, ok := o.gauges.Load(metadata.Name); ok {
		return val.(metric.Float64Gauge), nil
	}
	g, err := o.meter.Float64Gauge(metadata.Name,
		metric.WithUnit(string(metadata.Unit)),
		metric.WithDescription(metadata.Description),
	)
	if err != nil {
		return nil, err
	}
	actual, _ := o.gauges.LoadOrStore(metadata.Name, g)
	return actual.(metric.Float64Gauge), nil
}

func (o *OTelMetrics) getOrInitHistogram(metadata Metadata) (metric.Float64Histogram, error) {
	if val, ok := o.histograms.Load(metadata.Name); ok {
		return val.(metric.Float64Histogram), nil
	}
	h, err := o.meter.Float64Histogram(metadata.Name,
		metric.WithUnit(string(metadata.Unit)),
		metric.WithDescription(metadata.Description),
	)
	if err != nil {
		return nil, err
	}
	actual, _ := o.histograms.LoadOrStore(metadata.Name, h)
	return actual.(metric.Float64Histogram), nil
}

func (o *OTelMetrics) getOrInitUpDown(metadata Metadata) (metric.Int64UpDownCounter, error) {
	if val, ok := o.updowns.Load(metadata.Name); ok {
		return val.(metric.Int64UpDownCounter), nil
	}
	ud, err := o.meter.Int64UpDownCounter(metadata.Name,
		metric.WithUnit(string(metadata.Unit)),
		metric.WithDescription(metadata.Description),
	)
	if err != nil {
		return nil, err
	}
	ud.Add(context.Background(), 0)
	actual, _ := o.updowns.LoadOrStore(metadata.Name, ud)
	return actual.(metric.Int64UpDownCounter), nil
}
