package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/facebookgo/inject"
	"github.com/facebookgo/startstop"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	_ "go.uber.org/automaxprocs"

	"github.com/honeycombio/rebalancer/app"
	"github.com/honeycombio/rebalancer/config"
	"github.com/honeycombio/rebalancer/features"
	"github.com/honeycombio/rebalancer/internal/configwatcher"
	"github.com/honeycombio/rebalancer/internal/health"
	"github.com/honeycombio/rebalancer/internal/otelutil"
	"github.com/honeycombio/rebalancer/invalidation"
	"github.com/honeycombio/rebalancer/logger"
	"github.com/honeycombio/rebalancer/metrics"
	"github.com/honeycombio/rebalancer/orgrate"
	"github.com/honeycombio/rebalancer/pubsub"
	"github.com/honeycombio/rebalancer/ratecache"
	"github.com/honeycombio/rebalancer/rebalance"
	"github.com/honeycombio/rebalancer/rebalancing"
	"github.com/honeycombio/rebalancer/registry"
	"github.com/honeycombio/rebalancer/volume"
)

// set by the build.
var BuildID string
var version string

type graphLogger struct{}

func (g graphLogger) Debugf(format string, v ...any) {
	fmt.Printf(format, v...)
	fmt.Println()
}

func main() {
	opts, err := config.NewCmdEnvOptions(os.Args)
	if err != nil {
		fmt.Printf("Command line parsing error '%s' -- call with --help for usage.\n", err)
		os.Exit(1)
	}

	if BuildID == "" {
		version = "dev"
	} else {
		version = BuildID
	}

	if opts.Version {
		fmt.Println("Version: " + version)
		os.Exit(0)
	}

	if opts.Validate {
		if err := config.ValidateConfig(opts); err != nil {
			fmt.Printf("%+v\n", err)
			os.Exit(1)
		}
		fmt.Println("Config validated successfully.")
		os.Exit(0)
	}

	a := app.App{
		Version: version,
	}

	c, err := config.NewConfig(opts, func(err error) {
		if a.Logger != nil {
			a.Logger.Error().WithField("error", err).Logf("error loading config")
		}
	})
	if err != nil {
		fmt.Printf("%+v\n", err)
		os.Exit(1)
	}

	lgr := logger.GetLoggerImplementation(c)
	logLevel := c.GetLoggerLevel().String()
	if opts.Debug {
		logLevel = config.DebugLevel.String()
	}
	if err := lgr.SetLevel(logLevel); err != nil {
		fmt.Printf("unable to set logging level: %v\n", err)
		os.Exit(1)
	}

	// both backends are always provided; the disabled ones are null
	var promMetrics metrics.Metrics = &metrics.NullMetrics{}
	var oTelMetrics metrics.Metrics = &metrics.NullMetrics{}
	if c.GetPrometheusMetricsConfig().Enabled {
		promMetrics = &metrics.PromMetrics{}
	}
	if c.GetOTelMetricsConfig().Enabled {
		oTelMetrics = &metrics.OTelMetrics{}
	}

	tracer := trace.Tracer(noop.Tracer{})
	shutdown := func() {}
	if c.GetOTelTracingConfig().Enabled {
		tracer, shutdown, err = otelutil.SetupTracing(c.GetOTelTracingConfig(), "rebalancer", version)
		if err != nil {
			fmt.Printf("unable to set up tracing: %v\n", err)
			os.Exit(1)
		}
	}
	defer shutdown()

	var g inject.Graph
	if opts.Debug {
		g.Logger = graphLogger{}
	}
	objects := []*inject.Object{
		{Value: c},
		{Value: lgr},
		{Value: promMetrics, Name: "promMetrics"},
		{Value: oTelMetrics, Name: "otelMetrics"},
		{Value: &metrics.MultiMetrics{}, Name: "metrics"},
		{Value: version, Name: "version"},
		// trace.Tracer's fields are all private, so it has to be injected by name
		{Value: tracer, Name: "tracer"},
		{Value: clockwork.NewRealClock()},
		{Value: &health.Health{}},
		{Value: &registry.MySQLRegistry{}, Name: "registrySource"},
		{Value: &registry.CachedRegistry{}},
		{Value: &features.Flags{}},
		{Value: &volume.InfluxQuerier{}},
		{Value: &volume.Fetcher{}},
		{Value: &pubsub.GoRedisPubSub{}},
		{Value: &configwatcher.ConfigWatcher{}},
		{Value: &invalidation.PubSubScheduler{}},
		{Value: &ratecache.RedisStore{}},
		{Value: &ratecache.SlidingWindowCache{}},
		{Value: &ratecache.Publisher{}},
		{Value: &orgrate.Estimator{}},
		{Value: &orgrate.Resolver{}},
		{Value: &rebalancing.Executor{}},
		{Value: &rebalance.Rebalancer{}},
		{Value: &a},
	}
	if err := g.Provide(objects...); err != nil {
		fmt.Printf("failed to provide injection graph. error: %+v\n", err)
		os.Exit(1)
	}
	if err := g.Populate(); err != nil {
		fmt.Printf("failed to populate injection graph. error: %+v\n", err)
		os.Exit(1)
	}

	// startstop needs a working logger before anything is started, so it
	// can't use the injected one.
	ststLogger := logrus.New()
	ststLogger.SetLevel(logrus.DebugLevel)

	defer startstop.Stop(g.Objects(), ststLogger)
	if err := startstop.Start(g.Objects(), ststLogger); err != nil {
		fmt.Printf("failed to start injected dependencies. error: %+v\n", err)
		os.Exit(1)
	}

	sigsToExit := make(chan os.Signal, 1)
	signal.Notify(sigsToExit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigsToExit
	a.Logger.Error().Logf("Caught signal \"%s\"", sig)
	// give in-flight log lines a moment before the deferred stops run
	time.Sleep(100 * time.Millisecond)
}
