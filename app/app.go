package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/honeycombio/rebalancer/config"
	"github.com/honeycombio/rebalancer/internal/health"
	"github.com/honeycombio/rebalancer/logger"
	"github.com/honeycombio/rebalancer/metrics"
	"github.com/honeycombio/rebalancer/types"
)

// OrgRebalancer is satisfied by *rebalance.Rebalancer.
type OrgRebalancer interface {
	BoostLowVolumeProjectsOfOrg(ctx context.Context, org types.OrgID) error
}

// App serves the process-level HTTP surface and reloads the config on
// SIGUSR1. The rebalancing itself runs in its own goroutine, started by
// the rebalancer.
type App struct {
	Config     config.Config   `inject:""`
	Logger     logger.Logger   `inject:""`
	Metrics    metrics.Metrics `inject:"metrics"`
	Health     health.Reporter `inject:""`
	Rebalancer OrgRebalancer   `inject:""`

	// Version is the build ID so that the running process may answer
	// requests for the version
	Version string

	server   *http.Server
	listener net.Listener
	sigs     chan os.Signal
	doneWG   sync.WaitGroup
}

func (a *App) Start() error {
	a.Logger.Debug().Logf("Starting up App...")

	a.Metrics.Register(metrics.Metadata{Name: "config_hash", Type: metrics.Gauge, Description: "low bits of the current config hash"})
	a.Metrics.Gauge("config_hash", config.ConfigHashMetrics(a.Config.GetHash()))
	a.Config.RegisterReloadCallback(func(hash string) {
		a.Logger.Info().WithField("hash", hash).Logf("configuration reloaded")
		a.Metrics.Gauge("config_hash", config.ConfigHashMetrics(hash))
	})

	a.sigs = make(chan os.Signal, 1)
	signal.Notify(a.sigs, syscall.SIGUSR1)
	a.doneWG.Add(1)
	go a.listenForReload()

	addr := a.Config.GetHTTPConfig().ListenAddr
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	a.listener = l
	a.server = &http.Server{
		Handler:           a.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	a.Logger.Info().Logf("Listening on %s", l.Addr().String())

	a.doneWG.Add(1)
	go func() {
		defer a.doneWG.Done()
		if err := a.server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Error().WithField("error", err.Error()).Logf("HTTP server stopped")
		}
	}()
	return nil
}

func (a *App) Stop() error {
	a.Logger.Debug().Logf("Shutting down App...")
	if a.sigs != nil {
		signal.Stop(a.sigs)
		close(a.sigs)
	}

	var err error
	if a.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err = a.server.Shutdown(ctx)
	}
	a.doneWG.Wait()
	return err
}

// Addr returns the address the HTTP server listens on.
func (a *App) Addr() string {
	if a.listener == nil {
		return ""
	}
	return a.listener.Addr().String()
}

func (a *App) listenForReload() {
	defer a.doneWG.Done()
	for sig := range a.sigs {
		a.Logger.Info().WithField("signal", sig.String()).Logf("Caught signal, reloading config")
		a.Config.Reload()
	}
}

func (a *App) router() *mux.Router {
	muxxer := mux.NewRouter()

	muxxer.Use(a.setResponseHeaders)
	muxxer.Use(a.requestLogger)
	muxxer.Use(a.panicCatcher)

	muxxer.HandleFunc("/alive", a.alive).Name("liveness")
	muxxer.HandleFunc("/ready", a.ready).Name("readiness")
	muxxer.HandleFunc("/version", a.version).Name("report version info")
	muxxer.HandleFunc("/status", a.status).Methods("GET").Name("subsystem health")
	muxxer.HandleFunc("/rebalance/{orgID:[0-9]+}", a.rebalanceOrg).Methods("POST").Name("rebalance one organization")

	return muxxer
}
