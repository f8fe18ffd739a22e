package health

import (
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/honeycombio/rebalancer/logger"
	"github.com/honeycombio/rebalancer/metrics"
)

// Subsystems register here with the longest interval they expect between two
// reports. A subsystem that stops reporting for longer than that marks the
// whole process as not alive. A subsystem can also report itself alive but
// not ready, which marks the process not ready without killing it.
//
// Registration does not start the countdown; it starts with the first call
// to Ready.

// Recorder is the interface used by object that want to record their own health
// status and make it available to the system.
type Recorder interface {
	Register(subsystem string, timeout time.Duration)
	Unregister(subsystem string)
	Ready(subsystem string, ready bool)
}

// Reporter is the interface that is used to read back the health status of the system.
type Reporter interface {
	IsAlive() bool
	IsReady() bool
	Status() []SubsystemStatus
}

// TickerTime is the interval at which registered subsystems are counted down.
// It should be shorter than any subsystem timeout.
var TickerTime = 500 * time.Millisecond

type SubsystemStatus struct {
	Name  string `json:"name"`
	Alive bool   `json:"alive"`
	Ready bool   `json:"ready"`
}

type subsystem struct {
	timeout time.Duration
	// timeLeft is negative until the first report and 0 once the subsystem
	// has timed out.
	timeLeft   time.Duration
	ready      bool
	alive      bool
	registered bool
}

type Health struct {
	Clock   clockwork.Clock `inject:""`
	Metrics metrics.Metrics `inject:"metrics"`
	Logger  logger.Logger   `inject:""`

	subsystems map[string]*subsystem
	mut        sync.RWMutex
	done       chan struct{}
}

var (
	_ Recorder = (*Health)(nil)
	_ Reporter = (*Health)(nil)
)

func (h *Health) Start() error {
	// null implementations make the zero value usable in tests
	if h.Logger == nil {
		h.Logger = &logger.NullLogger{}
	}
	if h.Metrics == nil {
		h.Metrics = &metrics.NullMetrics{}
	}
	h.Metrics.Register(metrics.Metadata{Name: "is_ready", Type: metrics.Gauge, Description: "1 when every subsystem is ready"})
	h.Metrics.Register(metrics.Metadata{Name: "is_alive", Type: metrics.Gauge, Description: "1 when every subsystem reported in time"})

	h.subsystems = make(map[string]*subsystem)
	h.done = make(chan struct{})
	go h.ticker()
	return nil
}

func (h *Health) Stop() error {
	close(h.done)
	return nil
}

func (h *Health) ticker() {
	tick := h.Clock.NewTicker(TickerTime)
	defer tick.Stop()
	for {
		select {
		case <-tick.Chan():
			h.mut.Lock()
			for _, s := range h.subsystems {
				if !s.registered || s.timeLeft <= 0 {
					continue
				}
				s.timeLeft -= TickerTime
				if s.timeLeft < 0 {
					s.timeLeft = 0
				}
			}
			h.mut.Unlock()
		case <-h.done:
			return
		}
	}
}

// Register a subsystem. If Ready is not called at least once per timeout
// after the first report, the subsystem and the process are marked not alive.
func (h *Health) Register(name string, timeout time.Duration) {
	h.mut.Lock()
	defer h.mut.Unlock()

	h.subsystems[name] = &subsystem{
		timeout:    timeout,
		timeLeft:   -1,
		registered: true,
	}
	fields := map[string]any{
		"source":  name,
		"timeout": timeout,
	}
	h.Logger.Debug().WithFields(fields).Logf("Registered Health ticker")
	if timeout < TickerTime {
		h.Logger.Error().WithFields(fields).Logf("Registering a timeout less than the ticker time")
	}
}

// Unregister stops tracking the liveness of a subsystem. It stays in the
// table as permanently not ready, and later reports from it are ignored.
func (h *Health) Unregister(name string) {
	h.mut.Lock()
	defer h.mut.Unlock()

	h.subsystems[name] = &subsystem{}
}

// Ready records a report from a subsystem. Any report, ready or not, counts
// as a sign of life.
func (h *Health) Ready(name string, ready bool) {
	h.mut.Lock()
	defer h.mut.Unlock()

	s, ok := h.subsystems[name]
	if !ok {
		h.Logger.Error().WithField("subsystem", name).Logf("Health.Ready called for unregistered subsystem")
		return
	}
	if !s.registered {
		return
	}
	if s.ready != ready {
		h.Logger.Info().WithFields(map[string]any{
			"subsystem": name,
			"ready":     ready,
		}).Logf("Health.Ready reporting subsystem changing state")
	}
	s.ready = ready
	s.timeLeft = s.timeout
	if !s.alive {
		s.alive = true
		h.Logger.Info().WithField("subsystem", name).Logf("Health.Ready reporting subsystem alive")
	}
	h.Metrics.Gauge("is_ready", boolGauge(h.checkReady()))
	h.Metrics.Gauge("is_alive", boolGauge(h.checkAlive()))
}

func (h *Health) IsAlive() bool {
	h.mut.Lock()
	defer h.mut.Unlock()
	return h.checkAlive()
}

// checkAlive must be called with the write lock held.
func (h *Health) checkAlive() bool {
	alive := true
	for name, s := range h.subsystems {
		if s.registered && s.timeLeft == 0 {
			if s.alive {
				h.Logger.Error().WithField("subsystem", name).Logf("IsAlive: subsystem dead due to timeout")
				s.alive = false
			}
			alive = false
		}
	}
	return alive
}

func (h *Health) IsReady() bool {
	h.mut.RLock()
	defer h.mut.RUnlock()
	return h.checkReady()
}

// checkReady must be called with the lock held. Nothing registered means not
// ready.
func (h *Health) checkReady() bool {
	if len(h.subsystems) == 0 {
		h.Logger.Debug().Logf("IsReady: no one has registered yet")
		return false
	}

	for name, s := range h.subsystems {
		if s.registered && s.timeLeft <= 0 {
			h.Logger.Info().WithFields(map[string]any{
				"subsystem": name,
				"counter":   s.timeLeft,
			}).Logf("Health.IsReady failed due to counter <= 0")
			return false
		}
		if !s.ready {
			h.Logger.Info().WithField("subsystem", name).Logf("Health.IsReady reporting subsystem not ready")
			return false
		}
	}
	return true
}

// Status lists every known subsystem sorted by name.
func (h *Health) Status() []SubsystemStatus {
	h.mut.RLock()
	defer h.mut.RUnlock()

	statuses := make([]SubsystemStatus, 0, len(h.subsystems))
	for name, s := range h.subsystems {
		statuses = append(statuses, SubsystemStatus{
			Name:  name,
			Alive: !s.registered || s.timeLeft != 0,
			Ready: s.ready && s.timeLeft > 0,
		})
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Name < statuses[j].Name })
	return statuses
}

func boolGauge(b bool) int {
	if b {
		return 1
	}
	return 0
}
