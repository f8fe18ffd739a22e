package metrics

import (
	"sync"
)

var _ Metrics = (*MultiMetrics)(nil)

// MultiMetrics sends every metric to the Prometheus and OTel backends. Either
// may be a NullMetrics when disabled.
//
// It keeps its own copy of counter and gauge values for Get, so values can be
// stored and read back even when no backend is enabled.
type MultiMetrics struct {
	Prom Metrics `inject:"promMetrics"`
	OTel Metrics `inject:"otelMetrics"`

	children []Metrics
	values   map[string]float64
	lock     sync.RWMutex
}

// NewMultiMetrics returns a started MultiMetrics over children.
func NewMultiMetrics(children ...Metrics) *MultiMetrics {
	m := &MultiMetrics{children: children}
	m.Start()
	return m
}

func (m *MultiMetrics) Start() error {
	if m.children == nil {
		for _, ch := range []Metrics{m.Prom, m.OTel} {
			if ch != nil {
				m.children = append(m.children, ch)
			}
		}
	}
	m.values = make(map[string]float64)
	return nil
}

func (m *MultiMetrics) Register(metadata Metadata) {
	for _, ch := range m.children {
		ch.Register(metadata)
	}
	m.lock.Lock()
	defer m.lock.Unlock()
	if _, ok := m.values[metadata.Name]; !ok {
		m.values[metadata.Name] = 0
	}
}

func (m *MultiMetrics) Increment(name string) {
	for _, ch := range m.children {
		ch.Increment(name)
	}
	m.lock.Lock()
	defer m.lock.Unlock()
	m.values[name]++
}

func (m *MultiMetrics) Gauge(name string, val any) {
	for _, ch := range m.children {
		ch.Gauge(name, val)
	}
	m.lock.Lock()
	defer m.lock.Unlock()
	m.values[name] = ConvertNumeric(val)
}

func (m *MultiMetrics) Count(name string, n any) {
	for _, ch := range m.children {
		ch.Count(name, n)
	}
	m.lock.Lock()
	defer m.lock.Unlock()
	m.values[name] += ConvertNumeric(n)
}

func (m *MultiMetrics) Histogram(name string, obs any) {
	for _, ch := range m.children {
		ch.Histogram(name, obs)
	}
}

func (m *MultiMetrics) Up(name string) {
	for _, ch := range m.children {
		ch.Up(name)
	}
	m.lock.Lock()
	defer m.lock.Unlock()
	m.values[name]++
}

func (m *MultiMetrics) Down(name string) {
	for _, ch := range m.children {
		ch.Down(name)
	}
	m.lock.Lock()
	defer m.lock.Unlock()
	m.values[name]--
}

func (m *MultiMetrics) Get(name string) (float64, bool) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	v, ok := m.values[name]
	return v, ok
}

func (m *MultiMetrics) Store(name string, val float64) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.values[name] = val
}
