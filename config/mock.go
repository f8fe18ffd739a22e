package config

import (
	"sync"
)

// MockConfig returns whatever values it is populated with. Zero-valued
// sections are returned as-is, so tests set only what they care about.
type MockConfig struct {
	Callbacks            []ConfigReloadCallback
	GetHashVal           string
	GeneralVal           GeneralConfig
	RebalancingVal       RebalancingConfig
	VolumeQueryVal       VolumeQueryConfig
	SlidingWindowVal     SlidingWindowConfig
	AnalyticsVal         AnalyticsConfig
	RegistryVal          RegistryConfig
	RedisVal             RedisConfig
	LoggerVal            LoggerConfig
	PrometheusMetricsVal PrometheusMetricsConfig
	OTelMetricsVal       OTelMetricsConfig
	OTelTracingVal       OTelTracingConfig
	HTTPVal              HTTPConfig

	Mux sync.RWMutex
}

var _ Config = (*MockConfig)(nil)

// Reload calls every registered callback with the current hash.
func (m *MockConfig) Reload() {
	m.Mux.RLock()
	callbacks := m.Callbacks
	hash := m.GetHashVal
	m.Mux.RUnlock()

	for _, cb := range callbacks {
		cb(hash)
	}
}

func (m *MockConfig) RegisterReloadCallback(callback ConfigReloadCallback) {
	m.Mux.Lock()
	m.Callbacks = append(m.Callbacks, callback)
	m.Mux.Unlock()
}

func (m *MockConfig) GetHash() string {
	m.Mux.RLock()
	defer m.Mux.RUnlock()

	return m.GetHashVal
}

func (m *MockConfig) GetGeneralConfig() GeneralConfig {
	m.Mux.RLock()
	defer m.Mux.RUnlock()

	return m.GeneralVal
}

func (m *MockConfig) GetRebalancingConfig() RebalancingConfig {
	m.Mux.RLock()
	defer m.Mux.RUnlock()

	return m.RebalancingVal
}

func (m *MockConfig) GetVolumeQueryConfig() VolumeQueryConfig {
	m.Mux.RLock()
	defer m.Mux.RUnlock()

	return m.VolumeQueryVal
}

func (m *MockConfig) GetSlidingWindowConfig() SlidingWindowConfig {
	m.Mux.RLock()
	defer m.Mux.RUnlock()

	return m.SlidingWindowVal
}

func (m *MockConfig) GetAnalyticsConfig() AnalyticsConfig {
	m.Mux.RLock()
	defer m.Mux.RUnlock()

	return m.AnalyticsVal
}

func (m *MockConfig) GetRegistryConfig() RegistryConfig {
	m.Mux.RLock()
	defer m.Mux.RUnlock()

	return m.RegistryVal
}

func (m *MockConfig) GetRedisConfig() RedisConfig {
	m.Mux.RLock()
	defer m.Mux.RUnlock()

	return m.RedisVal
}

func (m *MockConfig) GetLoggerType() string {
	m.Mux.RLock()
	defer m.Mux.RUnlock()

	return m.LoggerVal.Type
}

func (m *MockConfig) GetLoggerLevel() Level {
	m.Mux.RLock()
	defer m.Mux.RUnlock()

	return m.LoggerVal.Level
}

func (m *MockConfig) GetLoggerConfig() LoggerConfig {
	m.Mux.RLock()
	defer m.Mux.RUnlock()

	return m.LoggerVal
}

func (m *MockConfig) GetPrometheusMetricsConfig() PrometheusMetricsConfig {
	m.Mux.RLock()
	defer m.Mux.RUnlock()

	return m.PrometheusMetricsVal
}

func (m *MockConfig) GetOTelMetricsConfig() OTelMetricsConfig {
	m.Mux.RLock()
	defer m.Mux.RUnlock()

	return m.OTelMetricsVal
}

func (m *MockConfig) GetOTelTracingConfig() OTelTracingConfig {
	m.Mux.RLock()
	defer m.Mux.RUnlock()

	return m.OTelTracingVal
}

func (m *MockConfig) GetHTTPConfig() HTTPConfig {
	m.Mux.RLock()
	defer m.Mux.RUnlock()

	return m.HTTPVal
}
