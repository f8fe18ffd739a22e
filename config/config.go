package config

import (
	"time"
)

// Config defines the interface the rest of the code uses to get items from the
// config. Each getter returns a copy of the named section so callers can read
// it without holding any lock.
type Config interface {
	// RegisterReloadCallback takes a function that will be called whenever the
	// configuration is reloaded and its hash has changed. Values are read per
	// pass, so most consumers don't need to register anything.
	RegisterReloadCallback(callback ConfigReloadCallback)

	// Reload forces the config to attempt to reload its values. If the config
	// hash has changed, the reload callbacks will be called.
	Reload()

	// GetHash returns the hash of the currently loaded config.
	GetHash() string

	GetGeneralConfig() GeneralConfig

	GetRebalancingConfig() RebalancingConfig

	GetVolumeQueryConfig() VolumeQueryConfig

	GetSlidingWindowConfig() SlidingWindowConfig

	GetAnalyticsConfig() AnalyticsConfig

	GetRegistryConfig() RegistryConfig

	GetRedisConfig() RedisConfig

	// GetLoggerType returns the type of the logger to use. Valid types are in
	// the logger package
	GetLoggerType() string

	// GetLoggerLevel returns the level of the logger to use.
	GetLoggerLevel() Level

	GetLoggerConfig() LoggerConfig

	GetPrometheusMetricsConfig() PrometheusMetricsConfig

	GetOTelMetricsConfig() OTelMetricsConfig

	GetOTelTracingConfig() OTelTracingConfig

	GetHTTPConfig() HTTPConfig
}

type ConfigReloadCallback func(configHash string)

// GetWindowSize returns the configured sliding window size, or false if the
// sliding window is disabled.
func (s SlidingWindowConfig) GetWindowSize() (time.Duration, bool) {
	if s.WindowSize == nil || *s.WindowSize <= 0 {
		return 0, false
	}
	return time.Duration(*s.WindowSize), true
}

// TierFor returns the sample rate of the first tier whose volume covers the
// given monthly volume, falling back to the last tier. It returns false if no
// tiers are configured.
func (s SlidingWindowConfig) TierFor(monthlyVolume uint64) (float64, bool) {
	if len(s.Tiers) == 0 {
		return 0, false
	}
	for _, tier := range s.Tiers {
		if monthlyVolume <= tier.Volume {
			return tier.SampleRate, true
		}
	}
	return s.Tiers[len(s.Tiers)-1].SampleRate, true
}
