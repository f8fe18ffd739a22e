package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// fileConfig is the Config implementation backed by one or more files (or
// URLs). It is safe for concurrent use.
type fileConfig struct {
	mainConfig    *configContents
	mainHash      string
	opts          *CmdEnv
	callbacks     []ConfigReloadCallback
	errorCallback func(error)
	mux           sync.RWMutex
}

var _ Config = (*fileConfig)(nil)

type configContents struct {
	General           GeneralConfig           `yaml:"General"`
	Rebalancing       RebalancingConfig       `yaml:"Rebalancing"`
	VolumeQuery       VolumeQueryConfig       `yaml:"VolumeQuery"`
	SlidingWindow     SlidingWindowConfig     `yaml:"SlidingWindow"`
	Analytics         AnalyticsConfig         `yaml:"Analytics"`
	Registry          RegistryConfig          `yaml:"Registry"`
	Redis             RedisConfig             `yaml:"Redis"`
	Logger            LoggerConfig            `yaml:"Logger"`
	PrometheusMetrics PrometheusMetricsConfig `yaml:"PrometheusMetrics"`
	OTelMetrics       OTelMetricsConfig       `yaml:"OTelMetrics"`
	OTelTracing       OTelTracingConfig       `yaml:"OTelTracing"`
	HTTP              HTTPConfig              `yaml:"HTTP"`
}

type GeneralConfig struct {
	// Interval is the time between two full rebalancing passes.
	Interval Duration `yaml:"Interval" default:"10m"`
	// Concurrency bounds the number of organizations processed at once.
	Concurrency int `yaml:"Concurrency" default:"8"`
}

type RebalancingConfig struct {
	Model               string   `yaml:"Model" default:"boost_low_volume_projects"`
	RateEpsilon         float64  `yaml:"RateEpsilon" default:"0.001"`
	CacheTTL            Duration `yaml:"CacheTTL" default:"24h"`
	InvalidationTrigger string   `yaml:"InvalidationTrigger" default:"dynamic_sampling_boost_low_volume_projects"`
	MeasurementWindow   Duration `yaml:"MeasurementWindow" default:"1h"`
	MaxOrgsPerBatch     int      `yaml:"MaxOrgsPerBatch" default:"100"`
	MaxProjectsPerBatch int      `yaml:"MaxProjectsPerBatch" default:"10000"`
}

type VolumeQueryConfig struct {
	ChunkSize         int      `yaml:"ChunkSize" default:"9998"`
	MaxRowsPerProject int      `yaml:"MaxRowsPerProject" default:"1"`
	TimeBudget        Duration `yaml:"TimeBudget" default:"60s"`
	// OrgSampleRate is a percentage; organizations whose id modulo 100 is
	// not below it are skipped by the query.
	OrgSampleRate    int     `yaml:"OrgSampleRate" default:"100"`
	QueriesPerSecond float64 `yaml:"QueriesPerSecond"`
}

type SamplingTier struct {
	// Volume is the upper bound (inclusive) of extrapolated monthly root
	// events for this tier.
	Volume     uint64  `yaml:"Volume"`
	SampleRate float64 `yaml:"SampleRate"`
}

type SlidingWindowConfig struct {
	// WindowSize is nil when the sliding window is disabled.
	WindowSize           *Duration      `yaml:"WindowSize"`
	EnabledForAll        bool           `yaml:"EnabledForAll"`
	EnabledOrganizations []int64        `yaml:"EnabledOrganizations"`
	Tiers                []SamplingTier `yaml:"Tiers"`
}

type AnalyticsConfig struct {
	URL         string   `yaml:"URL" default:"http://localhost:8086"`
	Token       string   `yaml:"Token" cmdenv:"InfluxToken"`
	Org         string   `yaml:"Org"`
	Bucket      string   `yaml:"Bucket" default:"metrics"`
	Measurement string   `yaml:"Measurement" default:"count_per_root_project"`
	Timeout     Duration `yaml:"Timeout" default:"30s"`
}

type RegistryConfig struct {
	DSN          string   `yaml:"DSN" cmdenv:"MySQLDSN"`
	MaxOpenConns int      `yaml:"MaxOpenConns" default:"10"`
	CacheSize    int      `yaml:"CacheSize" default:"10000"`
	CacheTTL     Duration `yaml:"CacheTTL" default:"1m"`
}

type RedisConfig struct {
	Host           string   `yaml:"Host" default:"localhost:6379" cmdenv:"RedisHost"`
	ClusterHosts   []string `yaml:"ClusterHosts"`
	Username       string   `yaml:"Username" cmdenv:"RedisUsername"`
	Password       string   `yaml:"Password" cmdenv:"RedisPassword"`
	AuthCode       string   `yaml:"AuthCode" cmdenv:"RedisAuthCode"`
	Prefix         string   `yaml:"Prefix"`
	Database       int      `yaml:"Database"`
	UseTLS         bool     `yaml:"UseTLS"`
	UseTLSInsecure bool     `yaml:"UseTLSInsecure"`
	Timeout        Duration `yaml:"Timeout" default:"5s"`
}

type LoggerConfig struct {
	Type  string `yaml:"Type" default:"stdout"`
	Level Level  `yaml:"Level" default:"info"`
	// Format is "logfmt" or "json".
	Format string `yaml:"Format" default:"logfmt"`
}

type PrometheusMetricsConfig struct {
	Enabled    bool   `yaml:"Enabled"`
	ListenAddr string `yaml:"ListenAddr" default:"localhost:2112"`
}

type OTelMetricsConfig struct {
	Enabled bool   `yaml:"Enabled"`
	APIHost string `yaml:"APIHost" default:"https://api.honeycomb.io"`
	APIKey  string `yaml:"APIKey" cmdenv:"OTelMetricsAPIKey"`
	Dataset string `yaml:"Dataset" default:"Rebalancer Metrics"`
	// Compression is "gzip" or "none".
	Compression       string   `yaml:"Compression" default:"gzip"`
	ReportingInterval Duration `yaml:"ReportingInterval" default:"30s"`
}

type OTelTracingConfig struct {
	Enabled    bool   `yaml:"Enabled"`
	APIHost    string `yaml:"APIHost" default:"https://api.honeycomb.io"`
	APIKey     string `yaml:"APIKey" cmdenv:"OTelTracesAPIKey"`
	Dataset    string `yaml:"Dataset" default:"Rebalancer Traces"`
	SampleRate uint64 `yaml:"SampleRate" default:"100"`
}

type HTTPConfig struct {
	ListenAddr string `yaml:"ListenAddr" default:"0.0.0.0:8080" cmdenv:"HTTPListenAddr"`
}

// NewConfig creates a new Config from the locations named in opts. The
// errorCallback is called when a later Reload fails.
func NewConfig(opts *CmdEnv, errorCallback func(error)) (Config, error) {
	mainconf := &configContents{}
	hash, err := readConfigInto(mainconf, opts.ConfigLocations, opts)
	if err != nil {
		return nil, err
	}

	if err := mainconf.validate(); err != nil {
		return nil, err
	}

	return &fileConfig{
		mainConfig:    mainconf,
		mainHash:      hash,
		opts:          opts,
		errorCallback: errorCallback,
	}, nil
}

func (c *configContents) validate() error {
	var failures []string
	if c.VolumeQuery.ChunkSize <= 0 {
		failures = append(failures, "VolumeQuery.ChunkSize must be positive")
	}
	if c.VolumeQuery.MaxRowsPerProject <= 0 {
		failures = append(failures, "VolumeQuery.MaxRowsPerProject must be positive")
	}
	if c.VolumeQuery.OrgSampleRate < 0 || c.VolumeQuery.OrgSampleRate > 100 {
		failures = append(failures, "VolumeQuery.OrgSampleRate must be between 0 and 100")
	}
	if c.VolumeQuery.TimeBudget < 0 {
		failures = append(failures, "VolumeQuery.TimeBudget must not be negative")
	}
	if c.Rebalancing.RateEpsilon < 0 {
		failures = append(failures, "Rebalancing.RateEpsilon must not be negative")
	}
	if c.Rebalancing.CacheTTL <= 0 {
		failures = append(failures, "Rebalancing.CacheTTL must be positive")
	}
	if c.General.Concurrency <= 0 {
		failures = append(failures, "General.Concurrency must be positive")
	}
	for i, tier := range c.SlidingWindow.Tiers {
		if tier.SampleRate < 0 || tier.SampleRate > 1 {
			failures = append(failures, fmt.Sprintf("SlidingWindow.Tiers[%d].SampleRate must be between 0 and 1", i))
		}
		if i > 0 && tier.Volume < c.SlidingWindow.Tiers[i-1].Volume {
			failures = append(failures, fmt.Sprintf("SlidingWindow.Tiers[%d].Volume must not be lower than the previous tier", i))
		}
	}
	if c.OTelMetrics.Enabled && c.OTelMetrics.ReportingInterval <= 0 {
		failures = append(failures, "OTelMetrics.ReportingInterval must be positive")
	}
	switch c.OTelMetrics.Compression {
	case "gzip", "none":
	default:
		failures = append(failures, fmt.Sprintf("OTelMetrics.Compression %q is not one of gzip, none", c.OTelMetrics.Compression))
	}
	switch c.Logger.Type {
	case "stdout", "none":
	default:
		failures = append(failures, fmt.Sprintf("Logger.Type %q is not one of stdout, none", c.Logger.Type))
	}
	if len(failures) > 0 {
		return errors.New("validation failed for config:\n  " + strings.Join(failures, "\n  "))
	}
	return nil
}

func (f *fileConfig) RegisterReloadCallback(cb ConfigReloadCallback) {
	f.mux.Lock()
	defer f.mux.Unlock()

	f.callbacks = append(f.callbacks, cb)
}

func (f *fileConfig) Reload() {
	newConfig := &configContents{}
	hash, err := readConfigInto(newConfig, f.opts.ConfigLocations, f.opts)
	if err == nil {
		err = newConfig.validate()
	}
	if err != nil {
		if f.errorCallback != nil {
			f.errorCallback(err)
		}
		return
	}

	f.mux.Lock()
	if hash == f.mainHash {
		f.mux.Unlock()
		return
	}
	f.mainConfig = newConfig
	f.mainHash = hash
	callbacks := make([]ConfigReloadCallback, len(f.callbacks))
	copy(callbacks, f.callbacks)
	f.mux.Unlock()

	for _, cb := range callbacks {
		cb(hash)
	}
}

func (f *fileConfig) GetHash() string {
	f.mux.RLock()
	defer f.mux.RUnlock()

	return f.mainHash
}

func (f *fileConfig) GetGeneralConfig() GeneralConfig {
	f.mux.RLock()
	defer f.mux.RUnlock()

	return f.mainConfig.General
}

func (f *fileConfig) GetRebalancingConfig() RebalancingConfig {
	f.mux.RLock()
	defer f.mux.RUnlock()

	return f.mainConfig.Rebalancing
}

func (f *fileConfig) GetVolumeQueryConfig() VolumeQueryConfig {
	f.mux.RLock()
	defer f.mux.RUnlock()

	return f.mainConfig.VolumeQuery
}

func (f *fileConfig) GetSlidingWindowConfig() SlidingWindowConfig {
	f.mux.RLock()
	defer f.mux.RUnlock()

	return f.mainConfig.SlidingWindow
}

func (f *fileConfig) GetAnalyticsConfig() AnalyticsConfig {
	f.mux.RLock()
	defer f.mux.RUnlock()

	return f.mainConfig.Analytics
}

func (f *fileConfig) GetRegistryConfig() RegistryConfig {
	f.mux.RLock()
	defer f.mux.RUnlock()

	return f.mainConfig.Registry
}

func (f *fileConfig) GetRedisConfig() RedisConfig {
	f.mux.RLock()
	defer f.mux.RUnlock()

	return f.mainConfig.Redis
}

func (f *fileConfig) GetLoggerType() string {
	f.mux.RLock()
	defer f.mux.RUnlock()

	return f.mainConfig.Logger.Type
}

func (f *fileConfig) GetLoggerLevel() Level {
	f.mux.RLock()
	defer f.mux.RUnlock()

	return f.mainConfig.Logger.Level
}

func (f *fileConfig) GetLoggerConfig() LoggerConfig {
	f.mux.RLock()
	defer f.mux.RUnlock()

	return f.mainConfig.Logger
}

func (f *fileConfig) GetPrometheusMetricsConfig() PrometheusMetricsConfig {
	f.mux.RLock()
	defer f.mux.RUnlock()

	return f.mainConfig.PrometheusMetrics
}

func (f *fileConfig) GetOTelMetricsConfig() OTelMetricsConfig {
	f.mux.RLock()
	defer f.mux.RUnlock()

	return f.mainConfig.OTelMetrics
}

func (f *fileConfig) GetOTelTracingConfig() OTelTracingConfig {
	f.mux.RLock()
	defer f.mux.RUnlock()

	return f.mainConfig.OTelTracing
}

func (f *fileConfig) GetHTTPConfig() HTTPConfig {
	f.mux.RLock()
	defer f.mux.RUnlock()

	return f.mainConfig.HTTP
}
