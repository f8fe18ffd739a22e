package metrics

import (
	"fmt"
)

// Metrics is the metrics sink used across the service. Metrics must be
// registered before use; calls on unregistered names are ignored.
//
// Store and Get hold rarely-changing values that are not reported as metrics
// themselves. Get also reads back the current value of counters, gauges and
// updown counters.
type Metrics interface {
	Register(metadata Metadata)
	Increment(name string)            // for counters
	Gauge(name string, val any)       // for gauges
	Count(name string, n any)         // for counters
	Histogram(name string, obs any)   // for histogram
	Up(name string)                   // for updown
	Down(name string)                 // for updown
	Store(name string, value float64) // for storing a rarely-changing value not sent as a metric
	Get(name string) (float64, bool)  // for reading back a counter or a gauge
}

type MetricType int

const (
	Counter MetricType = iota
	Gauge
	Histogram
	UpDown
)

func (m MetricType) String() string {
	switch m {
	case Counter:
		return "counter"
	case Gauge:
		return "gauge"
	case Histogram:
		return "histogram"
	case UpDown:
		return "updown"
	}
	return "unknown"
}

type Unit string

const (
	Dimensionless Unit = "1"
	Milliseconds  Unit = "ms"
	Bytes         Unit = "By"
)

type Metadata struct {
	Name        string
	Type        MetricType
	Unit        Unit
	Description string
}

func ConvertNumeric(val any) float64 {
	switch n := val.(type) {
	case int:
		return float64(n)
	case uint:
		return float64(n)
	case int64:
		return float64(n)
	case uint64:
		return float64(n)
	case int32:
		return float64(n)
	case uint32:
		return float64(n)
	case int16:
		return float64(n)
	case uint16:
		return float64(n)
	case int8:
		return float64(n)
	case uint8:
		return float64(n)
	case float64:
		return n
	case float32:
		return float64(n)
	default:
		return 0
	}
}

func PrefixMetricName(prefix string, name string) string {
	if prefix != "" {
		return fmt.Sprintf(`%s_%s`, prefix, name)
	}
	return name
}
