package logger

import (
	"fmt"
	"os"

	"github.com/honeycombio/rebalancer/config"
)

// Logger is the structured logger used across the service. Each level method
// returns a fresh Entry; fields are attached to it and Logf emits it.
type Logger interface {
	Debug() Entry
	Info() Entry
	Warn() Entry
	Error() Entry
	// SetLevel sets the logging level (debug, info, warn, error)
	SetLevel(level string) error
}

type Entry interface {
	WithField(key string, value any) Entry

	// WithString does the same thing as WithField, but is more efficient for
	// disabled log levels. (Because the value parameter doesn't escape.)
	WithString(key string, value string) Entry

	WithFields(fields map[string]any) Entry
	Logf(f string, args ...any)
}

// GetLoggerImplementation picks the Logger named by the config. The returned
// logger still needs to be started by the injection graph.
func GetLoggerImplementation(c config.Config) Logger {
	var logger Logger
	switch c.GetLoggerType() {
	case "stdout":
		logger = &StdoutLogger{}
	case "none":
		logger = &NullLogger{}
	default:
		fmt.Printf("unknown logger type %s. Exiting.\n", c.GetLoggerType())
		os.Exit(1)
	}
	return logger
}
