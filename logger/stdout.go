package logger

import (
	"os"

	"github.com/sirupsen/logrus"

	"github.com/honeycombio/rebalancer/config"
)

// StdoutLogger is a Logger implementation that sends all logs to stdout using
// the Logrus package to get nice formatting
type StdoutLogger struct {
	Config config.Config `inject:""`

	logger *logrus.Logger
	level  logrus.Level
}

var _ Logger = (*StdoutLogger)(nil)

type StdoutEntry struct {
	entry *logrus.Entry
	level logrus.Level
}

func (s *StdoutLogger) Start() error {
	s.logger = logrus.New()
	s.logger.SetOutput(os.Stdout)

	cfg := s.Config.GetLoggerConfig()
	if cfg.Format == "json" {
		s.logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		s.logger.SetFormatter(&logrus.TextFormatter{
			DisableColors: true,
			FullTimestamp: true,
		})
	}

	s.level = ConvertLevel(s.Config.GetLoggerLevel())
	s.logger.SetLevel(s.level)
	return nil
}

func (s *StdoutLogger) Debug() Entry {
	return s.entry(logrus.DebugLevel)
}

func (s *StdoutLogger) Info() Entry {
	return s.entry(logrus.InfoLevel)
}

func (s *StdoutLogger) Warn() Entry {
	return s.entry(logrus.WarnLevel)
}

func (s *StdoutLogger) Error() Entry {
	return s.entry(logrus.ErrorLevel)
}

func (s *StdoutLogger) entry(level logrus.Level) Entry {
	if !s.logger.IsLevelEnabled(level) {
		return nullEntry
	}
	return &StdoutEntry{
		entry: logrus.NewEntry(s.logger),
		level: level,
	}
}

func (s *StdoutLogger) SetLevel(level string) error {
	logrusLevel, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	s.level = logrusLevel
	if s.logger != nil {
		s.logger.SetLevel(logrusLevel)
	}
	return nil
}

func (s *StdoutEntry) WithField(key string, value any) Entry {
	return &StdoutEntry{
		entry: s.entry.WithField(key, value),
		level: s.level,
	}
}

func (s *StdoutEntry) WithString(key string, value string) Entry {
	return s.WithField(key, value)
}

func (s *StdoutEntry) WithFields(fields map[string]any) Entry {
	return &StdoutEntry{
		entry: s.entry.WithFields(fields),
		level: s.level,
	}
}

func (s *StdoutEntry) Logf(f string, args ...any) {
	s.entry.Logf(s.level, f, args...)
}

// ConvertLevel maps a config level onto logrus. Unknown levels log at info.
func ConvertLevel(level config.Level) logrus.Level {
	switch level {
	case config.DebugLevel:
		return logrus.DebugLevel
	case config.WarnLevel:
		return logrus.WarnLevel
	case config.ErrorLevel:
		return logrus.ErrorLevel
	case config.PanicLevel:
		return logrus.PanicLevel
	default:
		return logrus.InfoLevel
	}
}
