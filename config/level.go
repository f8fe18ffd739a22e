package config

import (
	"fmt"
	"strings"
)

type Level int

const (
	UnknownLevel Level = iota
	DebugLevel
	InfoLevel
	WarnLevel
	ErrorLevel
	PanicLevel
)

var levelNames = map[Level]string{
	DebugLevel: "debug",
	InfoLevel:  "info",
	WarnLevel:  "warn",
	ErrorLevel: "error",
	PanicLevel: "panic",
}

// ParseLevel is case-insensitive and also accepts "warning". Anything it
// doesn't recognize is UnknownLevel.
func ParseLevel(s string) Level {
	name := strings.TrimSpace(strings.ToLower(s))
	if name == "warning" {
		return WarnLevel
	}
	for l, n := range levelNames {
		if n == name {
			return l
		}
	}
	return UnknownLevel
}

func (l Level) String() string {
	if n, ok := levelNames[l]; ok {
		return n
	}
	return "unknown"
}

func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

func (l *Level) UnmarshalText(text []byte) error {
	parsed := ParseLevel(string(text))
	if parsed == UnknownLevel {
		return fmt.Errorf("unknown logging level '%s'", text)
	}
	*l = parsed
	return nil
}
