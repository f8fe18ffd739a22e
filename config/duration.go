package config

import (
	"time"
)

// Duration is a time.Duration that reads and writes itself as a Go duration
// string ("15s", "24h") in every config format we support.
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	dur, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// DurationPtr is a helper for optional durations in tests and literals.
func DurationPtr(d time.Duration) *Duration {
	dd := Duration(d)
	return &dd
}
