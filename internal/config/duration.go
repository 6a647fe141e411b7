package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDurationField parses a non-negative duration. Empty input is zero.
// path names the field in error messages.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// durationOr returns the parsed value, or def when the field is empty, zero
// or invalid. Validate reports invalid values before this is reached.
func durationOr(raw string, def time.Duration) time.Duration {
	d, err := ParseDurationField("", raw)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func (c *Config) PollTimeout() time.Duration {
	return durationOr(c.Telegram.PollTimeout, 10*time.Second)
}

func (c *Config) SendTimeout() time.Duration {
	return durationOr(c.Telegram.SendTimeout, 10*time.Second)
}

// HandlerTimeout is zero when unbounded.
func (c *Config) HandlerTimeout() time.Duration {
	return durationOr(c.Dispatch.HandlerTimeout, 0)
}

func (c *Config) EnqueueTimeout() time.Duration {
	return durationOr(c.Dispatch.EnqueueTimeout, 5*time.Second)
}

func (c *Config) BusyTimeout() time.Duration {
	return durationOr(c.Storage.BusyTimeout, 0)
}
