package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if strings.TrimSpace(c.Telegram.Token) == "" {
		add("telegram.token is required (or set BOT_TOKEN)")
	}
	if c.Telegram.AdminID == 0 {
		add("telegram.admin_id is required (or set ADMIN_ID)")
	}
	for path, raw := range map[string]string{
		"telegram.poll_timeout":    c.Telegram.PollTimeout,
		"telegram.send_timeout":    c.Telegram.SendTimeout,
		"storage.busy_timeout":     c.Storage.BusyTimeout,
		"dispatch.handler_timeout": c.Dispatch.HandlerTimeout,
		"dispatch.enqueue_timeout": c.Dispatch.EnqueueTimeout,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}

	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "file", "sqlite", "sqlite3":
	default:
		add("storage.driver: unknown driver %q", c.Storage.Driver)
	}

	if c.Broadcast.Workers < 0 {
		add("broadcast.workers must be >= 0")
	}
	if c.Broadcast.RatePerSec < 0 {
		add("broadcast.rate_per_sec must be >= 0")
	}
	if c.Dispatch.Workers < 0 {
		add("dispatch.workers must be >= 0")
	}
	if c.Dispatch.QueueSize < 0 {
		add("dispatch.queue_size must be >= 0")
	}
	if c.Logging.Telegram.RatePerSec < 0 {
		add("logging.telegram.rate_per_sec must be >= 0")
	}

	if s := strings.TrimSpace(c.Digest.Schedule); s != "" {
		if _, err := cron.ParseStandard(s); err != nil {
			add("digest.schedule: %v", err)
		}
	}
	if tz := strings.TrimSpace(c.Digest.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add("digest.timezone: %v", err)
		}
	}
	return errors.Join(errs...)
}
