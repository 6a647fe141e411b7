package config

// Config is the on-disk configuration. Durations are Go duration strings
// ("10s", "1m") and are validated by Validate.
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Broadcast BroadcastConfig `json:"broadcast"`
	Dispatch  DispatchConfig  `json:"dispatch"`
	Texts     TextsConfig     `json:"texts"`
	Digest    DigestConfig    `json:"digest"`
}

type TelegramConfig struct {
	Token   string `json:"token"`
	AdminID int64  `json:"admin_id"`
	// Long-poll timeout (default 10s).
	PollTimeout string `json:"poll_timeout,omitempty"`
	// Upper bound of a single send (default 10s).
	SendTimeout string `json:"send_timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingTelegram mirrors log lines into the administrator chat.
type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig selects the durable store.
//
//	"storage": { "driver": "file", "path": "./data" }
//	"storage": { "driver": "sqlite", "path": "./relay.db", "busy_timeout": "5s" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type BroadcastConfig struct {
	Workers    int `json:"workers"`
	RatePerSec int `json:"rate_per_sec"`
}

type DispatchConfig struct {
	Workers        int    `json:"workers"`
	QueueSize      int    `json:"queue_size"`
	HandlerTimeout string `json:"handler_timeout,omitempty"` // "0s" or empty: unbounded
	// How long a full worker queue may hold up intake before the update is
	// dropped (default 5s).
	EnqueueTimeout string `json:"enqueue_timeout,omitempty"`
}

type TextsConfig struct {
	Welcome string `json:"welcome,omitempty"`
}

// DigestConfig controls the scheduled stats message to the administrator.
type DigestConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule,omitempty"` // 5-field cron
	Timezone string `json:"timezone,omitempty"`
}

const (
	DefaultPollTimeout    = "10s"
	DefaultSendTimeout    = "10s"
	DefaultStoragePath    = "./data"
	DefaultDigestSchedule = "0 9 * * *"
)

// ApplyDefaults fills zero values in place.
func (c *Config) ApplyDefaults() {
	if c.Telegram.PollTimeout == "" {
		c.Telegram.PollTimeout = DefaultPollTimeout
	}
	if c.Telegram.SendTimeout == "" {
		c.Telegram.SendTimeout = DefaultSendTimeout
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "file"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = DefaultStoragePath
	}
	if c.Broadcast.Workers == 0 {
		c.Broadcast.Workers = 4
	}
	if c.Broadcast.RatePerSec == 0 {
		c.Broadcast.RatePerSec = 25
	}
	if c.Dispatch.Workers == 0 {
		c.Dispatch.Workers = 4
	}
	if c.Dispatch.QueueSize == 0 {
		c.Dispatch.QueueSize = 256
	}
	if c.Digest.Schedule == "" {
		c.Digest.Schedule = DefaultDigestSchedule
	}
}
