package app

import (
	"time"

	"relaybot/internal/broadcast"
	"relaybot/internal/config"
	"relaybot/internal/digest"
	"relaybot/internal/dispatch"
	"relaybot/internal/relay"
	logx "relaybot/pkg/logx"
)

const digestSendTimeout = 30 * time.Second

func logConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func routerConfig(cfg *config.Config) relay.Config {
	return relay.Config{
		AdminID: cfg.Telegram.AdminID,
		Welcome: cfg.Texts.Welcome,
	}
}

func broadcastConfig(cfg *config.Config) broadcast.Config {
	return broadcast.Config{
		Workers:    cfg.Broadcast.Workers,
		RatePerSec: cfg.Broadcast.RatePerSec,
	}
}

// Workers and QueueSize are fixed once Run starts; the timeouts are live.
func dispatchConfig(cfg *config.Config) dispatch.Config {
	return dispatch.Config{
		Workers:        cfg.Dispatch.Workers,
		QueueSize:      cfg.Dispatch.QueueSize,
		HandlerTimeout: cfg.HandlerTimeout(),
		EnqueueTimeout: cfg.EnqueueTimeout(),
	}
}

func digestConfig(cfg *config.Config) digest.Config {
	return digest.Config{
		Enabled:  cfg.Digest.Enabled,
		Schedule: cfg.Digest.Schedule,
		Timezone: cfg.Digest.Timezone,
		AdminID:  cfg.Telegram.AdminID,
		Timeout:  digestSendTimeout,
	}
}
