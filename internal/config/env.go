package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// envOverrides are applied on top of the file. Unset variables keep the file
// value.
type envOverrides struct {
	Token       string `env:"BOT_TOKEN"`
	AdminID     int64  `env:"ADMIN_ID"`
	LogLevel    string `env:"RELAY_LOG_LEVEL"`
	StoragePath string `env:"RELAY_STORAGE_PATH"`
}

// applyEnv overlays environment variables. A nil environ reads the process
// environment.
func applyEnv(cfg *Config, environ map[string]string) error {
	var o envOverrides
	if err := env.ParseWithOptions(&o, env.Options{Environment: environ}); err != nil {
		return fmt.Errorf("env: %w", err)
	}
	if o.Token != "" {
		cfg.Telegram.Token = o.Token
	}
	if o.AdminID != 0 {
		cfg.Telegram.AdminID = o.AdminID
	}
	if o.LogLevel != "" {
		cfg.Logging.Level = o.LogLevel
	}
	if o.StoragePath != "" {
		cfg.Storage.Path = o.StoragePath
	}
	return nil
}
