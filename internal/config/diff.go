package config

import (
	logx "relaybot/pkg/logx"
)

// SummarizeChange lists the changed sections and log fields describing the
// new values. Secrets are reported only as set/unset.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var (
		changed []string
		fields  []logx.Field
	)

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot.Token != nt.Token || ot.AdminID != nt.AdminID || ot.PollTimeout != nt.PollTimeout || ot.SendTimeout != nt.SendTimeout {
		changed = append(changed, "telegram")
		fields = append(fields,
			logx.Bool("telegram.token_changed", ot.Token != nt.Token),
			logx.Bool("telegram.admin_changed", ot.AdminID != nt.AdminID),
			logx.String("telegram.send_timeout", nt.SendTimeout),
		)
	}
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		fields = append(fields,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram", newCfg.Logging.Telegram.Enabled),
		)
	}
	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		fields = append(fields, logx.String("storage.driver", newCfg.Storage.Driver))
	}
	if oldCfg.Broadcast != newCfg.Broadcast {
		changed = append(changed, "broadcast")
		fields = append(fields,
			logx.Int("broadcast.workers", newCfg.Broadcast.Workers),
			logx.Int("broadcast.rate_per_sec", newCfg.Broadcast.RatePerSec),
		)
	}
	if oldCfg.Dispatch != newCfg.Dispatch {
		changed = append(changed, "dispatch")
		fields = append(fields,
			logx.String("dispatch.handler_timeout", newCfg.Dispatch.HandlerTimeout),
			logx.String("dispatch.enqueue_timeout", newCfg.Dispatch.EnqueueTimeout),
		)
	}
	if oldCfg.Texts != newCfg.Texts {
		changed = append(changed, "texts")
	}
	if oldCfg.Digest != newCfg.Digest {
		changed = append(changed, "digest")
		fields = append(fields,
			logx.Bool("digest.enabled", newCfg.Digest.Enabled),
			logx.String("digest.schedule", newCfg.Digest.Schedule),
		)
	}
	return changed, fields
}

// RestartRequired lists changes that only take effect after a restart.
func RestartRequired(oldCfg, newCfg *Config) []string {
	if oldCfg == nil || newCfg == nil {
		return nil
	}
	var out []string
	if oldCfg.Telegram.Token != newCfg.Telegram.Token {
		out = append(out, "telegram.token")
	}
	if oldCfg.Telegram.PollTimeout != newCfg.Telegram.PollTimeout {
		out = append(out, "telegram.poll_timeout")
	}
	if oldCfg.Telegram.SendTimeout != newCfg.Telegram.SendTimeout {
		out = append(out, "telegram.send_timeout")
	}
	if oldCfg.Storage != newCfg.Storage {
		out = append(out, "storage")
	}
	if oldCfg.Dispatch.Workers != newCfg.Dispatch.Workers || oldCfg.Dispatch.QueueSize != newCfg.Dispatch.QueueSize {
		out = append(out, "dispatch.workers/queue_size")
	}
	return out
}
