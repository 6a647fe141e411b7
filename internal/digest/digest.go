// Package digest sends the administrator a scheduled summary of relay
// counters.
package digest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"relaybot/internal/relay"
	"relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

type Config struct {
	Enabled  bool
	Schedule string // 5-field cron
	Timezone string // IANA name; empty means local time
	AdminID  int64
	Timeout  time.Duration // bound for one digest send (default 30s)
}

// Source provides the counters reported in a digest.
type Source interface {
	Stats() relay.Stats
}

type Digest struct {
	src    Source
	sender transport.Sender
	log    logx.Logger

	mu   sync.Mutex
	cfg  Config
	cron *cron.Cron
	prev *relay.Stats
}

func New(src Source, sender transport.Sender, log logx.Logger) *Digest {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Digest{src: src, sender: sender, log: log}
}

// Apply (re)schedules the digest. A disabled config stops it.
func (d *Digest) Apply(cfg Config) error {
	var next *cron.Cron
	if cfg.Enabled {
		loc := time.Local
		if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
			l, err := time.LoadLocation(tz)
			if err != nil {
				return fmt.Errorf("digest timezone: %w", err)
			}
			loc = l
		}
		next = cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cronLogger{d.log}),
			cron.WithChain(cron.Recover(cronLogger{d.log}), cron.SkipIfStillRunning(cronLogger{d.log})),
		)
		if _, err := next.AddFunc(cfg.Schedule, d.run); err != nil {
			return fmt.Errorf("digest schedule %q: %w", cfg.Schedule, err)
		}
	}

	d.mu.Lock()
	prev := d.cron
	d.cron = next
	d.cfg = cfg
	d.mu.Unlock()

	if prev != nil {
		<-prev.Stop().Done()
	}
	if next != nil {
		next.Start()
		d.log.Info("digest scheduled", logx.String("schedule", cfg.Schedule), logx.String("timezone", cfg.Timezone))
	}
	return nil
}

// Stop halts the schedule and waits for a running digest.
func (d *Digest) Stop(ctx context.Context) error {
	d.mu.Lock()
	c := d.cron
	d.cron = nil
	d.mu.Unlock()
	if c == nil {
		return nil
	}
	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Digest) run() {
	d.mu.Lock()
	timeout := d.cfg.Timeout
	d.mu.Unlock()
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := d.Send(ctx); err != nil {
		d.log.Warn("digest not delivered", logx.Err(err))
	}
}

// Send delivers one digest now.
func (d *Digest) Send(ctx context.Context) error {
	st := d.src.Stats()

	d.mu.Lock()
	admin := d.cfg.AdminID
	prev := d.prev
	d.mu.Unlock()
	if admin == 0 {
		return fmt.Errorf("no administrator configured")
	}

	if _, err := d.sender.SendText(ctx, transport.ChatTarget{ChatID: admin}, Format(st, prev), nil); err != nil {
		return err
	}
	d.mu.Lock()
	d.prev = &st
	d.mu.Unlock()
	return nil
}

// Format renders the digest text. prev may be nil for the first digest.
func Format(st relay.Stats, prev *relay.Stats) string {
	var b strings.Builder
	b.WriteString("🗓 Daily relay digest\n")
	fmt.Fprintf(&b, "Known users: %d", st.KnownUsers)
	if prev != nil {
		fmt.Fprintf(&b, " (%+d)", st.KnownUsers-prev.KnownUsers)
	}
	fmt.Fprintf(&b, "\nBlocked users: %d", st.BlockedUsers)
	fmt.Fprintf(&b, "\nForwarded messages: %d", st.Forwarded)
	if prev != nil {
		fmt.Fprintf(&b, " (%+d)", st.Forwarded-prev.Forwarded)
	}
	return b.String()
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
