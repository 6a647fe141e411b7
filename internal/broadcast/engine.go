// Package broadcast delivers one text to every known, non-blocked user.
package broadcast

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

type Config struct {
	Workers    int
	RatePerSec int // <= 0 disables rate limiting
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	return c
}

// Roster is the read side of the relay directory the engine needs.
type Roster interface {
	ListKnownUsers() []int64
	IsBlocked(id int64) bool
}

// Result summarises one broadcast. Delivered+Failed+Skipped == Total.
type Result struct {
	Total     int
	Delivered int
	Failed    int
	Skipped   int // blocked at snapshot time or right before the send
	Took      time.Duration
}

type Engine struct {
	roster Roster
	sender transport.Sender
	log    logx.Logger

	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter
}

func New(cfg Config, roster Roster, sender transport.Sender, log logx.Logger) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	e := &Engine{roster: roster, sender: sender, log: log}
	e.Apply(cfg)
	return e
}

// Apply swaps worker count and rate. A broadcast already running keeps the
// settings it started with.
func (e *Engine) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg = cfg
	if cfg.RatePerSec <= 0 {
		e.limiter = nil
		return
	}
	e.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Broadcast runs a broadcast and returns the number of successful deliveries.
func (e *Engine) Broadcast(ctx context.Context, text string) int {
	return e.Run(ctx, text).Delivered
}

// Run sends text once to every recipient in a snapshot of the known users.
// Individual failures never abort the run.
func (e *Engine) Run(ctx context.Context, text string) Result {
	e.mu.Lock()
	cfg, lim := e.cfg, e.limiter
	e.mu.Unlock()

	start := time.Now()
	recipients := e.roster.ListKnownUsers()
	res := Result{Total: len(recipients)}

	var delivered, failed, skipped atomic.Int64
	g := new(errgroup.Group)
	g.SetLimit(cfg.Workers)
	for _, uid := range recipients {
		if e.roster.IsBlocked(uid) {
			skipped.Add(1)
			continue
		}
		g.Go(func() error {
			// Blocked status may have changed while waiting for a slot.
			if e.roster.IsBlocked(uid) {
				skipped.Add(1)
				return nil
			}
			if err := e.sendOne(ctx, lim, uid, text); err != nil {
				failed.Add(1)
				return nil
			}
			delivered.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	res.Delivered = int(delivered.Load())
	res.Failed = int(failed.Load())
	res.Skipped = int(skipped.Load())
	res.Took = time.Since(start)

	fields := []logx.Field{
		logx.Int("total", res.Total),
		logx.Int("delivered", res.Delivered),
		logx.Int("failed", res.Failed),
		logx.Int("skipped", res.Skipped),
		logx.Duration("dur", res.Took),
	}
	if res.Failed > 0 {
		e.log.Warn("broadcast finished with failures", fields...)
	} else {
		e.log.Info("broadcast finished", fields...)
	}
	return res
}

func (e *Engine) sendOne(ctx context.Context, lim *rate.Limiter, uid int64, text string) error {
	if lim != nil {
		if err := lim.Wait(ctx); err != nil {
			e.log.Debug("broadcast send not attempted", logx.Int64("chat_id", uid), logx.Err(err))
			return err
		}
	}
	_, err := e.sender.SendText(ctx, transport.ChatTarget{ChatID: uid}, text, nil)
	if err == nil {
		return nil
	}
	kind := transport.DeliveryUnknown
	var de *transport.DeliveryError
	if errors.As(err, &de) {
		kind = de.Kind
	}
	e.log.Warn("broadcast send failed",
		logx.Int64("chat_id", uid),
		logx.String("kind", string(kind)),
		logx.Err(err),
	)
	return err
}
