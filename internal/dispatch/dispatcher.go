// Package dispatch fans inbound updates out to a fixed set of serial worker
// queues. Updates from the same sender always land on the same queue, so
// they are handled in arrival order while different senders run concurrently.
// A full queue holds up intake for at most EnqueueTimeout before the update
// is dropped.
package dispatch

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"relaybot/internal/runtime/supervisor"
	"relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

// Request is the per-event context passed to handlers.
type Request struct {
	Update   transport.Update
	ReqID    string
	Received time.Time
	Logger   logx.Logger
}

func (r *Request) logger(fallback logx.Logger) logx.Logger {
	if r != nil && !r.Logger.IsZero() {
		return r.Logger
	}
	return fallback
}

type Config struct {
	Workers        int
	QueueSize      int
	HandlerTimeout time.Duration // 0 disables the bound
	EnqueueTimeout time.Duration // 0 means 5s; negative drops at once
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.EnqueueTimeout == 0 {
		c.EnqueueTimeout = 5 * time.Second
	}
	return c
}

// Stats are cumulative counters since the dispatcher was created.
type Stats struct {
	Handled uint64
	Failed  uint64
	Dropped uint64
}

type Dispatcher struct {
	cfg     Config
	log     logx.Logger
	handler HandlerFunc

	timeout atomic.Int64 // time.Duration
	enqueue atomic.Int64 // time.Duration

	handled atomic.Uint64
	failed  atomic.Uint64
	dropped atomic.Uint64
}

func New(cfg Config, h HandlerFunc, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	d := &Dispatcher{cfg: cfg, log: log, handler: h}
	d.Apply(cfg)
	return d
}

// Apply updates the settings that can change at runtime. Worker and queue
// counts are fixed for the lifetime of Run.
func (d *Dispatcher) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	d.timeout.Store(int64(cfg.HandlerTimeout))
	d.enqueue.Store(int64(cfg.EnqueueTimeout))
}

func (d *Dispatcher) Stats() Stats {
	return Stats{Handled: d.handled.Load(), Failed: d.failed.Load(), Dropped: d.dropped.Load()}
}

// Run consumes updates until ctx is cancelled or the channel is closed, then
// lets the workers drain what is already queued.
func (d *Dispatcher) Run(ctx context.Context, updates <-chan transport.Update) error {
	sup := supervisor.New(ctx, supervisor.WithLogger(d.log))
	queues := make([]chan *Request, d.cfg.Workers)
	for i := range queues {
		q := make(chan *Request, d.cfg.QueueSize)
		queues[i] = q
		idx := i
		sup.GoRestart("dispatch.worker."+strconv.Itoa(idx), func(context.Context) error {
			// Queued events are finished even during shutdown; handlers see
			// the cancelled parent context and fail fast.
			for req := range q {
				d.handle(ctx, req)
			}
			return nil
		},
			supervisor.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			supervisor.WithPublishFirstError(true),
		)
	}
	d.log.Info("dispatcher started", logx.Int("workers", d.cfg.Workers), logx.Int("queue_size", d.cfg.QueueSize))

	defer func() {
		for _, q := range queues {
			close(q)
		}
		wctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sup.Wait(wctx)
		d.log.Info("dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			d.route(ctx, up, queues)
		}
	}
}

func (d *Dispatcher) route(ctx context.Context, up transport.Update, queues []chan *Request) {
	if up.Message == nil {
		return
	}
	key := shardKey(up.Message)
	rid := uuid.NewString()
	req := &Request{
		Update:   up,
		ReqID:    rid,
		Received: time.Now(),
		Logger: d.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", up.Message.ChatID),
			logx.Int64("from_id", up.Message.FromID),
		),
	}
	q := queues[key%uint64(len(queues))]
	select {
	case q <- req:
		return
	default:
	}

	wait := time.Duration(d.enqueue.Load())
	if wait > 0 {
		t := time.NewTimer(wait)
		defer t.Stop()
		select {
		case q <- req:
			return
		case <-t.C:
		case <-ctx.Done():
		}
	}
	d.dropped.Add(1)
	req.Logger.Warn("event queue full; update dropped", logx.Int("queue_size", cap(q)), logx.Duration("waited", wait))
}

func (d *Dispatcher) handle(ctx context.Context, req *Request) {
	final := Chain(d.handler,
		MWPanicRecover(d.log),
		MWRequestLog(d.log),
		MWTimeout(time.Duration(d.timeout.Load())),
	)
	d.handled.Add(1)
	if err := final(ctx, req); err != nil {
		d.failed.Add(1)
	}
}

func shardKey(m *transport.Message) uint64 {
	id := m.FromID
	if id == 0 {
		id = m.ChatID
	}
	if id < 0 {
		id = -id
	}
	return uint64(id)
}
