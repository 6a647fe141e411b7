package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"relaybot/internal/broadcast"
	"relaybot/internal/config"
	"relaybot/internal/digest"
	"relaybot/internal/dispatch"
	"relaybot/internal/eventbus"
	"relaybot/internal/relay"
	"relaybot/internal/runtime/supervisor"
	"relaybot/internal/storage"
	"relaybot/internal/transport"
	"relaybot/internal/transport/telegram/adapter"
	logx "relaybot/pkg/logx"
)

// App owns every long-lived component of the relay bot.
type App struct {
	cfgm *config.Manager
	logs *logx.Service
	log  logx.Logger

	store   storage.Store
	dir     *relay.Directory
	adapter *adapter.Adapter
	bus     eventbus.Bus
	bc      *broadcast.Engine
	router  *relay.Router
	disp    *dispatch.Dispatcher
	digest  *digest.Digest

	updates chan transport.Update
	sup     *supervisor.Supervisor
}

// New loads configuration and constructs the component graph. Nothing talks
// to Telegram until Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	// The Telegram sink is attached once the adapter exists.
	logs, log := logx.New(logConfig(cfg), nil)
	logs.SetTelegramTarget(cfg.Telegram.AdminID)
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	store, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: cfg.BusyTimeout(),
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logs.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}

	dir := relay.NewDirectory(store, log.With(logx.String("comp", "directory")))
	loadCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = dir.Load(loadCtx)
	cancel()
	if err != nil {
		_ = store.Close()
		_ = logs.Close()
		return nil, fmt.Errorf("load directory: %w", err)
	}

	ad, err := adapter.New(adapter.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: cfg.PollTimeout(),
		SendTimeout: cfg.SendTimeout(),
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		_ = store.Close()
		_ = logs.Close()
		return nil, err
	}
	logs.SetSender(ad)

	bus := eventbus.New()
	bc := broadcast.New(broadcastConfig(cfg), dir, ad, log.With(logx.String("comp", "broadcast")))
	router := relay.NewRouter(routerConfig(cfg), dir, ad, bc, bus, log.With(logx.String("comp", "router")))
	disp := dispatch.New(dispatchConfig(cfg), router.Handle, log.With(logx.String("comp", "dispatch")))

	dg := digest.New(dir, ad, log.With(logx.String("comp", "digest")))

	a := &App{
		cfgm:    cfgm,
		logs:    logs,
		log:     log,
		store:   store,
		dir:     dir,
		adapter: ad,
		bus:     bus,
		bc:      bc,
		router:  router,
		disp:    disp,
		digest:  dg,
		updates: make(chan transport.Update, 256),
	}
	st := dir.Stats()
	log.Info("app initialized",
		logx.String("config", cfgm.Path()),
		logx.String("storage", cfg.Storage.Driver),
		logx.Int("known_users", st.KnownUsers),
		logx.Int("blocked_users", st.BlockedUsers),
		logx.Int("forwarded", st.Forwarded),
	)
	return a, nil
}

// Start begins polling and processing. It returns once all loops are running.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))))
	a.router.SetSpawner(a.sup)

	if err := a.digest.Apply(digestConfig(a.cfgm.Get())); err != nil {
		a.log.Warn("digest not scheduled", logx.Err(err))
	}

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	a.sup.Go("dispatch", func(c context.Context) error {
		return a.disp.Run(c, a.updates)
	})

	adminID := a.cfgm.Get().Telegram.AdminID
	a.sup.Go0("telegram.menu", func(c context.Context) {
		a.updateMenus(c, 0, adminID)
	})

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time), logx.Any("data", e.Data))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts; only the newest snapshot matters.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							next = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(last, next)
				last = next
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Debug("sd_notify ready failed", logx.Err(err))
	} else if ok {
		a.log.Debug("sd_notify ready sent")
	}
	a.log.Info("app started", logx.Int64("admin_id", a.cfgm.Get().Telegram.AdminID))
	return nil
}

// applyConfig pushes a reloaded snapshot into every hot-reloadable component.
func (a *App) applyConfig(prev, next *config.Config) {
	sections, attrs := config.SummarizeChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if restart := config.RestartRequired(prev, next); len(restart) > 0 {
		a.log.Warn("config change requires restart", logx.String("fields", strings.Join(restart, ",")))
	}

	if prev.Telegram.AdminID != next.Telegram.AdminID {
		a.updateMenus(a.sup.Context(), prev.Telegram.AdminID, next.Telegram.AdminID)
	}
	a.logs.SetTelegramTarget(next.Telegram.AdminID)
	a.logs.Apply(logConfig(next))
	a.router.Apply(routerConfig(next))
	a.bc.Apply(broadcastConfig(next))
	a.disp.Apply(dispatchConfig(next))
	if err := a.digest.Apply(digestConfig(next)); err != nil {
		a.log.Warn("invalid digest config; keeping previous", logx.Err(err))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// updateMenus shows /start to everyone and the admin commands only in the
// administrator's chat. A previous administrator's menu is removed.
func (a *App) updateMenus(ctx context.Context, oldAdmin, newAdmin int64) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := a.adapter.UpdateMenuCommands(ctx, transport.MenuScope{}, relay.PublicCommands()); err != nil {
		a.log.Warn("set public menu failed", logx.Err(err))
	}
	if oldAdmin != 0 && oldAdmin != newAdmin {
		if err := a.adapter.DeleteMenuCommands(ctx, transport.MenuScope{ChatID: oldAdmin}); err != nil {
			a.log.Warn("remove previous admin menu failed", logx.Int64("chat_id", oldAdmin), logx.Err(err))
		}
	}
	if newAdmin != 0 {
		if err := a.adapter.UpdateMenuCommands(ctx, transport.MenuScope{ChatID: newAdmin}, relay.AdminCommands()); err != nil {
			a.log.Warn("set admin menu failed", logx.Int64("chat_id", newAdmin), logx.Err(err))
		}
	}
}

// Stop shuts components down in dependency order. Each step is bounded so a
// stuck component cannot hold the process.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	a.sup.Cancel()

	a.step(ctx, "adapter", 3*time.Second, a.adapter.Stop)
	a.step(ctx, "supervisor", 3*time.Second, a.sup.Wait)
	a.step(ctx, "digest", 2*time.Second, a.digest.Stop)
	a.step(ctx, "storage", time.Second, func(context.Context) error { return a.store.Close() })

	d := a.disp.Stats()
	a.log.Info("stopped",
		logx.Uint64("handled", d.Handled),
		logx.Uint64("failed", d.Failed),
		logx.Uint64("dropped", d.Dropped),
		logx.Uint64("events_dropped", a.bus.Dropped()),
	)
	return a.logs.Close()
}

func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < max {
			max = rem
		}
	}
	if max <= 0 {
		a.log.Warn("stop step skipped; deadline reached", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Duration("elapsed", time.Since(start)),
		)
	}
}
