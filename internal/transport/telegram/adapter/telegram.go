// Package adapter is the Telegram implementation of transport.Adapter, built
// on telebot.
package adapter

import (
	"context"
	"errors"
	"hash/fnv"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	"relaybot/internal/runtime/supervisor"
	"relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration // default 10s
	SendTimeout time.Duration // default 10s
}

func (c Config) withDefaults() Config {
	if c.PollTimeout <= 0 {
		c.PollTimeout = 10 * time.Second
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
	return c
}

// messageSender is the part of *tele.Bot used for outbound messages.
type messageSender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// menuSetter is the part of *tele.Bot that manages command menus.
type menuSetter interface {
	SetCommands(opts ...interface{}) error
	DeleteCommands(opts ...interface{}) error
}

type Adapter struct {
	cfg Config
	log logx.Logger

	bot    *tele.Bot
	sender messageSender
	menus  menuSetter

	out     atomic.Value // chan<- transport.Update
	dropped atomic.Uint64

	runMu   sync.Mutex
	running bool
	sup     *supervisor.Supervisor

	menuMu   sync.Mutex
	menuHash map[transport.MenuScope]uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	cfg = cfg.withDefaults()
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log}

	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: cfg.PollTimeout},
		// Must outlive a long poll; single sends are bounded separately.
		Client: &http.Client{Timeout: cfg.PollTimeout + cfg.SendTimeout + 5*time.Second},
		OnError: func(err error, c tele.Context) {
			a.log.Warn("telebot error", logx.Err(err))
		},
	})
	if err != nil {
		return nil, err
	}
	a.bot, a.sender, a.menus = b, b, b

	var nilOut chan<- transport.Update
	a.out.Store(nilOut)
	a.registerHandlers()
	return a, nil
}

func (a *Adapter) registerHandlers() {
	forward := func(c tele.Context) error {
		if up, ok := toUpdate(c.Message()); ok {
			a.sendUpdate(up)
		}
		return nil
	}
	// Unhandled commands fall through to OnText; media without a specific
	// handler falls through to OnMedia.
	a.bot.Handle(tele.OnText, forward)
	a.bot.Handle(tele.OnMedia, forward)
	a.bot.Handle(tele.OnLocation, forward)
	a.bot.Handle(tele.OnContact, forward)
}

func toUpdate(m *tele.Message) (transport.Update, bool) {
	if m == nil || m.Sender == nil || m.Chat == nil {
		return transport.Update{}, false
	}
	msg := &transport.Message{
		ID:            m.ID,
		ChatID:        m.Chat.ID,
		FromID:        m.Sender.ID,
		FromUsername:  m.Sender.Username,
		FromFirstName: m.Sender.FirstName,
		FromLastName:  m.Sender.LastName,
		Text:          m.Text,
		HasText:       m.Text != "",
	}
	if m.ReplyTo != nil {
		msg.ReplyToID = m.ReplyTo.ID
	}
	return transport.Update{Kind: transport.UpdateMessage, Message: msg}, true
}

func (a *Adapter) sendUpdate(up transport.Update) {
	out, _ := a.out.Load().(chan<- transport.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		a.dropped.Add(1)
	}
}

// Start begins long polling and delivers updates into out. It returns
// immediately; polling runs until Stop or ctx cancellation.
func (a *Adapter) Start(ctx context.Context, out chan<- transport.Update) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log))
	sup := a.sup
	a.runMu.Unlock()

	sup.Go0("updates.drop_report", func(c context.Context) {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		report := func() {
			if n := a.dropped.Swap(0); n > 0 {
				a.log.Warn("incoming updates dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", cap(out)))
			}
		}
		for {
			select {
			case <-c.Done():
				report()
				return
			case <-ticker.C:
				report()
			}
		}
	})

	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})

	// bot.Start blocks until Stop; restart it if it returns early.
	sup.GoRestart("telebot.poll", func(c context.Context) error {
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
		return nil
	},
		supervisor.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		supervisor.WithPublishFirstError(true),
		supervisor.WithStopOnCleanExit(false),
	)
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	var nilOut chan<- transport.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning || sup == nil {
		return nil
	}
	a.log.Info("stopping")
	sup.Cancel()

	// A pending getUpdates may hold the poller; do not wait on it for long.
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	if err := sup.Wait(wctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			a.log.Warn("telegram stop timed out", logx.Err(err))
			return nil
		}
		a.log.Debug("telegram stopped with supervisor error", logx.Err(err))
	}
	return nil
}

// SendText delivers text, split into several messages when it exceeds the
// Telegram limit. Each part is bounded by the configured send timeout.
// Failures are *transport.DeliveryError.
func (a *Adapter) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	if opt == nil {
		opt = &transport.SendOptions{}
	}
	chunks := splitTelegramText(text, telegramTextLimit, opt.ParseMode)
	chat := &tele.Chat{ID: to.ChatID}

	var ref transport.MessageRef
	for i, chunk := range chunks {
		sendOpt := &tele.SendOptions{
			ParseMode:             opt.ParseMode,
			DisableWebPagePreview: opt.DisablePreview,
		}
		if i == 0 && opt.ReplyTo != 0 {
			sendOpt.ReplyTo = &tele.Message{ID: opt.ReplyTo, Chat: chat}
		}

		msg, err := a.sendOne(ctx, chat, chunk, sendOpt)
		if err != nil {
			return ref, &transport.DeliveryError{ChatID: to.ChatID, Kind: classify(err), Err: err}
		}
		if i == 0 {
			ref = transport.MessageRef{ChatID: to.ChatID, MessageID: msg.ID}
		} else {
			ref.PartIDs = append(ref.PartIDs, msg.ID)
		}
	}
	return ref, nil
}

// sendOne runs a single Bot API call under sendTimeout. telebot has no
// context support, so an abandoned call finishes in the background and is
// cut off by the HTTP client timeout.
func (a *Adapter) sendOne(ctx context.Context, chat *tele.Chat, text string, opt *tele.SendOptions) (*tele.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.SendTimeout)
	defer cancel()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type result struct {
		msg *tele.Message
		err error
	}
	done := make(chan result, 1)
	go func() {
		m, err := a.sender.Send(chat, text, opt)
		done <- result{m, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		if r.err == nil && r.msg == nil {
			return nil, errors.New("empty response")
		}
		return r.msg, r.err
	}
}

// UpdateMenuCommands sets the command menu for scope. It is a no-op when the
// list is unchanged since the last successful call for that scope.
func (a *Adapter) UpdateMenuCommands(ctx context.Context, scope transport.MenuScope, cmds []transport.BotCommand) error {
	a.menuMu.Lock()
	defer a.menuMu.Unlock()

	h := fnv.New64a()
	list := make([]tele.Command, 0, len(cmds))
	for _, c := range cmds {
		if c.Command == "" {
			continue
		}
		d := c.Description
		if d == "" {
			d = c.Command
		}
		_, _ = h.Write([]byte(c.Command + "\x00" + d + "\x00"))
		list = append(list, tele.Command{Text: c.Command, Description: d})
	}
	sum := h.Sum64()
	if prev, ok := a.menuHash[scope]; ok && prev == sum {
		return nil
	}

	if err := a.menuCall(ctx, func() error { return a.menus.SetCommands(list, teleScope(scope)) }); err != nil {
		return err
	}
	if a.menuHash == nil {
		a.menuHash = map[transport.MenuScope]uint64{}
	}
	a.menuHash[scope] = sum
	a.log.Info("menu commands updated", logx.Int("count", len(list)), logx.Int64("scope_chat_id", scope.ChatID))
	return nil
}

// DeleteMenuCommands removes the menu of scope so the chat falls back to the
// default list.
func (a *Adapter) DeleteMenuCommands(ctx context.Context, scope transport.MenuScope) error {
	a.menuMu.Lock()
	defer a.menuMu.Unlock()
	if err := a.menuCall(ctx, func() error { return a.menus.DeleteCommands(teleScope(scope)) }); err != nil {
		return err
	}
	delete(a.menuHash, scope)
	return nil
}

// menuCall runs a Bot API call that has no context support under ctx.
func (a *Adapter) menuCall(ctx context.Context, fn func() error) error {
	errc := make(chan error, 1)
	go func() { errc <- fn() }()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errc:
		return err
	}
}

func teleScope(s transport.MenuScope) tele.CommandScope {
	if s.ChatID == 0 {
		return tele.CommandScope{Type: tele.CommandScopeDefault}
	}
	return tele.CommandScope{Type: tele.CommandScopeChat, ChatID: s.ChatID}
}

var _ transport.Adapter = (*Adapter)(nil)
var _ transport.CommandMenuUpdater = (*Adapter)(nil)
