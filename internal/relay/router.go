package relay

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"relaybot/internal/broadcast"
	"relaybot/internal/dispatch"
	"relaybot/internal/eventbus"
	"relaybot/internal/storage"
	"relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

// Broadcaster fans one text out to every eligible user.
type Broadcaster interface {
	Run(ctx context.Context, text string) broadcast.Result
}

// Spawner runs fn on a supervised goroutine bound to the process lifetime.
type Spawner interface {
	Go0(name string, fn func(ctx context.Context))
}

// Config holds the Router settings that may change while running.
type Config struct {
	AdminID int64
	Welcome string
}

const (
	cmdStart   = "start"
	cmdSendAll = "sendall"
	cmdCancel  = "cancel"
	cmdBlock   = "block"
	cmdUnblock = "unblock"
	cmdBlocked = "blocked"
	cmdStats   = "stats"
	cmdHelp    = "help"
)

var adminCommands = map[string]bool{
	cmdSendAll: true,
	cmdCancel:  true,
	cmdBlock:   true,
	cmdUnblock: true,
	cmdBlocked: true,
	cmdStats:   true,
	cmdHelp:    true,
}

// PublicCommands is the menu every chat sees.
func PublicCommands() []transport.BotCommand {
	return []transport.BotCommand{
		{Command: cmdStart, Description: "show the welcome message"},
	}
}

// AdminCommands is the menu shown in the administrator's chat only.
func AdminCommands() []transport.BotCommand {
	return []transport.BotCommand{
		{Command: cmdStart, Description: "show the welcome message"},
		{Command: cmdSendAll, Description: "broadcast the next message"},
		{Command: cmdCancel, Description: "abort a pending broadcast"},
		{Command: cmdBlock, Description: "block a user id"},
		{Command: cmdUnblock, Description: "unblock a user id"},
		{Command: cmdBlocked, Description: "list blocked users"},
		{Command: cmdStats, Description: "show relay counters"},
		{Command: cmdHelp, Description: "admin help"},
	}
}

// Router classifies each inbound message and runs the matching path.
type Router struct {
	dir    *Directory
	sender transport.Sender
	bc     Broadcaster
	bus    eventbus.Bus
	log    logx.Logger

	cfg      atomic.Pointer[Config]
	sessions sessions

	bg           Spawner
	broadcasting atomic.Bool
}

func NewRouter(cfg Config, dir *Directory, sender transport.Sender, bc Broadcaster, bus eventbus.Bus, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	r := &Router{dir: dir, sender: sender, bc: bc, bus: bus, log: log}
	r.Apply(cfg)
	return r
}

// Apply swaps the live settings. The administrator id is read again for
// every event.
func (r *Router) Apply(cfg Config) {
	if strings.TrimSpace(cfg.Welcome) == "" {
		cfg.Welcome = DefaultWelcome
	}
	r.cfg.Store(&cfg)
}

// SetSpawner moves broadcasts off the calling dispatch worker. Without one a
// broadcast runs inside Handle. Call before the first Handle.
func (r *Router) SetSpawner(s Spawner) { r.bg = s }

// Session returns the session of the given administrator.
func (r *Router) Session(adminID int64) *Session { return r.sessions.get(adminID) }

// Handle is a dispatch.HandlerFunc.
func (r *Router) Handle(ctx context.Context, req *dispatch.Request) error {
	msg := req.Update.Message
	if msg == nil {
		return nil
	}
	cfg := r.cfg.Load()
	log := req.Logger
	if log.IsZero() {
		log = r.log
	}
	isAdmin := cfg.AdminID != 0 && msg.FromID == cfg.AdminID

	// Recognised commands take precedence over the reply and broadcast paths.
	if cmd, args, ok := parseCommand(msg); ok {
		switch {
		case cmd == cmdStart:
			return r.reply(ctx, msg, cfg.Welcome)
		case adminCommands[cmd]:
			if !isAdmin {
				log.Debug("admin command from non-admin ignored", logx.String("cmd", cmd))
				return nil
			}
			return r.handleCommand(ctx, log.With(logx.String("cmd", cmd)), msg, cmd, args)
		}
	}

	if !isAdmin {
		return r.handleUserMessage(ctx, log, msg, cfg.AdminID)
	}
	if msg.ReplyToID != 0 {
		return r.handleAdminReply(ctx, log, msg)
	}

	sess := r.sessions.get(msg.FromID)
	if sess.State() == SessionAwaitingBroadcastPayload {
		if !msg.HasText {
			return r.reply(ctx, msg, txtBroadcastText)
		}
		if r.broadcasting.Load() {
			return r.reply(ctx, msg, txtBroadcastBusy)
		}
		if sess.TakeBroadcast() {
			return r.handleBroadcast(ctx, log, msg)
		}
	}
	return r.reply(ctx, msg, txtAdminHint)
}

func (r *Router) handleUserMessage(ctx context.Context, log logx.Logger, msg *transport.Message, adminID int64) error {
	if r.dir.IsBlocked(msg.FromID) {
		log.Debug("message from blocked user dropped")
		return nil
	}
	// A failed write is already logged by the directory; keep relaying.
	isNew, _ := r.dir.RegisterUser(ctx, msg.FromID)

	if adminID == 0 {
		log.Warn("no administrator configured; message not forwarded")
		return nil
	}
	ref, err := r.sender.SendText(ctx, transport.ChatTarget{ChatID: adminID}, forwardText(msg), nil)
	if err != nil {
		log.Warn("could not forward message", deliveryFields(err)...)
		return nil
	}
	for _, id := range ref.IDs() {
		_ = r.dir.RecordForward(ctx, id, msg.FromID)
	}
	r.publish(EventUserForwarded, ForwardedEvent{UserID: msg.FromID, ForwardedID: ref.MessageID, NewUser: isNew})
	return nil
}

func (r *Router) handleAdminReply(ctx context.Context, log logx.Logger, msg *transport.Message) error {
	uid, ok := r.dir.ResolveOriginalSender(msg.ReplyToID)
	if !ok {
		return r.reply(ctx, msg, txtNoUserForReply)
	}
	if r.dir.IsBlocked(uid) {
		return r.reply(ctx, msg, txtReplyBlocked)
	}
	if !msg.HasText {
		return r.reply(ctx, msg, txtReplyNeedsText)
	}
	if _, err := r.sender.SendText(ctx, transport.ChatTarget{ChatID: uid}, msg.Text, nil); err != nil {
		log.Warn("admin reply not delivered", append(deliveryFields(err), logx.Int64("user_id", uid))...)
		return r.reply(ctx, msg, "❌ Failed to send message: "+err.Error())
	}
	r.publish(EventAdminReplied, RepliedEvent{UserID: uid})
	return nil
}

// handleBroadcast runs one broadcast at a time. With a Spawner the fan-out
// continues after Handle returns and the report is sent when it ends.
func (r *Router) handleBroadcast(ctx context.Context, log logx.Logger, msg *transport.Message) error {
	if !r.broadcasting.CompareAndSwap(false, true) {
		return r.reply(ctx, msg, txtBroadcastBusy)
	}
	if r.bg == nil {
		defer r.broadcasting.Store(false)
		return r.runBroadcast(ctx, log, msg)
	}
	r.bg.Go0("relay.broadcast", func(c context.Context) {
		defer r.broadcasting.Store(false)
		if err := r.runBroadcast(c, log, msg); err != nil {
			log.Warn("broadcast report not delivered", deliveryFields(err)...)
		}
	})
	return r.reply(ctx, msg, txtBroadcastStart)
}

func (r *Router) runBroadcast(ctx context.Context, log logx.Logger, msg *transport.Message) error {
	res := r.bc.Run(ctx, msg.Text)
	r.dir.Audit(ctx, storage.AuditEntry{
		At:      time.Now(),
		ActorID: msg.FromID,
		Action:  cmdSendAll,
		OK:      res.Delivered,
		Fail:    res.Failed,
		TookMS:  res.Took.Milliseconds(),
	})
	r.publish(EventBroadcastDone, BroadcastEvent{Total: res.Total, Delivered: res.Delivered, Failed: res.Failed, Skipped: res.Skipped})
	log.Info("broadcast completed", logx.Int("delivered", res.Delivered), logx.Int("failed", res.Failed))
	return r.reply(ctx, msg, broadcastDoneText(res.Delivered, res.Failed))
}

func (r *Router) handleCommand(ctx context.Context, log logx.Logger, msg *transport.Message, cmd string, args []string) error {
	switch cmd {
	case cmdSendAll:
		r.sessions.get(msg.FromID).BeginBroadcast()
		return r.reply(ctx, msg, txtBroadcastPrompt)

	case cmdCancel:
		if r.sessions.get(msg.FromID).TakeBroadcast() {
			return r.reply(ctx, msg, txtCancelled)
		}
		return r.reply(ctx, msg, txtNothingToCancel)

	case cmdBlock, cmdUnblock:
		uid, err := parseUserID(args)
		if err != nil {
			if errors.Is(err, errMissingArg) {
				return r.reply(ctx, msg, usageText(cmd))
			}
			log.Debug("bad user id", logx.Err(err))
			return r.reply(ctx, msg, txtInvalidUserID)
		}
		if cmd == cmdBlock {
			return r.block(ctx, msg, uid)
		}
		return r.unblock(ctx, msg, uid)

	case cmdBlocked:
		return r.reply(ctx, msg, blockedListText(r.dir.ListBlocked()))

	case cmdStats:
		return r.reply(ctx, msg, statsText(r.dir.Stats()))

	case cmdHelp:
		return r.reply(ctx, msg, txtHelp)
	}
	return nil
}

func (r *Router) block(ctx context.Context, msg *transport.Message, uid int64) error {
	err := r.dir.Block(ctx, uid)
	r.audit(ctx, msg.FromID, cmdBlock, uid, err)
	r.publish(EventUserBlocked, BlockEvent{UserID: uid})
	return r.reply(ctx, msg, withPersistWarning("🚫 Blocked user "+strconv.FormatInt(uid, 10)+".", err))
}

func (r *Router) unblock(ctx context.Context, msg *transport.Message, uid int64) error {
	removed, err := r.dir.Unblock(ctx, uid)
	if !removed {
		return r.reply(ctx, msg, "ℹ User "+strconv.FormatInt(uid, 10)+" is not blocked.")
	}
	r.audit(ctx, msg.FromID, cmdUnblock, uid, err)
	r.publish(EventUserUnblocked, BlockEvent{UserID: uid})
	return r.reply(ctx, msg, withPersistWarning("✅ Unblocked user "+strconv.FormatInt(uid, 10)+".", err))
}

func (r *Router) audit(ctx context.Context, actor int64, action string, target int64, err error) {
	e := storage.AuditEntry{At: time.Now(), ActorID: actor, Action: action, Target: strconv.FormatInt(target, 10)}
	if err != nil {
		e.Error = err.Error()
	}
	r.dir.Audit(ctx, e)
}

// reply answers in the chat the message came from. Delivery failures are
// returned so the request log records them.
func (r *Router) reply(ctx context.Context, msg *transport.Message, text string) error {
	_, err := r.sender.SendText(ctx, transport.ChatTarget{ChatID: msg.ChatID}, text, &transport.SendOptions{DisablePreview: true})
	return err
}

func (r *Router) publish(typ string, data any) {
	r.bus.Publish(eventbus.Event{Type: typ, Data: data})
}

func deliveryFields(err error) []logx.Field {
	fields := []logx.Field{logx.Err(err)}
	var de *transport.DeliveryError
	if errors.As(err, &de) {
		fields = append(fields, logx.String("kind", string(de.Kind)))
	}
	return fields
}

// parseCommand splits "/cmd[@bot] args..." into a lower-case command word and
// its arguments.
func parseCommand(msg *transport.Message) (string, []string, bool) {
	if !msg.HasText {
		return "", nil, false
	}
	fields := strings.Fields(msg.Text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", nil, false
	}
	word := strings.TrimPrefix(fields[0], "/")
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	if word == "" {
		return "", nil, false
	}
	return strings.ToLower(word), fields[1:], true
}

func parseUserID(args []string) (int64, error) {
	if len(args) == 0 {
		return 0, errMissingArg
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return 0, &ValidationError{Arg: args[0], Reason: "not an integer"}
	}
	if id <= 0 {
		return 0, &ValidationError{Arg: args[0], Reason: "must be positive"}
	}
	return id, nil
}
