package transport

import "context"

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
}

// Message is an inbound chat message, already stripped of transport details.
type Message struct {
	ID     int
	ChatID int64
	FromID int64

	FromUsername  string // without "@", empty if the sender has none
	FromFirstName string
	FromLastName  string

	// Text is only meaningful when HasText is true; media and stickers
	// arrive with HasText=false.
	Text    string
	HasText bool

	// ReplyToID is the id of the message this one replies to (0 if none).
	ReplyToID int
}

// DisplayName joins first and last name the way chat clients show them.
func (m *Message) DisplayName() string {
	if m.FromLastName == "" {
		return m.FromFirstName
	}
	if m.FromFirstName == "" {
		return m.FromLastName
	}
	return m.FromFirstName + " " + m.FromLastName
}

type ChatTarget struct {
	ChatID int64
}

type MessageRef struct {
	ChatID    int64
	MessageID int
	// PartIDs holds the ids of continuation messages when the text had to be
	// split. MessageID is always the first part.
	PartIDs []int
}

// IDs returns MessageID followed by PartIDs.
func (r MessageRef) IDs() []int {
	if r.MessageID == 0 {
		return nil
	}
	return append([]int{r.MessageID}, r.PartIDs...)
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	ReplyTo        int // reply to this message id in the target chat (0 = none)
}

// Sender is the outbound half of an adapter. SendText returns a
// *DeliveryError on failure.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

type Adapter interface {
	Sender
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error
}

// BotCommand represents a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// MenuScope selects who sees a command menu. The zero value is everyone.
type MenuScope struct {
	ChatID int64
}

// CommandMenuUpdater is an optional interface that adapters can implement
// to update platform-specific bot command menus (e.g. Telegram /menu list).
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, scope MenuScope, cmds []BotCommand) error
	DeleteMenuCommands(ctx context.Context, scope MenuScope) error
}
