package relay

// Event types published on the event bus.
const (
	EventUserForwarded = "user.forwarded"
	EventAdminReplied  = "admin.replied"
	EventUserBlocked   = "user.blocked"
	EventUserUnblocked = "user.unblocked"
	EventBroadcastDone = "broadcast.done"
)

type ForwardedEvent struct {
	UserID      int64
	ForwardedID int
	NewUser     bool
}

type RepliedEvent struct {
	UserID int64
}

type BlockEvent struct {
	UserID int64
}

type BroadcastEvent struct {
	Total     int
	Delivered int
	Failed    int
	Skipped   int
}
