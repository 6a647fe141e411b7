package storage

import (
	"context"
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage.
//
// Driver values:
//   - "file": Path is a directory (default "./data")
//   - "sqlite": Path is the database file
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// State is a full snapshot of the persisted collections.
type State struct {
	KnownUsers   []int64
	BlockedUsers []int64
	// MessageMap maps the id of a forwarded copy in the admin chat to the
	// user who sent the original.
	MessageMap map[int]int64
}

// AuditEntry records an administrator action.
type AuditEntry struct {
	At      time.Time `json:"at"`
	ActorID int64     `json:"actor_id"`
	Action  string    `json:"action"`
	Target  string    `json:"target,omitempty"`
	OK      int       `json:"ok,omitempty"`
	Fail    int       `json:"fail,omitempty"`
	Error   string    `json:"error,omitempty"`
	TookMS  int64     `json:"took_ms,omitempty"`
}

// Store is the persistence API used by the relay directory. Save methods
// replace the stored collection with the given snapshot.
type Store interface {
	Load(ctx context.Context) (State, error)
	SaveKnownUsers(ctx context.Context, ids []int64) error
	SaveBlockedUsers(ctx context.Context, ids []int64) error
	SaveMessageMap(ctx context.Context, m map[int]int64) error
	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}
