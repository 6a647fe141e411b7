package relay

import (
	"context"
	"slices"
	"sync"

	"relaybot/internal/storage"
	logx "relaybot/pkg/logx"
)

// Directory is the in-memory owner of the relay state. Every mutation is
// written through to the store while holding the write lock, so a reader never
// observes a value that is about to be overwritten by an in-flight mutation.
//
// A nil store keeps the directory memory-only.
type Directory struct {
	store storage.Store
	log   logx.Logger

	mu       sync.RWMutex
	known    map[int64]struct{}
	blocked  map[int64]struct{}
	messages map[int]int64
}

// Stats is a point-in-time size summary of the directory.
type Stats struct {
	KnownUsers   int
	BlockedUsers int
	Forwarded    int
}

func NewDirectory(store storage.Store, log logx.Logger) *Directory {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Directory{
		store:    store,
		log:      log,
		known:    map[int64]struct{}{},
		blocked:  map[int64]struct{}{},
		messages: map[int]int64{},
	}
}

// Load replaces the in-memory state with the store's contents. It is meant to
// run once, before any event is handled.
func (d *Directory) Load(ctx context.Context) error {
	if d.store == nil {
		return nil
	}
	st, err := d.store.Load(ctx)
	if err != nil {
		return err
	}

	known := make(map[int64]struct{}, len(st.KnownUsers))
	for _, id := range st.KnownUsers {
		known[id] = struct{}{}
	}
	blocked := make(map[int64]struct{}, len(st.BlockedUsers))
	for _, id := range st.BlockedUsers {
		blocked[id] = struct{}{}
	}
	messages := make(map[int]int64, len(st.MessageMap))
	for fwd, uid := range st.MessageMap {
		messages[fwd] = uid
		// Older state files may predate the known-users file.
		known[uid] = struct{}{}
	}

	d.mu.Lock()
	d.known, d.blocked, d.messages = known, blocked, messages
	d.mu.Unlock()

	d.log.Info("relay state loaded",
		logx.Int("known_users", len(known)),
		logx.Int("blocked_users", len(blocked)),
		logx.Int("forwarded", len(messages)),
	)
	return nil
}

func (d *Directory) IsBlocked(id int64) bool {
	d.mu.RLock()
	_, ok := d.blocked[id]
	d.mu.RUnlock()
	return ok
}

// RegisterUser adds id to the known users. It writes to the store only when
// the id is new and reports whether it was.
func (d *Directory) RegisterUser(ctx context.Context, id int64) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.known[id]; ok {
		return false, nil
	}
	d.known[id] = struct{}{}
	return true, d.persistKnownLocked(ctx)
}

// Block adds id to the blocked users and always persists.
func (d *Directory) Block(ctx context.Context, id int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.blocked[id] = struct{}{}
	return d.persistBlockedLocked(ctx)
}

// Unblock removes id and reports whether it was blocked. Nothing is written
// when it was not.
func (d *Directory) Unblock(ctx context.Context, id int64) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.blocked[id]; !ok {
		return false, nil
	}
	delete(d.blocked, id)
	return true, d.persistBlockedLocked(ctx)
}

// RecordForward maps a forwarded copy back to its sender and persists the map.
// The sender is also registered so known users stay a superset of the map's
// values.
func (d *Directory) RecordForward(ctx context.Context, forwardedID int, userID int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.messages[forwardedID] = userID

	var knownErr error
	if _, ok := d.known[userID]; !ok {
		d.known[userID] = struct{}{}
		knownErr = d.persistKnownLocked(ctx)
	}
	if err := d.persistMessagesLocked(ctx); err != nil {
		return err
	}
	return knownErr
}

func (d *Directory) ResolveOriginalSender(forwardedID int) (int64, bool) {
	d.mu.RLock()
	uid, ok := d.messages[forwardedID]
	d.mu.RUnlock()
	return uid, ok
}

// ListBlocked returns the blocked ids in ascending order.
func (d *Directory) ListBlocked() []int64 {
	d.mu.RLock()
	out := keys(d.blocked)
	d.mu.RUnlock()
	slices.Sort(out)
	return out
}

// ListKnownUsers returns a snapshot of the known ids. Users registered after
// the call are not included.
func (d *Directory) ListKnownUsers() []int64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return keys(d.known)
}

func (d *Directory) Stats() Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return Stats{KnownUsers: len(d.known), BlockedUsers: len(d.blocked), Forwarded: len(d.messages)}
}

// Audit appends an administrator action to the store's audit log. Failures
// are logged and otherwise ignored.
func (d *Directory) Audit(ctx context.Context, e storage.AuditEntry) {
	if d.store == nil {
		return
	}
	if err := d.store.AppendAudit(ctx, e); err != nil {
		d.log.Warn("audit append failed", logx.String("action", e.Action), logx.Err(err))
	}
}

func (d *Directory) persistKnownLocked(ctx context.Context) error {
	if d.store == nil {
		return nil
	}
	return d.persistErr(CollectionKnownUsers, d.store.SaveKnownUsers(ctx, keys(d.known)))
}

func (d *Directory) persistBlockedLocked(ctx context.Context) error {
	if d.store == nil {
		return nil
	}
	return d.persistErr(CollectionBlockedUsers, d.store.SaveBlockedUsers(ctx, keys(d.blocked)))
}

func (d *Directory) persistMessagesLocked(ctx context.Context) error {
	if d.store == nil {
		return nil
	}
	return d.persistErr(CollectionMessageMap, d.store.SaveMessageMap(ctx, d.messages))
}

func (d *Directory) persistErr(collection string, err error) error {
	if err == nil {
		return nil
	}
	d.log.Error("state write failed; in-memory state kept",
		logx.String("collection", collection),
		logx.Err(err),
	)
	return &PersistenceError{Collection: collection, Err: err}
}

func keys(m map[int64]struct{}) []int64 {
	out := make([]int64, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	return out
}
