package relay

import (
	"context"
	"errors"
	"slices"
	"testing"

	"relaybot/internal/storage"
	logx "relaybot/pkg/logx"
)

func TestRegisterUserWritesOnlyWhenNew(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	d := NewDirectory(store, logx.Nop())

	added, err := d.RegisterUser(ctx, 42)
	if err != nil || !added {
		t.Fatalf("first register: added=%v err=%v", added, err)
	}
	added, err = d.RegisterUser(ctx, 42)
	if err != nil || added {
		t.Fatalf("second register: added=%v err=%v", added, err)
	}
	if n := store.writeCount(CollectionKnownUsers); n != 1 {
		t.Fatalf("known_users writes=%d want 1", n)
	}
}

func TestBlockIsIdempotent(t *testing.T) {
	ctx := context.Background()
	d := NewDirectory(newMemStore(), logx.Nop())

	for i := 0; i < 2; i++ {
		if err := d.Block(ctx, 7); err != nil {
			t.Fatalf("block #%d: %v", i, err)
		}
	}
	if got := d.ListBlocked(); !slices.Equal(got, []int64{7}) {
		t.Fatalf("blocked=%v", got)
	}
}

func TestUnblockAbsentDoesNotWrite(t *testing.T) {
	store := newMemStore()
	d := NewDirectory(store, logx.Nop())

	removed, err := d.Unblock(context.Background(), 99)
	if err != nil || removed {
		t.Fatalf("removed=%v err=%v", removed, err)
	}
	if n := store.writeCount(CollectionBlockedUsers); n != 0 {
		t.Fatalf("blocked_users writes=%d want 0", n)
	}
}

func TestListBlockedAscending(t *testing.T) {
	ctx := context.Background()
	d := NewDirectory(nil, logx.Nop())
	for _, id := range []int64{30, 10, 20} {
		_ = d.Block(ctx, id)
	}
	if got := d.ListBlocked(); !slices.Equal(got, []int64{10, 20, 30}) {
		t.Fatalf("blocked=%v", got)
	}
}

func TestPersistenceFailureKeepsMemoryState(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.fail = errors.New("disk full")
	d := NewDirectory(store, logx.Nop())

	err := d.RecordForward(ctx, 501, 8)
	var pe *PersistenceError
	if !errors.As(err, &pe) {
		t.Fatalf("err=%v want PersistenceError", err)
	}
	if pe.Collection != CollectionMessageMap {
		t.Fatalf("collection=%q", pe.Collection)
	}
	if uid, ok := d.ResolveOriginalSender(501); !ok || uid != 8 {
		t.Fatalf("resolve=%d,%v want 8,true", uid, ok)
	}

	if err := d.Block(ctx, 3); !errors.As(err, &pe) {
		t.Fatalf("block err=%v", err)
	}
	if !d.IsBlocked(3) {
		t.Fatal("block should apply in memory")
	}
}

func TestRecordForwardRegistersSender(t *testing.T) {
	d := NewDirectory(nil, logx.Nop())
	_ = d.RecordForward(context.Background(), 1, 55)
	if got := d.ListKnownUsers(); !slices.Equal(got, []int64{55}) {
		t.Fatalf("known=%v", got)
	}
}

func TestMappingSurvivesReload(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	st, err := storage.Open(storage.Config{Driver: "file", Path: dir}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	d := NewDirectory(st, logx.Nop())
	for _, id := range []int64{30, 10, 20} {
		if _, err := d.RegisterUser(ctx, id); err != nil {
			t.Fatal(err)
		}
	}
	if err := d.RecordForward(ctx, 777, 20); err != nil {
		t.Fatal(err)
	}
	if err := d.Block(ctx, 10); err != nil {
		t.Fatal(err)
	}
	_ = st.Close()

	st2, err := storage.Open(storage.Config{Driver: "file", Path: dir}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer st2.Close()
	d2 := NewDirectory(st2, logx.Nop())
	if err := d2.Load(ctx); err != nil {
		t.Fatal(err)
	}

	known := d2.ListKnownUsers()
	slices.Sort(known)
	if !slices.Equal(known, []int64{10, 20, 30}) {
		t.Fatalf("known=%v", known)
	}
	if uid, ok := d2.ResolveOriginalSender(777); !ok || uid != 20 {
		t.Fatalf("resolve=%d,%v", uid, ok)
	}
	if !d2.IsBlocked(10) || d2.IsBlocked(20) {
		t.Fatalf("blocked=%v", d2.ListBlocked())
	}
	if st := d2.Stats(); st != (Stats{KnownUsers: 3, BlockedUsers: 1, Forwarded: 1}) {
		t.Fatalf("stats=%+v", st)
	}
}
