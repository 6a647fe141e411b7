package broadcast

import (
	"context"
	"errors"
	"sync"
	"testing"

	"relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

type fakeRoster struct {
	mu      sync.Mutex
	known   []int64
	blocked map[int64]bool
	// blockOnCheck ids become blocked right after their first lookup.
	blockOnCheck map[int64]bool
}

func (r *fakeRoster) ListKnownUsers() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.known...)
}

func (r *fakeRoster) IsBlocked(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.blocked[id]
	if r.blockOnCheck[id] {
		delete(r.blockOnCheck, id)
		r.blocked[id] = true
	}
	return b
}

func (r *fakeRoster) block(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blocked[id] = true
}

type fakeSender struct {
	mu     sync.Mutex
	fail   map[int64]bool
	sent   map[int64][]string
	onSend func(chatID int64)
}

func (s *fakeSender) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	if s.onSend != nil {
		s.onSend(to.ChatID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail[to.ChatID] {
		return transport.MessageRef{}, &transport.DeliveryError{ChatID: to.ChatID, Kind: transport.DeliveryBlocked, Err: errors.New("bot was blocked by the user")}
	}
	if s.sent == nil {
		s.sent = map[int64][]string{}
	}
	s.sent[to.ChatID] = append(s.sent[to.ChatID], text)
	return transport.MessageRef{ChatID: to.ChatID, MessageID: len(s.sent)}, nil
}

func TestRunSkipsBlocked(t *testing.T) {
	roster := &fakeRoster{known: []int64{1, 2, 3}, blocked: map[int64]bool{2: true}}
	sender := &fakeSender{}
	e := New(Config{Workers: 2}, roster, sender, logx.Nop())

	res := e.Run(context.Background(), "hello")

	if res.Delivered != 2 || res.Skipped != 1 || res.Failed != 0 || res.Total != 3 {
		t.Fatalf("result=%+v", res)
	}
	if _, ok := sender.sent[2]; ok {
		t.Fatal("blocked user received the broadcast")
	}
	for _, id := range []int64{1, 3} {
		if got := sender.sent[id]; len(got) != 1 || got[0] != "hello" {
			t.Fatalf("user %d got %v", id, got)
		}
	}
}

func TestRunCountsOnlySuccesses(t *testing.T) {
	roster := &fakeRoster{known: []int64{1, 2, 3}}
	sender := &fakeSender{fail: map[int64]bool{2: true}}
	e := New(Config{Workers: 3, RatePerSec: 1000}, roster, sender, logx.Nop())

	if got := e.Broadcast(context.Background(), "x"); got != 2 {
		t.Fatalf("delivered=%d want 2", got)
	}
}

func TestRunEmptyRoster(t *testing.T) {
	e := New(Config{}, &fakeRoster{}, &fakeSender{}, logx.Nop())
	if res := e.Run(context.Background(), "x"); res.Total != 0 || res.Delivered != 0 {
		t.Fatalf("result=%+v", res)
	}
}

func TestRunCancelledContextFails(t *testing.T) {
	roster := &fakeRoster{known: []int64{1, 2}}
	e := New(Config{Workers: 1, RatePerSec: 1}, roster, &fakeSender{}, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := e.Run(ctx, "x")
	if res.Delivered != 0 || res.Failed != 2 {
		t.Fatalf("result=%+v", res)
	}
}

func TestBlockedAfterScheduleIsSkipped(t *testing.T) {
	// User 2 passes the snapshot filter and is blocked before its send.
	roster := &fakeRoster{
		known:        []int64{1, 2, 3},
		blocked:      map[int64]bool{},
		blockOnCheck: map[int64]bool{2: true},
	}
	sender := &fakeSender{}
	e := New(Config{Workers: 3}, roster, sender, logx.Nop())

	res := e.Run(context.Background(), "hello")

	if _, ok := sender.sent[2]; ok {
		t.Fatal("user blocked before the send got the broadcast")
	}
	if res.Delivered != 2 || res.Skipped != 1 || res.Total != 3 {
		t.Fatalf("result=%+v", res)
	}
}

func TestBlockedDuringRunIsSkipped(t *testing.T) {
	roster := &fakeRoster{known: []int64{1, 2}, blocked: map[int64]bool{}}
	sender := &fakeSender{}
	// One worker: user 2 is only looked at after user 1's send.
	sender.onSend = func(chatID int64) {
		if chatID == 1 {
			roster.block(2)
		}
	}
	e := New(Config{Workers: 1}, roster, sender, logx.Nop())

	res := e.Run(context.Background(), "hello")

	if _, ok := sender.sent[2]; ok {
		t.Fatal("user blocked mid-run got the broadcast")
	}
	if res.Delivered != 1 || res.Skipped != 1 || res.Failed != 0 {
		t.Fatalf("result=%+v", res)
	}
}
