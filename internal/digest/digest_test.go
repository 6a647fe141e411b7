package digest

import (
	"context"
	"strings"
	"sync"
	"testing"

	"relaybot/internal/relay"
	"relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

type fixedSource struct{ st relay.Stats }

func (s *fixedSource) Stats() relay.Stats { return s.st }

type captureSender struct {
	mu   sync.Mutex
	to   []int64
	text []string
}

func (c *captureSender) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.to = append(c.to, to.ChatID)
	c.text = append(c.text, text)
	return transport.MessageRef{ChatID: to.ChatID, MessageID: len(c.text)}, nil
}

func TestSendReportsDeltas(t *testing.T) {
	src := &fixedSource{st: relay.Stats{KnownUsers: 10, BlockedUsers: 1, Forwarded: 40}}
	sender := &captureSender{}
	d := New(src, sender, logx.Nop())
	if err := d.Apply(Config{AdminID: 5}); err != nil {
		t.Fatal(err)
	}

	if err := d.Send(context.Background()); err != nil {
		t.Fatal(err)
	}
	src.st = relay.Stats{KnownUsers: 13, BlockedUsers: 1, Forwarded: 52}
	if err := d.Send(context.Background()); err != nil {
		t.Fatal(err)
	}

	if len(sender.text) != 2 || sender.to[1] != 5 {
		t.Fatalf("sent=%v to=%v", sender.text, sender.to)
	}
	if strings.Contains(sender.text[0], "(+") {
		t.Fatalf("first digest has no deltas: %q", sender.text[0])
	}
	if !strings.Contains(sender.text[1], "Known users: 13 (+3)") || !strings.Contains(sender.text[1], "Forwarded messages: 52 (+12)") {
		t.Fatalf("digest=%q", sender.text[1])
	}
}

func TestSendWithoutAdmin(t *testing.T) {
	d := New(&fixedSource{}, &captureSender{}, logx.Nop())
	if err := d.Send(context.Background()); err == nil {
		t.Fatal("expected error without admin")
	}
}

func TestApplyRejectsBadSchedule(t *testing.T) {
	d := New(&fixedSource{}, &captureSender{}, logx.Nop())
	if err := d.Apply(Config{Enabled: true, Schedule: "whenever", AdminID: 1}); err == nil {
		t.Fatal("expected schedule error")
	}
	if err := d.Apply(Config{Enabled: true, Schedule: "0 9 * * *", Timezone: "Nowhere/City", AdminID: 1}); err == nil {
		t.Fatal("expected timezone error")
	}
}

func TestApplyStartsAndStops(t *testing.T) {
	d := New(&fixedSource{}, &captureSender{}, logx.Nop())
	if err := d.Apply(Config{Enabled: true, Schedule: "0 9 * * *", Timezone: "UTC", AdminID: 1}); err != nil {
		t.Fatal(err)
	}
	if err := d.Apply(Config{Enabled: false}); err != nil {
		t.Fatal(err)
	}
	if err := d.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
}
