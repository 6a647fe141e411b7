package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"relaybot/internal/transport"
)

func msgUpdate(from int64, id int) transport.Update {
	return transport.Update{Kind: transport.UpdateMessage, Message: &transport.Message{ID: id, ChatID: from, FromID: from, Text: "x", HasText: true}}
}

func runDispatcher(t *testing.T, d *Dispatcher) (chan transport.Update, func()) {
	t.Helper()
	updates := make(chan transport.Update)
	done := make(chan struct{})
	go func() {
		_ = d.Run(context.Background(), updates)
		close(done)
	}()
	return updates, func() {
		close(updates)
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("dispatcher did not stop")
		}
	}
}

func TestSameSenderIsSerialAndOrdered(t *testing.T) {
	var mu sync.Mutex
	seen := map[int64][]int{}
	inflight := map[int64]int{}
	overlap := false

	h := func(ctx context.Context, req *Request) error {
		m := req.Update.Message
		mu.Lock()
		inflight[m.FromID]++
		if inflight[m.FromID] > 1 {
			overlap = true
		}
		mu.Unlock()

		time.Sleep(time.Millisecond)

		mu.Lock()
		inflight[m.FromID]--
		seen[m.FromID] = append(seen[m.FromID], m.ID)
		mu.Unlock()
		return nil
	}

	d := New(Config{Workers: 3, QueueSize: 64}, h, nilLogger())
	updates, stop := runDispatcher(t, d)
	for i := 1; i <= 20; i++ {
		updates <- msgUpdate(7, i)
		updates <- msgUpdate(8, i)
	}
	stop()

	if overlap {
		t.Fatal("events from one sender overlapped")
	}
	for _, from := range []int64{7, 8} {
		got := seen[from]
		if len(got) != 20 {
			t.Fatalf("sender %d: handled %d events", from, len(got))
		}
		for i, id := range got {
			if id != i+1 {
				t.Fatalf("sender %d out of order: %v", from, got)
			}
		}
	}
}

func TestPanicDoesNotStopWorker(t *testing.T) {
	var mu sync.Mutex
	var handled []int
	h := func(ctx context.Context, req *Request) error {
		if req.Update.Message.ID == 1 {
			panic("bad event")
		}
		mu.Lock()
		handled = append(handled, req.Update.Message.ID)
		mu.Unlock()
		return nil
	}

	d := New(Config{Workers: 1, QueueSize: 8}, h, nilLogger())
	updates, stop := runDispatcher(t, d)
	updates <- msgUpdate(5, 1)
	updates <- msgUpdate(5, 2)
	stop()

	if len(handled) != 1 || handled[0] != 2 {
		t.Fatalf("handled=%v want [2]", handled)
	}
	if st := d.Stats(); st.Failed != 1 || st.Handled != 2 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestFullQueueDrops(t *testing.T) {
	release := make(chan struct{})
	h := func(ctx context.Context, req *Request) error {
		<-release
		return nil
	}

	d := New(Config{Workers: 1, QueueSize: 1, EnqueueTimeout: -1}, h, nilLogger())
	updates, stop := runDispatcher(t, d)
	// The fourth send only completes once the third has been routed.
	for i := 1; i <= 4; i++ {
		updates <- msgUpdate(9, i)
	}
	close(release)
	stop()

	if d.Stats().Dropped == 0 {
		t.Fatal("expected dropped updates")
	}
}

func TestBusySenderDoesNotDropSharedShard(t *testing.T) {
	const admin, user = 100, 4 // same shard with 4 workers
	release := make(chan struct{})
	var mu sync.Mutex
	var handled []int64
	h := func(ctx context.Context, req *Request) error {
		m := req.Update.Message
		if m.FromID == admin {
			<-release
		}
		mu.Lock()
		handled = append(handled, m.FromID)
		mu.Unlock()
		return nil
	}

	d := New(Config{Workers: 4, QueueSize: 2, EnqueueTimeout: 5 * time.Second}, h, nilLogger())
	updates, stop := runDispatcher(t, d)
	updates <- msgUpdate(admin, 1)

	sent := make(chan struct{})
	go func() {
		for i := 1; i <= 5; i++ {
			updates <- msgUpdate(user, i)
		}
		close(sent)
	}()
	time.Sleep(50 * time.Millisecond)
	close(release)
	<-sent
	stop()

	userCount := 0
	for _, from := range handled {
		if from == user {
			userCount++
		}
	}
	if userCount != 5 {
		t.Fatalf("user events handled=%d want 5 (handled=%v)", userCount, handled)
	}
	if st := d.Stats(); st.Dropped != 0 {
		t.Fatalf("dropped=%d want 0", st.Dropped)
	}
}

func TestEnqueueTimeoutBoundsTheWait(t *testing.T) {
	release := make(chan struct{})
	h := func(ctx context.Context, req *Request) error {
		<-release
		return nil
	}

	d := New(Config{Workers: 1, QueueSize: 1, EnqueueTimeout: 20 * time.Millisecond}, h, nilLogger())
	updates, stop := runDispatcher(t, d)
	start := time.Now()
	for i := 1; i <= 4; i++ {
		updates <- msgUpdate(9, i)
	}
	elapsed := time.Since(start)
	close(release)
	stop()

	if d.Stats().Dropped == 0 {
		t.Fatal("expected drops once the wait expired")
	}
	if elapsed > 2*time.Second {
		t.Fatalf("intake stalled for %v", elapsed)
	}
}

func TestTimeoutMiddleware(t *testing.T) {
	h := Chain(func(ctx context.Context, req *Request) error {
		<-ctx.Done()
		return ctx.Err()
	}, MWTimeout(10*time.Millisecond))

	err := h(context.Background(), &Request{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err=%v", err)
	}
}
