package relay

import (
	"context"
	"errors"
	"sync"

	"relaybot/internal/storage"
	"relaybot/internal/transport"
)

type memStore struct {
	mu sync.Mutex

	st     storage.State
	audit  []storage.AuditEntry
	writes map[string]int
	fail   error
}

func newMemStore() *memStore {
	return &memStore{st: storage.State{MessageMap: map[int]int64{}}, writes: map[string]int{}}
}

func (s *memStore) Load(ctx context.Context) (storage.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := make(map[int]int64, len(s.st.MessageMap))
	for k, v := range s.st.MessageMap {
		m[k] = v
	}
	return storage.State{
		KnownUsers:   append([]int64(nil), s.st.KnownUsers...),
		BlockedUsers: append([]int64(nil), s.st.BlockedUsers...),
		MessageMap:   m,
	}, nil
}

func (s *memStore) save(name string, apply func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes[name]++
	if s.fail != nil {
		return s.fail
	}
	apply()
	return nil
}

func (s *memStore) SaveKnownUsers(ctx context.Context, ids []int64) error {
	return s.save(CollectionKnownUsers, func() { s.st.KnownUsers = append([]int64(nil), ids...) })
}

func (s *memStore) SaveBlockedUsers(ctx context.Context, ids []int64) error {
	return s.save(CollectionBlockedUsers, func() { s.st.BlockedUsers = append([]int64(nil), ids...) })
}

func (s *memStore) SaveMessageMap(ctx context.Context, m map[int]int64) error {
	return s.save(CollectionMessageMap, func() {
		cp := make(map[int]int64, len(m))
		for k, v := range m {
			cp[k] = v
		}
		s.st.MessageMap = cp
	})
}

func (s *memStore) AppendAudit(ctx context.Context, e storage.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, e)
	return nil
}

func (s *memStore) Close() error { return nil }

func (s *memStore) writeCount(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes[name]
}

type sentMsg struct {
	ChatID int64
	Text   string
}

type fakeSender struct {
	mu     sync.Mutex
	nextID int
	sent   []sentMsg
	fail   map[int64]bool
	parts  int // extra continuation ids returned per send

	// hold, when set for a chat, blocks sends to it until closed.
	hold map[int64]chan struct{}
}

func (s *fakeSender) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	s.mu.Lock()
	gate := s.hold[to.ChatID]
	s.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return transport.MessageRef{}, &transport.DeliveryError{ChatID: to.ChatID, Kind: transport.DeliveryTimeout, Err: ctx.Err()}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail[to.ChatID] {
		return transport.MessageRef{}, &transport.DeliveryError{ChatID: to.ChatID, Kind: transport.DeliveryBlocked, Err: errors.New("Forbidden: bot was blocked by the user")}
	}
	s.sent = append(s.sent, sentMsg{ChatID: to.ChatID, Text: text})
	s.nextID++
	ref := transport.MessageRef{ChatID: to.ChatID, MessageID: 1000 + s.nextID}
	for i := 0; i < s.parts; i++ {
		s.nextID++
		ref.PartIDs = append(ref.PartIDs, 1000+s.nextID)
	}
	return ref, nil
}

func (s *fakeSender) to(chatID int64) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, m := range s.sent {
		if m.ChatID == chatID {
			out = append(out, m.Text)
		}
	}
	return out
}

func (s *fakeSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}
