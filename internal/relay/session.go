package relay

import "sync"

type SessionState int

const (
	SessionIdle SessionState = iota
	SessionAwaitingBroadcastPayload
)

func (s SessionState) String() string {
	switch s {
	case SessionAwaitingBroadcastPayload:
		return "awaiting_broadcast_payload"
	default:
		return "idle"
	}
}

// Session is the conversational state of one administrator. It lives for
// the process lifetime only.
type Session struct {
	mu    sync.Mutex
	state SessionState
}

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// BeginBroadcast arms the next admin message as a broadcast payload.
func (s *Session) BeginBroadcast() {
	s.mu.Lock()
	s.state = SessionAwaitingBroadcastPayload
	s.mu.Unlock()
}

// TakeBroadcast consumes a pending broadcast and reports whether there was one.
func (s *Session) TakeBroadcast() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != SessionAwaitingBroadcastPayload {
		return false
	}
	s.state = SessionIdle
	return true
}

// sessions is the Router's per-administrator session table.
type sessions struct {
	mu sync.Mutex
	m  map[int64]*Session
}

func (t *sessions) get(adminID int64) *Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.m == nil {
		t.m = map[int64]*Session{}
	}
	s, ok := t.m[adminID]
	if !ok {
		s = &Session{}
		t.m[adminID] = s
	}
	return s
}
