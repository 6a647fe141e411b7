package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	logx "relaybot/pkg/logx"
)

const (
	knownUsersFile   = "known_users.json"
	legacyUsersFile  = "user_ids.json"
	blockedUsersFile = "blocked_users.json"
	messageMapFile   = "message_map.json"
	auditFile        = "audit.jsonl"
)

// fileStore keeps each collection in its own JSON document under dir:
//   - known_users.json   (array of ids)
//   - blocked_users.json (array of ids)
//   - message_map.json   (object: "forwarded id" -> user id)
//   - audit.jsonl        (append-only JSON Lines)
type fileStore struct {
	log logx.Logger
	dir string

	mu        sync.Mutex
	auditFile *os.File
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	dir := strings.TrimSpace(cfg.Path)
	if dir == "" {
		dir = "./data"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}
	af, err := os.OpenFile(filepath.Join(dir, auditFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening audit log: %w", err)
	}
	return &fileStore{log: log, dir: dir, auditFile: af}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return nil
	}
	err := s.auditFile.Close()
	s.auditFile = nil
	return err
}

func (s *fileStore) Load(_ context.Context) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st State
	known, err := readIDs(filepath.Join(s.dir, knownUsersFile))
	if errors.Is(err, fs.ErrNotExist) {
		known, err = readIDs(filepath.Join(s.dir, legacyUsersFile))
		if err == nil {
			s.log.Info("loaded known users from legacy file", logx.String("file", legacyUsersFile), logx.Int("count", len(known)))
		}
	}
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return State{}, fmt.Errorf("loading known users: %w", err)
	}
	st.KnownUsers = known

	blocked, err := readIDs(filepath.Join(s.dir, blockedUsersFile))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return State{}, fmt.Errorf("loading blocked users: %w", err)
	}
	st.BlockedUsers = blocked

	st.MessageMap = map[int]int64{}
	b, err := os.ReadFile(filepath.Join(s.dir, messageMapFile))
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return State{}, fmt.Errorf("loading message map: %w", err)
	default:
		// encoding/json parses the decimal string keys back into ints and
		// rejects anything that is not an integer.
		if err := json.Unmarshal(b, &st.MessageMap); err != nil {
			return State{}, fmt.Errorf("decoding message map: %w", err)
		}
	}
	return st, nil
}

func (s *fileStore) SaveKnownUsers(ctx context.Context, ids []int64) error {
	return s.saveIDs(ctx, knownUsersFile, ids)
}

func (s *fileStore) SaveBlockedUsers(ctx context.Context, ids []int64) error {
	return s.saveIDs(ctx, blockedUsersFile, ids)
}

func (s *fileStore) saveIDs(_ context.Context, name string, ids []int64) error {
	out := slices.Clone(ids)
	if out == nil {
		out = []int64{}
	}
	slices.Sort(out)
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSONAtomic(filepath.Join(s.dir, name), out)
}

func (s *fileStore) SaveMessageMap(_ context.Context, m map[int]int64) error {
	if m == nil {
		m = map[int]int64{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSONAtomic(filepath.Join(s.dir, messageMapFile), m)
}

func (s *fileStore) AppendAudit(_ context.Context, e AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return ErrClosed
	}
	return json.NewEncoder(s.auditFile).Encode(e)
}

func readIDs(path string) ([]int64, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var ids []int64
	if err := json.Unmarshal(b, &ids); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", filepath.Base(path), err)
	}
	return ids, nil
}

// writeJSONAtomic replaces path so that readers see either the old or the
// new document, never a partial write.
func writeJSONAtomic(path string, v any) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if err := json.NewEncoder(tmp).Encode(v); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return err
	}
	return nil
}
