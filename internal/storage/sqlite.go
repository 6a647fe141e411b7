package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "relaybot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// SQLite prefers a single writer; the directory serialises writes anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	log.Debug("sqlite store initialized", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Load(ctx context.Context) (State, error) {
	var st State
	var err error
	if st.KnownUsers, err = s.queryIDs(ctx, `SELECT user_id FROM known_users`); err != nil {
		return State{}, fmt.Errorf("loading known users: %w", err)
	}
	if st.BlockedUsers, err = s.queryIDs(ctx, `SELECT user_id FROM blocked_users`); err != nil {
		return State{}, fmt.Errorf("loading blocked users: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT forwarded_id, user_id FROM message_map`)
	if err != nil {
		return State{}, fmt.Errorf("loading message map: %w", err)
	}
	defer rows.Close()
	st.MessageMap = map[int]int64{}
	for rows.Next() {
		var fwd int
		var uid int64
		if err := rows.Scan(&fwd, &uid); err != nil {
			return State{}, fmt.Errorf("scanning message map: %w", err)
		}
		st.MessageMap[fwd] = uid
	}
	if err := rows.Err(); err != nil {
		return State{}, fmt.Errorf("loading message map: %w", err)
	}
	return st, nil
}

func (s *sqliteStore) queryIDs(ctx context.Context, query string) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *sqliteStore) SaveKnownUsers(ctx context.Context, ids []int64) error {
	return s.replaceIDs(ctx, "known_users", ids)
}

func (s *sqliteStore) SaveBlockedUsers(ctx context.Context, ids []int64) error {
	return s.replaceIDs(ctx, "blocked_users", ids)
}

// replaceIDs swaps the contents of table for ids in one transaction. table is
// never user input.
func (s *sqliteStore) replaceIDs(ctx context.Context, table string, ids []int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO `+table+`(user_id) VALUES(?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, id := range ids {
			if _, err := stmt.ExecContext(ctx, id); err != nil {
				return err
			}
		}
		return nil
	})
}

// SaveMessageMap upserts every entry. The map is append-only, so this is
// equivalent to a full replace without deleting rows.
func (s *sqliteStore) SaveMessageMap(ctx context.Context, m map[int]int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO message_map(forwarded_id, user_id) VALUES(?,?)
			 ON CONFLICT(forwarded_id) DO UPDATE SET user_id=excluded.user_id`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for fwd, uid := range m {
			if _, err := stmt.ExecContext(ctx, fwd, uid); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, actor_id, action, target, ok, fail, err, took_ms)
		 VALUES(?,?,?,?,?,?,?,?)`,
		e.At.Format(time.RFC3339Nano), e.ActorID, e.Action, nullStr(e.Target),
		e.OK, e.Fail, nullStr(e.Error), e.TookMS,
	)
	return err
}

func (s *sqliteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
