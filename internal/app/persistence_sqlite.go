package app

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite"
)

// SQLiteBackend stores session blobs in a single sqlite database. The blob
// stays authoritative; user_id and last_active_ns are indexed copies used
// only for filtering and ordering.
type SQLiteBackend struct {
	Root   string
	dbPath string

	mu   sync.Mutex
	db   *sql.DB
	once sync.Once
	err  error
}

func NewSQLiteBackend(root string) (*SQLiteBackend, error) {
	if strings.TrimSpace(root) == "" {
		root = DefaultStorageRoot()
	}
	root = filepath.Clean(root)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, persistenceErr(PersistenceIO, "", err)
	}
	b := &SQLiteBackend{
		Root:   root,
		dbPath: filepath.Join(root, "relay.db"),
	}
	// Initialize eagerly so callers fail fast.
	if err := b.init(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *SQLiteBackend) init() error {
	b.once.Do(func() {
		db, err := sql.Open("sqlite", b.dbPath)
		if err != nil {
			b.err = persistenceErr(PersistenceIO, "", err)
			return
		}
		// Keep sqlite responsive under contention.
		_, _ = db.Exec("PRAGMA busy_timeout = 5000;")
		_, _ = db.Exec("PRAGMA journal_mode = WAL;")
		_, _ = db.Exec("PRAGMA synchronous = NORMAL;")

		schema := []string{
			`CREATE TABLE IF NOT EXISTS sessions (
				id TEXT PRIMARY KEY,
				user_id TEXT,
				created_at_ns INTEGER NOT NULL,
				last_active_ns INTEGER NOT NULL,
				blob TEXT NOT NULL
			);`,
			`CREATE INDEX IF NOT EXISTS idx_sessions_user_active ON sessions(user_id, last_active_ns);`,
			`CREATE INDEX IF NOT EXISTS idx_sessions_active ON sessions(last_active_ns);`,
		}
		for _, stmt := range schema {
			if _, err := db.Exec(stmt); err != nil {
				_ = db.Close()
				b.err = persistenceErr(PersistenceIO, "", err)
				return
			}
		}
		b.db = db
	})
	return b.err
}

func (b *SQLiteBackend) dbConn() (*sql.DB, error) {
	if err := b.init(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	db := b.db
	b.mu.Unlock()
	if db == nil {
		return nil, persistenceErr(PersistenceIO, "", errors.New("sqlite backend unavailable"))
	}
	return db, nil
}

func (b *SQLiteBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.db == nil {
		return nil
	}
	err := b.db.Close()
	b.db = nil
	return err
}

func (b *SQLiteBackend) Write(ctx context.Context, sessionID string, blob []byte) error {
	if err := validSessionID(sessionID); err != nil {
		return persistenceErr(PersistenceIO, sessionID, err)
	}
	sess, err := decodeSession(blob)
	if err != nil {
		return persistenceErr(PersistenceSerialization, sessionID, err)
	}
	db, err := b.dbConn()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO sessions(id, user_id, created_at_ns, last_active_ns, blob)
		 VALUES(?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   user_id=excluded.user_id,
		   last_active_ns=excluded.last_active_ns,
		   blob=excluded.blob`,
		sessionID, nullIfEmpty(sess.UserID), sess.CreatedAt.UnixNano(), sess.LastActiveAt.UnixNano(), string(blob),
	)
	if err != nil {
		return persistenceErr(PersistenceIO, sessionID, err)
	}
	return nil
}

func (b *SQLiteBackend) Read(ctx context.Context, sessionID string) ([]byte, bool, error) {
	if err := validSessionID(sessionID); err != nil {
		return nil, false, persistenceErr(PersistenceIO, sessionID, err)
	}
	db, err := b.dbConn()
	if err != nil {
		return nil, false, err
	}
	var blob string
	err = db.QueryRowContext(ctx, `SELECT blob FROM sessions WHERE id = ?`, sessionID).Scan(&blob)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, persistenceErr(PersistenceIO, sessionID, err)
	}
	return []byte(blob), true, nil
}

func (b *SQLiteBackend) List(ctx context.Context, filter ListFilter) ([][]byte, error) {
	db, err := b.dbConn()
	if err != nil {
		return nil, err
	}

	q := `SELECT blob FROM sessions`
	args := make([]interface{}, 0, 2)
	if filter.UserID != "" {
		q += ` WHERE user_id = ?`
		args = append(args, filter.UserID)
	}
	q += ` ORDER BY last_active_ns DESC, id DESC`
	if filter.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, persistenceErr(PersistenceIO, "", err)
	}
	defer rows.Close()

	out := make([][]byte, 0, 16)
	for rows.Next() {
		var blob string
		if err := rows.Scan(&blob); err != nil {
			continue
		}
		out = append(out, []byte(blob))
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceErr(PersistenceIO, "", err)
	}
	return out, nil
}

func (b *SQLiteBackend) Delete(ctx context.Context, sessionID string) error {
	if err := validSessionID(sessionID); err != nil {
		return persistenceErr(PersistenceIO, sessionID, err)
	}
	db, err := b.dbConn()
	if err != nil {
		return err
	}
	res, err := db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID)
	if err != nil {
		return persistenceErr(PersistenceIO, sessionID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return persistenceErr(PersistenceNotFound, sessionID, errors.New("session not found"))
	}
	return nil
}

func nullIfEmpty(s string) interface{} {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return s
}
