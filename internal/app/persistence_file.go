package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FileBackend stores one JSON file per session under <root>/sessions/.
// Zero-dependency default; the sqlite backend is preferred for large
// histories.
type FileBackend struct {
	Root string
}

func NewFileBackend(root string) *FileBackend {
	if strings.TrimSpace(root) == "" {
		root = DefaultStorageRoot()
	}
	return &FileBackend{Root: filepath.Clean(root)}
}

func (b *FileBackend) sessionsDir() string {
	return filepath.Join(b.Root, "sessions")
}

func (b *FileBackend) sessionPath(sessionID string) string {
	return filepath.Join(b.sessionsDir(), sessionID+".json")
}

func validSessionID(sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return errors.New("missing sessionID")
	}
	// IDs become file names; keep path separators out.
	if strings.ContainsAny(sessionID, "/\\") {
		return errors.New("invalid sessionID")
	}
	return nil
}

func (b *FileBackend) Write(ctx context.Context, sessionID string, blob []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validSessionID(sessionID); err != nil {
		return persistenceErr(PersistenceIO, sessionID, err)
	}
	if err := os.MkdirAll(b.sessionsDir(), 0o755); err != nil {
		return persistenceErr(PersistenceIO, sessionID, err)
	}
	// Write-then-rename keeps a concurrent reader from seeing a torn file.
	tmp := b.sessionPath(sessionID) + ".tmp"
	if err := os.WriteFile(tmp, blob, 0o644); err != nil {
		return persistenceErr(PersistenceIO, sessionID, err)
	}
	if err := os.Rename(tmp, b.sessionPath(sessionID)); err != nil {
		_ = os.Remove(tmp)
		return persistenceErr(PersistenceIO, sessionID, err)
	}
	return nil
}

func (b *FileBackend) Read(ctx context.Context, sessionID string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if err := validSessionID(sessionID); err != nil {
		return nil, false, persistenceErr(PersistenceIO, sessionID, err)
	}
	blob, err := os.ReadFile(b.sessionPath(sessionID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, persistenceErr(PersistenceIO, sessionID, err)
	}
	return blob, true, nil
}

func (b *FileBackend) List(ctx context.Context, filter ListFilter) ([][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ents, err := os.ReadDir(b.sessionsDir())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return [][]byte{}, nil
		}
		return nil, persistenceErr(PersistenceIO, "", err)
	}

	type row struct {
		blob []byte
		sess *SessionData
	}
	rows := make([]row, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		blob, err := os.ReadFile(filepath.Join(b.sessionsDir(), e.Name()))
		if err != nil {
			continue
		}
		sess, err := decodeSession(blob)
		if err != nil {
			continue
		}
		if filter.UserID != "" && sess.UserID != filter.UserID {
			continue
		}
		rows = append(rows, row{blob: blob, sess: sess})
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].sess.LastActiveAt.Equal(rows[j].sess.LastActiveAt) {
			return rows[i].sess.ID > rows[j].sess.ID
		}
		return rows[i].sess.LastActiveAt.After(rows[j].sess.LastActiveAt)
	})
	if filter.Limit > 0 && len(rows) > filter.Limit {
		rows = rows[:filter.Limit]
	}

	out := make([][]byte, len(rows))
	for i, r := range rows {
		out[i] = r.blob
	}
	return out, nil
}

func (b *FileBackend) Delete(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validSessionID(sessionID); err != nil {
		return persistenceErr(PersistenceIO, sessionID, err)
	}
	err := os.Remove(b.sessionPath(sessionID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return persistenceErr(PersistenceNotFound, sessionID, errors.New("session not found"))
		}
		return persistenceErr(PersistenceIO, sessionID, err)
	}
	return nil
}
