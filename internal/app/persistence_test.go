package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// backendCases runs a test against every persistence backend.
func backendCases(t *testing.T) map[string]PersistenceBackend {
	t.Helper()
	sq, err := NewSQLiteBackend(t.TempDir())
	if err != nil {
		t.Fatalf("sqlite backend: %v", err)
	}
	t.Cleanup(func() { sq.Close() })
	return map[string]PersistenceBackend{
		"file":   NewFileBackend(t.TempDir()),
		"sqlite": sq,
	}
}

func testSession(id, userID string, lastActive time.Time) *SessionData {
	return &SessionData{
		ID:           id,
		UserID:       userID,
		CreatedAt:    lastActive.Add(-time.Hour),
		LastActiveAt: lastActive,
		ConversationHistory: []ConversationEntry{
			{
				ID:        id + "-e1",
				Timestamp: lastActive,
				Type:      EntryUserInput,
				Content:   "set up the project",
				Metadata:  map[string]any{"confidence": 0.95},
			},
		},
		Context: AppContext{
			SessionID:        id,
			UserID:           userID,
			CurrentDirectory: "/srv/work",
			Environment:      map[string]string{"TERM": "xterm"},
		},
		Metadata: map[string]any{"source": "test"},
	}
}

func TestBackendRoundTrip(t *testing.T) {
	base := time.Now().Truncate(time.Millisecond)
	for name, backend := range backendCases(t) {
		want := testSession("round-trip-"+name, "user-1", base)
		blob, err := encodeSession(want)
		if err != nil {
			t.Fatalf("%s: encode: %v", name, err)
		}
		if err := backend.Write(context.Background(), want.ID, blob); err != nil {
			t.Fatalf("%s: write: %v", name, err)
		}

		read, found, err := backend.Read(context.Background(), want.ID)
		if err != nil || !found {
			t.Fatalf("%s: read: found=%v err=%v", name, found, err)
		}
		got, err := decodeSession(read)
		if err != nil {
			t.Fatalf("%s: decode: %v", name, err)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("%s: round-trip mismatch (-want +got):\n%s", name, diff)
		}
	}
}

func TestSessionRoundTripKeepsEmptyMetadata(t *testing.T) {
	// Fresh sessions start with an empty (non-nil) metadata map; the
	// round trip must preserve it as empty, not collapse it to nil.
	sess := &SessionData{
		ID:                  "fresh",
		CreatedAt:           time.Now().Truncate(time.Millisecond),
		LastActiveAt:        time.Now().Truncate(time.Millisecond),
		ConversationHistory: []ConversationEntry{},
		Metadata:            map[string]any{},
	}
	blob, err := encodeSession(sess)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := decodeSession(blob)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Metadata == nil {
		t.Error("Empty metadata map decoded to nil")
	}
	if diff := cmp.Diff(sess, got); diff != "" {
		t.Errorf("Round-trip mismatch (-want +got):\n%s", diff)
	}

	// A nil map stays nil; the round trip invents nothing either.
	sess.Metadata = nil
	blob, err = encodeSession(sess)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err = decodeSession(blob)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Metadata != nil {
		t.Errorf("Nil metadata decoded to %v", got.Metadata)
	}
}

func TestBackendReadAbsent(t *testing.T) {
	for name, backend := range backendCases(t) {
		blob, found, err := backend.Read(context.Background(), "does-not-exist")
		if err != nil {
			t.Errorf("%s: absence must not be an error, got %v", name, err)
		}
		if found || blob != nil {
			t.Errorf("%s: expected not found, got found=%v", name, found)
		}
	}
}

func TestBackendDeleteAbsent(t *testing.T) {
	for name, backend := range backendCases(t) {
		err := backend.Delete(context.Background(), "does-not-exist")
		if err == nil {
			t.Errorf("%s: expected an error deleting a missing session", name)
			continue
		}
		var pe *PersistenceError
		if !errors.As(err, &pe) {
			t.Errorf("%s: expected PersistenceError, got %T", name, err)
			continue
		}
		if pe.Kind != PersistenceNotFound {
			t.Errorf("%s: expected kind %q, got %q", name, PersistenceNotFound, pe.Kind)
		}
	}
}

func TestBackendOverwriteLastWriteWins(t *testing.T) {
	base := time.Now().Truncate(time.Millisecond)
	for name, backend := range backendCases(t) {
		first := testSession("overwrite", "user-1", base)
		second := testSession("overwrite", "user-1", base.Add(time.Minute))
		second.ConversationHistory = append(second.ConversationHistory, ConversationEntry{
			ID: "overwrite-e2", Timestamp: base.Add(time.Minute), Type: EntryAgentResponse, Content: "done",
		})

		for _, sess := range []*SessionData{first, second} {
			blob, err := encodeSession(sess)
			if err != nil {
				t.Fatalf("%s: encode: %v", name, err)
			}
			if err := backend.Write(context.Background(), sess.ID, blob); err != nil {
				t.Fatalf("%s: write: %v", name, err)
			}
		}

		read, _, err := backend.Read(context.Background(), "overwrite")
		if err != nil {
			t.Fatalf("%s: read: %v", name, err)
		}
		got, err := decodeSession(read)
		if err != nil {
			t.Fatalf("%s: decode: %v", name, err)
		}
		if len(got.ConversationHistory) != 2 {
			t.Errorf("%s: expected the second write, got %d entries", name, len(got.ConversationHistory))
		}
	}
}

func TestBackendListOrderAndFilter(t *testing.T) {
	base := time.Now().Truncate(time.Millisecond)
	for name, backend := range backendCases(t) {
		sessions := []*SessionData{
			testSession("list-a", "alice", base.Add(2*time.Minute)),
			testSession("list-b", "bob", base.Add(3*time.Minute)),
			testSession("list-c", "alice", base.Add(1*time.Minute)),
		}
		for _, sess := range sessions {
			blob, err := encodeSession(sess)
			if err != nil {
				t.Fatalf("%s: encode: %v", name, err)
			}
			if err := backend.Write(context.Background(), sess.ID, blob); err != nil {
				t.Fatalf("%s: write: %v", name, err)
			}
		}

		blobs, err := backend.List(context.Background(), ListFilter{})
		if err != nil {
			t.Fatalf("%s: list: %v", name, err)
		}
		ids := decodeIDs(t, blobs)
		want := []string{"list-b", "list-a", "list-c"}
		if diff := cmp.Diff(want, ids); diff != "" {
			t.Errorf("%s: expected newest-first order (-want +got):\n%s", name, diff)
		}

		blobs, err = backend.List(context.Background(), ListFilter{UserID: "alice"})
		if err != nil {
			t.Fatalf("%s: filtered list: %v", name, err)
		}
		ids = decodeIDs(t, blobs)
		if diff := cmp.Diff([]string{"list-a", "list-c"}, ids); diff != "" {
			t.Errorf("%s: user filter mismatch (-want +got):\n%s", name, diff)
		}

		blobs, err = backend.List(context.Background(), ListFilter{Limit: 1})
		if err != nil {
			t.Fatalf("%s: limited list: %v", name, err)
		}
		if len(blobs) != 1 {
			t.Errorf("%s: expected 1 row, got %d", name, len(blobs))
		}
	}
}

func decodeIDs(t *testing.T, blobs [][]byte) []string {
	t.Helper()
	ids := make([]string, 0, len(blobs))
	for _, blob := range blobs {
		sess, err := decodeSession(blob)
		if err != nil {
			t.Fatalf("decode listed session: %v", err)
		}
		ids = append(ids, sess.ID)
	}
	return ids
}

func TestFileBackendRejectsPathSeparators(t *testing.T) {
	backend := NewFileBackend(t.TempDir())
	err := backend.Write(context.Background(), "../escape", []byte("{}"))
	if err == nil {
		t.Fatal("Expected path separator ids to be rejected")
	}
}

func TestConcurrentPersistSameSession(t *testing.T) {
	dir := t.TempDir()
	store := NewStateStore(DefaultConfig(), NewFileBackend(dir), nil)
	sess := store.CreateSession("")
	for i := 0; i < 4; i++ {
		store.AddConversationEntry(EntryUserInput, fmt.Sprintf("turn %d", i), nil)
	}

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = store.PersistSession(context.Background(), sess.ID)
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("persist %d: %v", i, err)
		}
	}

	// The durable copy is a complete snapshot, not an interleaving.
	got, found, err := store.LoadPersistedSession(context.Background(), sess.ID)
	if err != nil || !found {
		t.Fatalf("reload: found=%v err=%v", found, err)
	}
	if len(got.ConversationHistory) != 4 {
		t.Errorf("Expected 4 entries after concurrent persists, got %d", len(got.ConversationHistory))
	}
}
