package app

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Listener observes StateStore mutations. Delivery is synchronous and in
// mutation order, before the mutating call returns. Listeners run with the
// store lock held and must not call back into the store.
type Listener func(StateChange)

// keyedMutex serializes operations per session id so persist/load/delete for
// the same id never interleave. Different ids proceed concurrently.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) acquire(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	k.mu.Unlock()
	l.Lock()
	return l.Unlock
}

type subscriber struct {
	id int
	fn Listener
}

// StateStore owns the application configuration, the in-memory session set,
// the active session, and the durable persistence backend. It is the only
// writer to the backend. At most one session is current per store instance.
type StateStore struct {
	mu          sync.Mutex
	config      AppConfig
	current     *SessionData
	sessions    map[string]*SessionData
	memory      map[string]any
	subscribers []subscriber
	nextSubID   int

	backend PersistenceBackend
	locks   keyedMutex
	logger  *Logger
}

func NewStateStore(cfg AppConfig, backend PersistenceBackend, logger *Logger) *StateStore {
	return &StateStore{
		config:   cfg.clone(),
		sessions: make(map[string]*SessionData),
		memory:   make(map[string]any),
		backend:  backend,
		logger:   logger,
	}
}

// Subscribe registers a listener for state changes and returns its
// unsubscribe function. Subscription is an observation channel only; no
// subscriber is required for correctness.
func (s *StateStore) Subscribe(fn Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers = append(s.subscribers, subscriber{id: id, fn: fn})
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, sub := range s.subscribers {
			if sub.id == id {
				s.subscribers = append(s.subscribers[:i], s.subscribers[i+1:]...)
				return
			}
		}
	}
}

// emit must be called with s.mu held.
func (s *StateStore) emit(changeType, field string, oldValue, newValue any) {
	if len(s.subscribers) == 0 {
		return
	}
	change := StateChange{
		Type:      changeType,
		Field:     field,
		OldValue:  oldValue,
		NewValue:  newValue,
		Timestamp: time.Now(),
	}
	for _, sub := range s.subscribers {
		sub.fn(change)
	}
}

// Config returns a copy of the current configuration.
func (s *StateStore) Config() AppConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config.clone()
}

// UpdateConfig applies a shallow partial merge and returns the result.
func (s *StateStore) UpdateConfig(u ConfigUpdate) AppConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.config.clone()
	s.config = s.config.applied(u)
	updated := s.config.clone()
	s.emit("config_updated", "config", old, updated)
	return updated
}

// ResetConfig restores the built-in defaults.
func (s *StateStore) ResetConfig() AppConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.config.clone()
	s.config = DefaultConfig()
	updated := s.config.clone()
	s.emit("config_reset", "config", old, updated)
	return updated
}

// CurrentSession returns a copy of the active session, or nil when none
// exists.
func (s *StateStore) CurrentSession() *SessionData {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.clone()
}

// CreateSession generates a fresh session with a new identity, empty history,
// and a fresh context, and makes it current.
func (s *StateStore) CreateSession(userID string) *SessionData {
	now := time.Now()
	wd, _ := os.Getwd()
	sess := &SessionData{
		ID:                  uuid.NewString(),
		UserID:              userID,
		CreatedAt:           now,
		LastActiveAt:        now,
		ConversationHistory: []ConversationEntry{},
		Metadata:            map[string]any{},
	}
	sess.Context = AppContext{
		SessionID:        sess.ID,
		UserID:           userID,
		CurrentDirectory: wd,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var oldID string
	if s.current != nil {
		oldID = s.current.ID
	}
	s.sessions[sess.ID] = sess
	s.current = sess
	s.emit("session_created", "current_session", oldID, sess.ID)
	return sess.clone()
}

// LoadSession makes a session from the in-memory set current. Returns nil if
// the id is unknown; it never fails. Persisted-but-unloaded sessions must be
// hydrated through LoadPersistedSession first.
func (s *StateStore) LoadSession(id string) *SessionData {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil
	}
	var oldID string
	if s.current != nil {
		oldID = s.current.ID
	}
	s.current = sess
	s.emit("session_loaded", "current_session", oldID, sess.ID)
	return sess.clone()
}

// UpdateContext replaces the active session's context wholesale. The
// context's session id always stays that of the owning session.
func (s *StateStore) UpdateContext(ctx AppContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return ErrNoActiveSession
	}
	old := s.current.Context.clone()
	next := ctx.clone()
	next.SessionID = s.current.ID
	s.current.Context = next
	s.current.touch(time.Now())
	s.emit("context_updated", "context", old, next)
	return nil
}

// AddConversationEntry appends a turn to the active session. The store
// assigns the entry id and timestamp; the returned entry is immutable from
// the caller's point of view.
func (s *StateStore) AddConversationEntry(entryType EntryType, content string, metadata map[string]any) (ConversationEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return ConversationEntry{}, ErrNoActiveSession
	}
	now := time.Now()
	entry := ConversationEntry{
		ID:        uuid.NewString(),
		Timestamp: now,
		Type:      entryType,
		Content:   content,
		Metadata:  copyAnyMap(metadata),
	}
	s.current.ConversationHistory = append(s.current.ConversationHistory, entry)
	s.current.touch(now)
	s.emit("entry_added", "conversation_history", nil, entry.ID)
	return entry, nil
}

// ClearConversationHistory is the one sanctioned non-append mutation of a
// session's history. Other sessions are unaffected.
func (s *StateStore) ClearConversationHistory() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return ErrNoActiveSession
	}
	oldLen := len(s.current.ConversationHistory)
	s.current.ConversationHistory = []ConversationEntry{}
	s.current.touch(time.Now())
	s.emit("history_cleared", "conversation_history", oldLen, 0)
	return nil
}

// RecentHistory returns up to n of the newest entries of the active session,
// oldest first. n <= 0 applies the configured history limit.
func (s *StateStore) RecentHistory(n int) []ConversationEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	if n <= 0 {
		n = s.config.HistoryLimit
	}
	history := s.current.ConversationHistory
	if n > 0 && len(history) > n {
		history = history[len(history)-n:]
	}
	out := make([]ConversationEntry, len(history))
	copy(out, history)
	return out
}

// SaveSession flushes the active in-memory session to the backend.
func (s *StateStore) SaveSession(ctx context.Context) error {
	s.mu.Lock()
	sess := s.current.clone()
	s.mu.Unlock()
	if sess == nil {
		return ErrNoActiveSession
	}
	return s.persist(ctx, sess)
}

// PersistSession durably writes a snapshot of the session with the given id
// from the in-memory set.
func (s *StateStore) PersistSession(ctx context.Context, id string) error {
	s.mu.Lock()
	sess := s.sessions[id].clone()
	s.mu.Unlock()
	if sess == nil {
		return persistenceErr(PersistenceNotFound, id, ErrNoActiveSession)
	}
	return s.persist(ctx, sess)
}

func (s *StateStore) persist(ctx context.Context, sess *SessionData) error {
	blob, err := encodeSession(sess)
	if err != nil {
		return err
	}
	unlock := s.locks.acquire(sess.ID)
	defer unlock()
	if err := s.backend.Write(ctx, sess.ID, blob); err != nil {
		if s.logger != nil {
			s.logger.Error("session persist failed", map[string]interface{}{
				"session_id": sess.ID,
				"error":      err.Error(),
			})
		}
		return err
	}
	s.mu.Lock()
	s.emit("session_persisted", "persistence", nil, sess.ID)
	s.mu.Unlock()
	return nil
}

// LoadPersistedSession reads a session from the backend into the in-memory
// set without making it current. The bool reports whether the session
// exists; absence is not an error.
func (s *StateStore) LoadPersistedSession(ctx context.Context, id string) (*SessionData, bool, error) {
	unlock := s.locks.acquire(id)
	blob, found, err := s.backend.Read(ctx, id)
	unlock()
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}
	sess, err := decodeSession(blob)
	if err != nil {
		return nil, false, persistenceErr(PersistenceSerialization, id, err)
	}
	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.emit("session_hydrated", "sessions", nil, sess.ID)
	s.mu.Unlock()
	return sess.clone(), true, nil
}

// ListSessions returns summaries of persisted sessions ordered by last
// activity, newest first, optionally filtered by user.
func (s *StateStore) ListSessions(ctx context.Context, userID string) ([]SessionSummary, error) {
	blobs, err := s.backend.List(ctx, ListFilter{UserID: userID})
	if err != nil {
		return nil, err
	}
	out := make([]SessionSummary, 0, len(blobs))
	for _, blob := range blobs {
		sess, err := decodeSession(blob)
		if err != nil {
			continue
		}
		out = append(out, summarizeSession(sess))
	}
	return out, nil
}

// DeleteSession removes a session from the backend and from the in-memory
// set. Deleting the current session leaves the store with no active session.
func (s *StateStore) DeleteSession(ctx context.Context, id string) error {
	unlock := s.locks.acquire(id)
	err := s.backend.Delete(ctx, id)
	unlock()
	if err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.sessions, id)
	if s.current != nil && s.current.ID == id {
		s.current = nil
	}
	s.emit("session_deleted", "sessions", id, nil)
	s.mu.Unlock()
	return nil
}

// SetContextMemory stores an ephemeral cross-turn value. This cache is
// distinct from conversation history and is never persisted with a session.
func (s *StateStore) SetContextMemory(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.memory[key]
	s.memory[key] = value
	s.emit("context_memory_set", key, old, value)
}

func (s *StateStore) GetContextMemory(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.memory[key]
	return v, ok
}

// ContextMemorySource is an external key-value store the context memory can
// be hydrated from, MCP-style.
type ContextMemorySource interface {
	Load(ctx context.Context) (map[string]any, error)
}

// HydrateContextMemory merges values from an external source into the local
// cache. Hydration is always explicitly invoked, never implicit.
func (s *StateStore) HydrateContextMemory(ctx context.Context, source ContextMemorySource) error {
	values, err := source.Load(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range values {
		s.memory[k] = v
	}
	s.emit("context_memory_hydrated", "context_memory", nil, len(values))
	return nil
}

// Close flushes the active session and releases the backend. Call once at
// shutdown.
func (s *StateStore) Close(ctx context.Context) error {
	s.mu.Lock()
	sess := s.current.clone()
	s.mu.Unlock()
	var persistErr error
	if sess != nil {
		persistErr = s.persist(ctx, sess)
	}
	if closer, ok := s.backend.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil && persistErr == nil {
			persistErr = err
		}
	}
	return persistErr
}
