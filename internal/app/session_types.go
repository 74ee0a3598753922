package app

import (
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// EntryType distinguishes the three kinds of conversation turns.
type EntryType string

const (
	EntryUserInput     EntryType = "user_input"
	EntryAgentResponse EntryType = "agent_response"
	EntrySystemMessage EntryType = "system_message"
)

// ConversationEntry is one immutable turn in a session's history. The store
// assigns ID and Timestamp on append; entries are never edited afterwards.
// Metadata is serialized without omitempty so an empty map survives the
// persistence round trip as an empty map, not nil.
type ConversationEntry struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Type      EntryType      `json:"type"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata"`
}

// AppContext describes the environment a session runs in. It is replaced
// wholesale on update; callers get copies, never the store's own value.
type AppContext struct {
	SessionID        string            `json:"session_id"`
	UserID           string            `json:"user_id,omitempty"`
	WorkspaceID      string            `json:"workspace_id,omitempty"`
	CurrentDirectory string            `json:"current_directory"`
	Environment      map[string]string `json:"environment,omitempty"`
	Metadata         map[string]any    `json:"metadata,omitempty"`
}

func (c AppContext) clone() AppContext {
	out := c
	out.Environment = copyStringMap(c.Environment)
	out.Metadata = copyAnyMap(c.Metadata)
	return out
}

// SessionData is a bounded conversation with its own identity, history, and
// context. ConversationHistory is append-only while the session is active,
// except for an explicit clear. LastActiveAt never moves backwards.
type SessionData struct {
	ID                  string              `json:"id"`
	UserID              string              `json:"user_id,omitempty"`
	CreatedAt           time.Time           `json:"created_at"`
	LastActiveAt        time.Time           `json:"last_active_at"`
	ConversationHistory []ConversationEntry `json:"conversation_history"`
	Context             AppContext          `json:"context"`
	Metadata            map[string]any      `json:"metadata"`
}

func (s *SessionData) clone() *SessionData {
	if s == nil {
		return nil
	}
	out := *s
	out.ConversationHistory = make([]ConversationEntry, len(s.ConversationHistory))
	for i, e := range s.ConversationHistory {
		e.Metadata = copyAnyMap(e.Metadata)
		out.ConversationHistory[i] = e
	}
	out.Context = s.Context.clone()
	out.Metadata = copyAnyMap(s.Metadata)
	return &out
}

func (s *SessionData) touch(t time.Time) {
	if t.After(s.LastActiveAt) {
		s.LastActiveAt = t
	}
}

// SessionSummary is a read-only projection of SessionData used for listing.
// It is always recomputed from the session, never persisted on its own.
type SessionSummary struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
	MessageCount int       `json:"message_count"`
	Title        string    `json:"title,omitempty"`
}

func summarizeSession(s *SessionData) SessionSummary {
	sum := SessionSummary{
		ID:           s.ID,
		UserID:       s.UserID,
		CreatedAt:    s.CreatedAt,
		LastActiveAt: s.LastActiveAt,
		MessageCount: len(s.ConversationHistory),
	}
	for _, e := range s.ConversationHistory {
		if e.Type == EntryUserInput {
			sum.Title = deriveSessionTitle(e.Content)
			break
		}
	}
	return sum
}

const sessionTitleMaxLen = 60

func deriveSessionTitle(content string) string {
	content = strings.TrimSpace(content)
	if content == "" {
		return ""
	}
	if idx := strings.IndexAny(content, "\r\n"); idx >= 0 {
		content = content[:idx]
	}
	content = strings.TrimSpace(content)
	if len(content) <= sessionTitleMaxLen {
		return content
	}
	// Back up to a rune boundary so the cut never splits a multibyte rune.
	end := sessionTitleMaxLen
	for end > 0 && !utf8.RuneStart(content[end]) {
		end--
	}
	cut := content[:end]
	// Back up to a word boundary so titles don't end mid-word.
	if idx := strings.LastIndexFunc(cut, unicode.IsSpace); idx > sessionTitleMaxLen/2 {
		cut = cut[:idx]
	}
	return strings.TrimSpace(cut) + "..."
}
