package app

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

func TestDeriveSessionTitle(t *testing.T) {
	cases := []struct {
		input string
		want  string
	}{
		{"fix the login bug", "fix the login bug"},
		{"  padded  ", "padded"},
		{"first line\nsecond line", "first line"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := deriveSessionTitle(tc.input); got != tc.want {
			t.Errorf("%q: expected %q, got %q", tc.input, tc.want, got)
		}
	}

	long := strings.Repeat("word ", 30)
	title := deriveSessionTitle(long)
	if len(title) > sessionTitleMaxLen+3 {
		t.Errorf("Title too long: %d chars", len(title))
	}
	if !strings.HasSuffix(title, "...") {
		t.Errorf("Truncated title should end with ellipsis: %q", title)
	}
	if strings.HasSuffix(strings.TrimSuffix(title, "..."), "wor") {
		t.Errorf("Title should not cut mid-word: %q", title)
	}
}

func TestDeriveSessionTitleMultibyte(t *testing.T) {
	// No spaces and a rune straddling the byte cutoff; the cut must land
	// on a rune boundary.
	long := "a" + strings.Repeat("日", 40)
	title := deriveSessionTitle(long)
	if !utf8.ValidString(title) {
		t.Errorf("Title contains invalid UTF-8: %q", title)
	}
	if !strings.HasSuffix(title, "...") {
		t.Errorf("Truncated title should end with ellipsis: %q", title)
	}
}

func TestSummarizeSessionUsesFirstUserEntry(t *testing.T) {
	now := time.Now()
	sess := &SessionData{
		ID:           "s1",
		UserID:       "alice",
		CreatedAt:    now.Add(-time.Hour),
		LastActiveAt: now,
		ConversationHistory: []ConversationEntry{
			{Type: EntrySystemMessage, Content: "session restored"},
			{Type: EntryUserInput, Content: "explain goroutines"},
			{Type: EntryAgentResponse, Content: "..."},
			{Type: EntryUserInput, Content: "another question"},
		},
	}

	sum := summarizeSession(sess)
	if sum.Title != "explain goroutines" {
		t.Errorf("Expected title from first user entry, got %q", sum.Title)
	}
	if sum.MessageCount != 4 {
		t.Errorf("Expected 4 messages, got %d", sum.MessageCount)
	}
	if sum.ID != "s1" || sum.UserID != "alice" {
		t.Errorf("Identity fields lost: %+v", sum)
	}
}

func TestSessionTouchMonotonic(t *testing.T) {
	now := time.Now()
	sess := &SessionData{LastActiveAt: now}
	sess.touch(now.Add(-time.Minute))
	if !sess.LastActiveAt.Equal(now) {
		t.Error("touch must ignore earlier timestamps")
	}
	later := now.Add(time.Minute)
	sess.touch(later)
	if !sess.LastActiveAt.Equal(later) {
		t.Error("touch must advance to later timestamps")
	}
}
