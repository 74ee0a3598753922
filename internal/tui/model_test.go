package tui

import (
	"strings"
	"testing"
	"time"

	"relay/internal/app"
)

func TestFormatRoute(t *testing.T) {
	got := formatRoute(routeInfo{
		Type:       app.InputPrompt,
		Confidence: 0.85,
		Method:     app.MethodHybrid,
		Duration:   1502 * time.Millisecond,
	})
	if !strings.Contains(got, "prompt") || !strings.Contains(got, "0.85") || !strings.Contains(got, "hybrid") {
		t.Errorf("Unexpected route line: %q", got)
	}
}

func TestRecentInputsFromSession(t *testing.T) {
	sess := &app.SessionData{
		ConversationHistory: []app.ConversationEntry{
			{Type: app.EntryUserInput, Content: "first"},
			{Type: app.EntryAgentResponse, Content: "reply"},
			{Type: app.EntrySystemMessage, Content: "note"},
			{Type: app.EntryUserInput, Content: "second"},
			{Type: app.EntryUserInput, Content: "   "},
		},
	}
	got := recentInputs(sess)
	if len(got) != 2 || got[0] != "first" || got[1] != "second" {
		t.Errorf("Expected user turns only, got %v", got)
	}
}

func TestInputRecallNavigation(t *testing.T) {
	m := &MainModel{input: newInputArea(), histIdx: -1}
	m.inputHist = []string{"first", "second"}
	m.input.SetValue("in progress")

	if !m.recallOlder() {
		t.Fatal("Expected recall to consume the key")
	}
	if m.input.Value() != "second" {
		t.Errorf("Expected newest entry first, got %q", m.input.Value())
	}
	m.recallOlder()
	if m.input.Value() != "first" {
		t.Errorf("Expected oldest entry, got %q", m.input.Value())
	}
	// Pinned at the oldest entry.
	m.recallOlder()
	if m.input.Value() != "first" {
		t.Errorf("Expected to stay at the oldest entry, got %q", m.input.Value())
	}

	m.recallNewer()
	if m.input.Value() != "second" {
		t.Errorf("Expected to step forward, got %q", m.input.Value())
	}
	// Stepping past the end restores the stashed draft.
	m.recallNewer()
	if m.input.Value() != "in progress" {
		t.Errorf("Expected the draft back, got %q", m.input.Value())
	}
	if m.histIdx != -1 {
		t.Errorf("Expected navigation to end, histIdx=%d", m.histIdx)
	}
}

func TestInputRecallEmptyHistory(t *testing.T) {
	m := &MainModel{input: newInputArea(), histIdx: -1}
	if m.recallOlder() {
		t.Error("No history to recall; the key should pass through")
	}
	if m.recallNewer() {
		t.Error("Not navigating; the key should pass through")
	}
}

func TestShortID(t *testing.T) {
	if got := shortID("0123456789abcdef"); got != "01234567" {
		t.Errorf("Expected 8-char prefix, got %q", got)
	}
	if got := shortID("abc"); got != "abc" {
		t.Errorf("Short ids pass through, got %q", got)
	}
}
