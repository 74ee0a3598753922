package app

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestCommandHandlerHelp(t *testing.T) {
	store := newTestStore(t)
	h := NewCommandHandler(store, Version)

	result, err := h.Execute(context.Background(), "/help", AppContext{})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !result.Success {
		t.Error("Expected success")
	}
	if !strings.Contains(result.Content, "/sessions") {
		t.Errorf("Help should list commands:\n%s", result.Content)
	}
}

func TestCommandHandlerVersion(t *testing.T) {
	store := newTestStore(t)
	h := NewCommandHandler(store, "9.9.9")

	result, err := h.Execute(context.Background(), "/version", AppContext{})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Content != "relay 9.9.9" {
		t.Errorf("Unexpected version output: %q", result.Content)
	}
}

func TestCommandHandlerConfig(t *testing.T) {
	store := newTestStore(t)
	h := NewCommandHandler(store, Version)

	result, err := h.Execute(context.Background(), "/config", AppContext{})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !strings.Contains(result.Content, DefaultConfig().DefaultModel) {
		t.Errorf("Config output should name the model:\n%s", result.Content)
	}
	if !strings.Contains(result.Content, "confidence threshold: 0.80") {
		t.Errorf("Config output should show the threshold:\n%s", result.Content)
	}
}

func TestCommandHandlerUnknownIsBusinessFailure(t *testing.T) {
	store := newTestStore(t)
	h := NewCommandHandler(store, Version)

	result, err := h.Execute(context.Background(), "/teleport home", AppContext{})
	if err != nil {
		t.Fatalf("Unknown commands are handled, not errors: %v", err)
	}
	if result.Success {
		t.Error("Expected Success=false for an unknown command")
	}
	if !strings.Contains(result.Error, `unknown command "teleport"`) {
		t.Errorf("Unexpected error text: %q", result.Error)
	}
	if !strings.Contains(result.Error, "/help") {
		t.Errorf("Error should point at /help: %q", result.Error)
	}
}

func TestCommandHandlerNewAndClear(t *testing.T) {
	store := newTestStore(t)
	h := NewCommandHandler(store, Version)

	result, err := h.Execute(context.Background(), "/new", AppContext{UserID: "alice"})
	if err != nil || !result.Success {
		t.Fatalf("/new failed: %v %v", result, err)
	}
	sess := store.CurrentSession()
	if sess == nil || sess.UserID != "alice" {
		t.Fatal("/new should create a current session for the user")
	}

	store.AddConversationEntry(EntryUserInput, "hi", nil)
	result, err = h.Execute(context.Background(), "/clear", AppContext{})
	if err != nil || !result.Success {
		t.Fatalf("/clear failed: %v %v", result, err)
	}
	if got := store.CurrentSession(); len(got.ConversationHistory) != 0 {
		t.Errorf("Expected cleared history, got %d entries", len(got.ConversationHistory))
	}
}

func TestPromptHandlerUsesHistory(t *testing.T) {
	store := newTestStore(t)
	store.CreateSession("")
	store.AddConversationEntry(EntryUserInput, "earlier question", nil)
	store.AddConversationEntry(EntryAgentResponse, "earlier answer", nil)

	client := &scriptedModelClient{reply: "a helpful reply"}
	h := NewPromptHandler(client, store)

	result, err := h.Execute(context.Background(), "follow-up", AppContext{CurrentDirectory: "/srv/work"})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !result.Success || result.Content != "a helpful reply" {
		t.Errorf("Unexpected result: %+v", result)
	}
	if client.callCount() != 1 {
		t.Errorf("Expected one model call, got %d", client.callCount())
	}
}

func TestBuildTurnPromptTranscript(t *testing.T) {
	history := []ConversationEntry{
		{Type: EntryUserInput, Content: "first question"},
		{Type: EntryAgentResponse, Content: "first answer"},
		{Type: EntrySystemMessage, Content: "should be skipped"},
	}
	prompt := buildTurnPrompt(history, "second question", AppContext{CurrentDirectory: "/tmp"})

	if !strings.Contains(prompt, "[user]\nfirst question") {
		t.Errorf("Missing user turn:\n%s", prompt)
	}
	if !strings.Contains(prompt, "[assistant]\nfirst answer") {
		t.Errorf("Missing assistant turn:\n%s", prompt)
	}
	if strings.Contains(prompt, "should be skipped") {
		t.Error("System messages do not belong in the transcript")
	}
	if !strings.HasSuffix(prompt, "[user]\nsecond question") {
		t.Errorf("Request should be the final turn:\n%s", prompt)
	}
}

func TestPromptHandlerWrapsClientError(t *testing.T) {
	store := newTestStore(t)
	store.CreateSession("")
	client := &scriptedModelClient{err: errors.New("boom")}
	h := NewPromptHandler(client, store)

	_, err := h.Execute(context.Background(), "hello", AppContext{})
	var invErr *ExternalInvocationError
	if !errors.As(err, &invErr) {
		t.Fatalf("Expected ExternalInvocationError, got %T", err)
	}
}

func TestWorkflowHandlerExecutesPlannedSteps(t *testing.T) {
	store := newTestStore(t)
	store.CreateSession("")
	client := NewMockModelClient()
	h := NewWorkflowHandler(client, store)

	result, err := h.Execute(context.Background(), "set up the project and deploy it", AppContext{})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !result.Success {
		t.Error("Expected success")
	}
	steps, _ := result.Metadata["steps"].(int)
	if steps != 3 {
		t.Errorf("Mock plan has 3 steps, got %d", steps)
	}
	for _, label := range []string{"Step 1:", "Step 2:", "Step 3:"} {
		if !strings.Contains(result.Content, label) {
			t.Errorf("Transcript missing %q:\n%s", label, result.Content)
		}
	}
	// One plan call plus one call per step.
	if client.Calls() != 4 {
		t.Errorf("Expected 4 model calls, got %d", client.Calls())
	}
}

func TestWorkflowHandlerUnplannableFallsBackToSingleStep(t *testing.T) {
	store := newTestStore(t)
	store.CreateSession("")
	// The scripted client returns prose for both plan and step calls.
	client := &scriptedModelClient{reply: "no json here"}
	h := NewWorkflowHandler(client, store)

	result, err := h.Execute(context.Background(), "do the thing", AppContext{})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if steps, _ := result.Metadata["steps"].(int); steps != 1 {
		t.Errorf("Expected single-step fallback, got %v", result.Metadata["steps"])
	}
}

func TestWorkflowHandlerHonorsCancellation(t *testing.T) {
	store := newTestStore(t)
	store.CreateSession("")
	h := NewWorkflowHandler(NewMockModelClient(), store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.Execute(ctx, "set up the project and deploy it", AppContext{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestParseStepPlan(t *testing.T) {
	steps := parseStepPlan(`Plan: ["a", "b", " ", "c", "d"] done`, 3)
	if len(steps) != 3 {
		t.Fatalf("Expected 3 steps after blank-filter and cap, got %v", steps)
	}
	if steps[0] != "a" || steps[2] != "c" {
		t.Errorf("Unexpected steps: %v", steps)
	}
	if got := parseStepPlan("no array", 3); got != nil {
		t.Errorf("Expected nil for unparsable plan, got %v", got)
	}
}
