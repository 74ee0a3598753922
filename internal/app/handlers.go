package app

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// HandlerResult is the uniform shape all three handler collaborators return.
// Success=false with an Error is a handled business failure; unexpected
// failures are returned as a Go error from Execute instead.
type HandlerResult struct {
	Content  string
	Success  bool
	Metadata map[string]any
	Error    string
}

// Handler executes one routed request. Implementations must honor ctx for
// cancellation.
type Handler interface {
	Execute(ctx context.Context, request string, appCtx AppContext) (HandlerResult, error)
}

// CommandHandler executes the builtin slash commands against the state
// store. Unknown commands are a handled failure, not an error.
type CommandHandler struct {
	Store   *StateStore
	Version string
}

func NewCommandHandler(store *StateStore, version string) *CommandHandler {
	return &CommandHandler{Store: store, Version: version}
}

const commandHelpText = `Available commands:
  /help              show this help
  /version           show the application version
  /config            show the current configuration
  /sessions          list recent sessions
  /new               start a fresh session
  /clear             clear the current conversation history`

func (h *CommandHandler) Execute(ctx context.Context, request string, appCtx AppContext) (HandlerResult, error) {
	name, args := splitCommand(strings.TrimSpace(request))
	meta := map[string]any{"command": name}

	switch name {
	case "help", "":
		return HandlerResult{Content: commandHelpText, Success: true, Metadata: meta}, nil

	case "version":
		return HandlerResult{Content: "relay " + h.Version, Success: true, Metadata: meta}, nil

	case "config":
		cfg := h.Store.Config()
		var b strings.Builder
		fmt.Fprintf(&b, "model: %s\n", cfg.DefaultModel)
		fmt.Fprintf(&b, "available models: %s\n", strings.Join(cfg.AvailableModels, ", "))
		fmt.Fprintf(&b, "history limit: %d\n", cfg.HistoryLimit)
		fmt.Fprintf(&b, "session timeout: %s\n", cfg.SessionTimeout())
		fmt.Fprintf(&b, "confidence threshold: %.2f\n", cfg.ConfidenceThreshold)
		fmt.Fprintf(&b, "storage: %s", cfg.StorageDriver)
		if len(cfg.Preferences) > 0 {
			keys := make([]string, 0, len(cfg.Preferences))
			for k := range cfg.Preferences {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			b.WriteString("\npreferences:")
			for _, k := range keys {
				fmt.Fprintf(&b, "\n  %s: %v", k, cfg.Preferences[k])
			}
		}
		return HandlerResult{Content: b.String(), Success: true, Metadata: meta}, nil

	case "sessions":
		summaries, err := h.Store.ListSessions(ctx, appCtx.UserID)
		if err != nil {
			return HandlerResult{}, err
		}
		if len(summaries) == 0 {
			return HandlerResult{Content: "No saved sessions.", Success: true, Metadata: meta}, nil
		}
		var b strings.Builder
		for i, sum := range summaries {
			if i > 0 {
				b.WriteString("\n")
			}
			title := sum.Title
			if title == "" {
				title = "(untitled)"
			}
			fmt.Fprintf(&b, "%s  %s  (%d messages, last active %s)",
				sum.ID, title, sum.MessageCount, sum.LastActiveAt.Format("2006-01-02 15:04"))
		}
		return HandlerResult{Content: b.String(), Success: true, Metadata: meta}, nil

	case "new":
		sess := h.Store.CreateSession(appCtx.UserID)
		return HandlerResult{Content: "Started new session " + sess.ID, Success: true, Metadata: meta}, nil

	case "clear":
		if err := h.Store.ClearConversationHistory(); err != nil {
			return HandlerResult{}, err
		}
		return HandlerResult{Content: "Conversation history cleared.", Success: true, Metadata: meta}, nil

	default:
		if strings.TrimSpace(args) != "" {
			meta["args"] = args
		}
		return HandlerResult{
			Success:  false,
			Metadata: meta,
			Error:    fmt.Sprintf("unknown command %q, try /help", name),
		}, nil
	}
}

// PromptHandler forwards a single-turn request to the model with recent
// conversation context.
type PromptHandler struct {
	Client     ModelClient
	Store      *StateStore
	MaxHistory int
}

func NewPromptHandler(client ModelClient, store *StateStore) *PromptHandler {
	return &PromptHandler{Client: client, Store: store, MaxHistory: 20}
}

func (h *PromptHandler) Execute(ctx context.Context, request string, appCtx AppContext) (HandlerResult, error) {
	cfg := h.Store.Config()
	prompt := buildTurnPrompt(h.Store.RecentHistory(h.MaxHistory), request, appCtx)
	resp, err := h.Client.Invoke(ctx, []ModelMessage{{Role: "user", Content: prompt}}, InvokeOptions{
		Model:     cfg.DefaultModel,
		MaxTokens: cfg.MaxTokens,
	})
	if err != nil {
		return HandlerResult{}, &ExternalInvocationError{Op: "prompt", Err: err}
	}
	meta := map[string]any{}
	if resp.Usage != nil {
		meta["input_tokens"] = resp.Usage.InputTokens
		meta["output_tokens"] = resp.Usage.OutputTokens
	}
	return HandlerResult{Content: strings.TrimSpace(resp.Content), Success: true, Metadata: meta}, nil
}

// buildTurnPrompt assembles a role-tagged transcript plus the new request.
func buildTurnPrompt(history []ConversationEntry, request string, appCtx AppContext) string {
	var b strings.Builder
	b.WriteString("[SYSTEM]\n")
	b.WriteString("You are a concise, helpful assistant for a developer working in a terminal.\n")
	if appCtx.CurrentDirectory != "" {
		fmt.Fprintf(&b, "Working directory: %s\n", appCtx.CurrentDirectory)
	}
	b.WriteString("\n")
	for _, e := range history {
		switch e.Type {
		case EntryUserInput:
			b.WriteString("[user]\n")
		case EntryAgentResponse:
			b.WriteString("[assistant]\n")
		default:
			continue
		}
		b.WriteString(strings.TrimSpace(e.Content))
		b.WriteString("\n\n")
	}
	b.WriteString("[user]\n")
	b.WriteString(request)
	return b.String()
}

// WorkflowHandler asks the model for a step plan and executes the steps
// sequentially, feeding each step the results so far.
type WorkflowHandler struct {
	Client   ModelClient
	Store    *StateStore
	MaxSteps int
}

func NewWorkflowHandler(client ModelClient, store *StateStore) *WorkflowHandler {
	return &WorkflowHandler{Client: client, Store: store, MaxSteps: 8}
}

func (h *WorkflowHandler) Execute(ctx context.Context, request string, appCtx AppContext) (HandlerResult, error) {
	cfg := h.Store.Config()
	opts := InvokeOptions{Model: cfg.DefaultModel, MaxTokens: cfg.MaxTokens}

	steps, err := h.plan(ctx, request, opts)
	if err != nil {
		return HandlerResult{}, &ExternalInvocationError{Op: "workflow-plan", Err: err}
	}

	var transcript strings.Builder
	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			return HandlerResult{}, err
		}
		prompt := buildStepPrompt(request, steps, i, transcript.String())
		resp, err := h.Client.Invoke(ctx, []ModelMessage{{Role: "user", Content: prompt}}, opts)
		if err != nil {
			return HandlerResult{}, &ExternalInvocationError{Op: fmt.Sprintf("workflow-step-%d", i+1), Err: err}
		}
		fmt.Fprintf(&transcript, "Step %d: %s\n%s\n\n", i+1, step, strings.TrimSpace(resp.Content))
	}

	return HandlerResult{
		Content: strings.TrimSpace(transcript.String()),
		Success: true,
		Metadata: map[string]any{
			"steps": len(steps),
			"plan":  steps,
		},
	}, nil
}

func (h *WorkflowHandler) plan(ctx context.Context, request string, opts InvokeOptions) ([]string, error) {
	var b strings.Builder
	b.WriteString("Break the following task into a short ordered list of concrete steps.\n")
	fmt.Fprintf(&b, "Task: %s\n\n", request)
	fmt.Fprintf(&b, "Respond with ONLY a JSON array of at most %d step descriptions.", h.MaxSteps)

	resp, err := h.Client.Invoke(ctx, []ModelMessage{{Role: "user", Content: b.String()}}, opts)
	if err != nil {
		return nil, err
	}
	steps := parseStepPlan(resp.Content, h.MaxSteps)
	if len(steps) == 0 {
		// Unplannable input degrades to a single-step workflow.
		steps = []string{request}
	}
	return steps, nil
}

func parseStepPlan(reply string, maxSteps int) []string {
	start := strings.Index(reply, "[")
	end := strings.LastIndex(reply, "]")
	if start < 0 || end <= start {
		return nil
	}
	var raw []string
	if err := json.Unmarshal([]byte(reply[start:end+1]), &raw); err != nil {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		out = append(out, s)
		if len(out) == maxSteps {
			break
		}
	}
	return out
}

func buildStepPrompt(task string, steps []string, index int, resultsSoFar string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are executing step %d of %d of this task: %s\n\n", index+1, len(steps), task)
	if resultsSoFar != "" {
		b.WriteString("Results so far:\n")
		b.WriteString(resultsSoFar)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Current step: %s\n", steps[index])
	b.WriteString("Carry out this step and report the outcome concisely.")
	return b.String()
}
