package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MockModelClient simulates the model collaborator for tests and for
// running the binary without an API key. Responses are deterministic
// keyword matches on the prompt.
type MockModelClient struct {
	mu    sync.Mutex
	calls int

	// Err, when set, makes every Invoke fail. Used to exercise the
	// error-fallback paths.
	Err error
}

func NewMockModelClient() *MockModelClient {
	return &MockModelClient{}
}

func (c *MockModelClient) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func (c *MockModelClient) Invoke(ctx context.Context, messages []ModelMessage, opts InvokeOptions) (ModelResponse, error) {
	c.mu.Lock()
	c.calls++
	err := c.Err
	c.mu.Unlock()
	if err != nil {
		return ModelResponse{}, err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ModelResponse{}, ctxErr
	}

	prompt := ""
	if len(messages) > 0 {
		prompt = messages[len(messages)-1].Content
	}
	return ModelResponse{Content: c.generate(prompt)}, nil
}

func (c *MockModelClient) InvokeStream(ctx context.Context, messages []ModelMessage, opts InvokeOptions, fn func(StreamChunk) error) error {
	resp, err := c.Invoke(ctx, messages, opts)
	if err != nil {
		return err
	}
	// Stream word by word so consumers see multiple chunks.
	for _, word := range strings.SplitAfter(resp.Content, " ") {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(StreamChunk{Content: word}); err != nil {
			return err
		}
	}
	return fn(StreamChunk{Done: true})
}

func (c *MockModelClient) generate(prompt string) string {
	if input, ok := extractClassificationInput(prompt); ok {
		return c.classifyMock(input)
	}
	if strings.Contains(prompt, "Respond with ONLY a JSON array") {
		return `["inspect the current state", "apply the requested change", "verify the result"]`
	}
	task := extractUserTurn(prompt)
	lower := strings.ToLower(task)
	switch {
	case lower == "hi" || lower == "hello" || lower == "hey":
		return "Hello! How can I help?"
	case strings.Contains(lower, "executing step"):
		return "Step done."
	case strings.Contains(lower, "recursion"):
		return "Recursion is a function calling itself until a base case stops it."
	default:
		return fmt.Sprintf("Mock response for: %s", strings.TrimSpace(task))
	}
}

// classifyMock mirrors the real classifier's reply contract.
func (c *MockModelClient) classifyMock(input string) string {
	lower := strings.ToLower(input)
	switch {
	case strings.HasPrefix(strings.TrimSpace(input), "/"):
		return `{"type": "command", "confidence": 0.95, "reasoning": "explicit command prefix", "step_count": 1}`
	case strings.Contains(lower, " and ") || strings.Contains(lower, "then "):
		return `{"type": "workflow", "confidence": 0.85, "reasoning": "multiple coordinated actions", "step_count": 3}`
	default:
		return `{"type": "prompt", "confidence": 0.85, "reasoning": "single-step request", "step_count": 1}`
	}
}

func extractClassificationInput(prompt string) (string, bool) {
	const needle = "Input to classify: "
	idx := strings.Index(prompt, needle)
	if idx < 0 {
		return "", false
	}
	rest := prompt[idx+len(needle):]
	if nl := strings.Index(rest, "\n"); nl >= 0 {
		rest = rest[:nl]
	}
	return strings.Trim(strings.TrimSpace(rest), "\""), true
}

func extractUserTurn(prompt string) string {
	idx := strings.LastIndex(prompt, "[user]")
	if idx < 0 {
		return prompt
	}
	return strings.TrimSpace(prompt[idx+len("[user]"):])
}
