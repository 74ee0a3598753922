package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ModelClassifier delegates classification to the model-invocation
// collaborator. A collaborator failure or timeout comes back as an
// ExternalInvocationError; the fallback decision belongs to the caller.
type ModelClassifier struct {
	client  ModelClient
	model   string
	timeout time.Duration
	latency latencyTracker
}

func NewModelClassifier(client ModelClient, model string, timeout time.Duration) *ModelClassifier {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ModelClassifier{client: client, model: model, timeout: timeout}
}

func (c *ModelClassifier) Classify(ctx context.Context, input string, appCtx *AppContext) (ClassificationResult, error) {
	start := time.Now()
	defer func() { c.latency.observe(time.Since(start)) }()

	if c.client == nil {
		return ClassificationResult{}, &ExternalInvocationError{Op: "classify", Err: errors.New("no model client configured")}
	}

	prompt := buildClassificationPrompt(input, appCtx)
	resp, err := c.client.Invoke(ctx, []ModelMessage{{Role: "user", Content: prompt}}, InvokeOptions{
		Model:       c.model,
		MaxTokens:   512,
		Temperature: 0.1,
		Timeout:     c.timeout,
	})
	if err != nil {
		return ClassificationResult{}, &ExternalInvocationError{Op: "classify", Err: err}
	}

	result, err := parseClassificationReply(resp.Content)
	if err != nil {
		return ClassificationResult{}, &ExternalInvocationError{Op: "classify", Err: err}
	}
	return result, nil
}

// AverageLatency reports the mean latency observed across Classify calls.
func (c *ModelClassifier) AverageLatency() time.Duration {
	return c.latency.average()
}

func buildClassificationPrompt(input string, appCtx *AppContext) string {
	var b strings.Builder
	b.WriteString("You are a text classifier. Analyze the following input and classify it as \"command\", \"prompt\", or \"workflow\".\n\n")
	fmt.Fprintf(&b, "Input to classify: %q\n\n", input)
	b.WriteString("Classification rules:\n")
	b.WriteString("- COMMAND: an explicit application command, usually starting with \"/\"\n")
	b.WriteString("- PROMPT: single-step requests, questions, greetings, simple tasks that can be completed directly\n")
	b.WriteString("  Examples: \"hi\", \"what is recursion?\", \"write a function\", \"explain this concept\"\n")
	b.WriteString("- WORKFLOW: multi-step tasks requiring coordination, orchestration, or sequential operations\n")
	b.WriteString("  Examples: \"create a new project with tests and documentation\", \"fix bugs and deploy\"\n\n")
	b.WriteString("Key indicators:\n")
	b.WriteString("- Multiple actions: \"and\", \"then\", \"also\", \"with\", \"plus\"\n")
	b.WriteString("- File operations: \"create\", \"update\", \"fix\" plus file references\n")
	b.WriteString("- Testing requirements: \"with tests\", \"run tests\", \"verify\"\n")
	b.WriteString("- Coordination needs: multiple systems, tools, or sequential steps\n\n")
	if appCtx != nil && appCtx.CurrentDirectory != "" {
		fmt.Fprintf(&b, "The user is working in directory %s.\n\n", appCtx.CurrentDirectory)
	}
	b.WriteString("Respond with ONLY a JSON object:\n")
	b.WriteString(`{"type": "prompt", "confidence": 0.9, "reasoning": "...", "step_count": 1}`)
	b.WriteString("\n\nWhen in doubt, prefer \"prompt\" for simple requests and \"workflow\" only for clearly multi-step tasks.")
	return b.String()
}

// parseClassificationReply pulls the JSON object out of the model reply,
// tolerating fenced code blocks and surrounding prose.
func parseClassificationReply(reply string) (ClassificationResult, error) {
	raw, ok := extractJSONObject(reply)
	if !ok {
		return ClassificationResult{}, fmt.Errorf("no JSON object in model reply: %q", trimForError(reply))
	}
	var fields map[string]any
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return ClassificationResult{}, fmt.Errorf("malformed classification JSON: %w", err)
	}

	typeStr, _ := fields["type"].(string)
	inputType, ok := ParseInputType(strings.ToLower(strings.TrimSpace(typeStr)))
	if !ok {
		return ClassificationResult{}, fmt.Errorf("model returned unknown type %q", typeStr)
	}

	result := ClassificationResult{
		Type:       inputType,
		Confidence: coerceConfidence(fields["confidence"]),
		Method:     MethodModel,
	}
	if reasoning, ok := fields["reasoning"].(string); ok {
		result.Reasoning = reasoning
	}
	delete(fields, "type")
	delete(fields, "confidence")
	delete(fields, "reasoning")
	if len(fields) > 0 {
		result.ExtractedData = fields
	}
	return result, nil
}

// coerceConfidence mirrors the original behavior: models occasionally emit
// confidence as a string, and an unparsable value falls back to 0.5.
func coerceConfidence(v any) float64 {
	switch val := v.(type) {
	case float64:
		return clamp01(val)
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return clamp01(f)
		}
	case json.Number:
		if f, err := val.Float64(); err == nil {
			return clamp01(f)
		}
	}
	return 0.5
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func extractJSONObject(s string) (string, bool) {
	start := strings.Index(s, "{")
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

func trimForError(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 120 {
		return s[:120] + "..."
	}
	return s
}
