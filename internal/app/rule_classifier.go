package app

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// latencyTracker keeps a running average of observed call latencies.
type latencyTracker struct {
	mu    sync.Mutex
	total time.Duration
	count int64
}

func (t *latencyTracker) observe(d time.Duration) {
	t.mu.Lock()
	t.total += d
	t.count++
	t.mu.Unlock()
}

func (t *latencyTracker) average() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.count == 0 {
		return 0
	}
	return t.total / time.Duration(t.count)
}

// RuleClassifier classifies input with deterministic keyword and pattern
// rules. No external calls; bounded latency. A zero-confidence result means
// no rule fired and the caller must defer to the model fallback - it is
// never a prompt classification by default.
type RuleClassifier struct {
	latency latencyTracker
}

func NewRuleClassifier() *RuleClassifier {
	return &RuleClassifier{}
}

var greetingWords = map[string]bool{
	"hi": true, "hello": true, "hey": true, "yo": true, "sup": true,
	"thanks": true, "thank you": true, "thx": true, "ty": true,
	"ok": true, "okay": true, "bye": true, "goodbye": true,
}

var questionStarters = []string{
	"what", "why", "how", "when", "where", "who", "which",
	"is ", "are ", "does ", "can ", "could ", "should ", "would ",
	"explain", "describe", "tell me",
}

var actionVerbs = map[string]bool{
	"create": true, "make": true, "build": true, "generate": true, "write": true,
	"add": true, "implement": true, "fix": true, "debug": true, "update": true,
	"delete": true, "remove": true, "move": true, "rename": true, "refactor": true,
	"install": true, "run": true, "execute": true, "test": true, "verify": true,
	"deploy": true, "analyze": true, "analyse": true, "review": true,
	"migrate": true, "document": true, "summarize": true, "summarise": true,
}

var sequenceConnectors = []string{
	"and then", "then ", "after that", "followed by", "finally",
	"first,", "first ", "next,", "next ", "step 1", "step one",
}

var coordinationCues = []string{
	"with tests", "and tests", "run tests", "and document", "with documentation",
	"and deploy", "deploy it", "end to end", "entire codebase", "whole project",
	"set up a project", "new project with",
}

func (c *RuleClassifier) Classify(input string, appCtx *AppContext) ClassificationResult {
	start := time.Now()
	defer func() { c.latency.observe(time.Since(start)) }()

	trimmed := strings.TrimSpace(input)
	lower := strings.ToLower(trimmed)

	if trimmed == "" {
		return ClassificationResult{
			Method:    MethodRule,
			Reasoning: "empty input, no rule fired",
		}
	}

	// Literal command prefix is the strongest signal there is.
	if strings.HasPrefix(trimmed, "/") {
		name, args := splitCommand(trimmed)
		return ClassificationResult{
			Type:       InputCommand,
			Confidence: 0.95,
			Method:     MethodRule,
			Reasoning:  fmt.Sprintf("input starts with command prefix %q", "/"),
			ExtractedData: map[string]any{
				"command": name,
				"args":    args,
			},
		}
	}

	if greetingWords[lower] {
		return ClassificationResult{
			Type:       InputPrompt,
			Confidence: 0.9,
			Method:     MethodRule,
			Reasoning:  "greeting or acknowledgement",
		}
	}

	words := fieldsTrimmed(lower)
	verbs := countActionVerbs(words)
	indicators := workflowIndicators(lower, verbs)

	if len(indicators) >= 2 || (len(indicators) == 1 && verbs >= 2) {
		conf := 0.55 + 0.15*float64(len(indicators))
		if verbs >= 3 {
			conf += 0.05
		}
		if conf > 0.9 {
			conf = 0.9
		}
		return ClassificationResult{
			Type:       InputWorkflow,
			Confidence: conf,
			Method:     MethodRule,
			Reasoning:  fmt.Sprintf("multi-step indicators: %s", strings.Join(indicators, ", ")),
			ExtractedData: map[string]any{
				"indicators":      indicators,
				"estimated_steps": verbs + len(indicators),
			},
		}
	}

	if isQuestion(lower) {
		// A trailing question mark makes this unambiguous; a bare question
		// word alone is weak evidence and should defer to the model.
		conf := 0.45
		if strings.HasSuffix(trimmed, "?") && len(indicators) == 0 {
			conf = 0.85
		}
		return ClassificationResult{
			Type:       InputPrompt,
			Confidence: conf,
			Method:     MethodRule,
			Reasoning:  "interrogative phrasing",
		}
	}

	if verbs == 1 && len(words) <= 8 && len(indicators) == 0 {
		return ClassificationResult{
			Type:       InputPrompt,
			Confidence: 0.6,
			Method:     MethodRule,
			Reasoning:  "single short action request",
		}
	}

	return ClassificationResult{
		Method:    MethodRule,
		Reasoning: "no rule fired",
	}
}

// AverageLatency reports the mean latency observed across Classify calls.
func (c *RuleClassifier) AverageLatency() time.Duration {
	return c.latency.average()
}

func splitCommand(input string) (name, args string) {
	rest := strings.TrimPrefix(input, "/")
	parts := strings.SplitN(rest, " ", 2)
	name = strings.ToLower(strings.TrimSpace(parts[0]))
	if len(parts) == 2 {
		args = strings.TrimSpace(parts[1])
	}
	return name, args
}

func fieldsTrimmed(s string) []string {
	words := strings.Fields(s)
	out := words[:0]
	for _, w := range words {
		w = strings.Trim(w, ".,:;!?()[]{}\"'")
		if w != "" {
			out = append(out, w)
		}
	}
	return out
}

func countActionVerbs(words []string) int {
	n := 0
	for _, w := range words {
		if actionVerbs[w] {
			n++
		}
	}
	return n
}

func workflowIndicators(lower string, verbs int) []string {
	var out []string
	for _, c := range sequenceConnectors {
		if strings.Contains(lower, c) {
			out = append(out, strings.TrimSpace(c))
			break
		}
	}
	for _, c := range coordinationCues {
		if strings.Contains(lower, c) {
			out = append(out, c)
		}
	}
	if verbs >= 2 && strings.Contains(lower, " and ") {
		out = append(out, "multiple actions")
	}
	return out
}

func isQuestion(lower string) bool {
	if strings.HasSuffix(strings.TrimSpace(lower), "?") {
		return true
	}
	for _, q := range questionStarters {
		if strings.HasPrefix(lower, q) {
			return true
		}
	}
	return false
}
