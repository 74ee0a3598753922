package app

import (
	"context"
	"fmt"
	"time"
)

const DefaultConfidenceThreshold = 0.8

// HybridClassifier composes the rule and model classifiers behind a
// confidence gate. Classification never fails: the worst case is a
// low-confidence rule-based guess.
type HybridClassifier struct {
	rules     *RuleClassifier
	model     *ModelClassifier
	threshold float64
	logger    *Logger
}

func NewHybridClassifier(rules *RuleClassifier, model *ModelClassifier, threshold float64, logger *Logger) *HybridClassifier {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultConfidenceThreshold
	}
	return &HybridClassifier{rules: rules, model: model, threshold: threshold, logger: logger}
}

func (c *HybridClassifier) Threshold() float64 { return c.threshold }

func (c *HybridClassifier) Classify(ctx context.Context, input string, appCtx *AppContext) ClassificationResult {
	ruleResult := c.rules.Classify(input, appCtx)

	// Fast path: confident rule match, no model call. This has to be the
	// dominant path by volume for the latency goals to hold.
	if ruleResult.Confidence >= c.threshold {
		out := ruleResult
		out.Method = MethodHybrid
		out.ExtractedData = copyAnyMap(ruleResult.ExtractedData)
		out.Metadata = copyAnyMap(ruleResult.Metadata)
		if out.Metadata == nil {
			out.Metadata = make(map[string]any, 1)
		}
		out.Metadata["stage"] = StageRuleOnly
		return out
	}

	modelResult, err := c.model.Classify(ctx, input, appCtx)
	if err != nil {
		// Fall back to the rule result verbatim; the failure is recorded in
		// the reasoning, never propagated.
		if c.logger != nil {
			c.logger.Error("model classification failed, using rule fallback", map[string]interface{}{
				"error": err.Error(),
			})
		}
		out := ruleResult
		out.Method = MethodHybrid
		out.Reasoning = fmt.Sprintf("model stage failed (%v); rule-based fallback: %s", err, ruleResult.Reasoning)
		out.ExtractedData = copyAnyMap(ruleResult.ExtractedData)
		out.Metadata = map[string]any{"stage": StageErrorFallback}
		return out
	}

	return mergeResults(ruleResult, modelResult)
}

// mergeResults combines the two stages. The model is the trusted arbiter on
// type; extracted data merges last-writer-wins with the model's keys winning.
func mergeResults(rule, model ClassificationResult) ClassificationResult {
	agreed := rule.Type == model.Type && rule.Type != ""

	var confidence float64
	if agreed {
		confidence = (rule.Confidence+model.Confidence)/2 + 0.1
		if confidence > 0.98 {
			confidence = 0.98
		}
	} else {
		confidence = model.Confidence - 0.1
		if confidence < 0.6 {
			confidence = 0.6
		}
	}

	extracted := copyAnyMap(rule.ExtractedData)
	if model.ExtractedData != nil {
		if extracted == nil {
			extracted = make(map[string]any, len(model.ExtractedData))
		}
		for k, v := range model.ExtractedData {
			extracted[k] = v
		}
	}

	agreement := "disagreed"
	if agreed {
		agreement = "agreed"
	}
	reasoning := fmt.Sprintf("rule and model %s (rule: %s %.2f, model: %s %.2f); %s",
		agreement, rule.Type, rule.Confidence, model.Type, model.Confidence, model.Reasoning)

	return ClassificationResult{
		Type:          model.Type,
		Confidence:    confidence,
		Method:        MethodHybrid,
		Reasoning:     reasoning,
		ExtractedData: extracted,
		Metadata: map[string]any{
			"stage":            StageHybrid,
			"rule_confidence":  rule.Confidence,
			"model_confidence": model.Confidence,
			"agreed":           agreed,
		},
	}
}

// AverageLatency is a weighted planning estimate reflecting the expected
// fast/slow path mix. It informs orchestrator capacity and timeout planning,
// not per-call decisions.
func (c *HybridClassifier) AverageLatency() time.Duration {
	rule := float64(c.rules.AverageLatency())
	model := float64(c.model.AverageLatency())
	return time.Duration(0.7*rule + 0.3*model)
}
