package app

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// RequestState is one node of the per-request state machine.
type RequestState string

const (
	StateReceived          RequestState = "received"
	StateClassifying       RequestState = "classifying"
	StateDispatching       RequestState = "dispatching"
	StateExecutingCommand  RequestState = "executing-command"
	StateExecutingPrompt   RequestState = "executing-prompt"
	StateExecutingWorkflow RequestState = "executing-workflow"
	StateCompleted         RequestState = "completed"
	StateFailed            RequestState = "failed"
)

func executingState(t InputType) RequestState {
	switch t {
	case InputCommand:
		return StateExecutingCommand
	case InputWorkflow:
		return StateExecutingWorkflow
	default:
		return StateExecutingPrompt
	}
}

// Orchestrator runs one request's state machine to completion before the
// next on the same instance. It holds no state across requests except
// through the StateStore; separate instances share only the store.
type Orchestrator struct {
	classifier *HybridClassifier
	store      *StateStore
	handlers   map[InputType]Handler
	logger     *Logger
}

func NewOrchestrator(classifier *HybridClassifier, store *StateStore, logger *Logger) *Orchestrator {
	return &Orchestrator{
		classifier: classifier,
		store:      store,
		handlers:   make(map[InputType]Handler),
		logger:     logger,
	}
}

// RegisterHandler binds a handler collaborator to an input type. Call before
// the first Process; handlers are not swapped mid-request.
func (o *Orchestrator) RegisterHandler(t InputType, h Handler) {
	o.handlers[t] = h
}

func (o *Orchestrator) transition(from, to RequestState) RequestState {
	if o.logger != nil {
		o.logger.Debug("request state", map[string]interface{}{
			"from": string(from),
			"to":   string(to),
		})
	}
	return to
}

// Process routes one input to its handler and records the outcome in the
// active session. It never panics across the boundary and never throws
// handler or persistence failures at the caller; everything terminal comes
// back as an AgentResponse.
func (o *Orchestrator) Process(ctx context.Context, input string) AgentResponse {
	start := time.Now()
	state := StateReceived

	if _, err := o.store.AddConversationEntry(EntryUserInput, input, nil); err != nil && o.logger != nil {
		o.logger.Error("failed to record user input", map[string]interface{}{"error": err.Error()})
	}

	state = o.transition(state, StateClassifying)
	appCtx := o.currentContext()
	classification := o.classifier.Classify(ctx, input, appCtx)

	state = o.transition(state, StateDispatching)
	handler, ok := o.handlers[classification.Type]
	if !ok {
		err := &HandlerNotAvailableError{Type: classification.Type}
		o.transition(state, StateFailed)
		return o.fail(classification, start, err.Error())
	}

	if err := ctx.Err(); err != nil {
		o.transition(state, StateFailed)
		return o.cancelled(classification, start)
	}

	state = o.transition(state, executingState(classification.Type))
	result, err := handler.Execute(ctx, input, o.contextValue(appCtx))
	if err != nil {
		o.transition(state, StateFailed)
		if isCancellation(ctx, err) {
			return o.cancelled(classification, start)
		}
		return o.fail(classification, start, err.Error())
	}

	o.transition(state, StateCompleted)
	return o.complete(classification, start, result)
}

func (o *Orchestrator) currentContext() *AppContext {
	if sess := o.store.CurrentSession(); sess != nil {
		ctx := sess.Context
		return &ctx
	}
	return nil
}

func (o *Orchestrator) contextValue(ctx *AppContext) AppContext {
	if ctx == nil {
		return AppContext{}
	}
	return *ctx
}

// complete records a terminal agent_response entry. A handled business
// failure (Success=false) still completes; only unexpected errors fail.
func (o *Orchestrator) complete(c ClassificationResult, start time.Time, result HandlerResult) AgentResponse {
	content := result.Content
	errText := ""
	entryType := EntryAgentResponse
	if !result.Success {
		errText = result.Error
		if content == "" {
			content = result.Error
		}
	}
	meta := map[string]any{
		"classification": string(c.Type),
		"confidence":     c.Confidence,
		"method":         string(c.Method),
		"success":        result.Success,
	}
	if _, err := o.store.AddConversationEntry(entryType, content, meta); err != nil && o.logger != nil {
		o.logger.Error("failed to record agent response", map[string]interface{}{"error": err.Error()})
	}
	return AgentResponse{
		Content:       content,
		Type:          c.Type,
		Confidence:    c.Confidence,
		Method:        c.Method,
		ExecutionTime: time.Since(start),
		Success:       result.Success,
		Error:         errText,
	}
}

// fail records a terminal system_message entry for an unexpected failure.
func (o *Orchestrator) fail(c ClassificationResult, start time.Time, errText string) AgentResponse {
	content := fmt.Sprintf("Request failed: %s", errText)
	meta := map[string]any{
		"classification": string(c.Type),
		"confidence":     c.Confidence,
		"error":          errText,
	}
	if _, err := o.store.AddConversationEntry(EntrySystemMessage, content, meta); err != nil && o.logger != nil {
		o.logger.Error("failed to record failure", map[string]interface{}{"error": err.Error()})
	}
	return AgentResponse{
		Content:       content,
		Type:          c.Type,
		Confidence:    c.Confidence,
		Method:        c.Method,
		ExecutionTime: time.Since(start),
		Success:       false,
		Error:         errText,
	}
}

// cancelled records the abort; partial handler output is discarded rather
// than stored as mid-state.
func (o *Orchestrator) cancelled(c ClassificationResult, start time.Time) AgentResponse {
	meta := map[string]any{
		"classification": string(c.Type),
		"condition":      "cancelled",
	}
	if _, err := o.store.AddConversationEntry(EntrySystemMessage, "Request cancelled.", meta); err != nil && o.logger != nil {
		o.logger.Error("failed to record cancellation", map[string]interface{}{"error": err.Error()})
	}
	return AgentResponse{
		Content:       "Request cancelled.",
		Type:          c.Type,
		Confidence:    c.Confidence,
		Method:        c.Method,
		ExecutionTime: time.Since(start),
		Success:       false,
		Error:         ErrCancelled.Error(),
	}
}

func isCancellation(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrCancelled)
}
