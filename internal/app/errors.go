package app

import (
	"errors"
	"fmt"
)

// ExternalInvocationError wraps a failure or timeout from the model or a
// handler collaborator. The hybrid classifier recovers from it locally; the
// orchestrator surfaces it only when a handler (not the classifier) fails.
type ExternalInvocationError struct {
	Op  string
	Err error
}

func (e *ExternalInvocationError) Error() string {
	return fmt.Sprintf("external invocation failed (%s): %v", e.Op, e.Err)
}

func (e *ExternalInvocationError) Unwrap() error { return e.Err }

// HandlerNotAvailableError means no collaborator is registered for a
// classified input type. Fatal for that request, never retried.
type HandlerNotAvailableError struct {
	Type InputType
}

func (e *HandlerNotAvailableError) Error() string {
	return fmt.Sprintf("no handler registered for type %q", e.Type)
}

// Persistence error categories.
type PersistenceKind string

const (
	PersistenceNotFound      PersistenceKind = "not-found"
	PersistenceIO            PersistenceKind = "io"
	PersistenceSerialization PersistenceKind = "serialization"
)

// PersistenceError is a categorized durable read/write/delete failure.
// Missing sessions on load are reported as an explicit not-found outcome by
// the store, not as this error.
type PersistenceError struct {
	Kind      PersistenceKind
	SessionID string
	Err       error
}

func (e *PersistenceError) Error() string {
	if e.SessionID == "" {
		return fmt.Sprintf("persistence %s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("persistence %s error for session %s: %v", e.Kind, e.SessionID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func persistenceErr(kind PersistenceKind, sessionID string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	return &PersistenceError{Kind: kind, SessionID: sessionID, Err: err}
}

// ErrCancelled marks a request aborted through its cancellation signal.
var ErrCancelled = errors.New("request cancelled")

// ErrNoActiveSession is returned by store operations that need a current
// session when none has been created or loaded.
var ErrNoActiveSession = errors.New("no active session")
