package app

import (
	"context"
	"encoding/json"
	"fmt"
)

// ListFilter narrows and bounds a backend listing. A zero value lists
// everything, newest activity first.
type ListFilter struct {
	UserID string
	Limit  int
}

// PersistenceBackend is the durable session store. The blob is the
// serialized SessionData; the backend is storage, not an owner of session
// identity. Read reports absence through the bool, never through an error.
// List returns blobs ordered by last activity, newest first.
type PersistenceBackend interface {
	Write(ctx context.Context, sessionID string, blob []byte) error
	Read(ctx context.Context, sessionID string) ([]byte, bool, error)
	List(ctx context.Context, filter ListFilter) ([][]byte, error)
	Delete(ctx context.Context, sessionID string) error
}

// encodeSession serializes a session for the backend. Round-trip through
// decodeSession is lossless for every persisted field.
func encodeSession(s *SessionData) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("nil session")
	}
	blob, err := json.Marshal(s)
	if err != nil {
		return nil, persistenceErr(PersistenceSerialization, s.ID, err)
	}
	return blob, nil
}

func decodeSession(blob []byte) (*SessionData, error) {
	var s SessionData
	if err := json.Unmarshal(blob, &s); err != nil {
		return nil, persistenceErr(PersistenceSerialization, "", err)
	}
	if s.ConversationHistory == nil {
		s.ConversationHistory = []ConversationEntry{}
	}
	return &s, nil
}
