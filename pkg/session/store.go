package session

import "context"

// Store is the persistence port the core depends on and never implements
// concretely. A real deployment backs it with whatever database the
// surrounding service already uses; the core only ever sees this interface.
type Store interface {
	LoadSession(ctx context.Context, id string) (*Session, error)
	SaveSession(ctx context.Context, s *Session) error

	// AppendMessage must be atomic: a delta is either fully persisted or
	// not at all, never partially. Replaying every delta in Step order
	// reconstructs the session's message list exactly.
	AppendMessage(ctx context.Context, delta MessageDelta) error
	LoadMessages(ctx context.Context, sessionID string, fromStep int) ([]Message, error)

	// EnumerateNonTerminalSessions is used once at process start by the
	// Session Supervisor to find sessions to adopt and resume.
	EnumerateNonTerminalSessions(ctx context.Context) ([]*Session, error)
}

// NotFoundError is returned by Store implementations when a session id is
// unknown.
type NotFoundError struct{ SessionID string }

func (e *NotFoundError) Error() string { return "session not found: " + e.SessionID }
