package server

import (
	"errors"
	"fmt"
)

// Sentinel errors for connection and handler error conditions.
var (
	// ErrNoSession is returned when an operation needs a joined session.
	ErrNoSession = errors.New("server: no session")

	// ErrAlreadyJoined is returned when a connection that is joining or joined asks to join again.
	ErrAlreadyJoined = errors.New("server: already joined")

	// ErrNotPublisher is returned when a save is attempted without publish rights.
	ErrNotPublisher = errors.New("server: not publisher")

	// ErrSendQueueFull is returned when a client's outbound queue is full.
	// The connection is closed as a slow consumer.
	ErrSendQueueFull = errors.New("server: send queue full")

	// ErrConnectionClosed is returned when the connection is closed.
	ErrConnectionClosed = errors.New("server: connection closed")

	// ErrInvalidJoin is returned for a join without user or title.
	ErrInvalidJoin = errors.New("server: user and title are required")

	// ErrUnknownEvent is returned for an inbound event name the server does not handle.
	ErrUnknownEvent = errors.New("server: unknown event")

	// ErrNoParser is returned when a route must be created but no parser is configured.
	ErrNoParser = errors.New("server: no parser configured")
)

// SessionError wraps an error with connection context for debugging.
type SessionError struct {
	ConnID string
	Op     string // Operation that failed
	Err    error  // Underlying error
}

// Error returns the error message with connection context.
func (e *SessionError) Error() string {
	if e.ConnID == "" {
		return fmt.Sprintf("server: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("server: conn %s: %s: %v", e.ConnID, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *SessionError) Unwrap() error {
	return e.Err
}

// NewSessionError creates a new SessionError.
func NewSessionError(connID, op string, err error) *SessionError {
	return &SessionError{
		ConnID: connID,
		Op:     op,
		Err:    err,
	}
}

// ProtocolError represents a malformed inbound message.
type ProtocolError struct {
	ConnID  string
	Event   string
	Message string
}

// Error returns the error message.
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("server: protocol error in conn %s: %s: %s",
		e.ConnID, e.Event, e.Message)
}

// NewProtocolError creates a new ProtocolError.
func NewProtocolError(connID, event, message string) *ProtocolError {
	return &ProtocolError{
		ConnID:  connID,
		Event:   event,
		Message: message,
	}
}
