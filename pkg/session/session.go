package session

import (
	"sync"
	"sync/atomic"

	"github.com/vango-dev/collab/pkg/document"
)

// Session is one user's attachment to a shared Document.
type Session struct {
	userID   string
	document *document.Document

	isPublisher atomic.Bool

	mu        sync.Mutex
	listeners map[uint64]func(bool)
	nextID    uint64
}

// New creates a Session bound to doc. The session starts without publish rights.
func New(doc *document.Document, userID string) *Session {
	return &Session{
		userID:    userID,
		document:  doc,
		listeners: make(map[uint64]func(bool)),
	}
}

// UserID returns the client-asserted user identity.
func (s *Session) UserID() string {
	return s.userID
}

// Document returns the shared document this session edits.
func (s *Session) Document() *document.Document {
	return s.document
}

// IsPublisher reports whether the session currently holds publish rights.
func (s *Session) IsPublisher() bool {
	return s.isPublisher.Load()
}

// AllowPublish sets the publish flag and notifies every listener.
// Listeners are notified even when allow equals the current value.
func (s *Session) AllowPublish(allow bool) {
	s.isPublisher.Store(allow)

	s.mu.Lock()
	fns := make([]func(bool), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(allow)
	}
}

// OnAllowPublish registers fn to run after every AllowPublish call.
// The returned function removes the listener.
func (s *Session) OnAllowPublish(fn func(allow bool)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}
