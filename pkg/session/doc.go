// Package session holds per-participant collaboration state.
//
// A Session binds one connected user to a shared Document and tracks whether
// that user currently holds publish rights. Publish changes are signaled to
// listeners registered with OnAllowPublish; the connection layer uses the
// signal to recompute the document's publisher flag.
//
// GenerateID derives the identifier handed out during the authentication
// handshake. It is a pure function of its inputs and is not used to key
// sessions.
package session
