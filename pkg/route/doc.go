// Package route maps document titles to collaboration routes.
//
// A Route pairs one shared Document with the ordered list of participants
// editing it. The Registry guarantees that every title has at most one live
// Route: creation goes through a single-flight group keyed by title, so
// concurrent first joiners wait for one loader call and then join the same
// Route. A Route is closed and removed when its last participant leaves.
//
// # Ordering
//
// Each Route has an ordering lock. Join, Leave, ClaimPublisher and Exclusive
// run their work under it, so a transaction applied and broadcast inside
// Exclusive is enqueued to every participant before the next one starts, and
// a joiner's snapshot is enqueued before any later broadcast.
//
// Broadcasts iterate a snapshot of the participant list taken at broadcast
// time. The list itself sits behind a separate RW lock so publish-rights
// recomputation can run from inside an ordered section.
package route
