// Package document holds the in-memory state of one shared document.
//
// A Document starts from an HTML snapshot produced by the parse collaborator
// and is mutated only by applying transactions. Transactions are linear
// deltas: a list of retain, insert and delete operations walked over the
// content from its start. They are applied in the order they arrive, one at a
// time, with no transformation against concurrent edits.
//
// # Transaction Format
//
//	{"operations": [
//	    {"type": "retain", "length": 12},
//	    {"type": "delete", "length": 3},
//	    {"type": "insert", "text": "new"}
//	]}
//
// Lengths count Unicode code points. Content after the last operation is kept
// as-is. A transaction whose operations run past the end of the content fails
// as a whole and leaves the document unchanged.
//
// # Thread Safety
//
// All Document methods are safe for concurrent use. ApplyTransaction holds the
// document mutex for the full apply, so concurrent callers are serialized in
// lock acquisition order. Callers that also need broadcast ordering (the route
// layer) serialize above this lock.
package document
