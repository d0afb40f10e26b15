// Package store persists the project registry as a single JSON document.
//
// The document is the only durable state in promptshelf. There is no database
// engine underneath it, so the Store provides the guarantees itself:
//
//   - Saves are totally ordered. At most one write is in flight; a save that
//     arrives meanwhile takes the single pending slot, and a newer save replaces
//     the pending payload (last writer wins among queued requests).
//   - A write goes to <path>.tmp, is fsynced, read back and parsed, and only then
//     renamed over the document. A half-written document is never visible.
//   - Before the rename, the current document is kept as <path>.bak when it is
//     valid JSON. Load falls back to it if the document ever fails to parse.
//   - Update runs load → mutate → save as one critical section so concurrent
//     read-modify-write callers never lose each other's changes.
//
// # Superseded saves
//
// A caller whose payload is replaced in the pending slot before it is written
// does not get an error. Its Save returns the result of the write that replaced
// it. "Save returned nil" therefore means "the document was written by my save
// or by a later one", not "my exact payload is on disk". Callers that need
// their own data to survive should use Update.
package store
