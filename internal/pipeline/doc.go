// Package pipeline orchestrates the message hot path: validate, write through
// the serialized writer, invalidate caches, broadcast to live connections, and
// dispatch push notifications. Persistence is the only step that can fail the
// caller; everything after a successful write is best-effort.
package pipeline
