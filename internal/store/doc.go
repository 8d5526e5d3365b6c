// Package store implements the durability layer.
//
// All mutations flow through the Writer, a single background worker consuming
// a FIFO work queue. Exactly one goroutine ever touches the writable database
// handle, which makes write ordering total and message deduplication trivial:
// the second of two concurrent duplicate submissions always observes the
// first's insert.
//
// Reads go through ReadStore implementations backed by a bounded connection
// pool. The in-memory implementation backs tests and the development driver.
//
// Message uniqueness on (room_id, client_message_id) is additionally enforced
// by a unique index in the schema; the lookup-then-insert in the Writer is the
// authoritative path.
package store
