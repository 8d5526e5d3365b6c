// Package database provides PostgreSQL connection pool management.
//
// Each server instance holds two pools over the same database:
//   - Write: capped at a single connection, owned exclusively by the writer
//     actor. No other component may issue mutating statements.
//   - Read: a bounded pool shared by concurrent readers. Acquisition waits up
//     to a configured timeout and fails otherwise.
package database
