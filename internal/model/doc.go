// Package model defines shared data types used across the Parley chat server.
//
// Conventions:
//   - IDs: uuid.UUID for users, rooms, and messages; opaque strings for session tokens
//   - Timestamps: time.Time in UTC
//   - Messages are immutable once created; the dedup key (room_id, client_message_id)
//     identifies a logical message across client retries
package model
