// Package event defines the envelope delivered to live WebSocket connections.
//
// Events are a tagged union serialized as JSON:
//   - new_message: a freshly persisted chat message
//   - presence_update: the current online user set of a room
//   - typing_start / typing_stop: transient typing indicators
//
// Each event exposes a fingerprint used by the registry's short-TTL broadcast
// coalescing cache.
package event
