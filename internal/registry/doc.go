// Package registry tracks live WebSocket connections and fans events out to
// them.
//
// State is a set of RWMutex-guarded indices: connection→user, user→connections,
// room→members, room→present users, room→typing users. Broadcast snapshots the
// target connections under a read lock, then sends outside any lock so one
// slow consumer never blocks the others; a connection whose outbound channel
// is full is removed on the spot.
//
// A short-TTL fingerprint cache coalesces identical rapid rebroadcasts. It is
// best-effort duplicate suppression only, never a delivery guarantee.
package registry
