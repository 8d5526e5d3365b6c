// Package cache implements the TTL caches between the read path and the store.
//
// Each cache is a bounded key→(value, expiry) map. Reads check expiry first:
// an expired entry is removed and reported as a miss. Writers invalidate
// entries explicitly on every mutating operation; the TTL is a backstop, not
// the invalidation mechanism. A background sweep evicts expired entries to
// bound memory.
//
// The cache is an optimization, never a correctness dependency: any failure
// degrades to a miss.
package cache
