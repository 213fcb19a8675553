// Package cache provides a small key-value cache with LRU eviction and
// optional per-entry TTL.
//
// [LRU] is the in-memory implementation, safe for concurrent use. [Nop]
// caches nothing and turns every read into a miss, which disables caching
// without branching at the call sites. [NewTyped] wraps either in a
// type-safe facade:
//
//	views := cache.NewTyped[*View](cache.NewLRU(cache.LRUOpts{Size: 512}))
//	views.Put("plan-001@4", v, cache.WithTTL(5*time.Minute))
//	if v, ok := views.Get("plan-001@4"); ok {
//	    // v is *View, no assertion needed
//	}
//
// Expired entries are evicted lazily on access.
package cache
