// Package engine implements the livesync live query engine.
//
// The engine keeps a local cache of records (an entity.Store) in step with a
// remote authority and maintains a set of live queries over it. Each live
// query's result set is updated incrementally as change events arrive, and
// every observer that read it is re-run through the observe.Tracker.
//
// ARCHITECTURE:
//
// Single-Writer Loop:
// Transports deliver snapshots and change events from their reader
// goroutines into a FIFO queue. Engine.Run() dequeues them one at a time, so
// the store and every result set are written by exactly one goroutine.
//
// Message Flow:
//  1. Transport enqueues a snapshot or event
//  2. Engine.Run() dequeues it and applies it to the store
//  3. Each open live query is updated from the single changed record
//  4. New result sets are published atomically
//  5. Dependency keys of changed queries are notified, after the write lock
//     is released
//
// Live queries are deduplicated by structural identity (predicate.Key): two
// opens of equal queries share one result set and one upstream subscription.
// The last Close destroys it.
//
// CONSISTENCY:
//
// After every applied message, each live query's contents equal a fresh
// evaluation of its predicate over the cache. A gap in sequence numbers, or
// an update or delete for a record the cache does not hold, leaves results
// untouched and requests a snapshot instead of guessing.
package engine
