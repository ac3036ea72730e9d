// Package harness runs YAML scenarios against a real live query engine.
//
// A scenario declares named live queries, then feeds the engine a sequence
// of authority traffic (snapshots, change events, connection loss) and opens
// or closes queries along the way. After every step the harness flushes the
// observation tracker and records the result ids of every open query, so the
// trace captures exactly what an application observer would have seen.
//
// # Scenario Format
//
//	name: year_filter
//	description: "Records move in and out of a filtered query"
//	queries:
//	  - name: recent
//	    collection: album
//	    where: "year > 1985"
//	steps:
//	  - snapshot:
//	      seq: 0
//	      records:
//	        - { id: a1, collection: album, fields: { year: 1984 } }
//	    expect: { recent: [] }
//	  - event: { kind: update, id: a1, deltas: { year: 1990 } }
//	    expect: { recent: [a1] }
//	  - connection_lost: "socket closed"
//	  - close: recent
//	assertions:
//	  - type: result_ids
//	    query: recent
//	    ids: [a1]
//
// Event steps without a seq continue from the previous snapshot or event,
// so only gaps need an explicit seq.
//
// # Assertion Types
//
//   - result_ids: the query's final result ids, in order
//   - result_count: the query's final result size
//   - observer_runs: how many times the query's observer ran, initial run included
//   - needs_resync: whether the cache ends waiting for a snapshot
//   - last_seq: the cache's final seq
//   - resync_requests, subscribe_requests, unsubscribe_requests: calls made upstream
//   - live_queries: live queries still open at the end
//
// # Deterministic Testing
//
// Scenarios run without goroutines: the engine is driven synchronously and
// the tracker is flushed by hand. Two runs of the same scenario produce the
// same trace byte for byte, which is what golden comparison relies on.
package harness
