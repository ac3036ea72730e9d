// Package observe implements dependency tracking and the observer scheduler.
//
// A Computation runs inside a Scope. Every Key it reads through Scope.Track
// (directly, through a Signal, or through a live query handle) becomes part
// of its dependency set, which is replaced wholesale at the end of each run.
// Notify(keys...) queues every dependent computation once per batch; Flush
// or Run re-executes them.
//
//	tracker := observe.NewTracker()
//	c := tracker.Observe("albums", func(s *observe.Scope) {
//	    render(handle.Get(s))
//	})
//	defer c.Dispose()
//	go tracker.Run(ctx)
//
// Scopes are always released: WithTracking closes the scope on return, on
// error, and on panic.
package observe
