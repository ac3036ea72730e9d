// Package authority implements the server side of livesync: the source of
// truth that clients subscribe to.
//
// A Hub owns the SQLite record store. Writes (over the HTTP API or from Go)
// are committed to the store and routed to every connected session. Each
// session receives its own strictly sequenced event stream: an insert when a
// record becomes visible to one of its subscribed queries, an update while it
// stays visible, a delete when it stops being visible. A snapshot request
// returns every visible record stamped with the session's current seq, so
// the client's next event is exactly seq+1.
package authority
