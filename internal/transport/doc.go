// Package transport connects the live query engine to a remote authority.
//
// A Transport dials the authority (WebSocket in production, an in-memory pipe
// in tests), re-subscribes every open live query, requests a snapshot, and
// then streams change events into the engine. When the connection drops it
// tells the engine (which marks its cache as needing resync), keeps every
// live query registered, and reconnects with jittered exponential backoff.
//
// Callers never see transport errors. Connectivity is reported through the
// Status signal: Connecting, Live, Reconnecting, or Error(reason).
package transport
