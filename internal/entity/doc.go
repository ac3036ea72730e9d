// Package entity holds the client's local view of the authority's records.
//
// The store applies sequence-numbered change events in order and exposes
// what each event did (Change) so that live queries can be updated from the
// changed record alone. It never rolls back: when an event cannot be applied
// (sequence gap, unknown id, malformed event) the store enters NeedsResync and
// refuses further events until IngestSnapshot replaces its contents.
package entity
