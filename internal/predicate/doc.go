// Package predicate defines live-query predicates: a closed expression tree,
// a total evaluator, and two front ends that build it.
//
// TREE:
//
// Predicate is a sealed interface (marker method pattern). The node set is
// Compare, In, And, Or, Not, and Literal. A Query binds a predicate to a
// collection and an optional ORDER BY list.
//
// EVALUATION:
//
// Evaluate never fails. int and string values support = != < <= > >=;
// bool and null support = and != only. A missing field or a kind mismatch
// makes every comparison false, including !=. There is no coercion.
//
// FRONT ENDS:
//
//	Parse("album", "artist = 'Prince' AND year > 1985 ORDER BY year DESC")
//	ParseFilter(albumSchema, `artist = "Prince" AND year > 1985`)
//
// Parse accepts the query grammar used across the CLI and client API.
// ParseFilter accepts AIP-160 filters and type-checks them against a
// collection schema before conversion.
//
// IDENTITY:
//
// Key hashes the query's canonical form (see Form). Structurally equal
// queries share a key, which the engine uses to share one live query
// between handles. Query.String renders back to the grammar so that
// parsing the rendering yields the same key.
package predicate
