package predicate

import "github.com/roach88/livesync/internal/ir"

// Predicate is a boolean expression over one record's fields.
//
// This is a sealed interface - only types in this package implement it.
// The marker method pattern keeps the tree closed so that Evaluate, the
// canonical form, and String can switch over it exhaustively.
//
// Predicate types:
//   - Compare: field <op> literal
//   - In: field IN (literal, ...)
//   - And: all operands must be true (empty = true)
//   - Or: at least one operand must be true (empty = false)
//   - Not: negation
//   - Literal: constant true or false
//
// Predicates are immutable once built. Nodes are values, never pointers.
type Predicate interface {
	predicateNode() // Marker method - seals interface to this package
}

// Op is a comparison operator.
type Op string

const (
	OpEq Op = "="
	OpNe Op = "!="
	OpLt Op = "<"
	OpLe Op = "<="
	OpGt Op = ">"
	OpGe Op = ">="
)

// Valid reports whether op is one of the six comparison operators.
func (op Op) Valid() bool {
	switch op {
	case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
		return true
	}
	return false
}

// Compare represents a field-versus-literal comparison.
//
// Semantics:
//
//	<field> <op> <value>
//
// Field may be a dotted path ("metadata.genre") into nested objects.
// int and string operands support all six operators; bool and null support
// only = and !=. A missing field or a kind mismatch between the field value
// and the literal evaluates to false for every operator, including !=.
//
// Example:
//
//	Compare{Field: "year", Op: OpGt, Value: ir.IRInt(1985)}
type Compare struct {
	Field string
	Op    Op
	Value ir.IRValue
}

func (Compare) predicateNode() {}

// In represents a list-membership test.
//
// Semantics:
//
//	<field> IN (<v1>, <v2>, ...)
//
// True iff the field exists and equals one of Values. An empty list is false.
type In struct {
	Field  string
	Values []ir.IRValue
}

func (In) predicateNode() {}

// And represents a conjunction of predicates (all must be true).
// Empty Predicates means "always true".
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

// Or represents a disjunction of predicates (any must be true).
// Empty Predicates means "always false".
type Or struct {
	Predicates []Predicate
}

func (Or) predicateNode() {}

// Not negates its operand.
type Not struct {
	Predicate Predicate
}

func (Not) predicateNode() {}

// Literal is a constant predicate. Literal{Value: true} selects every record
// in the collection.
type Literal struct {
	Value bool
}

func (Literal) predicateNode() {}

// OrderBy is one ORDER BY key.
type OrderBy struct {
	Field string
	Desc  bool
}

// Query binds a predicate to a collection.
//
// A nil Where selects every record. With no Order, results keep the order in
// which records were first observed to match.
type Query struct {
	Collection string
	Where      Predicate
	Order      []OrderBy
}

// Matches reports whether r belongs to the query's result set.
func (q Query) Matches(r ir.Record) bool {
	return r.Collection == q.Collection && Evaluate(q.Where, r)
}

// True is the predicate that selects every record.
var True Predicate = Literal{Value: true}
