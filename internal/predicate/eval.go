package predicate

import (
	"github.com/roach88/livesync/internal/ir"
)

// Evaluate reports whether r satisfies p. It is pure and total: every
// predicate yields true or false for every record, never an error.
// A nil predicate is true.
func Evaluate(p Predicate, r ir.Record) bool {
	switch node := p.(type) {
	case nil:
		return true
	case Literal:
		return node.Value
	case Compare:
		v, ok := r.Fields.Lookup(node.Field)
		if !ok {
			return false
		}
		return compareValues(v, node.Op, node.Value)
	case In:
		v, ok := r.Fields.Lookup(node.Field)
		if !ok {
			return false
		}
		for _, candidate := range node.Values {
			if ir.Equal(v, candidate) {
				return true
			}
		}
		return false
	case And:
		for _, sub := range node.Predicates {
			if !Evaluate(sub, r) {
				return false
			}
		}
		return true
	case Or:
		for _, sub := range node.Predicates {
			if Evaluate(sub, r) {
				return true
			}
		}
		return false
	case Not:
		return !Evaluate(node.Predicate, r)
	default:
		return false
	}
}

// compareValues applies op to a field value and a literal of the same kind.
func compareValues(field ir.IRValue, op Op, literal ir.IRValue) bool {
	if ir.KindOf(field) != ir.KindOf(literal) {
		return false
	}

	if cmp, ordered := ir.Compare(field, literal); ordered {
		switch op {
		case OpEq:
			return cmp == 0
		case OpNe:
			return cmp != 0
		case OpLt:
			return cmp < 0
		case OpLe:
			return cmp <= 0
		case OpGt:
			return cmp > 0
		case OpGe:
			return cmp >= 0
		}
		return false
	}

	// bool, null, and composite values only support equality.
	switch op {
	case OpEq:
		return ir.Equal(field, literal)
	case OpNe:
		return !ir.Equal(field, literal)
	default:
		return false
	}
}
