package predicate

import (
	"fmt"
	"strings"

	"github.com/roach88/livesync/internal/ir"
)

// ValidationResult reports suspicious but legal parts of a query.
//
// Evaluation is total, so a query that references unknown fields or compares
// a field against a literal of the wrong kind is still valid: it simply never
// matches. Validate surfaces those cases so callers can warn about them.
type ValidationResult struct {
	// Warnings lists every finding in tree order. Empty when the query is
	// consistent with the schema.
	Warnings []string
}

// OK reports whether no warnings were found.
func (r ValidationResult) OK() bool {
	return len(r.Warnings) == 0
}

// Validate checks q against the collection schema.
//
// Validate is a pure function with no side effects.
func Validate(q Query, schema ir.CollectionSchema) ValidationResult {
	v := &validator{schema: schema, warnings: []string{}}
	if q.Collection != schema.Name {
		v.addWarning("query collection %q does not match schema %q", q.Collection, schema.Name)
	}
	v.validatePredicate(q.Where)
	for _, o := range q.Order {
		v.fieldKind(o.Field)
	}
	return ValidationResult{Warnings: v.warnings}
}

// validator accumulates warnings during traversal.
type validator struct {
	schema   ir.CollectionSchema
	warnings []string
}

func (v *validator) addWarning(format string, args ...any) {
	v.warnings = append(v.warnings, fmt.Sprintf(format, args...))
}

// fieldKind resolves the declared kind of a (possibly dotted) field path.
// Paths into object fields are not checked further.
func (v *validator) fieldKind(path string) (ir.Kind, bool) {
	head, _, nested := strings.Cut(path, ".")
	decl, ok := v.schema.Field(head)
	if !ok {
		v.addWarning("unknown field %q in collection %q", head, v.schema.Name)
		return "", false
	}
	if nested {
		if decl.Kind != ir.KindObject {
			v.addWarning("field %q is %s and has no nested field %q", head, decl.Kind, path)
		}
		return "", false
	}
	return decl.Kind, true
}

func (v *validator) checkLiteral(field string, kind ir.Kind, value ir.IRValue) {
	got := ir.KindOf(value)
	if got != ir.KindNull && got != kind {
		v.addWarning("field %q is %s but is compared to a %s literal (never matches)", field, kind, got)
	}
}

func (v *validator) validatePredicate(p Predicate) {
	switch node := p.(type) {
	case nil, Literal:
	case Compare:
		if !node.Op.Valid() {
			v.addWarning("unknown operator %q on field %q", node.Op, node.Field)
		}
		litKind := ir.KindOf(node.Value)
		if (litKind == ir.KindBool || litKind == ir.KindNull) && node.Op != OpEq && node.Op != OpNe {
			v.addWarning("operator %s on a %s literal for field %q never matches", node.Op, litKind, node.Field)
		}
		if kind, ok := v.fieldKind(node.Field); ok {
			v.checkLiteral(node.Field, kind, node.Value)
		}
	case In:
		if len(node.Values) == 0 {
			v.addWarning("empty IN list on field %q never matches", node.Field)
		}
		if kind, ok := v.fieldKind(node.Field); ok {
			for _, value := range node.Values {
				v.checkLiteral(node.Field, kind, value)
			}
		}
	case And:
		for _, sub := range node.Predicates {
			v.validatePredicate(sub)
		}
	case Or:
		for _, sub := range node.Predicates {
			v.validatePredicate(sub)
		}
	case Not:
		v.validatePredicate(node.Predicate)
	default:
		v.addWarning("unknown predicate type %T", p)
	}
}
