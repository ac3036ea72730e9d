package predicate

import (
	"strconv"
	"strings"

	"github.com/roach88/livesync/internal/ir"
)

// String renders q as a query body in the textual grammar (without the
// collection). Parse(q.Collection, q.String()) yields a query with the same Key.
func (q Query) String() string {
	var b strings.Builder
	writePredicate(&b, Normalize(q.Where), false)
	if len(q.Order) > 0 {
		b.WriteString(" ORDER BY ")
		for i, o := range q.Order {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(o.Field)
			if o.Desc {
				b.WriteString(" DESC")
			}
		}
	}
	return b.String()
}

// Format renders a single predicate in the textual grammar.
func Format(p Predicate) string {
	var b strings.Builder
	writePredicate(&b, Normalize(p), false)
	return b.String()
}

func writePredicate(b *strings.Builder, p Predicate, nested bool) {
	switch node := p.(type) {
	case Literal:
		b.WriteString(strconv.FormatBool(node.Value))
	case Compare:
		b.WriteString(node.Field)
		b.WriteByte(' ')
		b.WriteString(string(node.Op))
		b.WriteByte(' ')
		writeLiteral(b, node.Value)
	case In:
		b.WriteString(node.Field)
		b.WriteString(" IN (")
		for i, v := range node.Values {
			if i > 0 {
				b.WriteString(", ")
			}
			writeLiteral(b, v)
		}
		b.WriteByte(')')
	case And:
		writeJoined(b, node.Predicates, " AND ", nested)
	case Or:
		writeJoined(b, node.Predicates, " OR ", nested)
	case Not:
		b.WriteString("NOT ")
		writePredicate(b, node.Predicate, true)
	}
}

func writeJoined(b *strings.Builder, ps []Predicate, sep string, nested bool) {
	if nested {
		b.WriteByte('(')
	}
	for i, sub := range ps {
		if i > 0 {
			b.WriteString(sep)
		}
		writePredicate(b, sub, true)
	}
	if nested {
		b.WriteByte(')')
	}
}

func writeLiteral(b *strings.Builder, v ir.IRValue) {
	switch val := v.(type) {
	case ir.IRString:
		b.WriteByte('\'')
		b.WriteString(strings.ReplaceAll(string(val), "'", "''"))
		b.WriteByte('\'')
	case ir.IRInt:
		b.WriteString(strconv.FormatInt(int64(val), 10))
	case ir.IRBool:
		b.WriteString(strconv.FormatBool(bool(val)))
	case ir.IRNull, nil:
		b.WriteString("null")
	default:
		// Composite literals have no textual syntax.
		data, err := ir.MarshalCanonical(v)
		if err != nil {
			b.WriteString("null")
			return
		}
		b.Write(data)
	}
}
