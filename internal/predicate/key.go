package predicate

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/livesync/internal/ir"
)

// Form returns the canonical IR form of q. Structurally equal queries have
// equal forms; the form is what Key hashes and what travels on the wire.
//
// Degenerate nodes are normalized first: a nil Where and an empty And become
// true, an empty Or and an empty IN list become false, and single-operand
// And/Or collapse to their operand. Nested And/Or are not flattened.
func Form(q Query) ir.IRObject {
	order := make(ir.IRArray, len(q.Order))
	for i, o := range q.Order {
		order[i] = ir.IRObject{"field": ir.IRString(o.Field), "desc": ir.IRBool(o.Desc)}
	}
	return ir.IRObject{
		"collection": ir.IRString(q.Collection),
		"where":      predicateForm(Normalize(q.Where)),
		"order":      order,
	}
}

// Key returns the structural identity of q: a domain-separated SHA-256 of
// its canonical form.
func Key(q Query) (string, error) {
	key, err := ir.QueryKey(Form(q))
	if err != nil {
		return "", fmt.Errorf("query key: %w", err)
	}
	return key, nil
}

// Normalize rewrites degenerate nodes (see Form). It never changes which
// records a predicate selects.
func Normalize(p Predicate) Predicate {
	switch node := p.(type) {
	case nil:
		return True
	case And:
		if len(node.Predicates) == 0 {
			return True
		}
		if len(node.Predicates) == 1 {
			return Normalize(node.Predicates[0])
		}
		out := make([]Predicate, len(node.Predicates))
		for i, sub := range node.Predicates {
			out[i] = Normalize(sub)
		}
		return And{Predicates: out}
	case Or:
		if len(node.Predicates) == 0 {
			return Literal{Value: false}
		}
		if len(node.Predicates) == 1 {
			return Normalize(node.Predicates[0])
		}
		out := make([]Predicate, len(node.Predicates))
		for i, sub := range node.Predicates {
			out[i] = Normalize(sub)
		}
		return Or{Predicates: out}
	case In:
		if len(node.Values) == 0 {
			return Literal{Value: false}
		}
		return node
	case Not:
		return Not{Predicate: Normalize(node.Predicate)}
	case Compare:
		if node.Value == nil {
			node.Value = ir.IRNull{}
		}
		return node
	default:
		return p
	}
}

func predicateForm(p Predicate) ir.IRObject {
	switch node := p.(type) {
	case Literal:
		return ir.IRObject{"lit": ir.IRBool(node.Value)}
	case Compare:
		return ir.IRObject{"cmp": ir.IRString(node.Op), "field": ir.IRString(node.Field), "value": node.Value}
	case In:
		return ir.IRObject{"in": ir.IRString(node.Field), "values": ir.IRArray(node.Values)}
	case And:
		return ir.IRObject{"and": formList(node.Predicates)}
	case Or:
		return ir.IRObject{"or": formList(node.Predicates)}
	case Not:
		return ir.IRObject{"not": predicateForm(node.Predicate)}
	default:
		return ir.IRObject{"lit": ir.IRBool(false)}
	}
}

func formList(ps []Predicate) ir.IRArray {
	out := make(ir.IRArray, len(ps))
	for i, sub := range ps {
		out[i] = predicateForm(sub)
	}
	return out
}

// FromForm rebuilds a query from its canonical form.
func FromForm(form ir.IRObject) (Query, error) {
	collection, ok := form["collection"].(ir.IRString)
	if !ok {
		return Query{}, fmt.Errorf("query form: collection must be a string")
	}
	whereForm, ok := form["where"].(ir.IRObject)
	if !ok {
		return Query{}, fmt.Errorf("query form: where must be an object")
	}
	where, err := predicateFromForm(whereForm)
	if err != nil {
		return Query{}, fmt.Errorf("query form: %w", err)
	}

	q := Query{Collection: string(collection), Where: where}
	if raw, exists := form["order"]; exists {
		list, ok := raw.(ir.IRArray)
		if !ok {
			return Query{}, fmt.Errorf("query form: order must be an array")
		}
		for i, item := range list {
			obj, ok := item.(ir.IRObject)
			if !ok {
				return Query{}, fmt.Errorf("query form: order[%d] must be an object", i)
			}
			field, ok := obj["field"].(ir.IRString)
			if !ok {
				return Query{}, fmt.Errorf("query form: order[%d].field must be a string", i)
			}
			desc, _ := obj["desc"].(ir.IRBool)
			q.Order = append(q.Order, OrderBy{Field: string(field), Desc: bool(desc)})
		}
	}
	return q, nil
}

func predicateFromForm(form ir.IRObject) (Predicate, error) {
	if v, ok := form["lit"]; ok {
		b, isBool := v.(ir.IRBool)
		if !isBool {
			return nil, fmt.Errorf("lit must be a bool")
		}
		return Literal{Value: bool(b)}, nil
	}
	if v, ok := form["cmp"]; ok {
		op, isStr := v.(ir.IRString)
		if !isStr || !Op(op).Valid() {
			return nil, fmt.Errorf("invalid comparison operator %v", v)
		}
		field, isStr := form["field"].(ir.IRString)
		if !isStr {
			return nil, fmt.Errorf("comparison field must be a string")
		}
		value, exists := form["value"]
		if !exists {
			value = ir.IRNull{}
		}
		return Compare{Field: string(field), Op: Op(op), Value: value}, nil
	}
	if v, ok := form["in"]; ok {
		field, isStr := v.(ir.IRString)
		if !isStr {
			return nil, fmt.Errorf("in field must be a string")
		}
		values, isArr := form["values"].(ir.IRArray)
		if !isArr {
			return nil, fmt.Errorf("in values must be an array")
		}
		return In{Field: string(field), Values: []ir.IRValue(values)}, nil
	}
	if v, ok := form["and"]; ok {
		operands, err := predicateListFromForm(v)
		if err != nil {
			return nil, fmt.Errorf("and: %w", err)
		}
		return And{Predicates: operands}, nil
	}
	if v, ok := form["or"]; ok {
		operands, err := predicateListFromForm(v)
		if err != nil {
			return nil, fmt.Errorf("or: %w", err)
		}
		return Or{Predicates: operands}, nil
	}
	if v, ok := form["not"]; ok {
		inner, isObj := v.(ir.IRObject)
		if !isObj {
			return nil, fmt.Errorf("not operand must be an object")
		}
		operand, err := predicateFromForm(inner)
		if err != nil {
			return nil, fmt.Errorf("not: %w", err)
		}
		return Not{Predicate: operand}, nil
	}
	return nil, fmt.Errorf("unknown predicate node with keys %v", form.SortedKeys())
}

func predicateListFromForm(v ir.IRValue) ([]Predicate, error) {
	list, ok := v.(ir.IRArray)
	if !ok {
		return nil, fmt.Errorf("operands must be an array")
	}
	out := make([]Predicate, len(list))
	for i, item := range list {
		obj, ok := item.(ir.IRObject)
		if !ok {
			return nil, fmt.Errorf("operand %d must be an object", i)
		}
		p, err := predicateFromForm(obj)
		if err != nil {
			return nil, fmt.Errorf("operand %d: %w", i, err)
		}
		out[i] = p
	}
	return out, nil
}

// MarshalJSON encodes q as its canonical form.
func (q Query) MarshalJSON() ([]byte, error) {
	return json.Marshal(Form(q))
}

// UnmarshalJSON decodes a canonical form produced by MarshalJSON.
func (q *Query) UnmarshalJSON(data []byte) error {
	var form ir.IRObject
	if err := json.Unmarshal(data, &form); err != nil {
		return err
	}
	decoded, err := FromForm(form)
	if err != nil {
		return err
	}
	*q = decoded
	return nil
}
