package predicate

import (
	"fmt"
	"strings"

	"go.einride.tech/aip/filtering"
	expr "google.golang.org/genproto/googleapis/api/expr/v1alpha1"

	"github.com/roach88/livesync/internal/ir"
)

// FilterDeclarations declares the schema's scalar fields as AIP-160 filter
// identifiers. Array and object fields have no filter syntax and are skipped.
func FilterDeclarations(schema ir.CollectionSchema) (*filtering.Declarations, error) {
	opts := []filtering.DeclarationOption{filtering.DeclareStandardFunctions()}
	for _, f := range schema.Fields {
		switch f.Kind {
		case ir.KindString:
			opts = append(opts, filtering.DeclareIdent(f.Name, filtering.TypeString))
		case ir.KindInt:
			opts = append(opts, filtering.DeclareIdent(f.Name, filtering.TypeInt))
		case ir.KindBool:
			opts = append(opts, filtering.DeclareIdent(f.Name, filtering.TypeBool))
		}
	}
	return filtering.NewDeclarations(opts...)
}

// ParseFilter parses an AIP-160 filter expression against a collection
// schema and converts it into a Query:
//
//	artist = "Prince" AND year > 1985
//
// Identifiers and literal types are checked against the schema, so
// `year > "x"` is rejected here even though Parse would accept it.
// An empty filter selects every record.
func ParseFilter(schema ir.CollectionSchema, filter string) (Query, error) {
	q := Query{Collection: schema.Name, Where: True}
	if strings.TrimSpace(filter) == "" {
		return q, nil
	}

	decls, err := FilterDeclarations(schema)
	if err != nil {
		return Query{}, fmt.Errorf("create declarations: %w", err)
	}

	parsed, err := filtering.ParseFilterString(filter, decls)
	if err != nil {
		return Query{}, &ParseError{Input: filter, Message: err.Error()}
	}
	if parsed.CheckedExpr == nil || parsed.CheckedExpr.GetExpr() == nil {
		return q, nil
	}

	where, err := translateExpr(parsed.CheckedExpr.GetExpr())
	if err != nil {
		return Query{}, &ParseError{Input: filter, Message: err.Error()}
	}
	q.Where = where
	return q, nil
}

func translateExpr(e *expr.Expr) (Predicate, error) {
	switch kind := e.GetExprKind().(type) {
	case *expr.Expr_CallExpr:
		return translateCall(kind.CallExpr)
	case *expr.Expr_IdentExpr:
		switch kind.IdentExpr.GetName() {
		case "true":
			return Literal{Value: true}, nil
		case "false":
			return Literal{Value: false}, nil
		}
		return nil, fmt.Errorf("bare identifier %q is not a predicate", kind.IdentExpr.GetName())
	case *expr.Expr_ConstExpr:
		if b, ok := kind.ConstExpr.GetConstantKind().(*expr.Constant_BoolValue); ok {
			return Literal{Value: b.BoolValue}, nil
		}
		return nil, fmt.Errorf("constant is not a predicate")
	default:
		return nil, fmt.Errorf("unsupported expression type: %T", kind)
	}
}

var filterOps = map[string]Op{
	filtering.FunctionEquals:        OpEq,
	filtering.FunctionNotEquals:     OpNe,
	filtering.FunctionLessThan:      OpLt,
	filtering.FunctionLessEquals:    OpLe,
	filtering.FunctionGreaterThan:   OpGt,
	filtering.FunctionGreaterEquals: OpGe,
}

// mirrored maps an operator to its equivalent with operands swapped.
var mirrored = map[Op]Op{
	OpEq: OpEq, OpNe: OpNe,
	OpLt: OpGt, OpLe: OpGe,
	OpGt: OpLt, OpGe: OpLe,
}

func translateCall(call *expr.Expr_Call) (Predicate, error) {
	switch call.GetFunction() {
	case filtering.FunctionAnd, filtering.FunctionOr:
		operands := make([]Predicate, 0, len(call.GetArgs()))
		for _, arg := range call.GetArgs() {
			p, err := translateExpr(arg)
			if err != nil {
				return nil, err
			}
			operands = append(operands, p)
		}
		if call.GetFunction() == filtering.FunctionAnd {
			return And{Predicates: operands}, nil
		}
		return Or{Predicates: operands}, nil
	case filtering.FunctionNot:
		if len(call.GetArgs()) != 1 {
			return nil, fmt.Errorf("NOT requires 1 argument")
		}
		operand, err := translateExpr(call.GetArgs()[0])
		if err != nil {
			return nil, err
		}
		return Not{Predicate: operand}, nil
	}

	op, ok := filterOps[call.GetFunction()]
	if !ok {
		return nil, fmt.Errorf("unsupported function: %s", call.GetFunction())
	}
	args := call.GetArgs()
	if len(args) != 2 {
		return nil, fmt.Errorf("comparison requires 2 arguments")
	}

	if field, isIdent := identName(args[0]); isIdent {
		value, err := constValue(args[1])
		if err != nil {
			return nil, err
		}
		return Compare{Field: field, Op: op, Value: value}, nil
	}
	if field, isIdent := identName(args[1]); isIdent {
		value, err := constValue(args[0])
		if err != nil {
			return nil, err
		}
		return Compare{Field: field, Op: mirrored[op], Value: value}, nil
	}
	return nil, fmt.Errorf("comparison requires a field operand")
}

func identName(e *expr.Expr) (string, bool) {
	ident := e.GetIdentExpr()
	if ident == nil {
		return "", false
	}
	return ident.GetName(), true
}

func constValue(e *expr.Expr) (ir.IRValue, error) {
	c := e.GetConstExpr()
	if c == nil {
		if ident := e.GetIdentExpr(); ident != nil {
			switch ident.GetName() {
			case "true":
				return ir.IRBool(true), nil
			case "false":
				return ir.IRBool(false), nil
			}
		}
		return nil, fmt.Errorf("expected constant, got %T", e.GetExprKind())
	}
	switch kind := c.GetConstantKind().(type) {
	case *expr.Constant_StringValue:
		return ir.IRString(kind.StringValue), nil
	case *expr.Constant_Int64Value:
		return ir.IRInt(kind.Int64Value), nil
	case *expr.Constant_Uint64Value:
		if kind.Uint64Value > 1<<63-1 {
			return nil, fmt.Errorf("integer out of range: %d", kind.Uint64Value)
		}
		return ir.IRInt(kind.Uint64Value), nil
	case *expr.Constant_BoolValue:
		return ir.IRBool(kind.BoolValue), nil
	case *expr.Constant_NullValue:
		return ir.IRNull{}, nil
	case *expr.Constant_DoubleValue:
		return nil, fmt.Errorf("floating point literals are not supported")
	default:
		return nil, fmt.Errorf("unsupported constant type: %T", kind)
	}
}
