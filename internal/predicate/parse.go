package predicate

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/livesync/internal/ir"
)

// ErrPredicateParse is the sentinel wrapped by every ParseError.
var ErrPredicateParse = errors.New("predicate parse error")

// ParseError reports a malformed predicate with the byte offset of the
// offending token.
type ParseError struct {
	Input   string
	Pos     int
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s at position %d: %s", ErrPredicateParse, e.Pos, e.Message)
}

func (e *ParseError) Unwrap() error {
	return ErrPredicateParse
}

// Parse parses a query body against collection:
//
//	year > 1985 AND artist IN ('Prince', 'Madonna') ORDER BY year DESC
//
// Keywords are case-insensitive. An empty body selects every record.
func Parse(collection, input string) (Query, error) {
	p := &parser{input: input}
	if err := p.lex(); err != nil {
		return Query{}, err
	}

	q := Query{Collection: collection, Where: True}
	if p.peek().kind != tokEOF && !p.peekKeyword("ORDER") {
		where, err := p.parseOr()
		if err != nil {
			return Query{}, err
		}
		q.Where = where
	}

	if p.peekKeyword("ORDER") {
		order, err := p.parseOrderBy()
		if err != nil {
			return Query{}, err
		}
		q.Order = order
	}

	if tok := p.peek(); tok.kind != tokEOF {
		return Query{}, p.errorf(tok, "unexpected %s", tok.describe())
	}
	return q, nil
}

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokKeyword
	tokString
	tokInt
	tokOp
	tokLParen
	tokRParen
	tokComma
)

type token struct {
	kind tokenKind
	text string // keywords are upper-cased; strings are unescaped
	pos  int
}

func (t token) describe() string {
	switch t.kind {
	case tokEOF:
		return "end of input"
	case tokString:
		return fmt.Sprintf("string %q", t.text)
	default:
		return fmt.Sprintf("%q", t.text)
	}
}

var keywords = map[string]bool{
	"AND": true, "OR": true, "NOT": true, "IN": true,
	"ORDER": true, "BY": true, "ASC": true, "DESC": true,
	"TRUE": true, "FALSE": true, "NULL": true,
}

type parser struct {
	input  string
	tokens []token
	pos    int
}

func (p *parser) lex() error {
	s := p.input
	i := 0
	for i < len(s) {
		c := s[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(':
			p.tokens = append(p.tokens, token{kind: tokLParen, text: "(", pos: i})
			i++
		case c == ')':
			p.tokens = append(p.tokens, token{kind: tokRParen, text: ")", pos: i})
			i++
		case c == ',':
			p.tokens = append(p.tokens, token{kind: tokComma, text: ",", pos: i})
			i++
		case c == '=':
			p.tokens = append(p.tokens, token{kind: tokOp, text: "=", pos: i})
			i++
		case c == '!':
			if i+1 < len(s) && s[i+1] == '=' {
				p.tokens = append(p.tokens, token{kind: tokOp, text: "!=", pos: i})
				i += 2
				continue
			}
			return &ParseError{Input: s, Pos: i, Message: "expected '=' after '!'"}
		case c == '<':
			switch {
			case i+1 < len(s) && s[i+1] == '=':
				p.tokens = append(p.tokens, token{kind: tokOp, text: "<=", pos: i})
				i += 2
			case i+1 < len(s) && s[i+1] == '>':
				p.tokens = append(p.tokens, token{kind: tokOp, text: "!=", pos: i})
				i += 2
			default:
				p.tokens = append(p.tokens, token{kind: tokOp, text: "<", pos: i})
				i++
			}
		case c == '>':
			if i+1 < len(s) && s[i+1] == '=' {
				p.tokens = append(p.tokens, token{kind: tokOp, text: ">=", pos: i})
				i += 2
				continue
			}
			p.tokens = append(p.tokens, token{kind: tokOp, text: ">", pos: i})
			i++
		case c == '\'' || c == '"':
			text, next, err := lexString(s, i)
			if err != nil {
				return err
			}
			p.tokens = append(p.tokens, token{kind: tokString, text: text, pos: i})
			i = next
		case c == '-' || isDigit(c):
			start := i
			i++
			for i < len(s) && isDigit(s[i]) {
				i++
			}
			if s[start] == '-' && i == start+1 {
				return &ParseError{Input: s, Pos: start, Message: "expected digits after '-'"}
			}
			if i < len(s) && (s[i] == '.' || s[i] == 'e' || s[i] == 'E') {
				return &ParseError{Input: s, Pos: start, Message: "floating point literals are not supported"}
			}
			p.tokens = append(p.tokens, token{kind: tokInt, text: s[start:i], pos: start})
		case isIdentStart(c):
			start := i
			for i < len(s) && (isIdentPart(s[i]) || s[i] == '.') {
				i++
			}
			word := s[start:i]
			if upper := strings.ToUpper(word); keywords[upper] {
				p.tokens = append(p.tokens, token{kind: tokKeyword, text: upper, pos: start})
				continue
			}
			if strings.HasSuffix(word, ".") || strings.Contains(word, "..") {
				return &ParseError{Input: s, Pos: start, Message: fmt.Sprintf("malformed field path %q", word)}
			}
			p.tokens = append(p.tokens, token{kind: tokIdent, text: word, pos: start})
		default:
			return &ParseError{Input: s, Pos: i, Message: fmt.Sprintf("unexpected character %q", c)}
		}
	}
	p.tokens = append(p.tokens, token{kind: tokEOF, pos: len(s)})
	return nil
}

// lexString scans a quoted string starting at s[start]. A doubled quote
// character inside the string is an escaped quote.
func lexString(s string, start int) (string, int, error) {
	quote := s[start]
	var b strings.Builder
	i := start + 1
	for i < len(s) {
		if s[i] == quote {
			if i+1 < len(s) && s[i+1] == quote {
				b.WriteByte(quote)
				i += 2
				continue
			}
			return b.String(), i + 1, nil
		}
		b.WriteByte(s[i])
		i++
	}
	return "", 0, &ParseError{Input: s, Pos: start, Message: "unterminated string literal"}
}

func isDigit(c byte) bool      { return c >= '0' && c <= '9' }
func isIdentStart(c byte) bool { return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }
func isIdentPart(c byte) bool  { return isIdentStart(c) || isDigit(c) }

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	tok := p.tokens[p.pos]
	if tok.kind != tokEOF {
		p.pos++
	}
	return tok
}

func (p *parser) peekKeyword(kw string) bool {
	tok := p.peek()
	return tok.kind == tokKeyword && tok.text == kw
}

func (p *parser) acceptKeyword(kw string) bool {
	if p.peekKeyword(kw) {
		p.pos++
		return true
	}
	return false
}

func (p *parser) errorf(tok token, format string, args ...any) error {
	return &ParseError{Input: p.input, Pos: tok.pos, Message: fmt.Sprintf(format, args...)}
}

func (p *parser) parseOr() (Predicate, error) {
	first, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	operands := []Predicate{first}
	for p.acceptKeyword("OR") {
		next, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		operands = append(operands, next)
	}
	if len(operands) == 1 {
		return first, nil
	}
	return Or{Predicates: operands}, nil
}

func (p *parser) parseAnd() (Predicate, error) {
	first, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	operands := []Predicate{first}
	for p.acceptKeyword("AND") {
		next, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		operands = append(operands, next)
	}
	if len(operands) == 1 {
		return first, nil
	}
	return And{Predicates: operands}, nil
}

func (p *parser) parseUnary() (Predicate, error) {
	if p.acceptKeyword("NOT") {
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return Not{Predicate: operand}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Predicate, error) {
	tok := p.next()
	switch tok.kind {
	case tokLParen:
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if closing := p.next(); closing.kind != tokRParen {
			return nil, p.errorf(closing, "expected ')', got %s", closing.describe())
		}
		return inner, nil
	case tokKeyword:
		switch tok.text {
		case "TRUE":
			return Literal{Value: true}, nil
		case "FALSE":
			return Literal{Value: false}, nil
		}
		return nil, p.errorf(tok, "unexpected keyword %s", tok.text)
	case tokIdent:
		return p.parseComparison(tok.text)
	default:
		return nil, p.errorf(tok, "expected field, '(' or boolean, got %s", tok.describe())
	}
}

func (p *parser) parseComparison(field string) (Predicate, error) {
	if p.acceptKeyword("IN") {
		open := p.next()
		if open.kind != tokLParen {
			return nil, p.errorf(open, "expected '(' after IN, got %s", open.describe())
		}
		var values []ir.IRValue
		for {
			v, err := p.parseLiteral()
			if err != nil {
				return nil, err
			}
			values = append(values, v)
			sep := p.next()
			if sep.kind == tokRParen {
				break
			}
			if sep.kind != tokComma {
				return nil, p.errorf(sep, "expected ',' or ')' in IN list, got %s", sep.describe())
			}
		}
		return In{Field: field, Values: values}, nil
	}

	opTok := p.next()
	if opTok.kind != tokOp {
		return nil, p.errorf(opTok, "expected comparison operator after %q, got %s", field, opTok.describe())
	}
	value, err := p.parseLiteral()
	if err != nil {
		return nil, err
	}
	return Compare{Field: field, Op: Op(opTok.text), Value: value}, nil
}

func (p *parser) parseLiteral() (ir.IRValue, error) {
	tok := p.next()
	switch tok.kind {
	case tokString:
		return ir.IRString(tok.text), nil
	case tokInt:
		n, err := strconv.ParseInt(tok.text, 10, 64)
		if err != nil {
			return nil, p.errorf(tok, "integer out of range: %s", tok.text)
		}
		return ir.IRInt(n), nil
	case tokKeyword:
		switch tok.text {
		case "TRUE":
			return ir.IRBool(true), nil
		case "FALSE":
			return ir.IRBool(false), nil
		case "NULL":
			return ir.IRNull{}, nil
		}
	}
	return nil, p.errorf(tok, "expected literal, got %s", tok.describe())
}

func (p *parser) parseOrderBy() ([]OrderBy, error) {
	p.next() // ORDER
	if by := p.next(); by.kind != tokKeyword || by.text != "BY" {
		return nil, p.errorf(by, "expected BY after ORDER, got %s", by.describe())
	}
	var order []OrderBy
	for {
		tok := p.next()
		if tok.kind != tokIdent {
			return nil, p.errorf(tok, "expected field in ORDER BY, got %s", tok.describe())
		}
		key := OrderBy{Field: tok.text}
		if p.acceptKeyword("DESC") {
			key.Desc = true
		} else {
			p.acceptKeyword("ASC")
		}
		order = append(order, key)
		if p.peek().kind != tokComma {
			return order, nil
		}
		p.next()
	}
}
