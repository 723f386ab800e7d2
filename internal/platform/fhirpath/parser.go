package fhirpath

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// ============================================================================
// Tokens
// ============================================================================

type tokenKind int

const (
	tkEOF tokenKind = iota
	tkIdent
	tkString
	tkNumber
	tkDot
	tkLParen
	tkRParen
	tkComma
	tkPipe
	tkEq
	tkNeq
)

type token struct {
	kind  tokenKind
	value string
	pos   int
}

func tokenize(input string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(input) {
		ch := rune(input[i])
		switch {
		case unicode.IsSpace(ch):
			i++
		case ch == '.':
			tokens = append(tokens, token{kind: tkDot, value: ".", pos: i})
			i++
		case ch == '(':
			tokens = append(tokens, token{kind: tkLParen, value: "(", pos: i})
			i++
		case ch == ')':
			tokens = append(tokens, token{kind: tkRParen, value: ")", pos: i})
			i++
		case ch == ',':
			tokens = append(tokens, token{kind: tkComma, value: ",", pos: i})
			i++
		case ch == '|':
			tokens = append(tokens, token{kind: tkPipe, value: "|", pos: i})
			i++
		case ch == '=':
			tokens = append(tokens, token{kind: tkEq, value: "=", pos: i})
			i++
		case ch == '!' && i+1 < len(input) && input[i+1] == '=':
			tokens = append(tokens, token{kind: tkNeq, value: "!=", pos: i})
			i += 2
		case ch == '\'':
			start := i
			i++
			var sb strings.Builder
			for i < len(input) && input[i] != '\'' {
				if input[i] == '\\' && i+1 < len(input) {
					i++
				}
				sb.WriteByte(input[i])
				i++
			}
			if i >= len(input) {
				return nil, fmt.Errorf("unterminated string at position %d", start)
			}
			i++
			tokens = append(tokens, token{kind: tkString, value: sb.String(), pos: start})
		case ch == '`':
			start := i
			end := strings.IndexByte(input[i+1:], '`')
			if end < 0 {
				return nil, fmt.Errorf("unterminated identifier at position %d", start)
			}
			tokens = append(tokens, token{kind: tkIdent, value: input[i+1 : i+1+end], pos: start})
			i += end + 2
		case unicode.IsDigit(ch):
			start := i
			for i < len(input) && (unicode.IsDigit(rune(input[i])) || input[i] == '.') {
				// a trailing dot followed by a letter is a member access, not a fraction
				if input[i] == '.' && (i+1 >= len(input) || !unicode.IsDigit(rune(input[i+1]))) {
					break
				}
				i++
			}
			tokens = append(tokens, token{kind: tkNumber, value: input[start:i], pos: start})
		case unicode.IsLetter(ch) || ch == '_' || ch == '$' || ch == '%':
			start := i
			i++
			for i < len(input) && (unicode.IsLetter(rune(input[i])) || unicode.IsDigit(rune(input[i])) || input[i] == '_' || input[i] == '-') {
				i++
			}
			tokens = append(tokens, token{kind: tkIdent, value: input[start:i], pos: start})
		default:
			return nil, fmt.Errorf("unexpected character %q at position %d", ch, i)
		}
	}
	tokens = append(tokens, token{kind: tkEOF, pos: len(input)})
	return tokens, nil
}

// ============================================================================
// AST
// ============================================================================

type nodeKind int

const (
	nodeIdent nodeKind = iota
	nodeMember
	nodeFunc
	nodeUnion
	nodeBinary
	nodeIs
	nodeAs
	nodeLiteral
	nodeThis
)

type astNode struct {
	kind     nodeKind
	name     string // member, function or type name
	op       string // binary operator
	target   *astNode
	args     []*astNode
	children []*astNode
	literal  TypedValue
}

type parser struct {
	tokens []token
	pos    int
}

func (p *parser) peek() token {
	if p.pos < len(p.tokens) {
		return p.tokens[p.pos]
	}
	return token{kind: tkEOF}
}

func (p *parser) peekAt(offset int) token {
	if p.pos+offset < len(p.tokens) {
		return p.tokens[p.pos+offset]
	}
	return token{kind: tkEOF}
}

func (p *parser) advance() token {
	tok := p.peek()
	if p.pos < len(p.tokens) {
		p.pos++
	}
	return tok
}

func (p *parser) expect(kind tokenKind) (token, error) {
	tok := p.advance()
	if tok.kind != kind {
		return tok, fmt.Errorf("unexpected token %q at position %d", tok.value, tok.pos)
	}
	return tok, nil
}

// infixInfo returns the precedence and node kind for an infix operator.
// Higher binds tighter: or < and < equality < union < is/as.
func (p *parser) infixInfo(tok token) (int, nodeKind, string) {
	switch tok.kind {
	case tkPipe:
		return 4, nodeUnion, "|"
	case tkEq:
		return 3, nodeBinary, "="
	case tkNeq:
		return 3, nodeBinary, "!="
	case tkIdent:
		switch tok.value {
		case "or":
			return 1, nodeBinary, "or"
		case "and":
			return 2, nodeBinary, "and"
		case "is":
			return 5, nodeIs, "is"
		case "as":
			return 5, nodeAs, "as"
		}
	}
	return 0, 0, ""
}

func (p *parser) parseExpression(minPrec int) (*astNode, error) {
	left, err := p.parsePostfix()
	if err != nil {
		return nil, err
	}
	for {
		prec, kind, op := p.infixInfo(p.peek())
		if prec == 0 || prec < minPrec {
			return left, nil
		}
		p.advance()
		if kind == nodeIs || kind == nodeAs {
			typeName, err := p.parseTypeName()
			if err != nil {
				return nil, err
			}
			left = &astNode{kind: kind, name: typeName, children: []*astNode{left}}
			continue
		}
		right, err := p.parseExpression(prec + 1)
		if err != nil {
			return nil, err
		}
		left = &astNode{kind: kind, op: op, children: []*astNode{left, right}}
	}
}

func (p *parser) parseTypeName() (string, error) {
	tok, err := p.expect(tkIdent)
	if err != nil {
		return "", err
	}
	name := tok.value
	if (name == "FHIR" || name == "System") && p.peek().kind == tkDot && p.peekAt(1).kind == tkIdent {
		p.advance()
		name = p.advance().value
	}
	return name, nil
}

func (p *parser) parsePostfix() (*astNode, error) {
	node, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tkDot {
		p.advance()
		tok, err := p.expect(tkIdent)
		if err != nil {
			return nil, err
		}
		if p.peek().kind == tkLParen {
			args, err := p.parseArgList()
			if err != nil {
				return nil, err
			}
			node = &astNode{kind: nodeFunc, name: tok.value, target: node, args: args}
			continue
		}
		node = &astNode{kind: nodeMember, name: tok.value, target: node}
	}
	return node, nil
}

func (p *parser) parsePrimary() (*astNode, error) {
	tok := p.peek()
	switch tok.kind {
	case tkLParen:
		p.advance()
		inner, err := p.parseExpression(1)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tkRParen); err != nil {
			return nil, err
		}
		return inner, nil
	case tkString:
		p.advance()
		return &astNode{kind: nodeLiteral, literal: TypedValue{Type: "string", Value: tok.value}}, nil
	case tkNumber:
		p.advance()
		f, err := strconv.ParseFloat(tok.value, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q at position %d", tok.value, tok.pos)
		}
		return &astNode{kind: nodeLiteral, literal: TypedValue{Type: "decimal", Value: f}}, nil
	case tkIdent:
		p.advance()
		switch tok.value {
		case "true", "false":
			return &astNode{kind: nodeLiteral, literal: TypedValue{Type: "boolean", Value: tok.value == "true"}}, nil
		case "$this":
			return &astNode{kind: nodeThis}, nil
		}
		if p.peek().kind == tkLParen {
			args, err := p.parseArgList()
			if err != nil {
				return nil, err
			}
			return &astNode{kind: nodeFunc, name: tok.value, args: args}, nil
		}
		return &astNode{kind: nodeIdent, name: tok.value}, nil
	}
	return nil, fmt.Errorf("unexpected token %q at position %d", tok.value, tok.pos)
}

func (p *parser) parseArgList() ([]*astNode, error) {
	if _, err := p.expect(tkLParen); err != nil {
		return nil, err
	}
	var args []*astNode
	if p.peek().kind == tkRParen {
		p.advance()
		return args, nil
	}
	for {
		arg, err := p.parseExpression(1)
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		tok := p.advance()
		if tok.kind == tkRParen {
			return args, nil
		}
		if tok.kind != tkComma {
			return nil, fmt.Errorf("unexpected token %q at position %d", tok.value, tok.pos)
		}
	}
}
