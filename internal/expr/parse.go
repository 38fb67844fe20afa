package expr

import (
	"fmt"
	"strings"

	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"
)

type node interface {
	eval(ctx map[string]any) (any, error)
}

type literal struct{ v any }

type path struct {
	src string
	x   jp.Expr
}

type not struct{ x node }

type binary struct {
	op   string
	l, r node
}

type call struct {
	name string
	args []node
}

type parser struct {
	toks []token
	pos  int
}

func parse(src string) (node, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	n, err := p.or()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tEOF {
		return nil, fmt.Errorf("%w: unexpected %q at %d", ErrSyntax, t.text, t.pos)
	}
	return n, nil
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tEOF {
		p.pos++
	}
	return t
}

func (p *parser) acceptOp(ops ...string) (string, bool) {
	t := p.peek()
	if t.kind != tOp {
		return "", false
	}
	for _, op := range ops {
		if t.text == op {
			p.pos++
			return op, true
		}
	}
	return "", false
}

func (p *parser) or() (node, error) {
	l, err := p.and()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.acceptOp("||"); !ok {
			return l, nil
		}
		r, err := p.and()
		if err != nil {
			return nil, err
		}
		l = &binary{op: "||", l: l, r: r}
	}
}

func (p *parser) and() (node, error) {
	l, err := p.compare()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.acceptOp("&&"); !ok {
			return l, nil
		}
		r, err := p.compare()
		if err != nil {
			return nil, err
		}
		l = &binary{op: "&&", l: l, r: r}
	}
}

func (p *parser) compare() (node, error) {
	l, err := p.unary()
	if err != nil {
		return nil, err
	}
	op, ok := p.acceptOp("==", "!=", "<=", ">=", "<", ">")
	if !ok {
		return l, nil
	}
	r, err := p.unary()
	if err != nil {
		return nil, err
	}
	return &binary{op: op, l: l, r: r}, nil
}

func (p *parser) unary() (node, error) {
	if _, ok := p.acceptOp("!"); ok {
		x, err := p.unary()
		if err != nil {
			return nil, err
		}
		return &not{x: x}, nil
	}
	return p.primary()
}

func (p *parser) primary() (node, error) {
	t := p.next()
	switch t.kind {
	case tLParen:
		n, err := p.or()
		if err != nil {
			return nil, err
		}
		if c := p.next(); c.kind != tRParen {
			return nil, fmt.Errorf("%w: expected ) at %d", ErrSyntax, c.pos)
		}
		return n, nil
	case tPath:
		x, err := jp.ParseString(t.text)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid path %q: %v", ErrSyntax, t.text, err)
		}
		return &path{src: t.text, x: x}, nil
	case tNumber:
		v, err := oj.ParseString(t.text)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid number %q", ErrSyntax, t.text)
		}
		return &literal{v: v}, nil
	case tString:
		if t.text[0] == '\'' {
			body := t.text[1 : len(t.text)-1]
			return &literal{v: strings.ReplaceAll(body, `\'`, `'`)}, nil
		}
		v, err := oj.ParseString(t.text)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid string %s", ErrSyntax, t.text)
		}
		return &literal{v: v}, nil
	case tIdent:
		switch t.text {
		case "true":
			return &literal{v: true}, nil
		case "false":
			return &literal{v: false}, nil
		case "null", "nil":
			return &literal{v: nil}, nil
		}
		if p.peek().kind != tLParen {
			return nil, fmt.Errorf("%w: unknown identifier %q at %d", ErrSyntax, t.text, t.pos)
		}
		p.next()
		c := &call{name: t.text}
		if p.peek().kind == tRParen {
			p.next()
			return c, nil
		}
		for {
			arg, err := p.or()
			if err != nil {
				return nil, err
			}
			c.args = append(c.args, arg)
			sep := p.next()
			if sep.kind == tRParen {
				return c, nil
			}
			if sep.kind != tComma {
				return nil, fmt.Errorf("%w: expected , or ) at %d", ErrSyntax, sep.pos)
			}
		}
	case tEOF:
		return nil, fmt.Errorf("%w: unexpected end of expression", ErrSyntax)
	default:
		return nil, fmt.Errorf("%w: unexpected %q at %d", ErrSyntax, t.text, t.pos)
	}
}
