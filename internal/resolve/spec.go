// Package resolve turns a flexible target specification into the task
// handles currently running in the registry.
package resolve

import (
	"errors"
	"fmt"
	"strings"
)

// Spec is one node of a target specification: either a single token or a
// list (`[...]`) / tuple (`{...}`) of nested specs.
type Spec struct {
	Token string
	Items []Spec
	Tuple bool
}

// IsLeaf reports whether the node is a single token.
func (s Spec) IsLeaf() bool { return s.Items == nil }

// String renders the spec back in the textual grammar.
func (s Spec) String() string {
	if s.IsLeaf() {
		return s.Token
	}
	parts := make([]string, 0, len(s.Items))
	for _, it := range s.Items {
		parts = append(parts, it.String())
	}
	open, end := "[", "]"
	if s.Tuple {
		open, end = "{", "}"
	}
	return open + strings.Join(parts, ", ") + end
}

// Tokens flattens the spec in source order.
func (s Spec) Tokens() []string {
	if s.IsLeaf() {
		return []string{s.Token}
	}
	var out []string
	for _, it := range s.Items {
		out = append(out, it.Tokens()...)
	}
	return out
}

// ErrSyntax marks a malformed target specification.
var ErrSyntax = errors.New("invalid target specification")

// Parse reads a target specification. A bare comma separated sequence at the
// top level is read as a list.
func Parse(input string) (Spec, error) {
	p := &parser{src: input}
	items, err := p.sequence(0)
	if err != nil {
		return Spec{}, err
	}
	p.skipSpace()
	if p.pos < len(p.src) {
		return Spec{}, fmt.Errorf("%w: unexpected %q at offset %d", ErrSyntax, p.src[p.pos], p.pos)
	}
	switch len(items) {
	case 0:
		return Spec{}, fmt.Errorf("%w: empty target specification", ErrSyntax)
	case 1:
		return items[0], nil
	default:
		return Spec{Items: items}, nil
	}
}

type parser struct {
	src string
	pos int
}

func (p *parser) skipSpace() {
	for p.pos < len(p.src) && (p.src[p.pos] == ' ' || p.src[p.pos] == '\t' || p.src[p.pos] == '\n') {
		p.pos++
	}
}

// sequence reads comma separated elements until the closing byte (0 = EOF).
func (p *parser) sequence(closing byte) ([]Spec, error) {
	items := []Spec{}
	for {
		p.skipSpace()
		if p.pos >= len(p.src) {
			if closing != 0 {
				return nil, fmt.Errorf("%w: missing %q", ErrSyntax, closing)
			}
			return items, nil
		}
		if p.src[p.pos] == closing {
			return items, nil
		}
		item, err := p.element()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
		p.skipSpace()
		if p.pos < len(p.src) && p.src[p.pos] == ',' {
			p.pos++
			continue
		}
		if p.pos < len(p.src) && p.src[p.pos] != closing {
			return nil, fmt.Errorf("%w: expected ',' at offset %d", ErrSyntax, p.pos)
		}
	}
}

func (p *parser) element() (Spec, error) {
	switch c := p.src[p.pos]; c {
	case '[', '{':
		closing := byte(']')
		if c == '{' {
			closing = '}'
		}
		p.pos++
		items, err := p.sequence(closing)
		if err != nil {
			return Spec{}, err
		}
		p.pos++
		if items == nil {
			items = []Spec{}
		}
		return Spec{Items: items, Tuple: c == '{'}, nil
	case ']', '}', ',':
		return Spec{}, fmt.Errorf("%w: unexpected %q at offset %d", ErrSyntax, c, p.pos)
	}
	start := p.pos
	for p.pos < len(p.src) && !strings.ContainsRune(" \t\n,[]{}", rune(p.src[p.pos])) {
		p.pos++
	}
	return Spec{Token: p.src[start:p.pos]}, nil
}
