package store

import (
	"fmt"
	"strings"
)

// SelectItem is one entry of a select expression: either a column ("*" for
// all columns) or an embedded relation.
type SelectItem struct {
	Column string
	Embed  *Embed
}

// Embed expands a related table into each returned row. Inner restricts the
// result to rows that have at least one matching related row.
type Embed struct {
	Table string
	Inner bool
	Items SelectExpr
}

// SelectExpr is a parsed select expression such as
// "*, models!inner(name, slug), tags(*)".
type SelectExpr []SelectItem

// ParseSelect parses a select expression. An empty expression selects "*".
func ParseSelect(s string) (SelectExpr, error) {
	p := &selectParser{src: s}
	expr, err := p.items()
	if err != nil {
		return nil, err
	}
	if p.pos < len(p.src) {
		return nil, fmt.Errorf("select %q: unexpected %q at %d", s, p.src[p.pos], p.pos)
	}
	if len(expr) == 0 {
		expr = SelectExpr{{Column: "*"}}
	}
	return expr, nil
}

// MustParseSelect is ParseSelect for known-good literals.
func MustParseSelect(s string) SelectExpr {
	expr, err := ParseSelect(s)
	if err != nil {
		panic(err)
	}
	return expr
}

func (e SelectExpr) String() string {
	parts := make([]string, len(e))
	for i, it := range e {
		if it.Embed == nil {
			parts[i] = it.Column
			continue
		}
		name := it.Embed.Table
		if it.Embed.Inner {
			name += "!inner"
		}
		parts[i] = name + "(" + it.Embed.Items.String() + ")"
	}
	return strings.Join(parts, ",")
}

// Embed returns the embed for table, or nil.
func (e SelectExpr) Embed(table string) *Embed {
	for _, it := range e {
		if it.Embed != nil && it.Embed.Table == table {
			return it.Embed
		}
	}
	return nil
}

// Embeds returns the embedded relations in expression order.
func (e SelectExpr) Embeds() []*Embed {
	var out []*Embed
	for _, it := range e {
		if it.Embed != nil {
			out = append(out, it.Embed)
		}
	}
	return out
}

// Columns returns the plain column items, "*" included.
func (e SelectExpr) Columns() []string {
	var out []string
	for _, it := range e {
		if it.Embed == nil {
			out = append(out, it.Column)
		}
	}
	return out
}

// HasStar reports whether the expression selects all local columns.
func (e SelectExpr) HasStar() bool {
	for _, it := range e {
		if it.Embed == nil && it.Column == "*" {
			return true
		}
	}
	return false
}

// Includes reports whether column is selected, directly or through "*".
func (e SelectExpr) Includes(column string) bool {
	for _, it := range e {
		if it.Embed == nil && (it.Column == "*" || it.Column == column) {
			return true
		}
	}
	return false
}

type selectParser struct {
	src string
	pos int
}

func (p *selectParser) skipSpace() {
	for p.pos < len(p.src) && (p.src[p.pos] == ' ' || p.src[p.pos] == '\t' || p.src[p.pos] == '\n') {
		p.pos++
	}
}

func (p *selectParser) items() (SelectExpr, error) {
	var expr SelectExpr
	for {
		p.skipSpace()
		if p.pos >= len(p.src) || p.src[p.pos] == ')' {
			return expr, nil
		}
		item, err := p.item()
		if err != nil {
			return nil, err
		}
		expr = append(expr, item)
		p.skipSpace()
		if p.pos < len(p.src) && p.src[p.pos] == ',' {
			p.pos++
			continue
		}
		return expr, nil
	}
}

func (p *selectParser) item() (SelectItem, error) {
	if p.src[p.pos] == '*' {
		p.pos++
		return SelectItem{Column: "*"}, nil
	}
	name := p.ident()
	if name == "" {
		return SelectItem{}, fmt.Errorf("select %q: expected column at %d", p.src, p.pos)
	}
	inner := false
	if strings.HasPrefix(p.src[p.pos:], "!inner") {
		inner = true
		p.pos += len("!inner")
	}
	p.skipSpace()
	if p.pos >= len(p.src) || p.src[p.pos] != '(' {
		if inner {
			return SelectItem{}, fmt.Errorf("select %q: !inner requires an embed on %q", p.src, name)
		}
		return SelectItem{Column: name}, nil
	}
	p.pos++
	children, err := p.items()
	if err != nil {
		return SelectItem{}, err
	}
	if p.pos >= len(p.src) || p.src[p.pos] != ')' {
		return SelectItem{}, fmt.Errorf("select %q: unclosed embed %q", p.src, name)
	}
	p.pos++
	if len(children) == 0 {
		children = SelectExpr{{Column: "*"}}
	}
	return SelectItem{Embed: &Embed{Table: name, Inner: inner, Items: children}}, nil
}

func (p *selectParser) ident() string {
	start := p.pos
	for p.pos < len(p.src) && IsIdentByte(p.src[p.pos], p.pos == start) {
		p.pos++
	}
	return p.src[start:p.pos]
}

// IsIdentByte reports whether b may appear in a bare identifier.
func IsIdentByte(b byte, first bool) bool {
	switch {
	case b == '_', b >= 'a' && b <= 'z', b >= 'A' && b <= 'Z':
		return true
	case b >= '0' && b <= '9':
		return !first
	}
	return false
}

// ValidIdent reports whether s is a safe bare identifier.
func ValidIdent(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !IsIdentByte(s[i], i == 0) {
			return false
		}
	}
	return true
}
