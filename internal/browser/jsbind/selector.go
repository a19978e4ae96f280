package jsbind

import (
	"fmt"
	"strings"
)

// SelectorError reports a selector the translator does not understand. The bridge
// surfaces it to scripts as a SyntaxError.
type SelectorError struct {
	Selector string
	Reason   string
}

func (e *SelectorError) Error() string {
	return fmt.Sprintf("'%s' is not a valid selector: %s", e.Selector, e.Reason)
}

// translateCSSToXPath turns a CSS selector list into an XPath expression. Scoped
// selectors are evaluated relative to an element. Inputs that already look like XPath
// are passed through.
func translateCSSToXPath(css string, scoped bool) (string, error) {
	css = strings.TrimSpace(css)
	if css == "" {
		return "", &SelectorError{Selector: css, Reason: "empty selector"}
	}
	if strings.HasPrefix(css, "/") || strings.HasPrefix(css, "./") || strings.HasPrefix(css, "(") {
		return css, nil
	}

	p := &selectorParser{src: css}
	var alternatives []string
	for {
		path, err := p.complex()
		if err != nil {
			return "", &SelectorError{Selector: css, Reason: err.Error()}
		}
		if scoped {
			path = "." + path
		}
		alternatives = append(alternatives, path)

		p.skipSpace()
		if p.done() {
			break
		}
		if p.peek() != ',' {
			return "", &SelectorError{Selector: css, Reason: fmt.Sprintf("unexpected %q at offset %d", p.peek(), p.pos)}
		}
		p.pos++
	}
	return strings.Join(alternatives, " | "), nil
}

type selectorParser struct {
	src string
	pos int
}

func (p *selectorParser) done() bool { return p.pos >= len(p.src) }
func (p *selectorParser) peek() byte { return p.src[p.pos] }

func (p *selectorParser) skipSpace() bool {
	start := p.pos
	for !p.done() && isSpace(p.peek()) {
		p.pos++
	}
	return p.pos > start
}

// complex parses compound selectors joined by combinators.
func (p *selectorParser) complex() (string, error) {
	var xpath strings.Builder
	combinator := byte(' ')
	for {
		p.skipSpace()
		step, err := p.compound()
		if err != nil {
			return "", err
		}
		xpath.WriteString(step.render(combinator))

		hadSpace := p.skipSpace()
		if p.done() || p.peek() == ',' {
			return xpath.String(), nil
		}
		switch c := p.peek(); c {
		case '>', '+', '~':
			combinator = c
			p.pos++
		default:
			if !hadSpace {
				return "", fmt.Errorf("unexpected %q at offset %d", c, p.pos)
			}
			combinator = ' '
		}
	}
}

type step struct {
	tag        string
	predicates []string
}

func (s step) render(combinator byte) string {
	preds := ""
	if len(s.predicates) > 0 {
		preds = "[" + strings.Join(s.predicates, " and ") + "]"
	}
	switch combinator {
	case '>':
		return "/" + s.tag + preds
	case '~':
		return "/following-sibling::" + s.tag + preds
	case '+':
		self := ""
		if s.tag != "*" {
			self = "[self::" + s.tag + "]"
		}
		return "/following-sibling::*[1]" + self + preds
	default:
		return "//" + s.tag + preds
	}
}

func (p *selectorParser) compound() (step, error) {
	s := step{tag: "*"}
	if p.done() {
		return s, fmt.Errorf("missing selector at end of input")
	}
	parsed := false
	if p.peek() == '*' {
		p.pos++
		parsed = true
	} else if isIdentStart(p.peek()) {
		s.tag = strings.ToLower(p.ident())
		parsed = true
	}
	for !p.done() {
		switch p.peek() {
		case '#':
			p.pos++
			id := p.ident()
			if id == "" {
				return s, fmt.Errorf("empty id at offset %d", p.pos)
			}
			s.predicates = append(s.predicates, "@id="+xpathLiteral(id))
		case '.':
			p.pos++
			class := p.ident()
			if class == "" {
				return s, fmt.Errorf("empty class at offset %d", p.pos)
			}
			s.predicates = append(s.predicates,
				"contains(concat(' ', normalize-space(@class), ' '), "+xpathLiteral(" "+class+" ")+")")
		case '[':
			pred, err := p.attribute()
			if err != nil {
				return s, err
			}
			s.predicates = append(s.predicates, pred)
		case ':':
			pred, err := p.pseudo()
			if err != nil {
				return s, err
			}
			s.predicates = append(s.predicates, pred)
		default:
			if !parsed {
				return s, fmt.Errorf("unexpected %q at offset %d", p.peek(), p.pos)
			}
			return s, nil
		}
		parsed = true
	}
	if !parsed {
		return s, fmt.Errorf("missing selector at end of input")
	}
	return s, nil
}

func (p *selectorParser) attribute() (string, error) {
	p.pos++ // [
	p.skipSpace()
	name := strings.ToLower(p.ident())
	if name == "" {
		return "", fmt.Errorf("missing attribute name at offset %d", p.pos)
	}
	attr := "@" + name
	p.skipSpace()
	if p.done() {
		return "", fmt.Errorf("unterminated attribute selector")
	}
	if p.peek() == ']' {
		p.pos++
		return attr, nil
	}

	op := ""
	if strings.IndexByte("^$*~|", p.peek()) >= 0 {
		op = p.src[p.pos : p.pos+1]
		p.pos++
	}
	if p.done() || p.peek() != '=' {
		return "", fmt.Errorf("expected '=' in attribute selector at offset %d", p.pos)
	}
	p.pos++
	p.skipSpace()
	value, err := p.attributeValue()
	if err != nil {
		return "", err
	}
	p.skipSpace()
	if p.done() || p.peek() != ']' {
		return "", fmt.Errorf("unterminated attribute selector")
	}
	p.pos++

	lit := xpathLiteral(value)
	switch op {
	case "^":
		return "starts-with(" + attr + ", " + lit + ")", nil
	case "$":
		return "ends-with(" + attr + ", " + lit + ")", nil
	case "*":
		return "contains(" + attr + ", " + lit + ")", nil
	case "~":
		return "contains(concat(' ', normalize-space(" + attr + "), ' '), " + xpathLiteral(" "+value+" ") + ")", nil
	case "|":
		return "(" + attr + "=" + lit + " or starts-with(" + attr + ", " + xpathLiteral(value+"-") + "))", nil
	}
	return attr + "=" + lit, nil
}

func (p *selectorParser) attributeValue() (string, error) {
	if p.done() {
		return "", fmt.Errorf("missing attribute value")
	}
	if q := p.peek(); q == '"' || q == '\'' {
		end := strings.IndexByte(p.src[p.pos+1:], q)
		if end < 0 {
			return "", fmt.Errorf("unterminated string at offset %d", p.pos)
		}
		v := p.src[p.pos+1 : p.pos+1+end]
		p.pos += end + 2
		return v, nil
	}
	v := p.ident()
	if v == "" {
		return "", fmt.Errorf("missing attribute value at offset %d", p.pos)
	}
	return v, nil
}

func (p *selectorParser) pseudo() (string, error) {
	p.pos++ // :
	name := strings.ToLower(p.ident())
	switch name {
	case "first-child":
		return "not(preceding-sibling::*)", nil
	case "last-child":
		return "not(following-sibling::*)", nil
	case "only-child":
		return "not(preceding-sibling::*) and not(following-sibling::*)", nil
	case "checked":
		return "(@checked or @selected)", nil
	case "disabled":
		return "@disabled", nil
	}
	return "", fmt.Errorf("unsupported pseudo-class :%s", name)
}

func (p *selectorParser) ident() string {
	start := p.pos
	for !p.done() && isIdentChar(p.peek()) {
		p.pos++
	}
	return p.src[start:p.pos]
}

// xpathLiteral quotes s for XPath 1.0, which has no escape sequences.
func xpathLiteral(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	parts := strings.Split(s, "'")
	quoted := make([]string, 0, 2*len(parts))
	for i, part := range parts {
		if i > 0 {
			quoted = append(quoted, `"'"`)
		}
		quoted = append(quoted, "'"+part+"'")
	}
	return "concat(" + strings.Join(quoted, ", ") + ")"
}

func isSpace(c byte) bool { return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' }

func isIdentStart(c byte) bool {
	return c == '_' || c == '-' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c >= 0x80
}

func isIdentChar(c byte) bool { return isIdentStart(c) || (c >= '0' && c <= '9') }
