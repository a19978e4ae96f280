package rewriter

import (
	"strings"

	jsoniter "github.com/json-iterator/go"
	sitter "github.com/smacker/go-tree-sitter"

	"github.com/xkilldash9x/domtaint/internal/taint/optable"
)

var quoter = jsoniter.ConfigCompatibleWithStandardLibrary

// walker emits the rewritten text of one parse tree.
type walker struct {
	src       []byte
	replacers []Replacer
	replaced  int
}

func (w *walker) text(n *sitter.Node) string {
	return n.Content(w.src)
}

// emit returns the text of n with the first matching replacer applied, or the text of
// n with its children emitted recursively when nothing matches.
func (w *walker) emit(n *sitter.Node) string {
	for _, r := range w.replacers {
		if r.Match(n, w.src) {
			w.replaced++
			return r.replace(w, n)
		}
	}
	return w.emitChildren(n)
}

// emitExcept is emit restricted to replacers outside class. Used by replacers that
// wrap a node which may itself be rewritten by another class.
func (w *walker) emitExcept(n *sitter.Node, class optable.Class) string {
	for _, r := range w.replacers {
		if r.Entry.Class == class {
			continue
		}
		if r.Match(n, w.src) {
			w.replaced++
			return r.replace(w, n)
		}
	}
	return w.emitChildren(n)
}

func (w *walker) emitChildren(n *sitter.Node) string {
	count := int(n.ChildCount())
	if count == 0 {
		return w.text(n)
	}
	var b strings.Builder
	pos := n.StartByte()
	for i := 0; i < count; i++ {
		child := n.Child(i)
		b.Write(w.src[pos:child.StartByte()])
		b.WriteString(w.emitChild(n, child))
		pos = child.EndByte()
	}
	b.Write(w.src[pos:n.EndByte()])
	return b.String()
}

// emitChild applies the positional rules: assignment targets and operands whose
// identity the enclosing construct depends on are not replaced themselves.
func (w *walker) emitChild(parent, child *sitter.Node) string {
	switch parent.Type() {
	case "assignment_expression", "augmented_assignment_expression", "for_in_statement":
		if isField(parent, "left", child) {
			return w.target(child)
		}
	case "update_expression":
		if isField(parent, "argument", child) {
			return w.target(child)
		}
	case "unary_expression":
		if isField(parent, "argument", child) && w.operator(parent) == "delete" {
			return w.protect(child)
		}
	case "call_expression":
		if isField(parent, "function", child) && isMemberLike(unparen(child)) {
			return w.protect(child)
		}
	case "new_expression":
		if isField(parent, "constructor", child) {
			out := w.emit(child)
			if child.Type() != "identifier" && child.Type() != "parenthesized_expression" && out != w.text(child) {
				return "(" + out + ")"
			}
			return out
		}
	}
	return w.emit(child)
}

// target emits an assignment target. Identifiers and patterns are copied verbatim;
// member targets keep their shape while their object and computed key are rewritten.
func (w *walker) target(n *sitter.Node) string {
	switch n.Type() {
	case "member_expression", "subscript_expression", "parenthesized_expression":
		return w.protect(n)
	}
	return w.text(n)
}

// protect emits n without applying replacers to n itself, looking through parentheses.
func (w *walker) protect(n *sitter.Node) string {
	if n.Type() != "parenthesized_expression" {
		return w.emitChildren(n)
	}
	var b strings.Builder
	pos := n.StartByte()
	for i := 0; i < int(n.ChildCount()); i++ {
		child := n.Child(i)
		b.Write(w.src[pos:child.StartByte()])
		if child.IsNamed() && child.Type() != "comment" {
			b.WriteString(w.protect(child))
		} else {
			b.WriteString(w.text(child))
		}
		pos = child.EndByte()
	}
	b.Write(w.src[pos:n.EndByte()])
	return b.String()
}

// arg emits n for use as a call argument.
func (w *walker) arg(n *sitter.Node) string {
	out := w.emit(n)
	if n.Type() == "sequence_expression" {
		return "(" + out + ")"
	}
	return out
}

// bare emits n as a call argument without letting class rewrite n itself.
func (w *walker) bare(n *sitter.Node, class optable.Class) string {
	out := w.emitExcept(n, class)
	if n.Type() == "sequence_expression" {
		return "(" + out + ")"
	}
	return out
}

// memberKey returns the property key of a member node as call argument text. Static
// keys become one canonical string literal so obj.x and obj["x"] rewrite identically.
func (w *walker) memberKey(n *sitter.Node) string {
	if n.Type() == "member_expression" {
		return quote(w.text(n.ChildByFieldName("property")))
	}
	index := n.ChildByFieldName("index")
	if index.Type() == "string" {
		lit := w.text(index)
		if len(lit) >= 2 && !strings.Contains(lit, `\`) {
			return quote(lit[1 : len(lit)-1])
		}
	}
	return w.arg(index)
}

func (w *walker) operator(n *sitter.Node) string {
	op := n.ChildByFieldName("operator")
	if op == nil {
		return ""
	}
	return w.text(op)
}

// callArgs renders the arguments node as ", a, b" for appending after fixed parameters.
func (w *walker) callArgs(args *sitter.Node) string {
	var b strings.Builder
	for _, a := range argumentNodes(args) {
		b.WriteString(", ")
		b.WriteString(w.arg(a))
	}
	return b.String()
}

func argumentNodes(args *sitter.Node) []*sitter.Node {
	var out []*sitter.Node
	for i := 0; i < int(args.NamedChildCount()); i++ {
		c := args.NamedChild(i)
		if c.Type() == "comment" {
			continue
		}
		out = append(out, c)
	}
	return out
}

func quote(s string) string {
	out, err := quoter.MarshalToString(s)
	if err != nil {
		// Strings always marshal.
		panic(err)
	}
	return out
}

func sameNode(a, b *sitter.Node) bool {
	return a.StartByte() == b.StartByte() && a.EndByte() == b.EndByte() && a.Type() == b.Type()
}

func isField(parent *sitter.Node, field string, child *sitter.Node) bool {
	f := parent.ChildByFieldName(field)
	return f != nil && sameNode(f, child)
}

func unparen(n *sitter.Node) *sitter.Node {
	for n != nil && n.Type() == "parenthesized_expression" {
		var inner *sitter.Node
		for i := 0; i < int(n.NamedChildCount()); i++ {
			if c := n.NamedChild(i); c.Type() != "comment" {
				inner = c
				break
			}
		}
		if inner == nil {
			return n
		}
		n = inner
	}
	return n
}

// firstNamed returns the first named child of n that is not a comment.
func firstNamed(n *sitter.Node) *sitter.Node {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if c := n.NamedChild(i); c.Type() != "comment" {
			return c
		}
	}
	return nil
}

func isMemberLike(n *sitter.Node) bool {
	return n != nil && (n.Type() == "member_expression" || n.Type() == "subscript_expression")
}

// hasOptional reports an optional-chain token directly under n.
func hasOptional(n *sitter.Node) bool {
	for i := 0; i < int(n.ChildCount()); i++ {
		switch n.Child(i).Type() {
		case "optional_chain", "?.":
			return true
		}
	}
	return false
}

// inOptionalChain reports whether n, or the member and call chain it is built on,
// contains an optional link. Rewriting any link of such a chain would change where
// evaluation short-circuits.
func inOptionalChain(n *sitter.Node) bool {
	for n != nil {
		switch n.Type() {
		case "member_expression", "subscript_expression":
			if hasOptional(n) {
				return true
			}
			n = n.ChildByFieldName("object")
		case "call_expression":
			if hasOptional(n) {
				return true
			}
			n = n.ChildByFieldName("function")
		default:
			return false
		}
	}
	return false
}

func containsType(n *sitter.Node, types ...string) bool {
	for _, t := range types {
		if n.Type() == t {
			return true
		}
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if containsType(n.NamedChild(i), types...) {
			return true
		}
	}
	return false
}
