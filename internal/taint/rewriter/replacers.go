package rewriter

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/xkilldash9x/domtaint/internal/taint/optable"
)

// Replacer pairs an operator table entry with the syntax it rewrites.
type Replacer struct {
	Entry optable.Entry
	// Match reports whether the node is an instance of Entry that can be rewritten.
	Match func(n *sitter.Node, src []byte) bool

	replace func(w *walker, n *sitter.Node) string
}

// buildReplacers derives one replacer per table entry, in table order.
func buildReplacers() []Replacer {
	entries := optable.Entries()
	out := make([]Replacer, 0, len(entries))
	for _, e := range entries {
		var r Replacer
		switch e.Class {
		case optable.Named:
			r = namedReplacer(e)
		case optable.MemberCall:
			r = memberCallReplacer(e)
		case optable.MemberGet:
			r = memberGetReplacer(e)
		case optable.Test:
			r = testReplacer(e)
		case optable.Logical:
			r = logicalReplacer(e)
		case optable.Equality:
			r = equalityReplacer(e)
		case optable.Binary:
			r = binaryReplacer(e)
		case optable.Unary:
			r = unaryReplacer(e)
		case optable.Update:
			r = updateReplacer(e)
		default:
			panic(&optable.UnknownOperatorError{Class: e.Class, Symbol: e.Symbol})
		}
		r.Entry = e
		out = append(out, r)
	}
	return out
}

func opText(n *sitter.Node, src []byte) string {
	op := n.ChildByFieldName("operator")
	if op == nil {
		return ""
	}
	return op.Content(src)
}

// rewritableMember reports whether a member or subscript node can be routed through
// the member mocks without changing evaluation.
func rewritableMember(n *sitter.Node) bool {
	if !isMemberLike(n) || hasOptional(n) {
		return false
	}
	obj := n.ChildByFieldName("object")
	if obj == nil {
		return false
	}
	switch obj.Type() {
	case "super", "import":
		return false
	}
	if n.Type() == "member_expression" {
		prop := n.ChildByFieldName("property")
		if prop == nil || prop.Type() != "property_identifier" {
			return false
		}
	} else if n.ChildByFieldName("index") == nil {
		return false
	}
	if parent := n.Parent(); parent != nil && strings.HasPrefix(parent.Type(), "jsx_") {
		return false
	}
	return !inOptionalChain(obj)
}

func namedReplacer(e optable.Entry) Replacer {
	match := func(n *sitter.Node, src []byte) bool {
		var callee, args *sitter.Node
		switch n.Type() {
		case "call_expression":
			if hasOptional(n) {
				return false
			}
			callee, args = n.ChildByFieldName("function"), n.ChildByFieldName("arguments")
		case "new_expression":
			// Only Function behaves the same with and without new.
			if e.Symbol != "Function" {
				return false
			}
			callee, args = n.ChildByFieldName("constructor"), n.ChildByFieldName("arguments")
		default:
			return false
		}
		if callee == nil || callee.Type() != "identifier" || callee.Content(src) != e.Symbol {
			return false
		}
		if args == nil {
			// new Function without an argument list.
			return n.Type() == "new_expression"
		}
		if args.Type() != "arguments" {
			return false
		}
		if e.Symbol == "eval" {
			list := argumentNodes(args)
			return len(list) > 0 && list[0].Type() != "spread_element"
		}
		return true
	}

	replace := func(w *walker, n *sitter.Node) string {
		args := n.ChildByFieldName("arguments")
		if e.Symbol == "eval" {
			// The call stays a direct eval so the evaluated code keeps the local scope.
			list := argumentNodes(args)
			var b strings.Builder
			b.WriteString("eval(")
			b.WriteString(e.Mock)
			b.WriteString("(")
			b.WriteString(w.arg(list[0]))
			b.WriteString(")")
			for _, a := range list[1:] {
				b.WriteString(", ")
				b.WriteString(w.arg(a))
			}
			b.WriteString(")")
			return b.String()
		}
		rest := ""
		if args != nil {
			rest = w.callArgs(args)
		}
		return e.Mock + "(" + e.Symbol + rest + ")"
	}
	return Replacer{Match: match, replace: replace}
}

func memberCallReplacer(e optable.Entry) Replacer {
	match := func(n *sitter.Node, src []byte) bool {
		if n.Type() != "call_expression" || hasOptional(n) {
			return false
		}
		args := n.ChildByFieldName("arguments")
		if args == nil || args.Type() != "arguments" {
			return false
		}
		return rewritableMember(unparen(n.ChildByFieldName("function")))
	}
	replace := func(w *walker, n *sitter.Node) string {
		callee := unparen(n.ChildByFieldName("function"))
		return e.Mock + "(" +
			w.arg(callee.ChildByFieldName("object")) + ", " +
			w.memberKey(callee) +
			w.callArgs(n.ChildByFieldName("arguments")) + ")"
	}
	return Replacer{Match: match, replace: replace}
}

func memberGetReplacer(e optable.Entry) Replacer {
	match := func(n *sitter.Node, src []byte) bool {
		return rewritableMember(n)
	}
	replace := func(w *walker, n *sitter.Node) string {
		return e.Mock + "(" + w.arg(n.ChildByFieldName("object")) + ", " + w.memberKey(n) + ")"
	}
	return Replacer{Match: match, replace: replace}
}

// testReplacer covers the places where the language tests a value without
// producing it: branch conditions for "?:" and switch matching for "switch".
func testReplacer(e optable.Entry) Replacer {
	if e.Symbol == "switch" {
		return switchReplacer(e)
	}
	match := func(n *sitter.Node, src []byte) bool {
		parent := n.Parent()
		if parent == nil {
			return false
		}
		switch parent.Type() {
		case "if_statement", "while_statement", "do_statement":
			return n.Type() == "parenthesized_expression" && isField(parent, "condition", n) &&
				unparen(n) != n
		case "ternary_expression":
			return isField(parent, "condition", n)
		case "for_statement":
			if !isField(parent, "condition", n) {
				return false
			}
			switch n.Type() {
			case "empty_statement", ";":
				return false
			case "expression_statement":
				return firstNamed(n) != nil
			}
			return true
		}
		return false
	}
	replace := func(w *walker, n *sitter.Node) string {
		switch n.Parent().Type() {
		case "ternary_expression", "for_statement":
			if n.Type() == "expression_statement" {
				// Older grammars keep the for condition as a statement with its semicolon.
				return e.Mock + "(" + w.arg(firstNamed(n)) + ");"
			}
			return e.Mock + "(" + w.bare(n, optable.Test) + ")"
		}
		inner := unparen(n)
		return "(" + e.Mock + "(" + w.arg(inner) + "))"
	}
	return Replacer{Match: match, replace: replace}
}

// switchReplacer unwraps the discriminant of a switch and the value of every case so
// the built-in strict equality compares payloads.
func switchReplacer(e optable.Entry) Replacer {
	match := func(n *sitter.Node, src []byte) bool {
		parent := n.Parent()
		if parent == nil || !isField(parent, "value", n) {
			return false
		}
		switch parent.Type() {
		case "switch_statement":
			return n.Type() == "parenthesized_expression" && unparen(n) != n
		case "switch_case":
			return true
		}
		return false
	}
	replace := func(w *walker, n *sitter.Node) string {
		if n.Parent().Type() == "switch_statement" {
			return "(" + e.Mock + "(" + w.arg(unparen(n)) + "))"
		}
		return e.Mock + "(" + w.bare(n, optable.Test) + ")"
	}
	return Replacer{Match: match, replace: replace}
}

func logicalReplacer(e optable.Entry) Replacer {
	match := func(n *sitter.Node, src []byte) bool {
		if n.Type() != "binary_expression" || opText(n, src) != e.Symbol {
			return false
		}
		right := n.ChildByFieldName("right")
		// A thunk cannot suspend the enclosing function.
		return right != nil && !containsType(right, "await_expression", "yield_expression")
	}
	replace := func(w *walker, n *sitter.Node) string {
		return e.Mock + "(" + w.arg(n.ChildByFieldName("left")) +
			", () => (" + w.emit(n.ChildByFieldName("right")) + "))"
	}
	return Replacer{Match: match, replace: replace}
}

func equalityReplacer(e optable.Entry) Replacer {
	if e.Symbol == "!" {
		return prefixReplacer(e)
	}
	match := func(n *sitter.Node, src []byte) bool {
		if n.Type() != "binary_expression" || opText(n, src) != e.Symbol {
			return false
		}
		left := n.ChildByFieldName("left")
		// #field in obj has no value on its left.
		return left != nil && left.Type() != "private_property_identifier"
	}
	return Replacer{Match: match, replace: binaryCall(e)}
}

func binaryCall(e optable.Entry) func(w *walker, n *sitter.Node) string {
	return func(w *walker, n *sitter.Node) string {
		return e.Mock + "(" + w.arg(n.ChildByFieldName("left")) + ", " + w.arg(n.ChildByFieldName("right")) + ")"
	}
}

func binaryReplacer(e optable.Entry) Replacer {
	match := func(n *sitter.Node, src []byte) bool {
		switch n.Type() {
		case "binary_expression":
			return opText(n, src) == e.Symbol
		case "augmented_assignment_expression":
			left := n.ChildByFieldName("left")
			return opText(n, src) == e.Symbol+"=" && left != nil && left.Type() == "identifier"
		}
		return false
	}
	call := binaryCall(e)
	replace := func(w *walker, n *sitter.Node) string {
		if n.Type() == "binary_expression" {
			return call(w, n)
		}
		name := w.text(n.ChildByFieldName("left"))
		return name + " = " + e.Mock + "(" + name + ", " + w.arg(n.ChildByFieldName("right")) + ")"
	}
	return Replacer{Match: match, replace: replace}
}

// prefixReplacer rewrites a unary_expression whose operator is e.Symbol into a one
// argument mock call.
func prefixReplacer(e optable.Entry) Replacer {
	match := func(n *sitter.Node, src []byte) bool {
		return n.Type() == "unary_expression" && opText(n, src) == e.Symbol
	}
	replace := func(w *walker, n *sitter.Node) string {
		return e.Mock + "(" + w.arg(n.ChildByFieldName("argument")) + ")"
	}
	return Replacer{Match: match, replace: replace}
}

func unaryReplacer(e optable.Entry) Replacer {
	r := prefixReplacer(e)
	if e.Symbol == "typeof" {
		generic := r.replace
		r.replace = func(w *walker, n *sitter.Node) string {
			arg := n.ChildByFieldName("argument")
			if arg.Type() != "identifier" {
				return generic(w, n)
			}
			// typeof on an undeclared name must not throw.
			name := w.text(arg)
			return e.Mock + `(typeof ` + name + ` === "undefined" ? void 0 : ` + name + ")"
		}
		return r
	}
	base := r.Match
	r.Match = func(n *sitter.Node, src []byte) bool {
		if !base(n, src) {
			return false
		}
		arg := n.ChildByFieldName("argument")
		// Negative literals cannot carry taint.
		return arg != nil && arg.Type() != "number"
	}
	return r
}

func updateReplacer(e optable.Entry) Replacer {
	match := func(n *sitter.Node, src []byte) bool {
		if n.Type() != "update_expression" || opText(n, src) != e.Symbol {
			return false
		}
		arg := n.ChildByFieldName("argument")
		return arg != nil && arg.Type() == "identifier"
	}
	replace := func(w *walker, n *sitter.Node) string {
		name := w.text(n.ChildByFieldName("argument"))
		step := name + " = " + e.Mock + "(" + name + ")"
		if n.ChildCount() > 0 && n.Child(0).Type() == e.Symbol {
			return optable.PrefixMock + "(" + step + ")"
		}
		return optable.PostfixMock + "(" + name + ", " + step + ")"
	}
	return Replacer{Match: match, replace: replace}
}
