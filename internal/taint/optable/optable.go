// File: internal/taint/optable/optable.go
// Package optable is the static table of source-level operations that the rewriter
// replaces with calls to taint-aware mock functions.
package optable

import "fmt"

// Class selects the rewrite and mock strategy for an operation.
type Class int

const (
	// Named covers calls to specific global built-ins (eval, Function, conversions).
	Named Class = iota
	// MemberCall is obj.method(args) and obj[key](args).
	MemberCall
	// MemberGet is obj.name and obj[key].
	MemberGet
	// Test wraps branch conditions and switch operands so boxed primitives branch and
	// match on their payload.
	Test
	// Logical is &&, || and ??. The right operand is evaluated lazily.
	Logical
	// Equality holds boolean predicates. Their results are never tainted.
	Equality
	// Binary arithmetic and bitwise operators.
	Binary
	// Unary arithmetic operators and typeof.
	Unary
	// Update is ++ and --, and the augmented assignment forms of Binary operators.
	Update
)

var classNames = map[Class]string{
	Named:      "named",
	MemberCall: "member-call",
	MemberGet:  "member-get",
	Test:       "test",
	Logical:    "logical",
	Equality:   "equality",
	Binary:     "binary",
	Unary:      "unary",
	Update:     "update",
}

func (c Class) String() string {
	if name, ok := classNames[c]; ok {
		return name
	}
	return fmt.Sprintf("class(%d)", int(c))
}

// Entry maps one operation symbol to its mock function.
type Entry struct {
	Symbol string
	Class  Class
	Mock   string
}

// Reserved global names used by the engine outside of the table itself.
const (
	// MockFlag is an own property set on every mock function.
	MockFlag = "__is_mock__"

	PrefixMock     = "__prefix__"
	PostfixMock    = "__postfix__"
	EvalResultMock = "__eval_result__"
	TaintHelper    = "__taint__"
	LabelsHelper   = "__taint_labels__"
)

// entries is kept in replacer order. First match wins in the rewriter, so the
// member-call entries must precede member-get, and the test entries come first
// because they match on the position of a node rather than its shape.
var entries = []Entry{
	{"?:", Test, "__truthy__"},
	{"switch", Test, "__unwrap__"},

	{"eval", Named, "__eval__"},
	{"Function", Named, "__function__"},
	{"String", Named, "__string__"},
	{"Number", Named, "__number__"},
	{"Boolean", Named, "__boolean__"},
	{"parseInt", Named, "__parse_int__"},
	{"parseFloat", Named, "__parse_float__"},
	{"encodeURIComponent", Named, "__encode_uri_component__"},
	{"decodeURIComponent", Named, "__decode_uri_component__"},
	{"encodeURI", Named, "__encode_uri__"},
	{"decodeURI", Named, "__decode_uri__"},
	{"escape", Named, "__escape__"},
	{"unescape", Named, "__unescape__"},
	{"atob", Named, "__atob__"},
	{"btoa", Named, "__btoa__"},

	{"()", MemberCall, "__call_method__"},
	{".", MemberGet, "__get__"},

	{"&&", Logical, "__logical_and__"},
	{"||", Logical, "__logical_or__"},
	{"??", Logical, "__nullish__"},

	{"==", Equality, "__double_equal__"},
	{"===", Equality, "__triple_equal__"},
	{"!=", Equality, "__double_inequal__"},
	{"!==", Equality, "__triple_inequal__"},
	{">", Equality, "__greater__"},
	{"<", Equality, "__lesser__"},
	{">=", Equality, "__greater_equal__"},
	{"<=", Equality, "__lesser_equal__"},
	{"instanceof", Equality, "__instanceof__"},
	{"in", Equality, "__in__"},
	{"!", Equality, "__logical_not__"},

	{"+", Binary, "__plus__"},
	{"-", Binary, "__minus__"},
	{"*", Binary, "__multiply__"},
	{"/", Binary, "__divide__"},
	{"%", Binary, "__modulus__"},
	{"**", Binary, "__exponent__"},
	{"&", Binary, "__bitwise_and__"},
	{"|", Binary, "__bitwise_or__"},
	{"^", Binary, "__xor__"},
	{"<<", Binary, "__shift_left__"},
	{">>", Binary, "__shift_right__"},
	{">>>", Binary, "__unsigned_shift_right__"},

	{"typeof", Unary, "__typeof__"},
	{"-", Unary, "__unary_minus__"},
	{"+", Unary, "__unary_plus__"},
	{"~", Unary, "__bitwise_not__"},

	{"++", Update, "__increment__"},
	{"--", Update, "__decrement__"},
}

// UnknownOperatorError is returned when an operation has no table entry.
type UnknownOperatorError struct {
	Class  Class
	Symbol string
}

func (e *UnknownOperatorError) Error() string {
	return fmt.Sprintf("unknown %s operator %q", e.Class, e.Symbol)
}

var index = buildIndex()

type key struct {
	class  Class
	symbol string
}

func buildIndex() map[key]Entry {
	idx := make(map[key]Entry, len(entries))
	for _, e := range entries {
		k := key{e.Class, e.Symbol}
		if _, dup := idx[k]; dup {
			panic(fmt.Sprintf("optable: duplicate entry %s %q", e.Class, e.Symbol))
		}
		idx[k] = e
	}
	return idx
}

// Entries returns a copy of the table in replacer order.
func Entries() []Entry {
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out
}

// Lookup finds the entry for symbol within class.
func Lookup(class Class, symbol string) (Entry, error) {
	if e, ok := index[key{class, symbol}]; ok {
		return e, nil
	}
	return Entry{}, &UnknownOperatorError{Class: class, Symbol: symbol}
}

// MustLookup is Lookup for callers that only pass symbols they already matched
// against the table. A miss is a programming error.
func MustLookup(class Class, symbol string) Entry {
	e, err := Lookup(class, symbol)
	if err != nil {
		panic(err)
	}
	return e
}

// Has reports whether symbol has an entry in class.
func Has(class Class, symbol string) bool {
	_, ok := index[key{class, symbol}]
	return ok
}

// ByClass returns the entries of one class in table order.
func ByClass(class Class) []Entry {
	var out []Entry
	for _, e := range entries {
		if e.Class == class {
			out = append(out, e)
		}
	}
	return out
}

// AugmentedOperator maps an augmented assignment operator such as "+=" to the
// Binary entry it applies. Logical assignments (&&=, ||=, ??=) have no entry.
func AugmentedOperator(op string) (Entry, bool) {
	if len(op) < 2 || op[len(op)-1] != '=' {
		return Entry{}, false
	}
	e, ok := index[key{Binary, op[:len(op)-1]}]
	return e, ok
}

// MockNames returns every global name the mock layer installs, table entries first.
func MockNames() []string {
	names := make([]string, 0, len(entries)+3)
	for _, e := range entries {
		names = append(names, e.Mock)
	}
	return append(names, PrefixMock, PostfixMock, EvalResultMock)
}
