package mocks

import (
	"fmt"

	"github.com/dop251/goja"

	"github.com/xkilldash9x/domtaint/internal/taint/optable"
)

// compileOperators builds one closure per operator entry so that every mock applies
// the engine's own coercion rules to the raw operands.
func (m *Mocks) compileOperators() error {
	for _, e := range optable.Entries() {
		var src string
		switch e.Class {
		case optable.Binary:
			src = fmt.Sprintf(`(function (a, b) { return a %s b; })`, e.Symbol)
		case optable.Equality:
			if e.Symbol == "!" {
				src = `(function (a) { return !a; })`
			} else {
				src = fmt.Sprintf(`(function (a, b) { return a %s b; })`, e.Symbol)
			}
		case optable.Unary, optable.Update:
			src = fmt.Sprintf(`(function (a) { return %s a; })`, e.Symbol)
		default:
			continue
		}
		fn, err := m.compile(src)
		if err != nil {
			return fmt.Errorf("operator %s: %w", e.Symbol, err)
		}
		m.ops[e.Mock] = fn
	}
	return nil
}

func (m *Mocks) binaryMock(e optable.Entry) func(goja.FunctionCall) goja.Value {
	op := m.ops[e.Mock]
	return func(call goja.FunctionCall) goja.Value {
		a, b := call.Argument(0), call.Argument(1)
		res := m.invoke(op, goja.Undefined(), m.tainter.Unwrap(a), m.tainter.Unwrap(b))
		if !m.tainter.IsTainted(a) && !m.tainter.IsTainted(b) {
			return res
		}
		return m.tainter.Wrap(res, e.Symbol+"("+m.describe(a)+","+m.describe(b)+")")
	}
}

// equalityMock never taints its boolean result.
func (m *Mocks) equalityMock(e optable.Entry) func(goja.FunctionCall) goja.Value {
	op := m.ops[e.Mock]
	if e.Symbol == "!" {
		return func(call goja.FunctionCall) goja.Value {
			return m.invoke(op, goja.Undefined(), m.tainter.Unwrap(call.Argument(0)))
		}
	}
	return func(call goja.FunctionCall) goja.Value {
		return m.invoke(op, goja.Undefined(), m.tainter.Unwrap(call.Argument(0)), m.tainter.Unwrap(call.Argument(1)))
	}
}

func (m *Mocks) unaryMock(e optable.Entry) func(goja.FunctionCall) goja.Value {
	op := m.ops[e.Mock]
	if e.Symbol == "typeof" {
		// The type string describes the payload and is not itself tainted.
		return func(call goja.FunctionCall) goja.Value {
			return m.invoke(op, goja.Undefined(), m.tainter.Unwrap(call.Argument(0)))
		}
	}
	return m.prefixOperator(e, op)
}

func (m *Mocks) updateMock(e optable.Entry) func(goja.FunctionCall) goja.Value {
	return m.prefixOperator(e, m.ops[e.Mock])
}

func (m *Mocks) prefixOperator(e optable.Entry, op goja.Callable) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		a := call.Argument(0)
		res := m.invoke(op, goja.Undefined(), m.tainter.Unwrap(a))
		label, ok := m.tainter.LabelOf(a)
		if !ok {
			return res
		}
		return m.tainter.Wrap(res, e.Symbol+"("+label+")")
	}
}

// prefixMock is the value of a rewritten ++x: the assignment already produced it.
func (m *Mocks) prefixMock(call goja.FunctionCall) goja.Value {
	return call.Argument(0)
}

// postfixMock is the value of a rewritten x++: the numeric form of the old value. The
// second argument only exists to perform the assignment.
func (m *Mocks) postfixMock(call goja.FunctionCall) goja.Value {
	old := call.Argument(0)
	res := m.invoke(m.postfix, goja.Undefined(), m.tainter.Unwrap(old))
	if label, ok := m.tainter.LabelOf(old); ok {
		return m.tainter.Wrap(res, label)
	}
	return res
}

func (m *Mocks) truthyMock(call goja.FunctionCall) goja.Value {
	return m.vm.ToValue(m.tainter.Unwrap(call.Argument(0)).ToBoolean())
}

// unwrapMock hands the raw payload to a switch, which matches with built-in strict
// equality.
func (m *Mocks) unwrapMock(call goja.FunctionCall) goja.Value {
	return m.tainter.Unwrap(call.Argument(0))
}

// logicalMock receives the right operand as a thunk and returns whichever operand the
// operator selects, so taint flows by identity.
func (m *Mocks) logicalMock(e optable.Entry) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		left := call.Argument(0)
		raw := m.tainter.Unwrap(left)

		var takeLeft bool
		switch e.Symbol {
		case "&&":
			takeLeft = !raw.ToBoolean()
		case "||":
			takeLeft = raw.ToBoolean()
		case "??":
			takeLeft = !goja.IsUndefined(raw) && !goja.IsNull(raw)
		}
		if takeLeft {
			return left
		}

		right := call.Argument(1)
		thunk, ok := goja.AssertFunction(right)
		if !ok {
			return right
		}
		return m.invoke(thunk, goja.Undefined())
	}
}

// getMock reads through the proxy when the receiver is tainted, so the usual member
// label composition applies. Null receivers raise the engine's own TypeError.
func (m *Mocks) getMock(call goja.FunctionCall) goja.Value {
	return m.invoke(m.getProp, goja.Undefined(), call.Argument(0), m.tainter.Unwrap(call.Argument(1)))
}

// callMethodMock performs recv[key](...args) with the receiver binding preserved. The
// result is tainted whenever the receiver is.
func (m *Mocks) callMethodMock(call goja.FunctionCall) goja.Value {
	recv := call.Argument(0)
	key := m.tainter.Unwrap(call.Argument(1))
	if goja.IsUndefined(recv) || goja.IsNull(recv) {
		panic(m.vm.NewTypeError("Cannot read properties of %s (reading '%s')", recv.String(), m.safeString(key)))
	}

	holder, this := recv, recv
	tv, wrapped := m.tainter.Lookup(recv)
	if wrapped {
		holder = tv.Target
		if tv.Kind.Primitive() {
			this = tv.Raw
		}
	}

	method := m.invoke(m.getProp, goja.Undefined(), holder, key)
	fn, ok := goja.AssertFunction(method)
	if !ok {
		panic(m.vm.NewTypeError("%s is not a function", m.safeString(key)))
	}

	var args []goja.Value
	if len(call.Arguments) > 2 {
		args = call.Arguments[2:]
	}
	if m.native(method) {
		args = m.unwrapPrimitives(args)
	}

	res := m.invoke(fn, this, args...)
	label, ok := m.tainter.LabelOf(recv)
	if !ok {
		return res
	}
	return m.tainter.Wrap(res, label+".apply()")
}

func (m *Mocks) native(v goja.Value) bool {
	obj, ok := v.(*goja.Object)
	if !ok {
		return false
	}
	if known, ok := m.nativeFns[obj]; ok {
		return known
	}
	isNative := m.invoke(m.isNative, goja.Undefined(), obj).ToBoolean()
	m.nativeFns[obj] = isNative
	return isNative
}

// unwrapPrimitives replaces boxed tainted primitives with their payload. Tainted
// objects stay proxied so containers keep them.
func (m *Mocks) unwrapPrimitives(args []goja.Value) []goja.Value {
	var out []goja.Value
	for i, a := range args {
		tv, ok := m.tainter.Lookup(a)
		if !ok || !tv.Kind.Primitive() {
			continue
		}
		if out == nil {
			out = make([]goja.Value, len(args))
			copy(out, args)
		}
		out[i] = tv.Raw
	}
	if out == nil {
		return args
	}
	return out
}
