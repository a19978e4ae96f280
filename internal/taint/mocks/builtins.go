package mocks

import (
	"fmt"
	"strings"

	"github.com/dop251/goja"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/domtaint/internal/taint/optable"
	"github.com/xkilldash9x/domtaint/internal/taint/rewriter"
	"github.com/xkilldash9x/domtaint/internal/taint/tainter"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func quoteJS(s string) string {
	out, err := json.MarshalToString(s)
	if err != nil {
		panic(err)
	}
	return out
}

// evalMock rewrites the code handed to a direct eval. The call site keeps calling the
// real eval with the returned text, so the code still runs in the caller's scope.
func (m *Mocks) evalMock(call goja.FunctionCall) goja.Value {
	arg := call.Argument(0)
	raw := m.tainter.Unwrap(arg)
	if tainter.KindOf(raw) != tainter.KindString {
		return arg
	}

	rewritten, err := m.rewriter.Rewrite(raw.String())
	if err != nil {
		m.logger.Debug("eval input not rewritten.", zap.Error(err))
		// Let eval raise the SyntaxError itself.
		return raw
	}

	label, tainted := m.tainter.LabelOf(arg)
	if !tainted {
		return m.vm.ToValue(rewriter.Mark(rewritten))
	}
	wrapped := fmt.Sprintf("%s(%s, eval(%s))",
		optable.EvalResultMock, quoteJS(label), quoteJS(rewriter.Mark(rewritten)))
	return m.vm.ToValue(rewriter.Mark(wrapped))
}

// evalResultMock taints the completion value of evaluated tainted code.
func (m *Mocks) evalResultMock(call goja.FunctionCall) goja.Value {
	return m.tainter.Wrap(call.Argument(1), "eval("+call.Argument(0).String()+")")
}

// functionMock builds functions from source through the rewriting pipeline. The
// callee argument is the value the call site named Function, which may be shadowed.
func (m *Mocks) functionMock(call goja.FunctionCall) goja.Value {
	callee := call.Argument(0)
	args := call.Arguments
	if len(args) > 0 {
		args = args[1:]
	}

	genuine, ok := m.natives["Function"]
	if !ok || !callee.StrictEquals(genuine) {
		return m.plainCall(callee, args)
	}

	raw := m.unwrapAll(args)
	var params []string
	body := ""
	if n := len(raw); n > 0 {
		for _, p := range raw[:n-1] {
			params = append(params, p.String())
		}
		body = raw[n-1].String()
	}
	src := fmt.Sprintf("(function anonymous(%s\n) {\n%s\n})", strings.Join(params, ","), body)

	fn, err := m.buildFunction(src)
	if err != nil {
		m.logger.Debug("Function body not rewritten, using the built-in constructor.", zap.Error(err))
		return m.plainCall(genuine, raw)
	}
	if labels := m.taintedLabels(args); len(labels) > 0 {
		return m.tainter.Wrap(fn, namedLabel("Function", labels))
	}
	return fn
}

func (m *Mocks) buildFunction(src string) (goja.Value, error) {
	rewritten, err := m.rewriter.Rewrite(src)
	if err != nil {
		return nil, err
	}
	return m.vm.RunString(rewriter.Mark(rewritten))
}

// conversionMock covers the global conversion built-ins: arguments are unwrapped and
// the result is tainted with the labels of the tainted arguments. Boolean is the
// exception; its result stays raw so it can be branched on.
func (m *Mocks) conversionMock(e optable.Entry) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		callee := call.Argument(0)
		args := call.Arguments
		if len(args) > 0 {
			args = args[1:]
		}

		genuine, ok := m.natives[e.Symbol]
		if !ok || !callee.StrictEquals(genuine) {
			return m.plainCall(callee, args)
		}
		res := m.plainCall(genuine, m.unwrapAll(args))
		if e.Symbol == "Boolean" {
			return res
		}
		if labels := m.taintedLabels(args); len(labels) > 0 {
			return m.tainter.Wrap(res, namedLabel(e.Symbol, labels))
		}
		return res
	}
}

func (m *Mocks) plainCall(callee goja.Value, args []goja.Value) goja.Value {
	fn, ok := goja.AssertFunction(callee)
	if !ok {
		panic(m.vm.NewTypeError("%s is not a function", m.safeString(callee)))
	}
	return m.invoke(fn, goja.Undefined(), args...)
}
