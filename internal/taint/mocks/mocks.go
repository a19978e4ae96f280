// File: internal/taint/mocks/mocks.go
// Package mocks installs the global functions that rewritten code calls in place of
// the original operators. Each mock applies the real operator to the raw payloads of
// its operands and re-wraps the result when taint must flow into it.
package mocks

import (
	"fmt"
	"strings"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/xkilldash9x/domtaint/internal/taint/optable"
	"github.com/xkilldash9x/domtaint/internal/taint/rewriter"
	"github.com/xkilldash9x/domtaint/internal/taint/tainter"
)

// Mocks owns the installed mock functions of one runtime. Like the Tainter it must
// only be used from the goroutine that owns the runtime.
type Mocks struct {
	vm       *goja.Runtime
	tainter  *tainter.Tainter
	rewriter *rewriter.Rewriter
	logger   *zap.Logger

	ops      map[string]goja.Callable
	getProp  goja.Callable
	postfix  goja.Callable
	isNative goja.Callable

	// natives holds the genuine global built-ins captured at install time.
	natives    map[string]goja.Value
	nativeFns  map[*goja.Object]bool
	installed  bool
	installErr error
}

// New prepares the mock layer. Nothing is visible to scripts until Install is called.
func New(vm *goja.Runtime, t *tainter.Tainter, rw *rewriter.Rewriter, logger *zap.Logger) *Mocks {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mocks{
		vm:        vm,
		tainter:   t,
		rewriter:  rw,
		logger:    logger.Named("mocks"),
		ops:       make(map[string]goja.Callable),
		natives:   make(map[string]goja.Value),
		nativeFns: make(map[*goja.Object]bool),
	}
}

// Install defines every mock as a non-enumerable global and patches the array search
// methods and JSON.stringify. It must run after any host globals (atob, btoa) are in
// place so their genuine versions are captured. Calling it again is a no-op.
func (m *Mocks) Install() error {
	if m.installed {
		return m.installErr
	}
	m.installed = true
	m.installErr = m.install()
	if m.installErr == nil {
		m.logger.Debug("Mock functions installed.", zap.Int("count", len(optable.MockNames())))
	}
	return m.installErr
}

func (m *Mocks) install() error {
	for _, e := range optable.ByClass(optable.Named) {
		if v := m.vm.GlobalObject().Get(e.Symbol); v != nil && !goja.IsUndefined(v) {
			m.natives[e.Symbol] = v
		}
	}

	var err error
	if m.getProp, err = m.compile(`(function (o, k) { return o[k]; })`); err != nil {
		return err
	}
	if m.postfix, err = m.compile(`(function (a) { return a++; })`); err != nil {
		return err
	}
	if m.isNative, err = m.compile(`(function (f) {
		return /\{\s*\[native code\]\s*\}\s*$/.test(Function.prototype.toString.call(f));
	})`); err != nil {
		return err
	}
	if err := m.compileOperators(); err != nil {
		return err
	}

	for _, e := range optable.Entries() {
		fn, err := m.mockFor(e)
		if err != nil {
			return err
		}
		if err := m.define(e.Mock, fn); err != nil {
			return err
		}
	}

	extras := map[string]func(goja.FunctionCall) goja.Value{
		optable.PrefixMock:     m.prefixMock,
		optable.PostfixMock:    m.postfixMock,
		optable.EvalResultMock: m.evalResultMock,
	}
	for name, fn := range extras {
		if err := m.define(name, fn); err != nil {
			return err
		}
	}

	if err := m.defineHelpers(); err != nil {
		return err
	}
	if err := m.patchArrayPrototype(); err != nil {
		return err
	}
	return m.patchJSON()
}

// mockFor selects the implementation of one table entry.
func (m *Mocks) mockFor(e optable.Entry) (func(goja.FunctionCall) goja.Value, error) {
	switch e.Class {
	case optable.Named:
		switch e.Symbol {
		case "eval":
			return m.evalMock, nil
		case "Function":
			return m.functionMock, nil
		}
		return m.conversionMock(e), nil
	case optable.MemberCall:
		return m.callMethodMock, nil
	case optable.MemberGet:
		return m.getMock, nil
	case optable.Test:
		if e.Symbol == "switch" {
			return m.unwrapMock, nil
		}
		return m.truthyMock, nil
	case optable.Logical:
		return m.logicalMock(e), nil
	case optable.Equality:
		return m.equalityMock(e), nil
	case optable.Binary:
		return m.binaryMock(e), nil
	case optable.Unary:
		return m.unaryMock(e), nil
	case optable.Update:
		return m.updateMock(e), nil
	}
	return nil, &optable.UnknownOperatorError{Class: e.Class, Symbol: e.Symbol}
}

func (m *Mocks) define(name string, fn func(goja.FunctionCall) goja.Value) error {
	f := m.vm.ToValue(fn).(*goja.Object)
	if err := f.DefineDataProperty(optable.MockFlag, m.vm.ToValue(true), goja.FLAG_FALSE, goja.FLAG_FALSE, goja.FLAG_FALSE); err != nil {
		return fmt.Errorf("failed to flag mock %s: %w", name, err)
	}
	if err := m.vm.GlobalObject().DefineDataProperty(name, f, goja.FLAG_TRUE, goja.FLAG_TRUE, goja.FLAG_FALSE); err != nil {
		return fmt.Errorf("failed to define mock %s: %w", name, err)
	}
	return nil
}

func (m *Mocks) defineHelpers() error {
	taint := func(call goja.FunctionCall) goja.Value {
		return m.tainter.Wrap(call.Argument(0), call.Argument(1).String())
	}
	allLabels := func(goja.FunctionCall) goja.Value {
		labels := m.tainter.Registry().AllLabels()
		items := make([]interface{}, len(labels))
		for i, l := range labels {
			items[i] = l
		}
		return m.vm.NewArray(items...)
	}
	if err := m.define(optable.TaintHelper, taint); err != nil {
		return err
	}
	return m.define(optable.LabelsHelper, allLabels)
}

func (m *Mocks) compile(src string) (goja.Callable, error) {
	v, err := m.vm.RunString(src)
	if err != nil {
		return nil, fmt.Errorf("failed to compile helper: %w", err)
	}
	fn, ok := goja.AssertFunction(v)
	if !ok {
		return nil, fmt.Errorf("helper did not evaluate to a function")
	}
	return fn, nil
}

// invoke calls fn and rethrows any JavaScript exception into the calling script.
func (m *Mocks) invoke(fn goja.Callable, this goja.Value, args ...goja.Value) goja.Value {
	res, err := fn(this, args...)
	if err != nil {
		panic(err)
	}
	return res
}

// describe renders an operand for a composed label.
func (m *Mocks) describe(v goja.Value) string {
	if label, ok := m.tainter.LabelOf(v); ok {
		return label
	}
	return "value(" + m.safeString(m.tainter.Unwrap(v)) + ")"
}

func (m *Mocks) safeString(v goja.Value) (s string) {
	defer func() {
		if r := recover(); r != nil {
			s = "?"
		}
	}()
	if v == nil {
		return "undefined"
	}
	return v.String()
}

// taintedLabels returns the labels of the tainted values among args.
func (m *Mocks) taintedLabels(args []goja.Value) []string {
	var out []string
	for _, a := range args {
		if label, ok := m.tainter.LabelOf(a); ok {
			out = append(out, label)
		}
	}
	return out
}

func (m *Mocks) unwrapAll(args []goja.Value) []goja.Value {
	out := make([]goja.Value, len(args))
	for i, a := range args {
		out[i] = m.tainter.Unwrap(a)
	}
	return out
}

func namedLabel(name string, labels []string) string {
	return name + "(" + strings.Join(labels, ",") + ")"
}

// IsMock reports whether v is a function carrying the mock flag.
func IsMock(v goja.Value) bool {
	obj, ok := v.(*goja.Object)
	if !ok {
		return false
	}
	flag := obj.Get(optable.MockFlag)
	return flag != nil && flag.ToBoolean()
}
