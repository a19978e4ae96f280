package jsexec

import (
	"crypto/sha256"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/xkilldash9x/domtaint/internal/taint/mocks"
	"github.com/xkilldash9x/domtaint/internal/taint/rewriter"
	"github.com/xkilldash9x/domtaint/internal/taint/tracker"
)

// globalFrame is a script body about to run in the global scope.
type globalFrame struct {
	host *Host
	vm   *goja.Runtime
	name string
	src  string
	kind tracker.FrameKind
}

func (f *globalFrame) Source() string          { return f.src }
func (f *globalFrame) Kind() tracker.FrameKind { return f.kind }
func (f *globalFrame) IsMock() bool            { return false }

// Evaluate runs text in place of the script body. Functions declared in instrumented
// text are reported as already instrumented when they are called later on.
func (f *globalFrame) Evaluate(text string) (goja.Value, error) {
	if rewriter.IsMarked(text) {
		f.host.rememberFunctions(f.name, text)
	}
	return f.vm.RunScript(f.name, text)
}

// rememberFunctions records a digest of the source of every function in text.
func (h *Host) rememberFunctions(name, text string) {
	sources, err := rewriter.FunctionSources(text)
	if err != nil {
		h.logger.Debug("Could not index functions of instrumented script.", zap.String("script", name), zap.Error(err))
		return
	}
	for _, src := range sources {
		h.instrumentedSrc[sha256.Sum256([]byte(src))] = struct{}{}
	}
}

// callFrame is a function about to be called by the host.
type callFrame struct {
	host   *Host
	callee *goja.Object
	this   goja.Value
	args   []goja.Value
	name   string
	source string
	mock   bool
}

func (h *Host) callFrame(callee *goja.Object, this goja.Value, args []goja.Value) *callFrame {
	f := &callFrame{
		host:   h,
		callee: callee,
		this:   this,
		args:   args,
		mock:   mocks.IsMock(callee),
	}
	if name := callee.Get("name"); name != nil {
		f.name = name.String()
	}
	f.source = safeString(callee)
	if h.isInstrumented(callee, f.source) {
		f.source = rewriter.Mark(f.source)
	}
	return f
}

func (f *callFrame) Source() string          { return f.source }
func (f *callFrame) Kind() tracker.FrameKind { return tracker.FrameCall }
func (f *callFrame) IsMock() bool            { return f.mock }

// Evaluate compiles text as a function expression and calls it in place of the callee.
// Only top-level function declarations still bound to their global name qualify: their
// scope is the global scope, so the rewritten function closes over the same bindings.
// The global binding is repointed to the rewritten function so direct calls use it too.
func (f *callFrame) Evaluate(text string) (goja.Value, error) {
	h := f.host
	if !f.replaceable() {
		return nil, tracker.ErrScopeUnavailable
	}

	v, err := h.vm.RunString("(" + text + "\n)")
	if err != nil {
		return nil, err
	}
	fn, ok := v.(*goja.Object)
	if !ok {
		return nil, tracker.ErrScopeUnavailable
	}
	call, ok := goja.AssertFunction(fn)
	if !ok {
		return nil, tracker.ErrScopeUnavailable
	}

	h.replaced[f.callee] = fn
	h.instrumented[fn] = struct{}{}
	if err := h.vm.GlobalObject().Set(f.name, fn); err != nil {
		return nil, err
	}
	return call(f.this, f.args...)
}

func (f *callFrame) replaceable() bool {
	if f.name == "" {
		return false
	}
	if _, ok := f.host.topLevel[f.name]; !ok {
		return false
	}
	bound := f.host.vm.GlobalObject().Get(f.name)
	return bound != nil && bound.StrictEquals(f.callee)
}

// isInstrumented reports whether callee already runs rewritten code: either the host
// compiled it from rewritten text or its source is exactly a function of a rewritten
// script.
func (h *Host) isInstrumented(callee *goja.Object, src string) bool {
	if _, ok := h.instrumented[callee]; ok {
		return true
	}
	if src == "" {
		return false
	}
	_, ok := h.instrumentedSrc[sha256.Sum256([]byte(src))]
	return ok
}

func safeString(v goja.Value) (s string) {
	defer func() {
		if r := recover(); r != nil {
			s = ""
		}
	}()
	return v.String()
}
