// internal/browser/jsexec/host.go
package jsexec

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/eventloop"
	"go.uber.org/zap"

	"github.com/xkilldash9x/domtaint/internal/browser/jsbind"
	"github.com/xkilldash9x/domtaint/internal/taint/rewriter"
	"github.com/xkilldash9x/domtaint/internal/taint/tracker"
)

// DefaultTimeout is the fallback execution timeout if the context has no deadline.
const DefaultTimeout = 30 * time.Second

// minInterval keeps a zero-delay setInterval from spinning the loop.
const minInterval = time.Millisecond

// ErrStopped is returned for work submitted after Stop.
var ErrStopped = errors.New("javascript host is stopped")

// FrameListener is consulted before the host runs any frame.
type FrameListener interface {
	OnEnterFrame(f tracker.Frame) tracker.FrameDecision
}

// Options tune a Host.
type Options struct {
	// ScriptTimeout bounds every top-level script and every timer or listener callback.
	ScriptTimeout time.Duration
}

type timer struct {
	fn       goja.Value
	args     []goja.Value
	repeat   bool
	timeout  *eventloop.Timer
	interval *eventloop.Interval
}

// Host owns one goja runtime, the event loop driving it and the DOM bridge installed in
// it. Every frame it runs (script bodies, timer callbacks, event listeners, string
// timers) is offered to the FrameListener first.
//
// All VM state is touched only from the loop goroutine. Public methods are safe to call
// from other goroutines and must not be called from inside a callback.
type Host struct {
	loop          *eventloop.EventLoop
	vm            *goja.Runtime
	bridge        *jsbind.DOMBridge
	logger        *zap.Logger
	scriptTimeout time.Duration

	listener FrameListener

	// Loop-owned state.
	topLevel        map[string]struct{}
	replaced        map[*goja.Object]*goja.Object
	instrumented    map[*goja.Object]struct{}
	instrumentedSrc map[[sha256.Size]byte]struct{}
	timers          map[int64]*timer
	nextTimer       int64

	pending  atomic.Int64
	stopped  atomic.Bool
	stopOnce sync.Once

	errMu sync.Mutex
	errs  []error
}

// New starts an event loop and installs the DOM bridge into its runtime.
func New(logger *zap.Logger, opts Options) (*Host, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ScriptTimeout <= 0 {
		opts.ScriptTimeout = DefaultTimeout
	}

	h := &Host{
		loop:            eventloop.NewEventLoop(eventloop.EnableConsole(false)),
		logger:          logger.Named("jsexec"),
		scriptTimeout:   opts.ScriptTimeout,
		topLevel:        make(map[string]struct{}),
		replaced:        make(map[*goja.Object]*goja.Object),
		instrumented:    make(map[*goja.Object]struct{}),
		instrumentedSrc: make(map[[sha256.Size]byte]struct{}),
		timers:          make(map[int64]*timer),
	}
	h.loop.Start()

	err := h.Do(context.Background(), func(vm *goja.Runtime) error {
		h.vm = vm
		// The bridge replaces the loop's own timer globals with ones routed through Schedule.
		h.bridge = jsbind.NewDOMBridge(vm, h.logger, h)
		return nil
	})
	if err != nil {
		h.Stop()
		return nil, fmt.Errorf("failed to initialize javascript host: %w", err)
	}
	return h, nil
}

// Bridge returns the DOM bridge installed in the runtime.
func (h *Host) Bridge() *jsbind.DOMBridge {
	return h.bridge
}

// SetFrameListener installs the frame listener. Call it before running any script.
func (h *Host) SetFrameListener(l FrameListener) {
	h.listener = l
}

// Errors returns the uncaught exceptions raised by scripts and callbacks so far.
func (h *Host) Errors() []error {
	h.errMu.Lock()
	defer h.errMu.Unlock()
	out := make([]error, len(h.errs))
	copy(out, h.errs)
	return out
}

func (h *Host) recordError(err error) {
	h.errMu.Lock()
	h.errs = append(h.errs, err)
	h.errMu.Unlock()
}

// Do runs fn on the loop goroutine and waits for it. Cancelling ctx interrupts the
// running script.
func (h *Host) Do(ctx context.Context, fn func(vm *goja.Runtime) error) error {
	if h.stopped.Load() {
		return ErrStopped
	}
	done := make(chan error, 1)
	queued := h.loop.RunOnLoop(func(vm *goja.Runtime) {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic on javascript loop: %v", r)
			}
		}()
		if err := ctx.Err(); err != nil {
			done <- err
			return
		}
		vm.ClearInterrupt()
		done <- fn(vm)
	})
	if !queued {
		return ErrStopped
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if h.vm != nil {
			h.vm.Interrupt(ctx.Err())
		}
		return <-done
	}
}

// RunScript runs one top-level script as a monitored global frame.
func (h *Host) RunScript(ctx context.Context, name, src string) error {
	ctx, cancel := context.WithTimeout(ctx, h.scriptTimeout)
	defer cancel()

	err := h.Do(ctx, func(vm *goja.Runtime) error {
		return h.runGlobal(vm, name, src, tracker.FrameGlobal)
	})
	if err != nil {
		h.recordError(err)
	}
	return err
}

func (h *Host) runGlobal(vm *goja.Runtime, name, src string, kind tracker.FrameKind) error {
	names, perr := rewriter.TopLevelFunctions(src)
	if perr != nil {
		h.logger.Debug("Could not list top-level functions.", zap.String("script", name), zap.Error(perr))
	}

	f := &globalFrame{host: h, vm: vm, name: name, src: src, kind: kind}
	var err error
	if d := h.enter(f); d.IsReplace() {
		_, err = f.Evaluate(d.Source())
	} else {
		_, err = vm.RunScript(name, src)
	}
	for _, n := range names {
		h.topLevel[n] = struct{}{}
	}
	return classify(name, err)
}

func (h *Host) enter(f tracker.Frame) tracker.FrameDecision {
	if h.listener == nil {
		return tracker.Continue()
	}
	return h.listener.OnEnterFrame(f)
}

// Invoke runs a host-dispatched callback as a monitored call frame. It implements
// jsbind.BrowserEnvironment.
func (h *Host) Invoke(fn goja.Value, this goja.Value, args ...goja.Value) (goja.Value, error) {
	callee, ok := fn.(*goja.Object)
	if !ok {
		return nil, errors.New("callback is not a function")
	}
	if repl, ok := h.replaced[callee]; ok {
		callee = repl
	}
	callable, ok := goja.AssertFunction(callee)
	if !ok {
		return nil, errors.New("callback is not a function")
	}

	f := h.callFrame(callee, this, args)
	if d := h.enter(f); d.IsReplace() {
		res, err := f.Evaluate(d.Source())
		if !errors.Is(err, tracker.ErrScopeUnavailable) {
			return res, err
		}
		h.logger.Debug("Callback scope unavailable, running original.", zap.String("callee", f.name))
	}
	return callable(this, args...)
}

// Schedule implements jsbind.BrowserEnvironment on top of the event loop's timers.
// A string callback runs as an eval frame in the global scope.
func (h *Host) Schedule(fn goja.Value, args []goja.Value, delay time.Duration, repeat bool) int64 {
	h.nextTimer++
	id := h.nextTimer
	t := &timer{fn: fn, args: args, repeat: repeat}
	fire := func(*goja.Runtime) { h.fire(id) }

	if repeat {
		if delay < minInterval {
			delay = minInterval
		}
		t.interval = h.loop.SetInterval(fire, delay)
	} else {
		h.pending.Add(1)
		t.timeout = h.loop.SetTimeout(fire, delay)
	}
	h.timers[id] = t
	return id
}

// Cancel clears a timer created by Schedule. Unknown ids are ignored.
func (h *Host) Cancel(id int64) {
	t, ok := h.timers[id]
	if !ok {
		return
	}
	delete(h.timers, id)
	if t.repeat {
		h.loop.ClearInterval(t.interval)
		return
	}
	h.loop.ClearTimeout(t.timeout)
	h.pending.Add(-1)
}

func (h *Host) fire(id int64) {
	t, ok := h.timers[id]
	if !ok {
		return
	}
	if !t.repeat {
		delete(h.timers, id)
		defer h.pending.Add(-1)
	}

	h.vm.ClearInterrupt()
	watchdog := time.AfterFunc(h.scriptTimeout, func() {
		h.vm.Interrupt("callback exceeded script timeout")
	})
	defer watchdog.Stop()

	var err error
	if code, isCode := t.fn.Export().(string); isCode {
		err = h.runGlobal(h.vm, fmt.Sprintf("timer-%d", id), code, tracker.FrameEval)
	} else {
		_, err = h.Invoke(t.fn, goja.Undefined(), t.args...)
		err = classify(fmt.Sprintf("timer-%d", id), err)
	}
	if err != nil {
		h.logger.Warn("Timer callback failed.", zap.Int64("timer", id), zap.Error(err))
		h.recordError(err)
	}
}

// Settle waits until no one-shot timer is pending, max elapses or ctx is done.
// Intervals never count as pending.
func (h *Host) Settle(ctx context.Context, max time.Duration) {
	deadline := time.NewTimer(max)
	defer deadline.Stop()
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()

	for h.pending.Load() > 0 {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			h.logger.Debug("Settle time elapsed with timers pending.", zap.Int64("pending", h.pending.Load()))
			return
		case <-tick.C:
		}
	}
}

// Pending reports the number of one-shot timers that have not fired yet.
func (h *Host) Pending() int64 {
	return h.pending.Load()
}

// Stop terminates the loop. Pending timers are discarded.
func (h *Host) Stop() {
	h.stopOnce.Do(func() {
		h.stopped.Store(true)
		h.loop.Terminate()
	})
}

// Eval runs expr in the global scope without offering it to the listener. It
// implements tracker.Environment and must be called on the loop.
func (h *Host) Eval(expr string) (goja.Value, error) {
	return h.vm.RunString(expr)
}

// Bind defines a global variable.
func (h *Host) Bind(name string, v goja.Value) error {
	return h.vm.Set(name, v)
}

// Substitute forwards to the bridge so DOM lookups return replacement.
func (h *Host) Substitute(original, replacement goja.Value) {
	if !h.bridge.Substitute(original, replacement) {
		h.logger.Debug("Substitution target is not a DOM node.")
	}
}

// ExecuteScript runs a snippet outside the monitoring path and exports its result.
// A function wrapper is called with args. A returned Promise is awaited.
func (h *Host) ExecuteScript(ctx context.Context, script string, args []interface{}) (interface{}, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.scriptTimeout)
		defer cancel()
	}

	var (
		result   interface{}
		settled  = make(chan struct{})
		promised bool
		perr     error
	)
	err := h.Do(ctx, func(vm *goja.Runtime) error {
		var v goja.Value
		var err error
		if isFunctionWrapper(script) {
			v, err = h.executeFunctionWrapper(vm, script, args)
		} else {
			if len(args) > 0 {
				h.logger.Debug("Arguments provided to ExecuteScript in snippet mode are ignored.")
			}
			v, err = vm.RunString(script)
		}
		if err != nil {
			return classify("snippet", err)
		}

		promise, ok := v.Export().(*goja.Promise)
		if !ok {
			result = v.Export()
			return nil
		}
		switch promise.State() {
		case goja.PromiseStateFulfilled:
			result = promise.Result().Export()
		case goja.PromiseStateRejected:
			return fmt.Errorf("javascript promise rejected: %v", promise.Result().Export())
		default:
			promised = true
			then, _ := goja.AssertFunction(v.(*goja.Object).Get("then"))
			onFulfilled := func(v goja.Value) { result = v.Export(); close(settled) }
			onRejected := func(v goja.Value) {
				perr = fmt.Errorf("javascript promise rejected: %v", v.Export())
				close(settled)
			}
			if _, err := then(v, vm.ToValue(onFulfilled), vm.ToValue(onRejected)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil || !promised {
		return result, err
	}

	select {
	case <-settled:
		return result, perr
	case <-ctx.Done():
		return nil, fmt.Errorf("context done while waiting for promise: %w", ctx.Err())
	}
}

func isFunctionWrapper(script string) bool {
	s := strings.TrimSpace(script)
	return strings.HasPrefix(s, "(function") || strings.HasPrefix(s, "(async function") ||
		strings.HasPrefix(s, "(()=>") || strings.HasPrefix(s, "(() =>") || strings.HasPrefix(s, "(async (")
}

func (h *Host) executeFunctionWrapper(vm *goja.Runtime, script string, args []interface{}) (goja.Value, error) {
	val, err := vm.RunString(script)
	if err != nil {
		return nil, err
	}
	fn, ok := goja.AssertFunction(val)
	if !ok {
		return nil, errors.New("script did not evaluate to a callable function wrapper")
	}
	gojaArgs := make([]goja.Value, len(args))
	for i, arg := range args {
		gojaArgs[i] = vm.ToValue(arg)
	}
	return fn(vm.GlobalObject(), gojaArgs...)
}

// classify wraps a goja error with the script it came from.
func classify(name string, err error) error {
	if err == nil {
		return nil
	}
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return fmt.Errorf("%s: javascript execution interrupted: %w", name, err)
	}
	var exc *goja.Exception
	if errors.As(err, &exc) {
		return &ScriptError{Script: name, Message: exc.Error(), err: exc}
	}
	return fmt.Errorf("%s: javascript error: %w", name, err)
}

// ScriptError is an uncaught exception raised by page code.
type ScriptError struct {
	Script  string
	Message string
	err     error
}

func (e *ScriptError) Error() string {
	return fmt.Sprintf("uncaught exception in %s: %s", e.Script, e.Message)
}

func (e *ScriptError) Unwrap() error { return e.err }
