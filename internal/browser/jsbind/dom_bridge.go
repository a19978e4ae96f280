// internal/browser/jsbind/dom_bridge.go
package jsbind

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/antchfx/htmlquery"
	"github.com/dop251/goja"
	"go.uber.org/zap"
	"golang.org/x/net/html"
)

// DOMBridge manages the connection between the Goja runtime and the Go DOM representation.
// Apart from UpdateDOM and the read-only queries, it must be used from the goroutine
// that owns the runtime.
type DOMBridge struct {
	vm     *goja.Runtime
	logger *zap.Logger
	env    BrowserEnvironment
	unwrap ValueUnwrapper

	// mu guards the tree itself.
	mu   sync.RWMutex
	root *html.Node

	// idMu guards the identity maps. It is never held while calling into scripts.
	idMu      sync.Mutex
	elements  map[*html.Node]*Element
	objects   map[*goja.Object]*Element
	overrides map[*html.Node]goja.Value

	listeners *listenerRegistry

	window   *Window
	document *Document
}

// NewDOMBridge installs window, document, console and the timer functions in vm.
// A nil env invokes callbacks directly and refuses to schedule timers.
func NewDOMBridge(vm *goja.Runtime, logger *zap.Logger, env BrowserEnvironment) *DOMBridge {
	if logger == nil {
		logger = zap.NewNop()
	}

	bridge := &DOMBridge{
		vm:        vm,
		logger:    logger.Named("dom_bridge"),
		env:       env,
		elements:  make(map[*html.Node]*Element),
		objects:   make(map[*goja.Object]*Element),
		overrides: make(map[*html.Node]goja.Value),
		listeners: newListenerRegistry(),
	}
	if bridge.env == nil {
		bridge.env = &directEnvironment{logger: bridge.logger}
	}

	bridge.document = newDocument(bridge)
	bridge.window = newWindow(bridge)
	bridge.initializeRuntime()

	return bridge
}

// initializeRuntime exposes the core objects. The global object doubles as window so
// globals defined by scripts are visible as window properties and vice versa.
func (b *DOMBridge) initializeRuntime() {
	global := b.vm.GlobalObject()
	for _, name := range []string{"window", "self", "top", "parent", "frames"} {
		if err := global.Set(name, b.window.Object); err != nil {
			b.logger.Error("Failed to set window alias", zap.String("name", name), zap.Error(err))
		}
	}
	if err := global.Set("document", b.document.Object); err != nil {
		b.logger.Error("Failed to set 'document' global", zap.Error(err))
	}

	b.initConsole()
	b.initTimers()
	b.initEventConstructor()
}

// SetValueUnwrapper installs the hook used to resolve node arguments that arrive wrapped.
func (b *DOMBridge) SetValueUnwrapper(fn ValueUnwrapper) {
	b.unwrap = fn
}

// UpdateDOM sets the current DOM root used by the bridge. Wrappers for nodes of the
// previous tree are dropped.
func (b *DOMBridge) UpdateDOM(root *html.Node) {
	b.mu.Lock()
	b.root = root
	b.mu.Unlock()

	b.idMu.Lock()
	b.elements = make(map[*html.Node]*Element)
	b.objects = make(map[*goja.Object]*Element)
	b.overrides = make(map[*html.Node]goja.Value)
	b.idMu.Unlock()
}

// LoadHTML parses markup and makes it the current document.
func (b *DOMBridge) LoadHTML(markup string) error {
	root, err := htmlquery.Parse(strings.NewReader(markup))
	if err != nil {
		return fmt.Errorf("failed to parse document: %w", err)
	}
	b.UpdateDOM(root)
	return nil
}

// Root returns the current document node.
func (b *DOMBridge) Root() *html.Node {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.root
}

// Document returns the script-visible document object.
func (b *DOMBridge) Document() *goja.Object { return b.document.Object }

// Window returns the script-visible window object.
func (b *DOMBridge) Window() *goja.Object { return b.window.Object }

// SetLocation points window.location and document.URL at rawURL.
func (b *DOMBridge) SetLocation(rawURL string) error {
	return b.window.location.set(rawURL)
}

// SetReadyState updates document.readyState.
func (b *DOMBridge) SetReadyState(state string) {
	b.document.readyState = state
}

// ListenerCount returns the number of registered event listeners.
func (b *DOMBridge) ListenerCount() int {
	return b.listeners.count()
}

// Substitute makes every DOM API that would return original's node return replacement
// instead. It reports false when original is not a node created by this bridge.
func (b *DOMBridge) Substitute(original, replacement goja.Value) bool {
	el, err := b.unwrapElement(original)
	if err != nil {
		return false
	}
	b.idMu.Lock()
	defer b.idMu.Unlock()
	b.overrides[el.Node] = replacement
	if obj, ok := replacement.(*goja.Object); ok {
		b.objects[obj] = el
	}
	return true
}

// QueryOne returns the script-visible value of the first node matching selector.
func (b *DOMBridge) QueryOne(selector string) (goja.Value, error) {
	xpath, err := translateCSSToXPath(selector, false)
	if err != nil {
		return nil, err
	}

	b.mu.RLock()
	root := b.root
	var node *html.Node
	if root != nil {
		node, err = htmlquery.Query(root, xpath)
	}
	b.mu.RUnlock()

	if err != nil {
		return nil, &SelectorError{Selector: selector, Reason: err.Error()}
	}
	if node == nil {
		return nil, NewElementNotFoundError(selector)
	}
	return b.WrapNode(node), nil
}

// FireEvent dispatches a bubbling event of the given type at the first node matching
// selector. It reports whether no listener cancelled the event.
func (b *DOMBridge) FireEvent(selector, eventType string) (bool, error) {
	target, err := b.QueryOne(selector)
	if err != nil {
		return false, err
	}
	el, err := b.unwrapElement(target)
	if err != nil {
		return false, err
	}
	event := b.newEvent(eventType, true)
	return b.dispatch(b.pathFor(el.Node), event), nil
}

// DispatchDocumentEvent fires eventType at the document and lets it bubble to window.
func (b *DOMBridge) DispatchDocumentEvent(eventType string) bool {
	return b.dispatch(b.pathFor(nil), b.newEvent(eventType, true))
}

// DispatchWindowEvent fires eventType at the window only.
func (b *DOMBridge) DispatchWindowEvent(eventType string) bool {
	path := []eventTarget{{key: b.window, this: b.window.Object}}
	return b.dispatch(path, b.newEvent(eventType, false))
}

// WrapNodeList converts a slice of *html.Node into a JS Array (NodeList equivalent).
func (b *DOMBridge) WrapNodeList(nodes []*html.Node) goja.Value {
	wrapped := make([]interface{}, len(nodes))
	for i, node := range nodes {
		wrapped[i] = b.WrapNode(node)
	}
	return b.vm.NewArray(wrapped...)
}

// WrapNode returns the script-visible value for node. The same node always yields the
// same object unless it was substituted.
func (b *DOMBridge) WrapNode(node *html.Node) goja.Value {
	if node == nil {
		return goja.Null()
	}
	if node.Type == html.DocumentNode {
		return b.document.Object
	}

	b.idMu.Lock()
	v, ok := b.overrides[node]
	b.idMu.Unlock()
	if ok {
		return v
	}
	return b.elementFor(node).Object
}

var errNotANode = errors.New("value is not a recognized DOM node")

// unwrapElement resolves a script value back to the Go element wrapper.
func (b *DOMBridge) unwrapElement(val goja.Value) (*Element, error) {
	if val == nil || goja.IsNull(val) || goja.IsUndefined(val) {
		return nil, fmt.Errorf("node is null or undefined")
	}
	if b.unwrap != nil {
		val = b.unwrap(val)
	}
	obj, ok := val.(*goja.Object)
	if !ok {
		return nil, errNotANode
	}

	b.idMu.Lock()
	defer b.idMu.Unlock()
	if e, ok := b.objects[obj]; ok {
		return e, nil
	}
	return nil, errNotANode
}

// throw raises err in the runtime as an exception of the named constructor.
func (b *DOMBridge) throw(ctor string, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if ctor == "TypeError" {
		panic(b.vm.NewTypeError(msg))
	}
	if fn, ok := goja.AssertConstructor(b.vm.Get(ctor)); ok {
		if obj, err := fn(nil, b.vm.ToValue(msg)); err == nil {
			panic(obj)
		}
	}
	panic(b.vm.NewGoError(errors.New(msg)))
}

// defineAccessor installs a configurable getter, and a setter when set is non-nil.
func (b *DOMBridge) defineAccessor(obj *goja.Object, name string, get func() goja.Value, set func(goja.Value)) {
	getter := b.vm.ToValue(func(goja.FunctionCall) goja.Value { return get() })
	setter := goja.Undefined()
	if set != nil {
		setter = b.vm.ToValue(func(call goja.FunctionCall) goja.Value {
			set(call.Argument(0))
			return goja.Undefined()
		})
	}
	if err := obj.DefineAccessorProperty(name, getter, setter, goja.FLAG_TRUE, goja.FLAG_TRUE); err != nil {
		b.logger.Error("Failed to define accessor", zap.String("property", name), zap.Error(err))
	}
}

// query runs an XPath query under the read lock.
func (b *DOMBridge) query(ctx *html.Node, selector string, scoped bool) []*html.Node {
	xpath, err := translateCSSToXPath(selector, scoped)
	if err != nil {
		b.throw("SyntaxError", "%s", err.Error())
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if ctx == nil {
		return nil
	}
	nodes, err := htmlquery.QueryAll(ctx, xpath)
	if err != nil {
		b.throw("SyntaxError", "'%s' is not a valid selector", selector)
	}
	return nodes
}
