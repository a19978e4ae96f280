package jsbind

import (
	"github.com/dop251/goja"
	"go.uber.org/zap"
	"golang.org/x/net/html"
)

// listenerRegistry keeps event listeners per target in registration order.
// Targets are keyed by their Go identity (*html.Node, *Document, *Window) so a
// substituted node keeps the listeners registered before the substitution.
type listenerRegistry struct {
	byTarget map[interface{}]map[string][]goja.Value
}

func newListenerRegistry() *listenerRegistry {
	return &listenerRegistry{byTarget: make(map[interface{}]map[string][]goja.Value)}
}

func (r *listenerRegistry) add(key interface{}, eventType string, fn goja.Value) {
	byType := r.byTarget[key]
	if byType == nil {
		byType = make(map[string][]goja.Value)
		r.byTarget[key] = byType
	}
	for _, existing := range byType[eventType] {
		if existing.StrictEquals(fn) {
			return
		}
	}
	byType[eventType] = append(byType[eventType], fn)
}

func (r *listenerRegistry) remove(key interface{}, eventType string, fn goja.Value) {
	fns := r.byTarget[key][eventType]
	for i, existing := range fns {
		if existing.StrictEquals(fn) {
			r.byTarget[key][eventType] = append(fns[:i:i], fns[i+1:]...)
			return
		}
	}
}

func (r *listenerRegistry) snapshot(key interface{}, eventType string) []goja.Value {
	fns := r.byTarget[key][eventType]
	out := make([]goja.Value, len(fns))
	copy(out, fns)
	return out
}

func (r *listenerRegistry) count() int {
	n := 0
	for _, byType := range r.byTarget {
		for _, fns := range byType {
			n += len(fns)
		}
	}
	return n
}

// eventTarget is one stop on an event's propagation path.
type eventTarget struct {
	key  interface{}
	this goja.Value
}

// installEventTarget defines addEventListener, removeEventListener and dispatchEvent
// on obj. self yields the value listeners see as this.
func (b *DOMBridge) installEventTarget(obj *goja.Object, key interface{}, self func() goja.Value) {
	_ = obj.Set("addEventListener", func(call goja.FunctionCall) goja.Value {
		fn := call.Argument(1)
		if _, ok := goja.AssertFunction(fn); !ok {
			return goja.Undefined()
		}
		b.listeners.add(key, call.Argument(0).String(), fn)
		return goja.Undefined()
	})
	_ = obj.Set("removeEventListener", func(call goja.FunctionCall) goja.Value {
		b.listeners.remove(key, call.Argument(0).String(), call.Argument(1))
		return goja.Undefined()
	})
	_ = obj.Set("dispatchEvent", func(call goja.FunctionCall) goja.Value {
		event, ok := call.Argument(0).(*goja.Object)
		if !ok {
			b.throw("TypeError", "dispatchEvent: parameter 1 is not of type 'Event'")
		}
		b.prepareEvent(event)
		var path []eventTarget
		switch k := key.(type) {
		case *html.Node:
			path = b.pathFor(k)
		case *Document:
			path = b.pathFor(nil)
		default:
			path = []eventTarget{{key: key, this: self()}}
		}
		if !flag(event, "bubbles") {
			path = path[:1]
		}
		return b.vm.ToValue(b.dispatch(path, event))
	})
}

// pathFor returns the bubbling path from node up to window. A nil node starts at the
// document.
func (b *DOMBridge) pathFor(node *html.Node) []eventTarget {
	var path []eventTarget
	b.mu.RLock()
	var chain []*html.Node
	for n := node; n != nil && n.Type == html.ElementNode; n = n.Parent {
		chain = append(chain, n)
	}
	b.mu.RUnlock()

	for _, n := range chain {
		path = append(path, eventTarget{key: n, this: b.WrapNode(n)})
	}
	path = append(path,
		eventTarget{key: b.document, this: b.document.Object},
		eventTarget{key: b.window, this: b.window.Object},
	)
	return path
}

// newEvent builds a plain event object of the given type.
func (b *DOMBridge) newEvent(eventType string, bubbles bool) *goja.Object {
	event := b.vm.NewObject()
	_ = event.Set("type", eventType)
	_ = event.Set("bubbles", bubbles)
	b.prepareEvent(event)
	return event
}

// prepareEvent adds the propagation controls to a script-supplied event object.
func (b *DOMBridge) prepareEvent(event *goja.Object) {
	_ = event.Set("defaultPrevented", false)
	_ = event.Set("__propagation_stopped__", false)
	_ = event.Set("__immediate_stopped__", false)
	_ = event.Set("preventDefault", func(goja.FunctionCall) goja.Value {
		_ = event.Set("defaultPrevented", true)
		return goja.Undefined()
	})
	_ = event.Set("stopPropagation", func(goja.FunctionCall) goja.Value {
		_ = event.Set("__propagation_stopped__", true)
		return goja.Undefined()
	})
	_ = event.Set("stopImmediatePropagation", func(goja.FunctionCall) goja.Value {
		_ = event.Set("__propagation_stopped__", true)
		_ = event.Set("__immediate_stopped__", true)
		return goja.Undefined()
	})
}

// dispatch runs the listeners along path, then the on<type> handler property of each
// stop. Listener exceptions are logged and do not stop propagation.
func (b *DOMBridge) dispatch(path []eventTarget, event *goja.Object) bool {
	if len(path) == 0 {
		return true
	}
	eventType := ""
	if t := event.Get("type"); t != nil {
		eventType = t.String()
	}
	_ = event.Set("target", path[0].this)

	for _, stop := range path {
		_ = event.Set("currentTarget", stop.this)
		handlers := b.listeners.snapshot(stop.key, eventType)
		holder := stop.this
		if b.unwrap != nil {
			holder = b.unwrap(holder)
		}
		if obj, ok := holder.(*goja.Object); ok {
			if h := obj.Get("on" + eventType); h != nil {
				if _, callable := goja.AssertFunction(h); callable {
					handlers = append(handlers, h)
				}
			}
		}

		for _, fn := range handlers {
			if _, err := b.env.Invoke(fn, stop.this, event); err != nil {
				b.logger.Warn("Event listener threw.", zap.String("type", eventType), zap.Error(err))
			}
			if flag(event, "__immediate_stopped__") {
				break
			}
		}
		if flag(event, "__propagation_stopped__") {
			break
		}
	}
	return !flag(event, "defaultPrevented")
}

// initEventConstructor defines a minimal Event constructor so pages can build events
// for dispatchEvent.
func (b *DOMBridge) initEventConstructor() {
	ctor := func(call goja.ConstructorCall) *goja.Object {
		_ = call.This.Set("type", call.Argument(0).String())
		bubbles := false
		if init, ok := call.Argument(1).(*goja.Object); ok {
			bubbles = flag(init, "bubbles")
		}
		_ = call.This.Set("bubbles", bubbles)
		return nil
	}
	if err := b.vm.Set("Event", ctor); err != nil {
		b.logger.Error("Failed to set 'Event' global", zap.Error(err))
	}
}

func flag(obj *goja.Object, name string) bool {
	v := obj.Get(name)
	return v != nil && v.ToBoolean()
}
