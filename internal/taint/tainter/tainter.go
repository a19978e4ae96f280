// File: internal/taint/tainter/tainter.go
package tainter

import (
	"sort"
	"strconv"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/xkilldash9x/domtaint/internal/taint/registry"
)

// Metadata keys answered by every tainted proxy. They are never wrapped.
const (
	KeyLabel     = "__tainted_name__"
	KeyIsTainted = "__is_tainted__"
	KeyRaw       = "__wrapped_object__"
	KeyUntainted = "__untainted_objects__"
)

// conversionKeys resolve to the payload's own method bound to the raw payload, so
// ToPrimitive keeps working in code that was never rewritten.
var conversionKeys = map[string]struct{}{
	"toString":       {},
	"valueOf":        {},
	"toLocaleString": {},
	"toJSON":         {},
}

// passthroughKeys are read from the target without wrapping.
var passthroughKeys = map[string]struct{}{
	"constructor": {},
	"__proto__":   {},
}

// TaintedValue is the metadata kept for one proxy.
type TaintedValue struct {
	Label string
	Kind  ValueKind
	// Raw is the unboxed payload: the primitive for boxed kinds, the target otherwise.
	Raw goja.Value
	// Target is the proxied object: the box for primitives, the value itself otherwise.
	Target *goja.Object
	Proxy  *goja.Object

	// untainted names own properties whose current value was assigned untainted.
	untainted map[string]struct{}
	bound     map[string]goja.Value
}

// UntaintedNames returns the exception set in sorted order.
func (tv *TaintedValue) UntaintedNames() []string {
	names := make([]string, 0, len(tv.untainted))
	for name := range tv.untainted {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Tainter wraps runtime values in goja proxies and records them in a registry.
// It must only be used from the goroutine that owns the runtime.
type Tainter struct {
	vm       *goja.Runtime
	registry *registry.Registry[*goja.Object]
	logger   *zap.Logger

	values   map[*goja.Object]*TaintedValue
	byTarget map[*goja.Object]map[string]*goja.Object

	frozenProp goja.Callable
}

// New creates a Tainter bound to vm. Tainted proxies are registered in reg.
func New(vm *goja.Runtime, reg *registry.Registry[*goja.Object], logger *zap.Logger) (*Tainter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	helper, err := vm.RunString(`(function (o, k) {
		var d = Object.getOwnPropertyDescriptor(o, k);
		return d !== undefined && d.configurable === false && d.writable === false;
	})`)
	if err != nil {
		return nil, err
	}
	frozen, _ := goja.AssertFunction(helper)

	return &Tainter{
		vm:         vm,
		registry:   reg,
		logger:     logger.Named("tainter"),
		values:     make(map[*goja.Object]*TaintedValue),
		byTarget:   make(map[*goja.Object]map[string]*goja.Object),
		frozenProp: frozen,
	}, nil
}

// Registry returns the registry this Tainter records into.
func (t *Tainter) Registry() *registry.Registry[*goja.Object] {
	return t.registry
}

// Runtime returns the runtime the proxies belong to.
func (t *Tainter) Runtime() *goja.Runtime {
	return t.vm
}

// Wrap returns v tainted with label. Missing values are returned unchanged and
// wrapping an existing proxy returns that same proxy.
func (t *Tainter) Wrap(v goja.Value, label string) goja.Value {
	kind := KindOf(v)
	if kind == KindMissing {
		return v
	}

	obj, isObj := v.(*goja.Object)
	if isObj {
		if tv, ok := t.values[obj]; ok {
			t.registry.Register(obj, tv.Label)
			return obj
		}
		if cached, ok := t.byTarget[obj][label]; ok {
			t.registry.Register(cached, label)
			return cached
		}
	}

	tv := &TaintedValue{
		Label:     label,
		Kind:      kind,
		untainted: make(map[string]struct{}),
		bound:     make(map[string]goja.Value),
	}
	switch kind {
	case KindString, KindNumber, KindBoolean:
		tv.Raw = v
		tv.Target = v.ToObject(t.vm)
	case KindObject, KindFunction:
		tv.Raw = obj
		tv.Target = obj
	}

	proxy := t.vm.NewProxy(tv.Target, t.traps(tv))
	tv.Proxy = t.vm.ToValue(proxy).(*goja.Object)

	t.values[tv.Proxy] = tv
	if !kind.Primitive() {
		perLabel := t.byTarget[obj]
		if perLabel == nil {
			perLabel = make(map[string]*goja.Object)
			t.byTarget[obj] = perLabel
		}
		perLabel[label] = tv.Proxy
	}
	t.registry.Register(tv.Proxy, label)
	return tv.Proxy
}

// Unwrap returns the raw payload of a tainted value: the primitive for boxed kinds
// and the target object otherwise. Untainted values are returned unchanged.
func (t *Tainter) Unwrap(v goja.Value) goja.Value {
	if tv, ok := t.Lookup(v); ok {
		return tv.Raw
	}
	return v
}

// Lookup returns the metadata of a proxy produced by this Tainter. It still finds
// values whose registry entry was cleared.
func (t *Tainter) Lookup(v goja.Value) (*TaintedValue, bool) {
	obj, ok := v.(*goja.Object)
	if !ok {
		return nil, false
	}
	tv, ok := t.values[obj]
	return tv, ok
}

// IsTainted reports registry membership of v.
func (t *Tainter) IsTainted(v goja.Value) bool {
	obj, ok := v.(*goja.Object)
	if !ok {
		return false
	}
	return t.registry.IsTainted(obj)
}

// LabelOf returns the label of a tainted value.
func (t *Tainter) LabelOf(v goja.Value) (string, bool) {
	obj, ok := v.(*goja.Object)
	if !ok {
		return "", false
	}
	return t.registry.LabelOf(obj)
}

// TypeOf returns the typeof string of the payload behind v.
func (t *Tainter) TypeOf(v goja.Value) (string, bool) {
	tv, ok := t.Lookup(v)
	if !ok {
		return "", false
	}
	return tv.Kind.String(), true
}

func (t *Tainter) traps(tv *TaintedValue) *goja.ProxyTrapConfig {
	return &goja.ProxyTrapConfig{
		Get: func(target *goja.Object, property string, receiver goja.Value) goja.Value {
			return t.get(tv, target, property)
		},
		GetIdx: func(target *goja.Object, property int, receiver goja.Value) goja.Value {
			return t.get(tv, target, strconv.Itoa(property))
		},
		Set: func(target *goja.Object, property string, value goja.Value, receiver goja.Value) bool {
			return t.set(tv, target, property, value)
		},
		SetIdx: func(target *goja.Object, property int, value goja.Value, receiver goja.Value) bool {
			return t.set(tv, target, strconv.Itoa(property), value)
		},
		Apply: func(target *goja.Object, this goja.Value, args []goja.Value) goja.Value {
			return t.apply(tv, target, this, args)
		},
	}
}

func (t *Tainter) get(tv *TaintedValue, target *goja.Object, name string) goja.Value {
	switch name {
	case KeyLabel:
		return t.vm.ToValue(tv.Label)
	case KeyIsTainted:
		return t.vm.ToValue(true)
	case KeyRaw:
		return tv.Raw
	case KeyUntainted:
		return t.vm.ToValue(tv.UntaintedNames())
	}

	if _, ok := conversionKeys[name]; ok {
		return t.boundMethod(tv, name)
	}
	if _, ok := passthroughKeys[name]; ok {
		return getRaw(target, name)
	}
	if _, ok := tv.untainted[name]; ok {
		return getRaw(target, name)
	}
	if t.isFrozen(target, name) {
		// Proxy invariants require the exact value for read-only, non-configurable data.
		return getRaw(target, name)
	}
	return t.Wrap(getRaw(target, name), tv.Label+"."+name)
}

func (t *Tainter) set(tv *TaintedValue, target *goja.Object, name string, value goja.Value) bool {
	if t.IsTainted(value) {
		delete(tv.untainted, name)
	} else {
		tv.untainted[name] = struct{}{}
	}
	return target.Set(name, t.Unwrap(value)) == nil
}

func (t *Tainter) apply(tv *TaintedValue, target *goja.Object, this goja.Value, args []goja.Value) goja.Value {
	fn, ok := goja.AssertFunction(target)
	if !ok {
		panic(t.vm.NewTypeError("%s is not a function", tv.Label))
	}
	if rtv, ok := t.Lookup(this); ok && rtv.Kind.Primitive() {
		this = rtv.Raw
	}
	res, err := fn(this, args...)
	if err != nil {
		panic(err)
	}
	return t.Wrap(res, tv.Label+".apply()")
}

// boundMethod returns the payload's own method called with the raw payload as receiver.
func (t *Tainter) boundMethod(tv *TaintedValue, name string) goja.Value {
	if fn, ok := tv.bound[name]; ok {
		return fn
	}
	method, ok := goja.AssertFunction(getRaw(tv.Target, name))
	if !ok {
		return getRaw(tv.Target, name)
	}
	raw := tv.Raw
	bound := t.vm.ToValue(func(call goja.FunctionCall) goja.Value {
		res, err := method(raw, call.Arguments...)
		if err != nil {
			panic(err)
		}
		return res
	})
	tv.bound[name] = bound
	return bound
}

func (t *Tainter) isFrozen(target *goja.Object, name string) bool {
	res, err := t.frozenProp(goja.Undefined(), target, t.vm.ToValue(name))
	if err != nil {
		t.logger.Debug("Property descriptor probe failed.", zap.String("property", name), zap.Error(err))
		return false
	}
	return res.ToBoolean()
}

func getRaw(obj *goja.Object, name string) goja.Value {
	v := obj.Get(name)
	if v == nil {
		return goja.Undefined()
	}
	return v
}
