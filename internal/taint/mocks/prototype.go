package mocks

import (
	"math"

	"github.com/dop251/goja"

	"github.com/xkilldash9x/domtaint/internal/taint/tainter"
)

// arraySearchPatch redefines the element search methods of Array.prototype so that a
// tainted element still matches its raw payload.
const arraySearchPatch = `(function (strictEq, sameValueZero) {
	var define = function (name, fn) {
		Object.defineProperty(Array.prototype, name, {
			value: fn, writable: true, configurable: true, enumerable: false
		});
	};
	var start = function (len, from, dflt) {
		if (from === undefined) { return dflt; }
		var n = Math.trunc(Number(from)) || 0;
		return n < 0 ? Math.max(len + n, -1) : n;
	};
	define("indexOf", function indexOf(search, from) {
		var len = this.length >>> 0;
		for (var i = Math.max(start(len, from, 0), 0); i < len; i++) {
			if (i in this && strictEq(this[i], search)) { return i; }
		}
		return -1;
	});
	define("lastIndexOf", function lastIndexOf(search, from) {
		var len = this.length >>> 0;
		var i = arguments.length > 1 ? Math.min(start(len, from, len - 1), len - 1) : len - 1;
		for (; i >= 0; i--) {
			if (i in this && strictEq(this[i], search)) { return i; }
		}
		return -1;
	});
	define("includes", function includes(search, from) {
		var len = this.length >>> 0;
		for (var i = Math.max(start(len, from, 0), 0); i < len; i++) {
			if (sameValueZero(this[i], search)) { return true; }
		}
		return false;
	});
})`

func (m *Mocks) patchArrayPrototype() error {
	patch, err := m.compile(arraySearchPatch)
	if err != nil {
		return err
	}
	strictEq := func(call goja.FunctionCall) goja.Value {
		return m.vm.ToValue(m.rawStrictEquals(call.Argument(0), call.Argument(1)))
	}
	sameValueZero := func(call goja.FunctionCall) goja.Value {
		a, b := m.tainter.Unwrap(call.Argument(0)), m.tainter.Unwrap(call.Argument(1))
		if tainter.KindOf(a) == tainter.KindNumber && tainter.KindOf(b) == tainter.KindNumber &&
			math.IsNaN(a.ToFloat()) && math.IsNaN(b.ToFloat()) {
			return m.vm.ToValue(true)
		}
		return m.vm.ToValue(a.StrictEquals(b))
	}
	_, err = patch(goja.Undefined(), m.vm.ToValue(strictEq), m.vm.ToValue(sameValueZero))
	return err
}

func (m *Mocks) rawStrictEquals(a, b goja.Value) bool {
	return m.tainter.Unwrap(a).StrictEquals(m.tainter.Unwrap(b))
}

// jsonStringifyPatch makes JSON.stringify serialize tainted values, at any depth, as
// their payloads. A function replacer sees raw values. An allow-list replacer keeps
// the built-in behaviour, so only the root value is unwrapped then.
const jsonStringifyPatch = `(function (unwrap) {
	var native = JSON.stringify;
	Object.defineProperty(JSON, "stringify", {
		value: function stringify(value, replacer, space) {
			var filter = unwrap(replacer);
			space = unwrap(space);
			if (Array.isArray(filter)) {
				return native(unwrap(value), filter, space);
			}
			if (typeof filter !== "function") {
				filter = null;
			}
			return native(value, function (key, v) {
				v = unwrap(v);
				return filter === null ? v : unwrap(filter.call(this, key, v));
			}, space);
		},
		writable: true, configurable: true, enumerable: false
	});
})`

func (m *Mocks) patchJSON() error {
	patch, err := m.compile(jsonStringifyPatch)
	if err != nil {
		return err
	}
	unwrap := func(call goja.FunctionCall) goja.Value {
		return m.tainter.Unwrap(call.Argument(0))
	}
	_, err = patch(goja.Undefined(), m.vm.ToValue(unwrap))
	return err
}
