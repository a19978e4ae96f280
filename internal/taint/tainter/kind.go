package tainter

import (
	"reflect"

	"github.com/dop251/goja"
)

// ValueKind is the closed set of payload shapes the wrapping layer understands.
type ValueKind int

const (
	// KindMissing covers undefined, null and values that cannot carry taint (symbols, bigints).
	KindMissing ValueKind = iota
	KindString
	KindNumber
	KindBoolean
	KindObject
	KindFunction
)

func (k ValueKind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBoolean:
		return "boolean"
	case KindObject:
		return "object"
	case KindFunction:
		return "function"
	default:
		return "undefined"
	}
}

// Primitive reports whether values of this kind are boxed before wrapping.
func (k ValueKind) Primitive() bool {
	return k == KindString || k == KindNumber || k == KindBoolean
}

// KindOf classifies a raw runtime value.
func KindOf(v goja.Value) ValueKind {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return KindMissing
	}
	if obj, ok := v.(*goja.Object); ok {
		if _, callable := goja.AssertFunction(obj); callable {
			return KindFunction
		}
		return KindObject
	}

	typ := v.ExportType()
	if typ == nil {
		return KindMissing
	}
	switch typ.Kind() {
	case reflect.String:
		return KindString
	case reflect.Int64, reflect.Float64:
		return KindNumber
	case reflect.Bool:
		return KindBoolean
	}
	return KindMissing
}
