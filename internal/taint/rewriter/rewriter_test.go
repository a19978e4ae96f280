package rewriter

import (
	"errors"
	"testing"

	fuzz "github.com/AdaLogics/go-fuzz-headers"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/domtaint/internal/taint/optable"
)

func TestRewrite_Golden(t *testing.T) {
	rw := New(zaptest.NewLogger(t))

	tests := []struct {
		name string
		src  string
		want string
	}{
		{"binary", `a + b;`, `__plus__(a, b);`},
		{"nested binary", `x = y = a * b - c;`, `x = y = __minus__(__multiply__(a, b), c);`},
		{"member get", `x = a.b;`, `x = __get__(a, "b");`},
		{"literal bracket key", `a["b"];`, `__get__(a, "b");`},
		{"single quoted key", `a['b'];`, `__get__(a, "b");`},
		{"computed key", `a[k];`, `__get__(a, k);`},
		{"escaped key passes through", `a["b\n"];`, `__get__(a, "b\n");`},
		{"member call", `a.b(1, 2);`, `__call_method__(a, "b", 1, 2);`},
		{"chained member call", `a.b.c(d);`, `__call_method__(__get__(a, "b"), "c", d);`},
		{"member argument", `f(a.b);`, `f(__get__(a, "b"));`},
		{"assignment target", `a.b = c.d;`, `a.b = __get__(c, "d");`},
		{"nested assignment target", `a.b.c = 1;`, `__get__(a, "b").c = 1;`},
		{"augmented identifier", `x += y;`, `x = __plus__(x, y);`},
		{"augmented member kept", `a.b += 1;`, `a.b += 1;`},
		{"postfix update", `i++;`, `__postfix__(i, i = __increment__(i));`},
		{"prefix update", `--i;`, `__prefix__(i = __decrement__(i));`},
		{"if condition", `if (a == b) {}`, `if (__truthy__(__double_equal__(a, b))) {}`},
		{"while condition", `while (x) {}`, `while (__truthy__(x)) {}`},
		{"ternary condition", `x = c ? 1 : 2;`, `x = __truthy__(c) ? 1 : 2;`},
		{"member ternary condition", `x = a.b ? 1 : 2;`, `x = __truthy__(__get__(a, "b")) ? 1 : 2;`},
		{"call ternary condition", `x = a.b() ? 1 : 2;`, `x = __truthy__(__call_method__(a, "b")) ? 1 : 2;`},
		{"for condition", `for (;x;) {}`, `for (;__truthy__(x);) {}`},
		{"for loop", `for (i = 0; i < n; i++) {}`, `for (i = 0; __truthy__(__lesser__(i, n)); __postfix__(i, i = __increment__(i))) {}`},
		{"for member condition", `for (var i = 0; o.p; ) {}`, `for (var i = 0; __truthy__(__get__(o, "p")); ) {}`},
		{"for without condition", `for (;;) {}`, `for (;;) {}`},
		{"switch", `switch (s) { case "a": break; default: }`, `switch (__unwrap__(s)) { case __unwrap__("a"): break; default: }`},
		{"switch member operands", `switch (o.k) { case p.v: }`, `switch (__unwrap__(__get__(o, "k"))) { case __unwrap__(__get__(p, "v")): }`},
		{"boolean conversion", `Boolean(v);`, `__boolean__(Boolean, v);`},
		{"logical thunk", `x = a && b;`, `x = __logical_and__(a, () => (b));`},
		{"nullish thunk", `x = a ?? f(b);`, `x = __nullish__(a, () => (f(b)));`},
		{"logical not", `x = !a;`, `x = __logical_not__(a);`},
		{"in operator", `x = "a" in o;`, `x = __in__("a", o);`},
		{"typeof identifier", `x = typeof y;`, `x = __typeof__(typeof y === "undefined" ? void 0 : y);`},
		{"typeof expression", `x = typeof f();`, `x = __typeof__(f());`},
		{"unary minus", `x = -y;`, `x = __unary_minus__(y);`},
		{"negative literal", `x = -1;`, `x = -1;`},
		{"direct eval", `eval(s);`, `eval(__eval__(s));`},
		{"conversion", `String(v);`, `__string__(String, v);`},
		{"new Function", `new Function("a", "return a");`, `__function__(Function, "a", "return a");`},
		{"new member constructor", `new a.B();`, `new (__get__(a, "B"))();`},
		{"optional member", `a?.b;`, `a?.b;`},
		{"optional chain tail", `a?.b.c;`, `a?.b.c;`},
		{"delete operand", `delete a.b;`, `delete a.b;`},
		{"delete nested operand", `delete a.b.c;`, `delete __get__(a, "b").c;`},
		{"tagged template callee", "a.b`x`;", "a.b`x`;"},
		{"for in left", `for (k in o) {}`, `for (k in o) {}`},
		{"await in thunk", `async function f() { return a || await b; }`, `async function f() { return a || await b; }`},
		{"comments survive", "// keep\nvar x = 1; /* tail */", "// keep\nvar x = 1; /* tail */"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := rw.Rewrite(tt.src)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Rewrite(%q) mismatch (-want +got):\n%s", tt.src, diff)
			}
		})
	}
}

func TestRewrite_KeyForms(t *testing.T) {
	rw := New(zaptest.NewLogger(t))

	dotted, err := rw.Rewrite(`o.k;`)
	require.NoError(t, err)
	bracket, err := rw.Rewrite(`o["k"];`)
	require.NoError(t, err)
	assert.Equal(t, dotted, bracket)
}

func TestRewrite_ParseError(t *testing.T) {
	rw := New(zaptest.NewLogger(t))

	out, err := rw.Rewrite("ok();\n)")
	require.Error(t, err)
	assert.Empty(t, out)

	var perr *ParseError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, 2, perr.Line)
	assert.Contains(t, perr.Error(), "parse error at 2:")
}

func TestRewrite_OutputIsNotMarked(t *testing.T) {
	rw := New(zaptest.NewLogger(t))

	out, err := rw.Rewrite(`a + b;`)
	require.NoError(t, err)
	assert.False(t, IsMarked(out))
	assert.True(t, IsMarked(Mark(out)))
	assert.Equal(t, Marker+out, Mark(out))
}

func TestReplacers_FollowTableOrder(t *testing.T) {
	rw := New(nil)
	replacers := rw.Replacers()
	entries := optable.Entries()

	require.Len(t, replacers, len(entries))
	for i := range entries {
		assert.Equal(t, entries[i], replacers[i].Entry)
	}
}

func TestTopLevelFunctions(t *testing.T) {
	src := "function a() {}\nfunction* g() {}\nvar f = function c() {};\nif (x) { function d() {} }"
	names, err := TopLevelFunctions(src)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "g"}, names)
}

func TestFunctionSources(t *testing.T) {
	src := "function a() { return () => 1; }\nvar o = { m() {} };\nclass C {}\nx = 1;"
	got, err := FunctionSources(src)
	require.NoError(t, err)
	want := []string{"function a() { return () => 1; }", "() => 1", "m() {}", "class C {}"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("FunctionSources mismatch (-want +got):\n%s", diff)
	}
}

func FuzzRewrite(f *testing.F) {
	rw := New(nil)
	for _, seed := range []string{`a + b;`, `a.b(c, d.e);`, `if (x) { y++; }`, `eval(s)`, `a?.b.c`, `))(`} {
		f.Add([]byte(seed))
	}
	f.Fuzz(func(t *testing.T, data []byte) {
		consumer := fuzz.NewConsumer(data)
		src, err := consumer.GetString()
		if err != nil {
			src = string(data)
		}

		first, err := rw.Rewrite(src)
		if err != nil {
			var perr *ParseError
			if !errors.As(err, &perr) {
				t.Fatalf("unexpected error type %T: %v", err, err)
			}
			if first != "" {
				t.Fatalf("partial output returned with parse error")
			}
			return
		}
		second, err := rw.Rewrite(src)
		if err != nil || first != second {
			t.Fatalf("rewrite is not deterministic for %q", src)
		}
	})
}
