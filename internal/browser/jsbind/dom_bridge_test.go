// internal/browser/jsbind/dom_bridge_test.go
package jsbind

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/net/html"
)

// -- Mock BrowserEnvironment --

// MockBrowserEnvironment invokes callbacks directly and records timer traffic.
type MockBrowserEnvironment struct {
	mock.Mock
}

func (m *MockBrowserEnvironment) Invoke(fn goja.Value, this goja.Value, args ...goja.Value) (goja.Value, error) {
	callable, ok := goja.AssertFunction(fn)
	if !ok {
		return nil, errors.New("not callable")
	}
	return callable(this, args...)
}

func (m *MockBrowserEnvironment) Schedule(fn goja.Value, args []goja.Value, delay time.Duration, repeat bool) int64 {
	ret := m.Called(fn, args, delay, repeat)
	return ret.Get(0).(int64)
}

func (m *MockBrowserEnvironment) Cancel(id int64) {
	m.Called(id)
}

// -- Test Setup --

type TestEnvironment struct {
	VM      *goja.Runtime
	Bridge  *DOMBridge
	MockEnv *MockBrowserEnvironment
	T       *testing.T
}

func SetupTest(t *testing.T, initialHTML string, logger *zap.Logger) *TestEnvironment {
	t.Helper()
	if logger == nil {
		logger = zaptest.NewLogger(t)
	}
	vm := goja.New()
	mockEnv := &MockBrowserEnvironment{}
	bridge := NewDOMBridge(vm, logger, mockEnv)
	require.NoError(t, bridge.LoadHTML(initialHTML))
	require.NoError(t, bridge.SetLocation("http://example.com/"))

	t.Cleanup(func() { mockEnv.AssertExpectations(t) })
	return &TestEnvironment{VM: vm, Bridge: bridge, MockEnv: mockEnv, T: t}
}

// MustRunJS runs a script and fails the test on error.
func (te *TestEnvironment) MustRunJS(script string) goja.Value {
	te.T.Helper()
	val, err := te.VM.RunString(script)
	require.NoError(te.T, err)
	return val
}

func (te *TestEnvironment) body() string {
	te.T.Helper()
	var sb strings.Builder
	require.NoError(te.T, html.Render(&sb, te.Bridge.Root()))
	return sb.String()
}

// -- Test Cases --

func TestDOMManipulation_AppendAndQuery(t *testing.T) {
	te := SetupTest(t, "<html><body><div id='container'></div></body></html>", nil)

	result := te.MustRunJS(`
        const container = document.getElementById('container');
        const p = document.createElement('p');
        p.textContent = 'Hello Bridge';
        p.id = 'newP';
        container.appendChild(p);
        document.querySelector('#container > #newP').textContent;
    `)
	assert.Equal(t, "Hello Bridge", result.String())
	assert.Contains(t, te.body(), `<div id="container"><p id="newP">Hello Bridge</p></div>`)
}

func TestDOMManipulation_InsertBeforeAndRemove(t *testing.T) {
	te := SetupTest(t, "<html><body><ul><li id='item2'>Two</li></ul></body></html>", nil)

	result := te.MustRunJS(`
        const list = document.querySelector('ul');
        const item1 = document.createElement('li');
        item1.textContent = 'One';
        list.insertBefore(item1, document.getElementById('item2'));
        list.textContent;
    `)
	assert.Equal(t, "OneTwo", result.String())

	result = te.MustRunJS(`
        list.removeChild(document.getElementById('item2'));
        document.getElementById('item2') === null && list.children.length === 1;
    `)
	assert.True(t, result.ToBoolean())

	_, err := te.VM.RunString(`list.removeChild(document.body)`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NotFoundError")

	_, err = te.VM.RunString(`list.appendChild(document.body)`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HierarchyRequestError")
}

func TestNodeIdentityIsStable(t *testing.T) {
	te := SetupTest(t, `<html><body><form id="f"><input name="q"></form></body></html>`, nil)

	assert.True(t, te.MustRunJS(`
        document.getElementById('f') === document.querySelector('form') &&
        document.forms[0] === document.getElementById('f') &&
        document.querySelector('input').parentNode === document.forms[0] &&
        document.body.parentNode === document.documentElement &&
        document.documentElement.parentNode === document;
    `).ToBoolean())
}

func TestAttributesAndFormControls(t *testing.T) {
	te := SetupTest(t, `<html><body><form id="search" action="/s">
        <input id="q" name="q" type="text" value="initial">
        <textarea name="notes">some notes</textarea>
        <select name="lang"><option value="en">English</option><option value="fr" selected>French</option></select>
        <button name="go">Go</button>
    </form></body></html>`, nil)

	res := te.MustRunJS(`
        const input = document.getElementById('q');
        const before = input.value;
        input.value = 'updated';
        input.className = 'wide';
        ({
            before: before,
            after: input.getAttribute('value'),
            name: input.name,
            type: input.getAttribute('type'),
            missing: input.getAttribute('nope'),
            cls: input.className,
            notes: document.getElementsByName('notes')[0].value,
            lang: document.querySelector('select').value,
            controls: document.forms[0].elements.length,
            action: document.forms[0].action,
            hasType: input.hasAttribute('type'),
        });
    `).Export().(map[string]interface{})

	assert.Equal(t, "initial", res["before"])
	assert.Equal(t, "updated", res["after"])
	assert.Equal(t, "q", res["name"])
	assert.Equal(t, "text", res["type"])
	assert.Nil(t, res["missing"])
	assert.Equal(t, "wide", res["cls"])
	assert.Equal(t, "some notes", res["notes"])
	assert.Equal(t, "fr", res["lang"])
	assert.Equal(t, int64(4), res["controls"])
	assert.Equal(t, "/s", res["action"])
	assert.Equal(t, true, res["hasType"])
	assert.True(t, te.MustRunJS(`document.querySelector('div') === null && document.forms[0].value === undefined`).ToBoolean())
}

func TestSubstitute(t *testing.T) {
	te := SetupTest(t, `<html><body><form id="f"></form><div id="sink"></div></body></html>`, nil)

	te.MustRunJS(`
        var hits = [];
        document.forms[0].addEventListener('submit', function () { hits.push(this === replacement); });
        var replacement = { stand_in: true };
    `)
	original := te.MustRunJS(`document.getElementById('f')`)
	replacement := te.VM.Get("replacement")

	require.True(t, te.Bridge.Substitute(original, replacement))
	assert.False(t, te.Bridge.Substitute(te.VM.ToValue("not a node"), replacement))

	assert.True(t, te.MustRunJS(`
        document.querySelector('#f') === replacement && document.forms[0] === replacement;
    `).ToBoolean())

	// The stand-in still resolves to the node it replaced.
	te.MustRunJS(`document.getElementById('sink').appendChild(replacement);`)
	assert.Contains(t, te.body(), `<div id="sink"><form id="f"></form></div>`)

	ok, err := te.Bridge.FireEvent("#f", "submit")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []interface{}{true}, te.VM.Get("hits").Export())
}

func TestValueUnwrapper(t *testing.T) {
	te := SetupTest(t, `<html><body><div id="a"></div><span id="b"></span></body></html>`, nil)

	proxy := te.MustRunJS(`var wrapped = new Proxy(document.getElementById('b'), {}); wrapped`)
	raw := te.MustRunJS(`document.getElementById('b')`)

	_, err := te.VM.RunString(`document.getElementById('a').appendChild(wrapped)`)
	require.Error(t, err, "a foreign proxy is not a node")

	te.Bridge.SetValueUnwrapper(func(v goja.Value) goja.Value {
		if proxy.StrictEquals(v) {
			return raw
		}
		return v
	})
	te.MustRunJS(`document.getElementById('a').appendChild(wrapped)`)
	assert.Contains(t, te.body(), `<div id="a"><span id="b"></span></div>`)
}

func TestEventPropagation(t *testing.T) {
	te := SetupTest(t, `<html><body><div id="parent"><span id="child"></span></div></body></html>`, nil)

	result := te.MustRunJS(`
        const parent = document.getElementById('parent');
        const child = document.getElementById('child');
        const calls = [];
        child.addEventListener('ping', () => calls.push('child'));
        parent.addEventListener('ping', (e) => calls.push('parent:' + (e.target === child)));
        document.addEventListener('ping', () => calls.push('document'));
        window.addEventListener('ping', () => calls.push('window'));
        child.onping = () => calls.push('handler');
        child.dispatchEvent(new Event('ping', { bubbles: true }));
        child.dispatchEvent(new Event('ping'));
        calls;
    `)
	assert.Equal(t, []interface{}{"child", "handler", "parent:true", "document", "window", "child", "handler"}, result.Export())
}

func TestEventStopPropagationAndCancel(t *testing.T) {
	te := SetupTest(t, `<html><body><div id="parent"><a id="child" href="/x"></a></div></body></html>`, nil)

	result := te.MustRunJS(`
        const calls = [];
        const child = document.getElementById('child');
        document.getElementById('parent').addEventListener('click', () => calls.push('parent'));
        const listener = (e) => { calls.push('child'); e.stopPropagation(); e.preventDefault(); };
        child.addEventListener('click', listener);
        child.addEventListener('click', listener);
        child.click();
        const cancelled = !child.dispatchEvent(new Event('click', { bubbles: true }));
        child.removeEventListener('click', listener);
        child.click();
        [calls, cancelled, child.href];
    `).Export().([]interface{})

	assert.Equal(t, []interface{}{"child", "child", "parent"}, result[0])
	assert.Equal(t, true, result[1])
	assert.Equal(t, "/x", result[2])
}

func TestListenerErrorsAreLogged(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	te := SetupTest(t, `<html><body><p id="p"></p></body></html>`, zap.New(core))

	te.MustRunJS(`
        var reached = false;
        document.getElementById('p').addEventListener('click', () => { throw new Error('boom'); });
        document.addEventListener('click', () => { reached = true; });
        document.getElementById('p').click();
    `)
	assert.True(t, te.VM.Get("reached").ToBoolean())
	assert.Equal(t, 1, logs.FilterMessage("Event listener threw.").Len())
	assert.Equal(t, 2, te.Bridge.ListenerCount())
}

func TestDocumentAndWindowEvents(t *testing.T) {
	te := SetupTest(t, `<html><body></body></html>`, nil)

	te.MustRunJS(`
        var seen = [];
        document.addEventListener('DOMContentLoaded', () => seen.push('doc:' + document.readyState));
        window.addEventListener('DOMContentLoaded', () => seen.push('win'));
        window.onload = () => seen.push('load:' + document.readyState);
    `)
	te.Bridge.SetReadyState("interactive")
	te.Bridge.DispatchDocumentEvent("DOMContentLoaded")
	te.Bridge.SetReadyState("complete")
	te.Bridge.DispatchWindowEvent("load")

	assert.Equal(t, []interface{}{"doc:interactive", "win", "load:complete"}, te.VM.Get("seen").Export())
}

func TestFireEvent_ElementNotFound(t *testing.T) {
	te := SetupTest(t, `<html><body></body></html>`, nil)

	_, err := te.Bridge.FireEvent("#missing", "click")
	var notFound *ElementNotFoundError
	require.True(t, errors.As(err, &notFound))
	assert.Equal(t, "#missing", notFound.Selector)

	_, err = te.Bridge.QueryOne("div[")
	var selErr *SelectorError
	assert.True(t, errors.As(err, &selErr))
}

func TestQuerySelector_ErrorHandling(t *testing.T) {
	te := SetupTest(t, `<html><body></body></html>`, nil)

	result := te.MustRunJS(`
        let kind = 'none';
        try { document.querySelector('div[') } catch (e) { kind = e instanceof SyntaxError ? 'syntax' : String(e) }
        kind;
    `)
	assert.Equal(t, "syntax", result.String())
}

func TestTimersRouteThroughEnvironment(t *testing.T) {
	te := SetupTest(t, `<html><body></body></html>`, nil)

	te.MockEnv.On("Schedule", mock.Anything, mock.Anything, 25*time.Millisecond, false).Return(int64(7)).Once()
	te.MockEnv.On("Schedule", mock.Anything, mock.Anything, time.Duration(0), true).Return(int64(8)).Once()
	te.MockEnv.On("Cancel", int64(7)).Once()
	te.MockEnv.On("Cancel", int64(8)).Once()

	result := te.MustRunJS(`
        const a = setTimeout(function () {}, 25, 'x');
        const b = setInterval('tick()', -5);
        clearTimeout(a);
        clearInterval(b);
        [a, b];
    `)
	assert.Equal(t, []interface{}{int64(7), int64(8)}, result.Export())

	first := te.MockEnv.Calls[0]
	args := first.Arguments.Get(1).([]goja.Value)
	require.Len(t, args, 1)
	assert.Equal(t, "x", args[0].String())
}

func TestDirectEnvironmentDropsTimers(t *testing.T) {
	vm := goja.New()
	NewDOMBridge(vm, zaptest.NewLogger(t), nil)

	v, err := vm.RunString(`var ran = false; setTimeout(() => { ran = true }, 0)`)
	require.NoError(t, err)
	assert.Equal(t, int64(0), v.ToInteger())
	assert.False(t, vm.Get("ran").ToBoolean())
}

func TestBase64(t *testing.T) {
	te := SetupTest(t, `<html><body></body></html>`, nil)

	assert.Equal(t, "aGVsbG8=", te.MustRunJS(`btoa('hello')`).String())
	assert.Equal(t, "hello", te.MustRunJS(`atob('aGVs bG8')`).String())
	assert.Equal(t, "ÿ", te.MustRunJS(`atob(btoa('ÿ'))`).String())

	_, err := te.VM.RunString(`btoa('€')`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "InvalidCharacterError")
	_, err = te.VM.RunString(`atob('%%%')`)
	require.Error(t, err)
}

func TestLocationAPI(t *testing.T) {
	te := SetupTest(t, `<html><head><title> Results </title></head><body></body></html>`, nil)
	require.NoError(t, te.Bridge.SetLocation("https://example.com:8443/search?q=term#frag"))

	res := te.MustRunJS(`({
        href: location.href, protocol: location.protocol, host: location.host,
        hostname: location.hostname, port: location.port, pathname: location.pathname,
        search: location.search, hash: location.hash, origin: window.location.origin,
        url: document.URL, str: String(location), title: document.title,
    })`).Export().(map[string]interface{})

	assert.Equal(t, map[string]interface{}{
		"href":     "https://example.com:8443/search?q=term#frag",
		"protocol": "https:",
		"host":     "example.com:8443",
		"hostname": "example.com",
		"port":     "8443",
		"pathname": "/search",
		"search":   "?q=term",
		"hash":     "#frag",
		"origin":   "https://example.com:8443",
		"url":      "https://example.com:8443/search?q=term#frag",
		"str":      "https://example.com:8443/search?q=term#frag",
		"title":    "Results",
	}, res)

	te.MustRunJS(`location.href = '/other?x=1'`)
	assert.Equal(t, "https://example.com:8443/other?x=1", te.MustRunJS(`location.href`).String())
}

func TestCookies(t *testing.T) {
	te := SetupTest(t, `<html><body></body></html>`, nil)

	result := te.MustRunJS(`
        document.cookie = 'a=1; path=/';
        document.cookie = 'b=2';
        document.cookie = 'a=3';
        document.cookie;
    `)
	assert.Equal(t, "a=3; b=2", result.String())
}

func TestConsoleLogsThroughZap(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	te := SetupTest(t, `<html><body></body></html>`, zap.New(core))

	te.MustRunJS(`console.log('hi', {a: 1}, [2]); console.warn('careful')`)

	entries := logs.FilterMessage("[JS Console]").All()
	require.Len(t, entries, 2)
	assert.Equal(t, `hi {"a":1} [2]`, entries[0].ContextMap()["message"])
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
}

func TestWindowIsGlobal(t *testing.T) {
	te := SetupTest(t, `<html><body></body></html>`, nil)
	assert.True(t, te.MustRunJS(`var g = 1; window.g === 1 && self === window && window.document === document`).ToBoolean())
}

func TestCloneNode(t *testing.T) {
	te := SetupTest(t, `<html><body><div id="src" class="c"><b>bold</b></div></body></html>`, nil)

	res := te.MustRunJS(`
        const src = document.getElementById('src');
        const shallow = src.cloneNode(false);
        const deep = src.cloneNode(true);
        [shallow.outerHTML, deep.innerHTML, deep === src];
    `).Export().([]interface{})
	assert.Equal(t, `<div id="src" class="c"></div>`, res[0])
	assert.Equal(t, "<b>bold</b>", res[1])
	assert.Equal(t, false, res[2])
}

func TestTranslateCSSToXPath(t *testing.T) {
	tests := []struct {
		css    string
		scoped bool
		want   string
	}{
		{"form", false, "//form"},
		{"*", false, "//*"},
		{"#q", false, "//*[@id='q']"},
		{"DIV.a.b", false, "//div[contains(concat(' ', normalize-space(@class), ' '), ' a ') and contains(concat(' ', normalize-space(@class), ' '), ' b ')]"},
		{"form input", false, "//form//input"},
		{"ul > li", false, "//ul/li"},
		{"h1 ~ p", false, "//h1/following-sibling::p"},
		{"h1 + p", false, "//h1/following-sibling::*[1][self::p]"},
		{"input[name=q]", false, "//input[@name='q']"},
		{`a[href^="http"]`, false, "//a[starts-with(@href, 'http')]"},
		{"a[href$='.js']", false, "//a[ends-with(@href, '.js')]"},
		{"a[title*=x]", false, "//a[contains(@title, 'x')]"},
		{"[data-id]", false, "//*[@data-id]"},
		{"li:first-child", false, "//li[not(preceding-sibling::*)]"},
		{"a, b", false, "//a | //b"},
		{"input", true, ".//input"},
		{"//form[1]", false, "//form[1]"},
		{`[title="it's"]`, false, `//*[@title="it's"]`},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.css, func(t *testing.T) {
			got, err := translateCSSToXPath(tt.css, tt.scoped)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	for _, bad := range []string{"", "a[", "a[b", "#", "div:hover", "a >", "a,,b", "a[x!=y]"} {
		_, err := translateCSSToXPath(bad, false)
		assert.Error(t, err, bad)
	}
}

func TestXPathLiteral(t *testing.T) {
	assert.Equal(t, "'plain'", xpathLiteral("plain"))
	assert.Equal(t, `"it's"`, xpathLiteral("it's"))
	assert.Equal(t, `concat('a', "'", 'b"c')`, xpathLiteral(`a'b"c`))
}
