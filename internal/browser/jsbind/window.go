package jsbind

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// --- Window Object (Global Scope) ---

// Window represents the browser window object. It is the runtime's global object.
type Window struct {
	bridge   *DOMBridge
	Object   *goja.Object
	location *Location
}

func newWindow(bridge *DOMBridge) *Window {
	w := &Window{
		bridge: bridge,
		Object: bridge.vm.GlobalObject(),
	}
	w.location = newLocation(bridge)

	_ = w.Object.Set("alert", w.Alert)
	_ = w.Object.Set("confirm", w.Confirm)
	_ = w.Object.Set("prompt", w.Prompt)
	_ = w.Object.Set("atob", w.Atob)
	_ = w.Object.Set("btoa", w.Btoa)
	bridge.defineAccessor(w.Object, "location", func() goja.Value { return w.location.Object }, func(v goja.Value) {
		if err := w.location.set(v.String()); err != nil {
			bridge.logger.Debug("Ignoring invalid location assignment.", zap.Error(err))
		}
	})
	bridge.installEventTarget(w.Object, w, func() goja.Value { return w.Object })

	return w
}

func (w *Window) Alert(call goja.FunctionCall) goja.Value {
	w.bridge.logger.Info("[JS Alert]", zap.String("message", call.Argument(0).String()))
	return goja.Undefined()
}

// Confirm always accepts.
func (w *Window) Confirm(call goja.FunctionCall) goja.Value {
	w.bridge.logger.Info("[JS Confirm]", zap.String("message", call.Argument(0).String()))
	return w.bridge.vm.ToValue(true)
}

// Prompt always answers with the default value.
func (w *Window) Prompt(call goja.FunctionCall) goja.Value {
	w.bridge.logger.Info("[JS Prompt]", zap.String("message", call.Argument(0).String()))
	if len(call.Arguments) < 2 {
		return goja.Null()
	}
	return w.bridge.vm.ToValue(call.Argument(1).String())
}

// Btoa encodes a binary string. Characters above U+00FF are rejected as in browsers.
func (w *Window) Btoa(call goja.FunctionCall) goja.Value {
	s := call.Argument(0).String()
	raw := make([]byte, 0, len(s))
	for _, r := range s {
		if r > 0xFF {
			w.bridge.throw("Error", "InvalidCharacterError: The string to be encoded contains characters outside of the Latin1 range.")
		}
		raw = append(raw, byte(r))
	}
	return w.bridge.vm.ToValue(base64.StdEncoding.EncodeToString(raw))
}

// Atob decodes base64 into a binary string, tolerating whitespace and missing padding.
func (w *Window) Atob(call goja.FunctionCall) goja.Value {
	s := strings.Map(func(r rune) rune {
		if r == ' ' || r == '\t' || r == '\n' || r == '\f' || r == '\r' {
			return -1
		}
		return r
	}, call.Argument(0).String())
	s = strings.TrimRight(s, "=")

	raw, err := base64.RawStdEncoding.DecodeString(s)
	if err != nil {
		w.bridge.throw("Error", "InvalidCharacterError: The string to be decoded is not correctly encoded.")
	}
	runes := make([]rune, len(raw))
	for i, c := range raw {
		runes[i] = rune(c)
	}
	return w.bridge.vm.ToValue(string(runes))
}

// --- Location ---

// Location mirrors window.location for the loaded page. Assignments are recorded but
// never navigate.
type Location struct {
	bridge *DOMBridge
	Object *goja.Object
	href   string
	parsed *url.URL
}

func newLocation(bridge *DOMBridge) *Location {
	l := &Location{bridge: bridge, Object: bridge.vm.NewObject()}
	_ = l.set("about:blank")

	parts := map[string]func(*url.URL) string{
		"protocol": func(u *url.URL) string { return u.Scheme + ":" },
		"host":     func(u *url.URL) string { return u.Host },
		"hostname": func(u *url.URL) string { return u.Hostname() },
		"port":     func(u *url.URL) string { return u.Port() },
		"pathname": func(u *url.URL) string {
			if u.Opaque != "" {
				return u.Opaque
			}
			if u.Path == "" {
				return "/"
			}
			return u.EscapedPath()
		},
		"search": func(u *url.URL) string { return prefixed("?", u.RawQuery) },
		"hash":   func(u *url.URL) string { return prefixed("#", u.EscapedFragment()) },
		"origin": func(u *url.URL) string {
			if u.Host == "" {
				return "null"
			}
			return u.Scheme + "://" + u.Host
		},
	}
	for name, part := range parts {
		part := part
		bridge.defineAccessor(l.Object, name, func() goja.Value {
			return bridge.vm.ToValue(part(l.parsed))
		}, nil)
	}
	bridge.defineAccessor(l.Object, "href", func() goja.Value { return bridge.vm.ToValue(l.href) }, func(v goja.Value) {
		if err := l.set(v.String()); err != nil {
			bridge.logger.Debug("Ignoring invalid href assignment.", zap.Error(err))
		}
	})
	_ = l.Object.Set("toString", func(goja.FunctionCall) goja.Value { return bridge.vm.ToValue(l.href) })
	for _, name := range []string{"assign", "replace"} {
		_ = l.Object.Set(name, func(call goja.FunctionCall) goja.Value {
			bridge.logger.Info("[JS Navigation]", zap.String("url", call.Argument(0).String()))
			return goja.Undefined()
		})
	}
	_ = l.Object.Set("reload", func(goja.FunctionCall) goja.Value { return goja.Undefined() })
	return l
}

func (l *Location) set(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid location %q: %w", raw, err)
	}
	if l.parsed != nil && !u.IsAbs() {
		u = l.parsed.ResolveReference(u)
	}
	l.parsed = u
	l.href = u.String()
	return nil
}

func prefixed(prefix, s string) string {
	if s == "" {
		return ""
	}
	return prefix + s
}

// --- Console and timers ---

// initConsole routes console output to the bridge logger.
func (b *DOMBridge) initConsole() {
	console := b.vm.NewObject()
	logFunc := func(level zapcore.Level) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			args := make([]string, len(call.Arguments))
			for i, arg := range call.Arguments {
				args[i] = b.describe(arg)
			}
			b.logger.Log(level, "[JS Console]", zap.String("message", strings.Join(args, " ")))
			return goja.Undefined()
		}
	}

	_ = console.Set("log", logFunc(zap.InfoLevel))
	_ = console.Set("info", logFunc(zap.InfoLevel))
	_ = console.Set("warn", logFunc(zap.WarnLevel))
	_ = console.Set("error", logFunc(zap.ErrorLevel))
	_ = console.Set("debug", logFunc(zap.DebugLevel))
	_ = console.Set("trace", logFunc(zap.DebugLevel))

	if err := b.vm.Set("console", console); err != nil {
		b.logger.Error("Failed to set 'console' global", zap.Error(err))
	}
}

// describe renders a console argument, using JSON for plain objects.
func (b *DOMBridge) describe(arg goja.Value) (s string) {
	defer func() {
		if r := recover(); r != nil {
			s = "[unprintable]"
		}
	}()
	if obj, ok := arg.(*goja.Object); ok {
		if _, callable := goja.AssertFunction(obj); !callable {
			if jsJSON, ok := b.vm.Get("JSON").(*goja.Object); ok {
				if stringify, ok := goja.AssertFunction(jsJSON.Get("stringify")); ok {
					if result, err := stringify(jsJSON, arg); err == nil && !goja.IsUndefined(result) {
						return result.String()
					}
				}
			}
		}
	}
	return arg.String()
}

// initTimers routes setTimeout and setInterval through the environment so each
// callback runs as a host-dispatched call.
func (b *DOMBridge) initTimers() {
	schedule := func(repeat bool) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			delay := time.Duration(call.Argument(1).ToInteger()) * time.Millisecond
			if delay < 0 {
				delay = 0
			}
			var args []goja.Value
			if len(call.Arguments) > 2 {
				args = append(args, call.Arguments[2:]...)
			}
			return b.vm.ToValue(b.env.Schedule(call.Argument(0), args, delay, repeat))
		}
	}
	cancel := func(call goja.FunctionCall) goja.Value {
		b.env.Cancel(call.Argument(0).ToInteger())
		return goja.Undefined()
	}

	globals := map[string]func(goja.FunctionCall) goja.Value{
		"setTimeout":    schedule(false),
		"setInterval":   schedule(true),
		"clearTimeout":  cancel,
		"clearInterval": cancel,
	}
	for name, fn := range globals {
		if err := b.vm.Set(name, fn); err != nil {
			b.logger.Error("Failed to set timer global", zap.String("name", name), zap.Error(err))
		}
	}
}

// directEnvironment runs callbacks synchronously and never schedules timers. It backs
// bridges created without a host.
type directEnvironment struct {
	logger *zap.Logger
}

func (d *directEnvironment) Invoke(fn goja.Value, this goja.Value, args ...goja.Value) (goja.Value, error) {
	callable, ok := goja.AssertFunction(fn)
	if !ok {
		return nil, fmt.Errorf("callback is not a function")
	}
	return callable(this, args...)
}

func (d *directEnvironment) Schedule(goja.Value, []goja.Value, time.Duration, bool) int64 {
	d.logger.Debug("Timer dropped: no host environment attached.")
	return 0
}

func (d *directEnvironment) Cancel(int64) {}
