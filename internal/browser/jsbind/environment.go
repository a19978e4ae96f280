package jsbind

import (
	"time"

	"github.com/dop251/goja"
)

// BrowserEnvironment is the host side of the bridge. Every callback the page registers
// (timers, event listeners) is handed back to it so the host can treat the call as a
// frame of its own.
type BrowserEnvironment interface {
	// Invoke calls fn with the given receiver and arguments on the loop goroutine.
	Invoke(fn goja.Value, this goja.Value, args ...goja.Value) (goja.Value, error)
	// Schedule arranges for fn to be invoked after delay, repeatedly when repeat is set.
	// fn may also be a string of code. It returns a handle for Cancel.
	Schedule(fn goja.Value, args []goja.Value, delay time.Duration, repeat bool) int64
	// Cancel drops a scheduled callback. Unknown handles are ignored.
	Cancel(id int64)
}

// ValueUnwrapper maps a value the page holds back to the value the bridge created.
// Hosts that hand out proxies for DOM nodes install one so node arguments still resolve.
type ValueUnwrapper func(goja.Value) goja.Value
