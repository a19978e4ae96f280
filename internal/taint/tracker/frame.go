package tracker

import (
	"errors"
	"fmt"

	"github.com/dop251/goja"
)

// FrameKind distinguishes how a frame was entered.
type FrameKind int

const (
	// FrameCall is a function invocation dispatched by the host (timers, listeners).
	FrameCall FrameKind = iota
	// FrameGlobal is a top-level script body.
	FrameGlobal
	// FrameEval is code entered through eval or the Function constructor.
	FrameEval
)

func (k FrameKind) String() string {
	switch k {
	case FrameCall:
		return "call"
	case FrameGlobal:
		return "global"
	case FrameEval:
		return "eval"
	}
	return fmt.Sprintf("frame(%d)", int(k))
}

// ErrScopeUnavailable is returned by Frame.Evaluate when the host cannot evaluate text
// in the frame's lexical scope. The frame then runs its original body.
var ErrScopeUnavailable = errors.New("frame scope is not available for evaluation")

// Frame is one activation the host is about to run.
type Frame interface {
	Source() string
	Kind() FrameKind
	// IsMock reports whether the callee carries the mock flag.
	IsMock() bool
	// Evaluate runs text in the frame's scope and returns its value as the frame's result.
	Evaluate(text string) (goja.Value, error)
}

// FrameDecision tells the host whether to run a frame as-is or substitute new source.
type FrameDecision struct {
	replace bool
	source  string
}

// Continue runs the original body.
func Continue() FrameDecision {
	return FrameDecision{}
}

// Replace evaluates src in the frame's scope instead of the original body.
func Replace(src string) FrameDecision {
	return FrameDecision{replace: true, source: src}
}

func (d FrameDecision) IsReplace() bool { return d.replace }
func (d FrameDecision) Source() string  { return d.source }

func (d FrameDecision) String() string {
	if d.replace {
		return "replace"
	}
	return "continue"
}
