// File: internal/taint/tracker/tracker.go
// Package tracker decides, for every frame the host enters, whether to seed taint and
// whether to swap the frame's body for its rewritten form.
package tracker

import (
	"fmt"

	"github.com/dop251/goja"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/domtaint/internal/config"
	"github.com/xkilldash9x/domtaint/internal/taint/rewriter"
	"github.com/xkilldash9x/domtaint/internal/taint/tainter"
)

// Environment is the slice of the host the tracker needs for seeding.
type Environment interface {
	// Eval runs expr in the global scope without rewriting it.
	Eval(expr string) (goja.Value, error)
	// Bind defines a global variable.
	Bind(name string, v goja.Value) error
	// Substitute makes host APIs return replacement wherever they returned original.
	Substitute(original, replacement goja.Value)
}

// Stats counts frame decisions.
type Stats struct {
	Frames      int `json:"frames"`
	Rewritten   int `json:"rewritten"`
	Skipped     int `json:"skipped"`
	ParseErrors int `json:"parse_errors"`
}

// Tracker holds the interception state of one monitored context. It is driven from
// the host's loop goroutine and is not safe for concurrent use.
type Tracker struct {
	cfg      config.TrackerConfig
	env      Environment
	tainter  *tainter.Tainter
	rewriter *rewriter.Rewriter
	logger   *zap.Logger

	elementCreated bool
	taintStarted   bool
	stats          Stats
}

// New creates a Tracker in its initial state: nothing seeded, element absent.
func New(cfg config.TrackerConfig, env Environment, t *tainter.Tainter, rw *rewriter.Rewriter, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		cfg:      cfg,
		env:      env,
		tainter:  t,
		rewriter: rw,
		logger:   logger.Named("tracker"),
	}
}

// OnEnterFrame runs the interception policy for one frame. Failures never reach the
// monitored program: they are logged and the frame continues unchanged.
func (t *Tracker) OnEnterFrame(f Frame) (decision FrameDecision) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("Recovered from panic during frame interception.",
				zap.Any("panic_value", r),
				zap.Stringer("kind", f.Kind()),
			)
			decision = Continue()
		}
	}()

	t.stats.Frames++
	if t.ShouldStartTaint() {
		t.StartTaint()
	}
	if !t.ShouldRewriteFrame(f) {
		t.stats.Skipped++
		return Continue()
	}

	rewritten, err := t.rewriter.Rewrite(f.Source())
	if err != nil {
		t.stats.ParseErrors++
		t.logger.Warn("Frame source could not be rewritten, running original.",
			zap.Stringer("kind", f.Kind()),
			zap.Error(err),
		)
		return Continue()
	}
	t.stats.Rewritten++
	return Replace(rewriter.Mark(rewritten))
}

// ShouldStartTaint reports whether the seeding action is due.
func (t *Tracker) ShouldStartTaint() bool {
	if t.taintStarted {
		return false
	}
	return t.cfg.StartImmediately || t.isElementCreated()
}

// ShouldRewriteFrame reports whether f must be replaced by its rewritten form.
func (t *Tracker) ShouldRewriteFrame(f Frame) bool {
	if f.IsMock() || rewriter.IsMarked(f.Source()) {
		return false
	}
	return t.taintStarted
}

// StartTaint performs the one-time seeding action. Configured seed code replaces the
// default of tainting the located element.
func (t *Tracker) StartTaint() {
	t.taintStarted = true

	if t.cfg.SeedCode != "" {
		if _, err := t.env.Eval(t.cfg.SeedCode); err != nil {
			t.logger.Warn("Seed code failed.", zap.Error(err))
			return
		}
		t.logger.Info("Taint seeded by seed code.")
		return
	}

	el, err := t.env.Eval(t.locatorExpr())
	if err != nil {
		t.logger.Warn("Element locator failed, nothing seeded.", zap.Error(err))
		return
	}
	if tainter.KindOf(el) == tainter.KindMissing {
		t.logger.Warn("Element not found, nothing seeded.", zap.String("locator", t.locatorExpr()))
		return
	}

	proxy := t.tainter.Wrap(el, t.cfg.Label)
	t.env.Substitute(el, proxy)
	if err := t.env.Bind(t.cfg.Label, proxy); err != nil {
		t.logger.Warn("Could not bind the seeded element.", zap.String("label", t.cfg.Label), zap.Error(err))
		return
	}
	t.logger.Info("Taint seeded.", zap.String("label", t.cfg.Label))
}

// TaintStarted reports whether seeding has happened.
func (t *Tracker) TaintStarted() bool { return t.taintStarted }

// ElementCreated reports whether the designated element has been seen.
func (t *Tracker) ElementCreated() bool { return t.elementCreated }

// Stats returns the decision counters.
func (t *Tracker) Stats() Stats { return t.stats }

// isElementCreated probes for the designated element. Once seen it stays present.
func (t *Tracker) isElementCreated() bool {
	if t.elementCreated {
		return true
	}
	expr := t.locatorExpr()
	if expr == "" {
		return false
	}
	v, err := t.env.Eval(expr)
	if err != nil {
		t.logger.Debug("Element probe failed.", zap.String("locator", expr), zap.Error(err))
		return false
	}
	if tainter.KindOf(v) != tainter.KindMissing {
		t.elementCreated = true
	}
	return t.elementCreated
}

func (t *Tracker) locatorExpr() string {
	if t.cfg.Locator != "" {
		return t.cfg.Locator
	}
	if t.cfg.Selector == "" {
		return ""
	}
	quoted, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalToString(t.cfg.Selector)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("document.querySelector(%s)", quoted)
}
