// internal/session/session.go
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/domtaint/internal/browser/jsbind"
	"github.com/xkilldash9x/domtaint/internal/browser/jsexec"
	"github.com/xkilldash9x/domtaint/internal/browser/loader"
	"github.com/xkilldash9x/domtaint/internal/config"
	"github.com/xkilldash9x/domtaint/internal/taint/mocks"
	"github.com/xkilldash9x/domtaint/internal/taint/registry"
	"github.com/xkilldash9x/domtaint/internal/taint/rewriter"
	"github.com/xkilldash9x/domtaint/internal/taint/tainter"
	"github.com/xkilldash9x/domtaint/internal/taint/tracker"
)

// Result is what one monitored run produced.
type Result struct {
	ID           string        `json:"id"`
	URL          string        `json:"url"`
	Labels       []string      `json:"labels"`
	TaintStarted bool          `json:"taint_started"`
	Stats        tracker.Stats `json:"stats"`
	Errors       []string      `json:"errors,omitempty"`
	Duration     time.Duration `json:"duration"`
}

// Session is one monitored execution context: its own runtime, registry, mocks and
// tracker. Nothing is shared between sessions.
type Session struct {
	id      string
	cfg     config.TrackerConfig
	logger  *zap.Logger
	host    *jsexec.Host
	tainter *tainter.Tainter
	tracker *tracker.Tracker

	onClose   func()
	closeOnce sync.Once
}

// New builds a session and links the taint runtime into its global scope before any
// page code can run.
func New(cfg config.TrackerConfig, logger *zap.Logger) (*Session, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	sessionID := uuid.New().String()
	log := logger.With(zap.String("session_id", sessionID))

	host, err := jsexec.New(log, jsexec.Options{ScriptTimeout: cfg.ScriptTimeout})
	if err != nil {
		return nil, err
	}
	s := &Session{id: sessionID, cfg: cfg, logger: log, host: host}

	err = host.Do(context.Background(), func(vm *goja.Runtime) error {
		tn, err := tainter.New(vm, registry.New[*goja.Object](), log)
		if err != nil {
			return fmt.Errorf("failed to create tainter: %w", err)
		}
		rw := rewriter.New(log)
		// The bridge globals exist already, so the mocks capture the genuine atob and btoa.
		if err := mocks.New(vm, tn, rw, log).Install(); err != nil {
			return fmt.Errorf("failed to install mocks: %w", err)
		}
		host.Bridge().SetValueUnwrapper(tn.Unwrap)

		s.tainter = tn
		s.tracker = tracker.New(cfg, host, tn, rw, log)
		host.SetFrameListener(s.tracker)
		return nil
	})
	if err != nil {
		host.Stop()
		return nil, err
	}
	log.Debug("Session created.")
	return s, nil
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// Host exposes the runtime host, mainly for tests and triggers.
func (s *Session) Host() *jsexec.Host { return s.host }

// Run loads page into the session and drives it through the browser lifecycle:
// scripts in order, DOMContentLoaded, load, configured triggers, then the settle time.
// Uncaught page exceptions are reported in the result and never abort the run.
func (s *Session) Run(ctx context.Context, page *loader.Page) (*Result, error) {
	start := time.Now()
	triggers, err := s.cfg.ParsedTriggers()
	if err != nil {
		return nil, err
	}

	err = s.host.Do(ctx, func(*goja.Runtime) error {
		bridge := s.host.Bridge()
		if err := bridge.LoadHTML(page.HTML); err != nil {
			return err
		}
		if page.URL != "" {
			if err := bridge.SetLocation(page.URL); err != nil {
				s.logger.Warn("Page URL rejected, keeping about:blank.", zap.Error(err))
			}
		}
		bridge.SetReadyState("loading")
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load document: %w", err)
	}

	for _, script := range page.Scripts {
		if err := s.host.RunScript(ctx, script.Name, script.Source); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.logger.Info("Page script failed.", zap.String("script", script.Name), zap.Error(err))
		}
	}

	err = s.host.Do(ctx, func(*goja.Runtime) error {
		bridge := s.host.Bridge()
		bridge.SetReadyState("interactive")
		bridge.DispatchDocumentEvent("DOMContentLoaded")
		bridge.SetReadyState("complete")
		bridge.DispatchWindowEvent("load")
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to dispatch load events: %w", err)
	}

	for _, tr := range triggers {
		if err := s.Fire(ctx, tr.Selector, tr.Event); err != nil {
			var notFound *jsbind.ElementNotFoundError
			if !errors.As(err, &notFound) {
				return nil, err
			}
			s.logger.Warn("Trigger target not found.", zap.String("selector", tr.Selector))
		}
	}

	s.host.Settle(ctx, s.cfg.SettleTime)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res, err := s.Result()
	if err != nil {
		return nil, err
	}
	res.URL = page.URL
	res.Duration = time.Since(start)
	s.logger.Info("Session finished.",
		zap.Int("labels", len(res.Labels)),
		zap.Int("frames", res.Stats.Frames),
		zap.Int("errors", len(res.Errors)),
	)
	return res, nil
}

// Fire dispatches eventType at the first element matching selector.
func (s *Session) Fire(ctx context.Context, selector, eventType string) error {
	return s.host.Do(ctx, func(*goja.Runtime) error {
		_, err := s.host.Bridge().FireEvent(selector, eventType)
		return err
	})
}

// Result snapshots the labels and counters collected so far.
func (s *Session) Result() (*Result, error) {
	res := &Result{ID: s.id}
	err := s.host.Do(context.Background(), func(*goja.Runtime) error {
		res.Stats = s.tracker.Stats()
		res.TaintStarted = s.tracker.TaintStarted()
		return nil
	})
	if err != nil {
		return nil, err
	}
	res.Labels = s.tainter.Registry().AllLabels()
	for _, e := range s.host.Errors() {
		res.Errors = append(res.Errors, e.Error())
	}
	return res, nil
}

// Close stops the runtime. It is safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.host.Stop()
		if s.onClose != nil {
			s.onClose()
		}
		s.logger.Debug("Session closed.")
	})
}
