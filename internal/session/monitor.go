package session

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/domtaint/internal/browser/loader"
	"github.com/xkilldash9x/domtaint/internal/config"
)

// Monitor owns the lifecycle of monitored contexts. Each context gets a fresh
// session; destroying it discards the session's tracker state.
type Monitor struct {
	cfg    config.TrackerConfig
	logger *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Session

	onCreated   func(*Session)
	onDestroyed func(*Session)
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithCreatedHook runs fn after each session is created.
func WithCreatedHook(fn func(*Session)) MonitorOption {
	return func(m *Monitor) { m.onCreated = fn }
}

// WithDestroyedHook runs fn after each session is closed.
func WithDestroyedHook(fn func(*Session)) MonitorOption {
	return func(m *Monitor) { m.onDestroyed = fn }
}

// NewMonitor creates a Monitor that builds sessions from cfg.
func NewMonitor(cfg config.TrackerConfig, logger *zap.Logger, opts ...MonitorOption) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Monitor{
		cfg:      cfg,
		logger:   logger.Named("monitor"),
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create starts a new monitored context.
func (m *Monitor) Create() (*Session, error) {
	s, err := New(m.cfg, m.logger)
	if err != nil {
		return nil, err
	}
	s.onClose = func() { m.forget(s) }

	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.mu.Unlock()

	if m.onCreated != nil {
		m.onCreated(s)
	}
	return s, nil
}

func (m *Monitor) forget(s *Session) {
	m.mu.Lock()
	delete(m.sessions, s.ID())
	m.mu.Unlock()
	if m.onDestroyed != nil {
		m.onDestroyed(s)
	}
}

// Destroy closes the session with the given id. Unknown ids are ignored.
func (m *Monitor) Destroy(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()
	if ok {
		s.Close()
	}
}

// Get returns an active session.
func (m *Monitor) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Active reports how many sessions are open.
func (m *Monitor) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Track runs page in a fresh session and destroys the session afterwards.
func (m *Monitor) Track(ctx context.Context, page *loader.Page) (*Result, error) {
	s, err := m.Create()
	if err != nil {
		return nil, err
	}
	defer s.Close()
	return s.Run(ctx, page)
}

// Shutdown closes every open session.
func (m *Monitor) Shutdown() {
	m.mu.Lock()
	open := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		open = append(open, s)
	}
	m.mu.Unlock()

	for _, s := range open {
		s.Close()
	}
	m.logger.Debug("Monitor shut down.", zap.Int("closed", len(open)))
}
