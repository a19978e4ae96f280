package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/domtaint/internal/browser/loader"
	"github.com/xkilldash9x/domtaint/internal/config"
)

func testConfig() config.TrackerConfig {
	return config.TrackerConfig{
		Label:         "tainted_input",
		Selector:      "#q",
		SettleTime:    200 * time.Millisecond,
		ScriptTimeout: 2 * time.Second,
	}
}

func newTestSession(t *testing.T, cfg config.TrackerConfig, logger *zap.Logger) *Session {
	t.Helper()
	if logger == nil {
		logger = zaptest.NewLogger(t)
	}
	s, err := New(cfg, logger)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func evalIn(t *testing.T, s *Session, expr string) interface{} {
	t.Helper()
	v, err := s.Host().ExecuteScript(context.Background(), expr, nil)
	require.NoError(t, err)
	return v
}

func TestRun_SeedsPresentElementAndPropagates(t *testing.T) {
	s := newTestSession(t, testConfig(), nil)
	page := &loader.Page{
		URL:  "https://example.com/search",
		HTML: `<html><body><form id="f"><input id="q" value="abc"></form></body></html>`,
		Scripts: []loader.Script{{Name: "inline-1", Source: `
			var v = document.getElementById("q").value;
			var upper = v.toUpperCase();
			var same = (upper === "ABC");
		`}},
	}

	res, err := s.Run(context.Background(), page)
	require.NoError(t, err)

	assert.True(t, res.TaintStarted)
	assert.Equal(t, s.ID(), res.ID)
	assert.Equal(t, "https://example.com/search", res.URL)
	assert.Contains(t, res.Labels, "tainted_input")
	assert.Contains(t, res.Labels, "tainted_input.value")
	assert.Contains(t, res.Labels, "tainted_input.value.apply()")
	assert.Equal(t, 1, res.Stats.Rewritten)
	assert.Empty(t, res.Errors)

	assert.Equal(t, true, evalIn(t, s, `same`), "tracking must not change program results")
	assert.Equal(t, "https://example.com/search", evalIn(t, s, `location.href`))
	assert.Equal(t, "complete", evalIn(t, s, `document.readyState`))
}

func TestRun_StartsWhenElementAppears(t *testing.T) {
	cfg := testConfig()
	cfg.Selector = "#late"
	s := newTestSession(t, cfg, nil)
	page := &loader.Page{
		HTML: `<html><body></body></html>`,
		Scripts: []loader.Script{
			{Name: "a.js", Source: `
				var input = document.createElement("input");
				input.setAttribute("id", "late");
				input.setAttribute("value", "typed");
				document.body.appendChild(input);
			`},
			{Name: "b.js", Source: `var got = document.querySelector("#late").value;`},
		},
	}

	res, err := s.Run(context.Background(), page)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Stats.Frames)
	assert.Equal(t, 1, res.Stats.Skipped)
	assert.Equal(t, 1, res.Stats.Rewritten)
	assert.Contains(t, res.Labels, "tainted_input.value")
}

func TestRun_CallbackDefinedBeforeSeedingIsRewritten(t *testing.T) {
	cfg := testConfig()
	cfg.Triggers = []string{"#f@submit"}
	s := newTestSession(t, cfg, nil)
	page := &loader.Page{
		HTML: `<html><body><form id="f"></form></body></html>`,
		Scripts: []loader.Script{{Name: "app.js", Source: `
			var leaked = null;
			function onSubmit(e) {
				leaked = document.querySelector("#q").value + "!";
				e.preventDefault();
			}
			document.getElementById("f").addEventListener("submit", onSubmit);
			document.addEventListener("DOMContentLoaded", function () {
				var input = document.createElement("input");
				input.setAttribute("id", "q");
				input.setAttribute("value", "secret");
				document.getElementById("f").appendChild(input);
			});
		`}},
	}

	res, err := s.Run(context.Background(), page)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Stats.Frames, "script body, DOMContentLoaded listener, submit listener")
	assert.Equal(t, 1, res.Stats.Rewritten)
	assert.Contains(t, res.Labels, "tainted_input.value")
	assert.Empty(t, res.Errors)
}

func TestRun_SeedCode(t *testing.T) {
	cfg := testConfig()
	cfg.Selector = ""
	cfg.StartImmediately = true
	cfg.SeedCode = `var secret = __taint__("s3cr3t", "secret");`
	s := newTestSession(t, cfg, nil)

	res, err := s.Run(context.Background(), &loader.Page{
		HTML:    `<html><body></body></html>`,
		Scripts: []loader.Script{{Name: "a.js", Source: `var out = secret + "-suffix";`}},
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.Labels)
	assert.Equal(t, "secret", res.Labels[0])
}

func TestRun_ScriptErrorsDoNotStopThePage(t *testing.T) {
	s := newTestSession(t, testConfig(), nil)
	res, err := s.Run(context.Background(), &loader.Page{
		HTML: `<html><body></body></html>`,
		Scripts: []loader.Script{
			{Name: "bad.js", Source: `throw new Error("broken widget")`},
			{Name: "good.js", Source: `var reached = true;`},
		},
	})
	require.NoError(t, err)

	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "broken widget")
	assert.Equal(t, true, evalIn(t, s, `reached`))
	assert.False(t, res.TaintStarted)
}

func TestRun_MissingTriggerTargetIsLogged(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	cfg := testConfig()
	cfg.Triggers = []string{"#nope@click"}
	s := newTestSession(t, cfg, zap.New(core))

	_, err := s.Run(context.Background(), &loader.Page{HTML: `<html><body></body></html>`})
	require.NoError(t, err)
	assert.Equal(t, 1, logs.FilterMessage("Trigger target not found.").Len())
}

func TestRun_TimersSettle(t *testing.T) {
	s := newTestSession(t, testConfig(), nil)
	res, err := s.Run(context.Background(), &loader.Page{
		HTML: `<html><body><input id="q" value="x"></body></html>`,
		Scripts: []loader.Script{{Name: "a.js", Source: `
			var later = null;
			function tick() { later = document.getElementById("q").value; }
			setTimeout(tick, 20);
		`}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), s.Host().Pending())
	assert.Equal(t, 2, res.Stats.Frames)
	assert.Contains(t, res.Labels, "tainted_input.value")
}

func TestRun_CancelledContext(t *testing.T) {
	s := newTestSession(t, testConfig(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Run(ctx, &loader.Page{HTML: `<html></html>`})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRun_InvalidTrigger(t *testing.T) {
	cfg := testConfig()
	cfg.Triggers = []string{"no-event"}
	s := newTestSession(t, cfg, nil)

	_, err := s.Run(context.Background(), &loader.Page{HTML: `<html></html>`})
	assert.Error(t, err)
}

func TestMonitor_Lifecycle(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	var mu sync.Mutex
	var created, destroyed []string
	m := NewMonitor(testConfig(), zap.NewNop(),
		WithCreatedHook(func(s *Session) { mu.Lock(); created = append(created, s.ID()); mu.Unlock() }),
		WithDestroyedHook(func(s *Session) { mu.Lock(); destroyed = append(destroyed, s.ID()); mu.Unlock() }),
	)

	s1, err := m.Create()
	require.NoError(t, err)
	s2, err := m.Create()
	require.NoError(t, err)
	assert.NotEqual(t, s1.ID(), s2.ID())
	assert.Equal(t, 2, m.Active())

	got, ok := m.Get(s1.ID())
	require.True(t, ok)
	assert.Same(t, s1, got)

	m.Destroy(s1.ID())
	m.Destroy("unknown")
	assert.Equal(t, 1, m.Active())
	_, ok = m.Get(s1.ID())
	assert.False(t, ok)

	res, err := m.Track(context.Background(), &loader.Page{HTML: `<html><body><input id="q"></body></html>`})
	require.NoError(t, err)
	assert.Equal(t, 1, m.Active(), "Track destroys its own session")
	assert.NotEmpty(t, res.ID)

	m.Shutdown()
	assert.Zero(t, m.Active())

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, created, 3)
	assert.ElementsMatch(t, created, destroyed)
}

func TestSessionsAreIsolated(t *testing.T) {
	a := newTestSession(t, testConfig(), nil)
	b := newTestSession(t, testConfig(), nil)
	page := &loader.Page{
		HTML:    `<html><body><input id="q" value="1"></body></html>`,
		Scripts: []loader.Script{{Name: "a.js", Source: `var v = document.getElementById("q").value;`}},
	}

	resA, err := a.Run(context.Background(), page)
	require.NoError(t, err)
	assert.NotEmpty(t, resA.Labels)

	resB, err := b.Result()
	require.NoError(t, err)
	assert.Empty(t, resB.Labels, "registries are per session")
	assert.False(t, resB.TaintStarted)
}
