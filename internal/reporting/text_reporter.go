package reporting

import (
	"fmt"
	"io"
	"sync"

	"github.com/xkilldash9x/domtaint/internal/session"
)

// TextReporter writes one human readable block per result as soon as it arrives.
type TextReporter struct {
	mu     sync.Mutex
	writer io.WriteCloser
}

// NewTextReporter takes ownership of writer.
func NewTextReporter(writer io.WriteCloser) *TextReporter {
	return &TextReporter{writer: writer}
}

func (r *TextReporter) Write(result *session.Result) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	w := &errWriter{w: r.writer}
	target := result.URL
	if target == "" {
		target = "(no url)"
	}
	w.printf("== %s (session %s) ==\n", target, result.ID)
	started := "no"
	if result.TaintStarted {
		started = "yes"
	}
	w.printf("taint started: %s  frames: %d  rewritten: %d  skipped: %d  parse errors: %d  duration: %s\n",
		started, result.Stats.Frames, result.Stats.Rewritten, result.Stats.Skipped, result.Stats.ParseErrors, result.Duration)

	w.printf("labels (%d):\n", len(result.Labels))
	for _, label := range result.Labels {
		w.printf("  %s\n", label)
	}
	if len(result.Errors) > 0 {
		w.printf("errors (%d):\n", len(result.Errors))
		for _, e := range result.Errors {
			w.printf("  %s\n", e)
		}
	}
	w.printf("\n")
	return w.err
}

func (r *TextReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writer.Close()
}

// errWriter keeps the first write error and skips later writes.
type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) printf(format string, args ...interface{}) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, args...)
}
