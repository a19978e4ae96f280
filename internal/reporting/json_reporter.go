package reporting

import (
	"fmt"
	"io"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/domtaint/internal/session"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// JSONReport is the document written by JSONReporter.
type JSONReport struct {
	Tool        string            `json:"tool"`
	Version     string            `json:"version"`
	GeneratedAt time.Time         `json:"generated_at"`
	Results     []*session.Result `json:"results"`
}

// JSONReporter buffers results and writes a single indented document on Close.
type JSONReporter struct {
	mu     sync.Mutex
	writer io.WriteCloser
	logger *zap.Logger
	report JSONReport
}

// NewJSONReporter takes ownership of writer.
func NewJSONReporter(writer io.WriteCloser, toolVersion string, logger *zap.Logger) *JSONReporter {
	return &JSONReporter{
		writer: writer,
		logger: logger,
		report: JSONReport{Tool: ToolName, Version: toolVersion, Results: []*session.Result{}},
	}
}

func (r *JSONReporter) Write(result *session.Result) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.report.Results = append(r.report.Results, result)
	return nil
}

func (r *JSONReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.report.GeneratedAt = time.Now().UTC()
	data, encodeErr := json.MarshalIndent(r.report, "", "  ")
	if encodeErr == nil {
		data = append(data, '\n')
		_, encodeErr = r.writer.Write(data)
	}
	closeErr := r.writer.Close()

	if encodeErr != nil {
		return fmt.Errorf("failed to write JSON report: %w", encodeErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close output writer: %w", closeErr)
	}
	r.logger.Debug("Wrote JSON report.", zap.Int("results", len(r.report.Results)))
	return nil
}
