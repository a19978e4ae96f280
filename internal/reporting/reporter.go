// -- internal/reporting/reporter.go --
package reporting

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap"

	"github.com/xkilldash9x/domtaint/internal/session"
)

// Reporter defines the interface for writing tracking results to an output.
type Reporter interface {
	// Write records the result of one tracked target.
	Write(result *session.Result) error
	// Close finalizes the report and closes any underlying resources (e.g., file handles).
	Close() error
}

// nopWriteCloser wraps an io.Writer and provides a no-op Close method.
type nopWriteCloser struct {
	io.Writer
}

func (nwc *nopWriteCloser) Close() error {
	return nil
}

// IsStdout reports whether outputPath designates standard output.
func IsStdout(outputPath string) bool {
	return outputPath == "" || outputPath == "-" || outputPath == "stdout"
}

// New creates a reporter for format ("text", "json" or "sarif") writing to outputPath.
// A leading ~ in outputPath is expanded to the home directory.
func New(format, outputPath, toolVersion string, logger *zap.Logger) (Reporter, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if err := checkFormat(format); err != nil {
		return nil, err
	}
	if IsStdout(outputPath) {
		return NewForWriter(format, os.Stdout, toolVersion, logger)
	}

	path, err := homedir.Expand(outputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve output path %s: %w", outputPath, err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create output directory %s: %w", dir, err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file %s: %w", path, err)
	}
	return newReporter(format, f, toolVersion, logger), nil
}

// NewForWriter creates a reporter writing to w. The reporter never closes w.
func NewForWriter(format string, w io.Writer, toolVersion string, logger *zap.Logger) (Reporter, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if err := checkFormat(format); err != nil {
		return nil, err
	}
	return newReporter(format, &nopWriteCloser{w}, toolVersion, logger), nil
}

func checkFormat(format string) error {
	switch format {
	case "text", "json", "sarif":
		return nil
	}
	return fmt.Errorf("unsupported output format: %s", format)
}

func newReporter(format string, writer io.WriteCloser, toolVersion string, logger *zap.Logger) Reporter {
	log := logger.Named("reporter")
	switch format {
	case "json":
		return NewJSONReporter(writer, toolVersion, log)
	case "sarif":
		return NewSARIFReporter(writer, toolVersion, log)
	default:
		return NewTextReporter(writer)
	}
}
