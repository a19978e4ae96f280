// internal/browser/loader/errors.go
package loader

import "fmt"

// NavigationError represents a failure during a page navigation attempt.
type NavigationError struct {
	URL     string
	Message string
	Err     error // Underlying network or protocol error
}

// Error implements the error interface.
func (e *NavigationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("navigation to %s failed: %s", e.URL, e.Message)
	}
	return fmt.Sprintf("navigation to %s failed: %s: %v", e.URL, e.Message, e.Err)
}

// Unwrap provides the underlying error for use with errors.Is/As.
func (e *NavigationError) Unwrap() error {
	return e.Err
}
