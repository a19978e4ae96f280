// internal/browser/jsbind/errors.go
package jsbind

import "fmt"

// ElementNotFoundError is a specific, typed error for when a selector does not match any
// element. Callers classify it with errors.As.
type ElementNotFoundError struct {
	Selector string
}

// Error implements the error interface by formatting the message on the fly.
func (e *ElementNotFoundError) Error() string {
	return fmt.Sprintf("element not found matching selector '%s'", e.Selector)
}

// NewElementNotFoundError creates a new ElementNotFoundError.
func NewElementNotFoundError(selector string) *ElementNotFoundError {
	return &ElementNotFoundError{Selector: selector}
}
