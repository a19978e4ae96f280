package rewriter

import "fmt"

// ParseError reports source the rewriter could not parse. No partial output is
// produced when it is returned.
type ParseError struct {
	// Line and Column are 1-based.
	Line    int
	Column  int
	Snippet string
}

func (e *ParseError) Error() string {
	if e.Snippet == "" {
		return fmt.Sprintf("parse error at %d:%d", e.Line, e.Column)
	}
	return fmt.Sprintf("parse error at %d:%d near %q", e.Line, e.Column, e.Snippet)
}
