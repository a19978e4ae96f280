package rewriter

import "strings"

// Marker prefixes every piece of source produced by the rewriting pipeline.
const Marker = "/*__domtaint_rewritten__*/"

// Mark prefixes src with the marker.
func Mark(src string) string {
	return Marker + src
}

// IsMarked reports whether src was produced by Mark.
func IsMarked(src string) bool {
	return strings.HasPrefix(src, Marker)
}
