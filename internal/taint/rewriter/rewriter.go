// File: internal/taint/rewriter/rewriter.go
// Package rewriter turns JavaScript source into equivalent source whose operators and
// member accesses are routed through the taint-aware mock functions.
//
// The rewriter never builds a new tree. It walks the tree-sitter parse tree and copies
// the original bytes between rewritten nodes, so untouched code keeps its comments and
// formatting.
package rewriter

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"go.uber.org/zap"
)

// Rewriter applies the replacer list to source fragments. It is safe for concurrent
// use; every call parses with its own parser.
type Rewriter struct {
	logger    *zap.Logger
	replacers []Replacer
}

// New builds a Rewriter with the replacers derived from the operator table.
func New(logger *zap.Logger) *Rewriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Rewriter{
		logger:    logger.Named("rewriter"),
		replacers: buildReplacers(),
	}
}

// Replacers returns the replacer list in match order.
func (r *Rewriter) Replacers() []Replacer {
	out := make([]Replacer, len(r.replacers))
	copy(out, r.replacers)
	return out
}

// Rewrite returns src with every matched node replaced. The result is not marked.
func (r *Rewriter) Rewrite(src string) (string, error) {
	return r.RewriteContext(context.Background(), src)
}

// RewriteContext is Rewrite with cancellation of the parse step.
func (r *Rewriter) RewriteContext(ctx context.Context, src string) (string, error) {
	source := []byte(src)
	tree, err := parse(ctx, source)
	if err != nil {
		return "", err
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		perr := locateError(root, source)
		r.logger.Debug("Refusing to rewrite malformed source.", zap.Error(perr))
		return "", perr
	}

	w := &walker{src: source, replacers: r.replacers}
	out := w.emit(root)
	r.logger.Debug("Rewrote source fragment.",
		zap.Int("input_bytes", len(source)),
		zap.Int("output_bytes", len(out)),
		zap.Int("replacements", w.replaced),
	)
	return out, nil
}

// TopLevelFunctions returns the names of function declarations that sit directly in
// the program body of src, in source order.
func TopLevelFunctions(src string) ([]string, error) {
	source := []byte(src)
	tree, err := parse(context.Background(), source)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	root := tree.RootNode()
	var names []string
	for i := 0; i < int(root.NamedChildCount()); i++ {
		child := root.NamedChild(i)
		switch child.Type() {
		case "function_declaration", "generator_function_declaration":
			if name := child.ChildByFieldName("name"); name != nil {
				names = append(names, name.Content(source))
			}
		}
	}
	return names, nil
}

// functionTypes are the nodes whose text a runtime reports as a function's source.
var functionTypes = map[string]bool{
	"function_declaration":           true,
	"function_expression":            true,
	"generator_function_declaration": true,
	"generator_function":             true,
	"arrow_function":                 true,
	"method_definition":              true,
	"class_declaration":              true,
	"class":                          true,
}

// FunctionSources returns the source text of every function, method and class in src,
// outermost first.
func FunctionSources(src string) ([]string, error) {
	source := []byte(src)
	tree, err := parse(context.Background(), source)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	var out []string
	var visit func(n *sitter.Node)
	visit = func(n *sitter.Node) {
		if functionTypes[n.Type()] {
			out = append(out, n.Content(source))
		}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			visit(n.NamedChild(i))
		}
	}
	visit(tree.RootNode())
	return out, nil
}

func parse(ctx context.Context, source []byte) (*sitter.Tree, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(javascript.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, source)
	if err != nil {
		return nil, fmt.Errorf("tree-sitter failed to parse source: %w", err)
	}
	return tree, nil
}

// locateError finds the first ERROR or MISSING node in document order.
func locateError(root *sitter.Node, source []byte) *ParseError {
	var found *sitter.Node
	var visit func(n *sitter.Node)
	visit = func(n *sitter.Node) {
		if found != nil || !n.HasError() && n.Type() != "ERROR" && !n.IsMissing() {
			return
		}
		if n.Type() == "ERROR" || n.IsMissing() {
			found = n
			return
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			visit(n.Child(i))
		}
	}
	visit(root)

	if found == nil {
		found = root
	}
	snippet := found.Content(source)
	if len(snippet) > 40 {
		snippet = snippet[:40]
	}
	return &ParseError{
		Line:    int(found.StartPoint().Row) + 1,
		Column:  int(found.StartPoint().Column) + 1,
		Snippet: strings.TrimSpace(snippet),
	}
}
