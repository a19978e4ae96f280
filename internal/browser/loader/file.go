package loader

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// FileLoader reads a page from the local filesystem. External scripts are read
// relative to the page; remote script URLs are skipped.
type FileLoader struct {
	logger *zap.Logger
}

// NewFileLoader creates a FileLoader.
func NewFileLoader(logger *zap.Logger) *FileLoader {
	return &FileLoader{logger: logger.Named("file_loader")}
}

// Load reads target, a path or a file:// URL.
func (l *FileLoader) Load(ctx context.Context, target string) (*Page, error) {
	path := target
	if u, err := url.Parse(target); err == nil && u.Scheme == "file" {
		path = u.Path
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %q: %w", target, err)
	}
	markup, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to read page: %w", err)
	}

	pageURL := (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String()
	page, err := assemble(l.logger, pageURL, string(markup), func(src *url.URL) (string, error) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if src.Scheme != "file" {
			return "", fmt.Errorf("remote script %s is not available to the file loader", src)
		}
		body, err := os.ReadFile(filepath.FromSlash(src.Path))
		if err != nil {
			return "", err
		}
		return strings.TrimPrefix(string(body), "\ufeff"), nil
	})
	if err != nil {
		return nil, err
	}
	l.logger.Debug("Loaded page from disk.", zap.String("path", abs), zap.Int("scripts", len(page.Scripts)))
	return page, nil
}
