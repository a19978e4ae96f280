package loader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/html/charset"

	"github.com/xkilldash9x/domtaint/internal/config"
	"github.com/xkilldash9x/domtaint/internal/network"
)

// HTTPLoader fetches the page and its external scripts with a plain HTTP client. It
// sees the markup the server sends, without anything a browser would build at
// runtime, and needs no Chrome installation.
type HTTPLoader struct {
	client *http.Client
	logger *zap.Logger
}

// NewHTTPLoader creates an HTTPLoader using the network settings of cfg. Bodies are
// capped at network.DefaultMaxBodySize decoded bytes.
func NewHTTPLoader(cfg config.Interface, logger *zap.Logger) (*HTTPLoader, error) {
	cc, err := network.NewClientConfig(cfg, logger)
	if err != nil {
		return nil, err
	}
	return &HTTPLoader{client: network.NewClient(cc), logger: logger.Named("http_loader")}, nil
}

// Load fetches target, follows redirects and resolves scripts against the final URL.
func (l *HTTPLoader) Load(ctx context.Context, target string) (*Page, error) {
	markup, finalURL, err := l.get(ctx, target)
	if err != nil {
		return nil, &NavigationError{URL: target, Message: "failed to fetch page", Err: err}
	}

	page, err := assemble(l.logger, finalURL, markup, func(src *url.URL) (string, error) {
		if src.Scheme != "http" && src.Scheme != "https" {
			return "", fmt.Errorf("unsupported script scheme %q", src.Scheme)
		}
		body, _, err := l.get(ctx, src.String())
		return body, err
	})
	if err != nil {
		return nil, err
	}
	l.logger.Debug("Fetched page over HTTP.", zap.String("url", finalURL), zap.Int("scripts", len(page.Scripts)))
	return page, nil
}

// get returns the decoded body and the URL of the final response.
func (l *HTTPLoader) get(ctx context.Context, target string) (string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", "", err
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", "", fmt.Errorf("unexpected status %s", resp.Status)
	}

	reader, err := charset.NewReader(resp.Body, resp.Header.Get("Content-Type"))
	if err != nil {
		return "", "", fmt.Errorf("failed to decode body: %w", err)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return "", "", fmt.Errorf("failed to read body: %w", err)
	}
	return strings.TrimPrefix(string(body), "\ufeff"), resp.Request.URL.String(), nil
}
