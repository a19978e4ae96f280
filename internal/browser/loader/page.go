// Package loader fetches a target page and the scripts it runs, in document order.
package loader

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/antchfx/htmlquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/domtaint/internal/config"
)

// Script is one classic script of a page.
type Script struct {
	// Name is the resolved src URL, or "inline-N" for inline scripts.
	Name   string
	Source string
}

// Page is a loaded document and its scripts.
type Page struct {
	URL     string
	HTML    string
	Scripts []Script
}

// Loader loads a target into a Page.
type Loader interface {
	Load(ctx context.Context, target string) (*Page, error)
}

// New returns a loader that reads local targets from disk and fetches http(s) targets
// with the engine named by browser.engine. The HTTP engine falls back to the browser
// when its client cannot be built.
func New(cfg config.Interface, logger *zap.Logger) Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &schemeLoader{file: NewFileLoader(logger)}
	if cfg.Browser().Engine == "http" {
		httpLoader, err := NewHTTPLoader(cfg, logger)
		if err == nil {
			s.remote = httpLoader
			return s
		}
		logger.Warn("Falling back to the browser loader.", zap.Error(err))
	}
	s.remote = NewBrowserLoader(cfg, logger)
	return s
}

type schemeLoader struct {
	file   Loader
	remote Loader
}

func (s *schemeLoader) Load(ctx context.Context, target string) (*Page, error) {
	if IsRemote(target) {
		return s.remote.Load(ctx, target)
	}
	return s.file.Load(ctx, target)
}

// IsRemote reports whether target is an http or https URL.
func IsRemote(target string) bool {
	u, err := url.Parse(target)
	if err != nil {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

// fetchFunc returns the body of the script at the resolved URL.
type fetchFunc func(src *url.URL) (string, error)

// assemble parses markup and collects its classic scripts in document order. External
// scripts that cannot be fetched are logged and skipped.
func assemble(logger *zap.Logger, pageURL, markup string, fetch fetchFunc) (*Page, error) {
	doc, err := htmlquery.Parse(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("failed to parse page HTML: %w", err)
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid page URL %q: %w", pageURL, err)
	}
	if baseTag := htmlquery.FindOne(doc, "//head/base[@href]"); baseTag != nil {
		if b, err := base.Parse(htmlquery.SelectAttr(baseTag, "href")); err == nil {
			base = b
		}
	}

	page := &Page{URL: pageURL, HTML: markup}
	inline := 0
	for _, node := range htmlquery.Find(doc, "//script") {
		if !isClassicScript(node) {
			continue
		}
		src := htmlquery.SelectAttr(node, "src")
		if src == "" {
			inline++
			page.Scripts = append(page.Scripts, Script{
				Name:   fmt.Sprintf("inline-%d", inline),
				Source: htmlquery.InnerText(node),
			})
			continue
		}

		resolved, err := base.Parse(src)
		if err != nil {
			logger.Warn("Skipping script with invalid src.", zap.String("src", src), zap.Error(err))
			continue
		}
		body, err := fetch(resolved)
		if err != nil {
			logger.Warn("Skipping script that could not be fetched.", zap.String("src", resolved.String()), zap.Error(err))
			continue
		}
		page.Scripts = append(page.Scripts, Script{Name: resolved.String(), Source: body})
	}
	return page, nil
}

// isClassicScript accepts scripts without a type or with a JavaScript MIME type.
// Modules, JSON blocks and templates are not run.
func isClassicScript(node *html.Node) bool {
	typ := strings.ToLower(strings.TrimSpace(htmlquery.SelectAttr(node, "type")))
	if i := strings.IndexByte(typ, ';'); i >= 0 {
		typ = strings.TrimSpace(typ[:i])
	}
	switch typ {
	case "", "text/javascript", "application/javascript", "application/x-javascript",
		"text/ecmascript", "application/ecmascript", "text/jscript":
		return true
	}
	return false
}
