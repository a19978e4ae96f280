// internal/browser/loader/browser.go
package loader

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/cenkalti/backoff/v4"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/domtaint/internal/config"
)

// BrowserLoader navigates a headless Chrome to the target and captures the document
// and script bodies exactly as the server sent them. Nothing the browser executes
// is kept; the scripts run again under the tracker.
type BrowserLoader struct {
	cfg    config.Interface
	logger *zap.Logger
}

// NewBrowserLoader creates a BrowserLoader.
func NewBrowserLoader(cfg config.Interface, logger *zap.Logger) *BrowserLoader {
	return &BrowserLoader{cfg: cfg, logger: logger.Named("browser_loader")}
}

type capturedResponse struct {
	id   network.RequestID
	url  string
	kind network.ResourceType
}

// responseLog records document and script responses in arrival order.
type responseLog struct {
	mu        sync.Mutex
	responses []capturedResponse
}

func (r *responseLog) handle(ev interface{}) {
	e, ok := ev.(*network.EventResponseReceived)
	if !ok || e.Response == nil {
		return
	}
	if e.Type != network.ResourceTypeDocument && e.Type != network.ResourceTypeScript {
		return
	}
	r.mu.Lock()
	r.responses = append(r.responses, capturedResponse{id: e.RequestID, url: e.Response.URL, kind: e.Type})
	r.mu.Unlock()
}

func (r *responseLog) snapshot() []capturedResponse {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]capturedResponse, len(r.responses))
	copy(out, r.responses)
	return out
}

// execOptions translates the application config into chromedp allocator options.
func (l *BrowserLoader) execOptions() []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	browserCfg := l.cfg.Browser()
	if !browserCfg.Headless {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if browserCfg.IgnoreTLSErrors {
		opts = append(opts, chromedp.IgnoreCertErrors)
	}
	if browserCfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(browserCfg.UserAgent))
	}
	if proxy := l.cfg.Network().Proxy; proxy.Enabled && proxy.Address != "" {
		opts = append(opts, chromedp.ProxyServer(proxy.Address))
	}

	for _, arg := range browserCfg.Args {
		key, value, hasValue := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		if !hasValue {
			opts = append(opts, chromedp.Flag(key, true))
			continue
		}
		opts = append(opts, chromedp.Flag(key, value))
	}
	return opts
}

// Load navigates to target, retrying transient navigation failures with exponential
// backoff, then pulls the response bodies out of the browser.
func (l *BrowserLoader) Load(ctx context.Context, target string) (*Page, error) {
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, l.execOptions()...)
	defer cancelAlloc()

	var ctxOpts []chromedp.ContextOption
	if l.cfg.Browser().Debug {
		ctxOpts = append(ctxOpts, chromedp.WithDebugf(l.logger.Sugar().Debugf))
	}
	tabCtx, cancelTab := chromedp.NewContext(allocCtx, ctxOpts...)
	defer cancelTab()

	log := &responseLog{}
	chromedp.ListenTarget(tabCtx, log.handle)

	// The first Run starts the browser; it must not carry the per-attempt timeout.
	setup := []chromedp.Action{network.Enable()}
	if headers := l.cfg.Network().Headers; len(headers) > 0 {
		h := make(network.Headers, len(headers))
		for k, v := range headers {
			h[k] = v
		}
		setup = append(setup, network.SetExtraHTTPHeaders(h))
	}
	if err := chromedp.Run(tabCtx, setup...); err != nil {
		return nil, &NavigationError{URL: target, Message: "failed to start browser", Err: err}
	}

	netCfg := l.cfg.Network()
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = netCfg.RetryMaxElapsed

	var finalURL string
	operation := func() error {
		navCtx, cancel := context.WithTimeout(tabCtx, netCfg.NavigationTimeout)
		defer cancel()

		err := chromedp.Run(navCtx,
			chromedp.Navigate(target),
			chromedp.Sleep(netCfg.PostLoadWait),
			chromedp.Location(&finalURL),
		)
		if err != nil {
			l.logger.Warn("Navigation failed, retrying...", zap.String("url", target), zap.Error(err))
			return &NavigationError{URL: target, Message: "navigation failed", Err: err}
		}
		return nil
	}
	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return nil, err
	}

	var document string
	bodies := make(map[string]string)
	err := chromedp.Run(tabCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		for _, r := range log.snapshot() {
			body, err := network.GetResponseBody(r.id).Do(ctx)
			if err != nil {
				l.logger.Debug("Failed to fetch response body.", zap.String("url", r.url), zap.Error(err))
				continue
			}
			switch r.kind {
			case network.ResourceTypeDocument:
				// Later document responses belong to navigations the page started itself.
				if document == "" {
					document = string(body)
				}
			case network.ResourceTypeScript:
				bodies[r.url] = string(body)
			}
		}
		return nil
	}))
	if err != nil {
		return nil, &NavigationError{URL: target, Message: "failed to read response bodies", Err: err}
	}
	if document == "" {
		l.logger.Debug("Document body unavailable, falling back to the live DOM.", zap.String("url", finalURL))
		if err := chromedp.Run(tabCtx, chromedp.OuterHTML("html", &document, chromedp.ByQuery)); err != nil {
			return nil, &NavigationError{URL: target, Message: "failed to read document", Err: err}
		}
	}

	page, err := assemble(l.logger, finalURL, document, func(src *url.URL) (string, error) {
		body, ok := bodies[src.String()]
		if !ok {
			return "", fmt.Errorf("no response captured for %s", src)
		}
		return body, nil
	})
	if err != nil {
		return nil, err
	}
	l.logger.Info("Loaded page.", zap.String("url", finalURL), zap.Int("scripts", len(page.Scripts)))
	return page, nil
}
