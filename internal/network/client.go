// File: internal/network/client.go
// Package network builds the HTTP client used to fetch pages and scripts when no
// browser is involved.
package network

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/http2"

	"github.com/xkilldash9x/domtaint/internal/config"
)

const (
	DefaultDialTimeout           = 5 * time.Second
	DefaultKeepAliveInterval     = 15 * time.Second
	DefaultTLSHandshakeTimeout   = 5 * time.Second
	DefaultResponseHeaderTimeout = 10 * time.Second
	DefaultRequestTimeout        = 30 * time.Second
	DefaultMaxRedirects          = 10
	DefaultMaxBodySize           = 16 << 20

	DefaultMaxIdleConnsPerHost = 8
	DefaultIdleConnTimeout     = 30 * time.Second
)

// ClientConfig holds the configuration for the client and its transport.
type ClientConfig struct {
	IgnoreTLSErrors bool

	RequestTimeout        time.Duration
	TLSHandshakeTimeout   time.Duration
	ResponseHeaderTimeout time.Duration
	DialTimeout           time.Duration

	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
	// MaxRedirects bounds how many redirects a page load follows. Zero disables following.
	MaxRedirects int
	// MaxBodySize bounds the decoded size of a response body. Zero leaves it unbounded.
	MaxBodySize int64

	ForceHTTP2 bool
	ProxyURL   *url.URL
	// UserAgent and Headers are added to every request that does not set them.
	UserAgent string
	Headers   map[string]string

	Logger *zap.Logger
}

// NewDefaultClientConfig returns the defaults used for page loading.
func NewDefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		RequestTimeout:        DefaultRequestTimeout,
		TLSHandshakeTimeout:   DefaultTLSHandshakeTimeout,
		ResponseHeaderTimeout: DefaultResponseHeaderTimeout,
		DialTimeout:           DefaultDialTimeout,
		MaxIdleConnsPerHost:   DefaultMaxIdleConnsPerHost,
		IdleConnTimeout:       DefaultIdleConnTimeout,
		MaxRedirects:          DefaultMaxRedirects,
		MaxBodySize:           DefaultMaxBodySize,
		ForceHTTP2:            true,
		Logger:                zap.NewNop(),
	}
}

// NewClientConfig derives a ClientConfig from the application configuration.
func NewClientConfig(cfg config.Interface, logger *zap.Logger) (*ClientConfig, error) {
	cc := NewDefaultClientConfig()
	if logger != nil {
		cc.Logger = logger.Named("httpclient")
	}
	cc.IgnoreTLSErrors = cfg.Browser().IgnoreTLSErrors
	cc.UserAgent = cfg.Browser().UserAgent
	cc.Headers = cfg.Network().Headers
	if timeout := cfg.Network().NavigationTimeout; timeout > 0 {
		cc.RequestTimeout = timeout
	}
	if proxy := cfg.Network().Proxy; proxy.Enabled && proxy.Address != "" {
		u, err := url.Parse(proxy.Address)
		if err != nil || u.Host == "" {
			return nil, fmt.Errorf("invalid proxy address %q", proxy.Address)
		}
		cc.ProxyURL = u
	}
	return cc, nil
}

// NewHTTPTransport creates the transport described by cfg.
func NewHTTPTransport(cfg *ClientConfig) *http.Transport {
	if cfg == nil {
		cfg = NewDefaultClientConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	dialer := &net.Dialer{Timeout: cfg.DialTimeout, KeepAlive: DefaultKeepAliveInterval}
	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: cfg.IgnoreTLSErrors,
		ClientSessionCache: tls.NewLRUClientSessionCache(64),
	}

	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		TLSClientConfig:       tlsConfig,
		TLSHandshakeTimeout:   cfg.TLSHandshakeTimeout,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		// bodyTransport owns Accept-Encoding and decoding.
		DisableCompression: true,
		ForceAttemptHTTP2:  cfg.ForceHTTP2,
	}
	if cfg.ProxyURL != nil {
		transport.Proxy = http.ProxyURL(cfg.ProxyURL)
	}

	if cfg.ForceHTTP2 {
		if err := http2.ConfigureTransport(transport); err != nil {
			cfg.Logger.Warn("Failed to configure HTTP/2 transport, falling back to HTTP/1.1", zap.Error(err))
		}
	} else {
		tlsConfig.NextProtos = []string{"http/1.1"}
	}
	return transport
}

// NewClient creates an http.Client that decodes compressed bodies up to
// cfg.MaxBodySize bytes, adds the configured headers and follows at most
// cfg.MaxRedirects redirects.
//
// The caller closes every response body.
func NewClient(cfg *ClientConfig) *http.Client {
	if cfg == nil {
		cfg = NewDefaultClientConfig()
	}
	var rt http.RoundTripper = NewHTTPTransport(cfg)
	rt = &headerMiddleware{transport: rt, userAgent: cfg.UserAgent, headers: cfg.Headers}
	rt = &bodyTransport{transport: rt, maxBody: cfg.MaxBodySize, logger: cfg.Logger}

	maxRedirects := cfg.MaxRedirects
	return &http.Client{
		Transport: rt,
		Timeout:   cfg.RequestTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if maxRedirects == 0 {
				return http.ErrUseLastResponse
			}
			if len(via) > maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}
}

type headerMiddleware struct {
	transport http.RoundTripper
	userAgent string
	headers   map[string]string
}

func (h *headerMiddleware) RoundTrip(req *http.Request) (*http.Response, error) {
	if h.userAgent == "" && len(h.headers) == 0 {
		return h.transport.RoundTrip(req)
	}
	// RoundTrippers must not modify the caller's request.
	req = req.Clone(req.Context())
	if h.userAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", h.userAgent)
	}
	for k, v := range h.headers {
		if req.Header.Get(k) == "" {
			req.Header.Set(k, v)
		}
	}
	return h.transport.RoundTrip(req)
}
