// File: internal/network/client_test.go
package network

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/domtaint/internal/config"
)

const body = "var greeting = 'hello ' + name;"

func encode(t *testing.T, encoding string) []byte {
	t.Helper()
	var buf bytes.Buffer
	var w io.WriteCloser
	switch encoding {
	case "gzip":
		w = gzip.NewWriter(&buf)
	case "br":
		w = brotli.NewWriter(&buf)
	case "deflate":
		w = zlib.NewWriter(&buf)
	case "raw-deflate":
		fw, err := flate.NewWriter(&buf, flate.DefaultCompression)
		require.NoError(t, err)
		w = fw
	default:
		t.Fatalf("unknown encoding %s", encoding)
	}
	_, err := w.Write([]byte(body))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestClient_DecodesCompressedBodies(t *testing.T) {
	for _, encoding := range []string{"gzip", "br", "deflate", "raw-deflate"} {
		encoding := encoding
		t.Run(encoding, func(t *testing.T) {
			payload := encode(t, encoding)
			header := encoding
			if encoding == "raw-deflate" {
				header = "deflate"
			}
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, acceptEncoding, r.Header.Get("Accept-Encoding"))
				w.Header().Set("Content-Encoding", header)
				_, _ = w.Write(payload)
			}))
			defer srv.Close()

			resp, err := NewClient(nil).Get(srv.URL)
			require.NoError(t, err)
			defer resp.Body.Close()

			got, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			assert.Equal(t, body, string(got))
			assert.True(t, resp.Uncompressed)
			assert.Empty(t, resp.Header.Get("Content-Encoding"))
		})
	}
}

func TestDecodeBody_Layered(t *testing.T) {
	var inner bytes.Buffer
	zw := zlib.NewWriter(&inner)
	_, _ = zw.Write([]byte(body))
	require.NoError(t, zw.Close())
	var outer bytes.Buffer
	gw := gzip.NewWriter(&outer)
	_, _ = gw.Write(inner.Bytes())
	require.NoError(t, gw.Close())

	resp := &http.Response{
		Header: http.Header{"Content-Encoding": []string{"deflate, gzip"}},
		Body:   io.NopCloser(&outer),
	}
	require.NoError(t, DecodeBody(resp, 0))
	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, body, string(got))
	assert.NoError(t, resp.Body.Close())
}

func TestDecodeBody_Unsupported(t *testing.T) {
	resp := &http.Response{
		Header: http.Header{"Content-Encoding": []string{"zstd"}},
		Body:   io.NopCloser(strings.NewReader("x")),
	}
	err := DecodeBody(resp, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "zstd")
}

func TestDecodeBody_Limit(t *testing.T) {
	tests := []struct {
		name     string
		encoding string
		limit    int64
		tooLarge bool
	}{
		{"plain within limit", "", int64(len(body)), false},
		{"plain over limit", "", int64(len(body)) - 1, true},
		{"gzip limit counts decoded bytes", "gzip", 8, true},
		{"unbounded", "br", 0, false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			payload := []byte(body)
			header := http.Header{}
			if tt.encoding != "" {
				payload = encode(t, tt.encoding)
				header.Set("Content-Encoding", tt.encoding)
			}
			resp := &http.Response{Header: header, Body: io.NopCloser(bytes.NewReader(payload))}
			require.NoError(t, DecodeBody(resp, tt.limit))

			got, err := io.ReadAll(resp.Body)
			if tt.tooLarge {
				require.ErrorIs(t, err, ErrBodyTooLarge)
				assert.Len(t, got, int(tt.limit))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, body, string(got))
		})
	}
}

func TestClient_RejectsOversizedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		gw := gzip.NewWriter(w)
		_, _ = gw.Write(bytes.Repeat([]byte("a"), 4096))
		_ = gw.Close()
	}))
	defer srv.Close()

	cfg := NewDefaultClientConfig()
	cfg.MaxBodySize = 1024
	resp, err := NewClient(cfg).Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	_, err = io.ReadAll(resp.Body)
	assert.ErrorIs(t, err, ErrBodyTooLarge)
}

func TestClient_HeadersAndUserAgent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "domtaint-test", r.Header.Get("User-Agent"))
		assert.Equal(t, "session=1", r.Header.Get("Cookie"))
		assert.Equal(t, "explicit", r.Header.Get("X-Mode"), "request headers win")
	}))
	defer srv.Close()

	cfg := NewDefaultClientConfig()
	cfg.UserAgent = "domtaint-test"
	cfg.Headers = map[string]string{"Cookie": "session=1", "X-Mode": "configured"}

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	req.Header.Set("X-Mode", "explicit")
	resp, err := NewClient(cfg).Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Empty(t, req.Header.Get("Cookie"), "the caller's request is not modified")
}

func TestClient_Redirects(t *testing.T) {
	hops := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/final" {
			_, _ = io.WriteString(w, "done")
			return
		}
		hops++
		http.Redirect(w, r, "/final", http.StatusFound)
	}))
	defer srv.Close()

	resp, err := NewClient(nil).Get(srv.URL + "/start")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, srv.URL+"/final", resp.Request.URL.String())

	cfg := NewDefaultClientConfig()
	cfg.MaxRedirects = 0
	resp, err = NewClient(cfg).Get(srv.URL + "/start")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, 2, hops)
}

func TestClient_IgnoreTLSErrors(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	_, err := NewClient(nil).Get(srv.URL)
	assert.Error(t, err, "self-signed certificates are rejected by default")

	cfg := NewDefaultClientConfig()
	cfg.IgnoreTLSErrors = true
	resp, err := NewClient(cfg).Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
}

func TestNewClientConfig(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.BrowserCfg.UserAgent = "ua"
	cfg.NetworkCfg.NavigationTimeout = 5 * time.Second
	cfg.NetworkCfg.Proxy = config.ProxyConfig{Enabled: true, Address: "http://127.0.0.1:8080"}

	cc, err := NewClientConfig(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, "ua", cc.UserAgent)
	assert.Equal(t, 5*time.Second, cc.RequestTimeout)
	require.NotNil(t, cc.ProxyURL)
	assert.Equal(t, "127.0.0.1:8080", cc.ProxyURL.Host)

	cfg.NetworkCfg.Proxy.Address = "not a url"
	_, err = NewClientConfig(cfg, nil)
	assert.Error(t, err)
}

func TestNewHTTPTransport_HTTP1Only(t *testing.T) {
	cfg := NewDefaultClientConfig()
	cfg.ForceHTTP2 = false
	tr := NewHTTPTransport(cfg)
	assert.Equal(t, []string{"http/1.1"}, tr.TLSClientConfig.NextProtos)
	assert.True(t, tr.DisableCompression)
}
