package network

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	"go.uber.org/zap"
)

// ErrBodyTooLarge is returned by a response body once it has produced more decoded
// bytes than the client allows.
var ErrBodyTooLarge = errors.New("response body exceeds the size limit")

// acceptEncoding is advertised when the request does not choose its own encodings.
const acceptEncoding = "br, gzip, deflate"

// decoders open one Content-Encoding layer.
var decoders = map[string]func(io.Reader) (io.ReadCloser, error){
	"gzip":    openGzip,
	"x-gzip":  openGzip,
	"deflate": openDeflate,
	"br":      openBrotli,
}

func openGzip(r io.Reader) (io.ReadCloser, error) {
	return gzip.NewReader(r)
}

func openBrotli(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(brotli.NewReader(r)), nil
}

// openDeflate reads zlib wrapped deflate and falls back to raw deflate when the zlib
// header is missing. Servers send both under "deflate".
func openDeflate(r io.Reader) (io.ReadCloser, error) {
	var head bytes.Buffer
	zr, err := zlib.NewReader(io.TeeReader(r, &head))
	if err == nil {
		return zr, nil
	}
	return flate.NewReader(io.MultiReader(bytes.NewReader(head.Bytes()), r)), nil
}

// bodyTransport asks for compressed responses and hands the caller decoded bodies that
// stop at maxBody bytes. Scripts must reach the rewriter as plain text, and a small
// compressed response can expand without bound.
type bodyTransport struct {
	transport http.RoundTripper
	maxBody   int64
	logger    *zap.Logger
}

func (t *bodyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("Accept-Encoding") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("Accept-Encoding", acceptEncoding)
	}

	resp, err := t.transport.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	encoding := resp.Header.Get("Content-Encoding")
	if err := DecodeBody(resp, t.maxBody); err != nil {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("failed to decode response from %s: %w", req.URL, err)
	}
	if encoding != "" {
		t.logger.Debug("Decoded response body.", zap.String("url", req.URL.String()), zap.String("encoding", encoding))
	}
	return resp, nil
}

// DecodeBody replaces resp.Body with a reader that undoes every layer listed in
// Content-Encoding, last applied first, and fails with ErrBodyTooLarge after limit
// decoded bytes. A limit of zero or less leaves the size unbounded.
func DecodeBody(resp *http.Response, limit int64) error {
	if resp == nil || resp.Body == nil {
		return nil
	}
	var encodings []string
	for _, value := range resp.Header.Values("Content-Encoding") {
		for _, part := range strings.Split(value, ",") {
			if enc := strings.ToLower(strings.TrimSpace(part)); enc != "" && enc != "identity" {
				encodings = append(encodings, enc)
			}
		}
	}

	body := &cappedBody{r: resp.Body, limit: limit, closers: []io.Closer{resp.Body}}
	for i := len(encodings) - 1; i >= 0; i-- {
		open, ok := decoders[encodings[i]]
		if !ok {
			return fmt.Errorf("unsupported Content-Encoding %q", encodings[i])
		}
		rc, err := open(body.r)
		if err != nil {
			return fmt.Errorf("%s: %w", encodings[i], err)
		}
		body.r = rc
		body.closers = append(body.closers, rc)
	}
	resp.Body = body

	if len(encodings) > 0 {
		resp.Header.Del("Content-Encoding")
		resp.Header.Del("Content-Length")
		resp.ContentLength = -1
		resp.Uncompressed = true
	}
	return nil
}

// cappedBody reads the outermost decoder and closes every layer, innermost last.
type cappedBody struct {
	r       io.Reader
	closers []io.Closer
	limit   int64
	read    int64
}

func (b *cappedBody) Read(p []byte) (int, error) {
	n, err := b.r.Read(p)
	b.read += int64(n)
	if b.limit > 0 && b.read > b.limit {
		keep := n - int(b.read-b.limit)
		if keep < 0 {
			keep = 0
		}
		return keep, fmt.Errorf("%w of %d bytes", ErrBodyTooLarge, b.limit)
	}
	return n, err
}

func (b *cappedBody) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		errs = append(errs, b.closers[i].Close())
	}
	return errors.Join(errs...)
}
