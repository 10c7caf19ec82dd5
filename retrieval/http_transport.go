package retrieval

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

const acceptEncoding = "gzip, deflate, zstd"

var errTooManyRedirects = errors.New("redirect limit exceeded")

type contentDecoder func(io.Reader) (io.ReadCloser, error)

// contentDecoders maps Content-Encoding tokens to stream decoders. Built once, never mutated.
var contentDecoders = map[string]contentDecoder{
	"gzip": func(r io.Reader) (io.ReadCloser, error) {
		return gzip.NewReader(r)
	},
	"x-gzip": func(r io.Reader) (io.ReadCloser, error) {
		return gzip.NewReader(r)
	},
	"deflate": zlib.NewReader,
	"zstd": func(r io.Reader) (io.ReadCloser, error) {
		d, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return d.IOReadCloser(), nil
	},
}

// HTTPTransport is the default Transport backed by net/http.
// Connection pools are shared between requests using the same timeout.
type HTTPTransport struct {
	mu    sync.Mutex
	pools map[time.Duration]*http.Transport
}

var _ Transport = (*HTTPTransport)(nil)

// NewHTTPTransport creates a transport with empty connection pools.
func NewHTTPTransport() *HTTPTransport {
	return &HTTPTransport{pools: make(map[time.Duration]*http.Transport)}
}

// Do executes a GET request. Exceeding the redirect limit is an error.
func (t *HTTPTransport) Do(ctx context.Context, req *TransportRequest) (*TransportResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}
	if req.UserAgent != "" {
		httpReq.Header.Set("User-Agent", req.UserAgent)
	}
	httpReq.Header.Set("Accept-Encoding", acceptEncoding)

	var chain []string
	client := &http.Client{
		Transport: t.pool(req.Timeout),
		CheckRedirect: func(next *http.Request, via []*http.Request) error {
			if len(via) > req.MaxRedirects {
				return fmt.Errorf("%w: stopped after %d redirects", errTooManyRedirects, req.MaxRedirects)
			}
			chain = append(chain, asciiLocation(next.URL))
			return nil
		},
	}

	httpResp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	body, err := readBody(httpResp)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return &TransportResponse{
		StatusCode:    httpResp.StatusCode,
		Header:        httpResp.Header,
		Body:          body,
		RedirectChain: chain,
	}, nil
}

// CloseIdleConnections closes idle connections of all pools.
func (t *HTTPTransport) CloseIdleConnections() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, pool := range t.pools {
		pool.CloseIdleConnections()
	}
}

func (t *HTTPTransport) pool(timeout time.Duration) *http.Transport {
	t.mu.Lock()
	defer t.mu.Unlock()

	if pool, ok := t.pools[timeout]; ok {
		return pool
	}

	dialer := &net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}
	pool := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			return &idleTimeoutConn{Conn: conn, timeout: timeout}, nil
		},
		TLSHandshakeTimeout:   timeout,
		ResponseHeaderTimeout: timeout,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConnsPerHost:   4,
		DisableCompression:    true,
	}
	t.pools[timeout] = pool
	return pool
}

// readBody reads the body, undoing Content-Encoding layers in reverse order.
// Unknown encodings are passed through untouched.
func readBody(resp *http.Response) ([]byte, error) {
	var reader io.Reader = resp.Body

	encodings := strings.Split(resp.Header.Get("Content-Encoding"), ",")
	var closers []io.Closer
	defer func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}()

	for i := len(encodings) - 1; i >= 0; i-- {
		token := strings.ToLower(strings.TrimSpace(encodings[i]))
		decode, ok := contentDecoders[token]
		if !ok {
			continue
		}
		rc, err := decode(reader)
		if err != nil {
			return nil, fmt.Errorf("content encoding %q: %w", token, err)
		}
		closers = append(closers, rc)
		reader = rc
	}

	return io.ReadAll(reader)
}

// asciiLocation renders u with every remaining non-ASCII byte percent-encoded.
func asciiLocation(u *url.URL) string {
	s := u.String()
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < utf8.RuneSelf {
			b.WriteByte(c)
			continue
		}
		fmt.Fprintf(&b, "%%%02X", c)
	}
	return b.String()
}

// idleTimeoutConn extends the read deadline before every read, turning the configured
// timeout into an idle-read timeout.
type idleTimeoutConn struct {
	net.Conn
	timeout time.Duration
}

func (c *idleTimeoutConn) Read(b []byte) (int, error) {
	if c.timeout > 0 {
		if err := c.Conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Read(b)
}
