package retrieval

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func redirectServer(t *testing.T, hops int) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/hop/", func(w http.ResponseWriter, r *http.Request) {
		var n int
		_, err := fmt.Sscanf(r.URL.Path, "/hop/%d", &n)
		require.NoError(t, err)
		if n >= hops {
			_, _ = w.Write([]byte("arrived"))
			return
		}
		http.Redirect(w, r, fmt.Sprintf("/hop/%d", n+1), http.StatusFound)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPTransportRedirectChain(t *testing.T) {
	srv := redirectServer(t, 3)
	transport := NewHTTPTransport()

	resp, err := transport.Do(context.Background(), &TransportRequest{
		URL:          srv.URL + "/hop/0",
		Timeout:      5 * time.Second,
		MaxRedirects: 5,
	})

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "arrived", string(resp.Body))
	assert.Equal(t, []string{
		srv.URL + "/hop/1",
		srv.URL + "/hop/2",
		srv.URL + "/hop/3",
	}, resp.RedirectChain)
}

func TestHTTPTransportRedirectLimit(t *testing.T) {
	srv := redirectServer(t, 3)
	transport := NewHTTPTransport()

	t.Run("exactly at the limit succeeds", func(t *testing.T) {
		resp, err := transport.Do(context.Background(), &TransportRequest{URL: srv.URL + "/hop/0", Timeout: 5 * time.Second, MaxRedirects: 3})
		require.NoError(t, err)
		assert.Len(t, resp.RedirectChain, 3)
	})

	t.Run("exceeding the limit fails", func(t *testing.T) {
		_, err := transport.Do(context.Background(), &TransportRequest{URL: srv.URL + "/hop/0", Timeout: 5 * time.Second, MaxRedirects: 2})
		assert.ErrorIs(t, err, errTooManyRedirects)
	})

	t.Run("zero disables following", func(t *testing.T) {
		_, err := transport.Do(context.Background(), &TransportRequest{URL: srv.URL + "/hop/0", Timeout: 5 * time.Second, MaxRedirects: 0})
		assert.ErrorIs(t, err, errTooManyRedirects)
	})
}

func TestHTTPTransportNonASCIIRedirect(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/start", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Location", "/café")
		w.WriteHeader(http.StatusMovedPermanently)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := NewHTTPTransport().Do(context.Background(), &TransportRequest{URL: srv.URL + "/start", Timeout: 5 * time.Second, MaxRedirects: 5})

	require.NoError(t, err)
	require.Len(t, resp.RedirectChain, 1)
	assert.Equal(t, srv.URL+"/caf%C3%A9", resp.RedirectChain[0])
}

func TestHTTPTransportSendsHeaders(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	resp, err := NewHTTPTransport().Do(context.Background(), &TransportRequest{
		URL:       srv.URL,
		UserAgent: "test/1",
		Timeout:   5 * time.Second,
		Headers:   map[string]string{"X-Request-ID": "req-1"},
	})

	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Empty(t, resp.Body)
	assert.Equal(t, "test/1", got.Get("User-Agent"))
	assert.Equal(t, "req-1", got.Get("X-Request-ID"))
	assert.Equal(t, acceptEncoding, got.Get("Accept-Encoding"))
}

func TestHTTPTransportContentEncodings(t *testing.T) {
	const payload = `{"v":1}`

	compress := map[string]func(t *testing.T) []byte{
		"gzip": func(t *testing.T) []byte {
			var buf bytes.Buffer
			w := gzip.NewWriter(&buf)
			_, err := w.Write([]byte(payload))
			require.NoError(t, err)
			require.NoError(t, w.Close())
			return buf.Bytes()
		},
		"deflate": func(t *testing.T) []byte {
			var buf bytes.Buffer
			w := zlib.NewWriter(&buf)
			_, err := w.Write([]byte(payload))
			require.NoError(t, err)
			require.NoError(t, w.Close())
			return buf.Bytes()
		},
		"zstd": func(t *testing.T) []byte {
			enc, err := zstd.NewWriter(nil)
			require.NoError(t, err)
			defer enc.Close()
			return enc.EncodeAll([]byte(payload), nil)
		},
		"identity": func(_ *testing.T) []byte {
			return []byte(payload)
		},
	}

	for encoding, fn := range compress {
		t.Run(encoding, func(t *testing.T) {
			body := fn(t)
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Encoding", encoding)
				_, _ = w.Write(body)
			}))
			defer srv.Close()

			resp, err := NewHTTPTransport().Do(context.Background(), &TransportRequest{URL: srv.URL, Timeout: 5 * time.Second})

			require.NoError(t, err)
			assert.Equal(t, payload, string(resp.Body))
		})
	}
}

func TestHTTPTransportCorruptEncoding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		_, _ = w.Write([]byte("definitely not gzip"))
	}))
	defer srv.Close()

	_, err := NewHTTPTransport().Do(context.Background(), &TransportRequest{URL: srv.URL, Timeout: 5 * time.Second})
	assert.Error(t, err)
}

func TestHTTPTransportIdleTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	defer func() {
		close(release)
		srv.Close()
	}()

	start := time.Now()
	_, err := NewHTTPTransport().Do(context.Background(), &TransportRequest{URL: srv.URL, Timeout: 100 * time.Millisecond})

	assert.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestHTTPTransportReusesPoolPerTimeout(t *testing.T) {
	transport := NewHTTPTransport()

	a := transport.pool(time.Second)
	b := transport.pool(time.Second)
	c := transport.pool(2 * time.Second)

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	transport.CloseIdleConnections()
}

func TestRetrievalAgainstServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/unavailable") {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("hello"))
	}))
	defer srv.Close()

	r := New(NewHTTPTransport(), nil)

	require.True(t, r.Get(context.Background(), srv.URL+"/ok"))
	assert.True(t, r.IsCompleteContent())
	assert.Equal(t, "hello", string(r.BodyBytes()))
	assert.Equal(t, srv.URL+"/ok", r.LastResolvedLocation())

	require.True(t, r.Get(context.Background(), srv.URL+"/unavailable"))
	assert.False(t, r.IsCompleteContent())
	assert.Equal(t, http.StatusServiceUnavailable, r.StatusCode())
}
