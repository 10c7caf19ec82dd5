package retrieval

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

const (
	testLocation         = "http://example.com/data"
	testRedirectLocation = "https://mirror.example.com/data"
)

func TestIsSupportedLocation(t *testing.T) {
	cases := map[string]bool{
		"http://example.com":       true,
		"https://example.com/a?b":  true,
		"HTTP://EXAMPLE.COM":       true,
		"HtTpS://example.com":      true,
		"ftp://example.com":        false,
		"file:///etc/passwd":       false,
		"example.com":              false,
		"":                         false,
		"://example.com":           false,
		"http:/example.com":        false,
		"mailto:someone@localhost": false,
	}
	for location, expected := range cases {
		assert.Equal(t, expected, IsSupportedLocation(location), location)
	}
}

func TestNewDefaults(t *testing.T) {
	r := New(nil, nil)

	assert.Equal(t, DefaultConfig(), r.Config())
	assert.Equal(t, DefaultTimeout, r.Timeout())
	assert.Equal(t, DefaultUserAgent, r.UserAgent())
	assert.Equal(t, DefaultMaximumFollowedRedirects, r.MaximumFollowedRedirects())
	assert.Empty(t, r.LastRequestedLocation())
	assert.Empty(t, r.LastResolvedLocation())
	assert.Nil(t, r.BodyBytes())
	assert.Nil(t, r.Headers())
	assert.Nil(t, r.Outcome())
	assert.NoError(t, r.LastError())
	assert.False(t, r.IsCompleteContent())
}

func TestSetUserAgent(t *testing.T) {
	t.Run("accepts non-blank values", func(t *testing.T) {
		r := New(nil, nil)
		r.SetUserAgent("agent/2")
		assert.Equal(t, "agent/2", r.UserAgent())
	})

	t.Run("keeps previous value for blank input", func(t *testing.T) {
		for _, blank := range []string{"", " ", "\t", " \n \r "} {
			log, buf := capturingLogger()
			r := New(nil, log)
			r.SetUserAgent("previous/1")

			r.SetUserAgent(blank)

			assert.Equal(t, "previous/1", r.UserAgent())
			assert.Len(t, logEntries(t, buf, "warn"), 1)
		}
	})
}

func TestSetMaximumFollowedRedirects(t *testing.T) {
	t.Run("negative values are limited to zero with a warning", func(t *testing.T) {
		for _, limit := range []int{-1, -5, -1000} {
			log, buf := capturingLogger()
			r := New(nil, log)
			r.SetMaximumFollowedRedirects(7)

			r.SetMaximumFollowedRedirects(limit)

			assert.Equal(t, 0, r.MaximumFollowedRedirects())
			assert.Len(t, logEntries(t, buf, "warn"), 1)
		}
	})

	t.Run("values up to ten are accepted silently", func(t *testing.T) {
		for _, limit := range []int{0, 1, 5, 10} {
			log, buf := capturingLogger()
			r := New(nil, log)

			r.SetMaximumFollowedRedirects(limit)

			assert.Equal(t, limit, r.MaximumFollowedRedirects())
			assert.Empty(t, logEntries(t, buf, "warn"))
		}
	})

	t.Run("values above ten are accepted with a warning", func(t *testing.T) {
		for _, limit := range []int{11, 42, 123} {
			log, buf := capturingLogger()
			r := New(nil, log)

			r.SetMaximumFollowedRedirects(limit)

			assert.Equal(t, limit, r.MaximumFollowedRedirects())
			assert.Len(t, logEntries(t, buf, "warn"), 1)
		}
	})
}

func TestSetTimeoutRejectsNonPositive(t *testing.T) {
	r := New(nil, nil)
	r.SetTimeout(5 * time.Second)

	r.SetTimeout(0)
	r.SetTimeout(-time.Second)

	assert.Equal(t, 5*time.Second, r.Timeout())
}

func TestConfigureAndCopyConfiguration(t *testing.T) {
	transport := &mockTransport{}
	r := New(transport, nil, WithConfig(Config{
		Timeout:                  5 * time.Second,
		UserAgent:                "test/1",
		MaximumFollowedRedirects: 3,
	}))

	transport.On("Do", mock.Anything, mock.Anything).Return(&TransportResponse{StatusCode: http.StatusOK}, nil).Once()
	require.True(t, r.Get(context.Background(), testLocation))

	clone := r.CopyConfiguration()
	assert.Equal(t, r.Config(), clone.Config())
	assert.Nil(t, clone.Outcome())
	assert.Empty(t, clone.LastRequestedLocation())

	clone.SetUserAgent("other/2")
	assert.Equal(t, "test/1", r.UserAgent())
}

func TestGetPassesConfigurationToTransport(t *testing.T) {
	transport := &mockTransport{}
	r := New(transport, nil)
	r.Configure(Config{Timeout: 5 * time.Second, UserAgent: "test/1", MaximumFollowedRedirects: 5})

	transport.On("Do", mock.Anything, mock.MatchedBy(func(req *TransportRequest) bool {
		return req.URL == testLocation &&
			req.UserAgent == "test/1" &&
			req.Timeout == 5*time.Second &&
			req.MaxRedirects == 5 &&
			req.Headers["X-Request-ID"] != ""
	})).Return(&TransportResponse{StatusCode: http.StatusOK, Body: []byte("ok")}, nil).Once()

	assert.True(t, r.Get(context.Background(), testLocation))
	transport.AssertExpectations(t)
}

func TestGetResolvedLocation(t *testing.T) {
	t.Run("equals requested location without redirects", func(t *testing.T) {
		transport := &mockTransport{}
		transport.On("Do", mock.Anything, mock.Anything).Return(&TransportResponse{StatusCode: http.StatusOK}, nil)
		r := New(transport, nil)

		require.True(t, r.Get(context.Background(), testLocation))

		assert.Equal(t, testLocation, r.LastRequestedLocation())
		assert.Equal(t, testLocation, r.LastResolvedLocation())
	})

	t.Run("equals last hop of redirect chain", func(t *testing.T) {
		for n := 1; n <= 4; n++ {
			chain := make([]string, 0, n)
			for i := 1; i < n; i++ {
				chain = append(chain, "http://hop.example.com/"+string(rune('a'+i)))
			}
			chain = append(chain, testRedirectLocation)

			transport := &mockTransport{}
			transport.On("Do", mock.Anything, mock.Anything).Return(&TransportResponse{
				StatusCode:    http.StatusOK,
				RedirectChain: chain,
			}, nil)
			r := New(transport, nil)

			require.True(t, r.Get(context.Background(), testLocation))

			assert.Equal(t, testLocation, r.LastRequestedLocation())
			assert.Equal(t, testRedirectLocation, r.LastResolvedLocation())
		}
	})
}

func TestGetCapturesResponse(t *testing.T) {
	transport := &mockTransport{}
	transport.On("Do", mock.Anything, mock.Anything).Return(&TransportResponse{
		StatusCode: http.StatusNotFound,
		Header:     http.Header{"Content-Type": {"text/plain"}, "X-Multi": {"a", "b"}},
		Body:       []byte("missing"),
	}, nil)
	r := New(transport, nil)

	assert.True(t, r.Get(context.Background(), testLocation), "HTTP error codes still count as network success")
	assert.Equal(t, http.StatusNotFound, r.StatusCode())
	assert.False(t, r.IsCompleteContent())
	assert.Equal(t, []byte("missing"), r.BodyBytes())
	assert.Equal(t, []string{"a", "b"}, r.Headers().Values("x-multi"))
	ct, ok := r.Headers().First("CONTENT-TYPE")
	assert.True(t, ok)
	assert.Equal(t, "text/plain", ct)
	assert.NoError(t, r.LastError())
}

func TestGetUnsupportedProtocol(t *testing.T) {
	for _, location := range []string{"ftp://example.com/", "", "example.com", "gopher://x"} {
		transport := &mockTransport{}
		transport.On("Do", mock.Anything, mock.Anything).Return(&TransportResponse{StatusCode: http.StatusOK}, nil).Once()
		log, buf := capturingLogger()
		r := New(transport, log)
		require.True(t, r.Get(context.Background(), testLocation))

		assert.False(t, r.Get(context.Background(), location))

		assert.Equal(t, location, r.LastRequestedLocation())
		assert.Empty(t, r.LastResolvedLocation())
		assert.Nil(t, r.BodyBytes())
		assert.Nil(t, r.Headers())
		assert.Equal(t, 0, r.StatusCode())
		assert.True(t, IsErrorType(r.LastError(), UnsupportedProtocol))
		assert.Len(t, logEntries(t, buf, "warn"), 1)
		transport.AssertNumberOfCalls(t, "Do", 1)
	}
}

func TestGetTransportErrorClearsOutcome(t *testing.T) {
	ioErr := errors.New("connection reset")
	transport := &mockTransport{}
	transport.On("Do", mock.Anything, mock.Anything).Return(&TransportResponse{StatusCode: http.StatusOK, Body: []byte("old")}, nil).Once()
	transport.On("Do", mock.Anything, mock.Anything).Return(nil, ioErr).Once()
	r := New(transport, nil)

	require.True(t, r.Get(context.Background(), testLocation))
	require.NotNil(t, r.Outcome())

	assert.False(t, r.Get(context.Background(), testRedirectLocation))
	assert.Equal(t, testRedirectLocation, r.LastRequestedLocation())
	assert.Nil(t, r.Outcome())
	assert.Nil(t, r.BodyBytes())
	assert.Empty(t, r.LastResolvedLocation())
	assert.True(t, IsErrorType(r.LastError(), TransportError))
	assert.ErrorIs(t, r.LastError(), ioErr)
}

func TestGetRecordsSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	transport := &mockTransport{}
	transport.On("Do", mock.Anything, mock.Anything).Return(&TransportResponse{StatusCode: http.StatusServiceUnavailable}, nil).Once()
	transport.On("Do", mock.Anything, mock.Anything).Return(nil, errors.New("boom")).Once()
	r := New(transport, nil, WithTracerProvider(tp))

	r.Get(context.Background(), testLocation)
	r.Get(context.Background(), testLocation)

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	for _, span := range spans {
		assert.Equal(t, "retrieval.get", span.Name())
		assert.Equal(t, codes.Error, span.Status().Code)
	}

	var status int64
	for _, attr := range spans[0].Attributes() {
		if attr.Key == "http.response.status_code" {
			status = attr.Value.AsInt64()
		}
	}
	assert.Equal(t, int64(http.StatusServiceUnavailable), status)
}
