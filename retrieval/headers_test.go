package retrieval

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeadersCaseInsensitive(t *testing.T) {
	h := NewHeaders().
		Add("Content-Type", "application/json").
		Add("X-Trace", "one").
		Add("x-trace", "two")

	first, ok := h.First("CONTENT-type")
	require.True(t, ok)
	assert.Equal(t, "application/json", first)
	assert.Equal(t, []string{"one", "two"}, h.Values("X-TRACE"))
	assert.Equal(t, 2, h.Len())

	_, ok = h.First("missing")
	assert.False(t, ok)
	assert.Empty(t, h.Values("missing"))
}

func TestHeadersReturnCopies(t *testing.T) {
	h := NewHeaders().Add("A", "1")

	values := h.Values("a")
	values[0] = "changed"
	all := h.All()
	all["a"][0] = "changed"
	all["b"] = []string{"new"}

	assert.Equal(t, []string{"1"}, h.Values("a"))
	assert.Equal(t, 1, h.Len())
}

func TestHeadersNilSafe(t *testing.T) {
	var h *Headers

	_, ok := h.First("a")
	assert.False(t, ok)
	assert.Nil(t, h.Values("a"))
	assert.Empty(t, h.All())
	assert.Equal(t, 0, h.Len())

	var zero Headers
	zero.Add("A", "1")
	assert.Equal(t, []string{"1"}, zero.Values("a"))
}

func TestHeadersFromHTTP(t *testing.T) {
	h := HeadersFromHTTP(http.Header{"Set-Cookie": {"a=1", "b=2"}, "Etag": {"x"}})

	assert.Equal(t, []string{"a=1", "b=2"}, h.Values("set-cookie"))
	assert.Equal(t, []string{"x"}, h.Values("ETag"))
}

func TestHeadersJSON(t *testing.T) {
	h := NewHeaders().Add("Content-Type", "text/plain").Add("X-A", "1").Add("X-A", "2")

	data, err := json.Marshal(h)
	require.NoError(t, err)

	var restored Headers
	require.NoError(t, json.Unmarshal(data, &restored))
	assert.Equal(t, h.All(), restored.All())
}
