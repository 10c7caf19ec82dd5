package retrieval

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsCompleteContentStatus(t *testing.T) {
	for _, code := range []int{200, 201, 202, 203, 204, 205} {
		assert.True(t, IsCompleteContentStatus(code), "status %d", code)
	}
	for _, code := range []int{0, 100, 199, 206, 301, 302, 304, 403, 404, 410, 502, 503, 599} {
		assert.False(t, IsCompleteContentStatus(code), "status %d", code)
	}
}

func TestOutcomeIsCompleteContent(t *testing.T) {
	assert.True(t, (&Outcome{Status: 204}).IsCompleteContent())
	assert.False(t, (&Outcome{Status: 206}).IsCompleteContent())
}
