package retrieval

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/gaborage/go-retrieval/logger"
)

type mockTransport struct {
	mock.Mock
}

func (m *mockTransport) Do(ctx context.Context, req *TransportRequest) (*TransportResponse, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*TransportResponse)
	return resp, args.Error(1)
}

// capturingLogger returns a debug level logger writing JSON lines into a buffer.
func capturingLogger() (*logger.ZeroLogger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	return logger.NewWithWriter(buf, "debug", false), buf
}

func logEntries(t *testing.T, buf *bytes.Buffer, level string) []map[string]any {
	t.Helper()
	var entries []map[string]any
	scanner := bufio.NewScanner(bytes.NewReader(buf.Bytes()))
	for scanner.Scan() {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry))
		if entry["level"] == level {
			entries = append(entries, entry)
		}
	}
	return entries
}
