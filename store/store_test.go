package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaborage/go-retrieval/retrieval"
)

func openTemp(t *testing.T) *LevelDB {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "snapshots"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleSnapshot() Snapshot {
	return Snapshot{
		RetrievedAt: time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC),
		Outcome: &retrieval.Outcome{
			Status:    200,
			Header:    retrieval.NewHeaders().Add("Content-Type", "application/json").Add("X-A", "1").Add("X-A", "2"),
			Body:      []byte(`{"v":1}`),
			Requested: "http://a/",
			Resolved:  "http://b/",
		},
	}
}

func TestSaveAndLoad(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "f1", sampleSnapshot()))

	got, ok, err := s.Load(ctx, "f1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, sampleSnapshot().RetrievedAt.Equal(got.RetrievedAt))
	assert.Equal(t, 200, got.Outcome.StatusCode())
	assert.Equal(t, []byte(`{"v":1}`), got.Outcome.BodyBytes())
	assert.Equal(t, "http://a/", got.Outcome.LastRequestedLocation())
	assert.Equal(t, "http://b/", got.Outcome.LastResolvedLocation())
	assert.Equal(t, []string{"1", "2"}, got.Outcome.Headers().Values("x-a"))
}

func TestLoadMissing(t *testing.T) {
	s := openTemp(t)

	_, ok, err := s.Load(context.Background(), "unknown")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSaveOverwritesAndDelete(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	first := sampleSnapshot()
	second := sampleSnapshot()
	second.Outcome.Body = []byte(`{"v":2}`)

	require.NoError(t, s.Save(ctx, "f1", first))
	require.NoError(t, s.Save(ctx, "f1", second))
	got, _, err := s.Load(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"v":2}`), got.Outcome.Body)

	require.NoError(t, s.Delete(ctx, "f1"))
	_, ok, err := s.Load(ctx, "f1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSaveRejectsEmptySnapshot(t *testing.T) {
	s := openTemp(t)
	assert.Error(t, s.Save(context.Background(), "f1", Snapshot{}))
}

func TestCanceledContext(t *testing.T) {
	s := openTemp(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, s.Save(ctx, "f1", sampleSnapshot()), context.Canceled)
	_, _, err := s.Load(ctx, "f1")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClosedStore(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "snapshots"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	assert.ErrorIs(t, s.Save(context.Background(), "f1", sampleSnapshot()), ErrClosed)
}

func TestPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshots")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Save(context.Background(), "f1", sampleSnapshot()))
	require.NoError(t, s.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	_, ok, err := reopened.Load(context.Background(), "f1")
	require.NoError(t, err)
	assert.True(t, ok)
}
