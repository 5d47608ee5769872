package identity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestFileStorage_GetSetRemove(t *testing.T) {
	s, err := NewFileStorage(t.TempDir())
	require.NoError(t, err)

	_, ok, err := s.Get(TokenKey)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(TokenKey, "abc"))
	v, ok, err := s.Get(TokenKey)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "abc", v)

	require.NoError(t, s.Remove(TokenKey))
	require.NoError(t, s.Remove(TokenKey))
	_, ok, _ = s.Get(TokenKey)
	assert.False(t, ok)
}

func TestFileStorage_WatchSeesOtherProcessWrites(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	reader, err := NewFileStorage(dir)
	require.NoError(t, err)
	writer, err := NewFileStorage(dir)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	changes, err := reader.Watch(ctx)
	require.NoError(t, err)

	require.NoError(t, writer.Set(TokenKey, "value-1"))

	deadline := time.After(2 * time.Second)
	for found := false; !found; {
		select {
		case c := <-changes:
			found = c.Key == TokenKey && c.Value == "value-1"
		case <-deadline:
			t.Fatal("no change event")
		}
	}

	cancel()
	for range changes {
	}
}
