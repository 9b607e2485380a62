package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	data := []byte{1, 2, 3}

	ref, err := s.Put(ctx, "k1", data, "image/png")
	require.NoError(t, err)
	assert.Equal(t, "k1", ref.Key)
	assert.Equal(t, PreviewPath+"k1", ref.URL)
	assert.Equal(t, 1, s.Len())

	data[0] = 9
	got, mimeType, ok := s.Get("k1")
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2, 3}, got)
	assert.Equal(t, "image/png", mimeType)

	require.NoError(t, s.Delete(ctx, "k1"))
	_, _, ok = s.Get("k1")
	assert.False(t, ok)
	assert.Equal(t, 0, s.Len())
	assert.NoError(t, s.Delete(ctx, "k1"), "deleting twice is fine")
}
