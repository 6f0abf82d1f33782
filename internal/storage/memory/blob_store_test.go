package memory

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "path/thumb.webp", "image/webp", bytes.NewReader(payload))
	require.NoError(t, err)
	assert.Equal(t, "memory://path/thumb.webp", uri)

	payload[0] = 'C'
	obj, ok := store.Get("path/thumb.webp")
	require.True(t, ok)
	assert.Equal(t, "content", string(obj.Data))
	assert.Equal(t, "image/webp", obj.ContentType)

	obj.Data[0] = 'X'
	again, _ := store.Get("path/thumb.webp")
	assert.Equal(t, "content", string(again.Data), "Get must return a copy")
	assert.Equal(t, []string{"path/thumb.webp"}, store.Paths())
}

func TestBlobStoreRejects(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	_, err := store.PutObject(context.Background(), " ", "", bytes.NewReader(nil))
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = store.PutObject(ctx, "a", "", bytes.NewReader(nil))
	assert.ErrorIs(t, err, context.Canceled)

	_, ok := store.Get("missing")
	assert.False(t, ok)
}
