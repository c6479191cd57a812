package local

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	storage "github.com/coraldata/medley/pkg/pipeline/adapter/storage"
)

func TestLocalStore_UploadDownload(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Upload(ctx, "users/batch1.json", strings.NewReader(`{"id":"u1"}`), "application/json"))

	rc, err := store.Download(ctx, "users/batch1.json")
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, `{"id":"u1"}`, string(data))
}

func TestLocalStore_ListWithPrefix(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Upload(ctx, "users/a.json", strings.NewReader("a"), ""))
	require.NoError(t, store.Upload(ctx, "users/b.json", strings.NewReader("bb"), ""))
	require.NoError(t, store.Upload(ctx, "orders/c.json", strings.NewReader("ccc"), ""))

	var names []string
	sizes := map[string]int64{}
	err = store.List(ctx, "users/", func(info storage.ObjectInfo) error {
		names = append(names, info.Name)
		sizes[info.Name] = info.Size
		assert.False(t, info.ModTime.IsZero())
		return nil
	})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"users/a.json", "users/b.json"}, names)
	assert.Equal(t, int64(1), sizes["users/a.json"])
	assert.Equal(t, int64(2), sizes["users/b.json"])
}

func TestLocalStore_DeleteMissingIsNotAnError(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	assert.NoError(t, store.Delete(context.Background(), "nope.json"))
}

func TestLocalStore_RejectsEscapingPaths(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	_, err = store.Download(context.Background(), "../outside.txt")
	assert.Error(t, err)
}
