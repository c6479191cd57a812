package source

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coraldata/medley/pkg/pipeline/adapter/storage/local"
	model "github.com/coraldata/medley/pkg/pipeline/core/model"
)

func writeLanding(t *testing.T, root, name, content string) {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0644))
}

func TestFileWatcher_DiscoverNew(t *testing.T) {
	root := t.TempDir()
	writeLanding(t, root, "users/batch1.json", `[{"id":"u1","email":"a@x.io","age_group":3},{"id":"u2","email":"b@x.io","age_group":5}]`)
	writeLanding(t, root, "orders/batch1.json", `[{"id":"o1"}]`)

	store, err := local.NewLocalStore(root)
	require.NoError(t, err)
	w := NewFileWatcher("users_bronze", store, "users", "json", 0)

	cp := model.NewCheckpoint("users_bronze")
	batch, err := w.DiscoverNew(context.Background(), cp)
	require.NoError(t, err)

	require.Len(t, batch.Rows, 2, "rows outside the watched prefix are ignored")
	assert.Equal(t, "u1", batch.Rows[0]["id"])
	assert.Equal(t, int64(3), batch.Rows[0]["age_group"], "whole JSON numbers decode as int64")
	assert.Equal(t, model.FieldTypeInt, batch.Observed["age_group"])
	assert.Equal(t, model.FieldTypeString, batch.Observed["email"])
	require.Len(t, batch.Origin.Files, 1)
	assert.Equal(t, "users/batch1.json", batch.Origin.Files[0].Path)
}

func TestFileWatcher_SkipsCheckpointedFiles(t *testing.T) {
	root := t.TempDir()
	writeLanding(t, root, "users/batch1.json", `[{"id":"u1"}]`)

	store, err := local.NewLocalStore(root)
	require.NoError(t, err)
	w := NewFileWatcher("users_bronze", store, "users", "json", 0)
	ctx := context.Background()

	cp := model.NewCheckpoint("users_bronze")
	first, err := w.DiscoverNew(ctx, cp)
	require.NoError(t, err)
	require.Len(t, first.Rows, 1)

	advanced := cp.Advance(first.Origin)
	second, err := w.DiscoverNew(ctx, advanced)
	require.NoError(t, err)
	assert.True(t, second.IsEmpty(), "already committed files are not re-discovered")

	// A new file shows up alone in the next batch.
	writeLanding(t, root, "users/batch2.json", `[{"id":"u2"}]`)
	third, err := w.DiscoverNew(ctx, advanced)
	require.NoError(t, err)
	require.Len(t, third.Rows, 1)
	assert.Equal(t, "u2", third.Rows[0]["id"])
}

func TestFileWatcher_MaxFilesBoundsBatch(t *testing.T) {
	root := t.TempDir()
	writeLanding(t, root, "users/a.json", `[{"id":"u1"}]`)
	writeLanding(t, root, "users/b.json", `[{"id":"u2"}]`)
	writeLanding(t, root, "users/c.json", `[{"id":"u3"}]`)

	store, err := local.NewLocalStore(root)
	require.NoError(t, err)
	w := NewFileWatcher("users_bronze", store, "users", "json", 2)

	batch, err := w.DiscoverNew(context.Background(), model.NewCheckpoint("users_bronze"))
	require.NoError(t, err)
	assert.Len(t, batch.Origin.Files, 2, "discovery picks up at most max_files new files")
	assert.Equal(t, "users/a.json", batch.Origin.Files[0].Path, "files are taken in path order")
}

func TestFileWatcher_DecodeFailureIsSourceError(t *testing.T) {
	root := t.TempDir()
	writeLanding(t, root, "users/bad.json", `{not json`)

	store, err := local.NewLocalStore(root)
	require.NoError(t, err)
	w := NewFileWatcher("users_bronze", store, "users", "json", 0)

	_, err = w.DiscoverNew(context.Background(), model.NewCheckpoint("users_bronze"))
	assert.Error(t, err)
}

func TestDecodeCSV(t *testing.T) {
	rows, err := decodeCSV(strings.NewReader("user_id,event_id,platform\nu1,e1,ios\nu2,e2,"))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "ios", rows[0]["platform"])
	assert.Nil(t, rows[1]["platform"], "empty CSV cells decode as nil")
}

func TestDecodeJSONLines(t *testing.T) {
	rows, err := decodeJSONLines(strings.NewReader("{\"id\":\"u1\"}\n\n{\"id\":\"u2\",\"amount\":12.5}\n"))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 12.5, rows[1]["amount"])
}
