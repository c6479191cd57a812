package export

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	storage "github.com/coraldata/medley/pkg/pipeline/adapter/storage"
	"github.com/coraldata/medley/pkg/pipeline/adapter/storage/local"
	config "github.com/coraldata/medley/pkg/pipeline/core/config"
	model "github.com/coraldata/medley/pkg/pipeline/core/model"
	port "github.com/coraldata/medley/pkg/pipeline/core/port"
	"github.com/coraldata/medley/pkg/pipeline/infrastructure/store/inmemory"
)

func seedFeatures(t *testing.T, store *inmemory.MemoryStore) {
	t.Helper()
	schema := model.NewSchema("churn_features", []model.Field{
		{Name: "user_id", Type: model.FieldTypeString},
		{Name: "order_count", Type: model.FieldTypeInt},
		{Name: "built_at", Type: model.FieldTypeTimestamp},
	})
	err := store.WithinTx(context.Background(), func(tx port.TableTx) error {
		if err := tx.EnsureTable(schema); err != nil {
			return err
		}
		if err := tx.SaveSchema(schema); err != nil {
			return err
		}
		_, err := tx.Append(schema, []model.TypedRow{
			{Values: model.Row{"user_id": "u1", "order_count": int64(3), "built_at": time.Now().UTC()}},
			{Values: model.Row{"user_id": "u2", "order_count": int64(0), "built_at": nil}},
		})
		return err
	})
	require.NoError(t, err)
}

func exportConfig(tables ...string) *config.Config {
	cfg := config.NewConfig()
	cfg.Medley.Export.Enabled = true
	cfg.Medley.Export.Tables = tables
	return cfg
}

func listObjects(t *testing.T, objects storage.ObjectStore, prefix string) []storage.ObjectInfo {
	t.Helper()
	var infos []storage.ObjectInfo
	err := objects.List(context.Background(), prefix, func(info storage.ObjectInfo) error {
		infos = append(infos, info)
		return nil
	})
	require.NoError(t, err)
	return infos
}

func TestParquetExporter_WritesOneFilePerTable(t *testing.T) {
	store := inmemory.NewMemoryStore()
	seedFeatures(t, store)
	objects, err := local.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	e := NewParquetExporter(exportConfig("churn_features"), store, objects)
	require.NoError(t, e.Export(context.Background()))

	infos := listObjects(t, objects, "export/churn_features/")
	require.Len(t, infos, 1)
	assert.True(t, strings.HasSuffix(infos[0].Name, ".parquet"))
	assert.Greater(t, infos[0].Size, int64(0))
}

func TestParquetExporter_SkipsMissingTables(t *testing.T) {
	store := inmemory.NewMemoryStore()
	objects, err := local.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	e := NewParquetExporter(exportConfig("never_written"), store, objects)
	require.NoError(t, e.Export(context.Background()))
	assert.Empty(t, listObjects(t, objects, "export/"))
}

func TestParquetExporter_DisabledIsNoOp(t *testing.T) {
	store := inmemory.NewMemoryStore()
	seedFeatures(t, store)
	objects, err := local.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	cfg := exportConfig("churn_features")
	cfg.Medley.Export.Enabled = false

	e := NewParquetExporter(cfg, store, objects)
	require.NoError(t, e.Export(context.Background()))
	assert.Empty(t, listObjects(t, objects, "export/"))
}

func TestWriteParquet_EncodesDynamicSchema(t *testing.T) {
	schema := model.NewSchema("t", []model.Field{
		{Name: "name", Type: model.FieldTypeString},
		{Name: "n", Type: model.FieldTypeInt},
		{Name: "at", Type: model.FieldTypeTimestamp},
	})
	buf := new(bytes.Buffer)
	err := writeParquet(buf, schema, []model.Row{
		{"name": "a", "n": int64(1), "at": time.Unix(1700000000, 0).UTC()},
		{"name": "b", "n": int64(2)},
	})
	require.NoError(t, err)
	// PAR1 magic at both ends of a well-formed file.
	content := buf.Bytes()
	require.Greater(t, len(content), 8)
	assert.Equal(t, "PAR1", string(content[:4]))
	assert.Equal(t, "PAR1", string(content[len(content)-4:]))
}
