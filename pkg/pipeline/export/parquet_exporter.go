// Package export publishes finished tables as parquet files on the object
// store, one file per table per cycle under a timestamped name.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"path"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
	"go.uber.org/fx"

	storage "github.com/coraldata/medley/pkg/pipeline/adapter/storage"
	config "github.com/coraldata/medley/pkg/pipeline/core/config"
	model "github.com/coraldata/medley/pkg/pipeline/core/model"
	port "github.com/coraldata/medley/pkg/pipeline/core/port"
	orchestrator "github.com/coraldata/medley/pkg/pipeline/orchestrator"
	"github.com/coraldata/medley/pkg/pipeline/support/exception"
	"github.com/coraldata/medley/pkg/pipeline/support/logger"
)

const moduleName = "export"

// ParquetExporter reads the configured tables and uploads their full contents
// as snappy-compressed parquet files.
type ParquetExporter struct {
	store   port.TableStore
	objects storage.ObjectStore
	cfg     config.ExportConfig
}

var _ orchestrator.Exporter = (*ParquetExporter)(nil)

// NewParquetExporter creates the exporter from configuration.
func NewParquetExporter(cfg *config.Config, store port.TableStore, objects storage.ObjectStore) *ParquetExporter {
	return &ParquetExporter{
		store:   store,
		objects: objects,
		cfg:     cfg.Medley.Export,
	}
}

// Export writes every configured table that exists. Tables not yet written are
// skipped; a failed table does not block the others.
func (e *ParquetExporter) Export(ctx context.Context) error {
	if !e.cfg.Enabled {
		return nil
	}

	var multiErr error
	for _, table := range e.cfg.Tables {
		if err := e.exportTable(ctx, table); err != nil {
			multiErr = multierror.Append(multiErr, err)
		}
	}
	return multiErr
}

func (e *ParquetExporter) exportTable(ctx context.Context, table string) error {
	schema, err := e.store.SchemaFor(ctx, table)
	if err != nil {
		return err
	}
	if schema == nil {
		logger.Warnf("Export: table %s has never been written, skipping.", table)
		return nil
	}
	rows, err := e.store.ReadAll(ctx, table)
	if err != nil {
		return err
	}

	buf := new(bytes.Buffer)
	if err := writeParquet(buf, schema, rows); err != nil {
		return exception.Newf(moduleName, exception.KindInternal,
			"failed to encode parquet for %s", table, err)
	}

	objectName := path.Join(e.cfg.Prefix, table,
		fmt.Sprintf("data_%s_%s.parquet", time.Now().Format("20060102150405"), randomSuffix(8)))
	if err := e.objects.Upload(ctx, objectName, buf, "application/octet-stream"); err != nil {
		return exception.Newf(moduleName, exception.KindSourceUnavailable,
			"failed to upload parquet file %s", objectName, err)
	}

	logger.Infof("Export: wrote %d rows of %s to %s.", len(rows), table, objectName)
	return nil
}

// writeParquet encodes the rows using a JSON-defined parquet schema derived
// from the table's registered schema, which is only known at runtime.
func writeParquet(buf *bytes.Buffer, schema *model.Schema, rows []model.Row) (err error) {
	groupSize := int64(len(rows))
	if groupSize == 0 {
		groupSize = 1
	}
	pw, err := writer.NewJSONWriterFromWriter(parquetSchema(schema), buf, groupSize)
	if err != nil {
		return err
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	// The library panics on some malformed inputs instead of returning errors.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parquet writer panicked: %v", r)
		}
	}()

	for _, row := range rows {
		encoded, err := json.Marshal(encodeRow(schema, row))
		if err != nil {
			return err
		}
		if err := pw.Write(string(encoded)); err != nil {
			return err
		}
	}
	return pw.WriteStop()
}

// parquetSchema renders the JSON schema string the parquet writer expects.
func parquetSchema(schema *model.Schema) string {
	fields := make([]map[string]string, 0, len(schema.Fields))
	for _, f := range schema.Fields {
		fields = append(fields, map[string]string{"Tag": fieldTag(f)})
	}
	root := map[string]interface{}{
		"Tag":    "name=parquet_go_root, repetitiontype=REQUIRED",
		"Fields": fields,
	}
	encoded, _ := json.Marshal(root)
	return string(encoded)
}

func fieldTag(f model.Field) string {
	var typeSpec string
	switch f.Type {
	case model.FieldTypeInt:
		typeSpec = "type=INT64"
	case model.FieldTypeFloat:
		typeSpec = "type=DOUBLE"
	case model.FieldTypeBool:
		typeSpec = "type=BOOLEAN"
	case model.FieldTypeTimestamp:
		typeSpec = "type=INT64, convertedtype=TIMESTAMP_MILLIS"
	default:
		typeSpec = "type=BYTE_ARRAY, convertedtype=UTF8"
	}
	return fmt.Sprintf("name=%s, %s, repetitiontype=OPTIONAL", f.Name, typeSpec)
}

// encodeRow converts a row to the JSON shape matching the parquet schema.
// Timestamps become epoch milliseconds; fields absent from the schema are left
// out of the file.
func encodeRow(schema *model.Schema, row model.Row) map[string]interface{} {
	out := make(map[string]interface{}, len(schema.Fields))
	for _, f := range schema.Fields {
		value, ok := row[f.Name]
		if !ok || value == nil {
			out[f.Name] = nil
			continue
		}
		if f.Type == model.FieldTypeTimestamp {
			if ts, ok := value.(time.Time); ok {
				out[f.Name] = ts.UnixMilli()
				continue
			}
		}
		out[f.Name] = value
	}
	return out
}

func randomSuffix(length int) string {
	const charset = "abcdefghijklmnopqrstuvwxyz0123456789"
	seededRand := rand.New(rand.NewSource(time.Now().UnixNano()))
	var b strings.Builder
	for i := 0; i < length; i++ {
		b.WriteByte(charset[seededRand.Intn(len(charset))])
	}
	return b.String()
}

// Module provides the exporter as the engine's post-run hook.
var Module = fx.Options(
	fx.Provide(
		fx.Annotate(NewParquetExporter, fx.As(new(orchestrator.Exporter))),
	),
)
