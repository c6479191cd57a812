// Package store persists target tables, the schema registry, checkpoints and
// run bookkeeping in one relational database, so a data append and the
// checkpoint advance covering it can share a single transaction.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	model "github.com/coraldata/medley/pkg/pipeline/core/model"
	port "github.com/coraldata/medley/pkg/pipeline/core/port"
	"github.com/coraldata/medley/pkg/pipeline/support/exception"
	"github.com/coraldata/medley/pkg/pipeline/support/logger"
)

const moduleName = "store"

const (
	seqColumn    = "_ingest_seq"
	rescueColumn = "_rescued"
)

// SQLStore implements port.TableStore and port.RunRepository over GORM.
type SQLStore struct {
	db *gorm.DB
}

var (
	_ port.TableStore    = (*SQLStore)(nil)
	_ port.RunRepository = (*SQLStore)(nil)
)

// NewSQLStore creates a store over an already-migrated connection.
func NewSQLStore(db *gorm.DB) *SQLStore {
	return &SQLStore{db: db}
}

// WithinTx runs fn inside a transaction, committing on nil and rolling back on error.
func (s *SQLStore) WithinTx(ctx context.Context, fn func(tx port.TableTx) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&sqlTx{tx: tx})
	})
}

// LoadCheckpoint returns the committed checkpoint for a stage, or a fresh empty
// checkpoint if the stage has never committed.
func (s *SQLStore) LoadCheckpoint(ctx context.Context, stageID string) (*model.Checkpoint, error) {
	return loadCheckpoint(s.db.WithContext(ctx), stageID)
}

// loadCheckpoint reads a checkpoint through the given handle, which may be a
// plain connection or an open transaction.
func loadCheckpoint(db *gorm.DB, stageID string) (*model.Checkpoint, error) {
	var rec checkpointRecord
	err := db.First(&rec, "stage_id = ?", stageID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.NewCheckpoint(stageID), nil
	}
	if err != nil {
		return nil, exception.Newf(moduleName, exception.KindSourceUnavailable,
			"failed to load checkpoint for stage %s", stageID, err)
	}
	cp := rec.Payload
	cp.StageID = rec.StageID
	if cp.Files == nil {
		cp.Files = make(map[string]model.FileFingerprint)
	}
	return &cp, nil
}

// SchemaFor returns the committed schema of a table, or nil if the table has
// never been written.
func (s *SQLStore) SchemaFor(ctx context.Context, table string) (*model.Schema, error) {
	var rec schemaRecord
	err := s.db.WithContext(ctx).First(&rec, "table_name = ?", table).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, exception.Newf(moduleName, exception.KindSourceUnavailable,
			"failed to load schema for table %s", table, err)
	}
	schema, err := rec.toSchema()
	if err != nil {
		return nil, exception.Newf(moduleName, exception.KindInternal,
			"corrupt schema registry entry for table %s", table, err)
	}
	return schema, nil
}

// ReadSince returns the rows of a table with ingest sequence greater than
// afterSeq, in sequence order, together with the highest sequence returned.
func (s *SQLStore) ReadSince(ctx context.Context, table string, afterSeq int64, limit int) ([]model.Row, int64, error) {
	if err := validTableName(table); err != nil {
		return nil, 0, err
	}
	q := s.db.WithContext(ctx).Table(table).
		Where(seqColumn+" > ?", afterSeq).
		Order(seqColumn)
	if limit > 0 {
		q = q.Limit(limit)
	}

	var results []map[string]interface{}
	if err := q.Find(&results).Error; err != nil {
		return nil, 0, exception.Newf(moduleName, exception.KindSourceUnavailable,
			"failed to read table %s", table, err)
	}

	rows := make([]model.Row, 0, len(results))
	maxSeq := afterSeq
	for _, raw := range results {
		if seq, ok := asInt64(raw[seqColumn]); ok && seq > maxSeq {
			maxSeq = seq
		}
		rows = append(rows, toRow(raw))
	}
	return rows, maxSeq, nil
}

// ReadAll returns every row of a table in ingest order.
func (s *SQLStore) ReadAll(ctx context.Context, table string) ([]model.Row, error) {
	rows, _, err := s.ReadSince(ctx, table, 0, 0)
	return rows, err
}

// CountRows returns the number of rows in a table.
func (s *SQLStore) CountRows(ctx context.Context, table string) (int64, error) {
	if err := validTableName(table); err != nil {
		return 0, err
	}
	var n int64
	if err := s.db.WithContext(ctx).Table(table).Count(&n).Error; err != nil {
		return 0, exception.Newf(moduleName, exception.KindSourceUnavailable,
			"failed to count rows of table %s", table, err)
	}
	return n, nil
}

// SaveChainRun inserts or updates a chain run record.
func (s *SQLStore) SaveChainRun(ctx context.Context, run *model.ChainRun) error {
	rec := newChainRunRecord(run)
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, UpdateAll: true}).
		Create(&rec).Error
	if err != nil {
		return exception.Newf(moduleName, exception.KindCommitFailed,
			"failed to save chain run %s", run.ID, err)
	}
	return nil
}

// SaveStageExecution inserts or updates a stage execution record.
func (s *SQLStore) SaveStageExecution(ctx context.Context, se *model.StageExecution) error {
	rec := newStageRunRecord(se)
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, UpdateAll: true}).
		Create(&rec).Error
	if err != nil {
		return exception.Newf(moduleName, exception.KindCommitFailed,
			"failed to save stage execution %s", se.ID, err)
	}
	return nil
}

// FindLatestChainRun returns the most recent run of the named chain, including
// its stage executions, or nil if the chain has never run.
func (s *SQLStore) FindLatestChainRun(ctx context.Context, chainName string) (*model.ChainRun, error) {
	var rec chainRunRecord
	err := s.db.WithContext(ctx).
		Where("chain_name = ?", chainName).
		Order("start_time DESC").
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, exception.Newf(moduleName, exception.KindSourceUnavailable,
			"failed to load latest run of chain %s", chainName, err)
	}

	run := rec.toChainRun()

	var stageRecs []stageRunRecord
	err = s.db.WithContext(ctx).
		Where("chain_run_id = ?", run.ID).
		Order("start_time").
		Find(&stageRecs).Error
	if err != nil {
		return nil, exception.Newf(moduleName, exception.KindSourceUnavailable,
			"failed to load stage executions of run %s", run.ID, err)
	}
	for _, sr := range stageRecs {
		run.StageExecutions = append(run.StageExecutions, sr.toStageExecution())
	}
	return run, nil
}

// sqlTx implements port.TableTx over one GORM transaction.
type sqlTx struct {
	tx *gorm.DB
}

var _ port.TableTx = (*sqlTx)(nil)

// LoadCheckpoint reads the stage checkpoint as visible to this transaction.
func (t *sqlTx) LoadCheckpoint(stageID string) (*model.Checkpoint, error) {
	return loadCheckpoint(t.tx, stageID)
}

// EnsureTable creates the table for the schema if missing, or adds the columns
// the existing table lacks. Every table carries the reserved ingest sequence
// and rescue columns.
func (t *sqlTx) EnsureTable(schema *model.Schema) error {
	if err := validTableName(schema.Table); err != nil {
		return err
	}
	for _, f := range schema.Fields {
		if !model.ValidColumnName(f.Name) {
			return exception.Newf(moduleName, exception.KindSchemaConflict,
				"invalid column name %q for table %s", f.Name, schema.Table)
		}
	}

	if !t.tx.Migrator().HasTable(schema.Table) {
		cols := []string{
			fmt.Sprintf("%s BIGINT NOT NULL", seqColumn),
			fmt.Sprintf("%s TEXT", rescueColumn),
		}
		for _, f := range schema.Fields {
			cols = append(cols, fmt.Sprintf("%s %s", f.Name, sqlType(f.Type)))
		}
		ddl := fmt.Sprintf("CREATE TABLE %s (%s)", schema.Table, strings.Join(cols, ", "))
		if err := t.tx.Exec(ddl).Error; err != nil {
			return exception.Newf(moduleName, exception.KindCommitFailed,
				"failed to create table %s", schema.Table, err)
		}
		logger.Infof("Created table %s (v%d, %d columns).", schema.Table, schema.Version, len(schema.Fields))
		return nil
	}

	existing, err := t.columnsOf(schema.Table)
	if err != nil {
		return err
	}
	for _, f := range schema.Fields {
		if existing[f.Name] {
			continue
		}
		ddl := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", schema.Table, f.Name, sqlType(f.Type))
		if err := t.tx.Exec(ddl).Error; err != nil {
			return exception.Newf(moduleName, exception.KindCommitFailed,
				"failed to add column %s to table %s", f.Name, schema.Table, err)
		}
		logger.Infof("Added column %s to table %s.", f.Name, schema.Table)
	}
	return nil
}

// Append inserts the rows, assigning each a monotonically increasing ingest
// sequence, and returns the highest sequence assigned.
func (t *sqlTx) Append(schema *model.Schema, rows []model.TypedRow) (int64, error) {
	if err := validTableName(schema.Table); err != nil {
		return 0, err
	}
	var maxSeq int64
	row := t.tx.Raw(fmt.Sprintf("SELECT COALESCE(MAX(%s), 0) FROM %s", seqColumn, schema.Table)).Row()
	if err := row.Scan(&maxSeq); err != nil {
		return 0, exception.Newf(moduleName, exception.KindCommitFailed,
			"failed to read ingest sequence of table %s", schema.Table, err)
	}

	records := make([]map[string]interface{}, 0, len(rows))
	for i, r := range rows {
		rec := make(map[string]interface{}, len(schema.Fields)+2)
		rec[seqColumn] = maxSeq + int64(i) + 1
		if len(r.Rescued) > 0 {
			rec[rescueColumn] = r.Rescued
		} else {
			rec[rescueColumn] = nil
		}
		for _, f := range schema.Fields {
			rec[f.Name] = r.Values[f.Name]
		}
		records = append(records, rec)
	}

	if len(records) > 0 {
		if err := t.tx.Table(schema.Table).Create(records).Error; err != nil {
			return 0, exception.Newf(moduleName, exception.KindCommitFailed,
				"failed to append %d rows to table %s", len(records), schema.Table, err)
		}
	}
	return maxSeq + int64(len(rows)), nil
}

// SaveSchema persists the schema registry entry for the table.
func (t *sqlTx) SaveSchema(schema *model.Schema) error {
	rec, err := newSchemaRecord(schema)
	if err != nil {
		return exception.Newf(moduleName, exception.KindInternal,
			"failed to encode schema for table %s", schema.Table, err)
	}
	err = t.tx.
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "table_name"}}, UpdateAll: true}).
		Create(&rec).Error
	if err != nil {
		return exception.Newf(moduleName, exception.KindCommitFailed,
			"failed to save schema for table %s", schema.Table, err)
	}
	return nil
}

// SaveCheckpoint persists the stage checkpoint.
func (t *sqlTx) SaveCheckpoint(cp *model.Checkpoint) error {
	rec := newCheckpointRecord(cp)
	err := t.tx.
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "stage_id"}}, UpdateAll: true}).
		Create(&rec).Error
	if err != nil {
		return exception.Newf(moduleName, exception.KindCommitFailed,
			"failed to save checkpoint for stage %s", cp.StageID, err)
	}
	return nil
}

// Truncate removes every row of a table. Missing tables are not an error:
// the first rebuild of a target truncates nothing.
func (t *sqlTx) Truncate(table string) error {
	if err := validTableName(table); err != nil {
		return err
	}
	if !t.tx.Migrator().HasTable(table) {
		return nil
	}
	if err := t.tx.Exec(fmt.Sprintf("DELETE FROM %s", table)).Error; err != nil {
		return exception.Newf(moduleName, exception.KindCommitFailed,
			"failed to truncate table %s", table, err)
	}
	return nil
}

// columnsOf lists the current columns of a table.
func (t *sqlTx) columnsOf(table string) (map[string]bool, error) {
	rows, err := t.tx.Raw(fmt.Sprintf("SELECT * FROM %s LIMIT 0", table)).Rows()
	if err != nil {
		return nil, exception.Newf(moduleName, exception.KindCommitFailed,
			"failed to inspect columns of table %s", table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, exception.Newf(moduleName, exception.KindCommitFailed,
			"failed to inspect columns of table %s", table, err)
	}
	out := make(map[string]bool, len(cols))
	for _, c := range cols {
		out[c] = true
	}
	return out, nil
}

// sqlType maps a canonical field type to a portable SQL column type.
func sqlType(ft model.FieldType) string {
	switch ft {
	case model.FieldTypeInt:
		return "BIGINT"
	case model.FieldTypeFloat:
		return "DOUBLE PRECISION"
	case model.FieldTypeBool:
		return "BOOLEAN"
	case model.FieldTypeTimestamp:
		return "TIMESTAMP"
	default:
		return "TEXT"
	}
}

// validTableName rejects table names that cannot be used in unquoted DDL.
func validTableName(table string) error {
	if !model.ValidColumnName(table) {
		return exception.Newf(moduleName, exception.KindSchemaConflict, "invalid table name %q", table)
	}
	return nil
}

// toRow converts a scanned record to a model.Row, dropping the reserved
// columns and normalizing driver-specific scan types.
func toRow(raw map[string]interface{}) model.Row {
	row := make(model.Row, len(raw))
	for k, v := range raw {
		if k == seqColumn || k == rescueColumn {
			continue
		}
		if b, ok := v.([]byte); ok {
			v = string(b)
		}
		row[k] = v
	}
	return row
}

func asInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case float64:
		return int64(n), true
	}
	return 0, false
}
