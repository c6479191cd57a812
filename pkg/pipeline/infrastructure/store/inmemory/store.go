// Package inmemory provides an in-memory implementation of the table store and
// run repository ports. It is used in tests and for local experimentation;
// transactionality is provided by mutating a deep copy of the state and
// swapping it in only when the transaction function succeeds.
package inmemory

import (
	"context"
	"sort"
	"sync"

	model "github.com/coraldata/medley/pkg/pipeline/core/model"
	port "github.com/coraldata/medley/pkg/pipeline/core/port"
	"github.com/coraldata/medley/pkg/pipeline/support/exception"
)

const moduleName = "inmemory-store"

type memRow struct {
	seq     int64
	values  model.Row
	rescued model.RescueBucket
}

type memTable struct {
	rows   []memRow
	maxSeq int64
}

func (t *memTable) clone() *memTable {
	rows := make([]memRow, len(t.rows))
	copy(rows, t.rows)
	return &memTable{rows: rows, maxSeq: t.maxSeq}
}

type state struct {
	tables      map[string]*memTable
	schemas     map[string]*model.Schema
	checkpoints map[string]*model.Checkpoint
}

func newState() *state {
	return &state{
		tables:      make(map[string]*memTable),
		schemas:     make(map[string]*model.Schema),
		checkpoints: make(map[string]*model.Checkpoint),
	}
}

func (s *state) clone() *state {
	next := newState()
	for name, tbl := range s.tables {
		next.tables[name] = tbl.clone()
	}
	for name, schema := range s.schemas {
		next.schemas[name] = schema.Clone()
	}
	for id, cp := range s.checkpoints {
		next.checkpoints[id] = cp.Clone()
	}
	return next
}

// MemoryStore implements port.TableStore and port.RunRepository in memory.
type MemoryStore struct {
	mu        sync.Mutex
	state     *state
	chainRuns map[string]*model.ChainRun
	stageRuns map[string]*model.StageExecution
}

var (
	_ port.TableStore    = (*MemoryStore)(nil)
	_ port.RunRepository = (*MemoryStore)(nil)
)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		state:     newState(),
		chainRuns: make(map[string]*model.ChainRun),
		stageRuns: make(map[string]*model.StageExecution),
	}
}

// WithinTx mutates a deep copy of the store state and swaps it in only when fn
// succeeds, so a failed transaction leaves the durable state unchanged.
func (m *MemoryStore) WithinTx(ctx context.Context, fn func(tx port.TableTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	staged := m.state.clone()
	if err := fn(&memTx{state: staged}); err != nil {
		return err
	}
	m.state = staged
	return nil
}

// LoadCheckpoint returns a copy of the committed checkpoint, or a fresh empty
// one if the stage has never committed.
func (m *MemoryStore) LoadCheckpoint(ctx context.Context, stageID string) (*model.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cp, ok := m.state.checkpoints[stageID]; ok {
		return cp.Clone(), nil
	}
	return model.NewCheckpoint(stageID), nil
}

// SchemaFor returns a copy of the committed schema, or nil.
func (m *MemoryStore) SchemaFor(ctx context.Context, table string) (*model.Schema, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if schema, ok := m.state.schemas[table]; ok {
		return schema.Clone(), nil
	}
	return nil, nil
}

// ReadSince returns the rows with ingest sequence greater than afterSeq.
func (m *MemoryStore) ReadSince(ctx context.Context, table string, afterSeq int64, limit int) ([]model.Row, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tbl, ok := m.state.tables[table]
	if !ok {
		return nil, afterSeq, exception.Newf(moduleName, exception.KindSourceUnavailable,
			"table %s does not exist", table)
	}

	var rows []model.Row
	maxSeq := afterSeq
	for _, r := range tbl.rows {
		if r.seq <= afterSeq {
			continue
		}
		rows = append(rows, r.values.Clone())
		if r.seq > maxSeq {
			maxSeq = r.seq
		}
		if limit > 0 && len(rows) >= limit {
			break
		}
	}
	return rows, maxSeq, nil
}

// ReadAll returns every row of a table in ingest order.
func (m *MemoryStore) ReadAll(ctx context.Context, table string) ([]model.Row, error) {
	rows, _, err := m.ReadSince(ctx, table, 0, 0)
	return rows, err
}

// CountRows returns the number of rows in a table.
func (m *MemoryStore) CountRows(ctx context.Context, table string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tbl, ok := m.state.tables[table]
	if !ok {
		return 0, nil
	}
	return int64(len(tbl.rows)), nil
}

// RescuedOf returns the rescue buckets of a table in ingest order.
// Test helper; the SQL store surfaces the same data via the _rescued column.
func (m *MemoryStore) RescuedOf(table string) []model.RescueBucket {
	m.mu.Lock()
	defer m.mu.Unlock()
	tbl, ok := m.state.tables[table]
	if !ok {
		return nil
	}
	out := make([]model.RescueBucket, len(tbl.rows))
	for i, r := range tbl.rows {
		out[i] = r.rescued
	}
	return out
}

// SaveChainRun inserts or updates a chain run record.
func (m *MemoryStore) SaveChainRun(ctx context.Context, run *model.ChainRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *run
	m.chainRuns[run.ID] = &cp
	return nil
}

// SaveStageExecution inserts or updates a stage execution record.
func (m *MemoryStore) SaveStageExecution(ctx context.Context, se *model.StageExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *se
	m.stageRuns[se.ID] = &cp
	return nil
}

// FindLatestChainRun returns the most recent run of the named chain, or nil.
func (m *MemoryStore) FindLatestChainRun(ctx context.Context, chainName string) (*model.ChainRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var latest *model.ChainRun
	for _, run := range m.chainRuns {
		if run.ChainName != chainName {
			continue
		}
		if latest == nil || run.StartTime.After(latest.StartTime) {
			latest = run
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	for _, se := range m.stageRuns {
		if se.ChainRunID == latest.ID {
			seCopy := *se
			cp.StageExecutions = append(cp.StageExecutions, &seCopy)
		}
	}
	sort.Slice(cp.StageExecutions, func(i, j int) bool {
		return cp.StageExecutions[i].StartTime.Before(cp.StageExecutions[j].StartTime)
	})
	return &cp, nil
}

// memTx implements port.TableTx against a staged state copy.
type memTx struct {
	state *state
}

var _ port.TableTx = (*memTx)(nil)

func (t *memTx) LoadCheckpoint(stageID string) (*model.Checkpoint, error) {
	if cp, ok := t.state.checkpoints[stageID]; ok {
		return cp.Clone(), nil
	}
	return model.NewCheckpoint(stageID), nil
}

func (t *memTx) EnsureTable(schema *model.Schema) error {
	if !model.ValidColumnName(schema.Table) {
		return exception.Newf(moduleName, exception.KindSchemaConflict, "invalid table name %q", schema.Table)
	}
	for _, f := range schema.Fields {
		if !model.ValidColumnName(f.Name) {
			return exception.Newf(moduleName, exception.KindSchemaConflict,
				"invalid column name %q for table %s", f.Name, schema.Table)
		}
	}
	if _, ok := t.state.tables[schema.Table]; !ok {
		t.state.tables[schema.Table] = &memTable{}
	}
	return nil
}

func (t *memTx) Append(schema *model.Schema, rows []model.TypedRow) (int64, error) {
	tbl, ok := t.state.tables[schema.Table]
	if !ok {
		return 0, exception.Newf(moduleName, exception.KindCommitFailed,
			"table %s does not exist", schema.Table)
	}
	for _, r := range rows {
		tbl.maxSeq++
		values := make(model.Row, len(schema.Fields))
		for _, f := range schema.Fields {
			values[f.Name] = r.Values[f.Name]
		}
		tbl.rows = append(tbl.rows, memRow{seq: tbl.maxSeq, values: values, rescued: r.Rescued})
	}
	return tbl.maxSeq, nil
}

func (t *memTx) SaveSchema(schema *model.Schema) error {
	t.state.schemas[schema.Table] = schema.Clone()
	return nil
}

func (t *memTx) SaveCheckpoint(cp *model.Checkpoint) error {
	t.state.checkpoints[cp.StageID] = cp.Clone()
	return nil
}

func (t *memTx) Truncate(table string) error {
	if tbl, ok := t.state.tables[table]; ok {
		tbl.rows = nil
		tbl.maxSeq = 0
	}
	return nil
}
