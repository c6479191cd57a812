// Package port defines the core interfaces (ports) of the pipeline.
// These interfaces abstract the application's capabilities and dependencies,
// allowing for flexible implementation and testing.
package port

import (
	"context"

	model "github.com/coraldata/medley/pkg/pipeline/core/model"
)

// SourceWatcher discovers source data that appeared since the last committed
// checkpoint. Discovery never mutates the checkpoint; only a successful commit
// advances it.
type SourceWatcher interface {
	// DiscoverNew lists the source and returns the rows not yet covered by the
	// given checkpoint, together with the origin the checkpoint must be advanced
	// over once those rows commit. An empty batch means there is nothing new.
	//
	// Parameters:
	//   ctx: The context for the operation.
	//   cp: The last committed checkpoint for the calling stage.
	//
	// Returns:
	//   *model.RecordBatch: The newly discovered rows and their origin.
	//   error: An error if the source cannot be listed or decoded.
	DiscoverNew(ctx context.Context, cp *model.Checkpoint) (*model.RecordBatch, error)

	// Source returns a human-readable description of the watched source.
	Source() string
}

// Transformer converts a raw record batch into a typed batch conforming to the
// stage's target schema. Per-row cast failures are routed to the row's rescue
// bucket and never abort the batch.
type Transformer interface {
	// Apply transforms the batch against the current schema of the target table.
	// Under the evolve policy the returned batch may carry an extended schema;
	// under the fixed policy the schema is returned unchanged and non-conforming
	// fields land in the rescue buckets.
	//
	// Parameters:
	//   ctx: The context for the operation.
	//   batch: The raw rows to transform.
	//   current: The committed schema of the target table (nil if the table does not exist yet).
	//
	// Returns:
	//   *model.TypedBatch: The typed rows, rescue buckets and target schema.
	//   error: An error only for conditions that must fail the stage, such as a schema conflict.
	Apply(ctx context.Context, batch *model.RecordBatch, current *model.Schema) (*model.TypedBatch, error)
}

// Writer atomically persists a typed batch and advances the stage checkpoint.
// Write and advance happen in one transaction: after a crash at any point, the
// pair (table contents, checkpoint) is always consistent.
type Writer interface {
	// Commit appends the batch to its target table, persists the (possibly
	// evolved) schema and advances the checkpoint over the batch's origin, all
	// within a single transaction. A batch whose origin is already covered by
	// the checkpoint commits as a no-op.
	//
	// Parameters:
	//   ctx: The context for the operation.
	//   stageID: The identifier owning the checkpoint.
	//   batch: The typed batch to persist.
	//
	// Returns:
	//   *model.CommitResult: Row counts, schema version and the no-op flag.
	//   error: An error if the transaction failed; durable state is then unchanged.
	Commit(ctx context.Context, stageID string, batch *model.TypedBatch) (*model.CommitResult, error)
}

// TableTx exposes the operations available inside one store transaction.
// Everything performed through a TableTx commits or rolls back together.
type TableTx interface {
	// LoadCheckpoint returns the committed checkpoint for a stage as visible to
	// this transaction, or a fresh empty checkpoint if the stage has never
	// committed. Reading it here lets a writer decide idempotence and advance
	// the checkpoint under the same transaction.
	LoadCheckpoint(stageID string) (*model.Checkpoint, error)
	// EnsureTable creates the table for the schema if missing, or adds the
	// columns the existing table lacks.
	EnsureTable(schema *model.Schema) error
	// Append inserts the rows, assigning each a monotonically increasing ingest
	// sequence. It returns the highest sequence assigned.
	Append(schema *model.Schema, rows []model.TypedRow) (int64, error)
	// SaveSchema persists the schema registry entry for the table.
	SaveSchema(schema *model.Schema) error
	// SaveCheckpoint persists the stage checkpoint.
	SaveCheckpoint(cp *model.Checkpoint) error
	// Truncate removes every row of a table (used by full-rebuild stages).
	Truncate(table string) error
}

// TableStore is the storage port backing every stage: target tables, the
// schema registry, checkpoints and run bookkeeping live in the same database
// so one transaction can cover data append and checkpoint advance.
type TableStore interface {
	// WithinTx runs fn inside a transaction, committing on nil and rolling back
	// on error.
	WithinTx(ctx context.Context, fn func(tx TableTx) error) error

	// LoadCheckpoint returns the committed checkpoint for a stage, or a fresh
	// empty checkpoint if the stage has never committed.
	LoadCheckpoint(ctx context.Context, stageID string) (*model.Checkpoint, error)

	// SchemaFor returns the committed schema of a table, or nil if the table has
	// never been written.
	SchemaFor(ctx context.Context, table string) (*model.Schema, error)

	// ReadSince returns the rows of a table whose ingest sequence is greater
	// than afterSeq, in sequence order, together with the highest sequence
	// returned. limit bounds the read; zero means no bound.
	ReadSince(ctx context.Context, table string, afterSeq int64, limit int) ([]model.Row, int64, error)

	// ReadAll returns every row of a table in ingest order. Used by exporters
	// and by tests inspecting stage output.
	ReadAll(ctx context.Context, table string) ([]model.Row, error)

	// CountRows returns the number of rows in a table.
	CountRows(ctx context.Context, table string) (int64, error)
}

// RunRepository persists chain run and stage execution bookkeeping.
type RunRepository interface {
	// SaveChainRun inserts or updates a chain run record.
	SaveChainRun(ctx context.Context, run *model.ChainRun) error
	// SaveStageExecution inserts or updates a stage execution record.
	SaveStageExecution(ctx context.Context, se *model.StageExecution) error
	// FindLatestChainRun returns the most recent run of the named chain, or nil
	// if the chain has never run.
	FindLatestChainRun(ctx context.Context, chainName string) (*model.ChainRun, error)
}
