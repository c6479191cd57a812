// Package writer persists typed batches. Every commit couples the data write
// with the checkpoint advance in a single store transaction, so replaying a
// batch after a crash either finds the checkpoint already advanced (no-op) or
// writes the batch exactly once.
package writer

import (
	"context"

	model "github.com/coraldata/medley/pkg/pipeline/core/model"
	port "github.com/coraldata/medley/pkg/pipeline/core/port"
	"github.com/coraldata/medley/pkg/pipeline/support/exception"
	"github.com/coraldata/medley/pkg/pipeline/support/logger"
)

// CheckpointedWriter appends batches to their target table.
type CheckpointedWriter struct {
	store port.TableStore
}

var _ port.Writer = (*CheckpointedWriter)(nil)

// NewCheckpointedWriter creates an appending writer over the store.
func NewCheckpointedWriter(store port.TableStore) *CheckpointedWriter {
	return &CheckpointedWriter{store: store}
}

// Commit appends the batch, saves its schema and advances the checkpoint, all
// in one transaction. An origin already covered by the checkpoint commits as a
// no-op, which makes replays after a crash harmless.
func (w *CheckpointedWriter) Commit(ctx context.Context, stageID string, batch *model.TypedBatch) (*model.CommitResult, error) {
	return commit(ctx, w.store, stageID, batch, false)
}

// RebuildWriter replaces the full contents of its target table on every
// commit. The checkpoint's high-water mark records the upstream position the
// table was last built from, so an unchanged upstream commits as a no-op.
type RebuildWriter struct {
	store port.TableStore
}

var _ port.Writer = (*RebuildWriter)(nil)

// NewRebuildWriter creates a truncate-and-rebuild writer over the store.
func NewRebuildWriter(store port.TableStore) *RebuildWriter {
	return &RebuildWriter{store: store}
}

// Commit truncates the target table and writes the batch in one transaction.
func (w *RebuildWriter) Commit(ctx context.Context, stageID string, batch *model.TypedBatch) (*model.CommitResult, error) {
	return commit(ctx, w.store, stageID, batch, true)
}

func commit(ctx context.Context, store port.TableStore, stageID string, batch *model.TypedBatch, rebuild bool) (*model.CommitResult, error) {
	result := &model.CommitResult{Table: batch.Target, SchemaVersion: batch.Schema.Version}

	if batch.Origin.IsEmpty() {
		result.NoOp = true
		return result, nil
	}

	err := store.WithinTx(ctx, func(tx port.TableTx) error {
		cp, err := tx.LoadCheckpoint(stageID)
		if err != nil {
			return err
		}
		if cp.Covers(batch.Origin) {
			result.NoOp = true
			logger.Infof("Stage %s: origin already committed, skipping %d rows.", stageID, len(batch.Rows))
			return nil
		}

		if err := tx.EnsureTable(batch.Schema); err != nil {
			return err
		}
		if err := tx.SaveSchema(batch.Schema); err != nil {
			return err
		}
		if rebuild {
			if err := tx.Truncate(batch.Target); err != nil {
				return err
			}
		}
		if _, err := tx.Append(batch.Schema, batch.Rows); err != nil {
			return err
		}
		if err := tx.SaveCheckpoint(cp.Advance(batch.Origin)); err != nil {
			return err
		}

		result.Appended = int64(len(batch.Rows))
		result.Rescued = int64(batch.RescueCount())
		return nil
	})
	if err != nil {
		return nil, exception.Newf(stageID, exception.KindCommitFailed,
			"commit to %s aborted", batch.Target, err)
	}

	logger.Debugf("Stage %s committed %d rows to %s (schema v%d, no-op=%v).",
		stageID, result.Appended, result.Table, result.SchemaVersion, result.NoOp)
	return result, nil
}
