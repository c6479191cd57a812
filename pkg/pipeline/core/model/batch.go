package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Row is one semi-structured record, field name to raw (or typed) value.
type Row map[string]interface{}

// Clone returns a shallow copy of the row.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// RescueBucket is the per-row side channel holding fields that did not conform
// to the target schema: name collisions, type mismatches, unexpected columns.
// No input field is ever silently discarded; it lands in a typed column or here.
type RescueBucket map[string]interface{}

// Value implements the `driver.Valuer` interface, converting the bucket to a JSON string.
func (rb RescueBucket) Value() (driver.Value, error) {
	if len(rb) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(rb)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements the `sql.Scanner` interface, converting a JSON string to a RescueBucket.
func (rb *RescueBucket) Scan(value interface{}) error {
	if value == nil {
		*rb = nil
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported Scan type for RescueBucket: %T", value)
	}
	if len(b) == 0 {
		*rb = nil
		return nil
	}
	if err := json.Unmarshal(b, rb); err != nil {
		return fmt.Errorf("failed to unmarshal RescueBucket JSON: %w", err)
	}
	return nil
}

// FileFingerprint identifies one ingested source file.
// Two listings of the same path with differing size or mod time are treated as
// different files (the file was rewritten and must be re-ingested).
type FileFingerprint struct {
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// Same reports whether two fingerprints refer to the same file content.
func (f FileFingerprint) Same(other FileFingerprint) bool {
	return f.Path == other.Path && f.Size == other.Size && f.ModTime.Equal(other.ModTime)
}

// BatchOrigin records exactly which source offsets a batch covers, so the
// checkpoint can be advanced over them inside the same commit.
// Exactly one of Files / (FromSeq,ToSeq) is populated depending on the source kind.
type BatchOrigin struct {
	// Files are the source file fingerprints covered by the batch.
	Files []FileFingerprint `json:"files,omitempty"`
	// FromSeq/ToSeq is the half-open ingest sequence interval (FromSeq, ToSeq]
	// covered by the batch when the source is an upstream table.
	FromSeq int64 `json:"from_seq,omitempty"`
	ToSeq   int64 `json:"to_seq,omitempty"`
}

// IsEmpty reports whether the origin covers nothing.
func (o BatchOrigin) IsEmpty() bool {
	return len(o.Files) == 0 && o.ToSeq <= o.FromSeq
}

// RecordBatch is the ordered sequence of rows read from a source since the last
// checkpoint. It is ephemeral: created per run and consumed immediately.
type RecordBatch struct {
	// Source describes where the rows came from (path prefix or table name).
	Source string
	// Rows are the raw decoded rows.
	Rows []Row
	// Observed is the schema as observed while decoding (field name to inferred type).
	Observed map[string]FieldType
	// Origin records the covered offsets for checkpoint advancement.
	Origin BatchOrigin
}

// IsEmpty reports whether the batch carries no rows and no new offsets.
func (b *RecordBatch) IsEmpty() bool {
	return b == nil || (len(b.Rows) == 0 && b.Origin.IsEmpty())
}

// TypedRow is one transformed row: typed column values plus its rescue bucket.
type TypedRow struct {
	Values  Row
	Rescued RescueBucket
}

// TypedBatch is the output of a stage transformer: rows conforming to the
// target schema, ready for a single atomic commit.
type TypedBatch struct {
	Target string
	Schema *Schema
	Rows   []TypedRow
	Origin BatchOrigin
}

// RescueCount returns the number of rows that carry at least one rescued field.
func (b *TypedBatch) RescueCount() int {
	n := 0
	for _, r := range b.Rows {
		if len(r.Rescued) > 0 {
			n++
		}
	}
	return n
}

// CommitResult reports the outcome of a checkpointed commit.
type CommitResult struct {
	Table         string
	Appended      int64
	Rescued       int64
	SchemaVersion int
	// NoOp is true when the batch's offsets were already covered by the
	// checkpoint and nothing was written (idempotent retry).
	NoOp bool
}
