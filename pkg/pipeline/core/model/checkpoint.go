package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Checkpoint is the durable cursor recording exactly which source offsets or
// files have been committed to a stage's target table. It advances only inside
// a successful commit; a crash before commit leaves it unchanged.
type Checkpoint struct {
	// StageID identifies the owning stage. Checkpoints are stage-local and never
	// shared across stages.
	StageID string `json:"stage_id"`
	// Files maps path to the fingerprint last committed for that path.
	Files map[string]FileFingerprint `json:"files,omitempty"`
	// HighWater is the highest committed ingest sequence for table sources.
	HighWater int64 `json:"high_water"`
	// Version counts successful advances, for optimistic bookkeeping.
	Version     int       `json:"version"`
	LastUpdated time.Time `json:"last_updated"`
}

// NewCheckpoint creates an empty checkpoint for a stage.
func NewCheckpoint(stageID string) *Checkpoint {
	return &Checkpoint{
		StageID: stageID,
		Files:   make(map[string]FileFingerprint),
	}
}

// CoversFile reports whether the given file fingerprint has already been committed.
func (cp *Checkpoint) CoversFile(f FileFingerprint) bool {
	got, ok := cp.Files[f.Path]
	return ok && got.Same(f)
}

// Covers reports whether every offset in the origin has already been committed.
// Used by the writer to turn replayed batches into no-ops.
func (cp *Checkpoint) Covers(origin BatchOrigin) bool {
	if origin.IsEmpty() {
		return true
	}
	for _, f := range origin.Files {
		if !cp.CoversFile(f) {
			return false
		}
	}
	return origin.ToSeq <= cp.HighWater
}

// Advance returns a copy of the checkpoint advanced over the given origin.
// The checkpoint is monotonic: the high-water mark never moves backwards and
// committed files are never forgotten.
func (cp *Checkpoint) Advance(origin BatchOrigin) *Checkpoint {
	next := cp.Clone()
	for _, f := range origin.Files {
		next.Files[f.Path] = f
	}
	if origin.ToSeq > next.HighWater {
		next.HighWater = origin.ToSeq
	}
	next.Version++
	next.LastUpdated = time.Now()
	return next
}

// Clone returns a deep copy of the checkpoint.
func (cp *Checkpoint) Clone() *Checkpoint {
	files := make(map[string]FileFingerprint, len(cp.Files))
	for k, v := range cp.Files {
		files[k] = v
	}
	return &Checkpoint{
		StageID:     cp.StageID,
		Files:       files,
		HighWater:   cp.HighWater,
		Version:     cp.Version,
		LastUpdated: cp.LastUpdated,
	}
}

// Value implements the `driver.Valuer` interface, converting the checkpoint to a JSON string.
func (cp Checkpoint) Value() (driver.Value, error) {
	data, err := json.Marshal(cp)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements the `sql.Scanner` interface, converting a JSON string to a Checkpoint.
func (cp *Checkpoint) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported Scan type for Checkpoint: %T", value)
	}
	if len(b) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, cp); err != nil {
		return fmt.Errorf("failed to unmarshal Checkpoint JSON: %w", err)
	}
	if cp.Files == nil {
		cp.Files = make(map[string]FileFingerprint)
	}
	return nil
}
