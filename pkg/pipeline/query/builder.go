// Package query computes derived feature tables from committed upstream
// tables. Builders produce the full contents of their target table on every
// run; the rebuild writer replaces the table atomically.
package query

import (
	"context"
	"sync"
	"time"

	model "github.com/coraldata/medley/pkg/pipeline/core/model"
	port "github.com/coraldata/medley/pkg/pipeline/core/port"
	"github.com/coraldata/medley/pkg/pipeline/support/exception"
)

const moduleName = "query"

// FeatureBuilder computes the rows of a derived table from upstream tables.
type FeatureBuilder interface {
	// Build reads the upstream tables and returns the complete target contents.
	// The returned origin carries a mark derived from the upstream ingest
	// sequences, so an unchanged upstream rebuilds nothing.
	Build(ctx context.Context, store port.TableStore, target string) (*model.TypedBatch, error)
}

var (
	buildersMu sync.RWMutex
	builders   = make(map[string]FeatureBuilder)
)

// Register makes a feature builder available under the given name.
// Builders register themselves in their package init.
func Register(name string, b FeatureBuilder) {
	buildersMu.Lock()
	defer buildersMu.Unlock()
	builders[name] = b
}

// Lookup returns the registered builder for the name.
func Lookup(name string) (FeatureBuilder, error) {
	buildersMu.RLock()
	defer buildersMu.RUnlock()
	b, ok := builders[name]
	if !ok {
		return nil, exception.Newf(moduleName, exception.KindConfig, "no feature builder registered as %q", name)
	}
	return b, nil
}

// readTable returns all rows of an upstream table and its highest ingest
// sequence. A table that has never been written reads as empty.
func readTable(ctx context.Context, store port.TableStore, table string) ([]model.Row, int64, error) {
	schema, err := store.SchemaFor(ctx, table)
	if err != nil {
		return nil, 0, err
	}
	if schema == nil {
		return nil, 0, nil
	}
	return store.ReadSince(ctx, table, 0, 0)
}

func asInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	}
	return 0, false
}

func asString(v interface{}) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

// asTime normalizes the timestamp representations the store backends return:
// time.Time from the in-memory store, strings from some SQL drivers.
func asTime(v interface{}) (time.Time, bool) {
	switch ts := v.(type) {
	case time.Time:
		return ts, true
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
			if parsed, err := time.Parse(layout, ts); err == nil {
				return parsed, true
			}
		}
	}
	return time.Time{}, false
}
