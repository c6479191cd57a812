package query

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	model "github.com/coraldata/medley/pkg/pipeline/core/model"
	port "github.com/coraldata/medley/pkg/pipeline/core/port"
	"github.com/coraldata/medley/pkg/pipeline/infrastructure/store/inmemory"
)

func seedTable(t *testing.T, store *inmemory.MemoryStore, table string, fields []model.Field, rows []model.Row) {
	t.Helper()
	schema := model.NewSchema(table, fields)
	err := store.WithinTx(context.Background(), func(tx port.TableTx) error {
		if err := tx.EnsureTable(schema); err != nil {
			return err
		}
		if err := tx.SaveSchema(schema); err != nil {
			return err
		}
		typed := make([]model.TypedRow, len(rows))
		for i, r := range rows {
			typed[i] = model.TypedRow{Values: r}
		}
		_, err := tx.Append(schema, typed)
		return err
	})
	require.NoError(t, err)
}

func seedChurnUpstream(t *testing.T, store *inmemory.MemoryStore) {
	t.Helper()
	seedTable(t, store, "churn_users", []model.Field{
		{Name: "user_id", Type: model.FieldTypeString},
		{Name: "age_group", Type: model.FieldTypeInt},
		{Name: "gender", Type: model.FieldTypeInt},
		{Name: "churn", Type: model.FieldTypeInt},
		{Name: "creation_date", Type: model.FieldTypeTimestamp},
		{Name: "last_activity_date", Type: model.FieldTypeTimestamp},
	}, []model.Row{
		{
			"user_id": "u1", "age_group": int64(3), "gender": int64(0), "churn": int64(1),
			"creation_date":      time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
			"last_activity_date": time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC),
		},
		{"user_id": "u2", "age_group": int64(5), "gender": int64(1), "churn": int64(0)},
	})

	seedTable(t, store, "churn_orders", []model.Field{
		{Name: "order_id", Type: model.FieldTypeString},
		{Name: "user_id", Type: model.FieldTypeString},
		{Name: "amount", Type: model.FieldTypeInt},
		{Name: "item_count", Type: model.FieldTypeInt},
	}, []model.Row{
		{"order_id": "o1", "user_id": "u1", "amount": int64(20), "item_count": int64(2)},
		{"order_id": "o2", "user_id": "u1", "amount": int64(20), "item_count": int64(1)},
		{"order_id": "o3", "user_id": "u1", "amount": int64(10), "item_count": int64(1)},
		{"order_id": "o4", "user_id": "ghost", "amount": int64(99), "item_count": int64(9)},
	})

	eventFields := []model.Field{
		{Name: "user_id", Type: model.FieldTypeString},
		{Name: "session_id", Type: model.FieldTypeString},
		{Name: "platform", Type: model.FieldTypeString},
		{Name: "date", Type: model.FieldTypeTimestamp},
	}
	var events []model.Row
	for i := 0; i < 10; i++ {
		session := "s1"
		if i >= 6 {
			session = "s2"
		}
		events = append(events, model.Row{
			"user_id": "u1", "session_id": session, "platform": "ios",
			"date": time.Date(2020, 6, 1+i, 0, 0, 0, 0, time.UTC),
		})
	}
	seedTable(t, store, "churn_events", eventFields, events)
}

func TestChurnFeaturesBuilder_Aggregates(t *testing.T) {
	store := inmemory.NewMemoryStore()
	seedChurnUpstream(t, store)

	b, err := Lookup("churn_features")
	require.NoError(t, err)

	batch, err := b.Build(context.Background(), store, "churn_features")
	require.NoError(t, err)
	require.Len(t, batch.Rows, 2, "one feature row per known user, unknown users dropped")

	u1 := batch.Rows[0].Values
	assert.Equal(t, "u1", u1["user_id"])
	assert.Equal(t, int64(3), u1["order_count"])
	assert.Equal(t, int64(50), u1["total_amount"])
	assert.Equal(t, int64(4), u1["total_item"])
	assert.Equal(t, int64(10), u1["event_count"])
	assert.Equal(t, int64(2), u1["session_count"])
	assert.Equal(t, "ios", u1["platform"])
	assert.Equal(t, int64(1), u1["churn"])

	assert.Equal(t, time.Date(2020, 6, 10, 0, 0, 0, 0, time.UTC), u1["last_event"])

	u2 := batch.Rows[1].Values
	assert.Equal(t, "u2", u2["user_id"])
	assert.Equal(t, int64(0), u2["order_count"])
	assert.Equal(t, int64(0), u2["event_count"])
	assert.Nil(t, u2["platform"])
	assert.Nil(t, u2["last_event"])
	assert.Nil(t, u2["days_since_creation"])

	// 2 users + 4 orders + 10 events committed upstream.
	assert.Equal(t, int64(16), batch.Origin.ToSeq)
}

func TestChurnFeaturesBuilder_RecencyFeatures(t *testing.T) {
	store := inmemory.NewMemoryStore()
	seedChurnUpstream(t, store)

	b := &ChurnFeaturesBuilder{
		Users:  "churn_users",
		Orders: "churn_orders",
		Events: "churn_events",
		Now:    func() time.Time { return time.Date(2020, 6, 15, 0, 0, 0, 0, time.UTC) },
	}

	batch, err := b.Build(context.Background(), store, "churn_features")
	require.NoError(t, err)
	require.Len(t, batch.Rows, 2)

	u1 := batch.Rows[0].Values
	assert.Equal(t, int64(166), u1["days_since_creation"])
	assert.Equal(t, int64(14), u1["days_since_last_activity"])
	assert.Equal(t, int64(5), u1["days_last_event"])
}

func TestChurnFeaturesBuilder_MarkMovesWithUpstream(t *testing.T) {
	store := inmemory.NewMemoryStore()
	seedChurnUpstream(t, store)

	b := &ChurnFeaturesBuilder{Users: "churn_users", Orders: "churn_orders", Events: "churn_events"}
	ctx := context.Background()

	first, err := b.Build(ctx, store, "churn_features")
	require.NoError(t, err)

	again, err := b.Build(ctx, store, "churn_features")
	require.NoError(t, err)
	assert.Equal(t, first.Origin.ToSeq, again.Origin.ToSeq, "unchanged upstream yields the same mark")

	seedTable(t, store, "churn_users", []model.Field{
		{Name: "user_id", Type: model.FieldTypeString},
	}, []model.Row{{"user_id": "u3"}})

	moved, err := b.Build(ctx, store, "churn_features")
	require.NoError(t, err)
	assert.Greater(t, moved.Origin.ToSeq, first.Origin.ToSeq)
	assert.Len(t, moved.Rows, 3)
}

func TestChurnFeaturesBuilder_MissingUpstreamIsEmpty(t *testing.T) {
	store := inmemory.NewMemoryStore()
	b := &ChurnFeaturesBuilder{Users: "churn_users", Orders: "churn_orders", Events: "churn_events"}

	batch, err := b.Build(context.Background(), store, "churn_features")
	require.NoError(t, err)
	assert.Empty(t, batch.Rows)
	assert.True(t, batch.Origin.IsEmpty())
}

func TestLookup_UnknownBuilder(t *testing.T) {
	_, err := Lookup("no_such_builder")
	assert.Error(t, err)
}
