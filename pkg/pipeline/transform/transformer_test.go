package transform

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	config "github.com/coraldata/medley/pkg/pipeline/core/config"
	model "github.com/coraldata/medley/pkg/pipeline/core/model"
	"github.com/coraldata/medley/pkg/pipeline/support/exception"
)

func TestTransformer_EvolveInfersAndExtendsSchema(t *testing.T) {
	tr, err := NewTransformer(config.StageDefinition{
		Name:         "users_bronze",
		Target:       "churn_users_bronze",
		SchemaPolicy: model.SchemaPolicyEvolve,
	})
	require.NoError(t, err)
	ctx := context.Background()

	batch := &model.RecordBatch{Rows: []model.Row{
		{"id": "u1", "age_group": int64(3), "bad-name": "x"},
		{"id": "u2", "age_group": int64(5), "note": nil},
	}}
	out, err := tr.Apply(ctx, batch, nil)
	require.NoError(t, err)

	require.Equal(t, 1, out.Schema.Version)
	assert.Equal(t, []string{"age_group", "id", "note"}, out.Schema.FieldNames())
	ft, _ := out.Schema.TypeOf("note")
	assert.Equal(t, model.FieldTypeString, ft, "null-only fields default to string")
	assert.Equal(t, "x", out.Rows[0].Rescued["bad-name"], "unusable column names are rescued")
	assert.Equal(t, int64(3), out.Rows[0].Values["age_group"])

	// A later batch with a fresh field extends the schema.
	next, err := tr.Apply(ctx, &model.RecordBatch{Rows: []model.Row{
		{"id": "u3", "referrer": "ads"},
	}}, out.Schema)
	require.NoError(t, err)
	assert.Equal(t, 2, next.Schema.Version)
	assert.True(t, next.Schema.Has("referrer"))
}

func TestTransformer_EvolveKeepsRegisteredTypeAndRescuesMisfits(t *testing.T) {
	tr, err := NewTransformer(config.StageDefinition{
		Name:         "users_bronze",
		Target:       "churn_users_bronze",
		SchemaPolicy: model.SchemaPolicyEvolve,
	})
	require.NoError(t, err)

	current := model.NewSchema("churn_users_bronze", []model.Field{
		{Name: "age_group", Type: model.FieldTypeInt},
	})
	out, err := tr.Apply(context.Background(), &model.RecordBatch{Rows: []model.Row{
		{"age_group": "senior"},
	}}, current)
	require.NoError(t, err)

	ft, _ := out.Schema.TypeOf("age_group")
	assert.Equal(t, model.FieldTypeInt, ft, "a registered column never changes type")
	assert.Equal(t, "senior", out.Rows[0].Rescued["age_group"])
	assert.NotContains(t, out.Rows[0].Values, "age_group")
}

func silverUsersDefinition() config.StageDefinition {
	return config.StageDefinition{
		Name:         "users_silver",
		Target:       "churn_users",
		SchemaPolicy: model.SchemaPolicyFixed,
		Schema: []model.Field{
			{Name: "user_id", Type: model.FieldTypeString},
			{Name: "email", Type: model.FieldTypeString},
			{Name: "firstname", Type: model.FieldTypeString},
			{Name: "age_group", Type: model.FieldTypeInt},
			{Name: "creation_date", Type: model.FieldTypeTimestamp},
		},
		Transform: []config.TransformOp{
			{Op: "rename", Params: map[string]interface{}{"from": "id", "to": "user_id"}},
			{Op: "hash", Params: map[string]interface{}{"field": "email", "algorithm": "sha1"}},
			{Op: "initcap", Params: map[string]interface{}{"field": "firstname"}},
			{Op: "cast", Params: map[string]interface{}{"field": "age_group", "type": "int"}},
		},
		TimestampLayout: "01-02-2006 15:04:05",
	}
}

func TestTransformer_FixedAppliesOpsAndTypesRows(t *testing.T) {
	tr, err := NewTransformer(silverUsersDefinition())
	require.NoError(t, err)

	out, err := tr.Apply(context.Background(), &model.RecordBatch{Rows: []model.Row{{
		"id":            "u1",
		"email":         "ada@example.com",
		"firstname":     "ADA",
		"age_group":     "3",
		"creation_date": "01-15-2012 8:10:07",
	}}}, nil)
	require.NoError(t, err)

	row := out.Rows[0]
	assert.Equal(t, "u1", row.Values["user_id"])
	wantEmail := sha1.Sum([]byte("ada@example.com"))
	assert.Equal(t, hex.EncodeToString(wantEmail[:]), row.Values["email"])
	assert.Equal(t, "Ada", row.Values["firstname"])
	assert.Equal(t, int64(3), row.Values["age_group"])
	ts, ok := row.Values["creation_date"].(time.Time)
	require.True(t, ok)
	assert.Equal(t, 2012, ts.Year())
	assert.Empty(t, row.Rescued)
	assert.Equal(t, 1, out.Schema.Version)
}

func TestTransformer_FixedRescuesUnknownFieldsAndCastFailures(t *testing.T) {
	tr, err := NewTransformer(silverUsersDefinition())
	require.NoError(t, err)

	out, err := tr.Apply(context.Background(), &model.RecordBatch{Rows: []model.Row{{
		"id":        "u1",
		"referrer":  "ads",
		"age_group": "unknown",
	}}}, nil)
	require.NoError(t, err)

	row := out.Rows[0]
	assert.Equal(t, "ads", row.Rescued["referrer"], "fields outside a fixed schema are rescued")
	assert.Equal(t, "unknown", row.Rescued["age_group"], "cast failures are rescued")
	assert.NotContains(t, row.Values, "age_group")
	assert.Equal(t, "u1", row.Values["user_id"])
	assert.Equal(t, 1, out.RescueCount())
	assert.False(t, out.Schema.Has("referrer"), "a fixed schema never grows from data")
}

func TestTransformer_EvolveRescuesNestedStructures(t *testing.T) {
	tr, err := NewTransformer(config.StageDefinition{
		Name:         "users_bronze",
		Target:       "churn_users_bronze",
		SchemaPolicy: model.SchemaPolicyEvolve,
	})
	require.NoError(t, err)

	address := map[string]interface{}{"city": "Paris", "zip": "75001"}
	out, err := tr.Apply(context.Background(), &model.RecordBatch{Rows: []model.Row{
		{"id": "u1", "address": address},
	}}, nil)
	require.NoError(t, err)

	row := out.Rows[0]
	assert.Equal(t, address, row.Rescued["address"], "nested objects are kept intact, never stringified")
	assert.NotContains(t, row.Values, "address")
	assert.Equal(t, "u1", row.Values["id"])
}

func TestTransformer_FixedConflictsWithRegisteredType(t *testing.T) {
	tr, err := NewTransformer(silverUsersDefinition())
	require.NoError(t, err)

	current := model.NewSchema("churn_users", []model.Field{
		{Name: "age_group", Type: model.FieldTypeString},
	})
	_, err = tr.Apply(context.Background(), &model.RecordBatch{Rows: []model.Row{{"id": "u1"}}}, current)
	require.Error(t, err)
	assert.True(t, exception.IsKind(err, exception.KindSchemaConflict))
	assert.False(t, exception.IsRetryable(err))
}

func TestNewTransformer_RejectsBadDefinitions(t *testing.T) {
	_, err := NewTransformer(config.StageDefinition{
		Name:      "s",
		Transform: []config.TransformOp{{Op: "explode"}},
	})
	assert.True(t, exception.IsKind(err, exception.KindConfig))

	_, err = NewTransformer(config.StageDefinition{
		Name:      "s",
		Transform: []config.TransformOp{{Op: "rename", Params: map[string]interface{}{"frm": "id"}}},
	})
	assert.True(t, exception.IsKind(err, exception.KindConfig), "unknown op params are rejected")

	_, err = NewTransformer(config.StageDefinition{
		Name:      "s",
		Transform: []config.TransformOp{{Op: "cast", Params: map[string]interface{}{"field": "x", "type": "decimal"}}},
	})
	assert.True(t, exception.IsKind(err, exception.KindConfig))

	_, err = NewTransformer(config.StageDefinition{
		Name:   "s",
		Schema: []model.Field{{Name: "_ingest_seq", Type: model.FieldTypeInt}},
	})
	assert.True(t, exception.IsKind(err, exception.KindConfig), "reserved columns cannot be declared")
}

func TestRenameOp_CollisionRescues(t *testing.T) {
	op := &renameOp{From: "id", To: "user_id"}
	row := model.Row{"id": "u1", "user_id": "taken"}
	rescue := model.RescueBucket{}
	op.Apply(row, rescue)
	assert.Equal(t, "taken", row["user_id"])
	assert.Equal(t, "u1", rescue["id"])
}

func TestInitcap(t *testing.T) {
	assert.Equal(t, "Ada Lovelace", initcap("ADA lovelace"))
	assert.Equal(t, "O'neil", initcap("o'NEIL"))
	assert.Equal(t, "", initcap(""))
}
