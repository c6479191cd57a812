package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coraldata/medley/pkg/pipeline/adapter/storage/local"
	config "github.com/coraldata/medley/pkg/pipeline/core/config"
	metrics "github.com/coraldata/medley/pkg/pipeline/core/metrics"
	model "github.com/coraldata/medley/pkg/pipeline/core/model"
	"github.com/coraldata/medley/pkg/pipeline/infrastructure/store/inmemory"
)

func writeLanding(t *testing.T, root, name, content string) {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0644))
}

func churnDefinition() *config.PipelineDefinition {
	strField := func(name string) model.Field {
		return model.Field{Name: name, Type: model.FieldTypeString}
	}
	intField := func(name string) model.Field {
		return model.Field{Name: name, Type: model.FieldTypeInt}
	}
	rename := func(from, to string) config.TransformOp {
		return config.TransformOp{Op: "rename", Params: map[string]interface{}{"from": from, "to": to}}
	}

	return &config.PipelineDefinition{Chains: []config.ChainDefinition{{
		Name: "churn",
		Stages: []config.StageDefinition{
			{
				Name:         "users_bronze",
				Source:       config.StageSource{Kind: config.StageSourceFiles, Location: "users", Format: config.FormatJSON},
				Target:       "churn_users_bronze",
				SchemaPolicy: model.SchemaPolicyEvolve,
			},
			{
				Name:         "users_silver",
				Source:       config.StageSource{Kind: config.StageSourceTable, Table: "churn_users_bronze"},
				Target:       "churn_users",
				SchemaPolicy: model.SchemaPolicyFixed,
				Schema: []model.Field{
					strField("user_id"), strField("email"),
					intField("age_group"), intField("gender"), intField("churn"),
				},
				Transform: []config.TransformOp{
					rename("id", "user_id"),
					{Op: "hash", Params: map[string]interface{}{"field": "email", "algorithm": "sha1"}},
				},
			},
			{
				Name:         "orders_bronze",
				Source:       config.StageSource{Kind: config.StageSourceFiles, Location: "orders", Format: config.FormatJSON},
				Target:       "churn_orders_bronze",
				SchemaPolicy: model.SchemaPolicyEvolve,
			},
			{
				Name:         "orders_silver",
				Source:       config.StageSource{Kind: config.StageSourceTable, Table: "churn_orders_bronze"},
				Target:       "churn_orders",
				SchemaPolicy: model.SchemaPolicyFixed,
				Schema: []model.Field{
					strField("order_id"), strField("user_id"),
					intField("amount"), intField("item_count"),
				},
				Transform: []config.TransformOp{rename("id", "order_id")},
			},
			{
				Name:         "events_bronze",
				Source:       config.StageSource{Kind: config.StageSourceFiles, Location: "events", Format: config.FormatCSV},
				Target:       "churn_events_bronze",
				SchemaPolicy: model.SchemaPolicyEvolve,
			},
			{
				Name:         "events_silver",
				Source:       config.StageSource{Kind: config.StageSourceTable, Table: "churn_events_bronze"},
				Target:       "churn_events",
				SchemaPolicy: model.SchemaPolicyFixed,
				Schema: []model.Field{
					strField("user_id"), strField("session_id"), strField("platform"),
				},
			},
			{
				Name:    "features_gold",
				Kind:    config.StageKindRebuild,
				Target:  "churn_features",
				Builder: "churn_features",
			},
		},
	}}}
}

func newTestEngine(t *testing.T, root string, def *config.PipelineDefinition) (*Engine, *inmemory.MemoryStore) {
	t.Helper()
	require.NoError(t, def.Validate())

	store := inmemory.NewMemoryStore()
	objects, err := local.NewLocalStore(root)
	require.NoError(t, err)

	engine, err := NewEngine(Params{
		Config:     config.NewConfig(),
		Definition: def,
		Store:      store,
		Runs:       store,
		Objects:    objects,
		Recorder:   metrics.NewNoopRecorder(),
		Tracer:     metrics.NewNoopTracer(),
	})
	require.NoError(t, err)
	return engine, store
}

func seedChurnLanding(t *testing.T, root string) {
	t.Helper()
	writeLanding(t, root, "users/users.json", `[
		{"id": "u1", "email": "ada@example.com", "age_group": 3, "gender": 0, "churn": 1},
		{"id": "u2", "email": "bob@example.com", "age_group": 5, "gender": 1, "churn": 0}
	]`)
	writeLanding(t, root, "orders/orders.json", `[
		{"id": "o1", "user_id": "u1", "amount": 20, "item_count": 2},
		{"id": "o2", "user_id": "u1", "amount": 20, "item_count": 1},
		{"id": "o3", "user_id": "u1", "amount": 10, "item_count": 1}
	]`)
	csv := "user_id,session_id,platform\n"
	for i := 0; i < 6; i++ {
		csv += "u1,s1,ios\n"
	}
	for i := 0; i < 4; i++ {
		csv += "u1,s2,ios\n"
	}
	writeLanding(t, root, "events/events.csv", csv)
}

func TestEngine_EndToEnd(t *testing.T) {
	root := t.TempDir()
	seedChurnLanding(t, root)
	engine, store := newTestEngine(t, root, churnDefinition())
	ctx := context.Background()

	require.NoError(t, engine.RunOnce(ctx))

	run, err := store.FindLatestChainRun(ctx, "churn")
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, model.ExitStatusAdvanced, run.ExitStatus)
	require.Len(t, run.StageExecutions, 7)
	for _, se := range run.StageExecutions {
		assert.Equal(t, model.ExitStatusAdvanced, se.ExitStatus, se.StageName)
	}

	features, err := store.ReadAll(ctx, "churn_features")
	require.NoError(t, err)
	require.Len(t, features, 2)

	u1 := features[0]
	assert.Equal(t, "u1", u1["user_id"])
	assert.Equal(t, int64(3), u1["order_count"])
	assert.Equal(t, int64(50), u1["total_amount"])
	assert.Equal(t, int64(10), u1["event_count"])
	assert.Equal(t, int64(2), u1["session_count"])
	assert.Equal(t, int64(1), u1["churn"])
	assert.Equal(t, "ios", u1["platform"])

	// Emails were pseudonymized on the way to silver.
	users, err := store.ReadAll(ctx, "churn_users")
	require.NoError(t, err)
	assert.NotContains(t, users[0]["email"], "@")
	assert.Len(t, users[0]["email"], 40)
}

func TestEngine_SecondCycleIsNoOp(t *testing.T) {
	root := t.TempDir()
	seedChurnLanding(t, root)
	engine, store := newTestEngine(t, root, churnDefinition())
	ctx := context.Background()

	require.NoError(t, engine.RunOnce(ctx))
	require.NoError(t, engine.RunOnce(ctx))

	run, err := store.FindLatestChainRun(ctx, "churn")
	require.NoError(t, err)
	assert.Equal(t, model.ExitStatusNoOp, run.ExitStatus)
	for _, se := range run.StageExecutions {
		assert.Equal(t, model.ExitStatusNoOp, se.ExitStatus, se.StageName)
	}

	n, err := store.CountRows(ctx, "churn_users_bronze")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n, "nothing is re-ingested")
}

func TestEngine_NewFileAdvancesOnlyItsStages(t *testing.T) {
	root := t.TempDir()
	seedChurnLanding(t, root)
	engine, store := newTestEngine(t, root, churnDefinition())
	ctx := context.Background()

	require.NoError(t, engine.RunOnce(ctx))
	writeLanding(t, root, "users/more.json", `[{"id": "u3", "email": "eve@example.com", "age_group": 1, "gender": 0, "churn": 0}]`)
	require.NoError(t, engine.RunOnce(ctx))

	run, err := store.FindLatestChainRun(ctx, "churn")
	require.NoError(t, err)
	assert.Equal(t, model.ExitStatusAdvanced, run.ExitStatus)

	statuses := map[string]model.ExitStatus{}
	for _, se := range run.StageExecutions {
		statuses[se.StageName] = se.ExitStatus
	}
	assert.Equal(t, model.ExitStatusAdvanced, statuses["users_bronze"])
	assert.Equal(t, model.ExitStatusAdvanced, statuses["users_silver"])
	assert.Equal(t, model.ExitStatusNoOp, statuses["orders_bronze"])
	assert.Equal(t, model.ExitStatusAdvanced, statuses["features_gold"], "the feature table follows upstream movement")

	features, err := store.ReadAll(ctx, "churn_features")
	require.NoError(t, err)
	assert.Len(t, features, 3)
}

func TestEngine_FailedStageStopsChain(t *testing.T) {
	root := t.TempDir()
	writeLanding(t, root, "users/bad.json", `{not json`)

	def := churnDefinition()
	def.Chains[0].Stages = def.Chains[0].Stages[:2] // users bronze + silver only
	engine, store := newTestEngine(t, root, def)
	ctx := context.Background()

	err := engine.RunOnce(ctx)
	require.Error(t, err)

	run, findErr := store.FindLatestChainRun(ctx, "churn")
	require.NoError(t, findErr)
	assert.Equal(t, model.ExitStatusFailed, run.ExitStatus)
	assert.Equal(t, "users_bronze", run.FailedStage)
	require.Len(t, run.StageExecutions, 1, "downstream stages do not run after a failure")
	assert.NotEmpty(t, run.Failures)
}
