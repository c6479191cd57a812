package store

import (
	"encoding/json"
	"time"

	model "github.com/coraldata/medley/pkg/pipeline/core/model"
)

// checkpointRecord is the persisted form of a stage checkpoint.
type checkpointRecord struct {
	StageID     string           `gorm:"column:stage_id;primaryKey"`
	Payload     model.Checkpoint `gorm:"column:payload"`
	Version     int              `gorm:"column:version"`
	LastUpdated time.Time        `gorm:"column:last_updated"`
}

func (checkpointRecord) TableName() string { return "medley_checkpoints" }

func newCheckpointRecord(cp *model.Checkpoint) checkpointRecord {
	return checkpointRecord{
		StageID:     cp.StageID,
		Payload:     *cp,
		Version:     cp.Version,
		LastUpdated: cp.LastUpdated,
	}
}

// schemaRecord is the schema registry entry for one table.
type schemaRecord struct {
	Table       string    `gorm:"column:table_name;primaryKey"`
	Version     int       `gorm:"column:version"`
	Fields      string    `gorm:"column:fields"`
	LastUpdated time.Time `gorm:"column:last_updated"`
}

func (schemaRecord) TableName() string { return "medley_schemas" }

func newSchemaRecord(s *model.Schema) (schemaRecord, error) {
	fields, err := json.Marshal(s.Fields)
	if err != nil {
		return schemaRecord{}, err
	}
	return schemaRecord{
		Table:       s.Table,
		Version:     s.Version,
		Fields:      string(fields),
		LastUpdated: time.Now(),
	}, nil
}

func (r schemaRecord) toSchema() (*model.Schema, error) {
	var fields []model.Field
	if err := json.Unmarshal([]byte(r.Fields), &fields); err != nil {
		return nil, err
	}
	return &model.Schema{Table: r.Table, Version: r.Version, Fields: fields}, nil
}

// chainRunRecord is the persisted form of a chain run.
type chainRunRecord struct {
	ID          string            `gorm:"column:id;primaryKey"`
	ChainName   string            `gorm:"column:chain_name"`
	StartTime   time.Time         `gorm:"column:start_time"`
	EndTime     *time.Time        `gorm:"column:end_time"`
	ExitStatus  string            `gorm:"column:exit_status"`
	FailedStage string            `gorm:"column:failed_stage"`
	Failures    model.FailureList `gorm:"column:failures"`
}

func (chainRunRecord) TableName() string { return "medley_chain_runs" }

func newChainRunRecord(run *model.ChainRun) chainRunRecord {
	return chainRunRecord{
		ID:          run.ID,
		ChainName:   run.ChainName,
		StartTime:   run.StartTime,
		EndTime:     run.EndTime,
		ExitStatus:  run.ExitStatus.String(),
		FailedStage: run.FailedStage,
		Failures:    run.Failures,
	}
}

func (r chainRunRecord) toChainRun() *model.ChainRun {
	return &model.ChainRun{
		ID:          r.ID,
		ChainName:   r.ChainName,
		StartTime:   r.StartTime,
		EndTime:     r.EndTime,
		ExitStatus:  model.ExitStatus(r.ExitStatus),
		FailedStage: r.FailedStage,
		Failures:    r.Failures,
	}
}

// stageRunRecord is the persisted form of a stage execution.
type stageRunRecord struct {
	ID          string            `gorm:"column:id;primaryKey"`
	ChainRunID  string            `gorm:"column:chain_run_id"`
	StageName   string            `gorm:"column:stage_name"`
	TargetTable string            `gorm:"column:target_table"`
	State       string            `gorm:"column:state"`
	ExitStatus  string            `gorm:"column:exit_status"`
	ReadCount   int               `gorm:"column:read_count"`
	WriteCount  int               `gorm:"column:write_count"`
	RescueCount int               `gorm:"column:rescue_count"`
	Failures    model.FailureList `gorm:"column:failures"`
	StartTime   time.Time         `gorm:"column:start_time"`
	EndTime     *time.Time        `gorm:"column:end_time"`
	LastUpdated time.Time         `gorm:"column:last_updated"`
	Version     int               `gorm:"column:version"`
}

func (stageRunRecord) TableName() string { return "medley_stage_runs" }

func newStageRunRecord(se *model.StageExecution) stageRunRecord {
	return stageRunRecord{
		ID:          se.ID,
		ChainRunID:  se.ChainRunID,
		StageName:   se.StageName,
		TargetTable: se.TargetTable,
		State:       se.State.String(),
		ExitStatus:  se.ExitStatus.String(),
		ReadCount:   se.ReadCount,
		WriteCount:  se.WriteCount,
		RescueCount: se.RescueCount,
		Failures:    se.Failures,
		StartTime:   se.StartTime,
		EndTime:     se.EndTime,
		LastUpdated: se.LastUpdated,
		Version:     se.Version,
	}
}

func (r stageRunRecord) toStageExecution() *model.StageExecution {
	return &model.StageExecution{
		ID:          r.ID,
		StageName:   r.StageName,
		ChainRunID:  r.ChainRunID,
		TargetTable: r.TargetTable,
		State:       model.StageState(r.State),
		ExitStatus:  model.ExitStatus(r.ExitStatus),
		ReadCount:   r.ReadCount,
		WriteCount:  r.WriteCount,
		RescueCount: r.RescueCount,
		Failures:    r.Failures,
		StartTime:   r.StartTime,
		EndTime:     r.EndTime,
		LastUpdated: r.LastUpdated,
		Version:     r.Version,
	}
}
