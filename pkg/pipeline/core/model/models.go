package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/coraldata/medley/pkg/pipeline/support/exception"
)

// StageState represents the state of a stage within a single run.
// A stage cycles Idle -> Discovering -> Transforming -> Committing -> Idle.
type StageState string

const (
	StageStateIdle         StageState = "IDLE"
	StageStateDiscovering  StageState = "DISCOVERING"
	StageStateTransforming StageState = "TRANSFORMING"
	StageStateCommitting   StageState = "COMMITTING"
)

// String returns the string representation of the StageState.
func (s StageState) String() string {
	return string(s)
}

// validStageTransitions maps each state to the set of states it may move to.
// Every non-idle state may fall back to IDLE (that is how failures surface:
// the stage returns to idle carrying a failed exit status).
var validStageTransitions = map[StageState][]StageState{
	StageStateIdle:         {StageStateDiscovering},
	StageStateDiscovering:  {StageStateTransforming, StageStateIdle},
	StageStateTransforming: {StageStateCommitting, StageStateIdle},
	StageStateCommitting:   {StageStateIdle},
}

// CanTransitionTo reports whether a transition from s to next is legal.
func (s StageState) CanTransitionTo(next StageState) bool {
	for _, allowed := range validStageTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ExitStatus represents the outcome a stage (or chain run) settled on when it
// returned to idle.
type ExitStatus string

const (
	ExitStatusUnknown  ExitStatus = "UNKNOWN"
	ExitStatusAdvanced ExitStatus = "ADVANCED"
	ExitStatusNoOp     ExitStatus = "NO_OP"
	ExitStatusFailed   ExitStatus = "FAILED"
)

// String returns the ExitStatus as a string.
func (s ExitStatus) String() string {
	return string(s)
}

// IsSuccess reports whether the status counts towards a complete run.
// A run is complete when every stage reached ADVANCED or NO_OP.
func (s ExitStatus) IsSuccess() bool {
	return s == ExitStatusAdvanced || s == ExitStatusNoOp
}

// FailureList holds a list of error messages.
type FailureList []string

// Value implements the `driver.Valuer` interface, converting FailureList to a JSON string.
func (fl FailureList) Value() (driver.Value, error) {
	if fl == nil {
		return "[]", nil
	}
	data, err := json.Marshal(fl)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements the `sql.Scanner` interface, converting a JSON string to FailureList.
func (fl *FailureList) Scan(value interface{}) error {
	if value == nil {
		*fl = make(FailureList, 0)
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported Scan type for FailureList: %T", value)
	}

	if len(b) == 0 {
		*fl = make(FailureList, 0)
		return nil
	}

	if err := json.Unmarshal(b, fl); err != nil {
		return fmt.Errorf("failed to unmarshal FailureList JSON: %w", err)
	}
	return nil
}

// StageExecution records a single run of one stage.
type StageExecution struct {
	ID          string
	StageName   string
	ChainRunID  string
	TargetTable string
	StartTime   time.Time
	EndTime     *time.Time
	State       StageState
	ExitStatus  ExitStatus
	ReadCount   int
	WriteCount  int
	RescueCount int
	Failures    FailureList
	LastUpdated time.Time
	Version     int
}

// NewStageExecution creates a new StageExecution in the idle state.
func NewStageExecution(chainRunID, stageName, targetTable string) *StageExecution {
	now := time.Now()
	return &StageExecution{
		ID:          NewID(),
		StageName:   stageName,
		ChainRunID:  chainRunID,
		TargetTable: targetTable,
		StartTime:   now,
		State:       StageStateIdle,
		ExitStatus:  ExitStatusUnknown,
		Failures:    FailureList{},
		LastUpdated: now,
	}
}

// TransitionTo moves the stage execution to the next state, validating the transition.
func (se *StageExecution) TransitionTo(next StageState) error {
	if !se.State.CanTransitionTo(next) {
		return exception.Newf(se.StageName, exception.KindInternal,
			"invalid state transition from %s to %s", se.State, next)
	}
	se.State = next
	se.LastUpdated = time.Now()
	return nil
}

// MarkAsAdvanced settles the execution back to idle with an ADVANCED exit status.
func (se *StageExecution) MarkAsAdvanced() {
	se.settle(ExitStatusAdvanced)
}

// MarkAsNoOp settles the execution back to idle with a NO_OP exit status.
func (se *StageExecution) MarkAsNoOp() {
	se.settle(ExitStatusNoOp)
}

// MarkAsFailed settles the execution back to idle with a FAILED exit status,
// recording the failure. Durable state is untouched by construction: the
// checkpointed writer only advances inside a committed transaction.
func (se *StageExecution) MarkAsFailed(err error) {
	if err != nil {
		se.Failures = append(se.Failures, err.Error())
	}
	se.settle(ExitStatusFailed)
}

func (se *StageExecution) settle(status ExitStatus) {
	now := time.Now()
	se.State = StageStateIdle
	se.ExitStatus = status
	se.EndTime = &now
	se.LastUpdated = now
}

// DebugString returns a compact debug representation of the StageExecution.
func (se *StageExecution) DebugString() string {
	endTimeStr := "nil"
	if se.EndTime != nil {
		endTimeStr = se.EndTime.Format(time.RFC3339Nano)
	}
	return fmt.Sprintf(
		"&{ID:%s Stage:%s ChainRun:%s Target:%s State:%s ExitStatus:%s Read:%d Write:%d Rescue:%d Failures:%v Start:%s End:%s}",
		se.ID, se.StageName, se.ChainRunID, se.TargetTable, se.State, se.ExitStatus,
		se.ReadCount, se.WriteCount, se.RescueCount, se.Failures,
		se.StartTime.Format(time.RFC3339Nano), endTimeStr,
	)
}

// ChainRun records a single run of a chain of stages (bronze -> silver -> gold).
type ChainRun struct {
	ID              string
	ChainName       string
	StartTime       time.Time
	EndTime         *time.Time
	ExitStatus      ExitStatus
	FailedStage     string
	StageExecutions []*StageExecution
	Failures        FailureList
}

// NewChainRun creates a new ChainRun.
func NewChainRun(chainName string) *ChainRun {
	return &ChainRun{
		ID:         NewID(),
		ChainName:  chainName,
		StartTime:  time.Now(),
		ExitStatus: ExitStatusUnknown,
		Failures:   FailureList{},
	}
}

// Complete settles the run, deriving the exit status from its stage executions.
func (cr *ChainRun) Complete() {
	now := time.Now()
	cr.EndTime = &now

	status := ExitStatusNoOp
	for _, se := range cr.StageExecutions {
		switch se.ExitStatus {
		case ExitStatusFailed:
			cr.ExitStatus = ExitStatusFailed
			cr.FailedStage = se.StageName
			cr.Failures = append(cr.Failures, se.Failures...)
			return
		case ExitStatusAdvanced:
			status = ExitStatusAdvanced
		}
	}
	cr.ExitStatus = status
}

// NewID generates a unique identifier for executions and runs.
func NewID() string {
	return uuid.New().String()
}
