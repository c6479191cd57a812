package model

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStageState_CanTransitionTo(t *testing.T) {
	tests := []struct {
		name    string
		from    StageState
		to      StageState
		allowed bool
	}{
		{"idle to discovering", StageStateIdle, StageStateDiscovering, true},
		{"discovering to transforming", StageStateDiscovering, StageStateTransforming, true},
		{"discovering back to idle (empty batch)", StageStateDiscovering, StageStateIdle, true},
		{"transforming to committing", StageStateTransforming, StageStateCommitting, true},
		{"transforming back to idle (failure)", StageStateTransforming, StageStateIdle, true},
		{"committing to idle", StageStateCommitting, StageStateIdle, true},
		{"idle to committing skips phases", StageStateIdle, StageStateCommitting, false},
		{"committing to discovering", StageStateCommitting, StageStateDiscovering, false},
		{"idle to idle", StageStateIdle, StageStateIdle, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestStageExecution_TransitionTo(t *testing.T) {
	se := NewStageExecution("run-1", "users_bronze", "churn_users_bronze")
	assert.Equal(t, StageStateIdle, se.State)
	assert.Equal(t, ExitStatusUnknown, se.ExitStatus)

	require.NoError(t, se.TransitionTo(StageStateDiscovering))
	require.NoError(t, se.TransitionTo(StageStateTransforming))
	require.NoError(t, se.TransitionTo(StageStateCommitting))
	require.NoError(t, se.TransitionTo(StageStateIdle))

	err := se.TransitionTo(StageStateCommitting)
	assert.Error(t, err)
	assert.Equal(t, StageStateIdle, se.State, "state must be unchanged after a rejected transition")
}

func TestStageExecution_MarkAsFailed(t *testing.T) {
	se := NewStageExecution("run-1", "users_silver", "churn_users")
	require.NoError(t, se.TransitionTo(StageStateDiscovering))

	se.MarkAsFailed(errors.New("source listing timed out"))

	assert.Equal(t, StageStateIdle, se.State)
	assert.Equal(t, ExitStatusFailed, se.ExitStatus)
	assert.False(t, se.ExitStatus.IsSuccess())
	require.NotNil(t, se.EndTime)
	assert.Contains(t, se.Failures, "source listing timed out")
}

func TestExitStatus_IsSuccess(t *testing.T) {
	assert.True(t, ExitStatusAdvanced.IsSuccess())
	assert.True(t, ExitStatusNoOp.IsSuccess())
	assert.False(t, ExitStatusFailed.IsSuccess())
	assert.False(t, ExitStatusUnknown.IsSuccess())
}

func TestChainRun_Complete(t *testing.T) {
	t.Run("all no-op settles no-op", func(t *testing.T) {
		cr := NewChainRun("users")
		for _, name := range []string{"bronze", "silver"} {
			se := NewStageExecution(cr.ID, name, "t_"+name)
			se.MarkAsNoOp()
			cr.StageExecutions = append(cr.StageExecutions, se)
		}
		cr.Complete()
		assert.Equal(t, ExitStatusNoOp, cr.ExitStatus)
		assert.Empty(t, cr.FailedStage)
	})

	t.Run("one advanced settles advanced", func(t *testing.T) {
		cr := NewChainRun("users")
		adv := NewStageExecution(cr.ID, "bronze", "t_bronze")
		adv.MarkAsAdvanced()
		noop := NewStageExecution(cr.ID, "silver", "t_silver")
		noop.MarkAsNoOp()
		cr.StageExecutions = append(cr.StageExecutions, adv, noop)
		cr.Complete()
		assert.Equal(t, ExitStatusAdvanced, cr.ExitStatus)
	})

	t.Run("failure wins and names the stage", func(t *testing.T) {
		cr := NewChainRun("orders")
		ok := NewStageExecution(cr.ID, "bronze", "t_bronze")
		ok.MarkAsAdvanced()
		bad := NewStageExecution(cr.ID, "silver", "t_silver")
		bad.MarkAsFailed(errors.New("commit aborted"))
		cr.StageExecutions = append(cr.StageExecutions, ok, bad)
		cr.Complete()
		assert.Equal(t, ExitStatusFailed, cr.ExitStatus)
		assert.Equal(t, "silver", cr.FailedStage)
		assert.Contains(t, cr.Failures, "commit aborted")
	})
}

func TestFailureList_ValueAndScan(t *testing.T) {
	fl := FailureList{"first", "second"}
	v, err := fl.Value()
	require.NoError(t, err)

	var got FailureList
	require.NoError(t, got.Scan(v))
	assert.Equal(t, fl, got)

	var empty FailureList
	require.NoError(t, empty.Scan(nil))
	assert.NotNil(t, empty)
	assert.Len(t, empty, 0)
}

func TestCheckpoint_CoversAndAdvance(t *testing.T) {
	cp := NewCheckpoint("stage-1")
	f1 := FileFingerprint{Path: "users/batch1.json", Size: 10, ModTime: time.Unix(1000, 0)}
	f2 := FileFingerprint{Path: "users/batch2.json", Size: 20, ModTime: time.Unix(2000, 0)}

	origin := BatchOrigin{Files: []FileFingerprint{f1}}
	assert.False(t, cp.Covers(origin))

	next := cp.Advance(origin)
	assert.True(t, next.Covers(origin))
	assert.False(t, cp.Covers(origin), "advance must not mutate the receiver")
	assert.Equal(t, 1, next.Version)

	// Same path rewritten with a new mod time is not covered.
	rewritten := f1
	rewritten.ModTime = f1.ModTime.Add(time.Hour)
	assert.False(t, next.Covers(BatchOrigin{Files: []FileFingerprint{rewritten}}))
	assert.False(t, next.Covers(BatchOrigin{Files: []FileFingerprint{f1, f2}}))
}

func TestCheckpoint_HighWaterMonotonic(t *testing.T) {
	cp := NewCheckpoint("stage-2")
	next := cp.Advance(BatchOrigin{FromSeq: 0, ToSeq: 42})
	assert.Equal(t, int64(42), next.HighWater)
	assert.True(t, next.Covers(BatchOrigin{FromSeq: 10, ToSeq: 42}))
	assert.False(t, next.Covers(BatchOrigin{FromSeq: 42, ToSeq: 50}))

	// Advancing over an older interval never moves the mark backwards.
	stale := next.Advance(BatchOrigin{FromSeq: 0, ToSeq: 7})
	assert.Equal(t, int64(42), stale.HighWater)
}

func TestCheckpoint_ValueAndScan(t *testing.T) {
	cp := NewCheckpoint("stage-3")
	cp = cp.Advance(BatchOrigin{
		Files:   []FileFingerprint{{Path: "a.csv", Size: 5, ModTime: time.Unix(500, 0).UTC()}},
		FromSeq: 0,
		ToSeq:   9,
	})

	v, err := cp.Value()
	require.NoError(t, err)

	var got Checkpoint
	require.NoError(t, got.Scan(v))
	assert.Equal(t, cp.StageID, got.StageID)
	assert.Equal(t, cp.HighWater, got.HighWater)
	assert.Equal(t, cp.Version, got.Version)
	require.Contains(t, got.Files, "a.csv")
	assert.True(t, got.Files["a.csv"].Same(cp.Files["a.csv"]))
}

func TestRescueBucket_ValueAndScan(t *testing.T) {
	rb := RescueBucket{"referrer": "affiliate", "age_group": "unknown"}
	v, err := rb.Value()
	require.NoError(t, err)

	var got RescueBucket
	require.NoError(t, got.Scan(v))
	assert.Equal(t, "affiliate", got["referrer"])
	assert.Equal(t, "unknown", got["age_group"])

	var empty RescueBucket
	ev, err := empty.Value()
	require.NoError(t, err)
	assert.Nil(t, ev, "empty bucket persists as NULL")
}
