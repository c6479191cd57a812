package exception

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew_RetryableByKind(t *testing.T) {
	tests := []struct {
		kind      ErrorKind
		retryable bool
	}{
		{KindSourceUnavailable, true},
		{KindCommitFailed, true},
		{KindSchemaConflict, false},
		{KindCastFailure, false},
		{KindConfig, false},
		{KindInternal, false},
	}
	for _, tt := range tests {
		err := New("stage", tt.kind, "boom", nil)
		assert.Equal(t, tt.retryable, err.IsRetryable(), "kind %s", tt.kind)
		assert.Equal(t, tt.kind, KindOf(err))
	}
}

func TestNewf_ExtractsWrappedError(t *testing.T) {
	inner := errors.New("disk full")
	err := Newf("users_bronze", KindCommitFailed, "append to %s aborted", "churn_users_bronze", inner)

	assert.Equal(t, "append to churn_users_bronze aborted", err.Message)
	assert.True(t, errors.Is(err, inner))
	assert.Contains(t, err.Error(), "COMMIT_FAILED")
	assert.Contains(t, err.Error(), "disk full")
}

func TestNewf_NoWrappedError(t *testing.T) {
	err := Newf("s", KindSchemaConflict, "column %q not declared", "referrer")
	assert.Equal(t, `column "referrer" not declared`, err.Message)
	assert.Nil(t, err.Unwrap())
}

func TestIsKind_TraversesWrapping(t *testing.T) {
	pe := New("s", KindSchemaConflict, "bad column", nil)
	wrapped := fmt.Errorf("stage run failed: %w", pe)

	assert.True(t, IsKind(wrapped, KindSchemaConflict))
	assert.False(t, IsKind(wrapped, KindCommitFailed))
	assert.False(t, IsRetryable(wrapped))
}

func TestExtractMessage(t *testing.T) {
	assert.Equal(t, "", ExtractMessage(nil))
	assert.Equal(t, "plain", ExtractMessage(errors.New("plain")))
	assert.Equal(t, "clean", ExtractMessage(New("s", KindInternal, "clean", errors.New("noisy"))))
}
