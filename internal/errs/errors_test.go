package errs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncErrorIsMatchesByKind(t *testing.T) {
	a := New(KindLockContention, "workspace locked")
	b := New(KindLockContention, "different message")
	c := New(KindMergeConflict, "workspace locked")

	assert.True(t, errors.Is(a, b))
	assert.False(t, errors.Is(a, c))
}

func TestExitCodeMapping(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 1, ExitCode(New(KindInvalidArguments, "bad flags")))
	assert.Equal(t, 3, ExitCode(New(KindLockContention, "contended")))
	assert.Equal(t, 2, ExitCode(New(KindCheckinFailure, "server rejected commit")))
	assert.Equal(t, 2, ExitCode(errors.New("plain error")))
}

func TestRecoveredLocally(t *testing.T) {
	assert.True(t, RecoveredLocally(KindNothingToCheckin))
	assert.False(t, RecoveredLocally(KindMergeConflict))
}

func TestWrapPreservesUnderlying(t *testing.T) {
	cause := errors.New("exec: git not found")
	wrapped := Wrap(KindUnknownFatal, "checkin failed", cause)

	assert.ErrorIs(t, wrapped, cause)
	assert.Contains(t, wrapped.Error(), "exec: git not found")
}

func TestWithRecommendations(t *testing.T) {
	err := New(KindLockContention, "locked").WithRecommendations(
		"wait for the current sync to finish",
		"or pass --force-unlock if the lock is stale",
	)
	require.Len(t, err.Recommendations, 2)
}

func TestDoRetriesTransientThenSucceeds(t *testing.T) {
	attempts := 0
	policy := RetryPolicy{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, Multiplier: 2}

	err := Do(context.Background(), policy, func(error) bool { return true }, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("connection reset")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDoStopsOnNonTransientError(t *testing.T) {
	attempts := 0
	policy := DefaultRetryPolicy()

	permanent := errors.New("invalid commit")
	err := Do(context.Background(), policy, func(error) bool { return false }, func() error {
		attempts++
		return permanent
	})

	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, attempts)
}

func TestDoGivesUpAfterMaxAttempts(t *testing.T) {
	attempts := 0
	policy := RetryPolicy{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 2}

	err := Do(context.Background(), policy, func(error) bool { return true }, func() error {
		attempts++
		return errors.New("still failing")
	})

	assert.Error(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDoRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	policy := RetryPolicy{MaxAttempts: 5, InitialDelay: time.Second, MaxDelay: time.Second, Multiplier: 1}
	attempts := 0

	err := Do(ctx, policy, func(error) bool { return true }, func() error {
		attempts++
		return errors.New("transient")
	})

	assert.Error(t, err)
	assert.Equal(t, 1, attempts)
}
