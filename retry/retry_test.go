package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIsRecoverable(t *testing.T) {
	require.False(t, IsRecoverable(nil))
	require.True(t, IsRecoverable(NewRecoverableError(errors.New("backend hiccup"))))
	require.False(t, IsRecoverable(NewNonRecoverableError(errors.New("bad credentials"))))

	// Unmarked errors fall back to heuristics.
	require.True(t, IsRecoverable(errors.New("upstream rate limit exceeded")))
	require.True(t, IsRecoverable(context.DeadlineExceeded))
	require.False(t, IsRecoverable(context.Canceled))
	require.False(t, IsRecoverable(errors.New("no such city")))
}

func TestDoRetriesUntilExhausted(t *testing.T) {
	count := 0
	err := Do(context.Background(), func() error {
		count++
		return NewRecoverableError(errors.New("search backend busy"))
	}, WithMaxRetries(3), WithBaseWait(time.Millisecond))
	require.Error(t, err)
	require.Equal(t, "search backend busy", err.Error())
	require.Equal(t, 4, count)
}

func TestDoStopsOnNonRecoverable(t *testing.T) {
	count := 0
	err := Do(context.Background(), func() error {
		count++
		return NewNonRecoverableError(errors.New("invalid client id"))
	}, WithMaxRetries(3), WithBaseWait(time.Millisecond))
	require.Error(t, err)
	require.Equal(t, 1, count)
}

func TestDoSucceedsMidway(t *testing.T) {
	count := 0
	err := Do(context.Background(), func() error {
		count++
		if count < 3 {
			return NewRecoverableError(errors.New("still warming up"))
		}
		return nil
	}, WithMaxRetries(5), WithBaseWait(time.Millisecond))
	require.NoError(t, err)
	require.Equal(t, 3, count)
}

func TestDoZeroMaxRetriesStillRunsOnce(t *testing.T) {
	count := 0
	err := Do(context.Background(), func() error {
		count++
		return NewRecoverableError(errors.New("busy"))
	}, WithMaxRetries(0), WithBaseWait(time.Millisecond))
	require.Error(t, err)
	require.Equal(t, 1, count)
}
