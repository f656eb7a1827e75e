package retry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"

	"github.com/golemfactory/golem-go/api"
)

func TestRetryRecoversFromTransientErrors(t *testing.T) {
	calls := 0
	result, err := Retry(context.Background(), 5, time.Millisecond, []error{new(api.TransientError)}, func() (int, error) {
		calls++
		if calls < 3 {
			return 0, &api.TransientError{Op: "collect", Err: xerrors.New("connection reset")}
		}
		return 7, nil
	})
	require.NoError(t, err)
	require.Equal(t, 7, result)
	require.Equal(t, 3, calls)
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	permanent := xerrors.New("bad request")
	calls := 0
	_, err := Retry(context.Background(), 5, time.Millisecond, []error{new(api.TransientError)}, func() (int, error) {
		calls++
		return 0, permanent
	})
	require.ErrorIs(t, err, permanent)
	require.Equal(t, 1, calls)
}

func TestRetryGivesUpAfterAttempts(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), 3, time.Millisecond, []error{new(api.TransientError)}, func() (int, error) {
		calls++
		return 0, &api.TransientError{Op: "collect", Err: xerrors.New("still down")}
	})
	require.Error(t, err)
	require.Equal(t, 3, calls)
}

func TestRetryHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Retry(ctx, 5, time.Hour, []error{new(api.TransientError)}, func() (int, error) {
		return 0, &api.TransientError{Op: "collect", Err: xerrors.New("down")}
	})
	require.ErrorIs(t, err, context.Canceled)
}
