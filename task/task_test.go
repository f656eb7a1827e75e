package task

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"
)

var errFake = xerrors.New("worker blew up")

func TestTaskLifecycle(t *testing.T) {
	tk := New(nil, 42)
	require.Equal(t, StateNew, tk.State())
	require.Equal(t, 42, tk.Data())
	require.True(t, tk.IsQueueable())

	tk.Start()
	require.Equal(t, StatePending, tk.State())
	require.False(t, tk.IsQueueable())

	tk.Complete("result")
	require.True(t, tk.IsDone())
	require.Equal(t, "result", tk.Results())

	res, err := tk.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, "result", res)
}

func TestTaskRetryBound(t *testing.T) {
	tk := New(nil, nil, WithMaxRetries(2))

	// initial attempt plus two retries fit the budget
	tk.Start()
	tk.Fail(errFake)
	require.Equal(t, StateRetry, tk.State())
	require.Equal(t, 1, tk.Retries())

	tk.Start()
	tk.Fail(errFake)
	require.Equal(t, StateRetry, tk.State())
	require.Equal(t, 2, tk.Retries())

	// third failure exhausts the budget
	tk.Start()
	tk.Fail(errFake)
	require.Equal(t, StateRejected, tk.State())
	require.Equal(t, 3, tk.Retries())

	_, err := tk.Wait(context.Background())
	require.ErrorIs(t, err, errFake)
}

func TestTaskAbortSkipsRetries(t *testing.T) {
	tk := New(nil, nil, WithMaxRetries(5))
	tk.Start()
	tk.Fail(Abort(errFake))
	require.True(t, tk.IsRejected())
	require.Equal(t, 1, tk.Retries())

	_, err := tk.Wait(context.Background())
	require.ErrorIs(t, err, errFake)
}

func TestTaskRejectIsTerminalOnce(t *testing.T) {
	tk := New(nil, nil)
	tk.Start()
	tk.Reject(errFake)
	require.True(t, tk.IsRejected())

	// a second terminal transition must not double-close the done channel
	require.NotPanics(t, func() { tk.Reject(xerrors.New("again")) })
	require.NotPanics(t, func() { tk.Reject(errFake) })
	require.ErrorIs(t, tk.Error(), errFake)
}

func TestTaskWaitHonoursContext(t *testing.T) {
	tk := New(nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := tk.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
