package refsync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pollStep struct {
	ts  *int64
	err error
}

func at(ts int64) pollStep { return pollStep{ts: &ts} }

var errPoll = errors.New("connection refused")

// scriptedPoll replays steps and cancels the watch once they run out.
func scriptedPoll(cancel context.CancelFunc, steps ...pollStep) (PollFunc, *int) {
	calls := 0
	return func(ctx context.Context) (*int64, error) {
		if calls == len(steps) {
			cancel()
			return nil, ctx.Err()
		}
		s := steps[calls]
		calls++
		return s.ts, s.err
	}, &calls
}

func watchOpts() WatchOptions {
	return WatchOptions{Interval: time.Millisecond, MaxConsecutiveErrors: 3, Logger: newTestLogger()}
}

func TestWatch_SyncsWhenTimestampAdvances(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	poll, _ := scriptedPoll(cancel, at(100), at(100), at(150), pollStep{}, at(150), at(140), at(200))

	syncs := 0
	err := Watch(ctx, poll, func(context.Context) error { syncs++; return nil }, watchOpts())

	require.NoError(t, err)
	assert.Equal(t, 2, syncs, "the first poll only records the timestamp")
}

func TestWatch_StartupSync(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	poll, _ := scriptedPoll(cancel, pollStep{}, pollStep{}, at(5))

	opts := watchOpts()
	opts.StartupSync = true
	syncs := 0
	err := Watch(ctx, poll, func(context.Context) error { syncs++; return nil }, opts)

	require.NoError(t, err)
	assert.Equal(t, 2, syncs, "startup sync plus the first timestamp after none")
}

func TestWatch_StopsAfterConsecutiveErrors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	poll, calls := scriptedPoll(cancel, pollStep{err: errPoll}, pollStep{err: errPoll}, pollStep{err: errPoll}, at(1))

	err := Watch(ctx, poll, func(context.Context) error { return nil }, watchOpts())

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTooManyErrors))
	assert.Equal(t, 3, *calls)
}

func TestWatch_SuccessResetsErrorsAndSyncFailuresContinue(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	poll, calls := scriptedPoll(cancel,
		pollStep{err: errPoll}, pollStep{err: errPoll}, at(1),
		pollStep{err: errPoll}, pollStep{err: errPoll}, at(2), at(3))

	syncs := 0
	err := Watch(ctx, poll, func(context.Context) error {
		syncs++
		return errors.New("export failed")
	}, watchOpts())

	require.NoError(t, err)
	assert.Equal(t, 7, *calls)
	assert.Equal(t, 2, syncs)
}

func TestWatch_CancelDuringInitialDelay(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	opts := watchOpts()
	opts.InitialDelay = time.Hour
	polled := false
	err := Watch(ctx, func(context.Context) (*int64, error) { polled = true; return nil, nil }, func(context.Context) error { return nil }, opts)

	require.NoError(t, err)
	assert.False(t, polled)
}
