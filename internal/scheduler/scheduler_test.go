package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerRestart(t *testing.T) {
	sched := NewScheduler(60, func(context.Context) error { return nil })

	require.NoError(t, sched.Start())
	assert.True(t, sched.IsRunning())
	assert.Error(t, sched.Start(), "double start is rejected")
	assert.False(t, sched.GetNextRun().IsZero())

	require.NoError(t, sched.Stop())
	assert.False(t, sched.IsRunning())
	assert.True(t, sched.GetNextRun().IsZero())

	require.NoError(t, sched.Start())
	assert.True(t, sched.IsRunning())
	require.NotNil(t, sched.ctx)
	assert.NoError(t, sched.ctx.Err(), "context should be active after restart")
	require.NoError(t, sched.Stop())
	assert.Error(t, sched.ctx.Err())
}

func TestRunOnceRecordsOutcome(t *testing.T) {
	var calls int32
	boom := errors.New("boom")
	sched := NewScheduler(60, func(context.Context) error {
		if atomic.AddInt32(&calls, 1) == 1 {
			return boom
		}
		return nil
	})

	assert.ErrorIs(t, sched.RunOnce(context.Background()), boom)
	assert.ErrorIs(t, sched.LastError(), boom)
	assert.False(t, sched.GetLastRun().IsZero())

	assert.NoError(t, sched.RunOnce(context.Background()))
	assert.NoError(t, sched.LastError())
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestSchedulerTicks(t *testing.T) {
	ticked := make(chan struct{}, 1)
	sched := NewScheduler(1, func(context.Context) error {
		select {
		case ticked <- struct{}{}:
		default:
		}
		return nil
	})
	require.NoError(t, sched.Start())
	defer sched.Stop()

	select {
	case <-ticked:
	case <-time.After(3 * time.Second):
		t.Fatal("scheduler did not tick")
	}
	assert.Equal(t, time.Second, sched.Interval())
}
