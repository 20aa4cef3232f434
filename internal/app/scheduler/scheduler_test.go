package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/tribute_layer/pkg/logger"
)

func TestAddValidates(t *testing.T) {
	s := New(logger.NewNop())
	noop := func(context.Context) error { return nil }

	assert.Error(t, s.Add(Job{Schedule: "@hourly", Run: noop}))
	assert.Error(t, s.Add(Job{Name: "x", Schedule: "@hourly"}))
	assert.Error(t, s.Add(Job{Name: "x", Schedule: "every now and then", Run: noop}))

	require.NoError(t, s.Add(Job{Name: "x", Schedule: "*/5 * * * *", Run: noop}))
	assert.Error(t, s.Add(Job{Name: "x", Schedule: "@hourly", Run: noop}))
	assert.Equal(t, []string{"x"}, s.Jobs())
}

func TestRunNowAppliesTimeout(t *testing.T) {
	s := New(logger.NewNop())
	require.NoError(t, s.Add(Job{
		Name:     "slow",
		Schedule: "@hourly",
		Timeout:  10 * time.Millisecond,
		Run: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}))

	err := s.RunNow(context.Background(), "slow")
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Error(t, s.RunNow(context.Background(), "missing"))
}

func TestScheduledRun(t *testing.T) {
	s := New(logger.NewNop())
	var runs int32
	fired := make(chan struct{}, 1)
	require.NoError(t, s.Add(Job{
		Name:     "tick",
		Schedule: "@every 1s",
		Run: func(ctx context.Context) error {
			if atomic.AddInt32(&runs, 1) == 1 {
				fired <- struct{}{}
			}
			return nil
		},
	}))

	require.NoError(t, s.Start(context.Background()))
	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Fatal("job did not run")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	require.NoError(t, s.Stop(ctx))
}
