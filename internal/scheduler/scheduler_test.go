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

func TestScheduler_Start(t *testing.T) {
	t.Run("empty expressions are skipped", func(t *testing.T) {
		s := New(nil)
		s.Register("retrain", "", func(context.Context) error { return nil })
		s.Register("rescore", "0 0 2 * * *", func(context.Context) error { return nil })
		require.NoError(t, s.Start())
		defer s.Stop()
		assert.Equal(t, 1, s.entries())
	})

	t.Run("invalid expression fails", func(t *testing.T) {
		s := New(nil)
		s.Register("retrain", "every tuesday", func(context.Context) error { return nil })
		err := s.Start()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "retrain")
	})

	t.Run("five field expression is rejected", func(t *testing.T) {
		s := New(nil)
		s.Register("retrain", "0 2 * * *", func(context.Context) error { return nil })
		assert.Error(t, s.Start())
	})
}

func TestScheduler_RunsJobs(t *testing.T) {
	s := New(nil)
	var runs int32
	ran := make(chan struct{}, 10)
	s.Register("rescore", "* * * * * *", func(ctx context.Context) error {
		atomic.AddInt32(&runs, 1)
		ran <- struct{}{}
		return errors.New("store unavailable")
	})
	require.NoError(t, s.Start())

	select {
	case <-ran:
	case <-time.After(3 * time.Second):
		t.Fatal("job did not run")
	}
	s.Stop()
	assert.GreaterOrEqual(t, atomic.LoadInt32(&runs), int32(1))
}

func TestScheduler_StopCancelsJobContext(t *testing.T) {
	s := New(nil)
	s.StopTimeout = 100 * time.Millisecond
	started := make(chan struct{})
	finished := make(chan error, 1)
	s.Register("retrain", "* * * * * *", func(ctx context.Context) error {
		select {
		case started <- struct{}{}:
		default:
			return nil
		}
		<-ctx.Done()
		finished <- ctx.Err()
		return ctx.Err()
	})
	require.NoError(t, s.Start())

	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("job did not start")
	}
	s.Stop()

	select {
	case err := <-finished:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("job context was not cancelled")
	}
}
