package perkey

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestScheduler_MutualExclusionPerKey(t *testing.T) {
	s := New[string]()

	var inside atomic.Int32
	var ran atomic.Int32
	var overlapped atomic.Bool
	errs := make(chan error, 16)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.Do(context.Background(), "plan-001", func() error {
				if inside.Add(1) != 1 {
					overlapped.Store(true)
				}
				time.Sleep(time.Millisecond)
				inside.Add(-1)
				ran.Add(1)
				return nil
			})
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	require.False(t, overlapped.Load(), "two tasks ran inside the same key")
	require.Equal(t, int32(16), ran.Load())
	require.Equal(t, 0, s.size())
}

func TestScheduler_ParallelAcrossKeys(t *testing.T) {
	s := New[string]()

	var running atomic.Int32
	var maxRunning atomic.Int32

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		key := string(rune('a' + i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Do(context.Background(), key, func() error {
				cur := running.Add(1)
				for {
					max := maxRunning.Load()
					if cur <= max || maxRunning.CompareAndSwap(max, cur) {
						break
					}
				}
				time.Sleep(50 * time.Millisecond)
				running.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()

	require.GreaterOrEqual(t, maxRunning.Load(), int32(2), "different keys should overlap")
}

func TestScheduler_ErrorPropagation(t *testing.T) {
	s := New[string]()

	wantErr := errors.New("task error")
	err := s.Do(context.Background(), "key", func() error { return wantErr })
	require.ErrorIs(t, err, wantErr)
}

func TestScheduler_CancelledBeforeStart(t *testing.T) {
	s := New[string]()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Do(ctx, "key", func() error {
		t.Error("fn should not run")
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 0, s.size())
}

func TestScheduler_CancelWhileWaiting(t *testing.T) {
	s := New[string]()

	hold := make(chan struct{})
	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Do(context.Background(), "key", func() error {
			close(started)
			<-hold
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.Do(ctx, "key", func() error {
		t.Error("fn should not run")
		return nil
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(hold)
	<-done
	require.Equal(t, 0, s.size())
}
