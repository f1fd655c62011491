package supervisor

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunJoinsAllTasksOnCancel(t *testing.T) {
	var started int32
	s := New()
	for i := 0; i < 3; i++ {
		s.Add(fmt.Sprintf("task-%d", i), func(ctx context.Context) error {
			atomic.AddInt32(&started, 1)
			<-ctx.Done()
			return nil
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&started) == 3 }, time.Second, time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not join after cancellation")
	}
}

func TestSuperviseOneRestartsOnPanic(t *testing.T) {
	var calls int32
	s := New()
	task := Task{Name: "flaky", Run: func(ctx context.Context) error {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			panic("boom")
		}
		<-ctx.Done()
		return nil
	}}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.superviseOne(ctx, task)

	assert.GreaterOrEqual(t, int(atomic.LoadInt32(&calls)), 3)
}

func TestSuperviseOneStopsAfterCleanReturnWithoutRestart(t *testing.T) {
	var calls int32
	s := New()
	task := Task{Name: "one-shot", Run: func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}}

	s.superviseOne(context.Background(), task)
	assert.Equal(t, int32(1), calls)
}

func TestStopChanClosesUnderlyingStopOnContextCancel(t *testing.T) {
	stopped := make(chan struct{})
	task := StopChan(func(stop <-chan struct{}) {
		<-stop
		close(stopped)
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- task(ctx) }()

	cancel()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("StopChan did not close stop channel on ctx cancel")
	}
	require.NoError(t, <-done)
}
