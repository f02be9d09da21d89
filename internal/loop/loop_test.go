package loop

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startLoop(t *testing.T) *Loop {
	t.Helper()
	l := New()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = l.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return l
}

func TestCallRunsOnLoop(t *testing.T) {
	l := startLoop(t)

	var order []int
	for i := 0; i < 3; i++ {
		i := i
		require.True(t, l.Post(func() { order = append(order, i) }))
	}
	require.NoError(t, l.Call(context.Background(), func() { order = append(order, 3) }))

	assert.Equal(t, []int{0, 1, 2, 3}, order)
}

func TestAfterFuncFiresOnce(t *testing.T) {
	l := startLoop(t)

	fired := make(chan time.Time, 2)
	start := time.Now()
	l.AfterFunc(20*time.Millisecond, func() { fired <- time.Now() })

	select {
	case at := <-fired:
		assert.GreaterOrEqual(t, at.Sub(start), 20*time.Millisecond)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for timer")
	}

	select {
	case <-fired:
		t.Fatal("timer fired twice")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStoppedTimerNeverFires(t *testing.T) {
	l := startLoop(t)

	fired := make(chan struct{}, 1)
	var timer Timer
	require.NoError(t, l.Call(context.Background(), func() {
		timer = l.AfterFunc(10*time.Millisecond, func() { fired <- struct{}{} })
	}))

	var stopped bool
	require.NoError(t, l.Call(context.Background(), func() { stopped = timer.Stop() }))
	assert.True(t, stopped)
	assert.False(t, timer.Stop(), "second stop is a no-op")

	select {
	case <-fired:
		t.Fatal("stopped timer fired")
	case <-time.After(60 * time.Millisecond):
	}
}

func TestStopAfterFireReportsFalse(t *testing.T) {
	l := startLoop(t)

	fired := make(chan struct{}, 1)
	timer := l.AfterFunc(time.Millisecond, func() { fired <- struct{}{} })

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for timer")
	}
	assert.False(t, timer.Stop())
}

func TestPostAfterStop(t *testing.T) {
	l := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, l.Run(ctx), context.Canceled)

	assert.False(t, l.Post(func() {}))
	assert.ErrorIs(t, l.Call(context.Background(), func() {}), ErrStopped)
}
