package mi7

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWaitWordNotify(t *testing.T) {
	var w waitWord
	gen := w.load()
	go func() {
		time.Sleep(10 * time.Millisecond)
		assert.NoError(t, w.notify())
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, w.wait(ctx, gen))
	assert.NotEqual(t, gen, w.load())
	assert.Zero(t, w.sleepers.Load())
}

func TestWaitWordStale(t *testing.T) {
	var w waitWord
	gen := w.load()
	assert.NoError(t, w.notify())

	// the generation moved before we slept
	done := make(chan error, 1)
	go func() { done <- w.wait(context.Background(), gen) }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("wait on a stale generation blocked")
	}
}

func TestWaitWordDeadline(t *testing.T) {
	var w waitWord
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := w.wait(ctx, w.load())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
	assert.Zero(t, w.sleepers.Load())
}

func TestWaitWordCancel(t *testing.T) {
	var w waitWord
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := w.wait(ctx, w.load())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, w.sleepers.Load())

	// notify with nobody registered skips the futex call
	assert.NoError(t, w.notify())
}

func TestWaitWordManyWaiters(t *testing.T) {
	var w waitWord
	gen := w.load()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	const waiters = 16
	errc := make(chan error, waiters)
	for iter := 0; iter < waiters; iter++ {
		go func() { errc <- w.wait(ctx, gen) }()
	}
	time.Sleep(20 * time.Millisecond)
	assert.NoError(t, w.notify())
	for iter := 0; iter < waiters; iter++ {
		assert.NoError(t, <-errc)
	}
}
