package mi7

import (
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpinLock(t *testing.T) {
	var l spinLock
	pid := uint32(os.Getpid())

	const workers, rounds = 8, 2000
	counter := 0
	var wg sync.WaitGroup
	for iter := 0; iter < workers; iter++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for iter := 0; iter < rounds; iter++ {
				if !assert.NoError(t, l.lock(pid, time.Second)) {
					return
				}
				counter++
				l.unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, workers*rounds, counter)
	assert.Zero(t, l.holder())
}

func TestSpinLockDeadHolder(t *testing.T) {
	var l spinLock
	l.owner.Store(deadPid(t))

	pid := uint32(os.Getpid())
	start := time.Now()
	require.NoError(t, l.lock(pid, 5*time.Second))
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, int(pid), l.holder())
	l.unlock()
}

func TestSpinLockTimeout(t *testing.T) {
	var l spinLock
	// the parent process outlives the test
	l.owner.Store(uint32(os.Getppid()))

	err := l.lock(uint32(os.Getpid()), 200*time.Millisecond)
	assert.ErrorIs(t, err, ErrLockFailed)
	assert.Equal(t, os.Getppid(), l.holder())
}

func TestSpinLockShortTimeout(t *testing.T) {
	var l spinLock
	l.owner.Store(uint32(os.Getppid()))

	start := time.Now()
	err := l.lock(uint32(os.Getpid()), 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrLockFailed)
	assert.Less(t, time.Since(start), stealAfter)
}
