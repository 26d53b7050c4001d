package mi7

import (
	"fmt"
	"runtime"
	"sync/atomic"
	"time"
)

const (
	// CAS attempts between two yields.
	spinLimit = 100

	// how long a holder may keep the lock before we check if it is still
	// alive.
	stealAfter = 100 * time.Millisecond
)

// spinLock is a mutex living in shared memory. The word holds the pid of
// the holder, or 0 when free, so a lock left behind by a dead process can be
// taken over.
type spinLock struct {
	owner   atomic.Uint32
	padding [cacheLineSize - 1]uint32 // cache line alignment padding
}

func (l *spinLock) tryLock(pid uint32) bool {
	return l.owner.Load() == 0 && l.owner.CompareAndSwap(0, pid)
}

// lock spins, then yields, until it holds the lock or timeout passes.
func (l *spinLock) lock(pid uint32, timeout time.Duration) error {
	if l.owner.CompareAndSwap(0, pid) {
		return nil
	}
	var start time.Time
	for i := 1; ; i++ {
		if l.tryLock(pid) {
			return nil
		}
		if i%spinLimit != 0 {
			continue
		}
		runtime.Gosched()
		if start.IsZero() {
			start = time.Now()
			continue
		}
		waited := time.Since(start)
		holder := l.owner.Load()
		if waited >= stealAfter && holder != 0 && holder != pid &&
			!pidExists(int(holder)) && l.owner.CompareAndSwap(holder, pid) {
			return nil
		}
		if waited >= timeout {
			return fmt.Errorf("%w: held by pid %d for over %s", ErrLockFailed, holder, timeout)
		}
	}
}

func (l *spinLock) unlock() {
	l.owner.Store(0)
}

func (l *spinLock) holder() int {
	return int(l.owner.Load())
}
