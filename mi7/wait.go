package mi7

import (
	"context"
	"sync/atomic"
	"time"
)

// waitWord is a generation counter in shared memory that goroutines of any
// attached process can sleep on.
type waitWord struct {
	seq      atomic.Uint32
	sleepers atomic.Uint32
	padding  [cacheLineSize - 2]uint32 // cache line alignment padding
}

func (w *waitWord) load() uint32 {
	return w.seq.Load()
}

// notify bumps the generation and wakes every sleeper. The futex call is
// skipped when nobody is registered.
func (w *waitWord) notify() error {
	w.seq.Add(1)
	if w.sleepers.Load() == 0 {
		return nil
	}
	return futex_wake(&w.seq, true)
}

// wait blocks until the generation differs from expected or ctx is done.
//
// The futex sleep happens on a helper goroutine; the caller parks on an
// event file in the runtime poller, so cancellation is a read deadline.
// wait does not return before the helper has left the kernel.
func (w *waitWord) wait(ctx context.Context, expected uint32) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// registering before the re-check pairs with the add-then-load in
	// notify, so a wake cannot fall between the two.
	w.sleepers.Add(1)
	defer w.sleepers.Add(^uint32(0))
	if w.seq.Load() != expected {
		return nil
	}

	ev, err := newEvent()
	if err != nil {
		return err
	}
	defer ev.close()

	deadline, hasDeadline := ctx.Deadline()
	var stop atomic.Bool
	var futexErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		for !stop.Load() && w.seq.Load() == expected {
			timeout := time.Duration(-1)
			if hasDeadline {
				if timeout = time.Until(deadline); timeout <= 0 {
					break
				}
			}
			if err := futex_wait(&w.seq, expected, timeout); err != nil {
				if err != errTimeout {
					futexErr = err
				}
				break
			}
		}
		_ = ev.notify()
	}()

	unwatch := context.AfterFunc(ctx, func() {
		_ = ev.file().SetReadDeadline(time.Now())
	})
	err = ev.read()
	unwatch()

	if err != nil {
		stop.Store(true)
		ticker := time.NewTicker(time.Millisecond)
		defer ticker.Stop()
		for waiting := true; waiting; {
			_ = futex_wake(&w.seq, true)
			select {
			case <-done:
				waiting = false
			case <-ticker.C:
			}
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		return err
	}

	<-done
	if futexErr != nil {
		return futexErr
	}
	if w.seq.Load() == expected {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if hasDeadline && !time.Now().Before(deadline) {
			return context.DeadlineExceeded
		}
	}
	return nil
}
