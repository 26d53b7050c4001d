//go:build !linux

package mi7

import (
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
)

// Without a cross-process futex the word is polled, backing off from 50µs
// to 10ms between reads.
func futex_wait(addr *atomic.Uint32, if_value uint32, timeout time.Duration) error {
	if timeout == 0 {
		if addr.Load() == if_value {
			return errTimeout
		}
		return nil
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Microsecond
	b.MaxInterval = 10 * time.Millisecond
	b.MaxElapsedTime = 0
	if timeout > 0 {
		b.MaxElapsedTime = timeout
	}
	b.Reset()
	for addr.Load() == if_value {
		d := b.NextBackOff()
		if d == backoff.Stop {
			return errTimeout
		}
		time.Sleep(d)
	}
	return nil
}

// Pollers notice the change on their own.
func futex_wake(*atomic.Uint32, bool) error {
	return nil
}
