package mi7

import (
	"math"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// The words live in memory shared between processes, so the private
// variants of the operations cannot be used.
const (
	FUTEX_WAIT uintptr = 0
	FUTEX_WAKE uintptr = 1
)

// futex_wait sleeps while *addr == if_value, for at most timeout. A negative
// timeout waits without bound.
func futex_wait(addr *atomic.Uint32, if_value uint32, timeout time.Duration) error {
	if timeout < 0 {
		// specifying NULL would prevent the call from being interruptable
		// cf. https://outerproduct.net/futex-dictionary.html#linux
		timeout = math.MaxInt32 * time.Millisecond // a long time
	}

	ts := unix.NsecToTimespec(int64(timeout))
	r, _, err := unix.Syscall6(unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		FUTEX_WAIT,
		uintptr(if_value),
		uintptr(unsafe.Pointer(&ts)),
		0,
		0)
	if int32(r) >= 0 {
		return nil
	}
	switch err {
	case unix.ETIMEDOUT:
		return errTimeout
	case unix.EAGAIN, unix.EINTR:
		return nil
	}
	return err
}

func futex_wake(addr *atomic.Uint32, wakeAll bool) error {
	wake := uintptr(1)
	if wakeAll {
		wake = uintptr(math.MaxInt32)
	}
	r, _, err := unix.Syscall(unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		FUTEX_WAKE,
		wake)
	if int32(r) >= 0 || err == unix.ENOENT {
		return nil
	}
	return err
}
