//go:build linux || darwin

package mi7

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

const maxNameLen = 255

// Queue is a handle on a shared memory queue. One process creates the
// queue, any number of processes connect to it, and all of them may send
// and receive. A Queue is safe for concurrent use by multiple goroutines.
type Queue struct {
	name  string
	pid   uint32
	seg   *segment
	hdr   *shmHdr
	slots []byte
	geo   Geometry
	cfg   config

	ctx    context.Context // cancelled by Close to release blocked calls
	cancel context.CancelFunc
	mu     sync.RWMutex // held shared by every call touching the mapping
	closed bool
}

// segment is a mapped named shared memory object.
type segment struct {
	fd   int
	data []byte
}

func newQueue(name string, seg *segment, cfg config) *Queue {
	q := &Queue{
		name: name,
		pid:  uint32(unix.Getpid()),
		seg:  seg,
		hdr:  (*shmHdr)(unsafe.Pointer(&seg.data[0])),
		cfg:  cfg,
	}
	q.ctx, q.cancel = context.WithCancel(context.Background())
	return q
}

// Close detaches the handle from the segment. Calls blocked in this handle
// return os.ErrClosed. The segment itself stays in the system until it is
// unlinked.
func (q *Queue) Close() error {
	q.cancel()
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	q.hdr = nil
	q.slots = nil
	return q.seg.close()
}

// CloseAndUnlink closes the queue and unlinks the shared memory object.
func (q *Queue) CloseAndUnlink() error {
	err := q.Close()
	if uerr := Unlink(q.name); uerr != nil && !errors.Is(uerr, os.ErrNotExist) {
		return errors.Join(err, uerr)
	}
	return err
}

func checkName(name string) error {
	if name == "" || len(name) > maxNameLen || strings.ContainsAny(name, "/\x00") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

func createSegment(name string, size int, perm uint32) (*segment, error) {
	if err := checkName(name); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCreationFailed, err)
	}
	fd, err := shm_open(name, unix.O_CREAT|unix.O_EXCL|unix.O_RDWR, perm)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to shm_open %q err:%w", ErrCreationFailed, name, err)
	}
	seg := &segment{fd: fd}
	fail := func(op string, err error) (*segment, error) {
		_ = seg.close()
		_ = Unlink(name)
		return nil, fmt.Errorf("%w: failed to %s %q err:%w", ErrCreationFailed, op, name, err)
	}

	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		return fail("ftruncate", err)
	}

	// macOS: the size of the shared memory object may not same as ftruncate
	var statbuf unix.Stat_t
	if err := unix.Fstat(fd, &statbuf); err != nil {
		return fail("fstat", err)
	}
	if int(statbuf.Size) < size {
		return fail("size", unix.ENOSPC)
	}

	seg.data, err = unix.Mmap(fd, 0, int(statbuf.Size),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fail("mmap", err)
	}
	return seg, nil
}

func openSegment(name string) (*segment, error) {
	if err := checkName(name); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAccessFailed, err)
	}
	fd, err := shm_open(name, unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to shm_open %q err:%w", ErrAccessFailed, name, err)
	}
	seg := &segment{fd: fd}

	var statbuf unix.Stat_t
	if err := unix.Fstat(fd, &statbuf); err != nil {
		_ = seg.close()
		return nil, fmt.Errorf("%w: failed to fstat %q err:%w", ErrAccessFailed, name, err)
	}
	if statbuf.Size == 0 {
		// the creator has not sized it yet
		_ = seg.close()
		return nil, fmt.Errorf("%w: segment %q is empty", ErrAccessFailed, name)
	}
	if int(statbuf.Size) < shmHdrSize {
		_ = seg.close()
		return nil, fmt.Errorf("%w: segment %q is %d bytes, smaller than the header",
			ErrCorruptedData, name, statbuf.Size)
	}

	seg.data, err = unix.Mmap(fd, 0, int(statbuf.Size),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = seg.close()
		return nil, fmt.Errorf("%w: failed to mmap %q err:%w", ErrAccessFailed, name, err)
	}
	return seg, nil
}

func (s *segment) close() error {
	var err error
	if s.data != nil {
		err = unix.Munmap(s.data)
		s.data = nil
	}
	if s.fd >= 0 {
		if cerr := unix.Close(s.fd); err == nil {
			err = cerr
		}
		s.fd = -1
	}
	return err
}

func pidExists(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || err == unix.EPERM
}
