// Package mi7 provides a cross-process message queue built on named shared
// memory. Any number of producer and consumer processes attach to the same
// fixed ring of fixed-size slots; the payload never goes through a socket or
// pipe, and consumers sleep on a futex instead of polling.
package mi7

import (
	"errors"
	"fmt"
	"os"
	"time"
)

var (
	// ErrCreationFailed is returned when a segment cannot be allocated,
	// including when the name is already taken.
	ErrCreationFailed = errors.New("creation failed")

	// ErrAccessFailed is returned when attaching to a segment that does
	// not exist or cannot be mapped.
	ErrAccessFailed = errors.New("access failed")

	// ErrCorruptedData is returned when the shared header or a slot
	// does not hold what this package wrote there.
	ErrCorruptedData = errors.New("corrupted data")

	// ErrConfigMismatch is returned by Connect when the stored geometry
	// disagrees with the one the caller expects.
	ErrConfigMismatch = errors.New("configuration mismatch")

	// ErrQueueFull is returned by non-blocking sends when every slot is
	// taken.
	ErrQueueFull = errors.New("queue full")

	// ErrQueueEmpty is returned by non-blocking receives when no message
	// is ready.
	ErrQueueEmpty = errors.New("queue empty")

	// ErrSerializationFailed wraps codec errors on the send path.
	ErrSerializationFailed = errors.New("serialization failed")

	// ErrDeserializationFailed wraps codec errors on the receive path.
	ErrDeserializationFailed = errors.New("deserialization failed")

	// ErrLockFailed is returned when the shared lock could not be taken
	// within the lock timeout. It means a process stalled while holding it.
	ErrLockFailed = errors.New("lock failed")

	// ErrTooBig is returned when an encoded message does not fit in a slot.
	ErrTooBig = errors.New("message too big for slot")

	// ErrInvalidName is returned for names the OS cannot use for a
	// shared memory object.
	ErrInvalidName = errors.New("invalid queue name")

	// ErrInvalidGeometry is returned for capacity/slot size pairs out of
	// range.
	ErrInvalidGeometry = errors.New("invalid geometry")

	errTimeout = errors.New("waiting timeout")
)

const (
	defaultPerm        = 0o666
	defaultLockTimeout = 5 * time.Second
)

type config struct {
	perm        uint32
	expect      *Geometry
	codec       Codec
	lockTimeout time.Duration
	replace     bool
}

// Opt is a functional option type for configuring a queue handle.
type Opt func(*config)

// OptPerm sets the permission bits of a newly created segment.
func OptPerm(perm uint32) Opt {
	return func(c *config) {
		c.perm = perm
	}
}

// OptExpect makes Connect fail with ErrConfigMismatch unless the
// segment was created with exactly this geometry.
func OptExpect(g Geometry) Opt {
	return func(c *config) {
		c.expect = &g
	}
}

// OptCodec replaces the message codec. All processes attached to a queue
// must use the same codec.
func OptCodec(codec Codec) Opt {
	return func(c *config) {
		c.codec = codec
	}
}

// OptLockTimeout bounds how long an operation waits for the shared lock
// before giving up with ErrLockFailed.
func OptLockTimeout(d time.Duration) Opt {
	return func(c *config) {
		c.lockTimeout = d
	}
}

// OptReplace unlinks any existing segment with the same name before
// creating a new one.
func OptReplace() Opt {
	return func(c *config) {
		c.replace = true
	}
}

func newConfig(opts []Opt) config {
	cfg := config{
		perm:        defaultPerm,
		codec:       ProtoCodec{},
		lockTimeout: defaultLockTimeout,
	}
	for _, f := range opts {
		f(&cfg)
	}
	return cfg
}

// Create creates a new queue with capacity slots of slotSize bytes each.
// It fails with ErrCreationFailed if the name is already in use.
func Create(name string, capacity, slotSize int, opts ...Opt) (*Queue, error) {
	return CreateGeometry(name, Geometry{Capacity: capacity, SlotSize: slotSize}, opts...)
}

// CreateGeometry is Create taking a Geometry value.
func CreateGeometry(name string, geo Geometry, opts ...Opt) (*Queue, error) {
	cfg := newConfig(opts)
	if err := geo.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCreationFailed, err)
	}
	if cfg.replace {
		if err := Unlink(name); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: failed to unlink stale segment err:%w", ErrCreationFailed, err)
		}
	}

	seg, err := createSegment(name, geo.TotalMemory(), cfg.perm)
	if err != nil {
		return nil, err
	}
	q := newQueue(name, seg, cfg)
	q.initHeader(geo)
	return q, nil
}

// Connect attaches to an existing queue. The header is validated but never
// rewritten.
func Connect(name string, opts ...Opt) (*Queue, error) {
	cfg := newConfig(opts)
	seg, err := openSegment(name)
	if err != nil {
		return nil, err
	}
	q := newQueue(name, seg, cfg)
	if err := q.checkHeader(cfg.expect); err != nil {
		q.Close()
		return nil, err
	}
	return q, nil
}
