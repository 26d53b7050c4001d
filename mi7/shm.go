package mi7

import (
	"fmt"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/cenkalti/backoff"
)

const (
	// "MI7QUEUE" read as a little endian uint64.
	shmMagic uint64 = 0x4555455551374d49

	layoutVersion uint32 = 1

	// 64 bytes is the cache line size on most modern CPUs
	cacheLineSize int = 64 / 4

	shmHdrSize  = int(unsafe.Sizeof(shmHdr{}))
	slotHdrSize = int(unsafe.Sizeof(slotHdr{}))

	// how long Connect waits for a creator that has not yet published
	// the magic number.
	initWait = 500 * time.Millisecond
)

// Slot states. A slot only moves Empty -> Writing -> Full -> Reading -> Empty,
// except that an aborted or abandoned write goes back to Empty.
const (
	slotEmpty uint32 = iota
	slotWriting
	slotFull
	slotReading
)

// shmHdr is the header at offset 0 of the segment. Each group of fields
// that changes independently sits on its own cache line.
type shmHdr struct {
	magic       atomic.Uint64             // shmMagic, stored last on creation
	size        uint64                    // total segment size
	version     uint32                    // layoutVersion
	capacity    uint32                    // number of slots
	slot_size   uint32                    // bytes per slot, header included
	creator_pid uint32                    // process that created the segment
	padding0    [cacheLineSize - 8]uint32 // cache line alignment padding

	lock spinLock // metadata lock, holds the owner pid

	count    atomic.Uint32             // messages in Full or Reading slots
	cursor   uint32                    // next slot to probe for writing
	next_seq atomic.Uint64             // sequence stamped on the next claimed slot
	padding2 [cacheLineSize - 4]uint32 // cache line alignment padding

	not_empty waitWord // bumped after a publish
	not_full  waitWord // bumped after a consume
}

// slotHdr precedes the payload of every slot.
type slotHdr struct {
	state    atomic.Uint32 // slotEmpty, slotWriting, slotFull or slotReading
	length   uint32        // payload bytes in use
	sequence uint64        // claim order, assigned under the lock
	checksum uint32        // CRC-32C of the payload
	owner    uint32        // pid holding the slot while Writing or Reading
}

func (q *Queue) initHeader(geo Geometry) {
	hdr := q.hdr
	hdr.size = uint64(geo.TotalMemory())
	hdr.version = layoutVersion
	hdr.capacity = uint32(geo.Capacity)
	hdr.slot_size = uint32(geo.SlotSize)
	hdr.creator_pid = q.pid
	hdr.next_seq.Store(1)
	q.mapSlots()
	// publishing the magic makes the header visible to Connect
	hdr.magic.Store(shmMagic)
}

func (q *Queue) checkHeader(expect *Geometry) error {
	hdr := q.hdr

	// a creator may still be initializing the header
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Millisecond
	b.MaxInterval = 50 * time.Millisecond
	b.MaxElapsedTime = initWait
	_ = backoff.Retry(func() error {
		if hdr.magic.Load() == 0 {
			return ErrCorruptedData
		}
		return nil
	}, b)

	if m := hdr.magic.Load(); m != shmMagic {
		return fmt.Errorf("%w: bad magic %#x", ErrCorruptedData, m)
	}
	if hdr.version != layoutVersion {
		return fmt.Errorf("%w: layout version %d, want %d",
			ErrCorruptedData, hdr.version, layoutVersion)
	}
	geo := Geometry{Capacity: int(hdr.capacity), SlotSize: int(hdr.slot_size)}
	if err := geo.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrCorruptedData, err)
	}
	if hdr.size != uint64(geo.TotalMemory()) || int(hdr.size) > len(q.seg.data) {
		return fmt.Errorf("%w: header size %d, geometry %s, mapped %d",
			ErrCorruptedData, hdr.size, geo, len(q.seg.data))
	}
	if expect != nil && !expect.IsCompatible(geo) {
		return fmt.Errorf("%w: queue %q is %s, expected %s",
			ErrConfigMismatch, q.name, geo, *expect)
	}
	q.mapSlots()
	return nil
}

func (q *Queue) mapSlots() {
	q.geo = Geometry{Capacity: int(q.hdr.capacity), SlotSize: int(q.hdr.slot_size)}
	q.slots = q.seg.data[shmHdrSize:q.hdr.size]
}

func (q *Queue) slot(i int) *slotHdr {
	return (*slotHdr)(unsafe.Pointer(&q.slots[i*q.geo.SlotSize]))
}

func (q *Queue) payload(i int) []byte {
	off := i*q.geo.SlotSize + slotHdrSize
	return q.slots[off : off+q.geo.SlotSize-slotHdrSize]
}
