package mi7

import (
	"fmt"
	"hash/crc32"
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

func (q *Queue) lock() error {
	return q.hdr.lock.lock(q.pid, q.cfg.lockTimeout)
}

func (q *Queue) unlock() {
	q.hdr.lock.unlock()
}

// commitLock takes the lock for a transition out of Writing or Reading.
// Giving up would strand a slot owned by a live pid, which repair never
// touches, so it retries until the lock is free. A dead holder is still
// taken over by lock.
func (q *Queue) commitLock() {
	for q.lock() != nil {
	}
}

// hold claims an Empty slot for writing. The scan starts at the cursor so
// slots are reused round-robin. No state changes when the queue is full.
func (q *Queue) hold() (int, error) {
	hdr := q.hdr
	capacity := q.geo.Capacity
	if int(hdr.count.Load()) >= capacity {
		return -1, ErrQueueFull
	}
	if err := q.lock(); err != nil {
		return -1, err
	}
	defer q.unlock()

	start := int(hdr.cursor) % capacity
	for j := 0; j < capacity; j++ {
		i := (start + j) % capacity
		s := q.slot(i)
		if s.state.Load() != slotEmpty {
			continue
		}
		s.sequence = hdr.next_seq.Add(1) - 1
		s.owner = q.pid
		s.length = 0
		s.state.Store(slotWriting)
		hdr.cursor = uint32((i + 1) % capacity)
		return i, nil
	}
	return -1, ErrQueueFull
}

// publish makes a written slot visible to consumers.
func (q *Queue) publish(i, n int) error {
	s := q.slot(i)
	sum := crc32.Checksum(q.payload(i)[:n], castagnoli)
	q.commitLock()
	s.length = uint32(n)
	s.checksum = sum
	s.owner = 0
	s.state.Store(slotFull)
	q.hdr.count.Add(1)
	q.unlock()
	return q.hdr.not_empty.notify()
}

// abort gives back a slot claimed by hold without publishing it.
func (q *Queue) abort(i int) error {
	q.commitLock()
	s := q.slot(i)
	s.owner = 0
	s.length = 0
	s.state.Store(slotEmpty)
	q.unlock()
	return q.hdr.not_full.notify()
}

// fetch claims the Full slot with the lowest sequence for reading.
func (q *Queue) fetch() (int, error) {
	hdr := q.hdr
	if hdr.count.Load() == 0 {
		return -1, ErrQueueEmpty
	}
	if err := q.lock(); err != nil {
		return -1, err
	}
	defer q.unlock()

	best := -1
	var bestSeq uint64
	for i := 0; i < q.geo.Capacity; i++ {
		s := q.slot(i)
		if s.state.Load() != slotFull {
			continue
		}
		if best < 0 || s.sequence < bestSeq {
			best, bestSeq = i, s.sequence
		}
	}
	if best < 0 {
		return -1, ErrQueueEmpty
	}
	s := q.slot(best)
	s.owner = q.pid
	s.state.Store(slotReading)
	return best, nil
}

// consume decodes a slot claimed by fetch and frees it. The slot is freed
// whether or not decoding succeeds.
func (q *Queue) consume(i int) (*Message, error) {
	s := q.slot(i)
	n, seq, sum := int(s.length), s.sequence, s.checksum

	m, err := q.decode(i, n, sum)
	if err == nil && m.ID == 0 {
		m.ID = seq
	}
	if ferr := q.free(i); ferr != nil && err == nil {
		err = ferr
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (q *Queue) decode(i, n int, sum uint32) (*Message, error) {
	if n > q.geo.PayloadSize() {
		return nil, fmt.Errorf("%w: slot %d length %d exceeds payload size %d",
			ErrCorruptedData, i, n, q.geo.PayloadSize())
	}
	data := q.payload(i)[:n]
	if got := crc32.Checksum(data, castagnoli); got != sum {
		return nil, fmt.Errorf("%w: slot %d checksum %#x, want %#x",
			ErrCorruptedData, i, got, sum)
	}
	m := new(Message)
	if err := q.cfg.codec.Decode(data, m); err != nil {
		return nil, fmt.Errorf("%w: slot %d: %w", ErrDeserializationFailed, i, err)
	}
	return m, nil
}

// free returns a Reading slot to Empty.
func (q *Queue) free(i int) error {
	q.commitLock()
	s := q.slot(i)
	s.owner = 0
	s.length = 0
	s.state.Store(slotEmpty)
	q.hdr.count.Add(^uint32(0))
	q.unlock()
	return q.hdr.not_full.notify()
}

// put copies an encoded message into a fresh slot and publishes it.
func (q *Queue) put(buf []byte) error {
	i, err := q.hold()
	if err != nil {
		return err
	}
	copy(q.payload(i), buf)
	return q.publish(i, len(buf))
}

// get takes the oldest published message.
func (q *Queue) get() (*Message, error) {
	i, err := q.fetch()
	if err != nil {
		return nil, err
	}
	return q.consume(i)
}

// repair resets slots whose owner died mid-operation. A message that was
// being read is dropped, so delivery stays at-most-once.
func (q *Queue) repair() (int, error) {
	if err := q.lock(); err != nil {
		return 0, err
	}
	repaired := 0
	for i := 0; i < q.geo.Capacity; i++ {
		s := q.slot(i)
		state := s.state.Load()
		if state != slotWriting && state != slotReading {
			continue
		}
		if s.owner == 0 || s.owner == q.pid || pidExists(int(s.owner)) {
			continue
		}
		if state == slotReading {
			q.hdr.count.Add(^uint32(0))
		}
		s.owner = 0
		s.length = 0
		s.state.Store(slotEmpty)
		repaired++
	}
	q.unlock()
	if repaired > 0 {
		return repaired, q.hdr.not_full.notify()
	}
	return 0, nil
}
