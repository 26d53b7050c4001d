package mi7

import "fmt"

// Health is a coarse indicator of the queue state.
type Health int

const (
	// HealthOK means the queue accepts sends.
	HealthOK Health = iota

	// HealthFull means every slot holds a message.
	HealthFull

	// HealthCorrupted means the header no longer validates.
	HealthCorrupted

	// HealthClosed is reported by a handle after Close.
	HealthClosed
)

var healthNames = [...]string{"ok", "full", "corrupted", "closed"}

func (h Health) String() string {
	if h < 0 || int(h) >= len(healthNames) {
		return fmt.Sprintf("Health(%d)", int(h))
	}
	return healthNames[h]
}

// MarshalText encodes the health as its name.
func (h Health) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// Status is a best-effort view of a queue, read without taking the lock.
type Status struct {
	Name     string `json:"name"`
	Capacity int    `json:"capacity"`
	SlotSize int    `json:"slot_size"`
	Occupied int    `json:"occupied"`
	Health   Health `json:"health"`
}

// Snapshot extends Status with per-slot state counts.
type Snapshot struct {
	Status
	Empty        int    `json:"empty"`
	Writing      int    `json:"writing"`
	Full         int    `json:"full"`
	Reading      int    `json:"reading"`
	LockHolder   int    `json:"lock_holder"`
	NextSequence uint64 `json:"next_sequence"`
}

// Status reports capacity, occupancy and health.
func (q *Queue) Status() Status {
	st := Status{
		Name:     q.name,
		Capacity: q.geo.Capacity,
		SlotSize: q.geo.SlotSize,
		Health:   HealthClosed,
	}
	if err := q.enter(); err != nil {
		return st
	}
	defer q.leave()
	return q.status()
}

func (q *Queue) status() Status {
	st := Status{
		Name:     q.name,
		Capacity: q.geo.Capacity,
		SlotSize: q.geo.SlotSize,
		Occupied: int(q.hdr.count.Load()),
	}
	switch {
	case q.hdr.magic.Load() != shmMagic || st.Occupied > st.Capacity:
		st.Health = HealthCorrupted
	case st.Occupied == st.Capacity:
		st.Health = HealthFull
	default:
		st.Health = HealthOK
	}
	return st
}

// Snapshot scans every slot state. Slots may change while it runs, so the
// counts need not add up to Occupied.
func (q *Queue) Snapshot() Snapshot {
	if err := q.enter(); err != nil {
		return Snapshot{Status: q.Status()}
	}
	defer q.leave()

	snap := Snapshot{
		Status:       q.status(),
		LockHolder:   q.hdr.lock.holder(),
		NextSequence: q.hdr.next_seq.Load(),
	}
	for i := 0; i < q.geo.Capacity; i++ {
		switch q.slot(i).state.Load() {
		case slotEmpty:
			snap.Empty++
		case slotWriting:
			snap.Writing++
		case slotFull:
			snap.Full++
		case slotReading:
			snap.Reading++
		default:
			snap.Status.Health = HealthCorrupted
		}
	}
	return snap
}
