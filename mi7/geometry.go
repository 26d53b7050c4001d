package mi7

import (
	"fmt"
	"strings"
)

const (
	// MaxCapacity is the largest number of slots a queue may have.
	MaxCapacity = 10000

	// MaxSlotSize is the largest slot, header included.
	MaxSlotSize = 1 << 20

	// MinSlotSize leaves room for the slot header and a small payload.
	MinSlotSize = 32

	slotAlign = 8
)

// Geometry is the fixed shape of a queue: how many slots it has and how
// large each slot is. It is recorded in the segment at creation time and
// never changes afterwards.
type Geometry struct {
	Capacity int `toml:"capacity"`
	SlotSize int `toml:"slot_size"`
}

var (
	// Small is the "small" preset, 10 slots of 1 KiB.
	Small = Geometry{Capacity: 10, SlotSize: 1024}

	// Default is the "default" preset, 100 slots of 4 KiB.
	Default = Geometry{Capacity: 100, SlotSize: 4096}

	// Large is the "large" preset, 1000 slots of 8 KiB.
	Large = Geometry{Capacity: 1000, SlotSize: 8192}
)

var presets = []struct {
	name string
	geo  Geometry
}{
	{"small", Small},
	{"default", Default},
	{"large", Large},
}

// Presets returns the names accepted by Preset.
func Presets() []string {
	names := make([]string, 0, len(presets))
	for _, p := range presets {
		names = append(names, p.name)
	}
	return names
}

// Preset looks up a named geometry. Matching ignores case and surrounding
// spaces.
func Preset(name string) (Geometry, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	for _, p := range presets {
		if p.name == key {
			return p.geo, nil
		}
	}
	return Geometry{}, fmt.Errorf("%w: unknown preset %q, supported: %s",
		ErrInvalidGeometry, name, strings.Join(Presets(), ", "))
}

// Validate checks that the geometry can back a queue.
func (g Geometry) Validate() error {
	switch {
	case g.Capacity < 1 || g.Capacity > MaxCapacity:
		return fmt.Errorf("%w: capacity %d not in 1..%d",
			ErrInvalidGeometry, g.Capacity, MaxCapacity)
	case g.SlotSize < MinSlotSize || g.SlotSize > MaxSlotSize:
		return fmt.Errorf("%w: slot size %d not in %d..%d",
			ErrInvalidGeometry, g.SlotSize, MinSlotSize, MaxSlotSize)
	case g.SlotSize%slotAlign != 0:
		return fmt.Errorf("%w: slot size %d is not a multiple of %d",
			ErrInvalidGeometry, g.SlotSize, slotAlign)
	}
	return nil
}

// PayloadSize is the number of encoded message bytes a slot can hold.
func (g Geometry) PayloadSize() int {
	return g.SlotSize - slotHdrSize
}

// TotalMemory is the size of the shared segment backing this geometry.
func (g Geometry) TotalMemory() int {
	return shmHdrSize + g.Capacity*g.SlotSize
}

// IsCompatible reports whether two processes using g and other can share
// a queue.
func (g Geometry) IsCompatible(other Geometry) bool {
	return g == other
}

// Kind returns the preset name matching g, or "custom".
func (g Geometry) Kind() string {
	for _, p := range presets {
		if p.geo == g {
			return p.name
		}
	}
	return "custom"
}

// IsPredefined reports whether g is one of the presets.
func (g Geometry) IsPredefined() bool {
	return g.Kind() != "custom"
}

func (g Geometry) String() string {
	return fmt.Sprintf("%s(%dx%d)", g.Kind(), g.Capacity, g.SlotSize)
}
