package mi7

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPreset(t *testing.T) {
	for _, tc := range []struct {
		name string
		want Geometry
	}{
		{"small", Geometry{10, 1024}},
		{"Default", Geometry{100, 4096}},
		{" LARGE ", Geometry{1000, 8192}},
	} {
		g, err := Preset(tc.name)
		require.NoError(t, err, tc.name)
		assert.Equal(t, tc.want, g)
		assert.True(t, g.IsPredefined())
		assert.NoError(t, g.Validate())
	}

	_, err := Preset("huge")
	assert.ErrorIs(t, err, ErrInvalidGeometry)
	assert.ErrorContains(t, err, "small, default, large")
	assert.Equal(t, []string{"small", "default", "large"}, Presets())
}

func TestGeometryValidate(t *testing.T) {
	for _, g := range []Geometry{
		{0, 1024},
		{MaxCapacity + 1, 1024},
		{10, MinSlotSize - 8},
		{10, MaxSlotSize + 8},
		{10, 1001},
	} {
		assert.ErrorIs(t, g.Validate(), ErrInvalidGeometry, "%v", g)
	}
	assert.NoError(t, Geometry{1, MinSlotSize}.Validate())
	assert.NoError(t, Geometry{MaxCapacity, MaxSlotSize}.Validate())
}

func TestGeometrySizes(t *testing.T) {
	g := Geometry{Capacity: 16, SlotSize: 128}
	assert.Equal(t, 128-slotHdrSize, g.PayloadSize())
	assert.Equal(t, shmHdrSize+16*128, g.TotalMemory())
	assert.Equal(t, "custom", g.Kind())
	assert.False(t, g.IsPredefined())
	assert.Equal(t, "custom(16x128)", g.String())
	assert.Equal(t, "default(100x4096)", Default.String())

	assert.True(t, g.IsCompatible(Geometry{16, 128}))
	assert.False(t, g.IsCompatible(Geometry{16, 256}))
}
