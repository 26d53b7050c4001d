package mi7

import (
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestShmOpen(t *testing.T) {
	shmName := "mi7-test-double-open"

	err := Unlink(shmName)
	if errors.Is(err, os.ErrNotExist) {
		err = nil
	}
	assert.NoError(t, err)

	r, err := Exists(shmName)
	assert.NoError(t, err)
	assert.False(t, r)

	fd, err := shm_open(shmName, unix.O_CREAT|unix.O_RDWR, 0o666)
	require.NoError(t, err)
	assert.True(t, fd >= 0)
	defer unix.Close(fd)
	defer func() {
		_ = Unlink(shmName)
	}()

	fd2, err := shm_open(shmName, unix.O_RDWR, 0o666)
	require.NoError(t, err)
	assert.True(t, fd2 >= 0)
	defer unix.Close(fd2)

	_, err = shm_open(shmName, unix.O_CREAT|unix.O_EXCL|unix.O_RDWR, 0o666)
	assert.ErrorIs(t, err, os.ErrExist)
}

func TestSegment(t *testing.T) {
	name := "mi7-test-segment"
	_ = Unlink(name)

	seg, err := createSegment(name, 4096, defaultPerm)
	require.NoError(t, err)
	defer func() { _ = Unlink(name) }()
	assert.GreaterOrEqual(t, len(seg.data), 4096)

	seg.data[100] = 42
	other, err := openSegment(name)
	require.NoError(t, err)
	assert.Equal(t, byte(42), other.data[100], "both mappings see the same memory")

	assert.NoError(t, other.close())
	assert.NoError(t, seg.close())
	assert.NoError(t, seg.close())

	_, err = createSegment(name, 4096, defaultPerm)
	assert.ErrorIs(t, err, ErrCreationFailed)
}

func TestSegmentTooSmall(t *testing.T) {
	name := "mi7-test-segment-small"
	_ = Unlink(name)
	fd, err := shm_open(name, unix.O_CREAT|unix.O_RDWR, 0o666)
	require.NoError(t, err)
	defer func() { _ = Unlink(name) }()
	require.NoError(t, unix.Ftruncate(fd, 16))
	unix.Close(fd)

	_, err = Connect(name)
	assert.ErrorIs(t, err, ErrCorruptedData)
}

func TestCheckName(t *testing.T) {
	for _, name := range []string{"", "a/b", "nul\x00", strings.Repeat("x", maxNameLen+1)} {
		assert.ErrorIs(t, checkName(name), ErrInvalidName, "%q", name)
	}
	assert.NoError(t, checkName("mi7_daemon_queue"))
}
