package mi7

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockLock makes a live process hold the shared lock for d.
func blockLock(q *Queue, d time.Duration) {
	q.hdr.lock.owner.Store(uint32(os.Getppid()))
	time.AfterFunc(d, q.hdr.lock.unlock)
}

func TestPublishOutlastsLockTimeout(t *testing.T) {
	q := newTestQueue(t, "mi7-test-publish-busy", 4, 64, OptLockTimeout(10*time.Millisecond))

	buf, err := q.cfg.codec.Append(nil, NewMessageID(7, []byte("kept")))
	require.NoError(t, err)
	i, err := q.hold()
	require.NoError(t, err)
	copy(q.payload(i), buf)

	blockLock(q, 50*time.Millisecond)
	require.NoError(t, q.publish(i, len(buf)))
	assert.Equal(t, slotFull, q.slot(i).state.Load())

	m, err := q.TryReceive()
	require.NoError(t, err)
	assert.Equal(t, uint64(7), m.ID)
	assert.Equal(t, "kept", string(m.Data))
}

func TestConsumeOutlastsLockTimeout(t *testing.T) {
	q := newTestQueue(t, "mi7-test-consume-busy", 4, 64, OptLockTimeout(10*time.Millisecond))
	require.NoError(t, q.Send(NewMessageID(9, []byte("kept"))))

	i, err := q.fetch()
	require.NoError(t, err)
	blockLock(q, 50*time.Millisecond)
	m, err := q.consume(i)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), m.ID)
	assert.Equal(t, "kept", string(m.Data))

	assert.Equal(t, slotEmpty, q.slot(i).state.Load())
	assert.Zero(t, q.Status().Occupied)
}

func TestAbortOutlastsLockTimeout(t *testing.T) {
	q := newTestQueue(t, "mi7-test-abort-busy", 4, 64, OptLockTimeout(10*time.Millisecond))

	i, err := q.hold()
	require.NoError(t, err)
	blockLock(q, 50*time.Millisecond)
	require.NoError(t, q.abort(i))
	assert.Equal(t, slotEmpty, q.slot(i).state.Load())
	assert.Zero(t, q.slot(i).owner)
}
