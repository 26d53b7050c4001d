package attach

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gx1727/mi7soft/mi7"
)

func testLog() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func TestConnectWaitsForCreate(t *testing.T) {
	name := "mi7-test-attach"
	_ = mi7.Unlink(name)
	geo := mi7.Geometry{Capacity: 8, SlotSize: 256}

	created := make(chan *mi7.Queue, 1)
	go func() {
		time.Sleep(50 * time.Millisecond)
		q, err := mi7.CreateGeometry(name, geo)
		assert.NoError(t, err)
		created <- q
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	q, err := Connect(ctx, testLog(), name, geo)
	require.NoError(t, err)
	defer q.Close()

	owner := <-created
	defer owner.CloseAndUnlink()
	assert.Equal(t, geo, q.Geometry())
}

func TestConnectMismatchIsPermanent(t *testing.T) {
	name := "mi7-test-attach-mismatch"
	_ = mi7.Unlink(name)
	owner, err := mi7.Create(name, 8, 256)
	require.NoError(t, err)
	defer owner.CloseAndUnlink()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	start := time.Now()
	_, err = Connect(ctx, testLog(), name, mi7.Geometry{Capacity: 16, SlotSize: 256})
	assert.ErrorIs(t, err, mi7.ErrConfigMismatch)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestConnectContextEnds(t *testing.T) {
	name := "mi7-test-attach-missing"
	_ = mi7.Unlink(name)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := Connect(ctx, testLog(), name, mi7.Small)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorIs(t, err, mi7.ErrAccessFailed)
}
