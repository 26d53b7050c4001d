package worker

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gx1727/mi7soft/internal/command"
	"github.com/gx1727/mi7soft/internal/journal"
	"github.com/gx1727/mi7soft/mi7"
)

func testLog() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func newQueue(t *testing.T, name string) *mi7.Queue {
	t.Helper()
	_ = mi7.Unlink(name)
	q, err := mi7.Create(name, 16, 512)
	require.NoError(t, err)
	t.Cleanup(func() { q.CloseAndUnlink() })
	return q
}

func send(t *testing.T, q *mi7.Queue, cmd *command.Command) {
	t.Helper()
	m, err := command.ToMessage(cmd)
	require.NoError(t, err)
	require.NoError(t, q.SendTimeout(m, 5*time.Second))
}

func TestWorker(t *testing.T) {
	q := newQueue(t, "mi7-test-worker")
	j, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	defer j.Close()

	const total = 40
	var (
		mu   sync.Mutex
		seen = map[uint64]bool{}
		done = make(chan struct{})
	)
	handler := func(_ context.Context, cmd *command.Command) error {
		mu.Lock()
		defer mu.Unlock()
		seen[cmd.ID] = true
		if len(seen) == total {
			close(done)
		}
		if cmd.Path == "/fail" {
			return errors.New("boom")
		}
		return nil
	}
	w := New("w0", q, Options{Concurrency: 3, Handler: handler, Journal: j}, testLog())

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- w.Run(ctx) }()

	for i := 0; i < total; i++ {
		path := "/ok"
		if i%10 == 0 {
			path = "/fail"
		}
		send(t, q, &command.Command{ID: uint64(i + 1), Kind: command.HTTPRequest, Path: path, Method: "GET"})
	}

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("worker did not handle every command")
	}
	cancel()
	require.NoError(t, <-errc)

	assert.Equal(t, Stats{Processed: total, Failed: 4}, w.Stats())
	n, err := j.Count(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, total, n)
	n, err = j.Count(context.Background(), journal.StatusFailed)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestWorkerDropsGarbage(t *testing.T) {
	q := newQueue(t, "mi7-test-worker-garbage")

	handled := make(chan uint64, 1)
	w := New("w1", q, Options{Handler: func(_ context.Context, cmd *command.Command) error {
		handled <- cmd.ID
		return nil
	}}, testLog())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- w.Run(ctx) }()

	require.NoError(t, q.Send(mi7.NewMessageID(5, []byte("not a command"))))
	send(t, q, &command.Command{ID: 6, Kind: command.TCPPacket, Peer: "1.2.3.4:9", Payload: []byte{1}})

	select {
	case id := <-handled:
		assert.Equal(t, uint64(6), id)
	case <-time.After(10 * time.Second):
		t.Fatal("command after garbage was not handled")
	}
	cancel()
	require.NoError(t, <-errc)
	assert.Equal(t, Stats{Processed: 1, Dropped: 1}, w.Stats())
}

func TestWorkerQueueClosed(t *testing.T) {
	q := newQueue(t, "mi7-test-worker-closed")
	w := New("w2", q, Options{}, testLog())

	errc := make(chan error, 1)
	go func() { errc <- w.Run(context.Background()) }()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Close())

	select {
	case err := <-errc:
		assert.Error(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("worker kept running on a closed queue")
	}
}

func TestWorkerShutdownKeepsReceived(t *testing.T) {
	q := newQueue(t, "mi7-test-worker-shutdown")

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	handler := func(_ context.Context, cmd *command.Command) error {
		once.Do(func() {
			close(started)
			<-release
		})
		return nil
	}
	w := New("w3", q, Options{Concurrency: 1, Handler: handler}, testLog())

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- w.Run(ctx) }()

	send(t, q, &command.Command{ID: 1, Kind: command.HTTPRequest, Path: "/slow"})
	<-started
	send(t, q, &command.Command{ID: 2, Kind: command.HTTPRequest, Path: "/next"})

	// the listener holds the second message while the only operator is busy
	require.Eventually(t, func() bool { return q.Status().Occupied == 0 },
		5*time.Second, time.Millisecond)
	cancel()
	close(release)
	require.NoError(t, <-errc)

	st := w.Stats()
	assert.Equal(t, uint64(2), st.Processed+st.Dropped+uint64(q.Status().Occupied))
	assert.Equal(t, Stats{Processed: 2}, st)
}
