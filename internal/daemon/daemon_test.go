package daemon

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gx1727/mi7soft/internal/config"
	"github.com/gx1727/mi7soft/mi7"
)

func testLog() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func testConfig(t *testing.T, name string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Queue.Name = name
	cfg.Queue.Preset = "small"
	cfg.Daemon.PidFile = filepath.Join(t.TempDir(), "run", "mi7.pid")
	_ = mi7.Unlink(name)
	t.Cleanup(func() { _ = mi7.Unlink(name) })
	return cfg
}

func TestStartStop(t *testing.T) {
	cfg := testConfig(t, "mi7-test-daemon")
	d := New(cfg, testLog())
	require.NoError(t, d.Start())

	pid, err := os.ReadFile(cfg.Daemon.PidFile)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), string(pid))

	q, err := mi7.Connect(cfg.Queue.Name, mi7.OptExpect(mi7.Small))
	require.NoError(t, err)
	require.NoError(t, q.Send(mi7.NewMessage([]byte("x"))))
	d.check()
	require.NoError(t, q.Close())

	require.NoError(t, d.Stop())
	ok, err := mi7.Exists(cfg.Queue.Name)
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = os.Stat(cfg.Daemon.PidFile)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestSingleInstance(t *testing.T) {
	cfg := testConfig(t, "mi7-test-daemon-single")
	d1 := New(cfg, testLog())
	require.NoError(t, d1.Start())
	defer d1.Stop()

	d2 := New(cfg, testLog())
	err := d2.Start()
	assert.ErrorIs(t, err, ErrRunning)
	assert.Nil(t, d2.Queue())
}

func TestReplacesStaleQueue(t *testing.T) {
	cfg := testConfig(t, "mi7-test-daemon-stale")
	stale, err := mi7.Create(cfg.Queue.Name, 3, 64)
	require.NoError(t, err)
	require.NoError(t, stale.Close())

	d := New(cfg, testLog())
	require.NoError(t, d.Start())
	defer d.Stop()
	assert.Equal(t, mi7.Small, d.Queue().Geometry())
}

func TestPersistent(t *testing.T) {
	cfg := testConfig(t, "mi7-test-daemon-persistent")
	cfg.Queue.Persistent = true

	d := New(cfg, testLog())
	require.NoError(t, d.Start())
	require.NoError(t, d.Queue().Send(mi7.NewMessageID(77, []byte("survivor"))))
	require.NoError(t, d.Stop())

	d = New(cfg, testLog())
	require.NoError(t, d.Start())
	m, err := d.Queue().TryReceive()
	require.NoError(t, err)
	assert.Equal(t, uint64(77), m.ID)
	require.NoError(t, d.Stop())
}

func TestRun(t *testing.T) {
	cfg := testConfig(t, "mi7-test-daemon-run")
	d := New(cfg, testLog())
	require.NoError(t, d.Start())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, d.Run(ctx))

	ok, err := mi7.Exists(cfg.Queue.Name)
	require.NoError(t, err)
	assert.False(t, ok)
}
