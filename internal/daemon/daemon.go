// Package daemon owns the lifetime of the task queue: it creates it,
// watches over it and removes it on shutdown.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/gx1727/mi7soft/internal/config"
	"github.com/gx1727/mi7soft/mi7"
)

// ErrRunning is returned when another daemon holds the pid file.
var ErrRunning = errors.New("daemon already running")

// Daemon runs the queue described by a config.
type Daemon struct {
	cfg *config.Config
	log *logrus.Entry

	pid   *flock.Flock
	queue *mi7.Queue
}

// New returns a daemon for cfg. Nothing is created until Start.
func New(cfg *config.Config, log *logrus.Entry) *Daemon {
	return &Daemon{
		cfg: cfg,
		log: log.WithField("queue", cfg.Queue.Name),
	}
}

// Queue returns the queue after Start.
func (d *Daemon) Queue() *mi7.Queue {
	return d.queue
}

// Start takes the pid file and creates the queue. A persistent queue left
// by an earlier run is reused when its geometry matches.
func (d *Daemon) Start() error {
	if err := d.lockPidFile(); err != nil {
		return err
	}
	geo, err := d.cfg.QueueGeometry()
	if err != nil {
		d.unlockPidFile()
		return err
	}

	name := d.cfg.Queue.Name
	if d.cfg.Queue.Persistent {
		d.queue, err = mi7.Connect(name, mi7.OptExpect(geo))
		if err == nil {
			d.log.WithField("geometry", geo).Info("reusing persistent queue")
			return nil
		}
		if !errors.Is(err, mi7.ErrAccessFailed) {
			d.unlockPidFile()
			return err
		}
	}
	d.queue, err = mi7.CreateGeometry(name, geo, mi7.OptReplace())
	if err != nil {
		d.unlockPidFile()
		return err
	}
	d.log.WithField("geometry", geo).Infof("created queue, %d bytes of shared memory", geo.TotalMemory())
	return nil
}

// Run monitors the queue until ctx is done, then stops the daemon.
func (d *Daemon) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		d.monitor(gctx, d.cfg.MonitorInterval())
		return nil
	})
	err := g.Wait()
	return errors.Join(err, d.Stop())
}

// Stop closes the queue, unlinks it unless it is persistent, and releases
// the pid file.
func (d *Daemon) Stop() error {
	var err error
	if d.queue != nil {
		if d.cfg.Queue.Persistent {
			err = d.queue.Close()
		} else {
			err = d.queue.CloseAndUnlink()
		}
		d.queue = nil
		d.log.Info("queue closed")
	}
	return errors.Join(err, d.unlockPidFile())
}

func (d *Daemon) monitor(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			d.check()
		}
	}
}

func (d *Daemon) check() {
	snap := d.queue.Snapshot()
	log := d.log.WithFields(logrus.Fields{
		"occupied": snap.Occupied,
		"capacity": snap.Capacity,
		"writing":  snap.Writing,
		"reading":  snap.Reading,
		"health":   snap.Health,
	})
	switch snap.Health {
	case mi7.HealthCorrupted:
		log.Error("queue corrupted")
	case mi7.HealthFull:
		log.Warn("queue full")
	default:
		log.Debug("queue status")
	}

	n, err := d.queue.Recover()
	if err != nil {
		d.log.WithError(err).Warn("recover")
	} else if n > 0 {
		d.log.Warnf("recovered %d slots abandoned by dead processes", n)
	}
}

func (d *Daemon) lockPidFile() error {
	path := d.cfg.Daemon.PidFile
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	l := flock.New(path)
	ok, err := l.TryLock()
	if err != nil {
		return fmt.Errorf("failed to lock pid file %q err:%w", path, err)
	}
	if !ok {
		pid, _ := os.ReadFile(path)
		return fmt.Errorf("%w: pid file %q held by %s", ErrRunning, path, pid)
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		l.Unlock()
		return err
	}
	d.pid = l
	return nil
}

func (d *Daemon) unlockPidFile() error {
	if d.pid == nil {
		return nil
	}
	os.Remove(d.pid.Path())
	err := d.pid.Unlock()
	d.pid = nil
	return err
}
