// Package worker drains the task queue and hands every command to a
// handler on a pool of goroutines.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/gx1727/mi7soft/internal/command"
	"github.com/gx1727/mi7soft/internal/journal"
	"github.com/gx1727/mi7soft/internal/logging"
	"github.com/gx1727/mi7soft/mi7"
)

// Receiver is the part of *mi7.Queue a worker uses.
type Receiver interface {
	Receive(ctx context.Context) (*mi7.Message, error)
}

// Handler processes one command. A returned error marks the command
// failed in the journal; the worker keeps going.
type Handler func(ctx context.Context, cmd *command.Command) error

// Options configure a Worker.
type Options struct {
	// Concurrency is the number of operator goroutines. Zero means one.
	Concurrency int
	Handler     Handler
	// Journal, when set, records every handled command.
	Journal *journal.Journal
}

// Stats counts what a worker has done so far.
type Stats struct {
	Processed uint64
	Failed    uint64
	// Dropped counts messages that could not be decoded.
	Dropped uint64
}

// Worker connects a queue to a handler.
type Worker struct {
	id   string
	q    Receiver
	opts Options
	log  *logrus.Entry
	warn *logging.Limited

	processed atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
}

// New returns a worker called id reading from q.
func New(id string, q Receiver, opts Options, log *logrus.Entry) *Worker {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.Handler == nil {
		opts.Handler = LogHandler(log)
	}
	log = log.WithField("worker", id)
	return &Worker{
		id:   id,
		q:    q,
		opts: opts,
		log:  log,
		warn: logging.RateLimited(log, time.Second),
	}
}

// Stats returns the current counters.
func (w *Worker) Stats() Stats {
	return Stats{
		Processed: w.processed.Load(),
		Failed:    w.failed.Load(),
		Dropped:   w.dropped.Load(),
	}
}

// Run receives and handles commands until ctx is done or the queue fails.
// It returns nil when stopped by ctx.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Infof("starting %d operators", w.opts.Concurrency)
	msgs := make(chan *mi7.Message)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(msgs)
		return w.listen(gctx, msgs)
	})
	for i := 0; i < w.opts.Concurrency; i++ {
		i := i
		g.Go(func() error {
			w.operate(gctx, i, msgs)
			return nil
		})
	}
	err := g.Wait()
	st := w.Stats()
	w.log.WithFields(logrus.Fields{
		"processed": st.Processed,
		"failed":    st.Failed,
		"dropped":   st.Dropped,
	}).Info("worker stopped")
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (w *Worker) listen(ctx context.Context, msgs chan<- *mi7.Message) error {
	for {
		m, err := w.q.Receive(ctx)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, mi7.ErrCorruptedData), errors.Is(err, mi7.ErrDeserializationFailed):
			// the slot has been freed already
			w.dropped.Add(1)
			w.warn.Warnf("dropping unreadable message: %v", err)
			continue
		default:
			return fmt.Errorf("worker %s receive err:%w", w.id, err)
		}
		// the slot is already free, so m must reach an operator. Operators
		// drain msgs until it is closed.
		msgs <- m
	}
}

func (w *Worker) operate(ctx context.Context, n int, msgs <-chan *mi7.Message) {
	log := w.log.WithField("operator", n)
	for m := range msgs {
		cmd, err := command.FromMessage(m)
		if err != nil {
			w.dropped.Add(1)
			log.WithError(err).Warn("dropping message")
			continue
		}
		status := journal.StatusOK
		if err := w.opts.Handler(ctx, cmd); err != nil {
			status = journal.StatusFailed
			w.failed.Add(1)
			log.WithError(err).WithField("id", cmd.ID).Warn("handler failed")
		}
		w.processed.Add(1)
		if w.opts.Journal == nil {
			continue
		}
		err = w.opts.Journal.Record(context.WithoutCancel(ctx), journal.Record{
			ID:          cmd.ID,
			Worker:      w.id,
			Kind:        string(cmd.Kind),
			Path:        cmd.Path,
			Method:      cmd.Method,
			Status:      status,
			EnqueuedAt:  m.Time(),
			ProcessedAt: time.Now(),
		})
		if err != nil {
			log.WithError(err).Error("journal")
		}
	}
}

// LogHandler logs each command at info level.
func LogHandler(log *logrus.Entry) Handler {
	return func(_ context.Context, cmd *command.Command) error {
		log.WithFields(logrus.Fields{
			"id":     cmd.ID,
			"kind":   cmd.Kind,
			"method": cmd.Method,
			"path":   cmd.Path,
			"bytes":  len(cmd.Body) + len(cmd.Payload),
		}).Info("handled command")
		return nil
	}
}
