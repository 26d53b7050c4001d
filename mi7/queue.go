package mi7

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"
)

var bufPool = sync.Pool{
	New: func() any {
		b := make([]byte, 0, 256)
		return &b
	},
}

// Name returns the name of the queue.
func (q *Queue) Name() string {
	return q.name
}

// Geometry returns the capacity and slot size recorded in the segment.
func (q *Queue) Geometry() Geometry {
	return q.geo
}

// Pid returns the process ID this handle stamps on slots and the lock.
func (q *Queue) Pid() int {
	return int(q.pid)
}

func (q *Queue) enter() error {
	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return os.ErrClosed
	}
	return nil
}

func (q *Queue) leave() {
	q.mu.RUnlock()
}

func (q *Queue) encode(msg *Message) (*[]byte, error) {
	bp := bufPool.Get().(*[]byte)
	b, err := q.cfg.codec.Append((*bp)[:0], msg)
	if err != nil {
		bufPool.Put(bp)
		return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	*bp = b
	if len(b) > q.geo.PayloadSize() {
		bufPool.Put(bp)
		return nil, fmt.Errorf("%w: %d bytes encoded, slot holds %d",
			ErrTooBig, len(b), q.geo.PayloadSize())
	}
	return bp, nil
}

// Send enqueues msg without blocking. It returns ErrQueueFull when no slot
// is free, leaving the queue untouched.
func (q *Queue) Send(msg *Message) error {
	bp, err := q.encode(msg)
	if err != nil {
		return err
	}
	defer bufPool.Put(bp)

	if err := q.enter(); err != nil {
		return err
	}
	defer q.leave()
	return q.put(*bp)
}

// SendContext enqueues msg, waiting for a free slot while the queue is
// full. It returns ctx.Err() if ctx ends first.
func (q *Queue) SendContext(ctx context.Context, msg *Message) error {
	bp, err := q.encode(msg)
	if err != nil {
		return err
	}
	defer bufPool.Put(bp)

	if err := q.enter(); err != nil {
		return err
	}
	defer q.leave()
	return q.retry(ctx, &q.hdr.not_full, ErrQueueFull, func() error {
		return q.put(*bp)
	})
}

// SendTimeout is SendContext bounded by d. It returns ErrQueueFull if no
// slot frees up in time.
func (q *Queue) SendTimeout(msg *Message, d time.Duration) error {
	if d <= 0 {
		return q.Send(msg)
	}
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	err := q.SendContext(ctx, msg)
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrQueueFull
	}
	return err
}

// TryReceive dequeues the oldest message without blocking. It returns
// ErrQueueEmpty when nothing is ready.
func (q *Queue) TryReceive() (*Message, error) {
	if err := q.enter(); err != nil {
		return nil, err
	}
	defer q.leave()
	return q.get()
}

// Receive dequeues the oldest message, waiting while the queue is empty.
// It returns ctx.Err() if ctx ends first.
func (q *Queue) Receive(ctx context.Context) (*Message, error) {
	if err := q.enter(); err != nil {
		return nil, err
	}
	defer q.leave()

	var m *Message
	err := q.retry(ctx, &q.hdr.not_empty, ErrQueueEmpty, func() (err error) {
		m, err = q.get()
		return err
	})
	return m, err
}

// ReceiveTimeout is Receive bounded by d. It returns ErrQueueEmpty if no
// message arrives in time.
func (q *Queue) ReceiveTimeout(d time.Duration) (*Message, error) {
	if d <= 0 {
		return q.TryReceive()
	}
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	m, err := q.Receive(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		return nil, ErrQueueEmpty
	}
	return m, err
}

// Recover resets slots left in Writing or Reading by processes that no
// longer exist, and returns how many were reset.
func (q *Queue) Recover() (int, error) {
	if err := q.enter(); err != nil {
		return 0, err
	}
	defer q.leave()
	return q.repair()
}

// retry runs op until it fails with something other than busy, sleeping on
// w in between. The generation is read before op so that a change racing
// with op is never missed.
func (q *Queue) retry(ctx context.Context, w *waitWord, busy error, op func() error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(q.ctx, cancel)
	defer stop()

	for {
		gen := w.load()
		err := op()
		if !errors.Is(err, busy) {
			return err
		}
		if err := w.wait(ctx, gen); err != nil {
			if q.ctx.Err() != nil {
				return os.ErrClosed
			}
			return err
		}
	}
}
