// Package attach connects clients to a queue the daemon may not have
// created yet.
package attach

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/sirupsen/logrus"

	"github.com/gx1727/mi7soft/mi7"
)

// Connect attaches to the queue called name, insisting on geometry geo.
// While the queue does not exist it retries with exponential backoff until
// ctx ends. Any other failure is returned at once.
func Connect(ctx context.Context, log *logrus.Entry, name string, geo mi7.Geometry, opts ...mi7.Opt) (*mi7.Queue, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = 0

	opts = append([]mi7.Opt{mi7.OptExpect(geo)}, opts...)
	var q *mi7.Queue
	op := func() error {
		var err error
		q, err = mi7.Connect(name, opts...)
		if err == nil {
			return nil
		}
		if !errors.Is(err, mi7.ErrAccessFailed) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		log.WithError(err).Debugf("queue %q not available, retrying in %s", name, next)
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, errors.Join(ctxErr, err)
		}
		return nil, err
	}
	log.WithField("geometry", q.Geometry()).Infof("attached to queue %q", name)
	return q, nil
}
