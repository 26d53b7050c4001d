// Package entry is the HTTP front end that turns requests into commands on
// the task queue.
package entry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/sirupsen/logrus"
	"github.com/sugawarayuuta/sonnet"
	"golang.org/x/net/netutil"

	"github.com/gx1727/mi7soft/internal/command"
	"github.com/gx1727/mi7soft/internal/logging"
	"github.com/gx1727/mi7soft/mi7"
)

// Queue is the part of *mi7.Queue the entry uses.
type Queue interface {
	Send(msg *mi7.Message) error
	Status() mi7.Status
	Geometry() mi7.Geometry
}

// Options tune a Server.
type Options struct {
	// RetryTimeout bounds how long a request waits for a full queue.
	RetryTimeout time.Duration
	// Timeout is the read and write timeout of every connection.
	Timeout time.Duration
	// MaxConnections caps concurrently open connections.
	MaxConnections int
}

// Server accepts HTTP requests and enqueues them.
type Server struct {
	q    Queue
	opts Options
	log  *logrus.Entry
	warn *logging.Limited
	mux  *http.ServeMux

	base uint64
	seq  atomic.Uint64
}

// NewServer returns a server enqueueing into q.
func NewServer(q Queue, opts Options, log *logrus.Entry) *Server {
	s := &Server{
		q:    q,
		opts: opts,
		log:  log,
		warn: logging.RateLimited(log, time.Second),
		mux:  http.NewServeMux(),
		base: idBase(os.Getpid(), time.Now()),
	}
	s.mux.HandleFunc("GET /hello", s.hello)
	s.mux.HandleFunc("GET /status", s.status)
	s.mux.HandleFunc("/", s.enqueue)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Serve accepts connections on ln until ctx is done, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.opts.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, s.opts.MaxConnections)
	}
	srv := &http.Server{
		Handler:      s,
		ReadTimeout:  s.opts.Timeout,
		WriteTimeout: s.opts.Timeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}
	stop := context.AfterFunc(ctx, func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			s.log.WithError(err).Warn("entry shutdown")
		}
	})
	defer stop()

	s.log.Infof("listening on %s", ln.Addr())
	err := srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) nextID() uint64 {
	return s.base&^idCounterMask | (s.base+s.seq.Add(1))&idCounterMask
}

func (s *Server) hello(w http.ResponseWriter, _ *http.Request) {
	io.WriteString(w, "hello from mi7 entry\n")
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.q.Status())
}

func (s *Server) enqueue(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, int64(s.q.Geometry().PayloadSize())))
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, err)
			return
		}
		writeError(w, http.StatusBadRequest, err)
		return
	}

	headers := make(map[string]string, len(r.Header))
	for k := range r.Header {
		headers[k] = r.Header.Get(k)
	}
	cmd := &command.Command{
		ID:      s.nextID(),
		Kind:    command.HTTPRequest,
		Path:    r.URL.RequestURI(),
		Method:  r.Method,
		Body:    body,
		Headers: headers,
		Peer:    r.RemoteAddr,
	}
	msg, err := command.ToMessage(cmd)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	log := s.log.WithFields(logrus.Fields{"id": cmd.ID, "path": cmd.Path})
	switch err := s.send(r.Context(), msg); {
	case err == nil:
		log.Debug("enqueued")
		writeJSON(w, http.StatusAccepted, map[string]uint64{"id": cmd.ID})
	case errors.Is(err, mi7.ErrQueueFull):
		s.warn.Warnf("queue full, rejecting %s", cmd.Path)
		writeError(w, http.StatusServiceUnavailable, err)
	case errors.Is(err, mi7.ErrTooBig):
		writeError(w, http.StatusRequestEntityTooLarge, err)
	default:
		log.WithError(err).Error("enqueue failed")
		writeError(w, http.StatusInternalServerError, err)
	}
}

// send retries a full queue with backoff for up to RetryTimeout.
func (s *Server) send(ctx context.Context, msg *mi7.Message) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Millisecond
	b.MaxInterval = 100 * time.Millisecond
	b.MaxElapsedTime = s.opts.RetryTimeout
	if s.opts.RetryTimeout <= 0 {
		return s.q.Send(msg)
	}
	return backoff.Retry(func() error {
		err := s.q.Send(msg)
		if err != nil && !errors.Is(err, mi7.ErrQueueFull) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(b, ctx))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	b, err := sonnet.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(append(b, '\n'))
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": fmt.Sprint(err)})
}

const idCounterMask = 1<<40 - 1

// idBase puts the pid in the top 24 bits of every id and the start time in
// milliseconds below it, so concurrent entry processes never collide. A
// restart under the same pid only collides if the previous run issued more
// ids than milliseconds have passed since it started.
func idBase(pid int, now time.Time) uint64 {
	return uint64(pid)<<40 | uint64(now.UnixMilli())&idCounterMask
}
