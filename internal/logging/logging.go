// Package logging builds the logrus loggers used by mi7 processes.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/gx1727/mi7soft/internal/config"
)

// New returns a logger configured from cfg with level overriding
// cfg.Level when non-empty. prefix names the log file; an empty prefix
// uses cfg.LogPrefix. The returned closer releases the log file.
func New(cfg config.Logging, prefix, level string) (*logrus.Logger, io.Closer, error) {
	if level == "" {
		level = cfg.Level
	}
	lvl, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		return nil, nil, err
	}
	if prefix == "" {
		prefix = cfg.LogPrefix
	}

	log := logrus.New()
	log.SetLevel(lvl)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339Nano,
	})

	var writers []io.Writer
	if cfg.ConsoleOutput {
		writers = append(writers, os.Stderr)
	}
	var closer io.Closer = nopCloser{}
	if cfg.LogPath != "" {
		fw, err := OpenFile(filepath.Join(cfg.LogPath, prefix+".log"))
		if err != nil {
			return nil, nil, err
		}
		writers = append(writers, fw)
		closer = fw
	}
	switch len(writers) {
	case 0:
		log.SetOutput(io.Discard)
	case 1:
		log.SetOutput(writers[0])
	default:
		log.SetOutput(io.MultiWriter(writers...))
	}
	return log, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// FileWriter appends to a log file shared by several processes. Each write
// holds an exclusive flock on "<path>.lock" so lines from different
// processes never interleave.
type FileWriter struct {
	mu   sync.Mutex
	f    *os.File
	lock *flock.Flock
}

// OpenFile opens path for appending, creating it and its directory.
func OpenFile(path string) (*FileWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log dir err:%w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %q err:%w", path, err)
	}
	return &FileWriter{f: f, lock: flock.New(path + ".lock")}, nil
}

func (w *FileWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.lock.Lock(); err != nil {
		return 0, fmt.Errorf("failed to lock log file err:%w", err)
	}
	defer w.lock.Unlock()
	return w.f.Write(p)
}

// Close closes the file and the lock file handle.
func (w *FileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	lerr := w.lock.Close()
	if err := w.f.Close(); err != nil {
		return err
	}
	return lerr
}

// Limited logs warnings no more than once per period, with a burst of one.
type Limited struct {
	*logrus.Entry
	limit *rate.Limiter
}

// RateLimited wraps e so that Warnf calls are dropped when they come
// faster than once every period.
func RateLimited(e *logrus.Entry, every time.Duration) *Limited {
	return &Limited{
		Entry: e,
		limit: rate.NewLimiter(rate.Every(every), 1),
	}
}

// Warnf logs at warning level if the limiter allows.
func (l *Limited) Warnf(format string, args ...any) {
	if l.limit.Allow() {
		l.Entry.Warnf(format, args...)
	}
}
