//go:build !linux

package mi7

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// event is a self-pipe: notify writes a byte, read consumes it. Both ends
// are non-blocking so the runtime poller owns them.
type event struct {
	r, w *os.File
}

func newEvent() (*event, error) {
	var p [2]int
	if err := unix.Pipe(p[:]); err != nil {
		return nil, fmt.Errorf("failed to create pipe err:%w", err)
	}
	for _, fd := range p {
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			_ = unix.Close(p[0])
			_ = unix.Close(p[1])
			return nil, fmt.Errorf("failed to set nonblock err:%w", err)
		}
	}
	return &event{
		r: os.NewFile(uintptr(p[0]), "mi7-event-r"),
		w: os.NewFile(uintptr(p[1]), "mi7-event-w"),
	}, nil
}

func (e *event) notify() error {
	_, err := e.w.Write([]byte{1})
	return err
}

func (e *event) read() error {
	var buf [1]byte
	_, err := e.r.Read(buf[:])
	return err
}

func (e *event) file() *os.File {
	return e.r
}

func (e *event) close() error {
	err := e.r.Close()
	if werr := e.w.Close(); err == nil {
		err = werr
	}
	return err
}
