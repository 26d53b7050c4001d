package mi7

import (
	"encoding/binary"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

const sizeofUint64 = 8

// event is a one-shot kernel notification a goroutine can park on. On
// Linux it is a non-blocking eventfd owned by the runtime poller.
type event struct {
	f *os.File
}

func newEvent() (*event, error) {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("failed to create eventfd err:%w", err)
	}
	return &event{f: os.NewFile(uintptr(fd), "mi7-eventfd")}, nil
}

func (e *event) notify() error {
	var buf [sizeofUint64]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	_, err := e.f.Write(buf[:])
	return err
}

func (e *event) read() error {
	var buf [sizeofUint64]byte
	_, err := e.f.Read(buf[:])
	return err
}

func (e *event) file() *os.File {
	return e.f
}

func (e *event) close() error {
	return e.f.Close()
}
