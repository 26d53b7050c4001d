package mi7

import (
	"errors"
	"path"

	"golang.org/x/sys/unix"
)

const shmPrefix = "/dev/shm/"

// Unlink removes the shared memory object with the given name. Processes
// that still have it mapped keep their mapping.
func Unlink(name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	return unix.Unlink(path.Join(shmPrefix, name))
}

// Exists reports whether a shared memory object with the given name exists.
func Exists(name string) (bool, error) {
	if err := checkName(name); err != nil {
		return false, err
	}
	var statbuf unix.Stat_t
	err := unix.Stat(path.Join(shmPrefix, name), &statbuf)
	if errors.Is(err, unix.ENOENT) {
		return false, nil
	}
	return err == nil, err
}

func shm_open(name string, mode int, perm uint32) (int, error) {
	return unix.Open(path.Join(shmPrefix, name), mode|unix.O_CLOEXEC, perm)
}
