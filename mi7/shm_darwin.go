package mi7

import (
	"syscall"
	"unsafe"
)

func shm_open(name string, mode int, perm uint32) (int, error) {
	namePtr, err := syscall.BytePtrFromString("/" + name)
	if err != nil {
		return -1, err
	}

	fd, _, errno := syscall.RawSyscall(
		syscall.SYS_SHM_OPEN,
		uintptr(unsafe.Pointer(namePtr)),
		uintptr(mode|syscall.O_CLOEXEC),
		uintptr(perm))

	if int32(fd) < 0 || errno != 0 {
		return -1, errno
	}
	return int(fd), nil
}

// Exists reports whether a shared memory object with the given name exists.
func Exists(name string) (bool, error) {
	if err := checkName(name); err != nil {
		return false, err
	}
	fd, err := shm_open(name, syscall.O_RDONLY, 0)
	if err == syscall.ENOENT {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	_ = syscall.Close(fd)
	return true, nil
}

// Unlink removes the shared memory object with the given name. Processes
// that still have it mapped keep their mapping.
func Unlink(name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	namePtr, err := syscall.BytePtrFromString("/" + name)
	if err != nil {
		return err
	}

	_, _, errno := syscall.RawSyscall(
		syscall.SYS_SHM_UNLINK,
		uintptr(unsafe.Pointer(namePtr)),
		0, 0)

	if errno != 0 {
		return errno
	}
	return nil
}
