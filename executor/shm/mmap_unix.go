//go:build unix

package shm

import (
	"os"

	"golang.org/x/sys/unix"
)

// DefaultDir is where segments live when no directory is configured.
var DefaultDir = defaultDir()

func defaultDir() string {
	if fi, err := os.Stat("/dev/shm"); err == nil && fi.IsDir() {
		return "/dev/shm"
	}
	return os.TempDir()
}

func osMap(f *os.File, size int) ([]byte, error) {
	return unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
}

func osUnmap(data []byte) error {
	return unix.Munmap(data)
}
