//go:build !unix

package shm

import (
	"errors"
	"os"
)

var DefaultDir = os.TempDir()

var errUnsupported = errors.New("shm: shared segments are not supported on this platform")

func osMap(_ *os.File, _ int) ([]byte, error) {
	return nil, errUnsupported
}

func osUnmap(_ []byte) error {
	return errUnsupported
}
