//go:build linux

package ioengine

import (
	"os"
	"syscall"
)

const directIOSupported = true

// openDirectRead opens name for reading with O_DIRECT, bypassing the page
// cache.
func openDirectRead(name string) (*os.File, error) {
	fd, err := syscall.Open(name, syscall.O_RDONLY|syscall.O_DIRECT, 0)
	if err != nil {
		return nil, err
	}
	return os.NewFile(uintptr(fd), name), nil
}

// openDirectWrite opens or creates name for append with O_DIRECT.
func openDirectWrite(name string) (*os.File, error) {
	fd, err := syscall.Open(name, syscall.O_WRONLY|syscall.O_CREAT|syscall.O_APPEND|syscall.O_DIRECT, 0o644)
	if err != nil {
		return nil, err
	}
	return os.NewFile(uintptr(fd), name), nil
}
