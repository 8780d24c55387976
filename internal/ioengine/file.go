package ioengine

import (
	"bufio"
	"os"
)

// bufioWriter is the narrow slice of *bufio.Writer the Buffered/Direct
// writers need.
type bufioWriter = bufio.Writer

func newBufioWriter(f *os.File) *bufioWriter {
	return bufio.NewWriterSize(f, 64*1024)
}

// openForRead opens name for positional reads, honoring ioType when the
// platform supports it. Direct falls back to a plain open when O_DIRECT
// isn't available (see direct_linux.go / direct_other.go).
func openForRead(name string, ioType Type) (*os.File, error) {
	if ioType == Direct && directIOSupported {
		return openDirectRead(name)
	}
	return os.Open(name)
}

// openForWrite opens or creates name for sequential append.
func openForWrite(name string, ioType Type) (*os.File, error) {
	if ioType == Direct && directIOSupported {
		return openDirectWrite(name)
	}
	return os.OpenFile(name, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
}
