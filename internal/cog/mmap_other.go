//go:build !unix

package cog

import (
	"io"
	"os"
)

// mapFile reads the whole file into memory where mmap is unavailable.
func mapFile(f *os.File, size int) ([]byte, error) {
	data := make([]byte, size)
	if _, err := io.ReadFull(f, data); err != nil {
		return nil, err
	}
	return data, nil
}

// unmapFile is a no-op; the buffer is garbage collected.
func unmapFile(data []byte) error {
	return nil
}
