//go:build !darwin && !linux

package warp

import (
	"fmt"
	"runtime"
)

// totalSystemRAM is unsupported on this platform.
func totalSystemRAM() (uint64, error) {
	return 0, fmt.Errorf("RAM detection not supported on %s", runtime.GOOS)
}
