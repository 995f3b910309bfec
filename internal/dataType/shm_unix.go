//go:build linux || darwin || freebsd || netbsd || openbsd

package dataType

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// mapSharedRegion maps anonymous shared memory outside the Go heap, so the
// region is never moved or scanned by the collector.
func mapSharedRegion(size int) ([]byte, func([]byte) error, error) {
	region, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_ANON)
	if err != nil {
		return nil, nil, fmt.Errorf("mmap shared region of %d bytes: %w", size, err)
	}
	return region, unix.Munmap, nil
}
