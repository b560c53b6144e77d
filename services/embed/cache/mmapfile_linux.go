//go:build linux

package cache

import (
	"os"
	"syscall"
)

// mmapRegion maps the vectors file read-write and shared, matching the
// tenant cache's dcache.mmap helper: one PROT_READ|PROT_WRITE, MAP_SHARED
// mapping kept open for the lifetime of the Store.
func mmapRegion(f *os.File, size int64) ([]byte, error) {
	return syscall.Mmap(int(f.Fd()), 0, int(size), syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
}

func munmapRegion(buf []byte) error {
	return syscall.Munmap(buf)
}

// flushVectorSlot is a no-op on Linux: vecBuf is MAP_SHARED, so a write into
// it is already visible to the backing file without an explicit write-back.
func flushVectorSlot(f *os.File, buf []byte, off int64, n int) error {
	return nil
}

// growFile extends f to size bytes using Fallocate where available so the
// mapping below never reads past the end of a sparse file.
func growFile(f *os.File, size int64) error {
	if err := syscall.Fallocate(int(f.Fd()), 0, 0, size); err != nil {
		// Fallocate isn't supported on every filesystem (tmpfs, overlayfs in
		// some configurations); fall back to a plain truncate.
		return f.Truncate(size)
	}
	return nil
}
