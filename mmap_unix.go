//go:build darwin || freebsd || netbsd || openbsd || dragonfly

package exfile

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// mmapRegion establishes a shared mapping of length bytes starting at off in
// the file backing fd. populate has no direct equivalent outside Linux and is
// ignored here.
func mmapRegion(fd uintptr, off, length int64, writable, populate bool) ([]byte, error) {
	prot := unix.PROT_READ
	if writable {
		prot |= unix.PROT_WRITE
	}

	data, err := unix.Mmap(int(fd), off, int(length), prot, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap failed: %w", err)
	}
	return data, nil
}

func munmapRegion(data []byte) error {
	if data == nil {
		return nil
	}
	if err := unix.Munmap(data); err != nil {
		return fmt.Errorf("munmap failed: %w", err)
	}
	return nil
}

func msyncRegion(data []byte, sync bool) error {
	if data == nil {
		return nil
	}
	flags := unix.MS_ASYNC
	if sync {
		flags = unix.MS_SYNC
	}
	if err := unix.Msync(data, flags); err != nil {
		return fmt.Errorf("msync failed: %w", err)
	}
	return nil
}

func madviseRegion(data []byte, advice Advice) error {
	if data == nil {
		return nil
	}
	var a int
	switch advice {
	case AdviceSequential:
		a = unix.MADV_SEQUENTIAL
	case AdviceRandom:
		a = unix.MADV_RANDOM
	case AdviceWillNeed:
		a = unix.MADV_WILLNEED
	case AdviceDontNeed:
		a = unix.MADV_DONTNEED
	default:
		a = unix.MADV_NORMAL
	}
	if err := unix.Madvise(data, a); err != nil {
		return fmt.Errorf("madvise failed: %w", err)
	}
	return nil
}

func systemPageSize() int64 {
	return int64(unix.Getpagesize())
}
