//go:build windows

package exfile

import (
	"fmt"
	"os"
	"sync"
	"unsafe"

	"golang.org/x/sys/windows"
)

// windowsMapping tracks the extra handle Windows needs alongside the mapped
// view, since munmap must close both the view and the section object.
type windowsMapping struct {
	h windows.Handle
}

var (
	windowsMappingsMu sync.Mutex
	windowsMappings   = map[uintptr]windowsMapping{}
)

func mmapRegion(fd uintptr, off, length int64, writable, _ bool) ([]byte, error) {
	prot := uint32(windows.PAGE_READONLY)
	access := uint32(windows.FILE_MAP_READ)
	if writable {
		prot = windows.PAGE_READWRITE
		access = windows.FILE_MAP_WRITE
	}

	size := uint64(off) + uint64(length)
	h, err := windows.CreateFileMapping(windows.Handle(fd), nil, prot, uint32(size>>32), uint32(size&0xffffffff), nil)
	if err != nil {
		return nil, fmt.Errorf("mmap failed: CreateFileMapping: %w", err)
	}

	addr, err := windows.MapViewOfFile(h, access, uint32(uint64(off)>>32), uint32(uint64(off)&0xffffffff), uintptr(length))
	if err != nil {
		_ = windows.CloseHandle(h)
		return nil, fmt.Errorf("mmap failed: MapViewOfFile: %w", err)
	}

	data := unsafe.Slice((*byte)(unsafe.Pointer(addr)), length)
	windowsMappingsMu.Lock()
	windowsMappings[addr] = windowsMapping{h: h}
	windowsMappingsMu.Unlock()
	return data, nil
}

func munmapRegion(data []byte) error {
	if data == nil {
		return nil
	}
	addr := uintptr(unsafe.Pointer(&data[0]))
	windowsMappingsMu.Lock()
	m, ok := windowsMappings[addr]
	if ok {
		delete(windowsMappings, addr)
	}
	windowsMappingsMu.Unlock()
	if !ok {
		return fmt.Errorf("munmap failed: unknown mapping")
	}

	if err := windows.UnmapViewOfFile(addr); err != nil {
		return fmt.Errorf("munmap failed: UnmapViewOfFile: %w", err)
	}
	if err := windows.CloseHandle(m.h); err != nil {
		return fmt.Errorf("munmap failed: CloseHandle: %w", err)
	}
	return nil
}

func msyncRegion(data []byte, _ bool) error {
	if data == nil {
		return nil
	}
	addr := uintptr(unsafe.Pointer(&data[0]))
	if err := windows.FlushViewOfFile(addr, uintptr(len(data))); err != nil {
		return fmt.Errorf("msync failed: %w", err)
	}
	return nil
}

func madviseRegion(_ []byte, _ Advice) error {
	// No POSIX-equivalent advisory API on Windows; treated as a no-op hint.
	return nil
}

func systemPageSize() int64 {
	return int64(os.Getpagesize())
}
