package exfile

import (
	"fmt"
	"io"
	"os"
	"reflect"
	"unsafe"

	"github.com/absfs/absfs"
	"github.com/absfs/osfs"
)

// RawFile is the raw-file collaborator: byte-addressable storage with a
// fixed handle. exfile delegates Read/Write/Sync/Stat/Truncate to it and
// additionally needs an OS file descriptor to pass to mmap/munmap.
//
// The shipped implementation (osRawFile) wraps an absfs.File the same way the
// filesystem this package's mmap handling is descended from does: most
// absfs.File implementations are, or wrap, an *os.File, and osRawFile
// extracts the descriptor via the same reflection-based unwrap.
type RawFile interface {
	io.ReaderAt
	io.WriterAt
	io.Closer
	Sync() error
	Stat() (os.FileInfo, error)
	Truncate(size int64) error
	// Fd returns the OS file descriptor backing this file, used for mmap.
	Fd() uintptr
}

// RawFileSystem opens RawFiles. The default is an absfs.FileSystem (typically
// osfs.NewFS()), but callers may substitute a test double.
type RawFileSystem interface {
	OpenFile(name string, flag int, perm os.FileMode) (absfs.File, error)
}

// defaultFS lazily constructs the default osfs-backed filesystem.
func defaultFS() (RawFileSystem, error) {
	fs, err := osfs.NewFS()
	if err != nil {
		return nil, fmt.Errorf("exfile: default filesystem: %w", err)
	}
	return fs, nil
}

// osRawFile adapts an absfs.File to RawFile.
type osRawFile struct {
	f  absfs.File
	fd uintptr
}

func openRawFile(fs RawFileSystem, path string, flag int, perm os.FileMode) (RawFile, error) {
	f, err := fs.OpenFile(path, flag, perm)
	if err != nil {
		return nil, err
	}
	fd, err := extractFd(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &osRawFile{f: f, fd: fd}, nil
}

func (r *osRawFile) ReadAt(p []byte, off int64) (int, error)  { return r.f.ReadAt(p, off) }
func (r *osRawFile) WriteAt(p []byte, off int64) (int, error) { return r.f.WriteAt(p, off) }
func (r *osRawFile) Close() error                             { return r.f.Close() }
func (r *osRawFile) Sync() error                              { return r.f.Sync() }
func (r *osRawFile) Stat() (os.FileInfo, error)               { return r.f.Stat() }
func (r *osRawFile) Truncate(size int64) error                { return r.f.Truncate(size) }
func (r *osRawFile) Fd() uintptr                              { return r.fd }

// extractFd finds the OS file descriptor backing an absfs.File, following
// through an embedded/wrapped *os.File via reflection when the file doesn't
// directly expose Fd().
func extractFd(file absfs.File) (uintptr, error) {
	if osFile, ok := any(file).(*os.File); ok {
		return osFile.Fd(), nil
	}

	type fdGetter interface {
		Fd() uintptr
	}
	if fg, ok := any(file).(fdGetter); ok {
		return fg.Fd(), nil
	}

	v := reflect.ValueOf(file)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return 0, fmt.Errorf("exfile: unable to extract file descriptor from type %T", file)
	}

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		if !field.CanInterface() {
			field = reflect.NewAt(field.Type(), unsafe.Pointer(field.UnsafeAddr())).Elem()
		}

		if field.Type() == reflect.TypeOf((*os.File)(nil)) {
			if osFile, ok := field.Interface().(*os.File); ok {
				return osFile.Fd(), nil
			}
		}

		if field.CanInterface() {
			if fg, ok := field.Interface().(interface{ Fd() uintptr }); ok {
				return fg.Fd(), nil
			}
		}
	}

	return 0, fmt.Errorf("exfile: unable to extract file descriptor from type %T", file)
}
