package exfile

import (
	"time"

	"github.com/rs/zerolog"
)

// OpenMode is a bitset describing how the backing file was opened.
type OpenMode uint8

const (
	ModeRead OpenMode = 1 << iota
	ModeWrite
	ModeCreate
	ModeTrunc
)

func (m OpenMode) has(f OpenMode) bool { return m&f != 0 }

// ResizePolicy computes the size the file should actually be grown to, given
// a requested size. It must return a value >= requested; exfile will
// page-align the returned value itself. The policy is invoked under the
// write lock and must not re-enter the *File.
type ResizePolicy func(requested int64, f *File, ctx any) (int64, error)

// DefaultResizePolicy grows to exactly the requested size, page-aligned.
func DefaultResizePolicy(requested int64, _ *File, _ any) (int64, error) {
	return requested, nil
}

// GrowthFactorPolicy returns a ResizePolicy that grows to requested*factor,
// giving headroom so repeated small EnsureSize calls don't each truncate the
// file. factor must be >= 1; values <= 1 behave like DefaultResizePolicy.
func GrowthFactorPolicy(factor float64) ResizePolicy {
	return func(requested int64, _ *File, _ any) (int64, error) {
		if factor <= 1 {
			return requested, nil
		}
		grown := int64(float64(requested) * factor)
		if grown < requested {
			return requested, nil
		}
		return grown, nil
	}
}

// Options configures Open.
type Options struct {
	// FS is the filesystem used to open Path. Defaults to osfs.NewFS().
	FS RawFileSystem

	// Path is the path to the backing file, passed to FS.
	Path string

	// OpenMode controls how Path is opened. Must include at least one of
	// ModeRead / ModeWrite.
	OpenMode OpenMode

	// Perm is the permission bits used when ModeCreate is set.
	Perm uint32

	// InitialSize, if > 0, grows the file to at least this size (rounded up
	// to the system page size) as part of Open.
	InitialSize int64

	// Resize is the resize policy applied by EnsureSize. Defaults to
	// DefaultResizePolicy.
	Resize ResizePolicy

	// ResizeCtx is passed through to Resize unmodified.
	ResizeCtx any

	// UseLocks controls whether operations serialize through an internal
	// sync.RWMutex. Callers that already guarantee single-threaded access
	// may set this to false to skip the locking overhead.
	UseLocks bool

	// Populate requests that newly mapped slots be prefaulted into memory
	// (MAP_POPULATE on Linux; a no-op hint elsewhere).
	Populate bool

	// SyncInterval, if > 0, starts a background goroutine that periodically
	// msyncs (MS_ASYNC) every mapped slot. This is additive to, and does not
	// replace, explicit SyncMmap calls.
	SyncInterval time.Duration

	// Logger receives warnings for recoverable conditions (failed periodic
	// sync, SIGBUS containment events). Defaults to a no-op logger.
	Logger zerolog.Logger

	// SigbusProtect registers this File with the package's SIGBUS guard:
	// after the process is notified of a SIGBUS through os/signal, the next
	// access returns ErrIO. A SIGBUS raised synchronously by touching a
	// mapping (for example after an external truncation of the backing
	// file) is handled by the Go runtime and is not contained. Has no effect
	// on Windows.
	SigbusProtect bool
}

// DefaultOptions returns an Options with UseLocks enabled and the resize
// policy set to DefaultResizePolicy, matching the teacher's Config/
// DefaultConfig() convention. Path and OpenMode are still the caller's
// responsibility to set.
func DefaultOptions() Options {
	return Options{
		OpenMode: ModeRead | ModeWrite,
		Resize:   DefaultResizePolicy,
		UseLocks: true,
	}
}

// Advice is an access-pattern hint passed to (*File).Advise.
type Advice int

const (
	AdviceNormal Advice = iota
	AdviceSequential
	AdviceRandom
	AdviceWillNeed
	AdviceDontNeed
)
