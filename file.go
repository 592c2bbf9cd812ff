package exfile

import (
	"fmt"
	"math"
	"os"

	"github.com/rs/zerolog"
)

// File is the Extensible Mapped File façade: a raw file plus a dynamic set
// of non-overlapping, page-aligned mmap windows (slots) that are
// automatically re-established whenever the file grows or shrinks.
//
// A File serializes its operations through an internal reader-writer lock
// unless Options.UseLocks is false.
type File struct {
	raw      RawFile
	fd       uintptr
	fsize    int64
	pageSize int64
	openMode OpenMode

	slots     slotList
	resize    ResizePolicy
	resizeCtx any

	lock     *rwlock
	populate bool
	logger   zerolog.Logger
	syncMgr  *syncManager

	sigbusProtected bool

	closed bool
}

// SyncFlag selects between an asynchronous and a synchronous msync.
type SyncFlag int

const (
	SyncAsync SyncFlag = iota
	SyncSync
)

// State is the snapshot returned by (*File).State.
type State struct {
	Size     int64
	OpenMode OpenMode
}

// Open allocates a File, opens the backing file, stats it, optionally grows
// it to Options.InitialSize, and aligns its size to the system page size.
func Open(opts Options) (*File, error) {
	if opts.OpenMode&(ModeRead|ModeWrite) == 0 {
		return nil, newErr(CodeInvalidArgs, "Open", fmt.Errorf("OpenMode must include ModeRead or ModeWrite"))
	}
	if opts.Path == "" {
		return nil, newErr(CodeInvalidArgs, "Open", fmt.Errorf("Path is required"))
	}

	fsys := opts.FS
	if fsys == nil {
		d, err := defaultFS()
		if err != nil {
			return nil, newErr(CodeAlloc, "Open", err)
		}
		fsys = d
	}

	resize := opts.Resize
	if resize == nil {
		resize = DefaultResizePolicy
	}

	perm := os.FileMode(opts.Perm)
	if perm == 0 {
		perm = 0o644
	}

	raw, err := openRawFile(fsys, opts.Path, openFlag(opts.OpenMode), perm)
	if err != nil {
		return nil, newErr(CodeIOErrno, "Open", err)
	}

	info, err := raw.Stat()
	if err != nil {
		_ = raw.Close()
		return nil, newErr(CodeIOErrno, "Open", err)
	}

	f := &File{
		raw:       raw,
		fd:        raw.Fd(),
		fsize:     info.Size(),
		pageSize:  systemPageSize(),
		openMode:  opts.OpenMode,
		resize:    resize,
		resizeCtx: opts.ResizeCtx,
		lock:      newRWLock(opts.UseLocks),
		populate:  opts.Populate,
		logger:    opts.Logger,
	}

	if aligned := alignUp(f.fsize, f.pageSize); aligned > f.fsize {
		if err := f.truncateLocked(aligned); err != nil {
			_ = raw.Close()
			return nil, err
		}
	}

	if opts.InitialSize > 0 {
		target := alignUp(opts.InitialSize, f.pageSize)
		if target > f.fsize {
			if err := f.truncateLocked(target); err != nil {
				_ = raw.Close()
				return nil, err
			}
		}
	}

	if opts.SyncInterval > 0 {
		f.syncMgr = newSyncManager(f, opts.SyncInterval)
	}

	if opts.SigbusProtect {
		f.sigbusProtected = true
		getSigbusGuard().register(f)
	}

	return f, nil
}

func openFlag(mode OpenMode) int {
	flag := os.O_RDONLY
	if mode.has(ModeWrite) {
		flag = os.O_RDWR
	}
	if mode.has(ModeCreate) {
		flag |= os.O_CREATE
	}
	if mode.has(ModeTrunc) {
		flag |= os.O_TRUNC
	}
	return flag
}

// alignUp rounds n up to the next multiple of page. Returns -1 if doing so
// would overflow int64.
func alignUp(n, page int64) int64 {
	if n <= 0 {
		return 0
	}
	rem := n % page
	if rem == 0 {
		return n
	}
	add := page - rem
	if n > math.MaxInt64-add {
		return -1
	}
	return n + add
}

// alignMaxlen rounds maxlen up to a multiple of page; if that would overflow,
// it rounds down instead. A down-rounded result of zero signals OUT_OF_BOUNDS
// to the caller.
func alignMaxlen(maxlen, page int64) int64 {
	if up := alignUp(maxlen, page); up > 0 {
		return up
	}
	return (maxlen / page) * page
}

// State copies the current fsize and open mode under the read lock.
func (f *File) State() (State, error) {
	f.lock.RLock()
	defer f.lock.RUnlock()
	if f.closed {
		return State{}, newErr(CodeInvalidState, "State", nil)
	}
	return State{Size: f.fsize, OpenMode: f.openMode}, nil
}

// EnsureSize grows the file so that its size is at least sz, consulting the
// resize policy, unless the file is already large enough. Cheaply observes
// fsize under the read lock first; promotes to the write lock only when
// growth is actually needed, re-checking the precondition afterward.
func (f *File) EnsureSize(sz int64) error {
	f.lock.RLock()
	if f.closed {
		f.lock.RUnlock()
		return newErr(CodeInvalidState, "EnsureSize", nil)
	}
	if f.fsize >= sz {
		f.lock.RUnlock()
		return nil
	}
	f.lock.RUnlock()

	f.lock.Lock()
	defer f.lock.Unlock()

	if f.closed {
		return newErr(CodeInvalidState, "EnsureSize", nil)
	}
	if f.fsize >= sz {
		return nil
	}
	if !f.openMode.has(ModeWrite) {
		return newErr(CodeReadOnly, "EnsureSize", nil)
	}

	target, err := f.resize(sz, f, f.resizeCtx)
	if err != nil {
		return newErr(CodeInvalidArgs, "EnsureSize", err)
	}
	if target < sz {
		target = sz
	}

	aligned := alignUp(target, f.pageSize)
	if aligned < 0 {
		return newErr(CodeOutOfBounds, "EnsureSize", nil)
	}
	return f.truncateLocked(aligned)
}

// Truncate rounds sz to the page size and grows or shrinks the file to
// match, reinitializing every slot's mapping either side of the resize.
func (f *File) Truncate(sz int64) error {
	f.lock.Lock()
	defer f.lock.Unlock()

	if f.closed {
		return newErr(CodeInvalidState, "Truncate", nil)
	}
	aligned := alignUp(sz, f.pageSize)
	if aligned < 0 {
		return newErr(CodeOutOfBounds, "Truncate", nil)
	}
	if err := f.truncateLocked(aligned); err != nil {
		return err
	}
	if f.sigbusProtected {
		// A successful resize rebuilds every slot's mapping from scratch
		// (reinitSlots), so any fault recorded against a now-stale mapping
		// no longer applies.
		getSigbusGuard().clearFault(f)
	}
	return nil
}

// truncateLocked performs the grow/shrink/equal resize. Caller must hold the
// write lock (or this must be called from Open, before any lock is needed).
func (f *File) truncateLocked(aligned int64) error {
	old := f.fsize

	switch {
	case aligned == old:
		return nil

	case aligned > old:
		if !f.openMode.has(ModeWrite) {
			return newErr(CodeReadOnly, "Truncate", nil)
		}
		if err := f.raw.Truncate(aligned); err != nil {
			return newErr(CodeIOErrno, "Truncate", err)
		}
		f.fsize = aligned
		if err := f.reinitSlots(); err != nil {
			f.fsize = old
			_ = f.raw.Truncate(old)
			if err2 := f.reinitSlots(); err2 != nil {
				f.logger.Warn().Err(err2).Msg("exfile: truncate rollback failed, mapping table may be inconsistent")
				return newErr(CodeInvalidState, "Truncate", fmt.Errorf("rollback failed: %v (original: %w)", err2, err))
			}
			return newErr(CodeIO, "Truncate", err)
		}
		return nil

	default: // shrink
		if !f.openMode.has(ModeWrite) {
			return newErr(CodeReadOnly, "Truncate", nil)
		}
		// Unmap/shorten slots BEFORE the physical shrink so nothing stays
		// mapped past the new EOF.
		f.fsize = aligned
		if err := f.reinitSlots(); err != nil {
			f.fsize = old
			_ = f.reinitSlots()
			return newErr(CodeIO, "Truncate", err)
		}
		if err := f.raw.Truncate(aligned); err != nil {
			f.fsize = old
			_ = f.raw.Truncate(old)
			if err2 := f.reinitSlots(); err2 != nil {
				f.logger.Warn().Err(err2).Msg("exfile: truncate rollback failed, mapping table may be inconsistent")
				return newErr(CodeInvalidState, "Truncate", fmt.Errorf("rollback failed: %v (original: %w)", err2, err))
			}
			return newErr(CodeIOErrno, "Truncate", err)
		}
		return nil
	}
}

// reinitSlots recomputes every slot's mapped length against the current
// fsize, (re)establishing or tearing down mappings as needed.
func (f *File) reinitSlots() error {
	for _, s := range f.slots.all() {
		if err := f.reinitSlot(s); err != nil {
			return err
		}
	}
	return nil
}

func (f *File) reinitSlot(s *slot) error {
	nlen := s.targetLen(f.fsize)
	if nlen == s.len {
		return nil
	}

	if s.len > 0 {
		err := munmapRegion(s.addr)
		// Clear len/addr even on failure so no dangling mapping is observed.
		s.len = 0
		s.addr = nil
		if err != nil {
			return err
		}
	}

	if nlen > 0 {
		data, err := mmapRegion(f.fd, s.off, nlen, f.openMode.has(ModeWrite), f.populate)
		if err != nil {
			return err
		}
		s.addr = data
		s.len = nlen
	}
	return nil
}

// AddMmap inserts a new slot at off with the given maximum window length,
// establishing its initial mapping if off lies within the current fsize.
func (f *File) AddMmap(off, maxlen int64) error {
	f.lock.Lock()
	defer f.lock.Unlock()

	if f.closed {
		return newErr(CodeInvalidState, "AddMmap", nil)
	}
	if off < 0 || off&(f.pageSize-1) != 0 {
		return newErr(CodeNotAligned, "AddMmap", nil)
	}
	if maxlen <= 0 {
		return newErr(CodeInvalidArgs, "AddMmap", nil)
	}

	if maxlen > math.MaxInt64-off {
		maxlen = math.MaxInt64 - off
	}

	aligned := alignMaxlen(maxlen, f.pageSize)
	if aligned <= 0 {
		return newErr(CodeOutOfBounds, "AddMmap", nil)
	}

	s := &slot{off: off, maxlen: aligned}
	nlen := s.targetLen(f.fsize)
	if nlen > 0 {
		data, err := mmapRegion(f.fd, off, nlen, f.openMode.has(ModeWrite), f.populate)
		if err != nil {
			return newErr(CodeIOErrno, "AddMmap", err)
		}
		s.addr = data
		s.len = nlen
	}

	if err := f.slots.insert(s); err != nil {
		if s.len > 0 {
			_ = munmapRegion(s.addr)
		}
		return err
	}
	if f.sigbusProtected {
		// A fresh mapping replaces whatever stale mapping a contained fault
		// was recorded against.
		getSigbusGuard().clearFault(f)
	}
	return nil
}

// GetMmap looks up the slot at exact offset off, returning its mapped
// address and current length. Returns ErrNotMmapped if the slot exists but
// currently lies entirely beyond EOF (len == 0), and ErrNotExists if no slot
// was ever added at off.
func (f *File) GetMmap(off int64) ([]byte, int64, error) {
	f.lock.RLock()
	defer f.lock.RUnlock()

	if f.closed {
		return nil, 0, newErr(CodeInvalidState, "GetMmap", nil)
	}
	s := f.slots.find(off)
	if s == nil {
		return nil, 0, newErr(CodeNotExists, "GetMmap", nil)
	}
	if s.len == 0 {
		return nil, 0, newErr(CodeNotMmapped, "GetMmap", nil)
	}
	if err := f.checkFault(); err != nil {
		return nil, 0, err
	}
	return s.addr, s.len, nil
}

// RemoveMmap finds the slot at exact offset off, unmaps it if mapped, and
// unlinks it from the slot list.
func (f *File) RemoveMmap(off int64) error {
	f.lock.Lock()
	defer f.lock.Unlock()

	if f.closed {
		return newErr(CodeInvalidState, "RemoveMmap", nil)
	}
	s := f.slots.find(off)
	if s == nil {
		return newErr(CodeNotExists, "RemoveMmap", nil)
	}
	if s.len > 0 {
		if err := munmapRegion(s.addr); err != nil {
			return newErr(CodeIOErrno, "RemoveMmap", err)
		}
	}
	f.slots.remove(s)
	return nil
}

// SyncMmap issues msync against the slot at exact offset off.
func (f *File) SyncMmap(off int64, flag SyncFlag) error {
	f.lock.RLock()
	defer f.lock.RUnlock()

	if f.closed {
		return newErr(CodeInvalidState, "SyncMmap", nil)
	}
	s := f.slots.find(off)
	if s == nil || s.len == 0 {
		return newErr(CodeNotMmapped, "SyncMmap", nil)
	}
	if err := msyncRegion(s.addr, flag == SyncSync); err != nil {
		return newErr(CodeIOErrno, "SyncMmap", err)
	}
	return nil
}

// Advise passes an access-pattern hint to the kernel for the mapped region
// at exact offset off.
func (f *File) Advise(off int64, advice Advice) error {
	f.lock.RLock()
	defer f.lock.RUnlock()

	if f.closed {
		return newErr(CodeInvalidState, "Advise", nil)
	}
	s := f.slots.find(off)
	if s == nil || s.len == 0 {
		return newErr(CodeNotMmapped, "Advise", nil)
	}
	return madviseRegion(s.addr, advice)
}

// checkFault reports ErrIO if a SIGBUS was contained against this File since
// the last successful access. Only meaningful when Options.SigbusProtect was
// set at Open.
func (f *File) checkFault() error {
	if !f.sigbusProtected {
		return nil
	}
	if getSigbusGuard().isFaulted(f) {
		return newErr(CodeIO, "checkFault", fmt.Errorf("contained SIGBUS: backing file truncated while mapped"))
	}
	return nil
}

// ReadAt delegates to the raw file.
func (f *File) ReadAt(p []byte, off int64) (int, error) {
	f.lock.RLock()
	defer f.lock.RUnlock()
	if f.closed {
		return 0, newErr(CodeInvalidState, "ReadAt", nil)
	}
	if err := f.checkFault(); err != nil {
		return 0, err
	}
	return f.raw.ReadAt(p, off)
}

// WriteAt delegates to the raw file.
func (f *File) WriteAt(p []byte, off int64) (int, error) {
	f.lock.RLock()
	defer f.lock.RUnlock()
	if f.closed {
		return 0, newErr(CodeInvalidState, "WriteAt", nil)
	}
	if !f.openMode.has(ModeWrite) {
		return 0, newErr(CodeReadOnly, "WriteAt", nil)
	}
	if err := f.checkFault(); err != nil {
		return 0, err
	}
	return f.raw.WriteAt(p, off)
}

// Sync delegates to the raw file's Sync.
func (f *File) Sync() error {
	f.lock.RLock()
	defer f.lock.RUnlock()
	if f.closed {
		return newErr(CodeInvalidState, "Sync", nil)
	}
	return f.raw.Sync()
}

// Close tears down every mapping, closes the raw file, and marks the
// instance closed; subsequent operations return ErrInvalidState.
func (f *File) Close() error {
	f.lock.Lock()
	if f.closed {
		f.lock.Unlock()
		return newErr(CodeInvalidState, "Close", nil)
	}
	f.closed = true
	syncMgr := f.syncMgr
	sigbusProtected := f.sigbusProtected
	f.lock.Unlock()

	// syncMgr.stop and the sigbus unregister run with no lock held. Neither
	// takes f.lock: stop signals the sync goroutine and returns without
	// waiting for it.
	if syncMgr != nil {
		syncMgr.stop()
	}
	if sigbusProtected {
		getSigbusGuard().unregister(f)
	}

	f.lock.Lock()
	defer f.lock.Unlock()

	var firstErr error
	for _, s := range f.slots.all() {
		if s.len > 0 {
			if err := munmapRegion(s.addr); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		f.slots.remove(s)
	}

	if err := f.raw.Close(); err != nil && firstErr == nil {
		firstErr = err
	}

	if firstErr != nil {
		return newErr(CodeIOErrno, "Close", firstErr)
	}
	return nil
}
