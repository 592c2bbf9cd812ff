package jsonreg

import (
	"bytes"
	"fmt"
	"os"

	"github.com/natefinch/atomic"
	"github.com/rs/zerolog"
	"github.com/tailscale/hujson"
)

// Flags configures a Registry at Open.
type Flags uint8

const (
	// FlagReadOnly rejects all mutating operations and skips Sync.
	FlagReadOnly Flags = 1 << iota
	// FlagFormatBinary selects the opaque binary persistence format instead
	// of textual pretty JSON. The on-disk format has no JSONC tolerance.
	FlagFormatBinary
	// FlagAutosync calls Sync after every successful mutating operation.
	FlagAutosync
)

func (f Flags) has(bit Flags) bool { return f&bit != 0 }

// Config configures Open.
type Config struct {
	// Path is the registry's backing file. Open removes a lingering
	// path+"_tmp" file; Sync does not write path+"_tmp" but stages through
	// a temporary file that atomic.WriteFile creates in Path's directory.
	Path string

	Flags Flags

	// Lock is the lock collaborator. Defaults to an internal sync.RWMutex
	// when nil.
	Lock LockOps

	// Logger receives warnings for recoverable conditions (a lingering
	// path_tmp cleaned up on Open). Defaults to a no-op logger.
	Logger zerolog.Logger
}

// DefaultConfig returns a Config with no flags set and the internal
// reader-writer lock selected, matching the teacher's Config/DefaultConfig()
// convention. Path is still the caller's responsibility to set.
func DefaultConfig() Config {
	return Config{}
}

// Registry is a persistent JSON object tree with merge-patch semantics.
type Registry struct {
	path    string
	pathTmp string
	flags   Flags
	lock    LockOps
	logger  zerolog.Logger

	root   *node
	dirty  bool
	closed bool

	watchers []*watcher
}

// Open allocates a Registry, loading path if it exists or initializing an
// empty object tree otherwise. A lingering path_tmp file is removed and
// logged.
func Open(cfg Config) (*Registry, error) {
	if cfg.Path == "" {
		return nil, newErr(CodeInvalidArgs, "Open", fmt.Errorf("Path is required"))
	}

	lock := cfg.Lock
	if lock == nil {
		lock = newDefaultLock()
	}

	r := &Registry{
		path:    cfg.Path,
		pathTmp: cfg.Path + "_tmp",
		flags:   cfg.Flags,
		lock:    lock,
		logger:  cfg.Logger,
	}

	if _, err := os.Stat(r.pathTmp); err == nil {
		r.logger.Warn().Str("path", r.pathTmp).Msg("jsonreg: removing lingering sync temp file")
		_ = os.Remove(r.pathTmp)
	}

	data, err := os.ReadFile(r.path)
	switch {
	case os.IsNotExist(err):
		r.root = newObjectNode()
	case err != nil:
		return nil, newErr(CodeIOErrno, "Open", err)
	default:
		root, err := r.decode(data)
		if err != nil {
			return nil, newErr(CodeIO, "Open", err)
		}
		r.root = root
	}

	return r, nil
}

func (r *Registry) decode(data []byte) (*node, error) {
	if r.flags.has(FlagFormatBinary) {
		return decodeBinary(data)
	}
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return nil, fmt.Errorf("invalid JSONC: %w", err)
	}
	return decodeJSONText(standardized)
}

func (r *Registry) encode() ([]byte, error) {
	if r.flags.has(FlagFormatBinary) {
		return encodeBinary(r.root), nil
	}
	return encodeJSONText(r.root)
}

// Close performs a final Sync (unless FlagReadOnly or already clean) and
// marks the Registry closed.
func (r *Registry) Close() error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if r.closed {
		return newErr(CodeInvalidState, "Close", nil)
	}
	if !r.flags.has(FlagReadOnly) {
		if err := r.syncLocked(); err != nil {
			return err
		}
	}
	r.closed = true
	return nil
}

// Sync serializes the tree and writes it with atomic.WriteFile, which stages
// the data in a temporary file in path's directory, fsyncs it, and renames
// it over path; path_tmp is not used. It is a no-op when the tree is not
// dirty or the registry is read-only.
func (r *Registry) Sync() error {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.syncLocked()
}

func (r *Registry) syncLocked() error {
	if r.closed {
		return newErr(CodeInvalidState, "Sync", nil)
	}
	if r.flags.has(FlagReadOnly) || !r.dirty {
		return nil
	}

	data, err := r.encode()
	if err != nil {
		return newErr(CodeIO, "Sync", err)
	}

	// atomic.WriteFile stages through a sibling temp file, fsyncs it, and
	// renames it over the destination; the rename is the atomic commit
	// point.
	if err := atomic.WriteFile(r.path, bytes.NewReader(data)); err != nil {
		return newErr(CodeIOErrno, "Sync", err)
	}
	r.dirty = false
	return nil
}

func (r *Registry) markDirtyAndMaybeSync(key string) error {
	r.dirty = true
	notifyWatchers(r.watchers, key)
	if r.flags.has(FlagAutosync) {
		return r.syncLocked()
	}
	return nil
}

func (r *Registry) requireWritable(op string) error {
	if r.closed {
		return newErr(CodeInvalidState, op, nil)
	}
	if r.flags.has(FlagReadOnly) {
		return newErr(CodeReadOnly, op, nil)
	}
	return nil
}

// SetStr sets a top-level string key, creating or replacing it.
func (r *Registry) SetStr(key, v string) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if err := r.requireWritable("SetStr"); err != nil {
		return err
	}
	r.root.obj[key] = newStrNode(v)
	return r.markDirtyAndMaybeSync(key)
}

// SetI64 sets a top-level int64 key, creating or replacing it.
func (r *Registry) SetI64(key string, v int64) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if err := r.requireWritable("SetI64"); err != nil {
		return err
	}
	r.root.obj[key] = newI64Node(v)
	return r.markDirtyAndMaybeSync(key)
}

// SetBool sets a top-level bool key, creating or replacing it.
func (r *Registry) SetBool(key string, v bool) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if err := r.requireWritable("SetBool"); err != nil {
		return err
	}
	r.root.obj[key] = newBoolNode(v)
	return r.markDirtyAndMaybeSync(key)
}

// IncI64 atomically increments a top-level integer key by delta, coercing a
// non-integer or missing existing value to 0 before adding, and returns the
// new value.
func (r *Registry) IncI64(key string, delta int64) (int64, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	if err := r.requireWritable("IncI64"); err != nil {
		return 0, err
	}

	var cur int64
	if existing, ok := r.root.obj[key]; ok && existing.kind == kindI64 {
		cur = existing.i
	}

	next := cur + delta
	r.root.obj[key] = newI64Node(next)
	if err := r.markDirtyAndMaybeSync(key); err != nil {
		return 0, err
	}
	return next, nil
}

// Remove deletes a top-level key if present.
func (r *Registry) Remove(key string) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if err := r.requireWritable("Remove"); err != nil {
		return err
	}
	delete(r.root.obj, key)
	return r.markDirtyAndMaybeSync(key)
}

// Merge applies an RFC 7396 JSON merge patch at path.
func (r *Registry) Merge(path string, value any) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if err := r.requireWritable("Merge"); err != nil {
		return err
	}
	n, err := fromAny(value)
	if err != nil {
		return newErr(CodeInvalidArgs, "Merge", err)
	}
	if err := mergeAt(r.root, path, n); err != nil {
		return err
	}
	return r.markDirtyAndMaybeSync(path)
}

func (r *Registry) MergeStr(path, v string) error          { return r.Merge(path, v) }
func (r *Registry) MergeI64(path string, v int64) error     { return r.Merge(path, v) }
func (r *Registry) MergeF64(path string, v float64) error   { return r.Merge(path, v) }
func (r *Registry) MergeBool(path string, v bool) error     { return r.Merge(path, v) }

// MergeRemove merges a null value at path, deleting the corresponding key
// from its parent object.
func (r *Registry) MergeRemove(path string) error { return r.Merge(path, nil) }

// Replace deletes the subtree at path (or every child, if path is the root)
// and then merge-patches value in.
func (r *Registry) Replace(path string, value any) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if err := r.requireWritable("Replace"); err != nil {
		return err
	}
	n, err := fromAny(value)
	if err != nil {
		return newErr(CodeInvalidArgs, "Replace", err)
	}
	if err := replaceAt(r.root, path, n); err != nil {
		return err
	}
	return r.markDirtyAndMaybeSync(path)
}

// requireOpen reports ErrInvalidState if the registry has been closed.
// Callers must already hold the read or write lock.
func (r *Registry) requireOpen(op string) error {
	if r.closed {
		return newErr(CodeInvalidState, op, nil)
	}
	return nil
}

// GetStr returns the top-level string key v, or ErrNotExists if missing or
// not a string (no coercion at this level).
func (r *Registry) GetStr(key string) (string, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	if err := r.requireOpen("GetStr"); err != nil {
		return "", err
	}
	n, ok := r.root.obj[key]
	if !ok || n.kind != kindStr {
		return "", ErrNotExists
	}
	return n.s, nil
}

// GetI64 returns the top-level int64 key v, or ErrNotExists if missing or
// not an int64.
func (r *Registry) GetI64(key string) (int64, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	if err := r.requireOpen("GetI64"); err != nil {
		return 0, err
	}
	n, ok := r.root.obj[key]
	if !ok || n.kind != kindI64 {
		return 0, ErrNotExists
	}
	return n.i, nil
}

// GetBool returns the top-level bool key v, or ErrNotExists if missing or
// not a bool.
func (r *Registry) GetBool(key string) (bool, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	if err := r.requireOpen("GetBool"); err != nil {
		return false, err
	}
	n, ok := r.root.obj[key]
	if !ok || n.kind != kindBool {
		return false, ErrNotExists
	}
	return n.b, nil
}

// AtI64 looks up path with type coercion per the stored-type table.
func (r *Registry) AtI64(path string) (int64, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	if err := r.requireOpen("AtI64"); err != nil {
		return 0, err
	}
	n, err := at(r.root, path)
	if err != nil {
		return 0, err
	}
	v, err := n.typeCoerceI64()
	if err != nil {
		return 0, newErr(CodeTypeNotCompatible, "AtI64", err)
	}
	return v, nil
}

// AtF64 looks up path with type coercion per the stored-type table.
func (r *Registry) AtF64(path string) (float64, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	if err := r.requireOpen("AtF64"); err != nil {
		return 0, err
	}
	n, err := at(r.root, path)
	if err != nil {
		return 0, err
	}
	v, err := n.typeCoerceF64()
	if err != nil {
		return 0, newErr(CodeTypeNotCompatible, "AtF64", err)
	}
	return v, nil
}

// AtBool looks up path with type coercion per the stored-type table.
func (r *Registry) AtBool(path string) (bool, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	if err := r.requireOpen("AtBool"); err != nil {
		return false, err
	}
	n, err := at(r.root, path)
	if err != nil {
		return false, err
	}
	v, err := n.typeCoerceBool()
	if err != nil {
		return false, newErr(CodeTypeNotCompatible, "AtBool", err)
	}
	return v, nil
}

// AtStr looks up path with type coercion per the stored-type table.
func (r *Registry) AtStr(path string) (string, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	if err := r.requireOpen("AtStr"); err != nil {
		return "", err
	}
	n, err := at(r.root, path)
	if err != nil {
		return "", err
	}
	v, err := n.typeCoerceStr()
	if err != nil {
		return "", newErr(CodeTypeNotCompatible, "AtStr", err)
	}
	return v, nil
}

// Copy returns a deep clone of the subtree at path (or the whole tree, if
// path is empty) as a plain Go value. Go's garbage collector owns the
// clone's lifetime; there is no arena/pool to pass in.
func (r *Registry) Copy(path string) (any, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	if err := r.requireOpen("Copy"); err != nil {
		return nil, err
	}
	n, err := at(r.root, path)
	if err != nil {
		return nil, err
	}
	return toAny(n.clone()), nil
}

// Watch returns a channel that receives an Event after any successful
// mutating top-level operation touches one of keys. Pass no keys to watch
// every key. The channel is unbuffered past its single slot and drops
// events it cannot deliver immediately; callers needing guaranteed delivery
// should drain it promptly.
func (r *Registry) Watch(keys ...string) <-chan Event {
	r.lock.Lock()
	defer r.lock.Unlock()

	keySet := make(map[string]struct{}, len(keys))
	if len(keys) == 0 {
		keySet["*"] = struct{}{}
	}
	for _, k := range keys {
		keySet[k] = struct{}{}
	}

	w := &watcher{keys: keySet, ch: make(chan Event, 1)}
	r.watchers = append(r.watchers, w)
	return w.ch
}

