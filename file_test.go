package exfile

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func tempPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "data.bin")
}

func TestOpenCreatesAndAligns(t *testing.T) {
	f, err := Open(Options{
		Path:        tempPath(t),
		OpenMode:    ModeRead | ModeWrite | ModeCreate,
		InitialSize: 10,
	})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer f.Close()

	st, err := f.State()
	if err != nil {
		t.Fatalf("State() failed: %v", err)
	}
	if st.Size%f.pageSize != 0 {
		t.Fatalf("Size %d not page-aligned to %d", st.Size, f.pageSize)
	}
	if st.Size < 10 {
		t.Fatalf("Size %d smaller than requested InitialSize 10", st.Size)
	}
}

func TestOpenRejectsMissingMode(t *testing.T) {
	_, err := Open(Options{Path: tempPath(t)})
	if err == nil {
		t.Fatal("expected error when OpenMode has neither ModeRead nor ModeWrite")
	}
	if code, ok := CodeOf(err); !ok || code != CodeInvalidArgs {
		t.Fatalf("expected CodeInvalidArgs, got %v", err)
	}
}

func TestEnsureSizeGrowsAndIsIdempotent(t *testing.T) {
	f, err := Open(Options{
		Path:     tempPath(t),
		OpenMode: ModeRead | ModeWrite | ModeCreate,
	})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer f.Close()

	if err := f.EnsureSize(5000); err != nil {
		t.Fatalf("EnsureSize() failed: %v", err)
	}
	st, _ := f.State()
	if st.Size < 5000 {
		t.Fatalf("Size %d did not grow to at least 5000", st.Size)
	}

	grownOnce := st.Size
	if err := f.EnsureSize(100); err != nil {
		t.Fatalf("EnsureSize() with smaller size failed: %v", err)
	}
	st2, _ := f.State()
	if st2.Size != grownOnce {
		t.Fatalf("EnsureSize() with a smaller request shrank the file: %d -> %d", grownOnce, st2.Size)
	}
}

func TestAddMmapRejectsUnalignedOffset(t *testing.T) {
	f, err := Open(Options{
		Path:     tempPath(t),
		OpenMode: ModeRead | ModeWrite | ModeCreate,
	})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer f.Close()

	err = f.AddMmap(1, 4096)
	if code, ok := CodeOf(err); !ok || code != CodeNotAligned {
		t.Fatalf("expected CodeNotAligned, got %v", err)
	}
}

func TestAddMmapDetectsOverlap(t *testing.T) {
	f, err := Open(Options{
		Path:     tempPath(t),
		OpenMode: ModeRead | ModeWrite | ModeCreate,
	})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer f.Close()

	page := f.pageSize
	if err := f.AddMmap(0, page*4); err != nil {
		t.Fatalf("first AddMmap() failed: %v", err)
	}
	if err := f.AddMmap(page*2, page*4); !errors.Is(err, ErrMmapOverlap) {
		t.Fatalf("expected ErrMmapOverlap, got %v", err)
	}
	// Adjacent, non-overlapping ranges must be accepted.
	if err := f.AddMmap(page*4, page*2); err != nil {
		t.Fatalf("adjacent AddMmap() failed: %v", err)
	}
}

func TestGetMmapDistinguishesMissingFromUnmapped(t *testing.T) {
	f, err := Open(Options{
		Path:     tempPath(t),
		OpenMode: ModeRead | ModeWrite | ModeCreate,
	})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer f.Close()

	page := f.pageSize
	if err := f.AddMmap(page, page*2); err != nil {
		t.Fatalf("AddMmap() failed: %v", err)
	}

	// File is still empty: the slot exists but maps nothing yet.
	if _, _, err := f.GetMmap(page); !errors.Is(err, ErrNotMmapped) {
		t.Fatalf("expected ErrNotMmapped, got %v", err)
	}

	// No slot was ever registered here.
	if _, _, err := f.GetMmap(page * 10); !errors.Is(err, ErrNotExists) {
		t.Fatalf("expected ErrNotExists, got %v", err)
	}

	if err := f.EnsureSize(page * 3); err != nil {
		t.Fatalf("EnsureSize() failed: %v", err)
	}
	data, length, err := f.GetMmap(page)
	if err != nil {
		t.Fatalf("GetMmap() failed after growth: %v", err)
	}
	if length != page*2 {
		t.Fatalf("expected mapped length %d, got %d", page*2, length)
	}
	if len(data) != int(length) {
		t.Fatalf("mapped slice length %d does not match reported length %d", len(data), length)
	}
}

func TestWriteAtVisibleThroughMmapAfterReinit(t *testing.T) {
	f, err := Open(Options{
		Path:     tempPath(t),
		OpenMode: ModeRead | ModeWrite | ModeCreate,
	})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer f.Close()

	page := f.pageSize
	if err := f.AddMmap(0, page); err != nil {
		t.Fatalf("AddMmap() failed: %v", err)
	}
	if err := f.EnsureSize(page); err != nil {
		t.Fatalf("EnsureSize() failed: %v", err)
	}

	payload := []byte("hello, mapped world")
	if _, err := f.WriteAt(payload, 0); err != nil {
		t.Fatalf("WriteAt() failed: %v", err)
	}
	if err := f.SyncMmap(0, SyncSync); err != nil {
		t.Fatalf("SyncMmap() failed: %v", err)
	}

	data, _, err := f.GetMmap(0)
	if err != nil {
		t.Fatalf("GetMmap() failed: %v", err)
	}
	if !bytes.Equal(data[:len(payload)], payload) {
		t.Fatalf("mapped view does not reflect WriteAt: got %q", data[:len(payload)])
	}
}

func TestReadOnlyRejectsWrite(t *testing.T) {
	path := tempPath(t)
	f, err := Open(Options{
		Path:        path,
		OpenMode:    ModeRead | ModeWrite | ModeCreate,
		InitialSize: 4096,
	})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	ro, err := Open(Options{Path: path, OpenMode: ModeRead})
	if err != nil {
		t.Fatalf("reopen read-only failed: %v", err)
	}
	defer ro.Close()

	if _, err := ro.WriteAt([]byte("x"), 0); !errors.Is(err, ErrReadOnly) {
		t.Fatalf("expected ErrReadOnly, got %v", err)
	}
}

func TestCloseUnmapsAndRejectsReuse(t *testing.T) {
	f, err := Open(Options{
		Path:     tempPath(t),
		OpenMode: ModeRead | ModeWrite | ModeCreate,
	})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if err := f.AddMmap(0, f.pageSize); err != nil {
		t.Fatalf("AddMmap() failed: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if _, err := f.State(); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState after Close, got %v", err)
	}
	if err := f.Close(); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected double-Close to report ErrInvalidState, got %v", err)
	}
}

func TestPeriodicSyncManagerStopsCleanly(t *testing.T) {
	f, err := Open(Options{
		Path:         tempPath(t),
		OpenMode:     ModeRead | ModeWrite | ModeCreate,
		InitialSize:  4096,
		SyncInterval: 5 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if err := f.AddMmap(0, f.pageSize); err != nil {
		t.Fatalf("AddMmap() failed: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if err := f.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
}
