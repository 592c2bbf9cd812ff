package jsonreg

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func tempRegPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "reg.json")
}

func TestSetGetStringRoundTrip(t *testing.T) {
	r, err := Open(Config{Path: tempRegPath(t)})
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.SetStr("name", "x"))
	got, err := r.GetStr("name")
	require.NoError(t, err)
	require.Equal(t, "x", got)
}

func TestIncI64RestoresAfterOffsettingDelta(t *testing.T) {
	r, err := Open(Config{Path: tempRegPath(t)})
	require.NoError(t, err)
	defer r.Close()

	v, err := r.IncI64("c", 5)
	require.NoError(t, err)
	require.Equal(t, int64(5), v)

	v, err = r.IncI64("c", -5)
	require.NoError(t, err)
	require.Equal(t, int64(0), v)
}

func TestIncI64CoercesNonIntegerExistingToZero(t *testing.T) {
	r, err := Open(Config{Path: tempRegPath(t)})
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.SetStr("c", "not a number"))
	v, err := r.IncI64("c", 3)
	require.NoError(t, err)
	require.Equal(t, int64(3), v)
}

func TestOpenSetSyncCloseReopenRoundTrip(t *testing.T) {
	path := tempRegPath(t)

	r, err := Open(Config{Path: path})
	require.NoError(t, err)
	require.NoError(t, r.SetStr("name", "x"))
	require.NoError(t, r.SetI64("n", 42))
	require.NoError(t, r.Sync())
	require.NoError(t, r.Close())

	if _, err := os.Stat(path + "_tmp"); !os.IsNotExist(err) {
		t.Fatalf("path_tmp should not exist after a successful Sync")
	}

	r2, err := Open(Config{Path: path})
	require.NoError(t, err)
	defer r2.Close()

	name, err := r2.GetStr("name")
	require.NoError(t, err)
	require.Equal(t, "x", name)

	n, err := r2.GetI64("n")
	require.NoError(t, err)
	require.Equal(t, int64(42), n)
}

func TestSyncIsNoOpWhenNotDirty(t *testing.T) {
	path := tempRegPath(t)
	r, err := Open(Config{Path: path})
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.Sync())
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("Sync on a clean registry should not create the destination file")
	}
}

func TestAutosyncWritesThroughOnEveryMutation(t *testing.T) {
	path := tempRegPath(t)
	r, err := Open(Config{Path: path, Flags: FlagAutosync})
	require.NoError(t, err)
	defer r.Close()

	for i := 0; i < 5; i++ {
		_, err := r.IncI64("c", 1)
		require.NoError(t, err)
		if _, err := os.Stat(path + "_tmp"); !os.IsNotExist(err) {
			t.Fatalf("path_tmp must not linger after Sync returns")
		}
	}

	r2, err := Open(Config{Path: path})
	require.NoError(t, err)
	defer r2.Close()
	v, err := r2.GetI64("c")
	require.NoError(t, err)
	require.Equal(t, int64(5), v)
}

func TestReadOnlyRejectsMutation(t *testing.T) {
	path := tempRegPath(t)
	r, err := Open(Config{Path: path})
	require.NoError(t, err)
	require.NoError(t, r.SetStr("k", "v"))
	require.NoError(t, r.Sync())
	require.NoError(t, r.Close())

	ro, err := Open(Config{Path: path, Flags: FlagReadOnly})
	require.NoError(t, err)
	defer ro.Close()

	err = ro.SetStr("k", "v2")
	require.ErrorIs(t, err, ErrReadOnly)
}

func TestMergeAndReplaceAtPath(t *testing.T) {
	r, err := Open(Config{Path: tempRegPath(t)})
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.Merge("/user/name", "alice"))
	require.NoError(t, r.Merge("/user/age", int64(30)))

	name, err := r.AtStr("/user/name")
	require.NoError(t, err)
	require.Equal(t, "alice", name)

	age, err := r.AtI64("/user/age")
	require.NoError(t, err)
	require.Equal(t, int64(30), age)

	require.NoError(t, r.MergeRemove("/user/age"))
	_, err = r.AtI64("/user/age")
	require.ErrorIs(t, err, ErrPathNotFound)

	require.NoError(t, r.Replace("/user", map[string]any{"name": "bob"}))
	name, err = r.AtStr("/user/name")
	require.NoError(t, err)
	require.Equal(t, "bob", name)
}

func TestTypeCoercionTable(t *testing.T) {
	r, err := Open(Config{Path: tempRegPath(t)})
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.Merge("/i", int64(7)))
	f, err := r.AtF64("/i")
	require.NoError(t, err)
	require.Equal(t, 7.0, f)

	require.NoError(t, r.Merge("/f", 1.5))
	i, err := r.AtI64("/f")
	require.NoError(t, err)
	require.Equal(t, int64(1), i)

	require.NoError(t, r.Merge("/s", "42"))
	i, err = r.AtI64("/s")
	require.NoError(t, err)
	require.Equal(t, int64(42), i)

	require.NoError(t, r.Merge("/b", true))
	s, err := r.AtStr("/b")
	require.NoError(t, err)
	require.Equal(t, "true", s)

	require.NoError(t, r.Merge("/obj", map[string]any{"x": int64(1)}))
	_, err = r.AtI64("/obj")
	require.ErrorIs(t, err, ErrTypeNotCompatible)
}

func TestCopyDeepClonesSubtree(t *testing.T) {
	r, err := Open(Config{Path: tempRegPath(t)})
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.Merge("/a", map[string]any{"b": []any{int64(1), int64(2)}}))

	got, err := r.Copy("/a")
	require.NoError(t, err)

	want := map[string]any{"b": []any{int64(1), int64(2)}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Copy mismatch (-want +got):\n%s", diff)
	}

	// Mutating the registry afterward must not affect the returned clone.
	require.NoError(t, r.Merge("/a/b", []any{int64(9)}))
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("clone was not independent of later mutation (-want +got):\n%s", diff)
	}
}

func TestBinaryFormatRoundTrip(t *testing.T) {
	path := tempRegPath(t)
	r, err := Open(Config{Path: path, Flags: FlagFormatBinary})
	require.NoError(t, err)
	require.NoError(t, r.SetStr("name", "x"))
	require.NoError(t, r.SetI64("n", 42))
	require.NoError(t, r.Merge("/nested/v", 3.25))
	require.NoError(t, r.Sync())
	require.NoError(t, r.Close())

	r2, err := Open(Config{Path: path, Flags: FlagFormatBinary})
	require.NoError(t, err)
	defer r2.Close()

	name, err := r2.GetStr("name")
	require.NoError(t, err)
	require.Equal(t, "x", name)

	n, err := r2.GetI64("n")
	require.NoError(t, err)
	require.Equal(t, int64(42), n)

	v, err := r2.AtF64("/nested/v")
	require.NoError(t, err)
	require.Equal(t, 3.25, v)
}

func TestOpenToleratesJSONCComments(t *testing.T) {
	path := tempRegPath(t)
	jsonc := "{\n  // a comment\n  \"name\": \"x\",\n  \"n\": 42,\n}\n"
	require.NoError(t, os.WriteFile(path, []byte(jsonc), 0o644))

	r, err := Open(Config{Path: path})
	require.NoError(t, err)
	defer r.Close()

	name, err := r.GetStr("name")
	require.NoError(t, err)
	require.Equal(t, "x", name)
}

func TestOpenRemovesLingeringTmpFile(t *testing.T) {
	path := tempRegPath(t)
	require.NoError(t, os.WriteFile(path, []byte(`{"a":1}`), 0o644))
	require.NoError(t, os.WriteFile(path+"_tmp", []byte(`garbage`), 0o644))

	r, err := Open(Config{Path: path})
	require.NoError(t, err)
	defer r.Close()

	if _, err := os.Stat(path + "_tmp"); !os.IsNotExist(err) {
		t.Fatalf("lingering path_tmp should have been removed on Open")
	}
}

func TestWatchReceivesEventOnMutatedKey(t *testing.T) {
	r, err := Open(Config{Path: tempRegPath(t)})
	require.NoError(t, err)
	defer r.Close()

	ch := r.Watch("k")
	require.NoError(t, r.SetStr("other", "v"))
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event for unwatched key: %+v", ev)
	default:
	}

	require.NoError(t, r.SetStr("k", "v"))
	select {
	case ev := <-ch:
		require.Equal(t, "k", ev.Key)
	default:
		t.Fatal("expected an event for watched key k")
	}
}
