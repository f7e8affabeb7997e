package btree

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	lserrors "github.com/lodestone-search/lodestone/pkg/errors"
)

func newTable(t *testing.T) *Table {
	t.Helper()
	tbl, err := Create(filepath.Join(t.TempDir(), "postlist"), MinBlockSize, false)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	t.Cleanup(func() { tbl.Close() })
	return tbl
}

func TestAddGetCommit(t *testing.T) {
	tbl := newTable(t)
	for i := 0; i < 500; i++ {
		key := fmt.Sprintf("key%04d", i)
		if err := tbl.Add([]byte(key), []byte("value for "+key)); err != nil {
			t.Fatalf("Add(%s): %v", key, err)
		}
	}
	if err := tbl.Commit(1); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if got := tbl.EntryCount(); got != 500 {
		t.Fatalf("EntryCount = %d, want 500", got)
	}
	for i := 0; i < 500; i++ {
		key := fmt.Sprintf("key%04d", i)
		val, found, err := tbl.GetExact([]byte(key))
		if err != nil || !found {
			t.Fatalf("GetExact(%s): found=%v err=%v", key, found, err)
		}
		if string(val) != "value for "+key {
			t.Fatalf("GetExact(%s) = %q", key, val)
		}
	}
	if _, found, _ := tbl.GetExact([]byte("missing")); found {
		t.Fatal("GetExact(missing) reported found")
	}
}

func TestPersistenceAcrossOpen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "record")
	tbl, err := Create(path, MinBlockSize, false)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	for i := 0; i < 100; i++ {
		tbl.Add([]byte(fmt.Sprintf("k%03d", i)), []byte{byte(i)})
	}
	if err := tbl.Commit(1); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	tbl.Close()

	rd, err := Open(path, false)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rd.Close()
	if rd.Revision() != 1 {
		t.Fatalf("Revision = %d, want 1", rd.Revision())
	}
	val, found, err := rd.GetExact([]byte("k042"))
	if err != nil || !found || !bytes.Equal(val, []byte{42}) {
		t.Fatalf("GetExact(k042) = %v, %v, %v", val, found, err)
	}
}

func TestReaderSnapshotAndReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "termlist")
	w, _ := Create(path, MinBlockSize, false)
	w.Add([]byte("a"), []byte("one"))
	if err := w.Commit(1); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	r, err := Open(path, false)
	if err != nil {
		t.Fatalf("Open reader: %v", err)
	}
	defer r.Close()

	// Uncommitted writer changes must stay invisible.
	w.Add([]byte("b"), []byte("two"))
	if _, found, _ := r.GetExact([]byte("b")); found {
		t.Fatal("reader saw uncommitted entry")
	}
	if err := w.Commit(2); err != nil {
		t.Fatalf("Commit 2: %v", err)
	}
	if _, found, _ := r.GetExact([]byte("b")); found {
		t.Fatal("reader advanced without Reopen")
	}
	changed, err := r.Reopen()
	if err != nil || !changed {
		t.Fatalf("Reopen = %v, %v", changed, err)
	}
	if _, found, _ := r.GetExact([]byte("b")); !found {
		t.Fatal("reader missing entry after Reopen")
	}
	w.Close()
}

func TestDel(t *testing.T) {
	tbl := newTable(t)
	tbl.Add([]byte("a"), []byte("1"))
	tbl.Add([]byte("b"), []byte("2"))
	removed, err := tbl.Del([]byte("a"))
	if err != nil || !removed {
		t.Fatalf("Del(a) = %v, %v", removed, err)
	}
	removed, err = tbl.Del([]byte("zz"))
	if err != nil || removed {
		t.Fatalf("Del(zz) = %v, %v", removed, err)
	}
	if got := tbl.EntryCount(); got != 1 {
		t.Fatalf("EntryCount = %d, want 1", got)
	}
	if _, found, _ := tbl.GetExact([]byte("a")); found {
		t.Fatal("deleted key still present")
	}
}

func TestCommitNoChangesIsNoop(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "value")
	tbl, _ := Create(path, MinBlockSize, false)
	defer tbl.Close()
	tbl.Add([]byte("k"), []byte("v"))
	if err := tbl.Commit(1); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	// Re-adding an identical value adds no flush pressure.
	if err := tbl.Add([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("idempotent Add: %v", err)
	}
	if err := tbl.Commit(2); err != nil {
		t.Fatalf("empty Commit: %v", err)
	}
	if tbl.Revision() != 1 {
		t.Fatalf("no-op commit bumped revision to %d", tbl.Revision())
	}
}

func TestCommitRevisionMustIncrease(t *testing.T) {
	tbl := newTable(t)
	tbl.Add([]byte("k"), []byte("v"))
	if err := tbl.Commit(3); err != nil {
		t.Fatalf("Commit(3): %v", err)
	}
	tbl.Add([]byte("k2"), []byte("v2"))
	err := tbl.Commit(3)
	if !errors.Is(err, lserrors.ErrInvalidArgument) {
		t.Fatalf("Commit(3) again: %v", err)
	}
}

func TestCancelDiscardsChanges(t *testing.T) {
	tbl := newTable(t)
	tbl.Add([]byte("keep"), []byte("1"))
	tbl.Commit(1)
	tbl.Add([]byte("drop"), []byte("2"))
	if err := tbl.Cancel(); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if _, found, _ := tbl.GetExact([]byte("drop")); found {
		t.Fatal("cancelled entry still visible")
	}
	if _, found, _ := tbl.GetExact([]byte("keep")); !found {
		t.Fatal("committed entry lost by Cancel")
	}
}

func TestCursorTraversal(t *testing.T) {
	tbl := newTable(t)
	var keys []string
	for i := 0; i < 300; i++ {
		k := fmt.Sprintf("t%04d", i*2) // even keys only
		keys = append(keys, k)
		tbl.Add([]byte(k), []byte(k))
	}
	tbl.Commit(1)

	c := tbl.Cursor()
	if !c.BeforeStart() {
		t.Fatal("new cursor not before start")
	}
	for i := 0; ; i++ {
		if err := c.Next(); err != nil {
			t.Fatalf("Next: %v", err)
		}
		if c.AfterEnd() {
			if i != len(keys) {
				t.Fatalf("iterated %d entries, want %d", i, len(keys))
			}
			break
		}
		key, err := c.CurrentKey()
		if err != nil || string(key) != keys[i] {
			t.Fatalf("entry %d: key=%q err=%v, want %q", i, key, err, keys[i])
		}
	}

	// find-ge lands on the entry itself, or the next one up.
	exact, err := c.FindEntryGE([]byte("t0100"))
	if err != nil || !exact {
		t.Fatalf("FindEntryGE(t0100) exact=%v err=%v", exact, err)
	}
	exact, err = c.FindEntryGE([]byte("t0101"))
	if err != nil || exact {
		t.Fatalf("FindEntryGE(t0101) exact=%v err=%v", exact, err)
	}
	key, _ := c.CurrentKey()
	if string(key) != "t0102" {
		t.Fatalf("FindEntryGE(t0101) landed on %q", key)
	}

	// find-lt lands strictly below.
	if err := c.FindEntryLT([]byte("t0100")); err != nil {
		t.Fatalf("FindEntryLT: %v", err)
	}
	key, _ = c.CurrentKey()
	if string(key) != "t0098" {
		t.Fatalf("FindEntryLT(t0100) landed on %q", key)
	}

	// walking backwards from the second entry reaches before-start.
	c.FindEntryGE([]byte(keys[1]))
	c.Prev()
	key, _ = c.CurrentKey()
	if string(key) != keys[0] {
		t.Fatalf("Prev landed on %q", key)
	}
	c.Prev()
	if !c.BeforeStart() {
		t.Fatal("Prev off the first entry should be before-start")
	}

	c.ToEnd()
	if !c.AfterEnd() {
		t.Fatal("ToEnd did not set after-end")
	}
}

func TestCompressedValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "recordz")
	tbl, err := Create(path, MinBlockSize, true)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer tbl.Close()
	val := bytes.Repeat([]byte("compressible payload "), 20)
	tbl.Add([]byte("doc"), val)
	tbl.Commit(1)

	got, found, err := tbl.GetExact([]byte("doc"))
	if err != nil || !found || !bytes.Equal(got, val) {
		t.Fatalf("GetExact round trip failed: found=%v err=%v", found, err)
	}

	c := tbl.Cursor()
	if _, err := c.FindEntryGE([]byte("doc")); err != nil {
		t.Fatalf("FindEntryGE: %v", err)
	}
	raw, compressed, err := c.ReadTag(true)
	if err != nil || !compressed {
		t.Fatalf("ReadTag(raw): compressed=%v err=%v", compressed, err)
	}
	if len(raw) >= len(val) {
		t.Fatalf("raw tag not compressed: %d >= %d", len(raw), len(val))
	}
	plain, compressed, err := c.ReadTag(false)
	if err != nil || compressed || !bytes.Equal(plain, val) {
		t.Fatalf("ReadTag: compressed=%v err=%v", compressed, err)
	}
}

func TestLargeValueOverflow(t *testing.T) {
	tbl := newTable(t)
	big := make([]byte, 3*MinBlockSize)
	for i := range big {
		big[i] = byte(i * 7)
	}
	if err := tbl.Add([]byte("huge"), big); err != nil {
		t.Fatalf("Add: %v", err)
	}
	tbl.Add([]byte("small"), []byte("x"))
	tbl.Commit(1)
	got, found, err := tbl.GetExact([]byte("huge"))
	if err != nil || !found || !bytes.Equal(got, big) {
		t.Fatalf("overflow round trip failed: found=%v err=%v len=%d", found, err, len(got))
	}
	// Overwrite frees the old chain and still round-trips.
	big2 := append(big, big...)
	tbl.Add([]byte("huge"), big2)
	tbl.Commit(2)
	got, _, _ = tbl.GetExact([]byte("huge"))
	if !bytes.Equal(got, big2) {
		t.Fatal("rewritten overflow value corrupt")
	}
}

func TestCloseTwice(t *testing.T) {
	dir := t.TempDir()
	tbl, _ := Create(filepath.Join(dir, "t"), MinBlockSize, false)
	if err := tbl.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := tbl.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	_, _, err := tbl.GetExact([]byte("k"))
	if !errors.Is(err, lserrors.ErrDatabaseClosed) {
		t.Fatalf("GetExact after Close: %v", err)
	}
}

func TestAlternatingBases(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "alt")
	tbl, _ := Create(path, MinBlockSize, false)
	for rev := uint64(1); rev <= 6; rev++ {
		tbl.Add([]byte(fmt.Sprintf("rev%d", rev)), []byte("x"))
		if err := tbl.Commit(rev); err != nil {
			t.Fatalf("Commit(%d): %v", rev, err)
		}
	}
	tbl.Close()
	rd, err := Open(path, false)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rd.Close()
	if rd.Revision() != 6 {
		t.Fatalf("Revision = %d, want 6", rd.Revision())
	}
	if rd.EntryCount() != 6 {
		t.Fatalf("EntryCount = %d, want 6", rd.EntryCount())
	}
}
