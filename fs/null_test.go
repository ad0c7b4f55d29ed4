package fs

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"testing"

	"github.com/jeffh/u9p/ninep"
)

func TestNullListing(t *testing.T) {
	ctx := context.Background()
	fsys := FS(Null{})

	root, err := fsys.Stat(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if !root.IsDir() || root.(ninep.FileInfoPath).Path() != 1 {
		t.Errorf("unexpected root %v", root)
	}

	expected := map[string]int64{"zero": 0, "1gig": 1e9, "10gig": 1e10, "100gig": 1e11}
	seen := map[uint64]bool{1: true}
	for info, err := range fsys.ListDir(ctx, "") {
		if err != nil {
			t.Fatal(err)
		}
		size, ok := expected[info.Name()]
		if !ok {
			t.Errorf("unexpected file %q", info.Name())
			continue
		}
		delete(expected, info.Name())
		if info.Size() != size {
			t.Errorf("%s: expected size %d, got %d", info.Name(), size, info.Size())
		}
		id := info.(ninep.FileInfoPath).Path()
		if seen[id] {
			t.Errorf("%s: duplicate path %d", info.Name(), id)
		}
		seen[id] = true
		if n := info.(ninep.FileInfoNumericIds); n.NUid() != 0 || n.NGid() != 0 {
			t.Errorf("%s: expected numeric ids of 0", info.Name())
		}
	}
	if len(expected) != 0 {
		t.Errorf("missing files: %v", expected)
	}
	if _, _, err := fsys.Walk(ctx, "", "one"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected ErrNotExist, got %v", err)
	}
}

func TestNullReadWrite(t *testing.T) {
	ctx := context.Background()
	fsys := FS(Null{})

	zero, err := fsys.Open(ctx, "zero", ninep.ORDWR)
	if err != nil {
		t.Fatal(err)
	}
	buf := []byte("not zero")
	n, err := zero.ReadAt(buf, 1<<40)
	if err != nil || n != len(buf) {
		t.Fatalf("expected a full read, got %d %v", n, err)
	}
	for _, b := range buf {
		if b != 0 {
			t.Fatalf("expected zeros, got %q", buf)
		}
	}
	if n, err := zero.WriteAt([]byte("discarded"), 0); err != nil || n != 9 {
		t.Errorf("expected writes to be accepted, got %d %v", n, err)
	}

	gig, err := fsys.Open(ctx, "1gig", ninep.ORDWR)
	if err != nil {
		t.Fatal(err)
	}
	n, err = gig.ReadAt(make([]byte, 10), 1e9-4)
	if n != 4 || err != nil {
		t.Errorf("expected a short read at the end, got %d %v", n, err)
	}
	if _, err := gig.ReadAt(make([]byte, 10), 1e9); err != io.EOF {
		t.Errorf("expected EOF, got %v", err)
	}
	if _, err := gig.WriteAt([]byte("x"), 0); ninep.ErrnoOf(err) != ninep.EPERM {
		t.Errorf("expected EPERM, got %v", err)
	}
}

func TestNullMutations(t *testing.T) {
	ctx := context.Background()
	fsys := FS(Null{})
	if _, _, _, err := fsys.Create(ctx, "", "new", 0644, ninep.OWRITE, ""); ninep.ErrnoOf(err) != ninep.EPERM {
		t.Errorf("create: expected EPERM, got %v", err)
	}
	if err := fsys.Remove(ctx, "zero"); ninep.ErrnoOf(err) != ninep.EPERM {
		t.Errorf("remove: expected EPERM, got %v", err)
	}
	st := ninep.SyncStatWithName("renamed")
	if err := fsys.WriteStat(ctx, "zero", st); err != nil {
		t.Errorf("wstat: expected success, got %v", err)
	}
	if _, err := fsys.Stat(ctx, "zero"); err != nil {
		t.Errorf("wstat should not change anything: %v", err)
	}
}
