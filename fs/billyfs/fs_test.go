package billyfs

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	ufs "github.com/jeffh/u9p/fs"
	"github.com/jeffh/u9p/ninep"
)

func newMem(t *testing.T, files map[string]string) ninep.FileSystem {
	t.Helper()
	bfs := memfs.New()
	if err := Seed(bfs, files); err != nil {
		t.Fatal(err)
	}
	return ufs.FS(New(bfs))
}

func TestWalkAndRead(t *testing.T) {
	ctx := context.Background()
	fsys := newMem(t, map[string]string{"docs/readme.txt": "read me", "top": "t"})

	root, err := fsys.Stat(ctx, "")
	if err != nil || root.Name() != "" || !root.IsDir() {
		t.Fatalf("unexpected root %v %v", root, err)
	}
	var names []string
	for info, err := range fsys.ListDir(ctx, "") {
		if err != nil {
			t.Fatal(err)
		}
		names = append(names, info.Name())
	}
	if len(names) != 2 || names[0] != "docs" || names[1] != "top" {
		t.Errorf("unexpected listing %v", names)
	}

	p, info, err := fsys.Walk(ctx, "docs", "readme.txt")
	if err != nil || p != "docs/readme.txt" || info.Size() != 7 {
		t.Fatalf("walk: %q %v %v", p, info, err)
	}
	h, err := fsys.Open(ctx, p, ninep.OREAD)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()
	b, err := io.ReadAll(io.NewSectionReader(h, 0, info.Size()))
	if err != nil || string(b) != "read me" {
		t.Errorf("read: %q %v", b, err)
	}
	if _, err := fsys.Open(ctx, "docs", ninep.OREAD); !errors.Is(err, ninep.ErrIsDir) {
		t.Errorf("expected ErrIsDir, got %v", err)
	}
}

func TestCreateWriteRemove(t *testing.T) {
	ctx := context.Background()
	bfs := memfs.New()
	fsys := ufs.FS(New(bfs))

	if _, _, _, err := fsys.Create(ctx, "", "d", ninep.M_DIR|0755, ninep.OREAD, ""); err != nil {
		t.Fatal(err)
	}
	if _, _, _, err := fsys.Create(ctx, "", "d", ninep.M_DIR|0755, ninep.OREAD, ""); !errors.Is(err, fs.ErrExist) {
		t.Errorf("expected ErrExist, got %v", err)
	}
	_, _, h, err := fsys.Create(ctx, "d", "f", 0644, ninep.ORDWR, "")
	if err != nil {
		t.Fatal(err)
	}
	h.WriteAt([]byte("world"), 6)
	h.WriteAt([]byte("hello "), 0)
	h.Close()
	b, err := util.ReadFile(bfs, "d/f")
	if err != nil || string(b) != "hello world" {
		t.Errorf("unexpected contents %q %v", b, err)
	}
	if _, _, _, err := fsys.Create(ctx, "d", "f", 0644, ninep.ORDWR, ""); !errors.Is(err, fs.ErrExist) {
		t.Errorf("expected ErrExist, got %v", err)
	}

	if err := fsys.Remove(ctx, "d"); !errors.Is(err, ninep.ErrNotEmpty) {
		t.Errorf("expected ErrNotEmpty, got %v", err)
	}
	if err := fsys.Remove(ctx, "d/f"); err != nil {
		t.Fatal(err)
	}
	if err := fsys.Remove(ctx, "d"); err != nil {
		t.Fatal(err)
	}
}

func TestWriteStat(t *testing.T) {
	ctx := context.Background()
	bfs := memfs.New()
	Seed(bfs, map[string]string{"a": "12345", "b": ""})
	fsys := ufs.FS(New(bfs))

	st := ninep.SyncStatWithName("c")
	st.SetLength(3)
	if err := fsys.WriteStat(ctx, "a", st); err != nil {
		t.Fatal(err)
	}
	b, err := util.ReadFile(bfs, "c")
	if err != nil || string(b) != "123" {
		t.Errorf("unexpected contents %q %v", b, err)
	}
	if err := fsys.WriteStat(ctx, "c", ninep.SyncStatWithName("b")); !errors.Is(err, fs.ErrExist) {
		t.Errorf("expected ErrExist, got %v", err)
	}
	// memfs has no way to change modes
	st = ninep.SyncStat()
	st.SetMode(0600)
	if err := fsys.WriteStat(ctx, "c", st); !errors.Is(err, ninep.ErrUnsupported) {
		t.Errorf("expected ErrUnsupported, got %v", err)
	}
	if err := fsys.WriteStat(ctx, "c", ninep.SyncStat()); err != nil {
		t.Errorf("sync: %s", err)
	}
}

func TestSymlink(t *testing.T) {
	ctx := context.Background()
	fsys := newMem(t, map[string]string{"target": "x"})
	_, info, _, err := fsys.Create(ctx, "", "link", ninep.M_SYMLINK|0777, ninep.OREAD, "target")
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode()&fs.ModeSymlink == 0 {
		t.Errorf("expected a symlink, got %s", info.Mode())
	}
	if ext := info.(ninep.FileInfoExtension).Extension(); ext != "target" {
		t.Errorf("expected the target in the extension, got %q", ext)
	}
}
