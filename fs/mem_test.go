package fs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"reflect"
	"testing"

	"github.com/jeffh/u9p/ninep"
)

func readAll(t *testing.T, h ninep.FileHandle) string {
	t.Helper()
	var buf bytes.Buffer
	p := make([]byte, 3)
	var off int64
	for {
		n, err := h.ReadAt(p, off)
		buf.Write(p[:n])
		off += int64(n)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("read: %s", err)
		}
		if n == 0 {
			t.Fatalf("read made no progress")
		}
	}
	return buf.String()
}

func listNames(t *testing.T, fsys ninep.FileSystem, path string) []string {
	t.Helper()
	var names []string
	for info, err := range fsys.ListDir(context.Background(), path) {
		if err != nil {
			t.Fatalf("list %q: %s", path, err)
		}
		names = append(names, info.Name())
	}
	return names
}

func TestMemWalk(t *testing.T) {
	ctx := context.Background()
	fsys := FS(NewMemFSWithFiles(map[string]string{
		"a/b/c.txt": "hello",
		"d.txt":     "world",
		"empty/":    "",
	}))

	p, info, err := fsys.Walk(ctx, "", "a")
	if err != nil || p != "a" || !info.IsDir() {
		t.Fatalf("walk a: %q %v %v", p, info, err)
	}
	p, info, err = fsys.Walk(ctx, "a", "b")
	if err != nil || p != "a/b" {
		t.Fatalf("walk a/b: %q %v", p, err)
	}
	p, _, err = fsys.Walk(ctx, p, "..")
	if err != nil || p != "a" {
		t.Fatalf("walk ..: %q %v", p, err)
	}
	p, _, err = fsys.Walk(ctx, "", "..")
	if err != nil || p != "" {
		t.Fatalf("walk .. at the root: %q %v", p, err)
	}
	if _, _, err = fsys.Walk(ctx, "a", "missing"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected ErrNotExist, got %v", err)
	}
	if _, _, err = fsys.Walk(ctx, "d.txt", "x"); !errors.Is(err, ninep.ErrNotDir) {
		t.Errorf("expected ErrNotDir walking through a file, got %v", err)
	}

	if names := listNames(t, fsys, ""); !reflect.DeepEqual(names, []string{"a", "d.txt", "empty"}) {
		t.Errorf("unexpected root listing: %v", names)
	}
	if names := listNames(t, fsys, "empty"); len(names) != 0 {
		t.Errorf("expected an empty directory, got %v", names)
	}
}

func TestMemCreate(t *testing.T) {
	ctx := context.Background()
	mem := NewMem()
	fsys := FS(mem)

	p, info, h, err := fsys.Create(ctx, "", "dir", ninep.M_DIR|0755, ninep.OREAD, "")
	if err != nil || p != "dir" || !info.IsDir() || h != nil {
		t.Fatalf("create dir: %q %v %v %v", p, info, h, err)
	}
	p, info, h, err = fsys.Create(ctx, "dir", "f", 0644, ninep.ORDWR, "")
	if err != nil || p != "dir/f" || info.IsDir() {
		t.Fatalf("create file: %q %v %v", p, info, err)
	}
	if _, err := h.WriteAt([]byte("abc"), 0); err != nil {
		t.Fatalf("write: %s", err)
	}
	if _, err := h.WriteAt([]byte("z"), 5); err != nil {
		t.Fatalf("write past the end: %s", err)
	}
	if got := readAll(t, h); got != "abc\x00\x00z" {
		t.Errorf("unexpected contents %q", got)
	}
	h.Close()

	if _, _, _, err := fsys.Create(ctx, "dir", "f", 0644, ninep.ORDWR, ""); !errors.Is(err, fs.ErrExist) {
		t.Errorf("expected ErrExist creating twice, got %v", err)
	}
	if _, _, _, err := fsys.Create(ctx, "dir", "f", ninep.M_DIR|0755, ninep.OREAD, ""); !errors.Is(err, fs.ErrExist) {
		t.Errorf("expected ErrExist for a directory over a file, got %v", err)
	}

	_, info, h, err = fsys.Create(ctx, "dir", "link", ninep.M_SYMLINK|0777, ninep.OREAD, "f")
	if err != nil || h != nil {
		t.Fatalf("create symlink: %v", err)
	}
	if info.Mode()&fs.ModeSymlink == 0 {
		t.Errorf("expected a symlink, got %s", info.Mode())
	}
	if ext, ok := info.(ninep.FileInfoExtension); !ok || ext.Extension() != "f" {
		t.Errorf("expected the link target in the extension")
	}

	if _, _, _, err := fsys.Create(ctx, "dir", "dev", ninep.M_DEVICE|0644, ninep.OREAD, "c 1 3"); !errors.Is(err, ninep.ErrUnsupported) {
		t.Errorf("expected ErrUnsupported for devices, got %v", err)
	}
}

func TestMemOpen(t *testing.T) {
	ctx := context.Background()
	mem := NewMemFSWithFiles(map[string]string{"f": "contents"})
	fsys := FS(mem)

	h, err := fsys.Open(ctx, "f", ninep.OREAD)
	if err != nil {
		t.Fatalf("open: %s", err)
	}
	if got := readAll(t, h); got != "contents" {
		t.Errorf("unexpected contents %q", got)
	}
	if _, err := h.WriteAt([]byte("x"), 0); !errors.Is(err, fs.ErrPermission) {
		t.Errorf("expected writes to a read only handle to fail, got %v", err)
	}

	h, err = fsys.Open(ctx, "f", ninep.OWRITE|ninep.OTRUNC)
	if err != nil {
		t.Fatalf("open: %s", err)
	}
	h.WriteAt([]byte("new"), 0)
	info, _ := fsys.Stat(ctx, "f")
	if info.Size() != 3 {
		t.Errorf("expected truncated size 3, got %d", info.Size())
	}
	if _, err := fsys.Open(ctx, "", ninep.OREAD); !errors.Is(err, ninep.ErrIsDir) {
		t.Errorf("expected ErrIsDir, got %v", err)
	}
}

func TestMemWriteStat(t *testing.T) {
	ctx := context.Background()
	mem := NewMemFSWithFiles(map[string]string{"a": "12345", "b": "", "d/x": ""})
	fsys := FS(mem)

	before, _ := fsys.Stat(ctx, "a")
	st := ninep.SyncStatWithName("c")
	st.SetLength(2)
	if err := fsys.WriteStat(ctx, "a", st); err != nil {
		t.Fatalf("wstat: %s", err)
	}
	if _, err := fsys.Stat(ctx, "a"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected the old name to be gone")
	}
	after, err := fsys.Stat(ctx, "c")
	if err != nil {
		t.Fatalf("stat: %s", err)
	}
	if after.Size() != 2 {
		t.Errorf("expected length 2, got %d", after.Size())
	}
	if before.(ninep.FileInfoPath).Path() != after.(ninep.FileInfoPath).Path() {
		t.Errorf("rename changed the file id")
	}
	if after.(ninep.FileInfoVersion).Version() == before.(ninep.FileInfoVersion).Version() {
		t.Errorf("truncate did not change the version")
	}

	tcs := []struct {
		name string
		path string
		req  FileInfoChangeRequest
		err  error
	}{
		{"rename onto existing", "c", FileInfoChangeRequest{Name: ptr("b")}, fs.ErrExist},
		{"rename root", "", FileInfoChangeRequest{Name: ptr("x")}, fs.ErrPermission},
		{"change uid", "b", FileInfoChangeRequest{Owner: ptr("glenda")}, fs.ErrPermission},
		{"change numeric uid", "b", FileInfoChangeRequest{OwnerID: ptr(uint32(1000))}, fs.ErrPermission},
		{"truncate dir", "d", FileInfoChangeRequest{Length: ptr(int64(0))}, ninep.ErrIsDir},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			if err := mem.WriteStat(ctx, tc.path, tc.req); !errors.Is(err, tc.err) {
				t.Errorf("expected %v, got %v", tc.err, err)
			}
		})
	}
	// a failed change must not apply any part of the request
	if err := mem.WriteStat(ctx, "c", FileInfoChangeRequest{Name: ptr("b"), Length: ptr(int64(0))}); err == nil {
		t.Fatalf("expected an error")
	}
	if info, _ := mem.Stat(ctx, "c"); info.Size() != 2 {
		t.Errorf("expected the length to be untouched, got %d", info.Size())
	}

	st = ninep.SyncStat()
	st.SetMode(0600)
	if err := fsys.WriteStat(ctx, "b", st); err != nil {
		t.Fatalf("chmod: %s", err)
	}
	if info, _ := fsys.Stat(ctx, "b"); info.Mode() != 0600 {
		t.Errorf("expected mode 0600, got %s", info.Mode())
	}
}

func TestMemRemove(t *testing.T) {
	ctx := context.Background()
	fsys := FS(NewMemFSWithFiles(map[string]string{"d/x": "", "y": ""}))
	if err := fsys.Remove(ctx, "d"); !errors.Is(err, ninep.ErrNotEmpty) {
		t.Errorf("expected ErrNotEmpty, got %v", err)
	}
	if err := fsys.Remove(ctx, ""); !errors.Is(err, fs.ErrPermission) {
		t.Errorf("expected the root to be protected, got %v", err)
	}
	for _, p := range []string{"d/x", "d", "y"} {
		if err := fsys.Remove(ctx, p); err != nil {
			t.Errorf("remove %s: %s", p, err)
		}
	}
	if err := fsys.Remove(ctx, "y"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected ErrNotExist, got %v", err)
	}
	if names := listNames(t, fsys, ""); len(names) != 0 {
		t.Errorf("expected nothing left, got %v", names)
	}
}

func TestPopulateFlags(t *testing.T) {
	mem := NewMem()
	if err := Populate(context.Background(), mem, map[string]string{"f": "x"}); err != nil {
		t.Fatal(err)
	}
	// Populate truncates, so a second run replaces contents
	if err := Populate(context.Background(), mem, map[string]string{"f": "y"}); err != nil {
		t.Fatal(err)
	}
	h, err := mem.OpenFile(context.Background(), "f", os.O_RDONLY)
	if err != nil {
		t.Fatal(err)
	}
	if got := readAll(t, h); got != "y" {
		t.Errorf("expected y, got %q", got)
	}
}
