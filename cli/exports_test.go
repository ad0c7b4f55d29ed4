package cli

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	ufs "github.com/jeffh/u9p/fs"
	"github.com/jeffh/u9p/fs/sealfs"
	"github.com/jeffh/u9p/ninep"
	"github.com/jeffh/u9p/ninep/ndb"
)

func loadTable(t *testing.T, config string) (*ExportTable, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "exports")
	if err := os.WriteFile(path, []byte(config), 0644); err != nil {
		t.Fatal(err)
	}
	db, err := ndb.OpenOne(nil, path)
	if err != nil {
		t.Fatal(err)
	}
	tbl, err := LoadExports(context.Background(), db, ninep.DiscardLogger())
	if tbl != nil {
		t.Cleanup(func() { tbl.Close() })
	}
	return tbl, err
}

func readFile(t *testing.T, fsys ninep.FileSystem, path string) string {
	t.Helper()
	h, err := fsys.Open(context.Background(), path, ninep.OREAD)
	if err != nil {
		t.Fatalf("open %s: %s", path, err)
	}
	defer h.Close()
	buf := make([]byte, 64)
	n, _ := h.ReadAt(buf, 0)
	return string(buf[:n])
}

func TestLoadExports(t *testing.T) {
	ctx := context.Background()
	tbl, err := loadTable(t, `
export=scratch backend=mem file=hello=world default
export=empty backend=null readonly
export=cached backend=mem file=a=1 cache=1m trace
export=all backend=mux mount=scratch mount=cached
`)
	if err != nil {
		t.Fatal(err)
	}

	names := tbl.Exports.Names()
	if len(names) != 4 {
		t.Fatalf("expected 4 exports, got %v", names)
	}

	name, fsys, err := tbl.Exports.Lookup("")
	if err != nil || name != "scratch" {
		t.Fatalf("expected the default export, got %q %v", name, err)
	}
	if got := readFile(t, fsys, "hello"); got != "world" {
		t.Errorf("expected world, got %q", got)
	}

	_, fsys, _ = tbl.Exports.Lookup("empty")
	if _, err := fsys.Open(ctx, "zero", ninep.OWRITE); ninep.ErrnoOf(err) != ninep.EPERM {
		t.Errorf("expected a read only export, got %v", err)
	}

	_, fsys, _ = tbl.Exports.Lookup("all")
	if got := readFile(t, fsys, "cached/a"); got != "1" {
		t.Errorf("expected 1 through the mux, got %q", got)
	}
	if got := readFile(t, fsys, "scratch/hello"); got != "world" {
		t.Errorf("expected world through the mux, got %q", got)
	}
}

func TestLoadExportsErrors(t *testing.T) {
	tcs := []struct {
		name   string
		config string
	}{
		{"duplicate", "export=a backend=mem\nexport=a backend=null\n"},
		{"unknown backend", "export=a backend=tape\n"},
		{"unknown mount", "export=a backend=mux mount=b\n"},
		{"missing path", "export=a backend=dir\n"},
		{"two defaults", "export=a backend=mem default\nexport=b backend=mem default\n"},
		{"bad delay", "export=a backend=mem delay=soon\n"},
		{"nothing", "sys=other\n"},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			tbl, err := loadTable(t, tc.config)
			if err == nil {
				t.Fatalf("expected an error, got %v", tbl.Exports.Names())
			}
			if !errors.Is(err, ErrBadExport) {
				t.Errorf("expected ErrBadExport, got %v", err)
			}
		})
	}
}

func TestLoadExportsBackends(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "f"), []byte("on disk"), 0644)
	keyfile := filepath.Join(t.TempDir(), "key")
	if _, err := sealfs.GenerateKey(keyfile); err != nil {
		t.Fatal(err)
	}
	vault := t.TempDir()

	tbl, err := loadTable(t, "export=local backend=dir path="+dir+"\n"+
		"export=static backend=static path="+dir+"\n"+
		"export=billy backend=billy\n"+
		"export=vault backend=dir path="+vault+" seal="+keyfile+"\n")
	if err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{"local", "static"} {
		_, fsys, _ := tbl.Exports.Lookup(name)
		if got := readFile(t, fsys, "f"); got != "on disk" {
			t.Errorf("%s: unexpected contents %q", name, got)
		}
	}

	_, fsys, _ := tbl.Exports.Lookup("vault")
	_, _, h, err := fsys.Create(ctx, "", "secret", 0600, ninep.OWRITE, "")
	if err != nil {
		t.Fatal(err)
	}
	h.WriteAt([]byte("plaintext"), 0)
	if err := h.Close(); err != nil {
		t.Fatal(err)
	}
	raw, err := os.ReadFile(filepath.Join(vault, "secret"))
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) == "plaintext" {
		t.Errorf("expected the file to be sealed on disk")
	}
	if got := readFile(t, fsys, "secret"); got != "plaintext" {
		t.Errorf("expected plaintext through the export, got %q", got)
	}

	if _, _, err := tbl.Exports.Lookup("missing"); !errors.Is(err, ninep.ErrNoSuchExport) {
		t.Errorf("expected ErrNoSuchExport without a default, got %v", err)
	}
}

func TestWrapCacheAttribute(t *testing.T) {
	logger := ninep.DiscardLogger()
	tcs := []struct {
		rec    string
		cached bool
		hasErr bool
	}{
		{"export=a", false, false},
		{"export=a cache", true, false},
		{"export=a cache=30s", true, false},
		{"export=a cache=0", true, false},
		{"export=a cache=no", false, false},
	}
	for _, tc := range tcs {
		t.Run(tc.rec, func(t *testing.T) {
			rec, err := ndb.ParseRecord(tc.rec)
			if err != nil {
				t.Fatal(err)
			}
			var base ufs.FileSystem = ufs.NewMem()
			fsys, err := wrap(base, rec, logger)
			if (err != nil) != tc.hasErr {
				t.Fatalf("unexpected error %v", err)
			}
			if cached := fsys != base; cached != tc.cached {
				t.Errorf("expected cached=%v", tc.cached)
			}
		})
	}
}

func TestExportTableSwap(t *testing.T) {
	tbl, err := loadTable(t, "export=old backend=mem default\nexport=kept backend=null\n")
	if err != nil {
		t.Fatal(err)
	}
	next, err := loadTable(t, "export=new backend=mem file=f=x\nexport=kept backend=mem default\n")
	if err != nil {
		t.Fatal(err)
	}
	exports := tbl.Exports
	tbl.Swap(next)

	if names := exports.Names(); len(names) != 2 || names[0] != "kept" || names[1] != "new" {
		t.Errorf("unexpected exports %v", names)
	}
	if _, _, err := exports.Lookup("old"); err == nil {
		t.Errorf("old was not removed")
	}
	name, _, err := exports.Lookup("")
	if err != nil || name != "kept" {
		t.Errorf("expected kept to be the default, got %q %v", name, err)
	}
	if _, fsys, _ := exports.Lookup("new"); readFile(t, fsys, "f") != "x" {
		t.Errorf("expected new's contents")
	}
}
