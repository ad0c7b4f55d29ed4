package fs

import (
	"context"
	"errors"
	"io/fs"
	"testing"
	"time"

	"github.com/jeffh/u9p/ninep"
)

func TestParseDeviceExtension(t *testing.T) {
	tcs := []struct {
		ext          string
		char         bool
		major, minor uint32
		ok           bool
	}{
		{"c 1 3", true, 1, 3, true},
		{"b 8 0", false, 8, 0, true},
		{"x 1 2", false, 0, 0, false},
		{"c 1", false, 0, 0, false},
		{"", false, 0, 0, false},
	}
	for _, tc := range tcs {
		t.Run(tc.ext, func(t *testing.T) {
			char, major, minor, err := ParseDeviceExtension(tc.ext)
			if !tc.ok {
				if !errors.Is(err, ninep.ErrInvalid) {
					t.Fatalf("expected ErrInvalid, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %s", err)
			}
			if char != tc.char || major != tc.major || minor != tc.minor {
				t.Errorf("got %v %d %d", char, major, minor)
			}
			if got := DeviceExtension(char, major, minor); got != tc.ext {
				t.Errorf("DeviceExtension: expected %q, got %q", tc.ext, got)
			}
		})
	}
}

func TestChangeRequestFromStat(t *testing.T) {
	if req := ChangeRequestFromStat(ninep.SyncStat()); !req.IsEmpty() {
		t.Errorf("expected a sync stat to change nothing, got %+v", req)
	}

	st := ninep.SyncStatWithName("renamed")
	st.SetMode(0640)
	st.SetMtime(1000)
	st.SetLength(7)
	st.SetNGid(20)
	req := ChangeRequestFromStat(st)
	if req.Name == nil || *req.Name != "renamed" {
		t.Errorf("expected name change, got %v", req.Name)
	}
	if req.Mode == nil || *req.Mode != 0640 {
		t.Errorf("expected mode change, got %v", req.Mode)
	}
	if req.ModTime == nil || !req.ModTime.Equal(time.Unix(1000, 0)) {
		t.Errorf("expected mtime change, got %v", req.ModTime)
	}
	if req.Length == nil || *req.Length != 7 {
		t.Errorf("expected length change, got %v", req.Length)
	}
	if req.GroupID == nil || *req.GroupID != 20 {
		t.Errorf("expected gid change, got %v", req.GroupID)
	}
	if req.OwnerID != nil || req.Owner != nil || req.AccessTime != nil {
		t.Errorf("untouched fields were set: %+v", req)
	}
}

type nodeRecorder struct {
	*Mem
	path         string
	mode         fs.FileMode
	major, minor uint32
}

func (r *nodeRecorder) MakeNode(ctx context.Context, path string, mode fs.FileMode, major, minor uint32) error {
	r.path, r.mode, r.major, r.minor = path, mode, major, minor
	// stand in for the node so the adapter can stat it
	return r.Mem.MakeDir(ctx, path, 0)
}

func TestCreateSpecialFiles(t *testing.T) {
	ctx := context.Background()
	tcs := []struct {
		name   string
		perm   ninep.Mode
		ext    string
		mode   fs.FileMode
		major  uint32
		minor  uint32
		hasErr bool
	}{
		{"tty", ninep.M_DEVICE | 0620, "c 4 1", fs.ModeDevice | fs.ModeCharDevice | 0620, 4, 1, false},
		{"sda", ninep.M_DEVICE | 0660, "b 8 0", fs.ModeDevice | 0660, 8, 0, false},
		{"fifo", ninep.M_NAMEDPIPE | 0600, "", fs.ModeNamedPipe | 0600, 0, 0, false},
		{"sock", ninep.M_SOCKET | 0755, "", fs.ModeSocket | 0755, 0, 0, false},
		{"bad", ninep.M_DEVICE | 0600, "q", 0, 0, 0, true},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			r := &nodeRecorder{Mem: NewMem()}
			p, info, h, err := FS(r).Create(ctx, "", tc.name, tc.perm, ninep.OREAD, tc.ext)
			if tc.hasErr {
				if !errors.Is(err, ninep.ErrInvalid) {
					t.Fatalf("expected ErrInvalid, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("create: %s", err)
			}
			if p != tc.name || info == nil || h != nil {
				t.Errorf("unexpected result %q %v %v", p, info, h)
			}
			if r.path != tc.name || r.mode != tc.mode || r.major != tc.major || r.minor != tc.minor {
				t.Errorf("expected MakeNode(%q, %s, %d, %d), got MakeNode(%q, %s, %d, %d)",
					tc.name, tc.mode, tc.major, tc.minor, r.path, r.mode, r.major, r.minor)
			}
		})
	}
}

func TestCreateExclusive(t *testing.T) {
	ctx := context.Background()
	fsys := FS(NewMemFSWithFiles(map[string]string{"f": "data"}))
	// Tcreate never opens an existing file, even without M_EXCL
	if _, _, _, err := fsys.Create(ctx, "", "f", 0644, ninep.OWRITE|ninep.OTRUNC, ""); !errors.Is(err, fs.ErrExist) {
		t.Fatalf("expected ErrExist, got %v", err)
	}
	h, err := fsys.Open(ctx, "f", ninep.OREAD)
	if err != nil {
		t.Fatal(err)
	}
	if got := readAll(t, h); got != "data" {
		t.Errorf("existing file was modified: %q", got)
	}
}

func TestSub(t *testing.T) {
	ctx := context.Background()
	mem := NewMemFSWithFiles(map[string]string{"top": "", "inner/a": "A", "inner/b/c": "C"})
	fsys := FS(Sub(mem, "inner"))

	if names := listNames(t, fsys, ""); len(names) != 2 {
		t.Errorf("expected a and b, got %v", names)
	}
	p, _, err := fsys.Walk(ctx, "", "..")
	if err != nil || p != "" {
		t.Fatalf("walk .. escaped the sub directory: %q %v", p, err)
	}
	if _, _, err := fsys.Walk(ctx, "", "top"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected the parent to be hidden, got %v", err)
	}
	if err := fsys.Remove(ctx, ""); !errors.Is(err, fs.ErrPermission) {
		t.Errorf("expected removing the root to fail, got %v", err)
	}
	if err := fsys.WriteStat(ctx, "", ninep.SyncStatWithName("other")); !errors.Is(err, fs.ErrPermission) {
		t.Errorf("expected renaming the root to fail, got %v", err)
	}
	if _, _, _, err := fsys.Create(ctx, "b", "d", 0644, ninep.OWRITE, ""); err != nil {
		t.Fatalf("create: %s", err)
	}
	if _, err := mem.Stat(ctx, "inner/b/d"); err != nil {
		t.Errorf("expected the file in the sub directory: %s", err)
	}
}
