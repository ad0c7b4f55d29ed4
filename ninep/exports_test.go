package ninep

import (
	"errors"
	"io/fs"
	"reflect"
	"testing"
)

func TestExports(t *testing.T) {
	foo, bar := newMemSys(), newMemSys()
	e := NewExports()
	if err := e.Add("/foo/", foo); err != nil {
		t.Fatalf("add: %s", err)
	}
	if err := e.Add("bar", bar); err != nil {
		t.Fatalf("add: %s", err)
	}
	if err := e.Add("foo", bar); !errors.Is(err, ErrInvalid) {
		t.Errorf("expected duplicate export to fail, got %v", err)
	}
	if err := e.Add("nil", nil); !errors.Is(err, ErrInvalid) {
		t.Errorf("expected nil export to fail, got %v", err)
	}

	tcs := []struct {
		aname  string
		name   string
		fsys   FileSystem
		exists bool
	}{
		{"foo", "foo", foo, true},
		{"/foo", "foo", foo, true},
		{"bar/", "bar", bar, true},
		{"", "", nil, false},
		{"baz", "", nil, false},
	}
	for _, tc := range tcs {
		name, fsys, err := e.Lookup(tc.aname)
		if !tc.exists {
			if !errors.Is(err, ErrNoSuchExport) || !errors.Is(err, fs.ErrNotExist) {
				t.Errorf("Lookup(%q): expected ErrNoSuchExport, got %v", tc.aname, err)
			}
			continue
		}
		if err != nil || name != tc.name || fsys != tc.fsys {
			t.Errorf("Lookup(%q) => %q, %v; expected %q", tc.aname, name, err, tc.name)
		}
	}

	e.SetDefault("bar")
	if name, fsys, err := e.Lookup("baz"); err != nil || name != "bar" || fsys != bar {
		t.Errorf("expected default export, got %q %v", name, err)
	}
	if !reflect.DeepEqual(e.Names(), []string{"bar", "foo"}) {
		t.Errorf("unexpected names: %v", e.Names())
	}

	e.Remove("bar")
	if _, _, err := e.Lookup("baz"); !errors.Is(err, ErrNoSuchExport) {
		t.Errorf("expected default to be dropped with its export, got %v", err)
	}
}

func TestSingleExport(t *testing.T) {
	fsys := newMemSys()
	e := SingleExport(fsys)
	for _, aname := range []string{"", "anything", "/a/b"} {
		if _, got, err := e.Lookup(aname); err != nil || got != fsys {
			t.Errorf("Lookup(%q) failed: %v", aname, err)
		}
	}
}
