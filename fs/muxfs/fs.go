// Package muxfs serves several backends as top level directories of one
// tree. The root is synthetic and can't be changed.
package muxfs

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"io/fs"
	"iter"
	"slices"
	"strings"
	"time"

	ufs "github.com/jeffh/u9p/fs"
	"github.com/jeffh/u9p/ninep"
)

type FS struct {
	names  []string
	mounts map[string]ufs.FileSystem
}

var (
	_ ufs.SymlinkFileSystem = (*FS)(nil)
	_ ufs.NodeFileSystem    = (*FS)(nil)
)

// New mounts each backend at its name. Names may not contain "/".
func New(mounts map[string]ufs.FileSystem) (*FS, error) {
	f := &FS{mounts: make(map[string]ufs.FileSystem, len(mounts))}
	for name, m := range mounts {
		if name == "" || name == "." || name == ".." || strings.Contains(name, "/") {
			return nil, fmt.Errorf("%w: invalid mount name %q", ninep.ErrInvalid, name)
		}
		f.mounts[name] = m
		f.names = append(f.names, name)
	}
	slices.Sort(f.names)
	return f, nil
}

// route splits path into its mount and the path inside of it. A nil
// FileSystem means path is the root.
func (f *FS) route(path string) (ufs.FileSystem, string, error) {
	if path == "" {
		return nil, "", nil
	}
	name, rest, _ := strings.Cut(path, "/")
	m, ok := f.mounts[name]
	if !ok {
		return nil, "", fmt.Errorf("%w: %s", fs.ErrNotExist, path)
	}
	return m, rest, nil
}

func errRoot(op string) error {
	return fmt.Errorf("%w: cannot %s at the top level", ninep.ErrInvalidAccess, op)
}

func (f *FS) Close() error {
	var errs []error
	for _, name := range f.names {
		if c, ok := f.mounts[name].(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}

func (f *FS) MakeDir(ctx context.Context, path string, mode fs.FileMode) error {
	m, p, err := f.route(path)
	if err != nil {
		if !strings.Contains(path, "/") {
			return errRoot("make directories")
		}
		return err
	}
	if m == nil || p == "" {
		return fmt.Errorf("%w: %s", fs.ErrExist, path)
	}
	return m.MakeDir(ctx, p, mode)
}

func (f *FS) CreateFile(ctx context.Context, path string, flag int, mode fs.FileMode) (ninep.FileHandle, error) {
	m, p, err := f.route(path)
	if err != nil {
		if !strings.Contains(path, "/") {
			return nil, errRoot("create files")
		}
		return nil, err
	}
	if m == nil || p == "" {
		return nil, ninep.ErrIsDir
	}
	return m.CreateFile(ctx, p, flag, mode)
}

func (f *FS) OpenFile(ctx context.Context, path string, flag int) (ninep.FileHandle, error) {
	m, p, err := f.route(path)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, ninep.ErrIsDir
	}
	return m.OpenFile(ctx, p, flag)
}

func (f *FS) ListDir(ctx context.Context, path string) iter.Seq2[fs.FileInfo, error] {
	m, p, err := f.route(path)
	if err != nil {
		return ninep.FileInfoErrorIterator(err)
	}
	if m != nil {
		mount, _, _ := strings.Cut(path, "/")
		return func(yield func(fs.FileInfo, error) bool) {
			for info, err := range m.ListDir(ctx, p) {
				if info != nil {
					info = wrap(mount, info, info.Name())
				}
				if !yield(info, err) {
					return
				}
			}
		}
	}
	return func(yield func(fs.FileInfo, error) bool) {
		for _, name := range f.names {
			info, err := f.Stat(ctx, name)
			if !yield(info, err) {
				return
			}
		}
	}
}

func (f *FS) Stat(ctx context.Context, path string) (fs.FileInfo, error) {
	m, p, err := f.route(path)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return &ninep.SimpleFileInfo{FIName: "", FIMode: fs.ModeDir | 0555, FIModTime: time.Time{}}, nil
	}
	info, err := m.Stat(ctx, p)
	if err != nil {
		return nil, err
	}
	mount, _, _ := strings.Cut(path, "/")
	name := info.Name()
	if p == "" {
		name = mount
	}
	return wrap(mount, info, name), nil
}

func (f *FS) WriteStat(ctx context.Context, path string, req ufs.FileInfoChangeRequest) error {
	m, p, err := f.route(path)
	if err != nil {
		return err
	}
	if m == nil || p == "" {
		if req.IsEmpty() {
			return nil
		}
		return errRoot("change mount points")
	}
	return m.WriteStat(ctx, p, req)
}

func (f *FS) Delete(ctx context.Context, path string) error {
	m, p, err := f.route(path)
	if err != nil {
		return err
	}
	if m == nil || p == "" {
		return errRoot("delete mount points")
	}
	return m.Delete(ctx, p)
}

func (f *FS) Symlink(ctx context.Context, target, path string) error {
	if !strings.Contains(path, "/") {
		return errRoot("make symlinks")
	}
	m, p, err := f.route(path)
	if err != nil {
		return err
	}
	sl, ok := m.(ufs.SymlinkFileSystem)
	if !ok {
		return fmt.Errorf("%w: symlinks", ninep.ErrUnsupported)
	}
	return sl.Symlink(ctx, target, p)
}

func (f *FS) MakeNode(ctx context.Context, path string, mode fs.FileMode, major, minor uint32) error {
	if !strings.Contains(path, "/") {
		return errRoot("make special files")
	}
	m, p, err := f.route(path)
	if err != nil {
		return err
	}
	nfs, ok := m.(ufs.NodeFileSystem)
	if !ok {
		return fmt.Errorf("%w: special files", ninep.ErrUnsupported)
	}
	return nfs.MakeNode(ctx, p, mode, major, minor)
}

// renamedInfo hands the optional interfaces of the backend's info through
// Sys.
type renamedInfo struct {
	fs.FileInfo
	name string
}

func (i *renamedInfo) Name() string { return i.name }
func (i *renamedInfo) Sys() any     { return i.FileInfo }

// mountInfo keeps the qid path hints of different mounts apart.
type mountInfo struct {
	renamedInfo
	path uint64
}

func (i *mountInfo) Path() uint64 { return i.path }

func wrap(mount string, info fs.FileInfo, name string) fs.FileInfo {
	var hint uint64
	if p, ok := info.(ninep.FileInfoPath); ok {
		hint = p.Path()
	} else if p, ok := info.Sys().(ninep.FileInfoPath); ok {
		hint = p.Path()
	} else {
		return &renamedInfo{info, name}
	}
	h := fnv.New64a()
	h.Write([]byte(mount))
	h.Write(binary.BigEndian.AppendUint64(nil, hint))
	path := h.Sum64()
	if path == 0 {
		path = 1
	}
	return &mountInfo{renamedInfo{info, name}, path}
}
