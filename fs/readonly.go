package fs

import (
	"context"
	"fmt"
	"io/fs"
	"iter"
	"os"

	"github.com/jeffh/u9p/ninep"
)

// ReadOnly wraps a FileSystem and returns a read-only version of it.
func ReadOnly(fsys FileSystem) FileSystem {
	return Restrict(fsys, DisallowCreation|DisallowMutation)
}

type Disallow uint64

const (
	DisallowMakeDirectory Disallow = 1 << iota
	DisallowCreateFile
	DisallowOpenFile
	DisallowOpenFileWrite
	DisallowListDir
	DisallowStat
	DisallowWriteStat
	DisallowDelete
	DisallowOpenFileTruncate
	DisallowSpecialFiles

	DisallowCreation = DisallowMakeDirectory | DisallowCreateFile | DisallowSpecialFiles
	DisallowMutation = DisallowWriteStat | DisallowDelete | DisallowOpenFileTruncate | DisallowOpenFileWrite
)

// Restrict returns a new FileSystem that disallows certain operations.
func Restrict(fsys FileSystem, disallow Disallow) FileSystem {
	return &proxyFileSystem{
		Underlying: fsys,
		Disallow:   disallow,
	}
}

// Sub returns a new FileSystem that operates on a subdirectory of the given FileSystem.
func Sub(fsys FileSystem, subdir string) FileSystem {
	return &subFileSystem{
		subdir:     ninep.CleanPath(subdir),
		Underlying: fsys,
	}
}

type proxyFileSystem struct {
	Disallow   Disallow
	Underlying FileSystem
}

var (
	_ SymlinkFileSystem = (*proxyFileSystem)(nil)
	_ NodeFileSystem    = (*proxyFileSystem)(nil)
)

func (f *proxyFileSystem) MakeDir(ctx context.Context, path string, mode fs.FileMode) error {
	if f.Disallow&DisallowMakeDirectory != 0 {
		return ninep.ErrWriteNotAllowed
	}
	return f.Underlying.MakeDir(ctx, path, mode)
}

func (f *proxyFileSystem) CreateFile(ctx context.Context, path string, flag int, mode fs.FileMode) (ninep.FileHandle, error) {
	if f.Disallow&DisallowCreateFile != 0 {
		return nil, ninep.ErrWriteNotAllowed
	}
	return f.Underlying.CreateFile(ctx, path, flag, mode)
}

func (f *proxyFileSystem) OpenFile(ctx context.Context, path string, flag int) (ninep.FileHandle, error) {
	if f.Disallow&DisallowOpenFile != 0 {
		return nil, ninep.ErrInvalidAccess
	}
	if f.Disallow&DisallowOpenFileTruncate != 0 && flag&os.O_TRUNC != 0 {
		return nil, ninep.ErrWriteNotAllowed
	}
	if f.Disallow&DisallowOpenFileWrite != 0 && flag&(os.O_WRONLY|os.O_RDWR) != 0 {
		return nil, ninep.ErrWriteNotAllowed
	}
	return f.Underlying.OpenFile(ctx, path, flag)
}

func (f *proxyFileSystem) ListDir(ctx context.Context, path string) iter.Seq2[fs.FileInfo, error] {
	if f.Disallow&DisallowListDir != 0 {
		return ninep.FileInfoErrorIterator(ninep.ErrReadNotAllowed)
	}
	return f.Underlying.ListDir(ctx, path)
}

func (f *proxyFileSystem) Stat(ctx context.Context, path string) (fs.FileInfo, error) {
	if f.Disallow&DisallowStat != 0 {
		return nil, ninep.ErrReadNotAllowed
	}
	return f.Underlying.Stat(ctx, path)
}

func (f *proxyFileSystem) WriteStat(ctx context.Context, path string, req FileInfoChangeRequest) error {
	// an empty request is a sync, which changes nothing
	if f.Disallow&DisallowWriteStat != 0 && !req.IsEmpty() {
		return ninep.ErrWriteNotAllowed
	}
	return f.Underlying.WriteStat(ctx, path, req)
}

func (f *proxyFileSystem) Delete(ctx context.Context, path string) error {
	if f.Disallow&DisallowDelete != 0 {
		return ninep.ErrWriteNotAllowed
	}
	return f.Underlying.Delete(ctx, path)
}

func (f *proxyFileSystem) Symlink(ctx context.Context, target, path string) error {
	if f.Disallow&DisallowSpecialFiles != 0 {
		return ninep.ErrWriteNotAllowed
	}
	sl, ok := f.Underlying.(SymlinkFileSystem)
	if !ok {
		return fmt.Errorf("%w: symlinks", ninep.ErrUnsupported)
	}
	return sl.Symlink(ctx, target, path)
}

func (f *proxyFileSystem) MakeNode(ctx context.Context, path string, mode fs.FileMode, major, minor uint32) error {
	if f.Disallow&DisallowSpecialFiles != 0 {
		return ninep.ErrWriteNotAllowed
	}
	nfs, ok := f.Underlying.(NodeFileSystem)
	if !ok {
		return fmt.Errorf("%w: special files", ninep.ErrUnsupported)
	}
	return nfs.MakeNode(ctx, path, mode, major, minor)
}

type subFileSystem struct {
	subdir     string
	Underlying FileSystem
}

func (f *subFileSystem) pathFor(path string) string {
	return ninep.JoinPath(f.subdir, ninep.CleanPath(path))
}

func (f *subFileSystem) MakeDir(ctx context.Context, path string, mode fs.FileMode) error {
	return f.Underlying.MakeDir(ctx, f.pathFor(path), mode)
}

func (f *subFileSystem) CreateFile(ctx context.Context, path string, flag int, mode fs.FileMode) (ninep.FileHandle, error) {
	return f.Underlying.CreateFile(ctx, f.pathFor(path), flag, mode)
}

func (f *subFileSystem) OpenFile(ctx context.Context, path string, flag int) (ninep.FileHandle, error) {
	return f.Underlying.OpenFile(ctx, f.pathFor(path), flag)
}

func (f *subFileSystem) ListDir(ctx context.Context, path string) iter.Seq2[fs.FileInfo, error] {
	return f.Underlying.ListDir(ctx, f.pathFor(path))
}

func (f *subFileSystem) Stat(ctx context.Context, path string) (fs.FileInfo, error) {
	return f.Underlying.Stat(ctx, f.pathFor(path))
}

func (f *subFileSystem) WriteStat(ctx context.Context, path string, req FileInfoChangeRequest) error {
	if path == "" && req.Name != nil {
		return fmt.Errorf("%w: cannot rename the root", ninep.ErrInvalidAccess)
	}
	return f.Underlying.WriteStat(ctx, f.pathFor(path), req)
}

func (f *subFileSystem) Delete(ctx context.Context, path string) error {
	if path == "" {
		return fmt.Errorf("%w: cannot delete the root", ninep.ErrInvalidAccess)
	}
	return f.Underlying.Delete(ctx, f.pathFor(path))
}
