// Package billyfs serves a go-billy filesystem, such as memfs or a bound
// osfs, as a 9p backend.
package billyfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
	ufs "github.com/jeffh/u9p/fs"
	"github.com/jeffh/u9p/ninep"
)

type billyFs struct {
	fs billy.Filesystem
}

var _ ufs.SymlinkFileSystem = (*billyFs)(nil)

// New serves bfs. Mode, owner and time changes are only possible when bfs
// implements billy.Change.
func New(bfs billy.Filesystem) ufs.FileSystem {
	return &billyFs{bfs}
}

// NewMem serves an empty billy memfs.
func NewMem() ufs.FileSystem { return New(memfs.New()) }

// NewOS serves dir through osfs, bound so that paths and symlinks cannot
// leave it.
func NewOS(dir string) ufs.FileSystem {
	return New(osfs.New(dir, osfs.WithBoundOS()))
}

func bpath(path string) string {
	if path == "" {
		return "."
	}
	return filepath.FromSlash(path)
}

type linkInfo struct {
	fs.FileInfo
	name   string
	target string
}

func (i *linkInfo) Name() string      { return i.name }
func (i *linkInfo) Extension() string { return i.target }

func (b *billyFs) info(path string, info fs.FileInfo) fs.FileInfo {
	li := &linkInfo{FileInfo: info, name: info.Name()}
	if path == "" {
		li.name = ""
	}
	if info.Mode()&fs.ModeSymlink != 0 {
		li.target, _ = b.fs.Readlink(bpath(path))
	}
	return li
}

func (b *billyFs) MakeDir(ctx context.Context, path string, mode fs.FileMode) error {
	if _, err := b.fs.Lstat(bpath(path)); err == nil {
		return fmt.Errorf("%w: %s", fs.ErrExist, path)
	}
	return b.fs.MkdirAll(bpath(path), mode.Perm())
}

func (b *billyFs) CreateFile(ctx context.Context, path string, flag int, mode fs.FileMode) (ninep.FileHandle, error) {
	f, err := b.fs.OpenFile(bpath(path), flag|os.O_CREATE, mode.Perm())
	if err != nil {
		return nil, err
	}
	return &fileHandle{f: f}, nil
}

func (b *billyFs) OpenFile(ctx context.Context, path string, flag int) (ninep.FileHandle, error) {
	info, err := b.fs.Lstat(bpath(path))
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, ninep.ErrIsDir
	}
	f, err := b.fs.OpenFile(bpath(path), flag&^(os.O_CREATE|os.O_EXCL), 0)
	if err != nil {
		return nil, err
	}
	return &fileHandle{f: f}, nil
}

func (b *billyFs) Symlink(ctx context.Context, target, path string) error {
	return b.fs.Symlink(target, bpath(path))
}

func (b *billyFs) ListDir(ctx context.Context, path string) iter.Seq2[fs.FileInfo, error] {
	return func(yield func(fs.FileInfo, error) bool) {
		infos, err := b.fs.ReadDir(bpath(path))
		if err != nil {
			yield(nil, err)
			return
		}
		for _, info := range infos {
			if !yield(b.info(ninep.JoinPath(path, info.Name()), info), nil) {
				return
			}
		}
	}
}

func (b *billyFs) Stat(ctx context.Context, path string) (fs.FileInfo, error) {
	info, err := b.fs.Lstat(bpath(path))
	if err != nil {
		return nil, err
	}
	return b.info(path, info), nil
}

func (b *billyFs) WriteStat(ctx context.Context, path string, req ufs.FileInfoChangeRequest) error {
	info, err := b.fs.Lstat(bpath(path))
	if err != nil {
		return err
	}
	change, canChange := b.fs.(billy.Change)
	if !canChange && (req.Mode != nil || req.ModTime != nil || req.AccessTime != nil || req.OwnerID != nil || req.GroupID != nil) {
		return fmt.Errorf("%w: %s cannot change file attributes", ninep.ErrUnsupported, path)
	}
	if req.Owner != nil || req.Group != nil {
		return ninep.ErrChangeUidNotAllowed
	}
	if req.Length != nil && info.IsDir() {
		return ninep.ErrIsDir
	}

	if req.Name != nil && *req.Name != ninep.Basename(path) {
		if path == "" {
			return fmt.Errorf("%w: cannot rename the root", ninep.ErrInvalidAccess)
		}
		newPath := ninep.JoinPath(ninep.Dirname(path), *req.Name)
		if _, err := b.fs.Lstat(bpath(newPath)); err == nil {
			return fmt.Errorf("%w: %s", fs.ErrExist, newPath)
		}
		if err := b.fs.Rename(bpath(path), bpath(newPath)); err != nil {
			return err
		}
		path = newPath
	}
	if canChange {
		if req.Mode != nil {
			if err := change.Chmod(bpath(path), req.Mode.Perm()); err != nil {
				return err
			}
		}
		if req.OwnerID != nil || req.GroupID != nil {
			uid, gid := -1, -1
			if req.OwnerID != nil {
				uid = int(*req.OwnerID)
			}
			if req.GroupID != nil {
				gid = int(*req.GroupID)
			}
			if err := change.Lchown(bpath(path), uid, gid); err != nil {
				return err
			}
		}
		if req.ModTime != nil || req.AccessTime != nil {
			mtime, atime := info.ModTime(), time.Now()
			if req.ModTime != nil {
				mtime = *req.ModTime
			}
			if req.AccessTime != nil {
				atime = *req.AccessTime
			}
			if err := change.Chtimes(bpath(path), atime, mtime); err != nil {
				return err
			}
		}
	}
	if req.Length != nil {
		f, err := b.fs.OpenFile(bpath(path), os.O_WRONLY, 0)
		if err != nil {
			return err
		}
		err = f.Truncate(*req.Length)
		return errors.Join(err, f.Close())
	}
	return nil
}

func (b *billyFs) Delete(ctx context.Context, path string) error {
	if path == "" {
		return fmt.Errorf("%w: cannot delete the root", ninep.ErrInvalidAccess)
	}
	info, err := b.fs.Lstat(bpath(path))
	if err != nil {
		return err
	}
	if info.IsDir() {
		children, err := b.fs.ReadDir(bpath(path))
		if err != nil {
			return err
		}
		if len(children) > 0 {
			return ninep.ErrNotEmpty
		}
	}
	return b.fs.Remove(bpath(path))
}

// Seed copies files into bfs, making parent directories as needed.
func Seed(bfs billy.Filesystem, files map[string]string) error {
	for name, contents := range files {
		if err := util.WriteFile(bfs, filepath.FromSlash(name), []byte(contents), 0644); err != nil {
			return err
		}
	}
	return nil
}

// fileHandle serializes positional writes for billy files that can only
// seek and write.
type fileHandle struct {
	mu sync.Mutex
	f  billy.File
}

func (h *fileHandle) ReadAt(p []byte, off int64) (int, error) {
	return h.f.ReadAt(p, off)
}

func (h *fileHandle) WriteAt(p []byte, off int64) (int, error) {
	if w, ok := h.f.(io.WriterAt); ok {
		return w.WriteAt(p, off)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, err := h.f.Seek(off, io.SeekStart); err != nil {
		return 0, err
	}
	return h.f.Write(p)
}

func (h *fileHandle) Close() error {
	return h.f.Close()
}
