//go:build unix

package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"time"

	"github.com/jeffh/u9p/ninep"
	"golang.org/x/sys/unix"
)

////////////////////////////////////////////////

// Dir implements a basic file system to the local file system with a given
// root dir. Lookups go through an os.Root, so neither ".." nor symlinks can
// reach outside of it.
type Dir struct {
	path string
	root *os.Root
	ids  idCache
}

var (
	_ FileSystem        = (*Dir)(nil)
	_ SymlinkFileSystem = (*Dir)(nil)
	_ NodeFileSystem    = (*Dir)(nil)
)

// NewDir opens root for serving.
func NewDir(root string) (*Dir, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	r, err := os.OpenRoot(abs)
	if err != nil {
		return nil, err
	}
	return &Dir{path: abs, root: r}, nil
}

func (d *Dir) Close() error { return d.root.Close() }

// rel converts a clean slash path into one relative to the root.
func (d *Dir) rel(path string) string {
	if path == "" {
		return "."
	}
	return filepath.FromSlash(path)
}

func (d *Dir) full(path string) string {
	return filepath.Join(d.path, filepath.FromSlash(path))
}

// MakeDir creates a local directory as subdirectory of the root directory of Dir
func (d *Dir) MakeDir(ctx context.Context, path string, mode fs.FileMode) error {
	return d.root.Mkdir(d.rel(path), mode.Perm())
}

// CreateFile creates a new file as a descendent of the root directory of Dir
func (d *Dir) CreateFile(ctx context.Context, path string, flag int, mode fs.FileMode) (ninep.FileHandle, error) {
	// positional writes are not allowed on O_APPEND files
	return d.root.OpenFile(d.rel(path), (flag|os.O_CREATE)&^os.O_APPEND, mode.Perm())
}

// OpenFile opens an existing file that is a descendent of the root directory of Dir for reading/writing
func (d *Dir) OpenFile(ctx context.Context, path string, flag int) (ninep.FileHandle, error) {
	f, err := d.root.OpenFile(d.rel(path), flag&^(os.O_CREATE|os.O_APPEND), 0)
	if err != nil {
		return nil, err
	}
	if info, err := f.Stat(); err == nil && info.IsDir() {
		f.Close()
		return nil, ninep.ErrIsDir
	}
	return f, nil
}

func (d *Dir) Symlink(ctx context.Context, target, path string) error {
	if err := d.checkParent(path); err != nil {
		return err
	}
	return wrapPathErr("symlink", path, unix.Symlink(target, d.full(path)))
}

func (d *Dir) MakeNode(ctx context.Context, path string, mode fs.FileMode, major, minor uint32) error {
	if err := d.checkParent(path); err != nil {
		return err
	}
	perm := uint32(mode.Perm())
	var err error
	switch {
	case mode&fs.ModeNamedPipe != 0:
		err = unix.Mkfifo(d.full(path), perm)
	case mode&fs.ModeSocket != 0:
		err = unix.Mknod(d.full(path), unix.S_IFSOCK|perm, 0)
	case mode&fs.ModeCharDevice != 0:
		err = unix.Mknod(d.full(path), unix.S_IFCHR|perm, int(unix.Mkdev(major, minor)))
	case mode&fs.ModeDevice != 0:
		err = unix.Mknod(d.full(path), unix.S_IFBLK|perm, int(unix.Mkdev(major, minor)))
	default:
		return fmt.Errorf("%w: node type %s", ninep.ErrUnsupported, mode.Type())
	}
	return wrapPathErr("mknod", path, err)
}

// checkParent makes sure the directory path is created in resolves inside
// the root before a raw path syscall is made.
func (d *Dir) checkParent(path string) error {
	info, err := d.root.Stat(d.rel(ninep.Dirname(path)))
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return ninep.ErrNotDir
	}
	return nil
}

// ListDir lists all files and directories in a given subdirectory
func (d *Dir) ListDir(ctx context.Context, path string) iter.Seq2[fs.FileInfo, error] {
	return func(yield func(fs.FileInfo, error) bool) {
		f, err := d.root.Open(d.rel(path))
		if err != nil {
			yield(nil, err)
			return
		}
		defer f.Close()
		for {
			entries, err := f.ReadDir(64)
			for _, entry := range entries {
				info, err := d.Stat(ctx, ninep.JoinPath(path, entry.Name()))
				if errors.Is(err, fs.ErrNotExist) {
					// removed while listing
					continue
				}
				if !yield(info, err) {
					return
				}
			}
			if err == io.EOF {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}
		}
	}
}

// Stat returns information about a given file or directory
func (d *Dir) Stat(ctx context.Context, path string) (fs.FileInfo, error) {
	info, err := d.root.Lstat(d.rel(path))
	if err != nil {
		return nil, err
	}
	var st unix.Stat_t
	if err := unix.Lstat(d.full(path), &st); err != nil {
		return nil, wrapPathErr("lstat", path, err)
	}
	di := &dirInfo{
		FileInfo: info,
		name:     info.Name(),
		uid:      d.ids.Username(int(st.Uid)),
		gid:      d.ids.Groupname(int(st.Gid)),
		nuid:     st.Uid,
		ngid:     st.Gid,
		ino:      uint64(st.Ino),
	}
	if path == "" {
		di.name = ""
	}
	mode := info.Mode()
	switch {
	case mode&fs.ModeSymlink != 0:
		buf := make([]byte, 4096)
		n, err := unix.Readlink(d.full(path), buf)
		if err != nil {
			return nil, wrapPathErr("readlink", path, err)
		}
		di.ext = string(buf[:n])
	case mode&fs.ModeDevice != 0:
		dev := uint64(st.Rdev)
		di.ext = DeviceExtension(mode&fs.ModeCharDevice != 0, unix.Major(dev), unix.Minor(dev))
	}
	return di, nil
}

// WriteStat updates file or directory metadata. Changes already applied are
// rolled back when a later one fails.
func (d *Dir) WriteStat(ctx context.Context, path string, req FileInfoChangeRequest) (err error) {
	info, err := d.Stat(ctx, path)
	if err != nil {
		return err
	}
	old := info.(*dirInfo)
	fullPath := d.full(path)

	if req.Name != nil && *req.Name != ninep.Basename(path) {
		if path == "" {
			return fmt.Errorf("%w: cannot rename the root", ninep.ErrInvalidAccess)
		}
		newRel := ninep.JoinPath(ninep.Dirname(path), *req.Name)
		if _, err := d.root.Lstat(d.rel(newRel)); err == nil {
			return fmt.Errorf("%w: %s", fs.ErrExist, newRel)
		}
		newPath := d.full(newRel)
		if err = unix.Rename(fullPath, newPath); err != nil {
			return wrapPathErr("rename", path, err)
		}
		oldPath := fullPath
		defer func() {
			if err != nil {
				unix.Rename(newPath, oldPath)
			}
		}()
		fullPath = newPath
	}

	if req.Mode != nil && old.Mode()&fs.ModeSymlink == 0 {
		if err = unix.Chmod(fullPath, uint32(req.Mode.Perm())); err != nil {
			return wrapPathErr("chmod", path, err)
		}
		defer func() {
			if err != nil {
				unix.Chmod(fullPath, uint32(old.Mode().Perm()))
			}
		}()
	}

	uid, gid := -1, -1
	if req.OwnerID != nil {
		uid = int(*req.OwnerID)
	} else if req.Owner != nil && *req.Owner != old.uid {
		if uid, err = lookupUid(*req.Owner); err != nil {
			return err
		}
	}
	if req.GroupID != nil {
		gid = int(*req.GroupID)
	} else if req.Group != nil && *req.Group != old.gid {
		if gid, err = lookupGid(*req.Group); err != nil {
			return err
		}
	}
	if uid != -1 || gid != -1 {
		if err = unix.Lchown(fullPath, uid, gid); err != nil {
			return wrapPathErr("chown", path, err)
		}
		defer func() {
			if err != nil {
				unix.Lchown(fullPath, int(old.nuid), int(old.ngid))
			}
		}()
	}

	if req.ModTime != nil || req.AccessTime != nil {
		ts := []unix.Timespec{omitTime(req.AccessTime), omitTime(req.ModTime)}
		if err = unix.UtimesNanoAt(unix.AT_FDCWD, fullPath, ts, unix.AT_SYMLINK_NOFOLLOW); err != nil {
			return wrapPathErr("utimes", path, err)
		}
	}

	// this should be last since it's really hard to undo this
	if req.Length != nil {
		if old.IsDir() {
			return ninep.ErrIsDir
		}
		if err = unix.Truncate(fullPath, *req.Length); err != nil {
			return wrapPathErr("truncate", path, err)
		}
	}
	return nil
}

// Delete a file or directory. Deleting the root directory will be an error.
func (d *Dir) Delete(ctx context.Context, path string) error {
	if path == "" {
		return fmt.Errorf("%w: cannot delete the root", ninep.ErrInvalidAccess)
	}
	return d.root.Remove(d.rel(path))
}

func omitTime(t *time.Time) unix.Timespec {
	if t == nil {
		return unix.Timespec{Nsec: unix.UTIME_OMIT}
	}
	return unix.NsecToTimespec(t.UnixNano())
}

func lookupUid(name string) (int, error) {
	usr, err := user.Lookup(name)
	if err != nil {
		return 0, fmt.Errorf("%w: unknown user %q", ninep.ErrInvalid, name)
	}
	return strconv.Atoi(usr.Uid)
}

func lookupGid(name string) (int, error) {
	grp, err := user.LookupGroup(name)
	if err != nil {
		return 0, fmt.Errorf("%w: unknown group %q", ninep.ErrInvalid, name)
	}
	return strconv.Atoi(grp.Gid)
}

func wrapPathErr(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &fs.PathError{Op: op, Path: path, Err: err}
}

type dirInfo struct {
	fs.FileInfo
	name       string
	uid, gid   string
	nuid, ngid uint32
	ino        uint64
	ext        string
}

func (i *dirInfo) Name() string      { return i.name }
func (i *dirInfo) Uid() string       { return i.uid }
func (i *dirInfo) Gid() string       { return i.gid }
func (i *dirInfo) Muid() string      { return i.uid }
func (i *dirInfo) NUid() uint32      { return i.nuid }
func (i *dirInfo) NGid() uint32      { return i.ngid }
func (i *dirInfo) NMuid() uint32     { return i.nuid }
func (i *dirInfo) Path() uint64      { return i.ino }
func (i *dirInfo) Extension() string { return i.ext }
