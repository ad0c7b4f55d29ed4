// 9p File System Implementations.
//
// Backends implement the path based FileSystem interface of this package and
// are served with FS(), which adapts them to the walk based
// ninep.FileSystem the server dispatches to.
package fs

import (
	"context"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"time"

	"github.com/jeffh/u9p/ninep"
)

// FS wraps a FileSystem to provide a ninep.FileSystem interface
// This provides an interface using io/fs when possible.
func FS(f FileSystem) ninep.FileSystem {
	return &fileSystem{underlying: f}
}

// FileInfoChangeRequest is used to change the stat of a file or directory.
// If a value is nil, the caller does not want that part of the stat to be changed.
type FileInfoChangeRequest struct {
	Name             *string // new base name, in the same directory
	Owner            *string
	Group            *string
	OwnerID          *uint32
	GroupID          *uint32
	LastModifiedUser *string
	Mode             *fs.FileMode
	ModTime          *time.Time
	AccessTime       *time.Time
	Length           *int64
}

// IsEmpty reports if the request changes nothing, which 9P uses to ask for
// a sync.
func (r FileInfoChangeRequest) IsEmpty() bool {
	return r == FileInfoChangeRequest{}
}

// FileSystem is a bridging interface to provide a ninep.FileSystem interface.
// This allows implementing using familiar fs types without knowing about the 9p
// protocol. Note that various fs.FileMode values cannot be translated to 9p.
//
// Paths are slash separated, relative and clean. "" is the root.
type FileSystem interface {
	// Creates a directory. Returns an error wrapping fs.ErrExist if
	// something is already at path.
	MakeDir(ctx context.Context, path string, mode fs.FileMode) error
	// Creates a file and opens it for reading/writing. flag uses the os.O_*
	// values; os.O_EXCL must be honored.
	CreateFile(ctx context.Context, path string, flag int, mode fs.FileMode) (ninep.FileHandle, error)
	// Opens an existing file for reading/writing
	OpenFile(ctx context.Context, path string, flag int) (ninep.FileHandle, error)
	// Lists directories and files in a given path. Does not include '.' or '..'
	// Iterations are allowed to return a nil FileInfo if they have an error.
	ListDir(ctx context.Context, path string) iter.Seq2[fs.FileInfo, error]
	// Lists stats about a given file or directory. Must not follow a
	// symlink at path.
	Stat(ctx context.Context, path string) (fs.FileInfo, error)
	// Writes stats about a given file or directory.
	// The req contains all desired changes. If a value is nil, the caller
	// does not want that part of the stat to be changed.
	WriteStat(ctx context.Context, path string, info FileInfoChangeRequest) error
	// Deletes a file or directory. Implementations should reject
	// directories that aren't empty with ninep.ErrNotEmpty.
	Delete(ctx context.Context, path string) error
}

// SymlinkFileSystem is implemented by backends that can create symbolic
// links.
type SymlinkFileSystem interface {
	Symlink(ctx context.Context, target, path string) error
}

// NodeFileSystem is implemented by backends that can create device files,
// named pipes and sockets. mode carries the fs.ModeDevice, fs.ModeCharDevice,
// fs.ModeNamedPipe or fs.ModeSocket bits.
type NodeFileSystem interface {
	MakeNode(ctx context.Context, path string, mode fs.FileMode, major, minor uint32) error
}

type fileSystem struct {
	underlying FileSystem
}

var _ ninep.FileSystem = (*fileSystem)(nil)

func (f *fileSystem) Walk(ctx context.Context, dir, name string) (string, fs.FileInfo, error) {
	p := ninep.JoinPath(dir, name)
	info, err := f.underlying.Stat(ctx, p)
	if err != nil {
		return "", nil, err
	}
	return p, info, nil
}

func (f *fileSystem) Stat(ctx context.Context, path string) (fs.FileInfo, error) {
	return f.underlying.Stat(ctx, path)
}

func (f *fileSystem) WriteStat(ctx context.Context, path string, st ninep.Stat) error {
	return f.underlying.WriteStat(ctx, path, ChangeRequestFromStat(st))
}

func (f *fileSystem) Open(ctx context.Context, path string, mode ninep.OpenMode) (ninep.FileHandle, error) {
	return f.underlying.OpenFile(ctx, path, mode.ToOsFlag())
}

func (f *fileSystem) ListDir(ctx context.Context, path string) iter.Seq2[fs.FileInfo, error] {
	return f.underlying.ListDir(ctx, path)
}

func (f *fileSystem) Create(ctx context.Context, dir, name string, perm ninep.Mode, mode ninep.OpenMode, ext string) (string, fs.FileInfo, ninep.FileHandle, error) {
	p := ninep.JoinPath(dir, name)
	var (
		h   ninep.FileHandle
		err error
	)
	switch {
	case perm.IsDir():
		err = f.underlying.MakeDir(ctx, p, perm.ToFsMode())
	case perm.IsSymlink():
		sl, ok := f.underlying.(SymlinkFileSystem)
		if !ok {
			return "", nil, nil, fmt.Errorf("%w: symlinks", ninep.ErrUnsupported)
		}
		err = sl.Symlink(ctx, ext, p)
	case perm&(ninep.M_DEVICE|ninep.M_NAMEDPIPE|ninep.M_SOCKET) != 0:
		nfs, ok := f.underlying.(NodeFileSystem)
		if !ok {
			return "", nil, nil, fmt.Errorf("%w: special files", ninep.ErrUnsupported)
		}
		fmode := perm.ToFsMode()
		var major, minor uint32
		if perm&ninep.M_DEVICE != 0 {
			var char bool
			char, major, minor, err = ParseDeviceExtension(ext)
			if err != nil {
				return "", nil, nil, err
			}
			if char {
				fmode |= fs.ModeCharDevice
			}
		}
		err = nfs.MakeNode(ctx, p, fmode, major, minor)
	default:
		h, err = f.underlying.CreateFile(ctx, p, perm.ToOsFlag(mode)|os.O_CREATE|os.O_EXCL, perm.ToFsMode())
	}
	if err != nil {
		return "", nil, nil, err
	}
	info, err := f.underlying.Stat(ctx, p)
	if err != nil {
		if h != nil {
			h.Close()
		}
		return "", nil, nil, err
	}
	return p, info, h, nil
}

func (f *fileSystem) Remove(ctx context.Context, path string) error {
	return f.underlying.Delete(ctx, path)
}

// Close closes the underlying FileSystem if it supports it.
func (f *fileSystem) Close() error {
	if c, ok := f.underlying.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

// ChangeRequestFromStat converts the touched fields of a Twstat stat.
func ChangeRequestFromStat(st ninep.Stat) FileInfoChangeRequest {
	req := FileInfoChangeRequest{}
	if !st.NameNoTouch() {
		req.Name = ptr(st.Name())
	}
	if !st.ModeNoTouch() {
		req.Mode = ptr(st.Mode().ToFsMode())
	}
	if !st.GidNoTouch() {
		req.Group = ptr(st.Gid())
	}
	if !st.UidNoTouch() {
		req.Owner = ptr(st.Uid())
	}
	if !st.NUidNoTouch() {
		req.OwnerID = ptr(st.NUid())
	}
	if !st.NGidNoTouch() {
		req.GroupID = ptr(st.NGid())
	}
	if !st.MuidNoTouch() {
		req.LastModifiedUser = ptr(st.Muid())
	}
	if !st.MtimeNoTouch() {
		req.ModTime = ptr(time.Unix(int64(st.Mtime()), 0))
	}
	if !st.AtimeNoTouch() {
		req.AccessTime = ptr(time.Unix(int64(st.Atime()), 0))
	}
	if !st.LengthNoTouch() {
		req.Length = ptr(int64(st.Length()))
	}
	return req
}

// ParseDeviceExtension parses the "b major minor" or "c major minor"
// extension of a device stat.
func ParseDeviceExtension(ext string) (char bool, major, minor uint32, err error) {
	var kind rune
	if _, err = fmt.Sscanf(ext, "%c %d %d", &kind, &major, &minor); err != nil {
		return false, 0, 0, fmt.Errorf("%w: device extension %q", ninep.ErrInvalid, ext)
	}
	switch kind {
	case 'b':
		return false, major, minor, nil
	case 'c':
		return true, major, minor, nil
	}
	return false, 0, 0, fmt.Errorf("%w: device extension %q", ninep.ErrInvalid, ext)
}

// DeviceExtension formats a device for the stat extension field.
func DeviceExtension(char bool, major, minor uint32) string {
	kind := 'b'
	if char {
		kind = 'c'
	}
	return fmt.Sprintf("%c %d %d", kind, major, minor)
}

func ptr[T any](v T) *T { return &v }
