package ninep

import (
	"context"
	"io"
	"io/fs"
	"iter"
	"time"
)

// Represent an opened file that can be read or written to.
type FileHandle interface {
	io.ReaderAt
	io.WriterAt
	io.Closer
}

// Special file handle used for authentication
type AuthFileHandle interface {
	FileHandle
	// Returns true if the user is authorized to access the export.
	// Called when Tattach refers to this handle's afid.
	Authorized(uname, aname string) bool
}

// Authorizer is consulted on Tauth. Servers without one refuse Tauth.
type Authorizer interface {
	Auth(ctx context.Context, addr, uname, aname string) (AuthFileHandle, error)
}

// fs.FileInfo returned from a FileSystem can implement this if they want to
// utilize modes only available in 9P protocol
type FileInfoMode9P interface{ Mode9P() Mode }

// fs.FileInfo returned from a FileSystem can implement this if they want more
// precisely control the Qid version, which should change every time the file
// changes.
type FileInfoVersion interface{ Version() uint32 }

// fs.FileInfo returned from a FileSystem can implement this to supply a
// stable Qid path. Two files with the same exact filepath can have different
// paths if:
//
// - Create file // Qid with Path A
// - Delete file
// - Create file // Qid with Path B
//
// Similiar to Linux Inodes.
type FileInfoPath interface{ Path() uint64 }

// if this file info supports plan9 usernames for files
type FileInfoUid interface{ Uid() string }

// if this file info supports plan9 group names for files
type FileInfoGid interface{ Gid() string }

// if this file info supports plan9 usernames names for last modified
type FileInfoMuid interface{ Muid() string }

// Numeric ids reported in the 9P2000.u stat. Use NO_UID for unknown values.
type FileInfoNumericIds interface {
	NUid() uint32
	NGid() uint32
	NMuid() uint32
}

// Symlink target or "b|c major minor" device spec for 9P2000.u stats.
type FileInfoExtension interface{ Extension() string }

///////////////////////////////////////////////////////////////

// A FileSystem is what an export serves.
//
// Paths are opaque to the server: it only passes back values the FileSystem
// returned from Walk or Create. The empty string is the root of the export.
//
// Implementations should return errors wrapping fs.ErrNotExist,
// fs.ErrPermission, fs.ErrExist or the sentinels in this package so clients
// receive meaningful errnos.
type FileSystem interface {
	// Walk resolves a single path element under dir. ".." must be
	// supported; the server never sends ".".
	Walk(ctx context.Context, dir, name string) (path string, info fs.FileInfo, err error)
	// Lists stats about a given file or directory.
	Stat(ctx context.Context, path string) (fs.FileInfo, error)
	// Writes stats about a given file or directory. Implementations perform
	// an all-or-nothing write. Callers use NoTouch values to indicate the
	// underlying implementation should not overwrite values.
	//
	// A stat with every value NoTouch is a request to sync the file.
	WriteStat(ctx context.Context, path string, s Stat) error
	// Opens an existing file for reading/writing. Directories are never
	// opened with this method; their reads go through ListDir.
	Open(ctx context.Context, path string, mode OpenMode) (FileHandle, error)
	// Lists directories and files in a given path. Does not include '.' or '..'
	ListDir(ctx context.Context, path string) iter.Seq2[fs.FileInfo, error]
	// Create makes name inside dir. perm carries the 9P2000.u type bits
	// (M_DIR, M_SYMLINK, M_DEVICE, M_NAMEDPIPE, M_SOCKET) and extension
	// their argument. The returned handle is nil for directories and
	// special files.
	Create(ctx context.Context, dir, name string, perm Mode, mode OpenMode, extension string) (path string, info fs.FileInfo, h FileHandle, err error)
	// Deletes a file or directory. Implementations may reject directories
	// that aren't empty.
	Remove(ctx context.Context, path string) error
}

// FileInfoErrorIterator yields a single error.
func FileInfoErrorIterator(err error) iter.Seq2[fs.FileInfo, error] {
	return func(yield func(fs.FileInfo, error) bool) {
		yield(nil, err)
	}
}

// FileInfoSliceIterator yields each info in order.
func FileInfoSliceIterator(infos []fs.FileInfo) iter.Seq2[fs.FileInfo, error] {
	return func(yield func(fs.FileInfo, error) bool) {
		for _, info := range infos {
			if !yield(info, nil) {
				return
			}
		}
	}
}

////////////////////////////////////////////////

// file info helper wrappers
type fileInfoWithName struct {
	fs.FileInfo
	name string
}

func FileInfoWithName(fi fs.FileInfo, name string) fs.FileInfo {
	return &fileInfoWithName{fi, name}
}

func (f *fileInfoWithName) Name() string { return f.name }

// file info unix to plan9 wrappers
type fileInfoWithUsers struct {
	fs.FileInfo
	uid, gid, muid string
}

type FileInfoUsers interface {
	fs.FileInfo
	FileInfoUid
	FileInfoGid
	FileInfoMuid
}

func FileInfoWithUsers(fi fs.FileInfo, uid, gid, muid string) FileInfoUsers {
	return &fileInfoWithUsers{fi, uid, gid, muid}
}

func (f *fileInfoWithUsers) Uid() string  { return f.uid }
func (f *fileInfoWithUsers) Gid() string  { return f.gid }
func (f *fileInfoWithUsers) Muid() string { return f.muid }

/////////////////////////////////////////////////

// Implements a basic, in-memory struct that conforms to fs.FileInfo
type SimpleFileInfo struct {
	FIName    string
	FISize    int64
	FIMode    fs.FileMode
	FIModTime time.Time
	FISys     interface{}
}

func (f *SimpleFileInfo) Name() string       { return f.FIName }
func (f *SimpleFileInfo) Size() int64        { return f.FISize }
func (f *SimpleFileInfo) Mode() fs.FileMode  { return f.FIMode }
func (f *SimpleFileInfo) ModTime() time.Time { return f.FIModTime }
func (f *SimpleFileInfo) IsDir() bool        { return f.FIMode&fs.ModeDir != 0 }
func (f *SimpleFileInfo) Sys() interface{}   { return f.FISys }

////////////////////////////////////////////////

type ReadOnlyMemoryFileHandle struct {
	Contents []byte
}

func (h *ReadOnlyMemoryFileHandle) ReadAt(p []byte, off int64) (n int, err error) {
	if off >= int64(len(h.Contents)) || off < 0 {
		return 0, io.EOF
	}
	return copy(p, h.Contents[off:]), nil
}
func (h *ReadOnlyMemoryFileHandle) WriteAt(p []byte, off int64) (n int, err error) {
	return 0, ErrWriteNotAllowed
}
func (h *ReadOnlyMemoryFileHandle) Close() error { return nil }
