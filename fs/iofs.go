package fs

import (
	"context"
	"io"
	"io/fs"
	"iter"
	"os"

	"github.com/jeffh/u9p/ninep"
)

// ReadOnlyFS wraps an fs.FS and returns a read-only version of it for use with ninep.
func ReadOnlyFS(f fs.FS) FileSystem {
	return readOnlyFS{f}
}

type readOnlyFS struct {
	Underlying fs.FS
}

func fsPath(path string) string {
	if path == "" {
		return "."
	}
	return path
}

type fsFileHandle struct {
	handle fs.File
	offset int64
}

func (h *fsFileHandle) ReadAt(p []byte, off int64) (int, error) {
	if r, ok := h.handle.(io.ReaderAt); ok {
		return r.ReadAt(p, off)
	}
	if off != h.offset {
		seeker, ok := h.handle.(io.Seeker)
		if !ok {
			return 0, ninep.ErrSeekNotAllowed
		}
		if _, err := seeker.Seek(off, io.SeekStart); err != nil {
			return 0, err
		}
		h.offset = off
	}
	n, err := h.handle.Read(p)
	h.offset += int64(n)
	return n, err
}

func (h *fsFileHandle) WriteAt(p []byte, off int64) (int, error) {
	return 0, ninep.ErrWriteNotAllowed
}

func (h *fsFileHandle) Close() error {
	return h.handle.Close()
}

func (r readOnlyFS) MakeDir(ctx context.Context, path string, mode fs.FileMode) error {
	return ninep.ErrWriteNotAllowed
}

func (r readOnlyFS) CreateFile(ctx context.Context, path string, flag int, mode fs.FileMode) (ninep.FileHandle, error) {
	return nil, ninep.ErrWriteNotAllowed
}

func (r readOnlyFS) OpenFile(ctx context.Context, path string, flag int) (ninep.FileHandle, error) {
	if flag&(os.O_WRONLY|os.O_RDWR|os.O_TRUNC) != 0 {
		return nil, ninep.ErrWriteNotAllowed
	}
	h, err := r.Underlying.Open(fsPath(path))
	if err != nil {
		return nil, err
	}
	return &fsFileHandle{handle: h}, nil
}

func (r readOnlyFS) ListDir(ctx context.Context, path string) iter.Seq2[fs.FileInfo, error] {
	return func(yield func(fs.FileInfo, error) bool) {
		entries, err := fs.ReadDir(r.Underlying, fsPath(path))
		if err != nil {
			yield(nil, err)
			return
		}
		for _, entry := range entries {
			info, err := entry.Info()
			if !yield(info, err) {
				return
			}
		}
	}
}

func (r readOnlyFS) Stat(ctx context.Context, path string) (fs.FileInfo, error) {
	info, err := fs.Stat(r.Underlying, fsPath(path))
	if err == nil && path == "" {
		info = ninep.FileInfoWithName(info, "")
	}
	return info, err
}

func (r readOnlyFS) WriteStat(ctx context.Context, path string, req FileInfoChangeRequest) error {
	if req.IsEmpty() {
		return nil
	}
	return ninep.ErrWriteNotAllowed
}

func (r readOnlyFS) Delete(ctx context.Context, path string) error { return ninep.ErrWriteNotAllowed }
