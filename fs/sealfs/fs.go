// Package sealfs keeps file contents encrypted at rest on another backend.
// Names, directories and modes are stored in the clear; only file data is
// sealed, with XChaCha20-Poly1305 under a single master key.
//
// Files are decrypted into memory when opened and sealed again with a fresh
// nonce when a modified handle is closed. Two writers of the same file do
// not see each other's changes and the last one to close wins.
package sealfs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"os"
	"sync"

	ufs "github.com/jeffh/u9p/fs"
	"github.com/jeffh/u9p/ninep"
)

type sealFs struct {
	underlying ufs.FileSystem
	s          *sealer
}

var (
	_ ufs.SymlinkFileSystem = (*sealFs)(nil)
	_ ufs.NodeFileSystem    = (*sealFs)(nil)
)

// New seals every file stored in underlying with key.
func New(underlying ufs.FileSystem, key Key) (ufs.FileSystem, error) {
	s, err := newSealer(key)
	if err != nil {
		return nil, err
	}
	return &sealFs{underlying: underlying, s: s}, nil
}

func (f *sealFs) Close() error {
	if c, ok := f.underlying.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (f *sealFs) MakeDir(ctx context.Context, path string, mode fs.FileMode) error {
	return f.underlying.MakeDir(ctx, path, mode)
}

func (f *sealFs) CreateFile(ctx context.Context, path string, flag int, mode fs.FileMode) (ninep.FileHandle, error) {
	h, err := f.underlying.CreateFile(ctx, path, flag|os.O_TRUNC, mode)
	if err != nil {
		return nil, err
	}
	if err := h.Close(); err != nil {
		return nil, err
	}
	// write a header even if nothing is ever written
	return &handle{fs: f, path: path, flag: flag, dirty: true}, nil
}

func (f *sealFs) OpenFile(ctx context.Context, path string, flag int) (ninep.FileHandle, error) {
	// opening with the caller's flags applies the backend's access checks
	// and truncation
	h, err := f.underlying.OpenFile(ctx, path, flag)
	if err != nil {
		return nil, err
	}
	if err := h.Close(); err != nil {
		return nil, err
	}
	data, err := f.load(ctx, path)
	if err != nil {
		return nil, err
	}
	return &handle{fs: f, path: path, flag: flag, data: data, dirty: flag&os.O_TRUNC != 0}, nil
}

func (f *sealFs) ListDir(ctx context.Context, path string) iter.Seq2[fs.FileInfo, error] {
	return func(yield func(fs.FileInfo, error) bool) {
		for info, err := range f.underlying.ListDir(ctx, path) {
			if err == nil {
				info, err = f.plainInfo(ctx, ninep.JoinPath(path, info.Name()), info)
			}
			if !yield(info, err) {
				return
			}
		}
	}
}

func (f *sealFs) Stat(ctx context.Context, path string) (fs.FileInfo, error) {
	info, err := f.underlying.Stat(ctx, path)
	if err != nil {
		return nil, err
	}
	return f.plainInfo(ctx, path, info)
}

func (f *sealFs) WriteStat(ctx context.Context, path string, req ufs.FileInfoChangeRequest) error {
	if req.Length != nil {
		data, err := f.load(ctx, path)
		if err != nil {
			return err
		}
		size := *req.Length
		if size < 0 {
			return ninep.ErrInvalid
		}
		if size < int64(len(data)) {
			data = data[:size]
		} else {
			data = append(data, make([]byte, size-int64(len(data)))...)
		}
		if err := f.store(ctx, path, data); err != nil {
			return err
		}
		req.Length = nil
		if req.IsEmpty() {
			return nil
		}
	}
	return f.underlying.WriteStat(ctx, path, req)
}

func (f *sealFs) Delete(ctx context.Context, path string) error {
	return f.underlying.Delete(ctx, path)
}

func (f *sealFs) Symlink(ctx context.Context, target, path string) error {
	sl, ok := f.underlying.(ufs.SymlinkFileSystem)
	if !ok {
		return fmt.Errorf("%w: symlinks", ninep.ErrUnsupported)
	}
	return sl.Symlink(ctx, target, path)
}

func (f *sealFs) MakeNode(ctx context.Context, path string, mode fs.FileMode, major, minor uint32) error {
	nfs, ok := f.underlying.(ufs.NodeFileSystem)
	if !ok {
		return fmt.Errorf("%w: special files", ninep.ErrUnsupported)
	}
	return nfs.MakeNode(ctx, path, mode, major, minor)
}

func (f *sealFs) plainInfo(ctx context.Context, path string, info fs.FileInfo) (fs.FileInfo, error) {
	if !info.Mode().IsRegular() || info.Size() == 0 {
		return info, nil
	}
	h, err := f.underlying.OpenFile(ctx, path, os.O_RDONLY)
	if err != nil {
		return nil, err
	}
	defer h.Close()
	hdr := make([]byte, f.s.headerSize())
	n, err := h.ReadAt(hdr, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	size, err := f.s.size(hdr[:n])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &sealedInfo{FileInfo: info, size: size}, nil
}

func (f *sealFs) load(ctx context.Context, path string) ([]byte, error) {
	info, err := f.underlying.Stat(ctx, path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, ninep.ErrIsDir
	}
	h, err := f.underlying.OpenFile(ctx, path, os.O_RDONLY)
	if err != nil {
		return nil, err
	}
	defer h.Close()
	sealed, err := io.ReadAll(io.NewSectionReader(h, 0, info.Size()))
	if err != nil {
		return nil, err
	}
	data, err := f.s.open(sealed)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return data, nil
}

func (f *sealFs) store(ctx context.Context, path string, data []byte) error {
	sealed, err := f.s.seal(data)
	if err != nil {
		return err
	}
	h, err := f.underlying.OpenFile(ctx, path, os.O_WRONLY|os.O_TRUNC)
	if err != nil {
		return err
	}
	_, err = h.WriteAt(sealed, 0)
	return errors.Join(err, h.Close())
}

// sealedInfo reports the plaintext size. Sys returns the stored file's info
// so ids and owners still come from the backend.
type sealedInfo struct {
	fs.FileInfo
	size int64
}

func (i *sealedInfo) Size() int64 { return i.size }
func (i *sealedInfo) Sys() any    { return i.FileInfo }

type handle struct {
	fs   *sealFs
	path string
	flag int

	mu    sync.Mutex
	data  []byte
	dirty bool
}

func (h *handle) ReadAt(p []byte, off int64) (int, error) {
	if h.flag&os.O_WRONLY != 0 {
		return 0, ninep.ErrReadNotAllowed
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if off >= int64(len(h.data)) {
		return 0, io.EOF
	}
	n := copy(p, h.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (h *handle) WriteAt(p []byte, off int64) (int, error) {
	if h.flag&(os.O_WRONLY|os.O_RDWR) == 0 {
		return 0, ninep.ErrWriteNotAllowed
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.flag&os.O_APPEND != 0 {
		off = int64(len(h.data))
	}
	if end := off + int64(len(p)); end > int64(len(h.data)) {
		h.data = append(h.data, make([]byte, end-int64(len(h.data)))...)
	}
	copy(h.data[off:], p)
	h.dirty = true
	return len(p), nil
}

func (h *handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.dirty {
		return nil
	}
	h.dirty = false
	return h.fs.store(context.Background(), h.path, bytes.Clone(h.data))
}
