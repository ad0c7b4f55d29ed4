package fs

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"time"

	"github.com/jeffh/u9p/ninep"
)

// Null is a static file system of zero filled files:
//
//	zero    reads are always full of zeros, writes are discarded
//	1gig    10^9 zero bytes
//	10gig   10^10 zero bytes
//	100gig  10^11 zero bytes
//
// It's useful for measuring the throughput of the server and its clients.
type Null struct{}

var _ FileSystem = Null{}

type nullFile struct {
	name string
	id   uint64
	size int64 // -1 for an endless file
}

var nullFiles = []nullFile{
	{"zero", 2, -1},
	{"1gig", 3, 1_000_000_000},
	{"10gig", 4, 10_000_000_000},
	{"100gig", 5, 100_000_000_000},
}

var nullEpoch = time.Unix(0, 0)

type nullInfo struct {
	name string
	id   uint64
	size int64
	mode fs.FileMode
}

func (i *nullInfo) Name() string       { return i.name }
func (i *nullInfo) Size() int64        { return i.size }
func (i *nullInfo) Mode() fs.FileMode  { return i.mode }
func (i *nullInfo) ModTime() time.Time { return nullEpoch }
func (i *nullInfo) IsDir() bool        { return i.mode.IsDir() }
func (i *nullInfo) Sys() interface{}   { return nil }
func (i *nullInfo) Path() uint64       { return i.id }
func (i *nullInfo) NUid() uint32       { return 0 }
func (i *nullInfo) NGid() uint32       { return 0 }
func (i *nullInfo) NMuid() uint32      { return 0 }

func (f nullFile) info() *nullInfo {
	return &nullInfo{name: f.name, id: f.id, size: max(f.size, 0), mode: 0666}
}

func lookupNull(path string) (nullFile, error) {
	for _, f := range nullFiles {
		if f.name == path {
			return f, nil
		}
	}
	return nullFile{}, fmt.Errorf("%w: %s", fs.ErrNotExist, path)
}

func (Null) MakeDir(ctx context.Context, path string, mode fs.FileMode) error {
	return ninep.ErrWriteNotAllowed
}

func (Null) CreateFile(ctx context.Context, path string, flag int, mode fs.FileMode) (ninep.FileHandle, error) {
	return nil, ninep.ErrWriteNotAllowed
}

func (Null) OpenFile(ctx context.Context, path string, flag int) (ninep.FileHandle, error) {
	if path == "" {
		return nil, ninep.ErrIsDir
	}
	f, err := lookupNull(path)
	if err != nil {
		return nil, err
	}
	return &nullHandle{size: f.size}, nil
}

func (Null) ListDir(ctx context.Context, path string) iter.Seq2[fs.FileInfo, error] {
	if path != "" {
		if _, err := lookupNull(path); err != nil {
			return ninep.FileInfoErrorIterator(err)
		}
		return ninep.FileInfoErrorIterator(ninep.ErrNotDir)
	}
	return func(yield func(fs.FileInfo, error) bool) {
		for _, f := range nullFiles {
			if !yield(f.info(), nil) {
				return
			}
		}
	}
}

func (Null) Stat(ctx context.Context, path string) (fs.FileInfo, error) {
	if path == "" {
		return &nullInfo{id: 1, mode: fs.ModeDir | 0777}, nil
	}
	f, err := lookupNull(path)
	if err != nil {
		return nil, err
	}
	return f.info(), nil
}

// WriteStat accepts and ignores every change.
func (Null) WriteStat(ctx context.Context, path string, req FileInfoChangeRequest) error {
	_, err := Null{}.Stat(ctx, path)
	return err
}

func (Null) Delete(ctx context.Context, path string) error {
	return ninep.ErrWriteNotAllowed
}

type nullHandle struct {
	size int64
}

func (h *nullHandle) ReadAt(p []byte, off int64) (int, error) {
	n := int64(len(p))
	if h.size >= 0 {
		if off >= h.size {
			return 0, io.EOF
		}
		n = min(n, h.size-off)
	}
	clear(p[:n])
	return int(n), nil
}

func (h *nullHandle) WriteAt(p []byte, off int64) (int, error) {
	if h.size >= 0 {
		return 0, ninep.ErrWriteNotAllowed
	}
	return len(p), nil
}

func (h *nullHandle) Close() error { return nil }
