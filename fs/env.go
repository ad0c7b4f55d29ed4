package fs

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/jeffh/u9p/ninep"
)

// Env exposes the environment variables of the server process as files in
// a flat directory. Writes are applied with os.Setenv when the file is
// closed.
func Env() FileSystem {
	return envFs{}
}

type envFs struct{}

var envStart = time.Now()

func envInfo(key, value string) fs.FileInfo {
	return &ninep.SimpleFileInfo{
		FIName:    key,
		FISize:    int64(len(value)),
		FIMode:    0644,
		FIModTime: envStart,
	}
}

func (envFs) lookup(path string) (string, error) {
	if path == "" {
		return "", ninep.ErrIsDir
	}
	if strings.ContainsRune(path, '/') {
		return "", fmt.Errorf("%w: %s", fs.ErrNotExist, path)
	}
	value, ok := os.LookupEnv(path)
	if !ok {
		return "", fmt.Errorf("%w: %s", fs.ErrNotExist, path)
	}
	return value, nil
}

func (envFs) MakeDir(ctx context.Context, path string, mode fs.FileMode) error {
	return ninep.ErrWriteNotAllowed
}

func (d envFs) CreateFile(ctx context.Context, path string, flag int, mode fs.FileMode) (ninep.FileHandle, error) {
	if _, err := d.lookup(path); err == nil {
		if flag&os.O_EXCL != 0 {
			return nil, fmt.Errorf("%w: %s", fs.ErrExist, path)
		}
		return d.OpenFile(ctx, path, flag)
	}
	if strings.ContainsAny(path, "/=") {
		return nil, fmt.Errorf("%w: bad variable name %q", ninep.ErrInvalid, path)
	}
	if err := os.Setenv(path, ""); err != nil {
		return nil, err
	}
	return &envHandle{key: path}, nil
}

func (d envFs) OpenFile(ctx context.Context, path string, flag int) (ninep.FileHandle, error) {
	value, err := d.lookup(path)
	if err != nil {
		return nil, err
	}
	h := &envHandle{key: path, value: []byte(value)}
	if flag&os.O_TRUNC != 0 {
		h.value = nil
		h.dirty = true
	}
	return h, nil
}

func (envFs) ListDir(ctx context.Context, path string) iter.Seq2[fs.FileInfo, error] {
	if path != "" {
		return ninep.FileInfoErrorIterator(ninep.ErrNotDir)
	}
	return func(yield func(fs.FileInfo, error) bool) {
		for _, v := range os.Environ() {
			key, value, _ := strings.Cut(v, "=")
			if key == "" {
				continue
			}
			if !yield(envInfo(key, value), nil) {
				return
			}
		}
	}
}

func (d envFs) Stat(ctx context.Context, path string) (fs.FileInfo, error) {
	if path == "" {
		return &ninep.SimpleFileInfo{FIMode: fs.ModeDir | 0755, FIModTime: envStart}, nil
	}
	value, err := d.lookup(path)
	if err != nil {
		return nil, err
	}
	return envInfo(path, value), nil
}

func (d envFs) WriteStat(ctx context.Context, path string, req FileInfoChangeRequest) error {
	if path == "" {
		if req.IsEmpty() {
			return nil
		}
		return ninep.ErrWriteNotAllowed
	}
	value, err := d.lookup(path)
	if err != nil {
		return err
	}
	if req.Length != nil && *req.Length < int64(len(value)) {
		value = value[:*req.Length]
	}
	key := path
	if req.Name != nil && *req.Name != path {
		if _, exists := os.LookupEnv(*req.Name); exists {
			return fmt.Errorf("%w: %s", fs.ErrExist, *req.Name)
		}
		os.Unsetenv(path)
		key = *req.Name
	}
	return os.Setenv(key, value)
}

func (d envFs) Delete(ctx context.Context, path string) error {
	if _, err := d.lookup(path); err != nil {
		return err
	}
	return os.Unsetenv(path)
}

type envHandle struct {
	m     sync.Mutex
	key   string
	value []byte
	dirty bool
}

func (h *envHandle) ReadAt(p []byte, off int64) (int, error) {
	h.m.Lock()
	defer h.m.Unlock()
	if off >= int64(len(h.value)) {
		return 0, io.EOF
	}
	return copy(p, h.value[off:]), nil
}

func (h *envHandle) WriteAt(p []byte, off int64) (int, error) {
	h.m.Lock()
	defer h.m.Unlock()
	if end := off + int64(len(p)); end > int64(len(h.value)) {
		h.value = append(h.value, make([]byte, end-int64(len(h.value)))...)
	}
	copy(h.value[off:], p)
	h.dirty = true
	return len(p), nil
}

func (h *envHandle) Close() error {
	h.m.Lock()
	defer h.m.Unlock()
	if !h.dirty {
		return nil
	}
	return os.Setenv(h.key, string(h.value))
}
