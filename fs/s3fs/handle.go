package s3fs

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jeffh/u9p/ninep"
)

func (f *s3Fs) load(ctx context.Context, p string, size int64) ([]byte, error) {
	if size == 0 {
		return nil, nil
	}
	out, err := f.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(f.key(p)),
	})
	if err != nil {
		return nil, mapError(err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

// readHandle fetches byte ranges on demand.
type readHandle struct {
	fs   *s3Fs
	path string
	size int64
}

func (h *readHandle) ReadAt(p []byte, off int64) (int, error) {
	if off >= h.size {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}
	end := min(off+int64(len(p)), h.size)
	out, err := h.fs.api.GetObject(context.Background(), &s3.GetObjectInput{
		Bucket: aws.String(h.fs.bucket),
		Key:    aws.String(h.fs.key(h.path)),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", off, end-1)),
	})
	if err != nil {
		return 0, mapError(err)
	}
	defer out.Body.Close()
	n, err := io.ReadFull(out.Body, p[:end-off])
	if err == io.ErrUnexpectedEOF {
		err = io.EOF
	}
	if err == nil && n < len(p) {
		err = io.EOF
	}
	return n, err
}

func (h *readHandle) WriteAt(p []byte, off int64) (int, error) {
	return 0, ninep.ErrWriteNotAllowed
}

func (h *readHandle) Close() error { return nil }

// writeHandle holds the whole object and uploads it on close if it changed.
type writeHandle struct {
	fs   *s3Fs
	path string
	flag int

	mu    sync.Mutex
	data  []byte
	dirty bool
}

func (h *writeHandle) ReadAt(p []byte, off int64) (int, error) {
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

func (h *writeHandle) WriteAt(p []byte, off int64) (int, error) {
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

func (h *writeHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.dirty {
		return nil
	}
	h.dirty = false
	return h.fs.put(context.Background(), h.path, h.data, false)
}
