package fs

import (
	"context"
	"io/fs"
	"iter"
	"time"

	"github.com/jeffh/u9p/ninep"
)

type delayFS struct {
	underlying FileSystem
	delay      time.Duration
}

// NewDelayFS slows every operation of underlying down by delay. Waiting
// stops early when the request is flushed. Useful for exercising Tflush and
// slow clients.
func NewDelayFS(underlying FileSystem, delay time.Duration) FileSystem {
	return &delayFS{underlying, delay}
}

func (d *delayFS) wait(ctx context.Context) error {
	t := time.NewTimer(d.delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (d *delayFS) MakeDir(ctx context.Context, path string, mode fs.FileMode) error {
	if err := d.wait(ctx); err != nil {
		return err
	}
	return d.underlying.MakeDir(ctx, path, mode)
}

func (d *delayFS) CreateFile(ctx context.Context, path string, flag int, mode fs.FileMode) (ninep.FileHandle, error) {
	if err := d.wait(ctx); err != nil {
		return nil, err
	}
	h, err := d.underlying.CreateFile(ctx, path, flag, mode)
	if err != nil {
		return nil, err
	}
	return &delayFileHandle{h, d.delay}, nil
}

func (d *delayFS) OpenFile(ctx context.Context, path string, flag int) (ninep.FileHandle, error) {
	if err := d.wait(ctx); err != nil {
		return nil, err
	}
	h, err := d.underlying.OpenFile(ctx, path, flag)
	if err != nil {
		return nil, err
	}
	return &delayFileHandle{h, d.delay}, nil
}

func (d *delayFS) ListDir(ctx context.Context, path string) iter.Seq2[fs.FileInfo, error] {
	if err := d.wait(ctx); err != nil {
		return ninep.FileInfoErrorIterator(err)
	}
	return d.underlying.ListDir(ctx, path)
}

func (d *delayFS) Stat(ctx context.Context, path string) (fs.FileInfo, error) {
	if err := d.wait(ctx); err != nil {
		return nil, err
	}
	return d.underlying.Stat(ctx, path)
}

func (d *delayFS) WriteStat(ctx context.Context, path string, req FileInfoChangeRequest) error {
	if err := d.wait(ctx); err != nil {
		return err
	}
	return d.underlying.WriteStat(ctx, path, req)
}

func (d *delayFS) Delete(ctx context.Context, path string) error {
	if err := d.wait(ctx); err != nil {
		return err
	}
	return d.underlying.Delete(ctx, path)
}

// handles have no request context, so they always sleep the full delay
type delayFileHandle struct {
	h     ninep.FileHandle
	delay time.Duration
}

func (h *delayFileHandle) ReadAt(p []byte, offset int64) (n int, err error) {
	time.Sleep(h.delay)
	return h.h.ReadAt(p, offset)
}

func (h *delayFileHandle) WriteAt(p []byte, offset int64) (n int, err error) {
	time.Sleep(h.delay)
	return h.h.WriteAt(p, offset)
}

func (h *delayFileHandle) Close() error {
	return h.h.Close()
}
