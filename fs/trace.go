package fs

import (
	"context"
	"io/fs"
	"iter"
	"log/slog"

	"github.com/jeffh/u9p/ninep"
)

// Returns a trace file system the wraps a given file system.
//
// The trace file system simply logs all file system operations are logged to
// the logger. A nil logger disables tracing.
func TraceFs(fsys FileSystem, l *slog.Logger) FileSystem {
	return &traceFileSystem{fsys, l}
}

// traceLog is a helper that logs the result of an operation.
func traceLog(ctx context.Context, l *slog.Logger, op string, err error, attrs ...slog.Attr) {
	if l == nil {
		return
	}
	if err != nil {
		attrs = append(attrs, slog.String("err", err.Error()))
		l.LogAttrs(ctx, slog.LevelError, op, attrs...)
	} else {
		l.LogAttrs(ctx, slog.LevelInfo, op, attrs...)
	}
}

func traceBegin(ctx context.Context, l *slog.Logger, op string, attrs ...slog.Attr) {
	if l != nil {
		l.LogAttrs(ctx, slog.LevelDebug, op+".begin", attrs...)
	}
}

type traceFileHandle struct {
	H      ninep.FileHandle
	Path   string
	Logger *slog.Logger
}

func (h *traceFileHandle) ReadAt(p []byte, offset int64) (int, error) {
	ctx := context.Background()
	attrs := []slog.Attr{slog.String("path", h.Path), slog.Int64("offset", offset)}
	traceBegin(ctx, h.Logger, "FileHandle.ReadAt", attrs...)
	n, err := h.H.ReadAt(p, offset)
	traceLog(ctx, h.Logger, "FileHandle.ReadAt", err, append(attrs, slog.Int("n", n))...)
	return n, err
}

func (h *traceFileHandle) WriteAt(p []byte, offset int64) (int, error) {
	ctx := context.Background()
	attrs := []slog.Attr{slog.String("path", h.Path), slog.Int64("offset", offset)}
	traceBegin(ctx, h.Logger, "FileHandle.WriteAt", attrs...)
	n, err := h.H.WriteAt(p, offset)
	traceLog(ctx, h.Logger, "FileHandle.WriteAt", err, append(attrs, slog.Int("n", n))...)
	return n, err
}

func (h *traceFileHandle) Close() error {
	ctx := context.Background()
	traceBegin(ctx, h.Logger, "FileHandle.Close", slog.String("path", h.Path))
	err := h.H.Close()
	traceLog(ctx, h.Logger, "FileHandle.Close", err, slog.String("path", h.Path))
	return err
}

////////////////////

// A file system that wraps another file system, logging all the operations it receives.
type traceFileSystem struct {
	Fs     FileSystem
	Logger *slog.Logger
}

var (
	_ SymlinkFileSystem = (*traceFileSystem)(nil)
	_ NodeFileSystem    = (*traceFileSystem)(nil)
)

func (f *traceFileSystem) MakeDir(ctx context.Context, path string, mode fs.FileMode) error {
	attrs := []slog.Attr{slog.String("path", path), slog.String("mode", mode.String())}
	traceBegin(ctx, f.Logger, "FS.MakeDir", attrs...)
	err := f.Fs.MakeDir(ctx, path, mode)
	traceLog(ctx, f.Logger, "FS.MakeDir", err, attrs...)
	return err
}

func (f *traceFileSystem) wrap(h ninep.FileHandle, path string) ninep.FileHandle {
	if h == nil || f.Logger == nil {
		return h
	}
	return &traceFileHandle{H: h, Path: path, Logger: f.Logger}
}

func (f *traceFileSystem) CreateFile(ctx context.Context, path string, flag int, mode fs.FileMode) (ninep.FileHandle, error) {
	attrs := []slog.Attr{slog.String("path", path), slog.Int("flag", flag), slog.String("mode", mode.String())}
	traceBegin(ctx, f.Logger, "FS.CreateFile", attrs...)
	h, err := f.Fs.CreateFile(ctx, path, flag, mode)
	traceLog(ctx, f.Logger, "FS.CreateFile", err, attrs...)
	return f.wrap(h, path), err
}

func (f *traceFileSystem) OpenFile(ctx context.Context, path string, flag int) (ninep.FileHandle, error) {
	attrs := []slog.Attr{slog.String("path", path), slog.Int("flag", flag)}
	traceBegin(ctx, f.Logger, "FS.OpenFile", attrs...)
	h, err := f.Fs.OpenFile(ctx, path, flag)
	traceLog(ctx, f.Logger, "FS.OpenFile", err, attrs...)
	return f.wrap(h, path), err
}

func (f *traceFileSystem) ListDir(ctx context.Context, path string) iter.Seq2[fs.FileInfo, error] {
	traceBegin(ctx, f.Logger, "FS.ListDir", slog.String("path", path))
	return func(yield func(fs.FileInfo, error) bool) {
		i := 0
		for info, err := range f.Fs.ListDir(ctx, path) {
			if f.Logger != nil {
				if err != nil {
					f.Logger.Error("FS.ListDir.returnItem", slog.String("path", path), slog.Int("i", i), slog.String("err", err.Error()))
				} else if info != nil {
					f.Logger.Debug("FS.ListDir.returnItem", slog.String("path", path), slog.Int("i", i), slog.String("name", info.Name()))
				}
			}
			if !yield(info, err) {
				return
			}
			i++
		}
		if f.Logger != nil {
			f.Logger.Info("FS.ListDir", slog.String("path", path), slog.Int("n", i))
		}
	}
}

func (f *traceFileSystem) Stat(ctx context.Context, path string) (fs.FileInfo, error) {
	traceBegin(ctx, f.Logger, "FS.Stat", slog.String("path", path))
	info, err := f.Fs.Stat(ctx, path)
	if f.Logger != nil {
		if err != nil {
			f.Logger.Error("FS.Stat", slog.String("path", path), slog.String("err", err.Error()))
		} else {
			f.Logger.Info("FS.Stat", slog.String("path", path), slog.String("name", info.Name()), slog.Int64("size", info.Size()), slog.Bool("isDir", info.IsDir()))
		}
	}
	return info, err
}

func (f *traceFileSystem) WriteStat(ctx context.Context, path string, req FileInfoChangeRequest) error {
	attrs := []slog.Attr{slog.String("path", path), slog.Bool("sync", req.IsEmpty())}
	if req.Name != nil {
		attrs = append(attrs, slog.String("name", *req.Name))
	}
	if req.Length != nil {
		attrs = append(attrs, slog.Int64("length", *req.Length))
	}
	traceBegin(ctx, f.Logger, "FS.WriteStat", attrs...)
	err := f.Fs.WriteStat(ctx, path, req)
	traceLog(ctx, f.Logger, "FS.WriteStat", err, attrs...)
	return err
}

func (f *traceFileSystem) Delete(ctx context.Context, path string) error {
	traceBegin(ctx, f.Logger, "FS.Delete", slog.String("path", path))
	err := f.Fs.Delete(ctx, path)
	traceLog(ctx, f.Logger, "FS.Delete", err, slog.String("path", path))
	return err
}

func (f *traceFileSystem) Symlink(ctx context.Context, target, path string) error {
	attrs := []slog.Attr{slog.String("path", path), slog.String("target", target)}
	traceBegin(ctx, f.Logger, "FS.Symlink", attrs...)
	err := ninep.ErrUnsupported
	if sl, ok := f.Fs.(SymlinkFileSystem); ok {
		err = sl.Symlink(ctx, target, path)
	}
	traceLog(ctx, f.Logger, "FS.Symlink", err, attrs...)
	return err
}

func (f *traceFileSystem) MakeNode(ctx context.Context, path string, mode fs.FileMode, major, minor uint32) error {
	attrs := []slog.Attr{slog.String("path", path), slog.String("mode", mode.String())}
	traceBegin(ctx, f.Logger, "FS.MakeNode", attrs...)
	err := ninep.ErrUnsupported
	if nfs, ok := f.Fs.(NodeFileSystem); ok {
		err = nfs.MakeNode(ctx, path, mode, major, minor)
	}
	traceLog(ctx, f.Logger, "FS.MakeNode", err, attrs...)
	return err
}
