package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"

	"github.com/jeffh/u9p/ninep"
)

// WithClose returns fsys with a Close method that closes fsys, if it is an
// io.Closer, and then each closer in order. Backends that own connections
// (ssh, sftp sessions) use it to release them when the server shuts down.
func WithClose(fsys FileSystem, closers ...io.Closer) FileSystem {
	return &closerFs{fsys, closers}
}

type closerFs struct {
	FileSystem
	closers []io.Closer
}

func (c *closerFs) Close() error {
	var errs []error
	if closer, ok := c.FileSystem.(io.Closer); ok {
		errs = append(errs, closer.Close())
	}
	for _, closer := range c.closers {
		errs = append(errs, closer.Close())
	}
	return errors.Join(errs...)
}

func (c *closerFs) Symlink(ctx context.Context, target, path string) error {
	if sl, ok := c.FileSystem.(SymlinkFileSystem); ok {
		return sl.Symlink(ctx, target, path)
	}
	return fmt.Errorf("%w: symlinks", ninep.ErrUnsupported)
}

func (c *closerFs) MakeNode(ctx context.Context, path string, mode fs.FileMode, major, minor uint32) error {
	if nfs, ok := c.FileSystem.(NodeFileSystem); ok {
		return nfs.MakeNode(ctx, path, mode, major, minor)
	}
	return fmt.Errorf("%w: special files", ninep.ErrUnsupported)
}
