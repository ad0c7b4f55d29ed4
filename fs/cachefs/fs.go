// Package cachefs wraps a slow backend, like sftpfs or s3fs, with LRU caches
// of stats, directory listings and file blocks. Changes made through the
// cache invalidate the entries they touch; changes made behind its back are
// picked up once entries expire.
package cachefs

import (
	"context"
	"fmt"
	"io/fs"
	"iter"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
	ufs "github.com/jeffh/u9p/fs"
	"github.com/jeffh/u9p/ninep"
	"golang.org/x/sync/singleflight"
)

type Option func(f *fsys)

func WithLogger(l *slog.Logger) Option {
	return func(f *fsys) {
		f.logger = l
	}
}

// WithMaxBlocks sets the number of file blocks kept. Blocks are 64KiB.
func WithMaxBlocks(n int) Option {
	return func(f *fsys) {
		f.maxBlocks = n
	}
}

func WithMaxDirsCached(n int) Option {
	return func(f *fsys) {
		f.maxDirSize = n
	}
}

func WithMaxStatCache(n int) Option {
	return func(f *fsys) {
		f.maxStatSize = n
	}
}

// WithTTL sets how long stats and listings are trusted. Zero keeps them
// until they are evicted or invalidated.
func WithTTL(d time.Duration) Option {
	return func(f *fsys) {
		f.ttl = d
	}
}

type fsys struct {
	logger     *slog.Logger
	underlying ufs.FileSystem

	dirCache  *expirable.LRU[string, []fs.FileInfo]
	statCache *expirable.LRU[string, fs.FileInfo]
	blocks    *lru.Cache[blockKey, []byte]
	group     singleflight.Group
	// bumped on every invalidation so fills racing with a change are dropped
	gen atomic.Uint64

	ttl         time.Duration
	maxBlocks   int
	maxDirSize  int
	maxStatSize int
}

var (
	_ ufs.SymlinkFileSystem = (*fsys)(nil)
	_ ufs.NodeFileSystem    = (*fsys)(nil)
)

// New returns slowfs behind a cache.
func New(slowfs ufs.FileSystem, opts ...Option) ufs.FileSystem {
	f := &fsys{
		underlying:  slowfs,
		ttl:         30 * time.Second,
		maxBlocks:   1024,
		maxDirSize:  256,
		maxStatSize: 1024,
	}
	for _, opt := range opts {
		opt(f)
	}

	f.dirCache = expirable.NewLRU[string, []fs.FileInfo](f.maxDirSize, nil, f.ttl)
	f.statCache = expirable.NewLRU[string, fs.FileInfo](f.maxStatSize, nil, f.ttl)
	blocks, err := lru.New[blockKey, []byte](f.maxBlocks)
	if err != nil {
		panic(fmt.Sprintf("failed to create cache: %v", err))
	}
	f.blocks = blocks
	return f
}

func (f *fsys) log(msg string, args ...any) {
	if f.logger != nil {
		f.logger.Debug(msg, args...)
	}
}

// Close closes the underlying file system if it supports it.
func (f *fsys) Close() error {
	f.purge()
	if c, ok := f.underlying.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

func (f *fsys) MakeDir(ctx context.Context, path string, mode fs.FileMode) error {
	defer f.fileMetadataChanged(path)
	return f.underlying.MakeDir(ctx, path, mode)
}

func (f *fsys) CreateFile(ctx context.Context, path string, flag int, mode fs.FileMode) (ninep.FileHandle, error) {
	defer f.fileMetadataChanged(path)
	h, err := f.underlying.CreateFile(ctx, path, flag, mode)
	if err != nil {
		return nil, err
	}
	return &handle{fs: f, h: h, path: path}, nil
}

func (f *fsys) OpenFile(ctx context.Context, path string, flag int) (ninep.FileHandle, error) {
	h, err := f.underlying.OpenFile(ctx, path, flag)
	if err != nil {
		f.fileMetadataChanged(path)
		return nil, err
	}
	info, err := f.Stat(ctx, path)
	if err == nil && info.Mode().Type() != 0 {
		// devices and pipes don't have stable contents
		return h, nil
	}
	if flag&os.O_TRUNC != 0 {
		f.fileMetadataChanged(path)
	}
	return &handle{fs: f, h: h, path: path}, nil
}

func (f *fsys) ListDir(ctx context.Context, path string) iter.Seq2[fs.FileInfo, error] {
	return func(yield func(fs.FileInfo, error) bool) {
		if cached, ok := f.dirCache.Get(path); ok {
			f.log("CacheFS.dirCache.hit", "path", path, "numResults", len(cached))
			for _, info := range cached {
				if !yield(info, nil) {
					return
				}
			}
			return
		}
		v, err, shared := f.group.Do("list:"+path, func() (any, error) {
			gen := f.gen.Load()
			var results []fs.FileInfo
			for info, err := range f.underlying.ListDir(ctx, path) {
				if err != nil {
					return nil, err
				}
				results = append(results, info)
			}
			if f.gen.Load() == gen {
				f.dirCache.Add(path, results)
				for _, info := range results {
					f.statCache.Add(ninep.JoinPath(path, info.Name()), info)
				}
			}
			return results, nil
		})
		f.log("CacheFS.dirCache.miss", "path", path, "shared", shared, "err", err)
		if err != nil {
			yield(nil, err)
			return
		}
		for _, info := range v.([]fs.FileInfo) {
			if !yield(info, nil) {
				return
			}
		}
	}
}

func (f *fsys) Stat(ctx context.Context, path string) (fs.FileInfo, error) {
	if cached, ok := f.statCache.Get(path); ok {
		f.log("CacheFS.statCache.hit", "path", path)
		return cached, nil
	}
	v, err, shared := f.group.Do("stat:"+path, func() (any, error) {
		gen := f.gen.Load()
		info, err := f.underlying.Stat(ctx, path)
		if err == nil && f.gen.Load() == gen {
			f.statCache.Add(path, info)
		}
		return info, err
	})
	f.log("CacheFS.statCache.miss", "path", path, "shared", shared, "err", err)
	if err != nil {
		return nil, err
	}
	return v.(fs.FileInfo), nil
}

func (f *fsys) WriteStat(ctx context.Context, path string, req ufs.FileInfoChangeRequest) error {
	var isDir bool
	if info, err := f.Stat(ctx, path); err == nil {
		isDir = info.IsDir()
	}
	err := f.underlying.WriteStat(ctx, path, req)
	if req.Name != nil && isDir {
		// every cached descendant now has the wrong path
		f.purge()
		return err
	}
	f.fileMetadataChanged(path)
	if req.Name != nil {
		f.fileMetadataChanged(ninep.JoinPath(ninep.Dirname(path), *req.Name))
	}
	return err
}

func (f *fsys) Delete(ctx context.Context, path string) error {
	defer f.fileMetadataChanged(path)
	return f.underlying.Delete(ctx, path)
}

func (f *fsys) Symlink(ctx context.Context, target, path string) error {
	sl, ok := f.underlying.(ufs.SymlinkFileSystem)
	if !ok {
		return fmt.Errorf("%w: symlinks", ninep.ErrUnsupported)
	}
	defer f.fileMetadataChanged(path)
	return sl.Symlink(ctx, target, path)
}

func (f *fsys) MakeNode(ctx context.Context, path string, mode fs.FileMode, major, minor uint32) error {
	nfs, ok := f.underlying.(ufs.NodeFileSystem)
	if !ok {
		return fmt.Errorf("%w: special files", ninep.ErrUnsupported)
	}
	defer f.fileMetadataChanged(path)
	return nfs.MakeNode(ctx, path, mode, major, minor)
}

// fileMetadataChanged drops everything cached about path and the listing of
// its parent.
func (f *fsys) fileMetadataChanged(path string) {
	f.gen.Add(1)
	parent := ninep.Dirname(path)
	f.log("CacheFS.evict", "path", path,
		"dir", f.dirCache.Remove(path),
		"parent", f.dirCache.Remove(parent),
		"stat", f.statCache.Remove(path))
	f.dropBlocks(path)
}

func (f *fsys) dropBlocks(path string) {
	for _, k := range f.blocks.Keys() {
		if k.path == path {
			f.blocks.Remove(k)
		}
	}
}

func (f *fsys) purge() {
	f.gen.Add(1)
	f.dirCache.Purge()
	f.statCache.Purge()
	f.blocks.Purge()
	f.log("CacheFS.purge")
}
