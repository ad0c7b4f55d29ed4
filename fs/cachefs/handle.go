package cachefs

import (
	"errors"
	"fmt"
	"io"

	"github.com/jeffh/u9p/ninep"
)

const blockSize = 64 * 1024

type blockKey struct {
	path  string
	index int64
}

// handle serves reads out of the block cache. Writes go straight through
// and drop the blocks of the file.
type handle struct {
	fs   *fsys
	h    ninep.FileHandle
	path string
}

func (h *handle) ReadAt(p []byte, off int64) (int, error) {
	n := 0
	for n < len(p) {
		pos := off + int64(n)
		idx := pos / blockSize
		data, err := h.block(idx)
		if err != nil {
			return n, err
		}
		start := pos - idx*blockSize
		if start >= int64(len(data)) {
			return n, io.EOF
		}
		n += copy(p[n:], data[start:])
		if len(data) < blockSize && n < len(p) {
			// a short block is the end of the file
			return n, io.EOF
		}
	}
	return n, nil
}

func (h *handle) block(idx int64) ([]byte, error) {
	f := h.fs
	key := blockKey{h.path, idx}
	if data, ok := f.blocks.Get(key); ok {
		return data, nil
	}
	v, err, shared := f.group.Do(fmt.Sprintf("block:%d:%s", idx, h.path), func() (any, error) {
		gen := f.gen.Load()
		buf := make([]byte, blockSize)
		n, err := readFull(h.h, buf, idx*blockSize)
		if err != nil {
			return nil, err
		}
		data := buf[:n]
		if f.gen.Load() == gen {
			f.blocks.Add(key, data)
		}
		return data, nil
	})
	f.log("CacheFS.handle.block.miss", "path", h.path, "block", idx, "shared", shared, "err", err)
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// readFull fills buf from off, stopping early only at the end of the file.
func readFull(r io.ReaderAt, buf []byte, off int64) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := r.ReadAt(buf[n:], off+int64(n))
		n += m
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		if m == 0 {
			return n, io.ErrNoProgress
		}
	}
	return n, nil
}

func (h *handle) WriteAt(p []byte, off int64) (int, error) {
	n, err := h.h.WriteAt(p, off)
	if n > 0 || err != nil {
		h.fs.fileMetadataChanged(h.path)
	}
	return n, err
}

func (h *handle) Close() error {
	return h.h.Close()
}
