package ninep

import (
	"io"
	"io/fs"
	"iter"
	"sync"
)

func fileInfoOwners(v any) (uid, gid, muid string, ok bool) {
	u, ok := v.(FileInfoUid)
	if !ok {
		return
	}
	uid = u.Uid()
	muid = uid
	if g, ok := v.(FileInfoGid); ok {
		gid = g.Gid()
	}
	if m, ok := v.(FileInfoMuid); ok {
		muid = m.Muid()
	}
	return uid, gid, muid, true
}

// fileInfoToStat builds a 9P2000.u stat for info. The fs.FileInfo, or its
// Sys() value, may implement the FileInfo* interfaces in this package to
// supply owners, numeric ids and the extension field.
func fileInfoToStat(qid Qid, info fs.FileInfo) Stat {
	uid, gid, muid, ok := fileInfoOwners(info)
	if !ok {
		uid, gid, muid, _ = fileInfoOwners(info.Sys())
	}

	name := info.Name()
	if name == "" {
		name = "/"
	}

	var ext string
	if e, ok := info.(FileInfoExtension); ok {
		ext = e.Extension()
	} else if e, ok := info.Sys().(FileInfoExtension); ok {
		ext = e.Extension()
	}

	s := NewStat(name, uid, gid, muid, ext)
	s.SetQid(qid)
	s.SetMode(ModeFromFileInfo(info))
	mtime := uint32(info.ModTime().Unix())
	s.SetAtime(mtime)
	s.SetMtime(mtime)
	if info.IsDir() {
		s.SetLength(0)
	} else {
		s.SetLength(uint64(info.Size()))
	}

	var ids FileInfoNumericIds
	if v, ok := info.(FileInfoNumericIds); ok {
		ids = v
	} else if v, ok := info.Sys().(FileInfoNumericIds); ok {
		ids = v
	}
	if ids != nil {
		s.SetNUid(ids.NUid())
		s.SetNGid(ids.NGid())
		s.SetNMuid(ids.NMuid())
	}
	return s
}

////////////////////////////////////////////////

// directoryHandle serves Tread on an opened directory. Reads return whole
// stat entries and must start at 0 or where the previous read ended.
type directoryHandle struct {
	m      sync.Mutex
	list   func() iter.Seq2[fs.FileInfo, error]
	qidFor func(info fs.FileInfo) Qid

	offset  uint64
	next    func() (fs.FileInfo, error, bool)
	stop    func()
	pending Stat
}

func newDirectoryHandle(list func() iter.Seq2[fs.FileInfo, error], qidFor func(fs.FileInfo) Qid) *directoryHandle {
	return &directoryHandle{list: list, qidFor: qidFor}
}

func (h *directoryHandle) reset() {
	if h.stop != nil {
		h.stop()
	}
	h.next, h.stop = iter.Pull2(h.list())
	h.offset = 0
	h.pending = nil
}

// read fills p with as many whole stat entries as fit, starting at offset.
func (h *directoryHandle) read(p []byte, offset uint64) (int, error) {
	h.m.Lock()
	defer h.m.Unlock()
	if offset == 0 {
		h.reset()
	} else if h.next == nil || offset != h.offset {
		return 0, ErrSeekNotAllowed
	}

	n := 0
	for {
		if h.pending == nil {
			info, err, ok := h.next()
			if !ok {
				break
			}
			if err != nil {
				if n > 0 {
					// surface the error on the next read
					h.next = errorPull(err)
					break
				}
				return 0, err
			}
			if info == nil {
				continue
			}
			h.pending = fileInfoToStat(h.qidFor(info), info)
		}
		size := h.pending.Nbytes()
		if len(p)-n < size {
			if n == 0 {
				return 0, ErrInvalid
			}
			break
		}
		n += copy(p[n:], h.pending.Bytes())
		h.pending = nil
	}
	h.offset += uint64(n)
	return n, nil
}

func errorPull(err error) func() (fs.FileInfo, error, bool) {
	done := false
	return func() (fs.FileInfo, error, bool) {
		if done {
			return nil, nil, false
		}
		done = true
		return nil, err, true
	}
}

func (h *directoryHandle) ReadAt(p []byte, off int64) (int, error) {
	n, err := h.read(p, uint64(off))
	if n == 0 && err == nil {
		return 0, io.EOF
	}
	return n, err
}

func (h *directoryHandle) WriteAt(p []byte, off int64) (int, error) {
	return 0, ErrIsDir
}

func (h *directoryHandle) Close() error {
	h.m.Lock()
	defer h.m.Unlock()
	if h.stop != nil {
		h.stop()
		h.stop = nil
	}
	h.next = nil
	h.pending = nil
	return nil
}
