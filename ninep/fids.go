package ninep

import (
	"fmt"
	"strings"
	"sync"
)

// fidState is what a fid is bound to within a session.
type fidState struct {
	export string
	fs     FileSystem
	path   string
	qid    Qid
	uname  string
	nuname uint32

	opened bool
	mode   OpenMode
	h      FileHandle
	iounit uint32

	// set on afids
	auth AuthFileHandle

	busy bool
}

func (f *fidState) key() QidKey { return QidKey{f.export, f.path} }
func (f *fidState) isDir() bool { return f.qid.Type().IsDir() }

func (f *fidState) String() string {
	return fmt.Sprintf("fid{export=%q path=%q qid=%s opened=%v mode=%s}", f.export, f.path, f.qid, f.opened, f.mode)
}

// FidTable holds the fids of one session. Lookups return copies; updates go
// through the table so concurrent requests see consistent bindings.
type FidTable struct {
	m    sync.Mutex
	fids map[Fid]*fidState
}

func NewFidTable() *FidTable {
	return &FidTable{fids: make(map[Fid]*fidState)}
}

func (t *FidTable) Len() int {
	t.m.Lock()
	defer t.m.Unlock()
	return len(t.fids)
}

// Allocate binds fid. It fails with ErrDuplicateFid if fid is in use.
func (t *FidTable) Allocate(fid Fid, st fidState) error {
	if fid == NO_FID {
		return fmt.Errorf("%w: NOFID cannot be bound", ErrInvalid)
	}
	t.m.Lock()
	defer t.m.Unlock()
	if _, ok := t.fids[fid]; ok {
		return ErrDuplicateFid
	}
	st.busy = false
	t.fids[fid] = &st
	return nil
}

func (t *FidTable) Lookup(fid Fid) (fidState, error) {
	t.m.Lock()
	defer t.m.Unlock()
	st, ok := t.fids[fid]
	if !ok {
		return fidState{}, ErrUnknownFid
	}
	return *st, nil
}

// Rebind replaces what an existing fid refers to, as a walk with
// newfid == fid does.
func (t *FidTable) Rebind(fid Fid, st fidState) error {
	t.m.Lock()
	defer t.m.Unlock()
	if _, ok := t.fids[fid]; !ok {
		return ErrUnknownFid
	}
	st.busy = false
	t.fids[fid] = &st
	return nil
}

// Update applies fn to the binding of fid under the table lock.
func (t *FidTable) Update(fid Fid, fn func(st *fidState)) error {
	t.m.Lock()
	defer t.m.Unlock()
	st, ok := t.fids[fid]
	if !ok {
		return ErrUnknownFid
	}
	fn(st)
	return nil
}

// Rename repoints every fid of export bound to oldPath, or to a path below
// it, at newPath.
func (t *FidTable) Rename(export, oldPath, newPath string) {
	t.m.Lock()
	defer t.m.Unlock()
	for _, st := range t.fids {
		if st.export != export {
			continue
		}
		switch {
		case st.path == oldPath:
			st.path = newPath
		case strings.HasPrefix(st.path, oldPath+"/"):
			st.path = newPath + st.path[len(oldPath):]
		}
	}
}

// beginOpen reserves an unopened fid for Topen or Tcreate. Only one of
// those can be in progress per fid.
func (t *FidTable) beginOpen(fid Fid) (fidState, error) {
	t.m.Lock()
	defer t.m.Unlock()
	st, ok := t.fids[fid]
	if !ok {
		return fidState{}, ErrUnknownFid
	}
	if st.opened || st.busy {
		return fidState{}, ErrAlreadyOpen
	}
	st.busy = true
	return *st, nil
}

func (t *FidTable) abortOpen(fid Fid) {
	t.m.Lock()
	if st, ok := t.fids[fid]; ok {
		st.busy = false
	}
	t.m.Unlock()
}

// SetOpenState finishes a beginOpen. If the fid was clunked in the
// meantime ErrUnknownFid is returned and the caller owns h.
func (t *FidTable) SetOpenState(fid Fid, st fidState, mode OpenMode, h FileHandle, iounit uint32) error {
	t.m.Lock()
	defer t.m.Unlock()
	cur, ok := t.fids[fid]
	if !ok || !cur.busy {
		return ErrUnknownFid
	}
	st.opened = true
	st.busy = false
	st.mode = mode
	st.h = h
	st.iounit = iounit
	t.fids[fid] = &st
	return nil
}

// Release unbinds fid and returns its final state so the caller can close
// handles.
func (t *FidTable) Release(fid Fid) (fidState, error) {
	t.m.Lock()
	defer t.m.Unlock()
	st, ok := t.fids[fid]
	if !ok {
		return fidState{}, ErrUnknownFid
	}
	delete(t.fids, fid)
	return *st, nil
}

// ReleaseAll empties the table, returning every binding.
func (t *FidTable) ReleaseAll() []fidState {
	t.m.Lock()
	defer t.m.Unlock()
	res := make([]fidState, 0, len(t.fids))
	for fid, st := range t.fids {
		res = append(res, *st)
		delete(t.fids, fid)
	}
	return res
}
