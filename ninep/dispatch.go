package ninep

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"log/slog"
	"math"
)

var (
	errAlreadyNegotiated = &Error{Ename: "EALREADY", Errno: EALREADY}
	errAuthNotSupported  = &Error{Ename: "ECONNREFUSED", Errno: ECONNREFUSED}
)

// dispatch runs one request against the fid table and the backend. The
// returned error becomes an Rerror unless it is a *ProtocolError.
func (s *session) dispatch(ctx context.Context, m Message) (Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch m := m.(type) {
	case Tversion:
		return nil, errAlreadyNegotiated
	case Tauth:
		return s.tauth(ctx, m)
	case Tattach:
		return s.tattach(ctx, m)
	case Tflush:
		if err := s.tags.Flush(ctx, m.Tag(), m.OldTag()); err != nil {
			return nil, err
		}
		return NewRflush(m.Tag()), nil
	case Twalk:
		return s.twalk(ctx, m)
	case Topen:
		return s.topen(ctx, m)
	case Tcreate:
		return s.tcreate(ctx, m)
	case Tread:
		return s.tread(ctx, m)
	case Twrite:
		return s.twrite(ctx, m)
	case Tclunk:
		return s.tclunk(ctx, m)
	case Tremove:
		return s.tremove(ctx, m)
	case Tstat:
		return s.tstat(ctx, m)
	case Twstat:
		return s.twstat(ctx, m)
	}
	return nil, fmt.Errorf("%w: %s", ErrNotImplemented, m.Type())
}

func (s *session) iounit() uint32 { return s.msize - IOHDRSZ }

// qidFor returns the server wide qid of path in export.
func (s *session) qidFor(export, path string, info fs.FileInfo) Qid {
	var hint uint64
	if p, ok := info.(FileInfoPath); ok {
		hint = p.Path()
	} else if p, ok := info.Sys().(FileInfoPath); ok {
		hint = p.Path()
	}
	q := s.srv.Qids.Put(QidKey{export, path}, ModeFromFileInfo(info).QidType(), hint)
	if v, ok := info.(FileInfoVersion); ok {
		q.SetVersion(v.Version())
	} else if v, ok := info.Sys().(FileInfoVersion); ok {
		q.SetVersion(v.Version())
	}
	return q
}

func (s *session) openDir(st fidState) *directoryHandle {
	// Listing outlives the Topen request, so it is bound to the session.
	return newDirectoryHandle(
		func() iter.Seq2[fs.FileInfo, error] { return st.fs.ListDir(s.ctx, st.path) },
		func(info fs.FileInfo) Qid { return s.qidFor(st.export, JoinPath(st.path, info.Name()), info) },
	)
}

func duplicateFid(m Message, fid Fid) error {
	return &ProtocolError{Msg: m, Err: fmt.Errorf("%w: %s", ErrDuplicateFid, fid)}
}

////////////////////////////////////////////////

func (s *session) tauth(ctx context.Context, m Tauth) (Message, error) {
	authz := s.srv.Authorizer
	if authz == nil {
		return nil, errAuthNotSupported
	}
	afid := m.Afid()
	if afid == NO_FID {
		return nil, fmt.Errorf("%w: afid cannot be NOFID", ErrInvalid)
	}
	if _, err := s.fids.Lookup(afid); err == nil {
		return nil, duplicateFid(m, afid)
	}
	export, fsys, err := s.srv.Exports.Lookup(m.Aname())
	if err != nil {
		return nil, err
	}
	h, err := authz.Auth(ctx, s.remote, m.Uname(), m.Aname())
	if err != nil {
		return nil, err
	}
	if h == nil {
		return nil, fmt.Errorf("%w: authentication not required", ErrInvalid)
	}
	qid := NewQid().Fill(QT_AUTH, 0, 0)
	err = s.fids.Allocate(afid, fidState{
		export: export,
		fs:     fsys,
		qid:    qid,
		uname:  m.Uname(),
		nuname: m.NUname(),
		opened: true,
		mode:   ORDWR,
		h:      h,
		iounit: s.iounit(),
		auth:   h,
	})
	if err != nil {
		h.Close()
		if errors.Is(err, ErrDuplicateFid) {
			return nil, duplicateFid(m, afid)
		}
		return nil, err
	}
	return NewRauth(m.Tag(), qid), nil
}

func (s *session) authorized(ctx context.Context, m Tattach) error {
	authz := s.srv.Authorizer
	if authz == nil {
		return nil
	}
	if m.Afid() == NO_FID {
		// Authorizers return a nil handle for exports that need no auth.
		h, err := authz.Auth(ctx, s.remote, m.Uname(), m.Aname())
		if err != nil {
			return err
		}
		if h != nil {
			h.Close()
			return ErrAuthRefused
		}
		return nil
	}
	st, err := s.fids.Lookup(m.Afid())
	if err != nil {
		return err
	}
	if st.auth == nil || !st.auth.Authorized(m.Uname(), m.Aname()) {
		return ErrAuthRefused
	}
	return nil
}

func (s *session) tattach(ctx context.Context, m Tattach) (Message, error) {
	fid := m.Fid()
	if _, err := s.fids.Lookup(fid); err == nil {
		return nil, duplicateFid(m, fid)
	}
	export, fsys, err := s.srv.Exports.Lookup(m.Aname())
	if err != nil {
		return nil, err
	}
	if err := s.authorized(ctx, m); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	info, err := fsys.Stat(ctx, "")
	if err != nil {
		return nil, err
	}
	// the backend answered, so the fid is bound and Rattach sent even if
	// the request was flushed meanwhile
	qid := s.qidFor(export, "", info)
	err = s.fids.Allocate(fid, fidState{
		export: export,
		fs:     fsys,
		path:   "",
		qid:    qid,
		uname:  m.Uname(),
		nuname: m.NUname(),
	})
	if errors.Is(err, ErrDuplicateFid) {
		return nil, duplicateFid(m, fid)
	} else if err != nil {
		return nil, err
	}
	s.log.Debug("attached", slog.String("fid", fid.String()), slog.String("export", export), slog.String("uname", m.Uname()))
	return NewRattach(m.Tag(), qid), nil
}

// twalk binds newfid only when every element was walked. Otherwise the
// qids walked so far are returned and both fids are left untouched.
func (s *session) twalk(ctx context.Context, m Twalk) (Message, error) {
	if m.NumWname() > MAXWELEM {
		return nil, fmt.Errorf("%w: %d path elements, max is %d", ErrInvalid, m.NumWname(), MAXWELEM)
	}
	fid, newfid := m.Fid(), m.NewFid()
	st, err := s.fids.Lookup(fid)
	if err != nil {
		return nil, err
	}
	if st.auth != nil {
		return nil, fmt.Errorf("%w: cannot walk an auth fid", ErrInvalid)
	}
	if st.opened || st.busy {
		return nil, fmt.Errorf("%w: cannot walk an open fid", ErrAlreadyOpen)
	}
	if newfid != fid {
		if _, err := s.fids.Lookup(newfid); err == nil {
			return nil, duplicateFid(m, newfid)
		}
	}

	names := m.Wnames()
	path, qid := st.path, st.qid
	qids := make([]Qid, 0, len(names))
	for i, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if name == "." || !ValidName(name) {
			err = fmt.Errorf("%w: bad path element %q", ErrInvalid, name)
		} else if !qid.Type().IsDir() {
			err = ErrNotDir
		} else {
			var (
				next string
				info fs.FileInfo
			)
			next, info, err = st.fs.Walk(ctx, path, name)
			if err == nil {
				path = next
				qid = s.qidFor(st.export, next, info)
				qids = append(qids, qid)
				continue
			}
		}
		if i == 0 {
			return nil, err
		}
		break
	}

	// a walk that got this far is answered even if it was flushed, so
	// the client learns about newfid
	if len(qids) == len(names) {
		nst := st
		nst.path, nst.qid = path, qid
		if newfid == fid {
			err = s.fids.Rebind(fid, nst)
		} else {
			err = s.fids.Allocate(newfid, nst)
			if errors.Is(err, ErrDuplicateFid) {
				return nil, duplicateFid(m, newfid)
			}
		}
		if err != nil {
			return nil, err
		}
	}
	return NewRwalk(m.Tag(), qids), nil
}

func (s *session) topen(ctx context.Context, m Topen) (res Message, err error) {
	fid, mode := m.Fid(), m.Mode()
	st, err := s.fids.beginOpen(fid)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			s.fids.abortOpen(fid)
		}
	}()
	if st.auth != nil {
		return nil, fmt.Errorf("%w: auth fids are already open", ErrAlreadyOpen)
	}

	info, err := st.fs.Stat(ctx, st.path)
	if err != nil {
		return nil, err
	}
	qid := s.qidFor(st.export, st.path, info)

	var h FileHandle
	if qid.Type().IsDir() {
		// "It is illegal to write a directory, truncate it, or attempt to remove it on close"
		if mode.IsWriteable() || mode&(OTRUNC|ORCLOSE) != 0 {
			return nil, fmt.Errorf("%w: cannot open a directory with %s", ErrIsDir, mode)
		}
		h = s.openDir(st)
	} else {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		h, err = st.fs.Open(ctx, st.path, mode)
		if err != nil {
			return nil, err
		}
		if mode&OTRUNC != 0 {
			if q, ok := s.srv.Qids.Touch(st.key()); ok {
				qid = q
			}
		}
	}

	if err := ctx.Err(); err != nil {
		h.Close()
		return nil, err
	}
	st.qid = qid
	if err := s.fids.SetOpenState(fid, st, mode, h, s.iounit()); err != nil {
		h.Close()
		return nil, err
	}
	return NewRopen(m.Tag(), qid, s.iounit()), nil
}

func (s *session) tcreate(ctx context.Context, m Tcreate) (res Message, err error) {
	fid := m.Fid()
	st, err := s.fids.beginOpen(fid)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			s.fids.abortOpen(fid)
		}
	}()
	if !st.isDir() {
		return nil, fmt.Errorf("%w: cannot create inside a file", ErrNotDir)
	}
	name, perm, mode := m.Name(), m.Perm(), m.Mode()
	if name == "." || name == ".." || !ValidName(name) {
		return nil, fmt.Errorf("%w: bad file name %q", ErrInvalid, name)
	}
	if perm&M_DIR != 0 && (mode.IsWriteable() || mode&(OTRUNC|ORCLOSE) != 0) {
		return nil, fmt.Errorf("%w: cannot create a directory with %s", ErrIsDir, mode)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// once the backend created the file, Rcreate is sent even if flushed
	path, info, h, err := st.fs.Create(ctx, st.path, name, perm, mode, m.Extension())
	if err != nil {
		return nil, err
	}
	qid := s.qidFor(st.export, path, info)
	nst := st
	nst.path, nst.qid = path, qid
	if qid.Type().IsDir() {
		if h != nil {
			h.Close()
		}
		h = s.openDir(nst)
	} else if h == nil {
		h = noIOHandle{}
	}
	if err := s.fids.SetOpenState(fid, nst, mode, h, s.iounit()); err != nil {
		h.Close()
		return nil, err
	}
	return NewRcreate(m.Tag(), qid, s.iounit()), nil
}

func (s *session) tread(ctx context.Context, m Tread) (Message, error) {
	st, err := s.fids.Lookup(m.Fid())
	if err != nil {
		return nil, err
	}
	if !st.opened {
		return nil, ErrNotOpen
	}
	if !st.mode.IsReadable() {
		return nil, ErrReadNotAllowed
	}
	if m.Offset() > math.MaxInt64 {
		return nil, fmt.Errorf("%w: offset %d", ErrInvalid, m.Offset())
	}
	count := min(m.Count(), s.iounit())
	res := newRreadBuffer(count)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n, err := st.h.ReadAt(res.DataNoLimit()[:count], int64(m.Offset()))
	if err != nil && !errors.Is(err, io.EOF) {
		if n == 0 {
			return nil, err
		}
		s.log.Warn("short read", slog.String("fid", m.Fid().String()), slog.Int("n", n), slog.String("err", err.Error()))
	}
	res.fill(m.Tag(), uint32(n))
	return res, nil
}

func (s *session) twrite(ctx context.Context, m Twrite) (Message, error) {
	st, err := s.fids.Lookup(m.Fid())
	if err != nil {
		return nil, err
	}
	if !st.opened {
		return nil, ErrNotOpen
	}
	if st.isDir() {
		return nil, ErrIsDir
	}
	if !st.mode.IsWriteable() {
		return nil, ErrWriteNotAllowed
	}
	if m.Offset() > math.MaxInt64 {
		return nil, fmt.Errorf("%w: offset %d", ErrInvalid, m.Offset())
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n, err := st.h.WriteAt(m.Data(), int64(m.Offset()))
	if n > 0 && st.auth == nil {
		s.srv.Qids.Touch(st.key())
	}
	if err != nil && n == 0 {
		return nil, err
	}
	return NewRwrite(m.Tag(), uint32(n)), nil
}

// releaseFid closes what a released fid held open and honours ORCLOSE.
func (s *session) releaseFid(ctx context.Context, st fidState) error {
	var errs []error
	if st.h != nil {
		if err := st.h.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if st.opened && st.mode&ORCLOSE != 0 && st.auth == nil {
		if err := st.fs.Remove(ctx, st.path); err != nil {
			errs = append(errs, err)
		} else {
			s.srv.Qids.Delete(st.key())
		}
	}
	return errors.Join(errs...)
}

func (s *session) tclunk(ctx context.Context, m Tclunk) (Message, error) {
	st, err := s.fids.Release(m.Fid())
	if err != nil {
		return nil, err
	}
	// the fid is gone even if the client flushes this request
	if err := s.releaseFid(context.WithoutCancel(ctx), st); err != nil {
		s.log.Warn("clunk", slog.String("fid", m.Fid().String()), slog.String("err", err.Error()))
	}
	return NewRclunk(m.Tag()), nil
}

func (s *session) tremove(ctx context.Context, m Tremove) (Message, error) {
	st, err := s.fids.Release(m.Fid())
	if err != nil {
		return nil, err
	}
	if st.h != nil {
		st.h.Close()
	}
	if st.auth != nil {
		return nil, fmt.Errorf("%w: cannot remove an auth fid", ErrInvalid)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := st.fs.Remove(ctx, st.path); err != nil {
		return nil, err
	}
	s.srv.Qids.Delete(st.key())
	return NewRremove(m.Tag()), nil
}

func (s *session) tstat(ctx context.Context, m Tstat) (Message, error) {
	st, err := s.fids.Lookup(m.Fid())
	if err != nil {
		return nil, err
	}
	if st.auth != nil {
		stat := NewStat("#a", st.uname, st.uname, st.uname, "")
		stat.SetQid(st.qid)
		stat.SetMode(M_AUTH | 0600)
		return NewRstat(m.Tag(), stat), nil
	}
	info, err := st.fs.Stat(ctx, st.path)
	if err != nil {
		return nil, err
	}
	qid := s.qidFor(st.export, st.path, info)
	if st.path == "" {
		info = FileInfoWithName(info, "/")
	}
	return NewRstat(m.Tag(), fileInfoToStat(qid, info)), nil
}

func validateWstat(st fidState, s Stat) error {
	if !s.TypeNoTouch() || !s.DevNoTouch() {
		return fmt.Errorf("%w: cannot change type or dev", ErrInvalid)
	}
	if !s.Qid().IsNoTouch() {
		return fmt.Errorf("%w: cannot change qid", ErrInvalid)
	}
	if !s.ModeNoTouch() && s.Mode().IsDir() != st.isDir() {
		return fmt.Errorf("%w: cannot change the directory bit", ErrInvalid)
	}
	if st.isDir() && !s.LengthNoTouch() && s.Length() != 0 {
		return fmt.Errorf("%w: cannot set the length of a directory", ErrInvalid)
	}
	if !s.NameNoTouch() {
		if st.path == "" {
			return fmt.Errorf("%w: cannot rename the root", ErrInvalid)
		}
		if name := s.Name(); name == "." || name == ".." || !ValidName(name) {
			return fmt.Errorf("%w: bad file name %q", ErrInvalid, name)
		}
	}
	return nil
}

func (s *session) twstat(ctx context.Context, m Twstat) (Message, error) {
	fid := m.Fid()
	st, err := s.fids.Lookup(fid)
	if err != nil {
		return nil, err
	}
	if st.auth != nil {
		return nil, fmt.Errorf("%w: cannot wstat an auth fid", ErrInvalid)
	}
	stat := m.Stat()
	if err := validateWstat(st, stat); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := st.fs.WriteStat(ctx, st.path, stat); err != nil {
		return nil, err
	}

	key := st.key()
	if !stat.NameNoTouch() && stat.Name() != Basename(st.path) {
		newPath := JoinPath(Dirname(st.path), stat.Name())
		newKey := QidKey{st.export, newPath}
		s.srv.Qids.Rename(key, newKey)
		s.fids.Rename(st.export, st.path, newPath)
		key = newKey
	}
	if !stat.IsSync() {
		s.srv.Qids.Touch(key)
	}
	return NewRwstat(m.Tag()), nil
}

////////////////////////////////////////////////

// noIOHandle is opened for special files created without a handle, such as
// symlinks and device nodes.
type noIOHandle struct{}

func (noIOHandle) ReadAt(p []byte, off int64) (int, error)  { return 0, ErrUnsupported }
func (noIOHandle) WriteAt(p []byte, off int64) (int, error) { return 0, ErrUnsupported }
func (noIOHandle) Close() error                              { return nil }
