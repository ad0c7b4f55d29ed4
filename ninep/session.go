package ninep

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type sessionState int32

const (
	stateAwaitingVersion sessionState = iota
	stateNegotiated
	stateClosing
	stateClosed
)

func (s sessionState) String() string {
	switch s {
	case stateAwaitingVersion:
		return "AwaitingVersion"
	case stateNegotiated:
		return "Negotiated"
	case stateClosing:
		return "Closing"
	case stateClosed:
		return "Closed"
	}
	return fmt.Sprintf("sessionState(%d)", int32(s))
}

// session serves one connection. The read loop decodes frames and starts a
// goroutine per request; replies are serialized by wm.
type session struct {
	srv    *Server
	conn   net.Conn
	remote string
	log    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	state   atomic.Int32
	msize   uint32
	version string

	fids *FidTable
	tags *TagTable

	wm       sync.Mutex
	inflight chan struct{}
	handlers sync.WaitGroup

	closeOnce sync.Once
	fatalErr  atomic.Pointer[error]
}

func newSession(ctx context.Context, srv *Server, conn net.Conn) *session {
	remote := "pipe"
	if addr := conn.RemoteAddr(); addr != nil {
		remote = addr.String()
	}
	ctx, cancel := context.WithCancel(ctx)
	return &session{
		ctx:      ctx,
		cancel:   cancel,
		srv:      srv,
		conn:     conn,
		remote:   remote,
		log:      srv.Logger.With(slog.String("remote", remote)),
		fids:     NewFidTable(),
		tags:     NewTagTable(),
		inflight: make(chan struct{}, srv.maxInflight()),
	}
}

func (s *session) getState() sessionState { return sessionState(s.state.Load()) }

// shutdown closes the connection from outside the read loop.
func (s *session) shutdown() {
	s.closeConn()
}

func (s *session) closeConn() {
	s.closeOnce.Do(func() {
		s.state.Store(int32(stateClosing))
		s.cancel()
		s.conn.Close()
	})
}

// fail records a fatal error and tears the connection down.
func (s *session) fail(err error) {
	if s.fatalErr.CompareAndSwap(nil, &err) {
		s.log.Error("closing connection", slog.String("err", err.Error()))
	}
	s.closeConn()
}

func (s *session) serve() {
	defer s.teardown()

	if !s.negotiate() {
		return
	}
	s.log.Debug("negotiated", slog.Uint64("msize", uint64(s.msize)), slog.String("version", s.version))

	buf := make([]byte, s.msize)
	for s.getState() == stateNegotiated {
		s.setReadDeadline(s.srv.IdleTimeout)
		m, err := ReadFrame(s.conn, buf, s.msize)
		if err != nil {
			s.readFailed(err)
			return
		}
		m = cloneMessage(m)

		if err := s.accept(m); err != nil {
			s.fail(err)
			return
		}
	}
}

func (s *session) readFailed(err error) {
	var fe *FramingError
	switch {
	case errors.As(err, &fe) && fe.Type == msgTerror:
		s.fail(&ProtocolError{Msg: nil, Err: errors.New("client sent Terror")})
	case errors.As(err, &fe):
		s.fail(err)
	case s.getState() != stateNegotiated, isClosedSocket(err):
		s.log.Debug("connection closed", slog.String("err", err.Error()))
	case isTimeoutErr(err):
		s.log.Info("connection idle, closing", slog.String("err", err.Error()))
	default:
		s.log.Error("failed to read message", slog.String("err", err.Error()))
	}
}

func cloneMessage(m Message) Message {
	return view(m.Type(), slices.Clone(m.Bytes()))
}

func (s *session) setReadDeadline(d time.Duration) {
	if d <= 0 {
		d = s.srv.ReadTimeout
	}
	if d > 0 {
		s.conn.SetReadDeadline(time.Now().Add(d))
	} else {
		s.conn.SetReadDeadline(time.Time{})
	}
}

// negotiate handles Tversion until a version is agreed on. Any other
// message first is a protocol violation.
func (s *session) negotiate() bool {
	maxSize := s.srv.maxMsgSize()
	buf := make([]byte, maxSize)
	for {
		s.setReadDeadline(s.srv.ReadTimeout)
		m, err := ReadFrame(s.conn, buf, maxSize)
		if err != nil {
			s.readFailed(err)
			return false
		}
		req, ok := m.(Tversion)
		if !ok {
			s.fail(protocolViolation(m, "expected Tversion, got %s", m.Type()))
			return false
		}
		if req.MsgSize() < MIN_MESSAGE_SIZE {
			s.fail(protocolViolation(m, "msize %d below minimum %d", req.MsgSize(), MIN_MESSAGE_SIZE))
			return false
		}

		msize := min(req.MsgSize(), maxSize)
		version, ok := parseVersion(req.Version())
		if !ok {
			s.log.Warn("unsupported protocol version", slog.String("version", req.Version()))
			if err := s.write(NewRversion(req.Tag(), msize, VERSION_UNKNOWN)); err != nil {
				s.fail(err)
				return false
			}
			continue
		}

		s.msize = msize
		s.version = version
		if err := s.write(NewRversion(req.Tag(), msize, version)); err != nil {
			s.fail(err)
			return false
		}
		s.state.Store(int32(stateNegotiated))
		return true
	}
}

// parseVersion accepts "9P2000.u" optionally followed by a ".suffix", which
// version(5) says servers should ignore.
func parseVersion(v string) (string, bool) {
	if v == VERSION_9P2000U || strings.HasPrefix(v, VERSION_9P2000U+".") {
		return VERSION_9P2000U, true
	}
	return "", false
}

// accept registers a request and starts its handler. Errors are fatal.
func (s *session) accept(m Message) error {
	mt := m.Type()
	if !mt.IsRequest() {
		return protocolViolation(m, "%s is not a request", mt)
	}
	if mt == msgTversion {
		// reply then close
		if err := s.write(NewRerror(m.Tag(), "EALREADY", EALREADY)); err != nil {
			s.log.Debug("failed to reply to Tversion", slog.String("err", err.Error()))
		}
		return protocolViolation(m, "Tversion after negotiation")
	}

	p, err := s.tags.Register(s.ctx, m.Tag())
	if err != nil {
		return &ProtocolError{Msg: m, Err: err}
	}

	s.handlers.Add(1)
	go s.handle(p, m)
	return nil
}

// handle waits for an inflight slot, so the read loop never blocks and a
// Tflush can always reach a queued or running request. Tflush itself
// takes no slot.
func (s *session) handle(p *pendingRequest, m Message) {
	defer s.handlers.Done()
	defer s.tags.Complete(p)
	if m.Type() != msgTflush {
		select {
		case s.inflight <- struct{}{}:
			defer func() { <-s.inflight }()
		case <-p.ctx.Done():
			s.log.Debug("request cancelled before it started", slog.Int("tag", int(m.Tag())), slog.String("type", m.Type().String()))
			return
		}
	}

	start := time.Now()
	res, err := s.dispatch(p.ctx, m)
	if err != nil {
		var pe *ProtocolError
		if errors.As(err, &pe) {
			s.fail(err)
			return
		}
		// only a request that stopped because it was cancelled goes
		// unanswered
		if p.cancelled() && isCancellation(err) {
			s.log.Debug("request cancelled", slog.Int("tag", int(m.Tag())), slog.String("type", m.Type().String()))
			return
		}
		res = NewRerror(m.Tag(), errorName(err), ErrnoOf(err))
		s.log.Debug("request failed",
			slog.Int("tag", int(m.Tag())),
			slog.String("type", m.Type().String()),
			slog.String("err", err.Error()),
			slog.Int("errno", int(ErrnoOf(err))))
	}
	if res == nil {
		return
	}
	if uint32(len(res.Bytes())) > s.msize {
		res = NewRerror(m.Tag(), "reply exceeds msize", EIO)
	}
	if err := s.reply(p, res); err != nil {
		if s.getState() == stateNegotiated {
			s.fail(err)
		}
		return
	}
	s.log.Debug("replied",
		slog.Int("tag", int(m.Tag())),
		slog.String("req", m.Type().String()),
		slog.String("res", res.Type().String()),
		slog.Duration("elapsed", time.Since(start)))
}

// reply frees the tag and writes res under the same lock, so a flush that
// finds no tag answers after the reply it raced with. A flush that does
// find the tag waits for the handler, whose reply is then already written.
func (s *session) reply(p *pendingRequest, res Message) error {
	s.wm.Lock()
	defer s.wm.Unlock()
	s.tags.release(p)
	return s.writeLocked(res)
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (s *session) write(m Message) error {
	s.wm.Lock()
	defer s.wm.Unlock()
	return s.writeLocked(m)
}

func (s *session) writeLocked(m Message) error {
	if d := s.srv.WriteTimeout; d > 0 {
		s.conn.SetWriteDeadline(time.Now().Add(d))
	}
	err := writeFrame(s.conn, m)
	if err != nil && isClosedSocket(err) {
		return fmt.Errorf("%w: %w", io.ErrClosedPipe, err)
	}
	return err
}

// teardown runs once the read loop exits: cancel handlers, wait for them,
// then release every fid.
func (s *session) teardown() {
	s.closeConn()
	s.tags.CancelAll()
	s.handlers.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, f := range s.fids.ReleaseAll() {
		if err := s.releaseFid(ctx, f); err != nil {
			s.log.Warn("failed to release fid", slog.String("fid", f.String()), slog.String("err", err.Error()))
		}
	}
	s.state.Store(int32(stateClosed))
	s.log.Debug("session closed")
}
