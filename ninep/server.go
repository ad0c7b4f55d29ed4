package ninep

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

const DEFAULT_MAX_INFLIGHT = 64

type Server struct {
	TLSConfig *tls.Config

	// Exports route Tattach anames to file systems.
	Exports *Exports
	// Optional. Without one, Tauth is refused.
	Authorizer Authorizer

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// Largest msize the server accepts. Defaults to DEFAULT_MAX_MESSAGE_SIZE.
	MaxMsgSize uint32
	// Requests of one connection handled at once. Others wait for a slot
	// but can still be flushed. Defaults to DEFAULT_MAX_INFLIGHT.
	MaxInflight int

	Logger *slog.Logger

	// Shared by all connections. Allocated on first use if nil.
	Qids *QidPool

	initOnce   sync.Once
	ctx        context.Context
	cancel     context.CancelFunc
	inShutdown atomic.Bool

	mu        sync.Mutex
	listeners map[net.Listener]struct{}
	sessions  map[*session]struct{}
	active    sync.WaitGroup
}

func NewServer(exports *Exports, logger *slog.Logger) *Server {
	return &Server{
		Exports: exports,
		Logger:  logger,
	}
}

func (s *Server) init() {
	s.initOnce.Do(func() {
		s.ctx, s.cancel = context.WithCancel(context.Background())
		s.listeners = make(map[net.Listener]struct{})
		s.sessions = make(map[*session]struct{})
		if s.Qids == nil {
			s.Qids = NewQidPool()
		}
		if s.Logger == nil {
			s.Logger = DiscardLogger()
		}
		if s.Exports == nil {
			s.Exports = NewExports()
		}
	})
}

func (s *Server) maxMsgSize() uint32 {
	size := s.MaxMsgSize
	if size == 0 {
		size = DEFAULT_MAX_MESSAGE_SIZE
	}
	if size < MIN_MESSAGE_SIZE {
		size = MIN_MESSAGE_SIZE
	}
	return size
}

func (s *Server) maxInflight() int {
	if s.MaxInflight <= 0 {
		return DEFAULT_MAX_INFLIGHT
	}
	return s.MaxInflight
}

func (s *Server) ServeTLS(l net.Listener, certFile, keyFile string) error {
	config := s.TLSConfig
	if config == nil {
		config = new(tls.Config)
	} else {
		config = config.Clone()
	}

	configHasCert := len(config.Certificates) > 0 || config.GetCertificate != nil
	if !configHasCert || certFile != "" || keyFile != "" {
		var err error
		config.Certificates = make([]tls.Certificate, 1)
		config.Certificates[0], err = tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return err
		}
	}

	tlsListener := tls.NewListener(l, config)
	return s.Serve(tlsListener)
}

// Serve accepts connections on l until l fails or Shutdown is called. It
// always returns a non-nil error; after Shutdown it is ErrServerClosed.
func (s *Server) Serve(l net.Listener) error {
	s.init()
	s.mu.Lock()
	if s.inShutdown.Load() {
		s.mu.Unlock()
		l.Close()
		return ErrServerClosed
	}
	s.listeners[l] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.listeners, l)
		s.mu.Unlock()
		l.Close()
	}()

	s.Logger.Info("listening", slog.String("addr", l.Addr().String()))
	var wait time.Duration
	const maxWait = time.Second
	for {
		conn, err := l.Accept()
		if err != nil {
			if s.inShutdown.Load() {
				return ErrServerClosed
			}
			if isTemporaryErr(err) {
				if wait == 0 {
					wait = 5 * time.Millisecond
				} else {
					wait *= 2
				}
				if wait > maxWait {
					wait = maxWait
				}
				s.Logger.Warn("accept error", slog.String("err", err.Error()), slog.Duration("retry", wait))
				time.Sleep(wait)
				continue
			}
			return err
		}
		wait = 0

		s.Logger.Debug("accepted connection", slog.String("remote", conn.RemoteAddr().String()))
		go s.ServeConn(s.ctx, conn)
	}
}

// ServeConn runs a 9P session on conn until the client disconnects, the
// session breaks protocol or ctx is cancelled. conn is closed on return.
func (s *Server) ServeConn(ctx context.Context, conn net.Conn) {
	s.init()
	sess := newSession(ctx, s, conn)
	s.mu.Lock()
	if s.inShutdown.Load() {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.sessions[sess] = struct{}{}
	s.active.Add(1)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.sessions, sess)
		s.mu.Unlock()
		s.active.Done()
	}()

	stop := context.AfterFunc(s.ctx, sess.shutdown)
	defer stop()
	sess.serve()
}

func (s *Server) ListenAndServe(addr string) error {
	if addr == "" {
		addr = ":564"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

func (s *Server) ListenAndServeTLS(addr string, certFile, keyFile string) error {
	if addr == "" {
		addr = ":564"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.ServeTLS(ln, certFile, keyFile)
}

// Shutdown stops accepting connections, closes every session and waits
// for their handlers to finish or for ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.init()
	s.inShutdown.Store(true)

	s.mu.Lock()
	var errs []error
	for l := range s.listeners {
		if err := l.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
	}
	s.mu.Unlock()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.active.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, ctx.Err())
	}
	return errors.Join(errs...)
}
