package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jeffh/u9p/ninep"
)

type ServerConfig struct {
	Addr string

	LogLevel    string
	NoColor     bool
	PrintPrefix string

	CertFile string
	KeyFile  string

	ReadTimeoutInSeconds int
	MaxMsgSize           int
	MaxInflight          int

	// Time given to open connections to finish on shutdown.
	ShutdownTimeout time.Duration

	Stderr io.Writer
}

func (c *ServerConfig) SetFlags(f Flags) {
	if f == nil {
		f = &StdFlags{}
	}
	f.StringVar(&c.Addr, "addr", "localhost:564", "The address and port for the 9p server to listen to")
	f.IntVar(&c.ReadTimeoutInSeconds, "rtimeout", 0, "Seconds a client may take to send a request, 0 waits forever")
	f.IntVar(&c.MaxMsgSize, "msize", int(ninep.DEFAULT_MAX_MESSAGE_SIZE), "Largest message size to negotiate")
	f.IntVar(&c.MaxInflight, "max-inflight", ninep.DEFAULT_MAX_INFLIGHT, "Outstanding requests allowed per connection")
	f.StringVar(&c.LogLevel, "log-level", "info", "Log level: trace, debug, info, warn or error")
	f.BoolVar(&c.NoColor, "no-color", false, "Never colour log output")
	f.StringVar(&c.CertFile, "certfile", "", "Accept only TLS wrapped connections. Also needs to specify keyfile flag.")
	f.StringVar(&c.KeyFile, "keyfile", "", "Accept only TLS wrapped connections. Also needs to specify certfile flag.")
	f.DurationVar(&c.ShutdownTimeout, "shutdown-timeout", 5*time.Second, "Time open connections get to finish when stopping")
}

// Logger writes to Stderr, in colour when it is a terminal.
func (c *ServerConfig) Logger() (*slog.Logger, error) {
	level, err := ninep.ParseLogLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	w := c.Stderr
	if w == nil {
		w = os.Stderr
	}
	var h slog.Handler
	if w == os.Stderr && SupportsColor(c.NoColor) {
		h = NewConsoleHandler(w, level)
	} else {
		h = slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	}
	return ninep.CreateLogger(level, c.PrintPrefix, h), nil
}

func (c *ServerConfig) CreateServer(exports *ninep.Exports, logger *slog.Logger) *ninep.Server {
	srv := ninep.NewServer(exports, logger)
	srv.ReadTimeout = time.Duration(c.ReadTimeoutInSeconds) * time.Second
	if c.MaxMsgSize > 0 {
		srv.MaxMsgSize = uint32(c.MaxMsgSize)
	}
	srv.MaxInflight = c.MaxInflight
	return srv
}

// Listen opens the configured address.
func (c *ServerConfig) Listen(ctx context.Context) (net.Listener, error) {
	var lc net.ListenConfig
	return lc.Listen(ctx, "tcp", c.Addr)
}

// Serve runs srv on l until ctx is done, then shuts it down.
func (c *ServerConfig) Serve(ctx context.Context, srv *ninep.Server, l net.Listener) error {
	errc := make(chan error, 1)
	go func() {
		if c.CertFile != "" || c.KeyFile != "" {
			errc <- srv.ServeTLS(l, c.CertFile, c.KeyFile)
		} else {
			errc <- srv.Serve(l)
		}
	}()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	timeout := c.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	sctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	err := srv.Shutdown(sctx)
	if serr := <-errc; !errors.Is(serr, ninep.ErrServerClosed) {
		err = errors.Join(err, serr)
	}
	return err
}

// Run serves exports until ctx is done.
func (c *ServerConfig) Run(ctx context.Context, exports *ninep.Exports, logger *slog.Logger) error {
	l, err := c.Listen(ctx)
	if err != nil {
		return err
	}
	srv := c.CreateServer(exports, logger)
	logger.Info("listening", slog.String("addr", l.Addr().String()), slog.Any("exports", exports.Names()))
	return c.Serve(ctx, srv, l)
}

// BasicServerMain serves the file system createfs returns as the only
// export until interrupted.
func BasicServerMain(createfs func(ctx context.Context, logger *slog.Logger) (ninep.FileSystem, error)) {
	var cfg ServerConfig
	cfg.SetFlags(nil)
	flag.Parse()

	logger, err := cfg.Logger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fsys, err := createfs(ctx, logger)
	if err != nil {
		logger.Error("failed to create file system", slog.Any("err", err))
		os.Exit(1)
	}
	if c, ok := fsys.(io.Closer); ok {
		defer c.Close()
	}

	if err := cfg.Run(ctx, ninep.SingleExport(fsys), logger); err != nil {
		logger.Error("server stopped", slog.Any("err", err))
		os.Exit(1)
	}
}
