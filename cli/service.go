package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/kardianos/service"
)

// ServiceMain runs run under the system service manager, or in the
// foreground when started from a terminal. An action argument of install,
// uninstall, start, stop or restart controls the installed service instead.
//
// run must return once ctx is done.
func ServiceMain(cfg *service.Config, action string, run func(ctx context.Context, logger *slog.Logger) error) error {
	prg := &program{run: run}
	s, err := service.New(prg, cfg)
	if err != nil {
		return err
	}
	if action != "" {
		if err := service.Control(s, action); err != nil {
			return fmt.Errorf("%s %s: %w (valid actions: %v)", action, cfg.Name, err, service.ControlAction)
		}
		return nil
	}

	if service.Interactive() {
		prg.logger = slog.Default()
	} else {
		sl, err := s.Logger(nil)
		if err != nil {
			return err
		}
		prg.logger = slog.New(&serviceHandler{
			logger: sl,
			h:      slog.NewTextHandler(os.Stderr, nil),
		})
	}
	return s.Run()
}

type program struct {
	run    func(ctx context.Context, logger *slog.Logger) error
	logger *slog.Logger
	cancel context.CancelFunc
	done   chan struct{}
}

func (p *program) Start(s service.Service) error {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	p.logger.Info("starting")
	go func() {
		defer close(p.done)
		if err := p.run(ctx, p.logger); err != nil {
			p.logger.Error("service stopped", slog.Any("err", err))
			if !service.Interactive() {
				os.Exit(1)
			}
		}
	}()
	return nil
}

func (p *program) Stop(s service.Service) error {
	p.logger.Info("stopping")
	p.cancel()
	<-p.done
	return nil
}

// serviceHandler sends records to the system log of the service manager.
type serviceHandler struct {
	logger service.Logger
	h      slog.Handler
	attrs  []slog.Attr
}

func (h *serviceHandler) Enabled(ctx context.Context, l slog.Level) bool {
	return l >= slog.LevelInfo
}

func (h *serviceHandler) Handle(ctx context.Context, r slog.Record) error {
	msg := r.Message
	for _, a := range h.attrs {
		msg += " " + a.String()
	}
	r.Attrs(func(a slog.Attr) bool {
		msg += " " + a.String()
		return true
	})
	switch {
	case r.Level >= slog.LevelError:
		return h.logger.Error(msg)
	case r.Level >= slog.LevelWarn:
		return h.logger.Warning(msg)
	}
	return h.logger.Info(msg)
}

func (h *serviceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &c
}

func (h *serviceHandler) WithGroup(name string) slog.Handler { return h }
