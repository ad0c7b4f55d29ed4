package cli

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"

	ufs "github.com/jeffh/u9p/fs"
	"github.com/jeffh/u9p/ninep"
)

func TestConsoleHandler(t *testing.T) {
	old := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = old })

	var buf bytes.Buffer
	logger := slog.New(NewConsoleHandler(&buf, slog.LevelInfo))
	logger.Debug("hidden")
	logger.With(slog.String("conn", "1")).WithGroup("req").Info("walk done",
		slog.String("path", "a b"),
		slog.Any("err", errors.New("boom")),
		slog.Group("fid", slog.Int("id", 3)))

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("debug record was written: %q", out)
	}
	for _, want := range []string{"INFO", "walk done", "conn=1", `req.path="a b"`, "req.err=boom", "req.fid.id=3"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in %q", want, out)
		}
	}
	if n := strings.Count(out, "\n"); n != 1 {
		t.Errorf("expected one line, got %d", n)
	}
}

func TestServerConfigRun(t *testing.T) {
	cfg := ServerConfig{Addr: "127.0.0.1:0", MaxMsgSize: 8192, ShutdownTimeout: time.Second}
	ctx, cancel := context.WithCancel(context.Background())
	l, err := cfg.Listen(ctx)
	if err != nil {
		t.Fatal(err)
	}
	srv := cfg.CreateServer(ninep.SingleExport(ufs.FS(ufs.NewMem())), ninep.DiscardLogger())
	if srv.MaxMsgSize != 8192 {
		t.Errorf("expected msize 8192, got %d", srv.MaxMsgSize)
	}

	done := make(chan error, 1)
	go func() { done <- cfg.Serve(ctx, srv, l) }()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected a clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServerConfigLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := ServerConfig{LogLevel: "warn", Stderr: &buf}
	logger, err := cfg.Logger()
	if err != nil {
		t.Fatal(err)
	}
	logger.Info("quiet")
	logger.Warn("loud")
	if out := buf.String(); strings.Contains(out, "quiet") || !strings.Contains(out, "loud") {
		t.Errorf("unexpected output %q", out)
	}

	cfg.LogLevel = "chatty"
	if _, err := cfg.Logger(); err == nil {
		t.Errorf("expected an unknown level to fail")
	}
}
