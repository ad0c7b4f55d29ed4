package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/kardianos/service"
	"golang.org/x/sync/errgroup"

	"github.com/jeffh/u9p/cli"
	"github.com/jeffh/u9p/ninep/ndb"
	_ "go.uber.org/automaxprocs"
)

func main() {
	var (
		cfg    cli.ServerConfig
		config string
		action string
		reload time.Duration
	)

	cfg.SetFlags(nil)
	flag.StringVar(&config, "config", "/etc/u9p/exports", "ndb file describing the exports to serve")
	flag.StringVar(&action, "service", "", "Control the system service: install, uninstall, start, stop or restart")
	flag.DurationVar(&reload, "reload", 10*time.Second, "How often to check the config for changes, 0 never reloads")

	flag.Usage = func() {
		w := flag.CommandLine.Output()
		fmt.Fprintf(w, "Usage: %s [OPTIONS]\n\n", os.Args[0])
		fmt.Fprintf(w, "Serves every export in the config file over 9p2000.u.\n\n")
		fmt.Fprintf(w, "Example config:\n\n")
		fmt.Fprintf(w, "  export=home backend=dir path=/home/me default\n")
		fmt.Fprintf(w, "  export=scratch backend=mem\n")
		fmt.Fprintf(w, "  export=all backend=mux mount=home mount=scratch readonly\n\n")
		fmt.Fprintf(w, "OPTIONS:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	logger, err := cfg.Logger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	svc := &service.Config{
		Name:        "u9pd",
		DisplayName: "u9p file server",
		Description: "Serves file systems over 9p2000.u",
		Arguments:   serviceArgs(os.Args[1:]),
	}
	err = cli.ServiceMain(svc, action, func(ctx context.Context, logger *slog.Logger) error {
		return run(ctx, &cfg, config, reload, logger)
	})
	if err != nil {
		logger.Error("exiting", slog.Any("err", err))
		os.Exit(1)
	}
}

// serviceArgs drops the -service flag so the installed service runs the
// server.
func serviceArgs(args []string) []string {
	var out []string
	for i := 0; i < len(args); i++ {
		a := strings.TrimLeft(args[i], "-")
		if a == "service" {
			i++
			continue
		}
		if strings.HasPrefix(a, "service=") {
			continue
		}
		out = append(out, args[i])
	}
	return out
}

func run(ctx context.Context, cfg *cli.ServerConfig, config string, reload time.Duration, logger *slog.Logger) error {
	db, err := ndb.Open(nil, config)
	if err != nil {
		return err
	}
	tbl, err := cli.LoadExports(ctx, db, logger)
	if err != nil {
		return err
	}
	defer tbl.Close()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return cfg.Run(ctx, tbl.Exports, logger)
	})
	if reload > 0 {
		g.Go(func() error {
			watch(ctx, db, tbl, reload, logger)
			return nil
		})
	}
	return g.Wait()
}

// watch swaps in new exports whenever the config changes. A config that
// fails to load leaves the running exports alone.
func watch(ctx context.Context, db *ndb.Ndb, tbl *cli.ExportTable, every time.Duration, logger *slog.Logger) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		changed, err := db.Changed()
		if err != nil {
			logger.Warn("failed to read config", slog.Any("err", err))
			continue
		}
		if !changed {
			continue
		}
		next, err := cli.LoadExports(ctx, db, logger)
		if err != nil {
			logger.Error("keeping previous exports", slog.Any("err", err))
			continue
		}
		tbl.Swap(next)
		logger.Info("reloaded exports", slog.Any("exports", tbl.Exports.Names()))
	}
}
