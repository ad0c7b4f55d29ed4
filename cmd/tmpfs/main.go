package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/jeffh/u9p/cli"
	ufs "github.com/jeffh/u9p/fs"
	"github.com/jeffh/u9p/ninep"
	_ "go.uber.org/automaxprocs"
)

type removeAll string

func (d removeAll) Close() error { return os.RemoveAll(string(d)) }

func main() {
	var root string
	var pattern string

	flag.StringVar(&root, "dir", "", "The base where the temp dir is located")
	flag.StringVar(&pattern, "pattern", "tmpfs-*", "The pattern which to create the temp directory name")

	flag.Usage = func() {
		out := flag.CommandLine.Output()
		_, _ = fmt.Fprintf(out, "Usage: %s [options]\n", os.Args[0])
		_, _ = fmt.Fprintf(out, "Serves a temporary directory over 9p. It is removed on exit.\n")
		flag.PrintDefaults()
	}

	cli.BasicServerMain(func(ctx context.Context, logger *slog.Logger) (ninep.FileSystem, error) {
		dir, err := os.MkdirTemp(root, pattern)
		if err != nil {
			return nil, fmt.Errorf("failed to create temp directory: %w", err)
		}
		d, err := ufs.NewDir(dir)
		if err != nil {
			os.RemoveAll(dir)
			return nil, err
		}
		logger.Info("serving", slog.String("dir", dir))
		// d is closed before the directory is removed
		return ufs.FS(ufs.WithClose(d, removeAll(dir))), nil
	})
}
