package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"

	"github.com/jeffh/u9p/cli"
	ufs "github.com/jeffh/u9p/fs"
	"github.com/jeffh/u9p/ninep"
	_ "go.uber.org/automaxprocs"
)

func main() {
	var (
		root     string
		readOnly bool
	)

	flag.StringVar(&root, "root", ".", "The root directory to serve files from. Defaults the current working directory.")
	flag.BoolVar(&readOnly, "ro", false, "Serve the file system in read-only mode.")

	cli.BasicServerMain(func(ctx context.Context, logger *slog.Logger) (ninep.FileSystem, error) {
		d, err := ufs.NewDir(root)
		if err != nil {
			return nil, fmt.Errorf("serving %s: %w", root, err)
		}
		logger.Info("serving", slog.String("root", root))
		var fsys ufs.FileSystem = d
		if readOnly {
			fsys = ufs.ReadOnly(fsys)
		}
		return ufs.FS(fsys), nil
	})
}
