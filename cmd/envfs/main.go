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

func main() {
	var readOnly bool

	flag.BoolVar(&readOnly, "ro", false, "Serve the file system in read-only mode.")

	flag.Usage = func() {
		w := flag.CommandLine.Output()
		fmt.Fprintf(w, "Usage: %s [OPTIONS]\n\n", os.Args[0])
		fmt.Fprintf(w, "Exposes environment variables as a 9p file server.\n\n")
		fmt.Fprintf(w, "OPTIONS:\n")
		flag.PrintDefaults()
	}

	cli.BasicServerMain(func(ctx context.Context, logger *slog.Logger) (ninep.FileSystem, error) {
		fsys := ufs.Env()
		if readOnly {
			fsys = ufs.ReadOnly(fsys)
			logger.Info("serving in read-only mode")
		}
		return ufs.FS(fsys), nil
	})
}
