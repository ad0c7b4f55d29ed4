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
	flag.Usage = func() {
		w := flag.CommandLine.Output()
		fmt.Fprintf(w, "Usage: %s [OPTIONS]\n\n", os.Args[0])
		fmt.Fprintf(w, "Serves an empty in-memory file system over 9p. Contents are lost on exit.\n\n")
		fmt.Fprintf(w, "OPTIONS:\n")
		flag.PrintDefaults()
	}

	cli.BasicServerMain(func(ctx context.Context, logger *slog.Logger) (ninep.FileSystem, error) {
		return ufs.FS(ufs.NewMem()), nil
	})
}
