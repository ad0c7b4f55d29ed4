package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/jeffh/u9p/cli"
	ufs "github.com/jeffh/u9p/fs"
	"github.com/jeffh/u9p/fs/s3fs"
	"github.com/jeffh/u9p/ninep"
	_ "go.uber.org/automaxprocs"
)

func main() {
	var opt s3fs.Options

	flag.StringVar(&opt.Endpoint, "endpoint", "", "The S3 endpoint to use, defaults to AWS S3's builtin endpoint.")
	flag.StringVar(&opt.Region, "region", "", "The region of the bucket, defaults to the AWS configuration")
	flag.StringVar(&opt.Prefix, "prefix", "", "Only serve keys under this prefix")
	flag.BoolVar(&opt.PathStyle, "path-style", false, "Address buckets by path instead of by host name, as most S3 compatible servers need")

	flag.Usage = func() {
		w := flag.CommandLine.Output()
		fmt.Fprintf(w, "Usage: %s [OPTIONS] BUCKET\n\n", os.Args[0])
		fmt.Fprintf(w, "Serves the objects of an S3 bucket as files over 9p.\n\n")
		fmt.Fprintf(w, "OPTIONS:\n")
		flag.PrintDefaults()
	}

	cli.BasicServerMain(func(ctx context.Context, logger *slog.Logger) (ninep.FileSystem, error) {
		if flag.NArg() != 1 {
			flag.Usage()
			os.Exit(2)
		}
		opt.Bucket = flag.Arg(0)
		fsys, err := s3fs.NewFromConfig(ctx, opt)
		if err != nil {
			return nil, err
		}
		logger.Info("serving bucket", slog.String("bucket", opt.Bucket), slog.String("prefix", opt.Prefix))
		return ufs.FS(fsys), nil
	})
}
