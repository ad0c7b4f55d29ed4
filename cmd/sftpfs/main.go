package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"

	"github.com/jeffh/u9p/cli"
	ufs "github.com/jeffh/u9p/fs"
	"github.com/jeffh/u9p/fs/cachefs"
	"github.com/jeffh/u9p/fs/sftpfs"
	"github.com/jeffh/u9p/ninep"
	_ "go.uber.org/automaxprocs"
)

func main() {
	var (
		username   string
		sshKey     string
		knownHosts string
		prefix     string
		cacheTTL   = flag.Duration("cache", 0, "Cache stats, listings and file blocks for this long, 0 turns caching off")
	)

	flag.StringVar(&username, "ssh-user", "", "SSH Username")
	flag.StringVar(&sshKey, "ssh-key", "", "SSH Private Key")
	flag.StringVar(&knownHosts, "known-hosts", "~/.ssh/known_hosts", "Known hosts file to verify the server with, empty skips verification")
	flag.StringVar(&prefix, "prefix", "", "SFTP directory prefix")

	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "sftp for u9p\n")
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [OPTIONS] SFTP_ADDR\n", os.Args[0])
		flag.PrintDefaults()
	}

	cli.BasicServerMain(func(ctx context.Context, logger *slog.Logger) (ninep.FileSystem, error) {
		if flag.NArg() < 1 {
			flag.Usage()
			os.Exit(2)
		}

		sshConfig, err := sftpfs.DefaultSSHConfig(username, sshKey, knownHosts)
		if err != nil {
			return nil, err
		}

		sshAddr := flag.Arg(0)
		if _, _, err := net.SplitHostPort(sshAddr); err != nil {
			sshAddr = net.JoinHostPort(sshAddr, "22")
		}

		logger.Info("connecting", slog.String("user", sshConfig.User), slog.String("addr", sshAddr))
		fsys, err := sftpfs.Dial(ctx, sshAddr, sshConfig, prefix)
		if err != nil {
			return nil, fmt.Errorf("failed to open sftp connection: %w", err)
		}
		if *cacheTTL > 0 {
			fsys = cachefs.New(fsys, cachefs.WithTTL(*cacheTTL), cachefs.WithLogger(logger))
		}
		return ufs.FS(fsys), nil
	})
}
