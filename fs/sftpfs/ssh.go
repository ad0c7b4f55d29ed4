package sftpfs

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
	"golang.org/x/term"
)

// DefaultSSHConfig authenticates as sshUser, or the current user, with the
// running ssh-agent and the private key at keyPath. Host keys are checked
// against knownHostsPath unless it is empty, in which case any host key is
// accepted.
func DefaultSSHConfig(sshUser, keyPath, knownHostsPath string) (*ssh.ClientConfig, error) {
	username := sshUser
	if username == "" {
		u, err := user.Current()
		if err != nil {
			return nil, fmt.Errorf("failed to determine current user: %w", err)
		}
		username = u.Username
	}

	hostKeys := ssh.InsecureIgnoreHostKey()
	if knownHostsPath != "" {
		cb, err := knownhosts.New(expandHome(knownHostsPath))
		if err != nil {
			return nil, fmt.Errorf("failed to read known hosts: %w", err)
		}
		hostKeys = cb
	}

	var auth []ssh.AuthMethod
	if m := sshAgent(); m != nil {
		auth = append(auth, m)
	}
	if keyPath != "" {
		m, err := privateKeyFile(keyPath)
		if err != nil {
			return nil, err
		}
		auth = append(auth, m)
	}
	if len(auth) == 0 {
		return nil, errors.New("no ssh agent or key file to authenticate with")
	}

	return &ssh.ClientConfig{
		User:            username,
		Auth:            auth,
		HostKeyCallback: hostKeys,
	}, nil
}

func expandHome(file string) string {
	if strings.HasPrefix(file, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, file[2:])
		}
	}
	return file
}

// privateKeyFile prompts for a passphrase on the terminal if the key needs
// one.
func privateKeyFile(file string) (ssh.AuthMethod, error) {
	file = expandHome(file)
	buf, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	key, err := ssh.ParsePrivateKey(buf)
	var missing *ssh.PassphraseMissingError
	if errors.As(err, &missing) {
		fd := int(os.Stdin.Fd())
		if !term.IsTerminal(fd) {
			return nil, fmt.Errorf("%s needs a passphrase and stdin is not a terminal", file)
		}
		fmt.Fprintf(os.Stderr, "Enter passphrase for %s: ", file)
		passphrase, rerr := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if rerr != nil {
			return nil, rerr
		}
		key, err = ssh.ParsePrivateKeyWithPassphrase(buf, passphrase)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", file, err)
	}
	return ssh.PublicKeys(key), nil
}

func sshAgent() ssh.AuthMethod {
	sock := os.Getenv("SSH_AUTH_SOCK")
	if sock == "" {
		return nil
	}
	conn, err := net.Dial("unix", sock)
	if err != nil {
		slog.Warn("failed to connect to ssh agent", slog.String("sock", sock), slog.Any("err", err))
		return nil
	}
	return ssh.PublicKeysCallback(agent.NewClient(conn).Signers)
}
