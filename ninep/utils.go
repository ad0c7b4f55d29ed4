package ninep

import (
	"errors"
	"io"
	"net"
	"path"
	"strings"
	"syscall"
)

// Returns the parent path of the given path, or "" at the root
func Dirname(p string) string {
	i := strings.LastIndex(p, "/")
	if i == -1 {
		return ""
	}
	return p[:i]
}

// Returns the file of the given path
func Basename(p string) string {
	i := strings.LastIndex(p, "/")
	if i == -1 {
		return p
	}
	return p[i+1:]
}

// PathSplit splits a slash separated path into its elements, dropping
// empty ones. The root is an empty slice.
func PathSplit(p string) []string {
	parts := strings.Split(p, "/")
	res := parts[:0]
	for _, part := range parts {
		if part != "" && part != "." {
			res = append(res, part)
		}
	}
	return res
}

// CleanPath returns p relative to the root with "..", "." and duplicate
// slashes resolved. Paths can never escape the root; "" is the root.
func CleanPath(p string) string {
	p = path.Clean("/" + p)
	if p == "/" {
		return ""
	}
	return p[1:]
}

// JoinPath appends name to dir and cleans the result.
func JoinPath(dir, name string) string {
	if dir == "" {
		return CleanPath(name)
	}
	return CleanPath(dir + "/" + name)
}

// IsSubpath reports if p is sub or below it.
func IsSubpath(p, sub string) bool {
	if sub == "" {
		return true
	}
	return p == sub || strings.HasPrefix(p, sub+"/")
}

// ValidName reports if name can be used as a single path element in
// Twalk or Tcreate.
func ValidName(name string) bool {
	return name != "" && !strings.ContainsRune(name, '/') && !strings.ContainsRune(name, 0)
}

func isClosedSocket(err error) bool {
	return err != nil &&
		(errors.Is(err, net.ErrClosed) ||
			errors.Is(err, io.EOF) ||
			errors.Is(err, syscall.EPIPE) ||
			errors.Is(err, syscall.ECONNRESET) ||
			errors.Is(err, io.ErrClosedPipe))
}

func isTimeoutErr(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func isTemporaryErr(err error) bool {
	type t interface {
		Temporary() bool
	}

	var te t
	if errors.As(err, &te) {
		return te.Temporary() && !isTimeoutErr(err)
	}
	return false
}

func readUpTo(r io.Reader, p []byte) (int, error) {
	var err error
	n := 0
	for n < len(p) && err == nil {
		m, e := r.Read(p[n:])
		n += m
		if isTimeoutErr(e) {
			return n, e
		} else if isTemporaryErr(e) {
			continue
		}
		err = e
	}
	if err == io.EOF && n > 0 && n < len(p) {
		err = io.ErrUnexpectedEOF
	}
	if n == len(p) && err == io.EOF {
		err = nil
	}
	return n, err
}
