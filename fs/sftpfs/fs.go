// Package sftpfs serves a directory on a remote host over SFTP.
package sftpfs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"net"
	"os"
	"path"
	"time"

	ufs "github.com/jeffh/u9p/fs"
	"github.com/jeffh/u9p/ninep"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

type sftpFs struct {
	client *ssh.Client // nil when the sftp connection was handed to us
	conn   *sftp.Client
	prefix string
}

var _ ufs.SymlinkFileSystem = (*sftpFs)(nil)

// Dial connects to addr and serves prefix on the remote host. A relative
// prefix is relative to the login directory.
func Dial(ctx context.Context, addr string, cfg *ssh.ClientConfig, prefix string) (ufs.FileSystem, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	client := ssh.NewClient(c, chans, reqs)
	f, err := New(client, prefix)
	if err != nil {
		client.Close()
		return nil, err
	}
	return f, nil
}

// New serves prefix over an established ssh connection. Closing the
// returned FileSystem closes client too.
func New(client *ssh.Client, prefix string) (ufs.FileSystem, error) {
	conn, err := sftp.NewClient(client)
	if err != nil {
		return nil, err
	}
	return &sftpFs{client: client, conn: conn, prefix: prefix}, nil
}

// NewWithClient serves prefix over an sftp client, which may be talking to
// something other than sshd.
func NewWithClient(conn *sftp.Client, prefix string) ufs.FileSystem {
	return &sftpFs{conn: conn, prefix: prefix}
}

func (f *sftpFs) remote(p string) string {
	r := path.Join(f.prefix, p)
	if r == "" {
		return "."
	}
	return r
}

func (f *sftpFs) Close() error {
	err := f.conn.Close()
	if f.client != nil {
		err = errors.Join(err, f.client.Close())
	}
	return err
}

func (f *sftpFs) exists(p string) bool {
	_, err := f.conn.Lstat(f.remote(p))
	return err == nil
}

func (f *sftpFs) MakeDir(ctx context.Context, p string, mode fs.FileMode) error {
	if f.exists(p) {
		return fmt.Errorf("%w: %s", fs.ErrExist, p)
	}
	full := f.remote(p)
	if err := f.conn.Mkdir(full); err != nil {
		return mapError(err)
	}
	return mapError(f.conn.Chmod(full, mode.Perm()))
}

func (f *sftpFs) CreateFile(ctx context.Context, p string, flag int, mode fs.FileMode) (ninep.FileHandle, error) {
	full := f.remote(p)
	h, err := f.conn.OpenFile(full, flag|os.O_CREATE)
	if err != nil {
		// SFTPv3 has no status for an existing file
		if flag&os.O_EXCL != 0 && f.exists(p) {
			return nil, fmt.Errorf("%w: %s", fs.ErrExist, p)
		}
		return nil, mapError(err)
	}
	if err := f.conn.Chmod(full, mode.Perm()); err != nil {
		h.Close()
		return nil, mapError(err)
	}
	return h, nil
}

func (f *sftpFs) OpenFile(ctx context.Context, p string, flag int) (ninep.FileHandle, error) {
	info, err := f.conn.Lstat(f.remote(p))
	if err != nil {
		return nil, mapError(err)
	}
	if info.IsDir() {
		return nil, ninep.ErrIsDir
	}
	h, err := f.conn.OpenFile(f.remote(p), flag&^(os.O_CREATE|os.O_EXCL))
	if err != nil {
		return nil, mapError(err)
	}
	return h, nil
}

func (f *sftpFs) ListDir(ctx context.Context, p string) iter.Seq2[fs.FileInfo, error] {
	return func(yield func(fs.FileInfo, error) bool) {
		infos, err := f.conn.ReadDirContext(ctx, f.remote(p))
		if err != nil {
			yield(nil, mapError(err))
			return
		}
		for _, info := range infos {
			if !yield(f.info(ninep.JoinPath(p, info.Name()), info), nil) {
				return
			}
		}
	}
}

func (f *sftpFs) Stat(ctx context.Context, p string) (fs.FileInfo, error) {
	info, err := f.conn.Lstat(f.remote(p))
	if err != nil {
		return nil, mapError(err)
	}
	return f.info(p, info), nil
}

func (f *sftpFs) Symlink(ctx context.Context, target, p string) error {
	if f.exists(p) {
		return fmt.Errorf("%w: %s", fs.ErrExist, p)
	}
	return mapError(f.conn.Symlink(target, f.remote(p)))
}

// WriteStat applies the changes in order, undoing earlier ones when a later
// one fails. Truncation goes last since it can't be undone.
func (f *sftpFs) WriteStat(ctx context.Context, p string, req ufs.FileInfoChangeRequest) (err error) {
	if req.Owner != nil || req.Group != nil {
		return ninep.ErrChangeUidNotAllowed
	}
	full := f.remote(p)
	info, err := f.conn.Lstat(full)
	if err != nil {
		return mapError(err)
	}
	defer func() { err = mapError(err) }()

	if req.Name != nil && *req.Name != path.Base(full) {
		if p == "" {
			return fmt.Errorf("%w: cannot rename the root", ninep.ErrInvalidAccess)
		}
		newPath := ninep.JoinPath(ninep.Dirname(p), *req.Name)
		if f.exists(newPath) {
			return fmt.Errorf("%w: %s", fs.ErrExist, newPath)
		}
		oldFull, newFull := full, f.remote(newPath)
		if err = f.conn.Rename(oldFull, newFull); err != nil {
			return err
		}
		defer func() {
			if err != nil {
				f.conn.Rename(newFull, oldFull)
			}
		}()
		full = newFull
	}

	if req.Mode != nil {
		old := info.Mode().Perm()
		if err = f.conn.Chmod(full, req.Mode.Perm()); err != nil {
			return err
		}
		defer func() {
			if err != nil {
				f.conn.Chmod(full, old)
			}
		}()
	}

	if req.OwnerID != nil || req.GroupID != nil {
		st, ok := info.Sys().(*sftp.FileStat)
		if !ok {
			return fmt.Errorf("%w: numeric ids", ninep.ErrUnsupported)
		}
		uid, gid := int(st.UID), int(st.GID)
		if req.OwnerID != nil {
			uid = int(*req.OwnerID)
		}
		if req.GroupID != nil {
			gid = int(*req.GroupID)
		}
		if err = f.conn.Chown(full, uid, gid); err != nil {
			return err
		}
		defer func() {
			if err != nil {
				f.conn.Chown(full, int(st.UID), int(st.GID))
			}
		}()
	}

	if req.ModTime != nil || req.AccessTime != nil {
		oldMtime := info.ModTime()
		oldAtime := oldMtime
		if st, ok := info.Sys().(*sftp.FileStat); ok {
			oldAtime = time.Unix(int64(st.Atime), 0)
		}
		atime, mtime := oldAtime, oldMtime
		if req.ModTime != nil {
			mtime = *req.ModTime
		}
		if req.AccessTime != nil {
			atime = *req.AccessTime
		}
		if err = f.conn.Chtimes(full, atime, mtime); err != nil {
			return err
		}
		defer func() {
			if err != nil {
				f.conn.Chtimes(full, oldAtime, oldMtime)
			}
		}()
	}

	if req.Length != nil {
		if info.IsDir() {
			return ninep.ErrIsDir
		}
		err = f.conn.Truncate(full, *req.Length)
	}
	return err
}

func (f *sftpFs) Delete(ctx context.Context, p string) error {
	if p == "" {
		return fmt.Errorf("%w: cannot delete the root", ninep.ErrInvalidAccess)
	}
	full := f.remote(p)
	info, err := f.conn.Lstat(full)
	if err != nil {
		return mapError(err)
	}
	if info.IsDir() {
		children, err := f.conn.ReadDir(full)
		if err != nil {
			return mapError(err)
		}
		if len(children) > 0 {
			return ninep.ErrNotEmpty
		}
		return mapError(f.conn.RemoveDirectory(full))
	}
	return mapError(f.conn.Remove(full))
}

// fileInfo adds the remote numeric ids and symlink targets.
type fileInfo struct {
	fs.FileInfo
	name   string
	target string
}

var _ ninep.FileInfoNumericIds = (*fileInfo)(nil)

func (i *fileInfo) Name() string      { return i.name }
func (i *fileInfo) Extension() string { return i.target }

func (i *fileInfo) NUid() uint32 {
	if st, ok := i.Sys().(*sftp.FileStat); ok {
		return st.UID
	}
	return ninep.NO_UID
}

func (i *fileInfo) NGid() uint32 {
	if st, ok := i.Sys().(*sftp.FileStat); ok {
		return st.GID
	}
	return ninep.NO_UID
}

func (i *fileInfo) NMuid() uint32 { return ninep.NO_UID }

func (f *sftpFs) info(p string, info fs.FileInfo) fs.FileInfo {
	fi := &fileInfo{FileInfo: info, name: info.Name()}
	if p == "" {
		fi.name = ""
	}
	if info.Mode()&fs.ModeSymlink != 0 {
		fi.target, _ = f.conn.ReadLink(f.remote(p))
	}
	return fi
}

// mapError turns sftp status codes into the errors the server maps to
// errnos.
func mapError(err error) error {
	var se *sftp.StatusError
	if !errors.As(err, &se) {
		return err
	}
	switch se.FxCode() {
	case sftp.ErrSSHFxNoSuchFile:
		return fmt.Errorf("%w: %s", fs.ErrNotExist, err)
	case sftp.ErrSSHFxPermissionDenied:
		return fmt.Errorf("%w: %s", fs.ErrPermission, err)
	case sftp.ErrSSHFxOpUnsupported:
		return fmt.Errorf("%w: %s", ninep.ErrUnsupported, err)
	}
	return err
}
