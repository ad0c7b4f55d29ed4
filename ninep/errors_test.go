package ninep

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"syscall"
	"testing"
)

func TestErrnoOf(t *testing.T) {
	tcs := []struct {
		err   error
		errno Errno
	}{
		{fs.ErrNotExist, ENOENT},
		{fmt.Errorf("wrapped: %w", fs.ErrNotExist), ENOENT},
		{&os.PathError{Op: "open", Path: "x", Err: syscall.ENOENT}, ENOENT},
		{fs.ErrExist, EEXIST},
		{fs.ErrPermission, EPERM},
		{ErrWriteNotAllowed, EPERM},
		{syscall.EACCES, EACCES},
		{fs.ErrInvalid, EINVAL},
		{ErrUnknownFid, EBADF},
		{ErrNotOpen, EBADFD},
		{ErrIsDir, EISDIR},
		{syscall.EISDIR, EISDIR},
		{ErrNotDir, ENOTDIR},
		{ErrNotEmpty, ENOTEMPTY},
		{syscall.ENOTEMPTY, ENOTEMPTY},
		{ErrCrossDevice, EXDEV},
		{ErrNotImplemented, ENOSYS},
		{ErrSeekNotAllowed, ENOSYS},
		{ErrAuthRefused, ECONNREFUSED},
		{&Error{Ename: "custom", Errno: 99}, 99},
		{errors.New("something else"), EIO},
	}
	for _, tc := range tcs {
		if got := ErrnoOf(tc.err); got != tc.errno {
			t.Errorf("ErrnoOf(%v) => %d, expected %d", tc.err, got, tc.errno)
		}
	}
}

func TestErrorNameRoundTrip(t *testing.T) {
	for _, err := range []error{fs.ErrNotExist, ErrUnknownFid, ErrIsDir, ErrWriteNotAllowed} {
		wrapped := fmt.Errorf("%w: while doing something", err)
		r := NewRerror(1, errorName(wrapped), ErrnoOf(wrapped))
		if !errors.Is(r.Error(), err) {
			t.Errorf("expected Rerror(%q) to match %v", r.Ename(), err)
		}
	}
	if name := errorName(errors.New("disk on fire")); name != "disk on fire" {
		t.Errorf("expected unmapped errors to keep their text, got %q", name)
	}
}

func TestProtocolError(t *testing.T) {
	err := protocolViolation(NewTclunk(3, 1), "fid %d", 1)
	var pe *ProtocolError
	if !errors.As(err, &pe) || pe.Msg.Tag() != 3 {
		t.Fatalf("expected a ProtocolError for tag 3, got %v", err)
	}
	wrapped := &ProtocolError{Err: ErrDuplicateTag}
	if !errors.Is(wrapped, ErrDuplicateTag) {
		t.Errorf("expected ProtocolError to unwrap")
	}
}
