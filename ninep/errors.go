package ninep

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"syscall"
)

var (
	ErrInvalidMessage = errors.New("invalid 9P message")

	ErrUnknownFid   = errors.New("referred to unknown fid")
	ErrDuplicateFid = errors.New("attempted to create a new fid where one already exists")
	ErrDuplicateTag = errors.New("tag is already in use by an outstanding request")
	ErrNotOpen      = errors.New("fid is not open")
	ErrAlreadyOpen  = errors.New("fid is already open")
	ErrNoSuchExport = fmt.Errorf("%w: no such export", fs.ErrNotExist)

	ErrIsDir       = errors.New("is a directory")
	ErrNotDir      = errors.New("not a directory")
	ErrNotEmpty    = errors.New("directory not empty")
	ErrInvalid     = fs.ErrInvalid
	ErrCrossDevice = errors.New("cross-device operation")
	ErrAlready     = errors.New("operation already in progress")
	ErrAuthRefused = errors.New("authentication refused")

	ErrChangeUidNotAllowed = fmt.Errorf("%w: changing uid is not allowed by protocol", fs.ErrPermission)
	ErrChangeGidNotAllowed = fmt.Errorf("%w: not allowed to change gid", fs.ErrPermission)

	ErrWriteNotAllowed = fmt.Errorf("%w: not allowed to write", fs.ErrPermission)
	ErrReadNotAllowed  = fmt.Errorf("%w: not allowed to read", fs.ErrPermission)
	ErrUnsupported     = errors.New("unsupported")
	ErrSeekNotAllowed  = fmt.Errorf("%w: seeking is not allowed", ErrUnsupported)
	ErrNotImplemented  = errors.New("not implemented")
	ErrInvalidAccess   = fs.ErrPermission
)

var ErrServerClosed = errors.New("server closed")

// Errno is the numeric error carried by a 9P2000.u Rerror. Values follow
// Linux, which is what 9P2000.u clients expect.
type Errno uint32

const (
	EPERM        Errno = 1
	ENOENT       Errno = 2
	EIO          Errno = 5
	EBADF        Errno = 9
	EACCES       Errno = 13
	EEXIST       Errno = 17
	EXDEV        Errno = 18
	ENOTDIR      Errno = 20
	EISDIR       Errno = 21
	EINVAL       Errno = 22
	ENOSPC       Errno = 28
	ENOSYS       Errno = 38
	ENOTEMPTY    Errno = 39
	EBADFD       Errno = 77
	ECONNREFUSED Errno = 111
	EALREADY     Errno = 114
)

// errnoTable is checked in order, so more specific errors come first.
var errnoTable = []struct {
	err   error
	errno Errno
}{
	{ErrUnknownFid, EBADF},
	{ErrNotOpen, EBADFD},
	{ErrAlreadyOpen, EBADFD},
	{ErrIsDir, EISDIR},
	{ErrNotDir, ENOTDIR},
	{ErrNotEmpty, ENOTEMPTY},
	{ErrCrossDevice, EXDEV},
	{ErrAlready, EALREADY},
	{ErrAuthRefused, ECONNREFUSED},
	{ErrNotImplemented, ENOSYS},
	{ErrUnsupported, ENOSYS},
	{fs.ErrNotExist, ENOENT},
	{fs.ErrExist, EEXIST},
	{fs.ErrPermission, EPERM},
	{fs.ErrInvalid, EINVAL},
	{fs.ErrClosed, EBADF},
	{io.ErrUnexpectedEOF, EIO},
}

// ErrnoOf maps an error returned by validation or a backend onto the errno
// sent in Rerror.
func ErrnoOf(err error) Errno {
	var e *Error
	if errors.As(err, &e) {
		return e.Errno
	}
	var sysErr syscall.Errno
	if errors.As(err, &sysErr) {
		switch sysErr {
		case syscall.ENOTDIR:
			return ENOTDIR
		case syscall.EISDIR:
			return EISDIR
		case syscall.ENOTEMPTY:
			return ENOTEMPTY
		case syscall.EXDEV:
			return EXDEV
		case syscall.ENOSPC:
			return ENOSPC
		case syscall.EACCES:
			return EACCES
		}
		for _, m := range errnoTable {
			if errors.Is(sysErr, m.err) {
				return m.errno
			}
		}
		return EIO
	}
	for _, m := range errnoTable {
		if errors.Is(err, m.err) {
			return m.errno
		}
	}
	return EIO
}

// Error is a request error with an explicit wire name and errno. Backends
// can return it to control exactly what the client sees.
type Error struct {
	Ename string
	Errno Errno
}

func (e *Error) Error() string { return e.Ename }

// Is lets a decoded Rerror compare equal to the sentinel it was produced
// from, for the errors listed in mappedErrors.
func (e *Error) Is(target error) bool {
	for _, m := range mappedErrors {
		if e.Ename == m.Error() && errors.Is(m, target) {
			return true
		}
	}
	return false
}

// this is a list of errors that we attempt to preserve equality of over the wire.
// basically if Rerror.Ename() == err.Error() where err is in this list, then
// errors.Is(Rerror.Error(), err) holds.
var mappedErrors []error = []error{
	fs.ErrInvalid,
	fs.ErrPermission,
	fs.ErrExist,
	fs.ErrNotExist,
	fs.ErrClosed,
	os.ErrNoDeadline,
	io.EOF,
	io.ErrUnexpectedEOF,

	ErrInvalidMessage,
	ErrUnknownFid,
	ErrNotOpen,
	ErrIsDir,
	ErrNotDir,
	ErrNotEmpty,
	ErrUnsupported,
	ErrNotImplemented,
	ErrWriteNotAllowed,
	ErrReadNotAllowed,
	ErrSeekNotAllowed,
	ErrChangeUidNotAllowed,
	ErrAuthRefused,
}

// errorName is the ename sent for err: the mapped sentinel's text when err
// wraps one, otherwise err's own text. Later entries of mappedErrors are
// more specific so they are checked first.
func errorName(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Ename
	}
	for i := len(mappedErrors) - 1; i >= 0; i-- {
		if m := mappedErrors[i]; errors.Is(err, m) {
			return m.Error()
		}
	}
	return err.Error()
}

/////////////////////////////////////

type FramingErrorKind int

const (
	Truncated FramingErrorKind = iota + 1
	Malformed
	UnknownType
	SizeExceedsNegotiatedMax
)

func (k FramingErrorKind) String() string {
	switch k {
	case Truncated:
		return "truncated"
	case Malformed:
		return "malformed"
	case UnknownType:
		return "unknown type"
	case SizeExceedsNegotiatedMax:
		return "size exceeds negotiated max"
	}
	return fmt.Sprintf("FramingErrorKind(%d)", int(k))
}

// FramingError reports bytes that cannot be decoded as a 9P2000.u message.
// It is always fatal to the connection.
type FramingError struct {
	Kind   FramingErrorKind
	Type   MsgType
	Reason string
}

func (e *FramingError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("9p framing error: %s (%s)", e.Kind, e.Type)
	}
	return fmt.Sprintf("9p framing error: %s (%s): %s", e.Kind, e.Type, e.Reason)
}

func (e *FramingError) Is(target error) bool { return target == ErrInvalidMessage }

func IsFramingError(err error, kind FramingErrorKind) bool {
	var fe *FramingError
	return errors.As(err, &fe) && fe.Kind == kind
}

// ProtocolError is a well framed message that breaks the session rules,
// such as reusing an outstanding tag. It is fatal to the connection.
type ProtocolError struct {
	Msg Message
	Err error
}

func (e *ProtocolError) Error() string {
	if e.Msg == nil {
		return fmt.Sprintf("9p protocol violation: %s", e.Err)
	}
	return fmt.Sprintf("9p protocol violation: %s (tag=%d): %s", e.Msg.Type(), e.Msg.Tag(), e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

func protocolViolation(m Message, format string, values ...any) error {
	return &ProtocolError{Msg: m, Err: fmt.Errorf(format, values...)}
}
