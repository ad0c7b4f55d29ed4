package ninep

import (
	"encoding/binary"
	"fmt"
	"io/fs"
	"math"
	"os"
	"strings"
)

const (
	NoTouchU64  = ^uint64(0)
	NoTouchU32  = ^uint32(0)
	NoTouchU16  = ^uint16(0)
	NoTouchMode = ^Mode(0)

	NoQidVersion = NoTouchU32
)

// Message is a decoded 9P2000.u frame. Every concrete message type is a
// byte slice view over its own frame, so Bytes returns the wire encoding.
type Message interface {
	Tag() Tag
	Type() MsgType
	Bytes() []byte
}

////////////////////////////////////////////////////////////////////////////////

type Fidable interface {
	Fid() Fid
}

type NewFidable interface {
	NewFid() Fid
}

////////////////////////////////////////////////////////////////////////////////

const (
	NO_TAG Tag    = ^Tag(0)
	NO_FID Fid    = ^Fid(0)
	NO_UID uint32 = ^uint32(0)

	VERSION_9P2000U string = "9P2000.u"
	VERSION_9P      string = "9P"
	VERSION_UNKNOWN string = "unknown"

	MIN_MESSAGE_SIZE = uint32(128)

	// size[4] Rread tag[2] count[4], the overhead subtracted from msize to
	// get the usable iounit.
	IOHDRSZ = 24
)

// The default maximum size of 9p message blocks. Should never be below MIN_MESSAGE_SIZE
var DEFAULT_MAX_MESSAGE_SIZE uint32

func init() {
	s := uint64(os.Getpagesize() * 2)
	if s > math.MaxUint32 {
		s = math.MaxUint32
	}
	if uint32(s) < MIN_MESSAGE_SIZE {
		s = uint64(MIN_MESSAGE_SIZE)
	}
	DEFAULT_MAX_MESSAGE_SIZE = uint32(s)
}

type MsgType byte

// Based on
// http://plan9.bell-labs.com/sources/plan9/sys/include/fcall.h
// with the 9P2000.u additions from the v9fs documentation.
const (
	msgTversion MsgType = iota + 100 // size[4] Tversion tag[2] msize[4] version[s]
	msgRversion                      // size[4] Rversion tag[2] msize[4] version[s]
	msgTauth                         // size[4] Tauth tag[2] afid[4] uname[s] aname[s] n_uname[4]
	msgRauth                         // size[4] Rauth tag[2] aqid[13]
	msgTattach                       // size[4] Tattach tag[2] fid[4] afid[4] uname[s] aname[s] n_uname[4]
	msgRattach                       // size[4] Rattach tag[2] qid[13]
	msgTerror                        // illegal
	msgRerror                        // size[4] Rerror tag[2] ename[s] errno[4]
	msgTflush                        // size[4] Tflush tag[2] oldtag[2]
	msgRflush                        // size[4] Rflush tag[2]
	msgTwalk                         // size[4] Twalk tag[2] fid[4] newfid[4] nwname[2] nwname*(wname[s])
	msgRwalk                         // size[4] Rwalk tag[2] nwqid[2] nwqid*(wqid[13])
	msgTopen                         // size[4] Topen tag[2] fid[4] mode[1]
	msgRopen                         // size[4] Ropen tag[2] qid[13] iounit[4]
	msgTcreate                       // size[4] Tcreate tag[2] fid[4] name[s] perm[4] mode[1] extension[s]
	msgRcreate                       // size[4] Rcreate tag[2] qid[13] iounit[4]
	msgTread                         // size[4] Tread tag[2] fid[4] offset[8] count[4]
	msgRread                         // size[4] Rread tag[2] count[4] data[count]
	msgTwrite                        // size[4] Twrite tag[2] fid[4] offset[8] count[4] data[count]
	msgRwrite                        // size[4] Rwrite tag[2] count[4]
	msgTclunk                        // size[4] Tclunk tag[2] fid[4]
	msgRclunk                        // size[4] Rclunk tag[2]
	msgTremove                       // size[4] Tremove tag[2] fid[4]
	msgRremove                       // size[4] Rremove tag[2]
	msgTstat                         // size[4] Tstat tag[2] fid[4]
	msgRstat                         // size[4] Rstat tag[2] stat[n]
	msgTwstat                        // size[4] Twstat tag[2] fid[4] stat[n]
	msgRwstat                        // size[4] Rwstat tag[2]
)

var msgTypeNames = [...]string{
	"Tversion", "Rversion", "Tauth", "Rauth", "Tattach", "Rattach",
	"Terror", "Rerror", "Tflush", "Rflush", "Twalk", "Rwalk",
	"Topen", "Ropen", "Tcreate", "Rcreate", "Tread", "Rread",
	"Twrite", "Rwrite", "Tclunk", "Rclunk", "Tremove", "Rremove",
	"Tstat", "Rstat", "Twstat", "Rwstat",
}

func (t MsgType) String() string {
	if t.known() {
		return msgTypeNames[t-msgTversion]
	}
	return fmt.Sprintf("MsgType(%d)", byte(t))
}

func (t MsgType) known() bool { return t >= msgTversion && t <= msgRwstat }

// IsRequest reports if the type is a T-message a client may send.
func (t MsgType) IsRequest() bool { return t.known() && (t-msgTversion)%2 == 0 }

type OpenMode byte

const (
	OREAD   OpenMode = 0
	OWRITE  OpenMode = 1
	ORDWR   OpenMode = 2
	OEXEC   OpenMode = 3 // execute, == read but check execute permission
	OTRUNC  OpenMode = 0x10
	OCEXEC  OpenMode = 0x20 // close on exec
	ORCLOSE OpenMode = 0x40 // remove on close

	OMODE OpenMode = 3
)

func (m OpenMode) IsReadOnly() bool  { return m&OMODE == OREAD }
func (m OpenMode) IsWriteOnly() bool { return m&OMODE == OWRITE }
func (m OpenMode) IsReadWrite() bool { return m&OMODE == ORDWR }
func (m OpenMode) IsExec() bool      { return m&OMODE == OEXEC }

// IsReadOnly() || IsReadWrite() || IsExec()
func (m OpenMode) IsReadable() bool {
	return !m.IsWriteOnly()
}

// IsWriteOnly() || IsReadWrite()
func (m OpenMode) IsWriteable() bool {
	return m.IsWriteOnly() || m.IsReadWrite()
}

func (m OpenMode) String() string {
	res := []string{}
	switch m & OMODE {
	case OREAD:
		res = append(res, "OREAD")
	case OWRITE:
		res = append(res, "OWRITE")
	case ORDWR:
		res = append(res, "ORDWR")
	case OEXEC:
		res = append(res, "OEXEC")
	}
	if m&OTRUNC != 0 {
		res = append(res, "OTRUNC")
	}
	if m&OCEXEC != 0 {
		res = append(res, "OCEXEC")
	}
	if m&ORCLOSE != 0 {
		res = append(res, "ORCLOSE")
	}
	return strings.Join(res, "|")
}

func (m OpenMode) ToOsFlag() int {
	var flags int
	switch {
	case m.IsWriteOnly():
		flags |= os.O_WRONLY
	case m.IsReadWrite():
		flags |= os.O_RDWR
	default:
		flags |= os.O_RDONLY
	}
	if m&OTRUNC != 0 {
		flags |= os.O_TRUNC
	}
	return flags
}

type Mode uint32

const (
	M_DIR       Mode = 0x80000000 // mode bit for directories
	M_APPEND    Mode = 0x40000000 // mode bit for append only files
	M_EXCL      Mode = 0x20000000 // mode bit for exclusive use files
	M_MOUNT     Mode = 0x10000000 // mode bit for mounted channel
	M_AUTH      Mode = 0x08000000 // mode bit for authentication file
	M_TMP       Mode = 0x04000000 // mode bit for non-backed-up file
	M_SYMLINK   Mode = 0x02000000 // mode bit for symbolic link (9P2000.u)
	M_DEVICE    Mode = 0x00800000 // mode bit for device file (9P2000.u)
	M_NAMEDPIPE Mode = 0x00200000 // mode bit for named pipe (9P2000.u)
	M_SOCKET    Mode = 0x00100000 // mode bit for socket (9P2000.u)
	M_SETUID    Mode = 0x00080000 // mode bit for setuid (9P2000.u)
	M_SETGID    Mode = 0x00040000 // mode bit for setgid (9P2000.u)
	M_READ      Mode = 0x4        // mode bit for read permission
	M_WRITE     Mode = 0x2        // mode bit for write permission
	M_EXEC      Mode = 0x1        // mode bit for execute permission

	// Mask for the bits that map onto the qid type
	M_TYPE = M_DIR | M_APPEND | M_EXCL | M_MOUNT | M_AUTH | M_TMP | M_SYMLINK

	// Bits that change what kind of file Tcreate makes
	M_SPECIAL = M_DIR | M_SYMLINK | M_DEVICE | M_NAMEDPIPE | M_SOCKET

	// Mask for the permissions bits
	M_PERM Mode = 0777
)

func (m Mode) IsDir() bool     { return m&M_DIR != 0 }
func (m Mode) IsSymlink() bool { return m&M_SYMLINK != 0 }

var modeNames = []struct {
	bit  Mode
	name string
}{
	{M_DIR, "M_DIR"},
	{M_APPEND, "M_APPEND"},
	{M_EXCL, "M_EXCL"},
	{M_MOUNT, "M_MOUNT"},
	{M_AUTH, "M_AUTH"},
	{M_TMP, "M_TMP"},
	{M_SYMLINK, "M_SYMLINK"},
	{M_DEVICE, "M_DEVICE"},
	{M_NAMEDPIPE, "M_NAMEDPIPE"},
	{M_SOCKET, "M_SOCKET"},
	{M_SETUID, "M_SETUID"},
	{M_SETGID, "M_SETGID"},
}

func (m Mode) String() string {
	res := []string{fs.FileMode(m & M_PERM).String()}
	for _, n := range modeNames {
		if m&n.bit != 0 {
			res = append(res, n.name)
		}
	}
	return strings.Join(res, "|")
}

// Convert to OS file flag with given OpenMode ORed in.
// Applies flags that are part of Mode (used for file creation)
func (m Mode) ToOsFlag(o OpenMode) int {
	flag := o.ToOsFlag()
	if m&M_EXCL != 0 {
		flag |= os.O_EXCL
	}
	if m&M_APPEND != 0 {
		flag |= os.O_APPEND
	}
	return flag
}

func (m Mode) ToFsMode() fs.FileMode {
	mode := fs.FileMode(m & M_PERM)
	if m&M_DIR != 0 {
		mode |= fs.ModeDir
	}
	if m&M_APPEND != 0 {
		mode |= fs.ModeAppend
	}
	if m&M_EXCL != 0 {
		mode |= fs.ModeExclusive
	}
	if m&M_TMP != 0 {
		mode |= fs.ModeTemporary
	}
	if m&M_SYMLINK != 0 {
		mode |= fs.ModeSymlink
	}
	if m&M_DEVICE != 0 {
		mode |= fs.ModeDevice
	}
	if m&M_NAMEDPIPE != 0 {
		mode |= fs.ModeNamedPipe
	}
	if m&M_SOCKET != 0 {
		mode |= fs.ModeSocket
	}
	if m&M_SETUID != 0 {
		mode |= fs.ModeSetuid
	}
	if m&M_SETGID != 0 {
		mode |= fs.ModeSetgid
	}
	return mode
}

func (m Mode) QidType() QidType {
	return QidType((m & M_TYPE) >> 24)
}

func ModeFromFileInfo(info fs.FileInfo) Mode {
	if in, ok := info.(FileInfoMode9P); ok {
		return in.Mode9P()
	}
	return ModeFromFS(info.Mode())
}

func ModeFromFS(mode fs.FileMode) Mode {
	perm := Mode(mode.Perm())
	if mode&fs.ModeDir != 0 {
		perm |= M_DIR
	}
	if mode&fs.ModeAppend != 0 {
		perm |= M_APPEND
	}
	if mode&fs.ModeExclusive != 0 {
		perm |= M_EXCL
	}
	if mode&fs.ModeTemporary != 0 {
		perm |= M_TMP
	}
	if mode&fs.ModeSymlink != 0 {
		perm |= M_SYMLINK
	}
	if mode&fs.ModeDevice != 0 {
		perm |= M_DEVICE
	}
	if mode&fs.ModeNamedPipe != 0 {
		perm |= M_NAMEDPIPE
	}
	if mode&fs.ModeSocket != 0 {
		perm |= M_SOCKET
	}
	if mode&fs.ModeSetuid != 0 {
		perm |= M_SETUID
	}
	if mode&fs.ModeSetgid != 0 {
		perm |= M_SETGID
	}
	return perm
}

var bo = binary.LittleEndian

/////////////////////////////////////

type Tag uint16

/////////////////////////////////////

type MsgBase []byte

func (r MsgBase) fill(mt MsgType, t Tag, size uint32) {
	bo.PutUint32(r[:4], size)       // Size
	r[4] = byte(mt)                 // MsgType
	bo.PutUint16(r[5:7], uint16(t)) // Tag
}

func (r MsgBase) Bytes() []byte { return r[:int(r.Size())] }
func (r MsgBase) Size() uint32  { return bo.Uint32(r[:4]) }
func (r MsgBase) Type() MsgType { return MsgType(r[4]) }
func (r MsgBase) Tag() Tag      { return Tag(bo.Uint16(r[5:7])) }

const msgOffset = 7

/////////////////////////////////////
type msgString []byte

const maxStringLen = math.MaxUint16

func (s msgString) Len() uint16 { return bo.Uint16(s[0:2]) }
func (s msgString) Bytes() []byte {
	return s[2 : s.Len()+2]
}
func (s msgString) String() string { return string(s.Bytes()) }
func (s msgString) SetStringAndLen(v string) int {
	bo.PutUint16(s[0:2], uint16(len(v)))
	copy(s[2:len(v)+2], v)
	return 2 + len(v)
}
func (s msgString) Nbytes() int { return int(s.Len()) + 2 }

/////////////////////////////////////

type Fid uint32 // always size 4

func (f Fid) String() string {
	if f == NO_FID {
		return "NOFID"
	}
	return fmt.Sprintf("Fid(%d)", uint32(f))
}

/////////////////////////////////////

type QidType byte

const (
	QT_FILE    QidType = 0x00
	QT_LINK    QidType = 0x01
	QT_SYMLINK QidType = 0x02
	QT_TMP     QidType = 0x04
	QT_AUTH    QidType = 0x08
	QT_MOUNT   QidType = 0x10
	QT_EXCL    QidType = 0x20
	QT_APPEND  QidType = 0x40
	QT_DIR     QidType = 0x80
)

func (qt QidType) IsDir() bool       { return qt&QT_DIR != 0 }
func (qt QidType) IsSymLink() bool   { return qt&QT_SYMLINK != 0 }
func (qt QidType) IsAuth() bool      { return qt&QT_AUTH != 0 }
func (qt QidType) IsMount() bool     { return qt&QT_MOUNT != 0 }
func (qt QidType) IsExclusive() bool { return qt&QT_EXCL != 0 }
func (qt QidType) IsTemporary() bool { return qt&QT_TMP != 0 }
func (qt QidType) IsAppend() bool    { return qt&QT_APPEND != 0 }

func (qt QidType) String() string {
	if qt == QT_FILE {
		return "QT_FILE"
	}
	parts := []string{}
	for _, p := range []struct {
		bit  QidType
		name string
	}{
		{QT_LINK, "QT_LINK"},
		{QT_SYMLINK, "QT_SYMLINK"},
		{QT_TMP, "QT_TMP"},
		{QT_AUTH, "QT_AUTH"},
		{QT_MOUNT, "QT_MOUNT"},
		{QT_EXCL, "QT_EXCL"},
		{QT_APPEND, "QT_APPEND"},
		{QT_DIR, "QT_DIR"},
	} {
		if qt&p.bit != 0 {
			parts = append(parts, p.name)
		}
	}
	return strings.Join(parts, "|")
}

const QidSize = 13

// qid.type[1] the type of the file (directory, etc.), represented as a bit vector corresponding to the high 8 bits of the file's mode word.
// qid.vers[4] version number for given path
// qid.path[8] the file server's unique identification for the file
type Qid []byte // always size 13

var NoTouchQid Qid

func init() {
	NoTouchQid = NewQid()
	for i := range NoTouchQid {
		NoTouchQid[i] = 0xff
	}
}

func NewQid() Qid {
	return Qid(make([]byte, QidSize))
}

func (q Qid) Fill(t QidType, version uint32, path uint64) Qid {
	q[0] = byte(t)
	bo.PutUint32(q[1:5], version)
	bo.PutUint64(q[5:13], path)
	return q
}

func (q Qid) Bytes() []byte       { return q[:QidSize] }
func (q Qid) Type() QidType       { return QidType(q[0]) }
func (q Qid) Version() uint32     { return bo.Uint32(q[1:5]) }
func (q Qid) SetVersion(v uint32) { bo.PutUint32(q[1:5], v) }
func (q Qid) Path() uint64        { return bo.Uint64(q[5 : 5+8]) }
func (q Qid) IsNoTouch() bool {
	for _, v := range q.Bytes() {
		if v != 0xff {
			return false
		}
	}
	return true
}

func (q Qid) Clone() Qid {
	qid := make(Qid, QidSize)
	copy(qid, q)
	return qid
}

func (q Qid) String() string {
	return fmt.Sprintf("Qid{ type: %s, version: %v, path: %v }", q.Type(), q.Version(), q.Path())
}

/////////////////////////////////////
// size[4] Tversion tag[2] msize[4] version[s]
type Tversion []byte

func NewTversion(t Tag, msize uint32, version string) Tversion {
	r := Tversion(make([]byte, msgOffset+4+2+len(version)))
	r.fill(t, msize, version)
	return r
}

func (r Tversion) fill(t Tag, maxMessageSize uint32, version string) {
	MsgBase(r).fill(msgTversion, t, uint32(msgOffset+4+2+len(version)))
	bo.PutUint32(r[msgOffset:msgOffset+4], maxMessageSize)
	msgString(r[msgOffset+4:]).SetStringAndLen(version)
}

func (r Tversion) Bytes() []byte   { return MsgBase(r).Bytes() }
func (r Tversion) Type() MsgType   { return msgTversion }
func (r Tversion) Tag() Tag        { return MsgBase(r).Tag() }
func (r Tversion) MsgSize() uint32 { return bo.Uint32(r[msgOffset : msgOffset+4]) }
func (r Tversion) Version() string { return msgString(r[msgOffset+4:]).String() }

/////////////////////////////////////
// size[4] Rversion tag[2] msize[4] version[s]
type Rversion []byte

func NewRversion(t Tag, msize uint32, version string) Rversion {
	r := Rversion(make([]byte, msgOffset+4+2+len(version)))
	MsgBase(r).fill(msgRversion, t, uint32(len(r)))
	bo.PutUint32(r[msgOffset:msgOffset+4], msize)
	msgString(r[msgOffset+4:]).SetStringAndLen(version)
	return r
}

func (r Rversion) Bytes() []byte   { return MsgBase(r).Bytes() }
func (r Rversion) Type() MsgType   { return msgRversion }
func (r Rversion) Tag() Tag        { return MsgBase(r).Tag() }
func (r Rversion) MsgSize() uint32 { return bo.Uint32(r[msgOffset : msgOffset+4]) }
func (r Rversion) Version() string { return msgString(r[msgOffset+4:]).String() }

/////////////////////////////////////
// size[4] Tauth tag[2] afid[4] uname[s] aname[s] n_uname[4]
type Tauth []byte

func NewTauth(t Tag, afid Fid, uname, aname string, nuname uint32) Tauth {
	size := msgOffset + 4 + 2 + len(uname) + 2 + len(aname) + 4
	r := Tauth(make([]byte, size))
	MsgBase(r).fill(msgTauth, t, uint32(size))
	bo.PutUint32(r[msgOffset:msgOffset+4], uint32(afid))
	off := msgOffset + 4
	off += msgString(r[off:]).SetStringAndLen(uname)
	off += msgString(r[off:]).SetStringAndLen(aname)
	bo.PutUint32(r[off:off+4], nuname)
	return r
}

func (r Tauth) Bytes() []byte { return MsgBase(r).Bytes() }
func (r Tauth) Type() MsgType { return msgTauth }
func (r Tauth) Tag() Tag      { return MsgBase(r).Tag() }
func (r Tauth) Afid() Fid     { return Fid(bo.Uint32(r[msgOffset : msgOffset+4])) }

func (r Tauth) uname() msgString { return msgString(r[msgOffset+4:]) }
func (r Tauth) Uname() string    { return r.uname().String() }
func (r Tauth) aname() msgString { return msgString(r[msgOffset+4+r.uname().Nbytes():]) }
func (r Tauth) Aname() string    { return r.aname().String() }
func (r Tauth) NUname() uint32 {
	o := msgOffset + 4 + r.uname().Nbytes() + r.aname().Nbytes()
	return bo.Uint32(r[o : o+4])
}

/////////////////////////////////////
// size[4] Rauth tag[2] aqid[13]
type Rauth []byte

func NewRauth(t Tag, aqid Qid) Rauth {
	r := Rauth(make([]byte, msgOffset+QidSize))
	MsgBase(r).fill(msgRauth, t, uint32(len(r)))
	copy(r[msgOffset:msgOffset+QidSize], aqid.Bytes())
	return r
}

func (r Rauth) Bytes() []byte { return MsgBase(r).Bytes() }
func (r Rauth) Type() MsgType { return msgRauth }
func (r Rauth) Tag() Tag      { return MsgBase(r).Tag() }
func (r Rauth) Aqid() Qid     { return Qid(r[msgOffset : msgOffset+QidSize]) }

/////////////////////////////////////
// size[4] Rerror tag[2] ename[s] errno[4]
type Rerror []byte

func NewRerror(t Tag, ename string, errno Errno) Rerror {
	if len(ename) > maxStringLen {
		ename = ename[:maxStringLen]
	}
	r := Rerror(make([]byte, msgOffset+2+len(ename)+4))
	MsgBase(r).fill(msgRerror, t, uint32(len(r)))
	off := msgOffset + msgString(r[msgOffset:]).SetStringAndLen(ename)
	bo.PutUint32(r[off:off+4], uint32(errno))
	return r
}

func (r Rerror) Bytes() []byte    { return MsgBase(r).Bytes() }
func (r Rerror) Type() MsgType    { return msgRerror }
func (r Rerror) Tag() Tag         { return MsgBase(r).Tag() }
func (r Rerror) ename() msgString { return msgString(r[msgOffset:]) }
func (r Rerror) Ename() string    { return r.ename().String() }
func (r Rerror) Errno() Errno {
	o := msgOffset + r.ename().Nbytes()
	return Errno(bo.Uint32(r[o : o+4]))
}

// Error converts the reply back into an error, preserving equality with
// the sentinel errors the server maps to wire names.
func (r Rerror) Error() error {
	return &Error{Ename: r.Ename(), Errno: r.Errno()}
}

/////////////////////////////////////
// size[4] Tclunk tag[2] fid[4]
type Tclunk []byte

func NewTclunk(t Tag, fid Fid) Tclunk {
	r := Tclunk(make([]byte, msgOffset+4))
	MsgBase(r).fill(msgTclunk, t, uint32(len(r)))
	bo.PutUint32(r[msgOffset:msgOffset+4], uint32(fid))
	return r
}

func (r Tclunk) Bytes() []byte { return MsgBase(r).Bytes() }
func (r Tclunk) Type() MsgType { return msgTclunk }
func (r Tclunk) Tag() Tag      { return MsgBase(r).Tag() }
func (r Tclunk) Fid() Fid      { return Fid(bo.Uint32(r[msgOffset : msgOffset+4])) }

/////////////////////////////////////
// size[4] Rclunk tag[2]
type Rclunk []byte

func NewRclunk(t Tag) Rclunk {
	r := Rclunk(make([]byte, msgOffset))
	MsgBase(r).fill(msgRclunk, t, msgOffset)
	return r
}

func (r Rclunk) Bytes() []byte { return MsgBase(r).Bytes() }
func (r Rclunk) Type() MsgType { return msgRclunk }
func (r Rclunk) Tag() Tag      { return MsgBase(r).Tag() }

/////////////////////////////////////
// size[4] Tflush tag[2] oldtag[2]
type Tflush []byte

func NewTflush(t Tag, oldTag Tag) Tflush {
	r := Tflush(make([]byte, msgOffset+2))
	MsgBase(r).fill(msgTflush, t, uint32(len(r)))
	bo.PutUint16(r[msgOffset:msgOffset+2], uint16(oldTag))
	return r
}

func (r Tflush) Bytes() []byte { return MsgBase(r).Bytes() }
func (r Tflush) Type() MsgType { return msgTflush }
func (r Tflush) Tag() Tag      { return MsgBase(r).Tag() }
func (r Tflush) OldTag() Tag   { return Tag(bo.Uint16(r[msgOffset : msgOffset+2])) }

/////////////////////////////////////
// size[4] Rflush tag[2]
type Rflush []byte

func NewRflush(t Tag) Rflush {
	r := Rflush(make([]byte, msgOffset))
	MsgBase(r).fill(msgRflush, t, msgOffset)
	return r
}

func (r Rflush) Bytes() []byte { return MsgBase(r).Bytes() }
func (r Rflush) Type() MsgType { return msgRflush }
func (r Rflush) Tag() Tag      { return MsgBase(r).Tag() }

/////////////////////////////////////
// size[4] Twalk tag[2] fid[4] newfid[4] nwname[2] nwname*(wname[s])
type Twalk []byte

// From docs:
// "To simplify the implementation of the servers, a maximum of sixteen name
// elements or qids may be packed in a single message. This constant is called
// MAXWELEM in fcall(3). Despite this restriction, the system imposes no limit
// on the number of elements in a file name, only the number that may be
// transmitted in a single message."
const MAXWELEM = 16

func NewTwalk(t Tag, fid, newfid Fid, wnames []string) Twalk {
	size := msgOffset + 4 + 4 + 2 + 2*len(wnames)
	for _, n := range wnames {
		size += len(n)
	}
	r := Twalk(make([]byte, size))
	MsgBase(r).fill(msgTwalk, t, uint32(size))
	bo.PutUint32(r[msgOffset:msgOffset+4], uint32(fid))
	bo.PutUint32(r[msgOffset+4:msgOffset+8], uint32(newfid))
	bo.PutUint16(r[msgOffset+8:msgOffset+10], uint16(len(wnames)))
	off := msgOffset + 10
	for _, n := range wnames {
		off += msgString(r[off:]).SetStringAndLen(n)
	}
	return r
}

func (r Twalk) Bytes() []byte    { return MsgBase(r).Bytes() }
func (r Twalk) Type() MsgType    { return msgTwalk }
func (r Twalk) Tag() Tag         { return MsgBase(r).Tag() }
func (r Twalk) Fid() Fid         { return Fid(bo.Uint32(r[msgOffset : msgOffset+4])) }
func (r Twalk) NewFid() Fid      { return Fid(bo.Uint32(r[msgOffset+4 : msgOffset+8])) }
func (r Twalk) NumWname() uint16 { return bo.Uint16(r[msgOffset+8 : msgOffset+10]) }

func (r Twalk) Wnames() []string {
	size := int(r.NumWname())
	names := make([]string, 0, size)
	off := msgOffset + 10
	for j := 0; j < size; j++ {
		mstr := msgString(r[off:])
		names = append(names, mstr.String())
		off += mstr.Nbytes()
	}
	return names
}

/////////////////////////////////////
// size[4] Rwalk tag[2] nwqid[2] nwqid*(wqid[13])
type Rwalk []byte

func NewRwalk(t Tag, wqids []Qid) Rwalk {
	size := msgOffset + 2 + len(wqids)*QidSize
	r := Rwalk(make([]byte, size))
	MsgBase(r).fill(msgRwalk, t, uint32(size))
	bo.PutUint16(r[msgOffset:msgOffset+2], uint16(len(wqids)))
	for i, wqid := range wqids {
		o := msgOffset + 2 + i*QidSize
		copy(r[o:o+QidSize], wqid.Bytes())
	}
	return r
}

func (r Rwalk) Bytes() []byte   { return MsgBase(r).Bytes() }
func (r Rwalk) Type() MsgType   { return msgRwalk }
func (r Rwalk) Tag() Tag        { return MsgBase(r).Tag() }
func (r Rwalk) NumWqid() uint16 { return bo.Uint16(r[msgOffset : msgOffset+2]) }
func (r Rwalk) Wqid(i int) Qid {
	off := msgOffset + 2 + i*QidSize
	return Qid(r[off : off+QidSize])
}

/////////////////////////////////////
// size[4] Tattach tag[2] fid[4] afid[4] uname[s] aname[s] n_uname[4]
type Tattach []byte

func NewTattach(t Tag, fid, afid Fid, uname, aname string, nuname uint32) Tattach {
	size := msgOffset + 4 + 4 + 2 + len(uname) + 2 + len(aname) + 4
	r := Tattach(make([]byte, size))
	MsgBase(r).fill(msgTattach, t, uint32(size))
	bo.PutUint32(r[msgOffset:msgOffset+4], uint32(fid))
	bo.PutUint32(r[msgOffset+4:msgOffset+8], uint32(afid))
	off := msgOffset + 8
	off += msgString(r[off:]).SetStringAndLen(uname)
	off += msgString(r[off:]).SetStringAndLen(aname)
	bo.PutUint32(r[off:off+4], nuname)
	return r
}

func (r Tattach) Bytes() []byte { return MsgBase(r).Bytes() }
func (r Tattach) Type() MsgType { return msgTattach }
func (r Tattach) Tag() Tag      { return MsgBase(r).Tag() }
func (r Tattach) Fid() Fid      { return Fid(bo.Uint32(r[msgOffset : msgOffset+4])) }
func (r Tattach) Afid() Fid     { return Fid(bo.Uint32(r[msgOffset+4 : msgOffset+8])) }

func (r Tattach) uname() msgString { return msgString(r[msgOffset+8:]) }
func (r Tattach) Uname() string    { return r.uname().String() }
func (r Tattach) aname() msgString { return msgString(r[msgOffset+8+r.uname().Nbytes():]) }
func (r Tattach) Aname() string    { return r.aname().String() }
func (r Tattach) NUname() uint32 {
	o := msgOffset + 8 + r.uname().Nbytes() + r.aname().Nbytes()
	return bo.Uint32(r[o : o+4])
}

/////////////////////////////////////
// size[4] Rattach tag[2] qid[13]
type Rattach []byte

func NewRattach(t Tag, qid Qid) Rattach {
	r := Rattach(make([]byte, msgOffset+QidSize))
	MsgBase(r).fill(msgRattach, t, uint32(len(r)))
	copy(r[msgOffset:msgOffset+QidSize], qid.Bytes())
	return r
}

func (r Rattach) Bytes() []byte { return MsgBase(r).Bytes() }
func (r Rattach) Type() MsgType { return msgRattach }
func (r Rattach) Tag() Tag      { return MsgBase(r).Tag() }
func (r Rattach) Qid() Qid      { return Qid(r[msgOffset : msgOffset+QidSize]) }

/////////////////////////////////////
// size[4] Topen tag[2] fid[4] mode[1]
type Topen []byte

func NewTopen(t Tag, fid Fid, mode OpenMode) Topen {
	r := Topen(make([]byte, msgOffset+4+1))
	MsgBase(r).fill(msgTopen, t, uint32(len(r)))
	bo.PutUint32(r[msgOffset:msgOffset+4], uint32(fid))
	r[msgOffset+4] = byte(mode)
	return r
}

func (r Topen) Bytes() []byte  { return MsgBase(r).Bytes() }
func (r Topen) Type() MsgType  { return msgTopen }
func (r Topen) Tag() Tag       { return MsgBase(r).Tag() }
func (r Topen) Fid() Fid       { return Fid(bo.Uint32(r[msgOffset : msgOffset+4])) }
func (r Topen) Mode() OpenMode { return OpenMode(r[msgOffset+4]) }

/////////////////////////////////////
// size[4] Ropen tag[2] qid[13] iounit[4]
type Ropen []byte

func NewRopen(t Tag, qid Qid, iounit uint32) Ropen {
	r := Ropen(make([]byte, msgOffset+QidSize+4))
	MsgBase(r).fill(msgRopen, t, uint32(len(r)))
	copy(r[msgOffset:msgOffset+QidSize], qid.Bytes())
	bo.PutUint32(r[msgOffset+QidSize:msgOffset+QidSize+4], iounit)
	return r
}

func (r Ropen) Bytes() []byte { return MsgBase(r).Bytes() }
func (r Ropen) Type() MsgType { return msgRopen }
func (r Ropen) Tag() Tag      { return MsgBase(r).Tag() }
func (r Ropen) Qid() Qid      { return Qid(r[msgOffset : msgOffset+QidSize]) }
func (r Ropen) Iounit() uint32 {
	return bo.Uint32(r[msgOffset+QidSize : msgOffset+QidSize+4])
}

/////////////////////////////////////
// size[4] Tcreate tag[2] fid[4] name[s] perm[4] mode[1] extension[s]
type Tcreate []byte

func NewTcreate(t Tag, fid Fid, name string, perm Mode, mode OpenMode, extension string) Tcreate {
	size := msgOffset + 4 + 2 + len(name) + 4 + 1 + 2 + len(extension)
	r := Tcreate(make([]byte, size))
	MsgBase(r).fill(msgTcreate, t, uint32(size))
	bo.PutUint32(r[msgOffset:msgOffset+4], uint32(fid))
	off := msgOffset + 4
	off += msgString(r[off:]).SetStringAndLen(name)
	bo.PutUint32(r[off:off+4], uint32(perm))
	r[off+4] = byte(mode)
	msgString(r[off+5:]).SetStringAndLen(extension)
	return r
}

func (r Tcreate) Bytes() []byte { return MsgBase(r).Bytes() }
func (r Tcreate) Type() MsgType { return msgTcreate }
func (r Tcreate) Tag() Tag      { return MsgBase(r).Tag() }
func (r Tcreate) Fid() Fid      { return Fid(bo.Uint32(r[msgOffset : msgOffset+4])) }

func (r Tcreate) name() msgString { return msgString(r[msgOffset+4:]) }
func (r Tcreate) Name() string    { return r.name().String() }

func (r Tcreate) Perm() Mode {
	o := msgOffset + 4 + r.name().Nbytes()
	return Mode(bo.Uint32(r[o : o+4]))
}
func (r Tcreate) Mode() OpenMode { return OpenMode(r[msgOffset+4+r.name().Nbytes()+4]) }
func (r Tcreate) Extension() string {
	return msgString(r[msgOffset+4+r.name().Nbytes()+5:]).String()
}

/////////////////////////////////////
// size[4] Rcreate tag[2] qid[13] iounit[4]
type Rcreate []byte

func NewRcreate(t Tag, q Qid, iounit uint32) Rcreate {
	r := Rcreate(make([]byte, msgOffset+QidSize+4))
	MsgBase(r).fill(msgRcreate, t, uint32(len(r)))
	copy(r[msgOffset:msgOffset+QidSize], q.Bytes())
	bo.PutUint32(r[msgOffset+QidSize:msgOffset+QidSize+4], iounit)
	return r
}

func (r Rcreate) Bytes() []byte { return MsgBase(r).Bytes() }
func (r Rcreate) Type() MsgType { return msgRcreate }
func (r Rcreate) Tag() Tag      { return MsgBase(r).Tag() }
func (r Rcreate) Qid() Qid      { return Qid(r[msgOffset : msgOffset+QidSize]) }
func (r Rcreate) Iounit() uint32 {
	return bo.Uint32(r[msgOffset+QidSize : msgOffset+QidSize+4])
}

/////////////////////////////////////
// size[4] Tread tag[2] fid[4] offset[8] count[4]
type Tread []byte

func NewTread(t Tag, fid Fid, offset uint64, count uint32) Tread {
	r := Tread(make([]byte, msgOffset+4+8+4))
	MsgBase(r).fill(msgTread, t, uint32(len(r)))
	bo.PutUint32(r[msgOffset:msgOffset+4], uint32(fid))
	bo.PutUint64(r[msgOffset+4:msgOffset+12], offset)
	bo.PutUint32(r[msgOffset+12:msgOffset+16], count)
	return r
}

func (r Tread) Bytes() []byte  { return MsgBase(r).Bytes() }
func (r Tread) Type() MsgType  { return msgTread }
func (r Tread) Tag() Tag       { return MsgBase(r).Tag() }
func (r Tread) Fid() Fid       { return Fid(bo.Uint32(r[msgOffset : msgOffset+4])) }
func (r Tread) Offset() uint64 { return bo.Uint64(r[msgOffset+4 : msgOffset+12]) }
func (r Tread) Count() uint32  { return bo.Uint32(r[msgOffset+12 : msgOffset+16]) }

/////////////////////////////////////
// size[4] Rread tag[2] count[4] data[count]
type Rread []byte

func NewRread(t Tag, data []byte) Rread {
	r := newRreadBuffer(uint32(len(data)))
	copy(r.DataNoLimit(), data)
	r.fill(t, uint32(len(data)))
	return r
}

// newRreadBuffer allocates a reply large enough for count bytes of data.
// Callers read into DataNoLimit then call fill with the bytes produced.
func newRreadBuffer(count uint32) Rread {
	return Rread(make([]byte, msgOffset+4+int(count)))
}

func (r Rread) fill(t Tag, count uint32) {
	MsgBase(r).fill(msgRread, t, uint32(msgOffset+4)+count)
	bo.PutUint32(r[msgOffset:msgOffset+4], count)
}

func (r Rread) Bytes() []byte       { return MsgBase(r).Bytes() }
func (r Rread) Type() MsgType       { return msgRread }
func (r Rread) Tag() Tag            { return MsgBase(r).Tag() }
func (r Rread) Count() uint32       { return bo.Uint32(r[msgOffset : msgOffset+4]) }
func (r Rread) Data() []byte        { return r[msgOffset+4 : msgOffset+4+r.Count()] }
func (r Rread) DataNoLimit() []byte { return r[msgOffset+4:] }

/////////////////////////////////////
// size[4] Twrite tag[2] fid[4] offset[8] count[4] data[count]
type Twrite []byte

func NewTwrite(t Tag, fid Fid, offset uint64, data []byte) Twrite {
	size := msgOffset + 4 + 8 + 4 + len(data)
	r := Twrite(make([]byte, size))
	MsgBase(r).fill(msgTwrite, t, uint32(size))
	bo.PutUint32(r[msgOffset:msgOffset+4], uint32(fid))
	bo.PutUint64(r[msgOffset+4:msgOffset+12], offset)
	bo.PutUint32(r[msgOffset+12:msgOffset+16], uint32(len(data)))
	copy(r[msgOffset+16:], data)
	return r
}

func (r Twrite) Bytes() []byte  { return MsgBase(r).Bytes() }
func (r Twrite) Type() MsgType  { return msgTwrite }
func (r Twrite) Tag() Tag       { return MsgBase(r).Tag() }
func (r Twrite) Fid() Fid       { return Fid(bo.Uint32(r[msgOffset : msgOffset+4])) }
func (r Twrite) Offset() uint64 { return bo.Uint64(r[msgOffset+4 : msgOffset+12]) }
func (r Twrite) Count() uint32  { return bo.Uint32(r[msgOffset+12 : msgOffset+16]) }
func (r Twrite) Data() []byte   { return r[msgOffset+16 : msgOffset+16+int(r.Count())] }

/////////////////////////////////////
// size[4] Rwrite tag[2] count[4]
type Rwrite []byte

func NewRwrite(t Tag, count uint32) Rwrite {
	r := Rwrite(make([]byte, msgOffset+4))
	MsgBase(r).fill(msgRwrite, t, uint32(len(r)))
	bo.PutUint32(r[msgOffset:msgOffset+4], count)
	return r
}

func (r Rwrite) Bytes() []byte { return MsgBase(r).Bytes() }
func (r Rwrite) Type() MsgType { return msgRwrite }
func (r Rwrite) Tag() Tag      { return MsgBase(r).Tag() }
func (r Rwrite) Count() uint32 { return bo.Uint32(r[msgOffset : msgOffset+4]) }

/////////////////////////////////////
// size[4] Tremove tag[2] fid[4]
type Tremove []byte

func NewTremove(t Tag, fid Fid) Tremove {
	r := Tremove(make([]byte, msgOffset+4))
	MsgBase(r).fill(msgTremove, t, uint32(len(r)))
	bo.PutUint32(r[msgOffset:msgOffset+4], uint32(fid))
	return r
}

func (r Tremove) Bytes() []byte { return MsgBase(r).Bytes() }
func (r Tremove) Type() MsgType { return msgTremove }
func (r Tremove) Tag() Tag      { return MsgBase(r).Tag() }
func (r Tremove) Fid() Fid      { return Fid(bo.Uint32(r[msgOffset : msgOffset+4])) }

/////////////////////////////////////
// size[4] Rremove tag[2]
type Rremove []byte

func NewRremove(t Tag) Rremove {
	r := Rremove(make([]byte, msgOffset))
	MsgBase(r).fill(msgRremove, t, msgOffset)
	return r
}

func (r Rremove) Bytes() []byte { return MsgBase(r).Bytes() }
func (r Rremove) Type() MsgType { return msgRremove }
func (r Rremove) Tag() Tag      { return MsgBase(r).Tag() }

/////////////////////////////////////
// size[4] Tstat tag[2] fid[4]
type Tstat []byte

func NewTstat(t Tag, fid Fid) Tstat {
	r := Tstat(make([]byte, msgOffset+4))
	MsgBase(r).fill(msgTstat, t, uint32(len(r)))
	bo.PutUint32(r[msgOffset:msgOffset+4], uint32(fid))
	return r
}

func (r Tstat) Bytes() []byte { return MsgBase(r).Bytes() }
func (r Tstat) Type() MsgType { return msgTstat }
func (r Tstat) Tag() Tag      { return MsgBase(r).Tag() }
func (r Tstat) Fid() Fid      { return Fid(bo.Uint32(r[msgOffset : msgOffset+4])) }

/////////////////////////////////////
// size[4] Rstat tag[2] stat[n]
type Rstat []byte

// from docs:
//
//	"To make the contents of a directory, such as returned by read(5), easy
//	to parse, each directory entry begins with a size field. For
//	consistency, the entries in Twstat and Rstat messages also contain their
//	size, which means the size appears twice."
func NewRstat(t Tag, s Stat) Rstat {
	b := s.Bytes()
	size := msgOffset + 2 + len(b)
	r := Rstat(make([]byte, size))
	MsgBase(r).fill(msgRstat, t, uint32(size))
	bo.PutUint16(r[msgOffset:msgOffset+2], uint16(len(b)))
	copy(r[msgOffset+2:], b)
	return r
}

func (r Rstat) Bytes() []byte { return MsgBase(r).Bytes() }
func (r Rstat) Type() MsgType { return msgRstat }
func (r Rstat) Tag() Tag      { return MsgBase(r).Tag() }
func (r Rstat) N() uint16     { return bo.Uint16(r[msgOffset : msgOffset+2]) }
func (r Rstat) Stat() Stat    { return Stat(r[msgOffset+2 : msgOffset+2+int(r.N())]) }

/////////////////////////////////////
// size[4] Twstat tag[2] fid[4] stat[n]
type Twstat []byte

func NewTwstat(t Tag, fid Fid, s Stat) Twstat {
	b := s.Bytes()
	size := msgOffset + 4 + 2 + len(b)
	r := Twstat(make([]byte, size))
	MsgBase(r).fill(msgTwstat, t, uint32(size))
	bo.PutUint32(r[msgOffset:msgOffset+4], uint32(fid))
	bo.PutUint16(r[msgOffset+4:msgOffset+6], uint16(len(b)))
	copy(r[msgOffset+6:], b)
	return r
}

func (r Twstat) Bytes() []byte { return MsgBase(r).Bytes() }
func (r Twstat) Type() MsgType { return msgTwstat }
func (r Twstat) Tag() Tag      { return MsgBase(r).Tag() }
func (r Twstat) Fid() Fid      { return Fid(bo.Uint32(r[msgOffset : msgOffset+4])) }
func (r Twstat) N() uint16     { return bo.Uint16(r[msgOffset+4 : msgOffset+6]) }
func (r Twstat) Stat() Stat    { return Stat(r[msgOffset+6 : msgOffset+6+int(r.N())]) }

/////////////////////////////////////
// size[4] Rwstat tag[2]
type Rwstat []byte

func NewRwstat(t Tag) Rwstat {
	r := Rwstat(make([]byte, msgOffset))
	MsgBase(r).fill(msgRwstat, t, msgOffset)
	return r
}

func (r Rwstat) Bytes() []byte { return MsgBase(r).Bytes() }
func (r Rwstat) Type() MsgType { return msgRwstat }
func (r Rwstat) Tag() Tag      { return MsgBase(r).Tag() }
