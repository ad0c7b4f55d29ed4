package ninep

import (
	"fmt"
	"io/fs"
	"time"
)

/*
DESCRIPTION

The stat transaction inquires about the file identified by fid. The reply will
contain a machine-independent directory entry, stat, laid out as follows:

	size[2] total byte count of the following data
	type[2] for kernel use
	dev[4] for kernel use
	qid.type[1] the type of the file (directory, etc.), represented as a bit vector corresponding to the high 8 bits of the file's mode word.
	qid.vers[4] version number for given path
	qid.path[8] the file server's unique identification for the file
	mode[4] permissions and flags
	atime[4] last access time
	mtime[4] last modification time
	length[8] length of file in bytes
	name[s] file name; must be / if the file is the root directory of the server
	uid[s] owner name
	gid[s] group name
	muid[s] name of the user who last modified the file

9P2000.u appends:

	extension[s] symlink target, or "b/c major minor" for devices
	n_uid[4] numeric owner id
	n_gid[4] numeric group id
	n_muid[4] numeric id of the user who last modified the file
*/
type Stat []byte

const (
	statStringsOffset = 41
	minStatSize       = statStringsOffset + 5*2 + 3*4
	maxStatSize       = minStatSize + maxStringLen*5
)

func statSize(name, uid, gid, muid, ext string) int {
	return minStatSize + len(name) + len(uid) + len(gid) + len(muid) + len(ext)
}

// NewStat allocates a stat with the given strings. Numeric ids default to
// NO_UID; fixed fields are zero.
func NewStat(name, uid, gid, muid, extension string) Stat {
	size := statSize(name, uid, gid, muid, extension)
	s := Stat(make([]byte, size))
	s.SetSize(uint16(size - 2))
	b := s[statStringsOffset:]
	for _, str := range [...]string{name, uid, gid, muid, extension} {
		if len(str) > maxStringLen {
			panic(fmt.Errorf("stat string is too large (%d > %d)", len(str), maxStringLen))
		}
		b = b[msgString(b).SetStringAndLen(str):]
	}
	bo.PutUint32(b[0:4], NO_UID)
	bo.PutUint32(b[4:8], NO_UID)
	bo.PutUint32(b[8:12], NO_UID)
	return s
}

// Useful for creating a Twstat stat that changes nothing, as described by
// stat(5). Non-string fields can be modified to only request that field be
// changed.
func SyncStat() Stat {
	return SyncStatWithName("")
}

// Like SyncStat(), but allows setting the file name.
func SyncStatWithName(name string) Stat {
	st := NewStat(name, "", "", "", "")
	st.SetType(NoTouchU16)
	st.SetDev(NoTouchU32)
	st.SetQid(NoTouchQid)
	st.SetMode(NoTouchMode)
	st.SetAtime(NoTouchU32)
	st.SetMtime(NoTouchU32)
	st.SetLength(NoTouchU64)
	return st
}

func (s Stat) Nbytes() int   { return int(s.Size()) + 2 }
func (s Stat) Bytes() []byte { return s[:s.Size()+2] }

func (s Stat) String() string {
	return fmt.Sprintf(
		"Stat{Qid: %s, Mode: %s, Atime: %d, Mtime: %d, Length: %d, Name: %q, Uid: %q, Gid: %q, Muid: %q, Ext: %q, NUid: %d, NGid: %d, NMuid: %d}",
		s.Qid(), s.Mode(), s.Atime(), s.Mtime(), s.Length(),
		s.Name(), s.Uid(), s.Gid(), s.Muid(), s.Extension(),
		s.NUid(), s.NGid(), s.NMuid(),
	)
}

func (s Stat) Size() uint16     { return bo.Uint16(s[:2]) }
func (s Stat) SetSize(v uint16) { bo.PutUint16(s[:2], v) }

func (s Stat) TypeNoTouch() bool { return s.Type() == NoTouchU16 }
func (s Stat) Type() uint16      { return bo.Uint16(s[2:4]) }
func (s Stat) SetType(v uint16)  { bo.PutUint16(s[2:4], v) }

func (s Stat) DevNoTouch() bool { return s.Dev() == NoTouchU32 }
func (s Stat) Dev() uint32      { return bo.Uint32(s[4:8]) }
func (s Stat) SetDev(v uint32)  { bo.PutUint32(s[4:8], v) }

func (s Stat) Qid() Qid     { return Qid(s[8 : 8+QidSize]) }
func (s Stat) SetQid(v Qid) { copy(s[8:8+QidSize], v.Bytes()) }

func (s Stat) ModeNoTouch() bool { return s.Mode() == NoTouchMode }
func (s Stat) Mode() Mode        { return Mode(bo.Uint32(s[21:25])) }
func (s Stat) SetMode(v Mode)    { bo.PutUint32(s[21:25], uint32(v)) }

func (s Stat) AtimeNoTouch() bool { return s.Atime() == NoTouchU32 }
func (s Stat) Atime() uint32      { return bo.Uint32(s[25:29]) }
func (s Stat) SetAtime(v uint32)  { bo.PutUint32(s[25:29], v) }

func (s Stat) MtimeNoTouch() bool { return s.Mtime() == NoTouchU32 }
func (s Stat) Mtime() uint32      { return bo.Uint32(s[29:33]) }
func (s Stat) SetMtime(v uint32)  { bo.PutUint32(s[29:33], v) }

func (s Stat) LengthNoTouch() bool { return s.Length() == NoTouchU64 }
func (s Stat) Length() uint64      { return bo.Uint64(s[33:41]) }
func (s Stat) SetLength(v uint64)  { bo.PutUint64(s[33:41], v) }

// str returns the i-th string field: name, uid, gid, muid, extension.
func (s Stat) str(i int) msgString {
	off := statStringsOffset
	for j := 0; j < i; j++ {
		off += msgString(s[off:]).Nbytes()
	}
	return msgString(s[off:])
}

func (s Stat) NameNoTouch() bool { return s.str(0).Len() == 0 }
func (s Stat) Name() string      { return s.str(0).String() }

func (s Stat) UidNoTouch() bool { return s.str(1).Len() == 0 }
func (s Stat) Uid() string      { return s.str(1).String() }

func (s Stat) GidNoTouch() bool { return s.str(2).Len() == 0 }
func (s Stat) Gid() string      { return s.str(2).String() }

func (s Stat) MuidNoTouch() bool { return s.str(3).Len() == 0 }
func (s Stat) Muid() string      { return s.str(3).String() }

func (s Stat) ExtensionNoTouch() bool { return s.str(4).Len() == 0 }
func (s Stat) Extension() string      { return s.str(4).String() }

func (s Stat) numericOffset() int {
	e := s.str(4)
	return len(s) - len(e) + e.Nbytes()
}

func (s Stat) NUid() uint32 { o := s.numericOffset(); return bo.Uint32(s[o : o+4]) }
func (s Stat) NGid() uint32 { o := s.numericOffset() + 4; return bo.Uint32(s[o : o+4]) }
func (s Stat) NMuid() uint32 {
	o := s.numericOffset() + 8
	return bo.Uint32(s[o : o+4])
}

func (s Stat) SetNUid(v uint32)  { o := s.numericOffset(); bo.PutUint32(s[o:o+4], v) }
func (s Stat) SetNGid(v uint32)  { o := s.numericOffset() + 4; bo.PutUint32(s[o:o+4], v) }
func (s Stat) SetNMuid(v uint32) { o := s.numericOffset() + 8; bo.PutUint32(s[o:o+4], v) }

func (s Stat) NUidNoTouch() bool { return s.NUid() == NO_UID }
func (s Stat) NGidNoTouch() bool { return s.NGid() == NO_UID }

// IsSync reports if the stat asks for no changes at all, which Twstat
// treats as a request to commit the file to stable storage.
func (s Stat) IsSync() bool {
	return s.TypeNoTouch() && s.DevNoTouch() && s.Qid().IsNoTouch() &&
		s.ModeNoTouch() && s.AtimeNoTouch() && s.MtimeNoTouch() &&
		s.LengthNoTouch() && s.NameNoTouch() && s.UidNoTouch() &&
		s.GidNoTouch() && s.MuidNoTouch() && s.NUidNoTouch() && s.NGidNoTouch()
}

func (s Stat) FileInfo() StatFileInfo { return StatFileInfo{s} }
func (s Stat) Clone() Stat {
	st := make(Stat, s.Nbytes())
	copy(st, s)
	return st
}

// fs.FileInfo interface

type StatFileInfo struct {
	Stat
}

func (s StatFileInfo) Size() int64        { return int64(s.Stat.Length()) }
func (s StatFileInfo) Name() string       { return s.Stat.Name() }
func (s StatFileInfo) Mode() fs.FileMode  { return s.Stat.Mode().ToFsMode() }
func (s StatFileInfo) Mode9P() Mode       { return s.Stat.Mode() }
func (s StatFileInfo) ModTime() time.Time { return time.Unix(int64(s.Stat.Mtime()), 0) }
func (s StatFileInfo) IsDir() bool        { return s.Stat.Mode()&M_DIR != 0 }
func (s StatFileInfo) Sys() interface{}   { return s.Stat }
