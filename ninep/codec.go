package ninep

import (
	"errors"
	"fmt"
	"io"
)

// Encode returns the wire bytes of m. Messages are stored in their wire
// form, so this is deterministic and does not allocate.
func Encode(m Message) []byte { return m.Bytes() }

// Decode validates a single frame and returns a typed view over it. The
// returned message aliases frame. msize of 0 skips the size limit check.
func Decode(frame []byte, msize uint32) (Message, error) {
	if len(frame) < msgOffset {
		return nil, &FramingError{Kind: Truncated, Reason: fmt.Sprintf("need %d header bytes, got %d", msgOffset, len(frame))}
	}
	base := MsgBase(frame)
	size := base.Size()
	mt := base.Type()
	if size < msgOffset {
		return nil, &FramingError{Kind: Malformed, Type: mt, Reason: fmt.Sprintf("declared size %d is smaller than the header", size)}
	}
	if msize != 0 && size > msize {
		return nil, &FramingError{Kind: SizeExceedsNegotiatedMax, Type: mt, Reason: fmt.Sprintf("%d > %d", size, msize)}
	}
	if uint64(len(frame)) < uint64(size) {
		return nil, &FramingError{Kind: Truncated, Type: mt, Reason: fmt.Sprintf("declared size %d, have %d bytes", size, len(frame))}
	}
	frame = frame[:size]

	validate, ok := validators[mt]
	if !ok {
		return nil, &FramingError{Kind: UnknownType, Type: mt}
	}
	d := fieldReader{b: frame, off: msgOffset}
	validate(&d)
	if d.err == "" && d.off != len(frame) {
		d.fail("%d trailing bytes", len(frame)-d.off)
	}
	if d.err != "" {
		return nil, &FramingError{Kind: Malformed, Type: mt, Reason: d.err}
	}
	return view(mt, frame), nil
}

func view(mt MsgType, b []byte) Message {
	switch mt {
	case msgTversion:
		return Tversion(b)
	case msgRversion:
		return Rversion(b)
	case msgTauth:
		return Tauth(b)
	case msgRauth:
		return Rauth(b)
	case msgTattach:
		return Tattach(b)
	case msgRattach:
		return Rattach(b)
	case msgRerror:
		return Rerror(b)
	case msgTflush:
		return Tflush(b)
	case msgRflush:
		return Rflush(b)
	case msgTwalk:
		return Twalk(b)
	case msgRwalk:
		return Rwalk(b)
	case msgTopen:
		return Topen(b)
	case msgRopen:
		return Ropen(b)
	case msgTcreate:
		return Tcreate(b)
	case msgRcreate:
		return Rcreate(b)
	case msgTread:
		return Tread(b)
	case msgRread:
		return Rread(b)
	case msgTwrite:
		return Twrite(b)
	case msgRwrite:
		return Rwrite(b)
	case msgTclunk:
		return Tclunk(b)
	case msgRclunk:
		return Rclunk(b)
	case msgTremove:
		return Tremove(b)
	case msgRremove:
		return Rremove(b)
	case msgTstat:
		return Tstat(b)
	case msgRstat:
		return Rstat(b)
	case msgTwstat:
		return Twstat(b)
	case msgRwstat:
		return Rwstat(b)
	}
	return MsgBase(b)
}

// ReadFrame reads one size-prefixed frame from r into buf and decodes it.
// The size prefix is checked against msize before the body is read, so an
// oversized frame is rejected without consuming it.
func ReadFrame(r io.Reader, buf []byte, msize uint32) (Message, error) {
	if len(buf) < msgOffset {
		return nil, io.ErrShortBuffer
	}
	if n, err := readUpTo(r, buf[:4]); err != nil {
		if n > 0 && errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, &FramingError{Kind: Truncated, Reason: fmt.Sprintf("connection closed after %d header bytes", n)}
		}
		return nil, err
	}
	size := MsgBase(buf).Size()
	if size < msgOffset {
		return nil, &FramingError{Kind: Malformed, Reason: fmt.Sprintf("declared size %d is smaller than the header", size)}
	}
	if (msize != 0 && size > msize) || size > uint32(len(buf)) {
		return nil, &FramingError{Kind: SizeExceedsNegotiatedMax, Reason: fmt.Sprintf("%d > %d", size, msize)}
	}
	if n, err := readUpTo(r, buf[4:size]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, &FramingError{Kind: Truncated, Reason: fmt.Sprintf("connection closed after %d of %d bytes", n+4, size)}
		}
		return nil, err
	}
	return Decode(buf[:size], msize)
}

// writeFrame writes a whole frame, retrying partial and temporary writes.
func writeFrame(w io.Writer, m Message) error {
	b := m.Bytes()
	for len(b) > 0 {
		n, err := w.Write(b)
		b = b[n:]
		if isTemporaryErr(err) {
			continue
		} else if err != nil {
			return err
		}
	}
	return nil
}

////////////////////////////////////////////////////////////////////////////////

// fieldReader walks a frame checking that every field fits. The first
// failure is kept in err and later reads become no-ops.
type fieldReader struct {
	b   []byte
	off int
	err string
}

func (d *fieldReader) fail(format string, values ...any) {
	if d.err == "" {
		d.err = fmt.Sprintf(format, values...)
	}
}

func (d *fieldReader) take(n int, what string) []byte {
	if d.err != "" {
		return nil
	}
	if n < 0 || len(d.b)-d.off < n {
		d.fail("%s needs %d bytes at offset %d, frame has %d", what, n, d.off, len(d.b))
		return nil
	}
	v := d.b[d.off : d.off+n]
	d.off += n
	return v
}

func (d *fieldReader) u8(what string) byte {
	if v := d.take(1, what); v != nil {
		return v[0]
	}
	return 0
}

func (d *fieldReader) u16(what string) uint16 {
	if v := d.take(2, what); v != nil {
		return bo.Uint16(v)
	}
	return 0
}

func (d *fieldReader) u32(what string) uint32 {
	if v := d.take(4, what); v != nil {
		return bo.Uint32(v)
	}
	return 0
}

func (d *fieldReader) u64(what string) uint64 {
	if v := d.take(8, what); v != nil {
		return bo.Uint64(v)
	}
	return 0
}

func (d *fieldReader) str(what string) string {
	n := d.u16(what + " length")
	return string(d.take(int(n), what))
}

func (d *fieldReader) qid(what string) { d.take(QidSize, what) }

func (d *fieldReader) stat(what string) {
	n := int(d.u16(what + " outer size"))
	if d.err != "" {
		return
	}
	start := d.off
	size := int(d.u16(what + " size"))
	if d.err == "" && size+2 != n {
		d.fail("%s size %d disagrees with outer size %d", what, size, n)
		return
	}
	d.take(2+4, what+" type/dev")
	d.qid(what + " qid")
	d.take(4+4+4+8, what+" mode/atime/mtime/length")
	for _, f := range [...]string{"name", "uid", "gid", "muid", "extension"} {
		d.str(what + " " + f)
	}
	d.take(3*4, what+" numeric ids")
	if d.err == "" && d.off-start != n {
		d.fail("%s has %d trailing bytes", what, n-(d.off-start))
	}
}

var validators = map[MsgType]func(d *fieldReader){
	msgTversion: func(d *fieldReader) { d.u32("msize"); d.str("version") },
	msgRversion: func(d *fieldReader) { d.u32("msize"); d.str("version") },
	msgTauth: func(d *fieldReader) {
		d.u32("afid")
		d.str("uname")
		d.str("aname")
		d.u32("n_uname")
	},
	msgRauth: func(d *fieldReader) { d.qid("aqid") },
	msgTattach: func(d *fieldReader) {
		d.u32("fid")
		d.u32("afid")
		d.str("uname")
		d.str("aname")
		d.u32("n_uname")
	},
	msgRattach: func(d *fieldReader) { d.qid("qid") },
	msgRerror:  func(d *fieldReader) { d.str("ename"); d.u32("errno") },
	msgTflush:  func(d *fieldReader) { d.u16("oldtag") },
	msgRflush:  func(d *fieldReader) {},
	msgTwalk: func(d *fieldReader) {
		d.u32("fid")
		d.u32("newfid")
		n := d.u16("nwname")
		for i := 0; i < int(n) && d.err == ""; i++ {
			d.str("wname")
		}
	},
	msgRwalk: func(d *fieldReader) {
		n := d.u16("nwqid")
		for i := 0; i < int(n) && d.err == ""; i++ {
			d.qid("wqid")
		}
	},
	msgTopen: func(d *fieldReader) { d.u32("fid"); d.u8("mode") },
	msgRopen: func(d *fieldReader) { d.qid("qid"); d.u32("iounit") },
	msgTcreate: func(d *fieldReader) {
		d.u32("fid")
		d.str("name")
		d.u32("perm")
		d.u8("mode")
		d.str("extension")
	},
	msgRcreate: func(d *fieldReader) { d.qid("qid"); d.u32("iounit") },
	msgTread: func(d *fieldReader) {
		d.u32("fid")
		d.u64("offset")
		d.u32("count")
	},
	msgRread: func(d *fieldReader) {
		n := d.u32("count")
		d.take(int(n), "data")
	},
	msgTwrite: func(d *fieldReader) {
		d.u32("fid")
		d.u64("offset")
		n := d.u32("count")
		d.take(int(n), "data")
	},
	msgRwrite:  func(d *fieldReader) { d.u32("count") },
	msgTclunk:  func(d *fieldReader) { d.u32("fid") },
	msgRclunk:  func(d *fieldReader) {},
	msgTremove: func(d *fieldReader) { d.u32("fid") },
	msgRremove: func(d *fieldReader) {},
	msgTstat:   func(d *fieldReader) { d.u32("fid") },
	msgRstat:   func(d *fieldReader) { d.stat("stat") },
	msgTwstat:  func(d *fieldReader) { d.u32("fid"); d.stat("stat") },
	msgRwstat:  func(d *fieldReader) {},
}
