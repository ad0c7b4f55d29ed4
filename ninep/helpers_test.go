package ninep

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"iter"
	"net"
	"slices"
	"sort"
	"sync"
	"testing"
	"time"
)

// memNode is a file or directory in a memSys.
type memNode struct {
	dir  bool
	data []byte
	mode fs.FileMode
}

// memSys is a minimal in memory FileSystem. Walking to an element named
// "block" waits until the request is cancelled. Walking to "slow" also
// waits for the cancellation, then finishes the walk anyway.
type memSys struct {
	m       sync.Mutex
	nodes   map[string]*memNode
	blocked chan string
	removed []string
}

func newMemSys(paths ...string) *memSys {
	s := &memSys{
		nodes:   map[string]*memNode{"": {dir: true, mode: fs.ModeDir | 0755}},
		blocked: make(chan string, 16),
	}
	for _, p := range paths {
		s.add(p)
	}
	return s
}

// add creates p and its parents. A trailing slash makes p a directory.
func (s *memSys) add(p string) {
	isDir := len(p) > 0 && p[len(p)-1] == '/'
	parts := PathSplit(p)
	cur := ""
	for i, part := range parts {
		cur = JoinPath(cur, part)
		if _, ok := s.nodes[cur]; ok {
			continue
		}
		if i < len(parts)-1 || isDir {
			s.nodes[cur] = &memNode{dir: true, mode: fs.ModeDir | 0755}
		} else {
			s.nodes[cur] = &memNode{data: []byte("contents of " + cur), mode: 0644}
		}
	}
}

func (s *memSys) info(p string, n *memNode) fs.FileInfo {
	return &SimpleFileInfo{
		FIName:    Basename(p),
		FISize:    int64(len(n.data)),
		FIMode:    n.mode,
		FIModTime: time.Unix(1700000000, 0),
	}
}

func (s *memSys) Walk(ctx context.Context, dir, name string) (string, fs.FileInfo, error) {
	if name == "block" {
		s.blocked <- dir
		<-ctx.Done()
		return "", nil, ctx.Err()
	}
	if name == "slow" {
		s.blocked <- dir
		<-ctx.Done()
	}
	p := JoinPath(dir, name)
	s.m.Lock()
	defer s.m.Unlock()
	n, ok := s.nodes[p]
	if !ok {
		return "", nil, fs.ErrNotExist
	}
	return p, s.info(p, n), nil
}

func (s *memSys) Stat(ctx context.Context, p string) (fs.FileInfo, error) {
	s.m.Lock()
	defer s.m.Unlock()
	n, ok := s.nodes[p]
	if !ok {
		return nil, fs.ErrNotExist
	}
	return s.info(p, n), nil
}

func (s *memSys) WriteStat(ctx context.Context, p string, st Stat) error {
	s.m.Lock()
	defer s.m.Unlock()
	n, ok := s.nodes[p]
	if !ok {
		return fs.ErrNotExist
	}
	if !st.NameNoTouch() && st.Name() != Basename(p) {
		np := JoinPath(Dirname(p), st.Name())
		if _, ok := s.nodes[np]; ok {
			return fs.ErrExist
		}
		delete(s.nodes, p)
		s.nodes[np] = n
	}
	if !st.LengthNoTouch() {
		n.data = n.data[:min(len(n.data), int(st.Length()))]
	}
	return nil
}

type memHandle struct {
	s *memSys
	n *memNode
}

func (h *memHandle) ReadAt(p []byte, off int64) (int, error) {
	h.s.m.Lock()
	defer h.s.m.Unlock()
	return bytes.NewReader(h.n.data).ReadAt(p, off)
}

func (h *memHandle) WriteAt(p []byte, off int64) (int, error) {
	h.s.m.Lock()
	defer h.s.m.Unlock()
	end := int(off) + len(p)
	if end > len(h.n.data) {
		h.n.data = append(h.n.data, make([]byte, end-len(h.n.data))...)
	}
	copy(h.n.data[off:], p)
	return len(p), nil
}

func (h *memHandle) Close() error { return nil }

func (s *memSys) Open(ctx context.Context, p string, mode OpenMode) (FileHandle, error) {
	s.m.Lock()
	defer s.m.Unlock()
	n, ok := s.nodes[p]
	if !ok {
		return nil, fs.ErrNotExist
	}
	if mode&OTRUNC != 0 {
		n.data = nil
	}
	return &memHandle{s, n}, nil
}

func (s *memSys) ListDir(ctx context.Context, p string) iter.Seq2[fs.FileInfo, error] {
	s.m.Lock()
	defer s.m.Unlock()
	var names []string
	for k := range s.nodes {
		if k != "" && Dirname(k) == p {
			names = append(names, k)
		}
	}
	sort.Strings(names)
	infos := make([]fs.FileInfo, 0, len(names))
	for _, k := range names {
		infos = append(infos, s.info(k, s.nodes[k]))
	}
	return FileInfoSliceIterator(infos)
}

func (s *memSys) Create(ctx context.Context, dir, name string, perm Mode, mode OpenMode, ext string) (string, fs.FileInfo, FileHandle, error) {
	p := JoinPath(dir, name)
	s.m.Lock()
	defer s.m.Unlock()
	if _, ok := s.nodes[p]; ok {
		return "", nil, nil, fs.ErrExist
	}
	n := &memNode{mode: perm.ToFsMode()}
	n.dir = perm.IsDir()
	s.nodes[p] = n
	if n.dir {
		return p, s.info(p, n), nil, nil
	}
	return p, s.info(p, n), &memHandle{s, n}, nil
}

func (s *memSys) Remove(ctx context.Context, p string) error {
	s.m.Lock()
	defer s.m.Unlock()
	if _, ok := s.nodes[p]; !ok {
		return fs.ErrNotExist
	}
	for k := range s.nodes {
		if k != p && IsSubpath(k, p) {
			return ErrNotEmpty
		}
	}
	delete(s.nodes, p)
	s.removed = append(s.removed, p)
	return nil
}

func (s *memSys) exists(p string) bool {
	s.m.Lock()
	defer s.m.Unlock()
	_, ok := s.nodes[p]
	return ok
}

////////////////////////////////////////////////

// testClient speaks raw 9P to a session over one end of a net.Pipe.
type testClient struct {
	t    *testing.T
	conn net.Conn
	buf  []byte
	done chan struct{}
}

func newTestServer(t *testing.T, exports *Exports) *Server {
	t.Helper()
	srv := NewServer(exports, DiscardLogger())
	srv.MaxMsgSize = 65536
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})
	return srv
}

func dial(t *testing.T, srv *Server) *testClient {
	t.Helper()
	client, server := net.Pipe()
	c := &testClient{t: t, conn: client, buf: make([]byte, 65536), done: make(chan struct{})}
	go func() {
		defer close(c.done)
		srv.ServeConn(context.Background(), server)
	}()
	t.Cleanup(func() { client.Close() })
	return c
}

func (c *testClient) send(m Message) {
	c.t.Helper()
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if _, err := c.conn.Write(m.Bytes()); err != nil {
		c.t.Fatalf("send %s: %s", m.Type(), err)
	}
}

func (c *testClient) recv() Message {
	c.t.Helper()
	m, err := c.tryRecv()
	if err != nil {
		c.t.Fatalf("recv: %s", err)
	}
	return m
}

func (c *testClient) tryRecv() (Message, error) {
	c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	m, err := ReadFrame(c.conn, c.buf, 0)
	if err != nil {
		return nil, err
	}
	return view(m.Type(), slices.Clone(m.Bytes())), nil
}

func (c *testClient) rpc(m Message) Message {
	c.t.Helper()
	c.send(m)
	res := c.recv()
	if res.Tag() != m.Tag() {
		c.t.Fatalf("%s: expected reply tag %d, got %d (%s)", m.Type(), m.Tag(), res.Tag(), res.Type())
	}
	return res
}

func (c *testClient) version() {
	c.t.Helper()
	res, ok := c.rpc(NewTversion(NO_TAG, 8192, VERSION_9P2000U)).(Rversion)
	if !ok || res.Version() != VERSION_9P2000U {
		c.t.Fatalf("version negotiation failed: %#v", res)
	}
}

func (c *testClient) attach(fid Fid, aname string) Qid {
	c.t.Helper()
	res := c.rpc(NewTattach(1, fid, NO_FID, "glenda", aname, NO_UID))
	r, ok := res.(Rattach)
	if !ok {
		c.t.Fatalf("attach %q: %s", aname, describe(res))
	}
	return r.Qid()
}

// expectClosed waits for the server to hang up.
func (c *testClient) expectClosed() {
	c.t.Helper()
	for {
		m, err := c.tryRecv()
		if err != nil {
			if isTimeoutErr(err) {
				c.t.Fatalf("expected the connection to close")
			}
			break
		}
		c.t.Logf("reply before close: %s", describe(m))
	}
	select {
	case <-c.done:
	case <-time.After(5 * time.Second):
		c.t.Fatalf("session did not finish")
	}
}

func expectRerror(t *testing.T, m Message, errno Errno) Rerror {
	t.Helper()
	r, ok := m.(Rerror)
	if !ok {
		t.Fatalf("expected Rerror errno %d, got %s", errno, describe(m))
	}
	if r.Errno() != errno {
		t.Fatalf("expected errno %d, got %d (%q)", errno, r.Errno(), r.Ename())
	}
	return r
}

func describe(m Message) string {
	if r, ok := m.(Rerror); ok {
		return "Rerror(" + r.Ename() + ")"
	}
	return m.Type().String()
}

var errBackend = errors.New("backend failure")
