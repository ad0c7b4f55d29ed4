package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jeffh/u9p/ninep"
)

// Provides an easy struct to conform to fs.FileInfo.
type memFileInfo struct {
	name    string
	size    int64
	mode    fs.FileMode
	modTime time.Time
	id      uint64
	version uint32
	uid     string
	gid     string
	muid    string
	target  string
}

func (f *memFileInfo) Name() string       { return f.name }
func (f *memFileInfo) Size() int64        { return f.size }
func (f *memFileInfo) Mode() fs.FileMode  { return f.mode }
func (f *memFileInfo) ModTime() time.Time { return f.modTime }
func (f *memFileInfo) IsDir() bool        { return f.mode&fs.ModeDir != 0 }
func (f *memFileInfo) Sys() interface{}   { return nil }
func (f *memFileInfo) Path() uint64       { return f.id }
func (f *memFileInfo) Version() uint32    { return f.version }
func (f *memFileInfo) Uid() string        { return f.uid }
func (f *memFileInfo) Gid() string        { return f.gid }
func (f *memFileInfo) Muid() string       { return f.muid }
func (f *memFileInfo) Extension() string  { return f.target }

////////////////////////////////////////////////

// Mem implements a basic file system in memory only.
// Also, not a particularly efficient implementation.
type Mem struct {
	// Owner is reported as the uid, gid and muid of every file.
	Owner string

	m      sync.RWMutex
	root   *memNode
	nextID atomic.Uint64
}

var _ FileSystem = (*Mem)(nil)
var _ SymlinkFileSystem = (*Mem)(nil)

type memNode struct {
	id       uint64
	name     string
	mode     fs.FileMode
	gid      string
	target   string
	children []*memNode // guarded by Mem.m

	mut      sync.RWMutex
	contents []byte
	modTime  time.Time
	version  uint32
}

// NewMem returns an empty in memory file system.
func NewMem() *Mem {
	m := &Mem{Owner: "none"}
	m.root = m.newNode("", fs.ModeDir|0777)
	return m
}

// NewMemFSWithFiles creates a new in-memory file system with a given set of files.
func NewMemFSWithFiles(files map[string]string) *Mem {
	m := NewMem()
	if err := Populate(context.Background(), m, files); err != nil {
		panic(err)
	}
	return m
}

// Populate writes files into fsys, making parent directories as needed. A
// path ending in "/" makes a directory.
func Populate(ctx context.Context, fsys FileSystem, files map[string]string) error {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		parts := ninep.PathSplit(name)
		for i := 1; i < len(parts); i++ {
			if err := fsys.MakeDir(ctx, joinParts(parts[:i]), 0755); err != nil && !isExist(err) {
				return err
			}
		}
		if len(name) > 0 && name[len(name)-1] == '/' {
			if err := fsys.MakeDir(ctx, ninep.CleanPath(name), 0755); err != nil && !isExist(err) {
				return err
			}
			continue
		}
		h, err := fsys.CreateFile(ctx, ninep.CleanPath(name), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
		if err != nil {
			return err
		}
		_, err = h.WriteAt([]byte(files[name]), 0)
		h.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func joinParts(parts []string) string {
	p := ""
	for _, part := range parts {
		p = ninep.JoinPath(p, part)
	}
	return p
}

func (m *Mem) newNode(name string, mode fs.FileMode) *memNode {
	return &memNode{
		id:      m.nextID.Add(1),
		name:    name,
		mode:    mode,
		modTime: time.Now(),
	}
}

func (n *memNode) child(name string) (int, *memNode) {
	for i, c := range n.children {
		if c.name == name {
			return i, c
		}
	}
	return -1, nil
}

// lookup returns the node at path and its parent. Callers hold m.m.
func (m *Mem) lookup(path string) (node, parent *memNode, err error) {
	node = m.root
	for _, seg := range ninep.PathSplit(path) {
		if !node.mode.IsDir() {
			return nil, nil, fmt.Errorf("%w: %s", ninep.ErrNotDir, node.name)
		}
		parent = node
		if _, node = node.child(seg); node == nil {
			return nil, parent, fs.ErrNotExist
		}
	}
	return node, parent, nil
}

// parentOf resolves the directory path would be created in.
func (m *Mem) parentOf(path string) (*memNode, string, error) {
	if path == "" {
		return nil, "", fmt.Errorf("%w: root already exists", fs.ErrExist)
	}
	dir, _, err := m.lookup(ninep.Dirname(path))
	if err != nil {
		return nil, "", err
	}
	if !dir.mode.IsDir() {
		return nil, "", ninep.ErrNotDir
	}
	return dir, ninep.Basename(path), nil
}

func (m *Mem) add(path string, mode fs.FileMode) (*memNode, error) {
	dir, name, err := m.parentOf(path)
	if err != nil {
		return nil, err
	}
	if _, existing := dir.child(name); existing != nil {
		return existing, fmt.Errorf("%w: %s", fs.ErrExist, path)
	}
	n := m.newNode(name, mode)
	dir.children = append(dir.children, n)
	dir.touch()
	return n, nil
}

func (n *memNode) touch() {
	n.mut.Lock()
	n.modTime = time.Now()
	n.version++
	n.mut.Unlock()
}

func (m *Mem) MakeDir(ctx context.Context, path string, mode fs.FileMode) error {
	m.m.Lock()
	defer m.m.Unlock()
	_, err := m.add(path, fs.ModeDir|mode.Perm())
	return err
}

func (m *Mem) CreateFile(ctx context.Context, path string, flag int, mode fs.FileMode) (ninep.FileHandle, error) {
	m.m.Lock()
	defer m.m.Unlock()
	n, err := m.add(path, mode&^fs.ModeDir)
	if err != nil {
		if n == nil || flag&os.O_EXCL != 0 {
			return nil, err
		}
		if n.mode.IsDir() {
			return nil, ninep.ErrIsDir
		}
	}
	if flag&os.O_TRUNC != 0 {
		n.truncate(0)
	}
	return &memFileHandle{n: n, flag: flag}, nil
}

func (m *Mem) OpenFile(ctx context.Context, path string, flag int) (ninep.FileHandle, error) {
	m.m.RLock()
	defer m.m.RUnlock()
	n, _, err := m.lookup(path)
	if err != nil {
		return nil, err
	}
	if n.mode.IsDir() {
		return nil, ninep.ErrIsDir
	}
	if n.mode&fs.ModeSymlink != 0 {
		return nil, fmt.Errorf("%w: cannot open a symlink", ninep.ErrUnsupported)
	}
	if flag&os.O_TRUNC != 0 {
		n.truncate(0)
	}
	return &memFileHandle{n: n, flag: flag}, nil
}

func (m *Mem) Symlink(ctx context.Context, target, path string) error {
	m.m.Lock()
	defer m.m.Unlock()
	n, err := m.add(path, fs.ModeSymlink|0777)
	if err != nil {
		return err
	}
	n.target = target
	return nil
}

func (m *Mem) info(n *memNode) *memFileInfo {
	n.mut.RLock()
	defer n.mut.RUnlock()
	gid := n.gid
	if gid == "" {
		gid = m.Owner
	}
	return &memFileInfo{
		name:    n.name,
		size:    int64(len(n.contents)),
		mode:    n.mode,
		modTime: n.modTime,
		id:      n.id,
		version: n.version,
		uid:     m.Owner,
		gid:     gid,
		muid:    m.Owner,
		target:  n.target,
	}
}

func (m *Mem) ListDir(ctx context.Context, path string) iter.Seq2[fs.FileInfo, error] {
	m.m.RLock()
	n, _, err := m.lookup(path)
	if err == nil && !n.mode.IsDir() {
		err = ninep.ErrNotDir
	}
	if err != nil {
		m.m.RUnlock()
		return ninep.FileInfoErrorIterator(err)
	}
	infos := make([]fs.FileInfo, 0, len(n.children))
	for _, c := range n.children {
		infos = append(infos, m.info(c))
	}
	m.m.RUnlock()
	return ninep.FileInfoSliceIterator(infos)
}

func (m *Mem) Stat(ctx context.Context, path string) (fs.FileInfo, error) {
	m.m.RLock()
	defer m.m.RUnlock()
	n, _, err := m.lookup(path)
	if err != nil {
		return nil, err
	}
	return m.info(n), nil
}

func (m *Mem) WriteStat(ctx context.Context, path string, req FileInfoChangeRequest) error {
	m.m.Lock()
	defer m.m.Unlock()
	n, parent, err := m.lookup(path)
	if err != nil {
		return err
	}

	// validate everything first so the change is all or nothing
	if req.Owner != nil && *req.Owner != m.Owner {
		return ninep.ErrChangeUidNotAllowed
	}
	if req.OwnerID != nil {
		return ninep.ErrChangeUidNotAllowed
	}
	if req.Name != nil && *req.Name != n.name {
		if parent == nil {
			return fmt.Errorf("%w: cannot rename the root", ninep.ErrInvalidAccess)
		}
		if _, existing := parent.child(*req.Name); existing != nil {
			return fmt.Errorf("%w: %s", fs.ErrExist, *req.Name)
		}
	}
	if req.Length != nil && n.mode.IsDir() {
		return ninep.ErrIsDir
	}

	if req.Name != nil && *req.Name != n.name {
		n.name = *req.Name
		parent.touch()
	}
	if req.Group != nil {
		n.gid = *req.Group
	}
	n.mut.Lock()
	if req.Mode != nil {
		n.mode = n.mode.Type() | req.Mode.Perm()
	}
	if req.ModTime != nil {
		n.modTime = *req.ModTime
	}
	n.mut.Unlock()
	if req.Length != nil {
		n.truncate(*req.Length)
	}
	return nil
}

func (m *Mem) Delete(ctx context.Context, path string) error {
	m.m.Lock()
	defer m.m.Unlock()
	n, parent, err := m.lookup(path)
	if err != nil {
		return err
	}
	if parent == nil {
		return fmt.Errorf("%w: cannot delete the root", ninep.ErrInvalidAccess)
	}
	if len(n.children) > 0 {
		return ninep.ErrNotEmpty
	}
	i, _ := parent.child(n.name)
	parent.children = slices.Delete(parent.children, i, i+1)
	parent.touch()
	return nil
}

func (n *memNode) truncate(size int64) {
	n.mut.Lock()
	defer n.mut.Unlock()
	if int64(len(n.contents)) > size {
		n.contents = n.contents[:size]
	} else {
		n.contents = append(n.contents, make([]byte, size-int64(len(n.contents)))...)
	}
	n.modTime = time.Now()
	n.version++
}

type memFileHandle struct {
	n    *memNode
	flag int
}

func (h *memFileHandle) ReadAt(p []byte, off int64) (int, error) {
	h.n.mut.RLock()
	defer h.n.mut.RUnlock()
	if off >= int64(len(h.n.contents)) {
		return 0, io.EOF
	}
	n := copy(p, h.n.contents[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (h *memFileHandle) WriteAt(p []byte, off int64) (int, error) {
	if h.flag&(os.O_WRONLY|os.O_RDWR) == 0 {
		return 0, ninep.ErrWriteNotAllowed
	}
	h.n.mut.Lock()
	defer h.n.mut.Unlock()
	if h.flag&os.O_APPEND != 0 {
		off = int64(len(h.n.contents))
	}
	if end := off + int64(len(p)); end > int64(len(h.n.contents)) {
		h.n.contents = append(h.n.contents, make([]byte, end-int64(len(h.n.contents)))...)
	}
	copy(h.n.contents[off:], p)
	h.n.modTime = time.Now()
	h.n.version++
	return len(p), nil
}

func (h *memFileHandle) Close() error { return nil }

func isExist(err error) bool { return errors.Is(err, fs.ErrExist) }
