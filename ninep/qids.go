package ninep

import "sync"

// QidKey identifies a file to the QidPool: the export it belongs to and the
// path its FileSystem uses for it.
type QidKey struct {
	Export string
	Path   string
}

// QidPool hands out qids so that the same file always gets the same
// qid.path for the lifetime of the server. It is shared by all sessions.
type QidPool struct {
	m        sync.Mutex
	pool     map[QidKey]Qid
	nextPath uint64
}

func NewQidPool() *QidPool {
	return &QidPool{
		pool:     make(map[QidKey]Qid),
		nextPath: 1,
	}
}

func (p *QidPool) Get(key QidKey) (q Qid, found bool) {
	p.m.Lock()
	q, found = p.pool[key]
	p.m.Unlock()
	if found {
		q = q.Clone()
	}
	return
}

// Put returns the qid for key, allocating one if needed. A non-zero hint is
// used as qid.path for new entries. The qid type is always refreshed to t.
func (p *QidPool) Put(key QidKey, t QidType, hint uint64) Qid {
	p.m.Lock()
	defer p.m.Unlock()
	qid, ok := p.pool[key]
	if ok && (hint == 0 || qid.Path() == hint) {
		if qid.Type() != t {
			qid[0] = byte(t)
		}
		return qid.Clone()
	}
	path := hint
	if path == 0 {
		path = p.nextPath
		p.nextPath++
	}
	qid = NewQid().Fill(t, 0, path)
	p.pool[key] = qid
	return qid.Clone()
}

// Touch increments the version of key, if known, and returns the new qid.
func (p *QidPool) Touch(key QidKey) (Qid, bool) {
	p.m.Lock()
	defer p.m.Unlock()
	qid, ok := p.pool[key]
	if !ok {
		return nil, false
	}
	qid.SetVersion(qid.Version() + 1)
	return qid.Clone(), true
}

// Rename moves the qid at old to new, keeping qid.path.
func (p *QidPool) Rename(old, new QidKey) {
	p.m.Lock()
	if qid, ok := p.pool[old]; ok {
		delete(p.pool, old)
		p.pool[new] = qid
	}
	p.m.Unlock()
}

func (p *QidPool) Delete(key QidKey) {
	p.m.Lock()
	delete(p.pool, key)
	p.m.Unlock()
}

func (p *QidPool) Len() int {
	p.m.Lock()
	defer p.m.Unlock()
	return len(p.pool)
}
