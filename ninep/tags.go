package ninep

import (
	"context"
	"sync"
)

// pendingRequest is an outstanding request. done is closed once the
// request reached a terminal state: its reply was written, or it observed
// cancellation and wrote nothing.
type pendingRequest struct {
	tag    Tag
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func (p *pendingRequest) cancelled() bool { return p.ctx.Err() != nil }

// TagTable tracks the outstanding requests of a session by tag.
type TagTable struct {
	m    sync.Mutex
	tags map[Tag]*pendingRequest
}

func NewTagTable() *TagTable {
	return &TagTable{tags: make(map[Tag]*pendingRequest)}
}

func (t *TagTable) Len() int {
	t.m.Lock()
	defer t.m.Unlock()
	return len(t.tags)
}

// Register records tag as outstanding with a context derived from parent.
// It fails with ErrDuplicateTag when tag is already outstanding.
func (t *TagTable) Register(parent context.Context, tag Tag) (*pendingRequest, error) {
	if tag == NO_TAG {
		return nil, ErrDuplicateTag
	}
	t.m.Lock()
	defer t.m.Unlock()
	if _, ok := t.tags[tag]; ok {
		return nil, ErrDuplicateTag
	}
	ctx, cancel := context.WithCancel(parent)
	p := &pendingRequest{
		tag:    tag,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	t.tags[tag] = p
	return p, nil
}

// release frees p's tag for reuse. It must happen before the reply is
// written: clients may reuse a tag as soon as they read its reply.
func (t *TagTable) release(p *pendingRequest) {
	t.m.Lock()
	if cur, ok := t.tags[p.tag]; ok && cur == p {
		delete(t.tags, p.tag)
	}
	t.m.Unlock()
}

// Complete removes p from the table and wakes anything flushing it.
func (t *TagTable) Complete(p *pendingRequest) {
	t.release(p)
	p.cancel()
	close(p.done)
}

// Flush cancels the request with tag target and blocks until it finished.
// An unknown target returns immediately. self is the Tflush's own tag,
// which is never waited on.
func (t *TagTable) Flush(ctx context.Context, self, target Tag) error {
	if self == target {
		return nil
	}
	t.m.Lock()
	p, ok := t.tags[target]
	t.m.Unlock()
	if !ok {
		return nil
	}
	p.cancel()
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CancelAll cancels every outstanding request.
func (t *TagTable) CancelAll() {
	t.m.Lock()
	for _, p := range t.tags {
		p.cancel()
	}
	t.m.Unlock()
}
