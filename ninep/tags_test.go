package ninep

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestTagTableRegister(t *testing.T) {
	tags := NewTagTable()
	p, err := tags.Register(context.Background(), 1)
	if err != nil {
		t.Fatalf("register: %s", err)
	}
	if _, err := tags.Register(context.Background(), 1); !errors.Is(err, ErrDuplicateTag) {
		t.Errorf("expected ErrDuplicateTag, got %v", err)
	}
	if _, err := tags.Register(context.Background(), NO_TAG); !errors.Is(err, ErrDuplicateTag) {
		t.Errorf("expected NOTAG to be refused, got %v", err)
	}
	if tags.Len() != 1 {
		t.Errorf("expected 1 outstanding tag, got %d", tags.Len())
	}

	tags.Complete(p)
	if tags.Len() != 0 {
		t.Errorf("expected no outstanding tags, got %d", tags.Len())
	}
	if !p.cancelled() {
		t.Errorf("expected completed request context to be done")
	}
	if _, err := tags.Register(context.Background(), 1); err != nil {
		t.Errorf("expected tag to be reusable: %s", err)
	}
}

func TestTagTableFlush(t *testing.T) {
	t.Run("waits for target", func(t *testing.T) {
		tags := NewTagTable()
		p, _ := tags.Register(context.Background(), 1)
		finished := make(chan struct{})
		go func() {
			<-p.ctx.Done()
			time.Sleep(10 * time.Millisecond)
			close(finished)
			tags.Complete(p)
		}()
		if err := tags.Flush(context.Background(), 2, 1); err != nil {
			t.Fatalf("flush: %s", err)
		}
		select {
		case <-finished:
		default:
			t.Fatalf("flush returned before the target finished")
		}
	})
	t.Run("unknown target", func(t *testing.T) {
		tags := NewTagTable()
		if err := tags.Flush(context.Background(), 2, 1); err != nil {
			t.Fatalf("flush: %s", err)
		}
	})
	t.Run("self", func(t *testing.T) {
		tags := NewTagTable()
		p, _ := tags.Register(context.Background(), 2)
		if err := tags.Flush(context.Background(), 2, 2); err != nil {
			t.Fatalf("flush: %s", err)
		}
		if p.cancelled() {
			t.Errorf("a flush must not cancel itself")
		}
	})
	t.Run("flush gives up with its context", func(t *testing.T) {
		tags := NewTagTable()
		tags.Register(context.Background(), 1)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if err := tags.Flush(ctx, 2, 1); !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	})
}

func TestTagTableCancelAll(t *testing.T) {
	tags := NewTagTable()
	var ps []*pendingRequest
	for i := range 3 {
		p, err := tags.Register(context.Background(), Tag(i))
		if err != nil {
			t.Fatalf("register: %s", err)
		}
		ps = append(ps, p)
	}
	tags.CancelAll()
	for _, p := range ps {
		if !p.cancelled() {
			t.Errorf("tag %d not cancelled", p.tag)
		}
	}
}
