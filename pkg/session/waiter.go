package session

import (
	"context"
	"sync"
	"time"
)

// ReplyWaiter lets a workflow suspend until the next plain message of a
// session arrives. The router hands every non-command message to Deliver;
// the first registered expectation for that session consumes it.
type ReplyWaiter struct {
	mu      sync.Mutex
	pending map[string]*Expectation
}

func NewReplyWaiter() *ReplyWaiter {
	return &ReplyWaiter{pending: make(map[string]*Expectation)}
}

// Expectation is a one-shot future for a session reply.
type Expectation struct {
	key    string
	ch     chan string
	done   chan struct{}
	owner  *ReplyWaiter
	closed bool
}

// abandon must be called with the owner's lock held.
func (e *Expectation) abandon() {
	if e.closed {
		return
	}
	e.closed = true
	close(e.done)
}

// Expect registers interest in the next reply of key. It must be called
// before the prompt asking for that reply is sent. A newer expectation for
// the same key supersedes an older one, whose Wait returns ErrReplyCancelled.
func (w *ReplyWaiter) Expect(key string) *Expectation {
	e := &Expectation{key: key, ch: make(chan string, 1), done: make(chan struct{}), owner: w}
	w.mu.Lock()
	if old, ok := w.pending[key]; ok {
		old.abandon()
	}
	w.pending[key] = e
	w.mu.Unlock()
	return e
}

// Deliver resolves the pending expectation of key with text. It reports
// whether anything was waiting, so the caller can skip normal handling.
func (w *ReplyWaiter) Deliver(key, text string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	e, ok := w.pending[key]
	if !ok || e.closed {
		return false
	}
	delete(w.pending, key)
	e.closed = true
	e.ch <- text
	return true
}

// Pending reports whether key has an unresolved expectation.
func (w *ReplyWaiter) Pending(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	e, ok := w.pending[key]
	return ok && !e.closed
}

// Cancel drops the expectation of key without resolving it.
func (w *ReplyWaiter) Cancel(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if e, ok := w.pending[key]; ok {
		e.abandon()
		delete(w.pending, key)
	}
}

func (w *ReplyWaiter) release(e *Expectation) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if cur, ok := w.pending[e.key]; ok && cur == e {
		delete(w.pending, e.key)
	}
	e.closed = true
}

// Wait blocks until a reply is delivered, timeout elapses or ctx is done.
// It returns ErrReplyTimeout on timeout, ErrReplyCancelled when cancelled or
// superseded, and ctx.Err() when ctx ends first.
func (e *Expectation) Wait(ctx context.Context, timeout time.Duration) (string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case text := <-e.ch:
		return text, nil
	case <-e.done:
		return "", ErrReplyCancelled
	case <-timer.C:
	case <-ctx.Done():
	}

	e.owner.release(e)
	// A delivery may have won the race with the timer.
	select {
	case text := <-e.ch:
		return text, nil
	default:
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return "", ErrReplyTimeout
}
