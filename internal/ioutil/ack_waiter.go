package ioutil

import (
	"context"
	"sync"
)

// AckWaiter hands out one-shot completion signals keyed by sequence.
// A signal is removed once fulfilled.
type AckWaiter struct {
	waiters map[uint64]chan struct{}
	mx      sync.Mutex
}

// NewAckWaiter creates an empty AckWaiter.
func NewAckWaiter() *AckWaiter {
	return &AckWaiter{waiters: make(map[uint64]chan struct{})}
}

// Register creates the signal for seq, or returns the pending one.
func (w *AckWaiter) Register(seq uint64) <-chan struct{} {
	w.mx.Lock()
	defer w.mx.Unlock()

	if ch, ok := w.waiters[seq]; ok {
		return ch
	}
	ch := make(chan struct{})
	w.waiters[seq] = ch
	return ch
}

// Lookup returns the pending signal for seq.
func (w *AckWaiter) Lookup(seq uint64) (<-chan struct{}, bool) {
	w.mx.Lock()
	ch, ok := w.waiters[seq]
	w.mx.Unlock()
	return ch, ok
}

// Done fulfils seq. It returns false if seq was not pending, e.g. because
// it was already fulfilled.
func (w *AckWaiter) Done(seq uint64) bool {
	w.mx.Lock()
	ch, ok := w.waiters[seq]
	delete(w.waiters, seq)
	w.mx.Unlock()

	if ok {
		close(ch)
	}
	return ok
}

// Forget drops seq without fulfilling it. Holders of its signal keep
// waiting until their context is done.
func (w *AckWaiter) Forget(seq uint64) bool {
	w.mx.Lock()
	defer w.mx.Unlock()

	_, ok := w.waiters[seq]
	delete(w.waiters, seq)
	return ok
}

// Len returns the number of pending signals.
func (w *AckWaiter) Len() int {
	w.mx.Lock()
	defer w.mx.Unlock()
	return len(w.waiters)
}

// Wait blocks until ch is fulfilled or ctx is done.
func Wait(ctx context.Context, ch <-chan struct{}) error {
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
