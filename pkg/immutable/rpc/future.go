package rpc

import (
	"context"
	"sync"
)

// Future is a single-assignment result slot. The first Resolve or Reject
// wins; later ones are ignored.
type Future[T any] struct {
	done  chan struct{}
	mu    sync.Mutex
	set   bool
	value T
	err   error
	hooks []func()
}

// NewFuture creates an unsettled future.
func NewFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Resolve settles the future with a value. It reports whether this call
// settled it.
func (f *Future[T]) Resolve(v T) bool {
	return f.settle(v, nil)
}

// Reject settles the future with an error.
func (f *Future[T]) Reject(err error) bool {
	var zero T
	return f.settle(zero, err)
}

// OnSettle registers fn to run once the future settles. If it already
// has, fn runs immediately.
func (f *Future[T]) OnSettle(fn func()) {
	f.mu.Lock()
	if !f.set {
		f.hooks = append(f.hooks, fn)
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()
	fn()
}

// Done is closed when the future settles.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Settled reports whether the future has settled.
func (f *Future[T]) Settled() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Await blocks until the future settles or ctx ends. When ctx ends first
// the future is rejected with the context error, so a late settle is lost.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
	case <-ctx.Done():
		f.Reject(ctx.Err())
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value, f.err
}

func (f *Future[T]) settle(v T, err error) bool {
	f.mu.Lock()
	if f.set {
		f.mu.Unlock()
		return false
	}
	f.set = true
	f.value = v
	f.err = err
	hooks := f.hooks
	f.hooks = nil
	close(f.done)
	f.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
	return true
}
