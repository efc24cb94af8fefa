package rpc

import (
	"context"
	"sync"
)

// pipeBuffer is the number of undelivered events a pipe end holds.
const pipeBuffer = 64

// PipePort is one end of an in-memory channel created by Pipe. Events are
// delivered asynchronously and in order, like window messages.
type PipePort struct {
	origin string
	peer   *PipePort

	inbox  chan Event
	subs   listeners
	closed chan struct{}
	once   sync.Once
}

// Pipe returns two connected ports. Messages posted on a arrive at b
// tagged with originA, and the other way round.
func Pipe(originA, originB string) (*PipePort, *PipePort) {
	a := newPipePort(originA)
	b := newPipePort(originB)
	a.peer, b.peer = b, a
	return a, b
}

func newPipePort(origin string) *PipePort {
	p := &PipePort{
		origin: origin,
		inbox:  make(chan Event, pipeBuffer),
		closed: make(chan struct{}),
	}
	go p.run()
	return p
}

// Origin returns the origin this end posts as.
func (p *PipePort) Origin() string { return p.origin }

// Post delivers data to the peer.
func (p *PipePort) Post(ctx context.Context, data []byte) error {
	msg := make([]byte, len(data))
	copy(msg, data)
	return p.peer.Deliver(ctx, Event{Origin: p.origin, Data: msg})
}

// Deliver queues an event for this end's listeners as if it had arrived
// from the channel. Tests use it to inject foreign or broken messages.
func (p *PipePort) Deliver(ctx context.Context, ev Event) error {
	select {
	case <-p.closed:
		return ErrClosed
	default:
	}

	select {
	case p.inbox <- ev:
		return nil
	case <-p.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Listen registers fn for inbound events.
func (p *PipePort) Listen(fn func(Event)) func() {
	return p.subs.add(fn)
}

// Listeners returns the number of registered listeners.
func (p *PipePort) Listeners() int {
	return p.subs.count()
}

// Close stops delivery on this end.
func (p *PipePort) Close() {
	p.once.Do(func() { close(p.closed) })
}

func (p *PipePort) run() {
	for {
		select {
		case ev := <-p.inbox:
			p.subs.dispatch(ev)
		case <-p.closed:
			return
		}
	}
}

var _ Port = (*PipePort)(nil)
