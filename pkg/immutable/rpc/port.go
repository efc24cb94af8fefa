package rpc

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Event is one inbound message on a port.
type Event struct {
	// Origin identifies the sender.
	Origin string

	// Data is the raw message.
	Data []byte

	// Err is set for a message that arrived but could not be read.
	Err error
}

// Port is one side of a cross-realm message channel.
type Port interface {
	// Post sends data to the other side.
	Post(ctx context.Context, data []byte) error

	// Listen registers fn for every inbound event until stop is called.
	Listen(fn func(Event)) (stop func())
}

// listeners is a set of event callbacks keyed by subscription id.
type listeners struct {
	mu  sync.RWMutex
	fns map[string]func(Event)
}

func (l *listeners) add(fn func(Event)) func() {
	id := uuid.New().String()

	l.mu.Lock()
	if l.fns == nil {
		l.fns = make(map[string]func(Event))
	}
	l.fns[id] = fn
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.fns, id)
			l.mu.Unlock()
		})
	}
}

// dispatch calls every registered listener outside the lock, so a
// listener may stop itself.
func (l *listeners) dispatch(ev Event) {
	l.mu.RLock()
	fns := make([]func(Event), 0, len(l.fns))
	for _, fn := range l.fns {
		fns = append(fns, fn)
	}
	l.mu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// count returns the number of active listeners.
func (l *listeners) count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.fns)
}
