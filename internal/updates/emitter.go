// Package updates carries human-readable progress text from a running
// completion to whoever is watching it.
package updates

import (
	"sync"
)

// DefaultBuffer is the per-subscriber queue length used by OnUpdate.
const DefaultBuffer = 16

type subscriber struct {
	ch   chan string
	once sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.ch) })
}

// Emitter fans progress updates out to subscribers. Send never blocks: a
// subscriber whose queue is full misses that update. A nil *Emitter is valid
// and discards everything.
type Emitter struct {
	mu      sync.Mutex
	subs    map[int]*subscriber
	next    int
	history []string
	closed  bool
}

func New() *Emitter {
	return &Emitter{subs: make(map[int]*subscriber)}
}

// Send records the update and offers it to every subscriber.
func (e *Emitter) Send(text string) {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.history = append(e.history, text)
	for _, s := range e.subs {
		select {
		case s.ch <- text:
		default:
		}
	}
}

// Subscribe returns a channel of updates and a function that detaches it.
// The channel is closed on detach or when the emitter is closed.
func (e *Emitter) Subscribe(buffer int) (<-chan string, func()) {
	if buffer < 1 {
		buffer = 1
	}
	s := &subscriber{ch: make(chan string, buffer)}
	if e == nil {
		s.close()
		return s.ch, func() {}
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		s.close()
		return s.ch, func() {}
	}
	if e.subs == nil {
		e.subs = make(map[int]*subscriber)
	}
	id := e.next
	e.next++
	e.subs[id] = s
	e.mu.Unlock()

	return s.ch, func() {
		e.mu.Lock()
		delete(e.subs, id)
		e.mu.Unlock()
		s.close()
	}
}

// OnUpdate runs fn for each update on its own goroutine until the returned
// function is called.
func (e *Emitter) OnUpdate(fn func(string)) func() {
	ch, cancel := e.Subscribe(DefaultBuffer)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for text := range ch {
			fn(text)
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// Updates returns a copy of everything sent so far.
func (e *Emitter) Updates() []string {
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.history))
	copy(out, e.history)
	return out
}

// Close detaches all subscribers. Later sends are ignored.
func (e *Emitter) Close() {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	for id, s := range e.subs {
		delete(e.subs, id)
		s.close()
	}
}
