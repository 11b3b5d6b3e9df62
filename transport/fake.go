package transport

import (
	"context"
	"sync"

	"herald/stream"
)

// FakeChannel is an in-memory Channel for tests: sent messages are recorded,
// inbound messages are injected with Deliver, and connectivity is flipped
// with SetOnline.
type FakeChannel struct {
	mu      sync.Mutex
	sent    []Message
	online  bool
	sendErr error

	incoming chan Message
	states   *stream.Hub[State]
}

func NewFakeChannel() *FakeChannel {
	f := &FakeChannel{
		incoming: make(chan Message, 64),
		states:   stream.NewHub[State](),
	}
	f.states.Publish(State{Phase: Disconnected})
	return f
}

func (f *FakeChannel) Start(context.Context) error { return nil }

func (f *FakeChannel) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.incoming != nil {
		close(f.incoming)
		f.incoming = nil
	}
}

func (f *FakeChannel) Send(_ context.Context, m Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	if !f.online {
		return ErrNotConnected
	}
	f.sent = append(f.sent, m)
	return nil
}

func (f *FakeChannel) Incoming() <-chan Message       { return f.incoming }
func (f *FakeChannel) States() (<-chan State, func()) { return f.states.Subscribe() }

func (f *FakeChannel) State() State {
	s, _ := f.states.Last()
	return s
}

// SetOnline flips connectivity and publishes the matching state.
func (f *FakeChannel) SetOnline(online bool) {
	f.mu.Lock()
	f.online = online
	f.mu.Unlock()
	if online {
		f.states.Publish(State{Phase: Connected})
	} else {
		f.states.Publish(State{Phase: Reconnecting, Attempt: 1})
	}
}

// SetSendErr forces Send to fail with err regardless of connectivity.
func (f *FakeChannel) SetSendErr(err error) {
	f.mu.Lock()
	f.sendErr = err
	f.mu.Unlock()
}

// Deliver injects an inbound message as if the server had sent it.
func (f *FakeChannel) Deliver(m Message) {
	f.mu.Lock()
	ch := f.incoming
	f.mu.Unlock()
	if ch != nil {
		ch <- m
	}
}

// Sent returns a copy of everything sent so far.
func (f *FakeChannel) Sent() []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Message, len(f.sent))
	copy(out, f.sent)
	return out
}
