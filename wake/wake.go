// Package wake runs the always-on trigger phrase monitor. It owns the
// microphone while the system is at rest, processes audio on its own
// goroutine off the capture callback, and emits at most one Event per
// detection: further triggers are suppressed until the controller consumes
// the event and re-arms the listener.
package wake

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"herald/audio"
)

const (
	tailWindow = 500 * time.Millisecond
	chunkDepth = 32
)

type Event struct {
	At time.Time
	// Tail is the rolling buffer drained at detection: audio captured right
	// around the phrase, handed to the recognizer so the first spoken words
	// after the wake phrase are not lost during the mic handoff.
	Tail []byte
}

var ErrAlreadyRunning = errors.New("wake listener already running")

type Listener struct {
	detector Detector
	capture  audio.CaptureDevice

	events chan Event
	armed  atomic.Bool

	mu      sync.Mutex
	running bool
	chunks  chan []byte
	quit    chan struct{}
	done    chan struct{}
}

func NewListener(capture audio.CaptureDevice, det Detector) *Listener {
	l := &Listener{
		detector: det,
		capture:  capture,
		events:   make(chan Event, 1),
	}
	l.armed.Store(true)
	return l
}

// Events delivers wake detections. The channel holds at most one in-flight
// event by construction.
func (l *Listener) Events() <-chan Event { return l.events }

// Start takes ownership of the capture device and begins monitoring.
func (l *Listener) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return ErrAlreadyRunning
	}

	l.chunks = make(chan []byte, chunkDepth)
	l.quit = make(chan struct{})
	l.done = make(chan struct{})
	chunks, quit, done := l.chunks, l.quit, l.done

	l.capture.SetCallback(func(data []byte, _ uint32) {
		if len(data) == 0 {
			return
		}
		pcm := make([]byte, len(data))
		copy(pcm, data)
		select {
		case chunks <- pcm:
		default: // drop when the processor lags; wake detection is lossy-tolerant
		}
	})

	if err := l.capture.Start(); err != nil {
		l.capture.ClearCallback()
		return err
	}
	l.running = true

	go l.process(chunks, quit, done)
	return nil
}

// Stop releases the microphone so the recognizer can take it. The detector
// state is kept; Start resumes monitoring after handback.
func (l *Listener) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.running {
		return
	}
	l.capture.Stop()
	l.capture.ClearCallback()
	// Signal the processor via quit rather than closing chunks: a straggler
	// capture callback may still be holding a reference to the channel.
	close(l.quit)
	<-l.done
	l.running = false
}

// Rearm re-enables detection after the controller consumed an event.
func (l *Listener) Rearm() {
	// Drain a stale event that fired between consumption and re-arm.
	select {
	case <-l.events:
	default:
	}
	l.detector.Reset()
	l.armed.Store(true)
}

func (l *Listener) process(chunks <-chan []byte, quit <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	tail := newRollingBuffer(tailWindow)
	for {
		var pcm []byte
		select {
		case <-quit:
			return
		case pcm = <-chunks:
		}
		tail.Write(pcm)
		if !l.detector.Feed(pcm) {
			continue
		}
		if !l.armed.CompareAndSwap(true, false) {
			continue // suppressed: an event is already in flight
		}
		ev := Event{At: time.Now(), Tail: tail.Drain()}
		select {
		case l.events <- ev:
		default:
			// should not happen with armed gating; re-arm rather than wedge
			l.armed.Store(true)
		}
	}
}
