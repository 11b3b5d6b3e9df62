// Package permission tracks the two capability grants voice needs: microphone
// capture and speech transcription. The gate only reports status; granting
// happens in the platform layer, possibly after user interaction.
package permission

import (
	"context"
	"sync"

	"herald/stream"
)

type Capability int

const (
	Microphone Capability = iota
	SpeechRecognition
)

func (c Capability) String() string {
	switch c {
	case Microphone:
		return "microphone"
	case SpeechRecognition:
		return "speech_recognition"
	default:
		return "unknown"
	}
}

type Status int

const (
	NotDetermined Status = iota
	Denied
	Authorized
)

func (s Status) String() string {
	switch s {
	case NotDetermined:
		return "not_determined"
	case Denied:
		return "denied"
	case Authorized:
		return "authorized"
	default:
		return "unknown"
	}
}

// Snapshot is the combined grant state at one instant. Voice sessions record
// the snapshot they started under.
type Snapshot struct {
	Microphone        Status
	SpeechRecognition Status
}

func (s Snapshot) FullyAuthorized() bool {
	return s.Microphone == Authorized && s.SpeechRecognition == Authorized
}

// Authorizer is the platform capability backend. Request may suspend until
// the user responds to a system prompt.
type Authorizer interface {
	Status(c Capability) Status
	Request(ctx context.Context, c Capability) (Status, error)
}

// StaticAuthorizer reports a fixed status for every capability. Desktop
// builds use it where grants happen out of band (device permissions are a
// system setting, not a runtime prompt).
type StaticAuthorizer struct{ Fixed Status }

func (s StaticAuthorizer) Status(Capability) Status { return s.Fixed }

func (s StaticAuthorizer) Request(_ context.Context, _ Capability) (Status, error) {
	return s.Fixed, nil
}

type Gate struct {
	auth Authorizer

	mu      sync.Mutex
	cached  Snapshot
	updates *stream.Hub[Snapshot]
}

func NewGate(auth Authorizer) *Gate {
	g := &Gate{auth: auth, updates: stream.NewHub[Snapshot]()}
	g.cached = g.poll()
	g.updates.Publish(g.cached)
	return g
}

func (g *Gate) poll() Snapshot {
	return Snapshot{
		Microphone:        g.auth.Status(Microphone),
		SpeechRecognition: g.auth.Status(SpeechRecognition),
	}
}

// Snapshot re-reads platform status and publishes any change.
func (g *Gate) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	snap := g.poll()
	if snap != g.cached {
		g.cached = snap
		g.updates.Publish(snap)
	}
	return snap
}

func (g *Gate) Status(c Capability) Status {
	snap := g.Snapshot()
	if c == Microphone {
		return snap.Microphone
	}
	return snap.SpeechRecognition
}

// IsFullyAuthorized reports whether a voice session may start.
func (g *Gate) IsFullyAuthorized() bool {
	return g.Snapshot().FullyAuthorized()
}

// RequestAuthorization asks the platform for any capability not yet
// authorized, suspending per capability until the user responds, and returns
// the resulting combined snapshot.
func (g *Gate) RequestAuthorization(ctx context.Context) (Snapshot, error) {
	for _, c := range []Capability{Microphone, SpeechRecognition} {
		if g.auth.Status(c) == Authorized {
			continue
		}
		if _, err := g.auth.Request(ctx, c); err != nil {
			return g.Snapshot(), err
		}
	}
	return g.Snapshot(), nil
}

// Updates is the observable grant-state stream for the presentation layer.
func (g *Gate) Updates() (<-chan Snapshot, func()) {
	return g.updates.Subscribe()
}
