// Package voice runs the command loop: wake phrase, capture, recognition,
// interpretation, dispatch. At most one session is ever away from idle; the
// whole pipeline is serialized through a single controller goroutine.
package voice

import (
	"time"

	"github.com/google/uuid"

	"herald/command"
	"herald/permission"
)

type State string

const (
	StateIdle               State = "idle"
	StatePermissionRequired State = "permission_required"
	StateWakeListening      State = "wake_listening"
	StateActivated          State = "activated"
	StateCapturing          State = "capturing"
	StateRecognizing        State = "recognizing"
	StateInterpreting       State = "interpreting"
	StateDispatching        State = "dispatching"
	StateCooldown           State = "cooldown"
	StateError              State = "error"
)

// Session is the observable snapshot of the current voice interaction.
// Transcript carries the live partial during capture and the final text
// afterwards. Permissions is the grant state the session started under.
// NotUnderstood marks a session whose transcript did not clear the
// confidence gate; the UI tells the user instead of acting.
type Session struct {
	ID            string
	State         State
	StartedAt     time.Time
	Permissions   permission.Snapshot
	Transcript    string
	Command       *command.Command
	NotUnderstood bool
	Err           string
}

func newSessionID() string { return uuid.NewString()[:8] }
