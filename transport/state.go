package transport

import "time"

type Phase string

const (
	Disconnected Phase = "disconnected"
	Connecting   Phase = "connecting"
	Connected    Phase = "connected"
	Reconnecting Phase = "reconnecting"
)

// State is the observable connection state. Attempt and NextDelay are only
// meaningful while reconnecting.
type State struct {
	Phase     Phase
	Attempt   int
	NextDelay time.Duration
}

func (s State) Online() bool { return s.Phase == Connected }
