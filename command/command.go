// Package command maps final transcripts onto the closed set of typed
// commands the backend understands. Matching is vocabulary-based with
// tolerance for minor lexical variation; anything that doesn't clear the
// confidence gate comes back as Unknown.
package command

import "time"

type Kind string

const (
	AnalyzeProject   Kind = "analyze_project"
	RefreshDashboard Kind = "refresh_dashboard"
	CreateTask       Kind = "create_task"
	MoveTask         Kind = "move_task"
	DeleteTask       Kind = "delete_task"
	Navigate         Kind = "navigate"
	Unknown          Kind = "unknown"
)

// Destructive reports whether dispatching this kind changes or removes data
// in a way the user may regret. Destructive kinds require the higher
// confidence threshold.
func (k Kind) Destructive() bool {
	return k == MoveTask || k == DeleteTask
}

type Origin string

const (
	OriginVoice  Origin = "voice"
	OriginManual Origin = "manual"
)

// Command is immutable once created and consumed exactly once, either by the
// mutation queue or by a navigation handler.
type Command struct {
	Kind       Kind
	Parameters map[string]string
	Confidence float64
	Origin     Origin
	Timestamp  time.Time
}
