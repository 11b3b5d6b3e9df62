package speech

import "time"

// Finalization policy: a session ends on trailing silence once speech has
// been heard, or at the hard maximum capture duration, whichever fires first.

const TickInterval = 100 * time.Millisecond

type FinalizeEvent int

const (
	FinalizeNone FinalizeEvent = iota
	FinalizeSilence
	FinalizeMaxDuration
)

type FinalizeMonitor struct {
	silenceTicks int
	maxTicks     int

	ticks      int
	quietRun   int
	heardVoice bool
	fired      bool
}

// NewFinalizeMonitor builds a monitor that fires FinalizeSilence after
// trailingSilence of quiet following speech, and FinalizeMaxDuration at
// maxCapture regardless.
func NewFinalizeMonitor(trailingSilence, maxCapture time.Duration) *FinalizeMonitor {
	return &FinalizeMonitor{
		silenceTicks: int(trailingSilence / TickInterval),
		maxTicks:     int(maxCapture / TickInterval),
	}
}

func (m *FinalizeMonitor) Tick(hasSpeech bool) FinalizeEvent {
	if m.fired {
		return FinalizeNone
	}
	m.ticks++
	if hasSpeech {
		m.heardVoice = true
		m.quietRun = 0
	} else {
		m.quietRun++
	}

	if m.ticks >= m.maxTicks {
		m.fired = true
		return FinalizeMaxDuration
	}
	if m.heardVoice && m.quietRun >= m.silenceTicks {
		m.fired = true
		return FinalizeSilence
	}
	return FinalizeNone
}
