package voice

import (
	"sort"
	"sync"
	"time"

	"herald/log"
)

// Profile selects the recognition pipeline trade-off.
type Profile string

const (
	// ProfileNormal favors transcript quality.
	ProfileNormal Profile = "normal"
	// ProfileLowLatency trades look-ahead for speed: smaller audio chunks
	// and a shorter finalize wait.
	ProfileLowLatency Profile = "low_latency"
)

// Optimizer adapts the pipeline profile to observed end-to-end session
// latency. It switches to low latency when the p95 over the last window of
// sessions exceeds the high target, and back to normal when it falls below
// the low target. The gap between the targets is the hysteresis band that
// keeps it from flapping.
type Optimizer struct {
	targetHigh time.Duration
	targetLow  time.Duration
	window     int

	mu      sync.Mutex
	samples []time.Duration
	profile Profile
}

func NewOptimizer(targetHigh, targetLow time.Duration, window int) *Optimizer {
	if window < 1 {
		window = 1
	}
	return &Optimizer{
		targetHigh: targetHigh,
		targetLow:  targetLow,
		window:     window,
		profile:    ProfileNormal,
	}
}

// Profile returns the currently selected profile.
func (o *Optimizer) Profile() Profile {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.profile
}

// Record adds one session's total latency and returns the profile to use for
// the next session.
func (o *Optimizer) Record(total time.Duration) Profile {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.samples = append(o.samples, total)
	if len(o.samples) > o.window {
		o.samples = o.samples[len(o.samples)-o.window:]
	}
	if len(o.samples) < o.window {
		return o.profile
	}

	p95 := percentile95(o.samples)
	switch {
	case o.profile == ProfileNormal && p95 > o.targetHigh:
		o.profile = ProfileLowLatency
		log.Optimizer(string(o.profile), float64(p95.Milliseconds()))
	case o.profile == ProfileLowLatency && p95 < o.targetLow:
		o.profile = ProfileNormal
		log.Optimizer(string(o.profile), float64(p95.Milliseconds()))
	}
	return o.profile
}

func percentile95(samples []time.Duration) time.Duration {
	sorted := make([]time.Duration, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := (len(sorted)*95 + 99) / 100
	if idx > len(sorted) {
		idx = len(sorted)
	}
	return sorted[idx-1]
}
