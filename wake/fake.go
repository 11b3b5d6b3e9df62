package wake

import "sync/atomic"

// FakeDetector fires on demand, ignoring audio content.
type FakeDetector struct {
	fire atomic.Bool
}

func NewFakeDetector() *FakeDetector { return &FakeDetector{} }

// Trigger makes the next Feed call report a detection.
func (f *FakeDetector) Trigger() { f.fire.Store(true) }

func (f *FakeDetector) Feed([]byte) bool {
	return f.fire.CompareAndSwap(true, false)
}

func (f *FakeDetector) Reset() { f.fire.Store(false) }
