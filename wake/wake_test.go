package wake

import (
	"testing"
	"time"

	"herald/audio"
)

func newTestListener(t *testing.T) (*Listener, *FakeDetector, *audio.FakeCapture) {
	t.Helper()
	pcm := make([]byte, audio.BytesPerSecond/2) // half a second of silence
	ctx := audio.NewFakePCMContext(pcm, false)
	cap, err := ctx.NewCapture(nil, audio.CaptureConfig{SampleRate: audio.SampleRate, Channels: audio.Channels})
	if err != nil {
		t.Fatal(err)
	}
	det := NewFakeDetector()
	l := NewListener(cap, det)
	t.Cleanup(l.Stop)
	return l, det, cap.(*audio.FakeCapture)
}

func waitEvent(t *testing.T, l *Listener) Event {
	t.Helper()
	select {
	case ev := <-l.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no wake event")
		return Event{}
	}
}

func TestDetectionEmitsEvent(t *testing.T) {
	l, det, _ := newTestListener(t)
	if err := l.Start(); err != nil {
		t.Fatal(err)
	}
	det.Trigger()
	ev := waitEvent(t, l)
	if ev.At.IsZero() {
		t.Fatal("event missing timestamp")
	}
}

func TestSingleInFlightEvent(t *testing.T) {
	l, det, _ := newTestListener(t)
	if err := l.Start(); err != nil {
		t.Fatal(err)
	}

	det.Trigger()
	waitEvent(t, l)

	// Without Rearm, further detections are suppressed.
	det.Trigger()
	select {
	case <-l.Events():
		t.Fatal("suppressed detection produced an event")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRearmAllowsNextDetection(t *testing.T) {
	l, det, _ := newTestListener(t)
	if err := l.Start(); err != nil {
		t.Fatal(err)
	}

	det.Trigger()
	waitEvent(t, l)

	l.Rearm()
	det.Trigger()
	waitEvent(t, l)
}

func TestStartTwiceFails(t *testing.T) {
	l, _, _ := newTestListener(t)
	if err := l.Start(); err != nil {
		t.Fatal(err)
	}
	if err := l.Start(); err != ErrAlreadyRunning {
		t.Fatalf("got %v, want ErrAlreadyRunning", err)
	}
}

func TestStopReleasesAndStartResumes(t *testing.T) {
	l, det, _ := newTestListener(t)
	if err := l.Start(); err != nil {
		t.Fatal(err)
	}
	l.Stop()
	l.Stop() // idempotent

	if err := l.Start(); err != nil {
		t.Fatal(err)
	}
	det.Trigger()
	waitEvent(t, l)
}

func TestRollingBufferBounded(t *testing.T) {
	rb := newRollingBuffer(100 * time.Millisecond)
	capBytes := audio.BytesPerSecond / 10

	for i := 0; i < 50; i++ {
		rb.Write(make([]byte, 1024))
	}
	got := rb.Drain()
	if len(got) > capBytes {
		t.Fatalf("rolling buffer grew to %d bytes, cap %d", len(got), capBytes)
	}
}

func TestSyllableCount(t *testing.T) {
	cases := []struct {
		phrase string
		want   int
	}{
		{"hey herald", 3},
		{"ok", 1},
		{"", 2}, // fallback
	}
	for _, tc := range cases {
		if got := syllableCount(tc.phrase); got != tc.want {
			t.Errorf("syllableCount(%q) = %d, want %d", tc.phrase, got, tc.want)
		}
	}
}
