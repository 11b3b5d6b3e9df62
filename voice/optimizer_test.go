package voice

import (
	"testing"
	"time"
)

func TestOptimizerStartsNormal(t *testing.T) {
	o := NewOptimizer(2*time.Second, time.Second, 3)
	if o.Profile() != ProfileNormal {
		t.Fatalf("profile = %s, want normal", o.Profile())
	}
}

func TestOptimizerSwitchesToLowLatency(t *testing.T) {
	o := NewOptimizer(2*time.Second, time.Second, 3)

	// one slow session is not enough, the window must fill
	if p := o.Record(3 * time.Second); p != ProfileNormal {
		t.Fatalf("switched after one sample: %s", p)
	}
	o.Record(3 * time.Second)
	if p := o.Record(3 * time.Second); p != ProfileLowLatency {
		t.Fatalf("profile = %s after a slow window, want low_latency", p)
	}
}

func TestOptimizerHysteresis(t *testing.T) {
	o := NewOptimizer(2*time.Second, time.Second, 3)
	for i := 0; i < 3; i++ {
		o.Record(3 * time.Second)
	}
	if o.Profile() != ProfileLowLatency {
		t.Fatal("setup: not in low latency")
	}

	// latencies between the targets must not flip the profile back
	for i := 0; i < 5; i++ {
		o.Record(1500 * time.Millisecond)
	}
	if o.Profile() != ProfileLowLatency {
		t.Error("profile flapped inside the hysteresis band")
	}

	// consistently fast sessions bring it back to normal
	for i := 0; i < 3; i++ {
		o.Record(500 * time.Millisecond)
	}
	if o.Profile() != ProfileNormal {
		t.Errorf("profile = %s after fast window, want normal", o.Profile())
	}
}

func TestPercentileSmallWindow(t *testing.T) {
	got := percentile95([]time.Duration{time.Second, 3 * time.Second, 2 * time.Second})
	if got != 3*time.Second {
		t.Errorf("p95 of 3 samples = %v, want the max", got)
	}
}
