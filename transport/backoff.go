package transport

import (
	"math/rand"
	"time"
)

// backoff computes reconnect delays: exponential from min, capped at max,
// with full jitter so a fleet of clients does not reconnect in lockstep.
// Attempt counts from 1.
type backoff struct {
	min time.Duration
	max time.Duration
}

func (b backoff) delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := b.min
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= b.max {
			d = b.max
			break
		}
	}
	// jitter in [min, d]
	if d <= b.min {
		return b.min
	}
	return b.min + time.Duration(rand.Int63n(int64(d-b.min)+1))
}
