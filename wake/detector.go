package wake

import (
	"strings"
	"time"

	"herald/audio"
)

// Detector decides, frame by frame, whether the wake phrase was just spoken.
// Detection is strictly on-device: no network, no persistence of raw audio.
type Detector interface {
	// Feed consumes a PCM chunk and reports whether the phrase completed
	// within it.
	Feed(pcm []byte) bool
	Reset()
}

// vadDetector approximates keyword spotting with a speech-burst template:
// the wake phrase is a short utterance bounded by silence, so it fires when a
// debounced speech run whose duration falls inside the phrase's expected
// window is followed by a gap of silence. The window is derived from the
// configured phrase at a nominal speaking rate.
type vadDetector struct {
	vad *vadProcessor

	minSpeechFrames int
	maxSpeechFrames int
	gapFrames       int

	run       int
	inGap     bool
	candidate int
}

const (
	msPerSyllable = 220 // nominal speaking rate
	phraseSlackMs = 400
	gapMs         = 300
)

func NewPhraseDetector(phrase string) (Detector, error) {
	vp, err := newVADProcessor()
	if err != nil {
		return nil, err
	}

	expectedMs := syllableCount(phrase) * msPerSyllable
	minMs := expectedMs / 2
	maxMs := expectedMs + phraseSlackMs

	return &vadDetector{
		vad:             vp,
		minSpeechFrames: minMs / vadFrameMs,
		maxSpeechFrames: maxMs / vadFrameMs,
		gapFrames:       gapMs / vadFrameMs,
	}, nil
}

func (d *vadDetector) Feed(pcm []byte) bool {
	speech, silence := d.vad.Process(pcm)

	fired := false
	for i := 0; i < speech+silence; i++ {
		// Replay classified frames in aggregate: speech first is close enough
		// at 20ms granularity for a burst template.
		isSpeech := i < speech
		if isSpeech {
			if d.inGap {
				// new utterance begins before the gap completed
				d.inGap = false
				d.candidate = 0
			}
			d.run++
			continue
		}
		if d.run >= d.minSpeechFrames && d.run <= d.maxSpeechFrames {
			d.inGap = true
			d.candidate++
			if d.candidate >= d.gapFrames {
				fired = true
				d.run = 0
				d.inGap = false
				d.candidate = 0
			}
		} else if d.inGap {
			d.candidate++
			if d.candidate >= d.gapFrames {
				d.inGap = false
				d.candidate = 0
			}
		} else {
			d.run = 0
		}
	}
	return fired
}

func (d *vadDetector) Reset() {
	d.vad.Reset()
	d.run = 0
	d.inGap = false
	d.candidate = 0
}

// syllableCount estimates spoken length from vowel groups; "hey herald" -> 3.
func syllableCount(phrase string) int {
	count := 0
	inVowel := false
	for _, r := range strings.ToLower(phrase) {
		isVowel := strings.ContainsRune("aeiouy", r)
		if isVowel && !inVowel {
			count++
		}
		inVowel = isVowel
	}
	if count == 0 {
		count = 2
	}
	return count
}

// rollingBuffer keeps the most recent window of PCM so the recognizer can be
// primed with audio that immediately follows the phrase. Fixed capacity;
// older audio is discarded, never persisted.
type rollingBuffer struct {
	buf []byte
	cap int
}

func newRollingBuffer(window time.Duration) *rollingBuffer {
	return &rollingBuffer{cap: int(window.Seconds() * float64(audio.BytesPerSecond))}
}

func (r *rollingBuffer) Write(pcm []byte) {
	r.buf = append(r.buf, pcm...)
	if over := len(r.buf) - r.cap; over > 0 {
		r.buf = r.buf[over:]
	}
}

func (r *rollingBuffer) Drain() []byte {
	out := r.buf
	r.buf = nil
	return out
}
