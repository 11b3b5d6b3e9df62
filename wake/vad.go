package wake

import (
	"sync"

	webrtcvad "github.com/maxhawkins/go-webrtcvad"

	"herald/audio"
)

const (
	vadMode       = 3
	vadFrameMs    = 20
	vadFrameBytes = audio.SampleRate * vadFrameMs / 1000 * 2 // 640 bytes
	vadDebounce   = 3                                        // consecutive speech frames to confirm voice
)

type vadProcessor struct {
	vad *webrtcvad.VAD

	mu            sync.Mutex
	buf           []byte
	voiceDetected bool
	speechRun     int
}

func newVADProcessor() (*vadProcessor, error) {
	v, err := webrtcvad.New()
	if err != nil {
		return nil, err
	}
	if err := v.SetMode(vadMode); err != nil {
		return nil, err
	}
	return &vadProcessor{vad: v}, nil
}

// Process consumes PCM and returns the number of speech frames and silence
// frames classified in this call.
func (p *vadProcessor) Process(data []byte) (speech, silence int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.buf = append(p.buf, data...)
	for len(p.buf) >= vadFrameBytes {
		frame := p.buf[:vadFrameBytes]
		p.buf = p.buf[vadFrameBytes:]

		active, err := p.vad.Process(audio.SampleRate, frame)
		if err != nil {
			continue
		}
		if active {
			speech++
			p.speechRun++
			if p.speechRun >= vadDebounce {
				p.voiceDetected = true
			}
		} else {
			silence++
			p.speechRun = 0
		}
	}
	return speech, silence
}

// VoiceDetected reports whether a debounced run of speech frames has been
// seen since the last Reset.
func (p *vadProcessor) VoiceDetected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.voiceDetected
}

func (p *vadProcessor) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.buf = p.buf[:0]
	p.voiceDetected = false
	p.speechRun = 0
}
