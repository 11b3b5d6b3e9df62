package wake

// VoiceActivity classifies capture audio as speech or silence. The command
// capture phase uses it to drive the finalize monitor after the listener has
// handed the microphone over.
type VoiceActivity struct {
	p *vadProcessor
}

func NewVoiceActivity() (*VoiceActivity, error) {
	p, err := newVADProcessor()
	if err != nil {
		return nil, err
	}
	return &VoiceActivity{p: p}, nil
}

// Process consumes PCM and returns the speech and silence frame counts
// classified in this call.
func (v *VoiceActivity) Process(pcm []byte) (speech, silence int) {
	return v.p.Process(pcm)
}

func (v *VoiceActivity) Reset() { v.p.Reset() }

// VoiceDetected reports whether a debounced run of speech frames has been
// seen since the last Reset, filtering out single-frame noise blips.
func (v *VoiceActivity) VoiceDetected() bool { return v.p.VoiceDetected() }
