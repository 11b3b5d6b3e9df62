package audio

import (
	"os"
	"sync"
	"time"
)

// Replayed audio arrives in the same chunk geometry the real device uses:
// 1024 frames of 16-bit mono per callback.
const (
	replayFrames     = 1024
	replayChunkBytes = replayFrames * (BitsPerSample / 8)
)

// FakeContext replays recorded audio through the CaptureDevice interface.
// With realtime set, chunks arrive at the recording's own pace and the
// device then idles until Stop. Otherwise the whole recording is delivered
// synchronously during Start, followed by a silence feed: wake detection and
// voice-activity consumers expect a continuous frame stream.
type FakeContext struct {
	pcm      []byte
	realtime bool
}

func NewFakeContext(wavPath string, realtime bool) (*FakeContext, error) {
	data, err := os.ReadFile(wavPath)
	if err != nil {
		return nil, err
	}
	if len(data) > WAVHeaderSize {
		data = data[WAVHeaderSize:]
	}
	return &FakeContext{pcm: data, realtime: realtime}, nil
}

// NewFakePCMContext wraps raw PCM bytes directly, for tests that synthesize
// audio instead of loading a file.
func NewFakePCMContext(pcm []byte, realtime bool) *FakeContext {
	return &FakeContext{pcm: pcm, realtime: realtime}
}

func (f *FakeContext) Devices() ([]DeviceInfo, error) { return nil, nil }
func (f *FakeContext) Close()                         {}

func (f *FakeContext) NewCapture(_ *DeviceInfo, _ CaptureConfig) (CaptureDevice, error) {
	return &FakeCapture{pcm: f.pcm, realtime: f.realtime, audioDone: make(chan struct{})}, nil
}

type FakeCapture struct {
	pcm      []byte
	realtime bool

	mu        sync.Mutex
	cb        DataCallback
	stop      chan struct{}
	done      chan struct{}
	audioDone chan struct{}
}

// AudioDone closes once the recording has been fully delivered.
func (f *FakeCapture) AudioDone() <-chan struct{} { return f.audioDone }

func (f *FakeCapture) SetCallback(cb DataCallback) {
	f.mu.Lock()
	f.cb = cb
	f.mu.Unlock()
}

func (f *FakeCapture) ClearCallback() {
	f.mu.Lock()
	f.cb = nil
	f.mu.Unlock()
}

func (f *FakeCapture) DeviceName() string { return "fake" }

func (f *FakeCapture) callback() DataCallback {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cb
}

// deliver hands one chunk starting at pos to cb and returns the new position.
func (f *FakeCapture) deliver(cb DataCallback, pos int) int {
	end := min(pos+replayChunkBytes, len(f.pcm))
	chunk := make([]byte, end-pos)
	copy(chunk, f.pcm[pos:end])
	cb(chunk, uint32(len(chunk)/(BitsPerSample/8)))
	return end
}

func (f *FakeCapture) Start() error {
	f.stop = make(chan struct{})
	f.done = make(chan struct{})
	// audioDone is NOT recreated here: callers may already be waiting on it.
	// Stop rearms it so the recording can replay.

	if f.realtime {
		go f.replayPaced()
		return nil
	}

	if cb := f.callback(); cb != nil {
		for pos := 0; pos < len(f.pcm); {
			pos = f.deliver(cb, pos)
		}
	}
	close(f.audioDone)
	go f.feedSilence()
	return nil
}

// replayPaced delivers the recording at its natural rate, closes audioDone
// at the end, then idles until Stop.
func (f *FakeCapture) replayPaced() {
	defer close(f.done)
	interval := time.Duration(replayChunkBytes) * time.Second / BytesPerSecond
	pos, finished := 0, false
	for {
		select {
		case <-f.stop:
			return
		case <-time.After(interval):
		}

		cb := f.callback()
		if cb == nil {
			continue
		}
		if pos < len(f.pcm) {
			pos = f.deliver(cb, pos)
		} else if !finished {
			finished = true
			close(f.audioDone)
		}
	}
}

// feedSilence keeps empty chunks flowing after an immediate-mode burst.
func (f *FakeCapture) feedSilence() {
	defer close(f.done)
	silence := make([]byte, replayChunkBytes)
	for {
		select {
		case <-f.stop:
			return
		case <-time.After(time.Millisecond):
		}
		if cb := f.callback(); cb != nil {
			cb(silence, replayFrames)
		}
	}
}

func (f *FakeCapture) Stop() {
	if f.stop == nil {
		return
	}
	select {
	case <-f.stop:
	default:
		close(f.stop)
	}
	<-f.done
	f.audioDone = make(chan struct{}) // rearm for replay
}

func (f *FakeCapture) Close() {}
