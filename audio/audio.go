// Package audio abstracts microphone capture. The core records 16-bit mono
// PCM; whoever holds the CaptureDevice owns the microphone exclusively —
// ownership is handed off between the wake listener and the recognizer,
// never shared.
package audio

const (
	SampleRate    = 16000
	Channels      = 1
	BitsPerSample = 16

	WAVHeaderSize = 44
)

// BytesPerSecond is the PCM data rate of the capture format.
const BytesPerSecond = SampleRate * Channels * (BitsPerSample / 8)

type DataCallback func(data []byte, frameCount uint32)

type CaptureConfig struct {
	SampleRate uint32
	Channels   uint32
	// BufferMillis sizes the device-side buffer. Zero means driver default;
	// the performance optimizer requests smaller buffers in low-latency mode.
	BufferMillis uint32
}

type DeviceInfo struct {
	ID   string // opaque platform-specific identifier
	Name string
}

type Context interface {
	Devices() ([]DeviceInfo, error)
	NewCapture(device *DeviceInfo, config CaptureConfig) (CaptureDevice, error)
	Close()
}

type CaptureDevice interface {
	Start() error
	Stop()
	Close()
	SetCallback(cb DataCallback)
	ClearCallback()
	DeviceName() string
}
