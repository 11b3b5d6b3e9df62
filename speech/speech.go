// Package speech wraps the streaming speech recognition capability. A
// Session consumes PCM from the capture device and emits a monotonically
// improving stream of partial transcripts, terminating with a final
// transcript and confidence, a no-speech result, or an error.
package speech

import (
	"context"
	"fmt"
	"os"
)

type Config struct {
	Language string
	// LowLatency selects the reduced-look-ahead pipeline profile: smaller
	// audio chunks and a shorter finalize wait.
	LowLatency bool
}

type Result struct {
	Text       string
	Confidence float64 // 0-1, from the recognizer's final hypothesis
	NoSpeech   bool
}

// Session is a single capture-to-transcript exchange. Feed never blocks the
// audio callback; Updates carries whole-utterance partials, each replacing
// the previous; Close finalizes and returns the result.
type Session interface {
	Feed(pcm []byte)
	Updates() <-chan string
	Close() (Result, error)
}

type Recognizer interface {
	Name() string
	SetLanguage(lang string)
	GetLanguage() string
	NewSession(ctx context.Context, cfg Config) (Session, error)
}

// New selects the recognizer backend from the environment. The streaming
// endpoint and token normally come from the pairing config; the env vars are
// the development override.
func New(endpoint, token string) (Recognizer, error) {
	if env := os.Getenv("HERALD_RECOGNIZER_URL"); env != "" {
		endpoint = env
	}
	if env := os.Getenv("HERALD_RECOGNIZER_TOKEN"); env != "" {
		token = env
	}
	if endpoint == "" {
		return nil, fmt.Errorf("no recognizer endpoint configured (set HERALD_RECOGNIZER_URL or pair with a backend)")
	}
	return NewStreamRecognizer(endpoint, token), nil
}
