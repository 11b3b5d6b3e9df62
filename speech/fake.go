package speech

import (
	"context"
	"fmt"
	"time"
)

// FakeRecognizer scripts recognition outcomes for tests.
type FakeRecognizer struct {
	text       string
	confidence float64
	err        error
	lang       string

	// Delay postpones the final result to exercise timeout paths.
	Delay time.Duration
}

func NewFake(text string, confidence float64, err error) *FakeRecognizer {
	return &FakeRecognizer{text: text, confidence: confidence, err: err}
}

func (f *FakeRecognizer) Name() string            { return "fake" }
func (f *FakeRecognizer) SetLanguage(lang string) { f.lang = lang }
func (f *FakeRecognizer) GetLanguage() string     { return f.lang }

func (f *FakeRecognizer) NewSession(_ context.Context, _ Config) (Session, error) {
	updates := make(chan string, 1)
	if f.text != "" {
		go func() {
			time.Sleep(10 * time.Millisecond)
			updates <- f.text
			close(updates)
		}()
	} else {
		close(updates)
	}
	return &fakeSession{
		text:       f.text,
		confidence: f.confidence,
		err:        f.err,
		delay:      f.Delay,
		updates:    updates,
	}, nil
}

type fakeSession struct {
	text       string
	confidence float64
	err        error
	delay      time.Duration
	updates    chan string
	fed        int
}

func (s *fakeSession) Feed(pcm []byte) { s.fed += len(pcm) }

func (s *fakeSession) Updates() <-chan string { return s.updates }

func (s *fakeSession) Close() (Result, error) {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.err != nil {
		return Result{}, fmt.Errorf("fake recognizer error: %w", s.err)
	}
	return Result{
		Text:       s.text,
		Confidence: s.confidence,
		NoSpeech:   s.text == "",
	}, nil
}
