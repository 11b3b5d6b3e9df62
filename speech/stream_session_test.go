package speech

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"
)

// scriptedStream plays back canned hypotheses and records sent audio.
type scriptedStream struct {
	mu       sync.Mutex
	sent     [][]byte
	sendErr  error
	closed   bool
	incoming chan hypothesis
}

func newScriptedStream(hyps ...hypothesis) *scriptedStream {
	ch := make(chan hypothesis, len(hyps)+1)
	for _, h := range hyps {
		ch <- h
	}
	return &scriptedStream{incoming: ch}
}

func (s *scriptedStream) Send(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	s.sent = append(s.sent, cp)
	return nil
}

func (s *scriptedStream) CloseSend() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// echo a finalize ack like the backend does
	s.incoming <- hypothesis{FromFinalize: true}
	return nil
}

func (s *scriptedStream) Recv() (hypothesis, error) {
	h, ok := <-s.incoming
	if !ok {
		return hypothesis{}, io.EOF
	}
	return h, nil
}

func (s *scriptedStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.incoming)
	}
	return nil
}

func dialScripted(ss *scriptedStream) func() (rawStream, error) {
	return func() (rawStream, error) { return ss, nil }
}

func TestStreamSessionCommitsFinals(t *testing.T) {
	ws := newScriptedStream(
		hypothesis{Transcript: "create a", IsFinal: true, Confidence: 0.9},
		hypothesis{Transcript: "task", IsFinal: true, Confidence: 0.7},
	)
	sess := newStreamSession(profileNormal, dialScripted(ws))

	time.Sleep(50 * time.Millisecond) // let the receiver consume the script
	res, err := sess.Close()
	if err != nil {
		t.Fatal(err)
	}
	if res.Text != "create a task" {
		t.Errorf("text = %q, want %q", res.Text, "create a task")
	}
	if res.NoSpeech {
		t.Error("unexpected NoSpeech")
	}
	if res.Confidence < 0.79 || res.Confidence > 0.81 {
		t.Errorf("confidence = %v, want mean 0.8", res.Confidence)
	}
}

func TestStreamSessionInterimIgnored(t *testing.T) {
	ws := newScriptedStream(
		hypothesis{Transcript: "refr", IsFinal: false},
		hypothesis{Transcript: "refresh dashboard", IsFinal: true, Confidence: 0.92},
	)
	sess := newStreamSession(profileNormal, dialScripted(ws))

	time.Sleep(50 * time.Millisecond)
	res, err := sess.Close()
	if err != nil {
		t.Fatal(err)
	}
	if res.Text != "refresh dashboard" {
		t.Errorf("text = %q", res.Text)
	}
}

func TestStreamSessionUpdatesReplacePrevious(t *testing.T) {
	ws := newScriptedStream(
		hypothesis{Transcript: "move", IsFinal: true},
		hypothesis{Transcript: "the task", IsFinal: true},
	)
	sess := newStreamSession(profileNormal, dialScripted(ws))

	var got []string
	done := make(chan struct{})
	go func() {
		defer close(done)
		for text := range sess.Updates() {
			got = append(got, text)
		}
	}()

	time.Sleep(50 * time.Millisecond)
	if _, err := sess.Close(); err != nil {
		t.Fatal(err)
	}
	<-done

	if len(got) == 0 {
		t.Fatal("no updates delivered")
	}
	// each update carries the whole utterance so far
	last := got[len(got)-1]
	if last != "move the task" {
		t.Errorf("last update = %q, want full text", last)
	}
}

func TestStreamSessionNoSpeech(t *testing.T) {
	ws := newScriptedStream()
	sess := newStreamSession(profileNormal, dialScripted(ws))

	res, err := sess.Close()
	if err != nil {
		t.Fatal(err)
	}
	if !res.NoSpeech {
		t.Error("expected NoSpeech for empty session")
	}
}

func TestStreamSessionDialFailure(t *testing.T) {
	dialErr := errors.New("connection refused")
	sess := newStreamSession(profileNormal, func() (rawStream, error) { return nil, dialErr })

	sess.Feed(make([]byte, 1024)) // must not panic or wedge
	_, err := sess.Close()
	if !errors.Is(err, dialErr) {
		t.Fatalf("err = %v, want dial error", err)
	}
}

func TestStreamSessionChunksAudio(t *testing.T) {
	ws := newScriptedStream(hypothesis{Transcript: "ok", IsFinal: true})
	sess := newStreamSession(profileNormal, dialScripted(ws))

	chunk := profileNormal.chunkBytes()
	sess.Feed(make([]byte, chunk*2+10))

	if _, err := sess.Close(); err != nil {
		t.Fatal(err)
	}

	ws.mu.Lock()
	defer ws.mu.Unlock()
	if len(ws.sent) < 3 {
		t.Fatalf("sent %d chunks, want at least 3 (2 full + tail)", len(ws.sent))
	}
	if len(ws.sent[0]) != chunk {
		t.Errorf("first chunk %d bytes, want %d", len(ws.sent[0]), chunk)
	}
	if len(ws.sent[2]) != 10 {
		t.Errorf("tail chunk %d bytes, want 10", len(ws.sent[2]))
	}
}

func TestLowLatencyProfileSmallerChunks(t *testing.T) {
	if profileLowLatency.chunkBytes() >= profileNormal.chunkBytes() {
		t.Error("low-latency profile must use smaller chunks")
	}
	if profileLowLatency.finalizeMax >= profileNormal.finalizeMax {
		t.Error("low-latency profile must finalize faster")
	}
}
