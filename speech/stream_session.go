package speech

import (
	"strings"
	"sync"
	"time"

	"herald/audio"
	"herald/log"
)

type streamProfile struct {
	chunkMs      int
	finalizeIdle time.Duration
	finalizeMax  time.Duration
}

var (
	profileNormal     = streamProfile{chunkMs: 200, finalizeIdle: 200 * time.Millisecond, finalizeMax: 1000 * time.Millisecond}
	profileLowLatency = streamProfile{chunkMs: 100, finalizeIdle: 100 * time.Millisecond, finalizeMax: 500 * time.Millisecond}
)

func (p streamProfile) chunkBytes() int {
	return audio.BytesPerSecond * p.chunkMs / 1000
}

// rawStream is the wire half of a streaming session: one websocket (or fake)
// carrying binary PCM up and transcript hypotheses down.
type rawStream interface {
	Send(pcm []byte) error
	CloseSend() error
	Recv() (hypothesis, error)
	Close() error
}

type hypothesis struct {
	Transcript   string
	Confidence   float64
	IsFinal      bool
	SpeechFinal  bool
	FromFinalize bool
}

type streamSession struct {
	ws        rawStream
	profile   streamProfile
	audioCh   chan []byte
	updates   chan string
	startedAt time.Time
	connected chan struct{} // closed when the wire is ready (or failed)

	sendDone      chan struct{}
	recvDone      chan struct{}
	finalized     chan struct{}
	finalizedOnce sync.Once

	feedBuf []byte
	feedMu  sync.Mutex

	mu         sync.Mutex
	err        error
	errOnce    sync.Once
	closing    bool
	committed  string
	confSum    float64
	confCount  int
	connectDur time.Duration
}

func newStreamSession(profile streamProfile, dial func() (rawStream, error)) *streamSession {
	ss := &streamSession{
		profile:   profile,
		audioCh:   make(chan []byte, 128),
		updates:   make(chan string, 16),
		startedAt: time.Now(),
		sendDone:  make(chan struct{}),
		recvDone:  make(chan struct{}),
		finalized: make(chan struct{}),
		connected: make(chan struct{}),
	}

	go func() {
		connectStart := time.Now()
		ws, err := dial()
		ss.mu.Lock()
		ss.connectDur = time.Since(connectStart)
		ss.mu.Unlock()

		if err != nil {
			ss.errOnce.Do(func() {
				ss.mu.Lock()
				ss.err = err
				ss.mu.Unlock()
			})
			close(ss.sendDone)
			close(ss.recvDone)
			close(ss.connected)
			return
		}

		ss.ws = ws
		close(ss.connected)
		go ss.runSender()
		go ss.runReceiver()
	}()

	return ss
}

func (s *streamSession) Feed(pcm []byte) {
	s.mu.Lock()
	if s.err != nil {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	chunkBytes := s.profile.chunkBytes()

	s.feedMu.Lock()
	s.feedBuf = append(s.feedBuf, pcm...)
	var chunks [][]byte
	for len(s.feedBuf) >= chunkBytes {
		chunk := make([]byte, chunkBytes)
		copy(chunk, s.feedBuf[:chunkBytes])
		s.feedBuf = s.feedBuf[chunkBytes:]
		chunks = append(chunks, chunk)
	}
	s.feedMu.Unlock()

	for _, chunk := range chunks {
		s.audioCh <- chunk
	}
}

func (s *streamSession) Updates() <-chan string {
	return s.updates
}

func (s *streamSession) Close() (Result, error) {
	<-s.connected

	// If connection failed, drain and return error
	s.mu.Lock()
	if s.err != nil {
		connErr := s.err
		s.mu.Unlock()
		go func() { // drain audioCh so any blocked Feed() unblocks
			for range s.audioCh {
			}
		}()
		s.feedMu.Lock()
		s.feedBuf = nil
		s.feedMu.Unlock()
		close(s.audioCh)
		<-s.sendDone
		<-s.recvDone
		close(s.updates)
		return Result{NoSpeech: true}, connErr
	}
	s.mu.Unlock()

	// Flush remaining buffered PCM
	s.feedMu.Lock()
	if len(s.feedBuf) > 0 {
		tail := make([]byte, len(s.feedBuf))
		copy(tail, s.feedBuf)
		s.feedBuf = nil
		s.audioCh <- tail
	}
	s.feedMu.Unlock()
	close(s.audioCh)

	<-s.sendDone

	// Wait for server finalize acknowledgment, then a brief quiet period
	select {
	case <-s.finalized:
		time.Sleep(s.profile.finalizeIdle)
	case <-time.After(s.profile.finalizeMax):
	}

	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
	s.ws.Close()
	select {
	case <-s.recvDone:
	case <-time.After(2 * time.Second):
		log.Warn("stream receiver drain timeout")
	}

	// Guarantee the consumer sees final text even if the last non-blocking
	// send was dropped
	s.mu.Lock()
	finalText := s.committed
	s.mu.Unlock()
	if finalText != "" {
		select {
		case s.updates <- finalText:
		default:
		}
	}
	close(s.updates)

	s.mu.Lock()
	text := strings.TrimSpace(s.committed)
	confidence := 0.0
	if s.confCount > 0 {
		confidence = s.confSum / float64(s.confCount)
	}
	sessionErr := s.err
	s.mu.Unlock()

	return Result{
		Text:       text,
		Confidence: confidence,
		NoSpeech:   text == "",
	}, sessionErr
}

func (s *streamSession) runSender() {
	defer close(s.sendDone)
	for chunk := range s.audioCh {
		if err := s.ws.Send(chunk); err != nil {
			s.setErr(err)
			return
		}
	}
	if err := s.ws.CloseSend(); err != nil {
		s.setErr(err)
	}
}

func (s *streamSession) runReceiver() {
	defer close(s.recvDone)
	for {
		hyp, err := s.ws.Recv()
		if err != nil {
			s.mu.Lock()
			closing := s.closing
			s.mu.Unlock()
			if closing {
				return
			}
			s.setErr(err)
			return
		}

		if hyp.FromFinalize {
			s.finalizedOnce.Do(func() { close(s.finalized) })
		}

		isFinal := hyp.IsFinal || hyp.SpeechFinal || hyp.FromFinalize
		if !isFinal {
			continue
		}

		transcript := strings.TrimSpace(hyp.Transcript)
		if transcript == "" {
			continue
		}

		s.mu.Lock()
		if s.committed != "" {
			s.committed += " " + transcript
		} else {
			s.committed = transcript
		}
		if hyp.Confidence > 0 {
			s.confSum += hyp.Confidence
			s.confCount++
		}
		fullText := s.committed
		s.mu.Unlock()

		select {
		case s.updates <- fullText:
		default:
		}
	}
}

func (s *streamSession) setErr(err error) {
	if err == nil {
		return
	}
	s.errOnce.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		if s.ws != nil {
			s.ws.Close()
		}
	})
}
