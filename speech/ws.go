package speech

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"nhooyr.io/websocket"
)

// StreamRecognizer streams PCM16 to the backend's recognition endpoint over a
// websocket and receives JSON hypotheses.
type StreamRecognizer struct {
	endpoint string
	token    string
	lang     string
}

func NewStreamRecognizer(endpoint, token string) *StreamRecognizer {
	return &StreamRecognizer{endpoint: endpoint, token: token}
}

func (r *StreamRecognizer) Name() string { return "stream" }

func (r *StreamRecognizer) SetLanguage(lang string) { r.lang = lang }

func (r *StreamRecognizer) GetLanguage() string { return r.lang }

func (r *StreamRecognizer) NewSession(ctx context.Context, cfg Config) (Session, error) {
	profile := profileNormal
	if cfg.LowLatency {
		profile = profileLowLatency
	}
	lang := cfg.Language
	if lang == "" {
		lang = r.lang
	}
	return newStreamSession(profile, func() (rawStream, error) {
		return r.dial(ctx, lang, profile)
	}), nil
}

type wsHypothesis struct {
	Type         string  `json:"type"`
	Transcript   string  `json:"transcript"`
	Confidence   float64 `json:"confidence"`
	IsFinal      bool    `json:"is_final"`
	SpeechFinal  bool    `json:"speech_final"`
	FromFinalize bool    `json:"from_finalize"`
}

type wsStream struct {
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
}

func (r *StreamRecognizer) dial(ctx context.Context, lang string, profile streamProfile) (rawStream, error) {
	endpoint, err := url.Parse(r.endpoint)
	if err != nil {
		return nil, err
	}

	q := endpoint.Query()
	q.Set("encoding", "linear16")
	q.Set("sample_rate", fmt.Sprintf("%d", 16000))
	q.Set("channels", "1")
	if lang != "" {
		q.Set("language", lang)
	}
	if profile.chunkMs <= profileLowLatency.chunkMs {
		q.Set("interim_lookahead", "reduced")
	}
	endpoint.RawQuery = q.Encode()

	headers := http.Header{}
	if r.token != "" {
		headers.Set("Authorization", "Token "+r.token)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	conn, _, err := websocket.Dial(streamCtx, endpoint.String(), &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		cancel()
		return nil, err
	}

	return &wsStream{conn: conn, ctx: streamCtx, cancel: cancel}, nil
}

func (s *wsStream) Send(pcm []byte) error {
	return s.conn.Write(s.ctx, websocket.MessageBinary, pcm)
}

func (s *wsStream) CloseSend() error {
	msg := []byte(`{"type":"Finalize"}`)
	return s.conn.Write(s.ctx, websocket.MessageText, msg)
}

func (s *wsStream) Recv() (hypothesis, error) {
	_, data, err := s.conn.Read(s.ctx)
	if err != nil {
		return hypothesis{}, err
	}

	var resp wsHypothesis
	if err := json.Unmarshal(data, &resp); err != nil {
		return hypothesis{}, err
	}

	return hypothesis{
		Transcript:   strings.TrimSpace(resp.Transcript),
		Confidence:   resp.Confidence,
		IsFinal:      resp.IsFinal,
		SpeechFinal:  resp.SpeechFinal,
		FromFinalize: resp.FromFinalize,
	}, nil
}

func (s *wsStream) Close() error {
	s.cancel()
	return s.conn.Close(websocket.StatusNormalClosure, "")
}
