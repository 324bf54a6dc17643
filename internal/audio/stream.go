package audio

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"net/http"
	"strings"
	"time"

	ws "github.com/gorilla/websocket"

	"mizon/pkg/stt"
)

// StreamRecognizer keeps a websocket open to a continuous speech recognizer
// and forwards its interim and final transcripts.
//
// Protocol: after connecting the client sends
//
//	{"type":"start","language":"en"}
//
// and the server streams
//
//	{"type":"transcript","text":"...","final":true}
//	{"type":"error","error":"no-speech"|"aborted"|"not-allowed"|...}
type StreamRecognizer struct {
	URL      string
	Header   http.Header
	Language string
	Backoff  Backoff
	Dialer   *ws.Dialer
}

type recognizerMessage struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Final    bool   `json:"final,omitempty"`
	Error    string `json:"error,omitempty"`
	Language string `json:"language,omitempty"`
}

func (r *StreamRecognizer) Name() string { return "stream" }

func (r *StreamRecognizer) Start(ctx context.Context, onChunk func(stt.Chunk), onError func(error)) (Handle, error) {
	if r.URL == "" {
		return nil, errors.New("audio: stream recognizer url is empty")
	}
	return Go(ctx, func(ctx context.Context) {
		err := Supervise(ctx, r.Backoff, r.Name(), func(ctx context.Context, healthy func()) error {
			return r.session(ctx, onChunk, healthy)
		})
		if err != nil {
			onError(err)
		}
	}), nil
}

func (r *StreamRecognizer) session(ctx context.Context, onChunk func(stt.Chunk), healthy func()) error {
	dialer := r.Dialer
	if dialer == nil {
		dialer = ws.DefaultDialer
	}

	conn, resp, err := dialer.DialContext(ctx, r.URL, r.Header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return fmt.Errorf("%w: recognizer answered %d", ErrPermissionDenied, resp.StatusCode)
		}
		return &TransportError{Source: r.Name(), Err: err}
	}
	defer conn.Close()

	log.Debug("Recognizer stream open", "url", r.URL)

	if err := conn.WriteJSON(recognizerMessage{Type: "start", Language: r.Language}); err != nil {
		return &TransportError{Source: r.Name(), Err: err}
	}

	// unblock ReadJSON on stop
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(ws.CloseMessage,
				ws.FormatCloseMessage(ws.CloseNormalClosure, "aborted"),
				time.Now().Add(250*time.Millisecond))
			_ = conn.Close()
		case <-stop:
		}
	}()

	for {
		var msg recognizerMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return &TransportError{Source: r.Name(), Err: err}
		}

		switch msg.Type {
		case "error":
			return classifyRecognizerError(msg.Error)
		case "transcript", "":
			text := strings.TrimSpace(msg.Text)
			if text == "" {
				continue
			}
			healthy()
			onChunk(stt.Chunk{Text: text, Final: msg.Final, CapturedAt: time.Now()})
		default:
			log.Debug("Ignoring recognizer message", "type", msg.Type)
		}
	}
}

func classifyRecognizerError(code string) error {
	switch code {
	case "no-speech":
		return ErrNoSpeech
	case "aborted":
		return nil
	case "not-allowed", "service-not-allowed", "permission-denied":
		return fmt.Errorf("%w: %s", ErrPermissionDenied, code)
	default:
		return &TransportError{Source: "stream", Err: errors.New(code)}
	}
}
