package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	log "log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// DefaultTimeout bounds a single transcription call.
const DefaultTimeout = 15 * time.Second

// HTTPGateway posts WAV chunks to a transcription endpoint that answers
// {"text": "..."}.
type HTTPGateway struct {
	URL     string
	Client  *http.Client
	Timeout time.Duration
}

func NewHTTPGateway(url string, client *http.Client) *HTTPGateway {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPGateway{URL: url, Client: client, Timeout: DefaultTimeout}
}

type httpResult struct {
	Text string `json:"text"`
}

func (g *HTTPGateway) Transcribe(ctx context.Context, chunk Chunk, req Request) (Utterance, error) {
	if len(chunk.PCM) == 0 {
		return Utterance{}, ErrNoSpeech
	}

	timeout := g.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	wavData, err := EncodeWAV(chunk.PCM)
	if err != nil {
		return Utterance{}, &TranscriptionError{Backend: "http", Err: fmt.Errorf("encode wav: %w", err)}
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "chunk.wav")
	if err != nil {
		return Utterance{}, &TranscriptionError{Backend: "http", Err: err}
	}
	if _, err := fw.Write(wavData); err != nil {
		return Utterance{}, &TranscriptionError{Backend: "http", Err: err}
	}
	if hint := req.Language.Hint(); hint != "" {
		_ = mw.WriteField("language", hint)
	}
	if len(req.Context) > 0 {
		_ = mw.WriteField("prompt", strings.Join(req.Context, " "))
	}
	if err := mw.Close(); err != nil {
		return Utterance{}, &TranscriptionError{Backend: "http", Err: err}
	}

	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.URL, &body)
	if err != nil {
		return Utterance{}, &TranscriptionError{Backend: "http", Err: err}
	}
	hreq.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := g.Client.Do(hreq)
	if err != nil {
		return Utterance{}, &TranscriptionError{Backend: "http", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return Utterance{}, &TranscriptionError{Backend: "http", Status: resp.StatusCode}
	}

	var out httpResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil && err != io.EOF {
		return Utterance{}, &TranscriptionError{Backend: "http", Err: fmt.Errorf("decode: %w", err)}
	}

	text := strings.TrimSpace(out.Text)
	if text == "" {
		return Utterance{}, ErrNoSpeech
	}

	log.Debug("Transcribed chunk", "chars", len(text), "samples", len(chunk.PCM))
	return Utterance{Text: text, Final: true, CapturedAt: chunk.CapturedAt}, nil
}

// Probe reports whether the endpoint answers at all.
func (g *HTTPGateway) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, g.URL, nil)
	if err != nil {
		return err
	}
	resp, err := g.Client.Do(req)
	if err != nil {
		return &TranscriptionError{Backend: "http", Err: err}
	}
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return &TranscriptionError{Backend: "http", Status: resp.StatusCode}
	}
	return nil
}
