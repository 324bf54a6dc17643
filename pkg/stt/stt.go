// Package stt turns captured audio chunks into utterances.
package stt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"mizon/pkg/phrase"
)

// SampleRate is the PCM rate every Gateway expects: mono float32 in [-1, 1].
const SampleRate = 16000

// ErrNoSpeech means the chunk held no recognizable speech. It is not a failure.
var ErrNoSpeech = errors.New("stt: no speech detected")

// Chunk is one unit of captured audio. Continuous recognizers fill Text and
// Final; chunked recorders fill PCM.
type Chunk struct {
	PCM        []float32
	Text       string
	Final      bool
	CapturedAt time.Time
}

func (c Chunk) IsText() bool { return c.PCM == nil }

type Utterance struct {
	Text       string
	Final      bool
	CapturedAt time.Time
}

type Request struct {
	Language phrase.Language
	// Context holds the most recent final utterances, oldest first.
	Context []string
}

type Gateway interface {
	Transcribe(ctx context.Context, chunk Chunk, req Request) (Utterance, error)
}

// TranscriptionError reports a failed call to a transcription backend.
type TranscriptionError struct {
	Backend string
	Status  int
	Err     error
}

func (e *TranscriptionError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("stt: %s: status %d", e.Backend, e.Status)
	}
	return fmt.Sprintf("stt: %s: %v", e.Backend, e.Err)
}

func (e *TranscriptionError) Unwrap() error { return e.Err }

// PassThrough returns text chunks as utterances. Used for recognizers that
// transcribe on the device.
type PassThrough struct{}

func (PassThrough) Transcribe(_ context.Context, chunk Chunk, _ Request) (Utterance, error) {
	if !chunk.IsText() {
		return Utterance{}, &TranscriptionError{Backend: "passthrough", Err: errors.New("audio chunk without backend")}
	}
	text := strings.TrimSpace(chunk.Text)
	if text == "" {
		return Utterance{}, ErrNoSpeech
	}
	return Utterance{Text: text, Final: chunk.Final, CapturedAt: chunk.CapturedAt}, nil
}

// Router sends text chunks through PassThrough and audio chunks to Audio.
type Router struct {
	Audio Gateway
}

func (r Router) Transcribe(ctx context.Context, chunk Chunk, req Request) (Utterance, error) {
	if chunk.IsText() || r.Audio == nil {
		return PassThrough{}.Transcribe(ctx, chunk, req)
	}
	return r.Audio.Transcribe(ctx, chunk, req)
}

// Probe checks the audio backend when it supports probing.
func (r Router) Probe(ctx context.Context) error {
	if p, ok := r.Audio.(interface{ Probe(context.Context) error }); ok {
		return p.Probe(ctx)
	}
	return nil
}
