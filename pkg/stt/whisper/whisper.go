// Package whisper runs a local whisper.cpp model as an stt.Gateway.
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"strings"
	"sync"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"mizon/pkg/stt"
)

type Options struct {
	Threads     int  // <=0 => NumCPU()
	BeamSize    int  // 0 = greedy
	SplitOnWord bool
	MaxTokens   uint // 0 = no limit
}

type Transcriber struct {
	mu    sync.Mutex
	model whisper.Model
	opt   Options
}

func New(modelPath string, opt Options) (*Transcriber, error) {
	if modelPath == "" {
		return nil, errors.New("empty model path")
	}
	m, err := whisper.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}
	return &Transcriber{model: m, opt: opt}, nil
}

func (t *Transcriber) Close() error {
	if t.model == nil {
		return nil
	}
	return t.model.Close()
}

// Transcribe decodes one chunk. The recent context is passed as the initial
// prompt so names carried over from earlier chunks are spelled consistently.
func (t *Transcriber) Transcribe(ctx context.Context, chunk stt.Chunk, req stt.Request) (stt.Utterance, error) {
	if len(chunk.PCM) == 0 {
		return stt.Utterance{}, stt.ErrNoSpeech
	}

	// one decode at a time per model
	t.mu.Lock()
	defer t.mu.Unlock()

	wctx, err := t.model.NewContext()
	if err != nil {
		return stt.Utterance{}, wrap(fmt.Errorf("new context: %w", err))
	}

	lang := req.Language.Hint()
	if lang == "" {
		lang = "auto"
	}
	if err := wctx.SetLanguage(lang); err != nil {
		return stt.Utterance{}, wrap(fmt.Errorf("set language: %w", err))
	}

	threads := t.opt.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	wctx.SetThreads(uint(threads))
	if t.opt.SplitOnWord {
		wctx.SetSplitOnWord(true)
	}
	if t.opt.MaxTokens > 0 {
		wctx.SetMaxTokensPerSegment(t.opt.MaxTokens)
	}
	if t.opt.BeamSize > 0 {
		wctx.SetBeamSize(t.opt.BeamSize)
	}
	if len(req.Context) > 0 {
		wctx.SetInitialPrompt(strings.Join(req.Context, " "))
	}

	if err := wctx.Process(chunk.PCM, nil, nil, nil); err != nil {
		return stt.Utterance{}, wrap(fmt.Errorf("process: %w", err))
	}

	var parts []string
	for {
		if err := ctx.Err(); err != nil {
			return stt.Utterance{}, wrap(err)
		}
		s, err := wctx.NextSegment()
		if err == io.EOF {
			break
		}
		if err != nil {
			return stt.Utterance{}, wrap(fmt.Errorf("next segment: %w", err))
		}
		if txt := strings.TrimSpace(s.Text); txt != "" && !isBlankMarker(txt) {
			parts = append(parts, txt)
		}
	}

	text := strings.Join(parts, " ")
	if text == "" {
		return stt.Utterance{}, stt.ErrNoSpeech
	}
	return stt.Utterance{Text: text, Final: true, CapturedAt: chunk.CapturedAt}, nil
}

// whisper emits these for silence
func isBlankMarker(s string) bool {
	switch strings.ToUpper(s) {
	case "[BLANK_AUDIO]", "[SILENCE]", "(SILENCE)", "[MUSIC]":
		return true
	}
	return false
}

func wrap(err error) error {
	return &stt.TranscriptionError{Backend: "whisper", Err: err}
}
