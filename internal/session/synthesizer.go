package session

import (
	"context"
	"errors"
	log "log/slog"
	"strings"
	"sync"
	"time"

	"mizon/internal/tts"
	"mizon/pkg/phrase"
)

// Ducker lowers other audio while the assistant talks.
type Ducker interface {
	Duck(ctx context.Context) error
	Restore(ctx context.Context) error
}

// Reply is one spoken response.
type Reply struct {
	Text     string
	Language phrase.Language
	Stream   bool
}

// Synthesizer reveals reply text progressively and speaks it. At most one
// reply plays at a time; a new Respond cancels the previous one and waits
// for it to stop.
type Synthesizer struct {
	Speaker    tts.Speaker
	Ducker     Ducker
	TokenDelay time.Duration
	Rate       int
	Pitch      int

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSynthesizer(speaker tts.Speaker) *Synthesizer {
	return &Synthesizer{Speaker: speaker, TokenDelay: 60 * time.Millisecond}
}

// Respond blocks until playback ends. onProgress receives a growing prefix
// of the reply's words, one word more each call, ending with all of them.
// Speaker failures come back as *tts.SynthesisError; cancellation returns
// ctx.Err().
func (s *Synthesizer) Respond(ctx context.Context, r Reply, onProgress func(string)) error {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	defer close(done)
	defer cancel()

	s.mu.Lock()
	prevCancel, prevDone := s.cancel, s.done
	s.cancel, s.done = cancel, done
	s.mu.Unlock()
	if prevCancel != nil {
		prevCancel()
		<-prevDone
	}
	defer func() {
		s.mu.Lock()
		if s.done == done {
			s.cancel, s.done = nil, nil
		}
		s.mu.Unlock()
	}()

	if onProgress == nil {
		onProgress = func(string) {}
	}

	if s.Ducker != nil {
		if err := s.Ducker.Duck(ctx); err != nil {
			log.Warn("Failed to duck audio", "err", err)
		}
		defer func() {
			// playback ctx may be gone already
			rctx, rcancel := context.WithTimeout(context.Background(), time.Second)
			defer rcancel()
			if err := s.Ducker.Restore(rctx); err != nil {
				log.Warn("Failed to restore audio", "err", err)
			}
		}()
	}

	streamed := make(chan struct{})
	go func() {
		defer close(streamed)
		if !r.Stream {
			onProgress(r.Text)
			return
		}
		s.stream(ctx, r.Text, onProgress)
	}()

	err := s.Speaker.Speak(ctx, tts.Request{
		Text:     r.Text,
		Language: r.Language.Resolve(r.Text),
		Rate:     s.Rate,
		Pitch:    s.Pitch,
	})
	cancelled := ctx.Err()
	if err != nil {
		cancel()
	}
	<-streamed

	switch {
	case cancelled != nil:
		return cancelled
	case err == nil:
		return nil
	}
	var se *tts.SynthesisError
	if errors.As(err, &se) {
		return err
	}
	return &tts.SynthesisError{Engine: "speaker", Err: err}
}

// Cancel stops the reply in flight, if any.
func (s *Synthesizer) Cancel() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

func (s *Synthesizer) stream(ctx context.Context, text string, onProgress func(string)) {
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		onProgress(text)
		return
	}
	delay := s.TokenDelay
	if delay <= 0 {
		delay = 60 * time.Millisecond
	}

	t := time.NewTicker(delay)
	defer t.Stop()

	var b strings.Builder
	for i, tok := range tokens {
		if i > 0 {
			b.WriteByte(' ')
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}
		}
		b.WriteString(tok)
		onProgress(b.String())
	}
}
