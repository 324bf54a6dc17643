// Package tts defines the speech synthesis boundary.
package tts

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"mizon/pkg/phrase"
)

type Request struct {
	Text     string
	Language phrase.Language
	Rate     int // words per minute, 0 = engine default
	Pitch    int // 0..99, 0 = engine default
}

// Speaker plays text and returns when playback has finished or ctx is done.
type Speaker interface {
	Speak(ctx context.Context, req Request) error
}

type SynthesisError struct {
	Engine string
	Err    error
}

func (e *SynthesisError) Error() string { return fmt.Sprintf("tts: %s: %v", e.Engine, e.Err) }
func (e *SynthesisError) Unwrap() error { return e.Err }

// Estimated stands in for platforms without speech output: it waits as long
// as reading the text aloud would take.
type Estimated struct {
	PerRune time.Duration
	Min     time.Duration
}

func (e Estimated) Duration(text string) time.Duration {
	per := e.PerRune
	if per <= 0 {
		per = 60 * time.Millisecond
	}
	d := per * time.Duration(utf8.RuneCountInString(text))
	if d < e.Min {
		d = e.Min
	}
	return d
}

func (e Estimated) Speak(ctx context.Context, req Request) error {
	t := time.NewTimer(e.Duration(req.Text))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
