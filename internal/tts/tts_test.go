package tts

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEstimatedDuration(t *testing.T) {
	e := Estimated{PerRune: 10 * time.Millisecond, Min: 50 * time.Millisecond}
	assert.Equal(t, 50*time.Millisecond, e.Duration("hi"))
	assert.Equal(t, 100*time.Millisecond, e.Duration("0123456789"))
	assert.Equal(t, 60*time.Millisecond, Estimated{}.Duration("a"))
	// runes, not bytes
	assert.Equal(t, 40*time.Millisecond, Estimated{PerRune: 10 * time.Millisecond}.Duration("مرحب"))
}

func TestEstimatedSpeakCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Estimated{PerRune: time.Second}.Speak(ctx, Request{Text: "long text"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEstimatedSpeakCompletes(t *testing.T) {
	start := time.Now()
	err := Estimated{PerRune: time.Millisecond}.Speak(context.Background(), Request{Text: "abcde"})
	assert.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond)
}

func TestSynthesisErrorUnwrap(t *testing.T) {
	inner := errors.New("device busy")
	err := error(&SynthesisError{Engine: "espeak", Err: inner})
	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "espeak")
}
