// Package audio provides the capture sources that feed the session:
// continuous recognizers that deliver text and chunked recorders that
// deliver PCM.
package audio

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"sync"
	"time"

	"mizon/pkg/stt"
)

var (
	// ErrPermissionDenied is fatal to a capture attempt and never retried.
	ErrPermissionDenied = errors.New("audio: microphone permission denied")
	// ErrCaptureFailed is returned after too many consecutive failures.
	ErrCaptureFailed = errors.New("audio: capture failed repeatedly")
	// ErrNoSpeech is benign: the recognizer heard nothing and restarts.
	ErrNoSpeech = errors.New("audio: no speech")
)

// TransportError is a recoverable recognizer or device I/O failure.
type TransportError struct {
	Source string
	Err    error
}

func (e *TransportError) Error() string { return fmt.Sprintf("audio: %s: %v", e.Source, e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// Source is a microphone capture strategy. onChunk and onError are called
// from the capture goroutine and must not block past ctx.
type Source interface {
	Name() string
	Start(ctx context.Context, onChunk func(stt.Chunk), onError func(error)) (Handle, error)
}

// Handle is an open capture. Stop releases the device and returns once the
// capture goroutine has exited. It is safe to call more than once.
type Handle interface {
	Stop()
}

type handle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func (h *handle) Stop() {
	h.cancel()
	<-h.done
}

// Go runs fn on its own goroutine and returns a Handle that cancels it.
func Go(ctx context.Context, fn func(ctx context.Context)) Handle {
	ctx, cancel := context.WithCancel(ctx)
	h := &handle{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(h.done)
		fn(ctx)
	}()
	return h
}

type Backoff struct {
	Delay       time.Duration
	MaxFailures int
}

var DefaultBackoff = Backoff{Delay: time.Second, MaxFailures: 3}

// Supervise reruns attempt until ctx ends. attempt calls healthy once it has
// delivered data, which resets the consecutive failure count.
//
// Returns nil on cancellation, the permission error unchanged, or an error
// wrapping ErrCaptureFailed once MaxFailures attempts in a row have failed.
func Supervise(ctx context.Context, b Backoff, name string, attempt func(ctx context.Context, healthy func()) error) error {
	if b.Delay <= 0 {
		b.Delay = DefaultBackoff.Delay
	}
	if b.MaxFailures <= 0 {
		b.MaxFailures = DefaultBackoff.MaxFailures
	}

	var mu sync.Mutex
	failures := 0
	healthy := func() {
		mu.Lock()
		failures = 0
		mu.Unlock()
	}

	for {
		err := attempt(ctx, healthy)
		if ctx.Err() != nil {
			return nil
		}

		switch {
		case err == nil:
			// stream ended on its own; reopen without counting it
		case errors.Is(err, ErrPermissionDenied):
			return err
		case errors.Is(err, ErrNoSpeech):
			log.Debug("No speech, restarting capture", "source", name)
		default:
			mu.Lock()
			failures++
			n := failures
			mu.Unlock()
			if n >= b.MaxFailures {
				return fmt.Errorf("%w: %s: %v", ErrCaptureFailed, name, err)
			}
			log.Warn("Capture failed, restarting", "source", name, "attempt", n, "err", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(b.Delay):
		}
	}
}
