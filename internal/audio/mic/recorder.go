// Package mic is the chunked capture source backed by PortAudio.
package mic

import (
	"context"
	"fmt"
	log "log/slog"
	"math"
	"time"

	"github.com/gordonklaus/portaudio"

	"mizon/internal/audio"
	"mizon/pkg/stt"
)

func Init() error { return portaudio.Initialize() }

func Close() { portaudio.Terminate() }

// Recorder keeps one input stream open and cuts it into fixed-length chunks.
// Each chunk gets a fresh buffer, so the consumer owns it while the next one
// fills and there is no gap between chunks.
type Recorder struct {
	Interval   time.Duration
	SilenceRMS float64 // chunks whose loudest frame is below this are dropped
	Backoff    audio.Backoff
}

const (
	sampleRate = stt.SampleRate
	frameSize  = 320 // 20ms
)

func NewRecorder(interval time.Duration) *Recorder {
	if interval <= 0 {
		interval = 2500 * time.Millisecond
	}
	return &Recorder{
		Interval:   interval,
		SilenceRMS: 0.015,
		Backoff:    audio.DefaultBackoff,
	}
}

func (r *Recorder) Name() string { return "mic" }

func (r *Recorder) Start(ctx context.Context, onChunk func(stt.Chunk), onError func(error)) (audio.Handle, error) {
	return audio.Go(ctx, func(ctx context.Context) {
		err := audio.Supervise(ctx, r.Backoff, r.Name(), func(ctx context.Context, healthy func()) error {
			return r.record(ctx, onChunk, healthy)
		})
		if err != nil {
			onError(err)
		}
	}), nil
}

func (r *Recorder) record(ctx context.Context, onChunk func(stt.Chunk), healthy func()) error {
	buf := make([]float32, frameSize)

	// PortAudio does not tell a missing grant from a missing device; both
	// make the attempt pointless to retry.
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(sampleRate), len(buf), buf)
	if err != nil {
		return fmt.Errorf("%w: open input: %v", audio.ErrPermissionDenied, err)
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return fmt.Errorf("%w: start input: %v", audio.ErrPermissionDenied, err)
	}
	defer stream.Stop()

	perChunk := int(r.Interval.Seconds()*sampleRate) / frameSize * frameSize
	if perChunk < frameSize {
		perChunk = frameSize
	}

	cur := make([]float32, 0, perChunk)
	started := time.Now()
	var loudest float64

	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := stream.Read(); err != nil {
			return &audio.TransportError{Source: r.Name(), Err: err}
		}
		healthy()

		cur = append(cur, buf...)
		if rms := frameRMS(buf); rms > loudest {
			loudest = rms
		}
		if len(cur) < perChunk {
			continue
		}

		if loudest >= r.SilenceRMS {
			onChunk(stt.Chunk{PCM: cur, CapturedAt: started})
		} else {
			log.Debug("Dropping silent chunk", "rms", loudest)
		}
		cur = make([]float32, 0, perChunk)
		started = time.Now()
		loudest = 0
	}
}

func frameRMS(f []float32) float64 {
	var s float64
	for _, x := range f {
		s += float64(x * x)
	}
	return math.Sqrt(s / float64(len(f)))
}
