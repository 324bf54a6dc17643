// Package replay feeds recorded audio files through the chunked pipeline as
// if they were coming from the microphone.
package replay

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"time"

	"mizon/internal/audio"
	"mizon/pkg/audioconv"
	"mizon/pkg/stt"
)

type FileSource struct {
	Paths    []string
	Interval time.Duration
	Loop     bool
}

func (s *FileSource) Name() string { return "replay" }

func (s *FileSource) Start(ctx context.Context, onChunk func(stt.Chunk), onError func(error)) (audio.Handle, error) {
	if len(s.Paths) == 0 {
		return nil, errors.New("replay: no files")
	}
	interval := s.Interval
	if interval <= 0 {
		interval = 2500 * time.Millisecond
	}

	return audio.Go(ctx, func(ctx context.Context) {
		for {
			for _, path := range s.Paths {
				pcm, err := audioconv.DecodeFile(path, audioconv.Options{})
				if err != nil {
					onError(&audio.TransportError{Source: s.Name(), Err: fmt.Errorf("decode: %w", err)})
					return
				}
				log.Info("Replaying file", "path", path, "samples", len(pcm))
				if !emit(ctx, pcm, interval, onChunk) {
					return
				}
			}
			if !s.Loop {
				return
			}
		}
	}), nil
}

// emit paces chunks at real time so the session sees the same timing a
// microphone would produce.
func emit(ctx context.Context, pcm []float32, interval time.Duration, onChunk func(stt.Chunk)) bool {
	per := int(interval.Seconds() * stt.SampleRate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for off := 0; off < len(pcm); off += per {
		end := min(off+per, len(pcm))
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
		chunk := make([]float32, end-off)
		copy(chunk, pcm[off:end])
		onChunk(stt.Chunk{PCM: chunk, CapturedAt: time.Now()})
	}
	return true
}
